package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrMedicineNotFound = errors.New("medicine not found")

type Service struct {
	repo MedicineRepository
}

func NewService(repo MedicineRepository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetMedicine(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) SearchMedicines(ctx context.Context, query string, limit, offset int) ([]*Medicine, int, error) {
	return s.repo.Search(ctx, query, limit, offset)
}
