package catalog

import (
	"context"

	"github.com/google/uuid"
)

// MedicineRepository is read-only: catalog curation happens elsewhere.
type MedicineRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error)
	Search(ctx context.Context, query string, limit, offset int) ([]*Medicine, int, error)
}
