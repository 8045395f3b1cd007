package fulfillment

import (
	"context"

	"github.com/google/uuid"

	"github.com/rxpos/rxpos/pkg/pagination"
)

// PrescriptionSource resolves prescriptions for fulfillment. Prescription
// intake itself happens upstream.
type PrescriptionSource interface {
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Prescription, error)
}

// Repository persists fulfillments with their items. Insert relies on the
// store to reject a second fulfillment for the same prescription.
type Repository interface {
	Insert(ctx context.Context, f *Fulfillment) error
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Fulfillment, error)
	Update(ctx context.Context, f *Fulfillment) error
	UpdateItem(ctx context.Context, it *Item) error
	List(ctx context.Context, pharmacyID uuid.UUID, status Status, p pagination.Params) ([]*Fulfillment, int, error)
}
