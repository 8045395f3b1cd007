package stock

import (
	"context"

	"github.com/google/uuid"

	"github.com/rxpos/rxpos/pkg/pagination"
)

// ListFilter narrows List queries. Zero values mean no filtering.
type ListFilter struct {
	MedicineID *uuid.UUID
	Status     Status
	Search     string
}

// Repository is the persistence contract for batches. DeductQuantity and
// AddQuantity are the only ways quantity changes; both are single atomic
// statements at the store level.
type Repository interface {
	Insert(ctx context.Context, b *Batch) error
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Batch, error)
	Update(ctx context.Context, b *Batch) error
	List(ctx context.Context, pharmacyID uuid.UUID, f ListFilter, p pagination.Params) ([]*Batch, int, error)

	// DeductQuantity atomically subtracts qty from the batch if and only if
	// the batch is currently sellable and holds at least qty units. It
	// returns the updated batch, ErrInsufficientStock when the quantity
	// guard fails, ErrBatchNotSellable when the batch is recalled,
	// quarantined or expired, and ErrBatchNotFound otherwise.
	DeductQuantity(ctx context.Context, pharmacyID, id uuid.UUID, qty int) (*Batch, error)

	// AddQuantity atomically adds qty units back, recomputing status.
	AddQuantity(ctx context.Context, pharmacyID, id uuid.UUID, qty int) (*Batch, error)

	LowStock(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Batch, int, error)
	ExpiringSoon(ctx context.Context, pharmacyID uuid.UUID, withinDays int, p pagination.Params) ([]*Batch, int, error)
}
