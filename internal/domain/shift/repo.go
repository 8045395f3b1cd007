package shift

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rxpos/rxpos/pkg/pagination"
)

// Repository is the persistence contract for shifts. Insert relies on the
// store to reject a second open shift for the same cashier; ApplySale and
// ApplyRefund accumulate totals atomically and only against an open shift.
type Repository interface {
	Insert(ctx context.Context, s *Shift) error
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Shift, error)

	// GetActive returns the cashier's open shift, or ErrNoActiveShift.
	GetActive(ctx context.Context, pharmacyID uuid.UUID, cashierID string) (*Shift, error)

	// ApplySale adds a sale's tender breakdown to the open shift's totals.
	// It returns ErrShiftClosed when the shift is not open.
	ApplySale(ctx context.Context, pharmacyID, id uuid.UUID, tender Tender) (*Shift, error)

	// ApplyRefund records cash paid back out of the drawer.
	ApplyRefund(ctx context.Context, pharmacyID, id uuid.UUID, cash float64) (*Shift, error)

	// Close seals an open shift, deriving the variance from the totals the
	// row holds at close time, and returns the closed shift. It returns
	// ErrShiftClosed when the shift is already closed.
	Close(ctx context.Context, pharmacyID, id uuid.UUID, closingCash float64, closedAt time.Time) (*Shift, error)

	List(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Shift, int, error)
}
