package pos

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rxpos/rxpos/pkg/pagination"
)

// Repository persists transactions and their items together.
type Repository interface {
	// Insert stores the transaction and all its items.
	Insert(ctx context.Context, t *Transaction) error

	// GetByID loads a transaction with its items, or ErrTransactionNotFound.
	GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Transaction, error)

	// NextReceiptSeq returns the next receipt sequence number for the
	// pharmacy. Must be called inside the checkout transaction.
	NextReceiptSeq(ctx context.Context, pharmacyID uuid.UUID) (int64, error)

	// MarkRefunded writes the refund fields, guarded on the refunded
	// amount the caller read. A mismatch (a racing refund won) yields
	// db.ErrConflict; an already refunded row yields ErrAlreadyRefunded.
	MarkRefunded(ctx context.Context, t *Transaction, priorRefunded float64) error

	List(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Transaction, int, error)

	// DailySummary aggregates completed sales for the day containing `day`.
	DailySummary(ctx context.Context, pharmacyID uuid.UUID, day time.Time) (*DailySummary, error)
}
