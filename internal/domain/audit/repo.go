package audit

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists audit entries. The interface is append-only on
// purpose: there is no update or delete, so tampering cannot go through the
// application at all, and the storage layer rejects it independently.
type Repository interface {
	// LockChain serializes appends for one pharmacy until the surrounding
	// unit of work ends.
	LockChain(ctx context.Context, pharmacyID uuid.UUID) error
	// Tail returns the most recent entry of the pharmacy's chain, or nil for
	// an empty chain.
	Tail(ctx context.Context, pharmacyID uuid.UUID) (*Entry, error)
	Insert(ctx context.Context, e *Entry) error
	// Chain returns all entries for a pharmacy in sequence order.
	Chain(ctx context.Context, pharmacyID uuid.UUID) ([]*Entry, error)
	List(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*Entry, int, error)
}
