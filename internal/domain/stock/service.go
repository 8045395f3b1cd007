package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxpos/rxpos/internal/domain/audit"
	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/internal/platform/clock"
	"github.com/rxpos/rxpos/internal/platform/db"
	"github.com/rxpos/rxpos/pkg/pagination"
)

var (
	ErrBatchNotFound     = errors.New("batch not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrBatchNotSellable  = errors.New("batch is not sellable")
	ErrDuplicateBatch    = errors.New("batch number already exists for this medicine")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CreateBatchInput is the goods-receipt payload.
type CreateBatchInput struct {
	MedicineID      uuid.UUID  `json:"medicine_id"`
	BatchNumber     string     `json:"batch_number"`
	Quantity        int        `json:"quantity"`
	ReorderLevel    int        `json:"reorder_level"`
	PurchasePrice   float64    `json:"purchase_price"`
	MRP             float64    `json:"mrp"`
	DiscountPct     float64    `json:"discount_pct"`
	SellingPrice    *float64   `json:"selling_price,omitempty"`
	ManufactureDate *time.Time `json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
}

// Service owns all batch mutations. Every mutation runs inside one
// transaction together with its audit record.
type Service struct {
	repo   Repository
	audits *audit.Service
	runner db.Runner
	clock  clock.Clock
	log    zerolog.Logger
}

func NewService(repo Repository, audits *audit.Service, runner db.Runner, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{repo: repo, audits: audits, runner: runner, clock: clk, log: log}
}

func (s *Service) CreateBatch(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, in CreateBatchInput) (*Batch, error) {
	if in.MedicineID == uuid.Nil {
		return nil, &ValidationError{Field: "medicine_id", Reason: "required"}
	}
	if in.BatchNumber == "" {
		return nil, &ValidationError{Field: "batch_number", Reason: "required"}
	}
	if in.Quantity < 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}
	if in.ReorderLevel < 0 {
		return nil, &ValidationError{Field: "reorder_level", Reason: "must not be negative"}
	}
	if in.MRP < 0 || in.PurchasePrice < 0 {
		return nil, &ValidationError{Field: "mrp", Reason: "prices must not be negative"}
	}
	if in.DiscountPct < 0 || in.DiscountPct > 100 {
		return nil, &ValidationError{Field: "discount_pct", Reason: "must be between 0 and 100"}
	}

	now := s.clock.Now()
	b := &Batch{
		ID:              uuid.New(),
		PharmacyID:      pharmacyID,
		MedicineID:      in.MedicineID,
		BatchNumber:     in.BatchNumber,
		Quantity:        in.Quantity,
		ReorderLevel:    in.ReorderLevel,
		PurchasePrice:   in.PurchasePrice,
		MRP:             in.MRP,
		DiscountPct:     in.DiscountPct,
		SellingPrice:    in.SellingPrice,
		ManufactureDate: in.ManufactureDate,
		ExpiryDate:      in.ExpiryDate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	b.RecomputeStatus(now)

	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, b); err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "batch.created", b.ID, map[string]interface{}{
			"batch_number": b.BatchNumber,
			"medicine_id":  b.MedicineID.String(),
			"quantity":     b.Quantity,
			"status":       string(b.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) GetBatch(ctx context.Context, pharmacyID, id uuid.UUID) (*Batch, error) {
	b, err := s.repo.GetByID(ctx, pharmacyID, id)
	if err != nil {
		return nil, err
	}
	// Expiry is judged live; the stored status may lag behind the clock.
	b.RecomputeStatus(s.clock.Now())
	return b, nil
}

func (s *Service) ListBatches(ctx context.Context, pharmacyID uuid.UUID, f ListFilter, p pagination.Params) ([]*Batch, int, error) {
	batches, total, err := s.repo.List(ctx, pharmacyID, f, p)
	if err != nil {
		return nil, 0, err
	}
	now := s.clock.Now()
	for _, b := range batches {
		b.RecomputeStatus(now)
	}
	return batches, total, nil
}

// AddStock receives qty additional units into an existing batch.
func (s *Service) AddStock(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, qty int) (*Batch, error) {
	if qty <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	var b *Batch
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.AddQuantity(ctx, pharmacyID, id, qty)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "batch.stock_added", id, map[string]interface{}{
			"added":    qty,
			"quantity": b.Quantity,
			"status":   string(b.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// DeductStock removes qty units. The deduction is a single conditional
// update so two concurrent callers can never both succeed past the
// available quantity.
func (s *Service) DeductStock(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, qty int) (*Batch, error) {
	if qty <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	var b *Batch
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.DeductQuantity(ctx, pharmacyID, id, qty)
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "batch.stock_deducted", id, map[string]interface{}{
			"deducted": qty,
			"quantity": b.Quantity,
			"status":   string(b.Status),
		})
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Recall marks a batch unsellable regardless of remaining quantity.
func (s *Service) Recall(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, reason string) (*Batch, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}
	return s.mutate(ctx, pharmacyID, id, actor, "batch.recalled", map[string]interface{}{"reason": reason}, func(b *Batch) error {
		b.Recalled = true
		b.RecallReason = &reason
		return nil
	})
}

// Unrecall lifts a recall. The batch returns to whatever status its
// quantity and expiry dictate.
func (s *Service) Unrecall(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor) (*Batch, error) {
	return s.mutate(ctx, pharmacyID, id, actor, "batch.recall_lifted", nil, func(b *Batch) error {
		b.Recalled = false
		b.RecallReason = nil
		return nil
	})
}

// Quarantine places a batch on QC hold.
func (s *Service) Quarantine(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, reason string) (*Batch, error) {
	diff := map[string]interface{}{}
	if reason != "" {
		diff["reason"] = reason
	}
	return s.mutate(ctx, pharmacyID, id, actor, "batch.quarantined", diff, func(b *Batch) error {
		b.Quarantined = true
		return nil
	})
}

// Release lifts a quarantine hold.
func (s *Service) Release(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor) (*Batch, error) {
	return s.mutate(ctx, pharmacyID, id, actor, "batch.released", nil, func(b *Batch) error {
		b.Quarantined = false
		return nil
	})
}

// SoftDelete hides a batch from queries. The row stays for audit history.
func (s *Service) SoftDelete(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor) error {
	_, err := s.mutate(ctx, pharmacyID, id, actor, "batch.deleted", nil, func(b *Batch) error {
		b.Deleted = true
		return nil
	})
	return err
}

func (s *Service) LowStock(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Batch, int, error) {
	return s.repo.LowStock(ctx, pharmacyID, p)
}

func (s *Service) ExpiringSoon(ctx context.Context, pharmacyID uuid.UUID, withinDays int, p pagination.Params) ([]*Batch, int, error) {
	if withinDays <= 0 {
		withinDays = 30
	}
	return s.repo.ExpiringSoon(ctx, pharmacyID, withinDays, p)
}

func (s *Service) mutate(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, action string, diff map[string]interface{}, fn func(*Batch) error) (*Batch, error) {
	var b *Batch
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetByID(ctx, pharmacyID, id)
		if err != nil {
			return err
		}
		if err := fn(b); err != nil {
			return err
		}
		b.UpdatedAt = s.clock.Now()
		b.RecomputeStatus(b.UpdatedAt)
		if err := s.repo.Update(ctx, b); err != nil {
			return err
		}
		if diff == nil {
			diff = map[string]interface{}{}
		}
		diff["status"] = string(b.Status)
		return s.recordAudit(ctx, pharmacyID, actor, action, id, diff)
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) recordAudit(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, action string, entityID uuid.UUID, diff map[string]interface{}) error {
	_, err := s.audits.Record(ctx, audit.Record{
		PharmacyID: pharmacyID,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     action,
		EntityKind: "batch",
		EntityID:   entityID.String(),
		Diff:       diff,
	})
	return err
}
