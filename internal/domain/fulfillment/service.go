package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxpos/rxpos/internal/domain/audit"
	"github.com/rxpos/rxpos/internal/domain/catalog"
	"github.com/rxpos/rxpos/internal/domain/stock"
	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/internal/platform/clock"
	"github.com/rxpos/rxpos/internal/platform/db"
	"github.com/rxpos/rxpos/pkg/pagination"
)

var (
	ErrFulfillmentNotFound  = errors.New("fulfillment not found")
	ErrPrescriptionNotFound = errors.New("prescription not found")
	ErrDuplicateFulfillment = errors.New("prescription already has a fulfillment")
	ErrItemNotFound         = errors.New("fulfillment item not found")
	ErrItemAlreadyDispensed = errors.New("item already dispensed")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrEmptyPrescription    = errors.New("prescription has no items")
	ErrDispenseExceedsOrder = errors.New("dispense exceeds prescribed quantity")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DispenseInput hands out one fulfillment line. BatchID is optional; when
// set, the quantity is deducted from that batch in the same transaction.
type DispenseInput struct {
	Quantity int        `json:"quantity"`
	BatchID  *uuid.UUID `json:"batch_id,omitempty"`
}

// SubstituteInput swaps a prescribed medicine for an alternative.
type SubstituteInput struct {
	MedicineID uuid.UUID `json:"medicine_id"`
	Note       string    `json:"note"`
}

type Service struct {
	repo          Repository
	prescriptions PrescriptionSource
	batches       stock.Repository
	medicines     catalog.MedicineRepository
	audits        *audit.Service
	runner        db.Runner
	clock         clock.Clock
	log           zerolog.Logger
}

func NewService(repo Repository, prescriptions PrescriptionSource, batches stock.Repository,
	medicines catalog.MedicineRepository, audits *audit.Service, runner db.Runner,
	clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo: repo, prescriptions: prescriptions, batches: batches,
		medicines: medicines, audits: audits, runner: runner, clock: clk, log: log,
	}
}

// Create opens a fulfillment for a prescription. One fulfillment per
// prescription; a duplicate request is rejected, not merged.
func (s *Service) Create(ctx context.Context, pharmacyID, prescriptionID uuid.UUID, actor auth.Actor) (*Fulfillment, error) {
	p, err := s.prescriptions.GetByID(ctx, pharmacyID, prescriptionID)
	if err != nil {
		return nil, err
	}
	if len(p.Items) == 0 {
		return nil, ErrEmptyPrescription
	}

	now := s.clock.Now()
	f := &Fulfillment{
		ID:             uuid.New(),
		PharmacyID:     pharmacyID,
		PrescriptionID: prescriptionID,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, pi := range p.Items {
		f.Items = append(f.Items, &Item{
			ID:                 uuid.New(),
			FulfillmentID:      f.ID,
			PrescriptionItemID: pi.ID,
			MedicineID:         pi.MedicineID,
			MedicineName:       pi.MedicineName,
			QuantityPrescribed: pi.Quantity,
		})
	}

	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, f); err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "fulfillment.created", f.ID, map[string]interface{}{
			"prescription_id": prescriptionID.String(),
			"items":           len(f.Items),
		})
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Start moves a pending fulfillment to in_progress and records the
// validating pharmacist.
func (s *Service) Start(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor) (*Fulfillment, error) {
	return s.transition(ctx, pharmacyID, id, actor, StatusInProgress, "fulfillment.started", nil,
		func(f *Fulfillment) {
			at := f.UpdatedAt
			f.ValidatedBy = &actor.ID
			f.ValidatedAt = &at
		})
}

// Dispense hands out quantity for one line and advances the fulfillment.
// When a batch is named, stock leaves it in the same transaction, so a
// failed deduction leaves the fulfillment untouched.
func (s *Service) Dispense(ctx context.Context, pharmacyID, id, itemID uuid.UUID, actor auth.Actor, in DispenseInput) (*Fulfillment, error) {
	if in.Quantity <= 0 {
		return nil, &ValidationError{Field: "quantity", Reason: "must be positive"}
	}

	var f *Fulfillment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.repo.GetByID(ctx, pharmacyID, id)
		if err != nil {
			return err
		}
		if f.Status != StatusInProgress && f.Status != StatusPartiallyFulfilled {
			return ErrInvalidTransition
		}

		it := findItem(f, itemID)
		if it == nil {
			return ErrItemNotFound
		}
		if it.Dispensed {
			return ErrItemAlreadyDispensed
		}
		if it.QuantityDispensed+in.Quantity > it.QuantityPrescribed {
			return ErrDispenseExceedsOrder
		}

		if in.BatchID != nil {
			b, err := s.batches.DeductQuantity(ctx, pharmacyID, *in.BatchID, in.Quantity)
			if err != nil {
				return err
			}
			// Substituted lines dispense the substitute medicine.
			want := it.MedicineID
			if it.SubstituteMedicineID != nil {
				want = *it.SubstituteMedicineID
			}
			if b.MedicineID != want {
				return &ValidationError{Field: "batch_id", Reason: "batch holds a different medicine"}
			}
			it.BatchID = in.BatchID
		}

		it.QuantityDispensed += in.Quantity
		if it.QuantityDispensed == it.QuantityPrescribed {
			it.Dispensed = true
		}
		if err := s.repo.UpdateItem(ctx, it); err != nil {
			return err
		}

		f.Progress()
		f.UpdatedAt = s.clock.Now()
		if f.Status == StatusFulfilled {
			now := f.UpdatedAt
			f.CompletedAt = &now
		}
		if err := s.repo.Update(ctx, f); err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "fulfillment.dispensed", f.ID, map[string]interface{}{
			"item_id":    itemID.String(),
			"quantity":   in.Quantity,
			"status":     string(f.Status),
			"percentage": f.Percentage,
		})
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Substitute swaps a line's medicine. Substitution alone never marks the
// line dispensed; the substitute still has to be handed out.
func (s *Service) Substitute(ctx context.Context, pharmacyID, id, itemID uuid.UUID, actor auth.Actor, in SubstituteInput) (*Fulfillment, error) {
	if in.MedicineID == uuid.Nil {
		return nil, &ValidationError{Field: "medicine_id", Reason: "required"}
	}
	if in.Note == "" {
		return nil, &ValidationError{Field: "note", Reason: "required"}
	}

	var f *Fulfillment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.repo.GetByID(ctx, pharmacyID, id)
		if err != nil {
			return err
		}
		if f.Status.Terminal() {
			return ErrInvalidTransition
		}

		it := findItem(f, itemID)
		if it == nil {
			return ErrItemNotFound
		}
		if it.Dispensed {
			return ErrItemAlreadyDispensed
		}

		med, err := s.medicines.GetByID(ctx, in.MedicineID)
		if err != nil {
			return err
		}
		at := s.clock.Now()
		it.SubstituteMedicineID = &med.ID
		it.SubstituteMedicineName = &med.Name
		it.SubstitutionNote = &in.Note
		it.SubstitutedBy = &actor.ID
		it.SubstitutedAt = &at
		if err := s.repo.UpdateItem(ctx, it); err != nil {
			return err
		}

		f.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, f); err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "fulfillment.substituted", f.ID, map[string]interface{}{
			"item_id":    itemID.String(),
			"substitute": med.Name,
			"note":       in.Note,
		})
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Cancel ends a fulfillment from any non-terminal state.
func (s *Service) Cancel(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, reason string) (*Fulfillment, error) {
	if reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}
	return s.transition(ctx, pharmacyID, id, actor, StatusCancelled, "fulfillment.cancelled",
		map[string]interface{}{"reason": reason}, func(f *Fulfillment) {
			f.CancelReason = &reason
		})
}

func (s *Service) Get(ctx context.Context, pharmacyID, id uuid.UUID) (*Fulfillment, error) {
	return s.repo.GetByID(ctx, pharmacyID, id)
}

func (s *Service) List(ctx context.Context, pharmacyID uuid.UUID, status Status, p pagination.Params) ([]*Fulfillment, int, error) {
	return s.repo.List(ctx, pharmacyID, status, p)
}

func (s *Service) transition(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor,
	to Status, action string, diff map[string]interface{}, mutate ...func(*Fulfillment)) (*Fulfillment, error) {
	var f *Fulfillment
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		f, err = s.repo.GetByID(ctx, pharmacyID, id)
		if err != nil {
			return err
		}
		if !CanTransition(f.Status, to) {
			return ErrInvalidTransition
		}
		f.Status = to
		f.UpdatedAt = s.clock.Now()
		for _, fn := range mutate {
			fn(f)
		}
		if err := s.repo.Update(ctx, f); err != nil {
			return err
		}
		if diff == nil {
			diff = map[string]interface{}{}
		}
		diff["status"] = string(to)
		return s.recordAudit(ctx, pharmacyID, actor, action, f.ID, diff)
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

func findItem(f *Fulfillment, itemID uuid.UUID) *Item {
	for _, it := range f.Items {
		if it.ID == itemID {
			return it
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, action string, entityID uuid.UUID, diff map[string]interface{}) error {
	_, err := s.audits.Record(ctx, audit.Record{
		PharmacyID: pharmacyID,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     action,
		EntityKind: "fulfillment",
		EntityID:   entityID.String(),
		Diff:       diff,
	})
	return err
}
