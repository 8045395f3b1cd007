package shift

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxpos/rxpos/internal/domain/audit"
	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/internal/platform/clock"
	"github.com/rxpos/rxpos/internal/platform/db"
	"github.com/rxpos/rxpos/pkg/pagination"
)

var (
	ErrShiftNotFound      = errors.New("shift not found")
	ErrNoActiveShift      = errors.New("cashier has no active shift")
	ErrDuplicateOpenShift = errors.New("cashier already has an open shift")
	ErrShiftClosed        = errors.New("shift is closed")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

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

// Open starts a shift for the actor. The one-open-shift rule is enforced by
// the store, so two racing opens resolve to exactly one shift.
func (s *Service) Open(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, openingCash float64) (*Shift, error) {
	if openingCash < 0 {
		return nil, &ValidationError{Field: "opening_cash", Reason: "must not be negative"}
	}
	sh := &Shift{
		ID:          uuid.New(),
		PharmacyID:  pharmacyID,
		CashierID:   actor.ID,
		CashierName: actor.Name,
		Status:      StatusOpen,
		OpeningCash: openingCash,
		OpenedAt:    s.clock.Now(),
	}
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Insert(ctx, sh); err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "shift.opened", sh.ID, map[string]interface{}{
			"opening_cash": openingCash,
		})
	})
	if err != nil {
		return nil, err
	}
	return sh, nil
}

func (s *Service) Get(ctx context.Context, pharmacyID, id uuid.UUID) (*Shift, error) {
	return s.repo.GetByID(ctx, pharmacyID, id)
}

// Active returns the actor's current open shift.
func (s *Service) Active(ctx context.Context, pharmacyID uuid.UUID, cashierID string) (*Shift, error) {
	return s.repo.GetActive(ctx, pharmacyID, cashierID)
}

func (s *Service) List(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Shift, int, error) {
	return s.repo.List(ctx, pharmacyID, p)
}

// ApplySale folds a completed sale into the shift totals. Called by the
// transaction engine inside the checkout transaction.
func (s *Service) ApplySale(ctx context.Context, pharmacyID, id uuid.UUID, tender Tender) (*Shift, error) {
	return s.repo.ApplySale(ctx, pharmacyID, id, tender)
}

// ApplyRefund records cash leaving the drawer for a refund.
func (s *Service) ApplyRefund(ctx context.Context, pharmacyID, id uuid.UUID, cash float64) (*Shift, error) {
	return s.repo.ApplyRefund(ctx, pharmacyID, id, cash)
}

// Close reconciles and closes the actor's open shift. Variance is the
// counted drawer minus what the sales say it should hold.
func (s *Service) Close(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, closingCash float64) (*Shift, error) {
	if closingCash < 0 {
		return nil, &ValidationError{Field: "closing_cash", Reason: "must not be negative"}
	}

	var sh *Shift
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		open, err := s.repo.GetActive(ctx, pharmacyID, actor.ID)
		if err != nil {
			return err
		}

		// The store seals the row and derives the variance from the totals
		// it holds at that moment, so sales landing after the read above
		// are still reconciled.
		sh, err = s.repo.Close(ctx, pharmacyID, open.ID, closingCash, s.clock.Now())
		if err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "shift.closed", sh.ID, map[string]interface{}{
			"closing_cash":   closingCash,
			"expected_cash":  sh.ExpectedCash(),
			"variance":       *sh.Variance,
			"variance_class": string(*sh.VarianceClass),
		})
	})
	if err != nil {
		return nil, err
	}

	if *sh.VarianceClass != VarianceNormal {
		s.log.Warn().
			Str("shift_id", sh.ID.String()).
			Str("cashier_id", sh.CashierID).
			Float64("variance", *sh.Variance).
			Str("class", string(*sh.VarianceClass)).
			Msg("shift closed with cash variance")
	}
	return sh, nil
}

func (s *Service) recordAudit(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, action string, entityID uuid.UUID, diff map[string]interface{}) error {
	_, err := s.audits.Record(ctx, audit.Record{
		PharmacyID: pharmacyID,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     action,
		EntityKind: "shift",
		EntityID:   entityID.String(),
		Diff:       diff,
	})
	return err
}
