package audit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rxpos/rxpos/internal/platform/clock"
)

var (
	// ErrChainIntegrity signals that VerifyChain found tampering. Callers
	// should treat this as an incident, not a routine failure.
	ErrChainIntegrity = errors.New("audit chain integrity violation")
	// ErrImmutableEntry is returned for any attempt to change a stored entry.
	ErrImmutableEntry = errors.New("audit entries are immutable")
)

type Service struct {
	repo  Repository
	clock clock.Clock
}

func NewService(repo Repository, clk clock.Clock) *Service {
	return &Service{repo: repo, clock: clk}
}

// Record appends one entry to the pharmacy's chain. It must be called inside
// the same unit of work as the business mutation it describes, so both commit
// or fail together. Appends to one pharmacy serialize on the chain lock;
// different pharmacies are independent.
func (s *Service) Record(ctx context.Context, rec Record) (*Entry, error) {
	if rec.PharmacyID == uuid.Nil {
		return nil, fmt.Errorf("pharmacy_id is required")
	}
	if rec.Action == "" {
		return nil, fmt.Errorf("action is required")
	}

	if err := s.repo.LockChain(ctx, rec.PharmacyID); err != nil {
		return nil, err
	}

	tail, err := s.repo.Tail(ctx, rec.PharmacyID)
	if err != nil {
		return nil, err
	}

	e := &Entry{
		ID:         uuid.New(),
		PharmacyID: rec.PharmacyID,
		Seq:        1,
		ActorID:    rec.ActorID,
		ActorName:  rec.ActorName,
		Action:     rec.Action,
		EntityKind: rec.EntityKind,
		EntityID:   rec.EntityID,
		Diff:       rec.Diff,
		Recorded:   s.clock.Now(),
	}
	if tail != nil {
		e.Seq = tail.Seq + 1
		e.PrevHash = tail.Hash
	}
	e.Hash = e.ComputeHash()

	if err := s.repo.Insert(ctx, e); err != nil {
		return nil, err
	}
	return e, nil
}

// VerifyChain replays every entry of a pharmacy's chain, recomputing each
// hash from stored fields and checking the previous-hash links. All faults
// are reported, not just the first.
func (s *Service) VerifyChain(ctx context.Context, pharmacyID uuid.UUID) (*VerifyReport, error) {
	entries, err := s.repo.Chain(ctx, pharmacyID)
	if err != nil {
		return nil, err
	}

	report := &VerifyReport{PharmacyID: pharmacyID, Entries: len(entries), Valid: true}
	prevHash := ""
	for i, e := range entries {
		if got := e.ComputeHash(); got != e.Hash {
			report.Faults = append(report.Faults, Fault{
				Seq:    e.Seq,
				Reason: "stored hash does not match recomputed hash",
			})
		}
		if e.PrevHash != prevHash {
			report.Faults = append(report.Faults, Fault{
				Seq:    e.Seq,
				Reason: "previous-hash link broken",
			})
		}
		if want := int64(i + 1); e.Seq != want {
			report.Faults = append(report.Faults, Fault{
				Seq:    e.Seq,
				Reason: fmt.Sprintf("sequence gap: expected %d", want),
			})
		}
		prevHash = e.Hash
	}
	report.Valid = len(report.Faults) == 0
	return report, nil
}

func (s *Service) List(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	return s.repo.List(ctx, pharmacyID, limit, offset)
}
