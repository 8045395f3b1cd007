package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rxpos/rxpos/internal/platform/clock"
)

// mockRepo keeps per-pharmacy chains in memory. appendMu emulates the
// transaction-scoped advisory lock the Postgres repo takes: LockChain
// acquires it and Insert releases it, so Tail+Insert form one critical
// section exactly as they do inside a database transaction.
type mockRepo struct {
	mu       sync.Mutex
	appendMu sync.Mutex
	chains   map[uuid.UUID][]*Entry
}

func newMockRepo() *mockRepo {
	return &mockRepo{chains: make(map[uuid.UUID][]*Entry)}
}

func (m *mockRepo) LockChain(_ context.Context, _ uuid.UUID) error {
	m.appendMu.Lock()
	return nil
}

func (m *mockRepo) Tail(_ context.Context, pharmacyID uuid.UUID) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[pharmacyID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

func (m *mockRepo) Insert(_ context.Context, e *Entry) error {
	m.mu.Lock()
	m.chains[e.PharmacyID] = append(m.chains[e.PharmacyID], e)
	m.mu.Unlock()
	m.appendMu.Unlock()
	return nil
}

func (m *mockRepo) Chain(_ context.Context, pharmacyID uuid.UUID) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Entry(nil), m.chains[pharmacyID]...), nil
}

func (m *mockRepo) List(_ context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[pharmacyID]
	return append([]*Entry(nil), chain...), len(chain), nil
}

var testTime = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, clock.Fixed{T: testTime}), repo
}

func record(pharmacyID uuid.UUID, action string) Record {
	return Record{
		PharmacyID: pharmacyID,
		ActorID:    "cashier-1",
		ActorName:  "Asha Verma",
		Action:     action,
		EntityKind: "batch",
		EntityID:   "B-100",
	}
}

func TestRecord_LinksChain(t *testing.T) {
	svc, _ := newTestService()
	pharmacy := uuid.New()

	first, err := svc.Record(context.Background(), record(pharmacy, "stock.add"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Seq != 1 || first.PrevHash != "" {
		t.Errorf("first entry should start the chain: seq=%d prev=%q", first.Seq, first.PrevHash)
	}
	if first.Hash == "" {
		t.Error("expected hash to be computed")
	}

	second, err := svc.Record(context.Background(), record(pharmacy, "stock.deduct"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Seq != 2 {
		t.Errorf("expected seq 2, got %d", second.Seq)
	}
	if second.PrevHash != first.Hash {
		t.Error("expected second entry to link to the first entry's hash")
	}
}

func TestRecord_ChainsAreScopedPerPharmacy(t *testing.T) {
	svc, _ := newTestService()
	p1, p2 := uuid.New(), uuid.New()

	_, _ = svc.Record(context.Background(), record(p1, "stock.add"))
	e, err := svc.Record(context.Background(), record(p2, "stock.add"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Seq != 1 || e.PrevHash != "" {
		t.Errorf("other pharmacy must start its own chain: seq=%d prev=%q", e.Seq, e.PrevHash)
	}
}

func TestRecord_RequiresPharmacyAndAction(t *testing.T) {
	svc, _ := newTestService()
	if _, err := svc.Record(context.Background(), Record{Action: "x"}); err == nil {
		t.Error("expected error for missing pharmacy_id")
	}
	if _, err := svc.Record(context.Background(), Record{PharmacyID: uuid.New()}); err == nil {
		t.Error("expected error for missing action")
	}
}

func TestVerifyChain_ValidAfterAppends(t *testing.T) {
	svc, _ := newTestService()
	pharmacy := uuid.New()
	for _, action := range []string{"stock.add", "pos.checkout", "pos.refund"} {
		if _, err := svc.Record(context.Background(), record(pharmacy, action)); err != nil {
			t.Fatalf("append %s: %v", action, err)
		}
	}

	report, err := svc.VerifyChain(context.Background(), pharmacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Valid {
		t.Errorf("expected valid chain, faults: %+v", report.Faults)
	}
	if report.Entries != 3 {
		t.Errorf("expected 3 entries, got %d", report.Entries)
	}
}

func TestVerifyChain_DetectsPayloadTampering(t *testing.T) {
	svc, repo := newTestService()
	pharmacy := uuid.New()
	for i := 0; i < 3; i++ {
		if _, err := svc.Record(context.Background(), record(pharmacy, "pos.checkout")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Overwrite entry #2's action out-of-band, as a tampering storage admin
	// would.
	repo.chains[pharmacy][1].Action = "pos.refund"

	report, err := svc.VerifyChain(context.Background(), pharmacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Valid {
		t.Fatal("expected tampering to be detected")
	}
	if len(report.Faults) == 0 || report.Faults[0].Seq != 2 {
		t.Errorf("expected first fault at seq 2, got %+v", report.Faults)
	}
}

func TestVerifyChain_DetectsDeletion(t *testing.T) {
	svc, repo := newTestService()
	pharmacy := uuid.New()
	for i := 0; i < 3; i++ {
		if _, err := svc.Record(context.Background(), record(pharmacy, "pos.checkout")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	// Drop the middle entry.
	repo.chains[pharmacy] = append(repo.chains[pharmacy][:1], repo.chains[pharmacy][2])

	report, err := svc.VerifyChain(context.Background(), pharmacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Valid {
		t.Fatal("expected deletion to break the chain")
	}
}

func TestVerifyChain_EmptyChainIsValid(t *testing.T) {
	svc, _ := newTestService()
	report, err := svc.VerifyChain(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !report.Valid || report.Entries != 0 {
		t.Errorf("expected empty valid chain, got %+v", report)
	}
}

func TestRecord_ConcurrentAppendsKeepChainValid(t *testing.T) {
	svc, _ := newTestService()
	pharmacy := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.Record(context.Background(), record(pharmacy, "stock.deduct"))
		}()
	}
	wg.Wait()

	report, err := svc.VerifyChain(context.Background(), pharmacy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Entries != 20 {
		t.Errorf("expected 20 entries, got %d", report.Entries)
	}
	if !report.Valid {
		t.Errorf("expected valid chain, faults: %+v", report.Faults)
	}
}
