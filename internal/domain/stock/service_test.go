package stock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxpos/rxpos/internal/domain/audit"
	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/internal/platform/clock"
	"github.com/rxpos/rxpos/pkg/pagination"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

var testActor = auth.Actor{ID: "pharmacist-1", Name: "Asha Verma"}

// mockRepo keeps batches in memory. Its quantity mutations hold the mutex
// through the read-check-write, matching the row-level atomicity of the
// conditional UPDATE in the Postgres repo.
type mockRepo struct {
	mu      sync.Mutex
	batches map[uuid.UUID]*Batch
	now     func() time.Time
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		batches: make(map[uuid.UUID]*Batch),
		now:     func() time.Time { return testNow },
	}
}

func (m *mockRepo) Insert(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.batches {
		if existing.PharmacyID == b.PharmacyID && existing.MedicineID == b.MedicineID &&
			existing.BatchNumber == b.BatchNumber {
			return ErrDuplicateBatch
		}
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, pharmacyID, id uuid.UUID) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(pharmacyID, id)
}

func (m *mockRepo) get(pharmacyID, id uuid.UUID) (*Batch, error) {
	b, ok := m.batches[id]
	if !ok || b.PharmacyID != pharmacyID || b.Deleted {
		return nil, ErrBatchNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *mockRepo) Update(_ context.Context, b *Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.batches[b.ID]; !ok {
		return ErrBatchNotFound
	}
	cp := *b
	m.batches[b.ID] = &cp
	return nil
}

func (m *mockRepo) DeductQuantity(_ context.Context, pharmacyID, id uuid.UUID, qty int) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.PharmacyID != pharmacyID || b.Deleted {
		return nil, ErrBatchNotFound
	}
	now := m.now()
	if b.Recalled || b.Quarantined || (b.ExpiryDate != nil && !b.ExpiryDate.After(now)) {
		return nil, ErrBatchNotSellable
	}
	if b.Quantity < qty {
		return nil, ErrInsufficientStock
	}
	b.Quantity -= qty
	b.RecomputeStatus(now)
	b.UpdatedAt = now
	cp := *b
	return &cp, nil
}

func (m *mockRepo) AddQuantity(_ context.Context, pharmacyID, id uuid.UUID, qty int) (*Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[id]
	if !ok || b.PharmacyID != pharmacyID || b.Deleted {
		return nil, ErrBatchNotFound
	}
	b.Quantity += qty
	b.RecomputeStatus(m.now())
	cp := *b
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, pharmacyID uuid.UUID, f ListFilter, p pagination.Params) ([]*Batch, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Batch
	for _, b := range m.batches {
		if b.PharmacyID != pharmacyID || b.Deleted {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		cp := *b
		out = append(out, &cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) LowStock(_ context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Batch, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Batch
	for _, b := range m.batches {
		if b.PharmacyID == pharmacyID && !b.Deleted && !b.Recalled && !b.Quarantined &&
			b.Quantity > 0 && b.Quantity <= b.ReorderLevel {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) ExpiringSoon(_ context.Context, pharmacyID uuid.UUID, withinDays int, p pagination.Params) ([]*Batch, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	horizon := m.now().AddDate(0, 0, withinDays)
	var out []*Batch
	for _, b := range m.batches {
		if b.PharmacyID == pharmacyID && !b.Deleted && b.Quantity > 0 &&
			b.ExpiryDate != nil && b.ExpiryDate.After(m.now()) && !b.ExpiryDate.After(horizon) {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

// mockAuditRepo is the minimal append-only store the audit service needs.
type mockAuditRepo struct {
	mu       sync.Mutex
	appendMu sync.Mutex
	chains   map[uuid.UUID][]*audit.Entry
}

func newMockAuditRepo() *mockAuditRepo {
	return &mockAuditRepo{chains: make(map[uuid.UUID][]*audit.Entry)}
}

func (m *mockAuditRepo) LockChain(_ context.Context, _ uuid.UUID) error {
	m.appendMu.Lock()
	return nil
}

func (m *mockAuditRepo) Tail(_ context.Context, pharmacyID uuid.UUID) (*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[pharmacyID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

func (m *mockAuditRepo) Insert(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	m.chains[e.PharmacyID] = append(m.chains[e.PharmacyID], e)
	m.mu.Unlock()
	m.appendMu.Unlock()
	return nil
}

func (m *mockAuditRepo) Chain(_ context.Context, pharmacyID uuid.UUID) ([]*audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*audit.Entry(nil), m.chains[pharmacyID]...), nil
}

func (m *mockAuditRepo) List(_ context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*audit.Entry, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain := m.chains[pharmacyID]
	return append([]*audit.Entry(nil), chain...), len(chain), nil
}

// nopRunner runs the unit of work without a real transaction.
type nopRunner struct{}

func (nopRunner) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo, *mockAuditRepo) {
	repo := newMockRepo()
	audits := newMockAuditRepo()
	clk := clock.Fixed{T: testNow}
	svc := NewService(repo, audit.NewService(audits, clk), nopRunner{}, clk, zerolog.Nop())
	return svc, repo, audits
}

func seedBatch(repo *mockRepo, pharmacyID uuid.UUID, qty, reorder int) *Batch {
	expiry := testNow.AddDate(1, 0, 0)
	b := &Batch{
		ID:           uuid.New(),
		PharmacyID:   pharmacyID,
		MedicineID:   uuid.New(),
		BatchNumber:  "BN-2025-001",
		Quantity:     qty,
		ReorderLevel: reorder,
		MRP:          100,
		ExpiryDate:   &expiry,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
	b.RecomputeStatus(testNow)
	cp := *b
	repo.batches[b.ID] = &cp
	return b
}

func TestCreateBatchValidation(t *testing.T) {
	svc, _, _ := newTestService()
	pharmacyID := uuid.New()

	cases := []struct {
		name string
		in   CreateBatchInput
	}{
		{"missing medicine", CreateBatchInput{BatchNumber: "BN-1", Quantity: 10}},
		{"missing batch number", CreateBatchInput{MedicineID: uuid.New(), Quantity: 10}},
		{"negative quantity", CreateBatchInput{MedicineID: uuid.New(), BatchNumber: "BN-1", Quantity: -1}},
		{"negative mrp", CreateBatchInput{MedicineID: uuid.New(), BatchNumber: "BN-1", MRP: -5}},
		{"discount over 100", CreateBatchInput{MedicineID: uuid.New(), BatchNumber: "BN-1", DiscountPct: 120}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateBatch(context.Background(), pharmacyID, testActor, tc.in)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestCreateBatchRecordsAudit(t *testing.T) {
	svc, _, audits := newTestService()
	pharmacyID := uuid.New()

	b, err := svc.CreateBatch(context.Background(), pharmacyID, testActor, CreateBatchInput{
		MedicineID:  uuid.New(),
		BatchNumber: "BN-2025-001",
		Quantity:    100,
		MRP:         45.50,
	})
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if b.Status != StatusAvailable {
		t.Errorf("status = %s, want available", b.Status)
	}

	chain, _ := audits.Chain(context.Background(), pharmacyID)
	if len(chain) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(chain))
	}
	if chain[0].Action != "batch.created" || chain[0].EntityID != b.ID.String() {
		t.Errorf("unexpected audit entry: %+v", chain[0])
	}
}

func TestDeductStockStatusProgression(t *testing.T) {
	svc, repo, _ := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 100, 20)

	got, err := svc.DeductStock(context.Background(), pharmacyID, b.ID, testActor, 85)
	if err != nil {
		t.Fatalf("first deduct: %v", err)
	}
	if got.Quantity != 15 || got.Status != StatusLowStock {
		t.Errorf("after deduct 85: quantity=%d status=%s, want 15 low_stock", got.Quantity, got.Status)
	}

	got, err = svc.DeductStock(context.Background(), pharmacyID, b.ID, testActor, 15)
	if err != nil {
		t.Fatalf("second deduct: %v", err)
	}
	if got.Quantity != 0 || got.Status != StatusSoldOut {
		t.Errorf("after deduct 15: quantity=%d status=%s, want 0 sold_out", got.Quantity, got.Status)
	}

	_, err = svc.DeductStock(context.Background(), pharmacyID, b.ID, testActor, 1)
	if !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("deduct from empty batch: err = %v, want ErrInsufficientStock", err)
	}
}

func TestConcurrentDeductNeverOversells(t *testing.T) {
	svc, repo, _ := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 10, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.DeductStock(context.Background(), pharmacyID, b.ID, testActor, 7)
		}(i)
	}
	wg.Wait()

	var succeeded, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrInsufficientStock):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || insufficient != 1 {
		t.Errorf("succeeded=%d insufficient=%d, want exactly one of each", succeeded, insufficient)
	}

	final, _ := repo.GetByID(context.Background(), pharmacyID, b.ID)
	if final.Quantity != 3 {
		t.Errorf("final quantity = %d, want 3", final.Quantity)
	}
}

func TestDeductFromRecalledBatch(t *testing.T) {
	svc, repo, _ := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 50, 10)

	if _, err := svc.Recall(context.Background(), pharmacyID, b.ID, testActor, "contamination in lot"); err != nil {
		t.Fatalf("Recall: %v", err)
	}
	_, err := svc.DeductStock(context.Background(), pharmacyID, b.ID, testActor, 1)
	if !errors.Is(err, ErrBatchNotSellable) {
		t.Errorf("err = %v, want ErrBatchNotSellable", err)
	}
}

func TestRecallAndUnrecallRestoresDerivedStatus(t *testing.T) {
	svc, repo, audits := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 5, 10)

	recalled, err := svc.Recall(context.Background(), pharmacyID, b.ID, testActor, "labeling defect")
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recalled.Status != StatusRecalled {
		t.Errorf("status = %s, want recalled", recalled.Status)
	}

	restored, err := svc.Unrecall(context.Background(), pharmacyID, b.ID, testActor)
	if err != nil {
		t.Fatalf("Unrecall: %v", err)
	}
	// 5 on hand with reorder level 10: back to low_stock, not available.
	if restored.Status != StatusLowStock {
		t.Errorf("status = %s, want low_stock", restored.Status)
	}

	chain, _ := audits.Chain(context.Background(), pharmacyID)
	if len(chain) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(chain))
	}
	if chain[0].Action != "batch.recalled" || chain[1].Action != "batch.recall_lifted" {
		t.Errorf("audit actions = %s, %s", chain[0].Action, chain[1].Action)
	}
}

func TestRecallRequiresReason(t *testing.T) {
	svc, repo, _ := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 50, 10)

	_, err := svc.Recall(context.Background(), pharmacyID, b.ID, testActor, "")
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}

func TestQuarantineBlocksSale(t *testing.T) {
	svc, repo, _ := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 50, 10)

	if _, err := svc.Quarantine(context.Background(), pharmacyID, b.ID, testActor, "pending QC"); err != nil {
		t.Fatalf("Quarantine: %v", err)
	}
	if _, err := svc.DeductStock(context.Background(), pharmacyID, b.ID, testActor, 1); !errors.Is(err, ErrBatchNotSellable) {
		t.Errorf("err = %v, want ErrBatchNotSellable", err)
	}

	released, err := svc.Release(context.Background(), pharmacyID, b.ID, testActor)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if released.Status != StatusAvailable {
		t.Errorf("status = %s, want available", released.Status)
	}
}

func TestGetBatchRefreshesExpiredStatus(t *testing.T) {
	repo := newMockRepo()
	audits := newMockAuditRepo()
	// Clock one year past the seeded expiry date.
	later := clock.Fixed{T: testNow.AddDate(2, 0, 0)}
	svc := NewService(repo, audit.NewService(audits, later), nopRunner{}, later, zerolog.Nop())

	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 50, 10)

	got, err := svc.GetBatch(context.Background(), pharmacyID, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("status = %s, want expired", got.Status)
	}
}

func TestSoftDeleteHidesBatch(t *testing.T) {
	svc, repo, _ := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 50, 10)

	if err := svc.SoftDelete(context.Background(), pharmacyID, b.ID, testActor); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if _, err := svc.GetBatch(context.Background(), pharmacyID, b.ID); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("err = %v, want ErrBatchNotFound", err)
	}
}

func TestAddStockReopensSoldOutBatch(t *testing.T) {
	svc, repo, _ := newTestService()
	pharmacyID := uuid.New()
	b := seedBatch(repo, pharmacyID, 0, 5)

	got, err := svc.AddStock(context.Background(), pharmacyID, b.ID, testActor, 50)
	if err != nil {
		t.Fatalf("AddStock: %v", err)
	}
	if got.Quantity != 50 || got.Status != StatusAvailable {
		t.Errorf("quantity=%d status=%s, want 50 available", got.Quantity, got.Status)
	}
}

func TestPharmacyScoping(t *testing.T) {
	svc, repo, _ := newTestService()
	b := seedBatch(repo, uuid.New(), 50, 10)

	otherPharmacy := uuid.New()
	if _, err := svc.GetBatch(context.Background(), otherPharmacy, b.ID); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("cross-pharmacy read: err = %v, want ErrBatchNotFound", err)
	}
	if _, err := svc.DeductStock(context.Background(), otherPharmacy, b.ID, testActor, 1); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("cross-pharmacy deduct: err = %v, want ErrBatchNotFound", err)
	}
}
