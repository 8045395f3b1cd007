package audit

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testEntry() *Entry {
	return &Entry{
		ID:         uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		PharmacyID: uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		Seq:        4,
		ActorID:    "cashier-1",
		ActorName:  "Asha Verma",
		Action:     "pos.checkout",
		EntityKind: "transaction",
		EntityID:   "TX-9",
		Diff:       map[string]interface{}{"quantity": 2, "batch": "B-100"},
		Recorded:   time.Date(2025, 6, 1, 10, 0, 0, 123, time.UTC),
		PrevHash:   "abc123",
	}
}

func TestComputeHash_Deterministic(t *testing.T) {
	a, b := testEntry(), testEntry()
	if a.ComputeHash() != b.ComputeHash() {
		t.Error("identical entries must hash identically")
	}
	if len(a.ComputeHash()) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a.ComputeHash()))
	}
}

func TestComputeHash_DiffKeyOrderIndependent(t *testing.T) {
	a := testEntry()
	b := testEntry()
	// Same pairs inserted in a different order must serialize identically.
	b.Diff = map[string]interface{}{"batch": "B-100", "quantity": 2}
	if a.ComputeHash() != b.ComputeHash() {
		t.Error("diff key order must not affect the hash")
	}
}

func TestComputeHash_SensitiveToEveryIdentifyingField(t *testing.T) {
	base := testEntry().ComputeHash()

	mutations := map[string]func(*Entry){
		"action":    func(e *Entry) { e.Action = "pos.refund" },
		"actor":     func(e *Entry) { e.ActorID = "someone-else" },
		"entity_id": func(e *Entry) { e.EntityID = "TX-10" },
		"prev_hash": func(e *Entry) { e.PrevHash = "def456" },
		"recorded":  func(e *Entry) { e.Recorded = e.Recorded.Add(time.Nanosecond) },
		"seq":       func(e *Entry) { e.Seq = 5 },
		"diff":      func(e *Entry) { e.Diff["quantity"] = 3 },
	}
	for name, mutate := range mutations {
		e := testEntry()
		mutate(e)
		if e.ComputeHash() == base {
			t.Errorf("changing %s must change the hash", name)
		}
	}
}

func TestCanonical_ContainsPrevLink(t *testing.T) {
	e := testEntry()
	if !strings.Contains(e.Canonical(), "prev=abc123") {
		t.Error("canonical form must embed the previous hash")
	}
	if !strings.Contains(e.Canonical(), "recorded=2025-06-01T10:00:00.000000123Z") {
		t.Errorf("canonical form must use RFC3339Nano UTC, got:\n%s", e.Canonical())
	}
}
