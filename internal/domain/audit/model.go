package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable record in a pharmacy's audit chain. Entries are
// linked by PrevHash and ordered by Seq; they are never updated or deleted.
type Entry struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	PharmacyID uuid.UUID              `db:"pharmacy_id" json:"pharmacy_id"`
	Seq        int64                  `db:"seq" json:"seq"`
	ActorID    string                 `db:"actor_id" json:"actor_id"`
	ActorName  string                 `db:"actor_name" json:"actor_name"`
	Action     string                 `db:"action" json:"action"`
	EntityKind string                 `db:"entity_kind" json:"entity_kind"`
	EntityID   string                 `db:"entity_id" json:"entity_id"`
	Diff       map[string]interface{} `db:"diff" json:"diff,omitempty"`
	Recorded   time.Time              `db:"recorded" json:"recorded"`
	PrevHash   string                 `db:"prev_hash" json:"prev_hash"`
	Hash       string                 `db:"hash" json:"hash"`
}

// Record is the input for one audit append. PharmacyID scopes the chain;
// everything else is attribution and payload.
type Record struct {
	PharmacyID uuid.UUID
	ActorID    string
	ActorName  string
	Action     string
	EntityKind string
	EntityID   string
	Diff       map[string]interface{}
}

// Canonical produces the byte-for-byte reproducible serialization the hash is
// computed over: fixed key order, one key=value per line, recorded in UTC
// RFC3339Nano. The diff is compact JSON; encoding/json sorts map keys, which
// keeps it order-independent.
func (e *Entry) Canonical() string {
	diff := ""
	if len(e.Diff) > 0 {
		if b, err := json.Marshal(e.Diff); err == nil {
			diff = string(b)
		}
	}
	lines := []string{
		"action=" + e.Action,
		"actor_id=" + e.ActorID,
		"actor_name=" + e.ActorName,
		"diff=" + diff,
		"entity_id=" + e.EntityID,
		"entity_kind=" + e.EntityKind,
		"pharmacy_id=" + e.PharmacyID.String(),
		"prev=" + e.PrevHash,
		"recorded=" + e.Recorded.UTC().Format(time.RFC3339Nano),
		fmt.Sprintf("seq=%d", e.Seq),
	}
	return strings.Join(lines, "\n")
}

// ComputeHash returns the lowercase hex SHA-256 of the canonical form.
func (e *Entry) ComputeHash() string {
	sum := sha256.Sum256([]byte(e.Canonical()))
	return hex.EncodeToString(sum[:])
}

// Fault describes one verification failure within a chain.
type Fault struct {
	Seq    int64  `json:"seq"`
	Reason string `json:"reason"`
}

// VerifyReport is the result of replaying a pharmacy's chain.
type VerifyReport struct {
	PharmacyID uuid.UUID `json:"pharmacy_id"`
	Entries    int       `json:"entries"`
	Valid      bool      `json:"valid"`
	Faults     []Fault   `json:"faults,omitempty"`
}
