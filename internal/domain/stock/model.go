package stock

import (
	"time"

	"github.com/google/uuid"
)

// Status is the derived sellability state of a batch. It is stored for
// querying but always recomputed from the underlying facts; see
// ComputeStatus.
type Status string

const (
	StatusAvailable   Status = "available"
	StatusLowStock    Status = "low_stock"
	StatusSoldOut     Status = "sold_out"
	StatusExpired     Status = "expired"
	StatusRecalled    Status = "recalled"
	StatusQuarantined Status = "quarantined"
)

// Batch is one goods receipt of a medicine at one pharmacy. Batches are
// never hard-deleted; Deleted hides them from queries.
type Batch struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PharmacyID      uuid.UUID  `db:"pharmacy_id" json:"pharmacy_id"`
	MedicineID      uuid.UUID  `db:"medicine_id" json:"medicine_id"`
	BatchNumber     string     `db:"batch_number" json:"batch_number"`
	Quantity        int        `db:"quantity" json:"quantity"`
	ReorderLevel    int        `db:"reorder_level" json:"reorder_level"`
	PurchasePrice   float64    `db:"purchase_price" json:"purchase_price"`
	MRP             float64    `db:"mrp" json:"mrp"`
	DiscountPct     float64    `db:"discount_pct" json:"discount_pct"`
	SellingPrice    *float64   `db:"selling_price" json:"selling_price,omitempty"`
	ManufactureDate *time.Time `db:"manufacture_date" json:"manufacture_date,omitempty"`
	ExpiryDate      *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	Status          Status     `db:"status" json:"status"`
	Recalled        bool       `db:"recalled" json:"recalled"`
	RecallReason    *string    `db:"recall_reason" json:"recall_reason,omitempty"`
	Quarantined     bool       `db:"quarantined" json:"quarantined"`
	Deleted         bool       `db:"deleted" json:"deleted"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// ComputeStatus derives the status from the batch's facts. It is the only
// place status is decided; every mutation re-runs it and reads re-run it for
// sellability so a stale stored value never leaks into a decision.
// Recall and quarantine are sticky: they win regardless of quantity.
func ComputeStatus(quantity, reorderLevel int, expiry *time.Time, recalled, quarantined bool, now time.Time) Status {
	switch {
	case recalled:
		return StatusRecalled
	case quarantined:
		return StatusQuarantined
	case expiry != nil && !expiry.After(now):
		return StatusExpired
	case quantity <= 0:
		return StatusSoldOut
	case quantity <= reorderLevel:
		return StatusLowStock
	default:
		return StatusAvailable
	}
}

// RecomputeStatus refreshes the cached status field.
func (b *Batch) RecomputeStatus(now time.Time) {
	b.Status = ComputeStatus(b.Quantity, b.ReorderLevel, b.ExpiryDate, b.Recalled, b.Quarantined, now)
}

// Sellable is the live predicate a checkout must use: expiry is evaluated
// against now even when the stored status hasn't been refreshed.
func (b *Batch) Sellable(now time.Time) bool {
	if b.Deleted || b.Recalled || b.Quarantined || b.Quantity <= 0 {
		return false
	}
	if b.ExpiryDate != nil && !b.ExpiryDate.After(now) {
		return false
	}
	return true
}

// EffectiveSellingPrice returns the explicit selling price when set,
// otherwise MRP discounted by the batch discount percentage.
func (b *Batch) EffectiveSellingPrice() float64 {
	if b.SellingPrice != nil {
		return *b.SellingPrice
	}
	return b.MRP * (1 - b.DiscountPct/100)
}
