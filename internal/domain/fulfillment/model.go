package fulfillment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending            Status = "pending"
	StatusInProgress         Status = "in_progress"
	StatusPartiallyFulfilled Status = "partially_fulfilled"
	StatusFulfilled          Status = "fulfilled"
	StatusCancelled          Status = "cancelled"
)

// transitions is the full state machine. fulfilled and cancelled are
// terminal; a partially fulfilled order can go back to fulfilled only by
// dispensing the rest, never by edict.
var transitions = map[Status][]Status{
	StatusPending:            {StatusInProgress, StatusCancelled},
	StatusInProgress:         {StatusPartiallyFulfilled, StatusFulfilled, StatusCancelled},
	StatusPartiallyFulfilled: {StatusPartiallyFulfilled, StatusFulfilled, StatusCancelled},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Prescription is the doctor's order a fulfillment works against.
type Prescription struct {
	ID           uuid.UUID           `db:"id" json:"id"`
	PharmacyID   uuid.UUID           `db:"pharmacy_id" json:"pharmacy_id"`
	PatientName  string              `db:"patient_name" json:"patient_name"`
	PatientPhone *string             `db:"patient_phone" json:"patient_phone,omitempty"`
	DoctorName   string              `db:"doctor_name" json:"doctor_name"`
	IssuedAt     time.Time           `db:"issued_at" json:"issued_at"`
	Items        []*PrescriptionItem `json:"items"`
}

// PrescriptionItem is one prescribed line.
type PrescriptionItem struct {
	ID             uuid.UUID `db:"id" json:"id"`
	PrescriptionID uuid.UUID `db:"prescription_id" json:"prescription_id"`
	MedicineID     uuid.UUID `db:"medicine_id" json:"medicine_id"`
	MedicineName   string    `db:"medicine_name" json:"medicine_name"`
	Quantity       int       `db:"quantity" json:"quantity"`
	Dosage         *string   `db:"dosage" json:"dosage,omitempty"`
}

// Fulfillment tracks dispensing a prescription. Progress only moves
// forward; its percentage never decreases while entries are dispensed.
type Fulfillment struct {
	ID             uuid.UUID  `db:"id" json:"id"`
	PharmacyID     uuid.UUID  `db:"pharmacy_id" json:"pharmacy_id"`
	PrescriptionID uuid.UUID  `db:"prescription_id" json:"prescription_id"`
	Status         Status     `db:"status" json:"status"`
	Percentage     float64    `db:"percentage" json:"percentage"`
	ValidatedBy    *string    `db:"validated_by" json:"validated_by,omitempty"`
	ValidatedAt    *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	CancelReason   *string    `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`

	Items []*Item `json:"items"`
}

// Item is one fulfillment line, mirroring a prescription item. A line
// counts as done when it is dispensed or substituted away.
type Item struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	FulfillmentID      uuid.UUID  `db:"fulfillment_id" json:"fulfillment_id"`
	PrescriptionItemID uuid.UUID  `db:"prescription_item_id" json:"prescription_item_id"`
	MedicineID         uuid.UUID  `db:"medicine_id" json:"medicine_id"`
	MedicineName       string     `db:"medicine_name" json:"medicine_name"`
	QuantityPrescribed int        `db:"quantity_prescribed" json:"quantity_prescribed"`
	QuantityDispensed  int        `db:"quantity_dispensed" json:"quantity_dispensed"`
	Dispensed          bool       `db:"dispensed" json:"dispensed"`
	BatchID            *uuid.UUID `db:"batch_id" json:"batch_id,omitempty"`

	SubstituteMedicineID   *uuid.UUID `db:"substitute_medicine_id" json:"substitute_medicine_id,omitempty"`
	SubstituteMedicineName *string    `db:"substitute_medicine_name" json:"substitute_medicine_name,omitempty"`
	SubstitutionNote       *string    `db:"substitution_note" json:"substitution_note,omitempty"`
	SubstitutedBy          *string    `db:"substituted_by" json:"substituted_by,omitempty"`
	SubstitutedAt          *time.Time `db:"substituted_at" json:"substituted_at,omitempty"`
}

// Progress recomputes percentage and derives the status a fulfillment with
// this much progress should hold. It never lowers an existing percentage.
func (f *Fulfillment) Progress() {
	if len(f.Items) == 0 {
		return
	}
	var done int
	for _, it := range f.Items {
		if it.Dispensed {
			done++
		}
	}
	pct := float64(done) / float64(len(f.Items)) * 100
	if pct > f.Percentage {
		f.Percentage = pct
	}
	switch {
	case done == len(f.Items):
		f.Status = StatusFulfilled
	case done > 0:
		f.Status = StatusPartiallyFulfilled
	}
}
