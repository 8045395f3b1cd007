package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Medicine is master reference data curated outside this service. This core
// only reads it: names for receipts, GST rates for pricing, and the
// prescription-required flag for dispensing.
type Medicine struct {
	ID                   uuid.UUID `db:"id" json:"id"`
	Name                 string    `db:"name" json:"name"`
	GenericName          *string   `db:"generic_name" json:"generic_name,omitempty"`
	Category             string    `db:"category" json:"category"`
	Manufacturer         *string   `db:"manufacturer" json:"manufacturer,omitempty"`
	GSTRate              float64   `db:"gst_rate" json:"gst_rate"`
	PrescriptionRequired bool      `db:"prescription_required" json:"prescription_required"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}
