package shift

import (
	"math"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// VarianceClass grades the cash drawer difference found at close.
type VarianceClass string

const (
	VarianceNormal   VarianceClass = "normal"
	VarianceWarning  VarianceClass = "warning"
	VarianceCritical VarianceClass = "critical"
)

const (
	varianceWarningAt  = 100.0
	varianceCriticalAt = 500.0
)

// Shift is one cashier's working session at a pharmacy. A cashier has at
// most one open shift at a time; sales totals accumulate on the open shift
// and the drawer is reconciled at close.
type Shift struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PharmacyID  uuid.UUID `db:"pharmacy_id" json:"pharmacy_id"`
	CashierID   string    `db:"cashier_id" json:"cashier_id"`
	CashierName string    `db:"cashier_name" json:"cashier_name"`
	Status      Status    `db:"status" json:"status"`

	OpeningCash float64 `db:"opening_cash" json:"opening_cash"`

	CashSales      float64 `db:"cash_sales" json:"cash_sales"`
	CardSales      float64 `db:"card_sales" json:"card_sales"`
	UPISales       float64 `db:"upi_sales" json:"upi_sales"`
	InsuranceSales float64 `db:"insurance_sales" json:"insurance_sales"`
	WalletSales    float64 `db:"wallet_sales" json:"wallet_sales"`
	Refunds        float64 `db:"refunds" json:"refunds"`
	TotalSales     float64 `db:"total_sales" json:"total_sales"`

	TransactionCount int `db:"transaction_count" json:"transaction_count"`

	ClosingCash   *float64       `db:"closing_cash" json:"closing_cash,omitempty"`
	Variance      *float64       `db:"variance" json:"variance,omitempty"`
	VarianceClass *VarianceClass `db:"variance_class" json:"variance_class,omitempty"`

	OpenedAt time.Time  `db:"opened_at" json:"opened_at"`
	ClosedAt *time.Time `db:"closed_at" json:"closed_at,omitempty"`
}

// Tender is the per-method amount breakdown of a single sale, as it lands
// on the shift's running totals.
type Tender struct {
	Cash      float64 `json:"cash"`
	Card      float64 `json:"card"`
	UPI       float64 `json:"upi"`
	Insurance float64 `json:"insurance"`
	Wallet    float64 `json:"wallet"`
}

func (t Tender) Total() float64 {
	return t.Cash + t.Card + t.UPI + t.Insurance + t.Wallet
}

// ExpectedCash is what the drawer should hold at close: the float the shift
// opened with plus cash taken in, minus cash paid back out on refunds.
func (s *Shift) ExpectedCash() float64 {
	return s.OpeningCash + s.CashSales - s.Refunds
}

// ClassifyVariance grades an absolute drawer difference.
func ClassifyVariance(variance float64) VarianceClass {
	switch abs := math.Abs(variance); {
	case abs >= varianceCriticalAt:
		return VarianceCritical
	case abs >= varianceWarningAt:
		return VarianceWarning
	default:
		return VarianceNormal
	}
}
