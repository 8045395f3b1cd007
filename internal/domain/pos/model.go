package pos

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/rxpos/rxpos/internal/domain/shift"
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusRefunded  Status = "refunded"
)

// moneyTolerance absorbs float rounding when comparing money amounts.
const moneyTolerance = 0.01

// Payment is how the customer settled the bill, split by method. Amounts
// must sum to the transaction grand total.
type Payment struct {
	Cash      float64 `db:"cash_paid" json:"cash"`
	Card      float64 `db:"card_paid" json:"card"`
	UPI       float64 `db:"upi_paid" json:"upi"`
	Insurance float64 `db:"insurance_paid" json:"insurance"`
	Wallet    float64 `db:"wallet_paid" json:"wallet"`
}

func (p Payment) Total() float64 {
	return p.Cash + p.Card + p.UPI + p.Insurance + p.Wallet
}

// methods lists every breakdown amount for uniform validation.
func (p Payment) methods() []float64 {
	return []float64{p.Cash, p.Card, p.UPI, p.Insurance, p.Wallet}
}

// tender is the same breakdown in the shape the shift ledger takes.
func (p Payment) tender() shift.Tender {
	return shift.Tender{Cash: p.Cash, Card: p.Card, UPI: p.UPI, Insurance: p.Insurance, Wallet: p.Wallet}
}

// Item is one sold line. The monetary fields are computed once at checkout
// and stored, so the receipt is reproducible after prices change.
type Item struct {
	ID             uuid.UUID `db:"id" json:"id"`
	TransactionID  uuid.UUID `db:"transaction_id" json:"transaction_id"`
	BatchID        uuid.UUID `db:"batch_id" json:"batch_id"`
	MedicineID     uuid.UUID `db:"medicine_id" json:"medicine_id"`
	MedicineName   string    `db:"medicine_name" json:"medicine_name"`
	Quantity       int       `db:"quantity" json:"quantity"`
	UnitPrice      float64   `db:"unit_price" json:"unit_price"`
	DiscountPct    float64   `db:"discount_pct" json:"discount_pct"`
	TaxPct         float64   `db:"tax_pct" json:"tax_pct"`
	Subtotal       float64   `db:"subtotal" json:"subtotal"`
	DiscountAmount float64   `db:"discount_amount" json:"discount_amount"`
	TaxAmount      float64   `db:"tax_amount" json:"tax_amount"`
	Total          float64   `db:"total" json:"total"`
	Refunded       bool      `db:"refunded" json:"refunded"`
}

// Price fills the item's monetary fields from quantity, unit price,
// discount and tax. Discount applies to the subtotal; tax applies to the
// discounted amount.
func (it *Item) Price() {
	it.Subtotal = round2(it.UnitPrice * float64(it.Quantity))
	it.DiscountAmount = round2(it.Subtotal * it.DiscountPct / 100)
	taxable := it.Subtotal - it.DiscountAmount
	it.TaxAmount = round2(taxable * it.TaxPct / 100)
	it.Total = round2(taxable + it.TaxAmount)
}

// Transaction is one completed checkout. Totals are the sums over its
// items; Payment records how the grand total was settled.
type Transaction struct {
	ID            uuid.UUID `db:"id" json:"id"`
	PharmacyID    uuid.UUID `db:"pharmacy_id" json:"pharmacy_id"`
	ReceiptNumber string    `db:"receipt_number" json:"receipt_number"`
	ShiftID       uuid.UUID `db:"shift_id" json:"shift_id"`
	CashierID     string    `db:"cashier_id" json:"cashier_id"`
	CashierName   string    `db:"cashier_name" json:"cashier_name"`
	Status        Status    `db:"status" json:"status"`

	CustomerName  *string    `db:"customer_name" json:"customer_name,omitempty"`
	CustomerPhone *string    `db:"customer_phone" json:"customer_phone,omitempty"`
	FulfillmentID *uuid.UUID `db:"fulfillment_id" json:"fulfillment_id,omitempty"`

	Subtotal      float64 `db:"subtotal" json:"subtotal"`
	DiscountTotal float64 `db:"discount_total" json:"discount_total"`
	TaxTotal      float64 `db:"tax_total" json:"tax_total"`
	GrandTotal    float64 `db:"grand_total" json:"grand_total"`
	Payment       Payment `json:"payment"`

	RefundedAmount float64    `db:"refunded_amount" json:"refunded_amount"`
	RefundReason   *string    `db:"refund_reason" json:"refund_reason,omitempty"`
	RefundedBy     *string    `db:"refunded_by" json:"refunded_by,omitempty"`
	RefundedAt     *time.Time `db:"refunded_at" json:"refunded_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Items []*Item `json:"items"`
}

// Total recomputes the transaction totals from its items.
func (t *Transaction) Total() {
	t.Subtotal, t.DiscountTotal, t.TaxTotal, t.GrandTotal = 0, 0, 0, 0
	for _, it := range t.Items {
		t.Subtotal = round2(t.Subtotal + it.Subtotal)
		t.DiscountTotal = round2(t.DiscountTotal + it.DiscountAmount)
		t.TaxTotal = round2(t.TaxTotal + it.TaxAmount)
		t.GrandTotal = round2(t.GrandTotal + it.Total)
	}
}

// ReceiptNumber renders the human-readable receipt identifier.
func ReceiptNumber(prefix string, seq int64) string {
	return fmt.Sprintf("RX-%s-%06d", prefix, seq)
}

// DailySummary aggregates one day's completed sales for a pharmacy.
type DailySummary struct {
	PharmacyID       uuid.UUID `json:"pharmacy_id"`
	Date             string    `json:"date"`
	TransactionCount int       `json:"transaction_count"`
	GrossSales       float64   `json:"gross_sales"`
	DiscountTotal    float64   `json:"discount_total"`
	TaxTotal         float64   `json:"tax_total"`
	RefundTotal      float64   `json:"refund_total"`
	NetSales         float64   `json:"net_sales"`
	CashTotal        float64   `json:"cash_total"`
	CardTotal        float64   `json:"card_total"`
	UPITotal         float64   `json:"upi_total"`
	InsuranceTotal   float64   `json:"insurance_total"`
	WalletTotal      float64   `json:"wallet_total"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) <= moneyTolerance
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
