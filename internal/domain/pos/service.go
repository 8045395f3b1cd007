package pos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/rxpos/rxpos/internal/domain/audit"
	"github.com/rxpos/rxpos/internal/domain/catalog"
	"github.com/rxpos/rxpos/internal/domain/shift"
	"github.com/rxpos/rxpos/internal/domain/stock"
	"github.com/rxpos/rxpos/internal/platform/auth"
	"github.com/rxpos/rxpos/internal/platform/clock"
	"github.com/rxpos/rxpos/internal/platform/db"
	"github.com/rxpos/rxpos/pkg/pagination"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrEmptyTransaction    = errors.New("transaction has no items")
	ErrPaymentMismatch     = errors.New("payment does not match grand total")
	ErrAlreadyRefunded     = errors.New("transaction already fully refunded")
	ErrRefundExceedsTotal  = errors.New("refund exceeds refundable amount")
	ErrItemAlreadyRefunded = errors.New("item already refunded")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ItemError ties a checkout failure to the offending line.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// ItemInput is one requested sale line. DiscountPct and TaxPct are
// optional; tax defaults to the medicine's GST rate.
type ItemInput struct {
	BatchID     uuid.UUID `json:"batch_id"`
	Quantity    int       `json:"quantity"`
	DiscountPct *float64  `json:"discount_pct,omitempty"`
	TaxPct      *float64  `json:"tax_pct,omitempty"`
}

// CheckoutInput is the full checkout request.
type CheckoutInput struct {
	Items         []ItemInput `json:"items"`
	Payment       Payment     `json:"payment"`
	CustomerName  *string     `json:"customer_name,omitempty"`
	CustomerPhone *string     `json:"customer_phone,omitempty"`
	FulfillmentID *uuid.UUID  `json:"fulfillment_id,omitempty"`
}

// RefundInput requests a refund against a completed transaction. A full
// refund puts the sold quantities back into their batches. Naming item IDs
// makes an itemized refund: those lines' stock is restored and the amount
// must equal their combined total.
type RefundInput struct {
	Amount  float64     `json:"amount"`
	Reason  string      `json:"reason"`
	ItemIDs []uuid.UUID `json:"item_ids,omitempty"`
}

// Service is the transaction engine. A checkout is all-or-nothing: every
// line's stock deduction, the transaction rows, the shift totals and the
// audit entry commit in one transaction or none of them do.
type Service struct {
	repo      Repository
	batches   stock.Repository
	medicines catalog.MedicineRepository
	shifts    *shift.Service
	audits    *audit.Service
	runner    db.Runner
	clock     clock.Clock
	log       zerolog.Logger
}

func NewService(repo Repository, batches stock.Repository, medicines catalog.MedicineRepository,
	shifts *shift.Service, audits *audit.Service, runner db.Runner, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		repo: repo, batches: batches, medicines: medicines,
		shifts: shifts, audits: audits, runner: runner, clock: clk, log: log,
	}
}

// Checkout validates every line, then commits the sale atomically. On a
// serialization conflict the whole unit of work is retried a bounded
// number of times.
func (s *Service) Checkout(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, in CheckoutInput) (*Transaction, error) {
	if len(in.Items) == 0 {
		return nil, ErrEmptyTransaction
	}
	for i, item := range in.Items {
		if item.Quantity <= 0 {
			return nil, &ItemError{Index: i, Err: &ValidationError{Field: "quantity", Reason: "must be positive"}}
		}
		if item.DiscountPct != nil && (!finite(*item.DiscountPct) || *item.DiscountPct < 0 || *item.DiscountPct > 100) {
			return nil, &ItemError{Index: i, Err: &ValidationError{Field: "discount_pct", Reason: "must be between 0 and 100"}}
		}
		if item.TaxPct != nil && (!finite(*item.TaxPct) || *item.TaxPct < 0) {
			return nil, &ItemError{Index: i, Err: &ValidationError{Field: "tax_pct", Reason: "must not be negative"}}
		}
	}
	for _, amount := range in.Payment.methods() {
		if !finite(amount) || amount < 0 {
			return nil, &ValidationError{Field: "payment", Reason: "amounts must be finite and not negative"}
		}
	}

	// The cashier must be on an open shift before anything is deducted.
	sh, err := s.shifts.Active(ctx, pharmacyID, actor.ID)
	if err != nil {
		return nil, err
	}

	var txn *Transaction
	for attempt := 0; ; attempt++ {
		txn, err = s.checkoutOnce(ctx, pharmacyID, sh.ID, actor, in)
		if !errors.Is(err, db.ErrConflict) {
			break
		}
		if attempt+1 >= db.MaxConflictRetries {
			break
		}
		s.log.Debug().Int("attempt", attempt+1).Msg("checkout conflict, retrying")
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) checkoutOnce(ctx context.Context, pharmacyID, shiftID uuid.UUID, actor auth.Actor, in CheckoutInput) (*Transaction, error) {
	var txn *Transaction
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		now := s.clock.Now()

		// Validation pass over every line before the first deduction, so
		// an invalid later line never leaves an earlier one deducted.
		items := make([]*Item, 0, len(in.Items))
		for i, req := range in.Items {
			b, err := s.batches.GetByID(ctx, pharmacyID, req.BatchID)
			if err != nil {
				return &ItemError{Index: i, Err: err}
			}
			if !b.Sellable(now) {
				return &ItemError{Index: i, Err: stock.ErrBatchNotSellable}
			}
			if b.Quantity < req.Quantity {
				return &ItemError{Index: i, Err: stock.ErrInsufficientStock}
			}
			med, err := s.medicines.GetByID(ctx, b.MedicineID)
			if err != nil {
				return &ItemError{Index: i, Err: err}
			}

			price := b.EffectiveSellingPrice()
			if !finite(price) || price < 0 {
				return &ItemError{Index: i, Err: &ValidationError{Field: "unit_price", Reason: "batch has no usable price"}}
			}

			it := &Item{
				ID:           uuid.New(),
				BatchID:      b.ID,
				MedicineID:   b.MedicineID,
				MedicineName: med.Name,
				Quantity:     req.Quantity,
				UnitPrice:    price,
			}
			if req.DiscountPct != nil {
				it.DiscountPct = *req.DiscountPct
			}
			if req.TaxPct != nil {
				it.TaxPct = *req.TaxPct
			} else {
				it.TaxPct = med.GSTRate
			}
			it.Price()
			items = append(items, it)
		}

		txn = &Transaction{
			ID:            uuid.New(),
			PharmacyID:    pharmacyID,
			ShiftID:       shiftID,
			CashierID:     actor.ID,
			CashierName:   actor.Name,
			Status:        StatusCompleted,
			CustomerName:  in.CustomerName,
			CustomerPhone: in.CustomerPhone,
			FulfillmentID: in.FulfillmentID,
			Payment:       in.Payment,
			CreatedAt:     now,
			Items:         items,
		}
		txn.Total()
		for _, it := range items {
			it.TransactionID = txn.ID
		}

		if !nearlyEqual(in.Payment.Total(), txn.GrandTotal) {
			return ErrPaymentMismatch
		}

		// Deduction pass. Any failure rolls back everything above.
		for i, it := range items {
			if _, err := s.batches.DeductQuantity(ctx, pharmacyID, it.BatchID, it.Quantity); err != nil {
				return &ItemError{Index: i, Err: err}
			}
		}

		seq, err := s.repo.NextReceiptSeq(ctx, pharmacyID)
		if err != nil {
			return err
		}
		txn.ReceiptNumber = ReceiptNumber(receiptPrefix(pharmacyID), seq)

		if err := s.repo.Insert(ctx, txn); err != nil {
			return err
		}
		if _, err := s.shifts.ApplySale(ctx, pharmacyID, shiftID, in.Payment.tender()); err != nil {
			return err
		}
		return s.recordAudit(ctx, pharmacyID, actor, "transaction.completed", txn.ID, map[string]interface{}{
			"receipt_number": txn.ReceiptNumber,
			"grand_total":    txn.GrandTotal,
			"items":          len(txn.Items),
		})
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

// Refund pays money back against a completed transaction. Refunding the
// full remaining amount marks the transaction refunded and restores the
// sold quantities to their batches. The write is a compare-and-set against
// the refunded amount the refund was computed from, so two racing refunds
// resolve to one winner; the loser retries and re-reads.
func (s *Service) Refund(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, in RefundInput) (*Transaction, error) {
	if !finite(in.Amount) || in.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if in.Reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "required"}
	}

	var txn *Transaction
	var err error
	for attempt := 0; ; attempt++ {
		txn, err = s.refundOnce(ctx, pharmacyID, id, actor, in)
		if !errors.Is(err, db.ErrConflict) {
			break
		}
		if attempt+1 >= db.MaxConflictRetries {
			break
		}
		s.log.Debug().Int("attempt", attempt+1).Msg("refund conflict, retrying")
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) refundOnce(ctx context.Context, pharmacyID, id uuid.UUID, actor auth.Actor, in RefundInput) (*Transaction, error) {
	var txn *Transaction
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		txn, err = s.repo.GetByID(ctx, pharmacyID, id)
		if err != nil {
			return err
		}
		if txn.Status == StatusRefunded {
			return ErrAlreadyRefunded
		}
		prior := txn.RefundedAmount
		remaining := round2(txn.GrandTotal - prior)

		// Lines whose stock goes back on the shelf once the write sticks.
		var restore []*Item
		seen := make(map[uuid.UUID]bool, len(in.ItemIDs))

		if len(in.ItemIDs) > 0 {
			byID := make(map[uuid.UUID]*Item, len(txn.Items))
			for _, it := range txn.Items {
				byID[it.ID] = it
			}
			var itemTotal float64
			for _, itemID := range in.ItemIDs {
				it, ok := byID[itemID]
				if !ok {
					return &ValidationError{Field: "item_ids", Reason: "unknown item " + itemID.String()}
				}
				if it.Refunded || seen[itemID] {
					return ErrItemAlreadyRefunded
				}
				seen[itemID] = true
				itemTotal += it.Total
				restore = append(restore, it)
			}
			if !nearlyEqual(in.Amount, round2(itemTotal)) {
				return &ValidationError{Field: "amount", Reason: "must equal the named items' total"}
			}
		}

		if in.Amount > remaining+moneyTolerance {
			return ErrRefundExceedsTotal
		}

		now := s.clock.Now()
		fullRefund := nearlyEqual(in.Amount, remaining)

		txn.RefundedAmount = round2(prior + in.Amount)
		txn.RefundReason = &in.Reason
		txn.RefundedBy = &actor.ID
		txn.RefundedAt = &now
		if fullRefund {
			txn.Status = StatusRefunded
			for _, it := range txn.Items {
				if !it.Refunded && !seen[it.ID] {
					restore = append(restore, it)
				}
			}
		}
		for _, it := range restore {
			it.Refunded = true
		}

		if err := s.repo.MarkRefunded(ctx, txn, prior); err != nil {
			return err
		}
		for _, it := range restore {
			if _, err := s.batches.AddQuantity(ctx, pharmacyID, it.BatchID, it.Quantity); err != nil {
				return err
			}
		}

		// Cash leaves the refunder's drawer when they have a shift open.
		if sh, err := s.shifts.Active(ctx, pharmacyID, actor.ID); err == nil {
			if _, err := s.shifts.ApplyRefund(ctx, pharmacyID, sh.ID, in.Amount); err != nil {
				return err
			}
		} else if !errors.Is(err, shift.ErrNoActiveShift) {
			return err
		}

		return s.recordAudit(ctx, pharmacyID, actor, "transaction.refunded", txn.ID, map[string]interface{}{
			"amount":      in.Amount,
			"reason":      in.Reason,
			"full_refund": fullRefund,
		})
	})
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (s *Service) Get(ctx context.Context, pharmacyID, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetByID(ctx, pharmacyID, id)
}

func (s *Service) List(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Transaction, int, error) {
	return s.repo.List(ctx, pharmacyID, p)
}

func (s *Service) DailySummary(ctx context.Context, pharmacyID uuid.UUID, day time.Time) (*DailySummary, error) {
	return s.repo.DailySummary(ctx, pharmacyID, day)
}

// receiptPrefix is the pharmacy's short code on receipts.
func receiptPrefix(pharmacyID uuid.UUID) string {
	return strings.ToUpper(pharmacyID.String()[:8])
}

func (s *Service) recordAudit(ctx context.Context, pharmacyID uuid.UUID, actor auth.Actor, action string, entityID uuid.UUID, diff map[string]interface{}) error {
	_, err := s.audits.Record(ctx, audit.Record{
		PharmacyID: pharmacyID,
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     action,
		EntityKind: "transaction",
		EntityID:   entityID.String(),
		Diff:       diff,
	})
	return err
}
