package pos

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxpos/rxpos/internal/platform/db"
	"github.com/rxpos/rxpos/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG stores transactions in pos_transaction and pos_transaction_item.
// Receipt numbers come from the receipt_counter row, bumped inside the
// checkout transaction so numbers are gapless per pharmacy.
type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

func (r *RepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const txnCols = `id, pharmacy_id, receipt_number, shift_id, cashier_id, cashier_name,
	status, customer_name, customer_phone, fulfillment_id, subtotal, discount_total,
	tax_total, grand_total, cash_paid, card_paid, upi_paid, insurance_paid,
	wallet_paid, refunded_amount, refund_reason, refunded_by, refunded_at, created_at`

func scanTxn(row pgx.Row) (*Transaction, error) {
	var t Transaction
	err := row.Scan(
		&t.ID, &t.PharmacyID, &t.ReceiptNumber, &t.ShiftID, &t.CashierID, &t.CashierName,
		&t.Status, &t.CustomerName, &t.CustomerPhone, &t.FulfillmentID, &t.Subtotal, &t.DiscountTotal,
		&t.TaxTotal, &t.GrandTotal, &t.Payment.Cash, &t.Payment.Card, &t.Payment.UPI, &t.Payment.Insurance,
		&t.Payment.Wallet, &t.RefundedAmount, &t.RefundReason, &t.RefundedBy, &t.RefundedAt, &t.CreatedAt,
	)
	return &t, err
}

func (r *RepoPG) Insert(ctx context.Context, t *Transaction) error {
	c := r.conn(ctx)
	_, err := c.Exec(ctx, `
		INSERT INTO pos_transaction (id, pharmacy_id, receipt_number, shift_id,
			cashier_id, cashier_name, status, customer_name, customer_phone,
			fulfillment_id, subtotal, discount_total, tax_total, grand_total,
			cash_paid, card_paid, upi_paid, insurance_paid, wallet_paid,
			refunded_amount, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`,
		t.ID, t.PharmacyID, t.ReceiptNumber, t.ShiftID,
		t.CashierID, t.CashierName, t.Status, t.CustomerName, t.CustomerPhone,
		t.FulfillmentID, t.Subtotal, t.DiscountTotal, t.TaxTotal, t.GrandTotal,
		t.Payment.Cash, t.Payment.Card, t.Payment.UPI, t.Payment.Insurance, t.Payment.Wallet,
		t.RefundedAmount, t.CreatedAt,
	)
	if err != nil {
		return err
	}
	for _, it := range t.Items {
		_, err := c.Exec(ctx, `
			INSERT INTO pos_transaction_item (id, transaction_id, batch_id, medicine_id,
				medicine_name, quantity, unit_price, discount_pct, tax_pct,
				subtotal, discount_amount, tax_amount, total, refunded)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			it.ID, it.TransactionID, it.BatchID, it.MedicineID,
			it.MedicineName, it.Quantity, it.UnitPrice, it.DiscountPct, it.TaxPct,
			it.Subtotal, it.DiscountAmount, it.TaxAmount, it.Total, it.Refunded,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Transaction, error) {
	q := fmt.Sprintf("SELECT %s FROM pos_transaction WHERE pharmacy_id = $1 AND id = $2", txnCols)
	t, err := scanTxn(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *RepoPG) loadItems(ctx context.Context, t *Transaction) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, transaction_id, batch_id, medicine_id, medicine_name, quantity,
			unit_price, discount_pct, tax_pct, subtotal, discount_amount, tax_amount, total, refunded
		FROM pos_transaction_item WHERE transaction_id = $1 ORDER BY id`, t.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.TransactionID, &it.BatchID, &it.MedicineID, &it.MedicineName, &it.Quantity,
			&it.UnitPrice, &it.DiscountPct, &it.TaxPct, &it.Subtotal, &it.DiscountAmount, &it.TaxAmount, &it.Total, &it.Refunded,
		); err != nil {
			return err
		}
		t.Items = append(t.Items, &it)
	}
	return rows.Err()
}

func (r *RepoPG) NextReceiptSeq(ctx context.Context, pharmacyID uuid.UUID) (int64, error) {
	var seq int64
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO receipt_counter (pharmacy_id, seq) VALUES ($1, 1)
		ON CONFLICT (pharmacy_id) DO UPDATE SET seq = receipt_counter.seq + 1
		RETURNING seq`, pharmacyID).Scan(&seq)
	return seq, err
}

// MarkRefunded writes the refund fields only if the row still holds the
// refunded amount the caller computed from. A racing refund that committed
// first changes that amount, so the guarded update matches nothing and the
// loser is classified instead of applied.
func (r *RepoPG) MarkRefunded(ctx context.Context, t *Transaction, priorRefunded float64) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE pos_transaction SET status = $3, refunded_amount = $4,
			refund_reason = $5, refunded_by = $6, refunded_at = $7
		WHERE pharmacy_id = $1 AND id = $2
			AND status <> 'refunded' AND refunded_amount = $8`,
		t.PharmacyID, t.ID, t.Status, t.RefundedAmount,
		t.RefundReason, t.RefundedBy, t.RefundedAt, priorRefunded,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyRefundMiss(ctx, t.PharmacyID, t.ID)
	}
	var refunded []uuid.UUID
	for _, it := range t.Items {
		if it.Refunded {
			refunded = append(refunded, it.ID)
		}
	}
	if len(refunded) > 0 {
		if _, err := r.conn(ctx).Exec(ctx,
			"UPDATE pos_transaction_item SET refunded = TRUE WHERE transaction_id = $1 AND id = ANY($2)",
			t.ID, refunded,
		); err != nil {
			return err
		}
	}
	return nil
}

// classifyRefundMiss separates "no such transaction" from "already fully
// refunded" from "lost an update race" after the guarded update matched
// nothing.
func (r *RepoPG) classifyRefundMiss(ctx context.Context, pharmacyID, id uuid.UUID) error {
	cur, err := r.GetByID(ctx, pharmacyID, id)
	if err != nil {
		return err
	}
	if cur.Status == StatusRefunded {
		return ErrAlreadyRefunded
	}
	return db.ErrConflict
}

func (r *RepoPG) List(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Transaction, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM pos_transaction WHERE pharmacy_id = $1", pharmacyID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM pos_transaction WHERE pharmacy_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3", txnCols)
	rows, err := r.conn(ctx).Query(ctx, q, pharmacyID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var txns []*Transaction
	for rows.Next() {
		t, err := scanTxn(rows)
		if err != nil {
			return nil, 0, err
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, t := range txns {
		if err := r.loadItems(ctx, t); err != nil {
			return nil, 0, err
		}
	}
	return txns, total, nil
}

func (r *RepoPG) DailySummary(ctx context.Context, pharmacyID uuid.UUID, day time.Time) (*DailySummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	s := &DailySummary{PharmacyID: pharmacyID, Date: start.Format("2006-01-02")}
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(grand_total), 0),
			COALESCE(SUM(discount_total), 0),
			COALESCE(SUM(tax_total), 0),
			COALESCE(SUM(refunded_amount), 0),
			COALESCE(SUM(cash_paid), 0),
			COALESCE(SUM(card_paid), 0),
			COALESCE(SUM(upi_paid), 0),
			COALESCE(SUM(insurance_paid), 0),
			COALESCE(SUM(wallet_paid), 0)
		FROM pos_transaction
		WHERE pharmacy_id = $1 AND created_at >= $2 AND created_at < $3`,
		pharmacyID, start, end,
	).Scan(&s.TransactionCount, &s.GrossSales, &s.DiscountTotal, &s.TaxTotal,
		&s.RefundTotal, &s.CashTotal, &s.CardTotal, &s.UPITotal,
		&s.InsuranceTotal, &s.WalletTotal)
	if err != nil {
		return nil, err
	}
	s.NetSales = round2(s.GrossSales - s.RefundTotal)
	return s, nil
}
