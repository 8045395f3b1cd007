package shift

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

// RepoPG stores shifts in the shift table. A partial unique index on
// (pharmacy_id, cashier_id) WHERE status = 'open' enforces the single open
// shift per cashier; racing opens lose with a unique violation.
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

const shiftCols = `id, pharmacy_id, cashier_id, cashier_name, status, opening_cash,
	cash_sales, card_sales, upi_sales, insurance_sales, wallet_sales,
	refunds, total_sales, transaction_count,
	closing_cash, variance, variance_class, opened_at, closed_at`

func scanShift(row pgx.Row) (*Shift, error) {
	var s Shift
	err := row.Scan(
		&s.ID, &s.PharmacyID, &s.CashierID, &s.CashierName, &s.Status, &s.OpeningCash,
		&s.CashSales, &s.CardSales, &s.UPISales, &s.InsuranceSales, &s.WalletSales,
		&s.Refunds, &s.TotalSales, &s.TransactionCount,
		&s.ClosingCash, &s.Variance, &s.VarianceClass, &s.OpenedAt, &s.ClosedAt,
	)
	return &s, err
}

func (r *RepoPG) Insert(ctx context.Context, s *Shift) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO shift (id, pharmacy_id, cashier_id, cashier_name, status,
			opening_cash, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		s.ID, s.PharmacyID, s.CashierID, s.CashierName, s.Status,
		s.OpeningCash, s.OpenedAt,
	)
	if db.IsUniqueViolation(err, "shift_one_open_per_cashier") {
		return ErrDuplicateOpenShift
	}
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Shift, error) {
	q := fmt.Sprintf("SELECT %s FROM shift WHERE pharmacy_id = $1 AND id = $2", shiftCols)
	s, err := scanShift(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrShiftNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RepoPG) GetActive(ctx context.Context, pharmacyID uuid.UUID, cashierID string) (*Shift, error) {
	q := fmt.Sprintf("SELECT %s FROM shift WHERE pharmacy_id = $1 AND cashier_id = $2 AND status = 'open'", shiftCols)
	s, err := scanShift(r.conn(ctx).QueryRow(ctx, q, pharmacyID, cashierID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoActiveShift
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RepoPG) ApplySale(ctx context.Context, pharmacyID, id uuid.UUID, t Tender) (*Shift, error) {
	q := fmt.Sprintf(`
		UPDATE shift SET
			cash_sales = cash_sales + $3,
			card_sales = card_sales + $4,
			upi_sales = upi_sales + $5,
			insurance_sales = insurance_sales + $6,
			wallet_sales = wallet_sales + $7,
			total_sales = total_sales + $3 + $4 + $5 + $6 + $7,
			transaction_count = transaction_count + 1
		WHERE pharmacy_id = $1 AND id = $2 AND status = 'open'
		RETURNING %s`, shiftCols)
	s, err := scanShift(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id, t.Cash, t.Card, t.UPI, t.Insurance, t.Wallet))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.classifyMissing(ctx, pharmacyID, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *RepoPG) ApplyRefund(ctx context.Context, pharmacyID, id uuid.UUID, cash float64) (*Shift, error) {
	q := fmt.Sprintf(`
		UPDATE shift SET refunds = refunds + $3
		WHERE pharmacy_id = $1 AND id = $2 AND status = 'open'
		RETURNING %s`, shiftCols)
	s, err := scanShift(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id, cash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.classifyMissing(ctx, pharmacyID, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Close derives the variance from the row's own totals inside the UPDATE,
// so sales folded in after the caller's last read still count.
func (r *RepoPG) Close(ctx context.Context, pharmacyID, id uuid.UUID, closingCash float64, closedAt time.Time) (*Shift, error) {
	q := fmt.Sprintf(`
		UPDATE shift SET
			status = 'closed',
			closing_cash = $3,
			variance = $3 - (opening_cash + cash_sales - refunds),
			variance_class = CASE
				WHEN abs($3 - (opening_cash + cash_sales - refunds)) >= %g THEN 'critical'
				WHEN abs($3 - (opening_cash + cash_sales - refunds)) >= %g THEN 'warning'
				ELSE 'normal'
			END,
			closed_at = $4
		WHERE pharmacy_id = $1 AND id = $2 AND status = 'open'
		RETURNING %s`, varianceCriticalAt, varianceWarningAt, shiftCols)
	s, err := scanShift(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id, closingCash, closedAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.classifyMissing(ctx, pharmacyID, id)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// classifyMissing separates "no such shift" from "shift already closed"
// after a guarded update matched nothing.
func (r *RepoPG) classifyMissing(ctx context.Context, pharmacyID, id uuid.UUID) error {
	s, err := r.GetByID(ctx, pharmacyID, id)
	if err != nil {
		return err
	}
	if s.Status == StatusClosed {
		return ErrShiftClosed
	}
	return db.ErrConflict
}

func (r *RepoPG) List(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Shift, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM shift WHERE pharmacy_id = $1", pharmacyID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM shift WHERE pharmacy_id = $1 ORDER BY opened_at DESC LIMIT $2 OFFSET $3", shiftCols)
	rows, err := r.conn(ctx).Query(ctx, q, pharmacyID, p.Limit, p.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var shifts []*Shift
	for rows.Next() {
		s, err := scanShift(rows)
		if err != nil {
			return nil, 0, err
		}
		shifts = append(shifts, s)
	}
	return shifts, total, rows.Err()
}
