package stock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxpos/rxpos/internal/platform/clock"
	"github.com/rxpos/rxpos/internal/platform/db"
	"github.com/rxpos/rxpos/pkg/pagination"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// RepoPG stores batches in the medicine_batch table. Quantity changes go
// through single conditional UPDATEs so concurrent deductions serialize at
// the row and can never drive quantity negative.
type RepoPG struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

func NewRepoPG(pool *pgxpool.Pool, clk clock.Clock) *RepoPG {
	return &RepoPG{pool: pool, clock: clk}
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

const batchCols = `id, pharmacy_id, medicine_id, batch_number, quantity, reorder_level,
	purchase_price, mrp, discount_pct, selling_price, manufacture_date, expiry_date,
	status, recalled, recall_reason, quarantined, deleted, created_at, updated_at`

func scanBatch(row pgx.Row) (*Batch, error) {
	var b Batch
	err := row.Scan(
		&b.ID, &b.PharmacyID, &b.MedicineID, &b.BatchNumber, &b.Quantity, &b.ReorderLevel,
		&b.PurchasePrice, &b.MRP, &b.DiscountPct, &b.SellingPrice, &b.ManufactureDate, &b.ExpiryDate,
		&b.Status, &b.Recalled, &b.RecallReason, &b.Quarantined, &b.Deleted, &b.CreatedAt, &b.UpdatedAt,
	)
	return &b, err
}

func (r *RepoPG) Insert(ctx context.Context, b *Batch) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO medicine_batch (id, pharmacy_id, medicine_id, batch_number, quantity,
			reorder_level, purchase_price, mrp, discount_pct, selling_price,
			manufacture_date, expiry_date, status, recalled, recall_reason,
			quarantined, deleted, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		b.ID, b.PharmacyID, b.MedicineID, b.BatchNumber, b.Quantity,
		b.ReorderLevel, b.PurchasePrice, b.MRP, b.DiscountPct, b.SellingPrice,
		b.ManufactureDate, b.ExpiryDate, b.Status, b.Recalled, b.RecallReason,
		b.Quarantined, b.Deleted, b.CreatedAt, b.UpdatedAt,
	)
	if db.IsUniqueViolation(err, "medicine_batch_pharmacy_medicine_number_key") {
		return ErrDuplicateBatch
	}
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Batch, error) {
	q := fmt.Sprintf("SELECT %s FROM medicine_batch WHERE pharmacy_id = $1 AND id = $2 AND NOT deleted", batchCols)
	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *RepoPG) Update(ctx context.Context, b *Batch) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medicine_batch SET
			quantity = $3, reorder_level = $4, purchase_price = $5, mrp = $6,
			discount_pct = $7, selling_price = $8, manufacture_date = $9,
			expiry_date = $10, status = $11, recalled = $12, recall_reason = $13,
			quarantined = $14, deleted = $15, updated_at = $16
		WHERE pharmacy_id = $1 AND id = $2`,
		b.PharmacyID, b.ID,
		b.Quantity, b.ReorderLevel, b.PurchasePrice, b.MRP,
		b.DiscountPct, b.SellingPrice, b.ManufactureDate,
		b.ExpiryDate, b.Status, b.Recalled, b.RecallReason,
		b.Quarantined, b.Deleted, b.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

// statusCase recomputes the stored status column in SQL after a quantity
// change, mirroring ComputeStatus.
const statusCase = `CASE
	WHEN recalled THEN 'recalled'
	WHEN quarantined THEN 'quarantined'
	WHEN expiry_date IS NOT NULL AND expiry_date <= $4 THEN 'expired'
	WHEN quantity %[1]s $3 <= 0 THEN 'sold_out'
	WHEN quantity %[1]s $3 <= reorder_level THEN 'low_stock'
	ELSE 'available'
END`

func (r *RepoPG) DeductQuantity(ctx context.Context, pharmacyID, id uuid.UUID, qty int) (*Batch, error) {
	now := r.clock.Now()
	q := fmt.Sprintf(`
		UPDATE medicine_batch SET
			quantity = quantity - $3,
			status = %s,
			updated_at = $4
		WHERE pharmacy_id = $1 AND id = $2 AND NOT deleted
			AND quantity >= $3
			AND NOT recalled AND NOT quarantined
			AND (expiry_date IS NULL OR expiry_date > $4)
		RETURNING %s`, fmt.Sprintf(statusCase, "-"), batchCols)

	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id, qty, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, r.classifyDeductFailure(ctx, pharmacyID, id, qty, now)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// classifyDeductFailure distinguishes why the guarded update matched no row.
func (r *RepoPG) classifyDeductFailure(ctx context.Context, pharmacyID, id uuid.UUID, qty int, now time.Time) error {
	b, err := r.GetByID(ctx, pharmacyID, id)
	if err != nil {
		return err
	}
	if b.Recalled || b.Quarantined {
		return ErrBatchNotSellable
	}
	if b.ExpiryDate != nil && !b.ExpiryDate.After(now) {
		return ErrBatchNotSellable
	}
	if b.Quantity < qty {
		return ErrInsufficientStock
	}
	// Row changed between the update and this read; treat as a conflict so
	// the caller retries.
	return db.ErrConflict
}

func (r *RepoPG) AddQuantity(ctx context.Context, pharmacyID, id uuid.UUID, qty int) (*Batch, error) {
	now := r.clock.Now()
	q := fmt.Sprintf(`
		UPDATE medicine_batch SET
			quantity = quantity + $3,
			status = %s,
			updated_at = $4
		WHERE pharmacy_id = $1 AND id = $2 AND NOT deleted
		RETURNING %s`, fmt.Sprintf(statusCase, "+"), batchCols)

	b, err := scanBatch(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id, qty, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *RepoPG) List(ctx context.Context, pharmacyID uuid.UUID, f ListFilter, p pagination.Params) ([]*Batch, int, error) {
	where := []string{"pharmacy_id = $1", "NOT deleted"}
	args := []interface{}{pharmacyID}

	if f.MedicineID != nil {
		args = append(args, *f.MedicineID)
		where = append(where, fmt.Sprintf("medicine_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		where = append(where, fmt.Sprintf("batch_number ILIKE $%d", len(args)))
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM medicine_batch WHERE %s", cond), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset)
	q := fmt.Sprintf("SELECT %s FROM medicine_batch WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		batchCols, cond, len(args)-1, len(args))
	return r.queryBatches(ctx, q, args, total)
}

func (r *RepoPG) LowStock(ctx context.Context, pharmacyID uuid.UUID, p pagination.Params) ([]*Batch, int, error) {
	cond := `pharmacy_id = $1 AND NOT deleted AND NOT recalled AND NOT quarantined
		AND quantity > 0 AND quantity <= reorder_level`

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM medicine_batch WHERE %s", cond), pharmacyID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM medicine_batch WHERE %s ORDER BY quantity ASC LIMIT $2 OFFSET $3", batchCols, cond)
	return r.queryBatches(ctx, q, []interface{}{pharmacyID, p.Limit, p.Offset}, total)
}

func (r *RepoPG) ExpiringSoon(ctx context.Context, pharmacyID uuid.UUID, withinDays int, p pagination.Params) ([]*Batch, int, error) {
	now := r.clock.Now()
	horizon := now.AddDate(0, 0, withinDays)
	cond := `pharmacy_id = $1 AND NOT deleted AND quantity > 0
		AND expiry_date IS NOT NULL AND expiry_date > $2 AND expiry_date <= $3`

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM medicine_batch WHERE %s", cond),
		pharmacyID, now, horizon).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM medicine_batch WHERE %s ORDER BY expiry_date ASC LIMIT $4 OFFSET $5", batchCols, cond)
	return r.queryBatches(ctx, q, []interface{}{pharmacyID, now, horizon, p.Limit, p.Offset}, total)
}

func (r *RepoPG) queryBatches(ctx context.Context, q string, args []interface{}, total int) ([]*Batch, int, error) {
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var batches []*Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, 0, err
		}
		batches = append(batches, b)
	}
	return batches, total, rows.Err()
}
