package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rxpos/rxpos/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type MedicineRepoPG struct {
	pool *pgxpool.Pool
}

func NewMedicineRepoPG(pool *pgxpool.Pool) *MedicineRepoPG {
	return &MedicineRepoPG{pool: pool}
}

func (r *MedicineRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const medicineCols = `id, name, generic_name, category, manufacturer, gst_rate,
	prescription_required, created_at`

func scanMedicine(row pgx.Row) (*Medicine, error) {
	var m Medicine
	err := row.Scan(
		&m.ID, &m.Name, &m.GenericName, &m.Category, &m.Manufacturer, &m.GSTRate,
		&m.PrescriptionRequired, &m.CreatedAt,
	)
	return &m, err
}

func (r *MedicineRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Medicine, error) {
	q := fmt.Sprintf("SELECT %s FROM medicine WHERE id = $1", medicineCols)
	m, err := scanMedicine(r.conn(ctx).QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMedicineNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *MedicineRepoPG) Search(ctx context.Context, query string, limit, offset int) ([]*Medicine, int, error) {
	where := ""
	args := []interface{}{}
	if query != "" {
		where = "WHERE name ILIKE $1 OR generic_name ILIKE $1"
		args = append(args, "%"+query+"%")
	}

	var total int
	countQ := fmt.Sprintf("SELECT COUNT(*) FROM medicine %s", where)
	if err := r.conn(ctx).QueryRow(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM medicine %s ORDER BY name LIMIT $%d OFFSET $%d",
		medicineCols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Medicine
	for rows.Next() {
		m, err := scanMedicine(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, m)
	}
	return items, total, rows.Err()
}
