package fulfillment

import (
	"context"
	"errors"
	"fmt"

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

// RepoPG stores fulfillments in fulfillment and fulfillment_item. The
// unique index on prescription_id enforces one fulfillment per
// prescription.
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

const fulfillmentCols = `id, pharmacy_id, prescription_id, status, percentage,
	validated_by, validated_at, cancel_reason, created_at, updated_at, completed_at`

func scanFulfillment(row pgx.Row) (*Fulfillment, error) {
	var f Fulfillment
	err := row.Scan(
		&f.ID, &f.PharmacyID, &f.PrescriptionID, &f.Status, &f.Percentage,
		&f.ValidatedBy, &f.ValidatedAt, &f.CancelReason, &f.CreatedAt, &f.UpdatedAt, &f.CompletedAt,
	)
	return &f, err
}

func (r *RepoPG) Insert(ctx context.Context, f *Fulfillment) error {
	c := r.conn(ctx)
	_, err := c.Exec(ctx, `
		INSERT INTO fulfillment (id, pharmacy_id, prescription_id, status,
			percentage, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		f.ID, f.PharmacyID, f.PrescriptionID, f.Status,
		f.Percentage, f.CreatedAt, f.UpdatedAt,
	)
	if db.IsUniqueViolation(err, "fulfillment_prescription_id_key") {
		return ErrDuplicateFulfillment
	}
	if err != nil {
		return err
	}
	for _, it := range f.Items {
		_, err := c.Exec(ctx, `
			INSERT INTO fulfillment_item (id, fulfillment_id, prescription_item_id,
				medicine_id, medicine_name, quantity_prescribed, quantity_dispensed,
				dispensed)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			it.ID, it.FulfillmentID, it.PrescriptionItemID,
			it.MedicineID, it.MedicineName, it.QuantityPrescribed, it.QuantityDispensed,
			it.Dispensed,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Fulfillment, error) {
	q := fmt.Sprintf("SELECT %s FROM fulfillment WHERE pharmacy_id = $1 AND id = $2", fulfillmentCols)
	f, err := scanFulfillment(r.conn(ctx).QueryRow(ctx, q, pharmacyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFulfillmentNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *RepoPG) loadItems(ctx context.Context, f *Fulfillment) error {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, fulfillment_id, prescription_item_id, medicine_id, medicine_name,
			quantity_prescribed, quantity_dispensed, dispensed, batch_id,
			substitute_medicine_id, substitute_medicine_name, substitution_note,
			substituted_by, substituted_at
		FROM fulfillment_item WHERE fulfillment_id = $1 ORDER BY id`, f.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		if err := rows.Scan(
			&it.ID, &it.FulfillmentID, &it.PrescriptionItemID, &it.MedicineID, &it.MedicineName,
			&it.QuantityPrescribed, &it.QuantityDispensed, &it.Dispensed, &it.BatchID,
			&it.SubstituteMedicineID, &it.SubstituteMedicineName, &it.SubstitutionNote,
			&it.SubstitutedBy, &it.SubstitutedAt,
		); err != nil {
			return err
		}
		f.Items = append(f.Items, &it)
	}
	return rows.Err()
}

func (r *RepoPG) Update(ctx context.Context, f *Fulfillment) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE fulfillment SET status = $3, percentage = $4, validated_by = $5,
			validated_at = $6, cancel_reason = $7, updated_at = $8, completed_at = $9
		WHERE pharmacy_id = $1 AND id = $2`,
		f.PharmacyID, f.ID, f.Status, f.Percentage, f.ValidatedBy,
		f.ValidatedAt, f.CancelReason, f.UpdatedAt, f.CompletedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFulfillmentNotFound
	}
	return nil
}

func (r *RepoPG) UpdateItem(ctx context.Context, it *Item) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE fulfillment_item SET quantity_dispensed = $2, dispensed = $3,
			batch_id = $4, substitute_medicine_id = $5, substitute_medicine_name = $6,
			substitution_note = $7, substituted_by = $8, substituted_at = $9
		WHERE id = $1`,
		it.ID, it.QuantityDispensed, it.Dispensed,
		it.BatchID, it.SubstituteMedicineID, it.SubstituteMedicineName,
		it.SubstitutionNote, it.SubstitutedBy, it.SubstitutedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *RepoPG) List(ctx context.Context, pharmacyID uuid.UUID, status Status, p pagination.Params) ([]*Fulfillment, int, error) {
	cond := "pharmacy_id = $1"
	args := []interface{}{pharmacyID}
	if status != "" {
		args = append(args, status)
		cond += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM fulfillment WHERE %s", cond), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, p.Limit, p.Offset)
	q := fmt.Sprintf("SELECT %s FROM fulfillment WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		fulfillmentCols, cond, len(args)-1, len(args))
	rows, err := r.conn(ctx).Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Fulfillment
	for rows.Next() {
		f, err := scanFulfillment(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, f := range out {
		if err := r.loadItems(ctx, f); err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}

// PrescriptionRepoPG reads prescriptions recorded by the intake flow.
type PrescriptionRepoPG struct {
	pool *pgxpool.Pool
}

func NewPrescriptionRepoPG(pool *pgxpool.Pool) *PrescriptionRepoPG {
	return &PrescriptionRepoPG{pool: pool}
}

func (r *PrescriptionRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *PrescriptionRepoPG) GetByID(ctx context.Context, pharmacyID, id uuid.UUID) (*Prescription, error) {
	var p Prescription
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, pharmacy_id, patient_name, patient_phone, doctor_name, issued_at
		FROM prescription WHERE pharmacy_id = $1 AND id = $2`, pharmacyID, id,
	).Scan(&p.ID, &p.PharmacyID, &p.PatientName, &p.PatientPhone, &p.DoctorName, &p.IssuedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPrescriptionNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, prescription_id, medicine_id, medicine_name, quantity, dosage
		FROM prescription_item WHERE prescription_id = $1 ORDER BY id`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var it PrescriptionItem
		if err := rows.Scan(&it.ID, &it.PrescriptionID, &it.MedicineID, &it.MedicineName, &it.Quantity, &it.Dosage); err != nil {
			return nil, err
		}
		p.Items = append(p.Items, &it)
	}
	return &p, rows.Err()
}
