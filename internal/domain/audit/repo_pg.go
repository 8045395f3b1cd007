package audit

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

// RepoPG stores audit entries in the audit_entry table. The table revokes
// UPDATE and DELETE and carries a guard trigger, so the append-only
// property holds even against out-of-band SQL.
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

const entryCols = `id, pharmacy_id, seq, actor_id, actor_name, action,
	entity_kind, entity_id, diff, recorded, prev_hash, hash`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID, &e.PharmacyID, &e.Seq, &e.ActorID, &e.ActorName, &e.Action,
		&e.EntityKind, &e.EntityID, &e.Diff, &e.Recorded, &e.PrevHash, &e.Hash,
	)
	return &e, err
}

// LockChain takes a transaction-scoped advisory lock keyed by pharmacy, so
// concurrent appends to one chain queue up while other chains proceed. The
// lock is released when the surrounding transaction ends.
func (r *RepoPG) LockChain(ctx context.Context, pharmacyID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx,
		"SELECT pg_advisory_xact_lock(hashtextextended('audit_chain_' || $1::text, 0))",
		pharmacyID)
	return err
}

func (r *RepoPG) Tail(ctx context.Context, pharmacyID uuid.UUID) (*Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_entry WHERE pharmacy_id = $1 ORDER BY seq DESC LIMIT 1", entryCols)
	e, err := scanEntry(r.conn(ctx).QueryRow(ctx, q, pharmacyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *RepoPG) Insert(ctx context.Context, e *Entry) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO audit_entry (id, pharmacy_id, seq, actor_id, actor_name, action,
			entity_kind, entity_id, diff, recorded, prev_hash, hash)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		e.ID, e.PharmacyID, e.Seq, e.ActorID, e.ActorName, e.Action,
		e.EntityKind, e.EntityID, e.Diff, e.Recorded, e.PrevHash, e.Hash,
	)
	if db.IsUniqueViolation(err, "audit_entry_pharmacy_seq_key") {
		// Lost the tail race despite the chain lock; the caller retries the
		// whole unit of work.
		return db.ErrConflict
	}
	return err
}

func (r *RepoPG) Chain(ctx context.Context, pharmacyID uuid.UUID) ([]*Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM audit_entry WHERE pharmacy_id = $1 ORDER BY seq ASC", entryCols)
	rows, err := r.conn(ctx).Query(ctx, q, pharmacyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *RepoPG) List(ctx context.Context, pharmacyID uuid.UUID, limit, offset int) ([]*Entry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		"SELECT COUNT(*) FROM audit_entry WHERE pharmacy_id = $1", pharmacyID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM audit_entry WHERE pharmacy_id = $1 ORDER BY seq DESC LIMIT $2 OFFSET $3", entryCols)
	rows, err := r.conn(ctx).Query(ctx, q, pharmacyID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}
