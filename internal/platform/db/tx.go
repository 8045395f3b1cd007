package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict is returned when an atomic operation lost a concurrency race
// more times than the internal retry budget allows. Callers may retry the
// whole request.
var ErrConflict = errors.New("concurrent update conflict")

// MaxConflictRetries bounds internal retries of operations that can lose
// unique-constraint races (audit chain appends in particular).
const MaxConflictRetries = 3

// DBTxKey carries an open pgx.Tx through a request context so that
// repositories participate in the caller's unit of work.
const DBTxKey contextKey = "db_tx"

// TxFromContext returns the transaction bound to ctx, or nil when the caller
// did not open one.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ContextWithTx binds an open transaction to the context.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// Runner executes a function inside a single unit of work. Business services
// depend on this interface so tests can substitute a passthrough.
type Runner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PoolRunner runs units of work as pgx transactions on a pool. If ctx already
// carries a transaction the function joins it instead of nesting.
type PoolRunner struct {
	pool *pgxpool.Pool
}

func NewPoolRunner(pool *pgxpool.Pool) *PoolRunner {
	return &PoolRunner{pool: pool}
}

// beginner opens transactions. Both *pgxpool.Pool and *pgxpool.Conn satisfy
// it.
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// txBeginner picks where a new transaction starts. The tenant middleware
// pins a connection whose search_path points at the tenant schema; a
// transaction opened on the bare pool would run with the default
// search_path and miss the tenant's tables, so the pinned connection wins.
func txBeginner(ctx context.Context, pool *pgxpool.Pool) beginner {
	if conn := ConnFromContext(ctx); conn != nil {
		return conn
	}
	return pool
}

func (r *PoolRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}

	tx, err := txBeginner(ctx, r.pool).Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// IsUniqueViolation reports whether err is a PostgreSQL unique-constraint
// violation (SQLSTATE 23505), optionally on a specific constraint name.
func IsUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
