package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestTxFromContext_Nil(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestTxFromContext_WithWrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), DBTxKey, "not-a-tx")
	if tx := TxFromContext(ctx); tx != nil {
		t.Errorf("expected nil tx for wrong type, got %v", tx)
	}
}

func TestTxBeginnerPrefersTenantConn(t *testing.T) {
	pool := &pgxpool.Pool{}
	conn := &pgxpool.Conn{}

	ctx := context.WithValue(context.Background(), DBConnKey, conn)
	if got := txBeginner(ctx, pool); got != beginner(conn) {
		t.Errorf("with a pinned conn: beginner = %T, want the tenant conn", got)
	}
	if got := txBeginner(context.Background(), pool); got != beginner(pool) {
		t.Errorf("without a pinned conn: beginner = %T, want the pool", got)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	err := &pgconn.PgError{Code: "23505", ConstraintName: "shift_one_open_per_cashier"}
	if !IsUniqueViolation(err, "") {
		t.Error("expected unique violation match for any constraint")
	}
	if !IsUniqueViolation(err, "shift_one_open_per_cashier") {
		t.Error("expected unique violation match for named constraint")
	}
	if IsUniqueViolation(err, "other_constraint") {
		t.Error("did not expect match for a different constraint")
	}
}

func TestIsUniqueViolation_OtherErrors(t *testing.T) {
	if IsUniqueViolation(errors.New("boom"), "") {
		t.Error("plain error must not match")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "40001"}, "") {
		t.Error("serialization failure must not match")
	}
	if IsUniqueViolation(nil, "") {
		t.Error("nil must not match")
	}
}
