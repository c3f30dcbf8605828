package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type txCtxKey struct{}

// Querier is satisfied by both the pool and an open transaction, so
// repositories run the same SQL inside or outside a unit of work.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// TxManager runs payment state changes and their outbox rows atomically.
// The open transaction travels in the context handed to fn.
type TxManager struct {
	pool    *pgxpool.Pool
	options pgx.TxOptions
}

type TxManagerOption func(*TxManager)

// WithIsolation sets the isolation level of transactions the manager opens.
func WithIsolation(level pgx.TxIsoLevel) TxManagerOption {
	return func(m *TxManager) { m.options.IsoLevel = level }
}

func NewTxManager(pool *pgxpool.Pool, opts ...TxManagerOption) *TxManager {
	m := &TxManager{pool: pool, options: pgx.TxOptions{IsoLevel: pgx.ReadCommitted}}
	for _, o := range opts {
		o(m)
	}
	return m
}

// WithTransaction commits when fn returns nil and rolls back otherwise. A call
// made while a transaction is already open joins it, so a status sync nested
// in a confirmation commits or fails as one unit.
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txCtxKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.BeginTx(ctx, m.options)
	if err != nil {
		return fmt.Errorf("begin payment tx: %w", err)
	}

	if err := fn(context.WithValue(ctx, txCtxKey{}, tx)); err != nil {
		// The caller's context may already be cancelled; the rollback must still run.
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return errors.Join(err, fmt.Errorf("rollback payment tx: %w", rbErr))
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment tx: %w", err)
	}
	return nil
}

// querier returns the transaction carried by ctx, or the pool when there is none.
func querier(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := ctx.Value(txCtxKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}
