package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TxFunc runs fn inside one unit of work.
type TxFunc func(ctx context.Context, fn func(ctx context.Context) error) error

// InTx returns a TxFunc that opens a transaction on pool, exposes it to fn
// through the context and commits when fn succeeds. A transaction already on
// the context is reused.
func InTx(pool *pgxpool.Pool) TxFunc {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		if TxFromContext(ctx) != nil {
			return fn(ctx)
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck

		if err := fn(WithTx(ctx, tx)); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	}
}
