package composables

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iota-uz/field-registry/pkg/constants"
	"github.com/iota-uz/field-registry/pkg/repo"
)

var (
	ErrNoTx   = errors.New("no transaction found in context")
	ErrNoPool = errors.New("no database pool found in context")
)

func WithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, constants.TxKey, tx)
}

func UseTx(ctx context.Context) (repo.Tx, error) {
	tx := ctx.Value(constants.TxKey)
	if tx == nil {
		return UsePool(ctx)
	}
	return tx.(repo.Tx), nil
}

func WithPool(ctx context.Context, pool *pgxpool.Pool) context.Context {
	return context.WithValue(ctx, constants.PoolKey, pool)
}

func UsePool(ctx context.Context) (*pgxpool.Pool, error) {
	pool, _ := ctx.Value(constants.PoolKey).(*pgxpool.Pool)
	if pool == nil {
		return nil, ErrNoPool
	}
	return pool, nil
}

// InTx runs fn in a transaction. When ctx already carries one, fn runs inside a
// savepoint of it so a failure only discards fn's own writes.
func InTx(ctx context.Context, fn func(context.Context) error) error {
	var (
		tx  pgx.Tx
		err error
	)
	if existing, ok := ctx.Value(constants.TxKey).(pgx.Tx); ok && existing != nil {
		tx, err = existing.Begin(ctx)
	} else {
		var pool *pgxpool.Pool
		pool, err = UsePool(ctx)
		if err != nil {
			return err
		}
		tx, err = pool.Begin(ctx)
	}
	if err != nil {
		return err
	}

	if err := fn(WithTx(ctx, tx)); err != nil {
		if rErr := tx.Rollback(ctx); rErr != nil && !errors.Is(rErr, pgx.ErrTxClosed) {
			return errors.Join(err, rErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// InTxResult is InTx for functions that produce a value.
func InTxResult[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := InTx(ctx, func(txCtx context.Context) error {
		var innerErr error
		out, innerErr = fn(txCtx)
		return innerErr
	})
	return out, err
}

// PgTransactor adapts InTx to the Transactor interfaces services depend on.
type PgTransactor struct{}

func (PgTransactor) InTx(ctx context.Context, fn func(context.Context) error) error {
	return InTx(ctx, fn)
}
