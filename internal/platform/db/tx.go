package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	maxTxAttempts  = 3
	initialBackoff = 25 * time.Millisecond
)

var errRetryable = errors.New("retryable write conflict")

// MarkRetryable tags an error so WithTxRetry re-runs the unit instead of
// surfacing it. Used for unique-constraint backstops that a fresh read
// resolves, such as sale-number allocation races.
func MarkRetryable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", errRetryable, err)
}

// Retryable reports whether the transaction should be retried: serialization
// failures, deadlocks, or errors explicitly marked retryable.
func Retryable(err error) bool {
	if errors.Is(err, errRetryable) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// WithTx executes a function within a transaction using the RepeatableRead
// isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	return nil
}

// WithTxRetry runs fn through WithTx with a bounded-retry policy on write
// conflicts. Contention is resolved here, at the transaction boundary, so
// domain code stays free of retry mechanics. The unit either commits whole
// or leaves no effect behind.
func WithTxRetry(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	return withRetry(ctx, func() error {
		return WithTx(ctx, pool, fn)
	})
}

func withRetry(ctx context.Context, fn func() error) error {
	backoff := initialBackoff
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = fn()
		if err == nil || !Retryable(err) {
			return err
		}
		if attempt == maxTxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("platform/db: retries exhausted: %w", err)
}
