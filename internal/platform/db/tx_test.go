package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestRetryableClassification(t *testing.T) {
	require.False(t, Retryable(nil))
	require.False(t, Retryable(errors.New("boom")))
	require.True(t, Retryable(&pgconn.PgError{Code: "40001"}))
	require.True(t, Retryable(&pgconn.PgError{Code: "40P01"}))
	require.False(t, Retryable(&pgconn.PgError{Code: "23505"}))
}

func TestWithRetryRecoversFromMarkedConflict(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts == 1 {
			return MarkRetryable(&pgconn.PgError{Code: "23505"})
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
}

func TestWithRetryDoesNotRetryPlainErrors(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	err := withRetry(context.Background(), func() error {
		attempts++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return &pgconn.PgError{Code: "40001"}
	})
	require.Error(t, err)
	require.Equal(t, maxTxAttempts, attempts)

	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr))
	require.Equal(t, "40001", pgErr.Code)
}

func TestMarkRetryable(t *testing.T) {
	require.NoError(t, MarkRetryable(nil))

	base := &pgconn.PgError{Code: "23505", ConstraintName: "sales_tenant_id_sale_number_key"}
	marked := MarkRetryable(base)
	require.True(t, Retryable(marked))

	var pgErr *pgconn.PgError
	require.True(t, errors.As(marked, &pgErr))
	require.Equal(t, "23505", pgErr.Code)
}
