package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/sales"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// SaleInfo is the sale projection settlement needs.
type SaleInfo struct {
	ID         int64
	SaleNumber string
	Status     sales.SaleStatus
	Total      float64
}

// TxRepository exposes the writes one settlement unit needs. The sale row is
// locked for the duration so concurrent payments serialize.
type TxRepository interface {
	GetSaleForUpdate(ctx context.Context, tenantID, saleID int64) (SaleInfo, error)
	SumCompletedPayments(ctx context.Context, tenantID, saleID int64) (float64, error)
	InsertPayment(ctx context.Context, payment Payment) (Payment, error)
	GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error)
	UpdatePaymentRefunded(ctx context.Context, payment Payment) error
	UpdateSaleStatus(ctx context.Context, tenantID, saleID int64, status sales.SaleStatus) error
	ListBySale(ctx context.Context, tenantID, saleID int64) ([]Payment, error)
}

// Repository abstracts payment persistence for the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error)
	ListPayments(ctx context.Context, tenantID int64, filter PaymentFilter) ([]Payment, int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed payments repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const paymentColumns = `id, tenant_id, sale_id, amount, method, status, reference, metadata, received_by, refunded_by, refunded_at, created_at`

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var metadata []byte
	err := row.Scan(&p.ID, &p.TenantID, &p.SaleID, &p.Amount, &p.Method, &p.Status,
		&p.Reference, &metadata, &p.ReceivedBy, &p.RefundedBy, &p.RefundedAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Payment{}, fmt.Errorf("%w: payment", shared.ErrNotFound)
		}
		return Payment{}, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return Payment{}, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return p, nil
}

func (r *repository) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND tenant_id = $2`, paymentID, tenantID)
	return scanPayment(row)
}

func (r *repository) ListPayments(ctx context.Context, tenantID int64, filter PaymentFilter) ([]Payment, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.SaleID != nil {
		argCount++
		where += ` AND sale_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.SaleID)
	}
	if filter.Method != nil {
		argCount++
		where += ` AND method = $` + strconv.Itoa(argCount)
		args = append(args, *filter.Method)
	}
	if filter.Status != nil {
		argCount++
		where += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := `SELECT ` + paymentColumns + ` FROM payments` + where + ` ORDER BY created_at DESC, id DESC`
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, (page-1)*limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, p)
	}
	return payments, total, rows.Err()
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) GetSaleForUpdate(ctx context.Context, tenantID, saleID int64) (SaleInfo, error) {
	var info SaleInfo
	err := t.tx.QueryRow(ctx, `
		SELECT id, sale_number, status, total FROM sales
		WHERE id = $1 AND tenant_id = $2
		FOR UPDATE`,
		saleID, tenantID).Scan(&info.ID, &info.SaleNumber, &info.Status, &info.Total)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SaleInfo{}, fmt.Errorf("%w: sale", shared.ErrNotFound)
		}
		return SaleInfo{}, err
	}
	return info, nil
}

func (t *txRepository) SumCompletedPayments(ctx context.Context, tenantID, saleID int64) (float64, error) {
	var sum float64
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM payments
		WHERE tenant_id = $1 AND sale_id = $2 AND status = $3`,
		tenantID, saleID, string(StatusCompleted)).Scan(&sum)
	return sum, err
}

func (t *txRepository) InsertPayment(ctx context.Context, payment Payment) (Payment, error) {
	var metadata []byte
	if payment.Metadata != nil {
		var err error
		metadata, err = json.Marshal(payment.Metadata)
		if err != nil {
			return Payment{}, fmt.Errorf("encode payment metadata: %w", err)
		}
	}
	now := time.Now().UTC()
	err := t.tx.QueryRow(ctx, `
		INSERT INTO payments (tenant_id, sale_id, amount, method, status, reference, metadata, received_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		payment.TenantID, payment.SaleID, payment.Amount, payment.Method,
		string(payment.Status), payment.Reference, metadata, payment.ReceivedBy, now,
	).Scan(&payment.ID)
	if err != nil {
		return Payment{}, err
	}
	payment.CreatedAt = now
	return payment, nil
}

func (t *txRepository) GetPaymentForUpdate(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, paymentID, tenantID)
	return scanPayment(row)
}

func (t *txRepository) UpdatePaymentRefunded(ctx context.Context, payment Payment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payments SET status = $1, refunded_by = $2, refunded_at = $3
		WHERE id = $4 AND tenant_id = $5`,
		string(payment.Status), payment.RefundedBy, payment.RefundedAt, payment.ID, payment.TenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: payment", shared.ErrNotFound)
	}
	return nil
}

func (t *txRepository) ListBySale(ctx context.Context, tenantID, saleID int64) ([]Payment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE tenant_id = $1 AND sale_id = $2
		ORDER BY created_at, id`,
		tenantID, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *txRepository) UpdateSaleStatus(ctx context.Context, tenantID, saleID int64, status sales.SaleStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales SET status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4`,
		string(status), time.Now().UTC(), saleID, tenantID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	return nil
}
