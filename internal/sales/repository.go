package sales

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// TxRepository exposes the writes one sale unit needs. Stock returns a ledger
// tx store bound to the same transaction, so the sale and its debits commit
// together.
type TxRepository interface {
	MaxSaleNumber(ctx context.Context, tenantID int64, prefix string) (string, error)
	InsertSale(ctx context.Context, sale Sale) (Sale, error)
	InsertLines(ctx context.Context, saleID int64, lines []Line) ([]Line, error)
	GetSaleForUpdate(ctx context.Context, tenantID, saleID int64) (Sale, error)
	UpdateSaleCancelled(ctx context.Context, sale Sale) error
	Stock() stock.TxStore
}

// Repository abstracts sale persistence for the service.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetSale(ctx context.Context, tenantID, saleID int64) (Sale, error)
	GetSaleByNumber(ctx context.Context, tenantID int64, number string) (Sale, error)
	ListSales(ctx context.Context, tenantID int64, filter SaleFilter) ([]Sale, int, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed sales repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTxRetry(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, stock: stock.NewTxStore(tx)})
	})
}

const saleColumns = `id, tenant_id, branch_id, sale_number, status, subtotal, discount_amount, tax_amount, total, customer_id, notes, created_by, cancelled_by, cancelled_at, cancel_reason, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	err := row.Scan(&s.ID, &s.TenantID, &s.BranchID, &s.SaleNumber, &s.Status,
		&s.Subtotal, &s.DiscountAmount, &s.TaxAmount, &s.Total, &s.CustomerID, &s.Notes,
		&s.CreatedBy, &s.CancelledBy, &s.CancelledAt, &s.CancelReason,
		&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, fmt.Errorf("%w: sale", shared.ErrNotFound)
		}
		return Sale{}, err
	}
	return s, nil
}

func (r *repository) GetSale(ctx context.Context, tenantID, saleID int64) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 AND tenant_id = $2`, saleID, tenantID)
	sale, err := scanSale(row)
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = r.loadLines(ctx, sale.ID)
	return sale, err
}

func (r *repository) GetSaleByNumber(ctx context.Context, tenantID int64, number string) (Sale, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE tenant_id = $1 AND sale_number = $2`, tenantID, number)
	sale, err := scanSale(row)
	if err != nil {
		return Sale{}, err
	}
	sale.Lines, err = r.loadLines(ctx, sale.ID)
	return sale, err
}

const lineColumns = `id, sale_id, product_id, quantity, unit_price, discount, subtotal, tax_rate, tax_amount, total, product_snapshot`

func scanLine(row pgx.Row) (Line, error) {
	var l Line
	var snapshot []byte
	err := row.Scan(&l.ID, &l.SaleID, &l.ProductID, &l.Quantity, &l.UnitPrice,
		&l.Discount, &l.Subtotal, &l.TaxRate, &l.TaxAmount, &l.Total, &snapshot)
	if err != nil {
		return Line{}, err
	}
	if err := json.Unmarshal(snapshot, &l.Snapshot); err != nil {
		return Line{}, fmt.Errorf("decode product snapshot: %w", err)
	}
	return l, nil
}

func (r *repository) loadLines(ctx context.Context, saleID int64) ([]Line, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+lineColumns+` FROM sale_lines WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []Line
	for rows.Next() {
		l, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) ListSales(ctx context.Context, tenantID int64, filter SaleFilter) ([]Sale, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.BranchID != nil {
		argCount++
		where += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.BranchID)
	}
	if filter.Status != nil {
		argCount++
		where += ` AND status = $` + strconv.Itoa(argCount)
		args = append(args, string(*filter.Status))
	}
	if filter.From != nil {
		argCount++
		where += ` AND created_at >= $` + strconv.Itoa(argCount)
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		argCount++
		where += ` AND created_at <= $` + strconv.Itoa(argCount)
		args = append(args, *filter.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
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
	query := `SELECT ` + saleColumns + ` FROM sales` + where + ` ORDER BY created_at DESC, id DESC`
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

	var sales []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, s)
	}
	return sales, total, rows.Err()
}

type txRepository struct {
	tx    pgx.Tx
	stock stock.TxStore
}

func (t *txRepository) Stock() stock.TxStore {
	return t.stock
}

// MaxSaleNumber returns the greatest sale number with the given day prefix,
// or empty when the tenant has no sales that day. Called inside the creating
// transaction so the derived sequence is race-checked by the unique index.
func (t *txRepository) MaxSaleNumber(ctx context.Context, tenantID int64, prefix string) (string, error) {
	var number *string
	err := t.tx.QueryRow(ctx, `
		SELECT MAX(sale_number) FROM sales
		WHERE tenant_id = $1 AND sale_number LIKE $2`,
		tenantID, prefix+"%").Scan(&number)
	if err != nil {
		return "", err
	}
	if number == nil {
		return "", nil
	}
	return *number, nil
}

func (t *txRepository) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	now := time.Now().UTC()
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales (tenant_id, branch_id, sale_number, status, subtotal, discount_amount, tax_amount, total, customer_id, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		RETURNING id`,
		sale.TenantID, sale.BranchID, sale.SaleNumber, string(sale.Status),
		sale.Subtotal, sale.DiscountAmount, sale.TaxAmount, sale.Total,
		sale.CustomerID, sale.Notes, sale.CreatedBy, now,
	).Scan(&sale.ID)
	if err != nil {
		// A concurrent sale can win the same daily sequence. Retrying the
		// transaction re-derives the next number past the winner.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Sale{}, db.MarkRetryable(fmt.Errorf("sale number taken: %w", err))
		}
		return Sale{}, err
	}
	sale.CreatedAt = now
	sale.UpdatedAt = now
	return sale, nil
}

func (t *txRepository) InsertLines(ctx context.Context, saleID int64, lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		snapshot, err := json.Marshal(line.Snapshot)
		if err != nil {
			return nil, fmt.Errorf("encode product snapshot: %w", err)
		}
		line.SaleID = saleID
		err = t.tx.QueryRow(ctx, `
			INSERT INTO sale_lines (sale_id, product_id, quantity, unit_price, discount, subtotal, tax_rate, tax_amount, total, product_snapshot)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id`,
			line.SaleID, line.ProductID, line.Quantity, line.UnitPrice, line.Discount,
			line.Subtotal, line.TaxRate, line.TaxAmount, line.Total, snapshot,
		).Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (t *txRepository) GetSaleForUpdate(ctx context.Context, tenantID, saleID int64) (Sale, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, saleID, tenantID)
	return scanSale(row)
}

func (t *txRepository) UpdateSaleCancelled(ctx context.Context, sale Sale) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales
		SET status = $1, cancelled_by = $2, cancelled_at = $3, cancel_reason = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7`,
		string(sale.Status), sale.CancelledBy, sale.CancelledAt, sale.CancelReason,
		time.Now().UTC(), sale.ID, sale.TenantID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	return nil
}
