package stock

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
)

type store struct {
	pool *pgxpool.Pool
}

// NewStore constructs the PostgreSQL-backed ledger store.
func NewStore(pool *pgxpool.Pool) Store {
	return &store{pool: pool}
}

// WithTx runs fn inside a repeatable-read transaction, retrying on
// serialization conflicts and on races marked retryable by the tx store.
func (s *store) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return db.WithTxRetry(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxStore(tx))
	})
}

const recordColumns = `id, tenant_id, product_id, branch_id, quantity, min_stock, max_stock, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.ProductID, &rec.BranchID, &rec.Quantity, &rec.MinStock, &rec.MaxStock, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

func (s *store) GetRecord(ctx context.Context, tenantID, productID, branchID int64) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM stock_records
		WHERE tenant_id = $1 AND product_id = $2 AND branch_id = $3`,
		tenantID, productID, branchID)
	return scanRecord(row)
}

func (s *store) ListRecords(ctx context.Context, tenantID int64, filter RecordFilter) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM stock_records WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.BranchID != nil {
		argCount++
		query += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.BranchID)
	}
	if filter.ProductID != nil {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.ProductID)
	}
	if filter.LowStock {
		query += ` AND min_stock IS NOT NULL AND quantity <= min_stock`
	}
	query += ` ORDER BY product_id, branch_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

const movementColumns = `id, tenant_id, product_id, branch_id, kind, quantity, previous_quantity, new_quantity, reason, reference, sale_id, actor_id, created_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	err := row.Scan(&m.ID, &m.TenantID, &m.ProductID, &m.BranchID, &m.Kind, &m.Quantity, &m.PreviousQuantity, &m.NewQuantity, &m.Reason, &m.Reference, &m.SaleID, &m.ActorID, &m.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

func (s *store) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error) {
	query := `SELECT ` + movementColumns + ` FROM stock_movements WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.BranchID != nil {
		argCount++
		query += ` AND branch_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.BranchID)
	}
	if filter.ProductID != nil {
		argCount++
		query += ` AND product_id = $` + strconv.Itoa(argCount)
		args = append(args, *filter.ProductID)
	}
	if filter.Kind != nil {
		argCount++
		query += ` AND kind = $` + strconv.Itoa(argCount)
		args = append(args, string(*filter.Kind))
	}
	argCount++
	query += ` ORDER BY created_at DESC, id DESC LIMIT $` + strconv.Itoa(argCount)
	args = append(args, filter.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func (s *store) UpdateThresholds(ctx context.Context, tenantID, productID, branchID int64, in ThresholdsInput) (Record, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE stock_records
		SET min_stock = $1, max_stock = $2, updated_at = $3
		WHERE tenant_id = $4 AND product_id = $5 AND branch_id = $6
		RETURNING `+recordColumns,
		in.MinStock, in.MaxStock, time.Now().UTC(), tenantID, productID, branchID)
	return scanRecord(row)
}

type txStore struct {
	tx pgx.Tx
}

// NewTxStore binds ledger writes to a caller-owned transaction. The sales
// repository uses this to debit stock in the same transaction as the sale.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

func (t *txStore) GetRecordForUpdate(ctx context.Context, tenantID, productID, branchID int64) (Record, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+recordColumns+` FROM stock_records
		WHERE tenant_id = $1 AND product_id = $2 AND branch_id = $3
		FOR UPDATE`,
		tenantID, productID, branchID)
	return scanRecord(row)
}

func (t *txStore) InsertRecord(ctx context.Context, record Record) (Record, error) {
	now := time.Now().UTC()
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_records (tenant_id, product_id, branch_id, quantity, min_stock, max_stock, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id`,
		record.TenantID, record.ProductID, record.BranchID, record.Quantity, record.MinStock, record.MaxStock, now,
	).Scan(&record.ID)
	if err != nil {
		// Two transactions can race to create the same (product, branch) key.
		// The loser retries and finds the winner's row via FOR UPDATE.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, db.MarkRetryable(fmt.Errorf("stock record exists: %w", err))
		}
		return Record{}, err
	}
	record.CreatedAt = now
	record.UpdatedAt = now
	return record, nil
}

func (t *txStore) UpdateRecordQuantity(ctx context.Context, recordID int64, quantity float64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE stock_records SET quantity = $1, updated_at = $2 WHERE id = $3`,
		quantity, time.Now().UTC(), recordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (t *txStore) InsertMovement(ctx context.Context, movement Movement) (Movement, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO stock_movements (tenant_id, product_id, branch_id, kind, quantity, previous_quantity, new_quantity, reason, reference, sale_id, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`,
		movement.TenantID, movement.ProductID, movement.BranchID, string(movement.Kind),
		movement.Quantity, movement.PreviousQuantity, movement.NewQuantity,
		movement.Reason, movement.Reference, movement.SaleID, movement.ActorID, time.Now().UTC(),
	).Scan(&movement.ID, &movement.CreatedAt)
	if err != nil {
		return Movement{}, err
	}
	return movement, nil
}
