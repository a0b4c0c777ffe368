package jobs

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

type pgLowStockStore struct {
	pool *pgxpool.Pool
}

// NewLowStockStore constructs the PostgreSQL-backed low stock query.
func NewLowStockStore(pool *pgxpool.Pool) LowStockStore {
	return &pgLowStockStore{pool: pool}
}

func (s *pgLowStockStore) FindLowStock(ctx context.Context, tenantID, branchID int64) ([]LowStockItem, error) {
	query := `
		SELECT r.tenant_id, r.product_id, r.branch_id, p.name, r.quantity, r.min_stock
		FROM stock_records r
		JOIN products p ON p.id = r.product_id
		WHERE r.min_stock IS NOT NULL AND r.quantity <= r.min_stock`
	args := []interface{}{}
	argCount := 0

	if tenantID > 0 {
		argCount++
		query += ` AND r.tenant_id = $` + strconv.Itoa(argCount)
		args = append(args, tenantID)
	}
	if branchID > 0 {
		argCount++
		query += ` AND r.branch_id = $` + strconv.Itoa(argCount)
		args = append(args, branchID)
	}
	query += ` ORDER BY r.tenant_id, r.branch_id, r.product_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LowStockItem
	for rows.Next() {
		var item LowStockItem
		if err := rows.Scan(&item.TenantID, &item.ProductID, &item.BranchID, &item.ProductName, &item.Quantity, &item.MinStock); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
