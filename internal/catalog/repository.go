package catalog

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// Repository abstracts catalog persistence for the service.
type Repository interface {
	CreateProduct(ctx context.Context, product Product) (Product, error)
	UpdateProduct(ctx context.Context, product Product) error
	GetProduct(ctx context.Context, tenantID, id int64) (Product, error)
	GetProductBySKU(ctx context.Context, tenantID int64, sku string) (Product, error)
	GetProductByBarcode(ctx context.Context, tenantID int64, barcode string) (Product, error)
	ListProducts(ctx context.Context, tenantID int64, filter ProductFilter) ([]Product, int, error)

	CreateBranch(ctx context.Context, branch Branch) (Branch, error)
	UpdateBranch(ctx context.Context, branch Branch) error
	GetBranch(ctx context.Context, tenantID, id int64) (Branch, error)
	ListBranches(ctx context.Context, tenantID int64, filter BranchFilter) ([]Branch, error)

	TenantTaxRate(ctx context.Context, tenantID int64) (float64, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL-backed catalog repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `id, tenant_id, sku, barcode, name, category, price, cost, tax_rate, track_stock, is_active, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Barcode, &p.Name, &p.Category, &p.Price, &p.Cost, &p.TaxRate, &p.TrackStock, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, fmt.Errorf("%w: product", shared.ErrNotFound)
		}
		return Product{}, err
	}
	return p, nil
}

// mapConflict converts unique violations into the domain Conflict error,
// naming the offending field from the constraint.
func mapConflict(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		switch {
		case strings.Contains(pgErr.ConstraintName, "sku"):
			return fmt.Errorf("%w: product with this SKU", shared.ErrConflict)
		case strings.Contains(pgErr.ConstraintName, "barcode"):
			return fmt.Errorf("%w: product with this barcode", shared.ErrConflict)
		case strings.Contains(pgErr.ConstraintName, "code"):
			return fmt.Errorf("%w: branch with this code", shared.ErrConflict)
		}
		return fmt.Errorf("%w: duplicate entry", shared.ErrConflict)
	}
	return err
}

func (r *repository) CreateProduct(ctx context.Context, product Product) (Product, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO products (tenant_id, sku, barcode, name, category, price, cost, tax_rate, track_stock, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`,
		product.TenantID, product.SKU, product.Barcode, product.Name, product.Category,
		product.Price, product.Cost, product.TaxRate, product.TrackStock, product.IsActive, now,
	).Scan(&product.ID)
	if err != nil {
		return Product{}, mapConflict(err)
	}
	product.CreatedAt = now
	product.UpdatedAt = now
	return product, nil
}

func (r *repository) UpdateProduct(ctx context.Context, product Product) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE products
		SET sku = $1, barcode = $2, name = $3, category = $4, price = $5, cost = $6,
		    tax_rate = $7, track_stock = $8, is_active = $9, updated_at = $10
		WHERE id = $11 AND tenant_id = $12`,
		product.SKU, product.Barcode, product.Name, product.Category, product.Price, product.Cost,
		product.TaxRate, product.TrackStock, product.IsActive, time.Now().UTC(),
		product.ID, product.TenantID,
	)
	if err != nil {
		return mapConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product", shared.ErrNotFound)
	}
	return nil
}

func (r *repository) GetProduct(ctx context.Context, tenantID, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanProduct(row)
}

func (r *repository) GetProductBySKU(ctx context.Context, tenantID int64, sku string) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND sku = $2`, tenantID, sku)
	return scanProduct(row)
}

func (r *repository) GetProductByBarcode(ctx context.Context, tenantID int64, barcode string) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE tenant_id = $1 AND barcode = $2`, tenantID, barcode)
	return scanProduct(row)
}

func (r *repository) ListProducts(ctx context.Context, tenantID int64, filter ProductFilter) ([]Product, int, error) {
	where := ` WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	argCount := 1

	if filter.Search != "" {
		argCount++
		p := strconv.Itoa(argCount)
		where += ` AND (name ILIKE $` + p + ` OR sku ILIKE $` + p + ` OR barcode ILIKE $` + p + `)`
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Category != "" {
		argCount++
		where += ` AND category = $` + strconv.Itoa(argCount)
		args = append(args, filter.Category)
	}
	if filter.IsActive != nil {
		argCount++
		where += ` AND is_active = $` + strconv.Itoa(argCount)
		args = append(args, *filter.IsActive)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY created_at DESC`
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
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

	var products []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

const branchColumns = `id, tenant_id, code, name, address, is_active, created_at, updated_at`

func scanBranch(row pgx.Row) (Branch, error) {
	var b Branch
	err := row.Scan(&b.ID, &b.TenantID, &b.Code, &b.Name, &b.Address, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Branch{}, fmt.Errorf("%w: branch", shared.ErrNotFound)
		}
		return Branch{}, err
	}
	return b, nil
}

func (r *repository) CreateBranch(ctx context.Context, branch Branch) (Branch, error) {
	now := time.Now().UTC()
	err := r.pool.QueryRow(ctx, `
		INSERT INTO branches (tenant_id, code, name, address, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id`,
		branch.TenantID, branch.Code, branch.Name, branch.Address, branch.IsActive, now,
	).Scan(&branch.ID)
	if err != nil {
		return Branch{}, mapConflict(err)
	}
	branch.CreatedAt = now
	branch.UpdatedAt = now
	return branch, nil
}

func (r *repository) UpdateBranch(ctx context.Context, branch Branch) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE branches
		SET code = $1, name = $2, address = $3, is_active = $4, updated_at = $5
		WHERE id = $6 AND tenant_id = $7`,
		branch.Code, branch.Name, branch.Address, branch.IsActive, time.Now().UTC(),
		branch.ID, branch.TenantID,
	)
	if err != nil {
		return mapConflict(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: branch", shared.ErrNotFound)
	}
	return nil
}

func (r *repository) GetBranch(ctx context.Context, tenantID, id int64) (Branch, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+branchColumns+` FROM branches WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	return scanBranch(row)
}

func (r *repository) ListBranches(ctx context.Context, tenantID int64, filter BranchFilter) ([]Branch, error) {
	query := `SELECT ` + branchColumns + ` FROM branches WHERE tenant_id = $1`
	args := []interface{}{tenantID}
	if filter.IsActive != nil {
		query += ` AND is_active = $2`
		args = append(args, *filter.IsActive)
	}
	query += ` ORDER BY code`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var branches []Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (r *repository) TenantTaxRate(ctx context.Context, tenantID int64) (float64, error) {
	var rate float64
	err := r.pool.QueryRow(ctx, `SELECT tax_rate FROM tenants WHERE id = $1`, tenantID).Scan(&rate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrTenantNotFound
		}
		return 0, err
	}
	return rate, nil
}
