package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

func isNotFound(err error) bool { return errors.Is(err, shared.ErrNotFound) }

// Service coordinates catalog operations. Every method takes the tenant id
// explicitly; nothing is resolved from ambient state.
type Service struct {
	repo Repository
}

// NewService builds Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateProduct registers a new product for the tenant.
func (s *Service) CreateProduct(ctx context.Context, tenantID int64, req CreateProductRequest) (Product, error) {
	if _, err := s.repo.GetProductBySKU(ctx, tenantID, req.SKU); err == nil {
		return Product{}, fmt.Errorf("%w: product with this SKU", shared.ErrConflict)
	} else if !isNotFound(err) {
		return Product{}, fmt.Errorf("check existing sku: %w", err)
	}
	if req.Barcode != nil && *req.Barcode != "" {
		if _, err := s.repo.GetProductByBarcode(ctx, tenantID, *req.Barcode); err == nil {
			return Product{}, fmt.Errorf("%w: product with this barcode", shared.ErrConflict)
		} else if !isNotFound(err) {
			return Product{}, fmt.Errorf("check existing barcode: %w", err)
		}
	}

	trackStock := true
	if req.TrackStock != nil {
		trackStock = *req.TrackStock
	}
	product := Product{
		TenantID:   tenantID,
		SKU:        req.SKU,
		Barcode:    req.Barcode,
		Name:       req.Name,
		Category:   req.Category,
		Price:      req.Price,
		Cost:       req.Cost,
		TaxRate:    req.TaxRate,
		TrackStock: trackStock,
		IsActive:   true,
	}
	return s.repo.CreateProduct(ctx, product)
}

// UpdateProduct applies partial updates, re-checking identifier uniqueness
// when SKU or barcode change.
func (s *Service) UpdateProduct(ctx context.Context, tenantID, id int64, req UpdateProductRequest) (Product, error) {
	product, err := s.repo.GetProduct(ctx, tenantID, id)
	if err != nil {
		return Product{}, err
	}

	if req.SKU != nil && *req.SKU != product.SKU {
		if existing, err := s.repo.GetProductBySKU(ctx, tenantID, *req.SKU); err == nil && existing.ID != id {
			return Product{}, fmt.Errorf("%w: product with this SKU", shared.ErrConflict)
		} else if err != nil && !isNotFound(err) {
			return Product{}, fmt.Errorf("check existing sku: %w", err)
		}
		product.SKU = *req.SKU
	}
	if req.Barcode != nil && (product.Barcode == nil || *req.Barcode != *product.Barcode) {
		if *req.Barcode != "" {
			if existing, err := s.repo.GetProductByBarcode(ctx, tenantID, *req.Barcode); err == nil && existing.ID != id {
				return Product{}, fmt.Errorf("%w: product with this barcode", shared.ErrConflict)
			} else if err != nil && !isNotFound(err) {
				return Product{}, fmt.Errorf("check existing barcode: %w", err)
			}
		}
		product.Barcode = req.Barcode
	}
	if req.Name != nil {
		product.Name = *req.Name
	}
	if req.Category != nil {
		product.Category = req.Category
	}
	if req.Price != nil {
		product.Price = *req.Price
	}
	if req.Cost != nil {
		product.Cost = *req.Cost
	}
	if req.TaxRate != nil {
		product.TaxRate = req.TaxRate
	}
	if req.TrackStock != nil {
		product.TrackStock = *req.TrackStock
	}
	if req.IsActive != nil {
		product.IsActive = *req.IsActive
	}

	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// GetProduct returns one product within the tenant scope.
func (s *Service) GetProduct(ctx context.Context, tenantID, id int64) (Product, error) {
	return s.repo.GetProduct(ctx, tenantID, id)
}

// GetProductBySKU returns an active product by SKU.
func (s *Service) GetProductBySKU(ctx context.Context, tenantID int64, sku string) (Product, error) {
	return s.repo.GetProductBySKU(ctx, tenantID, sku)
}

// GetProductByBarcode returns an active product by barcode.
func (s *Service) GetProductByBarcode(ctx context.Context, tenantID int64, barcode string) (Product, error) {
	return s.repo.GetProductByBarcode(ctx, tenantID, barcode)
}

// ListProducts returns a filtered, paginated listing.
func (s *Service) ListProducts(ctx context.Context, tenantID int64, filter ProductFilter) ([]Product, int, error) {
	return s.repo.ListProducts(ctx, tenantID, filter)
}

// DeactivateProduct soft-deletes a product; historical sales keep their snapshots.
func (s *Service) DeactivateProduct(ctx context.Context, tenantID, id int64) (Product, error) {
	product, err := s.repo.GetProduct(ctx, tenantID, id)
	if err != nil {
		return Product{}, err
	}
	product.IsActive = false
	if err := s.repo.UpdateProduct(ctx, product); err != nil {
		return Product{}, err
	}
	return product, nil
}

// CreateBranch registers a new branch for the tenant.
func (s *Service) CreateBranch(ctx context.Context, tenantID int64, req CreateBranchRequest) (Branch, error) {
	branches, err := s.repo.ListBranches(ctx, tenantID, BranchFilter{})
	if err != nil {
		return Branch{}, fmt.Errorf("check existing branch code: %w", err)
	}
	for _, b := range branches {
		if b.Code == req.Code {
			return Branch{}, fmt.Errorf("%w: branch with this code", shared.ErrConflict)
		}
	}
	branch := Branch{
		TenantID: tenantID,
		Code:     req.Code,
		Name:     req.Name,
		Address:  req.Address,
		IsActive: true,
	}
	return s.repo.CreateBranch(ctx, branch)
}

// UpdateBranch applies partial updates to a branch.
func (s *Service) UpdateBranch(ctx context.Context, tenantID, id int64, req UpdateBranchRequest) (Branch, error) {
	branch, err := s.repo.GetBranch(ctx, tenantID, id)
	if err != nil {
		return Branch{}, err
	}
	if req.Code != nil && *req.Code != branch.Code {
		branches, err := s.repo.ListBranches(ctx, tenantID, BranchFilter{})
		if err != nil {
			return Branch{}, fmt.Errorf("check existing branch code: %w", err)
		}
		for _, b := range branches {
			if b.Code == *req.Code && b.ID != id {
				return Branch{}, fmt.Errorf("%w: branch with this code", shared.ErrConflict)
			}
		}
		branch.Code = *req.Code
	}
	if req.Name != nil {
		branch.Name = *req.Name
	}
	if req.Address != nil {
		branch.Address = req.Address
	}
	if req.IsActive != nil {
		branch.IsActive = *req.IsActive
	}
	if err := s.repo.UpdateBranch(ctx, branch); err != nil {
		return Branch{}, err
	}
	return branch, nil
}

// GetBranch returns one branch within the tenant scope.
func (s *Service) GetBranch(ctx context.Context, tenantID, id int64) (Branch, error) {
	return s.repo.GetBranch(ctx, tenantID, id)
}

// ListBranches returns the tenant's branches.
func (s *Service) ListBranches(ctx context.Context, tenantID int64, filter BranchFilter) ([]Branch, error) {
	return s.repo.ListBranches(ctx, tenantID, filter)
}

// DeactivateBranch soft-deletes a branch.
func (s *Service) DeactivateBranch(ctx context.Context, tenantID, id int64) (Branch, error) {
	branch, err := s.repo.GetBranch(ctx, tenantID, id)
	if err != nil {
		return Branch{}, err
	}
	branch.IsActive = false
	if err := s.repo.UpdateBranch(ctx, branch); err != nil {
		return Branch{}, err
	}
	return branch, nil
}

// TenantTaxRate returns the tenant's default tax rate percentage.
func (s *Service) TenantTaxRate(ctx context.Context, tenantID int64) (float64, error) {
	return s.repo.TenantTaxRate(ctx, tenantID)
}
