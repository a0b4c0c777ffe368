package sales

import (
	"context"
	"fmt"

	"github.com/meridian-pos/meridian-pos/internal/catalog"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// ProductInfo is the catalog projection pricing needs.
type ProductInfo struct {
	ID         int64
	SKU        string
	Name       string
	Price      float64
	Cost       float64
	TaxRate    *float64
	TrackStock bool
	IsActive   bool
}

// BranchInfo is the catalog projection branch validation needs.
type BranchInfo struct {
	ID       int64
	Name     string
	IsActive bool
}

// CatalogPort resolves products, branches and the tenant tax default.
type CatalogPort interface {
	Product(ctx context.Context, tenantID, productID int64) (ProductInfo, error)
	Branch(ctx context.Context, tenantID, branchID int64) (BranchInfo, error)
	TenantTaxRate(ctx context.Context, tenantID int64) (float64, error)
}

// CatalogAdapter bridges the catalog service to the pricing port.
type CatalogAdapter struct {
	Catalog *catalog.Service
}

func (a CatalogAdapter) Product(ctx context.Context, tenantID, productID int64) (ProductInfo, error) {
	p, err := a.Catalog.GetProduct(ctx, tenantID, productID)
	if err != nil {
		return ProductInfo{}, err
	}
	return ProductInfo{
		ID:         p.ID,
		SKU:        p.SKU,
		Name:       p.Name,
		Price:      p.Price,
		Cost:       p.Cost,
		TaxRate:    p.TaxRate,
		TrackStock: p.TrackStock,
		IsActive:   p.IsActive,
	}, nil
}

func (a CatalogAdapter) Branch(ctx context.Context, tenantID, branchID int64) (BranchInfo, error) {
	b, err := a.Catalog.GetBranch(ctx, tenantID, branchID)
	if err != nil {
		return BranchInfo{}, err
	}
	return BranchInfo{ID: b.ID, Name: b.Name, IsActive: b.IsActive}, nil
}

func (a CatalogAdapter) TenantTaxRate(ctx context.Context, tenantID int64) (float64, error) {
	return a.Catalog.TenantTaxRate(ctx, tenantID)
}

// PricedSale is the outcome of pricing a request, ready to persist.
type PricedSale struct {
	Subtotal       float64
	DiscountAmount float64
	TaxAmount      float64
	Total          float64
	Lines          []Line
}

// PriceSale prices every requested line against the tenant's catalog and
// aggregates the totals. Pricing is fail-fast: the first bad line aborts.
// Each line keeps a snapshot of the product fields it was priced with.
func PriceSale(ctx context.Context, cat CatalogPort, tenantID int64, req CreateSaleRequest) (PricedSale, error) {
	tenantRate, err := cat.TenantTaxRate(ctx, tenantID)
	if err != nil {
		return PricedSale{}, fmt.Errorf("load tenant tax rate: %w", err)
	}

	priced := PricedSale{DiscountAmount: req.Discount}
	for i, lineReq := range req.Lines {
		product, err := cat.Product(ctx, tenantID, lineReq.ProductID)
		if err != nil {
			return PricedSale{}, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !product.IsActive {
			return PricedSale{}, fmt.Errorf("line %d: %w: product is inactive", i+1, shared.ErrNotFound)
		}

		unitPrice := product.Price
		if lineReq.UnitPrice != nil {
			unitPrice = *lineReq.UnitPrice
		}
		subtotal := unitPrice*lineReq.Quantity - lineReq.Discount
		if subtotal < 0 {
			return PricedSale{}, fmt.Errorf("line %d: %w: discount exceeds line amount", i+1, shared.ErrValidation)
		}

		rate := tenantRate
		if product.TaxRate != nil {
			rate = *product.TaxRate
		}
		taxAmount := subtotal * rate / 100

		priced.Lines = append(priced.Lines, Line{
			ProductID: product.ID,
			Quantity:  lineReq.Quantity,
			UnitPrice: unitPrice,
			Discount:  lineReq.Discount,
			Subtotal:  subtotal,
			TaxRate:   rate,
			TaxAmount: taxAmount,
			Total:     subtotal + taxAmount,
			Snapshot: ProductSnapshot{
				SKU:        product.SKU,
				Name:       product.Name,
				Price:      product.Price,
				Cost:       product.Cost,
				TaxRate:    product.TaxRate,
				TrackStock: product.TrackStock,
			},
		})
		priced.Subtotal += subtotal
		priced.TaxAmount += taxAmount
	}

	if req.Discount > priced.Subtotal+priced.TaxAmount {
		return PricedSale{}, fmt.Errorf("%w: discount exceeds sale amount", shared.ErrValidation)
	}
	priced.Total = priced.Subtotal + priced.TaxAmount - req.Discount
	if priced.Total < 0 {
		priced.Total = 0
	}
	return priced, nil
}

// saleNumberPrefix formats the per-day prefix of sale numbers, e.g. 20260831.
const saleNumberPrefix = "20060102"

// formatSaleNumber renders prefix plus a four digit daily sequence.
func formatSaleNumber(prefix string, seq int) string {
	return fmt.Sprintf("%s%04d", prefix, seq)
}
