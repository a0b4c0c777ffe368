package catalog

import (
	"errors"
	"time"
)

// Product is a tenant-scoped catalog entry. Sales never reference it live for
// pricing; they copy a snapshot at sale time.
type Product struct {
	ID         int64     `json:"id"`
	TenantID   int64     `json:"tenant_id"`
	SKU        string    `json:"sku"`
	Barcode    *string   `json:"barcode,omitempty"`
	Name       string    `json:"name"`
	Category   *string   `json:"category,omitempty"`
	Price      float64   `json:"price"`
	Cost       float64   `json:"cost"`
	TaxRate    *float64  `json:"tax_rate,omitempty"`
	TrackStock bool      `json:"track_stock"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EffectiveTaxRate resolves the percentage applied to this product's lines.
// A product without its own rate falls back to the tenant default.
func (p Product) EffectiveTaxRate(tenantDefault float64) float64 {
	if p.TaxRate != nil {
		return *p.TaxRate
	}
	return tenantDefault
}

// Branch is a tenant-scoped point of sale.
type Branch struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   *string   `json:"address,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateProductRequest describes a new catalog entry.
type CreateProductRequest struct {
	SKU        string   `json:"sku" validate:"required,max=64"`
	Barcode    *string  `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Name       string   `json:"name" validate:"required,max=200"`
	Category   *string  `json:"category,omitempty" validate:"omitempty,max=100"`
	Price      float64  `json:"price" validate:"gte=0"`
	Cost       float64  `json:"cost" validate:"gte=0"`
	TaxRate    *float64 `json:"tax_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
	TrackStock *bool    `json:"track_stock,omitempty"`
}

// UpdateProductRequest carries partial catalog updates.
type UpdateProductRequest struct {
	SKU        *string  `json:"sku,omitempty" validate:"omitempty,max=64"`
	Barcode    *string  `json:"barcode,omitempty" validate:"omitempty,max=64"`
	Name       *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Category   *string  `json:"category,omitempty" validate:"omitempty,max=100"`
	Price      *float64 `json:"price,omitempty" validate:"omitempty,gte=0"`
	Cost       *float64 `json:"cost,omitempty" validate:"omitempty,gte=0"`
	TaxRate    *float64 `json:"tax_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
	TrackStock *bool    `json:"track_stock,omitempty"`
	IsActive   *bool    `json:"is_active,omitempty"`
}

// CreateBranchRequest describes a new branch.
type CreateBranchRequest struct {
	Code    string  `json:"code" validate:"required,max=50"`
	Name    string  `json:"name" validate:"required,max=200"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=300"`
}

// UpdateBranchRequest carries partial branch updates.
type UpdateBranchRequest struct {
	Code     *string `json:"code,omitempty" validate:"omitempty,max=50"`
	Name     *string `json:"name,omitempty" validate:"omitempty,max=200"`
	Address  *string `json:"address,omitempty" validate:"omitempty,max=300"`
	IsActive *bool   `json:"is_active,omitempty"`
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Search   string
	Category string
	IsActive *bool
	Page     int
	Limit    int
}

// BranchFilter narrows branch listings.
type BranchFilter struct {
	IsActive *bool
}

// ErrTenantNotFound indicates the tenant row itself is missing.
var ErrTenantNotFound = errors.New("catalog: tenant not found")
