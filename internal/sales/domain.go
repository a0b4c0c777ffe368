package sales

import (
	"time"
)

// SaleStatus enumerates the sale lifecycle. Transitions are PENDING to PAID,
// PENDING to CANCELLED, and PAID back to PENDING when a payment is refunded.
type SaleStatus string

const (
	StatusPending   SaleStatus = "PENDING"
	StatusPaid      SaleStatus = "PAID"
	StatusCancelled SaleStatus = "CANCELLED"
)

// ProductSnapshot freezes the catalog fields a sale line was priced with.
// Later catalog edits never change a recorded sale.
type ProductSnapshot struct {
	SKU        string   `json:"sku"`
	Name       string   `json:"name"`
	Price      float64  `json:"price"`
	Cost       float64  `json:"cost"`
	TaxRate    *float64 `json:"tax_rate,omitempty"`
	TrackStock bool     `json:"track_stock"`
}

// Line is one priced sale line.
type Line struct {
	ID        int64           `json:"id"`
	SaleID    int64           `json:"sale_id"`
	ProductID int64           `json:"product_id"`
	Quantity  float64         `json:"quantity"`
	UnitPrice float64         `json:"unit_price"`
	Discount  float64         `json:"discount"`
	Subtotal  float64         `json:"subtotal"`
	TaxRate   float64         `json:"tax_rate"`
	TaxAmount float64         `json:"tax_amount"`
	Total     float64         `json:"total"`
	Snapshot  ProductSnapshot `json:"product_snapshot"`
}

// Sale is the persisted sale header plus its lines.
type Sale struct {
	ID             int64      `json:"id"`
	TenantID       int64      `json:"tenant_id"`
	BranchID       int64      `json:"branch_id"`
	SaleNumber     string     `json:"sale_number"`
	Status         SaleStatus `json:"status"`
	Subtotal       float64    `json:"subtotal"`
	DiscountAmount float64    `json:"discount_amount"`
	TaxAmount      float64    `json:"tax_amount"`
	Total          float64    `json:"total"`
	CustomerID     *int64     `json:"customer_id,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	CreatedBy      int64      `json:"created_by"`
	CancelledBy    *int64     `json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CancelReason   *string    `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Lines          []Line     `json:"lines,omitempty"`
}

// CreateSaleLineRequest describes one requested line. UnitPrice overrides the
// catalog price when set; Discount is an absolute amount off the line.
type CreateSaleLineRequest struct {
	ProductID int64    `json:"product_id" validate:"required"`
	Quantity  float64  `json:"quantity" validate:"required,gt=0"`
	UnitPrice *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	Discount  float64  `json:"discount" validate:"gte=0"`
}

// CreateSaleRequest describes a sale to price and persist. CustomerID is an
// optional reference to a customer kept by an upstream system; walk-in sales
// leave it empty.
type CreateSaleRequest struct {
	BranchID   int64                   `json:"branch_id" validate:"required"`
	Lines      []CreateSaleLineRequest `json:"lines" validate:"required,min=1,dive"`
	Discount   float64                 `json:"discount" validate:"gte=0"`
	CustomerID *int64                  `json:"customer_id,omitempty" validate:"omitempty,gt=0"`
	Notes      *string                 `json:"notes,omitempty" validate:"omitempty,max=500"`
}

// SaleFilter narrows sale listings.
type SaleFilter struct {
	BranchID *int64
	Status   *SaleStatus
	From     *time.Time
	To       *time.Time
	Page     int
	Limit    int
}
