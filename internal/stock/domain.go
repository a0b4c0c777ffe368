package stock

import (
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// MovementInbound adds quantity to a stock record.
	MovementInbound MovementKind = "IN"
	// MovementOutbound removes quantity from a stock record.
	MovementOutbound MovementKind = "OUT"
	// MovementAdjustment sets the quantity to an absolute value.
	MovementAdjustment MovementKind = "ADJUSTMENT"
	// MovementSaleDebit removes quantity on behalf of a sale and carries the
	// sale reference for audit filtering.
	MovementSaleDebit MovementKind = "SALE"
)

// Valid reports whether the kind is a member of the closed set.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementInbound, MovementOutbound, MovementAdjustment, MovementSaleDebit:
		return true
	}
	return false
}

// Record holds the current quantity for one (tenant, product, branch) key.
// Created lazily on first movement; quantity never goes negative.
type Record struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	ProductID int64     `json:"product_id"`
	BranchID  int64     `json:"branch_id"`
	Quantity  float64   `json:"quantity"`
	MinStock  *float64  `json:"min_stock,omitempty"`
	MaxStock  *float64  `json:"max_stock,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Movement is one immutable, signed change to a stock key. Quantity is the
// delta applied; the record's quantity is always the fold of its movements.
type Movement struct {
	ID               int64        `json:"id"`
	TenantID         int64        `json:"tenant_id"`
	ProductID        int64        `json:"product_id"`
	BranchID         int64        `json:"branch_id"`
	Kind             MovementKind `json:"kind"`
	Quantity         float64      `json:"quantity"`
	PreviousQuantity float64      `json:"previous_quantity"`
	NewQuantity      float64      `json:"new_quantity"`
	Reason           *string      `json:"reason,omitempty"`
	Reference        *string      `json:"reference,omitempty"`
	SaleID           *int64       `json:"sale_id,omitempty"`
	ActorID          int64        `json:"actor_id"`
	CreatedAt        time.Time    `json:"created_at"`
}

// ApplyInput describes one movement to post.
type ApplyInput struct {
	ProductID int64
	BranchID  int64
	Kind      MovementKind
	Quantity  float64
	Reason    *string
	Reference *string
	SaleID    *int64
	ActorID   int64

	// ProductName labels InsufficientStock errors. Filled from the catalog on
	// direct movements; orchestrated debits supply it from the sale snapshot.
	ProductName string
}

// RecordFilter narrows stock record listings.
type RecordFilter struct {
	BranchID  *int64
	ProductID *int64
	LowStock  bool
}

// MovementFilter narrows movement log listings.
type MovementFilter struct {
	BranchID  *int64
	ProductID *int64
	Kind      *MovementKind
	Limit     int
}

// ThresholdsInput updates min/max alerts for one stock key.
type ThresholdsInput struct {
	MinStock *float64 `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	MaxStock *float64 `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
}

// ErrRecordNotFound indicates a missing stock record row.
var ErrRecordNotFound = fmt.Errorf("%w: stock record", shared.ErrNotFound)

// ErrInvalidQuantity indicates a non-positive movement quantity.
var ErrInvalidQuantity = fmt.Errorf("%w: quantity must be positive", shared.ErrValidation)
