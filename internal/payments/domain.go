package payments

import (
	"time"
)

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	StatusPending   PaymentStatus = "PENDING"
	StatusCompleted PaymentStatus = "COMPLETED"
	StatusRefunded  PaymentStatus = "REFUNDED"
)

// Payment is one settlement event against a sale. Payments are never
// deleted; refunds flip the status and keep the row.
type Payment struct {
	ID         int64          `json:"id"`
	TenantID   int64          `json:"tenant_id"`
	SaleID     int64          `json:"sale_id"`
	Amount     float64        `json:"amount"`
	Method     string         `json:"method"`
	Status     PaymentStatus  `json:"status"`
	Reference  *string        `json:"reference,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	ReceivedBy int64          `json:"received_by"`
	RefundedBy *int64         `json:"refunded_by,omitempty"`
	RefundedAt *time.Time     `json:"refunded_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RecordPaymentRequest describes a payment to record against a sale.
type RecordPaymentRequest struct {
	SaleID    int64          `json:"sale_id" validate:"required"`
	Amount    float64        `json:"amount" validate:"required,gt=0"`
	Method    string         `json:"method" validate:"required,oneof=CASH CARD TRANSFER QR OTHER"`
	Reference *string        `json:"reference,omitempty" validate:"omitempty,max=100"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// SaleSummary reports the settlement position of one sale.
type SaleSummary struct {
	SaleTotal        float64 `json:"sale_total"`
	TotalPaid        float64 `json:"total_paid"`
	RemainingBalance float64 `json:"remaining_balance"`
	IsPaid           bool    `json:"is_paid"`
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	SaleID *int64
	Method *string
	Status *PaymentStatus
	Page   int
	Limit  int
}

// settleTolerance absorbs float accumulation drift when deciding whether a
// sale is fully paid. It sits far below one cent: a genuine cent-level
// shortfall keeps the sale pending.
const settleTolerance = 1e-6
