package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the entity does not exist within the tenant scope.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a uniqueness violation (SKU, barcode, branch code, sale number).
	ErrConflict = errors.New("already exists")
	// ErrInvalidState indicates the operation is not legal for the entity's current status.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation indicates the request failed input validation.
	ErrValidation = errors.New("validation failed")
)

// InsufficientStockError is returned when a debit would drive a stock record negative.
type InsufficientStockError struct {
	ProductName string
}

func (e *InsufficientStockError) Error() string {
	if e.ProductName == "" {
		return "insufficient stock"
	}
	return fmt.Sprintf("insufficient stock for product: %s", e.ProductName)
}

// AmountExceedsBalanceError is returned when a payment is larger than the sale's
// remaining balance. Remaining carries the balance still open at rejection time.
type AmountExceedsBalanceError struct {
	Remaining float64
}

func (e *AmountExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment amount exceeds remaining balance. Remaining: %.2f", e.Remaining)
}

// IsOperational reports whether err belongs to the domain error taxonomy, as
// opposed to an unexpected storage or infrastructure failure.
func IsOperational(err error) bool {
	var insufficient *InsufficientStockError
	var exceeds *AmountExceedsBalanceError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrValidation) ||
		errors.As(err, &insufficient) ||
		errors.As(err, &exceeds)
}

// UserSafeMessage returns a message suitable for API consumers. Unexpected
// failures are collapsed so storage internals never leak.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	if IsOperational(err) {
		return err.Error()
	}
	return "internal error"
}
