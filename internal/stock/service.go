package stock

import (
	"context"
	"errors"
	"fmt"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

// TxStore exposes the transactional operations one movement needs. The sales
// orchestrator obtains a TxStore bound to its own transaction so a sale and
// its debits commit as one unit.
type TxStore interface {
	GetRecordForUpdate(ctx context.Context, tenantID, productID, branchID int64) (Record, error)
	InsertRecord(ctx context.Context, record Record) (Record, error)
	UpdateRecordQuantity(ctx context.Context, recordID int64, quantity float64) error
	InsertMovement(ctx context.Context, movement Movement) (Movement, error)
}

// Store abstracts ledger persistence for the service.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	GetRecord(ctx context.Context, tenantID, productID, branchID int64) (Record, error)
	ListRecords(ctx context.Context, tenantID int64, filter RecordFilter) ([]Record, error)
	ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error)
	UpdateThresholds(ctx context.Context, tenantID, productID, branchID int64, in ThresholdsInput) (Record, error)
}

// ProductInfo is the catalog projection the ledger needs.
type ProductInfo struct {
	ID         int64
	Name       string
	TrackStock bool
	IsActive   bool
}

// CatalogPort resolves products for direct movement validation.
type CatalogPort interface {
	Product(ctx context.Context, tenantID, productID int64) (ProductInfo, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Ledger owns per-key quantity state and the append-only movement trail.
type Ledger struct {
	store   Store
	catalog CatalogPort
	audit   AuditPort
}

// NewLedger builds Ledger.
func NewLedger(store Store, catalog CatalogPort, audit AuditPort) *Ledger {
	return &Ledger{store: store, catalog: catalog, audit: audit}
}

// Apply posts one movement atomically: the updated record and the new
// movement persist together or not at all. Only tracked products participate.
func (l *Ledger) Apply(ctx context.Context, tenantID int64, input ApplyInput) (Record, Movement, error) {
	if err := validateInput(input); err != nil {
		return Record{}, Movement{}, err
	}

	product, err := l.catalog.Product(ctx, tenantID, input.ProductID)
	if err != nil {
		return Record{}, Movement{}, fmt.Errorf("load product: %w", err)
	}
	if !product.TrackStock {
		return Record{}, Movement{}, fmt.Errorf("%w: product does not track stock", shared.ErrInvalidState)
	}
	input.ProductName = product.Name

	var record Record
	var movement Movement
	err = l.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		record, movement, err = l.ApplyTx(ctx, tx, tenantID, input)
		return err
	})
	if err != nil {
		return Record{}, Movement{}, err
	}

	if l.audit != nil {
		_ = l.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  input.ActorID,
			Action:   fmt.Sprintf("stock:%s", input.Kind),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Meta: map[string]any{
				"product_id": input.ProductID,
				"branch_id":  input.BranchID,
				"delta":      movement.Quantity,
				"new_qty":    movement.NewQuantity,
			},
		})
	}
	return record, movement, nil
}

// ApplyTx posts one movement inside a caller-owned transaction. The record is
// created lazily on first movement; outbound and sale-debit kinds fail with
// InsufficientStock rather than allow a negative quantity.
func (l *Ledger) ApplyTx(ctx context.Context, tx TxStore, tenantID int64, input ApplyInput) (Record, Movement, error) {
	if err := validateInput(input); err != nil {
		return Record{}, Movement{}, err
	}

	record, err := tx.GetRecordForUpdate(ctx, tenantID, input.ProductID, input.BranchID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Record{}, Movement{}, err
	}
	if errors.Is(err, ErrRecordNotFound) {
		record = Record{TenantID: tenantID, ProductID: input.ProductID, BranchID: input.BranchID}
	}

	previous := record.Quantity
	var newQuantity float64
	switch input.Kind {
	case MovementInbound:
		newQuantity = previous + input.Quantity
	case MovementOutbound, MovementSaleDebit:
		newQuantity = previous - input.Quantity
		if newQuantity < 0 {
			return Record{}, Movement{}, &shared.InsufficientStockError{ProductName: input.ProductName}
		}
	case MovementAdjustment:
		newQuantity = input.Quantity
	}

	if record.ID == 0 {
		record.Quantity = newQuantity
		record, err = tx.InsertRecord(ctx, record)
		if err != nil {
			return Record{}, Movement{}, err
		}
	} else {
		if err := tx.UpdateRecordQuantity(ctx, record.ID, newQuantity); err != nil {
			return Record{}, Movement{}, err
		}
		record.Quantity = newQuantity
	}

	movement := Movement{
		TenantID:         tenantID,
		ProductID:        input.ProductID,
		BranchID:         input.BranchID,
		Kind:             input.Kind,
		Quantity:         newQuantity - previous,
		PreviousQuantity: previous,
		NewQuantity:      newQuantity,
		Reason:           input.Reason,
		Reference:        input.Reference,
		SaleID:           input.SaleID,
		ActorID:          input.ActorID,
	}
	movement, err = tx.InsertMovement(ctx, movement)
	if err != nil {
		return Record{}, Movement{}, err
	}
	return record, movement, nil
}

// GetRecord returns one stock record within the tenant scope.
func (l *Ledger) GetRecord(ctx context.Context, tenantID, productID, branchID int64) (Record, error) {
	return l.store.GetRecord(ctx, tenantID, productID, branchID)
}

// ListRecords returns stock records with optional branch/product/low-stock filters.
func (l *Ledger) ListRecords(ctx context.Context, tenantID int64, filter RecordFilter) ([]Record, error) {
	return l.store.ListRecords(ctx, tenantID, filter)
}

// ListMovements returns the movement log, newest first, capped.
func (l *Ledger) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error) {
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 100
	}
	if filter.Kind != nil && !filter.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown movement kind %q", shared.ErrValidation, *filter.Kind)
	}
	return l.store.ListMovements(ctx, tenantID, filter)
}

// UpdateThresholds sets min/max alert levels for one stock key.
func (l *Ledger) UpdateThresholds(ctx context.Context, tenantID, productID, branchID int64, in ThresholdsInput) (Record, error) {
	return l.store.UpdateThresholds(ctx, tenantID, productID, branchID, in)
}

func validateInput(input ApplyInput) error {
	if !input.Kind.Valid() {
		return fmt.Errorf("%w: unknown movement kind %q", shared.ErrValidation, input.Kind)
	}
	if input.ProductID == 0 || input.BranchID == 0 {
		return fmt.Errorf("%w: product and branch required", shared.ErrValidation)
	}
	switch input.Kind {
	case MovementAdjustment:
		if input.Quantity < 0 {
			return fmt.Errorf("%w: adjustment target cannot be negative", shared.ErrValidation)
		}
	default:
		if input.Quantity <= 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}
