package stock

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/shared"
)

type memoryStore struct {
	records   map[string]Record
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: make(map[string]Record)}
}

func recordKey(tenantID, productID, branchID int64) string {
	return fmt.Sprintf("%d:%d:%d", tenantID, productID, branchID)
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	return fn(ctx, &memoryTx{store: s})
}

func (s *memoryStore) GetRecord(ctx context.Context, tenantID, productID, branchID int64) (Record, error) {
	if rec, ok := s.records[recordKey(tenantID, productID, branchID)]; ok {
		return rec, nil
	}
	return Record{}, ErrRecordNotFound
}

func (s *memoryStore) ListRecords(ctx context.Context, tenantID int64, filter RecordFilter) ([]Record, error) {
	var out []Record
	for _, rec := range s.records {
		if rec.TenantID != tenantID {
			continue
		}
		if filter.BranchID != nil && rec.BranchID != *filter.BranchID {
			continue
		}
		if filter.ProductID != nil && rec.ProductID != *filter.ProductID {
			continue
		}
		if filter.LowStock && (rec.MinStock == nil || rec.Quantity > *rec.MinStock) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *memoryStore) ListMovements(ctx context.Context, tenantID int64, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for i := len(s.movements) - 1; i >= 0; i-- {
		m := s.movements[i]
		if m.TenantID != tenantID {
			continue
		}
		if filter.BranchID != nil && m.BranchID != *filter.BranchID {
			continue
		}
		if filter.ProductID != nil && m.ProductID != *filter.ProductID {
			continue
		}
		if filter.Kind != nil && m.Kind != *filter.Kind {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateThresholds(ctx context.Context, tenantID, productID, branchID int64, in ThresholdsInput) (Record, error) {
	key := recordKey(tenantID, productID, branchID)
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrRecordNotFound
	}
	rec.MinStock = in.MinStock
	rec.MaxStock = in.MaxStock
	s.records[key] = rec
	return rec, nil
}

func (tx *memoryTx) GetRecordForUpdate(ctx context.Context, tenantID, productID, branchID int64) (Record, error) {
	return tx.store.GetRecord(ctx, tenantID, productID, branchID)
}

func (tx *memoryTx) InsertRecord(ctx context.Context, record Record) (Record, error) {
	tx.store.nextID++
	record.ID = tx.store.nextID
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt
	tx.store.records[recordKey(record.TenantID, record.ProductID, record.BranchID)] = record
	return record, nil
}

func (tx *memoryTx) UpdateRecordQuantity(ctx context.Context, recordID int64, quantity float64) error {
	for key, rec := range tx.store.records {
		if rec.ID == recordID {
			rec.Quantity = quantity
			tx.store.records[key] = rec
			return nil
		}
	}
	return ErrRecordNotFound
}

func (tx *memoryTx) InsertMovement(ctx context.Context, movement Movement) (Movement, error) {
	tx.store.nextID++
	movement.ID = tx.store.nextID
	movement.CreatedAt = time.Now()
	tx.store.movements = append(tx.store.movements, movement)
	return movement, nil
}

type memoryCatalog struct {
	products map[int64]ProductInfo
}

func (c *memoryCatalog) Product(ctx context.Context, tenantID, productID int64) (ProductInfo, error) {
	if p, ok := c.products[productID]; ok {
		return p, nil
	}
	return ProductInfo{}, shared.ErrNotFound
}

func newTestLedger() (*Ledger, *memoryStore) {
	store := newMemoryStore()
	catalog := &memoryCatalog{products: map[int64]ProductInfo{
		1: {ID: 1, Name: "Arabica Beans 1kg", TrackStock: true, IsActive: true},
		2: {ID: 2, Name: "Gift Wrap Service", TrackStock: false, IsActive: true},
	}}
	return NewLedger(store, catalog, nil), store
}

func TestApplyCreatesRecordOnFirstMovement(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()

	record, movement, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 5, ActorID: 7})
	require.NoError(t, err)
	require.InDelta(t, 5.0, record.Quantity, 0.0001)
	require.InDelta(t, 5.0, movement.Quantity, 0.0001)
	require.InDelta(t, 0.0, movement.PreviousQuantity, 0.0001)
	require.InDelta(t, 5.0, movement.NewQuantity, 0.0001)
	require.Len(t, store.movements, 1)
}

func TestApplyOutboundDebitsAndLogsNegativeDelta(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 5})
	require.NoError(t, err)

	record, movement, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementOutbound, Quantity: 2})
	require.NoError(t, err)
	require.InDelta(t, 3.0, record.Quantity, 0.0001)
	require.InDelta(t, -2.0, movement.Quantity, 0.0001)
	require.InDelta(t, 5.0, movement.PreviousQuantity, 0.0001)
	require.InDelta(t, 3.0, movement.NewQuantity, 0.0001)
}

func TestApplyOutboundRejectsInsufficientStock(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 3})
	require.NoError(t, err)

	_, _, err = ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementOutbound, Quantity: 4})
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "Arabica Beans 1kg", insufficient.ProductName)

	// Rejected movement leaves no trace.
	require.Len(t, store.movements, 1)
	rec, err := ledger.GetRecord(ctx, 10, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 3.0, rec.Quantity, 0.0001)
}

func TestApplyOutboundOnMissingRecordIsInsufficient(t *testing.T) {
	ledger, _ := newTestLedger()

	_, _, err := ledger.Apply(context.Background(), 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementOutbound, Quantity: 1})
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
}

func TestApplyAdjustmentRecordsDelta(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 10})
	require.NoError(t, err)

	record, movement, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementAdjustment, Quantity: 7})
	require.NoError(t, err)
	require.InDelta(t, 7.0, record.Quantity, 0.0001)
	require.InDelta(t, -3.0, movement.Quantity, 0.0001)
	require.InDelta(t, 10.0, movement.PreviousQuantity, 0.0001)
	require.InDelta(t, 7.0, movement.NewQuantity, 0.0001)
}

func TestApplyAdjustmentToZeroAllowed(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 4})
	require.NoError(t, err)

	record, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementAdjustment, Quantity: 0})
	require.NoError(t, err)
	require.InDelta(t, 0.0, record.Quantity, 0.0001)
}

func TestApplyRejectsUntrackedProduct(t *testing.T) {
	ledger, _ := newTestLedger()

	_, _, err := ledger.Apply(context.Background(), 10, ApplyInput{ProductID: 2, BranchID: 1, Kind: MovementInbound, Quantity: 1})
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestApplyRejectsNonPositiveQuantity(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 0})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementAdjustment, Quantity: -1})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: "TRANSFER", Quantity: 1})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRecordQuantityIsFoldOfMovements(t *testing.T) {
	ledger, store := newTestLedger()
	ctx := context.Background()

	steps := []ApplyInput{
		{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 20},
		{ProductID: 1, BranchID: 1, Kind: MovementOutbound, Quantity: 6},
		{ProductID: 1, BranchID: 1, Kind: MovementAdjustment, Quantity: 11},
		{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 2.5},
	}
	for _, step := range steps {
		_, _, err := ledger.Apply(ctx, 10, step)
		require.NoError(t, err)
	}

	var sum float64
	for _, m := range store.movements {
		sum += m.Quantity
	}
	rec, err := ledger.GetRecord(ctx, 10, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, rec.Quantity, sum, 0.0001)
	require.InDelta(t, 13.5, rec.Quantity, 0.0001)
}

func TestKeysAreIsolatedPerBranchAndTenant(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 5})
	require.NoError(t, err)
	_, _, err = ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 2, Kind: MovementInbound, Quantity: 9})
	require.NoError(t, err)
	_, _, err = ledger.Apply(ctx, 11, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 1})
	require.NoError(t, err)

	rec, err := ledger.GetRecord(ctx, 10, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 5.0, rec.Quantity, 0.0001)
	rec, err = ledger.GetRecord(ctx, 10, 1, 2)
	require.NoError(t, err)
	require.InDelta(t, 9.0, rec.Quantity, 0.0001)
	rec, err = ledger.GetRecord(ctx, 11, 1, 1)
	require.NoError(t, err)
	require.InDelta(t, 1.0, rec.Quantity, 0.0001)
}

func TestListMovementsFiltersByKind(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 5})
	require.NoError(t, err)
	_, _, err = ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementOutbound, Quantity: 1})
	require.NoError(t, err)

	kind := MovementOutbound
	movements, err := ledger.ListMovements(ctx, 10, MovementFilter{Kind: &kind})
	require.NoError(t, err)
	require.Len(t, movements, 1)
	require.Equal(t, MovementOutbound, movements[0].Kind)

	bogus := MovementKind("BOGUS")
	_, err = ledger.ListMovements(ctx, 10, MovementFilter{Kind: &bogus})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestLowStockFilter(t *testing.T) {
	ledger, _ := newTestLedger()
	ctx := context.Background()

	_, _, err := ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 3})
	require.NoError(t, err)

	min := 5.0
	_, err = ledger.UpdateThresholds(ctx, 10, 1, 1, ThresholdsInput{MinStock: &min})
	require.NoError(t, err)

	records, err := ledger.ListRecords(ctx, 10, RecordFilter{LowStock: true})
	require.NoError(t, err)
	require.Len(t, records, 1)

	_, _, err = ledger.Apply(ctx, 10, ApplyInput{ProductID: 1, BranchID: 1, Kind: MovementInbound, Quantity: 10})
	require.NoError(t, err)

	records, err = ledger.ListRecords(ctx, 10, RecordFilter{LowStock: true})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestGetRecordMissingIsNotFound(t *testing.T) {
	ledger, _ := newTestLedger()

	_, err := ledger.GetRecord(context.Background(), 10, 99, 1)
	require.True(t, errors.Is(err, shared.ErrNotFound))
}
