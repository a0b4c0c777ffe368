package sales

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meridian-pos/meridian-pos/internal/platform/db"
	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
)

type memoryStockTx struct {
	records   map[string]stock.Record
	movements []stock.Movement
	nextID    int64
}

func newMemoryStockTx() *memoryStockTx {
	return &memoryStockTx{records: make(map[string]stock.Record)}
}

func stockKey(tenantID, productID, branchID int64) string {
	return fmt.Sprintf("%d:%d:%d", tenantID, productID, branchID)
}

func (s *memoryStockTx) seed(tenantID, productID, branchID int64, qty float64) {
	s.nextID++
	s.records[stockKey(tenantID, productID, branchID)] = stock.Record{
		ID: s.nextID, TenantID: tenantID, ProductID: productID, BranchID: branchID, Quantity: qty,
	}
}

func (s *memoryStockTx) GetRecordForUpdate(ctx context.Context, tenantID, productID, branchID int64) (stock.Record, error) {
	if rec, ok := s.records[stockKey(tenantID, productID, branchID)]; ok {
		return rec, nil
	}
	return stock.Record{}, stock.ErrRecordNotFound
}

func (s *memoryStockTx) InsertRecord(ctx context.Context, record stock.Record) (stock.Record, error) {
	s.nextID++
	record.ID = s.nextID
	s.records[stockKey(record.TenantID, record.ProductID, record.BranchID)] = record
	return record, nil
}

func (s *memoryStockTx) UpdateRecordQuantity(ctx context.Context, recordID int64, quantity float64) error {
	for key, rec := range s.records {
		if rec.ID == recordID {
			rec.Quantity = quantity
			s.records[key] = rec
			return nil
		}
	}
	return stock.ErrRecordNotFound
}

func (s *memoryStockTx) InsertMovement(ctx context.Context, movement stock.Movement) (stock.Movement, error) {
	s.nextID++
	movement.ID = s.nextID
	movement.CreatedAt = time.Now()
	s.movements = append(s.movements, movement)
	return movement, nil
}

type memoryRepo struct {
	sales   map[int64]Sale
	lines   map[int64][]Line
	stockTx *memoryStockTx
	nextID  int64

	// staleMaxReads makes that many MaxSaleNumber calls miss existing rows,
	// simulating a snapshot taken before a concurrent creator committed.
	staleMaxReads int
	txAttempts    int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sales:   make(map[int64]Sale),
		lines:   make(map[int64][]Line),
		stockTx: newMemoryStockTx(),
	}
}

// WithTx snapshots state up front and restores it when fn fails, mimicking a
// rollback. Retryable failures re-run fn the way the transaction boundary
// does.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	var err error
	for attempt := 1; attempt <= 3; attempt++ {
		r.txAttempts++
		salesBackup := make(map[int64]Sale, len(r.sales))
		for k, v := range r.sales {
			salesBackup[k] = v
		}
		linesBackup := make(map[int64][]Line, len(r.lines))
		for k, v := range r.lines {
			linesBackup[k] = append([]Line(nil), v...)
		}
		recordsBackup := make(map[string]stock.Record, len(r.stockTx.records))
		for k, v := range r.stockTx.records {
			recordsBackup[k] = v
		}
		movementsBackup := append([]stock.Movement(nil), r.stockTx.movements...)
		idBackup := r.nextID
		stockIDBackup := r.stockTx.nextID

		err = fn(ctx, &memoryTx{repo: r})
		if err == nil {
			return nil
		}
		r.sales = salesBackup
		r.lines = linesBackup
		r.stockTx.records = recordsBackup
		r.stockTx.movements = movementsBackup
		r.nextID = idBackup
		r.stockTx.nextID = stockIDBackup
		if !db.Retryable(err) {
			return err
		}
	}
	return err
}

func (r *memoryRepo) GetSale(ctx context.Context, tenantID, saleID int64) (Sale, error) {
	sale, ok := r.sales[saleID]
	if !ok || sale.TenantID != tenantID {
		return Sale{}, fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	sale.Lines = append([]Line(nil), r.lines[saleID]...)
	return sale, nil
}

func (r *memoryRepo) GetSaleByNumber(ctx context.Context, tenantID int64, number string) (Sale, error) {
	for _, sale := range r.sales {
		if sale.TenantID == tenantID && sale.SaleNumber == number {
			sale.Lines = append([]Line(nil), r.lines[sale.ID]...)
			return sale, nil
		}
	}
	return Sale{}, fmt.Errorf("%w: sale", shared.ErrNotFound)
}

func (r *memoryRepo) ListSales(ctx context.Context, tenantID int64, filter SaleFilter) ([]Sale, int, error) {
	var out []Sale
	for _, sale := range r.sales {
		if sale.TenantID != tenantID {
			continue
		}
		if filter.Status != nil && sale.Status != *filter.Status {
			continue
		}
		if filter.BranchID != nil && sale.BranchID != *filter.BranchID {
			continue
		}
		out = append(out, sale)
	}
	return out, len(out), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Stock() stock.TxStore { return t.repo.stockTx }

func (t *memoryTx) MaxSaleNumber(ctx context.Context, tenantID int64, prefix string) (string, error) {
	if t.repo.staleMaxReads > 0 {
		t.repo.staleMaxReads--
		return "", nil
	}
	max := ""
	for _, sale := range t.repo.sales {
		if sale.TenantID == tenantID && strings.HasPrefix(sale.SaleNumber, prefix) && sale.SaleNumber > max {
			max = sale.SaleNumber
		}
	}
	return max, nil
}

func (t *memoryTx) InsertSale(ctx context.Context, sale Sale) (Sale, error) {
	for _, existing := range t.repo.sales {
		if existing.TenantID == sale.TenantID && existing.SaleNumber == sale.SaleNumber {
			return Sale{}, db.MarkRetryable(fmt.Errorf("%w: sale number", shared.ErrConflict))
		}
	}
	t.repo.nextID++
	sale.ID = t.repo.nextID
	sale.CreatedAt = time.Now()
	sale.UpdatedAt = sale.CreatedAt
	t.repo.sales[sale.ID] = sale
	return sale, nil
}

func (t *memoryTx) InsertLines(ctx context.Context, saleID int64, lines []Line) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	for _, line := range lines {
		t.repo.nextID++
		line.ID = t.repo.nextID
		line.SaleID = saleID
		t.repo.lines[saleID] = append(t.repo.lines[saleID], line)
		out = append(out, line)
	}
	return out, nil
}

func (t *memoryTx) GetSaleForUpdate(ctx context.Context, tenantID, saleID int64) (Sale, error) {
	return t.repo.GetSale(ctx, tenantID, saleID)
}

func (t *memoryTx) UpdateSaleCancelled(ctx context.Context, sale Sale) error {
	stored, ok := t.repo.sales[sale.ID]
	if !ok {
		return fmt.Errorf("%w: sale", shared.ErrNotFound)
	}
	stored.Status = sale.Status
	stored.CancelledBy = sale.CancelledBy
	stored.CancelledAt = sale.CancelledAt
	stored.CancelReason = sale.CancelReason
	t.repo.sales[sale.ID] = stored
	return nil
}

type recordedAlert struct {
	tenantID int64
	branchID int64
}

type memoryAlerts struct {
	enqueued []recordedAlert
}

func (a *memoryAlerts) EnqueueLowStockScan(ctx context.Context, tenantID, branchID int64) error {
	a.enqueued = append(a.enqueued, recordedAlert{tenantID: tenantID, branchID: branchID})
	return nil
}

func newTestService() (*Service, *memoryRepo, *memoryAlerts) {
	repo := newMemoryRepo()
	alerts := &memoryAlerts{}
	ledger := stock.NewLedger(nil, nil, nil)
	svc := NewService(repo, newTestCatalog(), ledger, alerts, nil)
	return svc, repo, alerts
}

func TestCreateSaleDebitsTrackedLines(t *testing.T) {
	svc, repo, alerts := newTestService()
	repo.stockTx.seed(10, 1, 1, 5)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, sale.Status)
	require.InDelta(t, 232.0, sale.Total, 0.0001)
	require.Equal(t, int64(7), sale.CreatedBy)

	rec := repo.stockTx.records[stockKey(10, 1, 1)]
	require.InDelta(t, 3.0, rec.Quantity, 0.0001)

	require.Len(t, repo.stockTx.movements, 1)
	movement := repo.stockTx.movements[0]
	require.Equal(t, stock.MovementSaleDebit, movement.Kind)
	require.InDelta(t, -2.0, movement.Quantity, 0.0001)
	require.NotNil(t, movement.SaleID)
	require.Equal(t, sale.ID, *movement.SaleID)
	require.NotNil(t, movement.Reference)
	require.Equal(t, sale.SaleNumber, *movement.Reference)

	require.Len(t, alerts.enqueued, 1)
	require.Equal(t, recordedAlert{tenantID: 10, branchID: 1}, alerts.enqueued[0])
}

func TestCreateSaleRollsBackOnInsufficientStock(t *testing.T) {
	svc, repo, alerts := newTestService()
	repo.stockTx.seed(10, 1, 1, 5)
	repo.stockTx.seed(10, 3, 1, 10)
	ctx := context.Background()

	_, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines: []CreateSaleLineRequest{
			{ProductID: 3, Quantity: 1},
			{ProductID: 1, Quantity: 6},
		},
	})
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, "Arabica Beans 1kg", insufficient.ProductName)

	// Nothing from the unit survives: no sale, no lines, no movements, stock
	// untouched.
	require.Empty(t, repo.sales)
	require.Empty(t, repo.lines)
	require.Empty(t, repo.stockTx.movements)
	rec := repo.stockTx.records[stockKey(10, 1, 1)]
	require.InDelta(t, 5.0, rec.Quantity, 0.0001)
	require.Empty(t, alerts.enqueued)
}

func TestCreateSaleSkipsUntrackedProducts(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.stockTx.seed(10, 1, 1, 5)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines: []CreateSaleLineRequest{
			{ProductID: 1, Quantity: 1},
			{ProductID: 2, Quantity: 3},
		},
	})
	require.NoError(t, err)
	require.Len(t, sale.Lines, 2)

	// Only the tracked line debits.
	require.Len(t, repo.stockTx.movements, 1)
	require.Equal(t, int64(1), repo.stockTx.movements[0].ProductID)
	_, ok := repo.stockTx.records[stockKey(10, 2, 1)]
	require.False(t, ok)
}

func TestCreateSaleRejectsInactiveBranch(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CreateSale(context.Background(), 10, 7, CreateSaleRequest{
		BranchID: 2,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestSaleNumbersIncrementWithinDay(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.stockTx.seed(10, 1, 1, 100)
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	first, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "202608310001", first.SaleNumber)

	second, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "202608310002", second.SaleNumber)

	// A new day restarts the sequence; another tenant has its own.
	svc.now = func() time.Time { return fixed.Add(24 * time.Hour) }
	third, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "202609010001", third.SaleNumber)

	repo.stockTx.seed(11, 1, 1, 100)
	svc.now = func() time.Time { return fixed }
	other, err := svc.CreateSale(ctx, 11, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "202608310001", other.SaleNumber)
}

// Two creators can derive the same daily sequence from the same snapshot.
// The unique index rejects the loser and the retried transaction re-derives
// past the winner.
func TestCreateSaleRetriesPastConcurrentSaleNumber(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.stockTx.seed(10, 1, 1, 10)
	fixed := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	// A concurrent creator already committed today's first number, but the
	// losing transaction's snapshot predates it.
	repo.nextID++
	repo.sales[repo.nextID] = Sale{
		ID: repo.nextID, TenantID: 10, BranchID: 1,
		SaleNumber: "202608310001", Status: StatusPending,
	}
	repo.staleMaxReads = 1
	repo.txAttempts = 0

	sale, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	require.Equal(t, "202608310002", sale.SaleNumber)
	require.Equal(t, 2, repo.txAttempts)
}

// With one unit on hand, the first of two competing sales wins it; the other
// fails whole and leaves nothing behind.
func TestConcurrentSalesCompeteForLastUnit(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.stockTx.seed(10, 1, 1, 1)
	ctx := context.Background()
	req := CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	}

	first, err := svc.CreateSale(ctx, 10, 7, req)
	require.NoError(t, err)

	_, err = svc.CreateSale(ctx, 10, 7, req)
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	require.Len(t, repo.sales, 1)
	require.Len(t, repo.stockTx.movements, 1)
	require.Equal(t, first.ID, *repo.stockTx.movements[0].SaleID)
	rec := repo.stockTx.records[stockKey(10, 1, 1)]
	require.InDelta(t, 0.0, rec.Quantity, 0.0001)
}

func TestCreateSaleKeepsCustomerReference(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.stockTx.seed(10, 1, 1, 5)
	customer := int64(42)

	sale, err := svc.CreateSale(context.Background(), 10, 7, CreateSaleRequest{
		BranchID:   1,
		CustomerID: &customer,
		Lines:      []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)
	require.NotNil(t, sale.CustomerID)
	require.Equal(t, customer, *sale.CustomerID)

	stored, err := svc.GetSale(context.Background(), 10, sale.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CustomerID)
	require.Equal(t, customer, *stored.CustomerID)
}

func TestCancelSalePendingOnly(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.stockTx.seed(10, 1, 1, 5)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 1}},
	})
	require.NoError(t, err)

	reason := "customer walked away"
	cancelled, err := svc.CancelSale(ctx, 10, 8, sale.ID, &reason)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	require.Equal(t, int64(8), *cancelled.CancelledBy)
	require.NotNil(t, cancelled.CancelledAt)

	_, err = svc.CancelSale(ctx, 10, 8, sale.ID, nil)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

// Cancellation intentionally leaves debited stock alone. Returning goods is a
// separate inbound movement, not a side effect of the status change.
func TestCancelSaleKeepsDebitedStock(t *testing.T) {
	svc, repo, _ := newTestService()
	repo.stockTx.seed(10, 1, 1, 5)
	ctx := context.Background()

	sale, err := svc.CreateSale(ctx, 10, 7, CreateSaleRequest{
		BranchID: 1,
		Lines:    []CreateSaleLineRequest{{ProductID: 1, Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = svc.CancelSale(ctx, 10, 7, sale.ID, nil)
	require.NoError(t, err)

	rec := repo.stockTx.records[stockKey(10, 1, 1)]
	require.InDelta(t, 3.0, rec.Quantity, 0.0001)
	require.Len(t, repo.stockTx.movements, 1)
}

func TestCancelUnknownSaleIsNotFound(t *testing.T) {
	svc, _, _ := newTestService()

	_, err := svc.CancelSale(context.Background(), 10, 7, 99, nil)
	require.ErrorIs(t, err, shared.ErrNotFound)
}
