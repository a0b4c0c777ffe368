package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// LowStockItem is one stock key sitting at or under its minimum.
type LowStockItem struct {
	TenantID    int64
	ProductID   int64
	BranchID    int64
	ProductName string
	Quantity    float64
	MinStock    float64
}

// LowStockStore finds stock records at or under their minimum threshold.
type LowStockStore interface {
	FindLowStock(ctx context.Context, tenantID, branchID int64) ([]LowStockItem, error)
}

// LowStockScanner processes low stock scan tasks. Alerts are deduplicated
// per stock key per day through redis, so a busy branch does not repeat the
// same warning on every sale.
type LowStockScanner struct {
	store  LowStockStore
	redis  *redis.Client
	logger *slog.Logger
	now    func() time.Time
}

// NewLowStockScanner builds LowStockScanner.
func NewLowStockScanner(store LowStockStore, rdb *redis.Client, logger *slog.Logger) *LowStockScanner {
	return &LowStockScanner{store: store, redis: rdb, logger: logger, now: time.Now}
}

// Handle processes one TaskLowStockScan task.
func (s *LowStockScanner) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	alerted, err := s.Scan(ctx, payload.TenantID, payload.BranchID)
	if err != nil {
		return err
	}
	s.logger.Info("low stock scan finished",
		slog.String("event_id", payload.EventID.String()),
		slog.Int64("tenant_id", payload.TenantID),
		slog.Int64("branch_id", payload.BranchID),
		slog.Int("alerts", alerted))
	return nil
}

// Scan finds low stock keys in scope and emits one alert per key per day.
// Returns the number of fresh alerts.
func (s *LowStockScanner) Scan(ctx context.Context, tenantID, branchID int64) (int, error) {
	items, err := s.store.FindLowStock(ctx, tenantID, branchID)
	if err != nil {
		return 0, fmt.Errorf("find low stock: %w", err)
	}

	alerted := 0
	day := s.now().UTC().Format("20060102")
	for _, item := range items {
		key := fmt.Sprintf("lowstock:%s:%d:%d:%d", day, item.TenantID, item.ProductID, item.BranchID)
		fresh, err := s.redis.SetNX(ctx, key, 1, 24*time.Hour).Result()
		if err != nil {
			return alerted, fmt.Errorf("dedupe alert: %w", err)
		}
		if !fresh {
			continue
		}
		alerted++
		s.logger.Warn("low stock",
			slog.Int64("tenant_id", item.TenantID),
			slog.Int64("product_id", item.ProductID),
			slog.Int64("branch_id", item.BranchID),
			slog.String("product", item.ProductName),
			slog.Float64("quantity", item.Quantity),
			slog.Float64("min_stock", item.MinStock))
	}
	return alerted, nil
}
