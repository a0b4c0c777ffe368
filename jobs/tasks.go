package jobs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan is the task type for branch low stock scans.
	TaskLowStockScan = "stock:low_stock_scan"
)

// LowStockScanPayload identifies the scope of one low stock scan. A zero
// TenantID or BranchID means scan everything, as the cron trigger does.
type LowStockScanPayload struct {
	EventID  uuid.UUID `json:"event_id"`
	TenantID int64     `json:"tenant_id"`
	BranchID int64     `json:"branch_id"`
}

// NewLowStockScanTask constructs an Asynq task.
func NewLowStockScanTask(payload LowStockScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, data), nil
}

// Client submits jobs to the queue. It implements the sale orchestrator's
// alert port.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueLowStockScan enqueues a scan scoped to one tenant and branch.
func (c *Client) EnqueueLowStockScan(ctx context.Context, tenantID, branchID int64) error {
	task, err := NewLowStockScanTask(LowStockScanPayload{
		EventID:  uuid.New(),
		TenantID: tenantID,
		BranchID: branchID,
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
