package sales

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/shared"
	"github.com/meridian-pos/meridian-pos/internal/stock"
)

// AlertPort enqueues a low stock scan for a branch after a committed sale.
// A nil port disables the pipeline.
type AlertPort interface {
	EnqueueLowStockScan(ctx context.Context, tenantID, branchID int64) error
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates sale creation and lifecycle.
type Service struct {
	repo    Repository
	catalog CatalogPort
	ledger  *stock.Ledger
	alerts  AlertPort
	audit   AuditPort
	now     func() time.Time
}

// NewService builds Service. alerts and audit may be nil.
func NewService(repo Repository, catalog CatalogPort, ledger *stock.Ledger, alerts AlertPort, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: catalog, ledger: ledger, alerts: alerts, audit: audit, now: time.Now}
}

// CreateSale prices the request, assigns the next daily sale number and
// persists the sale with its stock debits as one transaction. A debit
// shortfall on any tracked line rolls the whole sale back.
func (s *Service) CreateSale(ctx context.Context, tenantID, actorID int64, req CreateSaleRequest) (Sale, error) {
	branch, err := s.catalog.Branch(ctx, tenantID, req.BranchID)
	if err != nil {
		return Sale{}, fmt.Errorf("load branch: %w", err)
	}
	if !branch.IsActive {
		return Sale{}, fmt.Errorf("%w: branch is inactive", shared.ErrNotFound)
	}

	priced, err := PriceSale(ctx, s.catalog, tenantID, req)
	if err != nil {
		return Sale{}, err
	}

	var sale Sale
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := s.nextSaleNumber(ctx, tx, tenantID)
		if err != nil {
			return err
		}

		sale, err = tx.InsertSale(ctx, Sale{
			TenantID:       tenantID,
			BranchID:       req.BranchID,
			SaleNumber:     number,
			Status:         StatusPending,
			Subtotal:       priced.Subtotal,
			DiscountAmount: priced.DiscountAmount,
			TaxAmount:      priced.TaxAmount,
			Total:          priced.Total,
			CustomerID:     req.CustomerID,
			Notes:          req.Notes,
			CreatedBy:      actorID,
		})
		if err != nil {
			return err
		}

		sale.Lines, err = tx.InsertLines(ctx, sale.ID, priced.Lines)
		if err != nil {
			return err
		}

		for _, line := range sale.Lines {
			if !line.Snapshot.TrackStock {
				continue
			}
			_, _, err := s.ledger.ApplyTx(ctx, tx.Stock(), tenantID, stock.ApplyInput{
				ProductID:   line.ProductID,
				BranchID:    req.BranchID,
				Kind:        stock.MovementSaleDebit,
				Quantity:    line.Quantity,
				Reference:   &sale.SaleNumber,
				SaleID:      &sale.ID,
				ActorID:     actorID,
				ProductName: line.Snapshot.Name,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Sale{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "sale:create",
			Entity:   "sale",
			EntityID: sale.SaleNumber,
			Meta:     map[string]any{"branch_id": req.BranchID, "total": sale.Total, "lines": len(sale.Lines)},
		})
	}
	if s.alerts != nil {
		_ = s.alerts.EnqueueLowStockScan(ctx, tenantID, req.BranchID)
	}
	return sale, nil
}

// nextSaleNumber derives the next per-tenant daily sequence inside the
// creating transaction. The unique index on (tenant_id, sale_number) is the
// backstop for concurrent creators; its violation retries the transaction.
func (s *Service) nextSaleNumber(ctx context.Context, tx TxRepository, tenantID int64) (string, error) {
	prefix := s.now().UTC().Format(saleNumberPrefix)
	max, err := tx.MaxSaleNumber(ctx, tenantID, prefix)
	if err != nil {
		return "", fmt.Errorf("derive sale number: %w", err)
	}
	seq := 1
	if max != "" {
		n, err := strconv.Atoi(max[len(prefix):])
		if err != nil {
			return "", fmt.Errorf("parse sale number %q: %w", max, err)
		}
		seq = n + 1
	}
	return formatSaleNumber(prefix, seq), nil
}

// CancelSale moves a pending sale to cancelled. Stock already debited stays
// debited; returns go through an explicit inbound movement.
func (s *Service) CancelSale(ctx context.Context, tenantID, actorID, saleID int64, reason *string) (Sale, error) {
	var sale Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sale, err = tx.GetSaleForUpdate(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != StatusPending {
			return fmt.Errorf("%w: only pending sales can be cancelled", shared.ErrInvalidState)
		}
		now := s.now().UTC()
		sale.Status = StatusCancelled
		sale.CancelledBy = &actorID
		sale.CancelledAt = &now
		sale.CancelReason = reason
		return tx.UpdateSaleCancelled(ctx, sale)
	})
	if err != nil {
		return Sale{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "sale:cancel",
			Entity:   "sale",
			EntityID: sale.SaleNumber,
		})
	}
	return sale, nil
}

// GetSale returns one sale with lines.
func (s *Service) GetSale(ctx context.Context, tenantID, saleID int64) (Sale, error) {
	return s.repo.GetSale(ctx, tenantID, saleID)
}

// GetSaleByNumber returns one sale by its business number.
func (s *Service) GetSaleByNumber(ctx context.Context, tenantID int64, number string) (Sale, error) {
	return s.repo.GetSaleByNumber(ctx, tenantID, number)
}

// ListSales returns a filtered, paginated listing without lines.
func (s *Service) ListSales(ctx context.Context, tenantID int64, filter SaleFilter) ([]Sale, int, error) {
	return s.repo.ListSales(ctx, tenantID, filter)
}
