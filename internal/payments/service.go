package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-pos/meridian-pos/internal/sales"
	"github.com/meridian-pos/meridian-pos/internal/shared"
)

func nowUTC() time.Time { return time.Now().UTC() }

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service reconciles payments against sales.
type Service struct {
	repo  Repository
	audit AuditPort
}

// NewService builds Service. audit may be nil.
func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// Record settles one payment against a pending sale. The sale row is locked
// while the running total is computed, so concurrent payments serialize and
// overpayment cannot slip through. When completed payments reach the sale
// total, within tolerance, the sale flips to PAID in the same transaction.
func (s *Service) Record(ctx context.Context, tenantID, actorID int64, req RecordPaymentRequest) (Payment, SaleSummary, error) {
	var payment Payment
	var summary SaleSummary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, tenantID, req.SaleID)
		if err != nil {
			return err
		}
		switch sale.Status {
		case sales.StatusCancelled:
			return fmt.Errorf("%w: cannot pay a cancelled sale", shared.ErrInvalidState)
		case sales.StatusPaid:
			return fmt.Errorf("%w: sale is already paid", shared.ErrInvalidState)
		}

		totalPaid, err := tx.SumCompletedPayments(ctx, tenantID, req.SaleID)
		if err != nil {
			return err
		}
		remaining := sale.Total - totalPaid
		if req.Amount > remaining {
			return &shared.AmountExceedsBalanceError{Remaining: remaining}
		}

		payment, err = tx.InsertPayment(ctx, Payment{
			TenantID:   tenantID,
			SaleID:     req.SaleID,
			Amount:     req.Amount,
			Method:     req.Method,
			Status:     StatusCompleted,
			Reference:  req.Reference,
			Metadata:   req.Metadata,
			ReceivedBy: actorID,
		})
		if err != nil {
			return err
		}

		totalPaid += req.Amount
		summary = newSummary(sale.Total, totalPaid)
		if summary.IsPaid {
			if err := tx.UpdateSaleStatus(ctx, tenantID, req.SaleID, sales.StatusPaid); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Payment{}, SaleSummary{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "payment:record",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", payment.ID),
			Meta:     map[string]any{"sale_id": req.SaleID, "amount": req.Amount, "method": req.Method, "settled": summary.IsPaid},
		})
	}
	return payment, summary, nil
}

// Refund flips one completed payment to refunded and reverts the owning sale
// to PENDING whenever it was PAID. The sale reopens even if other completed
// payments still cover the total; the balance is reconciled by later
// payments, not inferred here.
func (s *Service) Refund(ctx context.Context, tenantID, actorID, paymentID int64, reason *string) (Payment, error) {
	var payment Payment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		payment, err = tx.GetPaymentForUpdate(ctx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if payment.Status == StatusRefunded {
			return fmt.Errorf("%w: payment is already refunded", shared.ErrInvalidState)
		}
		if payment.Status != StatusCompleted {
			return fmt.Errorf("%w: only completed payments can be refunded", shared.ErrInvalidState)
		}

		sale, err := tx.GetSaleForUpdate(ctx, tenantID, payment.SaleID)
		if err != nil {
			return err
		}

		now := nowUTC()
		payment.Status = StatusRefunded
		payment.RefundedBy = &actorID
		payment.RefundedAt = &now
		if err := tx.UpdatePaymentRefunded(ctx, payment); err != nil {
			return err
		}

		if sale.Status == sales.StatusPaid {
			if err := tx.UpdateSaleStatus(ctx, tenantID, payment.SaleID, sales.StatusPending); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Payment{}, err
	}

	if s.audit != nil {
		meta := map[string]any{"sale_id": payment.SaleID, "amount": payment.Amount}
		if reason != nil {
			meta["reason"] = *reason
		}
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actorID,
			Action:   "payment:refund",
			Entity:   "payment",
			EntityID: fmt.Sprintf("%d", payment.ID),
			Meta:     meta,
		})
	}
	return payment, nil
}

// BySale returns a sale's payments with its settlement summary. Both come
// from the same transaction so the list never shows a payment the summary
// has not counted.
func (s *Service) BySale(ctx context.Context, tenantID, saleID int64) ([]Payment, SaleSummary, error) {
	var payments []Payment
	var summary SaleSummary
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		totalPaid, err := tx.SumCompletedPayments(ctx, tenantID, saleID)
		if err != nil {
			return err
		}
		summary = newSummary(sale.Total, totalPaid)
		payments, err = tx.ListBySale(ctx, tenantID, saleID)
		return err
	})
	if err != nil {
		return nil, SaleSummary{}, err
	}
	return payments, summary, nil
}

// GetPayment returns one payment within the tenant scope.
func (s *Service) GetPayment(ctx context.Context, tenantID, paymentID int64) (Payment, error) {
	return s.repo.GetPayment(ctx, tenantID, paymentID)
}

// ListPayments returns a filtered, paginated listing.
func (s *Service) ListPayments(ctx context.Context, tenantID int64, filter PaymentFilter) ([]Payment, int, error) {
	return s.repo.ListPayments(ctx, tenantID, filter)
}

func newSummary(saleTotal, totalPaid float64) SaleSummary {
	remaining := saleTotal - totalPaid
	if remaining < 0 {
		remaining = 0
	}
	return SaleSummary{
		SaleTotal:        saleTotal,
		TotalPaid:        totalPaid,
		RemainingBalance: remaining,
		IsPaid:           totalPaid >= saleTotal-settleTolerance,
	}
}
