package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/telvault/escrow/pkg/metrics"
	"github.com/telvault/escrow/pkg/models"
)

// CancellationBreakdown is the refund arithmetic for a pre-completion
// cancellation, derived purely from the amounts frozen at creation
type CancellationBreakdown struct {
	BuyerRefund      decimal.Decimal `json:"buyer_refund"`
	PlatformRetained decimal.Decimal `json:"platform_retained"`
}

// ComputeCancellation returns the per-policy refund table for a
// cancellation without a dispute. The buyer always gets the principal
// back; the fee they already paid in stays with the platform. Under
// seller_pays the seller's fee was never collected, so nothing is
// retained. Only the dispute fair-refund path ever returns a paid fee.
func ComputeCancellation(esc *models.Escrow) CancellationBreakdown {
	retained := decimal.Zero
	switch esc.FeeSplitOption {
	case models.FeeSplitBuyerPays, models.FeeSplitShared:
		retained = esc.BuyerFeeAmount
	case models.FeeSplitSellerPays:
	}
	return CancellationBreakdown{
		BuyerRefund:      esc.Amount,
		PlatformRetained: retained,
	}
}

// Cancel cancels an escrow before completion. Pre-payment cancellation is
// a pure status change; post-payment cancellation refunds the buyer per
// the stored fee split. Disputed escrows must go through dispute
// resolution instead.
func (s *Service) Cancel(ctx context.Context, escrowID string) (*Result, error) {
	var result *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		esc, err := s.lockForUpdate(ctx, tx, escrowID)
		if err == ErrEscrowNotFound {
			result = notFound("escrow not found")
			return nil
		}
		if err != nil {
			return err
		}

		if esc.Status == models.EscrowCancelled {
			result = duplicate(esc, "escrow already cancelled")
			return nil
		}
		if esc.Status.Terminal() || esc.Status == models.EscrowDisputed {
			result = conflict(esc, fmt.Sprintf("cannot cancel in status %s", esc.Status))
			return nil
		}

		// No payment was ever confirmed: nothing to refund, no fee charged
		if esc.PaymentConfirmedAt != nil {
			breakdown := ComputeCancellation(esc)
			ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "refund")
			if _, _, err := s.wallet.Credit(ctx, tx, esc.BuyerID, breakdown.BuyerRefund, esc.Currency,
				"refund", ref, "Escrow cancellation refund"); err != nil {
				return err
			}
			if err := s.recordRevenue(ctx, tx, esc, breakdown.PlatformRetained, "cancellation_fee"); err != nil {
				return err
			}
			s.logger.Info("cancellation refund issued",
				zap.String("escrow_id", esc.EscrowID),
				zap.String("refund", breakdown.BuyerRefund.String()),
				zap.String("retained", breakdown.PlatformRetained.String()))
		}

		esc.Status = models.EscrowCancelled
		esc.UpdatedAt = time.Now()
		if err := tx.Model(&models.Escrow{}).Where("id = ?", esc.ID).
			Updates(map[string]interface{}{"status": esc.Status, "updated_at": esc.UpdatedAt}).Error; err != nil {
			return fmt.Errorf("failed to cancel escrow: %w", err)
		}

		metrics.EscrowsSettled.WithLabelValues(string(models.EscrowCancelled)).Inc()
		result = success(esc)
		return nil
	})
	if err != nil {
		s.logger.Error("cancellation failed", zap.String("escrow_id", escrowID), zap.Error(err))
		return failure("cancellation failed, please retry"), err
	}
	return result, nil
}

// RunExpirySweeper cancels unpaid escrows past their expiry on a fixed
// interval until the context ends
func (s *Service) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.expirePending(ctx); err != nil {
				s.logger.Error("expiry sweep failed", zap.Error(err))
			}
		}
	}
}

// expirePending moves expired payment_pending escrows to cancelled. No fee
// is ever charged for an escrow that never reached payment confirmation.
func (s *Service) expirePending(ctx context.Context) error {
	var expired []models.Escrow
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []models.EscrowStatus{models.EscrowPaymentPending, models.EscrowPartialPayment}, time.Now()).
		Limit(100).Find(&expired).Error
	if err != nil {
		return fmt.Errorf("failed to list expired escrows: %w", err)
	}

	for i := range expired {
		result, err := s.Cancel(ctx, expired[i].EscrowID)
		if err != nil {
			s.logger.Error("failed to expire escrow",
				zap.String("escrow_id", expired[i].EscrowID), zap.Error(err))
			continue
		}
		if result.Outcome == OutcomeSuccess {
			s.logger.Info("escrow expired", zap.String("escrow_id", expired[i].EscrowID))
		}
	}
	return nil
}
