package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/telvault/escrow/internal/fees"
	"github.com/telvault/escrow/pkg/metrics"
	"github.com/telvault/escrow/pkg/models"
)

// ConfirmPayment applies an inbound payment to a payment_pending escrow.
// Webhook delivery is retried by providers, so the whole transition is
// idempotent: a second delivery observes the confirmed status and returns
// a duplicate outcome with no further side effects.
//
// Deadlines anchor here: delivery_deadline and auto_release_at are derived
// from the confirmation timestamp, never from creation time.
func (s *Service) ConfirmPayment(ctx context.Context, escrowID string, amountReceived decimal.Decimal) (*Result, error) {
	return s.confirmPayment(ctx, escrowID, amountReceived, true)
}

// FundFromWallet funds an escrow from the buyer's wallet balance and
// confirms payment in the same transaction
func (s *Service) FundFromWallet(ctx context.Context, escrowID string) (*Result, error) {
	return s.confirmPayment(ctx, escrowID, decimal.Zero, false)
}

func (s *Service) confirmPayment(ctx context.Context, escrowID string, amountReceived decimal.Decimal, external bool) (*Result, error) {
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

		switch esc.Status {
		case models.EscrowPaymentConfirmed, models.EscrowActive:
			result = duplicate(esc, "payment already confirmed")
			return nil
		case models.EscrowPaymentPending, models.EscrowPartialPayment:
		default:
			result = conflict(esc, fmt.Sprintf("cannot confirm payment in status %s", esc.Status))
			return nil
		}

		// The buyer owes the principal plus their own fee share; the
		// seller's share is withheld from the release later, never
		// collected upfront.
		owed := esc.Amount.Add(esc.BuyerFeeAmount)

		// An external partial payment parks the escrow without consuming
		// the confirmation timestamp or starting any countdown.
		if external && amountReceived.LessThan(owed) {
			esc.Status = models.EscrowPartialPayment
			esc.UpdatedAt = time.Now()
			if err := tx.Model(&models.Escrow{}).Where("id = ?", esc.ID).
				Updates(map[string]interface{}{"status": esc.Status, "updated_at": esc.UpdatedAt}).Error; err != nil {
				return fmt.Errorf("failed to record partial payment: %w", err)
			}
			s.logger.Info("partial payment recorded",
				zap.String("escrow_id", esc.EscrowID),
				zap.String("received", amountReceived.String()),
				zap.String("expected", owed.String()))
			result = success(esc)
			return nil
		}

		if external {
			// Ledger the inbound funds before taking them into escrow
			ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "escrow_deposit")
			if _, _, err := s.wallet.Credit(ctx, tx, esc.BuyerID, owed, esc.Currency,
				"escrow_deposit", ref, "Escrow deposit received"); err != nil {
				return err
			}
		}

		holdRef := models.TxReference(esc.EscrowID, models.DirectionDebit, "escrow_hold")
		if _, _, err := s.wallet.Debit(ctx, tx, esc.BuyerID, esc.Amount, esc.Currency,
			"escrow_hold", holdRef, "Funds held in escrow"); err != nil {
			return err
		}

		// Two-phase fee recognition: the buyer's fee share is captured at
		// payment time, the seller's share at release.
		if esc.BuyerFeeAmount.IsPositive() {
			feeRef := models.TxReference(esc.EscrowID, models.DirectionDebit, "buyer_fee")
			if _, _, err := s.wallet.Debit(ctx, tx, esc.BuyerID, esc.BuyerFeeAmount, esc.Currency,
				"buyer_fee", feeRef, "Escrow fee (buyer share)"); err != nil {
				return err
			}
		}

		now := time.Now()
		deadline := now.Add(s.cfg.DeliveryWindow)
		autoRelease := deadline.Add(s.cfg.GracePeriod)
		esc.Status = models.EscrowPaymentConfirmed
		esc.PaymentConfirmedAt = &now
		esc.DeliveryDeadline = &deadline
		esc.AutoReleaseAt = &autoRelease
		esc.UpdatedAt = now
		if err := tx.Model(&models.Escrow{}).Where("id = ?", esc.ID).Updates(map[string]interface{}{
			"status":               esc.Status,
			"payment_confirmed_at": esc.PaymentConfirmedAt,
			"delivery_deadline":    esc.DeliveryDeadline,
			"auto_release_at":      esc.AutoReleaseAt,
			"updated_at":           esc.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to confirm payment: %w", err)
		}

		s.logger.Info("payment confirmed",
			zap.String("escrow_id", esc.EscrowID),
			zap.Time("delivery_deadline", deadline),
			zap.Time("auto_release_at", autoRelease))
		result = success(esc)
		return nil
	})
	if err != nil {
		s.logger.Error("payment confirmation failed", zap.String("escrow_id", escrowID), zap.Error(err))
		return failure("payment confirmation failed, please retry"), err
	}
	return result, nil
}

// AcceptTrade records the seller's engagement and activates the escrow.
// The seller_accepted_at timestamp later decides between the standard and
// fair dispute refunds.
func (s *Service) AcceptTrade(ctx context.Context, escrowID string, sellerID uuid.UUID) (*Result, error) {
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

		if esc.Status == models.EscrowActive {
			result = duplicate(esc, "trade already accepted")
			return nil
		}
		if esc.Status != models.EscrowPaymentConfirmed {
			result = conflict(esc, fmt.Sprintf("cannot accept trade in status %s", esc.Status))
			return nil
		}

		now := time.Now()
		esc.Status = models.EscrowActive
		esc.SellerAcceptedAt = &now
		if esc.SellerID == nil {
			esc.SellerID = &sellerID
		}
		esc.UpdatedAt = now
		if err := tx.Model(&models.Escrow{}).Where("id = ?", esc.ID).Updates(map[string]interface{}{
			"status":             esc.Status,
			"seller_accepted_at": esc.SellerAcceptedAt,
			"seller_id":          esc.SellerID,
			"updated_at":         esc.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to accept trade: %w", err)
		}

		s.logger.Info("trade accepted",
			zap.String("escrow_id", esc.EscrowID), zap.String("seller_id", sellerID.String()))
		result = success(esc)
		return nil
	})
	if err != nil {
		return failure("trade acceptance failed, please retry"), err
	}
	return result, nil
}

// Release completes an active escrow: the seller is credited the net
// amount and the platform recognizes the retained fee. Retried deliveries
// are absorbed by the unique ledger references.
func (s *Service) Release(ctx context.Context, escrowID string) (*Result, error) {
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

		if esc.Status == models.EscrowCompleted {
			result = duplicate(esc, "escrow already completed")
			return nil
		}
		if esc.Status != models.EscrowActive {
			result = conflict(esc, fmt.Sprintf("cannot release in status %s", esc.Status))
			return nil
		}
		if esc.SellerID == nil {
			result = conflict(esc, "escrow has no seller")
			return nil
		}

		release := fees.ReleaseAmount(esc.Amount, esc.SellerFeeAmount)
		ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "release")
		if _, _, err := s.wallet.Credit(ctx, tx, *esc.SellerID, release, esc.Currency,
			"release", ref, "Escrow release"); err != nil {
			return err
		}

		// Fee recognition completes here: buyer share was captured at
		// payment time, the full retained fee becomes revenue at release.
		if err := s.recordRevenue(ctx, tx, esc, esc.FeeAmount, "release_fee"); err != nil {
			return err
		}

		now := time.Now()
		esc.Status = models.EscrowCompleted
		esc.CompletedAt = &now
		esc.UpdatedAt = now
		if err := tx.Model(&models.Escrow{}).Where("id = ?", esc.ID).Updates(map[string]interface{}{
			"status":       esc.Status,
			"completed_at": esc.CompletedAt,
			"updated_at":   esc.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to complete escrow: %w", err)
		}

		if err := s.incrementCompletedTrades(ctx, tx, esc.BuyerID, *esc.SellerID); err != nil {
			return err
		}

		metrics.EscrowsSettled.WithLabelValues(string(models.EscrowCompleted)).Inc()
		s.logger.Info("escrow released",
			zap.String("escrow_id", esc.EscrowID),
			zap.String("release_amount", release.String()),
			zap.String("fee_retained", esc.FeeAmount.String()))
		result = success(esc)
		return nil
	})
	if err != nil {
		s.logger.Error("release failed", zap.String("escrow_id", escrowID), zap.Error(err))
		return failure("release failed, please retry"), err
	}
	return result, nil
}
