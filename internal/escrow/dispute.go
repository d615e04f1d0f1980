package escrow

import (
	"context"
	"errors"
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

// ResolutionType is the admin-adjudicated outcome of a dispute
type ResolutionType string

const (
	ResolutionRefundToBuyer   ResolutionType = "refund_to_buyer"
	ResolutionReleaseToSeller ResolutionType = "release_to_seller"
	ResolutionCustomSplit     ResolutionType = "custom_split"
)

// ResolveRequest is the input for dispute resolution. Percentages are only
// read for custom splits and must sum to 100.
type ResolveRequest struct {
	EscrowID      string          `json:"escrow_id" validate:"required"`
	ResolvedBy    uuid.UUID       `json:"resolved_by" validate:"required"`
	Resolution    ResolutionType  `json:"resolution" validate:"required,oneof=refund_to_buyer release_to_seller custom_split"`
	BuyerPercent  decimal.Decimal `json:"buyer_percent"`
	SellerPercent decimal.Decimal `json:"seller_percent"`
}

// OpenDispute flags an escrow as disputed and opens the dispute record.
// Either party or the platform may dispute a paid escrow.
func (s *Service) OpenDispute(ctx context.Context, escrowID string, initiatorID uuid.UUID, reason string) (*Result, error) {
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

		if esc.Status == models.EscrowDisputed {
			result = duplicate(esc, "escrow already disputed")
			return nil
		}
		switch esc.Status {
		case models.EscrowPaymentConfirmed, models.EscrowActive:
		default:
			result = conflict(esc, fmt.Sprintf("cannot dispute in status %s", esc.Status))
			return nil
		}

		dispute := models.Dispute{
			ID:          uuid.New(),
			EscrowID:    esc.EscrowID,
			InitiatorID: initiatorID,
			Reason:      reason,
			Status:      models.DisputeOpen,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		if err := tx.WithContext(ctx).Create(&dispute).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				result = duplicate(esc, "dispute already open")
				return nil
			}
			return fmt.Errorf("failed to create dispute: %w", err)
		}

		esc.Status = models.EscrowDisputed
		esc.UpdatedAt = time.Now()
		if err := tx.Model(&models.Escrow{}).Where("id = ?", esc.ID).
			Updates(map[string]interface{}{"status": esc.Status, "updated_at": esc.UpdatedAt}).Error; err != nil {
			return fmt.Errorf("failed to mark escrow disputed: %w", err)
		}

		s.logger.Info("dispute opened",
			zap.String("escrow_id", esc.EscrowID),
			zap.String("initiator_id", initiatorID.String()),
			zap.String("reason", reason))
		result = success(esc)
		return nil
	})
	if err != nil {
		s.logger.Error("dispute open failed", zap.String("escrow_id", escrowID), zap.Error(err))
		return failure("could not open dispute, please retry"), err
	}
	return result, nil
}

// validateResolve collects every violation in a resolution request
func validateResolve(req ResolveRequest) []string {
	var violations []string
	if req.EscrowID == "" {
		violations = append(violations, "escrow_id is required")
	}
	if req.ResolvedBy == uuid.Nil {
		violations = append(violations, "resolved_by is required")
	}
	switch req.Resolution {
	case ResolutionRefundToBuyer, ResolutionReleaseToSeller:
	case ResolutionCustomSplit:
		if req.BuyerPercent.IsNegative() || req.SellerPercent.IsNegative() {
			violations = append(violations, "split percentages must not be negative")
		}
		if !req.BuyerPercent.Add(req.SellerPercent).Equal(decimal.NewFromInt(100)) {
			violations = append(violations, fmt.Sprintf("split percentages must sum to 100, got %s + %s",
				req.BuyerPercent, req.SellerPercent))
		}
	default:
		violations = append(violations, fmt.Sprintf("invalid resolution type %q", req.Resolution))
	}
	return violations
}

// Resolve applies an admin-adjudicated outcome to a disputed escrow.
//
// The fee amounts were frozen at creation; resolution only reallocates
// them. The one asymmetry is the fair-refund rule: when the seller never
// accepted the trade, the buyer is made whole including the fee they paid,
// and no platform revenue is recorded. Every other resolution retains
// both fee shares as dispute resolution revenue.
//
// The resolution is atomic: wallet credits, the revenue record, and both
// status transitions commit together or not at all. On failure the
// dispute stays open for retry.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*Result, error) {
	if violations := validateResolve(req); len(violations) > 0 {
		return validationFailed(violations), nil
	}

	var result *Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		esc, err := s.lockForUpdate(ctx, tx, req.EscrowID)
		if err == ErrEscrowNotFound {
			result = notFound("escrow not found")
			return nil
		}
		if err != nil {
			return err
		}

		var dispute models.Dispute
		err = tx.WithContext(ctx).Where("escrow_id = ?", esc.EscrowID).First(&dispute).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			result = notFound("no dispute for escrow")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find dispute: %w", err)
		}

		if dispute.Status == models.DisputeResolved {
			result = duplicate(esc, "dispute already resolved")
			return nil
		}
		if esc.Status != models.EscrowDisputed {
			result = conflict(esc, fmt.Sprintf("escrow is %s, not disputed", esc.Status))
			return nil
		}

		finalStatus, err := s.applyResolution(ctx, tx, esc, req)
		if err != nil {
			return err
		}

		now := time.Now()
		esc.Status = finalStatus
		esc.UpdatedAt = now
		updates := map[string]interface{}{"status": esc.Status, "updated_at": esc.UpdatedAt}
		if finalStatus == models.EscrowCompleted {
			esc.CompletedAt = &now
			updates["completed_at"] = esc.CompletedAt
		}
		if err := tx.Model(&models.Escrow{}).Where("id = ?", esc.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to transition escrow: %w", err)
		}

		if err := tx.Model(&models.Dispute{}).Where("id = ?", dispute.ID).Updates(map[string]interface{}{
			"status":      models.DisputeResolved,
			"resolution":  string(req.Resolution),
			"resolved_by": req.ResolvedBy,
			"resolved_at": &now,
			"updated_at":  now,
		}).Error; err != nil {
			return fmt.Errorf("failed to resolve dispute: %w", err)
		}

		metrics.DisputesResolved.WithLabelValues(string(req.Resolution)).Inc()
		metrics.EscrowsSettled.WithLabelValues(string(finalStatus)).Inc()
		s.logger.Info("dispute resolved",
			zap.String("escrow_id", esc.EscrowID),
			zap.String("resolution", string(req.Resolution)),
			zap.String("final_status", string(finalStatus)))
		result = success(esc)
		return nil
	})
	if err != nil {
		s.logger.Error("dispute resolution failed",
			zap.String("escrow_id", req.EscrowID), zap.Error(err))
		return failure("dispute resolution failed, dispute remains open"), err
	}
	return result, nil
}

// applyResolution moves the money for one resolution type and returns the
// escrow's final status
func (s *Service) applyResolution(ctx context.Context, tx *gorm.DB, esc *models.Escrow, req ResolveRequest) (models.EscrowStatus, error) {
	totalFees := esc.BuyerFeeAmount.Add(esc.SellerFeeAmount)

	switch req.Resolution {
	case ResolutionRefundToBuyer:
		if esc.SellerAcceptedAt != nil {
			// Seller engaged: buyer loses the fee, the platform keeps both shares
			refund := fees.RefundAmount(esc.Amount, esc.BuyerFeeAmount)
			ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "dispute_refund")
			if _, _, err := s.wallet.Credit(ctx, tx, esc.BuyerID, refund, esc.Currency,
				"dispute_refund", ref, "Dispute refund"); err != nil {
				return "", err
			}
			if err := s.recordRevenue(ctx, tx, esc, totalFees, "dispute_resolution_fee"); err != nil {
				return "", err
			}
			return models.EscrowRefunded, nil
		}
		// Fair refund: the seller never engaged, so the buyer is restored
		// to their pre-trade position, fee included, and the platform
		// earns nothing.
		refund := esc.Amount.Add(esc.BuyerFeeAmount)
		ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "dispute_refund")
		if _, _, err := s.wallet.Credit(ctx, tx, esc.BuyerID, refund, esc.Currency,
			"dispute_refund", ref, "Dispute fair refund"); err != nil {
			return "", err
		}
		return models.EscrowRefunded, nil

	case ResolutionReleaseToSeller:
		if esc.SellerID == nil {
			return "", fmt.Errorf("cannot release to seller: escrow has no seller")
		}
		release := fees.ReleaseAmount(esc.Amount, esc.SellerFeeAmount)
		ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "dispute_release")
		if _, _, err := s.wallet.Credit(ctx, tx, *esc.SellerID, release, esc.Currency,
			"dispute_release", ref, "Dispute release"); err != nil {
			return "", err
		}
		if err := s.recordRevenue(ctx, tx, esc, totalFees, "dispute_resolution_fee"); err != nil {
			return "", err
		}
		if err := s.incrementCompletedTrades(ctx, tx, esc.BuyerID, *esc.SellerID); err != nil {
			return "", err
		}
		return models.EscrowCompleted, nil

	case ResolutionCustomSplit:
		if esc.SellerID == nil {
			return "", fmt.Errorf("cannot split: escrow has no seller")
		}
		// Only the principal is split; the fees are retained whole. The
		// buyer share rounds down so the odd cent lands on the seller
		// side, matching the creation-time split rule.
		buyerShare := esc.Amount.Mul(req.BuyerPercent).Div(decimal.NewFromInt(100)).RoundDown(fees.FiatPlaces)
		sellerShare := esc.Amount.Sub(buyerShare)

		if buyerShare.IsPositive() {
			ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "split_buyer")
			if _, _, err := s.wallet.Credit(ctx, tx, esc.BuyerID, buyerShare, esc.Currency,
				"dispute_split", ref, "Dispute split (buyer share)"); err != nil {
				return "", err
			}
		}
		if sellerShare.IsPositive() {
			ref := models.TxReference(esc.EscrowID, models.DirectionCredit, "split_seller")
			if _, _, err := s.wallet.Credit(ctx, tx, *esc.SellerID, sellerShare, esc.Currency,
				"dispute_split", ref, "Dispute split (seller share)"); err != nil {
				return "", err
			}
		}
		if err := s.recordRevenue(ctx, tx, esc, totalFees, "dispute_resolution_fee"); err != nil {
			return "", err
		}
		return models.EscrowCompleted, nil
	}
	return "", fmt.Errorf("unknown resolution type %q", req.Resolution)
}
