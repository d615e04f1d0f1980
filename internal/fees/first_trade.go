package fees

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/telvault/escrow/pkg/models"
)

// Eligibility answers promotional eligibility questions from escrow history
type Eligibility struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewEligibility creates an eligibility checker
func NewEligibility(logger *zap.Logger, db *gorm.DB) *Eligibility {
	return &Eligibility{logger: logger, db: db}
}

// IsFirstPaidTrade reports whether the user has zero prior escrows, as
// buyer, whose payment was ever confirmed.
//
// The check anchors on payment_confirmed_at, not on status: escrows that
// expired or were cancelled before payment never count against the user,
// while escrows that were paid and later disputed or refunded do. The
// promotion is consumed the moment a payment is confirmed, whatever the
// trade's final outcome, so a dispute refund cannot re-arm it. Seller-side
// history is irrelevant.
//
// On a lookup failure the answer is false: never give away a free trade on
// a broken read.
func (e *Eligibility) IsFirstPaidTrade(ctx context.Context, buyerID uuid.UUID) bool {
	var count int64
	err := e.db.WithContext(ctx).Model(&models.Escrow{}).
		Where("buyer_id = ? AND payment_confirmed_at IS NOT NULL", buyerID).
		Count(&count).Error
	if err != nil {
		e.logger.Warn("first-trade eligibility lookup failed, assuming not first",
			zap.String("buyer_id", buyerID.String()), zap.Error(err))
		return false
	}
	return count == 0
}
