package fees

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/telvault/escrow/pkg/models"
)

func seedEscrow(t *testing.T, db *gorm.DB, buyerID uuid.UUID, status models.EscrowStatus, confirmedAt *time.Time) {
	t.Helper()
	now := time.Now()
	esc := models.Escrow{
		ID:                 uuid.New(),
		EscrowID:           "ESC-" + uuid.New().String()[:12],
		BuyerID:            buyerID,
		Currency:           "USD",
		Amount:             decimal.RequireFromString("100"),
		FeeAmount:          decimal.RequireFromString("5"),
		BuyerFeeAmount:     decimal.RequireFromString("5"),
		SellerFeeAmount:    decimal.Zero,
		TotalAmount:        decimal.RequireFromString("105"),
		FeeSplitOption:     models.FeeSplitBuyerPays,
		Status:             status,
		CreatedAt:          now,
		UpdatedAt:          now,
		ExpiresAt:          now.Add(time.Hour),
		PaymentConfirmedAt: confirmedAt,
	}
	require.NoError(t, db.Create(&esc).Error)
}

func TestIsFirstPaidTrade(t *testing.T) {
	db := openTestDB(t)
	eligibility := NewEligibility(zap.NewNop(), db)
	ctx := context.Background()
	now := time.Now()

	t.Run("NoHistoryIsFirst", func(t *testing.T) {
		assert.True(t, eligibility.IsFirstPaidTrade(ctx, uuid.New()))
	})

	t.Run("UnpaidEscrowsDoNotCount", func(t *testing.T) {
		buyer := uuid.New()
		seedEscrow(t, db, buyer, models.EscrowCancelled, nil)
		seedEscrow(t, db, buyer, models.EscrowPaymentPending, nil)

		assert.True(t, eligibility.IsFirstPaidTrade(ctx, buyer),
			"expired and cancelled-before-payment escrows must not consume the promotion")
	})

	t.Run("ConfirmedPaymentConsumesPromotion", func(t *testing.T) {
		buyer := uuid.New()
		seedEscrow(t, db, buyer, models.EscrowActive, &now)

		assert.False(t, eligibility.IsFirstPaidTrade(ctx, buyer))
	})

	t.Run("RefundedButPaidStillConsumes", func(t *testing.T) {
		buyer := uuid.New()
		seedEscrow(t, db, buyer, models.EscrowRefunded, &now)

		assert.False(t, eligibility.IsFirstPaidTrade(ctx, buyer),
			"a dispute refund must not re-arm the free first trade")
	})

	t.Run("SellerSideHistoryIrrelevant", func(t *testing.T) {
		buyer := uuid.New()
		other := uuid.New()
		seedEscrow(t, db, other, models.EscrowCompleted, &now)

		assert.True(t, eligibility.IsFirstPaidTrade(ctx, buyer))
	})
}
