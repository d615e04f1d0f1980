package escrow

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telvault/escrow/pkg/models"
)

func TestOpenDispute(t *testing.T) {
	ctx := context.Background()

	t.Run("PaidEscrowCanBeDisputed", func(t *testing.T) {
		env := newTestEnv(t)
		esc := env.create(t, uuid.New(), nil, "100", models.FeeSplitBuyerPays)
		_, err := env.svc.ConfirmPayment(ctx, esc.EscrowID, d("105.00"))
		require.NoError(t, err)

		res, err := env.svc.OpenDispute(ctx, esc.EscrowID, esc.BuyerID, "goods not delivered")
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, models.EscrowDisputed, res.Escrow.Status)

		var dispute models.Dispute
		require.NoError(t, env.db.First(&dispute, "escrow_id = ?", esc.EscrowID).Error)
		assert.Equal(t, models.DisputeOpen, dispute.Status)
		assert.Equal(t, "goods not delivered", dispute.Reason)
	})

	t.Run("UnpaidEscrowCannotBeDisputed", func(t *testing.T) {
		env := newTestEnv(t)
		esc := env.create(t, uuid.New(), nil, "100", models.FeeSplitBuyerPays)

		res, err := env.svc.OpenDispute(ctx, esc.EscrowID, esc.BuyerID, "cold feet")
		require.NoError(t, err)
		assert.Equal(t, OutcomeConflict, res.Outcome)
	})

	t.Run("SecondDisputeIsDuplicate", func(t *testing.T) {
		env := newTestEnv(t)
		esc := env.create(t, uuid.New(), nil, "100", models.FeeSplitBuyerPays)
		_, err := env.svc.ConfirmPayment(ctx, esc.EscrowID, d("105.00"))
		require.NoError(t, err)
		_, err = env.svc.OpenDispute(ctx, esc.EscrowID, esc.BuyerID, "first")
		require.NoError(t, err)

		res, err := env.svc.OpenDispute(ctx, esc.EscrowID, esc.BuyerID, "second")
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
	})
}

func TestResolveValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("CustomSplitMustSumToHundred", func(t *testing.T) {
		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:      "ESC-X",
			ResolvedBy:    uuid.New(),
			Resolution:    ResolutionCustomSplit,
			BuyerPercent:  d("60"),
			SellerPercent: d("60"),
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeValidationFailed, res.Outcome)
		assert.NotEmpty(t, res.Violations)
	})

	t.Run("NegativePercentagesRejected", func(t *testing.T) {
		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:      "ESC-X",
			ResolvedBy:    uuid.New(),
			Resolution:    ResolutionCustomSplit,
			BuyerPercent:  d("-10"),
			SellerPercent: d("110"),
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeValidationFailed, res.Outcome)
	})

	t.Run("UnknownResolutionRejected", func(t *testing.T) {
		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:   "ESC-X",
			ResolvedBy: uuid.New(),
			Resolution: "coin_flip",
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeValidationFailed, res.Outcome)
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	// disputed drives a freshly paid escrow into the disputed state,
	// optionally through seller acceptance first
	disputed := func(t *testing.T, env *testEnv, split models.FeeSplitOption, accepted bool) (*models.Escrow, uuid.UUID, uuid.UUID) {
		t.Helper()
		buyer := env.seedUser(t)
		seller := env.seedUser(t)
		esc := env.create(t, buyer, &seller, "100", split)
		_, err := env.svc.ConfirmPayment(ctx, esc.EscrowID, esc.TotalAmount)
		require.NoError(t, err)
		if accepted {
			res, err := env.svc.AcceptTrade(ctx, esc.EscrowID, seller)
			require.NoError(t, err)
			require.Equal(t, OutcomeSuccess, res.Outcome)
		}
		res, err := env.svc.OpenDispute(ctx, esc.EscrowID, buyer, "disagreement")
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		return esc, buyer, seller
	}

	t.Run("FairRefundWhenSellerNeverAccepted", func(t *testing.T) {
		env := newTestEnv(t)
		esc, buyer, _ := disputed(t, env, models.FeeSplitBuyerPays, false)

		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:   esc.EscrowID,
			ResolvedBy: uuid.New(),
			Resolution: ResolutionRefundToBuyer,
		})
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, models.EscrowRefunded, res.Escrow.Status)

		// Buyer restored whole: principal plus the fee they paid in
		assert.True(t, env.balance(t, buyer).Equal(d("105.00")), "balance = %s", env.balance(t, buyer))
		assert.Empty(t, env.revenueRows(t, esc.EscrowID),
			"a fair refund must leave no retained fee behind")
	})

	t.Run("StandardRefundWhenSellerAccepted", func(t *testing.T) {
		env := newTestEnv(t)
		esc, buyer, _ := disputed(t, env, models.FeeSplitBuyerPays, true)

		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:   esc.EscrowID,
			ResolvedBy: uuid.New(),
			Resolution: ResolutionRefundToBuyer,
		})
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, models.EscrowRefunded, res.Escrow.Status)

		// The seller engaged: the buyer loses their fee share
		assert.True(t, env.balance(t, buyer).Equal(d("95.00")), "balance = %s", env.balance(t, buyer))
		rows := env.revenueRows(t, esc.EscrowID)
		require.Len(t, rows, 1)
		assert.Equal(t, "dispute_resolution_fee", rows[0].FeeType)
		assert.True(t, rows[0].FeeAmount.Equal(d("5.00")))
	})

	t.Run("ReleaseToSeller", func(t *testing.T) {
		env := newTestEnv(t)
		esc, buyer, seller := disputed(t, env, models.FeeSplitShared, true)

		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:   esc.EscrowID,
			ResolvedBy: uuid.New(),
			Resolution: ResolutionReleaseToSeller,
		})
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, models.EscrowCompleted, res.Escrow.Status)

		assert.True(t, env.balance(t, seller).Equal(d("97.50")), "seller = %s", env.balance(t, seller))
		rows := env.revenueRows(t, esc.EscrowID)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].FeeAmount.Equal(d("5.00")), "both fee shares are retained")

		// A dispute won by the seller still counts as a completed trade
		var buyerRow models.User
		require.NoError(t, env.db.First(&buyerRow, "id = ?", buyer).Error)
		assert.Equal(t, 1, buyerRow.CompletedTrades)
	})

	t.Run("CustomSplit", func(t *testing.T) {
		env := newTestEnv(t)
		esc, buyer, seller := disputed(t, env, models.FeeSplitShared, true)

		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:      esc.EscrowID,
			ResolvedBy:    uuid.New(),
			Resolution:    ResolutionCustomSplit,
			BuyerPercent:  d("30"),
			SellerPercent: d("70"),
		})
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, models.EscrowCompleted, res.Escrow.Status)

		assert.True(t, env.balance(t, buyer).Equal(d("30.00")), "buyer = %s", env.balance(t, buyer))
		assert.True(t, env.balance(t, seller).Equal(d("70.00")), "seller = %s", env.balance(t, seller))
		rows := env.revenueRows(t, esc.EscrowID)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].FeeAmount.Equal(d("5.00")), "fees are never part of the split")
	})

	t.Run("CustomSplitOddCentGoesToSeller", func(t *testing.T) {
		env := newTestEnv(t)
		buyer := env.seedUser(t)
		seller := env.seedUser(t)
		esc := env.create(t, buyer, &seller, "100.01", models.FeeSplitSellerPays)
		_, err := env.svc.ConfirmPayment(ctx, esc.EscrowID, esc.TotalAmount)
		require.NoError(t, err)
		_, err = env.svc.AcceptTrade(ctx, esc.EscrowID, seller)
		require.NoError(t, err)
		_, err = env.svc.OpenDispute(ctx, esc.EscrowID, buyer, "half and half")
		require.NoError(t, err)

		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:      esc.EscrowID,
			ResolvedBy:    uuid.New(),
			Resolution:    ResolutionCustomSplit,
			BuyerPercent:  d("50"),
			SellerPercent: d("50"),
		})
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)

		assert.True(t, env.balance(t, buyer).Equal(d("50.00")), "buyer = %s", env.balance(t, buyer))
		assert.True(t, env.balance(t, seller).Equal(d("50.01")), "seller = %s", env.balance(t, seller))
	})

	t.Run("SecondResolutionIsDuplicate", func(t *testing.T) {
		env := newTestEnv(t)
		esc, buyer, _ := disputed(t, env, models.FeeSplitBuyerPays, false)

		_, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:   esc.EscrowID,
			ResolvedBy: uuid.New(),
			Resolution: ResolutionRefundToBuyer,
		})
		require.NoError(t, err)

		// A retried resolution, even a different one, must not move money
		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:   esc.EscrowID,
			ResolvedBy: uuid.New(),
			Resolution: ResolutionReleaseToSeller,
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeDuplicate, res.Outcome)
		assert.True(t, env.balance(t, buyer).Equal(d("105.00")))
	})

	t.Run("NoDisputeNotFound", func(t *testing.T) {
		env := newTestEnv(t)
		esc := env.create(t, uuid.New(), nil, "100", models.FeeSplitBuyerPays)

		res, err := env.svc.Resolve(ctx, ResolveRequest{
			EscrowID:   esc.EscrowID,
			ResolvedBy: uuid.New(),
			Resolution: ResolutionRefundToBuyer,
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeNotFound, res.Outcome)
	})
}
