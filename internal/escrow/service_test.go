package escrow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/telvault/escrow/internal/config"
	"github.com/telvault/escrow/internal/fees"
	"github.com/telvault/escrow/internal/payments"
	"github.com/telvault/escrow/internal/wallet"
	"github.com/telvault/escrow/pkg/models"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// stubProvider satisfies the payment provider interface without network I/O
type stubProvider struct {
	fail  bool
	calls int
}

func (p *stubProvider) Kind() payments.Kind { return payments.KindBlockBee }

func (p *stubProvider) CreatePaymentAddress(ctx context.Context, currency string, amount decimal.Decimal, callbackURL string) (*payments.PaymentAddress, error) {
	p.calls++
	if p.fail {
		return nil, errors.New("provider unavailable")
	}
	return &payments.PaymentAddress{Address: "bc1qtestaddress", ProviderID: "prov-1"}, nil
}

func (p *stubProvider) GetWithdrawalStatus(ctx context.Context, providerID string) (*payments.WithdrawalStatus, error) {
	return &payments.WithdrawalStatus{ProviderID: providerID, Status: "sent"}, nil
}

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	wallet   *wallet.Service
	provider *stubProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Escrow{}, &models.Dispute{},
		&models.PlatformRevenue{}, &models.Account{}, &models.Transaction{}))

	logger := zap.NewNop()
	// First-trade-free is off by default so fee assertions stay simple;
	// tests covering the promotion enable it explicitly.
	calc := fees.NewCalculator(logger, d("0.05"), d("0.50"), d("20.00"), false)
	walletSvc := wallet.NewService(logger, db)
	provider := &stubProvider{}
	cfg := config.EscrowConfig{
		DeliveryWindow: 24 * time.Hour,
		GracePeriod:    12 * time.Hour,
		ExpiryWindow:   2 * time.Hour,
		SweepInterval:  time.Minute,
	}
	svc := NewService(logger, db, walletSvc, calc,
		fees.NewLevelResolver(logger, db), fees.NewEligibility(logger, db),
		provider, cfg, "https://example.test/webhooks/payment")
	return &testEnv{db: db, svc: svc, wallet: walletSvc, provider: provider}
}

// seedUser creates a user row so completed-trade counters have a target
func (e *testEnv) seedUser(t *testing.T) uuid.UUID {
	t.Helper()
	user := models.User{
		ID:              uuid.New(),
		TelegramID:      time.Now().UnixNano(),
		ReputationScore: decimal.Zero,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, e.db.Create(&user).Error)
	return user.ID
}

// fundWallet puts a starting balance into a user's wallet
func (e *testEnv) fundWallet(t *testing.T, userID uuid.UUID, amount string) {
	t.Helper()
	ref := "test-deposit:" + uuid.New().String()
	_, applied, err := e.wallet.Credit(context.Background(), e.db, userID,
		d(amount), "USD", "deposit", ref, "test deposit")
	require.NoError(t, err)
	require.True(t, applied)
}

func (e *testEnv) balance(t *testing.T, userID uuid.UUID) decimal.Decimal {
	t.Helper()
	bal, err := e.wallet.GetBalance(context.Background(), userID, "USD")
	require.NoError(t, err)
	return bal
}

func (e *testEnv) revenueRows(t *testing.T, escrowID string) []models.PlatformRevenue {
	t.Helper()
	var rows []models.PlatformRevenue
	require.NoError(t, e.db.Where("escrow_id = ?", escrowID).Find(&rows).Error)
	return rows
}

// create makes a wallet-funded escrow and returns the fresh result
func (e *testEnv) create(t *testing.T, buyerID uuid.UUID, sellerID *uuid.UUID, amount string, split models.FeeSplitOption) *models.Escrow {
	t.Helper()
	res, err := e.svc.Create(context.Background(), CreateRequest{
		BuyerID:        buyerID,
		SellerID:       sellerID,
		Amount:         d(amount),
		Currency:       "USD",
		FeeSplitOption: split,
		FundingSource:  FundingWallet,
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, res.Outcome, "create: %s %v", res.Message, res.Violations)
	return res.Escrow
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("ValidationCollectsAllViolations", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.svc.Create(ctx, CreateRequest{
			Amount:         d("-5"),
			Currency:       "XYZ",
			FeeSplitOption: "nobody_pays",
			FundingSource:  "cash",
		})
		require.NoError(t, err)
		assert.Equal(t, OutcomeValidationFailed, res.Outcome)
		assert.Len(t, res.Violations, 5)
	})

	t.Run("FreezesFeeAmounts", func(t *testing.T) {
		env := newTestEnv(t)
		esc := env.create(t, uuid.New(), nil, "100", models.FeeSplitShared)

		assert.Equal(t, models.EscrowPaymentPending, esc.Status)
		assert.True(t, esc.FeeAmount.Equal(d("5.00")))
		assert.True(t, esc.BuyerFeeAmount.Equal(d("2.50")))
		assert.True(t, esc.SellerFeeAmount.Equal(d("2.50")))
		assert.True(t, esc.TotalAmount.Equal(d("102.50")))
		assert.Nil(t, esc.PaymentConfirmedAt, "no countdown starts before payment")
		assert.Nil(t, esc.DeliveryDeadline)
		assert.NotEmpty(t, esc.EscrowID)
	})

	t.Run("CryptoFundingObtainsPaymentAddress", func(t *testing.T) {
		env := newTestEnv(t)
		res, err := env.svc.Create(ctx, CreateRequest{
			BuyerID:        uuid.New(),
			Amount:         d("100"),
			Currency:       "BTC",
			FeeSplitOption: models.FeeSplitBuyerPays,
			FundingSource:  FundingCrypto,
		})
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, res.Outcome)
		assert.Equal(t, "bc1qtestaddress", res.Escrow.PaymentAddress)
		assert.Equal(t, "blockbee", res.Escrow.PaymentProvider)
		assert.Equal(t, 1, env.provider.calls)
	})

	t.Run("ProviderFailureAbortsCreation", func(t *testing.T) {
		env := newTestEnv(t)
		env.provider.fail = true
		res, err := env.svc.Create(ctx, CreateRequest{
			BuyerID:        uuid.New(),
			Amount:         d("100"),
			Currency:       "BTC",
			FeeSplitOption: models.FeeSplitBuyerPays,
			FundingSource:  FundingCrypto,
		})
		require.Error(t, err)
		assert.Equal(t, OutcomeError, res.Outcome)

		var count int64
		require.NoError(t, env.db.Model(&models.Escrow{}).Count(&count).Error)
		assert.Zero(t, count, "no escrow may exist without a payment path")
	})

	t.Run("TierDiscountApplied", func(t *testing.T) {
		env := newTestEnv(t)
		user := models.User{
			ID:              uuid.New(),
			TelegramID:      42,
			CompletedTrades: 100,
			ReputationScore: d("4.9"),
			CreatedAt:       time.Now(),
			UpdatedAt:       time.Now(),
		}
		require.NoError(t, env.db.Create(&user).Error)

		esc := env.create(t, user.ID, nil, "100", models.FeeSplitBuyerPays)
		assert.True(t, esc.FeeAmount.Equal(d("2.50")), "master trader pays half: %s", esc.FeeAmount)
	})

	t.Run("FirstTradeFreeConsumedByPaidTrade", func(t *testing.T) {
		env := newTestEnv(t)
		env.svc.calc = fees.NewCalculator(zap.NewNop(), d("0.05"), d("0.50"), d("20.00"), true)
		buyer := uuid.New()

		first := env.create(t, buyer, nil, "100", models.FeeSplitBuyerPays)
		assert.True(t, first.FirstTradeFree)
		assert.True(t, first.FeeAmount.IsZero())

		// An unpaid escrow does not consume the promotion
		second := env.create(t, buyer, nil, "100", models.FeeSplitBuyerPays)
		assert.True(t, second.FirstTradeFree)

		_, err := env.svc.ConfirmPayment(ctx, second.EscrowID, d("100.00"))
		require.NoError(t, err)

		third := env.create(t, buyer, nil, "100", models.FeeSplitBuyerPays)
		assert.False(t, third.FirstTradeFree, "a confirmed payment consumes the promotion for good")
		assert.True(t, third.FeeAmount.Equal(d("5.00")))
	})

	t.Run("GetByExternalID", func(t *testing.T) {
		env := newTestEnv(t)
		esc := env.create(t, uuid.New(), nil, "100", models.FeeSplitBuyerPays)

		got, err := env.svc.Get(ctx, esc.EscrowID)
		require.NoError(t, err)
		assert.Equal(t, esc.ID, got.ID)

		_, err = env.svc.Get(ctx, "ESC-DOESNOTEXIST")
		assert.ErrorIs(t, err, ErrEscrowNotFound)
	})
}
