package wallet

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/telvault/escrow/pkg/models"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Account{}, &models.Transaction{}))
	return NewService(zap.NewNop(), db), db
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreditAndDebit(t *testing.T) {
	ctx := context.Background()

	t.Run("CreditCreatesAccountOnDemand", func(t *testing.T) {
		svc, db := newTestService(t)
		user := uuid.New()

		entry, applied, err := svc.Credit(ctx, db, user, d("25.00"), "USD", "deposit", "ref-1", "deposit")
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, models.DirectionCredit, entry.Direction)

		bal, err := svc.GetBalance(ctx, user, "USD")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("25.00")))
	})

	t.Run("DebitWithoutAccountFails", func(t *testing.T) {
		svc, db := newTestService(t)

		_, _, err := svc.Debit(ctx, db, uuid.New(), d("1.00"), "USD", "escrow_hold", "ref-2", "hold")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("DebitRequiresSufficientBalance", func(t *testing.T) {
		svc, db := newTestService(t)
		user := uuid.New()
		_, _, err := svc.Credit(ctx, db, user, d("10.00"), "USD", "deposit", "ref-3", "deposit")
		require.NoError(t, err)

		_, _, err = svc.Debit(ctx, db, user, d("10.01"), "USD", "escrow_hold", "ref-4", "hold")
		assert.ErrorIs(t, err, ErrInsufficientFunds)

		bal, err := svc.GetBalance(ctx, user, "USD")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("10.00")), "failed debit must not touch the balance")
	})

	t.Run("ReplayedReferenceIsNotReapplied", func(t *testing.T) {
		svc, db := newTestService(t)
		user := uuid.New()

		_, applied, err := svc.Credit(ctx, db, user, d("50.00"), "USD", "refund", "ref-5", "refund")
		require.NoError(t, err)
		assert.True(t, applied)

		entry, applied, err := svc.Credit(ctx, db, user, d("50.00"), "USD", "refund", "ref-5", "refund")
		require.NoError(t, err)
		assert.False(t, applied, "same reference must be a no-op")
		assert.NotNil(t, entry)

		bal, err := svc.GetBalance(ctx, user, "USD")
		require.NoError(t, err)
		assert.True(t, bal.Equal(d("50.00")), "balance = %s", bal)
	})

	t.Run("NonPositiveAmountsRejected", func(t *testing.T) {
		svc, db := newTestService(t)
		user := uuid.New()

		_, _, err := svc.Credit(ctx, db, user, decimal.Zero, "USD", "deposit", "ref-6", "zero")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, _, err = svc.Debit(ctx, db, user, d("-1"), "USD", "deposit", "ref-7", "negative")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("BalancesArePerCurrency", func(t *testing.T) {
		svc, db := newTestService(t)
		user := uuid.New()
		_, _, err := svc.Credit(ctx, db, user, d("1.5"), "BTC", "deposit", "ref-8", "btc in")
		require.NoError(t, err)
		_, _, err = svc.Credit(ctx, db, user, d("200"), "USD", "deposit", "ref-9", "usd in")
		require.NoError(t, err)

		_, _, err = svc.Debit(ctx, db, user, d("2"), "BTC", "withdrawal", "ref-10", "too much btc")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})
}

func TestGetBalance(t *testing.T) {
	svc, _ := newTestService(t)

	bal, err := svc.GetBalance(context.Background(), uuid.New(), "USD")
	require.NoError(t, err)
	assert.True(t, bal.IsZero(), "unknown accounts read as zero")
}

func TestGetOrCreateAccount(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	first, err := svc.GetOrCreateAccount(ctx, user, "USD")
	require.NoError(t, err)
	second, err := svc.GetOrCreateAccount(ctx, user, "USD")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "same account on repeat lookups")
	assert.True(t, first.Balance.IsZero())
}

func TestTransactions(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	user := uuid.New()

	for i := 0; i < 5; i++ {
		_, _, err := svc.Credit(ctx, db, user, d("10"), "USD", "deposit",
			fmt.Sprintf("list-ref-%d", i), "deposit")
		require.NoError(t, err)
	}

	entries, total, err := svc.Transactions(ctx, user, 3, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, entries, 3)

	entries, _, err = svc.Transactions(ctx, user, 3, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
