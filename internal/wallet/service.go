// Package wallet maintains per-user balances and the immutable transaction ledger.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telvault/escrow/pkg/models"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInvalidAmount     = errors.New("invalid amount")
)

// Service implements the wallet ledger. Every credit and debit writes an
// immutable transaction row whose unique reference makes the operation
// at-most-once: retried transitions observe the existing row and skip the
// balance mutation.
type Service struct {
	logger *zap.Logger
	db     *gorm.DB
}

// NewService creates a wallet service
func NewService(logger *zap.Logger, db *gorm.DB) *Service {
	return &Service{logger: logger, db: db}
}

// GetOrCreateAccount returns the user's account for a currency, creating a
// zero-balance one if missing
func (s *Service) GetOrCreateAccount(ctx context.Context, userID uuid.UUID, currency string) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("user_id = ? AND currency = ?", userID, currency).First(&account).Error
	if err == nil {
		return &account, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	account = models.Account{
		ID:        uuid.New(),
		UserID:    userID,
		Currency:  currency,
		Balance:   decimal.Zero,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return &account, nil
}

// GetBalance returns the user's balance for a currency, zero when no
// account exists yet
func (s *Service) GetBalance(ctx context.Context, userID uuid.UUID, currency string) (decimal.Decimal, error) {
	var account models.Account
	err := s.db.WithContext(ctx).Where("user_id = ? AND currency = ?", userID, currency).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to find account: %w", err)
	}
	return account.Balance, nil
}

// Credit applies a credit inside the given transaction. Returns the ledger
// entry and whether it was newly applied; applied=false means the
// reference already exists and no balance change was made.
//
// Must be called inside a database transaction that already holds the
// escrow row lock, so the balance read-modify-write cannot race a
// concurrent transition of the same escrow.
func (s *Service) Credit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, currency, txType, reference, description string) (*models.Transaction, bool, error) {
	return s.apply(ctx, tx, userID, amount, currency, models.DirectionCredit, txType, reference, description)
}

// Debit applies a debit inside the given transaction, failing with
// ErrInsufficientFunds when the balance cannot cover it
func (s *Service) Debit(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, currency, txType, reference, description string) (*models.Transaction, bool, error) {
	return s.apply(ctx, tx, userID, amount, currency, models.DirectionDebit, txType, reference, description)
}

// Transactions lists a user's ledger entries, newest first
func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.Transaction, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	var entries []*models.Transaction
	if err := query.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find transactions: %w", err)
	}
	return entries, total, nil
}

// withRowLock adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite (used in tests) serializes writers anyway and rejects the syntax.
func withRowLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// apply performs the check-then-create idempotent ledger write and the
// balance mutation under a row lock on the account.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, userID uuid.UUID, amount decimal.Decimal, currency string, direction models.TransactionDirection, txType, reference, description string) (*models.Transaction, bool, error) {
	if !amount.IsPositive() {
		return nil, false, fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}

	// Idempotency: a prior application of this movement short-circuits
	var existing models.Transaction
	err := tx.WithContext(ctx).Where("reference = ?", reference).First(&existing).Error
	if err == nil {
		s.logger.Info("ledger entry already applied, skipping",
			zap.String("reference", reference), zap.String("type", txType))
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to check ledger reference: %w", err)
	}

	var account models.Account
	err = withRowLock(tx.WithContext(ctx)).
		Where("user_id = ? AND currency = ?", userID, currency).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if direction == models.DirectionDebit {
			return nil, false, ErrAccountNotFound
		}
		account = models.Account{
			ID:        uuid.New(),
			UserID:    userID,
			Currency:  currency,
			Balance:   decimal.Zero,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := tx.WithContext(ctx).Create(&account).Error; err != nil {
			return nil, false, fmt.Errorf("failed to create account: %w", err)
		}
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to lock account: %w", err)
	}

	switch direction {
	case models.DirectionCredit:
		account.Balance = account.Balance.Add(amount)
	case models.DirectionDebit:
		if account.Balance.LessThan(amount) {
			return nil, false, fmt.Errorf("%w: balance %s, debit %s", ErrInsufficientFunds, account.Balance, amount)
		}
		account.Balance = account.Balance.Sub(amount)
	}
	account.UpdatedAt = time.Now()
	if err := tx.WithContext(ctx).Model(&models.Account{}).Where("id = ?", account.ID).
		Updates(map[string]interface{}{"balance": account.Balance, "updated_at": account.UpdatedAt}).Error; err != nil {
		return nil, false, fmt.Errorf("failed to update balance: %w", err)
	}

	entry := models.Transaction{
		ID:          uuid.New(),
		UserID:      userID,
		Direction:   direction,
		Type:        txType,
		Amount:      amount,
		Currency:    currency,
		Reference:   reference,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		// Unique constraint backstop for a racing writer
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to create ledger entry: %w", err)
	}

	s.logger.Info("ledger entry applied",
		zap.String("user_id", userID.String()),
		zap.String("direction", string(direction)),
		zap.String("type", txType),
		zap.String("amount", amount.String()),
		zap.String("currency", currency),
		zap.String("reference", reference))
	return &entry, true, nil
}
