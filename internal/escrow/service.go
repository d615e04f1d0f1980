// Package escrow implements the escrow lifecycle ledger: the state machine
// governing status transitions and the money moved at each of them.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telvault/escrow/internal/config"
	"github.com/telvault/escrow/internal/fees"
	"github.com/telvault/escrow/internal/payments"
	"github.com/telvault/escrow/internal/wallet"
	"github.com/telvault/escrow/pkg/metrics"
	"github.com/telvault/escrow/pkg/models"
)

// FundingSource selects how the buyer funds an escrow
type FundingSource string

const (
	FundingCrypto FundingSource = "crypto"
	FundingWallet FundingSource = "wallet"
)

// Service is the escrow lifecycle ledger. Fee amounts are computed once at
// creation by the fee calculator and frozen on the escrow row; every later
// transition works from the stored amounts under a row lock.
type Service struct {
	logger      *zap.Logger
	db          *gorm.DB
	wallet      *wallet.Service
	calc        *fees.Calculator
	levels      *fees.LevelResolver
	eligibility *fees.Eligibility
	provider    payments.Provider
	cfg         config.EscrowConfig
	callbackURL string
}

// NewService creates the escrow service
func NewService(logger *zap.Logger, db *gorm.DB, walletSvc *wallet.Service, calc *fees.Calculator,
	levels *fees.LevelResolver, eligibility *fees.Eligibility, provider payments.Provider,
	cfg config.EscrowConfig, callbackURL string) *Service {
	return &Service{
		logger:      logger,
		db:          db,
		wallet:      walletSvc,
		calc:        calc,
		levels:      levels,
		eligibility: eligibility,
		provider:    provider,
		cfg:         cfg,
		callbackURL: callbackURL,
	}
}

// CreateRequest is the input for escrow creation
type CreateRequest struct {
	BuyerID        uuid.UUID             `json:"buyer_id" validate:"required"`
	SellerID       *uuid.UUID            `json:"seller_id"`
	Amount         decimal.Decimal       `json:"amount" validate:"required"`
	Currency       string                `json:"currency" validate:"required"`
	FeeSplitOption models.FeeSplitOption `json:"fee_split_option" validate:"required,oneof=buyer_pays seller_pays split"`
	FundingSource  FundingSource         `json:"funding_source" validate:"required,oneof=crypto wallet"`
}

// supportedCurrencies is the closed set of settlement currencies
var supportedCurrencies = map[string]bool{
	"USD": true, "USDT": true, "BTC": true, "ETH": true, "LTC": true,
}

// validateCreate collects every violation in the request
func validateCreate(req CreateRequest) []string {
	var violations []string
	if req.BuyerID == uuid.Nil {
		violations = append(violations, "buyer_id is required")
	}
	if !req.Amount.IsPositive() {
		violations = append(violations, fmt.Sprintf("amount must be positive, got %s", req.Amount))
	}
	if !supportedCurrencies[strings.ToUpper(req.Currency)] {
		violations = append(violations, fmt.Sprintf("unsupported currency %q", req.Currency))
	}
	switch req.FeeSplitOption {
	case models.FeeSplitBuyerPays, models.FeeSplitSellerPays, models.FeeSplitShared:
	default:
		violations = append(violations, fmt.Sprintf("invalid fee_split_option %q", req.FeeSplitOption))
	}
	switch req.FundingSource {
	case FundingCrypto, FundingWallet:
	default:
		violations = append(violations, fmt.Sprintf("invalid funding_source %q", req.FundingSource))
	}
	return violations
}

// Create computes the fee breakdown, obtains a payment path and persists a
// new escrow in payment_pending. Delivery deadlines are not set here; they
// anchor to payment confirmation.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Result, error) {
	if violations := validateCreate(req); len(violations) > 0 {
		return validationFailed(violations), nil
	}
	currency := strings.ToUpper(req.Currency)

	level := s.levels.Resolve(ctx, req.BuyerID)
	isFirst := s.eligibility.IsFirstPaidTrade(ctx, req.BuyerID)
	breakdown := s.calc.ComputeBreakdown(req.Amount, req.FeeSplitOption, level.DiscountPercent, isFirst)

	now := time.Now()
	esc := &models.Escrow{
		ID:              uuid.New(),
		EscrowID:        newEscrowID(),
		BuyerID:         req.BuyerID,
		SellerID:        req.SellerID,
		Currency:        currency,
		Amount:          breakdown.EscrowAmount,
		FeeAmount:       breakdown.TotalFee,
		BuyerFeeAmount:  breakdown.BuyerFee,
		SellerFeeAmount: breakdown.SellerFee,
		TotalAmount:     breakdown.EscrowAmount.Add(breakdown.TotalFee),
		FeeSplitOption:  breakdown.FeeSplitOption,
		FirstTradeFree:  breakdown.IsFirstTradeFree,
		Status:          models.EscrowPaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now.Add(s.cfg.ExpiryWindow),
	}

	// A crypto-funded escrow must have a payment path before anything is
	// persisted; a provider failure aborts creation entirely.
	if req.FundingSource == FundingCrypto {
		addr, err := s.provider.CreatePaymentAddress(ctx, currency, breakdown.BuyerTotalPayment, s.callbackURL)
		if err != nil {
			s.logger.Error("payment address generation failed, aborting escrow creation",
				zap.String("currency", currency), zap.Error(err))
			return failure("payment provider unavailable"), fmt.Errorf("failed to create payment address: %w", err)
		}
		esc.PaymentAddress = addr.Address
		esc.PaymentProvider = string(s.provider.Kind())
	}

	if err := s.db.WithContext(ctx).Create(esc).Error; err != nil {
		return failure("could not persist escrow"), fmt.Errorf("failed to create escrow: %w", err)
	}

	metrics.EscrowsCreated.WithLabelValues(string(esc.FeeSplitOption)).Inc()
	s.logger.Info("escrow created",
		zap.String("escrow_id", esc.EscrowID),
		zap.String("buyer_id", esc.BuyerID.String()),
		zap.String("amount", esc.Amount.String()),
		zap.String("fee", esc.FeeAmount.String()),
		zap.String("fee_split", string(esc.FeeSplitOption)),
		zap.Bool("first_trade_free", esc.FirstTradeFree))
	return success(esc), nil
}

// Get loads an escrow by its external identifier
func (s *Service) Get(ctx context.Context, escrowID string) (*models.Escrow, error) {
	var esc models.Escrow
	err := s.db.WithContext(ctx).Where("escrow_id = ?", escrowID).First(&esc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find escrow: %w", err)
	}
	return &esc, nil
}

// lockForUpdate loads an escrow with an exclusive row lock held for the
// duration of the surrounding transaction. Not-found is distinct from
// found-but-terminal; callers branch on status themselves.
func (s *Service) lockForUpdate(ctx context.Context, tx *gorm.DB, escrowID string) (*models.Escrow, error) {
	var esc models.Escrow
	err := withRowLock(tx.WithContext(ctx)).
		Where("escrow_id = ?", escrowID).First(&esc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEscrowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock escrow: %w", err)
	}
	return &esc, nil
}

// recordRevenue creates an idempotent platform revenue entry. Nothing is
// written for a zero amount: revenue rows exist only when a fee is
// actually retained.
func (s *Service) recordRevenue(ctx context.Context, tx *gorm.DB, esc *models.Escrow, amount decimal.Decimal, feeType string) error {
	if !amount.IsPositive() {
		return nil
	}
	reference := esc.EscrowID + ":" + feeType

	var existing models.PlatformRevenue
	err := tx.WithContext(ctx).Where("reference = ?", reference).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check revenue reference: %w", err)
	}

	entry := models.PlatformRevenue{
		ID:        uuid.New(),
		EscrowID:  esc.EscrowID,
		FeeAmount: amount,
		Currency:  esc.Currency,
		FeeType:   feeType,
		Reference: reference,
		CreatedAt: time.Now(),
	}
	if err := tx.WithContext(ctx).Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil
		}
		return fmt.Errorf("failed to record platform revenue: %w", err)
	}

	fee, _ := amount.Float64()
	metrics.FeesCaptured.WithLabelValues(feeType).Add(fee)
	return nil
}

// incrementCompletedTrades bumps the completed-trade counters feeding
// trader levels
func (s *Service) incrementCompletedTrades(ctx context.Context, tx *gorm.DB, userIDs ...uuid.UUID) error {
	for _, id := range userIDs {
		if id == uuid.Nil {
			continue
		}
		err := tx.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
			UpdateColumn("completed_trades", gorm.Expr("completed_trades + 1")).Error
		if err != nil {
			return fmt.Errorf("failed to increment completed trades: %w", err)
		}
	}
	return nil
}

// withRowLock adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite (used in tests) serializes writers anyway and rejects the syntax.
func withRowLock(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// newEscrowID mints the externally stable escrow identifier
func newEscrowID() string {
	id := uuid.New().String()
	return "ESC-" + strings.ToUpper(id[:8]+id[9:13])
}
