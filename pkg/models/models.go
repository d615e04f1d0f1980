package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowStatus represents the lifecycle state of an escrow
type EscrowStatus string

const (
	EscrowPaymentPending   EscrowStatus = "payment_pending"
	EscrowPartialPayment   EscrowStatus = "partial_payment"
	EscrowPaymentConfirmed EscrowStatus = "payment_confirmed"
	EscrowActive           EscrowStatus = "active"
	EscrowDisputed         EscrowStatus = "disputed"
	EscrowCompleted        EscrowStatus = "completed"
	EscrowCancelled        EscrowStatus = "cancelled"
	EscrowRefunded         EscrowStatus = "refunded"
)

// Terminal reports whether the escrow can no longer transition
func (s EscrowStatus) Terminal() bool {
	switch s {
	case EscrowCompleted, EscrowCancelled, EscrowRefunded:
		return true
	}
	return false
}

// FeeSplitOption determines which party pays the platform fee
type FeeSplitOption string

const (
	FeeSplitBuyerPays  FeeSplitOption = "buyer_pays"
	FeeSplitSellerPays FeeSplitOption = "seller_pays"
	FeeSplitShared     FeeSplitOption = "split"
)

// User represents a platform user with trading history
type User struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	TelegramID      int64           `json:"telegram_id" gorm:"uniqueIndex"`
	Username        string          `json:"username" gorm:"index" validate:"omitempty,min=3,max=64"`
	CompletedTrades int             `json:"completed_trades" gorm:"default:0" validate:"min=0"`
	ReputationScore decimal.Decimal `json:"reputation_score" gorm:"type:decimal(4,2);default:0"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Escrow is the central financial record of a trade.
// Fee amounts are computed and frozen at creation; they are never recomputed
// by later transitions. BuyerFeeAmount + SellerFeeAmount == FeeAmount and
// TotalAmount == Amount + FeeAmount at all times.
type Escrow struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	EscrowID        string          `json:"escrow_id" gorm:"uniqueIndex;size:32" validate:"required"`
	BuyerID         uuid.UUID       `json:"buyer_id" gorm:"type:uuid;index" validate:"required,uuid"`
	SellerID        *uuid.UUID      `json:"seller_id" gorm:"type:uuid;index" validate:"omitempty,uuid"`
	Currency        string          `json:"currency" gorm:"size:8" validate:"required"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:decimal(32,8);not null"`
	FeeAmount       decimal.Decimal `json:"fee_amount" gorm:"type:decimal(32,8);not null"`
	BuyerFeeAmount  decimal.Decimal `json:"buyer_fee_amount" gorm:"type:decimal(32,8);not null"`
	SellerFeeAmount decimal.Decimal `json:"seller_fee_amount" gorm:"type:decimal(32,8);not null"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(32,8);not null"`
	FeeSplitOption  FeeSplitOption  `json:"fee_split_option" gorm:"size:16;not null" validate:"required,oneof=buyer_pays seller_pays split"`
	FirstTradeFree  bool            `json:"first_trade_free" gorm:"default:false"`
	Status          EscrowStatus    `json:"status" gorm:"size:24;index;not null" validate:"required"`
	PaymentAddress  string          `json:"payment_address" gorm:"size:128"`
	PaymentProvider string          `json:"payment_provider" gorm:"size:24"`

	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	PaymentConfirmedAt *time.Time `json:"payment_confirmed_at" gorm:"index"`
	SellerAcceptedAt   *time.Time `json:"seller_accepted_at"`
	DeliveryDeadline   *time.Time `json:"delivery_deadline"`
	AutoReleaseAt      *time.Time `json:"auto_release_at"`
	ExpiresAt          time.Time  `json:"expires_at" gorm:"index"`
	CompletedAt        *time.Time `json:"completed_at"`
}

// DisputeStatus represents the state of a dispute
type DisputeStatus string

const (
	DisputeOpen     DisputeStatus = "open"
	DisputeResolved DisputeStatus = "resolved"
)

// Dispute is a one-to-one record attached to a disputed escrow
type Dispute struct {
	ID          uuid.UUID     `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	EscrowID    string        `json:"escrow_id" gorm:"uniqueIndex;size:32" validate:"required"`
	InitiatorID uuid.UUID     `json:"initiator_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Reason      string        `json:"reason" gorm:"size:500" validate:"omitempty,max=500"`
	Status      DisputeStatus `json:"status" gorm:"size:16;index;not null"`
	Resolution  string        `json:"resolution" gorm:"size:32"`
	ResolvedBy  *uuid.UUID    `json:"resolved_by" gorm:"type:uuid"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	ResolvedAt  *time.Time    `json:"resolved_at"`
}

// PlatformRevenue is an append-only record of a fee the platform actually
// retained. Paths that return fees to the buyer must not create one.
type PlatformRevenue struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	EscrowID  string          `json:"escrow_id" gorm:"index;size:32" validate:"required"`
	FeeAmount decimal.Decimal `json:"fee_amount" gorm:"type:decimal(32,8);not null"`
	Currency  string          `json:"currency" gorm:"size:8"`
	FeeType   string          `json:"fee_type" gorm:"size:32;index" validate:"required"`
	Reference string          `json:"reference" gorm:"uniqueIndex;size:96" validate:"required"`
	CreatedAt time.Time       `json:"created_at"`
}

// Account represents a user's wallet balance for a single currency
type Account struct {
	ID        uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID    uuid.UUID       `json:"user_id" gorm:"type:uuid;index:idx_account_user_currency,unique" validate:"required,uuid"`
	Currency  string          `json:"currency" gorm:"size:8;index:idx_account_user_currency,unique" validate:"required"`
	Balance   decimal.Decimal `json:"balance" gorm:"type:decimal(32,8);not null"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TransactionDirection marks a wallet transaction as a credit or debit
type TransactionDirection string

const (
	DirectionCredit TransactionDirection = "credit"
	DirectionDebit  TransactionDirection = "debit"
)

// Transaction is an immutable wallet ledger entry. Reference is unique per
// (escrow, direction, type) and is the idempotency guard for retried
// transitions: a second application of the same money movement collides on
// it and is skipped.
type Transaction struct {
	ID          uuid.UUID            `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	UserID      uuid.UUID            `json:"user_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Direction   TransactionDirection `json:"direction" gorm:"size:8;not null" validate:"required,oneof=credit debit"`
	Type        string               `json:"type" gorm:"size:32;not null" validate:"required"`
	Amount      decimal.Decimal      `json:"amount" gorm:"type:decimal(32,8);not null"`
	Currency    string               `json:"currency" gorm:"size:8" validate:"required"`
	Reference   string               `json:"reference" gorm:"uniqueIndex;size:96" validate:"required"`
	Description string               `json:"description" gorm:"size:255" validate:"omitempty,max=255"`
	CreatedAt   time.Time            `json:"created_at"`
}

// TxReference builds the unique idempotency reference for a money movement
func TxReference(escrowID string, direction TransactionDirection, txType string) string {
	return escrowID + ":" + string(direction) + ":" + txType
}
