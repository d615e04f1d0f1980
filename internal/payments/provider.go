// Package payments integrates external payment providers for deposit
// address generation and withdrawal status checks.
package payments

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/telvault/escrow/internal/config"
)

var ErrUnsupportedProvider = errors.New("unsupported payment provider")

// Kind is the closed set of supported providers. Provider selection is a
// tagged variant dispatched through the Provider interface, not a runtime
// string branch.
type Kind string

const (
	KindBlockBee Kind = "blockbee"
	KindDynoPay  Kind = "dynopay"
	KindKraken   Kind = "kraken"
)

// PaymentAddress is the result of address generation for a crypto-funded
// escrow
type PaymentAddress struct {
	Address    string
	ProviderID string
}

// WithdrawalStatus reports the state of an outbound payout
type WithdrawalStatus struct {
	ProviderID string
	Status     string // pending, sent, failed
	TxHash     string
}

// Provider is the single interface all payment providers implement. A
// failure from CreatePaymentAddress aborts escrow creation entirely; the
// caller never persists an escrow without a payment path.
type Provider interface {
	Kind() Kind
	CreatePaymentAddress(ctx context.Context, currency string, amount decimal.Decimal, callbackURL string) (*PaymentAddress, error)
	GetWithdrawalStatus(ctx context.Context, providerID string) (*WithdrawalStatus, error)
}

// New constructs the configured provider variant
func New(logger *zap.Logger, cfg config.PaymentsConfig) (Provider, error) {
	switch Kind(cfg.Provider) {
	case KindBlockBee:
		return NewBlockBee(logger, cfg.BlockBeeAPIKey), nil
	case KindDynoPay:
		return NewDynoPay(logger, cfg.DynoPayAPIKey), nil
	case KindKraken:
		return NewKraken(logger, cfg.KrakenAPIKey, cfg.KrakenSecret), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}
