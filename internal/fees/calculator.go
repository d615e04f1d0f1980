// Package fees is the single source of truth for escrow fee arithmetic.
package fees

import (
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/telvault/escrow/pkg/models"
)

// Monetary precision: fiat amounts round to 2 places, crypto to 8.
const (
	FiatPlaces   = 2
	CryptoPlaces = 8
)

// RoundFiat rounds a fiat amount to cents, half up
func RoundFiat(d decimal.Decimal) decimal.Decimal {
	return d.Round(FiatPlaces)
}

// RoundCrypto rounds a crypto amount to 8 places, half up
func RoundCrypto(d decimal.Decimal) decimal.Decimal {
	return d.Round(CryptoPlaces)
}

// Breakdown is the structured result of a fee computation. All amounts are
// final: callers persist them at escrow creation and never recompute.
type Breakdown struct {
	EscrowAmount      decimal.Decimal       `json:"escrow_amount"`
	TotalFee          decimal.Decimal       `json:"total_platform_fee"`
	BuyerFee          decimal.Decimal       `json:"buyer_fee_amount"`
	SellerFee         decimal.Decimal       `json:"seller_fee_amount"`
	BuyerTotalPayment decimal.Decimal       `json:"buyer_total_payment"`
	SellerNetAmount   decimal.Decimal       `json:"seller_net_amount"`
	RefundableAmount  decimal.Decimal       `json:"refundable_amount"`
	NetworkFee        decimal.Decimal       `json:"network_fee"`
	FeeSplitOption    models.FeeSplitOption `json:"fee_split_option"`
	EffectivePercent  decimal.Decimal       `json:"effective_fee_percent"`
	DiscountPercent   decimal.Decimal       `json:"discount_percent"`
	IsFirstTradeFree  bool                  `json:"is_first_trade_free"`
}

// Calculator computes fee breakdowns from the configured fee schedule.
// It is pure: no I/O, deterministic for identical inputs, safe for
// concurrent use.
type Calculator struct {
	logger              *zap.Logger
	baseFeePercent      decimal.Decimal
	minFeeAmount        decimal.Decimal
	smallTradeThreshold decimal.Decimal
	firstTradeFree      bool
}

// NewCalculator creates a fee calculator from the configured schedule
func NewCalculator(logger *zap.Logger, baseFeePercent, minFeeAmount, smallTradeThreshold decimal.Decimal, firstTradeFree bool) *Calculator {
	return &Calculator{
		logger:              logger,
		baseFeePercent:      baseFeePercent,
		minFeeAmount:        minFeeAmount,
		smallTradeThreshold: smallTradeThreshold,
		firstTradeFree:      firstTradeFree,
	}
}

// ComputeBreakdown computes the full fee breakdown for an escrow.
//
// Pipeline: base percentage, tier discount, rounding, first-trade-free
// override, minimum-fee floor, policy split, derived totals. The
// first-trade-free override wins over every other rule; the minimum-fee
// floor never applies on a free first trade. The isFirstTrade flag must be
// resolved by the caller via Eligibility.IsFirstPaidTrade, never inferred
// from an escrow's status.
//
// An unrecognized split option falls back to buyer-pays rather than
// erroring; this fallback is load-bearing for callers that persist raw
// option strings.
func (c *Calculator) ComputeBreakdown(amount decimal.Decimal, split models.FeeSplitOption, tierDiscount decimal.Decimal, isFirstTrade bool) Breakdown {
	switch split {
	case models.FeeSplitBuyerPays, models.FeeSplitSellerPays, models.FeeSplitShared:
	default:
		if c.logger != nil {
			c.logger.Warn("unknown fee split option, defaulting to buyer_pays", zap.String("option", string(split)))
		}
		split = models.FeeSplitBuyerPays
	}

	fee := RoundFiat(amount.Mul(c.baseFeePercent).Mul(decimal.NewFromInt(1).Sub(tierDiscount)))

	firstTradeFree := isFirstTrade && c.firstTradeFree
	if firstTradeFree {
		fee = decimal.Zero.Round(FiatPlaces)
	} else if c.minFeeAmount.IsPositive() &&
		amount.LessThan(c.smallTradeThreshold) &&
		fee.LessThan(c.minFeeAmount) {
		fee = c.minFeeAmount
	}

	buyerFee, sellerFee := splitFee(fee, split)

	effective := decimal.Zero
	if amount.IsPositive() {
		effective = fee.Div(amount).Round(4)
	}

	return Breakdown{
		EscrowAmount:      amount,
		TotalFee:          fee,
		BuyerFee:          buyerFee,
		SellerFee:         sellerFee,
		BuyerTotalPayment: amount.Add(buyerFee),
		SellerNetAmount:   amount.Sub(sellerFee),
		RefundableAmount:  RefundAmount(amount, buyerFee),
		NetworkFee:        decimal.Zero,
		FeeSplitOption:    split,
		EffectivePercent:  effective,
		DiscountPercent:   tierDiscount,
		IsFirstTradeFree:  firstTradeFree,
	}
}

// splitFee divides the total fee between the parties. Under the shared
// policy the buyer half rounds down, so an odd cent always lands on the
// seller side; the same tie-break is used by dispute custom splits.
func splitFee(fee decimal.Decimal, split models.FeeSplitOption) (buyerFee, sellerFee decimal.Decimal) {
	switch split {
	case models.FeeSplitSellerPays:
		return decimal.Zero.Round(FiatPlaces), fee
	case models.FeeSplitShared:
		buyerFee = fee.Div(decimal.NewFromInt(2)).RoundDown(FiatPlaces)
		return buyerFee, fee.Sub(buyerFee)
	default: // buyer_pays
		return fee, decimal.Zero.Round(FiatPlaces)
	}
}

// RefundAmount is the buyer refund for a standard (seller-accepted)
// cancellation or dispute refund: the buyer loses the fee they already
// paid. Floors at zero; a negative refund is never produced.
func RefundAmount(escrowAmount, buyerFeePaid decimal.Decimal) decimal.Decimal {
	refund := escrowAmount.Sub(buyerFeePaid)
	if refund.IsNegative() {
		return decimal.Zero.Round(FiatPlaces)
	}
	return refund
}

// ReleaseAmount is the net amount credited to the seller on completion or
// dispute release
func ReleaseAmount(escrowAmount, sellerFeeOwed decimal.Decimal) decimal.Decimal {
	return escrowAmount.Sub(sellerFeeOwed)
}
