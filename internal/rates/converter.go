package rates

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Converter turns crypto amounts into quote-currency values with the
// platform markup applied. The markup is the monetization knob on
// conversions and stays outside the fee calculator.
type Converter struct {
	logger        *zap.Logger
	oracle        Oracle
	markupPercent decimal.Decimal
	usdNGNFixed   decimal.Decimal // positive value overrides the oracle for NGN
}

// NewConverter creates a converter
func NewConverter(logger *zap.Logger, oracle Oracle, markupPercent, usdNGNFixed decimal.Decimal) *Converter {
	return &Converter{logger: logger, oracle: oracle, markupPercent: markupPercent, usdNGNFixed: usdNGNFixed}
}

// CryptoToUSD converts a crypto amount to USD at the marked-up rate,
// rounded to cents
func (c *Converter) CryptoToUSD(ctx context.Context, symbol string, amount decimal.Decimal) (decimal.Decimal, error) {
	rate, err := c.oracle.GetRate(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	marked := rate.Mul(decimal.NewFromInt(1).Sub(c.markupPercent))
	return amount.Mul(marked).Round(2), nil
}

// USDToCrypto converts a USD amount into crypto at the marked-up rate,
// rounded to 8 places
func (c *Converter) USDToCrypto(ctx context.Context, symbol string, usd decimal.Decimal) (decimal.Decimal, error) {
	rate, err := c.oracle.GetRate(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	marked := rate.Mul(decimal.NewFromInt(1).Add(c.markupPercent))
	if !marked.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: non-positive marked rate for %s", ErrRateUnavailable, symbol)
	}
	return usd.Div(marked).Round(8), nil
}

// USDToNGN converts USD to NGN, preferring the configured fixed rate
func (c *Converter) USDToNGN(ctx context.Context, usd decimal.Decimal) (decimal.Decimal, error) {
	rate := c.usdNGNFixed
	if !rate.IsPositive() {
		var err error
		rate, err = c.oracle.GetRate(ctx, "NGN")
		if err != nil {
			return decimal.Zero, err
		}
	}
	marked := rate.Mul(decimal.NewFromInt(1).Add(c.markupPercent))
	return usd.Mul(marked).Round(2), nil
}
