// Package rates supplies exchange rates to the conversion layer. The fee
// engine itself never consumes rates; callers convert before quoting.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Oracle returns a positive exchange rate for a symbol or signals
// unavailability. Implementations own caching and fallback; consumers do
// not retry.
type Oracle interface {
	GetRate(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// HTTPSource fetches crypto/USD rates from a public ticker API
type HTTPSource struct {
	logger  *zap.Logger
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a ticker-backed rate source
func NewHTTPSource(logger *zap.Logger, baseURL string) *HTTPSource {
	return &HTTPSource{
		logger:  logger,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type tickerResponse struct {
	Data struct {
		Rates map[string]string `json:"rates"`
	} `json:"data"`
}

// GetRate fetches the USD rate for a symbol
func (s *HTTPSource) GetRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/v2/exchange-rates?currency=%s", s.baseURL, strings.ToUpper(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build rate request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", ErrRateUnavailable, resp.StatusCode)
	}

	var body tickerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("failed to decode rate response: %w", err)
	}

	raw, ok := body.Data.Rates["USD"]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no USD rate for %s", ErrRateUnavailable, symbol)
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: bad rate %q for %s", ErrRateUnavailable, raw, symbol)
	}
	return rate, nil
}

// CachedOracle decorates a source with a Redis cache and stale fallback.
// Fresh entries expire after the TTL; a last-known copy is kept without
// expiry so a source outage degrades to stale rates instead of failures.
type CachedOracle struct {
	logger *zap.Logger
	source Oracle
	rdb    *redis.Client
	ttl    time.Duration
}

// NewCachedOracle creates a caching oracle
func NewCachedOracle(logger *zap.Logger, source Oracle, rdb *redis.Client, ttl time.Duration) *CachedOracle {
	return &CachedOracle{logger: logger, source: source, rdb: rdb, ttl: ttl}
}

func rateKey(symbol string) string      { return "rate:" + strings.ToUpper(symbol) }
func staleRateKey(symbol string) string { return "rate:stale:" + strings.ToUpper(symbol) }

// GetRate returns a cached rate, fetching on miss and falling back to the
// last known value when the source is down
func (o *CachedOracle) GetRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if cached, err := o.rdb.Get(ctx, rateKey(symbol)).Result(); err == nil {
		if rate, perr := decimal.NewFromString(cached); perr == nil {
			return rate, nil
		}
	} else if err != redis.Nil {
		o.logger.Warn("rate cache read failed", zap.String("symbol", symbol), zap.Error(err))
	}

	rate, err := o.source.GetRate(ctx, symbol)
	if err != nil {
		if stale, serr := o.rdb.Get(ctx, staleRateKey(symbol)).Result(); serr == nil {
			if v, perr := decimal.NewFromString(stale); perr == nil {
				o.logger.Warn("rate source down, serving stale rate",
					zap.String("symbol", symbol), zap.String("rate", stale))
				return v, nil
			}
		}
		return decimal.Zero, err
	}

	if err := o.rdb.Set(ctx, rateKey(symbol), rate.String(), o.ttl).Err(); err != nil {
		o.logger.Warn("rate cache write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	if err := o.rdb.Set(ctx, staleRateKey(symbol), rate.String(), 0).Err(); err != nil {
		o.logger.Warn("stale rate write failed", zap.String("symbol", symbol), zap.Error(err))
	}
	return rate, nil
}
