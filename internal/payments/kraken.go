package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const krakenBaseURL = "https://api.kraken.com"

// Kraken is a payout-side provider: it funds seller withdrawals from the
// platform's exchange account. It cannot generate per-escrow deposit
// addresses, so address creation always fails and callers must configure a
// deposit-capable provider for crypto-funded escrows.
type Kraken struct {
	logger  *zap.Logger
	apiKey  string
	secret  string
	baseURL string
	client  *http.Client
}

// NewKraken creates a Kraken provider
func NewKraken(logger *zap.Logger, apiKey, secret string) *Kraken {
	return &Kraken{
		logger:  logger,
		apiKey:  apiKey,
		secret:  secret,
		baseURL: krakenBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Kind returns the provider kind
func (k *Kraken) Kind() Kind { return KindKraken }

// CreatePaymentAddress is unsupported on Kraken
func (k *Kraken) CreatePaymentAddress(ctx context.Context, currency string, amount decimal.Decimal, callbackURL string) (*PaymentAddress, error) {
	return nil, fmt.Errorf("kraken provider does not support deposit address generation")
}

type krakenWithdrawStatusResponse struct {
	Error  []string `json:"error"`
	Result []struct {
		RefID  string `json:"refid"`
		TxID   string `json:"txid"`
		Status string `json:"status"`
	} `json:"result"`
}

// GetWithdrawalStatus looks up a withdrawal by reference id
func (k *Kraken) GetWithdrawalStatus(ctx context.Context, providerID string) (*WithdrawalStatus, error) {
	path := "/0/private/WithdrawStatus"
	form := url.Values{}
	form.Set("nonce", strconv.FormatInt(time.Now().UnixNano(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build kraken request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", k.apiKey)
	sign, err := k.sign(path, form)
	if err != nil {
		return nil, fmt.Errorf("failed to sign kraken request: %w", err)
	}
	req.Header.Set("API-Sign", sign)

	resp, err := k.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kraken withdraw status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("kraken withdraw status request failed: status %d", resp.StatusCode)
	}

	var body krakenWithdrawStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode kraken response: %w", err)
	}
	if len(body.Error) > 0 {
		return nil, fmt.Errorf("kraken error: %s", strings.Join(body.Error, ", "))
	}

	for _, w := range body.Result {
		if w.RefID != providerID {
			continue
		}
		status := "pending"
		switch w.Status {
		case "Success":
			status = "sent"
		case "Failure":
			status = "failed"
		}
		return &WithdrawalStatus{ProviderID: providerID, Status: status, TxHash: w.TxID}, nil
	}
	return nil, fmt.Errorf("kraken withdrawal %s not found", providerID)
}

// sign computes the Kraken private-endpoint signature
func (k *Kraken) sign(path string, form url.Values) (string, error) {
	secret, err := base64.StdEncoding.DecodeString(k.secret)
	if err != nil {
		return "", fmt.Errorf("invalid kraken secret: %w", err)
	}
	sha := sha256.Sum256([]byte(form.Get("nonce") + form.Encode()))
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(path))
	mac.Write(sha[:])
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}
