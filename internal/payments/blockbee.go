package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const blockBeeBaseURL = "https://api.blockbee.io"

// BlockBee generates per-escrow deposit addresses via the BlockBee API
type BlockBee struct {
	logger  *zap.Logger
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewBlockBee creates a BlockBee provider
func NewBlockBee(logger *zap.Logger, apiKey string) *BlockBee {
	return &BlockBee{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: blockBeeBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Kind returns the provider kind
func (b *BlockBee) Kind() Kind { return KindBlockBee }

type blockBeeAddressResponse struct {
	Status    string `json:"status"`
	AddressIn string `json:"address_in"`
	UUID      string `json:"uuid"`
}

// CreatePaymentAddress requests a fresh deposit address for the currency
func (b *BlockBee) CreatePaymentAddress(ctx context.Context, currency string, amount decimal.Decimal, callbackURL string) (*PaymentAddress, error) {
	endpoint := fmt.Sprintf("%s/%s/create/", b.baseURL, url.PathEscape(currency))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build blockbee request: %w", err)
	}
	q := req.URL.Query()
	q.Set("apikey", b.apiKey)
	q.Set("callback", callbackURL)
	q.Set("value", amount.String())
	req.URL.RawQuery = q.Encode()

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blockbee address request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blockbee address request failed: status %d", resp.StatusCode)
	}

	var body blockBeeAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode blockbee response: %w", err)
	}
	if body.Status != "success" || body.AddressIn == "" {
		return nil, fmt.Errorf("blockbee rejected address request: status %s", body.Status)
	}

	b.logger.Info("blockbee payment address created",
		zap.String("currency", currency), zap.String("address", body.AddressIn))
	return &PaymentAddress{Address: body.AddressIn, ProviderID: body.UUID}, nil
}

type blockBeePayoutResponse struct {
	Status string `json:"status"`
	TxID   string `json:"txid"`
}

// GetWithdrawalStatus checks an outbound payout
func (b *BlockBee) GetWithdrawalStatus(ctx context.Context, providerID string) (*WithdrawalStatus, error) {
	endpoint := fmt.Sprintf("%s/payout/status/?apikey=%s&uuid=%s", b.baseURL, url.QueryEscape(b.apiKey), url.QueryEscape(providerID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build blockbee request: %w", err)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("blockbee payout status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blockbee payout status request failed: status %d", resp.StatusCode)
	}

	var body blockBeePayoutResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode blockbee response: %w", err)
	}

	status := "pending"
	switch body.Status {
	case "done":
		status = "sent"
	case "error":
		status = "failed"
	}
	return &WithdrawalStatus{ProviderID: providerID, Status: status, TxHash: body.TxID}, nil
}
