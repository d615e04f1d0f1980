package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const dynoPayBaseURL = "https://api.dynopay.com/api"

// DynoPay generates deposit addresses via the DynoPay API
type DynoPay struct {
	logger  *zap.Logger
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewDynoPay creates a DynoPay provider
func NewDynoPay(logger *zap.Logger, apiKey string) *DynoPay {
	return &DynoPay{
		logger:  logger,
		apiKey:  apiKey,
		baseURL: dynoPayBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Kind returns the provider kind
func (d *DynoPay) Kind() Kind { return KindDynoPay }

type dynoPayAddressRequest struct {
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	CallbackURL string `json:"callback_url"`
}

type dynoPayAddressResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Address   string `json:"address"`
		PaymentID string `json:"payment_id"`
	} `json:"data"`
	Message string `json:"message"`
}

// CreatePaymentAddress requests a deposit address
func (d *DynoPay) CreatePaymentAddress(ctx context.Context, currency string, amount decimal.Decimal, callbackURL string) (*PaymentAddress, error) {
	payload, err := json.Marshal(dynoPayAddressRequest{
		Currency:    currency,
		Amount:      amount.String(),
		CallbackURL: callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal dynopay request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/payments/address", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build dynopay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dynopay address request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("dynopay address request failed: status %d", resp.StatusCode)
	}

	var body dynoPayAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode dynopay response: %w", err)
	}
	if !body.Success || body.Data.Address == "" {
		return nil, fmt.Errorf("dynopay rejected address request: %s", body.Message)
	}

	d.logger.Info("dynopay payment address created",
		zap.String("currency", currency), zap.String("address", body.Data.Address))
	return &PaymentAddress{Address: body.Data.Address, ProviderID: body.Data.PaymentID}, nil
}

type dynoPayStatusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Status string `json:"status"`
		TxHash string `json:"tx_hash"`
	} `json:"data"`
}

// GetWithdrawalStatus checks an outbound payout
func (d *DynoPay) GetWithdrawalStatus(ctx context.Context, providerID string) (*WithdrawalStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/payouts/"+providerID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build dynopay request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dynopay payout status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dynopay payout status request failed: status %d", resp.StatusCode)
	}

	var body dynoPayStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode dynopay response: %w", err)
	}

	return &WithdrawalStatus{ProviderID: providerID, Status: body.Data.Status, TxHash: body.Data.TxHash}, nil
}
