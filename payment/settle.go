package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SettlementClient notifies the counterparty bank of an inter-bank leg. The
// sandbox treats the other bank as an external collaborator; the wire
// protocol stays behind this interface.
type SettlementClient interface {
	Settle(ctx context.Context, transferID, fromBank, toBank string, amount decimal.Decimal, currency string) error
}

// SettlementConfig represents the outbound client configuration.
type SettlementConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPSettlementClient posts settlement notices as JSON to the counterparty's
// interbank endpoint.
type HTTPSettlementClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewSettlementClient constructs a client targeting the supplied base URL.
// A nil client is returned when no base URL is configured; the engine then
// completes transfers locally, which is the single-bank sandbox mode.
func NewSettlementClient(cfg SettlementConfig) *HTTPSettlementClient {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSettlementClient{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type settleRequest struct {
	TransferID string `json:"transferId"`
	FromBank   string `json:"fromBank"`
	ToBank     string `json:"toBank"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
}

// Settle implements SettlementClient.
func (c *HTTPSettlementClient) Settle(ctx context.Context, transferID, fromBank, toBank string, amount decimal.Decimal, currency string) error {
	if c == nil || c.httpClient == nil {
		return fmt.Errorf("settle: client not configured")
	}
	payload := settleRequest{
		TransferID: transferID,
		FromBank:   fromBank,
		ToBank:     toBank,
		Amount:     amount.StringFixed(2),
		Currency:   currency,
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/interbank/settle", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("settle: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var _ SettlementClient = (*HTTPSettlementClient)(nil)
