package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kenn289/oryn-alert-hub-sub003/internal/pkg/env"
)

// GatewayOrder is the gateway's view of a payment order.
type GatewayOrder struct {
	ID         string            `json:"id"`
	Amount     int64             `json:"amount"`
	AmountPaid int64             `json:"amount_paid"`
	Currency   string            `json:"currency"`
	Receipt    string            `json:"receipt"`
	Status     string            `json:"status"`
	Notes      map[string]string `json:"notes,omitempty"`
}

// GatewayOrderRequest describes the order to create on the gateway side.
type GatewayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

// Gateway is the remote payment gateway interface consumed by the issuer and
// the reconciliation sweep.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error)
	FetchOrder(ctx context.Context, orderID string) (*GatewayOrder, error)
}

// GatewayClient talks to the payment gateway's REST API using key id/secret
// basic auth.
type GatewayClient struct {
	KeyID      string
	KeySecret  string
	APIBaseURL string

	HTTPClient *http.Client
}

const defaultGatewayBaseURL = "https://api.razorpay.com/v1"

// NewGatewayClientFromEnv builds a gateway client from environment settings.
func NewGatewayClientFromEnv() *GatewayClient {
	return &GatewayClient{
		KeyID:      strings.TrimSpace(env.GetEnv("GATEWAY_KEY_ID", "")),
		KeySecret:  strings.TrimSpace(env.GetEnv("GATEWAY_KEY_SECRET", "")),
		APIBaseURL: strings.TrimRight(env.GetEnv("GATEWAY_BASE_URL", defaultGatewayBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// CreateOrder registers a payment order with the gateway.
func (c *GatewayClient) CreateOrder(ctx context.Context, req GatewayOrderRequest) (*GatewayOrder, error) {
	if c.KeyID == "" || c.KeySecret == "" {
		return nil, errors.New("GATEWAY_KEY_ID/GATEWAY_KEY_SECRET are not configured")
	}
	if req.Amount <= 0 || strings.TrimSpace(req.Currency) == "" {
		return nil, fmt.Errorf("%w: amount and currency are required", ErrValidation)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIBaseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.KeyID, c.KeySecret)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	return c.doOrderRequest(httpReq)
}

// FetchOrder reads the current gateway-side state of an order. Used by the
// reconciliation sweep for stale local orders.
func (c *GatewayClient) FetchOrder(ctx context.Context, orderID string) (*GatewayOrder, error) {
	if c.KeyID == "" || c.KeySecret == "" {
		return nil, errors.New("GATEWAY_KEY_ID/GATEWAY_KEY_SECRET are not configured")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, fmt.Errorf("%w: order id is required", ErrValidation)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIBaseURL+"/orders/"+orderID, nil)
	if err != nil {
		return nil, err
	}
	httpReq.SetBasicAuth(c.KeyID, c.KeySecret)
	httpReq.Header.Set("Accept", "application/json")

	return c.doOrderRequest(httpReq)
}

func (c *GatewayClient) doOrderRequest(req *http.Request) (*GatewayOrder, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading gateway response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: gateway returned status %d: %s", ErrGatewayUnavailable, resp.StatusCode, truncateBody(raw))
	}

	var order GatewayOrder
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("%w: malformed gateway response: %v", ErrGatewayUnavailable, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: gateway response missing order id", ErrGatewayUnavailable)
	}
	return &order, nil
}

func truncateBody(raw []byte) string {
	const maxLen = 256
	s := string(raw)
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
