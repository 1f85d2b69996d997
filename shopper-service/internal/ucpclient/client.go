/**
 * @description
 * This package is the shopper's HTTP client for the merchant's UCP
 * surface: the checkout-session lifecycle and device-credential
 * registration. It does not fetch the discovery document or call product
 * search; the merchant base URL is supplied directly.
 * Grounded on `account-service/pkg/subscriptionclient/client.go`'s
 * struct-with-timeout, read-body-then-decode shape.
 *
 * @dependencies
 * - net/http, encoding/json: Standard library HTTP + JSON.
 */

package ucpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ucp-demo/shopper-service/internal/mandate"
)

// LineItem mirrors the merchant's checkout-session line item shape.
type LineItem struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"unit_price"`
	Quantity int     `json:"quantity"`
}

// Totals mirrors the merchant's computed cart totals block.
type Totals struct {
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// Session is the shopper-facing view of a merchant checkout session.
type Session struct {
	ID         string           `json:"id"`
	Status     string           `json:"status"`
	LineItems  []LineItem       `json:"line_items"`
	Totals     Totals           `json:"totals"`
	BuyerEmail string           `json:"buyer_email"`
	Mandate    *mandate.Mandate `json:"mandate,omitempty"`
	Receipt    interface{}      `json:"receipt,omitempty"`
}

// Client talks to a merchant service's UCP/AP2 HTTP surface.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a Client bound to baseURL (e.g. http://localhost:8090).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateSession opens a new checkout session for the given cart.
func (c *Client) CreateSession(ctx context.Context, lineItems []LineItem, buyerEmail, currency string) (*Session, error) {
	payload := map[string]interface{}{
		"line_items":  lineItems,
		"buyer_email": buyerEmail,
		"currency":    currency,
	}
	var session Session
	if err := c.do(ctx, http.MethodPost, "/ucp/v1/checkout-sessions", payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetSession fetches the current state of a checkout session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/ucp/v1/checkout-sessions/%s", sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// AttachMandate submits a signed payment mandate to a checkout session.
func (c *Client) AttachMandate(ctx context.Context, sessionID string, mnd *mandate.Mandate) (*Session, error) {
	payload := map[string]interface{}{"payment_mandate": mnd}
	var session Session
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/ucp/v1/checkout-sessions/%s", sessionID), payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Complete finalizes a checkout session, optionally submitting an OTP code
// for a step-up challenge.
func (c *Client) Complete(ctx context.Context, sessionID, otpCode string) (*Session, error) {
	payload := map[string]interface{}{}
	if otpCode != "" {
		payload["otp_code"] = otpCode
	}
	var session Session
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/ucp/v1/checkout-sessions/%s/complete", sessionID), payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// RegisterDeviceCredential enrolls a device's public key with the merchant so
// a later Complete call's signature can be verified against it.
func (c *Client) RegisterDeviceCredential(ctx context.Context, credentialID, payerEmail, publicKeyPEM string) error {
	payload := map[string]interface{}{
		"credential_id":  credentialID,
		"payer_email":    payerEmail,
		"public_key_pem": publicKeyPEM,
	}
	return c.do(ctx, http.MethodPost, "/ucp/v1/device-credentials", payload, nil)
}

// APIError carries a merchant-returned error body alongside the HTTP status.
type APIError struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("merchant returned %d: %s (%s)", e.StatusCode, e.Message, e.Kind)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call merchant service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Kind    string `json:"error_kind"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &apiErr)
		return &APIError{StatusCode: resp.StatusCode, Kind: apiErr.Kind, Message: apiErr.Message}
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
