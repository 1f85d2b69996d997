/**
 * @description
 * This package sketches an optional DID/VC signing collaborator for merchant
 * receipts. A real DID/VC microservice is out of scope, but the capability
 * is wired as a nil-able, constructor-injected collaborator exactly like the
 * teacher's `accountClient` in its transaction service: absent, the merchant
 * degrades to unsigned receipts; present, receipts carry a signature.
 */

package didsigner

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Signer produces a signature over an arbitrary payload.
type Signer interface {
	Sign(ctx context.Context, payload []byte) ([]byte, error)
}

// NoopSigner never succeeds; used when no signer URL is configured so the
// merchant agent's "nil Signer" path is exercised uniformly through the
// interface rather than through a nil check at every call site.
type NoopSigner struct{}

func (NoopSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	return nil, fmt.Errorf("didsigner: no signer configured")
}

// HTTPSigner POSTs payload to an external signer endpoint and expects back
// {"signature": "<base64>"}.
type HTTPSigner struct {
	URL    string
	Client *http.Client
}

// NewHTTPSigner constructs an HTTPSigner with a bounded-timeout client.
func NewHTTPSigner(url string) *HTTPSigner {
	return &HTTPSigner{URL: url, Client: &http.Client{Timeout: 5 * time.Second}}
}

type signRequest struct {
	PayloadBase64 string `json:"payload_base64"`
}

type signResponse struct {
	SignatureBase64 string `json:"signature_base64"`
}

func (s *HTTPSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	body, err := json.Marshal(signRequest{PayloadBase64: base64.StdEncoding.EncodeToString(payload)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("didsigner: unexpected status %d: %s", resp.StatusCode, string(data))
	}
	var out signResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(out.SignatureBase64)
}
