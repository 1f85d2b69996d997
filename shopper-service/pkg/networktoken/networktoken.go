/**
 * @description
 * This package adapts a PAN into a network token via an OAuth 1.0a
 * RSA-SHA256-signed call to a card network's tokenization API, standing in
 * for the checkout flow's "never send the raw PAN to the merchant" step.
 * Grounded byte-for-byte on
 * `original_source/chat-backend/mastercard_client.py`'s
 * MastercardOAuth1Signer (nonce/timestamp/signature-base-string/body-hash
 * construction) and MastercardTokenizationClient's tokenize_card request
 * shape, translated into Go's net/http + crypto/rsa idiom.
 *
 * @dependencies
 * - crypto/rsa, crypto/sha256, crypto/x509, encoding/pem: Standard library
 *   RSA-SHA256 signing.
 * - net/url: Percent-encoding of the signature base string parts.
 */

package networktoken

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenResult is the outcome of a tokenization request.
type TokenResult struct {
	Token                string `json:"token"`
	TokenUniqueReference string `json:"token_unique_reference"`
	PANLastFour          string `json:"pan_last_four"`
	CardNetwork          string `json:"card_network"`
	TokenAssuranceLevel  string `json:"token_assurance_level"`
}

// Adapter tokenizes a PAN ahead of mandate assembly.
type Adapter interface {
	Tokenize(ctx context.Context, pan string, expiryMonth, expiryYear int) (TokenResult, error)
}

// NoopAdapter is the default, capability-flag-gated-off adapter: it returns
// the last four digits of the PAN as a pass-through "token" without
// contacting any network, mirroring the Python client's MASTERCARD_ENABLED
// feature-flag short-circuit.
type NoopAdapter struct{}

func (NoopAdapter) Tokenize(ctx context.Context, pan string, expiryMonth, expiryYear int) (TokenResult, error) {
	lastFour := pan
	if len(pan) > 4 {
		lastFour = pan[len(pan)-4:]
	}
	return TokenResult{
		Token:                "NOOP-" + lastFour,
		TokenUniqueReference: "NOOP-" + lastFour,
		PANLastFour:          lastFour,
		CardNetwork:          "not_required",
		TokenAssuranceLevel:  "not_required",
	}, nil
}

// OAuth1Signer signs requests per Mastercard's OAuth 1.0a / RSA-SHA256
// scheme.
type OAuth1Signer struct {
	consumerKey string
	signingKey  *rsa.PrivateKey
}

// NewOAuth1Signer loads a PEM-encoded RSA private key for signing.
func NewOAuth1Signer(consumerKey string, signingKeyPEM []byte) (*OAuth1Signer, error) {
	block, _ := pem.Decode(signingKeyPEM)
	if block == nil {
		return nil, errors.New("invalid signing key pem")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		parsed, err2 := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err2 != nil {
			return nil, fmt.Errorf("parse rsa private key: %w", err)
		}
		rsaKey, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("signing key is not an rsa private key")
		}
		key = rsaKey
	}
	return &OAuth1Signer{consumerKey: consumerKey, signingKey: key}, nil
}

// SignRequest computes the Authorization header value for method+url+body.
func (s *OAuth1Signer) SignRequest(method, rawURL string, body []byte) (string, error) {
	nonce, err := generateNonce()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	params := map[string]string{
		"oauth_consumer_key":     s.consumerKey,
		"oauth_nonce":            nonce,
		"oauth_signature_method": "RSA-SHA256",
		"oauth_timestamp":        strconv.FormatInt(time.Now().Unix(), 10),
		"oauth_version":          "1.0",
	}
	if len(body) > 0 {
		bodyDigest := sha256.Sum256(body)
		params["oauth_body_hash"] = base64.StdEncoding.EncodeToString(bodyDigest[:])
	}

	base, err := signatureBaseString(method, rawURL, params, body)
	if err != nil {
		return "", fmt.Errorf("build signature base string: %w", err)
	}

	digest := sha256.Sum256([]byte(base))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.signingKey, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("sign with rsa: %w", err)
	}
	params["oauth_signature"] = base64.StdEncoding.EncodeToString(sig)

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, params[k]))
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

func generateNonce() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return strings.TrimRight(base64.StdEncoding.EncodeToString(id[:]), "="), nil
}

// signatureBaseString mirrors _create_signature_base_string: base URL
// (scheme+host+path, no query), all params (oauth params + query params +
// oauth_body_hash when body is present) percent-encoded and sorted, joined
// as METHOD & base_url & param_string.
func signatureBaseString(method, rawURL string, oauthParams map[string]string, body []byte) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	baseURL := fmt.Sprintf("%s://%s%s", parsed.Scheme, parsed.Host, parsed.Path)

	all := make(map[string]string, len(oauthParams))
	for k, v := range oauthParams {
		all[k] = v
	}
	for k, v := range parsed.Query() {
		if len(v) > 0 {
			all[k] = v[0]
		}
	}
	if len(body) > 0 {
		bodyDigest := sha256.Sum256(body)
		all["oauth_body_hash"] = base64.StdEncoding.EncodeToString(bodyDigest[:])
	}

	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, percentEncode(k)+"="+percentEncode(all[k]))
	}
	paramString := strings.Join(pairs, "&")

	return strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(paramString), nil
}

// percentEncode escapes every byte outside the unreserved set (letters,
// digits, "-", ".", "_", "~"), "/" included, and writes spaces as "%20";
// it is applied to the base URL and parameter string before they are joined
// with "&".
func percentEncode(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// OAuth1Adapter tokenizes a PAN through a card network's cloud
// tokenization endpoint, signing the request per OAuth1Signer.
type OAuth1Adapter struct {
	baseURL     string
	consumerKey string
	signer      *OAuth1Signer
	httpClient  *http.Client
}

// NewOAuth1Adapter constructs an OAuth1Adapter bound to baseURL (e.g.
// https://sandbox.api.mastercard.com).
func NewOAuth1Adapter(baseURL, consumerKey string, signer *OAuth1Signer) *OAuth1Adapter {
	return &OAuth1Adapter{
		baseURL:     strings.TrimRight(baseURL, "/"),
		consumerKey: consumerKey,
		signer:      signer,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *OAuth1Adapter) Tokenize(ctx context.Context, pan string, expiryMonth, expiryYear int) (TokenResult, error) {
	reqURL := a.baseURL + "/mdes/digitization/1/0/tokenize"
	payload := map[string]interface{}{
		"requestId":        uuid.NewString(),
		"taskId":           uuid.NewString(),
		"tokenType":        "CLOUD",
		"tokenRequestorId": a.consumerKey,
		"fundingAccountInfo": map[string]interface{}{
			"accountNumber": pan,
			"expiryMonth":   expiryMonth,
			"expiryYear":    expiryYear,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return TokenResult{}, fmt.Errorf("encode payload: %w", err)
	}

	authHeader, err := a.signer.SignRequest(http.MethodPost, reqURL, body)
	if err != nil {
		return TokenResult{}, fmt.Errorf("sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return TokenResult{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authHeader)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return TokenResult{}, fmt.Errorf("call tokenization endpoint: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return TokenResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return TokenResult{}, fmt.Errorf("tokenization endpoint returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result TokenResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return TokenResult{}, fmt.Errorf("decode response: %w", err)
	}
	return result, nil
}
