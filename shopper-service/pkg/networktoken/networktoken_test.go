package networktoken

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"strings"
	"testing"
)

func TestNoopAdapterPassesThroughLastFour(t *testing.T) {
	adapter := NoopAdapter{}
	result, err := adapter.Tokenize(context.Background(), "4111111111111111", 12, 2030)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if result.PANLastFour != "1111" {
		t.Fatalf("expected last four 1111, got %s", result.PANLastFour)
	}
	if result.CardNetwork != "not_required" {
		t.Fatalf("expected not_required network, got %s", result.CardNetwork)
	}
	if strings.Contains(result.Token, "4111111111111111") {
		t.Fatalf("expected the noop token to never carry the raw PAN, got %s", result.Token)
	}
}

func testSigningKeyPEM(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	der := x509.MarshalPKCS1PrivateKey(key)
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: der})
}

func TestSignRequestProducesWellFormedAuthHeader(t *testing.T) {
	signer, err := NewOAuth1Signer("consumer-key-1", testSigningKeyPEM(t))
	if err != nil {
		t.Fatalf("NewOAuth1Signer: %v", err)
	}

	header, err := signer.SignRequest("POST", "https://sandbox.api.mastercard.com/mdes/digitization/1/0/tokenize", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("SignRequest: %v", err)
	}

	if !strings.HasPrefix(header, "OAuth ") {
		t.Fatalf("expected header to start with 'OAuth ', got %q", header)
	}
	for _, field := range []string{"oauth_consumer_key", "oauth_nonce", "oauth_signature_method", "oauth_timestamp", "oauth_version", "oauth_signature", "oauth_body_hash"} {
		if !strings.Contains(header, field+"=") {
			t.Errorf("expected header to contain %s, got %q", field, header)
		}
	}
}

func TestSignatureBaseStringOrdersParamsLexicographically(t *testing.T) {
	base, err := signatureBaseString("GET", "https://api.example.com/path?z=1&a=2", map[string]string{"oauth_nonce": "n"}, nil)
	if err != nil {
		t.Fatalf("signatureBaseString: %v", err)
	}
	if !strings.HasPrefix(base, "GET&") {
		t.Fatalf("expected base string to start with GET&, got %q", base)
	}
	if want := "GET&https%3A%2F%2Fapi.example.com%2Fpath&a%3D2%26oauth_nonce%3Dn%26z%3D1"; base != want {
		t.Fatalf("expected params sorted a, oauth_nonce, z:\n got: %s\nwant: %s", base, want)
	}
}
