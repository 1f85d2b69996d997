package didsigner

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNoopSignerAlwaysErrors(t *testing.T) {
	if _, err := (NoopSigner{}).Sign(context.Background(), []byte("payload")); err == nil {
		t.Fatal("expected NoopSigner.Sign to error")
	}
}

func TestHTTPSignerDecodesSignature(t *testing.T) {
	var gotPayload string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req signRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotPayload = req.PayloadBase64
		resp := signResponse{SignatureBase64: base64.StdEncoding.EncodeToString([]byte("sig-bytes"))}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	signer := NewHTTPSigner(server.URL)
	sig, err := signer.Sign(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if string(sig) != "sig-bytes" {
		t.Fatalf("expected decoded signature sig-bytes, got %q", sig)
	}
	if gotPayload != base64.StdEncoding.EncodeToString([]byte("hello")) {
		t.Fatalf("unexpected payload sent to signer: %q", gotPayload)
	}
}

func TestHTTPSignerErrorsOnNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	signer := NewHTTPSigner(server.URL)
	if _, err := signer.Sign(context.Background(), []byte("hello")); err == nil {
		t.Fatal("expected a non-200 status to produce an error")
	}
}
