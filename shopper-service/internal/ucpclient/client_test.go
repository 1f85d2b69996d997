package ucpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSessionDecodesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ucp/v1/checkout-sessions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Session{ID: "sess-1", Status: "incomplete"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	session, err := client.CreateSession(context.Background(), []LineItem{{SKU: "sku-1", Name: "Widget", Price: 9.99, Quantity: 1}}, "buyer@example.com", "USD")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID != "sess-1" || session.Status != "incomplete" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestRegisterDeviceCredentialPostsPayloadToDeviceCredentialsEndpoint(t *testing.T) {
	var gotBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ucp/v1/device-credentials" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "registered"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	if err := client.RegisterDeviceCredential(context.Background(), "cred-1", "buyer@example.com", "pem-bytes"); err != nil {
		t.Fatalf("RegisterDeviceCredential: %v", err)
	}
	if gotBody["credential_id"] != "cred-1" || gotBody["payer_email"] != "buyer@example.com" || gotBody["public_key_pem"] != "pem-bytes" {
		t.Fatalf("unexpected request body: %+v", gotBody)
	}
}

func TestDoSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error_kind": "invalid_state", "message": "session is terminal"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.GetSession(context.Background(), "sess-1")
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Kind != "invalid_state" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}
