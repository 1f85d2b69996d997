package discovery

import (
	"testing"

	"github.com/ucp-demo/merchant-service/internal/config"
)

func TestBuildPopulatesMerchantAndEndpoints(t *testing.T) {
	cfg := config.Config{
		MerchantID:   "merchant-demo-1",
		MerchantName: "UCP Demo Merchant",
		MerchantURL:  "https://merchant.example.com",
	}

	doc := Build(cfg)

	if doc.ProtocolVersion != "1.0" {
		t.Fatalf("expected protocol version 1.0, got %q", doc.ProtocolVersion)
	}
	if doc.Merchant.ID != cfg.MerchantID || doc.Merchant.Name != cfg.MerchantName || doc.Merchant.URL != cfg.MerchantURL {
		t.Fatalf("merchant info did not round-trip config: %+v", doc.Merchant)
	}
	if doc.Endpoints.ProductSearch != "/ucp/products/search" {
		t.Fatalf("unexpected product search endpoint: %q", doc.Endpoints.ProductSearch)
	}
	if doc.Endpoints.CheckoutSession != "/ucp/v1/checkout-sessions" {
		t.Fatalf("unexpected checkout session endpoint: %q", doc.Endpoints.CheckoutSession)
	}
	if len(doc.Extensions) != 1 || doc.Extensions[0] != "ap2/v1" {
		t.Fatalf("expected ap2/v1 extension, got %v", doc.Extensions)
	}
}
