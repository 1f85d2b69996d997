/**
 * @description
 * This package builds the UCP discovery document served at
 * `/.well-known/ucp`, the entry point a shopper's Discovery Consumer fetches
 * to learn where the checkout-session API lives and which AP2 extension the
 * merchant supports.
 */

package discovery

import "github.com/ucp-demo/merchant-service/internal/config"

// Document is the JSON shape served at /.well-known/ucp.
type Document struct {
	ProtocolVersion string       `json:"ucp_version"`
	Merchant        MerchantInfo `json:"merchant"`
	Endpoints       Endpoints    `json:"endpoints"`
	Extensions      []string     `json:"extensions"`
}

// MerchantInfo describes the merchant serving the document.
type MerchantInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Endpoints lists the UCP surface this merchant exposes.
type Endpoints struct {
	ProductSearch   string `json:"product_search"`
	CheckoutSession string `json:"checkout_session"`
}

// Build assembles the discovery Document from cfg.
func Build(cfg config.Config) Document {
	return Document{
		ProtocolVersion: "1.0",
		Merchant: MerchantInfo{
			ID:   cfg.MerchantID,
			Name: cfg.MerchantName,
			URL:  cfg.MerchantURL,
		},
		Endpoints: Endpoints{
			ProductSearch:   "/ucp/products/search",
			CheckoutSession: "/ucp/v1/checkout-sessions",
		},
		Extensions: []string{"ap2/v1"},
	}
}
