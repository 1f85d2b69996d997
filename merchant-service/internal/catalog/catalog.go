/**
 * @description
 * This package is a thin in-memory stand-in for the merchant's product
 * catalog, backing `GET /ucp/products/search`. The full admin CRUD catalog
 * system is out of scope, but the search endpoint itself is part of the UCP
 * surface and needs something real behind it for the shopper's discovery
 * flow to exercise end to end.
 */

package catalog

import "strings"

// Product is one catalog entry.
type Product struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	UnitPrice   float64 `json:"unit_price"`
	Currency    string  `json:"currency"`
}

// Catalog is a read-only in-memory product list.
type Catalog struct {
	products []Product
}

// NewDemoCatalog returns a catalog pre-seeded with a small fixed assortment,
// enough for the checkout flow to be exercised against real SKUs.
func NewDemoCatalog() *Catalog {
	return &Catalog{
		products: []Product{
			{SKU: "sku-mug-001", Name: "Ceramic Mug", Description: "350ml ceramic mug", UnitPrice: 12.50, Currency: "SGD"},
			{SKU: "sku-tee-001", Name: "Cotton T-Shirt", Description: "Unisex crew neck", UnitPrice: 24.00, Currency: "SGD"},
			{SKU: "sku-bottle-001", Name: "Steel Water Bottle", Description: "750ml insulated bottle", UnitPrice: 34.90, Currency: "SGD"},
			{SKU: "sku-cap-001", Name: "Baseball Cap", Description: "Adjustable cotton cap", UnitPrice: 19.90, Currency: "SGD"},
		},
	}
}

// Search returns products whose name or sku contains query, case-insensitive.
// An empty query returns the full catalog.
func (c *Catalog) Search(query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return append([]Product(nil), c.products...)
	}
	var out []Product
	for _, p := range c.products {
		if strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.SKU), q) {
			out = append(out, p)
		}
	}
	return out
}
