/**
 * @description
 * This package defines the AP2 payment mandate wire types and the single
 * canonicalization routine used to compute the digest that a device
 * credential signs (shopper side) and verifies (merchant side). It is
 * physically duplicated, byte-for-byte, into both services' trees because
 * the demonstrator ships two independent Go modules with no shared internal
 * module between them (mirrors the teacher's own precedent of each service
 * being a standalone module); TestCanonicalizationMatchesReferenceVectors in
 * both trees guards against the two copies drifting apart.
 *
 * @dependencies
 * - fmt, math, sort, strconv, strings: Standard Go libraries.
 */

package mandate

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// CurrencyAmount is a monetary amount paired with its ISO-4217 currency code.
type CurrencyAmount struct {
	Currency string  `json:"currency"`
	Value    float64 `json:"value"`
}

// PaymentResponseDetails carries the method-specific per-transaction payment
// material. Token/cryptogram are freshly generated per mandate (never
// long-lived tokens) per the P-MANDATE invariant.
type PaymentResponseDetails struct {
	Token        string `json:"token"`
	Cryptogram   string `json:"cryptogram"`
	CardLastFour string `json:"card_last_four"`
	CardNetwork  string `json:"card_network"`
}

// PaymentResponse is the consumer's payment-method response block.
type PaymentResponse struct {
	RequestID  string                 `json:"request_id"`
	MethodName string                 `json:"method_name"`
	Details    PaymentResponseDetails `json:"details"`
	PayerEmail string                 `json:"payer_email"`
	PayerName  string                 `json:"payer_name"`
}

// Contents is the signed portion of an AP2 payment mandate.
type Contents struct {
	PaymentMandateID    string          `json:"payment_mandate_id"`
	Timestamp           string          `json:"timestamp"`
	PaymentDetailsID    string          `json:"payment_details_id"`
	PaymentDetailsTotal CurrencyAmount  `json:"payment_details_total"`
	PaymentResponse     PaymentResponse `json:"payment_response"`
	MerchantAgent       string          `json:"merchant_agent"`
}

// Mandate is the full wire shape: signed contents plus the device-bound
// user authorization over their canonical digest.
type Mandate struct {
	Contents          Contents `json:"payment_mandate_contents"`
	UserAuthorization string   `json:"user_authorization"`
}

// RoundMoney applies bankers-rounding (round-half-to-even) to 2 decimal
// places, the rule both the shopper's signer and the merchant's verifier
// must apply identically when formatting amounts into the canonical digest.
func RoundMoney(v float64) float64 {
	scaled := v * 100
	floor := math.Floor(scaled)
	diff := scaled - floor
	var rounded float64
	switch {
	case diff < 0.5:
		rounded = floor
	case diff > 0.5:
		rounded = floor + 1
	default:
		// Exactly on the boundary: round to even.
		if math.Mod(floor, 2) == 0 {
			rounded = floor
		} else {
			rounded = floor + 1
		}
	}
	return rounded / 100
}

// formatMoney renders a rounded monetary value with exactly two decimals,
// independent of Go's default float formatting (which would drop trailing
// zeroes or use exponents for some inputs).
func formatMoney(v float64) string {
	return strconv.FormatFloat(RoundMoney(v), 'f', 2, 64)
}

// canonicalValue turns an arbitrary JSON-ish value (built from the Contents
// struct via a plain map so field order and rounding are fully controlled)
// into its canonical string form: objects with lexicographically sorted
// keys, no insignificant whitespace, monetary leaves pre-rounded.
func canonicalValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, quoteString(k)+":"+canonicalValue(val[k]))
		}
		return "{" + strings.Join(parts, ",") + "}"
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, canonicalValue(item))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case string:
		return quoteString(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case moneyLeaf:
		return formatMoney(float64(val))
	case bool:
		if val {
			return "true"
		}
		return "false"
	case nil:
		return "null"
	default:
		return quoteString(fmt.Sprintf("%v", val))
	}
}

// moneyLeaf marks a float64 that must be canonicalized with bankers-rounded,
// fixed 2-decimal formatting rather than Go's general float formatting.
type moneyLeaf float64

func quoteString(s string) string {
	b := strings.Builder{}
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func contentsToMap(c Contents) map[string]interface{} {
	return map[string]interface{}{
		"payment_mandate_id": c.PaymentMandateID,
		"timestamp":          c.Timestamp,
		"payment_details_id": c.PaymentDetailsID,
		"payment_details_total": map[string]interface{}{
			"currency": c.PaymentDetailsTotal.Currency,
			"value":    moneyLeaf(c.PaymentDetailsTotal.Value),
		},
		"payment_response": map[string]interface{}{
			"request_id":  c.PaymentResponse.RequestID,
			"method_name": c.PaymentResponse.MethodName,
			"details": map[string]interface{}{
				"token":          c.PaymentResponse.Details.Token,
				"cryptogram":     c.PaymentResponse.Details.Cryptogram,
				"card_last_four": c.PaymentResponse.Details.CardLastFour,
				"card_network":   c.PaymentResponse.Details.CardNetwork,
			},
			"payer_email": c.PaymentResponse.PayerEmail,
			"payer_name":  c.PaymentResponse.PayerName,
		},
		"merchant_agent": c.MerchantAgent,
	}
}

// Canonicalize renders Contents as the lexicographic, whitespace-free JSON
// string that the device credential signs and that the merchant recomputes
// to verify the signature. Both sides MUST produce byte-identical output for
// the same logical contents; see TestCanonicalizationMatchesReferenceVectors.
func Canonicalize(c Contents) []byte {
	return []byte(canonicalValue(contentsToMap(c)))
}
