/**
 * @description
 * This file defines the core domain models owned by the merchant service:
 * the checkout session state machine's data, the attached AP2 mandate copy,
 * step-up challenges, and payment receipts. These structs map onto the
 * `checkout_sessions` and `step_up_challenges` tables; a session's mandate
 * and receipt are stored as JSONB columns of its `checkout_sessions` row.
 *
 * @notes
 * - Monetary totals are float64 currency-unit values (not minor units) to
 *   match the AP2 wire shape's `payment_details_total.amount.value`; the
 *   shared `internal/mandate` package's bankers-rounding is the single
 *   source of truth for how they are compared and formatted.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/mandate"
)

// Session statuses, forming the state machine described in the checkout
// session lifecycle table.
const (
	StatusIncomplete         = "incomplete"
	StatusReadyForComplete   = "ready_for_complete"
	StatusRequiresEscalation = "requires_escalation"
	StatusComplete           = "complete"
	StatusFailed             = "failed"
)

// LineItem is one entry in a checkout session's cart.
type LineItem struct {
	SKU       string  `json:"sku"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// CheckoutSession is the merchant-owned stateful checkout resource.
type CheckoutSession struct {
	ID                uuid.UUID        `json:"id"`
	Version           int64            `json:"-"`
	LineItems         []LineItem       `json:"line_items"`
	BuyerEmail        string           `json:"buyer_email"`
	Currency          string           `json:"currency"`
	Subtotal          float64          `json:"subtotal"`
	Tax               float64          `json:"tax"`
	Total             float64          `json:"total"`
	Status            string           `json:"status"`
	Mandate           *mandate.Mandate `json:"mandate,omitempty"`
	UserAuthOK        bool             `json:"-"`
	ActiveChallengeID *uuid.UUID       `json:"active_challenge_id,omitempty"`
	Receipt           *PaymentReceipt  `json:"receipt,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// StepUpChallenge is issued by the AP2 merchant agent when risk policy
// demands additional user verification before completing a mandate.
type StepUpChallenge struct {
	ID           uuid.UUID `json:"id"`
	MandateID    string    `json:"mandate_id"`
	SessionID    uuid.UUID `json:"-"`
	Method       string    `json:"method"` // otp|biometric|none
	Status       string    `json:"status"` // pending|approved|declined|expired
	CodeHash     string    `json:"-"`
	CodeSalt     string    `json:"-"`
	Attempts     int       `json:"attempts"`
	MaxAttempts  int       `json:"max_attempts"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	ChallengeStatusPending  = "pending"
	ChallengeStatusApproved = "approved"
	ChallengeStatusDeclined = "declined"
	ChallengeStatusExpired  = "expired"

	ChallengeMethodOTP       = "otp"
	ChallengeMethodBiometric = "biometric"
	ChallengeMethodNone      = "none"

	MaxChallengeAttempts = 3
	ChallengeTTL         = 5 * time.Minute
	SessionInactivityTTL = 5 * time.Minute
)

// PaymentReceiptStatus carries the code/message pair surfaced to the client.
type PaymentReceiptStatus struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PaymentReceipt is the merchant's terminal statement about a payment
// attempt.
type PaymentReceipt struct {
	MandateID              string                 `json:"payment_mandate_id"`
	PaymentID              string                 `json:"payment_id"`
	Amount                 mandate.CurrencyAmount `json:"amount"`
	Status                 PaymentReceiptStatus   `json:"payment_status"`
	MerchantConfirmationID string                 `json:"merchant_confirmation_id"`
	IssuedAt               time.Time              `json:"timestamp"`
	MerchantSignature      string                 `json:"merchant_signature,omitempty"`
	OTPChallenge           *OTPChallengeEnvelope  `json:"otp_challenge,omitempty"`
}

// OTPChallengeEnvelope is the wire shape carried inside a receipt when a
// step-up challenge is required, per the spec's step-up wire shape.
type OTPChallengeEnvelope struct {
	PaymentMandateID string `json:"payment_mandate_id"`
	Message          string `json:"message"`
}

const (
	ReceiptStatusSuccess     = "SUCCESS"
	ReceiptStatusOTPRequired = "OTP_REQUIRED"
	ReceiptStatusFailed      = "FAILED"
)

// RequestLogEntry captures one inbound UCP or AP2 request, append-only.
type RequestLogEntry struct {
	ID           uuid.UUID `json:"id"`
	Kind         string    `json:"kind"` // "ucp" | "ap2"
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	Status       int       `json:"status"`
	RequestBody  string    `json:"request_body,omitempty"`
	ResponseBody string    `json:"response_body,omitempty"`
	MandateID    *string   `json:"mandate_id,omitempty"`
	ClientIP     string    `json:"client_ip"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// DeviceCredential is the merchant's view of a shopper's device public key,
// used for signature verification. The shopper's Credentials Provider calls
// the merchant's device-credential registration endpoint at enrollment
// time, which persists it here via ap2merchant.Agent.RegisterDeviceCredential;
// LookupDeviceCredential then finds it at Complete time.
type DeviceCredential struct {
	CredentialID string
	PayerEmail   string
	PublicKeyPEM string
}
