/**
 * @description
 * This file defines the core domain models owned by the shopper service:
 * users, enrolled device credentials, payment instruments, and the
 * orchestrator's bookkeeping of in-flight checkout attempts. Grounded on
 * `account-service/internal/domain/{user.go,security.go}`'s exported-field,
 * json-tagged struct style.
 */

package domain

import "time"

// User is a demo shopper account.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

// DeviceCredential is an enrolled authenticator standing in for a WebAuthn
// credential: an asymmetric keypair whose private half signs mandates and
// whose public half the merchant verifies against.
type DeviceCredential struct {
	CredentialID  string    `json:"credential_id"`
	UserEmail     string    `json:"user_email"`
	PublicKeyPEM  string    `json:"public_key_pem"`
	PrivateKeyPEM string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// PaymentInstrument is a payment method on file for a user. The PAN is never
// stored in the clear; EncryptedPAN holds the chacha20poly1305 ciphertext and
// Nonce its per-record nonce.
type PaymentInstrument struct {
	ID            string    `json:"id"`
	UserEmail     string    `json:"user_email"`
	CardNetwork   string    `json:"card_network"`
	LastFour      string    `json:"last_four"`
	EncryptedPAN  []byte    `json:"-"`
	Nonce         []byte    `json:"-"`
	IsDefault     bool      `json:"is_default"`
	CreatedAt     time.Time `json:"created_at"`
}

// CheckoutAttempt records the orchestrator's bookkeeping for one in-flight
// (or completed) checkout against a merchant session, enforcing "at most one
// in-flight mandate per session" and making Confirm idempotent.
type CheckoutAttempt struct {
	ID                string     `json:"id"`
	UserEmail         string     `json:"user_email"`
	MerchantSessionID string     `json:"merchant_session_id"`
	MandateID         string     `json:"mandate_id"`
	Status            string     `json:"status"` // prepared|confirmed|requires_otp|complete|failed
	ReceiptJSON       string     `json:"receipt,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

const (
	AttemptStatusPrepared   = "prepared"
	AttemptStatusConfirmed  = "confirmed"
	AttemptStatusRequiresOTP = "requires_otp"
	AttemptStatusComplete   = "complete"
	AttemptStatusFailed     = "failed"
)

// CartItem is one line item the shopper intends to purchase.
type CartItem struct {
	SKU      string  `json:"sku"`
	Name     string  `json:"name"`
	Price    float64 `json:"unit_price"`
	Quantity int     `json:"quantity"`
}
