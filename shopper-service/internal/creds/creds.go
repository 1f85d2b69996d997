/**
 * @description
 * This package is the shopper's Credentials Provider: it enrolls a device
 * credential (an ECDSA P-256 keypair standing in for a WebAuthn
 * authenticator) per user and manages payment instruments on file, keeping
 * the PAN encrypted at rest with chacha20poly1305. Grounded on
 * `account-service/internal/domain/security.go`'s keypair/PEM handling
 * style, with the encryption-at-rest concern layered on top per the demo's
 * domain stack.
 *
 * @dependencies
 * - crypto/ecdsa, crypto/elliptic, crypto/rand, crypto/x509, encoding/pem:
 *   Standard library keypair generation and PEM encoding.
 * - golang.org/x/crypto/chacha20poly1305: PAN-at-rest encryption.
 * - github.com/google/uuid: Credential/instrument identifiers.
 */

package creds

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/shopper-service/internal/domain"
	"github.com/ucp-demo/shopper-service/internal/store"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNoEncryptionKey is returned when PAN operations are attempted without a
// configured encryption key.
var ErrNoEncryptionKey = errors.New("pan encryption key not configured")

// Provider enrolls device credentials and manages payment instruments.
type Provider struct {
	repo   store.Repository
	panKey []byte // 32-byte chacha20poly1305 key, nil disables PAN storage
}

// NewProvider constructs a Provider. panKeyHex is the hex-encoded 32-byte
// key used to encrypt PANs at rest; an empty string disables instrument
// enrollment (EnrollDemoInstrument will return ErrNoEncryptionKey).
func NewProvider(repo store.Repository, panKeyHex string) (*Provider, error) {
	p := &Provider{repo: repo}
	if panKeyHex == "" {
		return p, nil
	}
	key, err := hex.DecodeString(panKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode pan encryption key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("pan encryption key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	p.panKey = key
	return p, nil
}

// EnrollDevice generates a fresh ECDSA P-256 keypair for email, persists it
// (overwriting any prior credential), and returns it. The private key is the
// shopper's half of the user-presence signature over a mandate's canonical
// digest; the public key is what the merchant verifies against.
func (p *Provider) EnrollDevice(ctx context.Context, email string) (*domain.DeviceCredential, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate device keypair: %w", err)
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}

	pubPEM := string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes}))
	privPEM := string(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}))

	cred := &domain.DeviceCredential{
		CredentialID:  uuid.NewString(),
		UserEmail:     email,
		PublicKeyPEM:  pubPEM,
		PrivateKeyPEM: privPEM,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.repo.UpsertDeviceCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("persist device credential: %w", err)
	}
	return cred, nil
}

// GetDevicePrivateKey loads and parses the enrolled device credential's
// private key for email.
func (p *Provider) GetDevicePrivateKey(ctx context.Context, email string) (*ecdsa.PrivateKey, error) {
	cred, err := p.repo.GetDeviceCredential(ctx, email)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode([]byte(cred.PrivateKeyPEM))
	if block == nil {
		return nil, errors.New("invalid device private key pem")
	}
	return x509.ParseECPrivateKey(block.Bytes)
}

// EnrollDemoInstrument registers a fixed demo PAN as the user's default
// payment instrument. The PAN is a hardcoded fixture (this demonstrator has
// no card-entry UI), encrypted at rest and never surfaced again in the
// clear.
func (p *Provider) EnrollDemoInstrument(ctx context.Context, email, cardNetwork, pan, lastFour string) (*domain.PaymentInstrument, error) {
	if p.panKey == nil {
		return nil, ErrNoEncryptionKey
	}
	aead, err := chacha20poly1305.New(p.panKey)
	if err != nil {
		return nil, fmt.Errorf("init aead: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, []byte(pan), []byte(email))

	instr := &domain.PaymentInstrument{
		ID:           uuid.NewString(),
		UserEmail:    email,
		CardNetwork:  cardNetwork,
		LastFour:     lastFour,
		EncryptedPAN: ciphertext,
		Nonce:        nonce,
		IsDefault:    true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.repo.UpsertPaymentInstrument(ctx, instr); err != nil {
		return nil, fmt.Errorf("persist payment instrument: %w", err)
	}
	return instr, nil
}

// DecryptPAN recovers the cleartext PAN for instr. Only the network
// tokenization path should ever call this; the decrypted PAN must never be
// logged or persisted elsewhere.
func (p *Provider) DecryptPAN(instr *domain.PaymentInstrument) (string, error) {
	if p.panKey == nil {
		return "", ErrNoEncryptionKey
	}
	aead, err := chacha20poly1305.New(p.panKey)
	if err != nil {
		return "", fmt.Errorf("init aead: %w", err)
	}
	plaintext, err := aead.Open(nil, instr.Nonce, instr.EncryptedPAN, []byte(instr.UserEmail))
	if err != nil {
		return "", fmt.Errorf("decrypt pan: %w", err)
	}
	return string(plaintext), nil
}

// DefaultInstrument loads the user's default payment instrument.
func (p *Provider) DefaultInstrument(ctx context.Context, email string) (*domain.PaymentInstrument, error) {
	return p.repo.GetDefaultPaymentInstrument(ctx, email)
}
