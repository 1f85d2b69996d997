/**
 * @description
 * This package is the shopper's AP2 Consumer Agent: it assembles a payment
 * mandate from a cart and a payment instrument, then signs the mandate's
 * canonical digest with the user's enrolled device credential, producing
 * the user_authorization the merchant verifies. Grounded on
 * `original_source/chat-backend/ap2_client.py`'s create_payment_mandate
 * (token/cryptogram generation, mandate field assembly), with signing
 * layered on top in the merchant's ap2merchant idiom.
 *
 * @dependencies
 * - crypto/ecdsa, crypto/sha256, crypto/rand: Standard library signing.
 * - github.com/google/uuid: Mandate/request identifiers.
 * - internal/mandate: Shared canonical digest + wire types.
 * - pkg/networktoken: Optional network tokenization of the instrument's PAN
 *   into the mandate's payment token, in place of the synthetic fallback.
 */

package ap2consumer

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"math/big"
	mathrand "math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/shopper-service/internal/domain"
	"github.com/ucp-demo/shopper-service/internal/mandate"
	"github.com/ucp-demo/shopper-service/pkg/networktoken"
)

// KeyProvider resolves the signing key enrolled for a user's device
// credential. Implemented by internal/creds.Provider.
type KeyProvider interface {
	GetDevicePrivateKey(ctx context.Context, email string) (*ecdsa.PrivateKey, error)
}

// PANSource decrypts a payment instrument's PAN for tokenization.
// Implemented by internal/creds.Provider.
type PANSource interface {
	DecryptPAN(instr *domain.PaymentInstrument) (string, error)
}

// Agent assembles and signs AP2 payment mandates on the shopper's behalf.
type Agent struct {
	keys      KeyProvider
	pans      PANSource
	tokenizer networktoken.Adapter
	agentName string
}

// NewAgent constructs a consumer Agent. agentName identifies this consumer
// agent in the mandate's merchant_agent-adjacent bookkeeping (mirrors the
// Python client's hardcoded "merchant-001" field, made configurable here).
func NewAgent(keys KeyProvider, agentName string) *Agent {
	if strings.TrimSpace(agentName) == "" {
		agentName = "shopper-agent-1"
	}
	return &Agent{keys: keys, agentName: agentName, tokenizer: networktoken.NoopAdapter{}}
}

// WithTokenizer swaps in a network tokenization adapter (and the PAN source
// it needs), returning the same Agent for chaining at construction time.
// Without a call to WithTokenizer the agent falls back to a synthetic
// per-mandate token, matching the reference client's untokenized demo path.
func (a *Agent) WithTokenizer(tokenizer networktoken.Adapter, pans PANSource) *Agent {
	a.tokenizer = tokenizer
	a.pans = pans
	return a
}

// BuildAndSign assembles a payment mandate for the given cart total and
// instrument, then signs its canonical digest with the user's device
// credential private key.
func (a *Agent) BuildAndSign(
	ctx context.Context,
	payerEmail, payerName string,
	total float64,
	currency string,
	instr *domain.PaymentInstrument,
	paymentDetailsID string,
) (*mandate.Mandate, error) {
	token := a.resolveToken(ctx, instr)

	contents := mandate.Contents{
		PaymentMandateID: fmt.Sprintf("PM-%s", strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:16])),
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		PaymentDetailsID: paymentDetailsID,
		PaymentDetailsTotal: mandate.CurrencyAmount{
			Currency: currency,
			Value:    mandate.RoundMoney(total),
		},
		PaymentResponse: mandate.PaymentResponse{
			RequestID:  paymentDetailsID,
			MethodName: "CARD",
			Details: mandate.PaymentResponseDetails{
				Token:        token,
				Cryptogram:   generateCryptogram(),
				CardLastFour: instr.LastFour,
				CardNetwork:  instr.CardNetwork,
			},
			PayerEmail: payerEmail,
			PayerName:  payerName,
		},
		MerchantAgent: a.agentName,
	}

	digest := sha256.Sum256(mandate.Canonicalize(contents))

	priv, err := a.keys.GetDevicePrivateKey(ctx, payerEmail)
	if err != nil {
		return nil, fmt.Errorf("load device key: %w", err)
	}
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign mandate digest: %w", err)
	}

	return &mandate.Mandate{
		Contents:          contents,
		UserAuthorization: base64.RawURLEncoding.EncodeToString(sig),
	}, nil
}

// resolveToken asks the configured tokenizer to tokenize the instrument's
// PAN when a PAN source is wired in; on any failure (or when the agent has
// no tokenizer/PAN source configured) it falls back to a synthetic
// per-mandate token rather than failing mandate assembly outright.
func (a *Agent) resolveToken(ctx context.Context, instr *domain.PaymentInstrument) string {
	if a.pans == nil || a.tokenizer == nil {
		return generateTokenNumber()
	}
	pan, err := a.pans.DecryptPAN(instr)
	if err != nil {
		log.Printf("level=warn component=ap2consumer msg=\"pan decryption failed; using synthetic token\" err=%v", err)
		return generateTokenNumber()
	}
	result, err := a.tokenizer.Tokenize(ctx, pan, 0, 0)
	if err != nil {
		log.Printf("level=warn component=ap2consumer msg=\"tokenization failed; using synthetic token\" err=%v", err)
		return generateTokenNumber()
	}
	return result.Token
}

// generateTokenNumber produces a 16-digit network-token-shaped number,
// mirroring the Python client's per-transaction token generation (never a
// long-lived card number).
func generateTokenNumber() string {
	var b strings.Builder
	for i := 0; i < 16; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			// crypto/rand failure is effectively unrecoverable; fall back to a
			// time-seeded source rather than panicking on a demo token field.
			n = big.NewInt(int64(mathrand.Intn(10)))
		}
		b.WriteString(n.String())
	}
	return b.String()
}

// generateCryptogram produces a 32-character uppercase hex cryptogram.
func generateCryptogram() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}
