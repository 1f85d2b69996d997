/**
 * @description
 * This package implements the AP2 Merchant Agent: mandate signature
 * validation, mandate integrity checks, deterministic risk adjudication,
 * step-up challenge issuance/verification, and receipt issuance. It is the
 * hardest subsystem on the merchant side, grounded on the original
 * `merchant_payment_agent.py`'s method decomposition
 * (validate_mandate_signature / should_raise_otp_challenge / generate_otp /
 * verify_otp / process_payment) translated into Go methods on an Agent
 * struct, with the two Open Questions from spec §9 resolved: the step-up
 * draw is seeded deterministically from (mandate_id, merchant_id), and any
 * stored OTP code is a salted hash rather than plaintext.
 *
 * @dependencies
 * - crypto/ecdsa, crypto/sha256, crypto/x509, encoding/pem: Signature
 *   verification over the canonical digest.
 * - math/rand: Deterministic, seeded risk draw (not crypto/rand — the
 *   determinism is the point, see testable property 7).
 */

package ap2merchant

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"hash/fnv"
	"log"
	mathrand "math/rand"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/apierr"
	"github.com/ucp-demo/merchant-service/internal/domain"
	"github.com/ucp-demo/merchant-service/internal/mandate"
	"github.com/ucp-demo/merchant-service/internal/ratelimit"
	"github.com/ucp-demo/merchant-service/internal/store"
)

// otpRateLimitPerWindow/otpRateLimitWindow cap how many OTP verification
// attempts a mandate may make per window, enforced via Redis ahead of the
// durable per-challenge attempt counter so a distributed brute force is
// rejected without a database round trip.
const (
	otpRateLimitPerWindow = 10
	otpRateLimitWindow    = time.Minute
)

var (
	tokenPattern      = regexp.MustCompile(`^[0-9]{16}$`)
	cryptogramPattern = regexp.MustCompile(`^[0-9A-F]{32}$`)
	lastFourPattern   = regexp.MustCompile(`^[0-9]{4}$`)
	otpPattern        = regexp.MustCompile(`^[0-9]{6}$`)
	knownCardNetworks = map[string]bool{
		"visa": true, "mastercard": true, "amex": true, "discover": true,
	}
)

// Signer produces a signature over a receipt digest. A nil Signer degrades
// to unsigned receipts (Design Note: optional adapter behind a capability
// flag — the core commit path never branches on whether it is configured).
type Signer interface {
	Sign(ctx context.Context, payload []byte) (signature []byte, err error)
}

// Agent is the AP2 Merchant Agent.
type Agent struct {
	repo            store.Repository
	merchantID      string
	stepUpEnabled   bool
	amountThreshold float64
	thresholdSmall  float64
	thresholdLarge  float64
	demoOTPMode     bool
	signer          Signer
	limiter         ratelimit.Limiter
}

// Config bundles the Agent's policy knobs.
type Config struct {
	MerchantID      string
	StepUpEnabled   bool
	AmountThreshold float64
	ThresholdSmall  float64
	ThresholdLarge  float64
	DemoOTPMode     bool
	Signer          Signer
	Limiter         ratelimit.Limiter
}

// NewAgent constructs an Agent from Config.
func NewAgent(repo store.Repository, cfg Config) *Agent {
	return &Agent{
		repo:            repo,
		merchantID:      cfg.MerchantID,
		stepUpEnabled:   cfg.StepUpEnabled,
		amountThreshold: cfg.AmountThreshold,
		thresholdSmall:  cfg.ThresholdSmall,
		thresholdLarge:  cfg.ThresholdLarge,
		demoOTPMode:     cfg.DemoOTPMode,
		signer:          cfg.Signer,
		limiter:         cfg.Limiter,
	}
}

// Complete runs the full Complete-time evaluation against session (which
// must already be ready_for_complete or requires_escalation) and an
// optional otpCode, mutating session in place and recording the resulting
// receipt on session.Receipt; the returned error is non-nil only when the
// evaluation could not run. The caller is expected to invoke this inside
// checkout.Manager.WithLock so the evaluation is atomic with persistence.
func (a *Agent) Complete(ctx context.Context, session *domain.CheckoutSession, otpCode string) error {
	if session.Status == domain.StatusComplete || session.Status == domain.StatusFailed {
		return apierr.New(apierr.InvalidState, "session is already terminal")
	}
	if session.Status != domain.StatusReadyForComplete && session.Status != domain.StatusRequiresEscalation {
		return apierr.New(apierr.InvalidState, "Complete is not permitted in the current session state")
	}
	if session.Mandate == nil {
		return apierr.New(apierr.InvalidState, "session has no attached mandate")
	}

	// If a challenge is already pending, Complete means "respond to it".
	if session.Status == domain.StatusRequiresEscalation {
		return a.completeWithChallenge(ctx, session, otpCode)
	}

	return a.completeFresh(ctx, session)
}

func (a *Agent) completeFresh(ctx context.Context, session *domain.CheckoutSession) error {
	mnd := session.Mandate

	if ok, reason := a.validateSignature(session.BuyerEmail, mnd); !ok {
		a.fail(session, apierr.InvalidAuthorization, reason)
		return nil
	}
	if ok, reason := a.validateIntegrity(session, mnd); !ok {
		a.fail(session, apierr.MalformedMandate, reason)
		return nil
	}

	if a.stepUpEnabled && a.shouldStepUp(mnd.Contents.PaymentMandateID, session.Total) {
		challenge, err := a.issueChallenge(ctx, session, mnd.Contents.PaymentMandateID)
		if err != nil {
			return apierr.Wrap(apierr.Internal, "failed to issue step-up challenge", err)
		}
		session.Status = domain.StatusRequiresEscalation
		session.ActiveChallengeID = &challenge.ID
		session.Receipt = &domain.PaymentReceipt{
			MandateID: mnd.Contents.PaymentMandateID,
			PaymentID: "",
			Amount:    mnd.Contents.PaymentDetailsTotal,
			Status: domain.PaymentReceiptStatus{
				Code:    "OTP_REQUIRED",
				Message: "OTP_REQUIRED: additional verification is required to complete this payment",
			},
			IssuedAt: time.Now().UTC(),
			OTPChallenge: &domain.OTPChallengeEnvelope{
				PaymentMandateID: mnd.Contents.PaymentMandateID,
				Message:          "Enter the 6-digit verification code to complete your payment",
			},
		}
		return nil
	}

	a.succeed(ctx, session)
	return nil
}

func (a *Agent) completeWithChallenge(ctx context.Context, session *domain.CheckoutSession, otpCode string) error {
	if session.ActiveChallengeID == nil {
		return apierr.New(apierr.InvalidState, "session requires escalation but has no active challenge")
	}
	challenge, err := a.repo.GetChallengeByMandateID(ctx, session.Mandate.Contents.PaymentMandateID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to load step-up challenge", err)
	}

	if time.Now().UTC().After(challenge.ExpiresAt) || challenge.Status == domain.ChallengeStatusExpired {
		_ = a.repo.SetChallengeStatus(ctx, challenge.ID, domain.ChallengeStatusExpired)
		a.fail(session, apierr.ChallengeExpired, "step-up challenge expired")
		return nil
	}

	if !otpPattern.MatchString(otpCode) {
		return apierr.New(apierr.InvalidInput, "otp_code must be 6 digits")
	}

	if a.limiter != nil {
		count, _, err := a.limiter.Consume(ctx, "otp_verify", session.Mandate.Contents.PaymentMandateID, otpRateLimitPerWindow, otpRateLimitWindow)
		if err != nil {
			log.Printf("level=warn component=ap2merchant msg=\"rate limiter unavailable, proceeding without it\" err=%v", err)
		} else if count > otpRateLimitPerWindow {
			_ = a.repo.SetChallengeStatus(ctx, challenge.ID, domain.ChallengeStatusDeclined)
			a.fail(session, apierr.ChallengeExhausted, "too many verification attempts, please start over")
			return nil
		}
	}

	accepted := a.verifyOTP(challenge, otpCode)
	if accepted {
		_ = a.repo.SetChallengeStatus(ctx, challenge.ID, domain.ChallengeStatusApproved)
		a.succeed(ctx, session)
		return nil
	}

	updated, err := a.repo.IncrementChallengeAttempt(ctx, challenge.ID)
	if err != nil {
		return apierr.Wrap(apierr.Internal, "failed to record step-up attempt", err)
	}
	if updated.Attempts >= updated.MaxAttempts {
		_ = a.repo.SetChallengeStatus(ctx, challenge.ID, domain.ChallengeStatusDeclined)
		a.fail(session, apierr.ChallengeExhausted, "step-up challenge exhausted its maximum attempts")
		return nil
	}

	// Stay in requires_escalation; surface INVALID_OTP without terminating.
	session.Receipt = &domain.PaymentReceipt{
		MandateID: session.Mandate.Contents.PaymentMandateID,
		Amount:    session.Mandate.Contents.PaymentDetailsTotal,
		Status: domain.PaymentReceiptStatus{
			Code:    string(apierr.InvalidOTP),
			Message: "incorrect verification code, please try again",
		},
		IssuedAt: time.Now().UTC(),
		OTPChallenge: &domain.OTPChallengeEnvelope{
			PaymentMandateID: session.Mandate.Contents.PaymentMandateID,
			Message:          "Incorrect code. Please re-enter the 6-digit verification code.",
		},
	}
	return apierr.New(apierr.InvalidOTP, "incorrect verification code")
}

// RegisterDeviceCredential records the public key a shopper enrolled out of
// band, so a later validateSignature call for cred.PayerEmail can find it.
// This is the seam the merchant's device-credential registration endpoint
// calls at shopper enrollment time, crossing the shopper/merchant trust
// boundary that signature verification depends on.
func (a *Agent) RegisterDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error {
	if cred.PayerEmail == "" || cred.PublicKeyPEM == "" {
		return apierr.New(apierr.InvalidInput, "payer_email and public_key_pem are required")
	}
	block, _ := pem.Decode([]byte(cred.PublicKeyPEM))
	if block == nil {
		return apierr.New(apierr.InvalidInput, "public_key_pem is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return apierr.New(apierr.InvalidInput, "public_key_pem does not parse as a PKIX public key")
	}
	if _, ok := pub.(*ecdsa.PublicKey); !ok {
		return apierr.New(apierr.InvalidInput, "public_key_pem must be an ECDSA public key")
	}
	if err := a.repo.UpsertDeviceCredential(ctx, cred); err != nil {
		return apierr.Wrap(apierr.Internal, "failed to persist device credential", err)
	}
	return nil
}

// validateSignature verifies user_authorization against the device
// credential on file for payerEmail over the canonical digest of
// mnd.Contents. Failure here is fatal and terminal (§4.2 step 1).
func (a *Agent) validateSignature(payerEmail string, mnd *mandate.Mandate) (bool, string) {
	cred, err := a.repo.LookupDeviceCredential(context.Background(), payerEmail)
	if err != nil {
		return false, "no device credential on file for payer"
	}
	block, _ := pem.Decode([]byte(cred.PublicKeyPEM))
	if block == nil {
		return false, "stored device credential public key is malformed"
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false, "stored device credential public key is malformed"
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, "stored device credential is not an ECDSA key"
	}

	sigBytes, err := decodeUnpaddedBase64(mnd.UserAuthorization)
	if err != nil || len(sigBytes) == 0 {
		return false, "user_authorization is not valid base64"
	}
	digest := sha256.Sum256(mandate.Canonicalize(mnd.Contents))
	if !ecdsa.VerifyASN1(ecdsaPub, digest[:], sigBytes) {
		return false, "signature verification failed"
	}
	return true, ""
}

// decodeUnpaddedBase64 accepts both padded and unpadded URL-safe base64, per
// the spec's base64 discipline (testable property 9).
func decodeUnpaddedBase64(s string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

func (a *Agent) validateIntegrity(session *domain.CheckoutSession, mnd *mandate.Mandate) (bool, string) {
	diff := mandate.RoundMoney(mnd.Contents.PaymentDetailsTotal.Value) - session.Total
	if diff > 1e-6 || diff < -1e-6 {
		return false, "mandate total does not match session total"
	}
	details := mnd.Contents.PaymentResponse.Details
	if !tokenPattern.MatchString(details.Token) {
		return false, "token must be a 16-digit numeric"
	}
	if !cryptogramPattern.MatchString(details.Cryptogram) {
		return false, "cryptogram must be 32 uppercase hex characters"
	}
	if !lastFourPattern.MatchString(details.CardLastFour) {
		return false, "card_last_four must be 4 digits"
	}
	if !knownCardNetworks[details.CardNetwork] {
		return false, "card_network is not a known network"
	}
	return true, ""
}

// shouldStepUp runs the deterministic risk draw: a pseudo-random value in
// [0,1) seeded by (mandate_id, merchant_id), so the same pair always yields
// the same decision for replays (testable property 7).
func (a *Agent) shouldStepUp(mandateID string, total float64) bool {
	seed := seedFor(mandateID, a.merchantID)
	draw := mathrand.New(mathrand.NewSource(seed)).Float64()
	if total >= a.amountThreshold {
		return draw < a.thresholdLarge
	}
	return draw < a.thresholdSmall
}

func seedFor(mandateID, merchantID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(mandateID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(merchantID))
	return int64(h.Sum64())
}

func (a *Agent) issueChallenge(ctx context.Context, session *domain.CheckoutSession, mandateID string) (*domain.StepUpChallenge, error) {
	salt := make([]byte, 16)
	_, _ = rand.Read(salt)
	codeHash, code := a.generateCode(salt)
	if a.demoOTPMode {
		log.Printf("level=info component=ap2merchant msg=\"demo otp issued\" mandate_id=%s code=%s", mandateID, code)
	}
	challenge := &domain.StepUpChallenge{
		ID:          uuid.New(),
		MandateID:   mandateID,
		SessionID:   session.ID,
		Method:      domain.ChallengeMethodOTP,
		Status:      domain.ChallengeStatusPending,
		CodeHash:    codeHash,
		CodeSalt:    hex.EncodeToString(salt),
		Attempts:    0,
		MaxAttempts: domain.MaxChallengeAttempts,
		ExpiresAt:   time.Now().UTC().Add(domain.ChallengeTTL),
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.repo.UpsertChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// generateCode returns a freshly generated 6-digit OTP and its salted hash.
// The spec's Open Question on plaintext OTP storage is resolved here: only
// the salted hash is ever persisted.
func (a *Agent) generateCode(salt []byte) (codeHash string, code string) {
	digits := make([]byte, 6)
	_, _ = rand.Read(digits)
	code = ""
	for _, d := range digits {
		code += fmt.Sprintf("%d", int(d)%10)
	}
	return hashCode(code, salt), code
}

func hashCode(code string, salt []byte) string {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(code))
	return hex.EncodeToString(h.Sum(nil))
}

// verifyOTP accepts any syntactically valid 6-digit code in demo mode
// (spec §4.2 step 4: "accepted in demo mode"); in production mode the code
// must match the stored challenge's salted hash.
func (a *Agent) verifyOTP(challenge *domain.StepUpChallenge, code string) bool {
	if a.demoOTPMode {
		return otpPattern.MatchString(code)
	}
	salt, err := hex.DecodeString(challenge.CodeSalt)
	if err != nil {
		return false
	}
	candidate := hashCode(code, salt)
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(challenge.CodeHash)) == 1
}

func (a *Agent) fail(session *domain.CheckoutSession, kind apierr.Kind, message string) {
	session.Status = domain.StatusFailed
	session.Receipt = &domain.PaymentReceipt{
		MandateID: mandateIDOf(session),
		Amount:    amountOf(session),
		Status: domain.PaymentReceiptStatus{
			Code:    string(kind),
			Message: message,
		},
		IssuedAt: time.Now().UTC(),
	}
}

func (a *Agent) succeed(ctx context.Context, session *domain.CheckoutSession) {
	mnd := session.Mandate
	receipt := &domain.PaymentReceipt{
		MandateID:              mnd.Contents.PaymentMandateID,
		PaymentID:              "pay_" + uuid.NewString(),
		Amount:                 mnd.Contents.PaymentDetailsTotal,
		Status:                 domain.PaymentReceiptStatus{Code: domain.ReceiptStatusSuccess, Message: "payment accepted"},
		MerchantConfirmationID: "conf_" + uuid.NewString(),
		IssuedAt:               time.Now().UTC(),
	}
	if a.signer != nil {
		payload := []byte(fmt.Sprintf("%s|%s|%f", receipt.MandateID, receipt.PaymentID, receipt.Amount.Value))
		if sig, err := a.signer.Sign(ctx, payload); err == nil {
			receipt.MerchantSignature = base64.RawURLEncoding.EncodeToString(sig)
		} else {
			log.Printf("level=warn component=ap2merchant msg=\"receipt signing unavailable; issuing unsigned receipt\" err=%v", err)
		}
	}
	session.Status = domain.StatusComplete
	session.Receipt = receipt
}

func mandateIDOf(session *domain.CheckoutSession) string {
	if session.Mandate == nil {
		return ""
	}
	return session.Mandate.Contents.PaymentMandateID
}

func amountOf(session *domain.CheckoutSession) mandate.CurrencyAmount {
	if session.Mandate == nil {
		return mandate.CurrencyAmount{Currency: session.Currency, Value: session.Total}
	}
	return session.Mandate.Contents.PaymentDetailsTotal
}

// DeviceKeyToPEM is a small convenience used by handlers / tests to persist
// an ECDSA public key the way LookupDeviceCredential expects to read it
// back.
func DeviceKeyToPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
