/**
 * @description
 * HTTP handlers for shopper-service's small demo-facing API: user
 * registration, device enrollment, and the checkout prepare/confirm/otp
 * flow fronting the orchestrator. Grounded on merchant-service's own
 * `internal/api/handlers.go` for request/response and error-mapping shape.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ucp-demo/shopper-service/internal/apierr"
	"github.com/ucp-demo/shopper-service/internal/creds"
	"github.com/ucp-demo/shopper-service/internal/domain"
	"github.com/ucp-demo/shopper-service/internal/orchestrator"
	"github.com/ucp-demo/shopper-service/internal/ratelimit"
	"github.com/ucp-demo/shopper-service/internal/store"
)

const (
	otpSubmitLimitPerWindow = 5
	otpSubmitLimitWindow    = time.Minute
)

// CredentialRegistrar registers a shopper's device public key with the
// merchant, crossing the shopper/merchant trust boundary signature
// verification depends on.
type CredentialRegistrar interface {
	RegisterDeviceCredential(ctx context.Context, credentialID, payerEmail, publicKeyPEM string) error
}

// Handlers bundles the collaborators the API layer dispatches to.
type Handlers struct {
	repo      store.Repository
	creds     *creds.Provider
	orch      *orchestrator.Orchestrator
	merchant  CredentialRegistrar
	limiter   ratelimit.Limiter
	currency  string
	jwtSecret string
}

// NewHandlers constructs a Handlers. jwtSecret, when non-empty, is used to
// mint the bearer session token returned by CreateUserHandler; it must
// match the secret passed to JWTAuthMiddleware. limiter may be nil, in
// which case OTP submission is unthrottled.
func NewHandlers(repo store.Repository, credsProvider *creds.Provider, orch *orchestrator.Orchestrator, merchant CredentialRegistrar, limiter ratelimit.Limiter, currency, jwtSecret string) *Handlers {
	if currency == "" {
		currency = "USD"
	}
	return &Handlers{repo: repo, creds: credsProvider, orch: orch, merchant: merchant, limiter: limiter, currency: currency, jwtSecret: jwtSecret}
}

type createUserRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
}

// CreateUserHandler serves POST /users.
func (h *Handlers) CreateUserHandler(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "email is required"))
		return
	}

	if _, err := h.repo.GetUserByEmail(r.Context(), req.Email); err == nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidState, "user already exists"))
		return
	} else if !errors.Is(err, store.ErrUserNotFound) {
		h.writeAPIError(w, err)
		return
	}

	user := &domain.User{ID: uuid.NewString(), Email: req.Email, FullName: req.FullName, CreatedAt: time.Now().UTC()}
	if err := h.repo.CreateUser(r.Context(), user); err != nil {
		h.writeAPIError(w, err)
		return
	}

	resp := struct {
		*domain.User
		SessionToken string `json:"session_token,omitempty"`
	}{User: user}
	if h.jwtSecret != "" {
		token, err := issueSessionToken(h.jwtSecret, user.Email)
		if err != nil {
			log.Printf("level=warn component=api msg=\"session token issuance failed\" err=%v", err)
		} else {
			resp.SessionToken = token
		}
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// EnrollDeviceHandler serves POST /users/{email}/devices. The freshly
// enrolled public key is registered with the merchant before the response is
// returned, so it's on file by the time this device ever signs a mandate.
func (h *Handlers) EnrollDeviceHandler(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	cred, err := h.creds.EnrollDevice(r.Context(), email)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	if h.merchant != nil {
		if err := h.merchant.RegisterDeviceCredential(r.Context(), cred.CredentialID, cred.UserEmail, cred.PublicKeyPEM); err != nil {
			h.writeAPIError(w, apierr.Wrap(apierr.UpstreamUnavailable, "device enrolled but merchant registration failed", err))
			return
		}
	}
	h.writeJSON(w, http.StatusCreated, cred)
}

type enrollInstrumentRequest struct {
	CardNetwork string `json:"card_network"`
	PAN         string `json:"pan"`
	LastFour    string `json:"last_four"`
}

// EnrollInstrumentHandler serves POST /users/{email}/instruments.
func (h *Handlers) EnrollInstrumentHandler(w http.ResponseWriter, r *http.Request) {
	email := chi.URLParam(r, "email")
	var req enrollInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "malformed request body"))
		return
	}
	instr, err := h.creds.EnrollDemoInstrument(r.Context(), email, req.CardNetwork, req.PAN, req.LastFour)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, instr)
}

type prepareRequest struct {
	BuyerEmail string            `json:"buyer_email"`
	Items      []domain.CartItem `json:"items"`
}

// PrepareCheckoutHandler serves POST /checkout/prepare.
func (h *Handlers) PrepareCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req prepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BuyerEmail == "" || len(req.Items) == 0 {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "buyer_email and a non-empty item list are required"))
		return
	}
	if !h.subjectAuthorizedFor(r, req.BuyerEmail) {
		h.writeAPIError(w, apierr.New(apierr.InvalidAuthorization, "session token does not match buyer_email"))
		return
	}
	session, err := h.orch.Prepare(r.Context(), req.BuyerEmail, req.Items, h.currency)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, session)
}

type confirmRequest struct {
	BuyerEmail string `json:"buyer_email"`
	PayerName  string `json:"payer_name"`
}

// ConfirmCheckoutHandler serves POST /checkout/{session_id}/confirm.
func (h *Handlers) ConfirmCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BuyerEmail == "" {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "buyer_email is required"))
		return
	}
	if !h.subjectAuthorizedFor(r, req.BuyerEmail) {
		h.writeAPIError(w, apierr.New(apierr.InvalidAuthorization, "session token does not match buyer_email"))
		return
	}
	session, err := h.orch.Confirm(r.Context(), sessionID, req.BuyerEmail, req.PayerName)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

type otpRequest struct {
	OTPCode string `json:"otp_code"`
}

// SubmitOTPHandler serves POST /checkout/{session_id}/otp.
func (h *Handlers) SubmitOTPHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	var req otpRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	if h.limiter != nil {
		count, retryAfter, err := h.limiter.Consume(r.Context(), "otp_submit", sessionID, otpSubmitLimitPerWindow, otpSubmitLimitWindow)
		if err != nil {
			log.Printf("level=warn component=api msg=\"rate limiter unavailable; allowing request\" session_id=%s err=%v", sessionID, err)
		} else if count > otpSubmitLimitPerWindow {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			h.writeAPIError(w, apierr.New(apierr.InvalidState, "too many otp submission attempts; try again later"))
			return
		}
	}

	session, err := h.orch.SubmitOTP(r.Context(), sessionID, req.OTPCode)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

// subjectAuthorizedFor reports whether the request is allowed to act on
// behalf of buyerEmail. With no authenticated subject in context — either
// because JWTAuthMiddleware is disabled or the route isn't behind it — every
// buyerEmail is allowed, matching the middleware's own no-secret no-op mode.
func (h *Handlers) subjectAuthorizedFor(r *http.Request, buyerEmail string) bool {
	subject, ok := subjectFromContext(r.Context())
	if !ok {
		return true
	}
	return subject == buyerEmail
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

func (h *Handlers) writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{ErrorKind: string(apierr.Internal), Message: "internal error"})
		return
	}
	h.writeJSON(w, statusForKind(apiErr.KindValue), errorResponse{ErrorKind: string(apiErr.KindValue), Message: apiErr.Message})
}

func statusForKind(kind apierr.Kind) int {
	switch kind {
	case apierr.InvalidInput, apierr.MalformedMandate, apierr.InvalidOTP:
		return http.StatusBadRequest
	case apierr.NotFound:
		return http.StatusNotFound
	case apierr.InvalidState, apierr.MandateSessionMismatch, apierr.MandateReuse, apierr.ChallengeExpired, apierr.ChallengeExhausted, apierr.SessionExpired:
		return http.StatusConflict
	case apierr.InvalidAuthorization:
		return http.StatusUnauthorized
	case apierr.UpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
