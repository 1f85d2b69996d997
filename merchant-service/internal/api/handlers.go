/**
 * @description
 * This file contains the HTTP handlers for the merchant service's UCP/AP2
 * surface: discovery, product search, and the checkout-session lifecycle.
 * Handlers translate between the wire shape and the checkout.Manager /
 * ap2merchant.Agent APIs and map apierr.Kind to HTTP status codes.
 *
 * @dependencies
 * - encoding/json, net/http: Standard Go libraries.
 * - internal/checkout, internal/ap2merchant, internal/discovery,
 *   internal/catalog, internal/apierr, internal/domain, internal/mandate.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/ap2merchant"
	"github.com/ucp-demo/merchant-service/internal/apierr"
	"github.com/ucp-demo/merchant-service/internal/catalog"
	"github.com/ucp-demo/merchant-service/internal/checkout"
	"github.com/ucp-demo/merchant-service/internal/config"
	"github.com/ucp-demo/merchant-service/internal/discovery"
	"github.com/ucp-demo/merchant-service/internal/domain"
	"github.com/ucp-demo/merchant-service/internal/mandate"
)

// Handlers holds the collaborators the merchant API dispatches to.
type Handlers struct {
	cfg     config.Config
	manager *checkout.Manager
	agent   *ap2merchant.Agent
	catalog *catalog.Catalog
}

// NewHandlers constructs a Handlers.
func NewHandlers(cfg config.Config, manager *checkout.Manager, agent *ap2merchant.Agent, cat *catalog.Catalog) *Handlers {
	return &Handlers{cfg: cfg, manager: manager, agent: agent, catalog: cat}
}

// DiscoveryHandler serves /.well-known/ucp.
func (h *Handlers) DiscoveryHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, discovery.Build(h.cfg))
}

// ProductSearchHandler serves GET /ucp/products/search?q=...
func (h *Handlers) ProductSearchHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"products": h.catalog.Search(q)})
}

type createSessionRequest struct {
	LineItems  []domain.LineItem `json:"line_items"`
	BuyerEmail string            `json:"buyer_email"`
	Currency   string            `json:"currency"`
}

// CreateSessionHandler serves POST /ucp/v1/checkout-sessions.
func (h *Handlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "malformed request body"))
		return
	}
	session, err := h.manager.Create(r.Context(), req.LineItems, req.BuyerEmail, req.Currency)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, session)
}

// GetSessionHandler serves GET /ucp/v1/checkout-sessions/{id}.
func (h *Handlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "malformed session id"))
		return
	}
	session, err := h.manager.Get(r.Context(), id)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

type updateSessionRequest struct {
	Mandate *mandate.Mandate `json:"payment_mandate"`
}

// UpdateSessionHandler serves PUT /ucp/v1/checkout-sessions/{id}.
func (h *Handlers) UpdateSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "malformed session id"))
		return
	}
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Mandate == nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "malformed request body"))
		return
	}
	session, err := h.manager.Update(r.Context(), id, req.Mandate)
	if err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, session)
}

type completeSessionRequest struct {
	OTPCode string `json:"otp_code"`
}

// CompleteSessionHandler serves POST /ucp/v1/checkout-sessions/{id}/complete.
func (h *Handlers) CompleteSessionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "malformed session id"))
		return
	}
	var req completeSessionRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // otp_code is optional on first Complete

	session, err := h.manager.WithLock(r.Context(), id, func(session *domain.CheckoutSession) error {
		return h.agent.Complete(r.Context(), session, req.OTPCode)
	})
	if err != nil && session == nil {
		h.writeAPIError(w, err)
		return
	}
	if err != nil {
		log.Printf("level=warn component=api endpoint=complete_session outcome=rejected session_id=%s err=%v", id, err)
	}
	h.writeJSON(w, http.StatusOK, session)
}

type registerDeviceCredentialRequest struct {
	CredentialID string `json:"credential_id"`
	PayerEmail   string `json:"payer_email"`
	PublicKeyPEM string `json:"public_key_pem"`
}

// RegisterDeviceCredentialHandler serves POST /ucp/v1/device-credentials.
// The shopper's Credentials Provider calls this at device enrollment time so
// a later Complete can verify the shopper's user_authorization signature.
func (h *Handlers) RegisterDeviceCredentialHandler(w http.ResponseWriter, r *http.Request) {
	var req registerDeviceCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeAPIError(w, apierr.New(apierr.InvalidInput, "malformed request body"))
		return
	}
	cred := domain.DeviceCredential{CredentialID: req.CredentialID, PayerEmail: req.PayerEmail, PublicKeyPEM: req.PublicKeyPEM}
	if err := h.agent.RegisterDeviceCredential(r.Context(), cred); err != nil {
		h.writeAPIError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

type errorResponse struct {
	ErrorKind string `json:"error_kind"`
	Message   string `json:"message"`
}

func (h *Handlers) writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if !errors.As(err, &apiErr) {
		log.Printf("level=error component=api msg=\"unclassified error\" err=%v", err)
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
