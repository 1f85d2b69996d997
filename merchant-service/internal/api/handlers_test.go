package api

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/ap2merchant"
	"github.com/ucp-demo/merchant-service/internal/apierr"
	"github.com/ucp-demo/merchant-service/internal/catalog"
	"github.com/ucp-demo/merchant-service/internal/checkout"
	"github.com/ucp-demo/merchant-service/internal/config"
	"github.com/ucp-demo/merchant-service/internal/domain"
	"github.com/ucp-demo/merchant-service/internal/store"
)

type fakeRepo struct {
	sessions    map[uuid.UUID]*domain.CheckoutSession
	credentials map[string]domain.DeviceCredential
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		sessions:    make(map[uuid.UUID]*domain.CheckoutSession),
		credentials: make(map[string]domain.DeviceCredential),
	}
}

func (f *fakeRepo) CreateSession(ctx context.Context, session *domain.CheckoutSession) error {
	f.sessions[session.ID] = session
	return nil
}
func (f *fakeRepo) GetSession(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, store.ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}
func (f *fakeRepo) CompareAndSwapSession(ctx context.Context, session *domain.CheckoutSession) error {
	f.sessions[session.ID] = session
	return nil
}
func (f *fakeRepo) ListExpiredSessions(ctx context.Context, olderThan time.Time) ([]domain.CheckoutSession, error) {
	return nil, nil
}
func (f *fakeRepo) FindSessionByMandateID(ctx context.Context, mandateID string) (*domain.CheckoutSession, error) {
	return nil, nil
}
func (f *fakeRepo) UpsertChallenge(ctx context.Context, challenge *domain.StepUpChallenge) error {
	return nil
}
func (f *fakeRepo) GetChallengeByMandateID(ctx context.Context, mandateID string) (*domain.StepUpChallenge, error) {
	return nil, nil
}
func (f *fakeRepo) IncrementChallengeAttempt(ctx context.Context, challengeID uuid.UUID) (*domain.StepUpChallenge, error) {
	return nil, nil
}
func (f *fakeRepo) SetChallengeStatus(ctx context.Context, challengeID uuid.UUID, status string) error {
	return nil
}
func (f *fakeRepo) UpsertDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error {
	f.credentials[cred.PayerEmail] = cred
	return nil
}
func (f *fakeRepo) LookupDeviceCredential(ctx context.Context, payerEmail string) (*domain.DeviceCredential, error) {
	cred, ok := f.credentials[payerEmail]
	if !ok {
		return nil, store.ErrCredentialNotFound
	}
	return &cred, nil
}
func (f *fakeRepo) AppendRequestLog(ctx context.Context, entry domain.RequestLogEntry) error {
	return nil
}

func newTestHandlers() *Handlers {
	h, _ := newTestHandlersWithRepo()
	return h
}

func newTestHandlersWithRepo() (*Handlers, *fakeRepo) {
	repo := newFakeRepo()
	manager := checkout.NewManager(repo, nil)
	agent := ap2merchant.NewAgent(repo, ap2merchant.Config{MerchantID: "merchant-demo-1"})
	cat := catalog.NewDemoCatalog()
	cfg := config.Config{MerchantID: "merchant-demo-1", MerchantName: "UCP Demo Merchant", MerchantURL: "https://merchant.example.com"}
	return NewHandlers(cfg, manager, agent, cat), repo
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestDiscoveryHandlerServesWellKnownDocument(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/ucp", nil)
	rec := httptest.NewRecorder()

	h.DiscoveryHandler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["ucp_version"] != "1.0" {
		t.Fatalf("unexpected discovery body: %v", body)
	}
}

func TestProductSearchHandlerFiltersByQuery(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/ucp/products/search?q=mug", nil)
	rec := httptest.NewRecorder()

	h.ProductSearchHandler(rec, req)

	var body struct {
		Products []interface{} `json:"products"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Products) != 1 {
		t.Fatalf("expected 1 product for query 'mug', got %d", len(body.Products))
	}
}

func TestCreateSessionHandlerRejectsMalformedBody(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodPost, "/ucp/v1/checkout-sessions", bytes.NewBufferString("not-json"))
	rec := httptest.NewRecorder()

	h.CreateSessionHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestCreateSessionHandlerRejectsEmptyCart(t *testing.T) {
	h := newTestHandlers()
	body, _ := json.Marshal(createSessionRequest{BuyerEmail: "buyer@example.com", Currency: "USD"})
	req := httptest.NewRequest(http.MethodPost, "/ucp/v1/checkout-sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateSessionHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an empty cart, got %d", rec.Code)
	}
}

func TestCreateSessionHandlerSucceeds(t *testing.T) {
	h := newTestHandlers()
	reqBody := createSessionRequest{
		LineItems:  []domain.LineItem{{SKU: "sku-mug-001", Quantity: 1, UnitPrice: 12.5}},
		BuyerEmail: "buyer@example.com",
		Currency:   "USD",
	}
	body, _ := json.Marshal(reqBody)
	req := httptest.NewRequest(http.MethodPost, "/ucp/v1/checkout-sessions", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.CreateSessionHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var session domain.CheckoutSession
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if session.Status != domain.StatusIncomplete {
		t.Fatalf("expected a freshly created session to be incomplete, got %q", session.Status)
	}
}

func TestGetSessionHandlerRejectsMalformedID(t *testing.T) {
	h := newTestHandlers()
	req := httptest.NewRequest(http.MethodGet, "/ucp/v1/checkout-sessions/not-a-uuid", nil)
	req = withChiParam(req, "id", "not-a-uuid")
	rec := httptest.NewRecorder()

	h.GetSessionHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a malformed session id, got %d", rec.Code)
	}
}

func TestGetSessionHandlerReturnsNotFoundForUnknownSession(t *testing.T) {
	h := newTestHandlers()
	id := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/ucp/v1/checkout-sessions/"+id.String(), nil)
	req = withChiParam(req, "id", id.String())
	rec := httptest.NewRecorder()

	h.GetSessionHandler(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for an unknown session, got %d", rec.Code)
	}
	var body errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ErrorKind != string(apierr.NotFound) {
		t.Fatalf("unexpected error kind: %q", body.ErrorKind)
	}
}

func TestGetSessionHandlerRoundTripsACreatedSession(t *testing.T) {
	h := newTestHandlers()
	createBody, _ := json.Marshal(createSessionRequest{
		LineItems:  []domain.LineItem{{SKU: "sku-mug-001", Quantity: 2, UnitPrice: 12.5}},
		BuyerEmail: "buyer@example.com",
		Currency:   "USD",
	})
	createReq := httptest.NewRequest(http.MethodPost, "/ucp/v1/checkout-sessions", bytes.NewReader(createBody))
	createRec := httptest.NewRecorder()
	h.CreateSessionHandler(createRec, createReq)

	var created domain.CheckoutSession
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	getReq := httptest.NewRequest(http.MethodGet, "/ucp/v1/checkout-sessions/"+created.ID.String(), nil)
	getReq = withChiParam(getReq, "id", created.ID.String())
	getRec := httptest.NewRecorder()
	h.GetSessionHandler(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", getRec.Code)
	}
	var fetched domain.CheckoutSession
	if err := json.Unmarshal(getRec.Body.Bytes(), &fetched); err != nil {
		t.Fatalf("decode get response: %v", err)
	}
	if fetched.ID != created.ID || fetched.Total != created.Total {
		t.Fatalf("expected fetched session to match created session, got %+v", fetched)
	}
}

func generateTestDevicePublicKeyPEM(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate ecdsa key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func TestRegisterDeviceCredentialHandlerPersistsCredential(t *testing.T) {
	h, repo := newTestHandlersWithRepo()
	pubPEM := generateTestDevicePublicKeyPEM(t)

	body, _ := json.Marshal(registerDeviceCredentialRequest{PayerEmail: "buyer@example.com", PublicKeyPEM: pubPEM})
	req := httptest.NewRequest(http.MethodPost, "/ucp/v1/device-credentials", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.RegisterDeviceCredentialHandler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	cred, err := repo.LookupDeviceCredential(context.Background(), "buyer@example.com")
	if err != nil {
		t.Fatalf("expected the credential to be retrievable after registration: %v", err)
	}
	if cred.PublicKeyPEM != pubPEM {
		t.Fatalf("expected the stored public key to match what was registered")
	}
}

func TestRegisterDeviceCredentialHandlerRejectsInvalidPEM(t *testing.T) {
	h := newTestHandlers()
	body, _ := json.Marshal(registerDeviceCredentialRequest{PayerEmail: "buyer@example.com", PublicKeyPEM: "not-pem"})
	req := httptest.NewRequest(http.MethodPost, "/ucp/v1/device-credentials", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.RegisterDeviceCredentialHandler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestStatusForKindMapsErrorKindsToHTTPStatus(t *testing.T) {
	cases := map[apierr.Kind]int{
		apierr.InvalidInput:         http.StatusBadRequest,
		apierr.NotFound:             http.StatusNotFound,
		apierr.InvalidState:         http.StatusConflict,
		apierr.InvalidAuthorization: http.StatusUnauthorized,
		apierr.UpstreamUnavailable:  http.StatusBadGateway,
		apierr.Internal:             http.StatusInternalServerError,
	}
	for kind, want := range cases {
		got := statusForKind(kind)
		if got != want {
			t.Fatalf("kind %q: expected status %d, got %d", kind, want, got)
		}
	}
}
