package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/apierr"
	"github.com/ucp-demo/merchant-service/internal/domain"
	"github.com/ucp-demo/merchant-service/internal/mandate"
	"github.com/ucp-demo/merchant-service/internal/store"
)

type fakeRepo struct {
	sessions map[uuid.UUID]*domain.CheckoutSession
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{sessions: map[uuid.UUID]*domain.CheckoutSession{}}
}

func (f *fakeRepo) CreateSession(ctx context.Context, s *domain.CheckoutSession) error {
	s.Version = 1
	cp := *s
	f.sessions[s.ID] = &cp
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
func (f *fakeRepo) CompareAndSwapSession(ctx context.Context, s *domain.CheckoutSession) error {
	cur, ok := f.sessions[s.ID]
	if !ok || cur.Version != s.Version {
		return store.ErrSessionVersionConflict
	}
	cp := *s
	cp.Version++
	f.sessions[s.ID] = &cp
	s.Version++
	return nil
}
func (f *fakeRepo) ListExpiredSessions(ctx context.Context, olderThan time.Time) ([]domain.CheckoutSession, error) {
	var out []domain.CheckoutSession
	for _, s := range f.sessions {
		if (s.Status == domain.StatusReadyForComplete || s.Status == domain.StatusRequiresEscalation) && s.UpdatedAt.Before(olderThan) {
			out = append(out, *s)
		}
	}
	return out, nil
}
func (f *fakeRepo) FindSessionByMandateID(ctx context.Context, mandateID string) (*domain.CheckoutSession, error) {
	for _, s := range f.sessions {
		if s.Mandate != nil && s.Mandate.Contents.PaymentMandateID == mandateID {
			return s, nil
		}
	}
	return nil, nil
}
func (f *fakeRepo) UpsertChallenge(ctx context.Context, c *domain.StepUpChallenge) error { return nil }
func (f *fakeRepo) GetChallengeByMandateID(ctx context.Context, mandateID string) (*domain.StepUpChallenge, error) {
	return nil, apierr.New(apierr.NotFound, "no challenge")
}
func (f *fakeRepo) IncrementChallengeAttempt(ctx context.Context, id uuid.UUID) (*domain.StepUpChallenge, error) {
	return nil, nil
}
func (f *fakeRepo) SetChallengeStatus(ctx context.Context, id uuid.UUID, status string) error { return nil }
func (f *fakeRepo) UpsertDeviceCredential(ctx context.Context, cred domain.DeviceCredential) error {
	return nil
}
func (f *fakeRepo) LookupDeviceCredential(ctx context.Context, payerEmail string) (*domain.DeviceCredential, error) {
	return nil, apierr.New(apierr.NotFound, "no credential")
}
func (f *fakeRepo) AppendRequestLog(ctx context.Context, e domain.RequestLogEntry) error { return nil }

func testLineItems() []domain.LineItem {
	return []domain.LineItem{{SKU: "sku-1", Name: "Widget", UnitPrice: 4.99, Quantity: 2}}
}

func TestCreateComputesTotals(t *testing.T) {
	m := NewManager(newFakeRepo(), nil)
	session, err := m.Create(context.Background(), testLineItems(), "buyer@example.com", "SGD")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if session.Subtotal != 9.98 || session.Total != 9.98 {
		t.Fatalf("expected subtotal/total 9.98, got %v/%v", session.Subtotal, session.Total)
	}
	if session.Status != domain.StatusIncomplete {
		t.Fatalf("expected incomplete, got %s", session.Status)
	}
}

func TestCreateRejectsEmptyCart(t *testing.T) {
	m := NewManager(newFakeRepo(), nil)
	if _, err := m.Create(context.Background(), nil, "buyer@example.com", "SGD"); apierr.KindOf(err) != apierr.InvalidInput {
		t.Fatalf("expected InvalidInput, got %v", err)
	}
}

func buildMandate(mandateID, payerEmail string, total float64, currency string) *mandate.Mandate {
	return &mandate.Mandate{
		Contents: mandate.Contents{
			PaymentMandateID:    mandateID,
			Timestamp:           "2026-08-03T00:00:00Z",
			PaymentDetailsID:    "pd_1",
			PaymentDetailsTotal: mandate.CurrencyAmount{Currency: currency, Value: total},
			PaymentResponse: mandate.PaymentResponse{
				RequestID:  "req_1",
				MethodName: "CARD",
				Details: mandate.PaymentResponseDetails{
					Token: "1234567890123456", Cryptogram: "AABBCCDD00112233AABBCCDD00112233",
					CardLastFour: "5678", CardNetwork: "mastercard",
				},
				PayerEmail: payerEmail,
				PayerName:  "A Shopper",
			},
			MerchantAgent: "merchant-1",
		},
		UserAuthorization: "sig",
	}
}

func TestUpdateAttachesMandateAndTransitions(t *testing.T) {
	m := NewManager(newFakeRepo(), nil)
	session, err := m.Create(context.Background(), testLineItems(), "buyer@example.com", "SGD")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	mnd := buildMandate("mnd_1", "buyer@example.com", session.Total, "SGD")
	updated, err := m.Update(context.Background(), session.ID, mnd)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Status != domain.StatusReadyForComplete {
		t.Fatalf("expected ready_for_complete, got %s", updated.Status)
	}
}

func TestUpdateRejectsMismatchedTotal(t *testing.T) {
	m := NewManager(newFakeRepo(), nil)
	session, _ := m.Create(context.Background(), testLineItems(), "buyer@example.com", "SGD")
	mnd := buildMandate("mnd_1", "buyer@example.com", session.Total+1, "SGD")
	if _, err := m.Update(context.Background(), session.ID, mnd); apierr.KindOf(err) != apierr.MandateSessionMismatch {
		t.Fatalf("expected MandateSessionMismatch, got %v", err)
	}
}

func TestUpdateIsIdempotentOnIdenticalMandate(t *testing.T) {
	m := NewManager(newFakeRepo(), nil)
	session, _ := m.Create(context.Background(), testLineItems(), "buyer@example.com", "SGD")
	mnd := buildMandate("mnd_1", "buyer@example.com", session.Total, "SGD")
	if _, err := m.Update(context.Background(), session.ID, mnd); err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if _, err := m.Update(context.Background(), session.ID, mnd); err != nil {
		t.Fatalf("second identical Update should be idempotent, got %v", err)
	}
}

func TestUpdateRejectsMandateReuseAcrossSessions(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil)
	s1, _ := m.Create(context.Background(), testLineItems(), "buyer@example.com", "SGD")
	s2, _ := m.Create(context.Background(), testLineItems(), "buyer@example.com", "SGD")

	mnd := buildMandate("mnd_shared", "buyer@example.com", s1.Total, "SGD")
	if _, err := m.Update(context.Background(), s1.ID, mnd); err != nil {
		t.Fatalf("Update s1: %v", err)
	}
	mnd2 := buildMandate("mnd_shared", "buyer@example.com", s2.Total, "SGD")
	if _, err := m.Update(context.Background(), s2.ID, mnd2); apierr.KindOf(err) != apierr.MandateReuse {
		t.Fatalf("expected MandateReuse, got %v", err)
	}
}
