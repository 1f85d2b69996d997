package requestlog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/domain"
	"github.com/ucp-demo/merchant-service/pkg/rabbitmq"
)

type fakeRepo struct {
	entries []domain.RequestLogEntry
	appendErr error
}

func (f *fakeRepo) CreateSession(ctx context.Context, session *domain.CheckoutSession) error { return nil }
func (f *fakeRepo) GetSession(ctx context.Context, id uuid.UUID) (*domain.CheckoutSession, error) {
	return nil, nil
}
func (f *fakeRepo) CompareAndSwapSession(ctx context.Context, session *domain.CheckoutSession) error {
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
	return nil
}
func (f *fakeRepo) LookupDeviceCredential(ctx context.Context, payerEmail string) (*domain.DeviceCredential, error) {
	return nil, nil
}
func (f *fakeRepo) AppendRequestLog(ctx context.Context, entry domain.RequestLogEntry) error {
	f.entries = append(f.entries, entry)
	return f.appendErr
}

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.published = append(p.published, routingKey)
	return nil
}
func (p *fakePublisher) Close() {}

func TestRecordPersistsAndPublishes(t *testing.T) {
	repo := &fakeRepo{}
	pub := &fakePublisher{}
	r := NewRecorder(repo, pub, "merchant_service.request_log")

	r.Record(context.Background(), Entry{Kind: "ucp", Endpoint: "/ucp/v1/checkout-sessions", Method: "POST", Status: 201, Duration: 12 * time.Millisecond})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 persisted entry, got %d", len(repo.entries))
	}
	if repo.entries[0].Endpoint != "/ucp/v1/checkout-sessions" || repo.entries[0].Status != 201 {
		t.Fatalf("unexpected persisted entry: %+v", repo.entries[0])
	}
	if len(pub.published) != 1 || pub.published[0] != "request.logged" {
		t.Fatalf("expected a request.logged publish, got %v", pub.published)
	}
}

func TestRecordSwallowsRepositoryError(t *testing.T) {
	repo := &fakeRepo{appendErr: context.DeadlineExceeded}
	r := NewRecorder(repo, nil, "merchant_service.request_log")

	r.Record(context.Background(), Entry{Kind: "ucp", Endpoint: "/ucp/products/search", Method: "GET", Status: 200})
}

func TestNewRecorderDefaultsNilPublisherToFallback(t *testing.T) {
	r := NewRecorder(&fakeRepo{}, nil, "q")
	if _, ok := r.publisher.(*rabbitmq.FallbackProducer); !ok {
		t.Fatalf("expected a FallbackProducer default, got %T", r.publisher)
	}
}
