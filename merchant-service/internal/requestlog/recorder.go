/**
 * @description
 * This package implements the Request-Log Recorder: it captures before/after
 * metadata for every inbound UCP/AP2 request and persists it, both to the
 * durable repository and as an async fire-and-forget event to RabbitMQ for
 * any downstream analytics consumer. Recording never fails the request it
 * describes (Design Note: best-effort side channel, errors are logged not
 * propagated).
 *
 * @dependencies
 * - internal/store, internal/domain: Durable persistence.
 * - pkg/rabbitmq: Async publish.
 */

package requestlog

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/ucp-demo/merchant-service/internal/domain"
	"github.com/ucp-demo/merchant-service/internal/store"
	"github.com/ucp-demo/merchant-service/pkg/rabbitmq"
)

// Recorder captures request-log entries.
type Recorder struct {
	repo      store.Repository
	publisher rabbitmq.Publisher
	queue     string
}

// NewRecorder constructs a Recorder. A nil publisher is replaced with a
// fallback no-op so callers never need to nil-check.
func NewRecorder(repo store.Repository, publisher rabbitmq.Publisher, queue string) *Recorder {
	if publisher == nil {
		publisher = &rabbitmq.FallbackProducer{}
	}
	return &Recorder{repo: repo, publisher: publisher, queue: queue}
}

// Entry is the input describing one completed request.
type Entry struct {
	Kind         string
	Endpoint     string
	Method       string
	Status       int
	RequestBody  string
	ResponseBody string
	MandateID    *string
	ClientIP     string
	Duration     time.Duration
}

// Record persists e both durably and as a fire-and-forget queue event.
// Never returns an error to the caller; logs on failure.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	entry := domain.RequestLogEntry{
		ID:           uuid.New(),
		Kind:         e.Kind,
		Endpoint:     e.Endpoint,
		Method:       e.Method,
		Status:       e.Status,
		RequestBody:  e.RequestBody,
		ResponseBody: e.ResponseBody,
		MandateID:    e.MandateID,
		ClientIP:     e.ClientIP,
		DurationMS:   e.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.repo.AppendRequestLog(ctx, entry); err != nil {
		log.Printf("level=warn component=requestlog msg=\"failed to persist request log entry\" endpoint=%s err=%v", e.Endpoint, err)
	}
	if err := r.publisher.Publish(ctx, "merchant_events", "request.logged", entry); err != nil {
		log.Printf("level=warn component=requestlog msg=\"failed to publish request log event\" endpoint=%s err=%v", e.Endpoint, err)
	}
}
