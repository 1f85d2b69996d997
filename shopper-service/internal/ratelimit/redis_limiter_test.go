package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNilClientLimiterIsANoOp(t *testing.T) {
	limiter := NewRedisLimiter(nil, "")

	count, retryAfter, err := limiter.Consume(context.Background(), "otp_submit", "sess-1", 5, time.Minute)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if count != 0 || retryAfter != 0 {
		t.Fatalf("expected a nil-backed limiter to never report usage, got count=%d retryAfter=%d", count, retryAfter)
	}
}

func TestConsumeRejectsEmptyScopeOrSubject(t *testing.T) {
	limiter := NewRedisLimiter(nil, "shopper:rate_limit")

	if count, _, err := limiter.Consume(context.Background(), "", "sess-1", 5, time.Minute); err != nil || count != 0 {
		t.Fatalf("expected empty scope to no-op, got count=%d err=%v", count, err)
	}
	if count, _, err := limiter.Consume(context.Background(), "otp_submit", "", 5, time.Minute); err != nil || count != 0 {
		t.Fatalf("expected empty subject to no-op, got count=%d err=%v", count, err)
	}
}

func TestConsumeRejectsNonPositiveLimitOrWindow(t *testing.T) {
	limiter := NewRedisLimiter(nil, "shopper:rate_limit")

	if count, _, err := limiter.Consume(context.Background(), "otp_submit", "sess-1", 0, time.Minute); err != nil || count != 0 {
		t.Fatalf("expected zero limit to no-op, got count=%d err=%v", count, err)
	}
	if count, _, err := limiter.Consume(context.Background(), "otp_submit", "sess-1", 5, 0); err != nil || count != 0 {
		t.Fatalf("expected zero window to no-op, got count=%d err=%v", count, err)
	}
}

func TestNewRedisLimiterDefaultsPrefix(t *testing.T) {
	limiter := NewRedisLimiter(nil, "")
	if limiter.prefix != "shopper:rate_limit" {
		t.Fatalf("expected default prefix, got %q", limiter.prefix)
	}
	limiter = NewRedisLimiter(nil, "shopper:rate_limit:")
	if limiter.prefix != "shopper:rate_limit" {
		t.Fatalf("expected trailing colon trimmed, got %q", limiter.prefix)
	}
}
