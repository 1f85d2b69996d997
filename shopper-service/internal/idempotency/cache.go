/**
 * @description
 * This package is a thin Redis-backed idempotency cache: it lets the
 * Checkout Orchestrator short-circuit a repeated Confirm/SubmitOTP call
 * without a Postgres round trip, with the store's CheckoutAttempt rows
 * remaining the durable source of truth. Grounded on
 * `transaction-service/internal/app/redis_rate_limiter.go`'s direct
 * go-redis client usage, adapted from a counter script to a plain
 * SetNX-based marker.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9.
 */

package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache marks operations as already-performed for a bounded TTL.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewCache constructs a Cache. A nil client makes every call a no-op
// (MarkSeen always reports a first claim with no error), matching the
// teacher's nil-able capability-degrades-gracefully idiom.
func NewCache(client redis.UniversalClient, prefix string, ttl time.Duration) *Cache {
	if prefix == "" {
		prefix = "shopper:idempotency"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl}
}

// MarkSeen records key as handled, returning true if this call is the
// first to claim it (the caller should proceed) or false if another call
// already claimed it (the caller should treat the operation as a repeat).
func (c *Cache) MarkSeen(ctx context.Context, key string) (firstClaim bool, err error) {
	if c == nil || c.client == nil {
		return true, nil
	}
	ok, err := c.client.SetNX(ctx, c.prefix+":"+key, "1", c.ttl).Result()
	if err != nil {
		return true, err
	}
	return ok, nil
}
