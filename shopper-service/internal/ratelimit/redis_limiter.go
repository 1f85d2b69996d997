/**
 * @description
 * This package implements a distributed rate limiter over Redis, used by the
 * demo API to cap repeated OTP submission attempts per checkout session
 * across replicas faster than a database round trip would. Grounded on
 * `redis_rate_limiter.go`'s INCR/PEXPIRE Lua script pattern.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9.
 */

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var limitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Limiter caps how many times subject may act within scope per window.
type Limiter interface {
	Consume(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// RedisLimiter is the Redis-backed Limiter implementation.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter. A nil client makes Consume a
// no-op, so callers can wire this optionally without nil-checking at the
// call site.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	p := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if p == "" {
		p = "shopper:rate_limit"
	}
	return &RedisLimiter{client: client, prefix: p}
}

func (r *RedisLimiter) Consume(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope, subject = strings.TrimSpace(scope), strings.TrimSpace(subject)
	if scope == "" || subject == "" {
		return 0, 0, nil
	}

	windowMs := window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}
	key := fmt.Sprintf("%s:%s:%s", r.prefix, scope, subject)

	raw, err := limitScript.Run(ctx, r.client, []string{key}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected rate limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected rate limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok {
		return int(count), 0, fmt.Errorf("unexpected rate limiter ttl type: %T", values[1])
	}
	if ttlMs < 0 {
		ttlMs = windowMs
	}
	retryAfter := int(math.Ceil(float64(ttlMs) / 1000.0))
	if retryAfter < 1 {
		retryAfter = 1
	}
	return int(count), retryAfter, nil
}
