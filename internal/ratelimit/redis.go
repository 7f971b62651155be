package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// fixedWindowScript atomically counts a request against a fixed window.
// The key's TTL doubles as the window reset clock: the first increment
// arms it and later increments leave it untouched, so every caller in the
// window observes the same reset time.
//
// Keys: KEYS[1] = window key
// Args: ARGV[1] = window length in ms
// Returns: {count, remaining ttl in ms}
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
    ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisBackend implements Backend on Redis, sharing windows across gateway
// replicas. Expired keys are reclaimed by Redis itself; no sweep needed.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis-backed fixed-window backend.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: "axis:rl:",
	}
}

func (b *RedisBackend) Check(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	raw, err := fixedWindowScript.Run(ctx, b.client,
		[]string{b.prefix + key},
		window.Milliseconds(),
	).Slice()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit check: %w", err)
	}
	if len(raw) != 2 {
		return Result{}, fmt.Errorf("rate limit check: unexpected result length %d", len(raw))
	}

	count, _ := raw[0].(int64)
	ttlMs, _ := raw[1].(int64)
	resetAt := time.Now().Add(time.Duration(ttlMs) * time.Millisecond)

	if count > int64(maxRequests) {
		return Result{Allowed: false, Limit: maxRequests, Remaining: 0, ResetAt: resetAt}, nil
	}

	return Result{
		Allowed:   true,
		Limit:     maxRequests,
		Remaining: maxRequests - int(count),
		ResetAt:   resetAt,
	}, nil
}

// Close closes the underlying Redis client.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
