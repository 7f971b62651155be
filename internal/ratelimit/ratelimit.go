// Package ratelimit implements fixed-window request counting, keyed by
// caller and route. The window contract is deliberate: up to N requests
// are admitted per window, the (N+1)-th is rejected with remaining=0, and
// the counter resets only when the window expires. Window boundaries are
// therefore bursty; callers relying on smoothing should front this with
// their own shaping.
package ratelimit

import (
	"context"
	"time"
)

// Result reports a single rate-limit decision.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Backend performs an atomic check-and-count against a fixed window.
type Backend interface {
	// Check counts one request against the window for key. The increment
	// and the comparison are atomic per key.
	Check(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error)

	// Close releases backend resources.
	Close() error
}

// Key returns the default window key for a caller and route.
func Key(clientIP, routePath string) string {
	return clientIP + ":" + routePath
}
