package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/axisgate/axis/internal/logging"
)

// probeInterval is the minimum time between health probes of the primary.
const probeInterval = 5 * time.Second

// FallbackBackend wraps a primary Backend (typically Redis) with a local
// in-memory fallback. A primary error switches it into degraded mode; it
// then probes the primary at most once per probeInterval and switches back
// once a probe succeeds. Window state is not migrated between backends, so
// a failover restarts in-flight windows.
type FallbackBackend struct {
	primary       Backend
	local         *LocalBackend
	degraded      atomic.Bool
	probeMu       sync.Mutex
	lastProbeTime atomic.Value // time.Time
}

// NewFallbackBackend creates a backend that degrades to local fixed
// windows when the primary is unavailable.
func NewFallbackBackend(primary Backend, local *LocalBackend) *FallbackBackend {
	if local == nil {
		local = NewLocalBackend(0)
	}
	fb := &FallbackBackend{
		primary: primary,
		local:   local,
	}
	fb.lastProbeTime.Store(time.Time{})
	return fb
}

func (f *FallbackBackend) Check(ctx context.Context, key string, maxRequests int, window time.Duration) (Result, error) {
	if f.degraded.Load() {
		if last, ok := f.lastProbeTime.Load().(time.Time); ok && time.Since(last) > probeInterval {
			go f.probeAndRecover()
		}
		return f.local.Check(ctx, key, maxRequests, window)
	}

	res, err := f.primary.Check(ctx, key, maxRequests, window)
	if err != nil {
		logging.Op().Warn("rate-limit primary backend error, degrading to local", "error", err)
		f.degraded.Store(true)
		f.lastProbeTime.Store(time.Now())
		return f.local.Check(ctx, key, maxRequests, window)
	}
	return res, nil
}

func (f *FallbackBackend) probeAndRecover() {
	if !f.probeMu.TryLock() {
		return // another goroutine is already probing
	}
	defer f.probeMu.Unlock()

	f.lastProbeTime.Store(time.Now())

	// The probe outlives the request that triggered it; a request-scoped
	// context could already be cancelled and keep us degraded for nothing.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := f.primary.Check(ctx, "axis:rl:probe:health", 1000, time.Minute)
	if err == nil {
		logging.Op().Info("rate-limit primary backend recovered, resuming distributed mode")
		f.degraded.Store(false)
	}
}

// Degraded reports whether the backend is running on local windows.
func (f *FallbackBackend) Degraded() bool {
	return f.degraded.Load()
}

// Close closes both backends.
func (f *FallbackBackend) Close() error {
	_ = f.local.Close()
	return f.primary.Close()
}
