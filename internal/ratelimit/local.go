package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalBackend implements Backend with in-memory fixed windows. It is the
// default for single-instance deployments and the degraded-mode fallback
// when the Redis backend is unreachable. A background sweep deletes
// expired windows to bound memory.
type LocalBackend struct {
	mu      sync.Mutex
	windows map[string]*window
	closed  bool
	done    chan struct{}
}

type window struct {
	count   int
	resetAt time.Time
}

// NewLocalBackend creates a local backend sweeping expired windows at the
// given interval (default: one minute).
func NewLocalBackend(sweepInterval time.Duration) *LocalBackend {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	b := &LocalBackend{
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go b.sweepLoop(sweepInterval)
	return b
}

func (b *LocalBackend) Check(_ context.Context, key string, maxRequests int, windowDur time.Duration) (Result, error) {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.windows[key]
	if !ok || now.After(w.resetAt) {
		// Expired windows are replaced, never reused.
		w = &window{count: 1, resetAt: now.Add(windowDur)}
		b.windows[key] = w
		return Result{Allowed: true, Limit: maxRequests, Remaining: maxRequests - 1, ResetAt: w.resetAt}, nil
	}

	if w.count >= maxRequests {
		return Result{Allowed: false, Limit: maxRequests, Remaining: 0, ResetAt: w.resetAt}, nil
	}

	w.count++
	return Result{Allowed: true, Limit: maxRequests, Remaining: maxRequests - w.count, ResetAt: w.resetAt}, nil
}

// Close stops the sweep loop.
func (b *LocalBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

func (b *LocalBackend) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			now := time.Now()
			b.mu.Lock()
			for key, w := range b.windows {
				if now.After(w.resetAt) {
					delete(b.windows, key)
				}
			}
			b.mu.Unlock()
		}
	}
}

// size reports the number of live windows. Test hook.
func (b *LocalBackend) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.windows)
}
