package cache

import (
	"context"
	"sync"

	"github.com/go-redis/redis/v8"
)

// InvalidationChannel is the Redis Pub/Sub channel carrying cache
// invalidation signals. When an administrative route change makes cached
// responses stale, the control plane publishes the affected key here and
// every replica drops it from its L1 cache instead of waiting for the
// TTL.
const InvalidationChannel = "axis:cache:invalidate"

// Invalidator listens for invalidation signals over Redis Pub/Sub and
// evicts the corresponding keys from a local cache (typically the L1 of a
// tiered setup).
type Invalidator struct {
	local  Cache
	client *redis.Client
	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewInvalidator creates an invalidator evicting from local on signal.
func NewInvalidator(local Cache, client *redis.Client) *Invalidator {
	return &Invalidator{local: local, client: client}
}

// Start blocks listening for invalidation signals until the context is
// cancelled or Close is called.
func (iv *Invalidator) Start(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	iv.mu.Lock()
	iv.cancel = cancel
	iv.mu.Unlock()

	pubsub := iv.client.Subscribe(subCtx, InvalidationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			// Payload is the cache key to invalidate.
			_ = iv.local.Delete(subCtx, msg.Payload)
		}
	}
}

// Publish broadcasts an invalidation signal for the given key.
func (iv *Invalidator) Publish(ctx context.Context, key string) error {
	return iv.client.Publish(ctx, InvalidationChannel, key).Err()
}

// Close stops the listener.
func (iv *Invalidator) Close() error {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.closed {
		return nil
	}
	iv.closed = true
	if iv.cancel != nil {
		iv.cancel()
	}
	return nil
}
