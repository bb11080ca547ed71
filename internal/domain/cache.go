package domain

import (
	"context"
	"time"
)

// MarketCache provides fast market lookups for read paths. It is never
// consulted by mutating operations.
type MarketCache interface {
	// Set stores market unless the cached copy has a higher Version.
	Set(ctx context.Context, market Market) error
	Get(ctx context.Context, name string) (Market, error)
	Invalidate(ctx context.Context, name string) error
}

// LockManager provides mutual exclusion keyed by an arbitrary string.
type LockManager interface {
	// Acquire returns ErrLockHeld immediately if the key is taken. The
	// returned unlock func is safe to call more than once.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub and durable streams for market events.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter caps how often a key may act within a sliding window.
type RateLimiter interface {
	// Allow counts one request for key and reports whether it fits within
	// limit requests per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
