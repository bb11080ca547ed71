package local

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// RateLimiter implements domain.RateLimiter with a per-key sliding window of
// admission timestamps.
type RateLimiter struct {
	mu     sync.Mutex
	events map[string][]time.Time
	now    func() time.Time
}

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		events: make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow counts a request for key and reports whether it fits in the window.
func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-window)
	kept := rl.events[key][:0]
	for _, t := range rl.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= limit {
		rl.events[key] = kept
		return false, nil
	}
	rl.events[key] = append(kept, now)
	return true, nil
}

// Compile-time interface check.
var _ domain.RateLimiter = (*RateLimiter)(nil)
