// Package local implements the domain lock and event-bus interfaces inside a
// single process. It backs the memory storage mode and tests.
package local

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

type lease struct {
	token   string
	expires time.Time
}

// LockManager implements domain.LockManager with an in-memory lease table.
// Leases expire after their TTL so a crashed holder cannot wedge a key.
type LockManager struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// Acquire takes the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()

	lm.mu.Lock()
	now := lm.now()
	if l, ok := lm.leases[key]; ok && now.Before(l.expires) {
		lm.mu.Unlock()
		return nil, domain.ErrLockHeld
	}
	lm.leases[key] = lease{token: token, expires: now.Add(ttl)}
	lm.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			lm.mu.Lock()
			defer lm.mu.Unlock()
			if l, ok := lm.leases[key]; ok && l.token == token {
				delete(lm.leases, key)
			}
		})
	}, nil
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
