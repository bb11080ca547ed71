package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/parimarket/internal/domain"
)

// unlockLua deletes the lock key only while it still holds the caller's
// token, so a holder whose lease expired cannot release its successor.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager using SET NX with a TTL and a
// Lua compare-and-delete unlock.
type LockManager struct {
	c            *Client
	unlockSc     *redis.Script
	logUnlockErr func(key string, err error)
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
	}
}

// Acquire takes the lock for key for at most ttl. It returns
// domain.ErrLockHeld when another holder has it. The unlock func is safe to
// call more than once and from several goroutines.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
			if err != nil && lm.logUnlockErr != nil {
				lm.logUnlockErr(key, err)
			}
		})
	}
	return unlock, nil
}

// OnUnlockError registers fn to observe failed releases. The lease still
// expires after its TTL.
func (lm *LockManager) OnUnlockError(fn func(key string, err error)) {
	lm.logUnlockErr = fn
}

// Compile-time interface check.
var _ domain.LockManager = (*LockManager)(nil)
