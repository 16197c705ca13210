package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// unlockLua deletes the lock only while it still holds the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry out only while the key still holds the
// caller's token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

var (
	_ domain.LockManager  = (*LockManager)(nil)
	_ domain.LeaseManager = (*LockManager)(nil)
)

// LockManager implements domain.LockManager and domain.LeaseManager using
// Redis SETNX with a TTL and Lua-based conditional unlock and renewal.
type LockManager struct {
	rdb      *redis.Client
	ks       keyspace
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:      c.rdb,
		ks:       c.ks,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire takes the lock for key for at most ttl. The returned unlock
// function may be called more than once. A lock held elsewhere yields
// domain.ErrLockHeld.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lm.ks.key("lock", key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// Hold takes the lease key for ttl and renews it every third of ttl until
// release is called or ctx ends. lost is closed when a renewal finds the
// key gone or owned by another token, when Redis cannot confirm the lease
// for a whole ttl, or when ctx ends.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (<-chan struct{}, func(), error) {
	token := uuid.New().String()
	lk := lm.ks.key("lease", key)

	ok, err := lm.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("redis: hold lease %s: %w", key, err)
	}
	if !ok {
		return nil, nil, fmt.Errorf("redis: hold lease %s: %w", key, domain.ErrLockHeld)
	}

	lost := make(chan struct{})
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		lm.renew(ctx, lk, token, ttl, stop, lost)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done
			unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.rdb, []string{lk}, token).Err()
		})
	}
	return lost, release, nil
}

func (lm *LockManager) renew(ctx context.Context, lk, token string, ttl time.Duration, stop <-chan struct{}, lost chan<- struct{}) {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	confirmed := time.Now()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			close(lost)
			return
		case <-ticker.C:
			rctx, cancel := context.WithTimeout(ctx, ttl/3)
			n, err := lm.extendSc.Run(rctx, lm.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
			cancel()
			switch {
			case err == nil && n == 1:
				confirmed = time.Now()
			case err == nil, time.Since(confirmed) >= ttl:
				close(lost)
				return
			}
		}
	}
}
