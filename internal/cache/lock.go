package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the game lock.
var ErrLockHeld = errors.New("game lock is held")

// releaseScript deletes the lock only if it still carries our token, so a
// holder whose TTL lapsed cannot free a lock someone else has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived per-game mutual exclusion.
type Locker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	return &Locker{rdb: rdb, ttl: ttl}
}

// Lock is a held game lock.
type Lock struct {
	rdb   *redis.Client
	key   string
	token string
}

// Acquire takes the lock for gameID or fails fast with ErrLockHeld. A lock
// whose holder crashed expires after the TTL.
func (l *Locker) Acquire(ctx context.Context, gameID uuid.UUID) (*Lock, error) {
	key := lockKey(gameID)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", gameID, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lock{rdb: l.rdb, key: key, token: token}, nil
}

// Release frees the lock if this holder still owns it. It reports whether the
// lock was still ours.
func (lk *Lock) Release(ctx context.Context) (bool, error) {
	n, err := releaseScript.Run(ctx, lk.rdb, []string{lk.key}, lk.token).Int()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", lk.key, err)
	}
	return n == 1, nil
}
