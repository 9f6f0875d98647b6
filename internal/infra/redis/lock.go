package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process owns the lock.
var ErrLockHeld = errors.New("redis: lock is held by another process")

// Only the owner's token may delete the key.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// CycleLock keeps two refresh cycles from running at the same time across
// processes. The TTL bounds how long a crashed owner blocks the next cycle.
type CycleLock struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
}

// NewCycleLock returns a lock stored under key.
func NewCycleLock(client redis.UniversalClient, key string, ttl time.Duration) *CycleLock {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &CycleLock{client: client, key: key, ttl: ttl}
}

// Acquire takes the lock or fails with ErrLockHeld. The returned func
// releases it.
func (l *CycleLock) Acquire(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("redis: release %s: %w", l.key, err)
		}
		return nil
	}
	return release, nil
}
