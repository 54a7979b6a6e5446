package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// LockKeyPrefix namespaces lock keys so they never collide with limiter
// buckets or asynq queues on a shared Redis.
const LockKeyPrefix = "leadcore:lock:"

var (
	ErrLockUnavailable = errors.New("lock_unavailable")
	ErrLockKeyEmpty    = errors.New("lock_key_empty")
	ErrLockTTLInvalid  = errors.New("lock_ttl_invalid")
)

// compare-and-delete so an expired holder cannot free a successor's lease
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out token-owned leases on Redis keys.
type Locker struct {
	client *redis.Client
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock takes the lease on key for ttl. ok is false when another holder has
// it; token is needed to release.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error) {
	if l == nil || l.client == nil {
		return "", false, ErrLockUnavailable
	}
	if key == "" {
		return "", false, ErrLockKeyEmpty
	}
	if ttl <= 0 {
		return "", false, ErrLockTTLInvalid
	}

	token = uuid.NewString()
	ok, err = l.client.SetNX(ctx, LockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release drops the lease if token still owns it and reports whether it did.
func (l *Locker) Release(ctx context.Context, key, token string) (bool, error) {
	if l == nil || l.client == nil || key == "" || token == "" {
		return false, nil
	}
	n, err := releaseLease.Run(ctx, l.client, []string{LockKeyPrefix + key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
