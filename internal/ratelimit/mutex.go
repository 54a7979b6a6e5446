package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a keyed lock cannot be acquired before the
// context is done.
var ErrLockTimeout = errors.New("lock_timeout")

// Mutex serializes work per key across goroutines or processes.
type Mutex interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

const (
	defaultLockTTL   = 2 * time.Minute
	lockPollInterval = 25 * time.Millisecond
)

// NewMutex returns a Redis-backed mutex when client is set, otherwise an
// in-process keyed mutex.
func NewMutex(client *redis.Client) Mutex {
	if client == nil {
		return NewLocalMutex()
	}
	return &RedisMutex{locker: NewLocker(client), ttl: defaultLockTTL, poll: lockPollInterval}
}

// RedisMutex polls Locker.TryLock until the key is free or ctx ends.
type RedisMutex struct {
	locker *Locker
	ttl    time.Duration
	poll   time.Duration
}

func (m *RedisMutex) Lock(ctx context.Context, key string) (func(), error) {
	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	for {
		token, ok, err := m.locker.TryLock(ctx, key, m.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// release must outlive a cancelled request context
				releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_, _ = m.locker.Release(releaseCtx, key, token)
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}

// LocalMutex is a keyed mutex for single-process deployments.
type LocalMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func NewLocalMutex() *LocalMutex {
	return &LocalMutex{locks: make(map[string]chan struct{})}
}

func (m *LocalMutex) Lock(ctx context.Context, key string) (func(), error) {
	for {
		m.mu.Lock()
		held, busy := m.locks[key]
		if !busy {
			ch := make(chan struct{})
			m.locks[key] = ch
			m.mu.Unlock()

			var once sync.Once
			return func() {
				once.Do(func() {
					m.mu.Lock()
					delete(m.locks, key)
					m.mu.Unlock()
					close(ch)
				})
			}, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ErrLockTimeout
		case <-held:
		}
	}
}
