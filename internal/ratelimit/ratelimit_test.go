package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/leadcore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLockerTryLockAndRelease(t *testing.T) {
	mr, client := newRedis(t)
	locker := NewLocker(client)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "lead:1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists(LockKeyPrefix+"lead:1"))
	assert.False(t, mr.Exists("lead:1"))

	_, ok, err = locker.TryLock(ctx, "lead:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := locker.Release(ctx, "lead:1", "someone-else")
	require.NoError(t, err)
	assert.False(t, released)
	_, ok, err = locker.TryLock(ctx, "lead:1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "foreign token must not release the lock")

	released, err = locker.Release(ctx, "lead:1", token)
	require.NoError(t, err)
	assert.True(t, released)
	_, ok, err = locker.TryLock(ctx, "lead:1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockerValidation(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()

	var unset *Locker
	_, _, err := unset.TryLock(ctx, "k", time.Minute)
	require.ErrorIs(t, err, ErrLockUnavailable)

	locker := NewLocker(client)
	_, _, err = locker.TryLock(ctx, "", time.Minute)
	require.ErrorIs(t, err, ErrLockKeyEmpty)
	_, _, err = locker.TryLock(ctx, "k", 0)
	require.ErrorIs(t, err, ErrLockTTLInvalid)
}

func TestRedisMutexTimesOutWhileHeld(t *testing.T) {
	_, client := newRedis(t)
	m := &RedisMutex{locker: NewLocker(client), ttl: time.Minute, poll: 5 * time.Millisecond}

	unlock, err := m.Lock(context.Background(), "qualification:lead-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = m.Lock(ctx, "qualification:lead-1")
	assert.ErrorIs(t, err, ErrLockTimeout)

	unlock()
	unlock2, err := m.Lock(context.Background(), "qualification:lead-1")
	require.NoError(t, err)
	unlock2()
}

func TestLocalMutexSerializesPerKey(t *testing.T) {
	m := NewLocalMutex()
	var (
		wg      sync.WaitGroup
		inside  int32
		maxSeen int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "lead-1")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxSeen)
				if n <= cur || atomic.CompareAndSwapInt32(&maxSeen, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)

	// other keys do not contend
	unlockA, err := m.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlockB, err := m.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockA()
	unlockB()
	unlockB()
}

func TestAIRequestLimiterExhaustsBurst(t *testing.T) {
	_, client := newRedis(t)
	cfg := config.Config{RateLimit: config.RateLimitConfig{Enabled: true, Capacity: 2, Rate: 0.001}}

	limiter, err := NewAIRequestLimiter(cfg, client)
	require.NoError(t, err)
	require.True(t, limiter.Enabled())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := limiter.Allow(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := limiter.Allow(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)

	other, err := limiter.Allow(ctx, "t2")
	require.NoError(t, err)
	assert.True(t, other.Allowed)
}

func TestAIRequestLimiterDisabledAllows(t *testing.T) {
	limiter, err := NewAIRequestLimiter(config.Config{}, nil)
	require.NoError(t, err)
	assert.Nil(t, limiter)

	res, err := limiter.Allow(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
