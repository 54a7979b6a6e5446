package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/leadcore/internal/clock"
	flagdomain "github.com/smallbiznis/leadcore/internal/platformflag/domain"
	"github.com/smallbiznis/leadcore/internal/testsupport"
	"github.com/smallbiznis/leadcore/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestKillSwitchDefaultsOff(t *testing.T) {
	conn := testsupport.OpenDB(t)
	svc := NewService(Params{Scope: db.NewScope(conn), Log: zap.NewNop(), Clock: clock.System()})

	active, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestKillSwitchSetAndCache(t *testing.T) {
	conn := testsupport.OpenDB(t)
	clk := clock.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(Params{Scope: db.NewScope(conn), Log: zap.NewNop(), Clock: clk})
	ctx := context.Background()

	_, err := svc.Set(ctx, flagdomain.SetRequest{Enabled: true})
	require.ErrorIs(t, err, flagdomain.ErrInvalidActor)

	flag, err := svc.Set(ctx, flagdomain.SetRequest{Enabled: true, Reason: "provider incident", Actor: "ops"})
	require.NoError(t, err)
	assert.True(t, flag.Enabled)

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	// out-of-band write is only seen after the cache expires
	require.NoError(t, conn.Exec(`UPDATE platform_flags SET enabled = ? WHERE key = ?`, false, flagdomain.KeyAIKillSwitch).Error)
	active, err = svc.Active(ctx)
	require.NoError(t, err)
	assert.True(t, active)

	clk.Advance(cacheTTL + time.Second)
	active, err = svc.Active(ctx)
	require.NoError(t, err)
	assert.False(t, active)

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ops", got.UpdatedBy)
}

func TestKillSwitchPublishesInvalidation(t *testing.T) {
	conn := testsupport.OpenDB(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	sub := client.Subscribe(ctx, invalidateChannel)
	t.Cleanup(func() { _ = sub.Close() })
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	svc := NewService(Params{Scope: db.NewScope(conn), Log: zap.NewNop(), Clock: clock.System(), Redis: client})
	_, err = svc.Set(ctx, flagdomain.SetRequest{Enabled: true, Actor: "ops"})
	require.NoError(t, err)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, flagdomain.KeyAIKillSwitch, msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("expected invalidation message")
	}
}
