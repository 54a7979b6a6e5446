package effect

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCriticalWrapsError(t *testing.T) {
	boom := errors.New("boom")
	err := Critical(context.Background(), "ledger.deduct", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "ledger.deduct")

	assert.NoError(t, Critical(context.Background(), "noop", func(context.Context) error { return nil }))
}

func TestBestEffortSwallowsErrorsAndPanics(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := zap.New(core)

	ok := BestEffort(context.Background(), log, "routing", func(context.Context) error {
		return errors.New("queue down")
	})
	assert.False(t, ok)

	ok = BestEffort(context.Background(), log, "routing", func(context.Context) error {
		panic("nil map")
	})
	assert.False(t, ok)
	assert.Equal(t, 2, logs.Len())

	assert.True(t, BestEffort(context.Background(), nil, "noop", func(context.Context) error { return nil }))
}
