package routing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/smallbiznis/leadcore/internal/clock"
	"github.com/smallbiznis/leadcore/internal/config"
	qualdomain "github.com/smallbiznis/leadcore/internal/qualification/domain"
	scoringdomain "github.com/smallbiznis/leadcore/internal/scoring/domain"
	scoringservice "github.com/smallbiznis/leadcore/internal/scoring/service"
	"github.com/smallbiznis/leadcore/internal/testsupport"
	"github.com/smallbiznis/leadcore/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupLeads(t *testing.T) scoringdomain.Service {
	t.Helper()
	leads := scoringservice.NewService(scoringservice.Params{
		Scope: db.NewScope(testsupport.OpenDB(t)),
		Log:   zap.NewNop(),
		Clock: clock.NewFakeClock(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
	})
	_, err := leads.UpsertLead(context.Background(), scoringdomain.UpsertLeadRequest{TenantID: "t1", LeadID: "lead-1"})
	require.NoError(t, err)
	return leads
}

func TestTaskRoundTrip(t *testing.T) {
	in := qualdomain.RouteRequest{TenantID: "t1", LeadID: "lead-1", QualificationScore: 85, Reason: qualdomain.ReasonHighBudget}
	task, err := NewLeadRouteTask(in)
	require.NoError(t, err)
	assert.Equal(t, TaskLeadRoute, task.Type())

	out, err := ParseLeadRoutePayload(task)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestInlineRouterMarksLead(t *testing.T) {
	leads := setupLeads(t)
	router := NewRouter(nil, config.Config{}, NewHandler(leads, zap.NewNop()), zap.NewNop())

	require.NoError(t, router.Route(context.Background(), qualdomain.RouteRequest{TenantID: "t1", LeadID: "lead-1", QualificationScore: 70}))

	lead, err := leads.GetLead(context.Background(), "t1", "lead-1")
	require.NoError(t, err)
	assert.NotNil(t, lead.RoutedAt)
}

func TestHandlerSkipsRetryForUnknownLead(t *testing.T) {
	handler := NewHandler(setupLeads(t), zap.NewNop())

	task, err := NewLeadRouteTask(qualdomain.RouteRequest{TenantID: "t1", LeadID: "ghost"})
	require.NoError(t, err)
	err = handler.ProcessTask(context.Background(), task)
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = handler.ProcessTask(context.Background(), asynq.NewTask(TaskLeadRoute, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestRouterEnqueuesWhenRedisConfigured(t *testing.T) {
	mr := miniredis.RunT(t)
	router := NewRouter(nil, config.Config{RedisAddr: mr.Addr()}, NewHandler(setupLeads(t), zap.NewNop()), zap.NewNop())
	t.Cleanup(func() { _ = router.client.Close() })

	require.NoError(t, router.Route(context.Background(), qualdomain.RouteRequest{TenantID: "t1", LeadID: "lead-1"}))

	pending, err := mr.List("asynq:{" + defaultQueue + "}:pending")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}
