package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgconn"
	obscontext "github.com/smallbiznis/leadcore/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func observed(level zapcore.Level) (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return zap.New(core), logs
}

func TestWithTenantOverridesContextTenant(t *testing.T) {
	base, logs := observed(zapcore.InfoLevel)
	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithTenantID(ctx, "from-path")

	WithTenant(ctx, base, "t1").Info("debited")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "t1", fields["tenant_id"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.NotContains(t, fields, "actor_type")
	assert.NotContains(t, fields, "trace_id")
}

func TestWithContextWithoutFieldsReturnsBase(t *testing.T) {
	base, _ := observed(zapcore.InfoLevel)
	assert.Same(t, base, WithContext(context.Background(), base))
}

func TestGormTraceLevels(t *testing.T) {
	base, logs := observed(zapcore.DebugLevel)
	l := NewGormLogger(base, GormLoggerConfig{
		Level:                gormlogger.Warn,
		SlowThreshold:        50 * time.Millisecond,
		IgnoreRecordNotFound: true,
	})
	ctx := obscontext.WithTenantID(context.Background(), "t1")
	query := func(sql string) func() (string, int64) {
		return func() (string, int64) { return sql, 1 }
	}

	l.Trace(ctx, time.Now(), query(`SELECT * FROM "token_balances" WHERE tenant_id = ?`), gormlogger.ErrRecordNotFound)
	assert.Equal(t, 0, logs.Len(), "not found is a normal read miss")

	l.Trace(ctx, time.Now(), query(`SELECT * FROM "token_balances"`), nil)
	assert.Equal(t, 0, logs.Len(), "fast queries are not logged at warn")

	l.Trace(ctx, time.Now().Add(-time.Second), query(`UPDATE "ai_usage_records" SET cost_usd = ?`), nil)
	require.Equal(t, 1, logs.Len())
	slow := logs.All()[0]
	assert.Equal(t, "db.slow_query", slow.Message)
	assert.Equal(t, zapcore.WarnLevel, slow.Level)
	assert.Equal(t, "ai_usage_records", slow.ContextMap()["table"])
	assert.Equal(t, "UPDATE", slow.ContextMap()["statement"])
	assert.Equal(t, "t1", slow.ContextMap()["tenant_id"])

	l.Trace(ctx, time.Now(), query(`INSERT INTO ledger_entries (id) VALUES (?)`), &pgconn.PgError{Code: "40001"})
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "db.lock_contention", logs.All()[1].Message)
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)

	l.Trace(ctx, time.Now(), query(`DELETE FROM tenant_pauses`), errors.New("connection reset"))
	require.Equal(t, 3, logs.Len())
	assert.Equal(t, "db.query_failed", logs.All()[2].Message)
	assert.Equal(t, "tenant_pauses", logs.All()[2].ContextMap()["table"])

	l.LogMode(gormlogger.Silent).Trace(ctx, time.Now(), query("SELECT 1"), errors.New("boom"))
	assert.Equal(t, 3, logs.Len())
}

func TestIsLockContention(t *testing.T) {
	assert.True(t, IsLockContention(&pgconn.PgError{Code: "40P01"}))
	assert.True(t, IsLockContention(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsLockContention(&pgconn.PgError{Code: "23505"}))
	assert.False(t, IsLockContention(errors.New("timeout")))
}

func TestGinMiddlewareAnnotatesRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	base, logs := observed(zapcore.DebugLevel)

	var tenant, actorType, actorID string
	r := gin.New()
	r.Use(GinMiddleware(MiddlewareConfig{Log: base}))
	r.GET("/api/tenants/:tenant_id/balance", func(c *gin.Context) {
		tenant = obscontext.TenantIDFromContext(c.Request.Context())
		actorType, actorID = obscontext.ActorFromContext(c.Request.Context())
		c.Status(http.StatusPaymentRequired)
	})
	r.POST("/webhooks/payments/:provider", func(c *gin.Context) {
		actorType, actorID = obscontext.ActorFromContext(c.Request.Context())
		c.Status(http.StatusUnauthorized)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/tenants/t1/balance", nil)
	req.Header.Set(RequestIDHeader, "req-9")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-9", w.Header().Get(RequestIDHeader))
	assert.Equal(t, "t1", tenant)
	assert.Equal(t, "api", actorType)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level, "402 without a classified error stays at info")
	assert.Equal(t, "/api/tenants/:tenant_id/balance", entry.ContextMap()["route"])
	assert.Equal(t, "t1", entry.ContextMap()["tenant_id"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/payments/stripe", nil))
	assert.Equal(t, "webhook", actorType)
	assert.Equal(t, "stripe", actorID)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}
