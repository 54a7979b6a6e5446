package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/leadcore/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const RequestIDHeader = "X-Request-Id"

// MiddlewareConfig controls request logging.
type MiddlewareConfig struct {
	Log             *zap.Logger
	Debug           bool
	ErrorClassifier func(err error) (errorType string, errorCode string)
}

// GinMiddleware puts the request id, tenant and caller on the request context
// and logs one line per request once the handler chain has run.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	base := cfg.Log
	if base == nil {
		base = zap.L()
	}
	base = base.Named("http")

	return func(c *gin.Context) {
		start := time.Now()
		requestID := requestIDFor(c)

		ctx := obscontext.WithRequestID(c.Request.Context(), requestID)
		if tenantID := strings.TrimSpace(c.Param("tenant_id")); tenantID != "" {
			ctx = obscontext.WithTenantID(ctx, tenantID)
		}
		actorType, actorID := actorFor(c)
		ctx = obscontext.WithActor(ctx, actorType, actorID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
		}
		if leadID := strings.TrimSpace(c.Param("lead_id")); leadID != "" {
			fields = append(fields, zap.String("lead_id", leadID))
		}

		var errorType string
		if lastErr := c.Errors.Last(); lastErr != nil {
			var errorCode string
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Error(lastErr.Err))
			}
		}

		if ce := WithContext(c.Request.Context(), base).Check(requestLevel(route, status, errorType), "http_request"); ce != nil {
			ce.Write(fields...)
		}
	}
}

func requestIDFor(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set("request_id", requestID)
	c.Header(RequestIDHeader, requestID)
	return requestID
}

// actorFor names the caller: the payment provider on webhook routes, the
// client address on operator and tenant routes.
func actorFor(c *gin.Context) (string, string) {
	path := c.Request.URL.Path
	switch {
	case strings.HasPrefix(path, "/webhooks/"):
		return "webhook", strings.TrimSpace(c.Param("provider"))
	case strings.HasPrefix(path, "/admin/"):
		return "operator", c.ClientIP()
	default:
		return "api", c.ClientIP()
	}
}

// requestLevel keeps expected tenant-side refusals and probes out of the
// info stream.
func requestLevel(route string, status int, errorType string) zapcore.Level {
	switch {
	case route == "/health" || route == "/metrics":
		return zapcore.DebugLevel
	case status >= http.StatusInternalServerError:
		return zapcore.ErrorLevel
	case status == http.StatusPaymentRequired && errorType == "insufficient_balance":
		return zapcore.DebugLevel
	case status == http.StatusTooManyRequests || status == http.StatusUnauthorized:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}
