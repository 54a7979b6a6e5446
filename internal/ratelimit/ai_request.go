package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/leadcore/internal/config"
)

const keyAIRequestTenant = "ai:request:tenant:%s"

// AIRequestLimiter throttles content generation calls per tenant.
type AIRequestLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

// NewAIRequestLimiter returns nil when limiting is disabled or Redis is absent.
func NewAIRequestLimiter(cfg config.Config, client *redis.Client) (*AIRequestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled || client == nil {
		return nil, nil
	}
	if limitCfg.Rate <= 0 || limitCfg.Capacity <= 0 {
		return nil, errors.New("ai rate limit must be positive")
	}
	return &AIRequestLimiter{
		bucket: NewTokenBucket(client),
		rate:   limitCfg.Rate,
		burst:  limitCfg.Capacity,
	}, nil
}

func (l *AIRequestLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

// Allow consumes one request token for tenantID.
func (l *AIRequestLimiter) Allow(ctx context.Context, tenantID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAIRequestTenant, strings.TrimSpace(tenantID)), l.rate, l.burst)
}
