package contentgen

import (
	"context"

	"github.com/smallbiznis/leadcore/internal/config"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	obsmetrics "github.com/smallbiznis/leadcore/internal/observability/metrics"
	"github.com/smallbiznis/leadcore/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("contentgen",
	fx.Provide(
		NewGenerator,
		newGuarded,
	),
)

// NewGenerator returns the Gemini client, or a disabled generator when no
// API key is configured.
func NewGenerator(cfg config.Config, log *zap.Logger) (Generator, error) {
	if cfg.AI.APIKey == "" {
		log.Warn("AI_PROVIDER_API_KEY not set, content generation will use fallbacks")
		return Disabled(), nil
	}
	return NewGeminiGenerator(context.Background(), cfg.AI.APIKey, cfg.AI.Model)
}

type Params struct {
	fx.In

	Generator  Generator
	Guard      costdomain.Service
	Limiter    *ratelimit.AIRequestLimiter `optional:"true"`
	Config     config.Config
	Log        *zap.Logger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func newGuarded(p Params) *Guarded {
	return NewGuarded(p.Generator, p.Guard, GuardedOptions{
		Limiter:      p.Limiter,
		Log:          p.Log,
		ObsMetrics:   p.ObsMetrics,
		DefaultModel: p.Config.AI.Model,
		Timeout:      p.Config.AI.Timeout,
	})
}
