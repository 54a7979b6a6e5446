package contentgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	"github.com/smallbiznis/leadcore/internal/fallback"
	obslogger "github.com/smallbiznis/leadcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/leadcore/internal/observability/metrics"
	"github.com/smallbiznis/leadcore/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 512
)

// UsageGuard is the spend gate consulted around every provider call.
type UsageGuard interface {
	CheckBudget(ctx context.Context, req costdomain.TrackUsageRequest) error
	TrackUsage(ctx context.Context, req costdomain.TrackUsageRequest) (costdomain.UsageSnapshot, error)
}

// Result is what callers show to end users. Text is always populated.
type Result struct {
	Text     string
	Fallback bool
	Reason   string
	Category fallback.Category
	Usage    *costdomain.UsageSnapshot
}

// Guarded wraps a Generator with the kill-switch, tenant pause, daily cap
// and request rate limit, degrading to fallback templates on any block.
type Guarded struct {
	gen          Generator
	guard        UsageGuard
	limiter      *ratelimit.AIRequestLimiter
	log          *zap.Logger
	obsMetrics   *obsmetrics.Metrics
	defaultModel string
	timeout      time.Duration
}

type GuardedOptions struct {
	Limiter      *ratelimit.AIRequestLimiter
	Log          *zap.Logger
	ObsMetrics   *obsmetrics.Metrics
	DefaultModel string
	Timeout      time.Duration
}

func NewGuarded(gen Generator, guard UsageGuard, opts GuardedOptions) *Guarded {
	if gen == nil {
		gen = Disabled()
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 || timeout > defaultTimeout {
		timeout = defaultTimeout
	}
	return &Guarded{
		gen:          gen,
		guard:        guard,
		limiter:      opts.Limiter,
		log:          log.Named("contentgen.guarded"),
		obsMetrics:   opts.ObsMetrics,
		defaultModel: opts.DefaultModel,
		timeout:      timeout,
	}
}

// Generate never fails. Blocked or failed calls return a fallback template.
func (g *Guarded) Generate(ctx context.Context, req Request) Result {
	resp, snapshot, err := g.call(ctx, req)
	if err != nil {
		category, text := fallback.For(req.Category, req.Prompt)
		reason := reasonFor(err)
		g.obsMetrics.RecordFallback(ctx, string(category), reason)
		obslogger.WithTenant(ctx, g.log, req.TenantID).Info("serving fallback response",
			zap.String("category", string(category)),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return Result{Text: text, Fallback: true, Reason: reason, Category: category}
	}
	return Result{Text: resp.Text, Category: req.Category, Usage: snapshot}
}

// Extract asks for a JSON object and decodes it into an untyped map.
// Guard decisions are returned unchanged; deadline hits map to
// ErrExtractionTimeout and other provider failures to ErrExtractionFailed.
func (g *Guarded) Extract(ctx context.Context, req Request) (map[string]any, error) {
	req.JSON = true
	resp, _, err := g.call(ctx, req)
	if err != nil {
		switch {
		case costdomain.IsBlocked(err),
			errors.Is(err, ErrRateLimited),
			errors.Is(err, ErrEmptyPrompt),
			errors.Is(err, ErrGuardUnavailable),
			errors.Is(err, costdomain.ErrInvalidTenant):
			return nil, err
		case errors.Is(err, context.DeadlineExceeded):
			return nil, ErrExtractionTimeout
		default:
			return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
		}
	}

	fields, err := DecodeObject(resp.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
	return fields, nil
}

func (g *Guarded) call(ctx context.Context, req Request) (Response, *costdomain.UsageSnapshot, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return Response{}, nil, ErrEmptyPrompt
	}
	if strings.TrimSpace(req.Model) == "" {
		req.Model = g.defaultModel
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = defaultMaxTokens
	}

	// worst-case projection; nothing is recorded until the provider answers
	if g.guard != nil {
		if err := g.guard.CheckBudget(ctx, costdomain.TrackUsageRequest{
			TenantID:     req.TenantID,
			InputTokens:  EstimateTokens(req.System + req.Prompt),
			OutputTokens: int64(req.MaxTokens),
			Model:        req.Model,
		}); err != nil {
			return Response{}, nil, guardErr(err)
		}
	}

	limit, err := g.limiter.Allow(ctx, req.TenantID)
	if err != nil {
		g.log.Warn("rate limiter unavailable, allowing request", zap.Error(err))
	} else if limit != nil && !limit.Allowed {
		g.obsMetrics.RecordRateLimitDenied(ctx, req.TenantID, "ai_request")
		return Response{}, nil, ErrRateLimited
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.gen.Generate(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return Response{}, nil, err
	}
	return resp, g.track(ctx, req, resp), nil
}

// track records the provider-reported usage of a completed call. The text
// has already been produced, so a tracking failure is logged, not returned.
func (g *Guarded) track(ctx context.Context, req Request, resp Response) *costdomain.UsageSnapshot {
	if g.guard == nil {
		return nil
	}
	usage := costdomain.TrackUsageRequest{
		TenantID:     req.TenantID,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		Model:        req.Model,
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		// provider reported no usage
		usage.InputTokens = EstimateTokens(req.System + req.Prompt)
		usage.OutputTokens = EstimateTokens(resp.Text)
	}

	snap, err := g.guard.TrackUsage(ctx, usage)
	if err != nil {
		obslogger.WithTenant(ctx, g.log, req.TenantID).Warn("failed to track ai usage",
			zap.String("model", usage.Model),
			zap.Int64("input_tokens", usage.InputTokens),
			zap.Int64("output_tokens", usage.OutputTokens),
			zap.Error(err),
		)
		return nil
	}
	return &snap
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(text string) int64 {
	n := len(text)
	if n == 0 {
		return 0
	}
	return int64((n + 3) / 4)
}

// DecodeObject parses a JSON object out of model output, tolerating code
// fences and surrounding prose.
func DecodeObject(text string) (map[string]any, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, errors.New("no json object in response")
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, costdomain.ErrKillSwitchActive):
		return fallback.ReasonKillSwitch
	case errors.Is(err, costdomain.ErrTenantPaused):
		return fallback.ReasonPaused
	case errors.Is(err, costdomain.ErrCapExceeded):
		return fallback.ReasonCapExceeded
	case errors.Is(err, ErrRateLimited):
		return fallback.ReasonRateLimited
	case errors.Is(err, ErrProviderDisabled):
		return fallback.ReasonDisabled
	case errors.Is(err, context.DeadlineExceeded):
		return fallback.ReasonTimeout
	case errors.Is(err, ErrEmptyPrompt):
		return fallback.ReasonProviderError
	case errors.Is(err, ErrGuardUnavailable):
		return fallback.ReasonGuardFailure
	default:
		return fallback.ReasonProviderError
	}
}

func guardErr(err error) error {
	if costdomain.IsBlocked(err) || errors.Is(err, costdomain.ErrInvalidTenant) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrGuardUnavailable, err)
}
