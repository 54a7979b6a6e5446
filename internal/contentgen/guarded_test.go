package contentgen

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/leadcore/internal/config"
	costdomain "github.com/smallbiznis/leadcore/internal/costguard/domain"
	"github.com/smallbiznis/leadcore/internal/fallback"
	"github.com/smallbiznis/leadcore/internal/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(Response), args.Error(1)
}

type mockGuard struct {
	mock.Mock
}

func (m *mockGuard) CheckBudget(ctx context.Context, req costdomain.TrackUsageRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockGuard) TrackUsage(ctx context.Context, req costdomain.TrackUsageRequest) (costdomain.UsageSnapshot, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(costdomain.UsageSnapshot), args.Error(1)
}

type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, _ Request) (Response, error) {
	<-ctx.Done()
	return Response{}, ctx.Err()
}

func TestGenerateSuccess(t *testing.T) {
	gen := new(mockGenerator)
	guard := new(mockGuard)
	g := NewGuarded(gen, guard, GuardedOptions{DefaultModel: "gemini-2.0-flash"})

	guard.On("CheckBudget", mock.Anything, mock.MatchedBy(func(r costdomain.TrackUsageRequest) bool {
		return r.TenantID == "t1" && r.Model == "gemini-2.0-flash" && r.OutputTokens == defaultMaxTokens && r.InputTokens == 3
	})).Return(nil)
	guard.On("TrackUsage", mock.Anything, costdomain.TrackUsageRequest{
		TenantID:     "t1",
		InputTokens:  41,
		OutputTokens: 7,
		Model:        "gemini-2.0-flash",
	}).Return(costdomain.UsageSnapshot{TenantID: "t1", State: costdomain.StateNormal}, nil)
	gen.On("Generate", mock.Anything, mock.Anything).Return(Response{Text: "hello there", InputTokens: 41, OutputTokens: 7}, nil)

	res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "say hello"})
	assert.False(t, res.Fallback)
	assert.Equal(t, "hello there", res.Text)
	require.NotNil(t, res.Usage)
	guard.AssertExpectations(t)
	gen.AssertExpectations(t)
}

func TestGenerateFallsBackOnBlocks(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		reason string
	}{
		{"kill switch", costdomain.ErrKillSwitchActive, fallback.ReasonKillSwitch},
		{"paused", costdomain.ErrTenantPaused, fallback.ReasonPaused},
		{"guard down", errors.New("db gone"), fallback.ReasonGuardFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gen := new(mockGenerator)
			guard := new(mockGuard)
			guard.On("CheckBudget", mock.Anything, mock.Anything).Return(tc.err)
			g := NewGuarded(gen, guard, GuardedOptions{})

			res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "reply to this customer message"})
			assert.True(t, res.Fallback)
			assert.Equal(t, tc.reason, res.Reason)
			assert.Equal(t, fallback.CategoryChat, res.Category)
			assert.Equal(t, fallback.Text(fallback.CategoryChat), res.Text)
			gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
			guard.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything)
		})
	}
}

func TestGenerateCapExceededSkipsProvider(t *testing.T) {
	gen := new(mockGenerator)
	guard := new(mockGuard)
	guard.On("CheckBudget", mock.Anything, mock.Anything).Return(costdomain.ErrCapExceeded)
	g := NewGuarded(gen, guard, GuardedOptions{})

	res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "score this lead", Category: fallback.CategoryScoring})
	assert.True(t, res.Fallback)
	assert.Equal(t, fallback.ReasonCapExceeded, res.Reason)
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
	guard.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything)
}

func TestGenerateTimeoutFallsBack(t *testing.T) {
	guard := new(mockGuard)
	guard.On("CheckBudget", mock.Anything, mock.Anything).Return(nil)
	g := NewGuarded(slowGenerator{}, guard, GuardedOptions{Timeout: 20 * time.Millisecond})

	res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "anything"})
	assert.True(t, res.Fallback)
	assert.Equal(t, fallback.ReasonTimeout, res.Reason)
	assert.Equal(t, fallback.Text(fallback.CategoryDefault), res.Text)
	guard.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything)
}

func TestFailedGenerationRecordsNoUsage(t *testing.T) {
	gen := new(mockGenerator)
	guard := new(mockGuard)
	guard.On("CheckBudget", mock.Anything, mock.Anything).Return(nil)
	gen.On("Generate", mock.Anything, mock.Anything).Return(Response{}, errors.New("upstream 503"))
	g := NewGuarded(gen, guard, GuardedOptions{})

	res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "follow up"})
	assert.True(t, res.Fallback)
	assert.Equal(t, fallback.ReasonProviderError, res.Reason)
	assert.Nil(t, res.Usage)
	guard.AssertNotCalled(t, "TrackUsage", mock.Anything, mock.Anything)
}

func TestTrackUsageEstimatesWhenProviderReportsNone(t *testing.T) {
	gen := new(mockGenerator)
	guard := new(mockGuard)
	guard.On("CheckBudget", mock.Anything, mock.Anything).Return(nil)
	guard.On("TrackUsage", mock.Anything, mock.MatchedBy(func(r costdomain.TrackUsageRequest) bool {
		return r.InputTokens == EstimateTokens("say hello") && r.OutputTokens == EstimateTokens("hello there")
	})).Return(costdomain.UsageSnapshot{TenantID: "t1"}, nil)
	gen.On("Generate", mock.Anything, mock.Anything).Return(Response{Text: "hello there"}, nil)
	g := NewGuarded(gen, guard, GuardedOptions{})

	res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "say hello"})
	assert.False(t, res.Fallback)
	guard.AssertExpectations(t)
}

func TestTrackingFailureStillServesText(t *testing.T) {
	gen := new(mockGenerator)
	guard := new(mockGuard)
	guard.On("CheckBudget", mock.Anything, mock.Anything).Return(nil)
	guard.On("TrackUsage", mock.Anything, mock.Anything).Return(costdomain.UsageSnapshot{}, costdomain.ErrCapExceeded)
	gen.On("Generate", mock.Anything, mock.Anything).Return(Response{Text: "ok", InputTokens: 900, OutputTokens: 900}, nil)
	g := NewGuarded(gen, guard, GuardedOptions{})

	res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "write"})
	assert.False(t, res.Fallback)
	assert.Equal(t, "ok", res.Text)
	assert.Nil(t, res.Usage)
}

func TestGenerateDisabledProvider(t *testing.T) {
	g := NewGuarded(nil, nil, GuardedOptions{})

	res := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "campaign email"})
	assert.True(t, res.Fallback)
	assert.Equal(t, fallback.ReasonDisabled, res.Reason)
	assert.Equal(t, fallback.CategoryMarketing, res.Category)
}

func TestGenerateRateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := ratelimit.NewAIRequestLimiter(config.Config{
		RateLimit: config.RateLimitConfig{Enabled: true, Capacity: 1, Rate: 0.001},
	}, client)
	require.NoError(t, err)

	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return(Response{Text: "ok"}, nil)
	g := NewGuarded(gen, nil, GuardedOptions{Limiter: limiter})

	first := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "hi"})
	assert.False(t, first.Fallback)

	second := g.Generate(context.Background(), Request{TenantID: "t1", Prompt: "hi"})
	assert.True(t, second.Fallback)
	assert.Equal(t, fallback.ReasonRateLimited, second.Reason)
	gen.AssertNumberOfCalls(t, "Generate", 1)
}

func TestExtractDecodesObject(t *testing.T) {
	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(r Request) bool { return r.JSON })).
		Return(Response{Text: "```json\n{\"budget_range\": \"$50K+\", \"intent\": \"high\"}\n```"}, nil)
	g := NewGuarded(gen, nil, GuardedOptions{})

	fields, err := g.Extract(context.Background(), Request{TenantID: "t1", Prompt: "extract"})
	require.NoError(t, err)
	assert.Equal(t, "$50K+", fields["budget_range"])
	assert.Equal(t, "high", fields["intent"])
}

func TestExtractErrors(t *testing.T) {
	g := NewGuarded(slowGenerator{}, nil, GuardedOptions{Timeout: 10 * time.Millisecond})
	_, err := g.Extract(context.Background(), Request{TenantID: "t1", Prompt: "extract"})
	require.ErrorIs(t, err, ErrExtractionTimeout)

	gen := new(mockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return(Response{Text: "not json"}, nil)
	g = NewGuarded(gen, nil, GuardedOptions{})
	_, err = g.Extract(context.Background(), Request{TenantID: "t1", Prompt: "extract"})
	require.ErrorIs(t, err, ErrExtractionFailed)

	guard := new(mockGuard)
	guard.On("CheckBudget", mock.Anything, mock.Anything).Return(costdomain.ErrTenantPaused)
	g = NewGuarded(gen, guard, GuardedOptions{})
	_, err = g.Extract(context.Background(), Request{TenantID: "t1", Prompt: "extract"})
	require.ErrorIs(t, err, costdomain.ErrTenantPaused)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, int64(0), EstimateTokens(""))
	assert.Equal(t, int64(1), EstimateTokens("abc"))
	assert.Equal(t, int64(2), EstimateTokens("abcde"))
}
