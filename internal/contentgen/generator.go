package contentgen

import (
	"context"
	"errors"

	"github.com/smallbiznis/leadcore/internal/fallback"
)

// Request is a single text generation call.
type Request struct {
	TenantID    string
	Model       string
	System      string
	Prompt      string
	MaxTokens   int32
	Temperature float32
	// JSON asks the provider for a JSON object response.
	JSON bool
	// Category selects the fallback template. Detected from Prompt when empty.
	Category fallback.Category
}

// Response carries generated text and the provider-reported token usage.
type Response struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Generator is the external text generation provider.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

var (
	ErrProviderDisabled  = errors.New("provider_disabled")
	ErrExtractionTimeout = errors.New("extraction_timeout")
	ErrExtractionFailed  = errors.New("extraction_failed")
	ErrRateLimited       = errors.New("rate_limited")
	ErrEmptyPrompt       = errors.New("empty_prompt")
	ErrGuardUnavailable  = errors.New("guard_unavailable")
)

type disabledGenerator struct{}

// Disabled returns a generator that always fails with ErrProviderDisabled.
func Disabled() Generator { return disabledGenerator{} }

func (disabledGenerator) Generate(context.Context, Request) (Response, error) {
	return Response{}, ErrProviderDisabled
}
