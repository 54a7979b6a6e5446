package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type TrackUsageRequest struct {
	TenantID     string `json:"tenant_id"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Model        string `json:"model"`
}

// UsageSnapshot is the tenant's daily usage after a tracked call.
type UsageSnapshot struct {
	TenantID     string          `json:"tenant_id"`
	Date         string          `json:"date"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	RequestCount int64           `json:"request_count"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
	CallCostUSD  decimal.Decimal `json:"call_cost_usd"`
	CapUSD       decimal.Decimal `json:"cap_usd"`
	State        State           `json:"state"`
	SoftAlert    bool            `json:"soft_alert"`
}

type PauseRequest struct {
	TenantID string        `json:"tenant_id"`
	Reason   string        `json:"reason"`
	Duration time.Duration `json:"duration"`
}

// Status is the current guard state of a tenant.
type Status struct {
	TenantID     string          `json:"tenant_id"`
	State        State           `json:"state"`
	Date         string          `json:"date"`
	CostUSD      decimal.Decimal `json:"cost_usd"`
	CapUSD       decimal.Decimal `json:"cap_usd"`
	RemainingUSD decimal.Decimal `json:"remaining_usd"`
	Pause        *TenantPause    `json:"pause,omitempty"`
}

type Service interface {
	// CheckAllowed fails when the kill-switch is on or the tenant is paused.
	CheckAllowed(ctx context.Context, tenantID string) error
	// CheckBudget projects req onto today's spend without recording it.
	CheckBudget(ctx context.Context, req TrackUsageRequest) error
	TrackUsage(ctx context.Context, req TrackUsageRequest) (UsageSnapshot, error)
	Pause(ctx context.Context, req PauseRequest) (TenantPause, error)
	Resume(ctx context.Context, tenantID string) (bool, error)
	GetUsage(ctx context.Context, tenantID string, day time.Time) (UsageRecord, error)
	Status(ctx context.Context, tenantID string) (Status, error)
	SweepExpiredPauses(ctx context.Context) (int64, error)
	PurgeUsageBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

var (
	ErrInvalidTenant    = errors.New("invalid_tenant")
	ErrInvalidTokens    = errors.New("invalid_tokens")
	ErrInvalidDuration  = errors.New("invalid_duration")
	ErrTenantPaused     = errors.New("tenant_paused")
	ErrCapExceeded      = errors.New("cap_exceeded")
	ErrKillSwitchActive = errors.New("kill_switch_active")
)

// IsBlocked reports whether err is a guard decision rather than a failure.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrTenantPaused) ||
		errors.Is(err, ErrCapExceeded) ||
		errors.Is(err, ErrKillSwitchActive)
}
