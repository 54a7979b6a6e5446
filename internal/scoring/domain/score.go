package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Factor weights in percent. They sum to 100.
const (
	WeightBudget     = 30
	WeightIntent     = 25
	WeightEngagement = 20
	WeightLatency    = 15
	WeightLifecycle  = 10
)

var (
	budgetHigh = decimal.NewFromInt(50000)
	budgetMid  = decimal.NewFromInt(5000)
)

// Snapshot is the lead state a score is computed from.
type Snapshot struct {
	BudgetEstimate    *decimal.Decimal
	IntentLevel       string
	InteractionCount  int
	LastInteractionAt *time.Time
	CreatedAt         time.Time
}

// Breakdown holds each factor's 0-100 score.
type Breakdown struct {
	Budget     int `json:"budget"`
	Intent     int `json:"intent"`
	Engagement int `json:"engagement"`
	Latency    int `json:"latency"`
	Lifecycle  int `json:"lifecycle"`
}

type Score struct {
	Total     int       `json:"total"`
	Breakdown Breakdown `json:"breakdown"`
}

// ComputeScore is deterministic for a given snapshot and now.
func ComputeScore(lead Snapshot, now time.Time) Score {
	b := Breakdown{
		Budget:     budgetFactor(lead.BudgetEstimate),
		Intent:     intentFactor(lead.IntentLevel),
		Engagement: engagementFactor(lead.InteractionCount),
		Latency:    latencyFactor(lead.LastInteractionAt, now),
		Lifecycle:  lifecycleFactor(lead.CreatedAt, now),
	}
	weighted := b.Budget*WeightBudget +
		b.Intent*WeightIntent +
		b.Engagement*WeightEngagement +
		b.Latency*WeightLatency +
		b.Lifecycle*WeightLifecycle

	// round half up; weighted is never negative
	return Score{Total: (weighted + 50) / 100, Breakdown: b}
}

func budgetFactor(estimate *decimal.Decimal) int {
	switch {
	case estimate == nil:
		return 30
	case estimate.GreaterThanOrEqual(budgetHigh):
		return 100
	case estimate.GreaterThanOrEqual(budgetMid):
		return 60
	default:
		return 30
	}
}

func intentFactor(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "high":
		return 100
	case "medium":
		return 60
	default:
		return 30
	}
}

func engagementFactor(interactions int) int {
	switch {
	case interactions >= 10:
		return 100
	case interactions >= 5:
		return 60
	default:
		return 30
	}
}

func latencyFactor(last *time.Time, now time.Time) int {
	if last == nil {
		return 20
	}
	since := now.Sub(*last)
	switch {
	case since < 5*time.Minute:
		return 100
	case since < time.Hour:
		return 80
	case since > 24*time.Hour:
		return 20
	default:
		return 50
	}
}

func lifecycleFactor(createdAt, now time.Time) int {
	age := now.Sub(createdAt)
	switch {
	case age < 24*time.Hour:
		return 100
	case age < 72*time.Hour:
		return 70
	default:
		return 50
	}
}
