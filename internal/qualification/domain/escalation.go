package domain

import "strings"

// Escalation reasons.
const (
	ReasonHighBudget       = "high_budget"
	ReasonUrgentHighIntent = "urgent_high_intent"
	ReasonBuyingSignal     = "buying_signal"
	ReasonMaxTurns         = "max_turns"
)

var buyingPhrases = []string{
	"ready to buy",
	"schedule call",
	"speak to someone",
	"need immediately",
}

// ShouldEscalate evaluates the early-exit triggers over cumulative data.
func ShouldEscalate(data map[string]any) (bool, string) {
	if text(data, FieldBudgetRange) == Budget50KPlus {
		return true, ReasonHighBudget
	}
	if text(data, FieldTimeline) == TimelineImmediate && text(data, FieldIntent) == "high" {
		return true, ReasonUrgentHighIntent
	}
	pain := strings.ToLower(text(data, FieldPainPoint))
	for _, phrase := range buyingPhrases {
		if strings.Contains(pain, phrase) {
			return true, ReasonBuyingSignal
		}
	}
	return false, ""
}

// Score is the hand-off score sent to routing: base 50 plus budget,
// timeline, intent and authority bonuses, capped at 100.
func Score(data map[string]any) int {
	score := 50
	switch text(data, FieldBudgetRange) {
	case Budget50KPlus:
		score += 20
	case Budget10KTo50K:
		score += 10
	case Budget5KTo10K:
		score += 5
	}
	switch text(data, FieldTimeline) {
	case TimelineImmediate:
		score += 15
	case Timeline1To3Months:
		score += 10
	case Timeline3To6Months:
		score += 5
	}
	switch text(data, FieldIntent) {
	case "high":
		score += 10
	case "medium":
		score += 5
	}
	switch text(data, FieldDecisionAuthority) {
	case "yes", "sole":
		score += 5
	}
	if score > 100 {
		score = 100
	}
	return score
}

func text(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}
