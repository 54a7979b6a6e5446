package domain

// MaxTurns is the number of interview turns. A run completes after the
// response to the last turn is processed.
const MaxTurns = 6

type Goal string

const (
	GoalUnderstandNeed     Goal = "understand_need"
	GoalBudgetDiscovery    Goal = "budget_discovery"
	GoalTimelineAssessment Goal = "timeline_assessment"
	GoalDecisionAuthority  Goal = "decision_authority"
	GoalObjectionsConcerns Goal = "objections_concerns"
	GoalNextSteps          Goal = "next_steps"
)

// Extracted field names.
const (
	FieldIntent            = "intent"
	FieldPainPoint         = "pain_point"
	FieldBudgetRange       = "budget_range"
	FieldTimeline          = "timeline"
	FieldUrgency           = "urgency"
	FieldDecisionAuthority = "decision_authority"
	FieldStakeholders      = "stakeholders"
	FieldObjections        = "objections"
	FieldConcerns          = "concerns"
	FieldPreferredContact  = "preferred_contact"
	FieldAvailability      = "availability"
)

type Turn struct {
	Number int
	Goal   Goal
	Fields []string
	Prompt string
}

var turns = [MaxTurns]Turn{
	{
		Number: 1,
		Goal:   GoalUnderstandNeed,
		Fields: []string{FieldIntent, FieldPainPoint},
		Prompt: "Thanks for reaching out! What challenge are you hoping to solve, and how soon are you looking to act on it?",
	},
	{
		Number: 2,
		Goal:   GoalBudgetDiscovery,
		Fields: []string{FieldBudgetRange},
		Prompt: "That helps. Do you have a budget range in mind for this project?",
	},
	{
		Number: 3,
		Goal:   GoalTimelineAssessment,
		Fields: []string{FieldTimeline, FieldUrgency},
		Prompt: "When would you ideally like to have this in place?",
	},
	{
		Number: 4,
		Goal:   GoalDecisionAuthority,
		Fields: []string{FieldDecisionAuthority, FieldStakeholders},
		Prompt: "Who else is involved in making this decision?",
	},
	{
		Number: 5,
		Goal:   GoalObjectionsConcerns,
		Fields: []string{FieldObjections, FieldConcerns},
		Prompt: "Is there anything that might hold you back or that you'd want us to address first?",
	},
	{
		Number: 6,
		Goal:   GoalNextSteps,
		Fields: []string{FieldPreferredContact, FieldAvailability},
		Prompt: "What's the best way to reach you, and when are you usually available?",
	},
}

const (
	ClosingMessage    = "Thank you for sharing all of that! A member of our team will reach out shortly with next steps."
	EscalationMessage = "Thanks! This sounds like a great fit. We're connecting you with a specialist who will be in touch very soon."
)

// TurnFor returns the definition of turn n, 1-based.
func TurnFor(n int) (Turn, bool) {
	if n < 1 || n > MaxTurns {
		return Turn{}, false
	}
	return turns[n-1], true
}
