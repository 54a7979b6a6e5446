package fallback

import "strings"

type Category string

const (
	CategoryScoring   Category = "scoring"
	CategoryChat      Category = "chat"
	CategoryMarketing Category = "marketing"
	CategoryDefault   Category = "default"
)

// Reasons attached to a fallback response.
const (
	ReasonKillSwitch    = "kill_switch"
	ReasonPaused        = "tenant_paused"
	ReasonCapExceeded   = "cap_exceeded"
	ReasonRateLimited   = "rate_limited"
	ReasonProviderError = "provider_error"
	ReasonTimeout       = "timeout"
	ReasonDisabled      = "provider_disabled"
	ReasonGuardFailure  = "guard_unavailable"
)

// checked in order; first match wins
var keywords = []struct {
	category Category
	words    []string
}{
	{CategoryScoring, []string{"score", "scoring", "qualify", "qualification", "rank", "priority", "lead quality"}},
	{CategoryMarketing, []string{"marketing", "campaign", "email", "newsletter", "promotion", "ad copy", "headline", "social post"}},
	{CategoryChat, []string{"chat", "reply", "respond", "message", "conversation", "question", "customer"}},
}

var templates = map[Category]string{
	CategoryScoring:   "Lead scoring is temporarily unavailable. The lead has been saved and will be scored automatically once the service recovers.",
	CategoryChat:      "Thanks for your message! Our team has received it and will get back to you shortly.",
	CategoryMarketing: "We're preparing something great for you. Stay tuned for updates from our team.",
	CategoryDefault:   "This feature is temporarily unavailable. Please try again later.",
}

// Detect picks a category by keyword match on the prompt.
func Detect(prompt string) Category {
	text := strings.ToLower(prompt)
	for _, group := range keywords {
		for _, word := range group.words {
			if strings.Contains(text, word) {
				return group.category
			}
		}
	}
	return CategoryDefault
}

// Text returns the canned response for a category.
func Text(category Category) string {
	if text, ok := templates[category]; ok {
		return text
	}
	return templates[CategoryDefault]
}

// For resolves the category from hint, or from the prompt when hint is
// empty or unknown, and returns its canned response.
func For(hint Category, prompt string) (Category, string) {
	category := hint
	if _, ok := templates[category]; !ok || category == "" {
		category = Detect(prompt)
	}
	return category, Text(category)
}
