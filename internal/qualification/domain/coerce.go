package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Canonical enum values.
const (
	BudgetUnder5K  = "<$5K"
	Budget5KTo10K  = "$5K-$10K"
	Budget10KTo50K = "$10K-$50K"
	Budget50KPlus  = "$50K+"

	TimelineImmediate   = "immediate"
	Timeline1To3Months  = "1-3 months"
	Timeline3To6Months  = "3-6 months"
	Timeline6PlusMonths = "6+ months"
)

const maxTextLen = 500

var (
	budgetAliases = map[string]string{
		"<$5k": BudgetUnder5K, "<5k": BudgetUnder5K, "under$5k": BudgetUnder5K, "under5k": BudgetUnder5K,
		"$5k-$10k": Budget5KTo10K, "5k-10k": Budget5KTo10K,
		"$10k-$50k": Budget10KTo50K, "10k-50k": Budget10KTo50K,
		"$50k+": Budget50KPlus, "50k+": Budget50KPlus, "over$50k": Budget50KPlus, "over50k": Budget50KPlus,
	}
	timelineAliases = map[string]string{
		"immediate": TimelineImmediate, "immediately": TimelineImmediate, "asap": TimelineImmediate,
		"now": TimelineImmediate, "urgent": TimelineImmediate, "this week": TimelineImmediate,
		"this month": TimelineImmediate,
		"1-3 months": Timeline1To3Months, "1-3 month": Timeline1To3Months, "next quarter": Timeline1To3Months,
		"3-6 months": Timeline3To6Months, "3-6 month": Timeline3To6Months,
		"6+ months": Timeline6PlusMonths, "6 months+": Timeline6PlusMonths, "later": Timeline6PlusMonths,
		"next year": Timeline6PlusMonths,
	}
	levelAliases = map[string]string{
		"high": "high", "hot": "high", "strong": "high",
		"medium": "medium", "warm": "medium", "moderate": "medium",
		"low": "low", "cold": "low", "weak": "low",
	}
	authorityAliases = map[string]string{
		"yes": "yes", "true": "yes", "decision maker": "yes",
		"sole": "sole", "sole decision maker": "sole",
		"shared": "shared", "committee": "shared", "partial": "shared",
		"no": "no", "false": "no", "none": "no",
	}

	textFields = map[string]struct{}{
		FieldPainPoint:        {},
		FieldObjections:       {},
		FieldConcerns:         {},
		FieldPreferredContact: {},
		FieldAvailability:     {},
	}

	amountPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([km]?)`)
)

// Coerce validates an untyped extraction result against the known field
// schema. Unknown keys and values that cannot be mapped onto a field's
// vocabulary are dropped and returned, sorted, in rejected.
func Coerce(raw map[string]any) (fields map[string]any, rejected []string) {
	fields = make(map[string]any, len(raw))
	for key, value := range raw {
		name := strings.ToLower(strings.TrimSpace(key))
		if value == nil {
			continue
		}
		coerced, ok := coerceField(name, value)
		if !ok {
			rejected = append(rejected, key)
			continue
		}
		if coerced == "" {
			continue
		}
		fields[name] = coerced
	}
	sort.Strings(rejected)
	return fields, rejected
}

func coerceField(name string, value any) (string, bool) {
	switch name {
	case FieldBudgetRange:
		return coerceBudget(value)
	case FieldTimeline:
		return lookup(timelineAliases, value)
	case FieldIntent, FieldUrgency:
		return lookup(levelAliases, value)
	case FieldDecisionAuthority:
		return lookup(authorityAliases, value)
	case FieldStakeholders:
		return coerceList(value)
	}
	if _, ok := textFields[name]; ok {
		return coerceText(value)
	}
	return "", false
}

func lookup(aliases map[string]string, value any) (string, bool) {
	text, ok := scalarText(value)
	if !ok {
		return "", false
	}
	text = strings.ToLower(strings.Join(strings.Fields(text), " "))
	if text == "" {
		return "", true
	}
	canonical, ok := aliases[text]
	return canonical, ok
}

func coerceBudget(value any) (string, bool) {
	if n, ok := value.(float64); ok {
		return budgetBucket(n), true
	}
	text, ok := scalarText(value)
	if !ok {
		return "", false
	}
	compact := strings.ToLower(strings.NewReplacer(" ", "", ",", "").Replace(text))
	if compact == "" {
		return "", true
	}
	if canonical, ok := budgetAliases[compact]; ok {
		return canonical, true
	}

	// a single amount such as "$75k" or "20000"; ranges take the upper bound
	matches := amountPattern.FindAllStringSubmatch(compact, -1)
	if len(matches) == 0 {
		return "", false
	}
	last := matches[len(matches)-1]
	amount, err := strconv.ParseFloat(last[1], 64)
	if err != nil {
		return "", false
	}
	switch last[2] {
	case "k":
		amount *= 1_000
	case "m":
		amount *= 1_000_000
	}
	return budgetBucket(amount), true
}

func budgetBucket(amount float64) string {
	switch {
	case amount >= 50_000:
		return Budget50KPlus
	case amount >= 10_000:
		return Budget10KTo50K
	case amount >= 5_000:
		return Budget5KTo10K
	default:
		return BudgetUnder5K
	}
}

func coerceList(value any) (string, bool) {
	if items, ok := value.([]any); ok {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			text, ok := scalarText(item)
			if !ok {
				return "", false
			}
			if text = strings.TrimSpace(text); text != "" {
				parts = append(parts, text)
			}
		}
		return truncate(strings.Join(parts, ", ")), true
	}
	return coerceText(value)
}

func coerceText(value any) (string, bool) {
	text, ok := scalarText(value)
	if !ok {
		return "", false
	}
	return truncate(strings.TrimSpace(text)), true
}

func scalarText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int, int64:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= maxTextLen {
		return text
	}
	return string(runes[:maxTextLen])
}

// Merge overlays fields onto current. Existing keys are overwritten and
// never removed.
func Merge(current, fields map[string]any) map[string]any {
	merged := make(map[string]any, len(current)+len(fields))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return merged
}
