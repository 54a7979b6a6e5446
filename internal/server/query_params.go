package server

import (
	"errors"
	"strings"
	"time"
)

const dateOnlyLayout = "2006-01-02"

// parseOptionalDate accepts RFC3339 or YYYY-MM-DD and returns the UTC day.
func parseOptionalDate(value string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		parsed, err = time.Parse(dateOnlyLayout, trimmed)
		if err != nil {
			return nil, errors.New("invalid_time")
		}
	}
	parsed = parsed.UTC()
	day := time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
	return &day, nil
}
