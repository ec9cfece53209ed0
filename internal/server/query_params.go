package server

import (
	"strings"
	"time"
)

// dayBound picks which instant a plain calendar date stands for.
type dayBound int

const (
	startOfDay dayBound = iota
	endOfDay
)

var timeParamLayouts = []string{time.RFC3339Nano, time.DateOnly}

// parseTimeParam reads an optional RFC3339 timestamp or YYYY-MM-DD date.
// A date maps to UTC midnight, or to its last nanosecond for endOfDay so
// inclusive "to" filters cover the whole day. Failures are reported as a
// validation error on field.
func parseTimeParam(field, value string, bound dayBound) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range timeParamLayouts {
		parsed, err := time.Parse(layout, value)
		if err != nil {
			continue
		}
		parsed = parsed.UTC()
		if layout == time.DateOnly && bound == endOfDay {
			parsed = parsed.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		return &parsed, nil
	}
	return nil, newValidationError(field, "invalid_"+field, "invalid "+field)
}
