// Package domain defines the invoicing frequency buckets activities are assigned to.
package domain

import (
	"errors"
	"strings"
	"time"
)

// BillingCycle is the invoicing frequency an activity belongs to.
type BillingCycle string

const (
	BillingCycleImmediate BillingCycle = "immediate"
	BillingCycleWeekly    BillingCycle = "weekly"
	BillingCycleMonthly   BillingCycle = "monthly"
)

var ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")

// Parse normalizes a cycle name. An empty value is rejected.
func Parse(value string) (BillingCycle, error) {
	cycle := BillingCycle(strings.ToLower(strings.TrimSpace(value)))
	if !cycle.Valid() {
		return "", ErrInvalidBillingCycle
	}
	return cycle, nil
}

func (c BillingCycle) Valid() bool {
	switch c {
	case BillingCycleImmediate, BillingCycleWeekly, BillingCycleMonthly:
		return true
	default:
		return false
	}
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// PeriodStart returns the bucket key for a date: the day itself for immediate,
// the Monday of its ISO week for weekly and the first of the month for monthly.
func (c BillingCycle) PeriodStart(date time.Time) time.Time {
	day := Day(date)
	switch c {
	case BillingCycleWeekly:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case BillingCycleMonthly:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return day
	}
}

// PeriodEnd returns the exclusive end of the bucket that starts at start.
func (c BillingCycle) PeriodEnd(start time.Time) time.Time {
	start = c.PeriodStart(start)
	switch c {
	case BillingCycleWeekly:
		return start.AddDate(0, 0, 7)
	case BillingCycleMonthly:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}
