package market

import (
	"fmt"
	"time"
)

// DateLayout is the calendar date format used in configs and CSV feeds.
const DateLayout = "2006-01-02"

// Blackout window around an earnings date, in calendar days.
const (
	BlackoutDaysBefore = 2
	BlackoutDaysAfter  = 1
)

// EarningsCalendar maps an instrument to its next earnings date.
type EarningsCalendar map[string]time.Time

// ParseEarnings converts instrument -> "YYYY-MM-DD" pairs into a calendar.
func ParseEarnings(in map[string]string) (EarningsCalendar, error) {
	cal := make(EarningsCalendar, len(in))
	for inst, s := range in {
		d, err := time.Parse(DateLayout, s)
		if err != nil {
			return nil, fmt.Errorf("earnings date for %s: %w", inst, err)
		}
		cal[inst] = d
	}
	return cal, nil
}

// InBlackout reports whether day falls inside
// [earnings-2, earnings+1] for the instrument, inclusive.
func (c EarningsCalendar) InBlackout(instrument string, day time.Time) bool {
	e, ok := c[instrument]
	if !ok {
		return false
	}
	d := DateOf(day)
	start := DateOf(e).AddDate(0, 0, -BlackoutDaysBefore)
	end := DateOf(e).AddDate(0, 0, BlackoutDaysAfter)
	return !d.Before(start) && !d.After(end)
}

// DateOf truncates t to its calendar date in UTC, keeping the wall date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
