// Package dates holds the calendar arithmetic shared by the schedule store
// and the week grid. Every function works in the location of its argument;
// callers convert to the display location first.
package dates

import (
	"fmt"
	"strings"
	"time"
)

// Week is the length of one navigation step.
const Week = 7

// StartOfDay returns 00:00 of t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// AddDays moves by calendar days, keeping the wall clock across DST changes.
func AddDays(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// WeekStart returns 00:00 on the first day of the week containing t.
func WeekStart(t time.Time, first time.Weekday) time.Time {
	offset := (int(t.Weekday()) - int(first) + 7) % 7
	return StartOfDay(AddDays(t, -offset))
}

// MonthStart returns 00:00 on the first of t's month.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// AddMonths moves the first of t's month by n months. Working from the first
// keeps January 31 plus one month in February.
func AddMonths(t time.Time, n int) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
}

// MondayStart is WeekStart with Monday as the first day.
func MondayStart(t time.Time) time.Time {
	return WeekStart(t, time.Monday)
}

// IsSameCalendarDay compares local year, month and day; b is viewed in a's
// location.
func IsSameCalendarDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// HourOfDay returns the local hour, 0-23.
func HourOfDay(t time.Time) int {
	return t.Hour()
}

// Clock selects the time-of-day display format.
type Clock string

const (
	Clock12 Clock = "12h"
	Clock24 Clock = "24h"
)

// ParseClock defaults to the 24 hour clock.
func ParseClock(s string) Clock {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "12h", "12":
		return Clock12
	default:
		return Clock24
	}
}

// FormatTimeOfDay renders t for display only; never compare its output.
func FormatTimeOfDay(t time.Time, c Clock) string {
	if c == Clock12 {
		return t.Format("3:04 PM")
	}
	return t.Format("15:04")
}

// ParseWeekday reads the week_start config values.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "monday", "mon":
		return time.Monday, nil
	case "sunday", "sun":
		return time.Sunday, nil
	case "saturday", "sat":
		return time.Saturday, nil
	default:
		return time.Monday, fmt.Errorf("unsupported week start %q", s)
	}
}

// RangeTitle renders a week range the way the calendar header shows it,
// e.g. "March 4 - March 10, 2024".
func RangeTitle(start time.Time, days int) string {
	end := AddDays(start, days-1)
	return fmt.Sprintf("%s - %s", start.Format("January 2"), end.Format("January 2, 2006"))
}
