package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Reminder is a lead time before an item's date. The zero value means no
// reminder; the "at_time" bucket fires exactly at the item's date.
type Reminder struct {
	set     bool
	minutes int
}

// Named buckets offered by the item form.
var reminderBuckets = map[string]int{
	"at_time": 0,
	"5m":      5,
	"15m":     15,
	"30m":     30,
	"1h":      60,
	"1d":      24 * 60,
}

// ReminderMinutes builds a reminder firing m minutes before the item.
func ReminderMinutes(m int) Reminder {
	if m < 0 {
		m = 0
	}
	return Reminder{set: true, minutes: m}
}

// ParseReminder accepts "", a bucket name, a bare minute count, or a Go
// duration ("90m", "2h").
func ParseReminder(s string) (Reminder, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == "none" {
		return Reminder{}, nil
	}
	if m, ok := reminderBuckets[s]; ok {
		return ReminderMinutes(m), nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return Reminder{}, fmt.Errorf("invalid reminder %q: negative lead time", s)
		}
		return ReminderMinutes(n), nil
	}
	if d, err := time.ParseDuration(s); err == nil && d >= 0 {
		if d%time.Minute != 0 {
			return Reminder{}, fmt.Errorf("invalid reminder %q: lead time must be whole minutes", s)
		}
		return ReminderMinutes(int(d / time.Minute)), nil
	}
	return Reminder{}, fmt.Errorf("invalid reminder %q", s)
}

func (r Reminder) Set() bool { return r.set }

func (r Reminder) Minutes() int { return r.minutes }

func (r Reminder) Lead() time.Duration {
	return time.Duration(r.minutes) * time.Minute
}

// String renders the bucket name when one matches, else the minute count.
func (r Reminder) String() string {
	if !r.set {
		return ""
	}
	for name, m := range reminderBuckets {
		if m == r.minutes {
			return name
		}
	}
	return strconv.Itoa(r.minutes)
}
