package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind tags an Item as a task or an event. Both share the same shape.
type Kind string

const (
	KindTask  Kind = "task"
	KindEvent Kind = "event"
)

// Kinds lists every supported kind in display order.
var Kinds = []Kind{KindTask, KindEvent}

// ParseKind accepts the singular or plural form ("task", "tasks").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "task", "tasks":
		return KindTask, nil
	case "event", "events":
		return KindEvent, nil
	default:
		return "", fmt.Errorf("invalid kind %q (want task or event)", s)
	}
}

// Plural returns the collection name used in API paths.
func (k Kind) Plural() string {
	return string(k) + "s"
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority never fails: absent or unknown values fall back to low.
func ParsePriority(s string) Priority {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case PriorityMedium:
		return PriorityMedium
	case PriorityHigh:
		return PriorityHigh
	default:
		return PriorityLow
	}
}

// Rank orders priorities for display, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// ParseStatus defaults to TODO. Values outside the known set are kept
// upper-cased so that a newer backend does not lose data on a round trip.
func ParseStatus(s string) Status {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, " ", "_")
	if s == "" {
		return StatusTodo
	}
	return Status(s)
}

func (s Status) Done() bool {
	return s == StatusDone
}

// Item is a task or event placed on the calendar.
type Item struct {
	ID        string
	Kind      Kind
	Title     string
	Date      time.Time
	Priority  Priority
	Status    Status
	Reminder  Reminder
	Notes     string
	Tags      Tags
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Normalize applies field defaults in place.
func (it *Item) Normalize() {
	it.Title = strings.TrimSpace(it.Title)
	it.Priority = ParsePriority(string(it.Priority))
	it.Status = ParseStatus(string(it.Status))
	if it.Kind == "" {
		it.Kind = KindTask
	}
}

// Validate reports the first data-quality problem as a *DataError.
func (it Item) Validate() error {
	if strings.TrimSpace(it.Title) == "" {
		return &DataError{ItemID: it.ID, Field: "title", Reason: "title is required"}
	}
	if it.Date.IsZero() {
		return &DataError{ItemID: it.ID, Field: "date", Reason: "date is missing or invalid"}
	}
	switch it.Kind {
	case KindTask, KindEvent, "":
	default:
		return &DataError{ItemID: it.ID, Field: "kind", Reason: fmt.Sprintf("unknown kind %q", it.Kind)}
	}
	return nil
}

// Clone returns a copy that shares no mutable state with it.
func (it Item) Clone() Item {
	it.Tags = it.Tags.Clone()
	return it
}

// CloneItems deep-copies a slice of items.
func CloneItems(items []Item) []Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return out
}

// Timing classifies an item relative to now for previews.
type Timing string

const (
	TimingPast    Timing = "past"
	TimingCurrent Timing = "current"
	TimingFuture  Timing = "future"
)

// currentWindow is how far ahead an item still counts as current.
const currentWindow = 3 * time.Hour

func (it Item) Timing(now time.Time) Timing {
	switch {
	case it.Date.Before(now):
		return TimingPast
	case !it.Date.After(now.Add(currentWindow)):
		return TimingCurrent
	default:
		return TimingFuture
	}
}

// RemindAt returns when a reminder should fire, or false when none is set.
func (it Item) RemindAt() (time.Time, bool) {
	if !it.Reminder.Set() {
		return time.Time{}, false
	}
	return it.Date.Add(-it.Reminder.Lead()), true
}
