// Package ics converts items to and from iCalendar.
package ics

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"weekplan/internal/domain"
)

const productID = "-//weekplan//weekplan//EN"

// statusProperty keeps the exact item status, which STATUS cannot express
// for events.
var statusProperty = ical.ComponentProperty("X-WEEKPLAN-STATUS")

type ExportOptions struct {
	// Name is written as X-WR-CALNAME when set.
	Name string
	// Timezone is written as X-WR-TIMEZONE when set.
	Timezone string
	// Now stamps DTSTAMP; zero means time.Now.
	Now time.Time
}

// Priority values follow RFC 5545: 1 is highest, 9 lowest.
func priorityValue(p domain.Priority) int {
	switch p {
	case domain.PriorityHigh:
		return 1
	case domain.PriorityMedium:
		return 5
	default:
		return 9
	}
}

func priorityFromValue(v string) domain.Priority {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	switch {
	case err != nil || n == 0:
		return domain.PriorityLow
	case n <= 4:
		return domain.PriorityHigh
	case n == 5:
		return domain.PriorityMedium
	default:
		return domain.PriorityLow
	}
}

// Build returns a calendar with one VEVENT per event and one VTODO per task.
func Build(items []domain.Item, opts ExportOptions) *ical.Calendar {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}
	if opts.Timezone != "" {
		cal.SetXWRTimezone(opts.Timezone)
	}
	for _, it := range items {
		if it.Kind == domain.KindEvent {
			ev := cal.AddEvent(it.ID)
			fill(&ev.ComponentBase, it, now)
			ev.SetPriority(priorityValue(it.Priority))
			if it.Reminder.Set() {
				alarm(ev.AddAlarm(), it)
			}
			continue
		}
		todo := cal.AddTodo(it.ID)
		fill(&todo.ComponentBase, it, now)
		todo.SetDueAt(it.Date)
		todo.SetPriority(priorityValue(it.Priority))
		switch it.Status {
		case domain.StatusDone:
			todo.SetStatus(ical.ObjectStatusCompleted)
			done := it.UpdatedAt
			if done.IsZero() {
				done = now
			}
			todo.SetCompletedAt(done)
		case domain.StatusInProgress:
			todo.SetStatus(ical.ObjectStatusInProcess)
		default:
			todo.SetStatus(ical.ObjectStatusNeedsAction)
		}
		if it.Reminder.Set() {
			alarm(todo.AddAlarm(), it)
		}
	}
	return cal
}

func fill(c *ical.ComponentBase, it domain.Item, now time.Time) {
	c.SetDtStampTime(now)
	c.SetStartAt(it.Date)
	c.SetSummary(it.Title)
	if it.Notes != "" {
		c.SetDescription(it.Notes)
	}
	if !it.CreatedAt.IsZero() {
		c.SetCreatedTime(it.CreatedAt)
	}
	if !it.UpdatedAt.IsZero() {
		c.SetModifiedAt(it.UpdatedAt)
	}
	for _, tag := range it.Tags {
		c.AddCategory(tag)
	}
	c.SetProperty(statusProperty, string(it.Status))
}

func alarm(a *ical.VAlarm, it domain.Item) {
	a.SetAction(ical.ActionDisplay)
	a.SetTrigger(trigger(it.Reminder.Minutes()))
	a.SetProperty(ical.ComponentPropertyDescription, it.Title)
}

func trigger(minutes int) string {
	switch {
	case minutes == 0:
		return "PT0S"
	case minutes%(24*60) == 0:
		return fmt.Sprintf("-P%dD", minutes/(24*60))
	case minutes%60 == 0:
		return fmt.Sprintf("-PT%dH", minutes/60)
	default:
		return fmt.Sprintf("-PT%dM", minutes)
	}
}

// Export serializes items as an iCalendar document.
func Export(items []domain.Item, opts ExportOptions) string {
	return Build(items, opts).Serialize()
}

// Write streams the export to w.
func Write(w io.Writer, items []domain.Item, opts ExportOptions) error {
	return Build(items, opts).SerializeTo(w)
}
