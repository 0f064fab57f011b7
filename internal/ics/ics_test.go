package ics

import (
	"strings"
	"testing"
	"time"

	"weekplan/internal/domain"
)

func TestExportShapes(t *testing.T) {
	now := time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)
	items := []domain.Item{
		{
			ID: "e1", Kind: domain.KindEvent, Title: "Dentist, downtown", Date: time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC),
			Priority: domain.PriorityHigh, Status: domain.StatusTodo, Reminder: domain.ReminderMinutes(60), Tags: domain.NewTags("health"),
		},
		{
			ID: "t1", Kind: domain.KindTask, Title: "Report", Date: time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC),
			Priority: domain.PriorityMedium, Status: domain.StatusDone, Notes: "send to Ana",
		},
	}
	out := Export(items, ExportOptions{Name: "weekplan", Now: now})
	for _, want := range []string{
		"BEGIN:VEVENT", "UID:e1", "DTSTART:20240308T140000Z", "PRIORITY:1", "SUMMARY:Dentist\\, downtown",
		"CATEGORIES:health", "BEGIN:VALARM", "TRIGGER:-PT1H", "ACTION:DISPLAY",
		"BEGIN:VTODO", "UID:t1", "PRIORITY:5", "STATUS:COMPLETED", "DESCRIPTION:send to Ana",
		"X-WR-CALNAME:weekplan",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	date := time.Date(2024, 3, 8, 14, 0, 0, 0, time.UTC)
	in := domain.Item{
		ID: "e1", Kind: domain.KindEvent, Title: "Dentist, downtown", Date: date, Priority: domain.PriorityLow,
		Status: domain.StatusInProgress, Reminder: domain.ReminderMinutes(15), Tags: domain.NewTags("health", "a,b"),
	}
	task := domain.Item{ID: "t1", Kind: domain.KindTask, Title: "Report", Date: date, Priority: domain.PriorityHigh, Status: domain.StatusDone}
	doc := Export([]domain.Item{in, task}, ExportOptions{})

	res, err := Parse(strings.NewReader(doc), ParseOptions{Location: time.UTC})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Items) != 2 || len(res.Skipped) != 0 {
		t.Fatalf("items %d skipped %v", len(res.Items), res.Skipped)
	}
	got := res.Items[0]
	if got.ID != "e1" || got.Kind != domain.KindEvent || got.Title != in.Title || !got.Date.Equal(date) {
		t.Fatalf("event: %+v", got)
	}
	if got.Reminder.Minutes() != 15 || !got.Reminder.Set() || got.Status != domain.StatusInProgress {
		t.Fatalf("reminder/status: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "a,b" {
		t.Fatalf("tags %v", got.Tags)
	}
	if tk := res.Items[1]; tk.Kind != domain.KindTask || tk.Priority != domain.PriorityHigh || !tk.Status.Done() {
		t.Fatalf("task: %+v", tk)
	}
}

const recurring = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:standup
DTSTAMP:20240301T000000Z
DTSTART:20240304T090000Z
RRULE:FREQ=DAILY;COUNT=5
EXDATE:20240306T090000Z
SUMMARY:Standup
END:VEVENT
BEGIN:VEVENT
UID:standup
DTSTAMP:20240301T000000Z
RECURRENCE-ID:20240307T090000Z
DTSTART:20240307T110000Z
SUMMARY:Standup (late)
END:VEVENT
BEGIN:VEVENT
UID:broken
DTSTAMP:20240301T000000Z
SUMMARY:No start
END:VEVENT
BEGIN:VTODO
UID:floating
DTSTAMP:20240301T000000Z
DUE:20240305T170000
SUMMARY:Floating todo
STATUS:NEEDS-ACTION
BEGIN:VALARM
ACTION:DISPLAY
TRIGGER:-P1D
END:VALARM
END:VTODO
END:VCALENDAR
`

func TestParseExpandsRecurrence(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata not available")
	}
	res, err := Parse(strings.NewReader(recurring), ParseOptions{
		Location: berlin,
		From:     time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:       time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].ItemID != "broken" {
		t.Fatalf("skipped %+v", res.Skipped)
	}
	var standups []domain.Item
	var todo domain.Item
	for _, it := range res.Items {
		if strings.HasPrefix(it.ID, "standup@") {
			standups = append(standups, it)
		}
		if it.ID == "floating" {
			todo = it
		}
	}
	// five occurrences minus the excluded one
	if len(standups) != 4 {
		t.Fatalf("occurrences %d: %+v", len(standups), standups)
	}
	if standups[0].ID != "standup@20240304T090000Z" {
		t.Fatalf("occurrence id %s", standups[0].ID)
	}
	for _, s := range standups {
		if s.ID == "standup@20240307T090000Z" {
			if s.Title != "Standup (late)" || s.Date.UTC().Hour() != 11 {
				t.Fatalf("override not applied: %+v", s)
			}
		}
	}
	if todo.Kind != domain.KindTask || todo.Date.Location() != berlin || todo.Date.Hour() != 17 {
		t.Fatalf("floating todo: %+v", todo)
	}
	if todo.Reminder.Minutes() != 24*60 {
		t.Fatalf("reminder %d", todo.Reminder.Minutes())
	}
}

func TestTriggerMinutes(t *testing.T) {
	cases := map[string]int{"-PT15M": 15, "-PT1H": 60, "-P1D": 1440, "PT0S": 0, "-P1W": 10080, "-PT1H30M": 90}
	for in, want := range cases {
		got, ok := triggerMinutes(in)
		if !ok || got != want {
			t.Fatalf("%s: got %d %v want %d", in, got, ok, want)
		}
	}
	if _, ok := triggerMinutes("PT15M"); ok {
		t.Fatalf("trigger after start should be ignored")
	}
	if _, ok := triggerMinutes("20240101T000000Z"); ok {
		t.Fatalf("absolute trigger should be ignored")
	}
}

const dense = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:flood
DTSTAMP:20240301T000000Z
DTSTART:20240301T000000Z
RRULE:FREQ=SECONDLY
SUMMARY:Flood
END:VEVENT
BEGIN:VEVENT
UID:daily
DTSTAMP:20240301T000000Z
DTSTART:20240301T090000Z
RRULE:FREQ=DAILY
SUMMARY:Daily
END:VEVENT
END:VCALENDAR
`

func TestParseCapsDenseRecurrence(t *testing.T) {
	res, err := Parse(strings.NewReader(dense), ParseOptions{
		Location:       time.UTC,
		From:           time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:             time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC),
		MaxOccurrences: 10,
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var flood, daily int
	for _, it := range res.Items {
		switch {
		case strings.HasPrefix(it.ID, "flood@"):
			flood++
		case strings.HasPrefix(it.ID, "daily@"):
			daily++
			if !it.Date.Before(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)) {
				t.Fatalf("occurrence at the window end kept: %v", it.Date)
			}
		}
	}
	if flood != 10 || len(res.Truncated) != 1 || res.Truncated[0] != "flood" {
		t.Fatalf("flood %d truncated %v", flood, res.Truncated)
	}
	// Mar 1, 2 and 3; Mar 4 09:00 is the exclusive end.
	if daily != 3 {
		t.Fatalf("daily %d", daily)
	}
}
