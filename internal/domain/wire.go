package domain

import (
	"strings"
	"time"
)

// ItemJSON is the wire shape shared by the HTTP API and its clients. Dates
// travel as RFC 3339 strings and are parsed only at this boundary.
type ItemJSON struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind,omitempty" enum:"task,event"`
	Title     string   `json:"title"`
	Date      string   `json:"date" format:"date-time"`
	Priority  string   `json:"priority,omitempty" enum:"low,medium,high"`
	Status    string   `json:"status,omitempty"`
	Reminder  *string  `json:"reminder,omitempty"`
	Notes     string   `json:"notes,omitempty"`
	Tags      []string `json:"tags"`
	CreatedAt string   `json:"created_at,omitempty" format:"date-time"`
	UpdatedAt string   `json:"updated_at,omitempty" format:"date-time"`
}

// Layouts accepted for incoming dates, most specific first. Layouts without
// an offset are read in the caller's location.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDate parses an incoming date string; loc applies to layouts without
// an explicit offset and defaults to time.Local.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.ParseInLocation(layout, s, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// FormatDate renders a date for the wire.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ToJSON converts an item to its wire form.
func ToJSON(it Item) ItemJSON {
	out := ItemJSON{
		ID:        it.ID,
		Kind:      string(it.Kind),
		Title:     it.Title,
		Date:      FormatDate(it.Date),
		Priority:  string(it.Priority),
		Status:    string(it.Status),
		Notes:     it.Notes,
		Tags:      []string(it.Tags.Clone()),
		CreatedAt: FormatDate(it.CreatedAt),
		UpdatedAt: FormatDate(it.UpdatedAt),
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	if it.Reminder.Set() {
		r := it.Reminder.String()
		out.Reminder = &r
	}
	return out
}

// Decode converts the wire form into a normalized Item. A bad date or
// reminder yields a *DataError together with the partially decoded item, so
// callers can report it and keep going.
func (j ItemJSON) Decode(loc *time.Location) (Item, error) {
	it := Item{
		ID:       j.ID,
		Kind:     Kind(strings.ToLower(strings.TrimSpace(j.Kind))),
		Title:    j.Title,
		Priority: Priority(j.Priority),
		Status:   Status(j.Status),
		Notes:    j.Notes,
		Tags:     NewTags(j.Tags...),
	}
	it.Normalize()
	if j.CreatedAt != "" {
		it.CreatedAt, _ = time.Parse(time.RFC3339Nano, j.CreatedAt)
	}
	if j.UpdatedAt != "" {
		it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, j.UpdatedAt)
	}
	if j.Reminder != nil {
		r, err := ParseReminder(*j.Reminder)
		if err != nil {
			return it, &DataError{ItemID: j.ID, Field: "reminder", Reason: err.Error()}
		}
		it.Reminder = r
	}
	if strings.TrimSpace(j.Date) == "" {
		return it, &DataError{ItemID: j.ID, Field: "date", Reason: "date is required"}
	}
	d, err := ParseDate(j.Date, loc)
	if err != nil {
		return it, &DataError{ItemID: j.ID, Field: "date", Reason: "unparseable date " + quote(j.Date)}
	}
	it.Date = d
	return it, it.Validate()
}

func quote(s string) string {
	return `"` + s + `"`
}
