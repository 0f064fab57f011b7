package ics

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"

	"weekplan/internal/domain"
	"weekplan/internal/log"
)

const defaultMaxOccurrences = 500

type ParseOptions struct {
	// Location applies to floating times and all-day dates; nil means Local.
	Location *time.Location
	// From and To bound recurrence expansion. A zero To means one year after
	// From, a zero From means now.
	From, To time.Time
	// MaxOccurrences caps each recurring component.
	MaxOccurrences int
}

func (o ParseOptions) withDefaults() ParseOptions {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.From.IsZero() {
		o.From = time.Now()
	}
	if o.To.IsZero() {
		o.To = o.From.AddDate(1, 0, 0)
	}
	if o.MaxOccurrences <= 0 {
		o.MaxOccurrences = defaultMaxOccurrences
	}
	return o
}

// Result is the outcome of Parse. Components that cannot become items are
// reported in Skipped and do not fail the parse.
type Result struct {
	Items   []domain.Item
	Skipped []*domain.DataError
	// Truncated lists UIDs whose recurrence hit MaxOccurrences.
	Truncated []string
}

// component is what VEVENT and VTODO share.
type component struct {
	base *ical.ComponentBase
	kind domain.Kind
}

// Parse reads VEVENT and VTODO components. Events become event items and
// todos become task items; recurring components are expanded into one item
// per occurrence inside [From, To).
func Parse(r io.Reader, opts ParseOptions) (Result, error) {
	opts = opts.withDefaults()
	var res Result
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return res, fmt.Errorf("parse ics: %w", err)
	}
	var comps []component
	for _, ev := range cal.Events() {
		comps = append(comps, component{base: &ev.ComponentBase, kind: domain.KindEvent})
	}
	for _, todo := range cal.Todos() {
		comps = append(comps, component{base: &todo.ComponentBase, kind: domain.KindTask})
	}

	// overrides replace single occurrences of a recurring component
	overrides := map[string]map[int64]component{}
	var bases []component
	for _, c := range comps {
		rid := c.base.GetProperty(ical.ComponentPropertyRecurrenceId)
		if rid == nil {
			bases = append(bases, c)
			continue
		}
		t, err := propTime(rid, opts.Location)
		if err != nil {
			res.skip(c.base.Id(), "recurrence-id", err.Error())
			continue
		}
		uid := c.base.Id()
		if overrides[uid] == nil {
			overrides[uid] = map[int64]component{}
		}
		overrides[uid][t.Unix()] = c
	}

	for _, c := range bases {
		it, err := toItem(c, opts.Location)
		if err != nil {
			var de *domain.DataError
			if errors.As(err, &de) {
				res.Skipped = append(res.Skipped, de)
				continue
			}
			return res, err
		}
		rule := c.base.GetProperty(ical.ComponentPropertyRrule)
		if rule == nil {
			res.Items = append(res.Items, it)
			continue
		}
		items, truncated, err := expand(c, it, rule.Value, overrides[it.ID], opts)
		if err != nil {
			res.skip(it.ID, "rrule", err.Error())
			continue
		}
		if truncated {
			res.Truncated = append(res.Truncated, it.ID)
			log.Warn("ics recurrence truncated", "uid", it.ID, "cap", opts.MaxOccurrences)
		}
		res.Items = append(res.Items, items...)
	}
	log.Debug("ics parse completed", "items", len(res.Items), "skipped", len(res.Skipped))
	return res, nil
}

func (r *Result) skip(id, field, reason string) {
	r.Skipped = append(r.Skipped, &domain.DataError{ItemID: id, Field: field, Reason: reason})
}

func toItem(c component, loc *time.Location) (domain.Item, error) {
	b := c.base
	it := domain.Item{ID: b.Id(), Kind: c.kind}
	if it.ID == "" {
		return it, &domain.DataError{Field: "uid", Reason: "component has no UID"}
	}
	if p := b.GetProperty(ical.ComponentPropertySummary); p != nil {
		it.Title = ical.FromText(p.Value)
	}
	if p := b.GetProperty(ical.ComponentPropertyDescription); p != nil {
		it.Notes = ical.FromText(p.Value)
	}
	if p := b.GetProperty(ical.ComponentPropertyPriority); p != nil {
		it.Priority = priorityFromValue(p.Value)
	}
	for _, p := range b.GetProperties(ical.ComponentPropertyCategories) {
		for _, label := range splitText(p.Value) {
			it.Tags = it.Tags.Add(label)
		}
	}
	it.Status = statusOf(b)

	start := b.GetProperty(ical.ComponentPropertyDtStart)
	if start == nil && c.kind == domain.KindTask {
		start = b.GetProperty(ical.ComponentPropertyDue)
	}
	if start == nil {
		return it, &domain.DataError{ItemID: it.ID, Field: "date", Reason: "no DTSTART"}
	}
	d, err := propTime(start, loc)
	if err != nil {
		return it, &domain.DataError{ItemID: it.ID, Field: "date", Reason: err.Error()}
	}
	it.Date = d

	for _, sub := range b.SubComponents() {
		a, ok := sub.(*ical.VAlarm)
		if !ok {
			continue
		}
		if p := a.GetProperty(ical.ComponentPropertyTrigger); p != nil {
			if m, ok := triggerMinutes(p.Value); ok {
				it.Reminder = domain.ReminderMinutes(m)
				break
			}
		}
	}
	it.Normalize()
	return it, it.Validate()
}

// splitText splits a CATEGORIES value on unescaped commas. Values that hold a
// single category are returned as is.
func splitText(v string) []string {
	var out []string
	var cur strings.Builder
	escaped := false
	for _, r := range v {
		switch {
		case escaped:
			cur.WriteRune('\\')
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == ',':
			out = append(out, ical.FromText(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(out, ical.FromText(cur.String()))
}

func statusOf(b *ical.ComponentBase) domain.Status {
	if p := b.GetProperty(statusProperty); p != nil {
		return domain.ParseStatus(p.Value)
	}
	p := b.GetProperty(ical.ComponentPropertyStatus)
	if p == nil {
		return domain.StatusTodo
	}
	switch ical.ObjectStatus(strings.ToUpper(p.Value)) {
	case ical.ObjectStatusCompleted:
		return domain.StatusDone
	case ical.ObjectStatusInProcess:
		return domain.StatusInProgress
	default:
		return domain.StatusTodo
	}
}

// propTime reads a DATE or DATE-TIME property. Floating values and dates are
// read in loc; TZID parameters win over loc.
func propTime(p *ical.IANAProperty, loc *time.Location) (time.Time, error) {
	v := strings.TrimSpace(p.Value)
	if tz, ok := p.ICalParameters[string(ical.ParameterTzid)]; ok && len(tz) == 1 {
		l, err := time.LoadLocation(tz[0])
		if err != nil {
			return time.Time{}, fmt.Errorf("unknown TZID %q", tz[0])
		}
		loc = l
	}
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

var durationPattern = regexp.MustCompile(`^([+-])?P(?:(\d+)W)?(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// triggerMinutes converts a relative TRIGGER such as -PT15M into a lead time
// in minutes. Absolute triggers and triggers after the start are ignored.
func triggerMinutes(v string) (int, bool) {
	m := durationPattern.FindStringSubmatch(strings.ToUpper(strings.TrimSpace(v)))
	if m == nil {
		return 0, false
	}
	n := func(s string) int {
		x, _ := strconv.Atoi(s)
		return x
	}
	total := n(m[2])*7*24*60 + n(m[3])*24*60 + n(m[4])*60 + n(m[5]) + n(m[6])/60
	if m[1] != "-" && total != 0 {
		return 0, false
	}
	return total, true
}

// expand turns a recurring component into one item per occurrence. Item ids
// are the UID followed by the occurrence start so that re-imports update the
// same rows.
func expand(c component, base domain.Item, raw string, overrides map[int64]component, opts ParseOptions) ([]domain.Item, bool, error) {
	rule, err := rrule.StrToRRule(raw)
	if err != nil {
		return nil, false, err
	}
	rule.DTStart(base.Date)
	var set rrule.Set
	set.RRule(rule)
	for _, p := range c.base.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			ex := *p
			ex.Value = part
			if t, err := propTime(&ex, base.Date.Location()); err == nil {
				set.ExDate(t)
			}
		}
	}
	// Walk the set instead of materialising the window so the cap bounds
	// memory for dense rules.
	loc := base.Date.Location()
	from, to := opts.From.In(loc), opts.To.In(loc)
	next := set.Iterator()
	var times []time.Time
	truncated := false
	for {
		t, ok := next()
		if !ok || !t.Before(to) {
			break
		}
		if t.Before(from) {
			continue
		}
		if len(times) == opts.MaxOccurrences {
			truncated = true
			break
		}
		times = append(times, t)
	}
	out := make([]domain.Item, 0, len(times))
	for _, t := range times {
		it := base.Clone()
		if ov, ok := overrides[t.Unix()]; ok {
			if o, err := toItem(ov, opts.Location); err == nil {
				it = o
			}
		}
		it.ID = base.ID + "@" + t.UTC().Format("20060102T150405Z")
		if _, ok := overrides[t.Unix()]; !ok {
			it.Date = t
		}
		out = append(out, it)
	}
	return out, truncated, nil
}
