package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"weekplan/internal/calendar"
	"weekplan/internal/config"
	"weekplan/internal/dates"
	"weekplan/internal/domain"
	"weekplan/internal/events"
	"weekplan/internal/repo"
	"weekplan/internal/schedule"
)

// LocalActor runs commands when no identity is supplied.
const LocalActor = "local-user"

type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Changes events.Writer
	Config  *config.Config
	Now     func() time.Time
	// Bus, when set, receives ItemSaved and ItemDeleted after each commit.
	Bus *calendar.Events
	// Warn receives items that could not be placed on a calendar.
	Warn func(*domain.DataError)
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Changes: events.Writer{},
		Config:  cfg,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) location() *time.Location {
	return e.Config.LocationOrLocal()
}

func (e Engine) changes() events.Writer {
	w := e.Changes
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func actorOr(actorID string) string {
	if strings.TrimSpace(actorID) == "" {
		return LocalActor
	}
	return actorID
}

func notFound(kind domain.Kind, id string, err error) error {
	if errors.Is(err, repo.ErrNotFound) {
		return &domain.NotFoundError{Kind: kind, ID: id}
	}
	return err
}

// ItemOptions carries the full content of an item for create and replace.
type ItemOptions struct {
	Kind     domain.Kind
	ID       string
	Title    string
	Date     time.Time
	Priority string
	Status   string
	Reminder domain.Reminder
	Notes    string
	Tags     []string
	ActorID  string
}

func (o ItemOptions) item() domain.Item {
	it := domain.Item{
		ID:       strings.TrimSpace(o.ID),
		Kind:     o.Kind,
		Title:    o.Title,
		Date:     o.Date,
		Priority: domain.Priority(o.Priority),
		Status:   domain.Status(o.Status),
		Reminder: o.Reminder,
		Notes:    o.Notes,
		Tags:     domain.NewTags(o.Tags...),
	}
	it.Normalize()
	return it
}

// OptionsFromItem is the inverse of ItemOptions for callers holding an Item.
func OptionsFromItem(it domain.Item, actorID string) ItemOptions {
	return ItemOptions{
		Kind:     it.Kind,
		ID:       it.ID,
		Title:    it.Title,
		Date:     it.Date,
		Priority: string(it.Priority),
		Status:   string(it.Status),
		Reminder: it.Reminder,
		Notes:    it.Notes,
		Tags:     it.Tags,
		ActorID:  actorID,
	}
}

func (e Engine) CreateItem(ctx context.Context, opts ItemOptions) (domain.Item, error) {
	it := opts.item()
	if it.ID == "" || strings.HasPrefix(it.ID, schedule.TempIDPrefix) {
		it.ID = uuid.NewString()
	}
	if err := it.Validate(); err != nil {
		return domain.Item{}, err
	}
	now := e.now().UTC()
	it.CreatedAt, it.UpdatedAt = now, now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
		return domain.Item{}, fmt.Errorf("insert %s: %w", it.Kind, err)
	}
	if err := e.changes().Append(ctx, tx, domain.ChangeItemCreated, it.Kind, it.ID, actorOr(opts.ActorID), events.ItemPayload(it)); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	e.saved(it, true)
	return e.localize(it), nil
}

// ReplaceItem overwrites every field of an existing item.
func (e Engine) ReplaceItem(ctx context.Context, opts ItemOptions) (domain.Item, error) {
	it := opts.item()
	if it.ID == "" {
		return domain.Item{}, &domain.DataError{Field: "id", Reason: "id is required"}
	}
	if err := it.Validate(); err != nil {
		return domain.Item{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	prev, err := e.Repo.GetItem(ctx, tx, it.Kind, it.ID)
	if err != nil {
		return domain.Item{}, notFound(it.Kind, it.ID, err)
	}
	it.CreatedAt = prev.CreatedAt
	it.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateItem(ctx, tx, it); err != nil {
		return domain.Item{}, notFound(it.Kind, it.ID, err)
	}
	payload := events.ItemPayload(it)
	if !prev.Date.Equal(it.Date) {
		payload["previous_date"] = domain.FormatDate(prev.Date)
	}
	if err := e.changes().Append(ctx, tx, domain.ChangeItemUpdated, it.Kind, it.ID, actorOr(opts.ActorID), payload); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	e.saved(it, false)
	return e.localize(it), nil
}

func (e Engine) SetStatus(ctx context.Context, kind domain.Kind, id, status, actorID string) (domain.Item, error) {
	st := domain.ParseStatus(status)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Item{}, err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, kind, id)
	if err != nil {
		return domain.Item{}, notFound(kind, id, err)
	}
	from := it.Status
	it.Status = st
	it.UpdatedAt = e.now().UTC()
	if err := e.Repo.UpdateStatus(ctx, tx, kind, id, st, it.UpdatedAt); err != nil {
		return domain.Item{}, notFound(kind, id, err)
	}
	if err := e.changes().Append(ctx, tx, domain.ChangeItemStatus, kind, id, actorOr(actorID), events.Payload{"from": string(from), "to": string(st)}); err != nil {
		return domain.Item{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Item{}, err
	}
	e.saved(it, false)
	return e.localize(it), nil
}

func (e Engine) DeleteItem(ctx context.Context, kind domain.Kind, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	it, err := e.Repo.GetItem(ctx, tx, kind, id)
	if err != nil {
		return notFound(kind, id, err)
	}
	if err := e.Repo.DeleteItem(ctx, tx, kind, id); err != nil {
		return notFound(kind, id, err)
	}
	if err := e.changes().Append(ctx, tx, domain.ChangeItemDeleted, kind, id, actorOr(actorID), events.Payload{"title": it.Title}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if e.Bus != nil {
		e.Bus.ItemDeleted.Emit(calendar.ItemDeleted{ID: id, Kind: kind})
	}
	return nil
}

func (e Engine) GetItem(ctx context.Context, kind domain.Kind, id string) (domain.Item, error) {
	it, err := e.Repo.GetItem(ctx, nil, kind, id)
	if err != nil {
		return domain.Item{}, notFound(kind, id, err)
	}
	return e.localize(it), nil
}

func (e Engine) ListItems(ctx context.Context, f repo.ItemFilter) ([]domain.Item, error) {
	items, err := e.Repo.ListItems(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i] = e.localize(items[i])
	}
	return items, nil
}

func (e Engine) saved(it domain.Item, created bool) {
	if e.Bus != nil {
		e.Bus.ItemSaved.Emit(calendar.ItemSaved{Item: e.localize(it), Created: created})
	}
}

// localize moves timestamps into the configured calendar zone.
func (e Engine) localize(it domain.Item) domain.Item {
	loc := e.location()
	it.Date = it.Date.In(loc)
	if !it.CreatedAt.IsZero() {
		it.CreatedAt = it.CreatedAt.In(loc)
	}
	if !it.UpdatedAt.IsZero() {
		it.UpdatedAt = it.UpdatedAt.In(loc)
	}
	return it
}

// NewStore returns an empty schedule store configured like the engine.
func (e Engine) NewStore(kind domain.Kind) *schedule.Store {
	opts := []schedule.Option{
		schedule.WithLocation(e.location()),
		schedule.WithClock(e.now),
	}
	if e.Warn != nil {
		opts = append(opts, schedule.WithWarnHandler(e.Warn))
	}
	return schedule.New(kind, opts...)
}

// LoadStore fills a store with the items of kind dated in [from,to).
func (e Engine) LoadStore(ctx context.Context, kind domain.Kind, from, to time.Time) (*schedule.Store, error) {
	items, err := e.ListItems(ctx, repo.ItemFilter{Kind: kind, From: from, To: to})
	if err != nil {
		return nil, err
	}
	s := e.NewStore(kind)
	s.ReplaceAll(items)
	return s, nil
}

type WeekOptions struct {
	Kinds []domain.Kind
	// Date picks the week; zero means now.
	Date time.Time
	// Offset shifts by whole weeks after Date is resolved.
	Offset int
}

// weekRenderer returns a renderer drawing one empty store per kind, in the
// order given.
func (e Engine) weekRenderer(kinds []domain.Kind) (*calendar.Renderer, []*schedule.Store) {
	if len(kinds) == 0 {
		kinds = domain.Kinds
	}
	stores := make([]*schedule.Store, 0, len(kinds))
	sources := make([]calendar.Source, 0, len(kinds))
	for _, k := range kinds {
		s := e.NewStore(k)
		stores = append(stores, s)
		sources = append(sources, s)
	}
	return calendar.NewRenderer(e.Config.CalendarOptions(e.now), sources...), stores
}

// fill loads every store with its items dated in [from,to).
func (e Engine) fill(ctx context.Context, stores []*schedule.Store, from, to time.Time) error {
	for _, s := range stores {
		items, err := e.ListItems(ctx, repo.ItemFilter{Kind: s.Kind(), From: from, To: to})
		if err != nil {
			return err
		}
		s.ReplaceAll(items)
	}
	return nil
}

// Week renders the grid for one week across the requested kinds.
func (e Engine) Week(ctx context.Context, opts WeekOptions) (calendar.Grid, error) {
	r, stores := e.weekRenderer(opts.Kinds)
	if !opts.Date.IsZero() {
		r.JumpTo(opts.Date)
	}
	if opts.Offset != 0 {
		r.Navigate(opts.Offset)
	}
	anchor := r.Anchor()
	// slots after midnight reach into the day after the last column
	if err := e.fill(ctx, stores, anchor, dates.AddDays(anchor, dates.Week+1)); err != nil {
		return calendar.Grid{}, err
	}
	return r.Render(), nil
}

type MonthOptions struct {
	Kinds []domain.Kind
	// Date picks the month; zero means now.
	Date time.Time
	// Offset pages by whole months after Date is resolved.
	Offset int
	// Pick selects a day and renders its week.
	Pick time.Time
}

// MonthView is a month page with per-day item counts. Week is set when a
// day was picked.
type MonthView struct {
	Month  calendar.Month
	Counts []int
	Week   *calendar.Grid
}

// Month renders the month picker page and, with Pick, the week it jumps to.
func (e Engine) Month(ctx context.Context, opts MonthOptions) (MonthView, error) {
	r, stores := e.weekRenderer(opts.Kinds)
	p := calendar.NewMonthPicker(e.Config.CalendarOptions(e.now), r)
	if !opts.Date.IsZero() {
		p.Show(opts.Date)
	}
	if opts.Offset != 0 {
		p.Shift(opts.Offset)
	}
	if !opts.Pick.IsZero() {
		p.Pick(opts.Pick)
	}
	m := p.Render()
	from := m.Days[0].Date
	to := dates.AddDays(m.Days[len(m.Days)-1].Date, 2)
	if err := e.fill(ctx, stores, from, to); err != nil {
		return MonthView{}, err
	}

	view := MonthView{Month: m, Counts: make([]int, len(m.Days))}
	for i, d := range m.Days {
		for _, s := range stores {
			view.Counts[i] += len(s.ItemsBetween(d.Date, dates.AddDays(d.Date, 1)))
		}
	}
	if !opts.Pick.IsZero() {
		g := r.Render()
		view.Week = &g
	}
	return view, nil
}

// Today lists the items on the current calendar day.
func (e Engine) Today(ctx context.Context, kind domain.Kind) ([]domain.Item, error) {
	now := e.now().In(e.location())
	start := dates.StartOfDay(now)
	s, err := e.LoadStore(ctx, kind, start, dates.AddDays(start, 1))
	if err != nil {
		return nil, err
	}
	return s.ItemsToday(), nil
}

// Upcoming lists items of kind from the start of today through the next
// days calendar days, in date order. days <= 0 drops the upper bound.
func (e Engine) Upcoming(ctx context.Context, kind domain.Kind, days int) ([]domain.Item, error) {
	start := dates.StartOfDay(e.now().In(e.location()))
	var to time.Time
	if days > 0 {
		to = dates.AddDays(start, days)
	}
	s, err := e.LoadStore(ctx, kind, start, to)
	if err != nil {
		return nil, err
	}
	if to.IsZero() {
		return s.Items(), nil
	}
	return s.ItemsBetween(start, to), nil
}

// Due is a reminder that should fire.
type Due struct {
	Item domain.Item
	At   time.Time
}

// DueReminders returns reminders whose fire time is in [from,to), ordered by
// fire time.
func (e Engine) DueReminders(ctx context.Context, from, to time.Time) ([]Due, error) {
	items, err := e.Repo.ReminderCandidates(ctx, from)
	if err != nil {
		return nil, err
	}
	var out []Due
	for _, it := range items {
		at, ok := it.RemindAt()
		if !ok || at.Before(from) || !at.Before(to) {
			continue
		}
		out = append(out, Due{Item: e.localize(it), At: at.In(e.location())})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// ImportResult summarizes an ImportItems call.
type ImportResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// ImportItems upserts items by id in one transaction. Invalid items are
// skipped and reported through Warn.
func (e Engine) ImportItems(ctx context.Context, items []domain.Item, actorID string) (ImportResult, error) {
	var res ImportResult
	now := e.now().UTC()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	for _, it := range items {
		it = it.Clone()
		it.Normalize()
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if err := it.Validate(); err != nil {
			res.Skipped++
			var de *domain.DataError
			if e.Warn != nil && errors.As(err, &de) {
				e.Warn(de)
			}
			continue
		}
		it.UpdatedAt = now
		prev, err := e.Repo.GetItem(ctx, tx, "", it.ID)
		switch {
		case err == nil && prev.Kind == it.Kind:
			it.CreatedAt = prev.CreatedAt
			if err := e.Repo.UpdateItem(ctx, tx, it); err != nil {
				return res, err
			}
			res.Updated++
		case err == nil:
			res.Skipped++
			if e.Warn != nil {
				e.Warn(&domain.DataError{ItemID: it.ID, Field: "kind", Reason: fmt.Sprintf("id already used by a %s", prev.Kind)})
			}
		case errors.Is(err, repo.ErrNotFound):
			it.CreatedAt = now
			if err := e.Repo.InsertItem(ctx, tx, it); err != nil {
				return res, err
			}
			res.Created++
		default:
			return res, err
		}
	}
	payload := events.Payload{"created": res.Created, "updated": res.Updated, "skipped": res.Skipped}
	if err := e.changes().Append(ctx, tx, domain.ChangeItemsImported, "", "", actorOr(actorID), payload); err != nil {
		return res, err
	}
	return res, tx.Commit()
}
