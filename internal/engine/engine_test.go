package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"weekplan/internal/calendar"
	"weekplan/internal/config"
	"weekplan/internal/db"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/engine/auth"
	"weekplan/internal/migrate"
	"weekplan/internal/repo"
	"weekplan/internal/schedule"
)

// Wednesday 2024-03-06 08:00 UTC.
var clock = time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Calendar.Timezone = "UTC"
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return clock }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func at(d, h, m int) time.Time {
	return time.Date(2024, 3, d, h, m, 0, 0, time.UTC)
}

func TestCreateAppliesDefaults(t *testing.T) {
	env := newTestEnv(t)
	it, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{
		Kind:     domain.KindTask,
		Title:    "  Standup ",
		Date:     at(4, 9, 0),
		Priority: "urgent",
		Tags:     []string{"team", "Team"},
		ActorID:  "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if it.ID == "" || it.Title != "Standup" || it.Priority != domain.PriorityLow || it.Status != domain.StatusTodo {
		t.Fatalf("defaults not applied: %+v", it)
	}
	got, err := env.Engine.GetItem(env.Ctx, domain.KindTask, it.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Date.Equal(at(4, 9, 0)) || len(got.Tags) != 1 || got.Tags[0] != "team" {
		t.Fatalf("round trip: %+v", got)
	}
	if _, err := env.Engine.GetItem(env.Ctx, domain.KindEvent, it.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("task should not be visible as an event: %v", err)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindEvent, Title: "no date"})
	var de *domain.DataError
	if !errors.As(err, &de) || de.Field != "date" {
		t.Fatalf("expected date error, got %v", err)
	}
	first, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindEvent, ID: "fixed", Title: "a", Date: at(4, 9, 0)})
	if err != nil || first.ID != "fixed" {
		t.Fatalf("create with id: %v", err)
	}
	if _, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindEvent, ID: "fixed", Title: "b", Date: at(4, 9, 0)}); !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	tmp, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindEvent, ID: schedule.TempIDPrefix + "1", Title: "c", Date: at(4, 9, 0)})
	if err != nil || tmp.ID == schedule.TempIDPrefix+"1" {
		t.Fatalf("temporary ids must be replaced: %+v %v", tmp, err)
	}
}

func TestReplaceStatusDelete(t *testing.T) {
	env := newTestEnv(t)
	it, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "Report", Date: at(5, 10, 0), Notes: "draft"})
	if err != nil {
		t.Fatal(err)
	}
	opts := engine.OptionsFromItem(it, "tester")
	opts.Date = at(7, 15, 0)
	opts.Notes = ""
	updated, err := env.Engine.ReplaceItem(env.Ctx, opts)
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if !updated.Date.Equal(at(7, 15, 0)) || updated.Notes != "" || !updated.CreatedAt.Equal(it.CreatedAt) {
		t.Fatalf("replace result: %+v", updated)
	}
	done, err := env.Engine.SetStatus(env.Ctx, domain.KindTask, it.ID, "done", "tester")
	if err != nil || !done.Status.Done() {
		t.Fatalf("status: %+v %v", done, err)
	}
	if err := env.Engine.DeleteItem(env.Ctx, domain.KindTask, it.ID, "tester"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var nf *domain.NotFoundError
	if err := env.Engine.DeleteItem(env.Ctx, domain.KindTask, it.ID, "tester"); !errors.As(err, &nf) || nf.ID != it.ID {
		t.Fatalf("second delete: %v", err)
	}
	opts.ID = "missing"
	if _, err := env.Engine.ReplaceItem(env.Ctx, opts); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("replace missing: %v", err)
	}

	changes, err := env.Engine.Repo.LatestChanges(env.Ctx, repo.ChangeFilter{ItemID: it.ID})
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	want := []string{domain.ChangeItemDeleted, domain.ChangeItemStatus, domain.ChangeItemUpdated, domain.ChangeItemCreated}
	if len(changes) != len(want) {
		t.Fatalf("changes %+v", changes)
	}
	for i, c := range changes {
		if c.Type != want[i] {
			t.Fatalf("change %d = %s, want %s", i, c.Type, want[i])
		}
	}
	if changes[3].ActorID != engine.LocalActor || changes[2].ActorID != "tester" {
		t.Fatalf("actors %s %s", changes[3].ActorID, changes[2].ActorID)
	}
}

func TestBusReceivesSavesAndDeletes(t *testing.T) {
	env := newTestEnv(t)
	bus := &calendar.Events{}
	env.Engine.Bus = bus
	var saved []calendar.ItemSaved
	var deleted []calendar.ItemDeleted
	bus.ItemSaved.On(func(e calendar.ItemSaved) { saved = append(saved, e) })
	bus.ItemDeleted.On(func(e calendar.ItemDeleted) { deleted = append(deleted, e) })

	it, _ := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindEvent, Title: "Call", Date: at(6, 11, 0)})
	_, _ = env.Engine.SetStatus(env.Ctx, domain.KindEvent, it.ID, "in progress", "")
	_ = env.Engine.DeleteItem(env.Ctx, domain.KindEvent, it.ID, "")
	if len(saved) != 2 || !saved[0].Created || saved[1].Created || saved[1].Item.Status != domain.StatusInProgress {
		t.Fatalf("saved %+v", saved)
	}
	if len(deleted) != 1 || deleted[0].ID != it.ID || deleted[0].Kind != domain.KindEvent {
		t.Fatalf("deleted %+v", deleted)
	}
}

func TestWeekGrid(t *testing.T) {
	env := newTestEnv(t)
	mk := func(kind domain.Kind, title string, date time.Time) domain.Item {
		it, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: kind, Title: title, Date: date})
		if err != nil {
			t.Fatal(err)
		}
		return it
	}
	standup := mk(domain.KindTask, "Standup", at(4, 9, 0))
	call := mk(domain.KindEvent, "Call", at(4, 9, 30))
	late := mk(domain.KindTask, "Late", at(11, 3, 0)) // Monday 03:00 after the week, shown under Sunday
	next := mk(domain.KindTask, "Next week", at(12, 9, 0))

	g, err := env.Engine.Week(env.Ctx, engine.WeekOptions{})
	if err != nil {
		t.Fatalf("week: %v", err)
	}
	if !g.Anchor.Equal(at(4, 0, 0)) || g.TodayIndex() != 2 {
		t.Fatalf("anchor %v today %d", g.Anchor, g.TodayIndex())
	}
	pos, ok := g.Locate(standup.ID)
	cell, _ := g.Cell(pos)
	if !ok || len(cell.Items) != 2 || cell.Items[1].ID != call.ID {
		t.Fatalf("9:00 Monday cell: %+v", cell.Items)
	}
	if pos, ok := g.Locate(late.ID); !ok || pos.Day != 6 {
		t.Fatalf("wrapped item at %+v %v", pos, ok)
	}
	if _, ok := g.Locate(next.ID); ok {
		t.Fatalf("next week's item leaked into this week")
	}

	tasksOnly, err := env.Engine.Week(env.Ctx, engine.WeekOptions{Kinds: []domain.Kind{domain.KindTask}, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := tasksOnly.Locate(next.ID); !ok || tasksOnly.TodayIndex() != -1 {
		t.Fatalf("offset week missing item")
	}
}

func TestTodayAndDueReminders(t *testing.T) {
	env := newTestEnv(t)
	rem := domain.ReminderMinutes(15)
	soon, _ := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "soon", Date: at(6, 8, 10), Reminder: rem})
	_, _ = env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "later", Date: at(6, 20, 0), Reminder: rem})
	_, _ = env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "no reminder", Date: at(6, 8, 5)})
	_, _ = env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "tomorrow", Date: at(7, 8, 5), Reminder: rem})

	today, err := env.Engine.Today(env.Ctx, domain.KindTask)
	if err != nil || len(today) != 3 {
		t.Fatalf("today %d %v", len(today), err)
	}
	due, err := env.Engine.DueReminders(env.Ctx, clock.Add(-10*time.Minute), clock.Add(time.Minute))
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].Item.ID != soon.ID || !due[0].At.Equal(at(6, 7, 55)) {
		t.Fatalf("due %+v", due)
	}
	_, _ = env.Engine.SetStatus(env.Ctx, domain.KindTask, soon.ID, "DONE", "")
	due, _ = env.Engine.DueReminders(env.Ctx, clock.Add(-10*time.Minute), clock.Add(time.Minute))
	if len(due) != 0 {
		t.Fatalf("done items should not remind")
	}
}

func TestImportUpserts(t *testing.T) {
	env := newTestEnv(t)
	var warned []*domain.DataError
	env.Engine.Warn = func(e *domain.DataError) { warned = append(warned, e) }
	items := []domain.Item{
		{ID: "ics-1", Kind: domain.KindEvent, Title: "Dentist", Date: at(8, 14, 0)},
		{ID: "ics-2", Kind: domain.KindEvent, Title: "", Date: at(8, 15, 0)},
	}
	res, err := env.Engine.ImportItems(env.Ctx, items, "importer")
	if err != nil || res.Created != 1 || res.Skipped != 1 || len(warned) != 1 {
		t.Fatalf("first import %+v %v warned=%d", res, err, len(warned))
	}
	items[0].Title = "Dentist (moved)"
	res, err = env.Engine.ImportItems(env.Ctx, items[:1], "importer")
	if err != nil || res.Updated != 1 {
		t.Fatalf("second import %+v %v", res, err)
	}
	got, _ := env.Engine.GetItem(env.Ctx, domain.KindEvent, "ics-1")
	if got.Title != "Dentist (moved)" {
		t.Fatalf("title %q", got.Title)
	}
}

func TestLocalCollaboratorWithSyncer(t *testing.T) {
	env := newTestEnv(t)
	local := engine.Local{Engine: env.Engine, Kind: domain.KindTask, ActorID: "cli"}
	store := env.Engine.NewStore(domain.KindTask)
	syncer := schedule.NewSyncer(store, local)
	syncer.Optimistic = true

	created, err := syncer.Create(env.Ctx, domain.Item{Title: "via syncer", Date: at(6, 9, 0)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := syncer.Refresh(env.Ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if store.Len() != 1 {
		t.Fatalf("store len %d", store.Len())
	}
	if got := store.ItemsInSlot(at(6, 0, 0), 9); len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("slot %+v", got)
	}
	if err := syncer.Delete(env.Ctx, created.ID); err != nil || store.Len() != 0 {
		t.Fatalf("delete: %v", err)
	}
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	svc := auth.Service{DB: env.Engine.DB}
	issued, err := svc.Issue(env.Ctx, "alice", "laptop")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	actor, err := svc.Resolve(env.Ctx, issued.Key)
	if err != nil || actor != "alice" {
		t.Fatalf("resolve: %s %v", actor, err)
	}
	if _, err := svc.Resolve(env.Ctx, "wpk_nope"); !errors.Is(err, auth.ErrInvalidKey) {
		t.Fatalf("expected invalid key, got %v", err)
	}
	keys, _ := svc.List(env.Ctx, "alice")
	if len(keys) != 1 || keys[0].KeyHash == issued.Key {
		t.Fatalf("keys %+v", keys)
	}
	if err := svc.Revoke(env.Ctx, keys[0].ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.Resolve(env.Ctx, issued.Key); err == nil {
		t.Fatalf("revoked key still resolves")
	}
}

func TestMonthCountsAndPick(t *testing.T) {
	env := newTestEnv(t)
	mk := func(kind domain.Kind, title string, date time.Time) domain.Item {
		it, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: kind, Title: title, Date: date})
		if err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
		return it
	}
	mk(domain.KindTask, "a", at(6, 9, 0))
	mk(domain.KindEvent, "b", at(6, 18, 0))
	mk(domain.KindTask, "leap", time.Date(2024, 2, 29, 12, 0, 0, 0, time.UTC))
	picked := mk(domain.KindTask, "picked", at(20, 10, 0))

	v, err := env.Engine.Month(env.Ctx, engine.MonthOptions{})
	if err != nil {
		t.Fatalf("month: %v", err)
	}
	if v.Month.Title() != "March 2024" || len(v.Counts) != calendar.MonthCells || v.Week != nil {
		t.Fatalf("month %q counts %d week %v", v.Month.Title(), len(v.Counts), v.Week)
	}
	// Monday-first grid: Feb 26..29 lead, so Feb 29 is cell 3 and Mar 6 is cell 9.
	if v.Counts[3] != 1 || v.Counts[9] != 2 || !v.Month.Days[9].Today {
		t.Fatalf("counts %v", v.Counts[:12])
	}

	v, err = env.Engine.Month(env.Ctx, engine.MonthOptions{Kinds: []domain.Kind{domain.KindTask}, Pick: at(20, 0, 0)})
	if err != nil {
		t.Fatalf("month pick: %v", err)
	}
	if v.Counts[9] != 1 || v.Week == nil || !v.Week.Anchor.Equal(at(18, 0, 0)) {
		t.Fatalf("pick counts %d week %+v", v.Counts[9], v.Week)
	}
	if _, ok := v.Week.Locate(picked.ID); !ok {
		t.Fatalf("picked week misses its item")
	}

	v, _ = env.Engine.Month(env.Ctx, engine.MonthOptions{Offset: -1})
	if v.Month.Title() != "February 2024" {
		t.Fatalf("offset month %q", v.Month.Title())
	}
}

func TestUpcoming(t *testing.T) {
	env := newTestEnv(t)
	for _, d := range []time.Time{at(5, 23, 0), at(6, 0, 0), at(6, 7, 0), at(9, 12, 0), at(20, 12, 0)} {
		if _, err := env.Engine.CreateItem(env.Ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "t", Date: d}); err != nil {
			t.Fatal(err)
		}
	}
	week, err := env.Engine.Upcoming(env.Ctx, domain.KindTask, 7)
	if err != nil || len(week) != 3 {
		t.Fatalf("next seven days: %d %v", len(week), err)
	}
	if !week[0].Date.Equal(at(6, 0, 0)) {
		t.Fatalf("order %v", week[0].Date)
	}
	all, _ := env.Engine.Upcoming(env.Ctx, domain.KindTask, 0)
	if len(all) != 4 {
		t.Fatalf("unbounded: %d", len(all))
	}
}
