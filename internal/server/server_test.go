package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"weekplan/internal/config"
	"weekplan/internal/db"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/engine/auth"
	"weekplan/internal/migrate"
	"weekplan/internal/reminder"
)

// Wednesday 2024-03-06 08:00 UTC.
var clock = time.Date(2024, 3, 6, 8, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, authCfg AuthConfig, hooks ...config.Webhook) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	cfg.Calendar.Timezone = "UTC"
	cfg.Webhooks = hooks
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return clock }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: authCfg})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", string(data), err)
	}
	return v
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	return decode[struct {
		Error apiErrorBody `json:"error"`
	}](t, data).Error.Code
}

func TestTaskLifecycle(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"title":    "Write report",
		"date":     "2024-03-07T10:00",
		"priority": "high",
		"reminder": "30m",
		"tags":     []string{"work"},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status %d: %s", res.StatusCode, string(data))
	}
	created := decode[domain.ItemJSON](t, data)
	if created.ID == "" || created.Kind != "task" || created.Status != "TODO" || created.Date != "2024-03-07T10:00:00Z" {
		t.Fatalf("unexpected task: %+v", created)
	}
	if created.Reminder == nil || *created.Reminder != "30m" {
		t.Fatalf("reminder lost: %+v", created.Reminder)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get status %d: %s", res.StatusCode, string(data))
	}
	if res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events/"+created.ID, nil, nil); res.StatusCode != http.StatusNotFound {
		t.Fatalf("task visible as event: %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/tasks/"+created.ID, map[string]any{
		"title": "Write final report",
		"date":  "2024-03-08T09:00:00Z",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("replace status %d: %s", res.StatusCode, string(data))
	}
	replaced := decode[domain.ItemJSON](t, data)
	if replaced.Title != "Write final report" || replaced.Priority != "low" || replaced.Reminder != nil || len(replaced.Tags) != 0 {
		t.Fatalf("replace should overwrite every field: %+v", replaced)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/tasks/"+created.ID+"/status", map[string]any{"status": "done"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, string(data))
	}
	if got := decode[domain.ItemJSON](t, data); got.Status != "DONE" {
		t.Fatalf("status not applied: %s", got.Status)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks?status=DONE", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list status %d: %s", res.StatusCode, string(data))
	}
	if list := decode[[]domain.ItemJSON](t, data); len(list) != 1 || list[0].ID != created.ID {
		t.Fatalf("list: %+v", list)
	}

	res, _ = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status %d", res.StatusCode)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/tasks/"+created.ID, nil, nil)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("second delete: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/changes?limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("changes status %d: %s", res.StatusCode, string(data))
	}
	page := decode[paginatedChanges](t, data)
	if len(page.Items) != 2 || page.Items[0].Type != domain.ChangeItemDeleted || page.NextCursor == "" {
		t.Fatalf("changes page: %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/changes?limit=10&cursor="+page.NextCursor, nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("changes page 2 status %d", res.StatusCode)
	}
	if rest := decode[paginatedChanges](t, data); len(rest.Items) != 2 || rest.NextCursor != "" || rest.Items[1].Type != domain.ChangeItemCreated {
		t.Fatalf("changes page 2: %+v", rest)
	}
}

func TestCreateRejectsBadItems(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"title": "Party",
		"date":  "next friday",
	}, nil)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "invalid_item" {
		t.Fatalf("bad date: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", map[string]any{
		"title":    "Party",
		"date":     "2024-03-09T20:00:00Z",
		"reminder": "soon",
	}, nil)
	if res.StatusCode != http.StatusBadRequest || !strings.Contains(string(data), "reminder") {
		t.Fatalf("bad reminder: %d %s", res.StatusCode, string(data))
	}

	body := map[string]any{"id": "party", "title": "Party", "date": "2024-03-09T20:00:00Z"}
	if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", body, nil); res.StatusCode != http.StatusCreated {
		t.Fatalf("create: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", body, nil)
	if res.StatusCode != http.StatusConflict || errorCode(t, data) != "duplicate_id" {
		t.Fatalf("duplicate: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/week?kind=meeting", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown kind: %d", res.StatusCode)
	}
}

func TestWeekTodayAndCalendar(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()
	for _, body := range []map[string]any{
		{"title": "Standup", "date": "2024-03-06T09:00:00Z"},
		{"title": "Late show", "date": "2024-03-11T02:30:00Z"},
		{"title": "Next week", "date": "2024-03-12T09:00:00Z"},
	} {
		if res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/events", body, nil); res.StatusCode != http.StatusCreated {
			t.Fatalf("seed: %d %s", res.StatusCode, string(data))
		}
	}

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/week?kind=event", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("week status %d: %s", res.StatusCode, string(data))
	}
	week := decode[WeekResponse](t, data)
	if len(week.Days) != 7 || week.Days[0].Date != "2024-03-04" || !week.Days[2].Today {
		t.Fatalf("week layout: %+v", week.Days)
	}
	count := 0
	for _, d := range week.Days {
		for _, s := range d.Slots {
			count += len(s.Items)
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 events in week, got %d", count)
	}
	if slot := week.Days[6].Slots[len(week.Days[6].Slots)-4]; len(slot.Items) != 1 || slot.Items[0].Title != "Late show" {
		t.Fatalf("after-midnight event not in last day: %+v", slot)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/week?offset=1", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("next week status %d", res.StatusCode)
	}
	if next := decode[WeekResponse](t, data); next.Days[0].Date != "2024-03-11" || next.Days[2].Today {
		t.Fatalf("offset week: %+v", next.Days[0])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/today", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("today status %d", res.StatusCode)
	}
	if today := decode[[]domain.ItemJSON](t, data); len(today) != 1 || today[0].Title != "Standup" {
		t.Fatalf("today: %+v", today)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/upcoming?days=6", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upcoming status %d: %s", res.StatusCode, string(data))
	}
	if up := decode[[]domain.ItemJSON](t, data); len(up) != 2 || up[0].Title != "Standup" || up[1].Title != "Late show" {
		t.Fatalf("upcoming: %+v", up)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/month?pick=2024-03-12", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("month status %d: %s", res.StatusCode, string(data))
	}
	month := decode[MonthResponse](t, data)
	if len(month.Days) != 42 || month.Title != "March 2024" || month.Days[0].Date != "2024-02-26" {
		t.Fatalf("month layout: %s %d %+v", month.Title, len(month.Days), month.Days[0])
	}
	// Mar 6 is cell 9, Mar 11 cell 14, Mar 12 cell 15.
	if month.Days[9].Items != 1 || !month.Days[9].Today || month.Days[14].Items != 1 || !month.Days[15].Selected {
		t.Fatalf("month cells: %+v %+v %+v", month.Days[9], month.Days[14], month.Days[15])
	}
	if month.Week == nil || month.Week.Days[0].Date != "2024-03-11" {
		t.Fatalf("picked week: %+v", month.Week)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/calendar.ics?kind=event", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ics status %d: %s", res.StatusCode, string(data))
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/calendar") {
		t.Fatalf("content type %q", ct)
	}
	doc := string(data)
	if !strings.Contains(doc, "BEGIN:VCALENDAR") || strings.Count(doc, "BEGIN:VEVENT") != 3 || !strings.Contains(doc, "SUMMARY:Standup") {
		t.Fatalf("ics body:\n%s", doc)
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t, AuthConfig{Required: true, JWTSecret: "s3cret"})
	client := srv.Client()

	if res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil); res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open: %d", res.StatusCode)
	}
	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("anonymous: %d %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"X-Api-Key": "wpk_nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad key: %d", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/tasks", nil, map[string]string{"X-Actor-Id": "mallory"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("legacy header must be opt-in: %d", res.StatusCode)
	}

	issued, err := auth.Service{DB: srv.Engine.DB}.Issue(context.Background(), "alice", "laptop")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	keyHeader := map[string]string{"X-Api-Key": issued.Key}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, keyHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	if me := decode[WhoAmIResponse](t, data); me.ActorID != "alice" || me.Source != "api_key" {
		t.Fatalf("me: %+v", me)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/token", map[string]any{"ttl": "1h"}, keyHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("token: %d %s", res.StatusCode, string(data))
	}
	token := decode[TokenResponse](t, data).Token
	bearer := map[string]string{"Authorization": "Bearer " + token}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{"title": "Signed", "date": "2024-03-06T12:00:00Z"}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create with jwt: %d %s", res.StatusCode, string(data))
	}
	changes, err := srv.Engine.Repo.ChangesAfter(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("changes: %v", err)
	}
	last := changes[len(changes)-1]
	if last.Type != domain.ChangeItemCreated || last.ActorID != "alice" {
		t.Fatalf("change actor: %+v", last)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/apikeys", map[string]any{"name": "ci"}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("apikey: %d %s", res.StatusCode, string(data))
	}
	if k := decode[APIKeyResponse](t, data); !strings.HasPrefix(k.Key, auth.KeyPrefix) || k.ActorID != "alice" {
		t.Fatalf("apikey: %+v", k)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer garbage"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", res.StatusCode)
	}
}

func TestOpenAPIDocument(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	doc := decode[map[string]any](t, data)
	paths, _ := doc["paths"].(map[string]any)
	for _, p := range []string{"/v0/tasks", "/v0/events/{id}", "/v0/week", "/v0/calendar.ics"} {
		if _, ok := paths[p]; !ok {
			t.Fatalf("missing path %s", p)
		}
	}
}

type capturedHook struct {
	mu     sync.Mutex
	events []string
	bodies []map[string]any
	secret string
}

func (c *capturedHook) handler(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	json.NewDecoder(r.Body).Decode(&body)
	c.mu.Lock()
	c.events = append(c.events, r.Header.Get("X-Weekplan-Event"))
	c.bodies = append(c.bodies, body)
	c.secret = r.Header.Get("X-Weekplan-Secret")
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (c *capturedHook) snapshot() ([]string, []map[string]any, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.events...), append([]map[string]any(nil), c.bodies...), c.secret
}

func TestWebhookDispatch(t *testing.T) {
	all := &capturedHook{}
	allSrv := httptest.NewServer(http.HandlerFunc(all.handler))
	defer allSrv.Close()
	picky := &capturedHook{}
	pickySrv := httptest.NewServer(http.HandlerFunc(picky.handler))
	defer pickySrv.Close()

	srv := newTestServer(t, AuthConfig{},
		config.Webhook{URL: allSrv.URL, Secret: "hush"},
		config.Webhook{URL: pickySrv.URL, Events: []string{domain.ChangeItemDeleted, ReminderEvent}},
	)
	ctx := context.Background()
	e := srv.Engine
	if _, err := e.CreateItem(ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "before", Date: clock}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	d := NewDispatcher(e)
	d.DispatchAll(ctx)
	if events, _, _ := all.snapshot(); len(events) != 0 {
		t.Fatalf("history should not be replayed: %v", events)
	}

	it, err := e.CreateItem(ctx, engine.ItemOptions{Kind: domain.KindTask, Title: "after", Date: clock})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := e.DeleteItem(ctx, domain.KindTask, it.ID, "bob"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	events, _, secret := all.snapshot()
	if strings.Join(events, ",") != domain.ChangeItemCreated+","+domain.ChangeItemDeleted || secret != "hush" {
		t.Fatalf("catch-all hook got %v (secret %q)", events, secret)
	}
	events, bodies, _ := picky.snapshot()
	if len(events) != 1 || bodies[0]["item_id"] != it.ID || bodies[0]["actor_id"] != "bob" {
		t.Fatalf("filtered hook got %v %v", events, bodies)
	}

	n := reminder.Notification{
		Item:    domain.Item{ID: "r1", Kind: domain.KindEvent, Title: "Dentist", Date: clock.Add(15 * time.Minute)},
		At:      clock,
		FiredAt: clock,
	}
	if err := d.Notify(ctx, n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if events, _, _ := all.snapshot(); len(events) != 2 {
		t.Fatalf("catch-all hook should not receive reminders: %v", events)
	}
	events, bodies, _ = picky.snapshot()
	if len(events) != 2 || events[1] != ReminderEvent {
		t.Fatalf("reminder delivery: %v", events)
	}
	if msg, _ := bodies[1]["message"].(string); !strings.Contains(msg, "Dentist") {
		t.Fatalf("reminder body: %v", bodies[1])
	}
}
