package weekplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"weekplan/internal/domain"
	"weekplan/internal/schedule"
)

// Client is a minimal weekplan HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
	// Location applies to dates the server sends without an offset.
	Location *time.Location
	// Warn receives items of a listing that cannot be decoded. They are
	// left out of the result instead of failing the call.
	Warn func(*domain.DataError)
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// NotFound reports a 404 response.
func (e *APIError) NotFound() bool { return e.StatusCode == http.StatusNotFound }

// ListOptions narrows List. Zero values are ignored.
type ListOptions struct {
	From   time.Time
	To     time.Time
	Status string
	Tag    string
	Limit  int
}

func (o ListOptions) query() string {
	q := url.Values{}
	if !o.From.IsZero() {
		q.Set("from", domain.FormatDate(o.From))
	}
	if !o.To.IsZero() {
		q.Set("to", domain.FormatDate(o.To))
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.Tag != "" {
		q.Set("tag", o.Tag)
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// Slot is one hour cell of a Week.
type Slot struct {
	Date  string            `json:"date"`
	Hour  int               `json:"hour"`
	Label string            `json:"label"`
	Items []domain.ItemJSON `json:"items"`
}

type Day struct {
	Date    string `json:"date"`
	Weekday string `json:"weekday"`
	Today   bool   `json:"today"`
	Slots   []Slot `json:"slots"`
}

// Week is the grid returned by GET /week.
type Week struct {
	Anchor string `json:"anchor"`
	Title  string `json:"title"`
	Days   []Day  `json:"days"`
}

type MonthDay struct {
	Date     string `json:"date"`
	InMonth  bool   `json:"in_month"`
	Today    bool   `json:"today"`
	Selected bool   `json:"selected"`
	Items    int    `json:"items"`
}

// Month is the page returned by GET /month.
type Month struct {
	First string     `json:"first"`
	Title string     `json:"title"`
	Days  []MonthDay `json:"days"`
	Week  *Week      `json:"week,omitempty"`
}

// Change is one change-log row.
type Change struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	Kind    string         `json:"kind"`
	ItemID  string         `json:"item_id"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload"`
}

// PaginatedChanges wraps list responses with cursors.
type PaginatedChanges struct {
	Items      []Change `json:"items"`
	NextCursor string   `json:"next_cursor"`
}

// List returns the items of kind in date order.
func (c *Client) List(ctx context.Context, kind domain.Kind, opts ListOptions) ([]domain.Item, error) {
	var resp []domain.ItemJSON
	if err := c.do(ctx, http.MethodGet, kind.Plural()+opts.query(), nil, &resp); err != nil {
		return nil, err
	}
	return c.decodeItems(resp)
}

func (c *Client) decodeItems(raw []domain.ItemJSON) ([]domain.Item, error) {
	items := make([]domain.Item, 0, len(raw))
	for _, w := range raw {
		it, err := w.Decode(c.Location)
		var de *domain.DataError
		switch {
		case err == nil:
			items = append(items, it)
		case errors.As(err, &de):
			if c.Warn != nil {
				c.Warn(de)
			}
		default:
			return nil, err
		}
	}
	return items, nil
}

func (c *Client) Get(ctx context.Context, kind domain.Kind, id string) (domain.Item, error) {
	return c.item(ctx, http.MethodGet, c.itemPath(kind, id), nil)
}

// Create posts it; the server assigns an id when it has none or a
// temporary one.
func (c *Client) Create(ctx context.Context, kind domain.Kind, it domain.Item) (domain.Item, error) {
	return c.item(ctx, http.MethodPost, kind.Plural(), requestBody(it))
}

// Replace overwrites every field of id.
func (c *Client) Replace(ctx context.Context, kind domain.Kind, id string, it domain.Item) (domain.Item, error) {
	return c.item(ctx, http.MethodPut, c.itemPath(kind, id), requestBody(it))
}

func (c *Client) SetStatus(ctx context.Context, kind domain.Kind, id, status string) (domain.Item, error) {
	return c.item(ctx, http.MethodPatch, c.itemPath(kind, id)+"/status", map[string]any{"status": status})
}

func (c *Client) Delete(ctx context.Context, kind domain.Kind, id string) error {
	return c.do(ctx, http.MethodDelete, c.itemPath(kind, id), nil, nil)
}

// Week fetches the grid for the week holding date, shifted by offset weeks.
// An empty kind asks for every kind; a zero date means the server's now.
func (c *Client) Week(ctx context.Context, kind domain.Kind, date time.Time, offset int) (Week, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if !date.IsZero() {
		q.Set("date", domain.FormatDate(date))
	}
	if offset != 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	endpoint := "week"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Week
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Today lists the items on the server's current calendar day.
func (c *Client) Today(ctx context.Context, kind domain.Kind) ([]domain.Item, error) {
	endpoint := "today"
	if kind != "" {
		endpoint += "?kind=" + url.QueryEscape(string(kind))
	}
	var resp []domain.ItemJSON
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return c.decodeItems(resp)
}

// Upcoming lists items from the start of the server's today through days
// calendar days; days <= 0 means no limit.
func (c *Client) Upcoming(ctx context.Context, kind domain.Kind, days int) ([]domain.Item, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if days < 0 {
		days = 0
	}
	q.Set("days", strconv.Itoa(days))
	var resp []domain.ItemJSON
	if err := c.do(ctx, http.MethodGet, "upcoming?"+q.Encode(), nil, &resp); err != nil {
		return nil, err
	}
	return c.decodeItems(resp)
}

// Month fetches the month page holding date, shifted by offset months. A
// non-zero pick selects that day and returns its week too.
func (c *Client) Month(ctx context.Context, kind domain.Kind, date time.Time, offset int, pick time.Time) (Month, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if !date.IsZero() {
		q.Set("date", domain.FormatDate(date))
	}
	if offset != 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	if !pick.IsZero() {
		q.Set("pick", domain.FormatDate(pick))
	}
	endpoint := "month"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp Month
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Calendar downloads the iCalendar export.
func (c *Client) Calendar(ctx context.Context, kind domain.Kind) (string, error) {
	endpoint := "calendar.ics"
	if kind != "" {
		endpoint += "?kind=" + url.QueryEscape(string(kind))
	}
	var buf bytes.Buffer
	err := c.do(ctx, http.MethodGet, endpoint, nil, &buf)
	return buf.String(), err
}

// ChangesPage returns a paginated change listing, newest first.
func (c *Client) ChangesPage(ctx context.Context, limit int, cursor string) (PaginatedChanges, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "changes"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedChanges
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Collaborator binds the client to one kind so a schedule.Syncer can drive it.
func (c *Client) Collaborator(kind domain.Kind) schedule.Collaborator {
	return kindClient{c: c, kind: kind}
}

type kindClient struct {
	c    *Client
	kind domain.Kind
}

func (k kindClient) FetchAll(ctx context.Context) ([]domain.Item, error) {
	return k.c.List(ctx, k.kind, ListOptions{})
}

func (k kindClient) Create(ctx context.Context, it domain.Item) (domain.Item, error) {
	return k.c.Create(ctx, k.kind, it)
}

func (k kindClient) Replace(ctx context.Context, id string, it domain.Item) (domain.Item, error) {
	return k.c.Replace(ctx, k.kind, id, it)
}

func (k kindClient) Delete(ctx context.Context, id string) error {
	return k.c.Delete(ctx, k.kind, id)
}

func requestBody(it domain.Item) map[string]any {
	w := domain.ToJSON(it)
	body := map[string]any{
		"title":    w.Title,
		"date":     w.Date,
		"priority": w.Priority,
		"status":   w.Status,
		"notes":    w.Notes,
		"tags":     w.Tags,
	}
	if w.ID != "" {
		body["id"] = w.ID
	}
	if w.Reminder != nil {
		body["reminder"] = *w.Reminder
	}
	return body
}

func (c *Client) item(ctx context.Context, method, endpoint string, body any) (domain.Item, error) {
	var resp domain.ItemJSON
	if err := c.do(ctx, method, endpoint, body, &resp); err != nil {
		return domain.Item{}, err
	}
	return resp.Decode(c.Location)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		_, err := io.Copy(dst, resp.Body)
		return err
	default:
		return json.NewDecoder(resp.Body).Decode(out)
	}
}

func (c *Client) itemPath(kind domain.Kind, id string) string {
	return fmt.Sprintf("%s/%s", kind.Plural(), url.PathEscape(id))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
