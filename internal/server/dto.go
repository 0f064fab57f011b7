package server

import (
	"encoding/json"
	"time"

	"weekplan/internal/calendar"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/engine/auth"
)

// Request payloads

// ItemRequest carries the full content of a task or event. Dates may omit
// the offset, in which case the server's calendar timezone applies.
type ItemRequest struct {
	ID       string   `json:"id,omitempty" doc:"Client id; generated when empty or temporary"`
	Title    string   `json:"title"`
	Date     string   `json:"date" example:"2024-03-08T14:00:00+01:00"`
	Priority string   `json:"priority,omitempty" doc:"low, medium or high; anything else reads as low"`
	Status   string   `json:"status,omitempty" example:"TODO"`
	Reminder *string  `json:"reminder,omitempty" example:"15m"`
	Notes    string   `json:"notes,omitempty"`
	Tags     []string `json:"tags,omitempty"`
}

func (r ItemRequest) wire(kind domain.Kind) domain.ItemJSON {
	return domain.ItemJSON{
		ID:       r.ID,
		Kind:     string(kind),
		Title:    r.Title,
		Date:     r.Date,
		Priority: r.Priority,
		Status:   r.Status,
		Reminder: r.Reminder,
		Notes:    r.Notes,
		Tags:     r.Tags,
	}
}

type StatusRequest struct {
	Status string `json:"status" example:"DONE"`
}

type TokenRequest struct {
	TTL string `json:"ttl,omitempty" example:"24h"`
}

type APIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Response payloads

type SlotResponse struct {
	Date  string            `json:"date" format:"date-time"`
	Hour  int               `json:"hour"`
	Label string            `json:"label"`
	Items []domain.ItemJSON `json:"items"`
}

type DayResponse struct {
	Date    string         `json:"date" format:"date"`
	Weekday string         `json:"weekday"`
	Today   bool           `json:"today"`
	Slots   []SlotResponse `json:"slots"`
}

type WeekResponse struct {
	Anchor string          `json:"anchor" format:"date-time"`
	Title  string          `json:"title" example:"March 4 - March 10, 2024"`
	Window calendar.Window `json:"window"`
	Days   []DayResponse   `json:"days"`
}

type MonthDayResponse struct {
	Date     string `json:"date" format:"date"`
	InMonth  bool   `json:"in_month"`
	Today    bool   `json:"today"`
	Selected bool   `json:"selected"`
	Items    int    `json:"items" doc:"Items dated on this day"`
}

type MonthResponse struct {
	First string             `json:"first" format:"date"`
	Title string             `json:"title" example:"March 2024"`
	Days  []MonthDayResponse `json:"days"`
	Week  *WeekResponse      `json:"week,omitempty" doc:"The week of the picked day"`
}

type ChangeResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	Kind    string         `json:"kind,omitempty"`
	ItemID  string         `json:"item_id,omitempty"`
	ActorID string         `json:"actor_id"`
	Payload map[string]any `json:"payload"`
}

type paginatedChanges struct {
	Items      []ChangeResponse `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

type APIKeyResponse struct {
	Key     string `json:"key" doc:"Shown once"`
	ID      string `json:"id"`
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

// Conversion helpers

func itemResponses(items []domain.Item) []domain.ItemJSON {
	res := make([]domain.ItemJSON, 0, len(items))
	for _, it := range items {
		res = append(res, domain.ToJSON(it))
	}
	return res
}

func weekResponse(g calendar.Grid) WeekResponse {
	resp := WeekResponse{
		Anchor: domain.FormatDate(g.Anchor),
		Title:  g.Title(),
		Window: g.Window,
		Days:   make([]DayResponse, 0, len(g.Days)),
	}
	for _, d := range g.Days {
		day := DayResponse{
			Date:    d.Date.Format(time.DateOnly),
			Weekday: d.Date.Weekday().String(),
			Today:   d.Today,
			Slots:   make([]SlotResponse, 0, len(d.Slots)),
		}
		for _, c := range d.Slots {
			day.Slots = append(day.Slots, SlotResponse{
				Date:  domain.FormatDate(c.Date),
				Hour:  c.Hour,
				Label: c.Label,
				Items: itemResponses(c.Items),
			})
		}
		resp.Days = append(resp.Days, day)
	}
	return resp
}

func monthResponse(v engine.MonthView) MonthResponse {
	resp := MonthResponse{
		First: v.Month.First.Format(time.DateOnly),
		Title: v.Month.Title(),
		Days:  make([]MonthDayResponse, 0, len(v.Month.Days)),
	}
	for i, d := range v.Month.Days {
		resp.Days = append(resp.Days, MonthDayResponse{
			Date:     d.Date.Format(time.DateOnly),
			InMonth:  d.InMonth,
			Today:    d.Today,
			Selected: d.Selected,
			Items:    v.Counts[i],
		})
	}
	if v.Week != nil {
		w := weekResponse(*v.Week)
		resp.Week = &w
	}
	return resp
}

func changeResponse(c domain.Change) ChangeResponse {
	return ChangeResponse{
		ID:      c.ID,
		TS:      c.TS,
		Type:    c.Type,
		Kind:    c.Kind,
		ItemID:  c.ItemID,
		ActorID: c.ActorID,
		Payload: decodeJSONMap(c.Payload),
	}
}

func apiKeyResponse(is auth.Issued) APIKeyResponse {
	return APIKeyResponse{
		Key:     is.Key,
		ID:      is.APIKey.ID,
		ActorID: is.APIKey.ActorID,
		Name:    is.APIKey.Name,
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return map[string]any{}
	}
	return obj
}
