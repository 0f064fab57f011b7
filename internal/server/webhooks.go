package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"weekplan/internal/config"
	"weekplan/internal/domain"
	"weekplan/internal/engine"
	"weekplan/internal/log"
	"weekplan/internal/reminder"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100

	// ReminderEvent is the webhook event type of a fired reminder.
	ReminderEvent = "reminder"
)

// Dispatcher delivers change-log rows to the configured webhooks. Each hook
// keeps its own persisted cursor; a hook seen for the first time starts at the
// current end of the log.
type Dispatcher struct {
	Engine   engine.Engine
	Webhooks []config.Webhook
	Interval time.Duration
	Client   *http.Client
}

func NewDispatcher(e engine.Engine) *Dispatcher {
	var hooks []config.Webhook
	if e.Config != nil {
		hooks = e.Config.Webhooks
	}
	return &Dispatcher{
		Engine:   e,
		Webhooks: hooks,
		Interval: defaultWebhookInterval,
		Client:   &http.Client{Timeout: defaultWebhookTimeout},
	}
}

// Run polls the change log until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	if len(d.Webhooks) == 0 {
		return
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultWebhookInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) DispatchAll(ctx context.Context) {
	for _, hook := range d.Webhooks {
		if !hook.On() || strings.TrimSpace(hook.URL) == "" {
			continue
		}
		if err := d.dispatch(ctx, hook); err != nil {
			log.Warn("webhook delivery stopped", "url", hook.URL, "err", err.Error())
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, hook config.Webhook) error {
	r := d.Engine.Repo
	cursor, ok, err := r.WebhookCursor(ctx, hook.URL)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		if cursor, err = r.LatestChangeID(ctx); err != nil {
			return fmt.Errorf("init cursor: %w", err)
		}
		if err := r.SaveWebhookCursor(ctx, hook.URL, cursor); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	changes, err := r.ChangesAfter(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		return fmt.Errorf("fetch changes: %w", err)
	}
	for _, c := range changes {
		if hook.Wants(c.Type) {
			if err := d.post(ctx, hook, c.Type, fmt.Sprintf("%d", c.ID), changeDelivery(c)); err != nil {
				return err
			}
		}
		if err := r.SaveWebhookCursor(ctx, hook.URL, c.ID); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}
	return nil
}

type webhookChange struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Kind       string          `json:"kind,omitempty"`
	ItemID     string          `json:"item_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func changeDelivery(c domain.Change) webhookChange {
	body := webhookChange{
		ID:      c.ID,
		Type:    c.Type,
		Kind:    c.Kind,
		ItemID:  c.ItemID,
		ActorID: c.ActorID,
		TS:      c.TS,
		Payload: json.RawMessage("{}"),
	}
	if c.Payload != "" {
		if json.Valid([]byte(c.Payload)) {
			body.Payload = json.RawMessage(c.Payload)
		} else {
			body.PayloadRaw = c.Payload
		}
	}
	return body
}

func (d *Dispatcher) post(ctx context.Context, hook config.Webhook, event, delivery string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	client := d.Client
	if client == nil {
		client = &http.Client{Timeout: defaultWebhookTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Weekplan-Event", event)
	req.Header.Set("X-Weekplan-Delivery", delivery)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Weekplan-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("%s: status %d: %s", hook.URL, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type webhookReminder struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	At      string          `json:"at"`
	Item    domain.ItemJSON `json:"item"`
}

// Notify posts a fired reminder to every hook subscribed to ReminderEvent.
// Reminders are not part of the change log, so they bypass the cursors.
func (d *Dispatcher) Notify(ctx context.Context, n reminder.Notification) error {
	body := webhookReminder{
		Type:    ReminderEvent,
		Message: n.Message(),
		At:      domain.FormatDate(n.At),
		Item:    domain.ToJSON(n.Item),
	}
	var errs []error
	for _, hook := range d.Webhooks {
		if !hook.On() || len(hook.Events) == 0 || !hook.Wants(ReminderEvent) {
			continue
		}
		if err := d.post(ctx, hook, ReminderEvent, uuid.NewString(), body); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ reminder.Notifier = (*Dispatcher)(nil)
