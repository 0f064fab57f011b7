// Package events appends rows to the change log inside the caller's
// transaction.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"weekplan/internal/domain"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, changeType string, kind domain.Kind, itemID, actorID string, payload Payload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal change payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO changes(ts,type,kind,item_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, changeType, nullable(string(kind)), nullable(itemID), actorID, string(data))
	return err
}

// ItemPayload is the snapshot stored with item changes.
func ItemPayload(it domain.Item) Payload {
	j := domain.ToJSON(it)
	p := Payload{
		"title":    j.Title,
		"date":     j.Date,
		"priority": j.Priority,
		"status":   j.Status,
		"tags":     j.Tags,
	}
	if j.Reminder != nil {
		p["reminder"] = *j.Reminder
	}
	if j.Notes != "" {
		p["notes"] = j.Notes
	}
	return p
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
