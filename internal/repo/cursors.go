package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// WebhookCursor returns the last change id delivered to url. ok is false when
// the hook has never been seen.
func (r Repo) WebhookCursor(ctx context.Context, url string) (id int64, ok bool, err error) {
	err = r.DB.QueryRowContext(ctx, `SELECT change_id FROM webhook_cursors WHERE url=?`, url).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	return id, err == nil, err
}

func (r Repo) SaveWebhookCursor(ctx context.Context, url string, changeID int64) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(url, change_id, updated_at) VALUES (?,?,?)
ON CONFLICT(url) DO UPDATE SET change_id=excluded.change_id, updated_at=excluded.updated_at`,
		url, changeID, time.Now().UTC().Format(time.RFC3339))
	return err
}
