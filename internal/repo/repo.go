package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"weekplan/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

// ErrNotFound is shared with the domain so callers need one check.
var ErrNotFound = domain.ErrNotFound

// Dates are stored as fixed-width UTC RFC 3339 text so that string order is
// time order.
const dateLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// on picks tx when given so callers can batch writes with change rows.
func (r Repo) on(tx *sql.Tx) execer {
	if tx != nil {
		return tx
	}
	return r.DB
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func reminderColumn(rem domain.Reminder) any {
	if !rem.Set() {
		return nil
	}
	return rem.Minutes()
}

const itemColumns = `id,kind,title,date,priority,status,reminder_minutes,notes,tags_json,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (domain.Item, error) {
	var (
		it                         domain.Item
		kind, priority, status     string
		date, createdAt, updatedAt string
		tagsJSON                   string
		notes                      sql.NullString
		reminder                   sql.NullInt64
	)
	if err := row.Scan(&it.ID, &kind, &it.Title, &date, &priority, &status, &reminder, &notes, &tagsJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return it, ErrNotFound
		}
		return it, err
	}
	it.Kind = domain.Kind(kind)
	it.Priority = domain.ParsePriority(priority)
	it.Status = domain.ParseStatus(status)
	if notes.Valid {
		it.Notes = notes.String
	}
	if reminder.Valid {
		it.Reminder = domain.ReminderMinutes(int(reminder.Int64))
	}
	var err error
	if it.Date, err = parseTime(date); err != nil {
		return it, fmt.Errorf("item %s: bad date %q: %w", it.ID, date, err)
	}
	if it.Tags, err = domain.DecodeTags(tagsJSON); err != nil {
		return it, fmt.Errorf("item %s: bad tags: %w", it.ID, err)
	}
	it.CreatedAt, _ = parseTime(createdAt)
	it.UpdatedAt, _ = parseTime(updatedAt)
	return it, nil
}

func (r Repo) InsertItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	_, err := r.on(tx).ExecContext(ctx, `INSERT INTO items(`+itemColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		it.ID, string(it.Kind), it.Title, formatTime(it.Date), string(it.Priority), string(it.Status),
		reminderColumn(it.Reminder), nullable(it.Notes), domain.EncodeTags(it.Tags),
		formatTime(it.CreatedAt), formatTime(it.UpdatedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateID, it.ID)
	}
	return err
}

// UpdateItem rewrites every mutable column of the item with it.ID.
func (r Repo) UpdateItem(ctx context.Context, tx *sql.Tx, it domain.Item) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE items SET title=?, date=?, priority=?, status=?, reminder_minutes=?, notes=?, tags_json=?, updated_at=? WHERE id=? AND kind=?`,
		it.Title, formatTime(it.Date), string(it.Priority), string(it.Status), reminderColumn(it.Reminder),
		nullable(it.Notes), domain.EncodeTags(it.Tags), formatTime(it.UpdatedAt), it.ID, string(it.Kind))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateStatus(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string, status domain.Status, updatedAt time.Time) error {
	res, err := r.on(tx).ExecContext(ctx, `UPDATE items SET status=?, updated_at=? WHERE id=? AND kind=?`,
		string(status), formatTime(updatedAt), id, string(kind))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteItem(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string) error {
	res, err := r.on(tx).ExecContext(ctx, `DELETE FROM items WHERE id=? AND kind=?`, id, string(kind))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetItem looks an item up by id; an empty kind matches either kind.
func (r Repo) GetItem(ctx context.Context, tx *sql.Tx, kind domain.Kind, id string) (domain.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id=?`
	args := []any{id}
	if kind != "" {
		query += ` AND kind=?`
		args = append(args, string(kind))
	}
	return scanItem(r.on(tx).QueryRowContext(ctx, query, args...))
}

type ItemFilter struct {
	Kind   domain.Kind
	From   time.Time
	To     time.Time
	Status domain.Status
	Tag    string
	Limit  int
}

// ListItems returns matching items in date order, ties broken by creation.
func (r Repo) ListItems(ctx context.Context, f ItemFilter) ([]domain.Item, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "date>=?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "date<?")
		args = append(args, formatTime(f.To))
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY date ASC, created_at ASC, id ASC`
	if f.Limit > 0 && f.Tag == "" {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		// tags live in a JSON column; match them after decoding
		if f.Tag != "" && !it.Tags.Has(f.Tag) {
			continue
		}
		res = append(res, it)
		if f.Limit > 0 && len(res) == f.Limit {
			break
		}
	}
	return res, rows.Err()
}

// ReminderCandidates returns open items with a reminder dated at or after
// from. A reminder never fires after its item's date, so nothing earlier can
// be due.
func (r Repo) ReminderCandidates(ctx context.Context, from time.Time) ([]domain.Item, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+itemColumns+` FROM items WHERE reminder_minutes IS NOT NULL AND status<>? AND date>=? ORDER BY date ASC`,
		string(domain.StatusDone), formatTime(from))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func scanChanges(rows *sql.Rows) ([]domain.Change, error) {
	defer rows.Close()
	var res []domain.Change
	for rows.Next() {
		var c domain.Change
		var kind, itemID, payload sql.NullString
		if err := rows.Scan(&c.ID, &c.TS, &c.Type, &kind, &itemID, &c.ActorID, &payload); err != nil {
			return nil, err
		}
		c.Kind = kind.String
		c.ItemID = itemID.String
		c.Payload = payload.String
		res = append(res, c)
	}
	return res, rows.Err()
}

type ChangeFilter struct {
	Type   string
	Kind   domain.Kind
	ItemID string
	// Before pages backwards from a change id.
	Before int64
	Limit  int
}

// LatestChanges returns the newest changes first.
func (r Repo) LatestChanges(ctx context.Context, f ChangeFilter) ([]domain.Change, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.ItemID != "" {
		clauses = append(clauses, "item_id=?")
		args = append(args, f.ItemID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,kind,item_id,actor_id,payload_json FROM changes WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, f.Limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanChanges(rows)
}

// ChangesAfter returns changes with ids greater than cursor, oldest first.
func (r Repo) ChangesAfter(ctx context.Context, cursor int64, limit int) ([]domain.Change, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,type,kind,item_id,actor_id,payload_json FROM changes WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	return scanChanges(rows)
}

func (r Repo) LatestChangeID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM changes`).Scan(&id)
	return id, err
}
