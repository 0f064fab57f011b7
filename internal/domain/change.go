package domain

// Change is one row of the append-only change log.
type Change struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	ItemID  string `json:"item_id,omitempty"`
	ActorID string `json:"actor_id"`
	Payload string `json:"payload_json"`
}

// Change types written by the engine.
const (
	ChangeItemCreated   = "item.created"
	ChangeItemUpdated   = "item.updated"
	ChangeItemStatus    = "item.status"
	ChangeItemDeleted   = "item.deleted"
	ChangeItemsImported = "items.imported"
	ChangeAPIKeyCreated = "apikey.created"
)

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
