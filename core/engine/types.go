package engine

import "encoding/json"

// Op identifies the kind of change applied to a row.
type Op string

const (
	// OpInsert marks a row that did not previously exist.
	OpInsert Op = "INSERT"
	// OpUpdate marks a row whose payload changed.
	OpUpdate Op = "UPDATE"
	// OpDelete marks a row that was removed.
	OpDelete Op = "DELETE"
)

// Record is one stored row: a stable primary key and the serialized payload
// kept under it. The payload is opaque to the engine.
type Record struct {
	// Key is the primary key, normalized to its string form.
	Key string `json:"key"`

	// Payload is the serialized document stored under Key.
	Payload json.RawMessage `json:"payload"`
}

// Notification is one decoded change notification from an engine's
// publish/subscribe channel.
type Notification struct {
	// Op is the change kind reported by the engine.
	Op Op `json:"op"`

	// Key is the affected primary key, normalized to its string form.
	Key string `json:"id"`

	// Row is the post-image payload. It is nil for deletes and for engines
	// (or rows) where the channel omits the post-image, in which case the
	// consumer must re-fetch the row by key.
	Row json.RawMessage `json:"row,omitempty"`
}

// HasRow reports whether the notification carries a post-image payload.
func (n Notification) HasRow() bool {
	return len(n.Row) > 0
}
