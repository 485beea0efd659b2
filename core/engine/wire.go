package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// wireNotification is the JSON shape published on a table's change channel:
//
//	{"op": "INSERT"|"UPDATE"|"DELETE", "id": <key>, "row": <post-image>}
//
// The row member is omitted for deletes and for rows too large for the
// channel. The id member may arrive as a JSON string or a JSON number,
// depending on the table's key column type.
type wireNotification struct {
	Op  string          `json:"op"`
	ID  json.RawMessage `json:"id"`
	Row json.RawMessage `json:"row,omitempty"`
}

// EncodeNotification renders n as the channel wire JSON.
func EncodeNotification(n Notification) ([]byte, error) {
	id, err := json.Marshal(n.Key)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification key: %w", err)
	}
	w := wireNotification{Op: string(n.Op), ID: id}
	if n.Op != OpDelete {
		w.Row = n.Row
	}
	out, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode notification: %w", err)
	}
	return out, nil
}

// DecodeNotification parses a raw channel payload into a Notification.
// Numeric ids are normalized to their decimal string form so string-keyed
// and integer-keyed tables address records the same way.
func DecodeNotification(raw []byte) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(raw, &w); err != nil {
		return Notification{}, fmt.Errorf("failed to decode notification payload: %w", err)
	}

	op := Op(w.Op)
	switch op {
	case OpInsert, OpUpdate, OpDelete:
	default:
		return Notification{}, fmt.Errorf("unknown notification op %q", w.Op)
	}

	key, err := normalizeKey(w.ID)
	if err != nil {
		return Notification{}, err
	}

	n := Notification{Op: op, Key: key}
	if op != OpDelete && len(w.Row) > 0 && !bytes.Equal(w.Row, []byte("null")) {
		n.Row = w.Row
	}
	return n, nil
}

// normalizeKey turns the wire id member into its string form. A JSON string
// is used as-is; anything else (integer keys, typically) keeps its literal
// decimal rendering.
func normalizeKey(id json.RawMessage) (string, error) {
	if len(id) == 0 {
		return "", fmt.Errorf("notification payload has no id")
	}
	var s string
	if err := json.Unmarshal(id, &s); err == nil {
		if s == "" {
			return "", fmt.Errorf("notification payload has an empty id")
		}
		return s, nil
	}
	trimmed := string(bytes.TrimSpace(id))
	if trimmed == "" || trimmed == "null" {
		return "", fmt.Errorf("notification payload has no id")
	}
	return trimmed, nil
}
