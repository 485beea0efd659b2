package models

import "encoding/json"

// Mutation is one requested row change. Inserts carry payload, merge-mode
// updates carry changes, replace-mode updates carry payload, deletes carry
// only the key.
type Mutation struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Changes json.RawMessage `json:"changes,omitempty"`
}

// SnapshotResponse is the full decoded view of one mirrored collection.
type SnapshotResponse struct {
	Table   string                     `json:"table"`
	Ready   bool                       `json:"ready"`
	Records int                        `json:"records"`
	Rows    map[string]json.RawMessage `json:"rows"`
}

// RecordResponse is a single record from the reactive view.
type RecordResponse struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload"`
}

// MutationResponse reports the size of an accepted mutation batch. Rows the
// validator rejected are skipped inside the batch and logged, so the count
// reflects submissions, not writes.
type MutationResponse struct {
	Count int `json:"count"`
}

// AwaitRequest asks a session to block until keys have entered the view.
type AwaitRequest struct {
	// Keys are the record keys to wait for.
	Keys []string `json:"keys"`
	// TimeoutMS bounds the wait in milliseconds. Accepts a JSON number or
	// a numeric string; zero falls back to the configured default.
	TimeoutMS any `json:"timeout_ms"`
}

// AwaitResponse confirms that every requested key was observed.
type AwaitResponse struct {
	Observed []string `json:"observed"`
}

// RefetchResponse reports the state after a manual reconciliation pass.
type RefetchResponse struct {
	Table   string `json:"table"`
	Records int    `json:"records"`
}
