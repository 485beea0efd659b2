package mirror

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"

	"sync-bridge/core/engine"
)

// Snapshot is a full key-to-payload view of one table at a point in time.
// Within one load cycle a Snapshot holds at most one entry per key; if the
// source yields a key twice, the last value wins.
type Snapshot map[string]json.RawMessage

// Clone returns a shallow copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the snapshot's keys in ascending order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ChangeEvent is one computed change against the reactive view.
type ChangeEvent struct {
	// Op is the change kind.
	Op engine.Op `json:"op"`

	// Key is the affected record key.
	Key string `json:"key"`

	// Payload is the post-image for inserts and updates; nil for deletes.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Diff computes the ordered change set that transforms prev into cur.
//
// For every key in cur: absent from prev emits an insert, present with a
// structurally different payload emits an update, present and equal emits
// nothing. Every key in prev absent from cur emits a delete. Inserts and
// updates come before deletes, each group in ascending key order, so a key
// that is only relocating between representations never transiently shows
// zero rows within the same commit.
func Diff(prev, cur Snapshot) []ChangeEvent {
	events := make([]ChangeEvent, 0, len(cur))

	for _, key := range cur.Keys() {
		payload := cur[key]
		old, ok := prev[key]
		if !ok {
			events = append(events, ChangeEvent{Op: engine.OpInsert, Key: key, Payload: payload})
			continue
		}
		if !EqualPayload(old, payload) {
			events = append(events, ChangeEvent{Op: engine.OpUpdate, Key: key, Payload: payload})
		}
	}

	for _, key := range prev.Keys() {
		if _, ok := cur[key]; !ok {
			events = append(events, ChangeEvent{Op: engine.OpDelete, Key: key})
		}
	}

	return events
}

// Apply folds events into a copy of the snapshot and returns the result.
// The receiver is not modified.
func (s Snapshot) Apply(events []ChangeEvent) Snapshot {
	out := s.Clone()
	for _, ev := range events {
		switch ev.Op {
		case engine.OpInsert, engine.OpUpdate:
			out[ev.Key] = ev.Payload
		case engine.OpDelete:
			delete(out, ev.Key)
		}
	}
	return out
}

// EqualPayload reports deep structural equality of two serialized payloads.
// Both sides are decoded and compared as values, so member ordering and
// whitespace differences do not register as changes. Payloads that fail to
// decode fall back to a byte comparison.
func EqualPayload(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}
