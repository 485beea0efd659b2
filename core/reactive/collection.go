package reactive

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// WriteType identifies the kind of staged change.
type WriteType string

const (
	// WriteInsert stages a new record.
	WriteInsert WriteType = "insert"
	// WriteUpdate stages a replacement payload for an existing record.
	WriteUpdate WriteType = "update"
	// WriteDelete stages a removal; only the key is required.
	WriteDelete WriteType = "delete"
)

// Write is one staged change inside an open batch.
type Write struct {
	// Type is the kind of change.
	Type WriteType `json:"type"`

	// Key is the affected record key.
	Key string `json:"key"`

	// Value is the full payload for inserts and updates; ignored for
	// deletes.
	Value json.RawMessage `json:"value,omitempty"`
}

// ErrNoOpenBatch is returned when Write or Commit is called outside a
// Begin/Commit cycle.
var ErrNoOpenBatch = errors.New("reactive: no open batch")

// ErrBatchOpen is returned when Begin is called while a batch is already
// open. The sync engine serializes its cycles, so hitting this indicates a
// sequencing bug in the caller.
var ErrBatchOpen = errors.New("reactive: batch already open")

// Collection is the in-memory mirrored view of one table, observed by UI
// layers. The sync engine is its only writer and drives it through the
// Begin/Write/Commit/MarkReady contract; readers use Get, Snapshot, Watch
// and WaitReady.
//
// Applying a batch is idempotent: an insert for an existing key behaves as
// an update, and a delete for an absent key is a no-op, so replaying a batch
// leaves the collection unchanged.
type Collection struct {
	mu       sync.RWMutex
	items    map[string]json.RawMessage
	staged   []Write
	open     bool
	ready    bool
	version  uint64
	readyCh  chan struct{}
	updateCh chan struct{}
}

// NewCollection returns an empty, not-yet-ready collection.
func NewCollection() *Collection {
	return &Collection{
		items:    make(map[string]json.RawMessage),
		readyCh:  make(chan struct{}),
		updateCh: make(chan struct{}),
	}
}

// Begin opens a write batch. At most one batch may be open at a time.
func (c *Collection) Begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open {
		return ErrBatchOpen
	}
	c.open = true
	c.staged = c.staged[:0]
	return nil
}

// Write stages one change within the open batch.
func (c *Collection) Write(w Write) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrNoOpenBatch
	}
	c.staged = append(c.staged, w)
	return nil
}

// Commit atomically applies all staged writes to the view and notifies
// watchers. Committing an empty batch closes it without notifying.
func (c *Collection) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return ErrNoOpenBatch
	}
	applied := len(c.staged) > 0
	for _, w := range c.staged {
		switch w.Type {
		case WriteInsert, WriteUpdate:
			c.items[w.Key] = w.Value
		case WriteDelete:
			delete(c.items, w.Key)
		}
	}
	c.staged = c.staged[:0]
	c.open = false
	if applied {
		c.version++
		close(c.updateCh)
		c.updateCh = make(chan struct{})
	}
	return nil
}

// MarkReady signals initial load completion to observers. The first call
// unblocks WaitReady; further calls are no-ops.
func (c *Collection) MarkReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return
	}
	c.ready = true
	close(c.readyCh)
}

// Ready reports whether MarkReady has been called.
func (c *Collection) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// WaitReady blocks until MarkReady is called or ctx is done.
func (c *Collection) WaitReady(ctx context.Context) error {
	c.mu.RLock()
	ch := c.readyCh
	c.mu.RUnlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Watch returns a channel that is closed on the next committed change.
// Callers re-arm by calling Watch again after each close.
func (c *Collection) Watch() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.updateCh
}

// Get returns the payload stored under key.
func (c *Collection) Get(key string) (json.RawMessage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Snapshot returns a copy of the current view.
func (c *Collection) Snapshot() map[string]json.RawMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]json.RawMessage, len(c.items))
	for k, v := range c.items {
		out[k] = v
	}
	return out
}

// Len returns the number of records in the view.
func (c *Collection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Version returns the number of non-empty commits applied so far. It only
// ever increases, so observers can cheaply detect that the view moved
// between two reads.
func (c *Collection) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}
