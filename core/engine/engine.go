package engine

import (
	"context"
	"encoding/json"
	"time"
)

// Engine is a storage backend able to host mirrored tables.
// Concrete implementations live in the subpackages (gormstore, pgstore,
// memstore); each additionally implements Notifier, LiveQuerier, or both.
type Engine interface {
	// Table returns the handle for one keyed table. No storage is touched
	// until Ensure is called on the handle.
	Table(name string) Table

	// Close releases the underlying connections.
	Close() error
}

// Table is one keyed table of serialized payloads.
type Table interface {
	// Name returns the underlying table name.
	Name() string

	// Ensure creates the table and any notification plumbing (triggers,
	// functions) if absent. It is idempotent and is called on every
	// session start.
	Ensure(ctx context.Context) error

	// Page returns up to limit records with keys strictly greater than
	// afterKey, in ascending key order. An empty afterKey starts from the
	// beginning. Returning fewer than limit records signals the final page.
	Page(ctx context.Context, afterKey string, limit int) ([]Record, error)

	// Get returns the record stored under key. ok is false when the key
	// is absent; that is not an error.
	Get(ctx context.Context, key string) (Record, bool, error)

	// Update runs fn inside a single transaction. All writes issued
	// through the Tx commit together or not at all.
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx is the write surface available inside Table.Update.
type Tx interface {
	// Put inserts or replaces the payload stored under key.
	Put(key string, payload json.RawMessage) error

	// Get reads the payload currently stored under key within this
	// transaction. ok is false when the key is absent.
	Get(key string) (json.RawMessage, bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error
}

// Notifier is the row-level change-notification capability. Engines that
// implement it deliver one decoded Notification per changed row, which lets
// consumers point-diff instead of rescanning.
type Notifier interface {
	// Subscribe starts delivering change notifications for table. The
	// returned cancel func stops delivery and releases the listener; the
	// events channel is closed afterwards.
	Subscribe(ctx context.Context, table string) (events <-chan Notification, cancel func(), err error)
}

// LiveQuerier is the capability of engines without row-level notifications:
// Live delivers a bare signal whenever the table may have changed, asking the
// consumer to rescan and diff full snapshots.
type LiveQuerier interface {
	// Live starts the change signal for table at the given polling
	// interval. The returned cancel func stops the signal; the ticks
	// channel is closed afterwards.
	Live(ctx context.Context, table string, interval time.Duration) (ticks <-chan struct{}, cancel func(), err error)
}
