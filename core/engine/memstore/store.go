package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"sync-bridge/core/engine"
)

// subscriberBuffer bounds each subscription channel. A subscriber that falls
// this far behind starts losing notifications, mirroring how real engines
// shed slow listeners.
const subscriberBuffer = 256

// Store is an in-memory storage engine with both change-delivery
// capabilities: row-level notifications and a polling live-query signal.
// Unit tests run sessions against it, and the memory driver lets the daemon
// run with no external services.
type Store struct {
	mu     sync.Mutex
	tables map[string]*Table
	closed bool
}

// New returns an empty store.
func New() *Store {
	return &Store{tables: make(map[string]*Table)}
}

// Table implements engine.Engine.
func (s *Store) Table(name string) engine.Table {
	return s.get(name)
}

// get returns the named table, creating it on first use.
func (s *Store) get(name string) *Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		t = &Table{
			name: name,
			rows: make(map[string]json.RawMessage),
			subs: make(map[int]chan engine.Notification),
		}
		s.tables[name] = t
	}
	return t
}

// Close implements engine.Engine. All subscriptions end and their channels
// close.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, t := range s.tables {
		t.closeSubs()
	}
	return nil
}

// Subscribe implements engine.Notifier.
func (s *Store) Subscribe(ctx context.Context, table string) (<-chan engine.Notification, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, errors.New("memstore is closed")
	}
	s.mu.Unlock()

	t := s.get(table)
	ch, id := t.addSub()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			t.dropSub(id)
		})
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return ch, cancel, nil
}

// Live implements engine.LiveQuerier: a goroutine polls the table's commit
// version at the given interval and ticks whenever it moved.
func (s *Store) Live(ctx context.Context, table string, interval time.Duration) (<-chan struct{}, func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, errors.New("memstore is closed")
	}
	s.mu.Unlock()

	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	if ctx == nil {
		ctx = context.Background()
	}

	t := s.get(table)
	ticks := make(chan struct{}, 1)
	stop := make(chan struct{})

	var once sync.Once
	cancel := func() {
		once.Do(func() { close(stop) })
	}

	go func() {
		defer close(ticks)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		last := t.version()
		for {
			select {
			case <-ticker.C:
				if v := t.version(); v != last {
					last = v
					select {
					case ticks <- struct{}{}:
					default:
					}
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return ticks, cancel, nil
}

// Table is one in-memory keyed table.
type Table struct {
	name string

	mu      sync.Mutex
	rows    map[string]json.RawMessage
	subs    map[int]chan engine.Notification
	nextSub int
	ver     uint64
}

// Name implements engine.Table.
func (t *Table) Name() string { return t.name }

// Ensure implements engine.Table. Creation happened on first use, so this
// is a no-op that exists to satisfy the idempotent-setup contract.
func (t *Table) Ensure(context.Context) error { return nil }

// Page implements engine.Table.
func (t *Table) Page(_ context.Context, afterKey string, limit int) ([]engine.Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		if k > afterKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}

	out := make([]engine.Record, 0, len(keys))
	for _, k := range keys {
		out = append(out, engine.Record{Key: k, Payload: t.rows[k]})
	}
	return out, nil
}

// Get implements engine.Table.
func (t *Table) Get(_ context.Context, key string) (engine.Record, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	payload, ok := t.rows[key]
	if !ok {
		return engine.Record{}, false, nil
	}
	return engine.Record{Key: key, Payload: payload}, true, nil
}

// Update implements engine.Table. Writes are buffered and applied together
// when fn returns nil; notifications for the applied writes go out after
// the commit, in write order.
func (t *Table) Update(_ context.Context, fn func(engine.Tx) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx := &memTx{table: t, overlay: make(map[string]*json.RawMessage)}
	if err := fn(tx); err != nil {
		return err
	}

	notes := make([]engine.Notification, 0, len(tx.order))
	for _, key := range tx.order {
		v := tx.overlay[key]
		_, existed := t.rows[key]
		if v == nil {
			if !existed {
				continue
			}
			delete(t.rows, key)
			notes = append(notes, engine.Notification{Op: engine.OpDelete, Key: key})
			continue
		}
		t.rows[key] = *v
		op := engine.OpInsert
		if existed {
			op = engine.OpUpdate
		}
		notes = append(notes, engine.Notification{Op: op, Key: key, Row: *v})
	}
	if len(notes) > 0 {
		t.ver++
	}

	for _, n := range notes {
		for _, ch := range t.subs {
			select {
			case ch <- n:
			default:
			}
		}
	}
	return nil
}

// version returns the commit counter; the live-query poller watches it.
func (t *Table) version() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ver
}

// addSub registers a subscription channel.
func (t *Table) addSub() (chan engine.Notification, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ch := make(chan engine.Notification, subscriberBuffer)
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	return ch, id
}

// dropSub removes and closes a subscription channel.
func (t *Table) dropSub(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.subs[id]; ok {
		delete(t.subs, id)
		close(ch)
	}
}

// closeSubs ends every subscription.
func (t *Table) closeSubs() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

// memTx buffers writes for one Update call. A nil overlay entry marks a
// delete; order preserves first-write order per key for notification
// emission.
type memTx struct {
	table   *Table
	overlay map[string]*json.RawMessage
	order   []string
}

// Put implements engine.Tx.
func (tx *memTx) Put(key string, payload json.RawMessage) error {
	cp := make(json.RawMessage, len(payload))
	copy(cp, payload)
	tx.stage(key, &cp)
	return nil
}

// Get implements engine.Tx with read-your-writes semantics.
func (tx *memTx) Get(key string) (json.RawMessage, bool, error) {
	if v, ok := tx.overlay[key]; ok {
		if v == nil {
			return nil, false, nil
		}
		return *v, true, nil
	}
	payload, ok := tx.table.rows[key]
	return payload, ok, nil
}

// Delete implements engine.Tx.
func (tx *memTx) Delete(key string) error {
	tx.stage(key, nil)
	return nil
}

// stage records one write, keeping the key's first position in the order.
func (tx *memTx) stage(key string, v *json.RawMessage) {
	if _, ok := tx.overlay[key]; !ok {
		tx.order = append(tx.order, key)
	}
	tx.overlay[key] = v
}
