package mirror

import (
	"sync"
	"time"
)

const (
	// DefaultSuppressionWindow is how long after a local write an incoming
	// notification for the same key is treated as an echo.
	DefaultSuppressionWindow = 2 * time.Second

	// DefaultEchoTTL is how long a local-write entry is retained before
	// pruning. Entries between the suppression window and the TTL no
	// longer suppress but are kept so the guard's behavior stays
	// observable in diagnostics.
	DefaultEchoTTL = 60 * time.Second
)

// EchoSuppressor tracks recently locally-written record keys so change
// notifications caused by this process's own writes are not re-applied as if
// they came from another writer.
//
// Suppression is a timing heuristic, not a correctness guarantee: a foreign
// write to a key this process wrote within the suppression window is
// indistinguishable from the echo and is suppressed too. Collaborative
// multi-writer flows depend on this window being short, so it must not be
// widened casually.
type EchoSuppressor struct {
	mu      sync.Mutex
	written map[string]time.Time
	window  time.Duration
	ttl     time.Duration

	// now is swapped out by tests.
	now func() time.Time
}

// NewEchoSuppressor returns a suppressor with the given window and TTL.
// Non-positive values fall back to the defaults.
func NewEchoSuppressor(window, ttl time.Duration) *EchoSuppressor {
	if window <= 0 {
		window = DefaultSuppressionWindow
	}
	if ttl <= 0 {
		ttl = DefaultEchoTTL
	}
	return &EchoSuppressor{
		written: make(map[string]time.Time),
		window:  window,
		ttl:     ttl,
		now:     time.Now,
	}
}

// MarkLocal records the current time against key. Called for every key in a
// successfully committed local mutation batch.
func (e *EchoSuppressor) MarkLocal(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.written[key] = e.now()
}

// IsEcho reports whether a notification for key should be treated as the
// echo of a local write: an entry exists and is younger than the
// suppression window.
func (e *EchoSuppressor) IsEcho(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	at, ok := e.written[key]
	if !ok {
		return false
	}
	return e.now().Sub(at) < e.window
}

// Prune drops entries older than the TTL. It runs on every mutation batch
// to keep the map bounded; without it the guard grows with every write for
// the life of the session.
func (e *EchoSuppressor) Prune() {
	e.mu.Lock()
	defer e.mu.Unlock()
	cutoff := e.now().Add(-e.ttl)
	for key, at := range e.written {
		if at.Before(cutoff) {
			delete(e.written, key)
		}
	}
}

// Len returns the number of tracked entries.
func (e *EchoSuppressor) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.written)
}

// Reset discards all entries. Called on session stop.
func (e *EchoSuppressor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.written = make(map[string]time.Time)
}
