package mirror

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// awaiter is one pending Await call: the keys it still misses and the
// channel closed once the set empties.
type awaiter struct {
	missing map[string]struct{}
	done    chan struct{}
}

// SeenTracker records which record keys have been observed entering the
// reactive layer at least once, and lets callers block until a specific set
// of keys has been observed. Callers that issue an optimistic write and then
// immediately await its keys resolve without a tick if the write already
// round-tripped.
//
// Awaiting works as a condition variable keyed by a set: every MarkSeen
// re-checks all pending awaiters under the lock and wakes those whose last
// missing key just arrived. There is no polling.
type SeenTracker struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	pending []*awaiter

	// now is swapped out by tests.
	now func() time.Time
}

// NewSeenTracker returns an empty tracker.
func NewSeenTracker() *SeenTracker {
	return &SeenTracker{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// MarkSeen records the keys as observed and wakes any awaiter whose
// requested set is now fully seen. Re-marking a seen key keeps its original
// observation time.
func (s *SeenTracker) MarkSeen(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		if _, ok := s.seen[key]; !ok {
			s.seen[key] = s.now()
		}
	}

	remaining := s.pending[:0]
	for _, a := range s.pending {
		for _, key := range keys {
			delete(a.missing, key)
		}
		if len(a.missing) == 0 {
			close(a.done)
			continue
		}
		remaining = append(remaining, a)
	}
	s.pending = remaining
}

// Forget removes keys from the tracker. Called on delete-propagation; a
// later await for a forgotten key blocks until the key is seen again.
func (s *SeenTracker) Forget(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.seen, key)
	}
}

// Seen reports whether key has been observed.
func (s *SeenTracker) Seen(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[key]
	return ok
}

// Await blocks until every requested key has been marked seen, the timeout
// elapses, or ctx is done. It returns immediately when all keys are already
// seen at call time. On timeout the error wraps ErrAwaitTimeout and names
// the keys still missing.
func (s *SeenTracker) Await(ctx context.Context, keys []string, timeout time.Duration) error {
	s.mu.Lock()
	missing := make(map[string]struct{})
	for _, key := range keys {
		if _, ok := s.seen[key]; !ok {
			missing[key] = struct{}{}
		}
	}
	if len(missing) == 0 {
		s.mu.Unlock()
		return nil
	}
	a := &awaiter{missing: missing, done: make(chan struct{})}
	s.pending = append(s.pending, a)
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-a.done:
		return nil
	case <-timer.C:
		left := s.abandon(a)
		if left == nil {
			// Resolved between the timer firing and the lock.
			return nil
		}
		return fmt.Errorf("keys %v not observed within %s: %w", left, timeout, ErrAwaitTimeout)
	case <-ctx.Done():
		s.abandon(a)
		return ctx.Err()
	}
}

// abandon removes a timed-out or cancelled awaiter from the pending list and
// returns its still-missing keys in stable order. If the awaiter resolved
// concurrently, nil is returned.
func (s *SeenTracker) abandon(a *awaiter) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-a.done:
		return nil
	default:
	}

	remaining := s.pending[:0]
	for _, p := range s.pending {
		if p != a {
			remaining = append(remaining, p)
		}
	}
	s.pending = remaining

	left := make([]string, 0, len(a.missing))
	for key := range a.missing {
		left = append(left, key)
	}
	sort.Strings(left)
	return left
}

// Reset discards all seen state and rejects nothing: pending awaiters keep
// waiting for their timeout. Called on session stop.
func (s *SeenTracker) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = make(map[string]time.Time)
}
