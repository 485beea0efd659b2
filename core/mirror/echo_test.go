package mirror

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fakeClock drives the suppressor's time source from the test.
type fakeClock struct {
	at time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time          { return c.at }
func (c *fakeClock) advance(d time.Duration) { c.at = c.at.Add(d) }

func newTestSuppressor(clock *fakeClock) *EchoSuppressor {
	e := NewEchoSuppressor(2*time.Second, 60*time.Second)
	e.now = clock.now
	return e
}

func TestEchoSuppressor_SuppressesWithinWindow(t *testing.T) {
	clock := newFakeClock()
	e := newTestSuppressor(clock)

	e.MarkLocal("1")
	assert.True(t, e.IsEcho("1"))

	clock.advance(1999 * time.Millisecond)
	assert.True(t, e.IsEcho("1"), "still inside the window")

	clock.advance(time.Millisecond)
	assert.False(t, e.IsEcho("1"), "window elapsed")
}

func TestEchoSuppressor_ForeignKeyNeverSuppressed(t *testing.T) {
	e := newTestSuppressor(newFakeClock())
	e.MarkLocal("1")
	assert.False(t, e.IsEcho("2"))
}

func TestEchoSuppressor_RemarkRestartsWindow(t *testing.T) {
	clock := newFakeClock()
	e := newTestSuppressor(clock)

	e.MarkLocal("1")
	clock.advance(3 * time.Second)
	assert.False(t, e.IsEcho("1"))

	e.MarkLocal("1")
	assert.True(t, e.IsEcho("1"), "a fresh write opens a fresh window")
}

func TestEchoSuppressor_EntriesSurviveWindowUntilTTL(t *testing.T) {
	clock := newFakeClock()
	e := newTestSuppressor(clock)

	e.MarkLocal("1")
	clock.advance(10 * time.Second)

	// Past the window the entry no longer suppresses, but it is retained
	// until the TTL pass drops it.
	assert.False(t, e.IsEcho("1"))
	e.Prune()
	assert.Equal(t, 1, e.Len())

	clock.advance(51 * time.Second)
	e.Prune()
	assert.Equal(t, 0, e.Len())
}

func TestEchoSuppressor_PruneBoundsMemory(t *testing.T) {
	clock := newFakeClock()
	e := newTestSuppressor(clock)

	// A long-lived session writing continuously must not accumulate one
	// entry per key forever.
	for i := 0; i < 1000; i++ {
		e.MarkLocal(fmt.Sprintf("old-%d", i))
	}
	clock.advance(61 * time.Second)
	for i := 0; i < 10; i++ {
		e.MarkLocal(fmt.Sprintf("new-%d", i))
	}
	e.Prune()

	assert.Equal(t, 10, e.Len(), "expired entries must be dropped")
	assert.True(t, e.IsEcho("new-3"))
	assert.False(t, e.IsEcho("old-42"))
}

func TestEchoSuppressor_Reset(t *testing.T) {
	e := newTestSuppressor(newFakeClock())
	e.MarkLocal("1")
	e.MarkLocal("2")

	e.Reset()

	assert.Equal(t, 0, e.Len())
	assert.False(t, e.IsEcho("1"))
}

func TestEchoSuppressor_DefaultsApplied(t *testing.T) {
	e := NewEchoSuppressor(0, 0)
	assert.Equal(t, DefaultSuppressionWindow, e.window)
	assert.Equal(t, DefaultEchoTTL, e.ttl)
}
