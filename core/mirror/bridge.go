package mirror

import (
	"context"
	"encoding/json"
	"sync"

	"sync-bridge/core/engine"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// BridgeState is the notification-routing phase of a session.
type BridgeState int32

const (
	// Buffering counts notifications while the initial load runs.
	Buffering BridgeState = iota
	// Live forwards notifications to the session as they arrive.
	Live
)

// String returns the lowercase state name.
func (s BridgeState) String() string {
	switch s {
	case Buffering:
		return "buffering"
	case Live:
		return "live"
	default:
		return "unknown"
	}
}

// BridgeStats is a point-in-time snapshot of bridge counters.
type BridgeStats struct {
	// State is the current routing phase.
	State string `json:"state"`

	// Buffered counts notifications absorbed during the current load.
	Buffered int `json:"buffered"`

	// Suppressed counts notifications dropped as echoes of local writes.
	Suppressed int `json:"suppressed"`

	// Forwarded counts change events handed to the session.
	Forwarded int `json:"forwarded"`

	// Refetches counts point lookups issued for row-less notifications.
	Refetches int `json:"refetches"`
}

// lookupResult carries a point refetch outcome through singleflight.
type lookupResult struct {
	payload json.RawMessage
	ok      bool
}

// NotificationBridge routes raw engine notifications into the session.
//
// While the initial load runs the bridge buffers: arrivals are counted and
// otherwise dropped, because the load-completion transition always performs
// one full refetch-and-diff pass, which re-captures whatever the buffered
// events described without risking a miss or a double-apply. Once live,
// notifications are filtered through the echo suppressor and converted to
// change events, either directly from the carried post-image or through a
// point refetch of the key.
type NotificationBridge struct {
	mu         sync.Mutex
	state      BridgeState
	buffered   int
	suppressed int
	forwarded  int
	refetches  int

	echo    *EchoSuppressor
	lookup  func(ctx context.Context, key string) (json.RawMessage, bool, error)
	forward func(ev ChangeEvent)
	sf      singleflight.Group
	logger  *zap.Logger
}

// NewNotificationBridge creates a bridge in the Buffering state. lookup
// fetches the current payload for one key; forward hands a converted event
// to the session.
func NewNotificationBridge(
	echo *EchoSuppressor,
	lookup func(ctx context.Context, key string) (json.RawMessage, bool, error),
	forward func(ev ChangeEvent),
	logger *zap.Logger,
) *NotificationBridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationBridge{
		echo:    echo,
		lookup:  lookup,
		forward: forward,
		logger:  logger,
	}
}

// OnRaw decodes one raw channel payload and routes it. Undecodable payloads
// are logged and dropped.
func (b *NotificationBridge) OnRaw(ctx context.Context, raw []byte) {
	n, err := engine.DecodeNotification(raw)
	if err != nil {
		b.logger.Warn("Dropping undecodable notification", zap.Error(err))
		return
	}
	b.OnNotification(ctx, n)
}

// OnNotification routes one decoded notification according to the current
// state.
func (b *NotificationBridge) OnNotification(ctx context.Context, n engine.Notification) {
	b.mu.Lock()
	if b.state == Buffering {
		b.buffered++
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	if b.echo.IsEcho(n.Key) {
		b.mu.Lock()
		b.suppressed++
		b.mu.Unlock()
		b.logger.Debug("Suppressed echo notification",
			zap.String("key", n.Key),
			zap.String("op", string(n.Op)))
		return
	}

	switch {
	case n.Op == engine.OpDelete:
		b.send(ChangeEvent{Op: engine.OpDelete, Key: n.Key})
	case n.HasRow():
		b.send(ChangeEvent{Op: n.Op, Key: n.Key, Payload: n.Row})
	default:
		b.refetch(ctx, n)
	}
}

// refetch resolves a row-less notification by reading the key back from the
// table. Concurrent refetches of the same key share one lookup; every caller
// still forwards, which is safe because event application is idempotent. A
// missing row means the key was deleted between the notification and the
// lookup, so a delete is forwarded instead.
func (b *NotificationBridge) refetch(ctx context.Context, n engine.Notification) {
	b.mu.Lock()
	b.refetches++
	b.mu.Unlock()

	v, err, _ := b.sf.Do(n.Key, func() (any, error) {
		payload, ok, err := b.lookup(ctx, n.Key)
		if err != nil {
			return nil, err
		}
		return lookupResult{payload: payload, ok: ok}, nil
	})
	if err != nil {
		b.logger.Warn("Point refetch failed, dropping notification",
			zap.String("key", n.Key),
			zap.Error(err))
		return
	}

	res := v.(lookupResult)
	if !res.ok {
		b.send(ChangeEvent{Op: engine.OpDelete, Key: n.Key})
		return
	}
	b.send(ChangeEvent{Op: n.Op, Key: n.Key, Payload: res.payload})
}

// send forwards one event and bumps the counter.
func (b *NotificationBridge) send(ev ChangeEvent) {
	b.mu.Lock()
	b.forwarded++
	b.mu.Unlock()
	b.forward(ev)
}

// GoLive flips the bridge to Live and returns how many notifications were
// buffered during the load. The transition is one-way; later calls return
// zero.
func (b *NotificationBridge) GoLive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Live {
		return 0
	}
	b.state = Live
	n := b.buffered
	b.buffered = 0
	return n
}

// State returns the current routing phase.
func (b *NotificationBridge) State() BridgeState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the bridge counters.
func (b *NotificationBridge) Stats() BridgeStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BridgeStats{
		State:      b.state.String(),
		Buffered:   b.buffered,
		Suppressed: b.suppressed,
		Forwarded:  b.forwarded,
		Refetches:  b.refetches,
	}
}
