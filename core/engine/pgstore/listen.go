package pgstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"sync-bridge/core/engine"
)

const (
	// listenerMinReconnect and listenerMaxReconnect bound the backoff of
	// the underlying pq listener connection.
	listenerMinReconnect = time.Second
	listenerMaxReconnect = time.Minute

	// listenerPingInterval keeps an idle listener connection verified.
	listenerPingInterval = 90 * time.Second

	// notificationBuffer bounds the decoded delivery channel.
	notificationBuffer = 64
)

// Subscribe implements engine.Notifier over LISTEN/NOTIFY. The returned
// channel delivers decoded notifications for the table's channel until
// cancel is called or ctx is done; it is closed afterwards.
//
// A dropped connection is re-established by the listener with backoff.
// Notifications published while the connection was down are gone for good,
// which is why consumers pair this stream with periodic reconciliation
// passes instead of trusting it blindly.
func (s *Store) Subscribe(ctx context.Context, table string) (<-chan engine.Notification, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	channel := engine.ChannelName(table)

	listener := pq.NewListener(s.dsn, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				s.logger.Warn("Listener connection event",
					zap.String("channel", channel),
					zap.Error(err))
			}
		})
	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, nil, fmt.Errorf("failed to listen on channel %q: %w", channel, err)
	}

	out := make(chan engine.Notification, notificationBuffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := listener.Close(); err != nil {
				s.logger.Warn("Failed to close listener",
					zap.String("channel", channel),
					zap.Error(err))
			}
		})
	}

	go func() {
		defer close(out)
		// Tear the listener down no matter which branch ends the loop, so
		// a context cancellation does not strand the connection.
		defer cancel()
		ticker := time.NewTicker(listenerPingInterval)
		defer ticker.Stop()
		for {
			select {
			case raw, ok := <-listener.Notify:
				if !ok {
					return
				}
				if raw == nil {
					// The listener reconnected; anything published in
					// between was lost.
					s.logger.Warn("Notification listener reconnected",
						zap.String("channel", channel))
					continue
				}
				n, err := engine.DecodeNotification([]byte(raw.Extra))
				if err != nil {
					s.logger.Warn("Dropping undecodable notification",
						zap.String("channel", channel),
						zap.Error(err))
					continue
				}
				select {
				case out <- n:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-ticker.C:
				if err := listener.Ping(); err != nil {
					s.logger.Warn("Listener ping failed",
						zap.String("channel", channel),
						zap.Error(err))
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, cancel, nil
}
