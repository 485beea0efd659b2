package collections

import (
	"sync"
	"time"

	"sync-bridge/core/mirror"

	"go.uber.org/zap"
)

// Service owns the running sync sessions, keyed by mirrored table.
type Service struct {
	logger       *zap.Logger
	awaitTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*mirror.Session
	order    []string
}

// NewService creates the session registry. awaitTimeout is the default for
// await requests that do not carry their own.
func NewService(logger *zap.Logger, awaitTimeout time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if awaitTimeout <= 0 {
		awaitTimeout = 5 * time.Second
	}
	return &Service{
		logger:       logger,
		awaitTimeout: awaitTimeout,
		sessions:     make(map[string]*mirror.Session),
	}
}

// Register adds a session to the registry. Re-registering a table replaces
// its session but keeps the original listing position.
func (s *Service) Register(sess *mirror.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.Table()]; !ok {
		s.order = append(s.order, sess.Table())
	}
	s.sessions[sess.Table()] = sess
}

// Session looks up the session mirroring a table.
func (s *Service) Session(table string) (*mirror.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[table]
	return sess, ok
}

// Summaries returns per-session stats in registration order.
func (s *Service) Summaries() []mirror.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]mirror.Stats, 0, len(s.order))
	for _, table := range s.order {
		out = append(out, s.sessions[table].Stats())
	}
	return out
}

// AwaitTimeout is the default await bound for requests without one.
func (s *Service) AwaitTimeout() time.Duration {
	return s.awaitTimeout
}

// StopAll stops every registered session. Safe to call more than once.
func (s *Service) StopAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, table := range s.order {
		s.sessions[table].Stop()
	}
}
