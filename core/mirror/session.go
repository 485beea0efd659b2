package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sync-bridge/core/engine"
	"sync-bridge/core/reactive"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State is the lifecycle phase of a SyncSession.
type State int32

const (
	// StateInitializing covers table setup and subscription establishment.
	StateInitializing State = iota
	// StateLoading covers the initial paged load; notifications buffer.
	StateLoading
	// StateLive is steady state; notifications flow into the view.
	StateLive
	// StateStopped is terminal; a restart creates a brand-new session.
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateLoading:
		return "loading"
	case StateLive:
		return "live"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// UpdateMode selects how update mutations construct the stored payload.
type UpdateMode string

const (
	// UpdateReplace writes the provided payload as the entire new row.
	UpdateReplace UpdateMode = "replace"
	// UpdateMerge reads the stored payload, folds the changed fields over
	// it, and writes the merged result.
	UpdateMerge UpdateMode = "merge"
)

// Mutation is one row change requested by a caller.
type Mutation struct {
	// Key is the affected record key.
	Key string `json:"key"`

	// Payload is the full record for inserts and replace-mode updates.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Changes holds only the changed fields for merge-mode updates.
	Changes json.RawMessage `json:"changes,omitempty"`
}

// Config configures one SyncSession.
type Config struct {
	// Table is the storage table to mirror.
	Table string

	// PageSize bounds initial-load and refetch pages. Zero means
	// DefaultPageSize.
	PageSize int

	// SuppressionWindow is the echo suppression window. Zero means
	// DefaultSuppressionWindow.
	SuppressionWindow time.Duration

	// EchoTTL bounds how long local-write entries are retained. Zero means
	// DefaultEchoTTL.
	EchoTTL time.Duration

	// UpdateMode selects replace or merge update semantics. Defaults to
	// UpdateReplace.
	UpdateMode UpdateMode

	// PollInterval is the live-query polling interval for engines without
	// row-level notifications. Zero means one second.
	PollInterval time.Duration

	// Validator checks payloads entering the reactive layer. Nil accepts
	// everything.
	Validator Validator

	// Logger receives session logs. Nil discards them.
	Logger *zap.Logger
}

// Stats is a point-in-time snapshot of one session.
type Stats struct {
	// ID is the session instance id.
	ID string `json:"id"`

	// Table is the mirrored table.
	Table string `json:"table"`

	// State is the lifecycle phase.
	State string `json:"state"`

	// Ready reports whether the collection has been marked ready.
	Ready bool `json:"ready"`

	// Records is the current reactive view size.
	Records int `json:"records"`

	// Applied counts change events applied to the view.
	Applied int `json:"applied"`

	// Refetches counts full passes beyond the initial load.
	Refetches int `json:"refetches"`

	// Skipped counts rows dropped by validation across all passes.
	Skipped int `json:"skipped"`

	// Bridge holds the notification-routing counters.
	Bridge BridgeStats `json:"bridge"`

	// LastError is the most recent non-fatal failure, if any.
	LastError string `json:"last_error,omitempty"`
}

// Session mirrors one storage table into a reactive collection. It owns the
// full pipeline: subscription, initial paged load, echo-filtered live
// notification handling, and the mutation handlers callers persist through.
//
// All begin/write/commit cycles against the collection are serialized, so
// the view never carries more than one uncommitted batch. A stopped session
// is never resumed; callers create a fresh one, which performs a fresh full
// load.
type Session struct {
	id     string
	cfg    Config
	eng    engine.Engine
	table  engine.Table
	coll   *reactive.Collection
	echo   *EchoSuppressor
	seen   *SeenTracker
	bridge *NotificationBridge
	loader *BatchedLoader
	logger *zap.Logger

	state     atomic.Int32
	readyOnce sync.Once

	// applyMu serializes begin/write/commit cycles against the collection.
	applyMu sync.Mutex

	// passMu serializes full load/refetch passes and guards prev.
	passMu sync.Mutex
	prev   Snapshot

	statsMu   sync.Mutex
	applied   int
	refetches int
	skipped   int
	lastErr   string

	runCtx      context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewSession creates a session for cfg.Table on eng, mirroring into coll.
// Nothing runs until Start.
func NewSession(eng engine.Engine, coll *reactive.Collection, cfg Config) *Session {
	if cfg.UpdateMode == "" {
		cfg.UpdateMode = UpdateReplace
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		id:     uuid.NewString(),
		cfg:    cfg,
		eng:    eng,
		coll:   coll,
		echo:   NewEchoSuppressor(cfg.SuppressionWindow, cfg.EchoTTL),
		seen:   NewSeenTracker(),
		prev:   make(Snapshot),
		logger: logger.With(zap.String("table", cfg.Table)),
	}
	s.table = eng.Table(cfg.Table)
	s.loader = NewBatchedLoader(s.table, cfg.PageSize, cfg.Validator, s.logger)
	s.bridge = NewNotificationBridge(s.echo, s.lookup, s.applyLive, s.logger)
	s.state.Store(int32(StateInitializing))
	return s
}

// ID returns the session instance id.
func (s *Session) ID() string { return s.id }

// Table returns the mirrored table name.
func (s *Session) Table() string { return s.cfg.Table }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

// Collection returns the mirrored reactive view.
func (s *Session) Collection() *reactive.Collection { return s.coll }

// Start brings the session to Live: ensure the table, subscribe, run the
// initial paged load, mark the collection ready, then reconcile whatever
// arrived during the load. Subscribing strictly before loading is mandatory;
// reversing the order opens a gap where a write landing between the load's
// snapshot read and the subscribe is silently lost.
//
// The collection is marked ready exactly once even when initialization
// fails, so observers are never stuck waiting; the failure is then returned
// as an *InitializationError.
func (s *Session) Start(ctx context.Context) error {
	if s.State() == StateStopped {
		return ErrStopped
	}
	if s.State() != StateInitializing {
		return fmt.Errorf("session for table %q already started", s.cfg.Table)
	}

	fail := func(err error) error {
		s.markReady()
		s.setLastError(err)
		s.Stop()
		return &InitializationError{Table: s.cfg.Table, Err: err}
	}

	// 1. Idempotent table and notification plumbing setup
	if err := s.table.Ensure(ctx); err != nil {
		return fail(fmt.Errorf("failed to ensure table: %w", err))
	}

	// 2. Subscribe before loading
	s.runCtx, s.cancel = context.WithCancel(context.Background())
	if err := s.subscribe(); err != nil {
		return fail(err)
	}

	// 3. Initial paged load; live notifications buffer meanwhile
	s.state.Store(int32(StateLoading))
	s.passMu.Lock()
	res, err := s.loader.Run(ctx, nil, s.applyBatch)
	if err != nil {
		s.passMu.Unlock()
		if errors.Is(err, ErrStopped) {
			return ErrStopped
		}
		return fail(fmt.Errorf("failed to load table: %w", err))
	}
	s.prev = res.Snapshot
	s.passMu.Unlock()
	s.addSkipped(res.Skipped)

	// 4. Ready, go live, reconcile the load window
	s.markReady()
	buffered := s.bridge.GoLive()
	s.state.Store(int32(StateLive))

	if err := s.Refetch(ctx); err != nil && !errors.Is(err, ErrStopped) {
		// The view is live and consistent up to the load; the
		// reconciliation pass retries on the next refetch.
		s.logger.Warn("Reconciliation pass failed", zap.Error(err))
		s.setLastError(err)
	}

	s.logger.Info("Sync session live",
		zap.String("session_id", s.id),
		zap.Int("records", s.coll.Len()),
		zap.Int("pages", res.Pages),
		zap.Int("buffered_during_load", buffered))
	return nil
}

// subscribe establishes change delivery before the load starts. Engines with
// row-level notifications are preferred; engines with only a live-query
// signal fall back to full-snapshot polling.
func (s *Session) subscribe() error {
	if n, ok := s.eng.(engine.Notifier); ok {
		events, cancel, err := n.Subscribe(s.runCtx, s.cfg.Table)
		if err != nil {
			return fmt.Errorf("failed to subscribe to table changes: %w", err)
		}
		s.unsubscribe = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for ev := range events {
				s.bridge.OnNotification(s.runCtx, ev)
			}
			if s.State() != StateStopped {
				s.logger.Warn("Notification stream ended while session is running")
			}
		}()
		return nil
	}

	if lq, ok := s.eng.(engine.LiveQuerier); ok {
		ticks, cancel, err := lq.Live(s.runCtx, s.cfg.Table, s.cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("failed to start live query: %w", err)
		}
		s.unsubscribe = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for range ticks {
				if s.State() != StateLive {
					continue
				}
				if err := s.Refetch(s.runCtx); err != nil && !errors.Is(err, ErrStopped) {
					s.logger.Warn("Poll refetch failed", zap.Error(err))
					s.setLastError(err)
				}
			}
		}()
		return nil
	}

	return errors.New("engine provides neither notifications nor live queries")
}

// Refetch runs one full refetch-and-diff pass against the previous
// snapshot. It backs the load-completion reconciliation, the live-query
// polling path, and manual refetches.
func (s *Session) Refetch(ctx context.Context) error {
	if s.State() == StateStopped {
		return ErrStopped
	}

	s.passMu.Lock()
	defer s.passMu.Unlock()

	res, err := s.loader.Run(ctx, s.prev, s.applyBatch)
	if err != nil {
		if errors.Is(err, ErrStopped) {
			return ErrStopped
		}
		err = fmt.Errorf("failed to refetch table: %w", err)
		s.setLastError(err)
		return err
	}
	s.prev = res.Snapshot

	s.statsMu.Lock()
	s.refetches++
	s.skipped += res.Skipped
	s.statsMu.Unlock()
	return nil
}

// Await blocks until every key has been observed entering the reactive
// layer, per the seen tracker's contract.
func (s *Session) Await(ctx context.Context, keys []string, timeout time.Duration) error {
	if s.State() == StateStopped {
		return ErrStopped
	}
	return s.seen.Await(ctx, keys, timeout)
}

// OnInsert persists a batch of new records in one transaction.
func (s *Session) OnInsert(ctx context.Context, muts []Mutation) error {
	return s.mutate(ctx, engine.OpInsert, muts)
}

// OnUpdate persists a batch of record updates in one transaction, using the
// session's configured update mode.
func (s *Session) OnUpdate(ctx context.Context, muts []Mutation) error {
	return s.mutate(ctx, engine.OpUpdate, muts)
}

// OnDelete removes a batch of records in one transaction.
func (s *Session) OnDelete(ctx context.Context, muts []Mutation) error {
	return s.mutate(ctx, engine.OpDelete, muts)
}

// mutate persists one mutation batch transactionally, then marks the echo
// suppressor and seen tracker and applies the committed batch to the view.
// On transaction failure nothing is marked, so a retry of the same batch is
// never mistaken for an echo and suppressed.
func (s *Session) mutate(ctx context.Context, op engine.Op, muts []Mutation) error {
	if len(muts) == 0 {
		return nil
	}
	if s.State() == StateStopped {
		return ErrStopped
	}

	var staged []ChangeEvent
	err := s.table.Update(ctx, func(tx engine.Tx) error {
		for _, m := range muts {
			ev, err := s.stageMutation(tx, op, m)
			if err != nil {
				var verr *ValidationError
				if errors.As(err, &verr) {
					s.logger.Warn("Skipping invalid mutation",
						zap.String("key", m.Key),
						zap.Error(err))
					continue
				}
				return err
			}
			staged = append(staged, ev)
		}
		return nil
	})
	if err != nil {
		return &TransactionError{Op: op, Keys: mutationKeys(muts), Err: err}
	}

	// Marks happen only after the durable commit.
	s.echo.Prune()
	keys := make([]string, 0, len(staged))
	for _, ev := range staged {
		s.echo.MarkLocal(ev.Key)
		keys = append(keys, ev.Key)
	}

	if err := s.applyBatch(staged); err != nil && !errors.Is(err, ErrStopped) {
		return err
	}
	// The handler marked these keys as flowing into the reactive layer,
	// deletes included, so an await issued right after the mutation
	// resolves.
	s.seen.MarkSeen(keys...)

	s.logger.Debug("Applied local mutation batch",
		zap.String("op", string(op)),
		zap.Int("size", len(staged)))
	return nil
}

// stageMutation writes one mutation through the transaction and returns the
// change event to apply to the view.
func (s *Session) stageMutation(tx engine.Tx, op engine.Op, m Mutation) (ChangeEvent, error) {
	if m.Key == "" {
		return ChangeEvent{}, &ValidationError{Key: m.Key, Reason: "mutation has no key"}
	}

	switch op {
	case engine.OpDelete:
		if err := tx.Delete(m.Key); err != nil {
			return ChangeEvent{}, err
		}
		return ChangeEvent{Op: engine.OpDelete, Key: m.Key}, nil

	case engine.OpInsert:
		if err := s.validatePayload(m.Key, m.Payload); err != nil {
			return ChangeEvent{}, err
		}
		if err := tx.Put(m.Key, m.Payload); err != nil {
			return ChangeEvent{}, err
		}
		return ChangeEvent{Op: engine.OpInsert, Key: m.Key, Payload: m.Payload}, nil

	case engine.OpUpdate:
		payload := m.Payload
		if s.cfg.UpdateMode == UpdateMerge {
			current, ok, err := tx.Get(m.Key)
			if err != nil {
				return ChangeEvent{}, err
			}
			if !ok {
				// Merge-mode updates need an existing row, like a
				// SQL UPDATE that matches nothing.
				return ChangeEvent{}, &ValidationError{Key: m.Key, Reason: "cannot merge into a missing row"}
			}
			payload, err = mergePayload(current, m.Changes)
			if err != nil {
				return ChangeEvent{}, &ValidationError{Key: m.Key, Reason: "merge failed", Err: err}
			}
		}
		if err := s.validatePayload(m.Key, payload); err != nil {
			return ChangeEvent{}, err
		}
		if err := tx.Put(m.Key, payload); err != nil {
			return ChangeEvent{}, err
		}
		return ChangeEvent{Op: engine.OpUpdate, Key: m.Key, Payload: payload}, nil
	}

	return ChangeEvent{}, fmt.Errorf("unknown mutation op %q", op)
}

// validatePayload applies the session validator when one is configured.
// Any validator failure comes back as a *ValidationError so the caller can
// tell a rejected row from an engine failure.
func (s *Session) validatePayload(key string, payload json.RawMessage) error {
	if s.cfg.Validator == nil {
		return nil
	}
	err := s.cfg.Validator.Validate(key, payload)
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return &ValidationError{Key: key, Reason: "payload rejected", Err: err}
}

// applyBatch applies one change batch to the view through a single
// begin/write/commit cycle, marking seen keys as it goes. It is the sole
// writer of the collection; the mutex keeps cycles strictly serialized. A
// stopped session discards the batch, which is how events from a page fetch
// that outlived Stop are dropped.
func (s *Session) applyBatch(batch []ChangeEvent) error {
	if len(batch) == 0 {
		return nil
	}
	if s.State() == StateStopped {
		return ErrStopped
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.State() == StateStopped {
		return ErrStopped
	}

	if err := s.coll.Begin(); err != nil {
		return fmt.Errorf("failed to open view batch: %w", err)
	}
	for _, ev := range batch {
		if err := s.coll.Write(toWrite(ev)); err != nil {
			return fmt.Errorf("failed to stage view write: %w", err)
		}
	}
	if err := s.coll.Commit(); err != nil {
		return fmt.Errorf("failed to commit view batch: %w", err)
	}

	for _, ev := range batch {
		switch ev.Op {
		case engine.OpDelete:
			s.seen.Forget(ev.Key)
		default:
			s.seen.MarkSeen(ev.Key)
		}
	}

	s.statsMu.Lock()
	s.applied += len(batch)
	s.statsMu.Unlock()
	return nil
}

// applyLive is the bridge's forward target for one live change event.
func (s *Session) applyLive(ev ChangeEvent) {
	if err := s.applyBatch([]ChangeEvent{ev}); err != nil && !errors.Is(err, ErrStopped) {
		s.logger.Warn("Failed to apply live change",
			zap.String("key", ev.Key),
			zap.Error(err))
		s.setLastError(err)
	}
}

// lookup is the bridge's point-refetch target.
func (s *Session) lookup(ctx context.Context, key string) (json.RawMessage, bool, error) {
	rec, ok, err := s.table.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	return rec.Payload, ok, nil
}

// Stop unsubscribes, waits for the consumer goroutines, and discards the
// echo and seen state. The collection keeps its last committed view for
// observers; a restart builds a brand-new session.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.state.Store(int32(StateStopped))
		if s.cancel != nil {
			s.cancel()
		}
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		s.wg.Wait()
		s.echo.Reset()
		s.seen.Reset()
		s.logger.Info("Sync session stopped", zap.String("session_id", s.id))
	})
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		ID:        s.id,
		Table:     s.cfg.Table,
		State:     s.State().String(),
		Ready:     s.coll.Ready(),
		Records:   s.coll.Len(),
		Applied:   s.applied,
		Refetches: s.refetches,
		Skipped:   s.skipped,
		Bridge:    s.bridge.Stats(),
		LastError: s.lastErr,
	}
}

// markReady marks the collection ready exactly once per session.
func (s *Session) markReady() {
	s.readyOnce.Do(s.coll.MarkReady)
}

// setLastError records a non-fatal failure for the status surface.
func (s *Session) setLastError(err error) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.lastErr = err.Error()
}

// addSkipped accumulates validation skips from a completed pass.
func (s *Session) addSkipped(n int) {
	if n == 0 {
		return
	}
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.skipped += n
}

// toWrite converts a change event into its reactive-layer form.
func toWrite(ev ChangeEvent) reactive.Write {
	w := reactive.Write{Key: ev.Key, Value: ev.Payload}
	switch ev.Op {
	case engine.OpInsert:
		w.Type = reactive.WriteInsert
	case engine.OpUpdate:
		w.Type = reactive.WriteUpdate
	case engine.OpDelete:
		w.Type = reactive.WriteDelete
	}
	return w
}

// mutationKeys collects the keys of a mutation batch for error reporting.
func mutationKeys(muts []Mutation) []string {
	keys := make([]string, 0, len(muts))
	for _, m := range muts {
		keys = append(keys, m.Key)
	}
	return keys
}

// mergePayload folds the changed fields over the current payload at the top
// level. Both documents must be JSON objects.
func mergePayload(current, changes json.RawMessage) (json.RawMessage, error) {
	base := make(map[string]any)
	if len(current) > 0 {
		if err := json.Unmarshal(current, &base); err != nil {
			return nil, fmt.Errorf("stored payload is not an object: %w", err)
		}
	}
	patch := make(map[string]any)
	if err := json.Unmarshal(changes, &patch); err != nil {
		return nil, fmt.Errorf("changes are not an object: %w", err)
	}
	for k, v := range patch {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged payload: %w", err)
	}
	return merged, nil
}
