package mirror

import (
	"context"
	"fmt"

	"sync-bridge/core/engine"

	"go.uber.org/zap"
)

// DefaultPageSize is the number of rows fetched per page during a full
// table scan.
const DefaultPageSize = 1000

// pager is the slice of the table contract the loader needs.
type pager interface {
	Page(ctx context.Context, afterKey string, limit int) ([]engine.Record, error)
}

// LoadResult summarizes one completed paged load.
type LoadResult struct {
	// Snapshot holds every valid row observed during the pass. It becomes
	// the previous snapshot for the next refetch.
	Snapshot Snapshot

	// Pages is the number of page fetches issued.
	Pages int

	// Skipped counts rows dropped by validation.
	Skipped int

	// Deletes counts keys removed by the final complement pass.
	Deletes int
}

// loadState is the accumulator threaded through the page loop. Keeping it an
// explicit value rather than shared closure state makes each fold step
// self-contained.
type loadState struct {
	observed Snapshot
	cursor   string
	pages    int
	skipped  int
}

// BatchedLoader performs a full table scan in bounded-size pages, emitting
// one classified change batch per page so large tables never occupy the
// session in one unbroken unit of work.
type BatchedLoader struct {
	table    pager
	pageSize int
	validate Validator
	logger   *zap.Logger
}

// NewBatchedLoader creates a loader for one table. A non-positive pageSize
// falls back to DefaultPageSize; a nil validator accepts everything.
func NewBatchedLoader(table pager, pageSize int, validate Validator, logger *zap.Logger) *BatchedLoader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if validate == nil {
		validate = Passthrough{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchedLoader{
		table:    table,
		pageSize: pageSize,
		validate: validate,
		logger:   logger,
	}
}

// Run scans the table in ascending key order and emits change batches
// against prev, the snapshot of the previous completed pass (nil for the
// first load). Each page emits at most one batch of inserts/updates; after
// the final page, every key present in prev but not observed in this pass
// is emitted as one batch of deletes. Rows failing validation are logged
// and skipped; a previously mirrored key whose row no longer validates
// falls out via the delete pass.
//
// Emit errors abort the run and propagate unchanged.
func (l *BatchedLoader) Run(ctx context.Context, prev Snapshot, emit func(batch []ChangeEvent) error) (LoadResult, error) {
	state := loadState{observed: make(Snapshot)}

	for {
		page, err := l.table.Page(ctx, state.cursor, l.pageSize)
		if err != nil {
			return LoadResult{}, fmt.Errorf("failed to fetch page after key %q: %w", state.cursor, err)
		}

		var batch []ChangeEvent
		state, batch = l.foldPage(state, prev, page)
		if len(batch) > 0 {
			if err := emit(batch); err != nil {
				return LoadResult{}, err
			}
		}

		if len(page) < l.pageSize {
			break
		}
	}

	var deletes []ChangeEvent
	for _, key := range prev.Keys() {
		if _, ok := state.observed[key]; !ok {
			deletes = append(deletes, ChangeEvent{Op: engine.OpDelete, Key: key})
		}
	}
	if len(deletes) > 0 {
		if err := emit(deletes); err != nil {
			return LoadResult{}, err
		}
	}

	return LoadResult{
		Snapshot: state.observed,
		Pages:    state.pages,
		Skipped:  state.skipped,
		Deletes:  len(deletes),
	}, nil
}

// foldPage advances the accumulator over one page and returns the batch to
// emit for it. Classification: a key not in prev is an insert; a key in prev
// with a structurally different payload is an update; an equal payload emits
// nothing but still counts as observed so the delete pass leaves it alone. A
// key yielded twice within the same pass is re-emitted as an update, which
// guards against duplicate yields from the source.
func (l *BatchedLoader) foldPage(state loadState, prev Snapshot, page []engine.Record) (loadState, []ChangeEvent) {
	batch := make([]ChangeEvent, 0, len(page))

	for _, rec := range page {
		state.cursor = rec.Key

		if err := l.validate.Validate(rec.Key, rec.Payload); err != nil {
			state.skipped++
			l.logger.Warn("Skipping row that failed validation",
				zap.String("key", rec.Key),
				zap.Error(err))
			continue
		}

		if _, dup := state.observed[rec.Key]; dup {
			state.observed[rec.Key] = rec.Payload
			batch = append(batch, ChangeEvent{Op: engine.OpUpdate, Key: rec.Key, Payload: rec.Payload})
			continue
		}
		state.observed[rec.Key] = rec.Payload

		old, existed := prev[rec.Key]
		switch {
		case !existed:
			batch = append(batch, ChangeEvent{Op: engine.OpInsert, Key: rec.Key, Payload: rec.Payload})
		case !EqualPayload(old, rec.Payload):
			batch = append(batch, ChangeEvent{Op: engine.OpUpdate, Key: rec.Key, Payload: rec.Payload})
		}
	}

	state.pages++
	return state, batch
}
