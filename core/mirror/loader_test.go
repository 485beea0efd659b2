package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"testing"

	"sync-bridge/core/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mapPager serves pages out of an in-memory row map, ascending by key.
type mapPager struct {
	rows    map[string]string
	fetches int
	err     error
}

func (p *mapPager) Page(_ context.Context, afterKey string, limit int) ([]engine.Record, error) {
	p.fetches++
	if p.err != nil {
		return nil, p.err
	}
	keys := make([]string, 0, len(p.rows))
	for k := range p.rows {
		if k > afterKey {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > limit {
		keys = keys[:limit]
	}
	page := make([]engine.Record, 0, len(keys))
	for _, k := range keys {
		page = append(page, engine.Record{Key: k, Payload: raw(p.rows[k])})
	}
	return page, nil
}

// scriptedPager returns a fixed page sequence regardless of cursor.
type scriptedPager struct {
	pages [][]engine.Record
	next  int
}

func (p *scriptedPager) Page(context.Context, string, int) ([]engine.Record, error) {
	if p.next >= len(p.pages) {
		return nil, nil
	}
	page := p.pages[p.next]
	p.next++
	return page, nil
}

func seedRows(n int) map[string]string {
	rows := make(map[string]string, n)
	for i := 1; i <= n; i++ {
		rows[fmt.Sprintf("%02d", i)] = fmt.Sprintf(`{"v":%d}`, i)
	}
	return rows
}

func collectBatches(emitted *[][]ChangeEvent) func([]ChangeEvent) error {
	return func(batch []ChangeEvent) error {
		cp := make([]ChangeEvent, len(batch))
		copy(cp, batch)
		*emitted = append(*emitted, cp)
		return nil
	}
}

func TestBatchedLoader_InitialLoadBatchesPerPage(t *testing.T) {
	pgr := &mapPager{rows: seedRows(25)}
	l := NewBatchedLoader(pgr, 10, nil, nil)

	var emitted [][]ChangeEvent
	res, err := l.Run(context.Background(), nil, collectBatches(&emitted))
	require.NoError(t, err)

	// 25 rows at page size 10: three pages of 10, 10 and 5.
	require.Len(t, emitted, 3)
	assert.Len(t, emitted[0], 10)
	assert.Len(t, emitted[1], 10)
	assert.Len(t, emitted[2], 5)
	assert.Equal(t, 3, res.Pages)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, 0, res.Deletes)
	assert.Len(t, res.Snapshot, 25)

	for _, batch := range emitted {
		for _, ev := range batch {
			assert.Equal(t, engine.OpInsert, ev.Op)
		}
	}
	assert.Equal(t, "01", emitted[0][0].Key)
	assert.Equal(t, "25", emitted[2][4].Key)
}

func TestBatchedLoader_ExactMultipleFetchesTrailingEmptyPage(t *testing.T) {
	pgr := &mapPager{rows: seedRows(20)}
	l := NewBatchedLoader(pgr, 10, nil, nil)

	var emitted [][]ChangeEvent
	res, err := l.Run(context.Background(), nil, collectBatches(&emitted))
	require.NoError(t, err)

	// A full final page cannot prove the scan is done, so one more fetch
	// comes back empty.
	assert.Equal(t, 3, pgr.fetches)
	assert.Len(t, emitted, 2, "the empty page emits no batch")
	assert.Equal(t, 3, res.Pages)
}

func TestBatchedLoader_RefetchDiffsAgainstPrev(t *testing.T) {
	prev := Snapshot{
		"1": raw(`{"v":1}`),
		"2": raw(`{"v":2}`),
		"3": raw(`{"v":3}`),
	}
	pgr := &mapPager{rows: map[string]string{
		"2": `{"v":2}`,  // unchanged
		"3": `{"v":30}`, // updated
		"4": `{"v":4}`,  // new
	}}
	l := NewBatchedLoader(pgr, 10, nil, nil)

	var emitted [][]ChangeEvent
	res, err := l.Run(context.Background(), prev, collectBatches(&emitted))
	require.NoError(t, err)

	require.Len(t, emitted, 2)

	page := emitted[0]
	require.Len(t, page, 2)
	assert.Equal(t, engine.OpUpdate, page[0].Op)
	assert.Equal(t, "3", page[0].Key)
	assert.Equal(t, engine.OpInsert, page[1].Op)
	assert.Equal(t, "4", page[1].Key)

	deletes := emitted[1]
	require.Len(t, deletes, 1)
	assert.Equal(t, engine.OpDelete, deletes[0].Op)
	assert.Equal(t, "1", deletes[0].Key)
	assert.Equal(t, 1, res.Deletes)
	assert.Len(t, res.Snapshot, 3)
}

func TestBatchedLoader_NoChangesEmitsNothing(t *testing.T) {
	prev := Snapshot{"1": raw(`{"v":1}`), "2": raw(`{"v":2}`)}
	pgr := &mapPager{rows: map[string]string{"1": `{"v":1}`, "2": `{"v":2}`}}
	l := NewBatchedLoader(pgr, 10, nil, nil)

	var emitted [][]ChangeEvent
	res, err := l.Run(context.Background(), prev, collectBatches(&emitted))
	require.NoError(t, err)

	assert.Empty(t, emitted)
	assert.Len(t, res.Snapshot, 2, "unchanged rows still count as observed")
}

type rejectEven struct{}

func (rejectEven) Validate(key string, _ json.RawMessage) error {
	n := 0
	fmt.Sscanf(key, "%02d", &n)
	if n%2 == 0 {
		return &ValidationError{Key: key, Reason: "even keys rejected"}
	}
	return nil
}

func TestBatchedLoader_ValidationSkipsRowAndAdvances(t *testing.T) {
	pgr := &mapPager{rows: seedRows(6)}
	l := NewBatchedLoader(pgr, 10, rejectEven{}, nil)

	var emitted [][]ChangeEvent
	res, err := l.Run(context.Background(), nil, collectBatches(&emitted))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Skipped)
	require.Len(t, emitted, 1)
	assert.Len(t, emitted[0], 3)
	assert.Len(t, res.Snapshot, 3)
	_, ok := res.Snapshot["02"]
	assert.False(t, ok)
}

func TestBatchedLoader_InvalidatedRowFallsOutViaDeletePass(t *testing.T) {
	// Key 02 was mirrored by an earlier pass and now fails validation: it
	// is not observed, so the complement pass deletes it from the view.
	prev := Snapshot{"01": raw(`{"v":1}`), "02": raw(`{"v":2}`)}
	pgr := &mapPager{rows: map[string]string{"01": `{"v":1}`, "02": `{"v":2}`}}
	l := NewBatchedLoader(pgr, 10, rejectEven{}, nil)

	var emitted [][]ChangeEvent
	res, err := l.Run(context.Background(), prev, collectBatches(&emitted))
	require.NoError(t, err)

	require.Len(t, emitted, 1)
	require.Len(t, emitted[0], 1)
	assert.Equal(t, engine.OpDelete, emitted[0][0].Op)
	assert.Equal(t, "02", emitted[0][0].Key)
	assert.Equal(t, 1, res.Skipped)
}

func TestBatchedLoader_DuplicateYieldBecomesUpdate(t *testing.T) {
	pgr := &scriptedPager{pages: [][]engine.Record{
		{
			{Key: "1", Payload: raw(`{"v":1}`)},
			{Key: "1", Payload: raw(`{"v":10}`)},
		},
	}}
	l := NewBatchedLoader(pgr, 10, nil, nil)

	var emitted [][]ChangeEvent
	res, err := l.Run(context.Background(), nil, collectBatches(&emitted))
	require.NoError(t, err)

	require.Len(t, emitted, 1)
	require.Len(t, emitted[0], 2)
	assert.Equal(t, engine.OpInsert, emitted[0][0].Op)
	assert.Equal(t, engine.OpUpdate, emitted[0][1].Op)
	assert.JSONEq(t, `{"v":10}`, string(res.Snapshot["1"]), "last yield wins")
}

func TestBatchedLoader_EmitErrorAborts(t *testing.T) {
	pgr := &mapPager{rows: seedRows(25)}
	l := NewBatchedLoader(pgr, 10, nil, nil)

	boom := errors.New("view rejected batch")
	calls := 0
	_, err := l.Run(context.Background(), nil, func([]ChangeEvent) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls, "no further batches after an emit failure")
	assert.Equal(t, 1, pgr.fetches, "no further pages after an emit failure")
}

func TestBatchedLoader_PageErrorPropagates(t *testing.T) {
	pgr := &mapPager{err: errors.New("connection reset")}
	l := NewBatchedLoader(pgr, 10, nil, nil)

	_, err := l.Run(context.Background(), nil, func([]ChangeEvent) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch page")
}
