package reactive_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"sync-bridge/core/reactive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyBatch(t *testing.T, c *reactive.Collection, writes []reactive.Write) {
	t.Helper()
	require.NoError(t, c.Begin())
	for _, w := range writes {
		require.NoError(t, c.Write(w))
	}
	require.NoError(t, c.Commit())
}

func TestCollection_CommitAppliesAtomically(t *testing.T) {
	c := reactive.NewCollection()

	require.NoError(t, c.Begin())
	require.NoError(t, c.Write(reactive.Write{Type: reactive.WriteInsert, Key: "1", Value: json.RawMessage(`{"n":1}`)}))
	require.NoError(t, c.Write(reactive.Write{Type: reactive.WriteInsert, Key: "2", Value: json.RawMessage(`{"n":2}`)}))

	// Staged writes are invisible until commit.
	assert.Equal(t, 0, c.Len())

	require.NoError(t, c.Commit())
	assert.Equal(t, 2, c.Len())

	v, ok := c.Get("1")
	require.True(t, ok)
	assert.JSONEq(t, `{"n":1}`, string(v))
}

func TestCollection_IdempotentReplay(t *testing.T) {
	c := reactive.NewCollection()

	batch := []reactive.Write{
		{Type: reactive.WriteInsert, Key: "1", Value: json.RawMessage(`{"n":1}`)},
		{Type: reactive.WriteUpdate, Key: "2", Value: json.RawMessage(`{"n":2}`)},
		{Type: reactive.WriteDelete, Key: "3"},
	}

	applyBatch(t, c, batch)
	first := c.Snapshot()

	// Replaying the identical batch must not duplicate or drop anything:
	// the insert lands on an existing key (behaves as update) and the
	// delete hits an absent key (no-op).
	applyBatch(t, c, batch)
	second := c.Snapshot()

	assert.Equal(t, len(first), len(second))
	for k, v := range first {
		assert.JSONEq(t, string(v), string(second[k]))
	}
}

func TestCollection_BatchStateMachine(t *testing.T) {
	c := reactive.NewCollection()

	assert.ErrorIs(t, c.Write(reactive.Write{Type: reactive.WriteInsert, Key: "1"}), reactive.ErrNoOpenBatch)
	assert.ErrorIs(t, c.Commit(), reactive.ErrNoOpenBatch)

	require.NoError(t, c.Begin())
	assert.ErrorIs(t, c.Begin(), reactive.ErrBatchOpen)
	require.NoError(t, c.Commit())

	// A fresh batch can open after commit.
	require.NoError(t, c.Begin())
	require.NoError(t, c.Commit())
}

func TestCollection_WatchFiresPerCommit(t *testing.T) {
	c := reactive.NewCollection()

	ch := c.Watch()
	applyBatch(t, c, []reactive.Write{{Type: reactive.WriteInsert, Key: "1", Value: json.RawMessage(`{}`)}})

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("watch channel did not fire after commit")
	}

	// The re-armed channel stays open until the next commit.
	ch = c.Watch()
	select {
	case <-ch:
		t.Fatal("watch channel fired without a commit")
	default:
	}
}

func TestCollection_EmptyCommitDoesNotNotify(t *testing.T) {
	c := reactive.NewCollection()

	ch := c.Watch()
	require.NoError(t, c.Begin())
	require.NoError(t, c.Commit())

	select {
	case <-ch:
		t.Fatal("watch channel fired for an empty batch")
	default:
	}
}

func TestCollection_VersionCountsNonEmptyCommits(t *testing.T) {
	c := reactive.NewCollection()
	assert.EqualValues(t, 0, c.Version())

	applyBatch(t, c, []reactive.Write{
		{Type: reactive.WriteInsert, Key: "1", Value: json.RawMessage(`{"n":1}`)},
	})
	assert.EqualValues(t, 1, c.Version())

	// Empty commit leaves the version alone.
	require.NoError(t, c.Begin())
	require.NoError(t, c.Commit())
	assert.EqualValues(t, 1, c.Version())

	applyBatch(t, c, []reactive.Write{
		{Type: reactive.WriteDelete, Key: "1"},
	})
	assert.EqualValues(t, 2, c.Version())
}

func TestCollection_ReadySemantics(t *testing.T) {
	c := reactive.NewCollection()
	assert.False(t, c.Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, c.WaitReady(ctx))

	c.MarkReady()
	c.MarkReady() // second call is a no-op
	assert.True(t, c.Ready())

	assert.NoError(t, c.WaitReady(context.Background()))
}
