package collections_test

import (
	"context"
	"testing"
	"time"

	"sync-bridge/core/engine/memstore"
	"sync-bridge/core/mirror"
	"sync-bridge/core/reactive"
	"sync-bridge/feature/collections"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRunningSession(t *testing.T, table string) *mirror.Session {
	t.Helper()
	sess := mirror.NewSession(memstore.New(), reactive.NewCollection(), mirror.Config{
		Table:    table,
		PageSize: 10,
	})
	require.NoError(t, sess.Start(context.Background()))
	t.Cleanup(sess.Stop)
	return sess
}

func TestService_RegisterAndLookup(t *testing.T) {
	svc := collections.NewService(zap.NewNop(), time.Second)
	svc.Register(newRunningSession(t, "notes"))
	svc.Register(newRunningSession(t, "tags"))

	sess, ok := svc.Session("notes")
	require.True(t, ok)
	assert.Equal(t, "notes", sess.Table())

	_, ok = svc.Session("unknown")
	assert.False(t, ok)
}

func TestService_SummariesKeepRegistrationOrder(t *testing.T) {
	svc := collections.NewService(zap.NewNop(), time.Second)
	svc.Register(newRunningSession(t, "notes"))
	svc.Register(newRunningSession(t, "tags"))

	summaries := svc.Summaries()
	require.Len(t, summaries, 2)
	assert.Equal(t, "notes", summaries[0].Table)
	assert.Equal(t, "tags", summaries[1].Table)
}

func TestService_StopAll(t *testing.T) {
	svc := collections.NewService(zap.NewNop(), time.Second)
	notes := newRunningSession(t, "notes")
	tags := newRunningSession(t, "tags")
	svc.Register(notes)
	svc.Register(tags)

	svc.StopAll()
	assert.Equal(t, mirror.StateStopped, notes.State())
	assert.Equal(t, mirror.StateStopped, tags.State())

	// Idempotent.
	svc.StopAll()
}

func TestService_Defaults(t *testing.T) {
	svc := collections.NewService(nil, 0)
	assert.Equal(t, 5*time.Second, svc.AwaitTimeout())
}
