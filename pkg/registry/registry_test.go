package registry

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	s, err := store.NewClient(context.Background(), store.Config{Host: mr.Host(), Port: port}, zerolog.Nop())
	require.NoError(t, err)
	return New(s), mr
}

func TestCreateSetsInitializingAndIndexes(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	session, err := r.Create(ctx, "do the thing", "default", 0)
	require.NoError(t, err)
	assert.Equal(t, types.SessionInitializing, session.Status)
	assert.NotEmpty(t, session.ID)

	fetched, err := r.Get(ctx, session.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, session.ID, fetched.ID)
}

func TestGetAbsentReturnsNil(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()

	session, err := r.Get(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestUpdatePreservesResidualTTL(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()

	session, err := r.Create(ctx, "prompt", "", time.Hour)
	require.NoError(t, err)

	mr.FastForward(10 * time.Minute)

	updated, err := r.Update(ctx, session.ID, func(s *types.Session) {
		s.Status = types.SessionReady
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, types.SessionReady, updated.Status)

	ttl := mr.TTL("session:" + session.ID)
	assert.True(t, ttl > 0 && ttl <= 50*time.Minute, "expected residual ttl, got %v", ttl)
	mr.Close()
}

func TestUpdateMovesWorkerIndex(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	session, err := r.Create(ctx, "prompt", "", 0)
	require.NoError(t, err)

	_, err = r.Update(ctx, session.ID, func(s *types.Session) {
		s.WorkerID = "worker-1"
	})
	require.NoError(t, err)

	members, err := mr.Members("sessions:by-worker:worker-1")
	require.NoError(t, err)
	assert.Contains(t, members, session.ID)

	_, err = r.Update(ctx, session.ID, func(s *types.Session) {
		s.WorkerID = "worker-2"
	})
	require.NoError(t, err)

	membersOld, err := mr.Members("sessions:by-worker:worker-1")
	require.NoError(t, err)
	assert.NotContains(t, membersOld, session.ID)

	membersNew, err := mr.Members("sessions:by-worker:worker-2")
	require.NoError(t, err)
	assert.Contains(t, membersNew, session.ID)
}

func TestSetStatusRecordsError(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	session, err := r.Create(ctx, "prompt", "", 0)
	require.NoError(t, err)

	updated, err := r.SetStatus(ctx, session.ID, types.SessionError, "sandbox create failed")
	require.NoError(t, err)
	assert.Equal(t, types.SessionError, updated.Status)
	assert.Equal(t, "sandbox create failed", updated.Error)
}

func TestDeleteRemovesAllKeys(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	session, err := r.Create(ctx, "prompt", "", 0)
	require.NoError(t, err)
	require.NoError(t, r.AppendMessage(ctx, session.ID, types.MessageEvent{Type: types.EventUserPrompt, Content: "hi"}))
	require.NoError(t, r.AppendLog(ctx, session.ID, types.LogInfo, "started", nil))

	ok, err := r.Delete(ctx, session.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.False(t, mr.Exists("session:"+session.ID))
	assert.False(t, mr.Exists("session:messages:"+session.ID))
	assert.False(t, mr.Exists("session:logs:"+session.ID))

	again, err := r.Delete(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, again)
}

func TestAppendAndReadMessages(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	session, err := r.Create(ctx, "prompt", "", 0)
	require.NoError(t, err)

	require.NoError(t, r.AppendMessage(ctx, session.ID, types.MessageEvent{Type: types.EventUserPrompt, Content: "hello"}))
	require.NoError(t, r.AppendMessage(ctx, session.ID, types.MessageEvent{Type: types.EventAgentResponse, Content: "hi there"}))

	events, err := r.ReadMessages(ctx, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "hello", events[0].Content)
	assert.Equal(t, "hi there", events[1].Content)
}

func TestAppendLogEnforcesCap(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	session, err := r.Create(ctx, "prompt", "", 0)
	require.NoError(t, err)

	for i := 0; i < MaxLogEntries+50; i++ {
		require.NoError(t, r.AppendLog(ctx, session.ID, types.LogInfo, "line", nil))
	}

	length, err := r.s.LRange(ctx, "session:logs:"+session.ID, 0, -1)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(length), MaxLogEntries)
}

func TestListActiveExcludesTerminated(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	active, err := r.Create(ctx, "a", "", 0)
	require.NoError(t, err)
	done, err := r.Create(ctx, "b", "", 0)
	require.NoError(t, err)

	_, err = r.SetStatus(ctx, done.ID, types.SessionTerminated, "")
	require.NoError(t, err)

	sessions, err := r.ListActive(ctx, 10, 0)
	require.NoError(t, err)

	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.ID)
	}
	assert.Contains(t, ids, active.ID)
	assert.NotContains(t, ids, done.ID)
}

func TestContextBlobIsOpaque(t *testing.T) {
	r, mr := newTestRegistry(t)
	defer mr.Close()
	ctx := context.Background()

	session, err := r.Create(ctx, "prompt", "", 0)
	require.NoError(t, err)

	blob := []byte{0x01, 0x02, 0xff, 0x00}
	require.NoError(t, r.SetContext(ctx, session.ID, blob))

	got, err := r.GetContext(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, blob, got)
}
