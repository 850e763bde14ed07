package controller

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/agentrunner"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/fabric"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/ports"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/registry"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// fakeSandbox stands in for a real *sandbox.Supervisor, which needs a
// live containerd socket the test environment doesn't have.
type fakeSandbox struct {
	mu               sync.Mutex
	created          int
	started          int
	stopped          int
	removed          int
	failCreate       bool
	failReady        bool
	sandboxByID      map[string]bool
	onWaitForDesktop func()
}

func newFakeSandbox() *fakeSandbox {
	return &fakeSandbox{sandboxByID: make(map[string]bool)}
}

func (f *fakeSandbox) Create(ctx context.Context, sessionID, envTag, imageRef string, desktopPort, toolPort int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	if f.failCreate {
		return "", orcherrors.New(orcherrors.SandboxError, "induced create failure")
	}
	id := "sandbox-" + sessionID
	f.sandboxByID[id] = false
	return id, nil
}

func (f *fakeSandbox) Start(ctx context.Context, sandboxID string, desktopPort, toolPort int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	f.sandboxByID[sandboxID] = true
	return nil
}

func (f *fakeSandbox) Stop(ctx context.Context, sandboxID string, grace time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeSandbox) Remove(ctx context.Context, sandboxID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed++
	delete(f.sandboxByID, sandboxID)
	return nil
}

func (f *fakeSandbox) WaitForDesktop(ctx context.Context, host string, desktopPort int, max time.Duration) error {
	if f.onWaitForDesktop != nil {
		f.onWaitForDesktop()
	}
	if f.failReady {
		return orcherrors.New(orcherrors.ReadinessTimeout, "induced readiness failure")
	}
	return nil
}

type testHarness struct {
	ctrl     *Controller
	reg      *registry.Registry
	sandbox  *fakeSandbox
	desktop  *ports.Allocator
	tool     *ports.Allocator
	mr       *miniredis.Miniredis
}

func newHarness(t *testing.T, cfg Config) *testHarness {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	s, err := store.NewClient(context.Background(), store.Config{Host: mr.Host(), Port: port}, zerolog.Nop())
	require.NoError(t, err)

	reg := registry.New(s)
	desktop := ports.NewAllocator(s, "desktop", 6080, 6081)
	tool := ports.NewAllocator(s, "tool", 8080, 8081)
	fb := fabric.New(s)
	sb := newFakeSandbox()

	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	ctrl := New(cfg, reg, desktop, tool, sb, fb, func() agentrunner.Agent { return agentrunner.NewStub() })

	return &testHarness{ctrl: ctrl, reg: reg, sandbox: sb, desktop: desktop, tool: tool, mr: mr}
}

func (h *testHarness) createSession(t *testing.T, ctx context.Context) *types.Session {
	t.Helper()
	session, err := h.reg.Create(ctx, "build a thing", "node", time.Hour)
	require.NoError(t, err)
	desktopPort, err := h.desktop.Allocate(ctx)
	require.NoError(t, err)
	session, err = h.reg.Update(ctx, session.ID, func(s *types.Session) { s.DesktopPort = desktopPort })
	require.NoError(t, err)
	return session
}

func TestHandleCreateHappyPath(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	session := h.createSession(t, ctx)

	err := h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1")
	require.NoError(t, err)

	got, err := h.reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionReady, got.Status)
	assert.Equal(t, "worker-1", got.WorkerID)
	assert.NotEmpty(t, got.SandboxID)
	assert.NotZero(t, got.ToolPort)
	assert.Equal(t, 1, h.sandbox.created)
	assert.Equal(t, 1, h.sandbox.started)
}

func TestHandleCreateIsIdempotentWhenAlreadyReady(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	session := h.createSession(t, ctx)

	require.NoError(t, h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1"))
	require.NoError(t, h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1"))

	assert.Equal(t, 1, h.sandbox.created, "redelivery of an already-Ready session must not recreate the sandbox")
}

func TestHandleCreateCleansUpOnReadinessFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.sandbox.failReady = true
	ctx := context.Background()
	session := h.createSession(t, ctx)

	err := h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1")
	require.Error(t, err)

	got, err := h.reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionError, got.Status)
	assert.Equal(t, 1, h.sandbox.stopped)
	assert.Equal(t, 1, h.sandbox.removed)
}

func TestHandleCreateAbortsWhenSessionAlreadyTerminating(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	session := h.createSession(t, ctx)
	_, err := h.reg.SetStatus(ctx, session.ID, types.SessionTerminating, "")
	require.NoError(t, err)

	err = h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1")
	require.NoError(t, err)

	got, err := h.reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionTerminating, got.Status, "a create job racing a terminate must not overwrite it back to Ready")
	assert.Equal(t, 0, h.sandbox.created)
}

func TestHandleCreateSkipsReadyTransitionWhenTerminatedMidway(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	session := h.createSession(t, ctx)

	h.sandbox.onWaitForDesktop = func() {
		_, err := h.reg.SetStatus(ctx, session.ID, types.SessionTerminating, "")
		require.NoError(t, err)
	}

	err := h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1")
	require.NoError(t, err)

	got, err := h.reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionTerminating, got.Status, "terminate observed mid-create must win over the create job's final Ready transition")
}

func TestHandleProcessPublishesUserPromptBeforeAgentOutput(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()
	session := h.createSession(t, ctx)
	require.NoError(t, h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1"))

	err := h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobProcessMessage, SessionID: session.ID, Payload: map[string]any{"content": "hello"}}, "worker-1")
	require.NoError(t, err)

	events, err := h.reg.ReadMessages(ctx, session.ID, 0)
	require.NoError(t, err)

	var promptIdx, responseIdx = -1, -1
	for i, evt := range events {
		if evt.Type == types.EventUserPrompt && promptIdx == -1 {
			promptIdx = i
		}
		if evt.Type == types.EventAgentResponse && responseIdx == -1 {
			responseIdx = i
		}
	}
	require.NotEqual(t, -1, promptIdx)
	require.NotEqual(t, -1, responseIdx)
	assert.Less(t, promptIdx, responseIdx)

	got, err := h.reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionRunning, got.Status)
}

func TestHandleTerminateReleasesResourcesAndPurges(t *testing.T) {
	h := newHarness(t, Config{PurgeDelay: 10 * time.Millisecond, RemovePause: time.Millisecond})
	ctx := context.Background()
	session := h.createSession(t, ctx)
	require.NoError(t, h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobCreateSession, SessionID: session.ID}, "worker-1"))

	err := h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobTerminateSession, SessionID: session.ID}, "worker-1")
	require.NoError(t, err)

	got, err := h.reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, types.SessionTerminated, got.Status)
	assert.Equal(t, 1, h.sandbox.stopped)
	assert.Equal(t, 1, h.sandbox.removed)

	time.Sleep(50 * time.Millisecond)

	purged, err := h.reg.Get(ctx, session.ID)
	require.NoError(t, err)
	assert.Nil(t, purged, "session keys should be purged after PurgeDelay")
}

func TestHandleTerminateOnMissingSessionIsNotAnError(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	err := h.ctrl.HandleJob(ctx, types.Job{Kind: types.JobTerminateSession, SessionID: "does-not-exist"}, "worker-1")
	assert.NoError(t, err)
}
