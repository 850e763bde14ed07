package worker

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/agentrunner"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/controller"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/fabric"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/ports"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/queue"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/registry"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/store"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// fakeSandbox satisfies controller.Sandbox without a live containerd
// socket, same role as its namesake in pkg/controller's own tests.
type fakeSandbox struct{}

func (fakeSandbox) Create(ctx context.Context, sessionID, envTag, imageRef string, desktopPort, toolPort int) (string, error) {
	return "sandbox-" + sessionID, nil
}
func (fakeSandbox) Start(ctx context.Context, sandboxID string, desktopPort, toolPort int) error {
	return nil
}
func (fakeSandbox) Stop(ctx context.Context, sandboxID string, grace time.Duration) error { return nil }
func (fakeSandbox) Remove(ctx context.Context, sandboxID string, force bool) error         { return nil }
func (fakeSandbox) WaitForDesktop(ctx context.Context, host string, desktopPort int, max time.Duration) error {
	return nil
}

func newTestDeps(t *testing.T) (*store.Store, *registry.Registry, *queue.Queue, *controller.Controller) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	s, err := store.NewClient(context.Background(), store.Config{Host: mr.Host(), Port: port}, zerolog.Nop())
	require.NoError(t, err)

	reg := registry.New(s)
	q := queue.New(s)
	desktop := ports.NewAllocator(s, "desktop", 6080, 6081)
	tool := ports.NewAllocator(s, "tool", 8080, 8081)
	fb := fabric.New(s)
	ctrl := controller.New(controller.Config{Host: "127.0.0.1"}, reg, desktop, tool, fakeSandbox{}, fb, func() agentrunner.Agent { return agentrunner.NewStub() })

	return s, reg, q, ctrl
}

func TestWorkerProcessesEnqueuedCreateJob(t *testing.T) {
	s, reg, q, ctrl := newTestDeps(t)
	ctx := context.Background()

	session, err := reg.Create(ctx, "hello world", "node", time.Hour)
	require.NoError(t, err)
	_, err = reg.Update(ctx, session.ID, func(sess *types.Session) { sess.DesktopPort = 6080 })
	require.NoError(t, err)

	_, err = q.Enqueue(ctx, types.JobCreateSession, session.ID, nil)
	require.NoError(t, err)

	w := New(Config{ID: "worker-test-1", Concurrency: 1}, s, q, ctrl)
	require.NoError(t, w.Start(ctx))

	require.Eventually(t, func() bool {
		got, err := reg.Get(ctx, session.ID)
		return err == nil && got != nil && got.Status == types.SessionReady
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop(ctx))

	entry, err := s.Get(ctx, statusKey(w.id))
	assert.Error(t, err, "status key should be deleted after graceful stop")
	_ = entry
}

func TestWorkerRegistersAndDeregisters(t *testing.T) {
	s, _, q, ctrl := newTestDeps(t)
	ctx := context.Background()

	w := New(Config{ID: "worker-test-2"}, s, q, ctrl)
	require.NoError(t, w.Start(ctx))

	data, err := s.Get(ctx, statusKey(w.id))
	require.NoError(t, err)
	assert.Contains(t, data, `"status":"Active"`)

	require.NoError(t, w.Stop(ctx))
	_, err = s.Get(ctx, statusKey(w.id))
	assert.Error(t, err)
}
