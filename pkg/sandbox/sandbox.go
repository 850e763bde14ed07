// Package sandbox implements the Sandbox Supervisor (C6): the
// containerd-backed desktop/tool environment a session runs its agent
// in, generalized from the teacher's runtime.ContainerdRuntime.
package sandbox

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/log"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/network"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
)

const (
	// Namespace is the containerd namespace sandboxes live in.
	Namespace = "ottobot"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// DefaultMemoryLimit is the per-sandbox memory cap (2g) applied
	// when the caller doesn't override it via CONTAINER_MEMORY_LIMIT.
	DefaultMemoryLimit = 2 * 1024 * 1024 * 1024

	// DefaultCPUShares is the per-sandbox relative CPU weight (1 core)
	// applied when the caller doesn't override it via CONTAINER_CPU_LIMIT.
	DefaultCPUShares = 1024

	desktopContainerPort = 6080
	toolContainerPort    = 8080
)

// Status is the coarse lifecycle state of a sandbox's task.
type Status string

const (
	StatusRunning Status = "running"
	StatusExited  Status = "exited"
	StatusAbsent  Status = "absent"
)

// Config carries the resource caps and host data root used for every
// sandbox this Supervisor creates.
type Config struct {
	SocketPath   string
	HostDataRoot string // parent of <sid> workspace bind mounts
	MemoryLimit  int64
	CPUShares    uint64
}

// Supervisor implements spec §4.6 over a containerd client, exactly
// the way the teacher's ContainerdRuntime wraps *containerd.Client,
// generalized to the session sandbox domain.
type Supervisor struct {
	client    *containerd.Client
	namespace string
	cfg       Config
	ports     *network.HostPortPublisher
	logger    zerolog.Logger
}

// NewSupervisor connects to containerd at cfg.SocketPath (or the
// default) and returns a Supervisor bound to the "ottobot" namespace.
func NewSupervisor(cfg Config) (*Supervisor, error) {
	socketPath := cfg.SocketPath
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.CPUShares == 0 {
		cfg.CPUShares = DefaultCPUShares
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, orcherrors.Wrap(orcherrors.SandboxError, "connect to containerd", err)
	}

	return &Supervisor{
		client:    client,
		namespace: Namespace,
		cfg:       cfg,
		ports:     network.NewHostPortPublisher(),
		logger:    log.WithComponent("sandbox"),
	}, nil
}

// Close closes the containerd client connection.
func (s *Supervisor) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Supervisor) containerID(sessionID string) string {
	return "ottobot-session-" + sessionID
}

func (s *Supervisor) withNS(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, s.namespace)
}

// Create materializes a container for sessionID with the fixed env
// vars and bind mount spec §4.6 requires, and returns its sandbox id.
// The container is created but not started.
func (s *Supervisor) Create(ctx context.Context, sessionID, envTag string, imageRef string, desktopPort, toolPort int) (string, error) {
	ctx = s.withNS(ctx)
	start := time.Now()
	defer func() { metrics.SandboxCreateDuration.Observe(time.Since(start).Seconds()) }()

	image, err := s.client.GetImage(ctx, imageRef)
	if err != nil {
		metrics.SandboxesFailed.Inc()
		return "", orcherrors.Wrap(orcherrors.SandboxError, "get image "+imageRef, err)
	}

	env := []string{
		"SESSION_ID=" + sessionID,
		"ENVIRONMENT=" + envTag,
		fmt.Sprintf("DESKTOP_PORT=%d", desktopPort),
		fmt.Sprintf("TOOL_PORT=%d", toolPort),
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(env),
		oci.WithMemoryLimit(uint64(s.cfg.MemoryLimit)),
		oci.WithCPUShares(s.cfg.CPUShares),
		oci.WithNoNewPrivileges,
		oci.WithMounts([]specs.Mount{s.workspaceMount(sessionID)}),
	}

	id := s.containerID(sessionID)
	ctrdContainer, err := s.client.NewContainer(
		ctx,
		id,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(id+"-snapshot", image),
		containerd.WithNewSpec(opts...),
		containerd.WithContainerLabels(map[string]string{
			"ottobot.session_id": sessionID,
		}),
	)
	if err != nil {
		metrics.SandboxesFailed.Inc()
		return "", orcherrors.Wrap(orcherrors.SandboxError, "create container", err)
	}

	return ctrdContainer.ID(), nil
}

// Start creates and starts the task for sandboxID, then publishes the
// fixed desktop/tool host ports via iptables DNAT to the container's
// IP. Idempotent: starting an already-running sandbox is not an error.
func (s *Supervisor) Start(ctx context.Context, sandboxID string, desktopPort, toolPort int) error {
	ctx = s.withNS(ctx)
	start := time.Now()
	defer func() { metrics.SandboxStartDuration.Observe(time.Since(start).Seconds()) }()

	container, err := s.client.LoadContainer(ctx, sandboxID)
	if err != nil {
		metrics.SandboxesFailed.Inc()
		return orcherrors.Wrap(orcherrors.SandboxError, "load container "+sandboxID, err)
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if status, err := task.Status(ctx); err == nil && status.Status == containerd.Running {
			return nil // already running
		}
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		metrics.SandboxesFailed.Inc()
		return orcherrors.Wrap(orcherrors.SandboxError, "create task", err)
	}
	if err := task.Start(ctx); err != nil {
		metrics.SandboxesFailed.Inc()
		return orcherrors.Wrap(orcherrors.SandboxError, "start task", err)
	}

	containerIP, err := s.containerIP(ctx, task)
	if err != nil {
		s.logger.Warn().Err(err).Str("sandbox_id", sandboxID).Msg("could not resolve container ip for port publishing")
		return nil
	}

	ports := []network.PortBinding{
		{HostPort: desktopPort, ContainerPort: desktopContainerPort, Protocol: "tcp"},
		{HostPort: toolPort, ContainerPort: toolContainerPort, Protocol: "tcp"},
	}
	if err := s.ports.PublishPorts(sandboxID, containerIP, ports); err != nil {
		return orcherrors.Wrap(orcherrors.SandboxError, "publish ports", err)
	}

	return nil
}

// Stop gracefully kills sandboxID's task (SIGTERM, then SIGKILL after
// grace), deletes the task, and unpublishes its ports. Idempotent:
// stopping an already-stopped or absent sandbox is not an error.
func (s *Supervisor) Stop(ctx context.Context, sandboxID string, grace time.Duration) error {
	ctx = s.withNS(ctx)
	start := time.Now()
	defer func() { metrics.SandboxStopDuration.Observe(time.Since(start).Seconds()) }()
	defer func() { _ = s.ports.UnpublishPorts(sandboxID) }()

	container, err := s.client.LoadContainer(ctx, sandboxID)
	if err != nil {
		return nil // already gone
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil // no task, nothing running
	}

	stopCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return orcherrors.Wrap(orcherrors.SandboxError, "send sigterm", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return orcherrors.Wrap(orcherrors.SandboxError, "wait for task exit", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return orcherrors.Wrap(orcherrors.SandboxError, "send sigkill", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return orcherrors.Wrap(orcherrors.SandboxError, "delete task", err)
	}
	return nil
}

// Remove deletes sandboxID's container and snapshot. Idempotent: an
// absent sandbox is not an error. force=true stops it first if still
// running.
func (s *Supervisor) Remove(ctx context.Context, sandboxID string, force bool) error {
	ctx = s.withNS(ctx)

	container, err := s.client.LoadContainer(ctx, sandboxID)
	if err != nil {
		return nil // already gone
	}

	if force {
		if err := s.Stop(ctx, sandboxID, 10*time.Second); err != nil {
			s.logger.Warn().Err(err).Str("sandbox_id", sandboxID).Msg("stop before remove failed, continuing")
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return orcherrors.Wrap(orcherrors.SandboxError, "delete container", err)
	}
	return nil
}

// Status reports the coarse running/exited/absent state of sandboxID.
func (s *Supervisor) Status(ctx context.Context, sandboxID string) (Status, error) {
	ctx = s.withNS(ctx)

	container, err := s.client.LoadContainer(ctx, sandboxID)
	if err != nil {
		return StatusAbsent, nil
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return StatusExited, nil
	}

	taskStatus, err := task.Status(ctx)
	if err != nil {
		return StatusExited, orcherrors.Wrap(orcherrors.SandboxError, "get task status", err)
	}
	if taskStatus.Status == containerd.Running || taskStatus.Status == containerd.Paused {
		return StatusRunning, nil
	}
	return StatusExited, nil
}

// ReapStale removes every managed container older than age, the way
// the teacher's reconciler walks ListContainers() from the store.
func (s *Supervisor) ReapStale(ctx context.Context, age time.Duration) error {
	ctx = s.withNS(ctx)

	containers, err := s.client.Containers(ctx)
	if err != nil {
		return orcherrors.Wrap(orcherrors.SandboxError, "list containers", err)
	}

	cutoff := time.Now().Add(-age)
	for _, c := range containers {
		info, err := c.Info(ctx)
		if err != nil {
			continue
		}
		if info.CreatedAt.Before(cutoff) {
			s.logger.Info().Str("sandbox_id", c.ID()).Msg("reaping stale sandbox")
			if err := s.Remove(ctx, c.ID(), true); err != nil {
				s.logger.Warn().Err(err).Str("sandbox_id", c.ID()).Msg("failed to reap stale sandbox")
			}
		}
	}
	return nil
}
