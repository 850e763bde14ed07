// Package controller implements the Session Lifecycle Controller (C7):
// the state machine that turns queued jobs into the create/process/
// terminate handlers spec §4.7 describes, re-reading the session
// record before every mutation the same way the teacher's reconciler
// re-reads cluster state before each apply rather than trusting a
// cached view.
package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/agentrunner"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/fabric"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/log"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/metrics"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/ports"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/registry"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// Sandbox is the narrow view of the Sandbox Supervisor (C6) the
// controller depends on, satisfied by *sandbox.Supervisor without an
// import cycle and swappable for a fake in tests.
type Sandbox interface {
	Create(ctx context.Context, sessionID, envTag, imageRef string, desktopPort, toolPort int) (string, error)
	Start(ctx context.Context, sandboxID string, desktopPort, toolPort int) error
	Stop(ctx context.Context, sandboxID string, grace time.Duration) error
	Remove(ctx context.Context, sandboxID string, force bool) error
	WaitForDesktop(ctx context.Context, host string, desktopPort int, max time.Duration) error
}

// Config holds the controller's fixed, env-sourced settings (spec §6.5).
type Config struct {
	Host          string              // advertised host used to build tool/desktop endpoints
	ImageRef      string              // AGENT_IMAGE, the fallback when Profiles has no entry for a session's environment
	Profiles      EnvironmentProfiles // environment tag -> image, see LoadProfiles
	StopGrace     time.Duration       // sandbox stop grace period, default 10s
	RemovePause   time.Duration // pause between stop and remove, default 2s
	ReadinessWait time.Duration // desktop readiness deadline, default 30s
	PurgeDelay    time.Duration // delay before a terminated session's keys are purged, default 5m
}

func (c *Config) setDefaults() {
	if c.StopGrace <= 0 {
		c.StopGrace = 10 * time.Second
	}
	if c.RemovePause <= 0 {
		c.RemovePause = 2 * time.Second
	}
	if c.ReadinessWait <= 0 {
		c.ReadinessWait = 30 * time.Second
	}
	if c.PurgeDelay <= 0 {
		c.PurgeDelay = 5 * time.Minute
	}
}

// Controller wires the Session Registry, Port Allocators, Sandbox
// Supervisor, Message Fabric and agent runner into the job handlers
// spec §4.7.2-§4.7.4 describe. It has no queue-polling loop of its own
// — the Worker Runtime (C8) drives HandleJob.
type Controller struct {
	cfg      Config
	registry *registry.Registry
	desktop  *ports.Allocator
	tool     *ports.Allocator
	sandbox  Sandbox
	fabric   *fabric.Fabric
	agents   *agentrunner.Registry
	logger   zerolog.Logger
}

// New constructs a Controller. agentFactory builds a fresh agentrunner.Agent
// per session the first time one is needed on this worker.
func New(cfg Config, reg *registry.Registry, desktop, tool *ports.Allocator, sb Sandbox, fb *fabric.Fabric, agentFactory func() agentrunner.Agent) *Controller {
	cfg.setDefaults()
	return &Controller{
		cfg:      cfg,
		registry: reg,
		desktop:  desktop,
		tool:     tool,
		sandbox:  sb,
		fabric:   fb,
		agents:   agentrunner.NewRegistry(agentFactory),
		logger:   log.WithComponent("controller"),
	}
}

// HandleJob dispatches job to its handler by kind, per spec §4.7.
// workerID identifies the worker driving this call, recorded on the
// session during Create.
func (c *Controller) HandleJob(ctx context.Context, job types.Job, workerID string) error {
	start := time.Now()
	defer func() {
		metrics.ControllerCyclesTotal.Inc()
		metrics.ControllerCycleDuration.Observe(time.Since(start).Seconds())
	}()

	switch job.Kind {
	case types.JobCreateSession:
		return c.handleCreate(ctx, job, workerID)
	case types.JobProcessMessage:
		return c.handleProcess(ctx, job)
	case types.JobTerminateSession:
		return c.handleTerminate(ctx, job)
	default:
		return orcherrors.New(orcherrors.Fatal, fmt.Sprintf("unknown job kind %q", job.Kind))
	}
}

func (c *Controller) toolEndpoint(toolPort int) string {
	return fmt.Sprintf("http://%s:%d", c.cfg.Host, toolPort)
}

// onEvent returns the callback handed to an Agent: it appends to the
// session's durable message stream and publishes on the fabric, per
// spec §4.7.2 step 6.
func (c *Controller) onEvent(sessionID string) agentrunner.OnEvent {
	return func(evt types.MessageEvent) {
		ctx := context.Background()
		if err := c.registry.AppendMessage(ctx, sessionID, evt); err != nil {
			c.logger.Error().Err(err).Str("session_id", sessionID).Msg("append agent event failed")
		}
		if err := c.fabric.Publish(ctx, sessionID, evt); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("publish agent event failed")
		}
	}
}

func (c *Controller) publishSystemUpdate(ctx context.Context, sessionID, content string, meta *types.EventMetadata) {
	evt := types.MessageEvent{Type: types.EventSystemUpdate, Content: content, Timestamp: time.Now().Unix(), Metadata: meta}
	if err := c.registry.AppendMessage(ctx, sessionID, evt); err != nil {
		c.logger.Error().Err(err).Str("session_id", sessionID).Msg("append system update failed")
	}
	if err := c.fabric.Publish(ctx, sessionID, evt); err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("publish system update failed")
	}
}

func (c *Controller) progress(ctx context.Context, sessionID string, pct int) {
	c.publishSystemUpdate(ctx, sessionID, fmt.Sprintf("provisioning: %d%%", pct), &types.EventMetadata{Progress: pct})
}

// ShutdownAgents shuts down and terminates every session with a live
// agent instance tracked on this worker, per spec §4.8's graceful stop
// sequence: "shut down all active agents (each moved to Terminated)".
func (c *Controller) ShutdownAgents(ctx context.Context) {
	for _, sessionID := range c.agents.All() {
		agent := c.agents.Get(sessionID)
		if agent == nil {
			continue
		}
		if err := agent.Shutdown(ctx, sessionID); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("shutdown: agent shutdown failed")
		}
		c.agents.Remove(sessionID)
		if _, err := c.registry.SetStatus(ctx, sessionID, types.SessionTerminated, ""); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("shutdown: set terminated status failed")
		}
	}
}
