package controller

import (
	"context"
	"time"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// handleCreate implements spec §4.7.2. It re-reads the session record
// before each mutation and is written to tolerate at-least-once
// redelivery per §4.7.6: a session that already has a sandbox_id
// skips straight to start-or-wait; one already Ready is a no-op repeat.
func (c *Controller) handleCreate(ctx context.Context, job types.Job, workerID string) (err error) {
	session, err := c.registry.Get(ctx, job.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		c.logger.Warn().Str("session_id", job.SessionID).Msg("create job for vanished session, dropping")
		return nil
	}

	if session.Status == types.SessionReady || session.Status == types.SessionRunning {
		c.publishSystemUpdate(ctx, session.ID, "session is ready", &types.EventMetadata{DesktopReady: true})
		return nil
	}
	if session.Status == types.SessionTerminating || session.Status.Terminal() {
		c.logger.Info().Str("session_id", session.ID).Msg("create job observed terminating session, aborting")
		return nil
	}

	defer func() {
		if err != nil {
			c.cleanupFailure(ctx, session.ID, err)
		}
	}()

	if session.SandboxID == "" {
		session, err = c.reserveAndCreate(ctx, session, workerID)
		if err != nil {
			return err
		}
	}

	c.progress(ctx, session.ID, 50)
	if err = c.sandbox.Start(ctx, session.SandboxID, session.DesktopPort, session.ToolPort); err != nil {
		return orcherrors.Wrap(orcherrors.SandboxError, "start sandbox", err)
	}

	if err = c.sandbox.WaitForDesktop(ctx, c.cfg.Host, session.DesktopPort, c.cfg.ReadinessWait); err != nil {
		return err
	}
	c.progress(ctx, session.ID, 70)

	prompt := types.MessageEvent{Type: types.EventUserPrompt, Content: session.InitialPrompt, Timestamp: time.Now().Unix()}
	if err = c.registry.AppendMessage(ctx, session.ID, prompt); err != nil {
		return err
	}
	if err := c.fabric.Publish(ctx, session.ID, prompt); err != nil {
		c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("publish initial prompt failed")
	}

	agent := c.agents.Spawn(session.ID)
	if err = agent.Handle(ctx, session.ID, c.toolEndpoint(session.ToolPort), session.InitialPrompt, c.onEvent(session.ID)); err != nil {
		return orcherrors.Wrap(orcherrors.AgentError, "spawn agent", err)
	}
	c.progress(ctx, session.ID, 90)

	latest, err := c.registry.Get(ctx, session.ID)
	if err != nil {
		return err
	}
	if latest == nil || latest.Status == types.SessionTerminating || latest.Status.Terminal() {
		c.logger.Info().Str("session_id", session.ID).Msg("session terminated mid-create, skipping ready transition")
		return nil
	}

	if _, err = c.registry.SetStatus(ctx, session.ID, types.SessionReady, ""); err != nil {
		return err
	}
	c.publishSystemUpdate(ctx, session.ID, "session is ready", &types.EventMetadata{DesktopReady: true})
	c.progress(ctx, session.ID, 100)
	return nil
}

// reserveAndCreate performs steps 1-3 of §4.7.2: record worker_id,
// reserve the tool port, create the sandbox, and persist sandbox_id +
// tool_port. Only runs once per session, guarded by the SandboxID check
// in handleCreate.
func (c *Controller) reserveAndCreate(ctx context.Context, session *types.Session, workerID string) (*types.Session, error) {
	session, err := c.registry.Update(ctx, session.ID, func(s *types.Session) { s.WorkerID = workerID })
	if err != nil {
		return nil, err
	}
	c.progress(ctx, session.ID, 10)

	toolPort, err := c.tool.Allocate(ctx)
	if err != nil {
		return nil, err
	}
	if toolPort == 0 {
		return nil, orcherrors.New(orcherrors.ResourceExhausted, "no tool port available")
	}

	imageRef := c.cfg.Profiles.ImageFor(session.Environment, c.cfg.ImageRef)
	sandboxID, err := c.sandbox.Create(ctx, session.ID, session.Environment, imageRef, session.DesktopPort, toolPort)
	if err != nil {
		_ = c.tool.Release(ctx, toolPort)
		return nil, orcherrors.Wrap(orcherrors.SandboxError, "create sandbox", err)
	}
	c.progress(ctx, session.ID, 30)

	return c.registry.Update(ctx, session.ID, func(s *types.Session) {
		s.SandboxID = sandboxID
		s.ToolPort = toolPort
	})
}

// cleanupFailure runs a superset of Terminate best-effort, per §4.7.5:
// every step is independently attempted and failures are logged, never
// re-thrown, since the caller is already propagating the original cause.
func (c *Controller) cleanupFailure(ctx context.Context, sessionID string, cause error) {
	c.logger.Error().Err(cause).Str("session_id", sessionID).Msg("create failed, cleaning up")

	session, err := c.registry.Get(ctx, sessionID)
	if err != nil || session == nil {
		_, _ = c.registry.SetStatus(ctx, sessionID, types.SessionError, cause.Error())
		return
	}

	if session.SandboxID != "" {
		if err := c.sandbox.Stop(ctx, session.SandboxID, c.cfg.StopGrace); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cleanup: stop sandbox failed")
		}
		if err := c.sandbox.Remove(ctx, session.SandboxID, true); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cleanup: remove sandbox failed")
		}
	}
	if session.DesktopPort != 0 {
		if err := c.desktop.Release(ctx, session.DesktopPort); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cleanup: release desktop port failed")
		}
	}
	if session.ToolPort != 0 {
		if err := c.tool.Release(ctx, session.ToolPort); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cleanup: release tool port failed")
		}
	}
	c.agents.Remove(sessionID)

	if _, err := c.registry.SetStatus(ctx, sessionID, types.SessionError, cause.Error()); err != nil {
		c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("cleanup: set error status failed")
	}
	c.publishSystemUpdate(ctx, sessionID, "session failed: "+cause.Error(), &types.EventMetadata{Error: cause.Error()})
}
