package controller

import (
	"context"
	"time"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// handleTerminate implements spec §4.7.4. Every step is independently
// idempotent per §4.7.6: "not found" and "already stopped" sandbox
// states, an already-released port, and a missing session are all
// non-errors here.
func (c *Controller) handleTerminate(ctx context.Context, job types.Job) error {
	session, err := c.registry.Get(ctx, job.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	if agent := c.agents.Get(session.ID); agent != nil {
		if err := agent.Shutdown(ctx, session.ID); err != nil {
			c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("terminate: agent shutdown failed")
		}
	}
	c.agents.Remove(session.ID)

	if session.SandboxID != "" {
		if err := c.sandbox.Stop(ctx, session.SandboxID, c.cfg.StopGrace); err != nil {
			c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("terminate: stop sandbox failed")
		}
		time.Sleep(c.cfg.RemovePause)
		if err := c.sandbox.Remove(ctx, session.SandboxID, false); err != nil {
			c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("terminate: remove sandbox failed")
		}
	}
	if session.DesktopPort != 0 {
		if err := c.desktop.Release(ctx, session.DesktopPort); err != nil {
			c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("terminate: release desktop port failed")
		}
	}
	if session.ToolPort != 0 {
		if err := c.tool.Release(ctx, session.ToolPort); err != nil {
			c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("terminate: release tool port failed")
		}
	}

	if _, err := c.registry.SetStatus(ctx, session.ID, types.SessionTerminated, ""); err != nil {
		return err
	}
	c.publishSystemUpdate(ctx, session.ID, "session terminated", nil)

	c.schedulePurge(session.ID)
	return nil
}

// schedulePurge deletes every key belonging to sessionID after
// PurgeDelay has elapsed (spec §4.7.4 step 5), so a client that just
// disconnected can still fetch logs for a short grace window. It runs
// detached from the terminate job's context, which ends when the
// handler returns.
func (c *Controller) schedulePurge(sessionID string) {
	time.AfterFunc(c.cfg.PurgeDelay, func() {
		ctx := context.Background()
		if _, err := c.registry.Delete(ctx, sessionID); err != nil {
			c.logger.Warn().Err(err).Str("session_id", sessionID).Msg("purge failed")
		}
	})
}
