package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/orcherrors"
	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// handleProcess implements spec §4.7.3. If no agent instance is
// tracked for this session on this worker, it rehydrates one bound to
// the recorded sandbox's tool endpoint rather than failing the job
// (only sandbox_id and tool_port are checked; the container's state
// is not) — the decided resolution of the implementer's-choice note in
// §4.7.3, since a worker restart must not strand an otherwise-healthy
// session.
func (c *Controller) handleProcess(ctx context.Context, job types.Job) error {
	session, err := c.registry.Get(ctx, job.SessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return orcherrors.New(orcherrors.NotFound, "session not found")
	}
	if session.SandboxID == "" || session.ToolPort == 0 {
		return orcherrors.New(orcherrors.Fatal, "session has no running sandbox to process against")
	}

	content, _ := job.Payload["content"].(string)

	if _, err := c.registry.Update(ctx, session.ID, func(s *types.Session) {
		if s.Status == types.SessionReady {
			s.Status = types.SessionRunning
		}
	}); err != nil {
		return err
	}

	evt := types.MessageEvent{Type: types.EventUserPrompt, Content: content, Timestamp: time.Now().Unix()}
	if err := c.registry.AppendMessage(ctx, session.ID, evt); err != nil {
		return err
	}
	if err := c.fabric.Publish(ctx, session.ID, evt); err != nil {
		c.logger.Warn().Err(err).Str("session_id", session.ID).Msg("publish user prompt failed")
	}

	agent := c.agents.Spawn(session.ID)
	if err := agent.Handle(ctx, session.ID, c.toolEndpoint(session.ToolPort), content, c.onEvent(session.ID)); err != nil {
		return orcherrors.Wrap(orcherrors.AgentError, fmt.Sprintf("agent handle for session %s", session.ID), err)
	}
	return nil
}
