// Package agentrunner defines the narrow interface the Session
// Lifecycle Controller uses to drive the external agent collaborator
// (spec §1, §6.3) without depending on its reasoning internals, the
// same way the teacher's Worker depends only on a narrow
// *runtime.ContainerdRuntime-shaped interface rather than containerd
// directly.
package agentrunner

import (
	"context"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// OnEvent is invoked by an Agent for every event it wants appended to
// the session's message stream and published on the fabric.
type OnEvent func(types.MessageEvent)

// Agent drives one session's interaction with its tool endpoint. It
// owns no lifecycle state beyond what's needed to service Handle
// calls; the controller owns the session record.
type Agent interface {
	// Handle processes prompt against toolEndpoint for sessionID,
	// invoking onEvent for every event it produces (at minimum one
	// AgentThinking followed by one AgentResponse). Blocking; returns
	// when the agent has finished responding to this prompt.
	Handle(ctx context.Context, sessionID, toolEndpoint, prompt string, onEvent OnEvent) error

	// Shutdown releases any resources the agent holds for sessionID
	// (connections to the tool endpoint, buffered state). Idempotent.
	Shutdown(ctx context.Context, sessionID string) error
}
