package agentrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

// StubAgent is a fixed-sequence Agent used by tests and local
// development in place of the real LLM reasoning loop, which is out
// of scope for the orchestration plane (spec §1).
type StubAgent struct{}

// NewStub constructs a StubAgent.
func NewStub() *StubAgent { return &StubAgent{} }

// Handle emits one AgentThinking event followed by one AgentResponse
// event that echoes the prompt, simulating a minimal but complete
// agent turn.
func (a *StubAgent) Handle(ctx context.Context, sessionID, toolEndpoint, prompt string, onEvent OnEvent) error {
	onEvent(types.MessageEvent{
		Type:      types.EventAgentThinking,
		Content:   fmt.Sprintf("working on: %s", prompt),
		Timestamp: time.Now().Unix(),
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}

	onEvent(types.MessageEvent{
		Type:      types.EventAgentResponse,
		Content:   fmt.Sprintf("done: %s", prompt),
		Timestamp: time.Now().Unix(),
	})
	return nil
}

// Shutdown is a no-op: StubAgent holds no per-session resources.
func (a *StubAgent) Shutdown(ctx context.Context, sessionID string) error {
	return nil
}
