package agentrunner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohanbojja/ottobot-orchestrator/pkg/types"
)

func TestStubAgentHandleEmitsThinkingThenResponse(t *testing.T) {
	agent := NewStub()
	var events []types.MessageEvent

	err := agent.Handle(context.Background(), "session-1", "http://127.0.0.1:8080", "hello", func(evt types.MessageEvent) {
		events = append(events, evt)
	})

	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventAgentThinking, events[0].Type)
	assert.Equal(t, types.EventAgentResponse, events[1].Type)
	assert.Contains(t, events[0].Content, "hello")
	assert.Contains(t, events[1].Content, "hello")
}

func TestStubAgentHandleRespectsContextCancellation(t *testing.T) {
	agent := NewStub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var events []types.MessageEvent
	err := agent.Handle(ctx, "session-1", "http://127.0.0.1:8080", "hello", func(evt types.MessageEvent) {
		events = append(events, evt)
	})

	require.Error(t, err)
	require.Len(t, events, 1, "only the initial AgentThinking event should fire before cancellation")
}

func TestStubAgentShutdownIsNoop(t *testing.T) {
	agent := NewStub()
	assert.NoError(t, agent.Shutdown(context.Background(), "session-1"))
}

func TestRegistrySpawnReusesInstance(t *testing.T) {
	count := 0
	reg := NewRegistry(func() Agent {
		count++
		return NewStub()
	})

	a1 := reg.Spawn("session-1")
	a2 := reg.Spawn("session-1")
	assert.Same(t, a1, a2)
	assert.Equal(t, 1, count)

	reg.Spawn("session-2")
	assert.Equal(t, 2, count)
	assert.ElementsMatch(t, []string{"session-1", "session-2"}, reg.All())

	reg.Remove("session-1")
	assert.Nil(t, reg.Get("session-1"))
	assert.ElementsMatch(t, []string{"session-2"}, reg.All())
}
