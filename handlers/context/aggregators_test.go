package context

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
	"kioskagent/events/llm"
	"kioskagent/events/stt"
	"kioskagent/events/tts"
)

type pipes struct {
	in, next, top chan *core.EventPacket
}

func start(t *testing.T, h core.IHandler) pipes {
	t.Helper()
	p := pipes{
		in:   make(chan *core.EventPacket, 16),
		next: make(chan *core.EventPacket, 16),
		top:  make(chan *core.EventPacket, 16),
	}
	ctx, cancel := context.WithCancel(core.ContextWithSessionLogger(context.Background(), core.NewNopLogger()))
	t.Cleanup(cancel)
	require.NoError(t, h.Initialize(p.in, p.next, p.top, ctx))
	require.NoError(t, h.Start())
	return p
}

func receive(t *testing.T, ch <-chan *core.EventPacket) core.IEvent {
	t.Helper()
	select {
	case p := <-ch:
		return p.Event
	case <-time.After(time.Second):
		t.Fatal("no event")
		return nil
	}
}

func send(p pipes, e core.IEvent) {
	p.in <- core.NewEventPacket(e, core.EventRelayDestinationNextService, "test")
}

func TestUserAggregatorRequestsResponse(t *testing.T) {
	m := NewContextManager(ContextConfig{Instructions: "sys"})
	p := start(t, NewUserContextAggregator(m))

	send(p, &stt.STTFinalOutputEvent{Text: "I have a headache"})

	assert.IsType(t, &stt.STTFinalOutputEvent{}, receive(t, p.next))
	gen, ok := receive(t, p.next).(*llm.LLMGenerateResponseEvent)
	require.True(t, ok)
	require.Len(t, gen.Context.Messages, 2)
	assert.Equal(t, "I have a headache", gen.Context.Messages[1].Message)
}

func TestAssistantAggregatorRunsToolsAndRegenerates(t *testing.T) {
	m := NewContextManager(DefaultContextConfig())
	var got []core.LLMToolCall
	m.RegisterTool(core.LLMTool{ToolId: "ticket"}, func(ctx context.Context, call core.LLMToolCall) (string, error) {
		got = append(got, call)
		return "done", nil
	})
	p := start(t, NewAssistantContextAggregator(m))

	send(p, &llm.LLMResponseCompletedEvent{ToolCalls: []core.LLMToolCall{{CallId: "c1", ToolId: "ticket", Arguments: `{"a":"b"}`}}})

	assert.IsType(t, &llm.LLMResponseCompletedEvent{}, receive(t, p.next))
	result, ok := receive(t, p.next).(*llm.LLMToolInvocationResultEvent)
	require.True(t, ok)
	assert.Equal(t, "done", result.Result)
	assert.Empty(t, result.Error)

	regen, ok := receive(t, p.top).(*llm.LLMGenerateResponseEvent)
	require.True(t, ok)
	last, _ := (&regen.Context).LastMessage()
	assert.Equal(t, core.LLMMessageRoleTool, last.Role)
	assert.Equal(t, "c1", last.ToolCallId)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].Parameters["a"])
}

func TestAssistantAggregatorReportsToolFailure(t *testing.T) {
	m := NewContextManager(DefaultContextConfig())
	m.RegisterTool(core.LLMTool{ToolId: "ticket"}, func(ctx context.Context, call core.LLMToolCall) (string, error) {
		return "", errors.New("room closed")
	})
	p := start(t, NewAssistantContextAggregator(m))

	send(p, &llm.LLMResponseCompletedEvent{ToolCalls: []core.LLMToolCall{{CallId: "c1", ToolId: "ticket"}}})

	receive(t, p.next)
	result := receive(t, p.next).(*llm.LLMToolInvocationResultEvent)
	assert.Equal(t, "room closed", result.Error)
	warning, ok := receive(t, p.top).(*core.WarningEvent)
	require.True(t, ok)
	assert.Contains(t, warning.Error, "room closed")

	select {
	case pkt := <-p.top:
		t.Fatalf("unexpected %s after failed tool", pkt.Event.GetId())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAssistantAggregatorRecordsSpokenGreeting(t *testing.T) {
	m := NewContextManager(DefaultContextConfig())
	p := start(t, NewAssistantContextAggregator(m))

	send(p, &tts.TTSSpeakEvent{Text: "hello there"})
	receive(t, p.next)

	assert.Eventually(t, func() bool {
		snap := m.Snapshot()
		last, ok := snap.LastMessage()
		return ok && last.Role == core.LLMMessageRoleAssistant && last.Message == "hello there"
	}, time.Second, 5*time.Millisecond)
}
