package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
	"kioskagent/events/llm"
	"kioskagent/events/vad"
)

// scriptedLLM streams words and, when block is set, waits for cancellation.
type scriptedLLM struct {
	words []string
	calls []core.LLMToolCall
	block bool
	err   error
	seen  chan core.LLMContext
}

func (s *scriptedLLM) Init(ctx context.Context) error { return nil }
func (s *scriptedLLM) Cleanup() error                 { return nil }
func (s *scriptedLLM) Reset() error                   { return nil }

func (s *scriptedLLM) RunCompletion(ctx context.Context, c core.LLMContext, chunks chan<- string) (core.LLMResponse, error) {
	if s.seen != nil {
		s.seen <- c
	}
	if s.err != nil {
		return core.LLMResponse{}, s.err
	}
	for _, w := range s.words {
		chunks <- w
	}
	if s.block {
		<-ctx.Done()
		return core.LLMResponse{}, ctx.Err()
	}
	return core.LLMResponse{ToolCalls: s.calls}, nil
}

type harness struct {
	in, next, top chan *core.EventPacket
}

func newHarness(t *testing.T, h *LLMHandler) harness {
	t.Helper()
	p := harness{
		in:   make(chan *core.EventPacket, 32),
		next: make(chan *core.EventPacket, 32),
		top:  make(chan *core.EventPacket, 32),
	}
	ctx, cancel := context.WithCancel(core.ContextWithSessionLogger(context.Background(), core.NewNopLogger()))
	t.Cleanup(cancel)
	require.NoError(t, h.Initialize(p.in, p.next, p.top, ctx))
	require.NoError(t, h.Start())
	return p
}

func (p harness) send(e core.IEvent) {
	p.in <- core.NewEventPacket(e, core.EventRelayDestinationNextService, "test")
}

func (p harness) collect(t *testing.T, ch chan *core.EventPacket, n int) []core.IEvent {
	t.Helper()
	var out []core.IEvent
	for len(out) < n {
		select {
		case pkt := <-ch:
			out = append(out, pkt.Event)
		case <-time.After(time.Second):
			t.Fatalf("got %d of %d events", len(out), n)
		}
	}
	return out
}

func TestLLMHandlerStreamsCompletion(t *testing.T) {
	calls := []core.LLMToolCall{{CallId: "c1", ToolId: "generate_queue_ticket"}}
	svc := &scriptedLLM{words: []string{"Hello", " there"}, calls: calls}
	var observed core.LLMResponse
	cfg := DefaultConfig()
	cfg.OnResponse = func(r core.LLMResponse) { observed = r }
	p := newHarness(t, NewLLMHandler(svc, nil, cfg))

	p.send(&llm.LLMGenerateResponseEvent{})

	events := p.collect(t, p.next, 4)
	assert.IsType(t, &llm.LLMResponseStartedEvent{}, events[0])
	assert.Equal(t, "Hello", events[1].(*llm.LLMResponseChunkEvent).Chunk)
	done := events[3].(*llm.LLMResponseCompletedEvent)
	assert.Equal(t, "Hello there", done.FullText)
	assert.Equal(t, calls, done.ToolCalls)
	assert.Equal(t, "Hello there", observed.Text)
}

func TestLLMHandlerDropsToolsWhenDisabled(t *testing.T) {
	svc := &scriptedLLM{seen: make(chan core.LLMContext, 1)}
	p := newHarness(t, NewLLMHandler(svc, nil, LLMHandlerConfig{}))

	p.send(&llm.LLMGenerateResponseEvent{Context: core.LLMContext{Tools: []core.LLMTool{{ToolId: "x"}}}})

	select {
	case c := <-svc.seen:
		assert.Empty(t, c.Tools)
	case <-time.After(time.Second):
		t.Fatal("completion never ran")
	}
}

func TestLLMHandlerInterruptionCancelsCompletion(t *testing.T) {
	svc := &scriptedLLM{words: []string{"Let me"}, block: true}
	p := newHarness(t, NewLLMHandler(svc, nil, DefaultConfig()))

	p.send(&llm.LLMGenerateResponseEvent{})
	p.collect(t, p.next, 2)
	p.send(&vad.VadInterruptionDetectedEvent{})

	events := p.collect(t, p.next, 1)
	assert.IsType(t, &vad.VadInterruptionDetectedEvent{}, events[0])
	select {
	case pkt := <-p.next:
		t.Fatalf("unexpected %s after interruption", pkt.Event.GetId())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLLMHandlerFailsOverToBackup(t *testing.T) {
	primary := &scriptedLLM{err: errors.New("rate limited")}
	backup := &scriptedLLM{words: []string{"ok"}}
	h := NewLLMHandler(primary, []LLMService{backup}, DefaultConfig())
	p := newHarness(t, h)

	p.send(&llm.LLMGenerateResponseEvent{})
	p.collect(t, p.next, 1)

	assert.Eventually(t, func() bool { return h.CurrentService() == core.IService(backup) }, time.Second, 5*time.Millisecond)

	p.send(&llm.LLMGenerateResponseEvent{})
	events := p.collect(t, p.next, 3)
	assert.Equal(t, "ok", events[2].(*llm.LLMResponseCompletedEvent).FullText)
}
