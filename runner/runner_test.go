package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

type pingEvent struct{ n int }

func (e *pingEvent) GetId() string { return "test.ping" }

type bounceEvent struct{}

func (e *bounceEvent) GetId() string { return "test.bounce" }

// recordingHandler forwards everything and remembers what it saw.
type recordingHandler struct {
	core.BaseHandler
	mu     sync.Mutex
	seen   []string
	bounce bool
}

func newRecordingHandler(name string) *recordingHandler {
	return &recordingHandler{BaseHandler: core.BaseHandler{Name: name}}
}

func (h *recordingHandler) Start() error {
	go h.Consume(h.HandleEvent)
	return nil
}

func (h *recordingHandler) HandleEvent(packet *core.EventPacket) error {
	h.mu.Lock()
	h.seen = append(h.seen, packet.Event.GetId())
	h.mu.Unlock()

	if _, ok := packet.Event.(*pingEvent); ok && h.bounce {
		h.Emit(&bounceEvent{}, core.EventRelayDestinationTopService)
	}
	h.SendPacket(packet)
	return nil
}

func (h *recordingHandler) events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seen...)
}

func TestRunnerDeliversInjectedEventsDownTheChain(t *testing.T) {
	first, second := newRecordingHandler("first"), newRecordingHandler("second")
	r := NewRunner([]core.IHandler{first, second}, core.NewNopLogger())
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	r.Inject(&pingEvent{n: 1})

	require.Eventually(t, func() bool {
		return len(second.events()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"test.ping"}, first.events())
}

func TestRunnerEchoesTopEventsToFirstHandler(t *testing.T) {
	first, second := newRecordingHandler("first"), newRecordingHandler("second")
	second.bounce = true
	r := NewRunner([]core.IHandler{first, second}, core.NewNopLogger())
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	r.Inject(&pingEvent{n: 1})

	require.Eventually(t, func() bool {
		return len(first.events()) == 2 && len(second.events()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"test.ping", "test.bounce"}, first.events())
}

func TestRunnerStopsOnEndCall(t *testing.T) {
	only := newRecordingHandler("only")
	r := NewRunner([]core.IHandler{only}, core.NewNopLogger())
	require.NoError(t, r.Start(context.Background()))

	only.Emit(&core.EndCallEvent{Reason: "participant left"}, core.EventRelayDestinationTopService)

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("runner did not stop")
	}
	assert.Equal(t, "participant left", r.StopReason())
	assert.NoError(t, r.Stop())
}

func TestRunnerRequiresHandlers(t *testing.T) {
	assert.Error(t, NewRunner(nil, nil).Start(context.Background()))
}
