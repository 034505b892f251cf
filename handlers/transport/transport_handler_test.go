package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
	"kioskagent/events/transport"
	"kioskagent/events/tts"
)

type fakeRoom struct {
	mu      sync.Mutex
	inbound []core.AudioChunk
	written []core.AudioChunk
	clears  int
}

func (r *fakeRoom) StartReceiving(ctx context.Context, out chan<- core.AudioChunk) error {
	for _, c := range r.inbound {
		out <- c
	}
	<-ctx.Done()
	return nil
}

func (r *fakeRoom) WriteAudio(chunk core.AudioChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.written = append(r.written, chunk)
	return nil
}

func (r *fakeRoom) ClearAudio() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears++
}

func initialize(t *testing.T, h core.IHandler) (in, next chan *core.EventPacket) {
	t.Helper()
	in, next = make(chan *core.EventPacket, 8), make(chan *core.EventPacket, 8)
	ctx, cancel := context.WithCancel(core.ContextWithSessionLogger(context.Background(), core.NewNopLogger()))
	t.Cleanup(cancel)
	require.NoError(t, h.Initialize(in, next, make(chan *core.EventPacket, 8), ctx))
	require.NoError(t, h.Start())
	return in, next
}

func TestInputHandlerEmitsRoomAudio(t *testing.T) {
	room := &fakeRoom{inbound: []core.AudioChunk{core.NewPCMChunk(make([]int16, 320), 16000, 1)}}
	_, next := initialize(t, NewTransportHandlerWrapper(room, DefaultConfig()).GetInputHandler())

	select {
	case pkt := <-next:
		ev, ok := pkt.Event.(*transport.TransportAudioInputEvent)
		require.True(t, ok)
		assert.Equal(t, 16000, ev.AudioChunk.SampleRate)
	case <-time.After(time.Second):
		t.Fatal("no audio relayed")
	}
}

func TestOutputHandlerWritesAndClears(t *testing.T) {
	room := &fakeRoom{}
	h := NewTransportHandlerWrapper(room, DefaultConfig()).GetOutputHandler()
	in, next := initialize(t, h)

	in <- core.NewEventPacket(&tts.TTSOutputEvent{AudioChunk: core.NewPCMChunk(make([]int16, 80), 8000, 1)}, core.EventRelayDestinationNextService, "test")
	in <- core.NewEventPacket(&tts.TTSInterruptedEvent{}, core.EventRelayDestinationNextService, "test")

	select {
	case pkt := <-next:
		assert.Equal(t, "tts.interrupted", pkt.Event.GetId())
	case <-time.After(time.Second):
		t.Fatal("interruption not forwarded")
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	require.Len(t, room.written, 1)
	assert.Equal(t, 24000, room.written[0].SampleRate)
	assert.Equal(t, 1, room.clears)
}
