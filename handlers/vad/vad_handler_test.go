package vad

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
	"kioskagent/events/transport"
	"kioskagent/events/tts"
	"kioskagent/events/vad"
)

// scriptedDetector returns the first sample of each chunk as confidence/100.
type scriptedDetector struct{ closed bool }

func (d *scriptedDetector) ProcessAudio(input core.AudioChunk) (core.VADResult, error) {
	samples := input.Samples()
	if len(samples) == 0 {
		return core.VADResult{}, nil
	}
	return core.VADResult{Ready: true, Confidence: float32(samples[0]) / 100}, nil
}

func (d *scriptedDetector) Close() error {
	d.closed = true
	return nil
}

// chunk builds 20ms of 16kHz audio whose detector score is confidence.
func chunk(confidence int16) core.AudioChunk {
	samples := make([]int16, 320)
	samples[0] = confidence
	return core.NewPCMChunk(samples, 16000, 1)
}

type harness struct {
	handler *VADHandler
	in      chan *core.EventPacket
	next    chan *core.EventPacket
	top     chan *core.EventPacket
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, cfg VADConfig) *harness {
	t.Helper()
	h := &harness{
		handler: NewVADHandler(&scriptedDetector{}, cfg),
		in:      make(chan *core.EventPacket, 64),
		next:    make(chan *core.EventPacket, 64),
		top:     make(chan *core.EventPacket, 64),
	}
	ctx, cancel := context.WithCancel(core.ContextWithSessionLogger(context.Background(), core.NewNopLogger()))
	h.cancel = cancel
	require.NoError(t, h.handler.Initialize(h.in, h.next, h.top, ctx))
	require.NoError(t, h.handler.Start())
	t.Cleanup(cancel)
	return h
}

func (h *harness) feed(events ...core.IEvent) {
	for _, e := range events {
		h.in <- core.NewEventPacket(e, core.EventRelayDestinationNextService, "test")
	}
}

func (h *harness) collect(t *testing.T, n int) []string {
	t.Helper()
	var ids []string
	for len(ids) < n {
		select {
		case p := <-h.next:
			ids = append(ids, p.Event.GetId())
		case <-time.After(time.Second):
			t.Fatalf("got %v, want %d events", ids, n)
		}
	}
	return ids
}

func audio(c core.AudioChunk) core.IEvent {
	return &transport.TransportAudioInputEvent{AudioChunk: c}
}

func TestVADHandlerSegmentsSpeech(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechDuration = 40 * time.Millisecond
	cfg.MinSilenceDuration = 40 * time.Millisecond
	h := newHarness(t, cfg)

	h.feed(
		audio(chunk(10)), // silence, dropped
		audio(chunk(90)), // candidate
		audio(chunk(90)), // start, releases both candidates
		audio(chunk(80)),
		audio(chunk(10)),
		audio(chunk(10)), // end
	)

	ids := h.collect(t, 7)
	assert.Equal(t, []string{
		"vad.user_speech.started",
		"vad.user_speech.chunk",
		"vad.user_speech.chunk",
		"vad.user_speech.chunk",
		"vad.user_speech.chunk",
		"vad.user_speech.chunk",
		"vad.user_speech.ended",
	}, ids)
}

func TestVADHandlerIgnoresShortBlips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechDuration = 60 * time.Millisecond
	h := newHarness(t, cfg)

	h.feed(audio(chunk(90)), audio(chunk(10)), audio(chunk(90)), audio(chunk(10)))
	h.feed(&tts.TTSSpeakingEndedEvent{})

	assert.Equal(t, []string{"tts.speaking_ended"}, h.collect(t, 1))
}

func TestVADHandlerInterruptsInterruptibleSpeech(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechDuration = 0
	h := newHarness(t, cfg)

	h.feed(&tts.TTSSpeakingStartedEvent{AllowInterruptions: true}, audio(chunk(90)))

	ids := h.collect(t, 4)
	assert.Equal(t, []string{
		"tts.speaking_started",
		(&vad.VadInterruptionDetectedEvent{}).GetId(),
		"vad.user_speech.started",
		"vad.user_speech.chunk",
	}, ids)
}

func TestVADHandlerKeepsNonInterruptibleSpeech(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinSpeechDuration = 0
	h := newHarness(t, cfg)

	h.feed(&tts.TTSSpeakingStartedEvent{AllowInterruptions: false}, audio(chunk(90)))

	ids := h.collect(t, 3)
	assert.NotContains(t, ids, "vad.interruption.detected")
}

func TestVADHandlerCleanupClosesDetector(t *testing.T) {
	d := &scriptedDetector{}
	h := NewVADHandler(d, DefaultConfig())
	require.NoError(t, h.Cleanup())
	assert.True(t, d.closed)
}
