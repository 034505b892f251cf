package vad

import (
	"time"

	"kioskagent/core"
	"kioskagent/events/transport"
	"kioskagent/events/tts"
	"kioskagent/events/vad"
)

// VADService scores audio for voice activity. Implementations keep their own
// per-session state, so one instance serves one pipeline.
type VADService interface {
	ProcessAudio(input core.AudioChunk) (core.VADResult, error)
	Close() error
}

// VADHandler turns per-chunk confidence into speech segments:
// started, chunk..., ended. Audio before a segment starts is held back
// and released with the start so the first syllable is not lost.
type VADHandler struct {
	core.BaseHandler
	detector VADService
	config   VADConfig

	speaking       bool
	speechTime     time.Duration
	silenceTime    time.Duration
	segmentTime    time.Duration
	pending        []core.AudioChunk
	lastConfidence float32

	agentSpeaking      bool
	agentInterruptible bool
}

func NewVADHandler(detector VADService, config VADConfig) *VADHandler {
	return &VADHandler{
		BaseHandler: core.BaseHandler{Name: "VADHandler"},
		detector:    detector,
		config:      config,
	}
}

func (h *VADHandler) Start() error {
	go h.Consume(h.HandleEvent)
	return nil
}

func (h *VADHandler) HandleEvent(eventPacket *core.EventPacket) error {
	switch event := eventPacket.Event.(type) {
	case *transport.TransportAudioInputEvent:
		// Raw room audio stops here, only speech travels further.
		return h.processAudio(event.AudioChunk)
	case *tts.TTSSpeakingStartedEvent:
		h.agentSpeaking = true
		h.agentInterruptible = event.AllowInterruptions
	case *tts.TTSSpeakingEndedEvent, *tts.TTSInterruptedEvent:
		h.agentSpeaking = false
	}
	h.SendPacket(eventPacket)
	return nil
}

func (h *VADHandler) processAudio(chunk core.AudioChunk) error {
	result, err := h.detector.ProcessAudio(chunk)
	if err != nil {
		return err
	}
	confidence := h.lastConfidence
	if result.Ready {
		confidence = result.Confidence
		h.lastConfidence = confidence
	}
	d := chunk.Duration()

	if !h.speaking {
		if confidence < h.config.MinConfidence {
			h.speechTime = 0
			h.pending = h.pending[:0]
			return nil
		}
		h.speechTime += d
		h.pending = append(h.pending, chunk)
		if h.speechTime < h.config.MinSpeechDuration {
			return nil
		}
		h.beginSegment()
		return nil
	}

	h.segmentTime += d
	h.Emit(&vad.VADUserSpeechChunkEvent{AudioChunk: chunk}, core.EventRelayDestinationNextService)

	if confidence >= h.config.StopConfidence {
		h.silenceTime = 0
		return nil
	}
	h.silenceTime += d
	if h.silenceTime >= h.config.MinSilenceDuration {
		h.endSegment()
	}
	return nil
}

func (h *VADHandler) beginSegment() {
	h.speaking = true
	h.silenceTime = 0
	h.segmentTime = 0

	if h.agentSpeaking && h.agentInterruptible && h.config.AllowInterruptions {
		h.Logger.Info("user interrupted agent speech")
		h.agentSpeaking = false
		h.Emit(&vad.VadInterruptionDetectedEvent{}, core.EventRelayDestinationNextService)
	}
	h.Emit(&vad.VadUserSpeechStartedEvent{}, core.EventRelayDestinationNextService)

	for _, c := range h.pending {
		h.segmentTime += c.Duration()
		h.Emit(&vad.VADUserSpeechChunkEvent{AudioChunk: c}, core.EventRelayDestinationNextService)
	}
	h.pending = h.pending[:0]
}

func (h *VADHandler) endSegment() {
	h.speaking = false
	h.speechTime = 0
	h.silenceTime = 0
	h.Logger.Debug("user speech ended", "seconds", h.segmentTime.Seconds())
	h.Emit(&vad.VadUserSpeechEndedEvent{Duration: h.segmentTime.Seconds()}, core.EventRelayDestinationNextService)
}

func (h *VADHandler) Cleanup() error {
	if h.detector != nil {
		return h.detector.Close()
	}
	return nil
}
