package transport

import (
	"context"
	"fmt"

	"kioskagent/core"
	"kioskagent/events/transport"
	"kioskagent/events/tts"
	"kioskagent/utils/audio"
)

// TransportService moves audio between the pipeline and a live room. Its
// connection is owned by whoever built it; the handlers only stream.
type TransportService interface {
	// StartReceiving delivers inbound audio until ctx ends or the source fails.
	StartReceiving(ctx context.Context, out chan<- core.AudioChunk) error
	WriteAudio(chunk core.AudioChunk) error
	// ClearAudio drops audio queued for playback.
	ClearAudio()
}

// TransportHandlerWrapper builds the two ends of the chain around one
// service.
type TransportHandlerWrapper struct {
	service TransportService
	config  TransportConfig
}

func NewTransportHandlerWrapper(service TransportService, config TransportConfig) *TransportHandlerWrapper {
	return &TransportHandlerWrapper{service: service, config: config}
}

func (w *TransportHandlerWrapper) GetInputHandler() *TransportInputHandler {
	return &TransportInputHandler{
		BaseHandler: core.BaseHandler{Name: "TransportInputHandler"},
		service:     w.service,
	}
}

func (w *TransportHandlerWrapper) GetOutputHandler() *TransportOutputHandler {
	return &TransportOutputHandler{
		BaseHandler: core.BaseHandler{Name: "TransportOutputHandler"},
		service:     w.service,
		config:      w.config,
	}
}

// TransportInputHandler handles incoming data
type TransportInputHandler struct {
	core.BaseHandler
	service TransportService
}

func (h *TransportInputHandler) Start() error {
	audioChan := make(chan core.AudioChunk, 32)
	go func() {
		if err := h.service.StartReceiving(h.Ctx, audioChan); err != nil && h.Ctx.Err() == nil {
			h.HandleError(fmt.Errorf("receive audio: %w", err))
		}
	}()
	go h.relayAudio(audioChan)
	go h.Consume(h.HandleEvent)
	return nil
}

func (h *TransportInputHandler) relayAudio(audioChan <-chan core.AudioChunk) {
	for {
		select {
		case chunk := <-audioChan:
			h.Emit(&transport.TransportAudioInputEvent{AudioChunk: chunk}, core.EventRelayDestinationNextService)
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *TransportInputHandler) HandleEvent(eventPacket *core.EventPacket) error {
	h.SendPacket(eventPacket)
	return nil
}

// TransportOutputHandler handles outgoing data
type TransportOutputHandler struct {
	core.BaseHandler
	service TransportService
	config  TransportConfig
}

func (h *TransportOutputHandler) Start() error {
	go h.Consume(h.HandleEvent)
	return nil
}

func (h *TransportOutputHandler) HandleEvent(eventPacket *core.EventPacket) error {
	switch event := eventPacket.Event.(type) {
	case *tts.TTSOutputEvent:
		chunk, err := audio.ConvertAudioChunk(
			event.AudioChunk, h.config.OutAudioFormat, h.config.OutChannels, h.config.OutSampleRate,
		)
		if err != nil {
			return err
		}
		if err := h.service.WriteAudio(chunk); err != nil {
			h.HandleError(fmt.Errorf("write audio: %w", err))
			return err
		}
		return nil
	case *tts.TTSInterruptedEvent:
		h.service.ClearAudio()
	}

	h.SendPacket(eventPacket)
	return nil
}
