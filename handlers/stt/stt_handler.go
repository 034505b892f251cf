package stt

import (
	"fmt"
	"strings"

	"kioskagent/core"
	"kioskagent/events/stt"
	"kioskagent/events/vad"
)

// ISTTService is the speech-to-text stage: audio in, transcripts out.
// Final transcripts go to outChan, partial ones to interimOutChan.
type ISTTService interface {
	core.IService
	StartTranscriptionSession(outChan chan<- string, interimOutChan chan<- string, fatalServiceErrorChan chan<- error)
	SendTranscriptionAudio(chunk core.AudioChunk) error
	// Flush marks the end of an utterance so pending audio is finalized.
	Flush() error
}

type STTHandler struct {
	core.BaseHandler
	config         STTConfig
	messageOutChan chan string
	interimOutChan chan string
}

func NewSTTHandler(service ISTTService, backupServices []ISTTService, config STTConfig) *STTHandler {
	typedServices := make([]core.IService, len(backupServices))
	for i, s := range backupServices {
		typedServices[i] = s
	}
	h := &STTHandler{
		BaseHandler: core.BaseHandler{
			Name:           "STTHandler",
			Service:        service,
			BackupServices: typedServices,
		},
		config:         config,
		messageOutChan: make(chan string, 16),
		interimOutChan: make(chan string, 16),
	}
	h.OnServiceSwitched = func(core.IService) { h.startSession() }
	return h
}

func (h *STTHandler) service() ISTTService {
	return h.CurrentService().(ISTTService)
}

func (h *STTHandler) startSession() {
	h.service().StartTranscriptionSession(h.messageOutChan, h.interimOutChan, h.FatalServiceErrorChan)
}

func (h *STTHandler) Start() error {
	h.startSession()
	go h.Consume(h.HandleEvent)
	go h.relayTranscripts()
	return nil
}

func (h *STTHandler) relayTranscripts() {
	for {
		select {
		case text := <-h.messageOutChan:
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			h.Logger.Info("user said", "text", text)
			h.Emit(&stt.STTFinalOutputEvent{Text: text}, core.EventRelayDestinationNextService)
		case text := <-h.interimOutChan:
			if h.config.ForwardInterim {
				h.Emit(&stt.STTInterimOutputEvent{Text: text}, core.EventRelayDestinationNextService)
			}
		case <-h.Ctx.Done():
			return
		}
	}
}

func (h *STTHandler) HandleEvent(eventPacket *core.EventPacket) error {
	switch event := eventPacket.Event.(type) {
	case *vad.VADUserSpeechChunkEvent:
		if rate := h.config.RequiredSampleRate; rate != 0 && event.AudioChunk.SampleRate != rate {
			return fmt.Errorf("audio at %d Hz, engine expects %d Hz", event.AudioChunk.SampleRate, rate)
		}
		if ch := h.config.RequiredChannels; ch != 0 && event.AudioChunk.Channels != ch {
			return fmt.Errorf("audio has %d channels, engine expects %d", event.AudioChunk.Channels, ch)
		}
		if err := h.service().SendTranscriptionAudio(event.AudioChunk); err != nil {
			return fmt.Errorf("send audio: %w", err)
		}
		return nil // audio stops at this stage
	case *vad.VadUserSpeechEndedEvent:
		if err := h.service().Flush(); err != nil {
			h.HandleError(fmt.Errorf("flush transcription: %w", err))
		}
	}
	h.SendPacket(eventPacket)
	return nil
}
