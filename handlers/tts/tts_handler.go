package tts

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"kioskagent/core"
	"kioskagent/events/llm"
	"kioskagent/events/tts"
	"kioskagent/events/vad"
)

type TTSService interface {
	core.IService
	// Synthesize speaks text into out and returns when the utterance is
	// complete or ctx is cancelled.
	Synthesize(ctx context.Context, text string, out chan<- core.AudioChunk) error
}

type segment struct {
	text               string
	allowInterruptions bool
	generation         uint64
}

// TTSHandler buffers LLM text into sentences and speaks them one at a time.
// Speaking state is announced to the top of the chain so the VAD stage knows
// whether user speech is an interruption.
type TTSHandler struct {
	core.BaseHandler
	config TTSConfig

	mu            sync.Mutex
	buffer        strings.Builder
	generation    uint64
	speaking      bool
	interruptible bool
	cancelSegment context.CancelFunc
	// playoutEnd is when the audio handed to the transport finishes
	// playing, assuming real-time playout from the first chunk.
	playoutEnd time.Time

	queue chan segment
}

func NewTTSHandler(service TTSService, backups []TTSService, config TTSConfig) *TTSHandler {
	typedServices := make([]core.IService, len(backups))
	for i, s := range backups {
		typedServices[i] = s
	}
	if len(config.BreakWords) == 0 {
		config.BreakWords = DefaultConfig().BreakWords
	}
	return &TTSHandler{
		BaseHandler: core.BaseHandler{
			Name:           "TTSHandler",
			Service:        service,
			BackupServices: typedServices,
		},
		config: config,
		queue:  make(chan segment, 64),
	}
}

func (h *TTSHandler) Start() error {
	go h.Consume(h.HandleEvent)
	go h.speakLoop()
	return nil
}

func (h *TTSHandler) HandleEvent(eventPacket *core.EventPacket) error {
	switch event := eventPacket.Event.(type) {
	case *llm.LLMResponseStartedEvent:
		h.mu.Lock()
		h.buffer.Reset()
		h.mu.Unlock()
	case *llm.LLMResponseChunkEvent:
		h.bufferText(event.Chunk)
	case *llm.LLMResponseCompletedEvent:
		h.flush()
	case *tts.TTSSpeakEvent:
		h.enqueue(event.Text, event.AllowInterruptions)
		return nil
	case *vad.VadInterruptionDetectedEvent:
		h.interrupt()
	}
	h.SendPacket(eventPacket)
	return nil
}

func (h *TTSHandler) bufferText(chunk string) {
	h.mu.Lock()
	h.buffer.WriteString(chunk)
	text := h.buffer.String()
	cut := -1
	for _, word := range h.config.BreakWords {
		if i := strings.LastIndex(text, word); i >= 0 && i+len(word) > cut {
			cut = i + len(word)
		}
	}
	if cut < 0 || utf8.RuneCountInString(text[:cut]) < h.config.MinTextLength {
		h.mu.Unlock()
		return
	}
	h.buffer.Reset()
	h.buffer.WriteString(text[cut:])
	h.mu.Unlock()

	h.enqueue(text[:cut], true)
}

func (h *TTSHandler) flush() {
	h.mu.Lock()
	text := h.buffer.String()
	h.buffer.Reset()
	h.mu.Unlock()
	h.enqueue(text, true)
}

func (h *TTSHandler) enqueue(text string, allowInterruptions bool) {
	text = normalizeTextForTTS(text)
	if text == "" {
		return
	}
	h.mu.Lock()
	seg := segment{text: text, allowInterruptions: allowInterruptions, generation: h.generation}
	h.mu.Unlock()

	select {
	case h.queue <- seg:
	case <-h.Ctx.Done():
	}
}

// interrupt drops the current and queued speech unless the segment being
// spoken forbids it.
func (h *TTSHandler) interrupt() {
	h.mu.Lock()
	if h.speaking && !h.interruptible {
		h.mu.Unlock()
		return
	}
	h.generation++
	h.buffer.Reset()
	wasSpeaking := h.speaking
	h.speaking = false
	h.playoutEnd = time.Time{}
	if h.cancelSegment != nil {
		h.cancelSegment()
		h.cancelSegment = nil
	}
	h.mu.Unlock()

	if wasSpeaking {
		h.Emit(&tts.TTSInterruptedEvent{}, core.EventRelayDestinationNextService)
		h.Emit(&tts.TTSSpeakingEndedEvent{}, core.EventRelayDestinationTopService)
	}
}

func (h *TTSHandler) speakLoop() {
	var next *segment
	for {
		seg := next
		if seg == nil {
			select {
			case queued := <-h.queue:
				seg = &queued
			case <-h.Ctx.Done():
				return
			}
		}
		next = h.speak(*seg)
	}
}

// speak synthesizes seg and, when nothing else is queued, holds the
// speaking state until its audio has played out. A segment arriving during
// that wait is returned for the loop to speak next.
func (h *TTSHandler) speak(seg segment) *segment {
	h.mu.Lock()
	if seg.generation != h.generation {
		h.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(h.Ctx)
	defer cancel()
	h.cancelSegment = cancel
	started := !h.speaking
	h.speaking = true
	h.interruptible = seg.allowInterruptions
	h.mu.Unlock()

	if started {
		h.Emit(&tts.TTSSpeakingStartedEvent{AllowInterruptions: seg.allowInterruptions}, core.EventRelayDestinationTopService)
	}

	audio := make(chan core.AudioChunk, 16)
	relayed := make(chan struct{})
	go func() {
		defer close(relayed)
		for chunk := range audio {
			if ctx.Err() != nil {
				continue
			}
			h.extendPlayout(chunk.Duration())
			h.Emit(&tts.TTSOutputEvent{AudioChunk: chunk}, core.EventRelayDestinationNextService)
		}
	}()

	err := h.CurrentService().(TTSService).Synthesize(ctx, seg.text, audio)
	close(audio)
	<-relayed
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		h.Logger.Error("speech synthesis failed", "error", err)
		h.HandleError(err)
	} else {
		h.Emit(&tts.TTSSpokenTextEvent{Text: seg.text}, core.EventRelayDestinationNextService)
	}

	var next *segment
	if len(h.queue) == 0 {
		next = h.awaitPlayout(ctx)
		if ctx.Err() != nil {
			return next
		}
	}

	h.mu.Lock()
	h.cancelSegment = nil
	done := next == nil && len(h.queue) == 0 && h.generation == seg.generation
	if done {
		h.speaking = false
	}
	h.mu.Unlock()

	if done {
		h.Emit(&tts.TTSSpeakingEndedEvent{}, core.EventRelayDestinationTopService)
	}
	return next
}

func (h *TTSHandler) extendPlayout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	if h.playoutEnd.Before(now) {
		h.playoutEnd = now
	}
	h.playoutEnd = h.playoutEnd.Add(d)
}

// awaitPlayout waits for queued audio to finish. It stops early on
// interruption or when the next segment arrives, returning that segment.
func (h *TTSHandler) awaitPlayout(ctx context.Context) *segment {
	h.mu.Lock()
	remaining := time.Until(h.playoutEnd)
	h.mu.Unlock()
	if remaining <= 0 {
		return nil
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case seg := <-h.queue:
		return &seg
	case <-ctx.Done():
		return nil
	}
}
