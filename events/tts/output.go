package tts

import "kioskagent/core"

type TTSOutputEvent struct {
	AudioChunk core.AudioChunk
}

func (e *TTSOutputEvent) GetId() string {
	return "tts.output"
}

type TTSSpeakingStartedEvent struct {
	AllowInterruptions bool
}

func (e *TTSSpeakingStartedEvent) GetId() string {
	return "tts.speaking_started"
}

type TTSSpeakingEndedEvent struct{}

func (e *TTSSpeakingEndedEvent) GetId() string {
	return "tts.speaking_ended"
}

// TTSSpeakEvent speaks Text directly, bypassing the LLM.
type TTSSpeakEvent struct {
	Text               string
	AllowInterruptions bool
}

func (e *TTSSpeakEvent) GetId() string {
	return "tts.speak"
}

// TTSSpokenTextEvent reports a segment that finished playing out.
type TTSSpokenTextEvent struct {
	Text string
}

func (e *TTSSpokenTextEvent) GetId() string {
	return "tts.spoken_text"
}

type TTSInterruptedEvent struct{}

func (e *TTSInterruptedEvent) GetId() string {
	return "tts.interrupted"
}
