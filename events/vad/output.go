package vad

import "kioskagent/core"

type VADUserSpeechChunkEvent struct {
	AudioChunk core.AudioChunk
}

func (e *VADUserSpeechChunkEvent) GetId() string {
	return "vad.user_speech.chunk"
}

type VadUserSpeechStartedEvent struct {
}

func (e *VadUserSpeechStartedEvent) GetId() string {
	return "vad.user_speech.started"
}

type VadUserSpeechEndedEvent struct {
	Duration float64 // Seconds of speech in the segment.
}

func (e *VadUserSpeechEndedEvent) GetId() string {
	return "vad.user_speech.ended"
}

// VadInterruptionDetectedEvent is emitted when the user starts speaking
// while interruptible agent speech is playing.
type VadInterruptionDetectedEvent struct {
}

func (e *VadInterruptionDetectedEvent) GetId() string {
	return "vad.interruption.detected"
}
