package vad

import "time"

type VADConfig struct {
	MinConfidence      float32       `json:"min_confidence"`       // Probability at or above which a frame counts as speech.
	StopConfidence     float32       `json:"stop_confidence"`      // Probability below which a frame counts as silence while speaking.
	MinSpeechDuration  time.Duration `json:"min_speech_duration"`  // Speech needed before a segment starts.
	MinSilenceDuration time.Duration `json:"min_silence_duration"` // Silence needed before a segment ends.
	AllowInterruptions bool          `json:"allow_interruptions"`  // If true, user speech cuts off interruptible agent speech.
}

// DefaultConfig returns a VADConfig with sensible defaults
func DefaultConfig() VADConfig {
	return VADConfig{
		MinConfidence:      0.5,
		StopConfidence:     0.35,
		MinSpeechDuration:  50 * time.Millisecond,
		MinSilenceDuration: 550 * time.Millisecond,
		AllowInterruptions: true,
	}
}
