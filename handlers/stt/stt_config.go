package stt

type STTConfig struct {
	RequiredSampleRate int  // Sample rate the engine expects, in Hz.
	RequiredChannels   int  // Channel count the engine expects.
	ForwardInterim     bool // Emit interim transcripts downstream.
}

func DefaultConfig() STTConfig {
	return STTConfig{
		RequiredSampleRate: 16000,
		RequiredChannels:   1,
	}
}
