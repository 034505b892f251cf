package tts

type TTSConfig struct {
	BreakWords    []string `json:"break_words"`     // Punctuation and linguistic markers that trigger early flushing of buffered text to TTS.
	MinTextLength int      `json:"min_text_length"` // Minimum text length, in runes, before a break word may flush a segment.
}

// DefaultConfig returns a TTSConfig with sensible defaults.
func DefaultConfig() TTSConfig {
	return TTSConfig{
		BreakWords:    []string{".", "!", "?", ";", ":", "\n"},
		MinTextLength: 20,
	}
}
