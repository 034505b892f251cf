package factories

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bytedance/sonic"

	vadhandler "kioskagent/handlers/vad"
	silerovad "kioskagent/vad/silero"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingAPIKey   = errors.New("missing api key")
)

// Provider names accepted in settings.
const (
	ProviderOpenAI     = "openai"
	ProviderDeepgram   = "deepgram"
	ProviderElevenLabs = "elevenlabs"
)

type STTSettings struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
	// EndpointingMs is the silence that closes an utterance on streaming
	// providers.
	EndpointingMs int      `json:"endpointing_ms,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
	BaseURL       string   `json:"base_url,omitempty"`

	Fallbacks []STTSettings `json:"fallbacks,omitempty"`
}

type LLMSettings struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	Fallbacks []LLMSettings `json:"fallbacks,omitempty"`
}

type TTSSettings struct {
	Provider     string  `json:"provider"`
	Voice        string  `json:"voice,omitempty"`
	Model        string  `json:"model,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"` // ElevenLabs only.
	Speed        float64 `json:"speed,omitempty"`         // OpenAI only.
	BaseURL      string  `json:"base_url,omitempty"`

	Fallbacks []TTSSettings `json:"fallbacks,omitempty"`
}

// VADSettings mirrors the VAD handler config with JSON friendly durations.
type VADSettings struct {
	MinConfidence     float32 `json:"min_confidence,omitempty"`
	StopConfidence    float32 `json:"stop_confidence,omitempty"`
	MinSpeechMs       int     `json:"min_speech_ms,omitempty"`
	MinSilenceMs      int     `json:"min_silence_ms,omitempty"`
	DisableInterrupts bool    `json:"disable_interruptions,omitempty"`
}

func (s VADSettings) Config() vadhandler.VADConfig {
	cfg := vadhandler.DefaultConfig()
	if s.MinConfidence > 0 {
		cfg.MinConfidence = s.MinConfidence
	}
	if s.StopConfidence > 0 {
		cfg.StopConfidence = s.StopConfidence
	}
	if s.MinSpeechMs > 0 {
		cfg.MinSpeechDuration = time.Duration(s.MinSpeechMs) * time.Millisecond
	}
	if s.MinSilenceMs > 0 {
		cfg.MinSilenceDuration = time.Duration(s.MinSilenceMs) * time.Millisecond
	}
	cfg.AllowInterruptions = !s.DisableInterrupts
	return cfg
}

// Settings selects the providers of one deployment. Each variant ships
// defaults; a settings file only needs the fields it changes.
type Settings struct {
	STT    STTSettings      `json:"stt"`
	LLM    LLMSettings      `json:"llm"`
	TTS    TTSSettings      `json:"tts"`
	VAD    VADSettings      `json:"vad"`
	Silero silerovad.Config `json:"silero"`

	LiveKit LiveKitSettings `json:"livekit"`

	// Go duration strings, e.g. "5m". "0" disables the limit.
	ParticipantTimeout string `json:"participant_timeout,omitempty"`
	MaxSessionDuration string `json:"max_session_duration,omitempty"`
}

// SettingsFromJSON overlays data on base.
func SettingsFromJSON(data []byte, base Settings) (Settings, error) {
	settings := base
	if err := sonic.Unmarshal(data, &settings); err != nil {
		return Settings{}, fmt.Errorf("settings: %w", err)
	}
	return settings, nil
}

func SettingsFromFile(path string, base Settings) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsFromJSON(data, base)
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("settings: %s: %w", field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("settings: %s must not be negative", field)
	}
	return d, nil
}

// APIKeys holds provider credentials. They come from the environment and
// never from settings files.
type APIKeys struct {
	OpenAI     string
	Deepgram   string
	ElevenLabs string
}

func APIKeysFromEnv() APIKeys {
	return APIKeys{
		OpenAI:     os.Getenv("OPENAI_API_KEY"),
		Deepgram:   os.Getenv("DEEPGRAM_API_KEY"),
		ElevenLabs: os.Getenv("ELEVENLABS_API_KEY"),
	}
}

func (k APIKeys) forProvider(provider string) (key, env string, err error) {
	switch provider {
	case ProviderOpenAI:
		return k.OpenAI, "OPENAI_API_KEY", nil
	case ProviderDeepgram:
		return k.Deepgram, "DEEPGRAM_API_KEY", nil
	case ProviderElevenLabs:
		return k.ElevenLabs, "ELEVENLABS_API_KEY", nil
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}

func (k APIKeys) require(stage, provider string) (string, error) {
	key, env, err := k.forProvider(provider)
	if err != nil {
		return "", fmt.Errorf("%s: %w", stage, err)
	}
	if key == "" {
		return "", fmt.Errorf("%s: %w: set %s", stage, ErrMissingAPIKey, env)
	}
	return key, nil
}

// Validate checks every configured provider, fallbacks included, against
// the available keys. It builds nothing.
func (s Settings) Validate(keys APIKeys) error {
	var errs []error
	check := func(stage, provider string, allowed ...string) {
		for _, p := range allowed {
			if p == provider {
				if _, err := keys.require(stage, provider); err != nil {
					errs = append(errs, err)
				}
				return
			}
		}
		errs = append(errs, fmt.Errorf("%s: %w: %q", stage, ErrUnknownProvider, provider))
	}

	for i, stt := range append([]STTSettings{s.STT}, s.STT.Fallbacks...) {
		check(stageName("stt", i), stt.Provider, ProviderOpenAI, ProviderDeepgram)
	}
	for i, llm := range append([]LLMSettings{s.LLM}, s.LLM.Fallbacks...) {
		check(stageName("llm", i), llm.Provider, ProviderOpenAI)
	}
	for i, tts := range append([]TTSSettings{s.TTS}, s.TTS.Fallbacks...) {
		check(stageName("tts", i), tts.Provider, ProviderOpenAI, ProviderElevenLabs)
	}
	if _, err := parseDuration("participant_timeout", s.ParticipantTimeout, 0); err != nil {
		errs = append(errs, err)
	}
	if _, err := parseDuration("max_session_duration", s.MaxSessionDuration, 0); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func stageName(stage string, i int) string {
	if i == 0 {
		return stage
	}
	return fmt.Sprintf("%s fallback[%d]", stage, i-1)
}
