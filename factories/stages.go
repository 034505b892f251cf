package factories

import (
	"fmt"

	"github.com/sashabaranov/go-openai"

	"kioskagent/agent"
	"kioskagent/core"
	llmhandler "kioskagent/handlers/llm"
	stthandler "kioskagent/handlers/stt"
	ttshandler "kioskagent/handlers/tts"
	deepgramstt "kioskagent/services/deepgram/stt"
	elevenlabs "kioskagent/services/elevenlabs/tts"
	openaillm "kioskagent/services/openai/llm"
	openaistt "kioskagent/services/openai/stt"
	openaitts "kioskagent/services/openai/tts"
)

// BuildSTTService constructs the engine named by settings.Provider.
func BuildSTTService(settings STTSettings, keys APIKeys) (stthandler.ISTTService, error) {
	key, err := keys.require("stt", settings.Provider)
	if err != nil {
		return nil, err
	}
	switch settings.Provider {
	case ProviderOpenAI:
		cfg := openaistt.DefaultConfig(key, settings.Language)
		if settings.Model != "" {
			cfg.Model = settings.Model
		}
		cfg.BaseURL = settings.BaseURL
		return openaistt.NewOpenAISTTService(cfg), nil
	case ProviderDeepgram:
		cfg := deepgramstt.DefaultConfig()
		cfg.APIKey = key
		if settings.Model != "" {
			cfg.Model = settings.Model
		}
		if settings.Language != "" {
			cfg.Language = settings.Language
		}
		if settings.BaseURL != "" {
			cfg.BaseURL = settings.BaseURL
		}
		cfg.Endpointing = settings.EndpointingMs
		cfg.Keywords = settings.Keywords
		return deepgramstt.NewDeepgramSTTService(cfg), nil
	}
	return nil, fmt.Errorf("stt: %w: %q", ErrUnknownProvider, settings.Provider)
}

// BuildLLMService constructs the chat engine. OpenAI compatible endpoints
// are reached through BaseURL.
func BuildLLMService(settings LLMSettings, keys APIKeys) (llmhandler.LLMService, error) {
	if settings.Provider != ProviderOpenAI {
		return nil, fmt.Errorf("llm: %w: %q", ErrUnknownProvider, settings.Provider)
	}
	key, err := keys.require("llm", settings.Provider)
	if err != nil {
		return nil, err
	}
	cfg := openaillm.DefaultConfig(key)
	if settings.Model != "" {
		cfg.Model = settings.Model
	}
	cfg.BaseURL = settings.BaseURL
	cfg.Temperature = settings.Temperature
	cfg.MaxTokens = settings.MaxTokens
	return openaillm.NewOpenAILLMService(cfg), nil
}

func BuildTTSService(settings TTSSettings, keys APIKeys) (ttshandler.TTSService, error) {
	key, err := keys.require("tts", settings.Provider)
	if err != nil {
		return nil, err
	}
	switch settings.Provider {
	case ProviderOpenAI:
		cfg := openaitts.DefaultConfig(key)
		if settings.Voice != "" {
			cfg.Voice = openai.SpeechVoice(settings.Voice)
		}
		if settings.Model != "" {
			cfg.Model = openai.SpeechModel(settings.Model)
		}
		if settings.Speed > 0 {
			cfg.Speed = settings.Speed
		}
		cfg.BaseURL = settings.BaseURL
		return openaitts.NewOpenAITTSService(cfg), nil
	case ProviderElevenLabs:
		return elevenlabs.NewElevenLabsTTS(elevenlabs.ElevenLabsTTSConfig{
			APIKey:       key,
			BaseURL:      settings.BaseURL,
			VoiceID:      settings.Voice,
			ModelID:      settings.Model,
			OutputFormat: settings.OutputFormat,
		}), nil
	}
	return nil, fmt.Errorf("tts: %w: %q", ErrUnknownProvider, settings.Provider)
}

// BuildStages constructs primary and fallback engines for one session.
func BuildStages(settings Settings, keys APIKeys) (agent.Stages, error) {
	var stages agent.Stages
	var err error

	if stages.STT, err = BuildSTTService(settings.STT, keys); err != nil {
		return agent.Stages{}, err
	}
	for i, fb := range settings.STT.Fallbacks {
		svc, err := BuildSTTService(fb, keys)
		if err != nil {
			return agent.Stages{}, fmt.Errorf("stt fallback[%d]: %w", i, err)
		}
		stages.STTBackups = append(stages.STTBackups, svc)
	}

	if stages.LLM, err = BuildLLMService(settings.LLM, keys); err != nil {
		return agent.Stages{}, err
	}
	for i, fb := range settings.LLM.Fallbacks {
		svc, err := BuildLLMService(fb, keys)
		if err != nil {
			return agent.Stages{}, fmt.Errorf("llm fallback[%d]: %w", i, err)
		}
		stages.LLMBackups = append(stages.LLMBackups, svc)
	}

	if stages.TTS, err = BuildTTSService(settings.TTS, keys); err != nil {
		return agent.Stages{}, err
	}
	for i, fb := range settings.TTS.Fallbacks {
		svc, err := BuildTTSService(fb, keys)
		if err != nil {
			return agent.Stages{}, fmt.Errorf("tts fallback[%d]: %w", i, err)
		}
		stages.TTSBackups = append(stages.TTSBackups, svc)
	}
	return stages, nil
}

// StageFactory binds settings and keys for the bootstrapper.
func StageFactory(settings Settings, keys APIKeys) agent.StageFactory {
	return func(logger *core.Logger) (agent.Stages, error) {
		logger.Debug("building stages", "stt", settings.STT.Provider, "llm", settings.LLM.Provider, "tts", settings.TTS.Provider)
		return BuildStages(settings, keys)
	}
}
