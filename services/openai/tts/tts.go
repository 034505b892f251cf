package tts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sashabaranov/go-openai"

	"kioskagent/core"
	"kioskagent/services/openai/llm"
)

// OpenAI speech in pcm format is 24kHz 16-bit mono.
const (
	SampleRate = 24000
	chunkBytes = SampleRate / 10 * 2 // 100ms
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   openai.SpeechModel
	Voice   openai.SpeechVoice
	Speed   float64
}

func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey: apiKey,
		Model:  openai.TTSModel1,
		Voice:  openai.VoiceAlloy,
		Speed:  1.0,
	}
}

type OpenAITTSService struct {
	config Config
	client *openai.Client
}

func NewOpenAITTSService(config Config) *OpenAITTSService {
	if config.Model == "" {
		config.Model = openai.TTSModel1
	}
	if config.Voice == "" {
		config.Voice = openai.VoiceAlloy
	}
	return &OpenAITTSService{config: config}
}

func (s *OpenAITTSService) Init(ctx context.Context) error {
	if s.config.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	s.client = llm.NewClient(s.config.APIKey, s.config.BaseURL)
	return nil
}

func (s *OpenAITTSService) Cleanup() error { return nil }
func (s *OpenAITTSService) Reset() error   { return nil }

// Synthesize streams the speech body out in 100ms chunks as it arrives.
func (s *OpenAITTSService) Synthesize(ctx context.Context, text string, out chan<- core.AudioChunk) error {
	if s.client == nil {
		return fmt.Errorf("OpenAI TTS service not initialized")
	}
	body, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          s.config.Model,
		Input:          text,
		Voice:          s.config.Voice,
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          s.config.Speed,
	})
	if err != nil {
		return fmt.Errorf("create speech: %w", err)
	}
	defer body.Close()

	buf := make([]byte, chunkBytes)
	for {
		n, err := io.ReadFull(body, buf)
		if n > 0 {
			data := make([]byte, n-n%2)
			copy(data, buf[:len(data)])
			select {
			case out <- core.AudioChunk{Data: &data, SampleRate: SampleRate, Channels: 1, Format: core.PCM}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read speech: %w", err)
		}
	}
}
