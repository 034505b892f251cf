package stt

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"

	"kioskagent/core"
	"kioskagent/services/openai/llm"
	"kioskagent/utils/audio"
)

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Language   string // ISO-639-1 hint, e.g. "th".
	SampleRate int
	Channels   int
	// MinAudio skips utterances too short to hold a word.
	MinAudio time.Duration
}

func DefaultConfig(apiKey, language string) Config {
	return Config{
		APIKey:     apiKey,
		Model:      openai.Whisper1,
		Language:   language,
		SampleRate: 16000,
		Channels:   1,
		MinAudio:   100 * time.Millisecond,
	}
}

// OpenAISTTService transcribes whole utterances. Audio is buffered between
// VAD boundaries and sent as one WAV file on Flush.
type OpenAISTTService struct {
	config Config
	client *openai.Client

	mu     sync.Mutex
	buffer bytes.Buffer
	work   sync.Mutex // serialises transcriptions so transcripts keep utterance order

	ctx    context.Context
	cancel context.CancelFunc

	outChan   chan<- string
	fatalChan chan<- error
}

func NewOpenAISTTService(config Config) *OpenAISTTService {
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	return &OpenAISTTService{config: config}
}

func (s *OpenAISTTService) Init(ctx context.Context) error {
	if s.config.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	s.client = llm.NewClient(s.config.APIKey, s.config.BaseURL)
	s.ctx, s.cancel = context.WithCancel(ctx)
	return nil
}

func (s *OpenAISTTService) Cleanup() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func (s *OpenAISTTService) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Reset()
	return nil
}

func (s *OpenAISTTService) StartTranscriptionSession(outChan chan<- string, interimOutChan chan<- string, fatalServiceErrorChan chan<- error) {
	s.outChan = outChan
	s.fatalChan = fatalServiceErrorChan
}

func (s *OpenAISTTService) SendTranscriptionAudio(chunk core.AudioChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer.Write(chunk.Bytes())
	return nil
}

// Flush transcribes the buffered utterance in the background.
func (s *OpenAISTTService) Flush() error {
	s.mu.Lock()
	pcm := append([]byte(nil), s.buffer.Bytes()...)
	s.buffer.Reset()
	s.mu.Unlock()

	frames := len(pcm) / (2 * s.config.Channels)
	if time.Duration(frames)*time.Second/time.Duration(s.config.SampleRate) < s.config.MinAudio {
		return nil
	}
	wav, err := audio.PCMBytesToWavBytes(pcm, s.config.Channels, s.config.SampleRate)
	if err != nil {
		return err
	}

	go func() {
		s.work.Lock()
		defer s.work.Unlock()
		text, err := s.transcribe(wav)
		if err != nil {
			if s.ctx.Err() == nil {
				s.report(err)
			}
			return
		}
		select {
		case s.outChan <- text:
		case <-s.ctx.Done():
		}
	}()
	return nil
}

func (s *OpenAISTTService) transcribe(wav []byte) (string, error) {
	resp, err := s.client.CreateTranscription(s.ctx, openai.AudioRequest{
		Model:    s.config.Model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: s.config.Language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}

func (s *OpenAISTTService) report(err error) {
	select {
	case s.fatalChan <- err:
	case <-s.ctx.Done():
	}
}
