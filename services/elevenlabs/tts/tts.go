package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"kioskagent/core"
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs TTS service
type ElevenLabsTTSConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`
	// OutputFormat is pcm_<rate>, ulaw_8000 or alaw_8000.
	OutputFormat string `json:"output_format"`

	// Voice settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabsTTS speaks each utterance over its own stream-input websocket:
// BOS, the text, then EOS, reading audio until the final frame.
type ElevenLabsTTS struct {
	config ElevenLabsTTSConfig
	format core.AudioEncodingFormat
	rate   int
	dialer *websocket.Dialer
}

// Client messages
type (
	// BOS (Beginning of Stream) opens the utterance.
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	// Text chunk message, empty text is EOS.
	elTextMessage struct {
		Text                 string `json:"text"`
		TryTriggerGeneration bool   `json:"try_trigger_generation,omitempty"`
	}
)

// Server messages
type elServerMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewElevenLabsTTS creates a new ElevenLabs TTS service with the provided config
func NewElevenLabsTTS(config ElevenLabsTTSConfig) *ElevenLabsTTS {
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	}
	if config.VoiceID == "" {
		config.VoiceID = "21m00Tcm4TlvDq8ikWAM" // Default: Rachel
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_turbo_v2_5"
	}
	if config.OutputFormat == "" {
		config.OutputFormat = "pcm_24000"
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	format, rate := parseOutputFormat(config.OutputFormat)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &ElevenLabsTTS{config: config, format: format, rate: rate, dialer: &dialer}
}

// parseOutputFormat maps an output_format value to the chunk encoding.
func parseOutputFormat(value string) (core.AudioEncodingFormat, int) {
	codec, rateText, _ := strings.Cut(value, "_")
	rate, err := strconv.Atoi(rateText)
	if err != nil || rate <= 0 {
		rate = 24000
	}
	switch codec {
	case "ulaw":
		return core.ULAW, rate
	case "alaw":
		return core.ALAW, rate
	default:
		return core.PCM, rate
	}
}

func (e *ElevenLabsTTS) Init(ctx context.Context) error {
	if e.config.APIKey == "" {
		return fmt.Errorf("ElevenLabs API key is required")
	}
	return nil
}

func (e *ElevenLabsTTS) Cleanup() error { return nil }
func (e *ElevenLabsTTS) Reset() error   { return nil }

func (e *ElevenLabsTTS) streamURL() string {
	q := url.Values{}
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", e.config.OutputFormat)
	return fmt.Sprintf("%s/%s/stream-input?%s", strings.TrimRight(e.config.BaseURL, "/"), e.config.VoiceID, q.Encode())
}

func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string, out chan<- core.AudioChunk) error {
	headers := http.Header{"xi-api-key": {e.config.APIKey}}
	conn, _, err := e.dialer.DialContext(ctx, e.streamURL(), headers)
	if err != nil {
		return fmt.Errorf("dial ElevenLabs: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	bos := elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
	for _, msg := range []interface{}{bos, elTextMessage{Text: text + " ", TryTriggerGeneration: true}, elTextMessage{}} {
		if err := sendJSON(conn, msg); err != nil {
			return err
		}
	}

	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read ElevenLabs stream: %w", err)
		}

		var msg elServerMessage
		if err := sonic.Unmarshal(message, &msg); err != nil {
			return fmt.Errorf("parse ElevenLabs message: %w", err)
		}
		if msg.Error != "" {
			return fmt.Errorf("ElevenLabs error: %s %s (code: %d)", msg.Error, msg.Message, msg.Code)
		}
		if msg.Audio != "" {
			data, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("decode audio: %w", err)
			}
			chunk := core.AudioChunk{
				Data:       &data,
				SampleRate: e.rate,
				Channels:   1,
				Format:     e.format,
				Timestamp:  time.Now(),
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if msg.IsFinal {
			return nil
		}
	}
}

func sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Join(errors.New("write ElevenLabs message"), err)
	}
	return nil
}
