package stt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"kioskagent/core"
	"kioskagent/utils/audio"
)

// DeepgramConfig holds configuration options for Deepgram STT
type DeepgramConfig struct {
	APIKey         string            `json:"api_key"`
	BaseURL        string            `json:"base_url"`
	Model          string            `json:"model"`
	Language       string            `json:"language"`
	InterimResults bool              `json:"interim_results"`
	Punctuate      bool              `json:"punctuate"`
	SmartFormat    bool              `json:"smart_format"`
	Endpointing    int               `json:"endpointing"` // Milliseconds of silence that end an utterance, 0 leaves the server default.
	Keywords       []string          `json:"keywords"`
	SampleRate     int               `json:"sample_rate"`
	Extra          map[string]string `json:"extra"`
	ReconnectDelay time.Duration     `json:"-"`
}

// DefaultConfig returns a default configuration for Deepgram STT
func DefaultConfig() *DeepgramConfig {
	return &DeepgramConfig{
		BaseURL:        "wss://api.deepgram.com",
		Model:          "nova-2",
		Language:       "en",
		InterimResults: true,
		Punctuate:      true,
		SmartFormat:    true,
		SampleRate:     16000,
		ReconnectDelay: 5 * time.Second,
	}
}

// DeepgramSTTService streams audio to Deepgram's live endpoint. Final
// fragments are joined until Deepgram marks the end of speech, so each
// utterance yields one transcript.
type DeepgramSTTService struct {
	config *DeepgramConfig
	logger *core.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	pending []string
	ready   chan struct{}

	outChan               chan<- string
	interimOutputChan     chan<- string
	fatalServiceErrorChan chan<- error

	ctx    context.Context
	cancel context.CancelFunc
}

// NewDeepgramSTTService creates a new Deepgram STT service instance.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewDeepgramSTTService(config *DeepgramConfig) *DeepgramSTTService {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.deepgram.com"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 16000
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	return &DeepgramSTTService{config: config, ready: make(chan struct{})}
}

func (d *DeepgramSTTService) Init(ctx context.Context) error {
	if d.config.APIKey == "" {
		return fmt.Errorf("Deepgram API key is required")
	}
	d.logger = core.LoggerFromContext(ctx).With(map[string]interface{}{"service": "deepgram_stt"})
	d.ctx, d.cancel = context.WithCancel(ctx)
	return nil
}

func (d *DeepgramSTTService) Cleanup() error {
	if d.cancel != nil {
		d.cancel()
	}
	d.closeConnection()
	return nil
}

func (d *DeepgramSTTService) Reset() error {
	d.connMu.Lock()
	d.pending = nil
	d.connMu.Unlock()
	return d.Flush()
}

// Flush asks Deepgram to finalize whatever audio it holds.
func (d *DeepgramSTTService) Flush() error {
	return d.writeControl("Finalize")
}

// StartTranscriptionSession starts a new transcription session with Deepgram
func (d *DeepgramSTTService) StartTranscriptionSession(
	outChan chan<- string,
	interimOutputChan chan<- string,
	fatalServiceErrorChan chan<- error,
) {
	d.outChan = outChan
	d.interimOutputChan = interimOutputChan
	d.fatalServiceErrorChan = fatalServiceErrorChan
	go d.runSession()
}

// Ready is closed once the first connection is up.
func (d *DeepgramSTTService) Ready() <-chan struct{} {
	return d.ready
}

func (d *DeepgramSTTService) SendTranscriptionAudio(chunk core.AudioChunk) error {
	converted, err := audio.ConvertAudioChunk(chunk, core.PCM, 1, d.config.SampleRate)
	if err != nil {
		return fmt.Errorf("failed to convert audio chunk: %w", err)
	}

	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn == nil {
		return fmt.Errorf("not connected to Deepgram")
	}
	if err := d.conn.WriteMessage(websocket.BinaryMessage, converted.Bytes()); err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// runSession keeps a connection open, reconnecting after failures.
func (d *DeepgramSTTService) runSession() {
	var once sync.Once
	for {
		err := d.connectAndListen(func() { once.Do(func() { close(d.ready) }) })
		if d.ctx.Err() != nil {
			return
		}
		if err != nil {
			d.logger.Warn("deepgram session dropped", "error", err)
			select {
			case d.fatalServiceErrorChan <- fmt.Errorf("Deepgram session error: %w", err):
			default:
			}
		}
		select {
		case <-time.After(d.config.ReconnectDelay):
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *DeepgramSTTService) connectAndListen(connected func()) error {
	wsURL, err := d.buildWebSocketURL()
	if err != nil {
		return fmt.Errorf("failed to build WebSocket URL: %w", err)
	}
	headers := http.Header{"Authorization": {"Token " + d.config.APIKey}}

	conn, _, err := websocket.DefaultDialer.DialContext(d.ctx, wsURL, headers)
	if err != nil {
		return fmt.Errorf("failed to connect to Deepgram: %w", err)
	}
	d.connMu.Lock()
	d.conn = conn
	d.connMu.Unlock()
	defer d.closeConnection()
	connected()

	go d.keepAlive(conn)
	go func() {
		<-d.ctx.Done()
		conn.Close()
	}()

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if d.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("error reading message: %w", err)
		}
		if messageType == websocket.TextMessage {
			if err := d.handleMessage(message); err != nil {
				d.logger.Debug("ignoring deepgram message", "error", err)
			}
		}
	}
}

func (d *DeepgramSTTService) buildWebSocketURL() (string, error) {
	base, err := url.Parse(strings.TrimRight(d.config.BaseURL, "/") + "/v1/listen")
	if err != nil {
		return "", err
	}

	q := base.Query()
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	q.Set("interim_results", strconv.FormatBool(d.config.InterimResults))
	q.Set("punctuate", strconv.FormatBool(d.config.Punctuate))
	q.Set("smart_format", strconv.FormatBool(d.config.SmartFormat))
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.config.SampleRate))
	q.Set("channels", "1")
	if d.config.Endpointing > 0 {
		q.Set("endpointing", strconv.Itoa(d.config.Endpointing))
	}
	for _, keyword := range d.config.Keywords {
		q.Add("keywords", keyword)
	}
	for key, value := range d.config.Extra {
		q.Set(key, value)
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (d *DeepgramSTTService) handleMessage(message []byte) error {
	var base struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(message, &base); err != nil {
		return fmt.Errorf("failed to parse message type: %w", err)
	}

	switch base.Type {
	case "Results":
		var result ListenV1Results
		if err := sonic.Unmarshal(message, &result); err != nil {
			return fmt.Errorf("failed to parse results: %w", err)
		}
		d.processResults(result)
	case "Metadata", "UtteranceEnd", "SpeechStarted":
	default:
		return fmt.Errorf("unknown message type: %s", base.Type)
	}
	return nil
}

func (d *DeepgramSTTService) processResults(result ListenV1Results) {
	transcript := ""
	if len(result.Channel.Alternatives) > 0 {
		transcript = strings.TrimSpace(result.Channel.Alternatives[0].Transcript)
	}

	if !result.IsFinal {
		if transcript != "" && d.interimOutputChan != nil {
			select {
			case d.interimOutputChan <- transcript:
			default:
			}
		}
		return
	}

	d.connMu.Lock()
	if transcript != "" {
		d.pending = append(d.pending, transcript)
	}
	var utterance string
	if result.SpeechFinal || result.FromFinalize {
		utterance = strings.Join(d.pending, " ")
		d.pending = nil
	}
	d.connMu.Unlock()

	if utterance == "" {
		return
	}
	d.logger.Debug("deepgram final", "text", utterance)
	select {
	case d.outChan <- utterance:
	case <-d.ctx.Done():
	}
}

func (d *DeepgramSTTService) keepAlive(conn *websocket.Conn) {
	ticker := time.NewTicker(8 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.connMu.Lock()
			if d.conn != conn {
				d.connMu.Unlock()
				return
			}
			_ = writeControlLocked(conn, "KeepAlive")
			d.connMu.Unlock()
		}
	}
}

func (d *DeepgramSTTService) writeControl(kind string) error {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn == nil {
		return nil
	}
	return writeControlLocked(d.conn, kind)
}

func writeControlLocked(conn *websocket.Conn, kind string) error {
	msg, err := sonic.Marshal(ListenV1Control{Type: kind})
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", kind, err)
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (d *DeepgramSTTService) closeConnection() {
	d.connMu.Lock()
	defer d.connMu.Unlock()
	if d.conn != nil {
		_ = writeControlLocked(d.conn, "CloseStream")
		_ = d.conn.Close()
		d.conn = nil
	}
}

type ListenV1Results struct {
	Type         string  `json:"type"`
	Duration     float64 `json:"duration"`
	Start        float64 `json:"start"`
	IsFinal      bool    `json:"is_final"`
	SpeechFinal  bool    `json:"speech_final"`
	FromFinalize bool    `json:"from_finalize,omitempty"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// ListenV1Control covers the KeepAlive, Finalize and CloseStream messages.
type ListenV1Control struct {
	Type string `json:"type"`
}
