package silero

import (
	"encoding/binary"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"kioskagent/core"
	vadhandler "kioskagent/handlers/vad"
	"kioskagent/utils/audio"
)

// onnxEnvOnce ensures the ONNX runtime environment is initialized exactly once
// for the entire process lifetime. The runtime leaks internal state when torn
// down and re-created.
var (
	onnxEnvOnce sync.Once
	onnxEnvErr  error
)

const (
	SampleRate  = 16000
	windowSize  = 512 // samples per inference at 16kHz
	contextSize = 64
	stateSize   = 2 * 1 * 128
)

// Config holds configuration for the Silero VAD
type Config struct {
	OnnxPath        string `json:"onnx_path"`
	OnnxRuntimePath string `json:"onnx_runtime_path"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		OnnxPath:        "./external/models/silero_vad.onnx",
		OnnxRuntimePath: "./external/onnx/libonnxruntime.so",
	}
}

// inferencer scores one window. window holds context followed by samples;
// state is read and replaced in place.
type inferencer interface {
	infer(window []float32, state []float32) (float32, error)
	destroy()
}

// Model is a loaded Silero network. Loading is the expensive part, so one
// Model is shared by every session in the process and each session scores
// audio through its own Stream.
type Model struct {
	session *ort.DynamicAdvancedSession
}

// LoadModel initializes the ONNX runtime on first use and loads the network.
func LoadModel(config Config) (*Model, error) {
	onnxEnvOnce.Do(func() {
		ort.SetSharedLibraryPath(config.OnnxRuntimePath)
		onnxEnvErr = ort.InitializeEnvironment()
	})
	if onnxEnvErr != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", onnxEnvErr)
	}

	session, err := ort.NewDynamicAdvancedSession(
		config.OnnxPath,
		[]string{"input", "sr", "state"},
		[]string{"output", "stateN"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &Model{session: session}, nil
}

// NewStream creates per-session VAD state over the shared network.
func (m *Model) NewStream() (vadhandler.VADService, error) {
	inf, err := newOnnxInferencer(m.session)
	if err != nil {
		return nil, err
	}
	return newStream(inf), nil
}

func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	return m.session.Destroy()
}

// onnxInferencer owns the tensors of one stream.
type onnxInferencer struct {
	session *ort.DynamicAdvancedSession
	input   *ort.Tensor[float32]
	sr      *ort.Tensor[int64]
	state   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	stateN  *ort.Tensor[float32]
}

func newOnnxInferencer(session *ort.DynamicAdvancedSession) (*onnxInferencer, error) {
	inf := &onnxInferencer{session: session}
	var err error
	if inf.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, contextSize+windowSize)); err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	if inf.sr, err = ort.NewTensor(ort.NewShape(1), []int64{SampleRate}); err != nil {
		inf.destroy()
		return nil, fmt.Errorf("failed to create sr tensor: %w", err)
	}
	if inf.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		inf.destroy()
		return nil, fmt.Errorf("failed to create state tensor: %w", err)
	}
	if inf.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		inf.destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	if inf.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		inf.destroy()
		return nil, fmt.Errorf("failed to create stateN tensor: %w", err)
	}
	return inf, nil
}

func (o *onnxInferencer) infer(window []float32, state []float32) (float32, error) {
	copy(o.input.GetData(), window)
	copy(o.state.GetData(), state)
	err := o.session.Run(
		[]ort.Value{o.input, o.sr, o.state},
		[]ort.Value{o.output, o.stateN},
	)
	if err != nil {
		return 0, fmt.Errorf("inference failed: %w", err)
	}
	copy(state, o.stateN.GetData())
	return o.output.GetData()[0], nil
}

func (o *onnxInferencer) destroy() {
	for _, t := range []*ort.Tensor[float32]{o.input, o.state, o.output, o.stateN} {
		if t != nil {
			t.Destroy()
		}
	}
	if o.sr != nil {
		o.sr.Destroy()
	}
}

// Stream carries recurrent state, the rolling context and samples that have
// not yet filled a window.
type Stream struct {
	mu      sync.Mutex
	model   inferencer
	state   []float32
	window  []float32
	pending []float32
	closed  bool
}

func newStream(model inferencer) *Stream {
	return &Stream{
		model:  model,
		state:  make([]float32, stateSize),
		window: make([]float32, contextSize+windowSize),
	}
}

// ProcessAudio scores every complete window in input. The result is not
// Ready until the first window has been scored.
func (s *Stream) ProcessAudio(input core.AudioChunk) (core.VADResult, error) {
	converted, err := audio.ConvertAudioChunk(input, core.PCM, 1, SampleRate)
	if err != nil {
		return core.VADResult{}, fmt.Errorf("convert failed: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return core.VADResult{}, fmt.Errorf("VAD stream closed")
	}

	s.pending = appendNormalized(s.pending, converted.Bytes())

	var result core.VADResult
	for len(s.pending) >= windowSize {
		copy(s.window[contextSize:], s.pending[:windowSize])
		s.pending = s.pending[windowSize:]

		confidence, err := s.model.infer(s.window, s.state)
		if err != nil {
			return core.VADResult{}, err
		}
		result = core.VADResult{Ready: true, Confidence: confidence}

		// The tail of this window is the context of the next one.
		copy(s.window[:contextSize], s.window[windowSize:])
	}
	s.pending = append(s.pending[:0:0], s.pending...)
	return result, nil
}

func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.model.destroy()
	}
	return nil
}

// appendNormalized converts little-endian PCM16 to [-1, 1) floats.
func appendNormalized(dst []float32, pcm []byte) []float32 {
	for i := 0; i+1 < len(pcm); i += 2 {
		dst = append(dst, float32(int16(binary.LittleEndian.Uint16(pcm[i:])))/32768.0)
	}
	return dst
}
