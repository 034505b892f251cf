package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"kioskagent/core"
	contexthandler "kioskagent/handlers/context"
	llmhandler "kioskagent/handlers/llm"
	stthandler "kioskagent/handlers/stt"
	transporthandler "kioskagent/handlers/transport"
	ttshandler "kioskagent/handlers/tts"
	vadhandler "kioskagent/handlers/vad"
	"kioskagent/runner"
	"kioskagent/tools/ticket"
)

// DefaultParticipantTimeout matches the room's empty timeout.
const DefaultParticipantTimeout = 5 * time.Minute

var ErrParticipantTimeout = errors.New("no participant joined before the timeout")

// Room is the session's view of a live room: join, wait for a visitor,
// stream audio both ways and publish data.
type Room interface {
	transporthandler.TransportService
	ticket.Publisher
	Connect(ctx context.Context) error
	WaitForParticipant(ctx context.Context) (string, error)
	// Done is closed when the visitor leaves or the connection drops.
	Done() <-chan struct{}
	Close() error
}

// Stages holds the engines of one session. A fresh set is built per job.
type Stages struct {
	STT        stthandler.ISTTService
	STTBackups []stthandler.ISTTService
	LLM        llmhandler.LLMService
	LLMBackups []llmhandler.LLMService
	TTS        ttshandler.TTSService
	TTSBackups []ttshandler.TTSService
}

// StageFactory builds the engines for one job.
type StageFactory func(logger *core.Logger) (Stages, error)

// ToolFactory builds a command bound to the job's room.
type ToolFactory func(publisher ticket.Publisher, logger *core.Logger) contexthandler.Command

type SessionOptions struct {
	Instructions          string
	Greeting              string
	GreetingInterruptible bool
	// ParticipantTimeout bounds the wait for a visitor. Zero waits until
	// the job is cancelled.
	ParticipantTimeout time.Duration
	// MaxDuration ends a running session. Zero means no limit.
	MaxDuration time.Duration

	Stages StageFactory
	Tools  []ToolFactory

	VAD       vadhandler.VADConfig
	STT       stthandler.STTConfig
	LLM       llmhandler.LLMHandlerConfig
	TTS       ttshandler.TTSConfig
	Transport transporthandler.TransportConfig
	Context   contexthandler.ContextConfig
}

func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		GreetingInterruptible: true,
		ParticipantTimeout:    DefaultParticipantTimeout,
		VAD:                   vadhandler.DefaultConfig(),
		STT:                   stthandler.DefaultConfig(),
		LLM:                   llmhandler.DefaultConfig(),
		TTS:                   ttshandler.DefaultConfig(),
		Transport:             transporthandler.DefaultConfig(),
		Context:               contexthandler.DefaultContextConfig(),
	}
}

// JobContext is what one assignment hands to the bootstrapper.
type JobContext struct {
	RoomName string
	Room     Room
	Proc     *ProcessContext
	Logger   *core.Logger
}

// Bootstrapper joins a room, waits for the visitor and starts the voice
// pipeline for one session.
type Bootstrapper struct {
	options SessionOptions
	loadVAD VADLoader
}

func NewBootstrapper(options SessionOptions, loadVAD VADLoader) *Bootstrapper {
	return &Bootstrapper{options: options, loadVAD: loadVAD}
}

// Start returns once the pipeline is running and the greeting is queued.
// On error the room is closed.
func (b *Bootstrapper) Start(ctx context.Context, job *JobContext) (pipeline *VoicePipeline, err error) {
	logger := job.Logger
	if logger == nil {
		logger = core.LoggerFromContext(ctx)
	}
	if job.Proc == nil {
		job.Proc = NewProcessContext(logger)
	}
	defer func() {
		if err != nil {
			job.Room.Close()
		}
	}()

	if err := job.Room.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	identity, err := b.waitForParticipant(ctx, job.Room)
	if err != nil {
		return nil, err
	}
	logger = logger.With(map[string]interface{}{"participant": identity})
	logger.Info("participant joined")

	model, err := ResolveVAD(job.Proc, b.loadVAD)
	if err != nil {
		return nil, err
	}
	detector, err := model.NewStream()
	if err != nil {
		return nil, fmt.Errorf("vad stream: %w", err)
	}

	if b.options.Stages == nil {
		detector.Close()
		return nil, errors.New("no stage factory configured")
	}
	stages, err := b.options.Stages(logger)
	if err != nil {
		detector.Close()
		return nil, fmt.Errorf("build stages: %w", err)
	}

	contextConfig := b.options.Context
	if b.options.Instructions != "" {
		contextConfig.Instructions = b.options.Instructions
	}
	manager := contexthandler.NewContextManager(contextConfig)
	for _, tool := range b.options.Tools {
		manager.RegisterCommand(tool(job.Room, logger))
	}

	transport := transporthandler.NewTransportHandlerWrapper(job.Room, b.options.Transport)
	handlers := []core.IHandler{
		transport.GetInputHandler(),
		vadhandler.NewVADHandler(detector, b.options.VAD),
		stthandler.NewSTTHandler(stages.STT, stages.STTBackups, b.options.STT),
		contexthandler.NewUserContextAggregator(manager),
		llmhandler.NewLLMHandler(stages.LLM, stages.LLMBackups, b.options.LLM),
		contexthandler.NewAssistantContextAggregator(manager),
		ttshandler.NewTTSHandler(stages.TTS, stages.TTSBackups, b.options.TTS),
		transport.GetOutputHandler(),
	}

	r := runner.NewRunner(handlers, logger)
	if err := r.Start(ctx); err != nil {
		detector.Close()
		return nil, fmt.Errorf("start pipeline: %w", err)
	}

	pipeline = &VoicePipeline{
		runner:      r,
		manager:     manager,
		participant: identity,
		logger:      logger,
	}
	if b.options.Greeting != "" {
		pipeline.Say(b.options.Greeting, b.options.GreetingInterruptible)
	}
	return pipeline, nil
}

func (b *Bootstrapper) waitForParticipant(ctx context.Context, room Room) (string, error) {
	waitCtx := ctx
	if b.options.ParticipantTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, b.options.ParticipantTimeout)
		defer cancel()
	}

	identity, err := room.WaitForParticipant(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %s", ErrParticipantTimeout, b.options.ParticipantTimeout)
		}
		return "", fmt.Errorf("wait for participant: %w", err)
	}
	return identity, nil
}

// Run starts a session and blocks until it ends: the job is cancelled,
// the pipeline stops, the visitor leaves or MaxDuration passes.
func (b *Bootstrapper) Run(ctx context.Context, job *JobContext) error {
	pipeline, err := b.Start(ctx, job)
	if err != nil {
		return err
	}
	defer job.Room.Close()

	var limit <-chan time.Time
	if b.options.MaxDuration > 0 {
		timer := time.NewTimer(b.options.MaxDuration)
		defer timer.Stop()
		limit = timer.C
	}

	var result error
	select {
	case <-ctx.Done():
		pipeline.logger.Info("job cancelled")
	case <-pipeline.Done():
		pipeline.logger.Info("pipeline stopped", "reason", pipeline.StopReason())
	case <-job.Room.Done():
		pipeline.logger.Info("participant left")
	case <-limit:
		pipeline.logger.Warn("session reached its time limit", "limit", b.options.MaxDuration.String())
		result = context.DeadlineExceeded
	}
	if err := pipeline.Stop(); err != nil {
		return err
	}

	// ONNX allocations are invisible to the collector.
	runtime.GC()
	debug.FreeOSMemory()
	return result
}
