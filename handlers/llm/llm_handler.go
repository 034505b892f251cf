package llm

import (
	"context"
	"errors"
	"strings"
	"sync"

	"kioskagent/core"
	"kioskagent/events/llm"
	"kioskagent/events/vad"
)

type LLMService interface {
	core.IService
	// RunCompletion streams text deltas into chunks while it runs and
	// returns the complete response. It must not write to chunks after
	// returning.
	RunCompletion(ctx context.Context, llmContext core.LLMContext, chunks chan<- string) (core.LLMResponse, error)
}

type LLMHandler struct {
	core.BaseHandler
	config LLMHandlerConfig

	mu         sync.Mutex
	generation uint64
	cancelRun  context.CancelFunc
	running    sync.WaitGroup
}

// NewLLMHandler creates a new LLM handler. Backups take over in order when
// the active service fails.
func NewLLMHandler(service LLMService, backups []LLMService, config LLMHandlerConfig) *LLMHandler {
	typedServices := make([]core.IService, len(backups))
	for i, s := range backups {
		typedServices[i] = s
	}
	return &LLMHandler{
		BaseHandler: core.BaseHandler{
			Name:           "LLMHandler",
			Service:        service,
			BackupServices: typedServices,
		},
		config: config,
	}
}

func (h *LLMHandler) Start() error {
	go h.Consume(h.HandleEvent)
	return nil
}

func (h *LLMHandler) HandleEvent(packet *core.EventPacket) error {
	switch e := packet.Event.(type) {
	case *llm.LLMGenerateResponseEvent:
		h.generate(e.Context)
		return nil
	case *vad.VadInterruptionDetectedEvent:
		if h.cancel() {
			h.Logger.Debug("completion cancelled by user speech")
		}
	}
	h.SendPacket(packet)
	return nil
}

// cancel stops the running completion, reporting whether there was one.
func (h *LLMHandler) cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.generation++
	if h.cancelRun == nil {
		return false
	}
	h.cancelRun()
	h.cancelRun = nil
	return true
}

func (h *LLMHandler) current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generation == gen
}

// generate replaces any running completion with a new one over llmContext.
func (h *LLMHandler) generate(llmContext core.LLMContext) {
	h.cancel()

	h.mu.Lock()
	gen := h.generation
	ctx, cancel := context.WithCancel(h.Ctx)
	h.cancelRun = cancel
	h.mu.Unlock()

	if !h.config.AllowToolCalls {
		llmContext.Tools = nil
	}

	h.running.Add(1)
	go func() {
		defer h.running.Done()
		defer cancel()
		h.run(ctx, gen, llmContext)
	}()
}

func (h *LLMHandler) run(ctx context.Context, gen uint64, llmContext core.LLMContext) {
	if h.config.OnRequest != nil {
		h.config.OnRequest(llmContext)
	}
	h.Emit(&llm.LLMResponseStartedEvent{}, core.EventRelayDestinationNextService)

	chunks := make(chan string, 10)
	relayed := make(chan string)
	go func() {
		var text strings.Builder
		for chunk := range chunks {
			if !h.current(gen) {
				continue
			}
			text.WriteString(chunk)
			h.Emit(&llm.LLMResponseChunkEvent{Chunk: chunk}, core.EventRelayDestinationNextService)
		}
		relayed <- text.String()
	}()

	service := h.CurrentService().(LLMService)
	response, err := service.RunCompletion(ctx, llmContext, chunks)
	close(chunks)
	streamed := <-relayed

	if ctx.Err() != nil || !h.current(gen) {
		return
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		h.HandleError(err)
		return
	}
	if response.Text == "" {
		response.Text = streamed
	}
	if h.config.OnResponse != nil {
		h.config.OnResponse(response)
	}

	h.mu.Lock()
	if h.generation == gen {
		h.cancelRun = nil
	}
	h.mu.Unlock()

	h.Emit(&llm.LLMResponseCompletedEvent{
		FullText:  response.Text,
		ToolCalls: response.ToolCalls,
	}, core.EventRelayDestinationNextService)
}

func (h *LLMHandler) Cleanup() error {
	h.cancel()
	h.running.Wait()
	return h.BaseHandler.Cleanup()
}
