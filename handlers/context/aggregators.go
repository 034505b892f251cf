package context

import (
	"fmt"

	"kioskagent/core"
	"kioskagent/events/llm"
	"kioskagent/events/stt"
	"kioskagent/events/tts"
)

// UserContextAggregator sits between STT and the LLM. Each final transcript
// becomes a user message followed by a request for a response.
type UserContextAggregator struct {
	core.BaseHandler
	manager *ContextManager
}

func NewUserContextAggregator(manager *ContextManager) *UserContextAggregator {
	return &UserContextAggregator{
		BaseHandler: core.BaseHandler{Name: "UserContextAggregator"},
		manager:     manager,
	}
}

func (h *UserContextAggregator) Start() error {
	go h.Consume(h.HandleEvent)
	return nil
}

func (h *UserContextAggregator) HandleEvent(eventPacket *core.EventPacket) error {
	h.SendPacket(eventPacket)

	if event, ok := eventPacket.Event.(*stt.STTFinalOutputEvent); ok {
		h.manager.AddUserMessage(event.Text)
		h.Emit(&llm.LLMGenerateResponseEvent{Context: h.manager.Snapshot()}, core.EventRelayDestinationNextService)
	}
	return nil
}

// AssistantContextAggregator sits after the LLM. It records what the agent
// says and runs the tool calls the model asks for.
type AssistantContextAggregator struct {
	core.BaseHandler
	manager *ContextManager
}

func NewAssistantContextAggregator(manager *ContextManager) *AssistantContextAggregator {
	return &AssistantContextAggregator{
		BaseHandler: core.BaseHandler{Name: "AssistantContextAggregator"},
		manager:     manager,
	}
}

func (h *AssistantContextAggregator) Start() error {
	go h.Consume(h.HandleEvent)
	return nil
}

func (h *AssistantContextAggregator) HandleEvent(eventPacket *core.EventPacket) error {
	// TTS needs the completion to flush its buffer before tools run.
	h.SendPacket(eventPacket)

	switch event := eventPacket.Event.(type) {
	case *llm.LLMResponseCompletedEvent:
		h.manager.AddAssistantMessage(event.FullText, event.ToolCalls)
		if len(event.ToolCalls) > 0 {
			h.runTools(event.ToolCalls)
		}
	case *tts.TTSSpeakEvent:
		h.manager.AddAssistantMessage(event.Text, nil)
	}
	return nil
}

func (h *AssistantContextAggregator) runTools(calls []core.LLMToolCall) {
	failed := false
	for _, call := range calls {
		result, err := h.manager.ExecuteTool(h.Ctx, call)
		outcome := &llm.LLMToolInvocationResultEvent{ToolId: call.ToolId, CallId: call.CallId, Result: result}
		if err != nil {
			failed = true
			h.Logger.Error("tool call failed", "tool", call.ToolId, "call_id", call.CallId, "error", err)
			outcome.Error = err.Error()
			h.manager.AddToolResult(call, fmt.Sprintf("error: %v", err))
			h.Emit(&core.WarningEvent{Error: fmt.Sprintf("tool %s: %v", call.ToolId, err)}, core.EventRelayDestinationTopService)
		} else {
			h.Logger.Info("tool call completed", "tool", call.ToolId, "call_id", call.CallId)
			h.manager.AddToolResult(call, result)
		}
		h.Emit(outcome, core.EventRelayDestinationNextService)
	}

	if !failed && h.manager.config.RegenerateAfterTools {
		h.Emit(&llm.LLMGenerateResponseEvent{Context: h.manager.Snapshot()}, core.EventRelayDestinationTopService)
	}
}
