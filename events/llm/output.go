package llm

import "kioskagent/core"

// LLMGenerateResponseEvent asks the LLM stage for a completion over Context.
type LLMGenerateResponseEvent struct {
	Context core.LLMContext `json:"context"`
}

func (*LLMGenerateResponseEvent) GetId() string {
	return "llm.generate_response"
}

type LLMResponseStartedEvent struct {
}

func (e *LLMResponseStartedEvent) GetId() string {
	return "llm.response_started"
}

type LLMResponseChunkEvent struct {
	Chunk string
}

func (e *LLMResponseChunkEvent) GetId() string {
	return "llm.response_chunk"
}

type LLMResponseCompletedEvent struct {
	FullText  string
	ToolCalls []core.LLMToolCall
}

func (e *LLMResponseCompletedEvent) GetId() string {
	return "llm.response_completed"
}

type LLMToolInvocationResultEvent struct {
	ToolId string
	CallId string
	Result string
	Error  string
}

func (e *LLMToolInvocationResultEvent) GetId() string {
	return "llm.tool_invocation_result"
}
