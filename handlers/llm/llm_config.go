package llm

import "kioskagent/core"

type LLMHandlerConfig struct {
	AllowToolCalls bool // Send registered tools with each completion.
	// OnRequest and OnResponse observe completions without changing them.
	OnRequest  func(llmContext core.LLMContext)
	OnResponse func(response core.LLMResponse)
}

func DefaultConfig() LLMHandlerConfig {
	return LLMHandlerConfig{AllowToolCalls: true}
}
