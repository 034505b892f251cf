package context

// ContextConfig seeds a ContextManager.
type ContextConfig struct {
	Instructions string `json:"instructions"` // System prompt placed first in the conversation.
	// RegenerateAfterTools asks the LLM for a follow-up response once every
	// tool call of a turn succeeded.
	RegenerateAfterTools bool `json:"regenerate_after_tools"`
}

// DefaultContextConfig returns a ContextConfig with sensible defaults.
func DefaultContextConfig() ContextConfig {
	return ContextConfig{RegenerateAfterTools: true}
}
