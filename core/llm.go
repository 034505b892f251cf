package core

type LLMMessageRole string

const (
	LLMMessageRoleUser      LLMMessageRole = "user"
	LLMMessageRoleAssistant LLMMessageRole = "assistant"
	LLMMessageRoleSystem    LLMMessageRole = "system"
	LLMMessageRoleTool      LLMMessageRole = "tool"
)

// LLMMessage represents a message exchanged with the LLM.
type LLMMessage struct {
	Role       LLMMessageRole `json:"role"`                   // Role of the message sender (user, assistant, system, tool).
	Message    string         `json:"message"`                // Content of the message.
	ToolCalls  []LLMToolCall  `json:"tool_calls,omitempty"`   // Calls requested by an assistant message.
	ToolCallId string         `json:"tool_call_id,omitempty"` // Call answered by a tool message.
	Name       string         `json:"name,omitempty"`         // Tool name on tool messages.
}

type LLMParamterType string

const (
	LLMParameterTypeString  LLMParamterType = "string"
	LLMParameterTypeInteger LLMParamterType = "number"
	LLMParameterTypeBoolean LLMParamterType = "boolean"
	LLMParameterTypeObject  LLMParamterType = "object"
)

// Parameter represents a parameter for an LLM tool.
type Parameter struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Required    bool            `json:"required"`
	Example     string          `json:"example,omitempty"`
	Type        LLMParamterType `json:"type"`
	Enum        []string        `json:"enum,omitempty"` // Closed set of accepted values, empty when unconstrained.
}

// LLMTool is the schema of a function the model may call.
type LLMTool struct {
	Name        string      `json:"name"`
	ToolId      string      `json:"tool_id"` // Function name exposed to the model.
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`
}

// LLMToolCall is one function call requested by the model.
type LLMToolCall struct {
	CallId     string         `json:"call_id"`
	ToolId     string         `json:"tool_id"`
	Arguments  string         `json:"arguments,omitempty"` // Raw JSON as produced by the model.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// StringParam returns the named parameter when it is a string.
func (c LLMToolCall) StringParam(name string) (string, bool) {
	v, ok := c.Parameters[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// LLMResponse is the outcome of one completion.
type LLMResponse struct {
	Text      string
	ToolCalls []LLMToolCall
}

type LLMContext struct {
	Messages []LLMMessage
	Tools    []LLMTool
}

func (c *LLMContext) AddSystemMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleSystem, Message: text})
}

func (c *LLMContext) AddUserMessage(text string) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleUser, Message: text})
}

func (c *LLMContext) AddAssistantMessage(text string, calls []LLMToolCall) {
	c.Messages = append(c.Messages, LLMMessage{Role: LLMMessageRoleAssistant, Message: text, ToolCalls: calls})
}

func (c *LLMContext) AddToolMessage(callID, name, result string) {
	c.Messages = append(c.Messages, LLMMessage{
		Role:       LLMMessageRoleTool,
		Message:    result,
		ToolCallId: callID,
		Name:       name,
	})
}

// Clone returns a deep enough copy for a completion to read while the
// original keeps growing.
func (c *LLMContext) Clone() LLMContext {
	out := LLMContext{
		Messages: make([]LLMMessage, len(c.Messages)),
		Tools:    make([]LLMTool, len(c.Tools)),
	}
	copy(out.Messages, c.Messages)
	copy(out.Tools, c.Tools)
	return out
}

func (c *LLMContext) LastMessage() (LLMMessage, bool) {
	if len(c.Messages) == 0 {
		return LLMMessage{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}
