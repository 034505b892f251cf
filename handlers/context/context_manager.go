package context

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bytedance/sonic"

	"kioskagent/core"
)

var ErrUnknownTool = errors.New("unknown tool")

// ToolHandlerFunc runs one tool call and returns the text reported back to
// the model.
type ToolHandlerFunc func(ctx context.Context, call core.LLMToolCall) (string, error)

// Command is a tool that carries its own schema.
type Command interface {
	Definition() core.LLMTool
	Execute(ctx context.Context, call core.LLMToolCall) (string, error)
}

// ContextManager owns the conversation of one session. Aggregators on both
// sides of the LLM stage write to it and the LLM reads snapshots.
type ContextManager struct {
	mu       sync.Mutex
	config   ContextConfig
	context  core.LLMContext
	handlers map[string]ToolHandlerFunc
}

func NewContextManager(config ContextConfig) *ContextManager {
	m := &ContextManager{
		config:   config,
		handlers: make(map[string]ToolHandlerFunc),
	}
	if config.Instructions != "" {
		m.context.AddSystemMessage(config.Instructions)
	}
	return m
}

// RegisterTool exposes tool to the model and routes its calls to handler.
// Registering the same ToolId again replaces the previous definition.
func (m *ContextManager) RegisterTool(tool core.LLMTool, handler ToolHandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := false
	for i, existing := range m.context.Tools {
		if existing.ToolId == tool.ToolId {
			m.context.Tools[i] = tool
			replaced = true
			break
		}
	}
	if !replaced {
		m.context.Tools = append(m.context.Tools, tool)
	}
	m.handlers[tool.ToolId] = handler
}

func (m *ContextManager) RegisterCommand(cmd Command) {
	m.RegisterTool(cmd.Definition(), cmd.Execute)
}

// Snapshot returns a copy safe to hand to another goroutine.
func (m *ContextManager) Snapshot() core.LLMContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.context.Clone()
}

func (m *ContextManager) AddUserMessage(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context.AddUserMessage(text)
}

func (m *ContextManager) AddAssistantMessage(text string, calls []core.LLMToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context.AddAssistantMessage(text, calls)
}

func (m *ContextManager) AddToolResult(call core.LLMToolCall, result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.context.AddToolMessage(call.CallId, call.ToolId, result)
}

// ExecuteTool decodes the raw arguments when needed and runs the handler
// registered for call.ToolId.
func (m *ContextManager) ExecuteTool(ctx context.Context, call core.LLMToolCall) (string, error) {
	m.mu.Lock()
	handler, ok := m.handlers[call.ToolId]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, call.ToolId)
	}

	if call.Parameters == nil && call.Arguments != "" {
		params := map[string]any{}
		if err := sonic.UnmarshalString(call.Arguments, &params); err != nil {
			return "", fmt.Errorf("decode arguments for %s: %w", call.ToolId, err)
		}
		call.Parameters = params
	}
	return handler(ctx, call)
}
