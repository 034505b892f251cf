package context

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kioskagent/core"
)

type echoCommand struct{ calls int }

func (c *echoCommand) Definition() core.LLMTool {
	return core.LLMTool{Name: "Echo", ToolId: "echo", Description: "echoes text"}
}

func (c *echoCommand) Execute(ctx context.Context, call core.LLMToolCall) (string, error) {
	c.calls++
	text, _ := call.StringParam("text")
	return text, nil
}

func TestContextManagerSeedsInstructions(t *testing.T) {
	m := NewContextManager(ContextConfig{Instructions: "be kind"})
	snap := m.Snapshot()
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, core.LLMMessageRoleSystem, snap.Messages[0].Role)
	assert.Equal(t, "be kind", snap.Messages[0].Message)
}

func TestContextManagerSnapshotIsIndependent(t *testing.T) {
	m := NewContextManager(DefaultContextConfig())
	snap := m.Snapshot()
	m.AddUserMessage("hello")
	assert.Empty(t, snap.Messages)
	assert.Len(t, m.Snapshot().Messages, 1)
}

func TestContextManagerExecutesCommandWithRawArguments(t *testing.T) {
	m := NewContextManager(DefaultContextConfig())
	cmd := &echoCommand{}
	m.RegisterCommand(cmd)
	m.RegisterCommand(cmd)

	assert.Len(t, m.Snapshot().Tools, 1)

	out, err := m.ExecuteTool(context.Background(), core.LLMToolCall{CallId: "c1", ToolId: "echo", Arguments: `{"text":"hi"}`})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, 1, cmd.calls)
}

func TestContextManagerUnknownTool(t *testing.T) {
	m := NewContextManager(DefaultContextConfig())
	_, err := m.ExecuteTool(context.Background(), core.LLMToolCall{ToolId: "missing"})
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestContextManagerBadArguments(t *testing.T) {
	m := NewContextManager(DefaultContextConfig())
	m.RegisterCommand(&echoCommand{})
	_, err := m.ExecuteTool(context.Background(), core.LLMToolCall{ToolId: "echo", Arguments: "{not json"})
	assert.Error(t, err)
}
