package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"kioskagent/core"
)

// OpenAILLMService implements the LLMService interface using OpenAI
type OpenAILLMService struct {
	config Config
	client *openai.Client
	mu     sync.RWMutex
}

// Config holds the configuration for OpenAI service
type Config struct {
	APIKey       string
	BaseURL      string // Optional, for proxies and compatible endpoints.
	Model        string
	MaxTokens    int
	Temperature  float32
	Streaming    bool
	VerifyOnInit bool // List models during Init to fail fast on a bad key.
}

func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:    apiKey,
		Model:     openai.GPT4oMini,
		Streaming: true,
	}
}

// NewOpenAILLMService creates a new instance of OpenAILLMService
func NewOpenAILLMService(config Config) *OpenAILLMService {
	if config.Model == "" {
		config.Model = openai.GPT4oMini
	}
	return &OpenAILLMService{config: config}
}

// NewClient builds a go-openai client honouring an optional base URL.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

func (s *OpenAILLMService) Init(ctx context.Context) error {
	if s.config.APIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	client := NewClient(s.config.APIKey, s.config.BaseURL)
	if s.config.VerifyOnInit {
		if _, err := client.ListModels(ctx); err != nil {
			return fmt.Errorf("failed to connect to OpenAI: %w", err)
		}
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	return nil
}

func (s *OpenAILLMService) Reset() error {
	return nil
}

// RunCompletion runs a completion against OpenAI
func (s *OpenAILLMService) RunCompletion(ctx context.Context, llmContext core.LLMContext, chunks chan<- string) (core.LLMResponse, error) {
	s.mu.RLock()
	client := s.client
	s.mu.RUnlock()
	if client == nil {
		return core.LLMResponse{}, fmt.Errorf("OpenAI service not initialized")
	}

	messages, err := convertMessages(llmContext.Messages)
	if err != nil {
		return core.LLMResponse{}, fmt.Errorf("failed to convert messages: %w", err)
	}
	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    messages,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
		Stream:      s.config.Streaming,
	}
	if len(llmContext.Tools) > 0 {
		tools, err := ConvertTools(llmContext.Tools)
		if err != nil {
			return core.LLMResponse{}, fmt.Errorf("failed to convert tools: %w", err)
		}
		req.Tools = tools
	}

	if s.config.Streaming {
		return s.runStreamingCompletion(ctx, client, req, chunks)
	}
	return s.runNonStreamingCompletion(ctx, client, req, chunks)
}

func (s *OpenAILLMService) runStreamingCompletion(
	ctx context.Context,
	client *openai.Client,
	req openai.ChatCompletionRequest,
	chunks chan<- string,
) (core.LLMResponse, error) {
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return core.LLMResponse{}, fmt.Errorf("failed to create completion stream: %w", err)
	}
	defer stream.Close()

	var text strings.Builder
	toolCallBuilder := make(map[int]*openai.ToolCall)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return core.LLMResponse{}, fmt.Errorf("completion stream: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta

		if delta.Content != "" {
			text.WriteString(delta.Content)
			select {
			case chunks <- delta.Content:
			case <-ctx.Done():
				return core.LLMResponse{}, ctx.Err()
			}
		}

		// OpenAI streams tool calls in fragments keyed by index.
		for _, toolCall := range delta.ToolCalls {
			idx := 0
			if toolCall.Index != nil {
				idx = *toolCall.Index
			}
			builder, exists := toolCallBuilder[idx]
			if !exists {
				builder = &openai.ToolCall{Type: openai.ToolTypeFunction}
				toolCallBuilder[idx] = builder
			}
			if toolCall.ID != "" {
				builder.ID = toolCall.ID
			}
			if toolCall.Function.Name != "" {
				builder.Function.Name = toolCall.Function.Name
			}
			builder.Function.Arguments += toolCall.Function.Arguments
		}
	}

	indexes := make([]int, 0, len(toolCallBuilder))
	for idx := range toolCallBuilder {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	response := core.LLMResponse{Text: text.String()}
	for _, idx := range indexes {
		if call := toolCallBuilder[idx]; call.Function.Name != "" {
			response.ToolCalls = append(response.ToolCalls, convertToolCall(*call))
		}
	}
	return response, nil
}

func (s *OpenAILLMService) runNonStreamingCompletion(
	ctx context.Context,
	client *openai.Client,
	req openai.ChatCompletionRequest,
	chunks chan<- string,
) (core.LLMResponse, error) {
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return core.LLMResponse{}, fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.LLMResponse{}, nil
	}

	choice := resp.Choices[0]
	response := core.LLMResponse{Text: choice.Message.Content}
	if response.Text != "" {
		select {
		case chunks <- response.Text:
		case <-ctx.Done():
			return core.LLMResponse{}, ctx.Err()
		}
	}
	for _, toolCall := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, convertToolCall(toolCall))
	}
	return response, nil
}

func convertMessages(messages []core.LLMMessage) ([]openai.ChatCompletionMessage, error) {
	openAIMessages := make([]openai.ChatCompletionMessage, 0, len(messages))

	for _, msg := range messages {
		openAIMsg := openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Message,
		}
		switch msg.Role {
		case core.LLMMessageRoleTool:
			openAIMsg.ToolCallID = msg.ToolCallId
			openAIMsg.Name = msg.Name
		case core.LLMMessageRoleAssistant:
			for _, call := range msg.ToolCalls {
				args := call.Arguments
				if args == "" {
					encoded, err := sonic.MarshalString(call.Parameters)
					if err != nil {
						return nil, fmt.Errorf("encode arguments for %s: %w", call.ToolId, err)
					}
					args = encoded
				}
				openAIMsg.ToolCalls = append(openAIMsg.ToolCalls, openai.ToolCall{
					ID:   call.CallId,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.ToolId,
						Arguments: args,
					},
				})
			}
		}
		openAIMessages = append(openAIMessages, openAIMsg)
	}
	return openAIMessages, nil
}

// ConvertTools renders tools as OpenAI function definitions with a JSON
// schema per parameter list.
func ConvertTools(tools []core.LLMTool) ([]openai.Tool, error) {
	openAITools := make([]openai.Tool, 0, len(tools))

	for _, tool := range tools {
		properties := make(map[string]interface{})
		required := make([]string, 0)

		for _, param := range tool.Parameters {
			prop := map[string]interface{}{
				"type":        convertParameterType(param.Type),
				"description": param.Description,
			}
			if param.Example != "" {
				prop["example"] = param.Example
			}
			if len(param.Enum) > 0 {
				prop["enum"] = param.Enum
			}
			properties[param.Name] = prop

			if param.Required {
				required = append(required, param.Name)
			}
		}

		parameters := map[string]interface{}{
			"type":       "object",
			"properties": properties,
		}
		if len(required) > 0 {
			parameters["required"] = required
		}

		paramsJSON, err := sonic.Marshal(parameters)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal parameters: %w", err)
		}

		openAITools = append(openAITools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.ToolId,
				Description: tool.Description,
				Parameters:  paramsJSON,
			},
		})
	}
	return openAITools, nil
}

func convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	case core.LLMMessageRoleTool:
		return openai.ChatMessageRoleTool
	default:
		return openai.ChatMessageRoleUser
	}
}

func convertParameterType(paramType core.LLMParamterType) string {
	switch paramType {
	case core.LLMParameterTypeInteger:
		return "integer"
	case core.LLMParameterTypeBoolean:
		return "boolean"
	case core.LLMParameterTypeObject:
		return "object"
	default:
		return "string"
	}
}

// convertToolCall keeps the raw arguments and decodes them when they are
// valid JSON.
func convertToolCall(toolCall openai.ToolCall) core.LLMToolCall {
	call := core.LLMToolCall{
		CallId:    toolCall.ID,
		ToolId:    toolCall.Function.Name,
		Arguments: toolCall.Function.Arguments,
	}
	if toolCall.Function.Arguments != "" {
		parameters := map[string]any{}
		if err := sonic.UnmarshalString(toolCall.Function.Arguments, &parameters); err == nil {
			call.Parameters = parameters
		}
	}
	return call
}
