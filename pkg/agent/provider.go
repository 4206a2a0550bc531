package agent

import (
	"context"
	"fmt"

	"github.com/harun/swarm/pkg/capability"
)

// LLMProvider is an interface for LLM API providers
type LLMProvider interface {
	// Call makes an LLM API call
	Call(ctx context.Context, request LLMRequest) (*LLMResponse, error)

	// Provider returns the provider name
	Provider() string
}

// LLMRequest contains the request parameters for LLM call
type LLMRequest struct {
	Model        string
	Messages     []Message
	Tools        []capability.Descriptor
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// LLMResponse contains the response from LLM
type LLMResponse struct {
	Content   string
	ToolCalls []capability.ToolCall
	Usage     *TokenUsage
}

// NewProvider creates an LLM provider by name. An empty baseURL keeps the SDK default.
func NewProvider(name, apiKey, baseURL string) (LLMProvider, error) {
	switch name {
	case "anthropic":
		return NewAnthropicProvider(apiKey, baseURL), nil
	case "openai":
		return NewOpenAIProvider(apiKey, baseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}

func toolCall(id, name string, args map[string]interface{}) capability.ToolCall {
	if args == nil {
		args = map[string]interface{}{}
	}
	return capability.ToolCall{ID: id, Name: name, Arguments: args}
}
