package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/harun/swarm/pkg/capability"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider decides through the OpenAI chat completions API or any
// server that speaks it
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a provider. Retries are left to LLMDecider.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...)}
}

// Provider returns the provider name
func (p *OpenAIProvider) Provider() string {
	return "openai"
}

// Call sends the conversation and the tool catalogue as one completion request
func (p *OpenAIProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	messages, err := openAIMessages(request.SystemPrompt, request.Messages)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
		Tools:    openAITools(request.Tools),
	}
	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}
	if request.Temperature > 0 {
		params.Temperature = openai.Float(request.Temperature)
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	resp, err := fromOpenAIMessage(completion.Choices[0].Message)
	if err != nil {
		return nil, err
	}
	resp.Usage = &TokenUsage{
		InputTokens:  int(completion.Usage.PromptTokens),
		OutputTokens: int(completion.Usage.CompletionTokens),
	}
	return resp, nil
}

func openAIMessages(system string, history []Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}

	for _, msg := range history {
		switch msg.Role {
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		case RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Content))
				continue
			}
			calls, err := openAIToolCalls(msg.ToolCalls)
			if err != nil {
				return nil, err
			}
			assistant := openai.ChatCompletionMessage{Role: "assistant", Content: msg.Content, ToolCalls: calls}
			out = append(out, assistant.ToParam())
		}
	}
	return out, nil
}

func openAIToolCalls(calls []capability.ToolCall) ([]openai.ChatCompletionMessageToolCall, error) {
	out := make([]openai.ChatCompletionMessageToolCall, len(calls))
	for i, call := range calls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments of %s: %w", call.Name, err)
		}
		out[i] = openai.ChatCompletionMessageToolCall{
			ID:   call.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunction{
				Name:      call.Name,
				Arguments: string(args),
			},
		}
	}
	return out, nil
}

func openAITools(descs []capability.Descriptor) []openai.ChatCompletionToolParam {
	if len(descs) == 0 {
		return nil
	}
	out := make([]openai.ChatCompletionToolParam, len(descs))
	for i, d := range descs {
		out[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        d.Name,
				Description: openai.String(d.Description),
				Parameters:  openai.FunctionParameters(d.InputSchema),
			},
		}
	}
	return out
}

func fromOpenAIMessage(msg openai.ChatCompletionMessage) (*LLMResponse, error) {
	resp := &LLMResponse{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("openai sent malformed arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, toolCall(tc.ID, tc.Function.Name, args))
	}
	return resp, nil
}
