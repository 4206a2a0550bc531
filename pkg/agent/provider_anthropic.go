package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/swarm/pkg/capability"
)

// Anthropic requires max_tokens on every request
const defaultAnthropicMaxTokens = 4096

// AnthropicProvider decides through the Anthropic Messages API
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a provider. Retries are left to LLMDecider.
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...)}
}

// Provider returns the provider name
func (p *AnthropicProvider) Provider() string {
	return "anthropic"
}

// Call sends the conversation and the tool catalogue as one Messages request
func (p *AnthropicProvider) Call(ctx context.Context, request LLMRequest) (*LLMResponse, error) {
	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  anthropicMessages(request.Messages),
		MaxTokens: int64(maxTokens),
		Tools:     anthropicTools(request.Tools),
	}
	if request.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: request.SystemPrompt}}
	}
	if request.Temperature > 0 {
		params.Temperature = anthropic.Float(request.Temperature)
	}

	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	resp, err := fromAnthropicContent(msg.Content)
	if err != nil {
		return nil, err
	}
	resp.Usage = &TokenUsage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return resp, nil
}

// anthropicMessages maps history onto user and assistant turns. Tool results
// travel as user turns holding a tool_result block.
func anthropicMessages(history []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, msg := range history {
		switch msg.Role {
		case RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		case RoleTool:
			out = append(out, anthropic.NewUserMessage(anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)))
		case RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, call.Arguments, call.Name))
			}
			if len(blocks) > 0 {
				out = append(out, anthropic.MessageParam{Role: anthropic.MessageParamRoleAssistant, Content: blocks})
			}
		}
	}
	return out
}

func anthropicTools(descs []capability.Descriptor) []anthropic.ToolUnionParam {
	if len(descs) == 0 {
		return nil
	}
	out := make([]anthropic.ToolUnionParam, len(descs))
	for i, d := range descs {
		tool := anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.InputSchema["properties"],
				Required:   requiredFields(d.InputSchema),
			},
		}
		out[i] = anthropic.ToolUnionParam{OfTool: &tool}
	}
	return out
}

func fromAnthropicContent(blocks []anthropic.ContentBlockUnion) (*LLMResponse, error) {
	resp := &LLMResponse{}
	for _, block := range blocks {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += b.Text
		case anthropic.ToolUseBlock:
			var args map[string]interface{}
			if raw := b.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					return nil, fmt.Errorf("anthropic sent malformed input for %s: %w", b.Name, err)
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, toolCall(b.ID, b.Name, args))
		}
	}
	return resp, nil
}

// requiredFields reads the schema's required list whether it was built in Go
// ([]string) or decoded from JSON ([]interface{})
func requiredFields(schema map[string]interface{}) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []interface{}:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
