package agent

import (
	"strings"
	"time"

	"github.com/harun/swarm/pkg/capability"
)

// Role identifies the author of a conversation turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation history
type Message struct {
	Role       Role                  `json:"role"`
	Content    string                `json:"content,omitempty"`
	ToolCalls  []capability.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
	Name       string                `json:"name,omitempty"`
}

// UserMessage builds a user turn
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// ToolMessage builds the tool turn reporting res
func ToolMessage(res capability.ToolResult) Message {
	return Message{
		Role:       RoleTool,
		Content:    res.Content(),
		ToolCallID: res.ToolCallID,
		Name:       res.Name,
	}
}

// WantsTools reports whether the message requests tool calls
func (m Message) WantsTools() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// ToolNames returns the requested tool names in call order
func (m Message) ToolNames() []string {
	names := make([]string, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		names[i] = tc.Name
	}
	return names
}

// Outcome is what a finished loop hands back to its caller
type Outcome struct {
	History    []Message `json:"history"`
	Final      Message   `json:"final"`
	Iterations int       `json:"iterations"`
}

// StartResult is returned by Runner.Start
type StartResult struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	RunID     string `json:"run_id"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// DecisionConfig configures an LLM-backed decider
type DecisionConfig struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	MaxRetries   int     `json:"max_retries,omitempty"`
}

// DefaultDecisionConfig returns default decider configuration
func DefaultDecisionConfig() DecisionConfig {
	return DecisionConfig{
		Model:       "claude-3-5-sonnet-20241022",
		Temperature: 0.7,
		MaxTokens:   4096,
		MaxRetries:  3,
	}
}

// IsRetryableError checks if a decision error should be retried
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errMsg := strings.ToLower(err.Error())

	// Network errors
	if strings.Contains(errMsg, "econnreset") || strings.Contains(errMsg, "etimedout") ||
		strings.Contains(errMsg, "connection reset") {
		return true
	}

	// Rate limits
	if strings.Contains(errMsg, "429") || strings.Contains(errMsg, "rate limit") {
		return true
	}

	// Server errors
	for _, code := range []string{"500", "502", "503", "504"} {
		if strings.Contains(errMsg, code) {
			return true
		}
	}

	return false
}

// backoff returns the delay before retry attempt n (0-based): 1s, 2s, 4s...
func backoff(base time.Duration, attempt int) time.Duration {
	return base * time.Duration(1<<attempt)
}
