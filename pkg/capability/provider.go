// Package capability defines the contract between the agent loop and the tools it calls.
package capability

import (
	"context"
	"errors"
	"fmt"
)

// ErrProviderNotFound is reported for calls naming an unregistered provider
var ErrProviderNotFound = errors.New("provider not found")

// ProviderError wraps a failed provider invocation
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Descriptor describes a provider to the decision function
type Descriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// LogSink receives progress lines for a session
type LogSink interface {
	AppendLog(sessionID, text string)
}

// SessionContext identifies the run a call belongs to
type SessionContext struct {
	SessionID string
	RunID     string
	CallID    string
	Logs      LogSink
}

// Log appends text to the session's log, if a sink is attached
func (sc SessionContext) Log(text string) {
	if sc.Logs == nil || sc.SessionID == "" {
		return
	}
	sc.Logs.AppendLog(sc.SessionID, text)
}

// Provider is a tool the agent loop can call
type Provider interface {
	Descriptor() Descriptor
	Invoke(ctx context.Context, args map[string]interface{}, sc SessionContext) (string, error)
}

// InvokeFunc is the signature wrapped by Func
type InvokeFunc func(ctx context.Context, args map[string]interface{}, sc SessionContext) (string, error)

type funcProvider struct {
	desc Descriptor
	fn   InvokeFunc
}

// Func builds a Provider from a descriptor and a function
func Func(desc Descriptor, fn InvokeFunc) Provider {
	return &funcProvider{desc: desc, fn: fn}
}

func (p *funcProvider) Descriptor() Descriptor { return p.desc }

func (p *funcProvider) Invoke(ctx context.Context, args map[string]interface{}, sc SessionContext) (string, error) {
	return p.fn(ctx, args, sc)
}

// ToolCall is one invocation requested by a decision step
type ToolCall struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolResult is the outcome of a ToolCall, correlated by ToolCallID
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	Err        error  `json:"-"`
}

// Failed reports whether the call produced an error
func (r ToolResult) Failed() bool {
	return r.Error != ""
}

// Content is what the decision function sees for this result
func (r ToolResult) Content() string {
	if r.Failed() {
		return r.Error
	}
	return r.Output
}

type sessionContextKey struct{}

// WithSessionContext attaches sc to ctx
func WithSessionContext(ctx context.Context, sc SessionContext) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey{}, sc)
}

// SessionContextFrom extracts the session context attached by WithSessionContext
func SessionContextFrom(ctx context.Context) (SessionContext, bool) {
	if ctx == nil {
		return SessionContext{}, false
	}
	sc, ok := ctx.Value(sessionContextKey{}).(SessionContext)
	return sc, ok
}
