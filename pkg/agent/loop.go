package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/harun/swarm/internal/tracing"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/harun/swarm/pkg/capability"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DefaultMaxIterations bounds the number of Think steps in one run
const DefaultMaxIterations = 10

const previewLength = 50

// Store is the part of the session buffer the loop writes to
type Store interface {
	capability.LogSink
	AddArtifact(sessionID string, in buffer.ArtifactInput) (buffer.Artifact, bool)
}

// Dispatcher executes a batch of tool calls
type Dispatcher interface {
	Dispatch(ctx context.Context, calls []capability.ToolCall, sc capability.SessionContext) []capability.ToolResult
}

// LoopConfig holds loop configuration
type LoopConfig struct {
	Decider       Decider
	Dispatcher    Dispatcher
	Store         Store
	MaxIterations int
	Logger        zerolog.Logger
}

// Loop drives Think, Act and Observe until the decider stops requesting tools
type Loop struct {
	decider       Decider
	dispatcher    Dispatcher
	store         Store
	maxIterations int
	logger        zerolog.Logger
}

// NewLoop creates a loop
func NewLoop(cfg LoopConfig) (*Loop, error) {
	if cfg.Decider == nil {
		return nil, fmt.Errorf("decider is required")
	}
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}

	return &Loop{
		decider:       cfg.Decider,
		dispatcher:    cfg.Dispatcher,
		store:         cfg.Store,
		maxIterations: cfg.MaxIterations,
		logger:        cfg.Logger,
	}, nil
}

// MaxIterations returns the Think bound
func (l *Loop) MaxIterations() int {
	return l.maxIterations
}

// run is the mutable state of one pass through the loop
type run struct {
	sessionID  string
	history    []Message
	observed   int
	iterations int
	final      Message
}

func (r *run) outcome() Outcome {
	return Outcome{
		History:    r.history,
		Final:      r.final,
		Iterations: r.iterations,
	}
}

// Run executes the loop from Think over a copy of history. On error the
// returned outcome holds the history accumulated so far.
func (l *Loop) Run(ctx context.Context, sessionID string, history []Message) (Outcome, error) {
	r := &run{
		sessionID: sessionID,
		history:   append([]Message(nil), history...),
	}

	state := StateThink
	for !state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			return r.outcome(), err
		}

		next, err := l.step(ctx, state, r)
		if err != nil {
			return r.outcome(), err
		}
		state = next
	}

	return r.outcome(), nil
}

func (l *Loop) step(ctx context.Context, state State, r *run) (State, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"swarm.agent",
		"agent."+state.String(),
		attribute.String("session_id", r.sessionID),
		attribute.Int("iteration", r.iterations),
	)
	defer span.End()

	var (
		next State
		err  error
	)
	switch state {
	case StateThink:
		next, err = l.think(ctx, r)
	case StateAct:
		next, err = l.act(ctx, r)
	case StateObserve:
		next, err = l.observe(ctx, r)
	default:
		err = fmt.Errorf("unexpected state %s", state)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return next, err
}

func (l *Loop) think(ctx context.Context, r *run) (State, error) {
	if r.iterations >= l.maxIterations {
		return StateTerminate, fmt.Errorf("%w: stopped after %d iterations", ErrMaxIterations, r.iterations)
	}
	r.iterations++

	msg, err := l.decider.Decide(ctx, r.history)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return StateTerminate, err
		}
		return StateTerminate, &DecisionError{Err: err}
	}

	msg.Role = RoleAssistant
	for i := range msg.ToolCalls {
		if msg.ToolCalls[i].ID == "" {
			msg.ToolCalls[i].ID = fmt.Sprintf("call_%d_%d", r.iterations, i)
		}
	}
	r.history = append(r.history, msg)

	if content := strings.TrimSpace(msg.Content); content != "" {
		l.store.AppendLog(r.sessionID, content)
	}

	if !msg.WantsTools() {
		r.final = msg
		return StateTerminate, nil
	}

	l.store.AppendLog(r.sessionID, "Decided to use tool(s): "+strings.Join(msg.ToolNames(), ", "))
	l.logger.Debug().
		Str("session_id", r.sessionID).
		Int("iteration", r.iterations).
		Strs("tools", msg.ToolNames()).
		Msg("Tools requested")

	return StateAct, nil
}

func (l *Loop) act(ctx context.Context, r *run) (State, error) {
	calls := r.history[len(r.history)-1].ToolCalls

	sc := capability.SessionContext{
		SessionID: r.sessionID,
		RunID:     tracing.GetRunID(ctx),
		Logs:      l.store,
	}
	results := l.dispatcher.Dispatch(ctx, calls, sc)

	r.observed = len(r.history)
	for _, res := range results {
		r.history = append(r.history, ToolMessage(res))
	}

	return StateObserve, nil
}

func (l *Loop) observe(ctx context.Context, r *run) (State, error) {
	logger := tracing.LoggerFromContext(ctx, l.logger)

	for _, msg := range r.history[r.observed:] {
		payload, err := extractStructured(msg.Name, msg.Content)
		if err != nil {
			logger.Debug().Err(err).Str("tool", msg.Name).Msg("Tool output kept as text")
			l.store.AppendLog(r.sessionID, "Tool returned text: "+preview(msg.Content)+"...")
			continue
		}

		l.store.AddArtifact(r.sessionID, buffer.ArtifactInput{
			Kind:    buffer.KindStructured,
			Title:   fmt.Sprintf("Tool Output (%s)", msg.Name),
			Payload: payload,
			Origin:  msg.Name,
		})
		l.store.AppendLog(r.sessionID, "Tool execution completed. Saving results.")
	}

	return StateThink, nil
}

// extractStructured accepts a JSON object or array
func extractStructured(tool, content string) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) == 0 {
		return nil, &ParseError{Tool: tool, Err: errors.New("empty output")}
	}
	if trimmed[0] != '{' && trimmed[0] != '[' {
		return nil, &ParseError{Tool: tool, Err: errors.New("not a JSON object or array")}
	}

	var v interface{}
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, &ParseError{Tool: tool, Err: err}
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return nil, &ParseError{Tool: tool, Err: err}
	}
	return json.RawMessage(compact.Bytes()), nil
}

func preview(s string) string {
	if utf8.RuneCountInString(s) <= previewLength {
		return s
	}
	return string([]rune(s)[:previewLength])
}
