package tracing

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// TraceContext is the set of correlation ids carried by a context.
// Empty fields are unset.
type TraceContext struct {
	TraceID   string
	RunID     string
	SessionID string
	RequestID string
}

// fields lists the ids in log order, keyed by their log field name
func (tc TraceContext) fields() [4][2]string {
	return [4][2]string{
		{"trace_id", tc.TraceID},
		{"run_id", tc.RunID},
		{"session_id", tc.SessionID},
		{"request_id", tc.RequestID},
	}
}

// fill sets every field of tc that is empty from other
func (tc TraceContext) fill(other TraceContext) TraceContext {
	if tc.TraceID == "" {
		tc.TraceID = other.TraceID
	}
	if tc.RunID == "" {
		tc.RunID = other.RunID
	}
	if tc.SessionID == "" {
		tc.SessionID = other.SessionID
	}
	if tc.RequestID == "" {
		tc.RequestID = other.RequestID
	}
	return tc
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.NewString()
}

// NewRunID generates a new run ID
func NewRunID() string {
	return uuid.NewString()
}

// FromContext returns the ids carried by ctx
func FromContext(ctx context.Context) TraceContext {
	if ctx == nil {
		return TraceContext{}
	}
	tc, _ := ctx.Value(ctxKey{}).(TraceContext)
	return tc
}

// NewContext overlays the non-empty ids of tc on those already in ctx
func NewContext(ctx context.Context, tc TraceContext) context.Context {
	return context.WithValue(ctx, ctxKey{}, tc.fill(FromContext(ctx)))
}

func update(ctx context.Context, set func(*TraceContext)) context.Context {
	tc := FromContext(ctx)
	set(&tc)
	return context.WithValue(ctx, ctxKey{}, tc)
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.TraceID = id })
}

func WithRunID(ctx context.Context, id string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.RunID = id })
}

func WithSessionID(ctx context.Context, id string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.SessionID = id })
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return update(ctx, func(tc *TraceContext) { tc.RequestID = id })
}

func GetTraceID(ctx context.Context) string   { return FromContext(ctx).TraceID }
func GetRunID(ctx context.Context) string     { return FromContext(ctx).RunID }
func GetSessionID(ctx context.Context) string { return FromContext(ctx).SessionID }
func GetRequestID(ctx context.Context) string { return FromContext(ctx).RequestID }

// NewRequestContext starts a new trace on ctx
func NewRequestContext(ctx context.Context) context.Context {
	return WithTraceID(ctx, NewTraceID())
}

// NewRunContext tags ctx with a fresh run ID and the session it belongs to.
// A trace is started when ctx has none.
func NewRunContext(ctx context.Context, sessionID string) context.Context {
	return update(ctx, func(tc *TraceContext) {
		if tc.TraceID == "" {
			tc.TraceID = NewTraceID()
		}
		tc.RunID = NewRunID()
		tc.SessionID = sessionID
	})
}
