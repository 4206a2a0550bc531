package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTraceID(t *testing.T) {
	a, b := NewTraceID(), NewTraceID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestWithIDs(t *testing.T) {
	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithSessionID(ctx, "s1")
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, TraceContext{TraceID: "trace-1", RunID: "run-1", SessionID: "s1", RequestID: "req-1"}, FromContext(ctx))

	t.Run("parent is unchanged", func(t *testing.T) {
		parent := WithSessionID(context.Background(), "s1")
		_ = WithSessionID(parent, "s2")
		assert.Equal(t, "s1", GetSessionID(parent))
	})

	t.Run("bare context", func(t *testing.T) {
		assert.Equal(t, TraceContext{}, FromContext(context.Background()))
		assert.Empty(t, GetRunID(context.Background()))
	})
}

func TestNewContext(t *testing.T) {
	base := WithRequestID(context.Background(), "req-1")
	ctx := NewContext(base, TraceContext{TraceID: "t", SessionID: "s"})

	assert.Equal(t, "t", GetTraceID(ctx))
	assert.Equal(t, "s", GetSessionID(ctx))
	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Empty(t, GetRunID(ctx))
}

func TestNewRunContext(t *testing.T) {
	t.Run("keeps existing trace", func(t *testing.T) {
		ctx := NewRunContext(WithTraceID(context.Background(), "trace-1"), "s1")
		assert.Equal(t, "trace-1", GetTraceID(ctx))
		assert.NotEmpty(t, GetRunID(ctx))
		assert.Equal(t, "s1", GetSessionID(ctx))
	})

	t.Run("starts a trace when missing", func(t *testing.T) {
		assert.NotEmpty(t, GetTraceID(NewRunContext(context.Background(), "s1")))
	})

	t.Run("fresh run ids", func(t *testing.T) {
		a := NewRunContext(context.Background(), "s1")
		b := NewRunContext(context.Background(), "s1")
		assert.NotEqual(t, GetRunID(a), GetRunID(b))
	})
}
