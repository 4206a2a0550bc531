package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithSessionID(WithTraceID(context.Background(), "trace-1"), "s1")

	logger := LoggerFromContext(ctx, zerolog.New(&buf))
	logger.Info().Msg("Run started")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.NotContains(t, out, "run_id")
}

func TestMergeContext(t *testing.T) {
	source := WithRequestID(WithTraceID(context.Background(), "trace-src"), "req-1")
	target := WithTraceID(context.Background(), "trace-dst")

	merged := MergeContext(target, source)
	assert.Equal(t, "trace-dst", GetTraceID(merged))
	assert.Equal(t, "req-1", GetRequestID(merged))

	t.Run("follows target cancellation only", func(t *testing.T) {
		target, cancel := context.WithCancel(context.Background())
		source, cancelSource := context.WithCancel(WithTraceID(context.Background(), "t"))
		merged := MergeContext(target, source)

		cancelSource()
		assert.NoError(t, merged.Err())

		cancel()
		assert.ErrorIs(t, merged.Err(), context.Canceled)
	})
}
