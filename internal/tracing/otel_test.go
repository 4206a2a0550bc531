package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitOpenTelemetry(t *testing.T) {
	require.NoError(t, InitOpenTelemetry(Config{ServiceName: "swarm-test"}))
	t.Cleanup(func() { _ = ShutdownOpenTelemetry(context.Background()) })

	// ignored while a provider is installed
	require.NoError(t, InitOpenTelemetry(Config{Exporter: "bogus"}))

	ctx, span := StartSpan(context.Background(), "swarm.test", "test.span")
	defer span.End()

	require.True(t, span.SpanContext().IsValid())
	assert.Equal(t, span.SpanContext().TraceID().String(), GetTraceID(ctx))

	t.Run("existing trace id is kept", func(t *testing.T) {
		ctx, span := StartSpan(WithTraceID(context.Background(), "run-trace"), "swarm.test", "test.child")
		defer span.End()
		assert.Equal(t, "run-trace", GetTraceID(ctx))
	})
}

func TestReinitAfterShutdown(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, InitOpenTelemetry(Config{Exporter: ExporterStdout, Output: &out}))

	_, span := StartSpan(context.Background(), "swarm.test", "first")
	span.End()
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
	assert.Contains(t, out.String(), `"Name":"first"`)

	require.NoError(t, InitOpenTelemetry(Config{ServiceName: "swarm-test"}))
	_, span = StartSpan(context.Background(), "swarm.test", "second")
	assert.True(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, ShutdownOpenTelemetry(context.Background()))
	assert.NoError(t, ShutdownOpenTelemetry(context.Background()))
}

func TestNewExporter(t *testing.T) {
	exp, err := newExporter(Config{})
	require.NoError(t, err)
	assert.Nil(t, exp)

	exp, err = newExporter(Config{Exporter: ExporterStdout})
	require.NoError(t, err)
	assert.NotNil(t, exp)

	_, err = newExporter(Config{Exporter: "zipkin"})
	assert.ErrorContains(t, err, "unknown trace exporter")
}
