// Package tracing carries correlation ids through contexts and loggers and
// owns the process OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Exporter names accepted by Config.Exporter
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config controls the process tracer provider
type Config struct {
	ServiceName string
	Exporter    string  // none, stdout
	SampleRatio float64 // 0 means every trace
	Output      io.Writer
}

var (
	tpMu sync.Mutex
	tp   *sdktrace.TracerProvider
)

// InitOpenTelemetry installs the process tracer provider. While one is
// installed further calls do nothing; after ShutdownOpenTelemetry the next
// call installs a fresh one.
func InitOpenTelemetry(cfg Config) error {
	tpMu.Lock()
	defer tpMu.Unlock()
	if tp != nil {
		return nil
	}

	p, err := initProvider(cfg)
	if err != nil {
		return err
	}
	tp = p
	otel.SetTracerProvider(p)
	return nil
}

func initProvider(cfg Config) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "swarm"
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	ratio := cfg.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}

	exp, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	return sdktrace.NewTracerProvider(opts...), nil
}

// newExporter returns nil when spans should only feed log correlation
func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return nil, nil
	case ExporterStdout:
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter: %s", cfg.Exporter)
	}
}

// ShutdownOpenTelemetry flushes pending spans and uninstalls the provider
func ShutdownOpenTelemetry(ctx context.Context) error {
	tpMu.Lock()
	p := tp
	tp = nil
	tpMu.Unlock()

	if p == nil {
		return nil
	}
	return p.Shutdown(ctx)
}

// StartSpan starts a span on the named tracer. A context without a trace id
// adopts the span's, so log lines and spans share one id.
func StartSpan(ctx context.Context, tracerName, spanName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := otel.Tracer(tracerName).Start(ctx, spanName, trace.WithAttributes(attrs...))
	if sc := span.SpanContext(); sc.IsValid() && GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, sc.TraceID().String())
	}
	return ctx, span
}
