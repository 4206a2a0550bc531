package tracing

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// LoggerFromContext returns base with the correlation ids of ctx as fields
func LoggerFromContext(ctx context.Context, base zerolog.Logger) zerolog.Logger {
	zc := base.With()
	for _, f := range FromContext(ctx).fields() {
		if f[1] != "" {
			zc = zc.Str(f[0], f[1])
		}
	}
	return zc.Logger()
}

// MergeContext copies the ids and the OTel span of source into target
// wherever target has none. Cancellation and deadlines stay target's, so a
// run can be parented to a request without dying with it.
func MergeContext(target, source context.Context) context.Context {
	merged := FromContext(target).fill(FromContext(source))
	if merged != FromContext(target) {
		target = context.WithValue(target, ctxKey{}, merged)
	}
	if sc := trace.SpanContextFromContext(source); sc.IsValid() && !trace.SpanContextFromContext(target).IsValid() {
		target = trace.ContextWithSpanContext(target, sc)
	}
	return target
}
