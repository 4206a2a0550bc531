// Package dispatch executes a batch of tool calls concurrently against a
// capability registry, isolating every failure to its own result.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/swarm/internal/observability"
	"github.com/harun/swarm/internal/tracing"
	"github.com/harun/swarm/pkg/capability"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds a single provider call
const DefaultTimeout = 30 * time.Second

// ErrTimeout is wrapped into the ProviderError of a call that ran out of time
var ErrTimeout = errors.New("provider call timed out")

// Config holds dispatcher configuration
type Config struct {
	Registry *capability.Registry
	Timeout  time.Duration
	Logger   zerolog.Logger
}

// Dispatcher fans tool calls out to providers
type Dispatcher struct {
	registry *capability.Registry
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a dispatcher
func New(cfg Config) (*Dispatcher, error) {
	observability.EnsureRegistered()

	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Dispatcher{
		registry: cfg.Registry,
		timeout:  cfg.Timeout,
		logger:   cfg.Logger,
	}, nil
}

// Registry returns the provider set this dispatcher resolves against
func (d *Dispatcher) Registry() *capability.Registry {
	return d.registry
}

// Dispatch runs every call concurrently and returns one result per call, in
// call order. It never returns an error: failures are carried in the results.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []capability.ToolCall, sc capability.SessionContext) []capability.ToolResult {
	results := make([]capability.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = d.dispatchOne(ctx, call, sc)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (d *Dispatcher) dispatchOne(ctx context.Context, call capability.ToolCall, sc capability.SessionContext) capability.ToolResult {
	start := time.Now()
	ctx, span := tracing.StartSpan(
		ctx,
		"swarm.dispatch",
		"dispatch.call",
		attribute.String("tool", call.Name),
		attribute.String("call_id", call.ID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, d.logger).With().Str("tool", call.Name).Str("call_id", call.ID).Logger()

	result := capability.ToolResult{ToolCallID: call.ID, Name: call.Name}

	fail := func(err error) capability.ToolResult {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordToolExecution(call.Name, time.Since(start), false)
		observability.RecordToolAudit(ctx, sc.SessionID, sc.RunID, call.Name, "failure", time.Since(start))
		result.Error = err.Error()
		result.Err = err
		return result
	}

	provider, ok := d.registry.Lookup(call.Name)
	if !ok {
		logger.Warn().Msg("Provider not found")
		return fail(fmt.Errorf("%w: %s", capability.ErrProviderNotFound, call.Name))
	}

	if err := d.registry.Validate(call.Name, call.Arguments); err != nil {
		logger.Warn().Err(err).Msg("Argument validation failed")
		return fail(&capability.ProviderError{Provider: call.Name, Err: err})
	}

	callSC := sc
	callSC.CallID = call.ID

	output, err := d.invoke(ctx, provider, call, callSC, logger)
	if err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("Provider call failed")
		return fail(&capability.ProviderError{Provider: call.Name, Err: err})
	}

	observability.RecordToolExecution(call.Name, time.Since(start), true)
	observability.RecordToolAudit(ctx, sc.SessionID, sc.RunID, call.Name, "success", time.Since(start))
	logger.Debug().Dur("duration", time.Since(start)).Msg("Provider call completed")

	result.Output = output
	return result
}

type invocation struct {
	output string
	err    error
}

// invoke runs the provider under the per-call timeout. A provider that ignores
// cancellation is abandoned once the deadline passes.
func (d *Dispatcher) invoke(ctx context.Context, p capability.Provider, call capability.ToolCall, sc capability.SessionContext, logger zerolog.Logger) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	callCtx = capability.WithSessionContext(callCtx, sc)

	done := make(chan invocation, 1)
	go func() {
		var inv invocation
		if r := panics.Try(func() {
			inv.output, inv.err = p.Invoke(callCtx, call.Arguments, sc)
		}); r != nil {
			logger.Error().Str("panic", r.String()).Msg("Provider panicked")
			inv.err = fmt.Errorf("panic: %v", r.Value)
		}
		done <- inv
	}()

	select {
	case inv := <-done:
		if inv.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("%w after %v: %v", ErrTimeout, d.timeout, inv.err)
		}
		return inv.output, inv.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w after %v", ErrTimeout, d.timeout)
	}
}
