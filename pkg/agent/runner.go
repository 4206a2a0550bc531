package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/swarm/internal/observability"
	"github.com/harun/swarm/internal/tracing"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrRunnerClosed is returned by Start after Shutdown
var ErrRunnerClosed = errors.New("runner is shut down")

// StatusStarted is the status reported by a successful Start
const StatusStarted = "started"

// task is the handle of one background run
type task struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Runner starts loops in the background and owns each session's status
type Runner struct {
	store  *buffer.Store
	loop   *Loop
	logger zerolog.Logger

	baseCtx context.Context
	stop    context.CancelFunc

	mu        sync.Mutex
	histories map[string][]Message
	tasks     map[string]*task
	closed    bool
}

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	Store  *buffer.Store
	Loop   *Loop
	Logger zerolog.Logger
}

// NewRunner creates a new runner
func NewRunner(cfg RunnerConfig) (*Runner, error) {
	observability.EnsureRegistered()

	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Loop == nil {
		return nil, fmt.Errorf("loop is required")
	}

	baseCtx, stop := context.WithCancel(context.Background())

	return &Runner{
		store:     cfg.Store,
		loop:      cfg.Loop,
		logger:    cfg.Logger,
		baseCtx:   baseCtx,
		stop:      stop,
		histories: make(map[string][]Message),
		tasks:     make(map[string]*task),
	}, nil
}

// Start launches a run for sessionID and returns without waiting for it.
// ctx only contributes trace identifiers: the run outlives the caller.
func (r *Runner) Start(ctx context.Context, sessionID, query string) (StartResult, error) {
	if err := buffer.ValidateSessionID(sessionID); err != nil {
		observability.RecordStartRejected("invalid_session")
		return StartResult{}, err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		observability.RecordStartRejected("shutdown")
		return StartResult{}, ErrRunnerClosed
	}
	if _, busy := r.tasks[sessionID]; busy {
		observability.RecordStartRejected("in_progress")
		return StartResult{}, fmt.Errorf("%w: session %s", ErrRunInProgress, sessionID)
	}

	if err := r.store.Begin(sessionID); err != nil {
		observability.RecordStartRejected("invalid_status")
		return StartResult{}, err
	}
	r.store.AppendLog(sessionID, fmt.Sprintf("Run started for query: \"%s\"", query))

	history := append(append([]Message(nil), r.histories[sessionID]...), UserMessage(query))
	r.histories[sessionID] = history

	runCtx := tracing.NewRunContext(tracing.MergeContext(r.baseCtx, ctx), sessionID)
	runCtx, cancel := context.WithCancel(runCtx)
	t := &task{
		runID:  tracing.GetRunID(runCtx),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.tasks[sessionID] = t
	observability.SetActiveRuns(len(r.tasks))

	logger := tracing.LoggerFromContext(runCtx, r.logger)
	logger.Info().Int("history_len", len(history)).Msg("Run started")
	observability.RecordRunAudit(runCtx, sessionID, t.runID, "start", StatusStarted, map[string]interface{}{
		"query_length": len(query),
	})

	go r.execute(runCtx, sessionID, t, history)

	return StartResult{
		SessionID: sessionID,
		Status:    StatusStarted,
		RunID:     t.runID,
	}, nil
}

func (r *Runner) execute(ctx context.Context, sessionID string, t *task, history []Message) {
	defer close(t.done)
	defer t.cancel()

	start := time.Now()
	ctx, span := tracing.StartSpan(
		ctx,
		"swarm.agent",
		"agent.run",
		attribute.String("session_id", sessionID),
		attribute.String("run_id", t.runID),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	var (
		outcome Outcome
		err     error
	)
	if rec := panics.Try(func() {
		outcome, err = r.loop.Run(ctx, sessionID, history)
	}); rec != nil {
		logger.Error().Str("panic", rec.String()).Msg("Run panicked")
		err = fmt.Errorf("panic: %v", rec.Value)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tasks[sessionID] == t {
		delete(r.tasks, sessionID)
	}
	observability.SetActiveRuns(len(r.tasks))

	status := buffer.StatusCompleted
	if err != nil {
		status = buffer.StatusFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Int("iterations", outcome.Iterations).Msg("Run failed")
		r.store.AppendLog(sessionID, "CRITICAL ERROR: "+err.Error())
	} else {
		r.histories[sessionID] = outcome.History
		logger.Info().Int("iterations", outcome.Iterations).Dur("duration", time.Since(start)).Msg("Run completed")
		r.store.AppendLog(sessionID, "Run completed successfully.")
	}

	if serr := r.store.SetStatus(sessionID, status); serr != nil {
		logger.Warn().Err(serr).Msg("Could not record final status")
	}

	observability.RecordAgentRun(string(status), time.Since(start), outcome.Iterations)
	observability.RecordRunAudit(ctx, sessionID, t.runID, "finish", string(status), map[string]interface{}{
		"iterations": outcome.Iterations,
	})
}

// Abort cancels the active run for sessionID. It reports whether one existed.
func (r *Runner) Abort(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, exists := r.tasks[sessionID]
	if !exists {
		r.logger.Debug().Str("session_id", sessionID).Msg("No active run to abort")
		return false
	}

	r.logger.Info().Str("session_id", sessionID).Str("run_id", t.runID).Msg("Aborting run")
	t.cancel()
	return true
}

// IsRunning checks if a run is active for a session
func (r *Runner) IsRunning(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.tasks[sessionID]
	return exists
}

// Active returns the number of runs in flight
func (r *Runner) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// Wait blocks until the active run for sessionID finishes or ctx is done
func (r *Runner) Wait(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	t, exists := r.tasks[sessionID]
	r.mu.Unlock()

	if !exists {
		return nil
	}

	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns a copy of the conversation held for sessionID
func (r *Runner) History(sessionID string) []Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]Message(nil), r.histories[sessionID]...)
}

// Forget drops the conversation held for sessionID unless a run is active
func (r *Runner) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.tasks[sessionID]; busy {
		return
	}
	delete(r.histories, sessionID)
}

// Shutdown cancels every active run and waits for them to finish or ctx to end
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	pending := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		pending = append(pending, t)
	}
	r.mu.Unlock()

	r.stop()
	r.logger.Info().Int("active_runs", len(pending)).Msg("Runner shutting down")

	for _, t := range pending {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
