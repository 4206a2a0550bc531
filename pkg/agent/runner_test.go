package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/swarm/pkg/buffer"
	"github.com/harun/swarm/pkg/capability"
	"github.com/harun/swarm/pkg/dispatch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoProvider() capability.Provider {
	return capability.Func(capability.Descriptor{
		Name:        "echo",
		Description: "Echo the payload back",
		InputSchema: capability.ObjectSchema(
			capability.Param{Name: "payload", Type: "string", Description: "Text to echo"},
		),
	}, func(ctx context.Context, args map[string]interface{}, sc capability.SessionContext) (string, error) {
		return `{"ok":true}`, nil
	})
}

func setupTestRunner(t *testing.T, decider Decider, maxIterations int) (*Runner, *buffer.Store) {
	t.Helper()

	logger := zerolog.New(os.Stdout).Level(zerolog.ErrorLevel)

	reg := capability.NewRegistry()
	reg.MustRegister(echoProvider())
	reg.Seal()

	d, err := dispatch.New(dispatch.Config{Registry: reg, Timeout: time.Second, Logger: logger})
	require.NoError(t, err)

	store := buffer.NewStore()
	loop, err := NewLoop(LoopConfig{
		Decider:       decider,
		Dispatcher:    d,
		Store:         store,
		MaxIterations: maxIterations,
		Logger:        logger,
	})
	require.NoError(t, err)

	runner, err := NewRunner(RunnerConfig{Store: store, Loop: loop, Logger: logger})
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = runner.Shutdown(ctx)
	})

	return runner, store
}

func waitFor(t *testing.T, r *Runner, sessionID string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Wait(ctx, sessionID))
}

func stripTime(lines []string) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l[strings.Index(l, "] ")+2:]
	}
	return out
}

func finalAnswer() Message {
	return Message{Role: RoleAssistant}
}

func TestNewRunner(t *testing.T) {
	_, err := NewRunner(RunnerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store is required")

	_, err = NewRunner(RunnerConfig{Store: buffer.NewStore()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loop is required")
}

func TestRunnerCompletesWithoutTools(t *testing.T) {
	decider := DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		return finalAnswer(), nil
	})
	runner, store := setupTestRunner(t, decider, 0)

	res, err := runner.Start(context.Background(), "s1", "ping")
	require.NoError(t, err)
	assert.Equal(t, "s1", res.SessionID)
	assert.Equal(t, StatusStarted, res.Status)
	assert.NotEmpty(t, res.RunID)

	waitFor(t, runner, "s1")

	buf, ok := store.Get("s1")
	require.True(t, ok)
	assert.Equal(t, buffer.StatusCompleted, buf.Status)
	assert.Equal(t, []string{
		`Run started for query: "ping"`,
		"Run completed successfully.",
	}, stripTime(buf.Logs))
	assert.Empty(t, buf.Artifacts)
}

func TestRunnerObservesMixedResults(t *testing.T) {
	var calls atomic.Int32
	var secondHistory []Message

	decider := DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		if calls.Add(1) == 1 {
			return Message{
				Role: RoleAssistant,
				ToolCalls: []capability.ToolCall{
					{ID: "c1", Name: "echo", Arguments: map[string]interface{}{"payload": "hi"}},
					{ID: "c2", Name: "ghost", Arguments: map[string]interface{}{}},
				},
			}, nil
		}
		secondHistory = append([]Message(nil), history...)
		return finalAnswer(), nil
	})
	runner, store := setupTestRunner(t, decider, 0)

	_, err := runner.Start(context.Background(), "s1", "use tools")
	require.NoError(t, err)
	waitFor(t, runner, "s1")

	assert.Equal(t, int32(2), calls.Load())

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusCompleted, buf.Status)

	require.Len(t, buf.Artifacts, 1)
	assert.Equal(t, "echo", buf.Artifacts[0].Origin)
	assert.Equal(t, buffer.KindStructured, buf.Artifacts[0].Kind)
	assert.Equal(t, "Tool Output (echo)", buf.Artifacts[0].Title)
	assert.JSONEq(t, `{"ok":true}`, string(buf.Artifacts[0].Payload))

	assert.Equal(t, []string{
		`Run started for query: "use tools"`,
		"Decided to use tool(s): echo, ghost",
		"Tool execution completed. Saving results.",
		"Tool returned text: provider not found: ghost...",
		"Run completed successfully.",
	}, stripTime(buf.Logs))

	// user, assistant(tool calls), tool(echo), tool(ghost)
	require.Len(t, secondHistory, 4)
	assert.Equal(t, RoleTool, secondHistory[2].Role)
	assert.Equal(t, "c1", secondHistory[2].ToolCallID)
	assert.Equal(t, `{"ok":true}`, secondHistory[2].Content)
	assert.Equal(t, "c2", secondHistory[3].ToolCallID)
	assert.Equal(t, "provider not found: ghost", secondHistory[3].Content)
}

func TestRunnerEnforcesIterationBound(t *testing.T) {
	var calls atomic.Int32
	decider := DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		calls.Add(1)
		return Message{
			Role:      RoleAssistant,
			ToolCalls: []capability.ToolCall{{Name: "echo", Arguments: map[string]interface{}{}}},
		}, nil
	})
	runner, store := setupTestRunner(t, decider, 3)

	_, err := runner.Start(context.Background(), "s1", "loop forever")
	require.NoError(t, err)
	waitFor(t, runner, "s1")

	assert.Equal(t, int32(3), calls.Load())

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusFailed, buf.Status)
	assert.Len(t, buf.Artifacts, 3)
	last := buf.Logs[len(buf.Logs)-1]
	assert.Contains(t, last, "CRITICAL ERROR: ")
	assert.Contains(t, last, ErrMaxIterations.Error())
}

func TestRunnerDecisionErrorFails(t *testing.T) {
	decider := DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		return Message{}, errors.New("model unavailable")
	})
	runner, store := setupTestRunner(t, decider, 0)

	_, err := runner.Start(context.Background(), "s1", "q")
	require.NoError(t, err)
	waitFor(t, runner, "s1")

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusFailed, buf.Status)
	assert.Equal(t, "CRITICAL ERROR: decision failed: model unavailable", stripTime(buf.Logs)[1])
}

func TestRunnerRecoversPanic(t *testing.T) {
	decider := DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		panic("decider exploded")
	})
	runner, store := setupTestRunner(t, decider, 0)

	_, err := runner.Start(context.Background(), "s1", "q")
	require.NoError(t, err)
	waitFor(t, runner, "s1")

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusFailed, buf.Status)
	assert.Contains(t, buf.Logs[len(buf.Logs)-1], "panic: decider exploded")
	assert.False(t, runner.IsRunning("s1"))
}

func blockingDecider(entered chan<- struct{}) Decider {
	return DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return Message{}, ctx.Err()
	})
}

func TestRunnerRejectsOverlap(t *testing.T) {
	entered := make(chan struct{}, 1)
	runner, store := setupTestRunner(t, blockingDecider(entered), 0)

	_, err := runner.Start(context.Background(), "s1", "first")
	require.NoError(t, err)
	<-entered

	assert.True(t, runner.IsRunning("s1"))
	_, err = runner.Start(context.Background(), "s1", "second")
	assert.ErrorIs(t, err, ErrRunInProgress)

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusRunning, buf.Status)
	assert.Len(t, buf.Logs, 1)

	_, err = runner.Start(context.Background(), "s2", "other session")
	assert.NoError(t, err)
}

func TestRunnerAbort(t *testing.T) {
	entered := make(chan struct{}, 1)
	runner, store := setupTestRunner(t, blockingDecider(entered), 0)

	assert.False(t, runner.Abort("s1"))

	_, err := runner.Start(context.Background(), "s1", "q")
	require.NoError(t, err)
	<-entered
	assert.Equal(t, 1, runner.Active())

	assert.True(t, runner.Abort("s1"))
	waitFor(t, runner, "s1")
	assert.Equal(t, 0, runner.Active())

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusFailed, buf.Status)
	assert.Contains(t, buf.Logs[len(buf.Logs)-1], "context canceled")
	assert.False(t, runner.IsRunning("s1"))
}

func TestRunnerCallerContextDoesNotCancelRun(t *testing.T) {
	release := make(chan struct{})
	decider := DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		<-release
		return finalAnswer(), ctx.Err()
	})
	runner, store := setupTestRunner(t, decider, 0)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := runner.Start(ctx, "s1", "q")
	require.NoError(t, err)
	cancel()
	close(release)

	waitFor(t, runner, "s1")
	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusCompleted, buf.Status)
}

func TestRunnerKeepsHistoryAcrossRuns(t *testing.T) {
	var seen []int
	decider := DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		seen = append(seen, len(history))
		return Message{Role: RoleAssistant, Content: "answer"}, nil
	})
	runner, store := setupTestRunner(t, decider, 0)

	_, err := runner.Start(context.Background(), "s1", "first")
	require.NoError(t, err)
	waitFor(t, runner, "s1")

	_, err = runner.Start(context.Background(), "s1", "second")
	require.NoError(t, err)
	waitFor(t, runner, "s1")

	assert.Equal(t, []int{1, 3}, seen)
	history := runner.History("s1")
	require.Len(t, history, 4)
	assert.Equal(t, "second", history[2].Content)

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusCompleted, buf.Status)
	assert.Contains(t, stripTime(buf.Logs), "answer")

	runner.Forget("s1")
	assert.Empty(t, runner.History("s1"))
}

func TestRunnerRejectsInvalidSession(t *testing.T) {
	runner, _ := setupTestRunner(t, DeciderFunc(func(ctx context.Context, history []Message) (Message, error) {
		return finalAnswer(), nil
	}), 0)

	_, err := runner.Start(context.Background(), "../etc", "q")
	assert.ErrorIs(t, err, buffer.ErrInvalidSessionID)
}

func TestRunnerShutdown(t *testing.T) {
	entered := make(chan struct{}, 1)
	runner, store := setupTestRunner(t, blockingDecider(entered), 0)

	_, err := runner.Start(context.Background(), "s1", "q")
	require.NoError(t, err)
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, runner.Shutdown(ctx))

	buf, _ := store.Get("s1")
	assert.Equal(t, buffer.StatusFailed, buf.Status)

	_, err = runner.Start(context.Background(), "s2", "q")
	assert.ErrorIs(t, err, ErrRunnerClosed)
}
