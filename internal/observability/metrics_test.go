package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	RecordToolExecution("echo", 10*time.Millisecond, true)
	RecordToolExecution("ghost", time.Millisecond, false)
	RecordAgentRun("completed", time.Second, 2)
	SetActiveRuns(1)
	SetBuffers(3)
	RecordEvictions(2)
	RecordDecision("openai", time.Second, false)
	RecordStartRejected("run_in_progress")

	srv := httptest.NewServer(MetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `tool_execution_total{status="success",tool="echo"}`)
	assert.Contains(t, text, `tool_errors_total{tool="ghost"}`)
	assert.Contains(t, text, `agent_run_total{status="completed"}`)
	assert.Contains(t, text, "agent_runs_active 1")
	assert.Contains(t, text, "session_buffers 3")
	assert.Contains(t, text, `run_start_rejected_total{reason="run_in_progress"}`)
}

func TestRecordEvictionsIgnoresZero(t *testing.T) {
	assert.NotPanics(t, func() { RecordEvictions(0) })
}
