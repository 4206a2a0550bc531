package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/swarm/internal/daemon"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleBuffer(status buffer.Status) buffer.Buffer {
	return buffer.Buffer{
		Status:  status,
		Logs:    []string{"[10:00:00] Run started for query: \"ping\"", "[10:00:01] Run completed successfully."},
		Version: 3,
		Artifacts: []buffer.Artifact{
			{ID: "a1", Kind: buffer.KindStructured, Title: "Tool Output (echo)", Origin: "echo", Payload: json.RawMessage(`{"ok":true}`)},
		},
	}
}

func TestStatusCommand(t *testing.T) {
	t.Run("daemon stopped", func(t *testing.T) {
		out, err := execute(t, "status", "--config", writeConfig(t, nil))
		require.NoError(t, err)
		assert.Contains(t, out, "Daemon: stopped")
	})

	t.Run("session from debug endpoint", func(t *testing.T) {
		var gotSession string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/debug/swarm", r.URL.Path)
			gotSession = r.URL.Query().Get("session_id")
			_ = json.NewEncoder(w).Encode(sampleBuffer(buffer.StatusCompleted))
		}))
		defer srv.Close()

		out, err := execute(t, "status", "--config", writeConfig(t, nil), "--session", "s1", "--server", srv.URL)
		require.NoError(t, err)

		assert.Equal(t, "s1", gotSession)
		assert.Contains(t, out, "Session: s1")
		assert.Contains(t, out, "Status: COMPLETED")
		assert.Contains(t, out, "Tool Output (echo) [structured] from echo")
		assert.Contains(t, out, "Run completed successfully.")
	})

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":"server is shutting down","code":"unavailable"}`))
		}))
		defer srv.Close()

		_, err := execute(t, "status", "--config", writeConfig(t, nil), "--session", "s1", "--server", srv.URL)
		assert.ErrorContains(t, err, "server is shutting down")
	})
}

func TestToolsCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/swarm/tools", r.URL.Path)
		_, _ = w.Write([]byte(`{"tools":[{"name":"echo","description":"Echo the payload"},{"name":"web_search","description":"Search the web"}]}`))
	}))
	defer srv.Close()

	out, err := execute(t, "tools", "--config", writeConfig(t, nil), "--server", srv.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "echo")
	assert.Contains(t, out, "Search the web")
}

func TestWatchCommand(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/swarm/s1/stream", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(sampleBuffer(buffer.StatusRunning))
		_ = conn.WriteJSON(sampleBuffer(buffer.StatusCompleted))
		// a finished run ends the watch, so this is never read
		_ = conn.WriteJSON(sampleBuffer(buffer.StatusCompleted))
	}))
	defer srv.Close()

	out, err := execute(t, "watch", "s1", "--config", writeConfig(t, nil), "--server", srv.URL)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, "Status: RUNNING"))
	assert.Equal(t, 1, strings.Count(out, "Status: COMPLETED"))
	assert.Contains(t, out, "session s1 (v3)")
}

func TestWatchCommandRejectsBadSession(t *testing.T) {
	_, err := execute(t, "watch", strings.Repeat("x", 200), "--config", writeConfig(t, nil))
	assert.ErrorIs(t, err, buffer.ErrInvalidSessionID)
}

func TestStopCommandWithoutDaemon(t *testing.T) {
	_, err := execute(t, "stop", "--config", writeConfig(t, nil))
	assert.ErrorContains(t, err, "not running")
}

func TestWaitForExit(t *testing.T) {
	t.Run("no pid file", func(t *testing.T) {
		assert.True(t, waitForExit(context.Background(), t.TempDir()))
	})

	t.Run("live pid until deadline", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(daemon.PIDFilePath(dir), []byte(strconv.Itoa(os.Getpid())), 0644))

		ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer cancel()
		assert.False(t, waitForExit(ctx, dir))
	})
}

func TestConfigCommands(t *testing.T) {
	t.Run("init writes defaults once", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "swarm.json")

		out, err := execute(t, "config", "init", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration written to "+path)
		_, err = os.Stat(path)
		require.NoError(t, err)

		_, err = execute(t, "config", "init", "--config", path)
		assert.ErrorContains(t, err, "already exists")

		_, err = execute(t, "config", "init", "--config", path, "--force")
		assert.NoError(t, err)
	})

	t.Run("show masks secrets", func(t *testing.T) {
		path := writeConfig(t, map[string]interface{}{
			"agent": map[string]interface{}{"api_key": "sk-ant-abcdefghijklmnop"},
		})

		out, err := execute(t, "config", "show", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "sk-a****mnop")
		assert.NotContains(t, out, "abcdefghijkl")
	})

	t.Run("validate", func(t *testing.T) {
		_, err := execute(t, "config", "validate", "--config", writeConfig(t, nil))
		assert.ErrorContains(t, err, "no AI credentials")

		path := writeConfig(t, map[string]interface{}{
			"agent": map[string]interface{}{"api_key": "sk-ant-abcdefghijklmnop"},
		})
		out, err := execute(t, "config", "validate", "--config", path)
		require.NoError(t, err)
		assert.Contains(t, out, "Configuration is valid")
	})
}

// fakeChatServer answers chat completions: a tool call first, then a final answer
func fakeChatServer(t *testing.T) *httptest.Server {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")

		message := `{"role":"assistant","content":"pong"}`
		finish := "stop"
		if atomic.AddInt32(&calls, 1) == 1 {
			message = `{"role":"assistant","content":"","tool_calls":[{"id":"call_1","type":"function","function":{"name":"echo","arguments":"{\"payload\":\"ping\"}"}}]}`
			finish = "tool_calls"
		}
		fmt.Fprintf(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"test-model",
			"choices":[{"index":0,"finish_reason":%q,"message":%s}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`, finish, message)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunCommand(t *testing.T) {
	srv := fakeChatServer(t)
	path := writeConfig(t, map[string]interface{}{
		"agent": map[string]interface{}{
			"provider":    "openai",
			"api_key":     "test-key",
			"base_url":    srv.URL + "/",
			"model":       "test-model",
			"max_retries": 1,
		},
		"logging": map[string]interface{}{"level": "error"},
	})

	out, err := execute(t, "run", "ping", "--config", path, "--session", "cli-test", "--interval", "10ms")
	require.NoError(t, err)

	assert.Contains(t, out, "Session cli-test")
	assert.Contains(t, out, `Run started for query: "ping"`)
	assert.Contains(t, out, "Decided to use tool(s): echo")
	assert.Contains(t, out, "Run completed successfully.")
	assert.Contains(t, out, "Artifacts (1):")
	assert.Contains(t, out, "Tool Output (echo)")
}

func TestRunCommandRequiresCredentials(t *testing.T) {
	_, err := execute(t, "run", "ping", "--config", writeConfig(t, nil))
	assert.ErrorContains(t, err, "no AI credentials")
}
