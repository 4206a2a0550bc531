package buffer

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()

	clock := time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)
	store := NewStore()
	store.now = func() time.Time { return clock }
	return store, &clock
}

func TestStoreInit(t *testing.T) {
	t.Run("creates idle empty buffer", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")

		buf, ok := store.Get("s1")
		require.True(t, ok)
		assert.Equal(t, StatusIdle, buf.Status)
		assert.Empty(t, buf.Logs)
		assert.Empty(t, buf.Artifacts)
	})

	t.Run("resets existing buffer", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")
		store.AppendLog("s1", "old")
		require.NoError(t, store.SetStatus("s1", StatusRunning))

		store.Init("s1")

		buf, _ := store.Get("s1")
		assert.Equal(t, StatusIdle, buf.Status)
		assert.Empty(t, buf.Logs)
	})
}

func TestStoreEnsure(t *testing.T) {
	store, _ := setupTestStore(t)

	assert.True(t, store.Ensure("s1"))
	store.AppendLog("s1", "kept")
	assert.False(t, store.Ensure("s1"))

	buf, ok := store.Get("s1")
	require.True(t, ok)
	assert.Len(t, buf.Logs, 1)
}

func TestStoreGet(t *testing.T) {
	t.Run("absent buffer", func(t *testing.T) {
		store, _ := setupTestStore(t)
		_, ok := store.Get("missing")
		assert.False(t, ok)
	})

	t.Run("repeated reads are identical", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")
		store.AppendLog("s1", "one")
		store.AddArtifact("s1", ArtifactInput{Kind: KindStructured, Title: "t", Payload: json.RawMessage(`{"a":1}`), Origin: "echo"})

		first, _ := store.Get("s1")
		second, _ := store.Get("s1")
		assert.Equal(t, first, second)
	})

	t.Run("snapshot is isolated from later writes", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")
		store.AppendLog("s1", "one")

		snap, _ := store.Get("s1")
		snap.Logs[0] = "mutated"
		store.AppendLog("s1", "two")

		buf, _ := store.Get("s1")
		assert.Equal(t, "[15:04:05] one", buf.Logs[0])
		assert.Len(t, snap.Logs, 1)
	})

	t.Run("earlier snapshot is a prefix of a later one", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")
		store.AppendLog("s1", "one")
		before, _ := store.Get("s1")

		store.AppendLog("s1", "two")
		store.AddArtifact("s1", ArtifactInput{Kind: KindText, Payload: json.RawMessage(`"x"`)})
		after, _ := store.Get("s1")

		assert.Equal(t, before.Logs, after.Logs[:len(before.Logs)])
		assert.Equal(t, before.Artifacts, after.Artifacts[:len(before.Artifacts)])
		assert.Greater(t, after.Version, before.Version)
	})
}

func TestStoreAppendLog(t *testing.T) {
	t.Run("prefixes timestamp", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")
		store.AppendLog("s1", "hello")

		buf, _ := store.Get("s1")
		assert.Equal(t, []string{"[15:04:05] hello"}, buf.Logs)
	})

	t.Run("ignores missing buffer", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.AppendLog("missing", "hello")
		assert.Equal(t, 0, store.Len())
	})

	t.Run("concurrent appends are not lost", func(t *testing.T) {
		store := NewStore()
		store.Init("s1")

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				store.AppendLog("s1", fmt.Sprintf("line %d", n))
			}(i)
		}
		wg.Wait()

		buf, _ := store.Get("s1")
		assert.Len(t, buf.Logs, 50)
		assert.Equal(t, uint64(50), buf.Version)
	})
}

func TestStoreAddArtifact(t *testing.T) {
	t.Run("assigns id and timestamp", func(t *testing.T) {
		store, clock := setupTestStore(t)
		store.Init("s1")

		a, ok := store.AddArtifact("s1", ArtifactInput{
			Kind:    KindStructured,
			Title:   "Tool Output (echo)",
			Payload: json.RawMessage(`{"ok":true}`),
			Origin:  "echo",
		})
		require.True(t, ok)
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, *clock, a.CreatedAt)

		buf, _ := store.Get("s1")
		require.Len(t, buf.Artifacts, 1)
		assert.Equal(t, a, buf.Artifacts[0])
		assert.JSONEq(t, `{"ok":true}`, string(buf.Artifacts[0].Payload))
	})

	t.Run("unique ids", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")
		a1, _ := store.AddArtifact("s1", ArtifactInput{Kind: KindText, Payload: json.RawMessage(`"a"`)})
		a2, _ := store.AddArtifact("s1", ArtifactInput{Kind: KindText, Payload: json.RawMessage(`"b"`)})
		assert.NotEqual(t, a1.ID, a2.ID)
	})

	t.Run("ignores missing buffer", func(t *testing.T) {
		store, _ := setupTestStore(t)
		_, ok := store.AddArtifact("missing", ArtifactInput{Kind: KindText})
		assert.False(t, ok)
	})
}

func TestStoreSetStatus(t *testing.T) {
	tests := []struct {
		name    string
		path    []Status
		wantErr bool
	}{
		{name: "idle to running to completed", path: []Status{StatusRunning, StatusCompleted}},
		{name: "idle to running to failed", path: []Status{StatusRunning, StatusFailed}},
		{name: "new run after completion", path: []Status{StatusRunning, StatusCompleted, StatusRunning}},
		{name: "idle to completed", path: []Status{StatusCompleted}, wantErr: true},
		{name: "completed to failed", path: []Status{StatusRunning, StatusCompleted, StatusFailed}, wantErr: true},
		{name: "back to idle", path: []Status{StatusRunning, StatusIdle}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := setupTestStore(t)
			store.Init("s1")

			var err error
			for _, st := range tt.path {
				if err = store.SetStatus("s1", st); err != nil {
					break
				}
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			buf, _ := store.Get("s1")
			assert.Equal(t, tt.path[len(tt.path)-1], buf.Status)
		})
	}

	t.Run("missing buffer is a no-op", func(t *testing.T) {
		store, _ := setupTestStore(t)
		assert.NoError(t, store.SetStatus("missing", StatusCompleted))
	})
}

func TestValidateSessionID(t *testing.T) {
	valid := []string{"s1", "session-123", "user:42"}
	for _, id := range valid {
		assert.NoError(t, ValidateSessionID(id), id)
	}

	invalid := []string{"", "../etc", "a/b", `a\b`, "a\x00b", string(make([]byte, 200))}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateSessionID(id), ErrInvalidSessionID)
	}
}

func TestStoreEvictFinished(t *testing.T) {
	store, clock := setupTestStore(t)
	store.Init("done")
	require.NoError(t, store.SetStatus("done", StatusRunning))
	require.NoError(t, store.SetStatus("done", StatusCompleted))
	store.Init("busy")
	require.NoError(t, store.SetStatus("busy", StatusRunning))
	store.Init("idle")

	*clock = clock.Add(time.Hour)
	store.Init("fresh")

	evicted := store.EvictFinished(30 * time.Minute)
	assert.Equal(t, []string{"done", "idle"}, evicted)
	assert.Equal(t, []string{"busy", "fresh"}, store.Sessions())
}

func TestIdle(t *testing.T) {
	data, err := json.Marshal(Idle())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"idle"`)
	assert.Contains(t, string(data), `"logs":["No active swarm session found yet."]`)
	assert.Contains(t, string(data), `"artifacts":[]`)
}

func TestStoreBegin(t *testing.T) {
	t.Run("creates missing buffer as running", func(t *testing.T) {
		store, _ := setupTestStore(t)
		require.NoError(t, store.Begin("s1"))

		buf, ok := store.Get("s1")
		require.True(t, ok)
		assert.Equal(t, StatusRunning, buf.Status)
		assert.Equal(t, uint64(1), buf.Version)
	})

	t.Run("restarts finished buffer", func(t *testing.T) {
		store, _ := setupTestStore(t)
		store.Init("s1")
		require.NoError(t, store.SetStatus("s1", StatusRunning))
		store.AppendLog("s1", "first run")
		require.NoError(t, store.SetStatus("s1", StatusFailed))

		require.NoError(t, store.Begin("s1"))
		buf, _ := store.Get("s1")
		assert.Equal(t, StatusRunning, buf.Status)
		require.Len(t, buf.Logs, 1)
		assert.Contains(t, buf.Logs[0], "first run")
	})

	t.Run("running is a no-op", func(t *testing.T) {
		store, _ := setupTestStore(t)
		require.NoError(t, store.Begin("s1"))
		before, _ := store.Get("s1")

		require.NoError(t, store.Begin("s1"))
		after, _ := store.Get("s1")
		assert.Equal(t, before.Version, after.Version)
	})

	t.Run("survives sweep", func(t *testing.T) {
		store, clock := setupTestStore(t)
		require.NoError(t, store.Begin("s1"))
		*clock = clock.Add(2 * time.Hour)

		assert.Empty(t, store.EvictFinished(0))
		buf, ok := store.Get("s1")
		require.True(t, ok)
		assert.Equal(t, StatusRunning, buf.Status)
	})
}

func TestStoreGeneration(t *testing.T) {
	store, _ := setupTestStore(t)

	store.Init("s1")
	first, _ := store.Get("s1")
	assert.NotZero(t, first.Generation)

	store.Init("s1")
	second, _ := store.Get("s1")
	assert.NotEqual(t, first.Generation, second.Generation)
	assert.Equal(t, first.Version, second.Version)

	store.AppendLog("s1", "x")
	require.NoError(t, store.SetStatus("s1", StatusRunning))
	require.NoError(t, store.SetStatus("s1", StatusCompleted))
	assert.Equal(t, []string{"s1"}, store.EvictFinished(0))

	require.NoError(t, store.Begin("s1"))
	third, _ := store.Get("s1")
	assert.NotEqual(t, second.Generation, third.Generation)
	assert.Equal(t, uint64(1), third.Version)

	assert.Zero(t, Idle().Generation)
}
