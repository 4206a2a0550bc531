package daemon

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycleManager(t *testing.T) {
	cfg := testConfig(t)
	d, _ := createTestDaemon(t, cfg)
	defer d.Close(context.Background())

	lm := NewLifecycleManager(d)
	assert.NotNil(t, lm)
	assert.Equal(t, d, lm.daemon)
	assert.Equal(t, filepath.Join(cfg.DataDir, "swarm.pid"), lm.pidFile)
}

func TestLifecycleManagerStartStop(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))
	defer d.Close(context.Background())

	lm := NewLifecycleManager(d)

	require.NoError(t, lm.Start())
	_, err := os.Stat(lm.pidFile)
	assert.NoError(t, err)
	assert.True(t, lm.IsRunning())

	// restarting in the same process is allowed
	require.NoError(t, lm.Start())

	require.NoError(t, lm.Stop())
	_, err = os.Stat(lm.pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.False(t, lm.IsRunning())

	require.NoError(t, lm.Stop())
}

func TestLifecycleManagerGetPID(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))
	defer d.Close(context.Background())

	lm := NewLifecycleManager(d)
	require.NoError(t, lm.Start())
	defer lm.Stop()

	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadPID(filepath.Join(dir, "missing.pid"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("abc"), 0644))
	_, err = ReadPID(bad)
	assert.ErrorContains(t, err, "invalid PID file")

	require.NoError(t, os.WriteFile(bad, []byte("-3"), 0644))
	_, err = ReadPID(bad)
	assert.Error(t, err)

	good := filepath.Join(dir, "good.pid")
	require.NoError(t, os.WriteFile(good, []byte("1234\n"), 0644))
	pid, err := ReadPID(good)
	require.NoError(t, err)
	assert.Equal(t, 1234, pid)
}

func TestLifecycleTakesOverStalePIDFile(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))
	defer d.Close(context.Background())

	lm := NewLifecycleManager(d)
	// PIDs above the default pid_max are never live
	require.NoError(t, os.WriteFile(lm.pidFile, []byte("4194304"), 0644))
	assert.False(t, lm.IsRunning())

	require.NoError(t, lm.Start())
	pid, err := lm.GetPID()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	require.NoError(t, lm.Stop())
}

func TestSignalWithoutDaemon(t *testing.T) {
	_, err := Signal(t.TempDir(), syscall.SIGTERM)
	assert.ErrorIs(t, err, ErrNotRunning)

	_, ok := RunningPID(t.TempDir())
	assert.False(t, ok)
}
