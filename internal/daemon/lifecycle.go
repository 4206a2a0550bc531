package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const pidFileName = "swarm.pid"

// ErrNotRunning is returned when no live server owns the PID file
var ErrNotRunning = errors.New("swarm server is not running")

// LifecycleManager owns the PID file that lets `swarm status` and
// `swarm stop` find a server started from the same data directory
type LifecycleManager struct {
	daemon  *Daemon
	pidFile string
}

// NewLifecycleManager creates a new lifecycle manager
func NewLifecycleManager(d *Daemon) *LifecycleManager {
	return &LifecycleManager{
		daemon:  d,
		pidFile: PIDFilePath(d.config.DataDir),
	}
}

// PIDFilePath returns where a server using dataDir records its PID
func PIDFilePath(dataDir string) string {
	return filepath.Join(dataDir, pidFileName)
}

// Start claims the PID file. A file left by a dead process is taken over;
// one owned by another live process is an error.
func (l *LifecycleManager) Start() error {
	if pid, ok := alivePID(l.pidFile); ok && pid != os.Getpid() {
		return fmt.Errorf("swarm server already running (PID %d)", pid)
	}
	if err := writePIDFile(l.pidFile, os.Getpid()); err != nil {
		return err
	}

	l.daemon.logger.Debug().Str("pid_file", l.pidFile).Int("pid", os.Getpid()).Msg("PID file written")
	return nil
}

// Stop releases the PID file
func (l *LifecycleManager) Stop() error {
	if err := os.Remove(l.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}
	return nil
}

// GetPID returns the PID recorded in the PID file
func (l *LifecycleManager) GetPID() (int, error) {
	return ReadPID(l.pidFile)
}

// IsRunning reports whether the recorded process is alive
func (l *LifecycleManager) IsRunning() bool {
	_, ok := alivePID(l.pidFile)
	return ok
}

// writePIDFile replaces path atomically so readers never see a partial PID
func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	return nil
}

// ReadPID parses a PID file
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s: %q", path, strings.TrimSpace(string(data)))
	}
	return pid, nil
}

func alivePID(path string) (int, bool) {
	pid, err := ReadPID(path)
	if err != nil {
		return 0, false
	}
	// Signal 0 checks existence and permission without delivering anything
	return pid, syscall.Kill(pid, 0) == nil
}

// RunningPID returns the PID of a live server using dataDir
func RunningPID(dataDir string) (int, bool) {
	return alivePID(PIDFilePath(dataDir))
}

// Signal delivers sig to the live server using dataDir
func Signal(dataDir string, sig syscall.Signal) (int, error) {
	pid, ok := RunningPID(dataDir)
	if !ok {
		return 0, ErrNotRunning
	}
	if err := syscall.Kill(pid, sig); err != nil {
		return pid, fmt.Errorf("failed to signal PID %d: %w", pid, err)
	}
	return pid, nil
}
