package cli

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/harun/swarm/internal/daemon"
	"github.com/spf13/cobra"
)

var stopGrace time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running swarm server",
	Long: `Ask the server named in <data_dir>/swarm.pid to shut down.

Active runs are cancelled and marked failed. If the process is still alive
after --grace it is killed.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopGrace, "grace", 30*time.Second, "how long to wait before sending SIGKILL")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, _ []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	pid, err := daemon.Signal(cfg.DataDir, syscall.SIGTERM)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent SIGTERM to swarm server (PID %d)\n", pid)

	ctx, cancel := context.WithTimeout(cmd.Context(), stopGrace)
	defer cancel()
	if waitForExit(ctx, cfg.DataDir) {
		fmt.Fprintln(cmd.OutOrStdout(), "Server stopped")
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("server did not stop within %s and SIGKILL failed: %w", stopGrace, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Server did not stop within %s, killed\n", stopGrace)
	return nil
}

// waitForExit polls the PID file until no live server owns it or ctx ends
func waitForExit(ctx context.Context, dataDir string) bool {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, alive := daemon.RunningPID(dataDir); !alive {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
