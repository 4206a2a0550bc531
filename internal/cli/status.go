package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/harun/swarm/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	statusSession string
	statusServer  string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon or session status",
	Long: `Show whether the swarm daemon is running. With --session, also fetch
that session's buffer from the debug endpoint once and print it.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusSession, "session", "", "session id to inspect")
	statusCmd.Flags().StringVar(&statusServer, "server", "", "API base url (default from config)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if pid, ok := daemon.RunningPID(cfg.DataDir); ok {
		fmt.Fprintf(out, "Daemon: running\n")
		fmt.Fprintf(out, "PID: %d\n", pid)
		if info, err := os.Stat(daemon.PIDFilePath(cfg.DataDir)); err == nil {
			fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
		}
	} else {
		fmt.Fprintln(out, "Daemon: stopped")
	}

	if statusSession == "" {
		return nil
	}

	buf, err := newAPIClient(serverURL(statusServer, cfg)).Debug(cmd.Context(), statusSession)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Session: %s\n", statusSession)
	printBuffer(out, buf)
	return nil
}
