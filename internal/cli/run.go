package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/harun/swarm/internal/daemon"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/spf13/cobra"
)

const drainTimeout = 5 * time.Second

var (
	runSession  string
	runTimeout  time.Duration
	runInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run one query in-process and print its progress",
	Long: `Start a run without a server, poll the session buffer and print each new
log line until the run completes or fails. The artifacts are listed at the end.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "", "session id (default: a new random id)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 5*time.Minute, "abort the run after this long (0 disables)")
	runCmd.Flags().DurationVar(&runInterval, "interval", 200*time.Millisecond, "buffer polling interval")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := validateForRuns(cfg); err != nil {
		return err
	}

	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		_ = d.Close(ctx)
	}()

	sessionID := runSession
	if sessionID == "" {
		sessionID = "cli-" + uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, runTimeout)
		defer cancel()
	}

	runner := d.GetRunner()
	res, err := runner.Start(ctx, sessionID, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Session %s, run %s\n", res.SessionID, res.RunID)

	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()

	seen := 0
	for {
		buf, _ := d.GetStore().Get(sessionID)
		for _, line := range buf.Logs[min(seen, len(buf.Logs)):] {
			fmt.Fprintln(out, line)
		}
		seen = len(buf.Logs)

		if buf.Status.IsFinished() {
			printArtifacts(out, buf.Artifacts, len(buf.Artifacts))
			if buf.Status == buffer.StatusFailed {
				return fmt.Errorf("run failed")
			}
			return nil
		}

		select {
		case <-ctx.Done():
			runner.Abort(sessionID)
			waitCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			_ = runner.Wait(waitCtx, sessionID)
			cancel()
			return fmt.Errorf("run interrupted: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
