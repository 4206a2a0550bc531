package cli

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/swarm/pkg/buffer"
	"github.com/spf13/cobra"
)

var (
	watchServer string
	watchFollow bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <session-id>",
	Short: "Stream a session's progress",
	Long: `Connect to a swarm server and print the session buffer every time it
changes: status, the last 3 artifacts and the last 10 log lines. Exits once
the run completes or fails unless --follow is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "", "API base url (default from config)")
	watchCmd.Flags().BoolVar(&watchFollow, "follow", false, "keep watching after the run finishes")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	sessionID := args[0]
	if err := buffer.ValidateSessionID(sessionID); err != nil {
		return err
	}

	wsURL, err := newAPIClient(serverURL(watchServer, cfg)).streamURL(sessionID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	out := cmd.OutOrStdout()
	for {
		var buf buffer.Buffer
		if err := conn.ReadJSON(&buf); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				fmt.Fprintf(out, "Stream closed: %s\n", closeErr.Text)
				return nil
			}
			return fmt.Errorf("stream error: %w", err)
		}

		fmt.Fprintf(out, "\n[%s] session %s (v%d)\n", time.Now().Format("15:04:05"), sessionID, buf.Version)
		printBuffer(out, buf)

		if buf.Status.IsFinished() && !watchFollow {
			return nil
		}
	}
}
