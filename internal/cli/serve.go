package cli

import (
	"errors"
	"fmt"

	"github.com/harun/swarm/internal/config"
	"github.com/harun/swarm/internal/daemon"
	"github.com/spf13/cobra"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the swarm API server",
	Long: `Run the swarm API server in the foreground.
Runs are started over HTTP and keep going after the request returns.
Finished session buffers are evicted on a schedule. SIGINT or SIGTERM
stops the server and cancels active runs.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides server.port)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
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

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	if err := loader.Watch(d.ApplyConfig, func(err error) {
		log.Warn().Err(err).Msg("Ignoring unreadable config change")
	}); err != nil {
		log.Debug().Err(err).Msg("Config hot reload disabled")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Swarm listening on http://%s\n", d.Status().Addr)
	d.Wait()
	return nil
}

// validateForRuns checks everything a process that executes runs needs
func validateForRuns(cfg *config.Config) error {
	if errs := config.NewValidator().ValidateConfig(cfg); len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
