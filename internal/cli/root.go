package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"

	"github.com/harun/swarm/internal/config"
	"github.com/harun/swarm/internal/logger"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "Swarm - background research agent runs",
	Long: `Swarm runs a tool-using research agent in the background.
Each run thinks, calls tools, observes their results and records its
progress in a per-session buffer you can poll or stream.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.swarm/swarm.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies --log-level when given
func loadConfig(cmd *cobra.Command) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	return loader, cfg, nil
}

// newLogger builds the process logger; out receives console output
func newLogger(cfg *config.Config, out io.Writer) (*logger.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Out:       out,
	})
}

// serverURL resolves the API base URL from --server or the config
func serverURL(override string, cfg *config.Config) string {
	if override != "" {
		return override
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port))
}
