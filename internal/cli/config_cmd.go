package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/harun/swarm/internal/config"
	"github.com/spf13/cobra"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		masked := *cfg
		masked.Agent.APIKey = mask(masked.Agent.APIKey)
		masked.Tools.Exa.APIKey = mask(masked.Tools.Exa.APIKey)
		fmt.Fprintln(cmd.OutOrStdout(), masked.String())
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		loader := config.NewLoader(cfgFile)
		path := loader.GetConfigPath()

		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
		if err := loader.Save(config.DefaultConfig()); err != nil {
			return fmt.Errorf("failed to save configuration: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "Set agent.api_key there or export SWARM_AGENT_API_KEY.")
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		errs := config.NewValidator().ValidateConfig(cfg)
		if err := cfg.Validate(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			for _, e := range errs {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %v\n", e)
			}
			return fmt.Errorf("configuration has %d error(s): %w", len(errs), errors.Join(errs...))
		}

		fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd, configInitCmd, configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}
