package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsServer string

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools a swarm server offers",
	RunE:  runTools,
}

func init() {
	toolsCmd.Flags().StringVar(&toolsServer, "server", "", "API base url (default from config)")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	tools, err := newAPIClient(serverURL(toolsServer, cfg)).Tools(cmd.Context())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, t.Description)
	}
	return tw.Flush()
}
