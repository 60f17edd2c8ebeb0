// Package cmd defines and implements the CLI commands for the siteaudit
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siteaudit",
		Short: "A resumable SEO audit pipeline service.",
		Long: `siteaudit runs multi-stage website audits: it crawls a site, analyzes
technical health, internal linking, content duplication, performance and
search rankings, and produces keyword briefs and a prioritized action plan.
Audits are resumable: a partial failure schedules a retry that reruns only
the unfinished components.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches . and /etc/siteaudit)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAuditCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
