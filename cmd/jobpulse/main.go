package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/jobpulse/cmd/jobpulse/commands"
	"github.com/teranos/jobpulse/logger"
)

var rootCmd = &cobra.Command{
	Use:   "jobpulse",
	Short: "jobpulse - timer-driven workflow orchestrator for job applications",
	Long: `jobpulse - timer-driven workflow orchestrator for job applications.

jobpulse schedules and fires the delayed actions of an application's
lifecycle: auto-apply after the acceptance grace period, follow-up
reminders, and cleanup of generated documents. It tracks document
generation runs, fans notifications out to live subscribers, and rolls
applications back on request.

Available commands:
  serve  - Start the HTTP server and timer dispatcher
  pulse  - Inspect and drive the timer dispatcher
  am     - Manage configuration ("I am")
  db     - Manage the database
  version

Examples:
  jobpulse serve                  # Serve on the configured port
  jobpulse pulse timers           # List pending timers
  jobpulse pulse tick             # Fire due timers once and exit
  jobpulse am show --format json  # Show effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("log-json")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
