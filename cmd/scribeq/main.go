package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxhall/scribeq/cmd/scribeq/commands"
	"github.com/voxhall/scribeq/logger"
)

var rootCmd = &cobra.Command{
	Use:   "scribeq",
	Short: "scribeq - transcription job queue and dispatch scheduler",
	Long: `scribeq - transcription job queue and dispatch scheduler.

scribeq accepts transcription jobs, admits them under a global
concurrency ceiling, dispatches them to a batch-compute executor, and
tracks each job through to completion.

Available commands:
  serve  - Run the scheduler daemon
  jobs   - Inspect and manage jobs
  config - Show effective configuration

Examples:
  scribeq serve                 # Run the scheduler in foreground
  scribeq jobs ls               # List recent jobs
  scribeq jobs retry <job-id>   # Re-queue a finished job
  scribeq config show           # Print the effective configuration`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonOutput); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
