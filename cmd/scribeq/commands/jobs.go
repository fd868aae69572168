package commands

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxhall/scribeq/config"
	"github.com/voxhall/scribeq/db"
	"github.com/voxhall/scribeq/logger"
	"github.com/voxhall/scribeq/sched"
)

// JobsCmd groups job inspection and management.
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage transcription jobs",
	Long: `Inspect and manage transcription jobs.

Job management commands:
  scribeq jobs ls              # List recent jobs
  scribeq jobs status <id>     # Show job details
  scribeq jobs cancel <id>     # Cancel a queued job
  scribeq jobs retry <id>      # Re-queue a finished job
  scribeq jobs stats           # Show queue statistics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// JobsLsCmd lists jobs.
var JobsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List transcription jobs",
	Long: `List transcription jobs, optionally filtered by status or owner.

Status filters:
  queued     - Jobs waiting for a processing slot
  launched   - Jobs holding a slot, submission in flight
  processing - Jobs accepted by the batch executor
  completed  - Successfully completed jobs
  failed     - Jobs that failed or timed out
  canceled   - Jobs canceled before processing

Examples:
  scribeq jobs ls                       # List recent jobs
  scribeq jobs ls --status processing   # In-flight jobs only
  scribeq jobs ls --owner user-42       # One owner's jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusFilter, _ := cmd.Flags().GetString("status")
		owner, _ := cmd.Flags().GetString("owner")
		limit, _ := cmd.Flags().GetInt("limit")
		return runJobsLs(statusFilter, owner, limit)
	},
}

// JobsStatusCmd shows one job in detail.
var JobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show detailed status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStatus(args[0])
	},
}

// JobsCancelCmd cancels a queued job.
var JobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a queued job",
	Long: `Cancel a queued job.

Only queued jobs can be canceled. Once a job holds a processing slot
its executor submission is already outstanding; it runs to completion
or times out.

Example:
  scribeq jobs cancel job-4f1c`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsTransition(args[0], sched.StatusCanceled, "canceled")
	},
}

// JobsRetryCmd re-queues a finished job.
var JobsRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Re-queue a completed, failed, or canceled job",
	Long: `Return a finished job to the queue for another attempt.

The previous attempt's output reference, error message, and timing are
cleared. The job waits for a processing slot like any new submission.

Example:
  scribeq jobs retry job-4f1c`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsTransition(args[0], sched.StatusQueued, "re-queued")
	},
}

// JobsStatsCmd summarizes the queue.
var JobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJobsStats()
	},
}

func init() {
	JobsLsCmd.Flags().String("status", "", "Filter by status (queued, launched, processing, completed, failed, canceled)")
	JobsLsCmd.Flags().String("owner", "", "Filter by owner ID")
	JobsLsCmd.Flags().Int("limit", 20, "Maximum number of jobs to display")

	JobsCmd.AddCommand(JobsLsCmd)
	JobsCmd.AddCommand(JobsStatusCmd)
	JobsCmd.AddCommand(JobsCancelCmd)
	JobsCmd.AddCommand(JobsRetryCmd)
	JobsCmd.AddCommand(JobsStatsCmd)
}

// openStore opens the configured database and wraps it in a job store.
func openStore() (*sched.Store, *sql.DB, error) {
	dbPath, err := config.GetDatabasePath()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	return sched.NewStore(database), database, nil
}

func runJobsLs(statusFilter, owner string, limit int) error {
	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()

	// A listing is a natural point to reap timed-out jobs. Refill is
	// left to the daemon, which owns the executor wiring; the sweep
	// alone needs only the store and the configured limits.
	if cfg, cfgErr := config.Load(); cfgErr == nil {
		limits := schedulerLimits(cfg)
		sweeper := sched.NewSweeper(store, func() sched.Limits { return limits }, 0, logger.Named("sweeper"))
		if _, sweepErr := sweeper.SweepTimeouts(ctx); sweepErr != nil {
			logger.Logger.Warnw("Timeout sweep failed", "error", sweepErr)
		}
	}

	var jobs []*sched.Job
	switch {
	case owner != "":
		jobs, err = store.ListByOwner(ctx, owner, limit)
	case statusFilter != "":
		if !sched.IsValidStatus(statusFilter) {
			return fmt.Errorf("unknown status %q", statusFilter)
		}
		status := sched.Status(statusFilter)
		jobs, err = store.ListJobs(ctx, &status, limit)
	default:
		jobs, err = store.ListJobs(ctx, nil, limit)
	}
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-40s %-12s %-12s %-10s %s\n", "JOB ID", "STATUS", "OWNER", "ESTIMATE", "CREATED")
	fmt.Printf("%-40s %-12s %-12s %-10s %s\n", "------", "------", "-----", "--------", "-------")
	for _, job := range jobs {
		fmt.Printf("%-40s %-12s %-12s %-10s %s\n",
			truncate(job.ID, 40),
			job.Status,
			truncate(job.OwnerID, 12),
			formatEstimate(job.DurationEstimateMS),
			job.CreatedAt.Format("2006-01-02 15:04"))
	}

	fmt.Printf("\nTotal: %d job(s)\n", len(jobs))
	return nil
}

func runJobsStatus(jobID string) error {
	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := store.GetJob(context.Background(), jobID)
	if err != nil {
		return fmt.Errorf("failed to get job: %w", err)
	}

	fmt.Printf("Job ID: %s\n", job.ID)
	fmt.Printf("  Owner: %s\n", job.OwnerID)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Input: %s\n", job.InputRef)
	if job.OutputRef != "" {
		fmt.Printf("  Output: %s\n", job.OutputRef)
	}
	fmt.Printf("  Estimate: %s\n", formatEstimate(job.DurationEstimateMS))
	if job.ExecutorHandle != "" {
		fmt.Printf("  Executor handle: %s\n", job.ExecutorHandle)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("  Error: %s\n", job.ErrorMessage)
	}
	if job.RetryCount > 0 {
		fmt.Printf("  Retries: %d\n", job.RetryCount)
	}
	fmt.Printf("\n")

	fmt.Printf("Created: %s\n", job.CreatedAt.Format("2006-01-02 15:04:05"))
	if job.ProcessStartedAt != nil {
		fmt.Printf("Started: %s\n", job.ProcessStartedAt.Format("2006-01-02 15:04:05"))
	}
	if job.ProcessEndedAt != nil {
		fmt.Printf("Ended: %s\n", job.ProcessEndedAt.Format("2006-01-02 15:04:05"))
	}

	// For in-flight jobs, show the deadline the sweeper will enforce.
	if job.Status.IsInFlight() {
		if cfg, err := config.Load(); err == nil {
			deadline := job.Deadline(schedulerLimits(cfg))
			fmt.Printf("Times out: %s\n", deadline.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

func runJobsTransition(jobID string, requested sched.Status, verb string) error {
	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	validator := sched.NewValidator(store, logger.Named("transition"))
	status, err := validator.ApplyUserTransition(context.Background(), jobID, requested)
	if err != nil {
		return err
	}

	fmt.Printf("Job %s %s (status: %s)\n", jobID, verb, status)
	return nil
}

func runJobsStats() error {
	store, database, err := openStore()
	if err != nil {
		return err
	}
	defer database.Close()

	ctx := context.Background()
	fmt.Println("Queue statistics:")
	total := 0
	for _, status := range []sched.Status{
		sched.StatusQueued, sched.StatusLaunched, sched.StatusProcessing,
		sched.StatusCompleted, sched.StatusFailed, sched.StatusCanceled,
	} {
		count, err := store.CountByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("failed to count %s jobs: %w", status, err)
		}
		fmt.Printf("  %-12s %d\n", status, count)
		total += count
	}
	fmt.Printf("  %-12s %d\n", "total", total)
	return nil
}

// truncate shortens a string to max characters.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// formatEstimate renders a millisecond audio-duration estimate.
func formatEstimate(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	seconds := ms / 1000
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	return fmt.Sprintf("%dm%02ds", seconds/60, seconds%60)
}
