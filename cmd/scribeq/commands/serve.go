package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/voxhall/scribeq/config"
	"github.com/voxhall/scribeq/db"
	"github.com/voxhall/scribeq/executor"
	"github.com/voxhall/scribeq/logger"
	"github.com/voxhall/scribeq/sched"
)

// ServeCmd runs the scheduler daemon.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	Long: `Run the scheduler daemon in foreground mode.

The daemon will:
- Admit queued jobs under the processing-slot ceiling
- Dispatch admitted jobs to the batch executor
- Consume the executor's completion event stream
- Sweep timed-out jobs on a fixed interval
- Pick up config changes without a restart
- Run until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFromFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		log := logger.Named("serve")

		dbPath := cfg.Database.Path
		if envPath := os.Getenv("DB_PATH"); envPath != "" {
			dbPath = envPath
		}
		database, err := db.OpenWithMigrations(dbPath, logger.Named("db"))
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer database.Close()

		client := executor.NewClient(cfg.Executor.BaseURL,
			time.Duration(cfg.Executor.TimeoutSeconds)*time.Second,
			logger.Named("executor"))

		svc := sched.NewService(sched.ServiceConfig{
			DB:       database,
			Executor: client,
			Dispatcher: sched.DispatcherConfig{
				Image:            cfg.Executor.Image,
				CPUMillis:        cfg.Executor.CPUMillis,
				MemoryMiB:        cfg.Executor.MemoryMiB,
				Accelerator:      cfg.Executor.Accelerator,
				SubmitsPerMinute: cfg.Executor.SubmitsPerMinute,
			},
			Limits:        schedulerLimits(cfg),
			SweepInterval: cfg.Scheduler.SweepInterval(),
		}, logger.Named("sched"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		svc.StartSweeper(ctx)

		var listener *executor.Listener
		if cfg.Notify.StreamURL != "" {
			handler := svc.CompletionHandler(nil)
			listener = executor.NewListener(cfg.Notify.StreamURL, handler, logger.Named("listener"))
			listener.Start(ctx)
		} else {
			log.Warnw("No event stream configured; relying on timeout sweeps alone")
		}

		watcher := startConfigWatcher(configPath, svc, log)

		// Drain anything queued before this process started.
		svc.FillSlots(ctx)

		fmt.Println("scribeq scheduler started")
		fmt.Printf("  Database: %s\n", dbPath)
		fmt.Printf("  Processing slots: %d\n", cfg.Scheduler.MaxProcessingJobs)
		fmt.Printf("  Sweep interval: %v\n", cfg.Scheduler.SweepInterval())
		fmt.Printf("  Executor: %s\n", cfg.Executor.BaseURL)
		fmt.Println("\nPress Ctrl+C for graceful shutdown")

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		fmt.Println("\nShutting down...")

		// Stop components in reverse order of startup.
		if watcher != nil {
			watcher.Stop()
		}
		if listener != nil {
			listener.Stop()
		}
		svc.StopSweeper()
		cancel()

		fmt.Println("scribeq scheduler stopped")
		return nil
	},
}

func init() {
	ServeCmd.Flags().String("config", "", "Path to a config file (overrides the config cascade)")
}

// schedulerLimits converts config into live scheduler limits.
func schedulerLimits(cfg *config.Config) sched.Limits {
	return sched.Limits{
		MaxProcessingJobs: cfg.Scheduler.MaxProcessingJobs,
		BaseTimeout:       cfg.Scheduler.BaseTimeout(),
		TimeoutMultiplier: cfg.Scheduler.TimeoutMultiplier,
	}
}

// startConfigWatcher wires config file changes to the live scheduler
// limits. Returns nil when no config file exists to watch.
func startConfigWatcher(configPath string, svc *sched.Service, log *zap.SugaredLogger) *config.Watcher {
	if configPath == "" {
		configPath = config.FindConfigPath()
	}
	if configPath == "" {
		return nil
	}

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		log.Warnw("Config watching disabled", "error", err)
		return nil
	}

	watcher.OnReload(func(newCfg *config.Config) error {
		if err := newCfg.Validate(); err != nil {
			return err
		}
		svc.UpdateLimits(schedulerLimits(newCfg))
		return nil
	})
	watcher.Start()
	config.SetGlobalWatcher(watcher)
	log.Infow("Watching config file", "path", configPath)
	return watcher
}
