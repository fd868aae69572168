package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/voxhall/scribeq/errors"
)

// createBackup creates rotating backups (.back1, .back2, .back3) before
// modifying a config file.
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil // No file to backup
	}

	// Rotate: .back3 -> delete, .back2 -> .back3, .back1 -> .back2, current -> .back1
	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to delete oldest backup")
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}

	if err := os.WriteFile(back1, content, 0o644); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}

// Save writes the config to the given path with rotating backups.
// The write is marked as our own so the watcher does not reload it.
func Save(c *Config, configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	out := map[string]interface{}{
		"database": map[string]interface{}{
			"path": c.Database.Path,
		},
		"scheduler": map[string]interface{}{
			"max_processing_jobs":    c.Scheduler.MaxProcessingJobs,
			"base_timeout_seconds":   c.Scheduler.BaseTimeoutSeconds,
			"timeout_multiplier":     c.Scheduler.TimeoutMultiplier,
			"sweep_interval_seconds": c.Scheduler.SweepIntervalSeconds,
		},
		"executor": map[string]interface{}{
			"base_url":           c.Executor.BaseURL,
			"image":              c.Executor.Image,
			"cpu_millis":         c.Executor.CPUMillis,
			"memory_mib":         c.Executor.MemoryMiB,
			"accelerator":        c.Executor.Accelerator,
			"submits_per_minute": c.Executor.SubmitsPerMinute,
			"timeout_seconds":    c.Executor.TimeoutSeconds,
		},
		"notify": map[string]interface{}{
			"stream_url": c.Notify.StreamURL,
		},
	}

	data, err := toml.Marshal(out)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	globalWatcherMu.Lock()
	if globalWatcher != nil {
		globalWatcher.MarkOwnWrite()
	}
	globalWatcherMu.Unlock()

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}
