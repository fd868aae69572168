package config

import "github.com/voxhall/scribeq/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// The concurrency ceiling must admit at least one job or the queue
	// can never drain.
	if c.Scheduler.MaxProcessingJobs < 1 {
		return errors.Newf("scheduler.max_processing_jobs must be >= 1, got %d", c.Scheduler.MaxProcessingJobs)
	}

	if c.Scheduler.BaseTimeoutSeconds <= 0 {
		return errors.Newf("scheduler.base_timeout_seconds must be > 0, got %d", c.Scheduler.BaseTimeoutSeconds)
	}

	// A multiplier below 1.0 would give jobs less wall time than their
	// own audio duration.
	if c.Scheduler.TimeoutMultiplier < 1.0 {
		return errors.Newf("scheduler.timeout_multiplier must be >= 1.0, got %f", c.Scheduler.TimeoutMultiplier)
	}

	// Sweep interval: 0 = no periodic sweeping (read-path sweeps only), negative = invalid
	if c.Scheduler.SweepIntervalSeconds < 0 {
		return errors.Newf("scheduler.sweep_interval_seconds must be >= 0, got %d", c.Scheduler.SweepIntervalSeconds)
	}

	if c.Executor.BaseURL == "" {
		return errors.New("executor.base_url cannot be empty")
	}
	if c.Executor.Image == "" {
		return errors.New("executor.image cannot be empty")
	}
	if c.Executor.CPUMillis <= 0 {
		return errors.Newf("executor.cpu_millis must be > 0, got %d", c.Executor.CPUMillis)
	}
	if c.Executor.MemoryMiB <= 0 {
		return errors.Newf("executor.memory_mib must be > 0, got %d", c.Executor.MemoryMiB)
	}

	// Submission rate: 0 = unlimited, negative = invalid
	if c.Executor.SubmitsPerMinute < 0 {
		return errors.Newf("executor.submits_per_minute must be >= 0, got %d", c.Executor.SubmitsPerMinute)
	}
	if c.Executor.TimeoutSeconds <= 0 {
		return errors.Newf("executor.timeout_seconds must be > 0, got %d", c.Executor.TimeoutSeconds)
	}

	return nil
}
