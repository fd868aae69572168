// Package config holds the scribeq configuration surface: TOML files
// loaded through viper, with defaults, validation, live reload, and
// persistence.
package config

import "time"

// Config represents the scribeq configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

// DatabaseConfig configures the SQLite job record store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// SchedulerConfig configures admission and timeout sweeping.
// MaxProcessingJobs is the global concurrency ceiling: the number of
// jobs allowed in launched/processing simultaneously, across all
// scheduler replicas sharing the store.
type SchedulerConfig struct {
	MaxProcessingJobs    int     `mapstructure:"max_processing_jobs"`
	BaseTimeoutSeconds   int     `mapstructure:"base_timeout_seconds"`
	TimeoutMultiplier    float64 `mapstructure:"timeout_multiplier"`
	SweepIntervalSeconds int     `mapstructure:"sweep_interval_seconds"`
}

// SweepInterval returns the sweep interval as a duration.
func (c SchedulerConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// BaseTimeout returns the base run-time budget as a duration.
func (c SchedulerConfig) BaseTimeout() time.Duration {
	return time.Duration(c.BaseTimeoutSeconds) * time.Second
}

// ExecutorConfig configures batch executor submissions. The resource
// shape is static configuration, not derived from job attributes.
type ExecutorConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	Image            string `mapstructure:"image"`
	CPUMillis        int    `mapstructure:"cpu_millis"`
	MemoryMiB        int    `mapstructure:"memory_mib"`
	Accelerator      string `mapstructure:"accelerator"` // empty = none
	SubmitsPerMinute int    `mapstructure:"submits_per_minute"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"` // HTTP client timeout for the submit call
}

// NotifyConfig configures the completion event stream consumer
type NotifyConfig struct {
	StreamURL string `mapstructure:"stream_url"` // ws:// or wss:// event stream; empty = disabled
}
