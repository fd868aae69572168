package config

import "github.com/spf13/viper"

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "scribeq.db")

	// Scheduler defaults
	v.SetDefault("scheduler.max_processing_jobs", 4)
	v.SetDefault("scheduler.base_timeout_seconds", 300) // 5 minute floor
	v.SetDefault("scheduler.timeout_multiplier", 2.0)   // 2x the estimated audio duration
	v.SetDefault("scheduler.sweep_interval_seconds", 30)

	// Executor defaults
	v.SetDefault("executor.base_url", "http://localhost:8400")
	v.SetDefault("executor.image", "scribeq/transcribe-worker:latest")
	v.SetDefault("executor.cpu_millis", 4000)
	v.SetDefault("executor.memory_mib", 8192)
	v.SetDefault("executor.accelerator", "")
	v.SetDefault("executor.submits_per_minute", 30)
	v.SetDefault("executor.timeout_seconds", 30)

	// Notification stream defaults (empty = listener disabled)
	v.SetDefault("notify.stream_url", "")
}
