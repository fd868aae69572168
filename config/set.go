package config

import (
	"strconv"

	"github.com/voxhall/scribeq/errors"
)

// SetKey applies a dot-notation key to the config, parsing the value
// to the key's type. Unknown keys are rejected so a typo cannot write
// a config the loader would silently ignore.
func SetKey(c *Config, key, value string) error {
	switch key {
	case "database.path":
		c.Database.Path = value
	case "scheduler.max_processing_jobs":
		return setInt(&c.Scheduler.MaxProcessingJobs, key, value)
	case "scheduler.base_timeout_seconds":
		return setInt(&c.Scheduler.BaseTimeoutSeconds, key, value)
	case "scheduler.timeout_multiplier":
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid value for %s", key)
		}
		c.Scheduler.TimeoutMultiplier = parsed
	case "scheduler.sweep_interval_seconds":
		return setInt(&c.Scheduler.SweepIntervalSeconds, key, value)
	case "executor.base_url":
		c.Executor.BaseURL = value
	case "executor.image":
		c.Executor.Image = value
	case "executor.cpu_millis":
		return setInt(&c.Executor.CPUMillis, key, value)
	case "executor.memory_mib":
		return setInt(&c.Executor.MemoryMiB, key, value)
	case "executor.accelerator":
		c.Executor.Accelerator = value
	case "executor.submits_per_minute":
		return setInt(&c.Executor.SubmitsPerMinute, key, value)
	case "executor.timeout_seconds":
		return setInt(&c.Executor.TimeoutSeconds, key, value)
	case "notify.stream_url":
		c.Notify.StreamURL = value
	default:
		return errors.Newf("unknown config key %q", key)
	}
	return nil
}

func setInt(target *int, key, value string) error {
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return errors.Wrapf(err, "invalid value for %s", key)
	}
	*target = parsed
	return nil
}
