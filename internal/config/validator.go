package config

import (
	"fmt"
	"strings"
)

// Validate checks ranges and enumerations after defaults are applied.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Sync.Workers < 1 {
		errs = append(errs, fmt.Sprintf("sync.workers must be at least 1, got %d", cfg.Sync.Workers))
	}
	if cfg.Sync.QueueDepth < 1 {
		errs = append(errs, fmt.Sprintf("sync.queue_depth must be at least 1, got %d", cfg.Sync.QueueDepth))
	}
	if cfg.Sync.MaxRetries < 1 || cfg.Sync.MaxRetries > 20 {
		errs = append(errs, fmt.Sprintf("sync.max_retries must be between 1 and 20, got %d", cfg.Sync.MaxRetries))
	}
	if cfg.Upstream.WatchDebounceMs < 0 {
		errs = append(errs, "upstream.watch_debounce_ms must not be negative")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level must be one of debug, info, warn, error; got %q", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be text or json; got %q", cfg.Log.Format))
	}
	if cfg.Kafka.Enabled() && cfg.Kafka.Topic == "" {
		errs = append(errs, "kafka.topic is required when kafka.brokers is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
