// Package config loads catsync settings from a YAML file, overlaid by a
// .env file and the process environment (CATSYNC_* variables).
package config

import "time"

// Config is the top-level YAML structure.
type Config struct {
	Store    StoreConf    `yaml:"store"`
	Upstream UpstreamConf `yaml:"upstream"`
	Sync     SyncConf     `yaml:"sync"`
	HTTP     HTTPConf     `yaml:"http"`
	Kafka    KafkaConf    `yaml:"kafka"`
	Log      LogConf      `yaml:"log"`
}

// StoreConf locates the SQLite database.
type StoreConf struct {
	Path string `yaml:"path"`
}

// UpstreamConf locates the upstream revision log and candidate documents.
type UpstreamConf struct {
	History         string `yaml:"history"`
	Records         string `yaml:"records"`
	WatchDebounceMs int    `yaml:"watch_debounce_ms"`
}

// WatchDebounce returns the watcher debounce as a duration.
func (u UpstreamConf) WatchDebounce() time.Duration {
	return time.Duration(u.WatchDebounceMs) * time.Millisecond
}

// SyncConf holds tunable sync pass settings.
type SyncConf struct {
	Workers       int    `yaml:"workers"`
	QueueDepth    int    `yaml:"queue_depth"`
	MaxRetries    int    `yaml:"max_retries"`
	ImporterActor string `yaml:"importer_actor"`
}

// HTTPConf configures the curation API.
type HTTPConf struct {
	Addr string `yaml:"addr"`
}

// KafkaConf configures the audit stream. Publishing is disabled when no
// brokers are set.
type KafkaConf struct {
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Username  string   `yaml:"username"`
	Password  string   `yaml:"password"`
	TLS       bool     `yaml:"tls"`
	TimeoutMs int      `yaml:"timeout_ms"`
}

// Enabled reports whether an audit stream is configured.
func (k KafkaConf) Enabled() bool {
	return len(k.Brokers) > 0
}

// LogConf configures logging.
type LogConf struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
