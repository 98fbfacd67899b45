package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultStorePath       = "catsync.db"
	DefaultHistory         = "upstream/history.yaml"
	DefaultRecords         = "upstream/records"
	DefaultWatchDebounceMs = 500
	DefaultWorkers         = 4
	DefaultQueueDepth      = 256
	DefaultMaxRetries      = 5
	DefaultImporterActor   = "importer"
	DefaultHTTPAddr        = ":8080"
	DefaultKafkaTopic      = "catsync.audit"
	DefaultKafkaTimeoutMs  = 5000
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
)

// Load reads the YAML file at path (optional: "" or a missing file yields
// defaults), then overlays variables from envFile (optional) and the process
// environment. Process variables win over the .env file.
func Load(path, envFile string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	dotenv := map[string]string{}
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		default:
			dotenv = m
		}
	}

	if err := applyEnv(&cfg, func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("CATSYNC_DB", &cfg.Store.Path)
	str("CATSYNC_UPSTREAM_HISTORY", &cfg.Upstream.History)
	str("CATSYNC_UPSTREAM_RECORDS", &cfg.Upstream.Records)
	num("CATSYNC_WATCH_DEBOUNCE_MS", &cfg.Upstream.WatchDebounceMs)
	num("CATSYNC_SYNC_WORKERS", &cfg.Sync.Workers)
	num("CATSYNC_SYNC_QUEUE_DEPTH", &cfg.Sync.QueueDepth)
	num("CATSYNC_MAX_RETRIES", &cfg.Sync.MaxRetries)
	str("CATSYNC_IMPORTER_ACTOR", &cfg.Sync.ImporterActor)
	str("CATSYNC_HTTP_ADDR", &cfg.HTTP.Addr)
	if v, ok := lookup("CATSYNC_KAFKA_BROKERS"); ok && v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	str("CATSYNC_KAFKA_TOPIC", &cfg.Kafka.Topic)
	str("CATSYNC_KAFKA_USERNAME", &cfg.Kafka.Username)
	str("CATSYNC_KAFKA_PASSWORD", &cfg.Kafka.Password)
	flag("CATSYNC_KAFKA_TLS", &cfg.Kafka.TLS)
	num("CATSYNC_KAFKA_TIMEOUT_MS", &cfg.Kafka.TimeoutMs)
	str("CATSYNC_LOG_LEVEL", &cfg.Log.Level)
	str("CATSYNC_LOG_FORMAT", &cfg.Log.Format)

	if len(errs) > 0 {
		return fmt.Errorf("config environment: %w", errors.Join(errs...))
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Upstream.History == "" {
		cfg.Upstream.History = DefaultHistory
	}
	if cfg.Upstream.Records == "" {
		cfg.Upstream.Records = DefaultRecords
	}
	if cfg.Upstream.WatchDebounceMs == 0 {
		cfg.Upstream.WatchDebounceMs = DefaultWatchDebounceMs
	}
	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = DefaultWorkers
	}
	if cfg.Sync.QueueDepth == 0 {
		cfg.Sync.QueueDepth = DefaultQueueDepth
	}
	if cfg.Sync.MaxRetries == 0 {
		cfg.Sync.MaxRetries = DefaultMaxRetries
	}
	if cfg.Sync.ImporterActor == "" {
		cfg.Sync.ImporterActor = DefaultImporterActor
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.TimeoutMs == 0 {
		cfg.Kafka.TimeoutMs = DefaultKafkaTimeoutMs
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
