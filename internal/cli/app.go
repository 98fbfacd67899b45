package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/config"
	"github.com/roach88/catsync/internal/curation"
	"github.com/roach88/catsync/internal/merge"
	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/store"
	"github.com/roach88/catsync/internal/syncer"
	"github.com/roach88/catsync/internal/upstream"
)

// app is the wired object graph shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	publisher audit.Publisher
	tracker   *checkpoint.Tracker
	applier   *merge.Applier
}

// openApp loads the config, configures logging and opens the store.
// Callers must call close.
func openApp(opts *RootOptions) (*app, error) {
	cfg, err := config.Load(opts.Config, opts.EnvFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.Path = opts.Database
	}
	if err := config.Validate(cfg); err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger := newLogger(cfg.Log, opts.Verbose)
	slog.SetDefault(logger)

	logger.Debug("opening database", "path", cfg.Store.Path)
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	var publisher audit.Publisher = audit.NopPublisher{}
	if cfg.Kafka.Enabled() {
		kp, err := audit.NewKafkaPublisher(audit.KafkaConfig{
			Brokers:  cfg.Kafka.Brokers,
			Topic:    cfg.Kafka.Topic,
			Username: cfg.Kafka.Username,
			Password: cfg.Kafka.Password,
			TLS:      cfg.Kafka.TLS,
			Timeout:  time.Duration(cfg.Kafka.TimeoutMs) * time.Millisecond,
		})
		if err != nil {
			st.Close()
			return nil, WrapExitError(ExitCommandError, "failed to configure audit stream", err)
		}
		publisher = kp
		logger.Info("audit stream enabled", "topic", cfg.Kafka.Topic, "brokers", strings.Join(cfg.Kafka.Brokers, ","))
	}

	applier := merge.NewApplier(st,
		merge.WithPublisher(publisher),
		merge.WithMaxRetries(cfg.Sync.MaxRetries),
		merge.WithLogger(logger))

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		publisher: publisher,
		tracker:   checkpoint.NewTracker(st),
		applier:   applier,
	}, nil
}

func (a *app) close() {
	if err := a.publisher.Close(); err != nil {
		a.logger.Error("error closing audit stream", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}

func (a *app) coordinator() *syncer.Coordinator {
	history := upstream.NewFileHistory(a.cfg.Upstream.History)
	return syncer.New(a.tracker,
		upstream.NewLister(history, a.logger),
		upstream.NewFileTransformer(a.cfg.Upstream.Records),
		a.applier,
		audit.UUIDv7Generator{},
		syncer.Config{
			Workers:    a.cfg.Sync.Workers,
			QueueDepth: a.cfg.Sync.QueueDepth,
			Actor:      a.cfg.Sync.ImporterActor,
		},
		a.logger)
}

func (a *app) curation() *curation.Service {
	return curation.NewService(a.applier, audit.UUIDv7Generator{}, a.logger)
}

// newLogger builds the process logger. --verbose forces debug.
func newLogger(conf config.LogConf, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(conf.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	hopts := &slog.HandlerOptions{Level: level}
	if conf.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// parseTypes maps type arguments to record types; none means all.
func parseTypes(args []string) ([]record.Type, error) {
	if len(args) == 0 {
		return record.Types, nil
	}
	types := make([]record.Type, 0, len(args))
	for _, arg := range args {
		t, err := record.ParseType(arg)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid record type", err)
		}
		types = append(types, t)
	}
	return types, nil
}

func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

func errorCode(err error) string {
	if code := record.CodeOf(err); code != "" {
		return string(code)
	}
	return "ERROR"
}
