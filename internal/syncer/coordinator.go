// Package syncer runs sync passes: it reads the checkpoint, lists the
// upstream records changed since it, imports each of them through the merge
// applier and advances the checkpoint only when every record was processed.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/merge"
	"github.com/roach88/catsync/internal/metrics"
	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/upstream"
)

// ErrPassInProgress is returned when a pass for the same record type is
// already running in this process.
var ErrPassInProgress = errors.New("sync pass already in progress")

// Config tunes a Coordinator.
type Config struct {
	Workers    int
	QueueDepth int
	Actor      string
}

// Coordinator orchestrates sync passes. It is safe for concurrent use;
// passes for different record types run independently.
type Coordinator struct {
	tracker     *checkpoint.Tracker
	lister      *upstream.Lister
	transformer upstream.Transformer
	applier     *merge.Applier
	correlation audit.IDGenerator
	cfg         Config
	logger      *slog.Logger

	mu      sync.Mutex
	running map[record.Type]bool
}

// New creates a Coordinator.
func New(tracker *checkpoint.Tracker, lister *upstream.Lister, transformer upstream.Transformer,
	applier *merge.Applier, correlation audit.IDGenerator, cfg Config, logger *slog.Logger) *Coordinator {
	if correlation == nil {
		correlation = audit.UUIDv7Generator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Actor == "" {
		cfg.Actor = "importer"
	}
	return &Coordinator{
		tracker:     tracker,
		lister:      lister,
		transformer: transformer,
		applier:     applier,
		correlation: correlation,
		cfg:         cfg,
		logger:      logger,
		running:     make(map[record.Type]bool),
	}
}

type recordOutcome struct {
	applied merge.Applied
	err     error
}

// Run performs one sync pass for record type t. force ignores the checkpoint
// and visits every known record.
//
// Per-record errors (invalid candidates, exhausted retries) are collected in
// the report and do not stop the pass. A fatal error (storage failure,
// unreadable upstream, cancellation) stops it and is returned together with
// the partial report; the checkpoint is then left untouched.
func (c *Coordinator) Run(ctx context.Context, t record.Type, force bool) (*Report, error) {
	if !c.acquire(t) {
		return nil, fmt.Errorf("%w: %s", ErrPassInProgress, t)
	}
	defer c.release(t)

	clock := c.applier.Clock()
	corrID := c.correlation.Generate()
	report := newReport(t, corrID, clock.Now())
	logger := c.logger.With("type", t, "correlation_id", corrID)
	timer := time.Now()

	err := c.run(ctx, t, force, report, logger)
	report.CompletedAt = clock.Now()
	metrics.SyncDuration.WithLabelValues(string(t)).Observe(time.Since(timer).Seconds())
	metrics.SyncBacklog.WithLabelValues(string(t)).Set(0)

	switch {
	case err == nil:
		metrics.SyncPasses.WithLabelValues(string(t), "ok").Inc()
		logger.Info("sync pass complete",
			"full", report.Full,
			"from", report.From,
			"to", report.To,
			"created", report.Created,
			"updated", report.Updated,
			"skipped", report.Skipped,
			"withdrawn", report.Withdrawn,
			"duplicated", report.Duplicated,
			"errors", len(report.Errors),
			"warnings", len(report.Warnings))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		metrics.SyncPasses.WithLabelValues(string(t), "cancelled").Inc()
		logger.Warn("sync pass cancelled, checkpoint not advanced", "processed", report.Processed())
	default:
		metrics.SyncPasses.WithLabelValues(string(t), "failed").Inc()
		logger.Error("sync pass failed, checkpoint not advanced", "processed", report.Processed(), "error", err)
	}
	return report, err
}

func (c *Coordinator) run(ctx context.Context, t record.Type, force bool, report *Report, logger *slog.Logger) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	prev, err := c.tracker.Load(ctx, t)
	if err != nil {
		return record.NewStoreUnavailable("", err)
	}

	changes, err := c.lister.ListChanged(ctx, t, prev, force)
	if err != nil {
		return fmt.Errorf("upstream unreadable: %w", err)
	}
	report.Full = changes.Full
	report.Reason = changes.Reason
	report.From = changes.From
	report.To = changes.Head
	logger.Info("sync pass started", "records", len(changes.IDs), "full", changes.Full, "reason", changes.Reason)

	if err := c.processAll(ctx, t, changes.IDs, report, logger); err != nil {
		return err
	}

	if changes.Head == "" {
		// empty upstream: nothing to advance to
		return nil
	}
	if _, err := c.tracker.Advance(ctx, prev, t, changes.Head, c.applier.Clock().Now()); err != nil {
		if errors.Is(err, checkpoint.ErrMoved) {
			// another pass for t finished first; its cursor stands
			return err
		}
		return record.NewStoreUnavailable("", err)
	}
	report.CheckpointAdvanced = true
	return nil
}

// processAll imports ids through the worker pool. The first fatal error
// cancels the remaining work and is returned.
func (c *Coordinator) processAll(ctx context.Context, t record.Type, ids []string, report *Report, logger *slog.Logger) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := newWorkerPool(ctx, c.cfg.Workers, c.cfg.QueueDepth, func(ctx context.Context, id string) (recordOutcome, error) {
		return c.processOne(ctx, t, id, report.CorrelationID)
	})

	go func() {
		defer pool.Drain()
		for _, id := range ids {
			if !pool.Submit(ctx, id) {
				return
			}
		}
	}()

	backlog := metrics.SyncBacklog.WithLabelValues(string(t))
	remaining := len(ids)
	backlog.Set(float64(remaining))

	var fatal error
	for res := range pool.Results() {
		remaining--
		backlog.Set(float64(remaining))

		if res.err != nil {
			if fatal == nil {
				fatal = res.err
				cancel()
			}
			continue
		}
		if fatal != nil {
			continue
		}
		c.collect(t, res.payload, res.value, report, logger)
	}

	if fatal != nil {
		return fatal
	}
	// Submit stops early on cancellation without producing results.
	if err := ctx.Err(); err != nil {
		return err
	}
	// workers finish in any order
	slices.SortFunc(report.Errors, func(a, b RecordError) int { return strings.Compare(a.RecordID, b.RecordID) })
	slices.SortFunc(report.Warnings, func(a, b lifecycle.Issue) int { return strings.Compare(a.RecordID, b.RecordID) })
	return nil
}

// processOne imports a single record. The returned error is fatal to the
// pass; per-record failures travel in the outcome.
func (c *Coordinator) processOne(ctx context.Context, t record.Type, id, corrID string) (recordOutcome, error) {
	if err := ctx.Err(); err != nil {
		return recordOutcome{}, err
	}
	cand, err := c.transformer.Transform(ctx, t, id)
	if err != nil {
		if record.IsInvalidCandidate(err) {
			return recordOutcome{err: err}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return recordOutcome{}, ctxErr
		}
		return recordOutcome{}, fmt.Errorf("upstream unreadable: %w", err)
	}

	applied, err := c.applier.Apply(ctx, cand, c.cfg.Actor, corrID)
	switch {
	case err == nil:
		return recordOutcome{applied: applied}, nil
	case record.IsInvalidCandidate(err), record.IsConcurrentModification(err):
		return recordOutcome{err: err}, nil
	default:
		return recordOutcome{}, err
	}
}

func (c *Coordinator) collect(t record.Type, id string, out recordOutcome, report *Report, logger *slog.Logger) {
	if out.err != nil {
		code := record.CodeOf(out.err)
		metrics.ImportErrors.WithLabelValues(string(t), string(code)).Inc()
		logger.Warn("record not imported", "record_id", id, "code", code, "error", out.err)
		report.fail(id, out.err)
		return
	}
	result := out.applied.Result
	metrics.ImportResults.WithLabelValues(string(t), string(result)).Inc()
	report.count(result)
	if out.applied.Warning != nil {
		report.Warnings = append(report.Warnings, *out.applied.Warning)
	}
	logger.Debug("record imported", "record_id", id, "result", result, "attempts", out.applied.Attempts)
}

func (c *Coordinator) acquire(t record.Type) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running[t] {
		return false
	}
	c.running[t] = true
	return true
}

func (c *Coordinator) release(t record.Type) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.running, t)
}
