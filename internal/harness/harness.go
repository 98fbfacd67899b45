package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/curation"
	"github.com/roach88/catsync/internal/merge"
	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/store"
	"github.com/roach88/catsync/internal/syncer"
	"github.com/roach88/catsync/internal/testutil"
	"github.com/roach88/catsync/internal/upstream"
)

// Harness holds the wired components of one scenario run.
type Harness struct {
	dir         string
	store       *store.Store
	tracker     *checkpoint.Tracker
	coordinator *syncer.Coordinator
	curation    *curation.Service
	transformer *upstream.FileTransformer
	// names maps $name references to ids of records created by the scenario.
	names map[string]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database and a temporary
// upstream directory. Deterministic helpers ensure reproducible traces.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "catsync-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create upstream dir: %w", err)
	}
	defer os.RemoveAll(dir)
	// An empty log is a valid upstream with no revisions.
	if err := os.WriteFile(filepath.Join(dir, "history.yaml"), []byte("revisions: []\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to create history: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := newHarness(dir, st)
	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	events, err := st.QueryEvents(ctx, audit.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read audit trail: %w", err)
	}
	for _, ev := range events {
		result.Trace = append(result.Trace, traceEvent(ev))
	}

	for _, msg := range h.evaluateAssertions(ctx, scenario.Assertions, events) {
		result.AddError(msg)
	}
	return result, nil
}

func newHarness(dir string, st *store.Store) *Harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	correlation := testutil.NewSequenceGenerator("corr")

	applier := merge.NewApplier(st,
		merge.WithClock(testutil.NewStepClock(testutil.DefaultEpoch, 0)),
		merge.WithIDGenerator(testutil.NewSequenceGenerator("ev")),
		merge.WithLogger(logger))
	tracker := checkpoint.NewTracker(st)
	transformer := upstream.NewFileTransformer(filepath.Join(dir, "records"))
	lister := upstream.NewLister(upstream.NewFileHistory(filepath.Join(dir, "history.yaml")), logger)

	return &Harness{
		dir:     dir,
		store:   st,
		tracker: tracker,
		// One worker keeps the order of event ids stable.
		coordinator: syncer.New(tracker, lister, transformer, applier, correlation,
			syncer.Config{Workers: 1, QueueDepth: 1, Actor: "importer"}, logger),
		curation:    curation.NewService(applier, correlation, logger),
		transformer: transformer,
		names:       map[string]string{},
	}
}

// executeStep runs one step. Mismatched expectations are recorded in
// result; only harness failures are returned.
func (h *Harness) executeStep(ctx context.Context, i int, step Step, result *Result) error {
	var (
		stepErr error
		report  *syncer.Report
	)
	switch {
	case step.Upstream != nil:
		return h.publish(step.Upstream)
	case step.Sync != nil:
		report, stepErr = h.coordinator.Run(ctx, step.Sync.Type, step.Sync.Force)
		if report != nil {
			result.Reports = append(result.Reports, report)
		}
	case step.Curate != nil:
		stepErr = h.curate(ctx, step.Curate)
	}

	expect := step.Expect
	if expect == nil {
		expect = &StepExpect{}
	}
	got := string(record.CodeOf(stepErr))
	if stepErr != nil && got == "" {
		got = stepErr.Error()
	}
	if got != expect.Error {
		result.AddError(fmt.Sprintf("steps[%d]: expected error %q, got %q", i, expect.Error, got))
	}
	if report != nil {
		for _, msg := range checkReport(report, expect) {
			result.AddError(fmt.Sprintf("steps[%d]: %s", i, msg))
		}
	}
	return nil
}

// publish writes the revision's candidate documents and appends it to the
// revision log.
func (h *Harness) publish(u *UpstreamStep) error {
	changes := map[record.Type][]string{}
	for t, cands := range u.Records {
		for _, c := range cands {
			c.Type = t
			data, err := yaml.Marshal(c)
			if err != nil {
				return fmt.Errorf("encode candidate %s: %w", c.ID, err)
			}
			path := h.transformer.Path(t, c.ID)
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			changes[t] = append(changes[t], c.ID)
		}
	}
	for t, ids := range u.Touch {
		changes[t] = append(changes[t], ids...)
	}
	return upstream.AppendRevision(filepath.Join(h.dir, "history.yaml"), upstream.Revision{Cursor: u.Cursor, Changes: changes})
}

func (h *Harness) curate(ctx context.Context, c *CurateStep) error {
	req := curation.Request{Actor: c.Actor, ExpectedEditVersion: c.EditVersion}
	id := h.resolve(c.ID)

	var err error
	switch c.Op {
	case OpCreate:
		var fields record.Fields
		for name, value := range c.Fields {
			if err := fields.Set(name, value); err != nil {
				return fmt.Errorf("create fields: %w", err)
			}
		}
		var res curation.Result
		res, err = h.curation.Create(ctx, c.Type, fields, req)
		if err == nil && c.As != "" {
			h.names[c.As] = res.Record.ID
		}
	case OpEdit:
		_, err = h.curation.Edit(ctx, id, curation.Patch(c.Fields), req)
	case OpWithdraw:
		_, err = h.curation.Withdraw(ctx, id, req)
	case OpMerge:
		_, err = h.curation.MarkDuplicate(ctx, id, h.resolve(c.Target), req)
	case OpRestore:
		_, err = h.curation.Restore(ctx, id, req)
	case OpReset:
		_, err = h.curation.ResetCuration(ctx, id, req)
	}
	return err
}

// resolve maps "$name" to the id of a record created with as: name.
func (h *Harness) resolve(ref string) string {
	if name, ok := strings.CutPrefix(ref, "$"); ok {
		return h.names[name]
	}
	return ref
}

func checkReport(r *syncer.Report, expect *StepExpect) []string {
	counters := map[string]int{
		"created":    r.Created,
		"updated":    r.Updated,
		"skipped":    r.Skipped,
		"withdrawn":  r.Withdrawn,
		"duplicated": r.Duplicated,
		"errors":     len(r.Errors),
		"warnings":   len(r.Warnings),
	}
	var msgs []string
	for name, want := range expect.Report {
		got, ok := counters[name]
		if !ok {
			got = r.Results[record.Result(name)]
		}
		if got != want {
			msgs = append(msgs, fmt.Sprintf("report.%s: expected %d, got %d", name, want, got))
		}
	}
	if expect.Advanced != nil && *expect.Advanced != r.CheckpointAdvanced {
		msgs = append(msgs, fmt.Sprintf("checkpoint advanced: expected %v, got %v", *expect.Advanced, r.CheckpointAdvanced))
	}
	return msgs
}
