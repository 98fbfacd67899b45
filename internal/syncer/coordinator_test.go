package syncer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/merge"
	"github.com/roach88/catsync/internal/record"
	"github.com/roach88/catsync/internal/store"
	"github.com/roach88/catsync/internal/testutil"
	"github.com/roach88/catsync/internal/upstream"
)

type fixture struct {
	t         *testing.T
	dir       string
	store     *store.Store
	tracker   *checkpoint.Tracker
	clock     *testutil.StepClock
	events    *testutil.SequenceGenerator
	revisions []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return &fixture{
		t:       t,
		dir:     dir,
		store:   s,
		tracker: checkpoint.NewTracker(s),
		clock:   testutil.NewStepClock(time.Time{}, time.Second),
		events:  testutil.NewSequenceGenerator("ev"),
	}
}

// revision appends a revision touching the given work ids and writes each
// candidate document.
func (f *fixture) revision(cursor string, docs map[string]string) {
	f.t.Helper()
	ids := make([]string, 0, len(docs))
	for id, doc := range docs {
		ids = append(ids, id)
		path := filepath.Join(f.dir, "records", "work", id+".yaml")
		require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(f.t, os.WriteFile(path, []byte(doc), 0o644))
	}
	f.revisions = append(f.revisions, fmt.Sprintf("  - cursor: %s\n    changes:\n      work: [%s]\n", cursor, strings.Join(ids, ", ")))
	history := "revisions:\n" + strings.Join(f.revisions, "")
	require.NoError(f.t, os.WriteFile(filepath.Join(f.dir, "history.yaml"), []byte(history), 0o644))
}

// coordinator builds a Coordinator over the fixture's store. Coordinators
// from one fixture share the clock and event ids, as they would in one
// process.
func (f *fixture) coordinator(tr upstream.Transformer) *Coordinator {
	if tr == nil {
		tr = upstream.NewFileTransformer(filepath.Join(f.dir, "records"))
	}
	applier := merge.NewApplier(f.store, merge.WithClock(f.clock), merge.WithIDGenerator(f.events))
	lister := upstream.NewLister(upstream.NewFileHistory(filepath.Join(f.dir, "history.yaml")), nil)
	return New(f.tracker, lister, tr, applier, testutil.NewSequenceGenerator("pass"),
		Config{Workers: 3, QueueDepth: 2, Actor: "importer"}, nil)
}

func (f *fixture) checkpoint() *checkpoint.Checkpoint {
	f.t.Helper()
	cp, err := f.tracker.Load(context.Background(), record.TypeWork)
	require.NoError(f.t, err)
	return cp
}

func label(s string) string {
	return fmt.Sprintf("fields:\n  prefLabel_bo: %q\n", s)
}

func TestRun_FirstPassIsFullAndAdvancesCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"W1": label("one"), "W2": label("two")})

	report, err := f.coordinator(nil).Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	assert.True(t, report.Full)
	assert.Equal(t, upstream.ReasonNoCheckpoint, report.Reason)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, "r1", report.To)
	assert.Equal(t, "pass-0001", report.CorrelationID)
	assert.True(t, report.CheckpointAdvanced)

	cp := f.checkpoint()
	require.NotNil(t, cp)
	assert.Equal(t, "r1", cp.LastSourceCursor)

	events, err := f.store.QueryEvents(context.Background(), audit.Filter{CorrelationID: "pass-0001"})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRun_IncrementalPassVisitsOnlyChangedRecords(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"W1": label("one"), "W2": label("two")})
	c := f.coordinator(nil)

	_, err := c.Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	f.revision("r2", map[string]string{"W2": label("two v2"), "W3": label("three")})
	report, err := c.Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	assert.False(t, report.Full)
	assert.Equal(t, "r1", report.From)
	assert.Equal(t, "r2", report.To)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 2, report.Processed())

	// nothing new: empty delta, checkpoint stays on r2
	report, err = c.Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Processed())
	assert.Equal(t, "r2", f.checkpoint().LastSourceCursor)
}

func TestRun_ForceRevisitsEverything(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"W1": label("one"), "W2": label("two")})
	c := f.coordinator(nil)

	_, err := c.Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	report, err := c.Run(context.Background(), record.TypeWork, true)
	require.NoError(t, err)
	assert.True(t, report.Full)
	assert.Equal(t, upstream.ReasonForced, report.Reason)
	assert.Equal(t, 2, report.Updated)

	// the re-import changed nothing, so no new events
	events, err := f.store.QueryEvents(context.Background(), audit.Filter{EntityType: record.TypeWork})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestRun_PerRecordErrorsDoNotAbort(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{
		"W1": label("one"),
		"W2": "fields:\n  db_score: -4\n",
		"W3": "status: duplicate\n",
	})

	report, err := f.coordinator(nil).Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, "W2", report.Errors[0].RecordID)
	assert.Equal(t, record.ErrCodeInvalidCandidate, report.Errors[0].Code)
	assert.Equal(t, "W3", report.Errors[1].RecordID)
	assert.True(t, report.CheckpointAdvanced)
}

func TestRun_LifecycleBucketsAndWarnings(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"WA1": label("canonical"), "WA2": label("dup"), "WA3": label("gone")})
	c := f.coordinator(nil)
	_, err := c.Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	f.revision("r2", map[string]string{
		"WA2": "status: duplicate\nreplaced_by: WA1\nfields:\n  prefLabel_bo: dup\n",
		"WA3": "status: withdrawn\n",
		"WA4": "status: withdrawn\n",
		"WA5": "status: duplicate\nreplaced_by: WA9\n",
	})
	report, err := c.Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Duplicated)
	assert.Equal(t, 1, report.Withdrawn)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Results[record.ResultSkippedWithdrawn])
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "WA5", report.Warnings[0].RecordID)

	wa2, err := f.store.GetRecord(context.Background(), "WA2")
	require.NoError(t, err)
	assert.Equal(t, record.StatusDuplicate, wa2.Status)
	assert.Equal(t, "WA1", wa2.CanonicalID)

	_, err = f.store.GetRecord(context.Background(), "WA4")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// failingTransformer simulates an unreadable upstream for one id.
type failingTransformer struct {
	upstream.Transformer
	failID string
}

func (f failingTransformer) Transform(ctx context.Context, t record.Type, id string) (record.Candidate, error) {
	if id == f.failID {
		return record.Candidate{}, errors.New("permission denied")
	}
	return f.Transformer.Transform(ctx, t, id)
}

func TestRun_FatalErrorLeavesCheckpointUntouched(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"W1": label("one")})
	_, err := f.coordinator(nil).Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)
	before := f.checkpoint()

	f.revision("r2", map[string]string{"W2": label("two"), "W3": label("three")})
	tr := failingTransformer{Transformer: upstream.NewFileTransformer(filepath.Join(f.dir, "records")), failID: "W3"}
	report, err := f.coordinator(tr).Run(context.Background(), record.TypeWork, false)
	require.Error(t, err)
	assert.ErrorContains(t, err, "upstream unreadable")
	assert.ErrorContains(t, err, "permission denied")
	assert.Empty(t, record.CodeOf(err))
	assert.False(t, report.CheckpointAdvanced)

	assert.Equal(t, before, f.checkpoint())
}

func TestRun_CancelledPassLeavesCheckpointUntouched(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"W1": label("one"), "W2": label("two")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.coordinator(nil).Run(ctx, record.TypeWork, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, f.checkpoint())
}

func TestRun_CheckpointNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	c := f.coordinator(nil)

	var prev *checkpoint.Checkpoint
	for i := 1; i <= 4; i++ {
		f.revision(fmt.Sprintf("r%d", i), map[string]string{fmt.Sprintf("W%d", i): label("x")})
		_, err := c.Run(context.Background(), record.TypeWork, false)
		require.NoError(t, err)

		cp := f.checkpoint()
		require.NotNil(t, cp)
		assert.Equal(t, fmt.Sprintf("r%d", i), cp.LastSourceCursor)
		if prev != nil {
			assert.False(t, cp.CompletedAt.Before(prev.CompletedAt))
		}
		prev = cp
	}
}

// blockingTransformer holds the first pass open until released.
type blockingTransformer struct {
	upstream.Transformer
	started chan struct{}
	release chan struct{}
}

func (b *blockingTransformer) Transform(ctx context.Context, t record.Type, id string) (record.Candidate, error) {
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return b.Transformer.Transform(ctx, t, id)
}

func TestRun_RejectsConcurrentPassForSameType(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"W1": label("one")})
	tr := &blockingTransformer{
		Transformer: upstream.NewFileTransformer(filepath.Join(f.dir, "records")),
		started:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	c := f.coordinator(tr)

	done := make(chan error, 1)
	go func() {
		_, err := c.Run(context.Background(), record.TypeWork, false)
		done <- err
	}()
	<-tr.started

	_, err := c.Run(context.Background(), record.TypeWork, false)
	assert.ErrorIs(t, err, ErrPassInProgress)

	close(tr.release)
	require.NoError(t, <-done)
}

func TestRun_OverlappingPassCannotRewindCheckpoint(t *testing.T) {
	f := newFixture(t)
	f.revision("r1", map[string]string{"W1": label("one")})
	_, err := f.coordinator(nil).Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)

	// the slow pass reads checkpoint r1 and head r2, then stalls
	f.revision("r2", map[string]string{"W2": label("two")})
	tr := &blockingTransformer{
		Transformer: upstream.NewFileTransformer(filepath.Join(f.dir, "records")),
		started:     make(chan struct{}, 1),
		release:     make(chan struct{}),
	}
	type result struct {
		report *Report
		err    error
	}
	done := make(chan result, 1)
	go func() {
		report, err := f.coordinator(tr).Run(context.Background(), record.TypeWork, false)
		done <- result{report, err}
	}()
	<-tr.started

	// a second coordinator completes a pass up to r3 meanwhile
	f.revision("r3", map[string]string{"W3": label("three")})
	_, err = f.coordinator(nil).Run(context.Background(), record.TypeWork, false)
	require.NoError(t, err)
	assert.Equal(t, "r3", f.checkpoint().LastSourceCursor)

	close(tr.release)
	slow := <-done
	require.Error(t, slow.err)
	assert.ErrorIs(t, slow.err, checkpoint.ErrMoved)
	assert.False(t, record.IsStoreUnavailable(slow.err))
	assert.False(t, slow.report.CheckpointAdvanced)

	assert.Equal(t, "r3", f.checkpoint().LastSourceCursor)
}
