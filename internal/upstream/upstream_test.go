package upstream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/checkpoint"
	"github.com/roach88/catsync/internal/record"
)

const testHistory = `
revisions:
  - cursor: r1
    at: 2024-01-01T00:00:00Z
    changes:
      work: [W3, W1]
      person: [P1]
  - cursor: r2
    at: 2024-01-02T00:00:00Z
    changes:
      work: [W2]
  - cursor: r3
    at: 2024-01-03T00:00:00Z
    changes:
      work: [W1, W4]
      person: [P2]
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestHistory(t *testing.T) *FileHistory {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history.yaml")
	writeFile(t, path, testHistory)
	return NewFileHistory(path)
}

func TestFileHistory(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	head, err := h.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r3", head)

	ok, err := h.Contains(ctx, "r2")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Contains(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)

	ids, err := h.ChangedBetween(ctx, record.TypeWork, "r1", "r3")
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2", "W4"}, ids)

	ids, err = h.ChangedBetween(ctx, record.TypeWork, "r3", "r3")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = h.ChangedBetween(ctx, record.TypeWork, "gone", "r3")
	assert.ErrorIs(t, err, ErrUnknownCursor)

	all, err := h.AllIDs(ctx, record.TypeWork)
	require.NoError(t, err)
	assert.Equal(t, []string{"W1", "W2", "W3", "W4"}, all)
}

func TestFileHistory_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	writeFile(t, path, "revisions:\n  - cursor: a\n  - cursor: a\n")

	_, err := NewFileHistory(path).Head(context.Background())
	assert.ErrorContains(t, err, "duplicate cursor")

	_, err = NewFileHistory(filepath.Join(t.TempDir(), "missing.yaml")).Head(context.Background())
	assert.Error(t, err)
}

func TestAppendRevision(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	ctx := context.Background()

	require.NoError(t, AppendRevision(path, Revision{Cursor: "r1", Changes: map[record.Type][]string{record.TypeWork: {"W1"}}}))
	require.NoError(t, AppendRevision(path, Revision{Cursor: "r2", Changes: map[record.Type][]string{record.TypeWork: {"W2"}}}))
	assert.Error(t, AppendRevision(path, Revision{Cursor: "r2"}))
	assert.Error(t, AppendRevision(path, Revision{}))

	h := NewFileHistory(path)
	head, err := h.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, "r2", head)

	ids, err := h.ChangedBetween(ctx, record.TypeWork, "r1", "r2")
	require.NoError(t, err)
	assert.Equal(t, []string{"W2"}, ids)
}

func TestLister_ListChanged(t *testing.T) {
	l := NewLister(newTestHistory(t), nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		watermark *checkpoint.Checkpoint
		force     bool
		wantIDs   []string
		wantFull  bool
		reason    string
	}{
		{
			name:     "no checkpoint",
			wantIDs:  []string{"W1", "W2", "W3", "W4"},
			wantFull: true,
			reason:   ReasonNoCheckpoint,
		},
		{
			name:      "delta after watermark",
			watermark: &checkpoint.Checkpoint{RecordType: record.TypeWork, LastSourceCursor: "r2"},
			wantIDs:   []string{"W1", "W4"},
		},
		{
			name:      "watermark at head",
			watermark: &checkpoint.Checkpoint{RecordType: record.TypeWork, LastSourceCursor: "r3"},
			wantIDs:   []string{},
		},
		{
			name:      "forced",
			watermark: &checkpoint.Checkpoint{RecordType: record.TypeWork, LastSourceCursor: "r3"},
			force:     true,
			wantIDs:   []string{"W1", "W2", "W3", "W4"},
			wantFull:  true,
			reason:    ReasonForced,
		},
		{
			name:      "unresolvable cursor",
			watermark: &checkpoint.Checkpoint{RecordType: record.TypeWork, LastSourceCursor: "rewritten"},
			wantIDs:   []string{"W1", "W2", "W3", "W4"},
			wantFull:  true,
			reason:    ReasonUnresolvable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs, err := l.ListChanged(ctx, record.TypeWork, tt.watermark, tt.force)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, cs.IDs)
			assert.Equal(t, tt.wantFull, cs.Full)
			assert.Equal(t, tt.reason, cs.Reason)
			assert.Equal(t, "r3", cs.Head)
		})
	}
}

func TestLister_IsPureRead(t *testing.T) {
	l := NewLister(newTestHistory(t), nil)
	wm := &checkpoint.Checkpoint{RecordType: record.TypePerson, LastSourceCursor: "r1", CompletedAt: time.Now()}
	before := *wm

	first, err := l.ListChanged(context.Background(), record.TypePerson, wm, false)
	require.NoError(t, err)
	second, err := l.ListChanged(context.Background(), record.TypePerson, wm, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"P2"}, first.IDs)
	assert.Equal(t, first, second)
	assert.Equal(t, before, *wm)
}

func TestFileTransformer(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "work", "W1.yaml"), `
updated_at: 2024-01-03T00:00:00Z
fields:
  prefLabel_bo: "ཤེར་ཕྱིན།"
  altLabel_bo: ["a"]
  extra:
    segments: [{id: S1, start: 1, end: 4}]
`)
	writeFile(t, filepath.Join(dir, "work", "W2.yaml"), `
status: duplicate
replaced_by: W1
fields:
  prefLabel_bo: "x"
`)
	writeFile(t, filepath.Join(dir, "work", "W3.yaml"), "fields: [not, a, map]\n")
	writeFile(t, filepath.Join(dir, "work", "W4.yaml"), "id: W9\nfields:\n  prefLabel_bo: x\n")

	tr := NewFileTransformer(dir)
	ctx := context.Background()

	c, err := tr.Transform(ctx, record.TypeWork, "W1")
	require.NoError(t, err)
	assert.Equal(t, "W1", c.ID)
	assert.Equal(t, record.TypeWork, c.Type)
	assert.Equal(t, record.SignalReleased, c.Status)
	require.NotNil(t, c.SourceUpdatedAt)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), *c.SourceUpdatedAt)
	assert.Contains(t, c.Fields.Extra, "segments")

	c, err = tr.Transform(ctx, record.TypeWork, "W2")
	require.NoError(t, err)
	assert.Equal(t, record.SignalDuplicate, c.Status)
	assert.Equal(t, "W1", c.ReplacedBy)

	_, err = tr.Transform(ctx, record.TypeWork, "W3")
	assert.True(t, record.IsInvalidCandidate(err), "got %v", err)

	_, err = tr.Transform(ctx, record.TypeWork, "W4")
	assert.True(t, record.IsInvalidCandidate(err), "got %v", err)

	_, err = tr.Transform(ctx, record.TypeWork, "W_MISSING")
	assert.True(t, record.IsInvalidCandidate(err), "got %v", err)

	_, err = tr.Transform(ctx, record.TypeWork, "../escape")
	assert.True(t, record.IsInvalidCandidate(err), "got %v", err)
}

func TestWatch_DebouncesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.yaml")
	writeFile(t, path, testHistory)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 10)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, 50*time.Millisecond, nil, func(context.Context) {
			calls <- struct{}{}
		})
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 3; i++ {
		writeFile(t, path, testHistory)
	}

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called")
	}

	cancel()
	require.NoError(t, <-done)
	assert.LessOrEqual(t, len(calls), 1)
}
