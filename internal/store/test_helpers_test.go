package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates an active imported work with a label.
func createTestRecord(id, label string) *record.Record {
	return &record.Record{
		ID:     id,
		Type:   record.TypeWork,
		Origin: record.OriginImported,
		Status: record.StatusActive,
		Fields: record.Fields{PrefLabelBo: label},
		Source: record.Source{UpdatedAt: record.TimePtr(testTime)},
	}
}

// createTestEvent creates an import event for rec.
func createTestEvent(id string, rec *record.Record, diff audit.Diff) audit.Event {
	return audit.Event{
		ID:            id,
		Timestamp:     testTime,
		Actor:         "importer",
		EntityType:    rec.Type,
		EntityID:      rec.ID,
		Action:        audit.ActionImportUpdate,
		Diff:          diff,
		CorrelationID: "corr-1",
	}
}
