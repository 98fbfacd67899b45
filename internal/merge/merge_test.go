package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

var (
	t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
	t2 = t1.Add(24 * time.Hour)
)

func released(id, label string, updated time.Time) record.Candidate {
	return record.Candidate{
		ID:              id,
		Type:            record.TypeWork,
		Status:          record.SignalReleased,
		SourceUpdatedAt: record.TimePtr(updated),
		Fields:          record.Fields{PrefLabelBo: label},
	}
}

func mustMerge(t *testing.T, current *record.Record, cand record.Candidate, now time.Time) Outcome {
	t.Helper()
	out, err := Merge(current, cand, now)
	require.NoError(t, err)
	if out.Record != nil {
		require.NoError(t, out.Record.CheckInvariants())
	}
	return out
}

// curate applies a curator edit the way the curation service does.
func curate(rec *record.Record, label string, at time.Time) *record.Record {
	c := rec.Clone()
	by := "curator"
	c.Fields.PrefLabelBo = label
	c.Curation.Modified = true
	c.Curation.ModifiedAt = record.TimePtr(at)
	c.Curation.ModifiedBy = &by
	c.Curation.EditVersion++
	return c
}

func TestMerge_AbsentRecordIsCreated(t *testing.T) {
	out := mustMerge(t, nil, released("WA1", "Title A", t0), t1)

	assert.Equal(t, record.ResultCreated, out.Result)
	rec := out.Record
	assert.Equal(t, "Title A", rec.Fields.PrefLabelBo)
	assert.Equal(t, record.OriginImported, rec.Origin)
	assert.Equal(t, record.StatusActive, rec.Status)
	assert.False(t, rec.Curation.Modified)
	assert.Nil(t, rec.Curation.ModifiedAt)
	assert.Nil(t, rec.Curation.ModifiedBy)
	assert.Equal(t, int64(0), rec.Curation.EditVersion)
	assert.Equal(t, t0, *rec.Source.UpdatedAt)
	assert.Equal(t, t1, *rec.Import.LastRunAt)
	assert.Equal(t, record.ResultCreated, rec.Import.LastResult)

	assert.Equal(t, audit.ActionImportUpdate, out.Action)
	assert.Equal(t, audit.Change{From: nil, To: "Title A"}, out.Diff["prefLabel_bo"])
}

func TestMerge_UpdateUncurated(t *testing.T) {
	created := mustMerge(t, nil, released("WA1", "Title A", t0), t0).Record

	cand := released("WA1", "Title A2", t1)
	cand.Fields.AltLabelBo = []string{"alt"}
	out := mustMerge(t, created, cand, t1)

	assert.Equal(t, record.ResultUpdated, out.Result)
	assert.Equal(t, "Title A2", out.Record.Fields.PrefLabelBo)
	assert.Equal(t, []string{"alt"}, out.Record.Fields.AltLabelBo)
	assert.Equal(t, t1, *out.Record.Source.UpdatedAt)
	assert.Equal(t, []string{"altLabel_bo", "prefLabel_bo", audit.FieldSourceUpdatedAt}, out.Diff.Fields())

	// the input record is untouched
	assert.Equal(t, "Title A", created.Fields.PrefLabelBo)
}

func TestMerge_UpdateRemovesDroppedFields(t *testing.T) {
	cand := released("WA1", "Title A", t0)
	cand.Fields.Author = "P1"
	created := mustMerge(t, nil, cand, t0).Record

	out := mustMerge(t, created, released("WA1", "Title A", t1), t1)
	assert.Empty(t, out.Record.Fields.Author)
	assert.Equal(t, audit.Change{From: "P1", To: nil}, out.Diff["author"])
}

func TestMerge_CuratedRecordKeepsFields(t *testing.T) {
	created := mustMerge(t, nil, released("WA1", "Title A", t0), t0).Record
	curated := curate(created, "Title B", t1)

	out := mustMerge(t, curated, released("WA1", "Title C", t2), t2)

	assert.Equal(t, record.ResultSkippedModified, out.Result)
	assert.Equal(t, "Title B", out.Record.Fields.PrefLabelBo)
	assert.Equal(t, record.ResultSkippedModified, out.Record.Import.LastResult)
	assert.Equal(t, t2, *out.Record.Source.UpdatedAt)
	assert.Equal(t, curated.Curation, out.Record.Curation)
	assert.Equal(t, []string{audit.FieldSourceUpdatedAt}, out.Diff.Fields())
}

func TestMerge_CuratedFieldsSurviveAnyCandidate(t *testing.T) {
	created := mustMerge(t, nil, released("WA1", "Title A", t0), t0).Record
	curated := curate(created, "Title B", t1)
	curated.Fields.Extra = map[string]any{"note": "kept"}

	score := 3.5
	candidates := []record.Candidate{
		released("WA1", "X", t1),
		{ID: "WA1", Type: record.TypeWork, Status: record.SignalReleased, Fields: record.Fields{}},
		{ID: "WA1", Type: record.TypeWork, Status: record.SignalReleased, Fields: record.Fields{
			PrefLabelBo: "Y", Author: "P9", DBScore: &score, Extra: map[string]any{"note": "overwritten"},
		}},
	}

	rec := curated
	for i, cand := range candidates {
		out := mustMerge(t, rec, cand, t2.Add(time.Duration(i)*time.Hour))
		assert.Equal(t, record.ResultSkippedModified, out.Result)
		assert.True(t, curated.Fields.Equal(out.Record.Fields), "candidate %d changed business fields", i)
		rec = out.Record
	}
}

func TestMerge_ReimportIsIdempotent(t *testing.T) {
	cand := released("WA1", "Title A", t0)
	cand.Fields.Extra = map[string]any{"segments": []any{map[string]any{"id": "S1", "start": float64(1)}}}

	first := mustMerge(t, nil, cand, t1).Record
	once := mustMerge(t, first, cand, t1)
	twice := mustMerge(t, once.Record, cand, t1)

	assert.Equal(t, once.Record, twice.Record)
	assert.True(t, once.Diff.Empty())
	assert.True(t, twice.Diff.Empty())
	assert.Equal(t, record.ResultUpdated, twice.Result)
}

func TestMerge_WithdrawnSignalForUnknownIdIsIgnored(t *testing.T) {
	out := mustMerge(t, nil, record.Candidate{ID: "WX", Type: record.TypeWork, Status: record.SignalWithdrawn}, t1)

	assert.Nil(t, out.Record)
	assert.Equal(t, record.ResultSkippedWithdrawn, out.Result)
	assert.True(t, out.Result.Skipped())
}

func TestMerge_DuplicateSignalMarksRecord(t *testing.T) {
	wa2 := mustMerge(t, nil, released("WA2", "Title", t0), t0).Record

	cand := released("WA2", "Ignored", t1)
	cand.Status = record.SignalDuplicate
	cand.ReplacedBy = "WA1"
	out := mustMerge(t, wa2, cand, t1)

	assert.Equal(t, record.ResultDuplicated, out.Result)
	assert.Equal(t, record.StatusDuplicate, out.Record.Status)
	assert.Equal(t, "WA1", out.Record.CanonicalID)
	assert.Equal(t, "Title", out.Record.Fields.PrefLabelBo)
	assert.Equal(t, audit.ActionMerge, out.Action)
	assert.Equal(t, audit.Change{From: "active", To: "duplicate"}, out.Diff[audit.FieldRecordStatus])
	assert.Equal(t, audit.Change{From: nil, To: "WA1"}, out.Diff[audit.FieldCanonicalID])
}

func TestMerge_AbsentDuplicateIsCreatedAsDuplicate(t *testing.T) {
	cand := released("WA3", "Title", t0)
	cand.Status = record.SignalDuplicate
	cand.ReplacedBy = "WA1"

	out := mustMerge(t, nil, cand, t1)
	assert.Equal(t, record.ResultDuplicated, out.Result)
	assert.Equal(t, record.StatusDuplicate, out.Record.Status)
	assert.Equal(t, "WA1", out.Record.CanonicalID)
	assert.Equal(t, audit.ActionMerge, out.Action)
}

func TestMerge_WithdrawSignal(t *testing.T) {
	rec := mustMerge(t, nil, released("WA1", "Title", t0), t0).Record

	out := mustMerge(t, rec, record.Candidate{ID: "WA1", Type: record.TypeWork, Status: record.SignalWithdrawn, SourceUpdatedAt: record.TimePtr(t1)}, t1)
	assert.Equal(t, record.ResultWithdrawn, out.Result)
	assert.Equal(t, record.StatusWithdrawn, out.Record.Status)
	assert.Equal(t, audit.ActionWithdraw, out.Action)
	assert.Equal(t, "Title", out.Record.Fields.PrefLabelBo)
}

func TestMerge_InactiveRecordsAreNotResurrected(t *testing.T) {
	rec := mustMerge(t, nil, released("WA1", "Title", t0), t0).Record
	withdrawn := mustMerge(t, rec, record.Candidate{ID: "WA1", Type: record.TypeWork, Status: record.SignalWithdrawn}, t1).Record

	out := mustMerge(t, withdrawn, released("WA1", "New title", t2), t2)
	assert.Equal(t, record.ResultSkippedInactive, out.Result)
	assert.Equal(t, record.StatusWithdrawn, out.Record.Status)
	assert.Equal(t, "Title", out.Record.Fields.PrefLabelBo)
	assert.True(t, out.Diff.Empty())
	assert.Equal(t, record.ResultSkippedInactive, out.Record.Import.LastResult)
}

func TestMerge_LocalRecordsAreNeverImported(t *testing.T) {
	local := &record.Record{
		ID:       "WLOCAL1",
		Type:     record.TypeWork,
		Origin:   record.OriginLocal,
		Status:   record.StatusActive,
		Fields:   record.Fields{PrefLabelBo: "Local"},
		Curation: record.Curation{Modified: true, EditVersion: 1},
	}

	out := mustMerge(t, local, released("WLOCAL1", "Upstream", t1), t1)
	assert.Equal(t, record.ResultSkippedLocal, out.Result)
	assert.Equal(t, "Local", out.Record.Fields.PrefLabelBo)
	assert.Nil(t, out.Record.Source.UpdatedAt)
	assert.True(t, out.Diff.Empty())
}

func TestMerge_CuratedRecordStillTakesLifecycleSignals(t *testing.T) {
	rec := curate(mustMerge(t, nil, released("WA1", "Title", t0), t0).Record, "Curated", t0)

	out := mustMerge(t, rec, record.Candidate{ID: "WA1", Type: record.TypeWork, Status: record.SignalWithdrawn}, t1)
	assert.Equal(t, record.ResultWithdrawn, out.Result)
	assert.Equal(t, "Curated", out.Record.Fields.PrefLabelBo)
	assert.Equal(t, rec.Curation, out.Record.Curation)
}

func TestMerge_InvalidCandidate(t *testing.T) {
	_, err := Merge(nil, record.Candidate{Type: record.TypeWork}, t0)
	assert.True(t, record.IsInvalidCandidate(err))

	rec := mustMerge(t, nil, released("WA1", "x", t0), t0).Record
	_, err = Merge(rec, released("WA2", "x", t0), t0)
	assert.True(t, record.IsInvalidCandidate(err))

	person := released("WA1", "x", t0)
	person.Type = record.TypePerson
	_, err = Merge(rec, person, t0)
	assert.True(t, record.IsInvalidCandidate(err))
}

func TestMerge_SelfDuplicateIsInvalid(t *testing.T) {
	rec := mustMerge(t, nil, released("WA1", "x", t0), t0).Record

	self := record.Candidate{ID: "WA1", Type: record.TypeWork, Status: record.SignalDuplicate, ReplacedBy: "WA1"}
	for _, current := range []*record.Record{nil, rec} {
		out, err := Merge(current, self, t1)
		assert.True(t, record.IsInvalidCandidate(err), "current=%v: %v", current != nil, err)
		assert.Nil(t, out.Record)
	}

	_, err := Merge(rec, record.Candidate{ID: "WA1", Type: record.TypeWork, ReplacedBy: "WA2"}, t1)
	assert.True(t, record.IsInvalidCandidate(err))
}
