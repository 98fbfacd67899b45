package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/catsync/internal/record"
)

func baseRecord() *record.Record {
	return &record.Record{
		ID:     "W1",
		Type:   record.TypeWork,
		Origin: record.OriginImported,
		Status: record.StatusActive,
		Fields: record.Fields{PrefLabelBo: "A", AltLabelBo: []string{"x"}},
		Source: record.Source{UpdatedAt: record.TimePtr(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))},
	}
}

func TestCompute_Creation(t *testing.T) {
	d := Compute(nil, baseRecord())

	assert.Equal(t, Change{From: nil, To: "A"}, d["prefLabel_bo"])
	assert.Equal(t, Change{From: nil, To: "active"}, d[FieldRecordStatus])
	assert.Equal(t, Change{From: nil, To: "2024-01-01T00:00:00Z"}, d[FieldSourceUpdatedAt])
	assert.Contains(t, d, FieldCurationEditVersion)
	assert.NotContains(t, d, FieldCanonicalID)
}

func TestCompute_NoChange(t *testing.T) {
	before := baseRecord()
	after := before.Clone()
	after.Import.LastRunAt = record.TimePtr(time.Now())
	after.Import.LastResult = record.ResultUpdated
	after.Version = 7

	assert.True(t, Compute(before, after).Empty())
}

func TestCompute_FieldChanges(t *testing.T) {
	before := baseRecord()
	after := before.Clone()
	after.Fields.PrefLabelBo = "B"
	after.Fields.AltLabelBo = nil
	after.Fields.Author = "P1"

	d := Compute(before, after)
	assert.Equal(t, []string{"altLabel_bo", "author", "prefLabel_bo"}, d.Fields())
	assert.Equal(t, Change{From: "A", To: "B"}, d["prefLabel_bo"])
	assert.Equal(t, Change{From: []string{"x"}, To: nil}, d["altLabel_bo"])
	assert.Equal(t, Change{From: nil, To: "P1"}, d["author"])
}

func TestCompute_LifecycleChange(t *testing.T) {
	before := baseRecord()
	after := before.Clone()
	after.Status = record.StatusDuplicate
	after.CanonicalID = "W2"

	d := Compute(before, after)
	assert.Equal(t, []string{FieldCanonicalID, FieldRecordStatus}, d.Fields())
	assert.Equal(t, Change{From: "active", To: "duplicate"}, d[FieldRecordStatus])
	assert.Equal(t, Change{From: nil, To: "W2"}, d[FieldCanonicalID])
}

func TestCompute_CurationChange(t *testing.T) {
	before := baseRecord()
	after := before.Clone()
	after.Curation.Modified = true
	after.Curation.EditVersion = 1

	d := Compute(before, after)
	assert.Equal(t, Change{From: false, To: true}, d[FieldCurationModified])
	assert.Equal(t, Change{From: int64(0), To: int64(1)}, d[FieldCurationEditVersion])
}
