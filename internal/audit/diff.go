package audit

import (
	"maps"
	"reflect"
	"slices"
	"time"

	"github.com/roach88/catsync/internal/record"
)

// Diff names of the non-business sections that audit events track.
// import.* is bookkeeping and never diffed.
const (
	FieldRecordStatus        = "record_status"
	FieldCanonicalID         = "canonical_id"
	FieldSourceUpdatedAt     = "source.updated_at"
	FieldCurationModified    = "curation.modified"
	FieldCurationEditVersion = "curation.edit_version"
)

// Change is the before and after value of one field. A nil side means the
// field was absent.
type Change struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Diff maps field names to their change.
type Diff map[string]Change

// Empty reports whether nothing audit-relevant changed.
func (d Diff) Empty() bool {
	return len(d) == 0
}

// Fields returns the changed field names in sorted order.
func (d Diff) Fields() []string {
	return slices.Sorted(maps.Keys(d))
}

// Compute returns the field-level changes from before to after. A nil before
// means the record is being created.
func Compute(before, after *record.Record) Diff {
	from := snapshot(before)
	to := snapshot(after)
	d := make(Diff)
	for k, v := range to {
		if old, ok := from[k]; !ok || !reflect.DeepEqual(old, v) {
			d[k] = Change{From: from[k], To: v}
		}
	}
	for k, old := range from {
		if _, ok := to[k]; !ok {
			d[k] = Change{From: old, To: nil}
		}
	}
	return d
}

func snapshot(r *record.Record) map[string]any {
	if r == nil {
		return map[string]any{}
	}
	m := r.Fields.Flatten()
	m[FieldRecordStatus] = string(r.Status)
	if r.CanonicalID != "" {
		m[FieldCanonicalID] = r.CanonicalID
	}
	if r.Source.UpdatedAt != nil {
		m[FieldSourceUpdatedAt] = r.Source.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	m[FieldCurationModified] = r.Curation.Modified
	m[FieldCurationEditVersion] = r.Curation.EditVersion
	return m
}
