package record

import (
	"fmt"
	"time"
)

// Type is the kind of catalog entity a record describes.
type Type string

const (
	TypeWork   Type = "work"
	TypePerson Type = "person"
)

// Types lists every supported record type in a stable order.
var Types = []Type{TypeWork, TypePerson}

// ParseType validates a record type name.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeWork, TypePerson:
		return Type(s), nil
	}
	return "", fmt.Errorf("unknown record type %q", s)
}

// IDPrefix is the first character of locally generated ids.
func (t Type) IDPrefix() string {
	if t == TypePerson {
		return "P"
	}
	return "W"
}

// Plural is the collection name used in URLs.
func (t Type) Plural() string {
	return string(t) + "s"
}

// Origin records where a record was first created. Immutable.
type Origin string

const (
	OriginImported Origin = "imported"
	OriginLocal    Origin = "local"
)

// Status is the lifecycle state of a record.
type Status string

const (
	StatusActive    Status = "active"
	StatusDuplicate Status = "duplicate"
	StatusWithdrawn Status = "withdrawn"
)

// ParseStatus validates a record status name.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusActive, StatusDuplicate, StatusWithdrawn:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown record status %q", s)
}

// Result is the outcome of one import against one record.
type Result string

const (
	ResultCreated          Result = "created"
	ResultUpdated          Result = "updated"
	ResultSkippedModified  Result = "skipped_modified"
	ResultSkippedWithdrawn Result = "skipped_withdrawn"
	ResultSkippedInactive  Result = "skipped_inactive"
	ResultSkippedLocal     Result = "skipped_local"
	ResultWithdrawn        Result = "withdrawn"
	ResultDuplicated       Result = "duplicated"
)

// Skipped reports whether the result leaves business fields and status alone.
func (r Result) Skipped() bool {
	switch r {
	case ResultSkippedModified, ResultSkippedWithdrawn, ResultSkippedInactive, ResultSkippedLocal:
		return true
	}
	return false
}

// Source holds import-owned provenance.
type Source struct {
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Curation holds curator-owned edit tracking.
type Curation struct {
	Modified    bool       `json:"modified"`
	ModifiedAt  *time.Time `json:"modified_at"`
	ModifiedBy  *string    `json:"modified_by"`
	EditVersion int64      `json:"edit_version"`
}

// ImportInfo is import bookkeeping. Observability only.
type ImportInfo struct {
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastResult Result     `json:"last_result,omitempty"`
}

// Record is a stored catalog document.
//
// Version is the storage concurrency token: it is bumped by every write,
// import or curation, and is what conditional writes compare against.
type Record struct {
	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Origin      Origin     `json:"origin"`
	Fields      Fields     `json:"fields"`
	Source      Source     `json:"source"`
	Curation    Curation   `json:"curation"`
	Status      Status     `json:"record_status"`
	CanonicalID string     `json:"canonical_id,omitempty"`
	Import      ImportInfo `json:"import"`
	Version     int64      `json:"version"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Fields = r.Fields.Clone()
	c.Source.UpdatedAt = cloneTime(r.Source.UpdatedAt)
	c.Curation.ModifiedAt = cloneTime(r.Curation.ModifiedAt)
	if r.Curation.ModifiedBy != nil {
		by := *r.Curation.ModifiedBy
		c.Curation.ModifiedBy = &by
	}
	c.Import.LastRunAt = cloneTime(r.Import.LastRunAt)
	return &c
}

// CheckInvariants verifies the rules that hold for a single record. Checks
// that span records live in the lifecycle package.
func (r *Record) CheckInvariants() error {
	if r.Origin == OriginLocal && r.Source.UpdatedAt != nil {
		return fmt.Errorf("record %s: local record carries source.updated_at", r.ID)
	}
	switch r.Status {
	case StatusDuplicate:
		if r.CanonicalID == "" {
			return fmt.Errorf("record %s: duplicate without canonical_id", r.ID)
		}
		if r.CanonicalID == r.ID {
			return fmt.Errorf("record %s: canonical_id points at itself", r.ID)
		}
	case StatusActive, StatusWithdrawn:
		if r.CanonicalID != "" {
			return fmt.Errorf("record %s: %s record carries canonical_id", r.ID, r.Status)
		}
	default:
		return fmt.Errorf("record %s: unknown status %q", r.ID, r.Status)
	}
	if r.Curation.EditVersion < 0 {
		return fmt.Errorf("record %s: negative edit_version", r.ID)
	}
	return nil
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// TimePtr returns a pointer to a UTC copy of t.
func TimePtr(t time.Time) *time.Time {
	u := t.UTC()
	return &u
}
