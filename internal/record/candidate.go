package record

import (
	"fmt"
	"time"
)

// Signal is the upstream release status carried by a candidate.
type Signal string

const (
	SignalReleased  Signal = "released"
	SignalWithdrawn Signal = "withdrawn"
	SignalDuplicate Signal = "duplicate"
)

// Candidate is the normalized upstream document produced by the record
// transformer. Every field in it is a source-owned proposal.
type Candidate struct {
	ID              string     `json:"id" yaml:"id"`
	Type            Type       `json:"type" yaml:"type"`
	Status          Signal     `json:"status,omitempty" yaml:"status,omitempty"`
	ReplacedBy      string     `json:"replaced_by,omitempty" yaml:"replaced_by,omitempty"`
	SourceUpdatedAt *time.Time `json:"source_updated_at,omitempty" yaml:"updated_at,omitempty"`
	Fields          Fields     `json:"fields" yaml:"fields"`
}

// Prepare validates the candidate and returns its normalized form.
// Every failure is an INVALID_CANDIDATE error: the caller must not apply it.
func (c Candidate) Prepare() (Candidate, error) {
	if c.ID == "" {
		return Candidate{}, NewInvalidCandidate("", "missing id")
	}
	if _, err := ParseType(string(c.Type)); err != nil {
		return Candidate{}, NewInvalidCandidate(c.ID, "%v", err)
	}
	if c.Status == "" {
		c.Status = SignalReleased
	}
	switch c.Status {
	case SignalReleased, SignalWithdrawn:
		if c.ReplacedBy != "" {
			return Candidate{}, NewInvalidCandidate(c.ID, "replaced_by set on %s candidate", c.Status)
		}
	case SignalDuplicate:
		if c.ReplacedBy == "" {
			return Candidate{}, NewInvalidCandidate(c.ID, "duplicate without replaced_by")
		}
		if c.ReplacedBy == c.ID {
			return Candidate{}, NewInvalidCandidate(c.ID, "replaced_by points at itself")
		}
	default:
		return Candidate{}, NewInvalidCandidate(c.ID, "unknown status %q", c.Status)
	}

	fields, err := c.Fields.Normalized()
	if err != nil {
		return Candidate{}, NewInvalidCandidate(c.ID, "normalize fields: %v", err)
	}
	if err := ValidateFields(c.Type, fields); err != nil {
		return Candidate{}, NewInvalidCandidate(c.ID, "schema: %v", err)
	}
	c.Fields = fields
	if c.SourceUpdatedAt != nil {
		c.SourceUpdatedAt = TimePtr(*c.SourceUpdatedAt)
	}
	return c, nil
}

// String identifies the candidate in logs.
func (c Candidate) String() string {
	return fmt.Sprintf("%s/%s(%s)", c.Type, c.ID, c.Status)
}
