package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/catsync/internal/metrics"
	"github.com/roach88/catsync/internal/record"
)

// IssueKind classifies a duplicate whose canonical target is not a live
// active record.
type IssueKind string

const (
	// IssuePending: the target does not exist yet. Legal, since targets are
	// resolved lazily, but worth surfacing when it persists.
	IssuePending IssueKind = "pending_target"
	// IssueChain: the target is itself a duplicate. Chains are not followed.
	IssueChain IssueKind = "chained_duplicate"
	// IssueWithdrawnTarget: the target has been withdrawn.
	IssueWithdrawnTarget IssueKind = "withdrawn_target"
	// IssueTypeMismatch: the target is a record of another type.
	IssueTypeMismatch IssueKind = "type_mismatch"
)

// IssueKinds lists every kind, in reporting order.
var IssueKinds = []IssueKind{IssuePending, IssueChain, IssueWithdrawnTarget, IssueTypeMismatch}

// Issue is one integrity finding.
type Issue struct {
	Kind        IssueKind     `json:"kind"`
	RecordID    string        `json:"record_id"`
	CanonicalID string        `json:"canonical_id"`
	Type        record.Type   `json:"type"`
	Target      record.Status `json:"target_status,omitempty"`
	TargetType  record.Type   `json:"target_type,omitempty"`
}

// String implements fmt.Stringer.
func (i Issue) String() string {
	switch i.Kind {
	case IssuePending:
		return fmt.Sprintf("%s: %s -> %s (missing)", i.Kind, i.RecordID, i.CanonicalID)
	case IssueTypeMismatch:
		return fmt.Sprintf("%s: %s %s -> %s %s", i.Kind, i.Type, i.RecordID, i.TargetType, i.CanonicalID)
	}
	return fmt.Sprintf("%s: %s -> %s (%s)", i.Kind, i.RecordID, i.CanonicalID, i.Target)
}

// TargetIssue checks the canonical target of a duplicate. target is nil when
// it does not exist. It returns nil when the target is an active record of
// the duplicate's type.
func TargetIssue(dup, target *record.Record) *Issue {
	issue := &Issue{RecordID: dup.ID, CanonicalID: dup.CanonicalID, Type: dup.Type}
	switch {
	case target == nil:
		issue.Kind = IssuePending
	case target.Type != dup.Type:
		issue.Kind = IssueTypeMismatch
		issue.Target = target.Status
		issue.TargetType = target.Type
	case target.Status == record.StatusDuplicate:
		issue.Kind = IssueChain
		issue.Target = target.Status
	case target.Status == record.StatusWithdrawn:
		issue.Kind = IssueWithdrawnTarget
		issue.Target = target.Status
	default:
		return nil
	}
	return issue
}

// Lookup reads records for the integrity scan.
type Lookup interface {
	// Duplicates returns every duplicate record of type t.
	Duplicates(ctx context.Context, t record.Type) ([]*record.Record, error)
	// Get returns the record with id, or (nil, nil) when absent.
	Get(ctx context.Context, id string) (*record.Record, error)
}

// ErrLookup wraps failures reading records during a scan.
var ErrLookup = errors.New("integrity lookup failed")

// CheckIntegrity scans the duplicates of type t and reports every one whose
// canonical target is missing, not active or of another type.
func CheckIntegrity(ctx context.Context, l Lookup, t record.Type) ([]Issue, error) {
	dups, err := l.Duplicates(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%w: list duplicates: %w", ErrLookup, err)
	}
	issues := []Issue{}
	for _, dup := range dups {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		target, err := l.Get(ctx, dup.CanonicalID)
		if err != nil {
			return nil, fmt.Errorf("%w: get %s: %w", ErrLookup, dup.CanonicalID, err)
		}
		if issue := TargetIssue(dup, target); issue != nil {
			issues = append(issues, *issue)
		}
	}

	counts := make(map[IssueKind]int, len(IssueKinds))
	for _, kind := range IssueKinds {
		counts[kind] = 0
	}
	for _, issue := range issues {
		counts[issue.Kind]++
	}
	for kind, n := range counts {
		metrics.IntegrityIssues.WithLabelValues(string(t), string(kind)).Set(float64(n))
	}
	return issues, nil
}
