// Package lifecycle is the record state machine. It is the only code that
// decides record_status and canonical_id.
//
//	active ──withdraw──▶ withdrawn
//	active ──merge─────▶ duplicate ──merge──▶ duplicate (re-point)
//	withdrawn, duplicate ──restore (curator only)──▶ active
//
// Imports can move a record out of active but never back into it.
package lifecycle

import (
	"fmt"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

// Transition is a status change together with the audit action it emits.
// Each transition produces exactly one event.
type Transition struct {
	From        record.Status
	To          record.Status
	CanonicalID string
	Action      audit.Action
}

// Apply sets the record's lifecycle fields to the transition's target.
func (t Transition) Apply(rec *record.Record) {
	rec.Status = t.To
	rec.CanonicalID = ""
	if t.To == record.StatusDuplicate {
		rec.CanonicalID = t.CanonicalID
	}
}

// String implements fmt.Stringer.
func (t Transition) String() string {
	if t.To == record.StatusDuplicate {
		return fmt.Sprintf("%s -> %s(%s)", t.From, t.To, t.CanonicalID)
	}
	return fmt.Sprintf("%s -> %s", t.From, t.To)
}

// Decision is what an upstream signal means for a stored record.
type Decision struct {
	// Transition is nil when the status does not change.
	Transition *Transition
	// Result is the import result when the signal alone determines it. It is
	// empty for a released signal on an active or absent record, where the
	// merge engine decides.
	Result record.Result
}

// FromSignal maps a candidate's release signal onto the stored record
// (nil when absent).
func FromSignal(current *record.Record, cand record.Candidate) Decision {
	if current == nil {
		switch cand.Status {
		case record.SignalWithdrawn:
			// Nothing to withdraw; do not create a tombstone.
			return Decision{Result: record.ResultSkippedWithdrawn}
		case record.SignalDuplicate:
			return Decision{
				Transition: &Transition{
					To:          record.StatusDuplicate,
					CanonicalID: cand.ReplacedBy,
					Action:      audit.ActionMerge,
				},
				Result: record.ResultDuplicated,
			}
		}
		return Decision{}
	}

	switch current.Status {
	case record.StatusActive:
		switch cand.Status {
		case record.SignalWithdrawn:
			return Decision{
				Transition: &Transition{From: current.Status, To: record.StatusWithdrawn, Action: audit.ActionWithdraw},
				Result:     record.ResultWithdrawn,
			}
		case record.SignalDuplicate:
			return Decision{
				Transition: &Transition{
					From:        current.Status,
					To:          record.StatusDuplicate,
					CanonicalID: cand.ReplacedBy,
					Action:      audit.ActionMerge,
				},
				Result: record.ResultDuplicated,
			}
		}
		return Decision{}

	case record.StatusDuplicate:
		if cand.Status == record.SignalDuplicate && cand.ReplacedBy != current.CanonicalID {
			return Decision{
				Transition: &Transition{
					From:        current.Status,
					To:          record.StatusDuplicate,
					CanonicalID: cand.ReplacedBy,
					Action:      audit.ActionMerge,
				},
				Result: record.ResultDuplicated,
			}
		}
	}

	// withdrawn and duplicate records never return to active via import
	return Decision{Result: record.ResultSkippedInactive}
}

// Withdraw is the curator transition to withdrawn.
func Withdraw(rec *record.Record) (Transition, error) {
	if rec.Status == record.StatusWithdrawn {
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, record.StatusWithdrawn, "already withdrawn")
	}
	return Transition{From: rec.Status, To: record.StatusWithdrawn, Action: audit.ActionWithdraw}, nil
}

// MarkDuplicate is the curator transition that merges rec into target.
// Unlike imports, curators may only point at an existing active record.
func MarkDuplicate(rec, target *record.Record) (Transition, error) {
	to := record.StatusDuplicate
	switch {
	case rec.Status == record.StatusWithdrawn:
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, to, "withdrawn records must be restored first")
	case target == nil:
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, to, "target does not exist")
	case target.ID == rec.ID:
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, to, "a record cannot duplicate itself")
	case target.Type != rec.Type:
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, to,
			fmt.Sprintf("target %s is a %s", target.ID, target.Type))
	case target.Status != record.StatusActive:
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, to,
			fmt.Sprintf("target %s is %s", target.ID, target.Status))
	case rec.Status == record.StatusDuplicate && rec.CanonicalID == target.ID:
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, to,
			fmt.Sprintf("already a duplicate of %s", target.ID))
	}
	return Transition{From: rec.Status, To: to, CanonicalID: target.ID, Action: audit.ActionMerge}, nil
}

// Restore is the curator transition back to active (un-merge or
// un-withdraw).
func Restore(rec *record.Record) (Transition, error) {
	if rec.Status == record.StatusActive {
		return Transition{}, record.NewInvalidTransition(rec.ID, rec.Status, record.StatusActive, "already active")
	}
	return Transition{From: rec.Status, To: record.StatusActive, Action: audit.ActionRestore}, nil
}
