// Package merge is the conflict-resolution core: it folds an upstream
// candidate into the stored record under the field-ownership rules, and
// applies the result with an optimistic conditional write.
package merge

import (
	"time"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/record"
)

// Outcome is the merge of one candidate into one record.
type Outcome struct {
	// Record is the new stored state, or nil when nothing is stored
	// (a withdrawn signal for an unknown id).
	Record *record.Record
	Result record.Result
	// Transition is set when the record's lifecycle status changes.
	Transition *lifecycle.Transition
	// Action and Diff describe the audit event. An empty Diff means the
	// write only touched import bookkeeping and emits no event.
	Action audit.Action
	Diff   audit.Diff
}

// Merge computes the new state of current (nil when absent) after importing
// cand at now. It never mutates current.
//
// Business fields follow the candidate only for uncurated active imported
// records. Curated records take source.updated_at only, local records take
// import bookkeeping only, and withdrawn or duplicate records are never
// brought back by an import.
//
// cand is validated and normalized first; a malformed candidate is an
// INVALID_CANDIDATE error and nothing is merged.
func Merge(current *record.Record, cand record.Candidate, now time.Time) (Outcome, error) {
	cand, err := cand.Prepare()
	if err != nil {
		return Outcome{}, err
	}
	if current != nil {
		if current.ID != cand.ID {
			return Outcome{}, record.NewInvalidCandidate(cand.ID, "merged against record %s", current.ID)
		}
		if current.Type != cand.Type {
			return Outcome{}, record.NewInvalidCandidate(cand.ID, "candidate is a %s, stored record is a %s", cand.Type, current.Type)
		}
	}

	if current != nil && current.Origin == record.OriginLocal {
		next := current.Clone()
		return finish(current, next, record.ResultSkippedLocal, nil, now), nil
	}

	decision := lifecycle.FromSignal(current, cand)

	if current == nil {
		if decision.Result == record.ResultSkippedWithdrawn {
			return Outcome{Result: record.ResultSkippedWithdrawn}, nil
		}
		next := &record.Record{
			ID:     cand.ID,
			Type:   cand.Type,
			Origin: record.OriginImported,
			Fields: cand.Fields.Clone(),
			Status: record.StatusActive,
			Source: record.Source{UpdatedAt: copyTime(cand.SourceUpdatedAt)},
		}
		result := record.ResultCreated
		if decision.Transition != nil {
			decision.Transition.Apply(next)
			result = decision.Result
		}
		return finish(nil, next, result, decision.Transition, now), nil
	}

	next := current.Clone()
	var result record.Result
	switch {
	case decision.Transition != nil:
		// The upstream record lost released status: only the lifecycle and
		// provenance move, business fields stay as they were.
		decision.Transition.Apply(next)
		setSourceUpdated(next, cand)
		result = decision.Result
	case decision.Result != "":
		result = decision.Result
	case current.Curation.Modified:
		setSourceUpdated(next, cand)
		result = record.ResultSkippedModified
	default:
		next.Fields = cand.Fields.Clone()
		setSourceUpdated(next, cand)
		result = record.ResultUpdated
	}
	return finish(current, next, result, decision.Transition, now), nil
}

func finish(current, next *record.Record, result record.Result, tr *lifecycle.Transition, now time.Time) Outcome {
	next.Import = record.ImportInfo{LastRunAt: record.TimePtr(now), LastResult: result}
	action := audit.ActionImportUpdate
	if tr != nil {
		action = tr.Action
	}
	return Outcome{
		Record:     next,
		Result:     result,
		Transition: tr,
		Action:     action,
		Diff:       audit.Compute(current, next),
	}
}

func setSourceUpdated(rec *record.Record, cand record.Candidate) {
	if cand.SourceUpdatedAt != nil {
		rec.Source.UpdatedAt = copyTime(cand.SourceUpdatedAt)
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return record.TimePtr(*t)
}
