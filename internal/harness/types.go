package harness

import (
	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/syncer"
)

// TraceEvent is one audit event as it appears in a scenario trace. Wall
// timestamps are left out so traces compare across runs.
type TraceEvent struct {
	Seq           int64      `json:"seq"`
	ID            string     `json:"id"`
	Actor         string     `json:"actor"`
	EntityType    string     `json:"entity_type"`
	EntityID      string     `json:"entity_id"`
	Action        string     `json:"action"`
	CorrelationID string     `json:"correlation_id"`
	EditVersion   int64      `json:"edit_version"`
	Diff          audit.Diff `json:"diff"`
}

func traceEvent(ev audit.Event) TraceEvent {
	return TraceEvent{
		Seq:           ev.Seq,
		ID:            ev.ID,
		Actor:         ev.Actor,
		EntityType:    string(ev.EntityType),
		EntityID:      ev.EntityID,
		Action:        string(ev.Action),
		CorrelationID: ev.CorrelationID,
		EditVersion:   ev.EditVersion,
		Diff:          ev.Diff,
	}
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step expectation and assertion
	// held.
	Pass bool `json:"pass"`

	// Trace is the full audit trail in append order.
	Trace []TraceEvent `json:"trace"`

	// Reports holds the report of every sync step, in order.
	Reports []*syncer.Report `json:"reports"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Reports: []*syncer.Report{},
		Errors:  []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
