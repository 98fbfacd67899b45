package syncer

import (
	"time"

	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/record"
)

// RecordError is a per-record failure that did not abort the pass.
type RecordError struct {
	RecordID string           `json:"record_id"`
	Code     record.ErrorCode `json:"code"`
	Message  string           `json:"message"`
}

// Report summarizes one sync pass.
type Report struct {
	Type          record.Type `json:"type"`
	CorrelationID string      `json:"correlation_id"`
	Full          bool        `json:"full"`
	Reason        string      `json:"reason,omitempty"`
	From          string      `json:"from,omitempty"`
	To            string      `json:"to,omitempty"`

	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Skipped    int `json:"skipped"`
	Withdrawn  int `json:"withdrawn"`
	Duplicated int `json:"duplicated"`

	// Results counts every import result, including each kind of skip.
	Results  map[record.Result]int `json:"results"`
	Errors   []RecordError         `json:"errors"`
	Warnings []lifecycle.Issue     `json:"warnings"`

	CheckpointAdvanced bool      `json:"checkpoint_advanced"`
	StartedAt          time.Time `json:"started_at"`
	CompletedAt        time.Time `json:"completed_at"`
}

func newReport(t record.Type, correlationID string, started time.Time) *Report {
	return &Report{
		Type:          t,
		CorrelationID: correlationID,
		Results:       map[record.Result]int{},
		Errors:        []RecordError{},
		Warnings:      []lifecycle.Issue{},
		StartedAt:     started,
	}
}

// Processed is the number of records that reached a result.
func (r *Report) Processed() int {
	return r.Created + r.Updated + r.Skipped + r.Withdrawn + r.Duplicated
}

func (r *Report) count(result record.Result) {
	r.Results[result]++
	switch {
	case result == record.ResultCreated:
		r.Created++
	case result == record.ResultUpdated:
		r.Updated++
	case result == record.ResultWithdrawn:
		r.Withdrawn++
	case result == record.ResultDuplicated:
		r.Duplicated++
	case result.Skipped():
		r.Skipped++
	}
}

func (r *Report) fail(id string, err error) {
	r.Errors = append(r.Errors, RecordError{RecordID: id, Code: record.CodeOf(err), Message: err.Error()})
}
