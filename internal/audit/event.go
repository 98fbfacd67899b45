package audit

import (
	"time"

	"github.com/roach88/catsync/internal/record"
)

// Action names the kind of mutation an event records.
type Action string

const (
	ActionImportUpdate Action = "import_update"
	ActionEdit         Action = "edit"
	ActionMerge        Action = "merge"
	ActionWithdraw     Action = "withdraw"
	ActionRestore      Action = "restore"
)

// Event is one immutable audit entry. Seq is assigned by the store on append.
type Event struct {
	Seq           int64       `json:"seq"`
	ID            string      `json:"id"`
	Timestamp     time.Time   `json:"timestamp"`
	Actor         string      `json:"actor"`
	EntityType    record.Type `json:"entity_type"`
	EntityID      string      `json:"entity_id"`
	Action        Action      `json:"action"`
	Diff          Diff        `json:"diff"`
	CorrelationID string      `json:"correlation_id"`
	EditVersion   int64       `json:"edit_version,omitempty"`
}

// NewEvent builds an event for a mutation of rec.
func NewEvent(id string, now time.Time, actor string, action Action, rec *record.Record, diff Diff, correlationID string) Event {
	return Event{
		ID:            id,
		Timestamp:     now.UTC(),
		Actor:         actor,
		EntityType:    rec.Type,
		EntityID:      rec.ID,
		Action:        action,
		Diff:          diff,
		CorrelationID: correlationID,
		EditVersion:   rec.Curation.EditVersion,
	}
}

// Filter selects audit events. Zero fields match everything.
type Filter struct {
	EntityID      string
	EntityType    record.Type
	Actor         string
	Action        Action
	CorrelationID string
	Since         *time.Time
	Until         *time.Time
	Limit         int
}
