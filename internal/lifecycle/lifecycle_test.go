package lifecycle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/record"
)

func rec(id string, status record.Status, canonical string) *record.Record {
	return &record.Record{
		ID:          id,
		Type:        record.TypeWork,
		Origin:      record.OriginImported,
		Status:      status,
		CanonicalID: canonical,
	}
}

func cand(id string, signal record.Signal, replacedBy string) record.Candidate {
	return record.Candidate{ID: id, Type: record.TypeWork, Status: signal, ReplacedBy: replacedBy}
}

func TestFromSignal(t *testing.T) {
	tests := []struct {
		name       string
		current    *record.Record
		cand       record.Candidate
		wantResult record.Result
		wantTo     record.Status
		wantCanon  string
		wantAction audit.Action
	}{
		{
			name: "absent released is left to the merge",
			cand: cand("W1", record.SignalReleased, ""),
		},
		{
			name:       "absent withdrawn is ignored",
			cand:       cand("W1", record.SignalWithdrawn, ""),
			wantResult: record.ResultSkippedWithdrawn,
		},
		{
			name:       "absent duplicate is created as duplicate",
			cand:       cand("W1", record.SignalDuplicate, "W2"),
			wantResult: record.ResultDuplicated,
			wantTo:     record.StatusDuplicate,
			wantCanon:  "W2",
			wantAction: audit.ActionMerge,
		},
		{
			name:    "active released is left to the merge",
			current: rec("W1", record.StatusActive, ""),
			cand:    cand("W1", record.SignalReleased, ""),
		},
		{
			name:       "active withdrawn",
			current:    rec("W1", record.StatusActive, ""),
			cand:       cand("W1", record.SignalWithdrawn, ""),
			wantResult: record.ResultWithdrawn,
			wantTo:     record.StatusWithdrawn,
			wantAction: audit.ActionWithdraw,
		},
		{
			name:       "active duplicate",
			current:    rec("W1", record.StatusActive, ""),
			cand:       cand("W1", record.SignalDuplicate, "W2"),
			wantResult: record.ResultDuplicated,
			wantTo:     record.StatusDuplicate,
			wantCanon:  "W2",
			wantAction: audit.ActionMerge,
		},
		{
			name:       "withdrawn stays withdrawn on release",
			current:    rec("W1", record.StatusWithdrawn, ""),
			cand:       cand("W1", record.SignalReleased, ""),
			wantResult: record.ResultSkippedInactive,
		},
		{
			name:       "withdrawn cannot become duplicate via import",
			current:    rec("W1", record.StatusWithdrawn, ""),
			cand:       cand("W1", record.SignalDuplicate, "W2"),
			wantResult: record.ResultSkippedInactive,
		},
		{
			name:       "duplicate stays duplicate on release",
			current:    rec("W1", record.StatusDuplicate, "W2"),
			cand:       cand("W1", record.SignalReleased, ""),
			wantResult: record.ResultSkippedInactive,
		},
		{
			name:       "duplicate same target is a no-op",
			current:    rec("W1", record.StatusDuplicate, "W2"),
			cand:       cand("W1", record.SignalDuplicate, "W2"),
			wantResult: record.ResultSkippedInactive,
		},
		{
			name:       "duplicate re-pointed",
			current:    rec("W1", record.StatusDuplicate, "W2"),
			cand:       cand("W1", record.SignalDuplicate, "W3"),
			wantResult: record.ResultDuplicated,
			wantTo:     record.StatusDuplicate,
			wantCanon:  "W3",
			wantAction: audit.ActionMerge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := FromSignal(tt.current, tt.cand)
			assert.Equal(t, tt.wantResult, d.Result)
			if tt.wantTo == "" {
				assert.Nil(t, d.Transition)
				return
			}
			require.NotNil(t, d.Transition)
			assert.Equal(t, tt.wantTo, d.Transition.To)
			assert.Equal(t, tt.wantCanon, d.Transition.CanonicalID)
			assert.Equal(t, tt.wantAction, d.Transition.Action)
		})
	}
}

func TestTransition_Apply(t *testing.T) {
	r := rec("W1", record.StatusDuplicate, "W2")

	Transition{To: record.StatusWithdrawn}.Apply(r)
	assert.Equal(t, record.StatusWithdrawn, r.Status)
	assert.Empty(t, r.CanonicalID)
	assert.NoError(t, r.CheckInvariants())

	Transition{To: record.StatusDuplicate, CanonicalID: "W3"}.Apply(r)
	assert.Equal(t, "W3", r.CanonicalID)
	assert.NoError(t, r.CheckInvariants())
}

func TestCuratorTransitions(t *testing.T) {
	active := rec("W1", record.StatusActive, "")
	target := rec("W2", record.StatusActive, "")

	tr, err := Withdraw(active)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionWithdraw, tr.Action)

	_, err = Withdraw(rec("W1", record.StatusWithdrawn, ""))
	assert.True(t, record.IsInvalidTransition(err))

	tr, err = MarkDuplicate(active, target)
	require.NoError(t, err)
	assert.Equal(t, "W2", tr.CanonicalID)
	assert.Equal(t, audit.ActionMerge, tr.Action)

	_, err = Restore(active)
	assert.True(t, record.IsInvalidTransition(err))

	tr, err = Restore(rec("W1", record.StatusDuplicate, "W2"))
	require.NoError(t, err)
	assert.Equal(t, record.StatusActive, tr.To)
	assert.Equal(t, audit.ActionRestore, tr.Action)
}

func TestMarkDuplicate_Rejections(t *testing.T) {
	person := rec("P1", record.StatusActive, "")
	person.Type = record.TypePerson

	tests := []struct {
		name   string
		rec    *record.Record
		target *record.Record
	}{
		{"missing target", rec("W1", record.StatusActive, ""), nil},
		{"self", rec("W1", record.StatusActive, ""), rec("W1", record.StatusActive, "")},
		{"chain", rec("W1", record.StatusActive, ""), rec("W2", record.StatusDuplicate, "W3")},
		{"withdrawn target", rec("W1", record.StatusActive, ""), rec("W2", record.StatusWithdrawn, "")},
		{"withdrawn source", rec("W1", record.StatusWithdrawn, ""), rec("W2", record.StatusActive, "")},
		{"other type", rec("W1", record.StatusActive, ""), person},
		{"same target", rec("W1", record.StatusDuplicate, "W2"), rec("W2", record.StatusActive, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarkDuplicate(tt.rec, tt.target)
			assert.True(t, record.IsInvalidTransition(err), "got %v", err)
		})
	}
}

type mapLookup map[string]*record.Record

func (m mapLookup) Duplicates(_ context.Context, t record.Type) ([]*record.Record, error) {
	var out []*record.Record
	for _, id := range []string{"W1", "W2", "W3", "W4", "W5"} {
		if r, ok := m[id]; ok && r.Type == t && r.Status == record.StatusDuplicate {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m mapLookup) Get(_ context.Context, id string) (*record.Record, error) {
	return m[id], nil
}

func TestCheckIntegrity(t *testing.T) {
	l := mapLookup{
		"W1": rec("W1", record.StatusActive, ""),
		"W2": rec("W2", record.StatusDuplicate, "W1"),
		"W3": rec("W3", record.StatusDuplicate, "W2"),
		"W4": rec("W4", record.StatusDuplicate, "W9"),
		"W5": rec("W5", record.StatusWithdrawn, ""),
	}

	issues, err := CheckIntegrity(context.Background(), l, record.TypeWork)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, IssueChain, issues[0].Kind)
	assert.Equal(t, "W3", issues[0].RecordID)
	assert.Equal(t, IssuePending, issues[1].Kind)
	assert.Equal(t, "W9", issues[1].CanonicalID)
}

func TestCheckIntegrity_TargetOfAnotherType(t *testing.T) {
	person := rec("P1", record.StatusActive, "")
	person.Type = record.TypePerson
	l := mapLookup{
		"P1": person,
		"W1": rec("W1", record.StatusDuplicate, "P1"),
	}

	issues, err := CheckIntegrity(context.Background(), l, record.TypeWork)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, IssueTypeMismatch, issues[0].Kind)
	assert.Equal(t, "W1", issues[0].RecordID)
	assert.Equal(t, record.TypePerson, issues[0].TargetType)
	assert.Equal(t, "type_mismatch: work W1 -> person P1", issues[0].String())

	// an active target of the right type is healthy
	assert.Nil(t, TargetIssue(rec("W2", record.StatusDuplicate, "W3"), rec("W3", record.StatusActive, "")))
}

type failingLookup struct{}

func (failingLookup) Duplicates(context.Context, record.Type) ([]*record.Record, error) {
	return nil, errors.New("disk gone")
}
func (failingLookup) Get(context.Context, string) (*record.Record, error) { return nil, nil }

func TestCheckIntegrity_LookupError(t *testing.T) {
	_, err := CheckIntegrity(context.Background(), failingLookup{}, record.TypeWork)
	assert.ErrorIs(t, err, ErrLookup)
}
