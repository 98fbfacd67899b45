package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/roach88/catsync/internal/audit"
	"github.com/roach88/catsync/internal/lifecycle"
	"github.com/roach88/catsync/internal/record"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Trace    []audit.Event // Full audit trail for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %s/%s by %s %v\n", ev.Seq, ev.Action, ev.EntityType, ev.EntityID, ev.Actor, ev.Diff.Fields())
	}
	return buf.String()
}

// evaluateAssertions checks every assertion against the final state and
// returns one message per failure.
func (h *Harness) evaluateAssertions(ctx context.Context, assertions []Assertion, trail []audit.Event) []string {
	var msgs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRecord:
			err = h.assertRecord(ctx, a, trail)
		case AssertAuditCount:
			err = assertAuditCount(trail, a, h.resolve(a.Entity))
		case AssertAuditOrder:
			err = assertAuditOrder(trail, a, h.resolve(a.Entity))
		case AssertCheckpoint:
			err = h.assertCheckpoint(ctx, a, trail)
		case AssertIntegrity:
			err = h.assertIntegrity(ctx, a, trail)
		default:
			err = fmt.Errorf("unknown assertion type: %s", a.Type)
		}
		if err != nil {
			msgs = append(msgs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return msgs
}

// assertRecord checks the stored record against a subset of its view.
func (h *Harness) assertRecord(ctx context.Context, a Assertion, trail []audit.Event) error {
	id := h.resolve(a.ID)
	rec, err := h.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Absent {
		if rec != nil {
			return &AssertionError{Type: AssertRecord, Expected: id + " absent", Actual: "record exists", Trace: trail}
		}
		return nil
	}
	if rec == nil {
		return &AssertionError{Type: AssertRecord, Expected: id + " exists", Actual: "record not found", Trace: trail}
	}

	view := recordView(rec)
	for key, want := range a.Expect {
		got, ok := view[key]
		if want == nil && !ok {
			continue
		}
		if !ok || !reflect.DeepEqual(normalize(got), normalize(want)) {
			return &AssertionError{
				Type:     AssertRecord,
				Expected: fmt.Sprintf("%s.%s = %v", id, key, want),
				Actual:   fmt.Sprintf("%v", got),
				Trace:    trail,
			}
		}
	}
	return nil
}

// recordView flattens a record into the keys record assertions address.
func recordView(rec *record.Record) map[string]any {
	view := rec.Fields.Flatten()
	view[audit.FieldRecordStatus] = string(rec.Status)
	if rec.CanonicalID != "" {
		view[audit.FieldCanonicalID] = rec.CanonicalID
	}
	if rec.Source.UpdatedAt != nil {
		view[audit.FieldSourceUpdatedAt] = rec.Source.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	view[audit.FieldCurationModified] = rec.Curation.Modified
	view[audit.FieldCurationEditVersion] = rec.Curation.EditVersion
	if rec.Curation.ModifiedBy != nil {
		view["curation.modified_by"] = *rec.Curation.ModifiedBy
	}
	view["origin"] = string(rec.Origin)
	if rec.Import.LastResult != "" {
		view["import.last_result"] = string(rec.Import.LastResult)
	}
	return view
}

// normalize maps YAML and Go values onto their JSON shapes so 1, int64(1)
// and 1.0 compare equal.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func matchEvent(ev audit.Event, a Assertion, entity string) bool {
	return (entity == "" || ev.EntityID == entity) &&
		(a.Action == "" || string(ev.Action) == a.Action) &&
		(a.Actor == "" || ev.Actor == a.Actor)
}

// assertAuditCount checks the number of events matching the filters.
func assertAuditCount(trail []audit.Event, a Assertion, entity string) error {
	count := 0
	for _, ev := range trail {
		if matchEvent(ev, a, entity) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertAuditCount,
			Expected: fmt.Sprintf("%d events (entity=%q action=%q actor=%q)", a.Count, entity, a.Action, a.Actor),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trail,
		}
	}
	return nil
}

// assertAuditOrder checks the exact action sequence of one entity's events.
func assertAuditOrder(trail []audit.Event, a Assertion, entity string) error {
	var actions []string
	for _, ev := range trail {
		if ev.EntityID == entity {
			actions = append(actions, string(ev.Action))
		}
	}
	if !slices.Equal(actions, a.Actions) {
		return &AssertionError{
			Type:     AssertAuditOrder,
			Expected: fmt.Sprintf("%s actions %v", entity, a.Actions),
			Actual:   fmt.Sprintf("%v", actions),
			Trace:    trail,
		}
	}
	return nil
}

func (h *Harness) assertCheckpoint(ctx context.Context, a Assertion, trail []audit.Event) error {
	cp, err := h.tracker.Load(ctx, a.RecordType)
	if err != nil {
		return err
	}
	got := ""
	if cp != nil {
		got = cp.LastSourceCursor
	}
	if got != a.Cursor {
		return &AssertionError{
			Type:     AssertCheckpoint,
			Expected: fmt.Sprintf("%s cursor %q", a.RecordType, a.Cursor),
			Actual:   fmt.Sprintf("%q", got),
			Trace:    trail,
		}
	}
	return nil
}

func (h *Harness) assertIntegrity(ctx context.Context, a Assertion, trail []audit.Event) error {
	issues, err := lifecycle.CheckIntegrity(ctx, h.store, a.RecordType)
	if err != nil {
		return err
	}
	slices.SortFunc(issues, func(x, y lifecycle.Issue) int { return strings.Compare(x.RecordID, y.RecordID) })
	kinds := make([]string, 0, len(issues))
	for _, is := range issues {
		kinds = append(kinds, string(is.Kind))
	}
	want := a.Issues
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(kinds, want) {
		return &AssertionError{
			Type:     AssertIntegrity,
			Expected: fmt.Sprintf("%s issues %v", a.RecordType, want),
			Actual:   fmt.Sprintf("%v", kinds),
			Trace:    trail,
		}
	}
	return nil
}
