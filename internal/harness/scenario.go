package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/catsync/internal/record"
)

// Scenario is one scripted run.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one of Upstream, Sync or Curate.
type Step struct {
	Upstream *UpstreamStep `yaml:"upstream,omitempty"`
	Sync     *SyncStep     `yaml:"sync,omitempty"`
	Curate   *CurateStep   `yaml:"curate,omitempty"`

	// Expect is checked after the step. If nil, the step must succeed.
	Expect *StepExpect `yaml:"expect,omitempty"`
}

// UpstreamStep publishes one upstream revision.
type UpstreamStep struct {
	Cursor string `yaml:"cursor"`
	// Records are the candidate documents changed in this revision, by type.
	Records map[record.Type][]record.Candidate `yaml:"records"`
	// Touch lists ids changed in the revision without a new document, for
	// example ids whose document is missing.
	Touch map[record.Type][]string `yaml:"touch,omitempty"`
}

// SyncStep runs one sync pass.
type SyncStep struct {
	Type  record.Type `yaml:"type"`
	Force bool        `yaml:"force,omitempty"`
}

// Curation operations.
const (
	OpCreate   = "create"
	OpEdit     = "edit"
	OpWithdraw = "withdraw"
	OpMerge    = "merge"
	OpRestore  = "restore"
	OpReset    = "reset"
)

// CurateStep runs one curator operation.
type CurateStep struct {
	Op    string      `yaml:"op"`
	ID    string      `yaml:"id,omitempty"`
	Type  record.Type `yaml:"type,omitempty"` // create only
	Actor string      `yaml:"actor"`
	// Fields is the patch for edit and the initial fields for create. A null
	// value removes the field on edit.
	Fields map[string]any `yaml:"fields,omitempty"`
	// Target is the canonical record for merge.
	Target string `yaml:"target,omitempty"`
	// EditVersion, when set, is the edit_version the curator last saw.
	EditVersion *int64 `yaml:"edit_version,omitempty"`
	// As names the created record so later steps can refer to it as $name.
	As string `yaml:"as,omitempty"`
}

// StepExpect specifies the expected outcome of a step.
type StepExpect struct {
	// Error is the expected error code; empty means success.
	Error string `yaml:"error,omitempty"`
	// Report is a subset match on sync report counters: created, updated,
	// skipped, withdrawn, duplicated, errors, warnings, and any import
	// result name (skipped_modified, skipped_inactive, ...).
	Report map[string]int `yaml:"report,omitempty"`
	// Advanced checks whether a sync step advanced the checkpoint.
	Advanced *bool `yaml:"advanced,omitempty"`
}

// Assertion validates the final state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// ID is the record id (record). May be a $name from a create step.
	ID string `yaml:"id,omitempty"`
	// Absent asserts the record does not exist (record).
	Absent bool `yaml:"absent,omitempty"`
	// Expect is a subset match on the record view (record). Keys are diff
	// names plus origin and import.last_result.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Entity, Action and Actor filter events (audit_count, audit_order).
	Entity string `yaml:"entity,omitempty"`
	Action string `yaml:"action,omitempty"`
	Actor  string `yaml:"actor,omitempty"`
	// Count is the expected number of events (audit_count).
	Count int `yaml:"count,omitempty"`
	// Actions is the expected action sequence (audit_order).
	Actions []string `yaml:"actions,omitempty"`

	// RecordType selects the type (checkpoint, integrity).
	RecordType record.Type `yaml:"record_type,omitempty"`
	// Cursor is the expected checkpoint cursor; empty means none (checkpoint).
	Cursor string `yaml:"cursor,omitempty"`
	// Issues are the expected issue kinds in record id order (integrity).
	Issues []string `yaml:"issues,omitempty"`
}

// Assertion type constants.
const (
	AssertRecord     = "record"
	AssertAuditCount = "audit_count"
	AssertAuditOrder = "audit_order"
	AssertCheckpoint = "checkpoint"
	AssertIntegrity  = "integrity"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step *Step) error {
	kinds := 0
	for _, set := range []bool{step.Upstream != nil, step.Sync != nil, step.Curate != nil} {
		if set {
			kinds++
		}
	}
	if kinds != 1 {
		return fmt.Errorf("steps[%d]: exactly one of upstream, sync, curate is required", i)
	}

	switch {
	case step.Upstream != nil:
		if step.Upstream.Cursor == "" {
			return fmt.Errorf("steps[%d].upstream: cursor is required", i)
		}
		for t, cands := range step.Upstream.Records {
			if _, err := record.ParseType(string(t)); err != nil {
				return fmt.Errorf("steps[%d].upstream: %w", i, err)
			}
			for j, c := range cands {
				if c.ID == "" {
					return fmt.Errorf("steps[%d].upstream.records.%s[%d]: id is required", i, t, j)
				}
			}
		}
	case step.Sync != nil:
		if _, err := record.ParseType(string(step.Sync.Type)); err != nil {
			return fmt.Errorf("steps[%d].sync: %w", i, err)
		}
	case step.Curate != nil:
		c := step.Curate
		if c.Actor == "" {
			return fmt.Errorf("steps[%d].curate: actor is required", i)
		}
		switch c.Op {
		case OpCreate:
			if _, err := record.ParseType(string(c.Type)); err != nil {
				return fmt.Errorf("steps[%d].curate: %w", i, err)
			}
		case OpEdit, OpWithdraw, OpRestore, OpReset, OpMerge:
			if c.ID == "" {
				return fmt.Errorf("steps[%d].curate: id is required for %s", i, c.Op)
			}
			if c.Op == OpMerge && c.Target == "" {
				return fmt.Errorf("steps[%d].curate: target is required for merge", i)
			}
		default:
			return fmt.Errorf("steps[%d].curate: unknown op %q", i, c.Op)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertRecord:
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for record", index)
		}
		if !a.Absent && len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect or absent is required for record", index)
		}
	case AssertAuditCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for audit_count", index)
		}
	case AssertAuditOrder:
		if a.Entity == "" || len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: entity and actions are required for audit_order", index)
		}
	case AssertCheckpoint, AssertIntegrity:
		if _, err := record.ParseType(string(a.RecordType)); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
