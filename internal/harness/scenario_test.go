package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/catsync/internal/record"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
steps:
  - upstream:
      cursor: r1
      records:
        work:
          - id: W1
            updated_at: 2024-01-01T00:00:00Z
            fields:
              prefLabel_bo: ka
              db_score: 1.5
  - sync:
      type: work
  - curate:
      op: edit
      id: W1
      actor: "curator:a"
      edit_version: 0
      fields:
        author: P1
assertions:
  - type: record
    id: W1
    expect:
      author: P1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	require.Len(t, scenario.Steps, 3)
	assert.Len(t, scenario.Assertions, 1)

	cands := scenario.Steps[0].Upstream.Records[record.TypeWork]
	require.Len(t, cands, 1)
	assert.Equal(t, "ka", cands[0].Fields.PrefLabelBo)
	require.NotNil(t, cands[0].SourceUpdatedAt)
	assert.Equal(t, 2024, cands[0].SourceUpdatedAt.Year())
	require.NotNil(t, cands[0].Fields.DBScore)
	assert.InDelta(t, 1.5, *cands[0].Fields.DBScore, 0)

	assert.Equal(t, record.TypeWork, scenario.Steps[1].Sync.Type)

	c := scenario.Steps[2].Curate
	assert.Equal(t, OpEdit, c.Op)
	require.NotNil(t, c.EditVersion)
	assert.Equal(t, int64(0), *c.EditVersion)
	assert.Equal(t, "P1", c.Fields["author"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_UnknownField(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: "typo"
steps:
  - sync:
      type: work
assertion:
  - type: checkpoint
    record_type: work
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsteps: [{sync: {type: work}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsteps: [{sync: {type: work}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: "description is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			yaml:    "name: n\ndescription: d\nsteps: [{sync: {type: work}}]",
			wantErr: "assertions list is required",
		},
		{
			name:    "two kinds in one step",
			yaml:    "name: n\ndescription: d\nsteps: [{sync: {type: work}, curate: {op: reset, id: W1, actor: a}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: "exactly one of upstream, sync, curate",
		},
		{
			name:    "unknown sync type",
			yaml:    "name: n\ndescription: d\nsteps: [{sync: {type: place}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: `unknown record type "place"`,
		},
		{
			name:    "upstream without cursor",
			yaml:    "name: n\ndescription: d\nsteps: [{upstream: {records: {}}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: "cursor is required",
		},
		{
			name:    "curate without actor",
			yaml:    "name: n\ndescription: d\nsteps: [{curate: {op: reset, id: W1}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: "actor is required",
		},
		{
			name:    "merge without target",
			yaml:    "name: n\ndescription: d\nsteps: [{curate: {op: merge, id: W1, actor: a}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: "target is required for merge",
		},
		{
			name:    "unknown op",
			yaml:    "name: n\ndescription: d\nsteps: [{curate: {op: delete, id: W1, actor: a}}]\nassertions: [{type: checkpoint, record_type: work}]",
			wantErr: `unknown op "delete"`,
		},
		{
			name:    "record assertion without expect",
			yaml:    "name: n\ndescription: d\nsteps: [{sync: {type: work}}]\nassertions: [{type: record, id: W1}]",
			wantErr: "expect or absent is required",
		},
		{
			name:    "unknown assertion",
			yaml:    "name: n\ndescription: d\nsteps: [{sync: {type: work}}]\nassertions: [{type: trace_contains}]",
			wantErr: `unknown assertion type "trace_contains"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			require.NoError(t, err)
		})
	}
}
