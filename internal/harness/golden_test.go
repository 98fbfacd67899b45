package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Golden traces pin the exact audit trail, including event and correlation
// ids, of scenarios whose ordering matters.
func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{
		"curated_record_survives_import",
		"upstream_lifecycle",
	} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, result.Errors)
		})
	}
}

func TestAssertGolden_ReusesResult(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/upstream_lifecycle.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NoError(t, AssertGolden(t, "upstream_lifecycle", result))
}

func TestTraceSnapshot_MarshalSortsDiffKeys(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/curated_record_survives_import.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	data, err := TraceSnapshot{ScenarioName: "x", Trace: result.Trace}.marshal()
	require.NoError(t, err)
	out := string(data)
	assert.Less(t, strings.Index(out, `"curation.edit_version"`), strings.Index(out, `"prefLabel_bo"`))
	assert.Less(t, strings.Index(out, `"prefLabel_bo"`), strings.Index(out, `"source.updated_at"`))
	assert.NotContains(t, out, "timestamp")
}
