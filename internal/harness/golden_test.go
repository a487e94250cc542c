package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRunWithGolden_Clicks compares the local click scenario with its
// golden trace. Regenerate with -update.
func TestRunWithGolden_Clicks(t *testing.T) {
	scenario, err := LoadScenario("../../testdata/scenarios/clicks_total.yaml")
	require.NoError(t, err)
	require.NoError(t, RunWithGolden(t, scenario))
}

func TestMarshalSnapshot_Deterministic(t *testing.T) {
	result := NewResult()
	result.Trace = append(result.Trace, TraceEvent{
		Step:     0,
		Type:     EventInput,
		Target:   "clicks",
		Timestep: 1,
		Outputs: map[string][]map[string]any{
			"z": {{"b": int64(2), "a": "x"}},
			"a": {},
		},
	})

	first, err := MarshalSnapshot("s", result)
	require.NoError(t, err)
	second, err := MarshalSnapshot("s", result)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	out := string(first)
	assert.Less(t, strings.Index(out, `"a": []`), strings.Index(out, `"z": [`))
	assert.Less(t, strings.Index(out, `"a": "x"`), strings.Index(out, `"b": 2`))
	assert.NotContains(t, out, `"error"`)
}
