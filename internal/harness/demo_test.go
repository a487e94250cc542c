package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDemoScenarios runs the scenarios shipped under testdata/scenarios.
// They double as examples for `diel test`.
func TestDemoScenarios(t *testing.T) {
	tests := []struct {
		name         string
		scenarioPath string
	}{
		{name: "clicks_total", scenarioPath: "../../testdata/scenarios/clicks_total.yaml"},
		{name: "remote_join", scenarioPath: "../../testdata/scenarios/remote_join.yaml"},
		{name: "async_sales", scenarioPath: "../../testdata/scenarios/async_sales.yaml"},
		{name: "remote_shared", scenarioPath: "../../testdata/scenarios/remote_shared.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := LoadScenario(tt.scenarioPath)
			require.NoError(t, err)
			assert.Equal(t, tt.name, scenario.Name)

			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(scenario.Steps))
		})
	}
}
