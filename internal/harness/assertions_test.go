package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/querysql"
)

func TestValuesMatch(t *testing.T) {
	tests := []struct {
		name     string
		expected any
		actual   any
		want     bool
	}{
		{"nil both", nil, nil, true},
		{"nil expected", nil, int64(1), false},
		{"nil actual", 1, nil, false},
		{"int vs int64", 3, int64(3), true},
		{"int vs float", 3, float64(3), true},
		{"float vs int64", 2.5, int64(2), false},
		{"int vs string", 3, "3", false},
		{"string", "a", "a", true},
		{"string mismatch", "a", "b", false},
		{"bool vs int", true, int64(1), true},
		{"bool false vs int", false, int64(0), true},
		{"bool vs bool", true, false, false},
		{"list", []any{1}, []any{1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesMatch(tt.expected, tt.actual))
		})
	}
}

// TestMatchRows_Multiset ignores order and unnamed columns but not
// duplicates.
func TestMatchRows_Multiset(t *testing.T) {
	got := []map[string]any{
		{"a": int64(1), "request_timestep": int64(2)},
		{"a": int64(1), "request_timestep": int64(3)},
		{"a": int64(2), "request_timestep": int64(3)},
	}
	assert.NoError(t, matchRows(got, []map[string]any{{"a": 2}, {"a": 1}, {"a": 1}}))
	assert.NoError(t, matchRows(got, []map[string]any{{"a": 1, "request_timestep": 3}, {"a": 1}, {"a": 2}}))

	err := matchRows(got, []map[string]any{{"a": 2}, {"a": 2}, {"a": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no row matches")

	err = matchRows(got, []map[string]any{{"a": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got 3 rows")

	assert.NoError(t, matchRows([]map[string]any{}, nil))
}

func TestSortedRecords_StableOrder(t *testing.T) {
	res := &querysql.Result{
		Columns: []string{"label", "x"},
		Rows:    [][]any{{"c", int64(3)}, {"a", int64(1)}, {"b", int64(2)}},
	}
	rows := sortedRecords(res)
	require.Len(t, rows, 3)
	assert.Equal(t, "a", rows[0]["label"])
	assert.Equal(t, "b", rows[1]["label"])
	assert.Equal(t, "c", rows[2]["label"])

	empty := sortedRecords(&querysql.Result{Columns: []string{"x"}})
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestFormatWhereClause(t *testing.T) {
	assert.Equal(t, "(no conditions)", formatWhereClause(nil))
	assert.Equal(t, "a=1 AND b=x", formatWhereClause(map[string]any{"b": "x", "a": 1}))
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{Type: AssertLedgerCount, Expected: "2 inputs", Actual: "1 inputs"}
	assert.Equal(t, "Assertion failed: ledger_count\n  Expected: 2 inputs\n  Actual: 1 inputs", err.Error())
}

// TestEvaluateAssertions_Failures reports each failing assertion once.
func TestEvaluateAssertions_Failures(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "every assertion fails",
		Source:      clicksSource,
		Steps:       []Step{{Input: "clicks", Row: map[string]any{"x": 4}}},
		Assertions: []Assertion{
			{Type: AssertOutputRows, Output: "total", Rows: []map[string]any{{"n": 2}}},
			{Type: AssertOutputCount, Output: "total", Count: 0},
			{Type: AssertLedgerCount, Count: 5},
			{Type: AssertFinalState, Table: "clicks", Where: map[string]any{"x": 9}, Expect: map[string]any{"x": 9}},
			{Type: AssertFinalState, Table: "clicks", Expect: map[string]any{"x": 5}},
			{Type: AssertFinalState, Table: "clicks", Expect: map[string]any{"nope": 1}},
			{Type: AssertFinalState, Table: "clicks; drop", Expect: map[string]any{"x": 1}},
			{Type: AssertOutputCount, Output: "missing"},
			{Type: "bogus"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 9)
	assert.Contains(t, result.Errors[0], "no row matches")
	assert.Contains(t, result.Errors[1], "1 rows")
	assert.Contains(t, result.Errors[2], "1 inputs")
	assert.Contains(t, result.Errors[3], "row not found")
	assert.Contains(t, result.Errors[4], `field "x" = 4`)
	assert.Contains(t, result.Errors[5], `field "nope" to exist`)
	assert.Contains(t, result.Errors[6], "invalid table name")
	assert.Contains(t, result.Errors[7], "output missing")
	assert.Contains(t, result.Errors[8], "unknown assertion type")
}
