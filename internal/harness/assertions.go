package harness

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/roach88/diel/internal/engine"
	"github.com/roach88/diel/internal/querysql"
)

// validIdentifier matches table names final_state may interpolate.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("Assertion failed: %s\n  Expected: %s\n  Actual: %s", e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions evaluates all assertions against the runtime's
// final state and returns a message per failure.
func EvaluateAssertions(ctx context.Context, rt *engine.Runtime, assertions []Assertion) []string {
	var errors []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertOutputRows:
			err = assertOutputRows(ctx, rt, a)
		case AssertOutputCount:
			err = assertOutputCount(ctx, rt, a)
		case AssertLedgerCount:
			err = assertLedgerCount(ctx, rt, a)
		case AssertFinalState:
			err = assertFinalState(ctx, rt, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}

func assertOutputRows(ctx context.Context, rt *engine.Runtime, a Assertion) error {
	res, err := rt.Output(ctx, a.Output)
	if err != nil {
		return &AssertionError{Type: AssertOutputRows, Expected: "output " + a.Output, Actual: err.Error()}
	}
	if err := matchRows(sortedRecords(res), a.Rows); err != nil {
		return &AssertionError{Type: AssertOutputRows, Expected: fmt.Sprintf("%s rows %v", a.Output, a.Rows), Actual: err.Error()}
	}
	return nil
}

func assertOutputCount(ctx context.Context, rt *engine.Runtime, a Assertion) error {
	res, err := rt.Output(ctx, a.Output)
	if err != nil {
		return &AssertionError{Type: AssertOutputCount, Expected: "output " + a.Output, Actual: err.Error()}
	}
	if res.Len() != a.Count {
		return &AssertionError{
			Type:     AssertOutputCount,
			Expected: fmt.Sprintf("%d rows in %s", a.Count, a.Output),
			Actual:   fmt.Sprintf("%d rows", res.Len()),
		}
	}
	return nil
}

func assertLedgerCount(ctx context.Context, rt *engine.Runtime, a Assertion) error {
	entries, err := rt.Store().Inputs(ctx)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	if len(entries) != a.Count {
		return &AssertionError{
			Type:     AssertLedgerCount,
			Expected: fmt.Sprintf("%d inputs", a.Count),
			Actual:   fmt.Sprintf("%d inputs", len(entries)),
		}
	}
	return nil
}

// assertFinalState checks the one row of a table matching Where.
func assertFinalState(ctx context.Context, rt *engine.Runtime, a Assertion) error {
	if !validIdentifier.MatchString(a.Table) {
		return fmt.Errorf("invalid table name %q: must match pattern %s", a.Table, validIdentifier.String())
	}
	res, err := query(ctx, rt, a.Engine, a.Table)
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", a.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	var matched []map[string]any
	for _, row := range res.Records() {
		if rowMatches(row, a.Where) {
			matched = append(matched, row)
		}
	}
	whereDesc := formatWhereClause(a.Where)
	switch len(matched) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", a.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", a.Table, whereDesc),
			Actual:   "multiple rows matched (assertion is ambiguous)",
		}
	}

	actual := matched[0]
	for _, key := range sortedKeys(a.Expect) {
		v, exists := actual[key]
		if !exists {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in result columns: %v", key, res.Columns),
			}
		}
		if !valuesMatch(a.Expect[key], v) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, a.Expect[key], a.Expect[key]),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, v, v),
			}
		}
	}
	return nil
}

// matchRows checks got against want as multisets. Each expected row is
// a subset match: columns it does not name are ignored.
func matchRows(got []map[string]any, want []map[string]any) error {
	if len(got) != len(want) {
		return fmt.Errorf("got %d rows %v, want %d", len(got), got, len(want))
	}
	used := make([]bool, len(got))
	for _, w := range want {
		found := false
		for i, g := range got {
			if !used[i] && rowMatches(g, w) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("no row matches %v in %v", w, got)
		}
	}
	return nil
}

func rowMatches(actual, expected map[string]any) bool {
	for k, want := range expected {
		got, ok := actual[k]
		if !ok || !valuesMatch(want, got) {
			return false
		}
	}
	return true
}

// valuesMatch compares an expected scenario value with a value read from
// an engine. Numbers compare by value, booleans also match 0 and 1.
func valuesMatch(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}
	switch exp := expected.(type) {
	case string:
		s, err := cast.ToStringE(actual)
		return err == nil && s == exp
	case bool:
		b, err := cast.ToBoolE(actual)
		return err == nil && b == exp
	case int, int32, int64, uint, uint32, uint64, float32, float64:
		if _, isString := actual.(string); isString {
			return false
		}
		a, err := cast.ToFloat64E(actual)
		if err != nil {
			return false
		}
		return a == cast.ToFloat64(exp)
	}
	return reflect.DeepEqual(expected, actual)
}

// sortedRecords returns res keyed by column, ordered by their values.
func sortedRecords(res *querysql.Result) []map[string]any {
	records := res.Records()
	out := make([]map[string]any, len(records))
	keys := make([]string, len(records))
	for i, r := range records {
		out[i] = r
		keys[i] = rowKey(r)
	}
	sort.Sort(byKey{rows: out, keys: keys})
	return out
}

type byKey struct {
	rows []map[string]any
	keys []string
}

func (b byKey) Len() int           { return len(b.rows) }
func (b byKey) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byKey) Swap(i, j int) {
	b.rows[i], b.rows[j] = b.rows[j], b.rows[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

func rowKey(r map[string]any) string {
	var buf strings.Builder
	for _, k := range sortedKeys(r) {
		fmt.Fprintf(&buf, "%s=%v;", k, r[k])
	}
	return buf.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatWhereClause describes the Where conditions for messages.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}
