package compiler

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// prepare runs the passes that precede materialization.
func prepare(t *testing.T, src string) (*ir.Ast, DependencyTree, []string) {
	t.Helper()
	ast := mustProgram(t, src)
	tree := mustTree(t, ast)
	order, err := TopoSort(tree)
	require.NoError(t, err)
	normalized, err := Normalize(ast, order)
	require.NoError(t, err)
	return normalized, Augment(tree, normalized), order
}

// TestMaterialize_SharedView rewrites a view used twice into a table kept
// by a program on its input.
func TestMaterialize_SharedView(t *testing.T) {
	ast, tree, order := prepare(t, sharedView)
	view, _ := ast.Relation("big")

	out, err := Materialize(ast, tree, order, MaterializeOptions{})
	require.NoError(t, err)

	table, ok := out.Relation("big")
	require.True(t, ok)
	assert.Equal(t, ir.DerivedTable, table.Kind)
	assert.Equal(t, []ir.Column{{Name: "x", Type: ir.TypeNumber, Constraints: ir.ColumnConstraints{NotNull: true}}}, table.Columns)
	assert.Equal(t, []string{}, table.Constraints.NotNull)

	prog, ok := out.Program("clicks")
	require.True(t, ok)
	assert.Equal(t, []ir.Command{
		ir.DeleteCommand{Relation: "big"},
		ir.InsertCommand{Relation: "big", Selection: view.Selection},
	}, prog.Commands)
	assert.Equal(t, []ir.Command{ir.InsertCommand{Relation: "big", Selection: view.Selection}}, out.Commands)

	orig, _ := ast.Relation("big")
	assert.Equal(t, ir.View, orig.Kind, "input ast must not change")
	assert.Empty(t, ast.Programs)
}

// TestMaterialize_LowFanInNoop leaves views read by at most one relation alone.
func TestMaterialize_LowFanInNoop(t *testing.T) {
	ast, tree, order := prepare(t, scenarioB)
	out, err := Materialize(ast, tree, order, MaterializeOptions{})
	require.NoError(t, err)
	assert.Equal(t, ast.Relations, out.Relations)
	assert.Empty(t, out.Programs)
	assert.Empty(t, out.Commands)
}

// TestMaterialize_Native attaches refresh triggers instead of rewriting.
func TestMaterialize_Native(t *testing.T) {
	ast, tree, order := prepare(t, sharedView)
	out, err := Materialize(ast, tree, order, MaterializeOptions{NativeMaterializedViews: true})
	require.NoError(t, err)

	mv, _ := out.Relation("big")
	assert.Equal(t, ir.View, mv.Kind)
	assert.True(t, mv.Materialized)
	assert.Equal(t, []ir.TriggerMeta{{Name: "refresh_mat_view_big_clicks", On: "clicks"}}, mv.Triggers)
	assert.Empty(t, out.Programs)
}

const staticView = `
relations: {
	consts: {kind: "view", sql: "select 1 as one"}
	a: {kind: "output", sql: "select one from consts"}
	b: {kind: "output", sql: "select one + 1 as two from consts"}
}
`

// TestMaterialize_Static populates a view without inputs once.
func TestMaterialize_Static(t *testing.T) {
	ast, tree, order := prepare(t, staticView)
	out, err := Materialize(ast, tree, order, MaterializeOptions{})
	require.NoError(t, err)

	table, _ := out.Relation("consts")
	assert.Equal(t, ir.DerivedTable, table.Kind)
	assert.Empty(t, out.Programs)
	require.Len(t, out.Commands, 1)
	assert.Equal(t, "consts", out.Commands[0].Target())
}

const unnamedShared = `
relations: {
	clicks: {kind: "event", columns: [{name: "x", type: "number"}]}
	bad: {kind: "view", sql: "select x + 1 from clicks"}
	a: {kind: "output", sql: "select * from bad"}
	b: {kind: "output", sql: "select * from bad"}
}
`

// TestMaterialize_MissingAlias is a user error in strict mode and skips
// the view in lenient mode.
func TestMaterialize_MissingAlias(t *testing.T) {
	ast, tree, order := prepare(t, unnamedShared)

	_, err := Materialize(ast, tree, order, MaterializeOptions{Reporter: report.New(true, nil)})
	require.Error(t, err)
	assert.True(t, report.Is(err, report.ErrMissingAlias))

	var buf bytes.Buffer
	out, err := Materialize(ast, tree, order, MaterializeOptions{
		Reporter: report.New(false, slog.New(slog.NewTextHandler(&buf, nil))),
	})
	require.NoError(t, err)
	bad, _ := out.Relation("bad")
	assert.Equal(t, ir.View, bad.Kind)
	assert.Contains(t, buf.String(), "needs an alias")
}

// TestMaterialize_IncrementalScope reads the triggering row only for
// non-aggregate views.
func TestMaterialize_IncrementalScope(t *testing.T) {
	ast, tree, order := prepare(t, sharedView)
	out, err := Materialize(ast, tree, order, MaterializeOptions{IncrementalScope: true})
	require.NoError(t, err)

	prog, _ := out.Program("clicks")
	ins := prog.Commands[1].(ir.InsertCommand)
	u := ins.Selection.Units[0].Unit
	assert.Nil(t, u.Base)
	assert.Equal(t, ir.ColumnRef{Relation: NewRowRelation, Column: "x", Type: ir.TypeNumber}, u.Columns[0].Expr)
}

// TestTranslateConstraints_Split moves single-column constraints to columns.
func TestTranslateConstraints_Split(t *testing.T) {
	check := ir.Binary{Op: ">", Left: ir.ColumnRef{Column: "a"}, Right: ir.Literal{Type: ir.TypeNumber, Value: "0"}}
	cols := []ir.Column{{Name: "a"}, {Name: "b"}, {Name: "c"}}

	got, c := TranslateConstraints(cols, &ir.Constraints{
		NotNull:    []string{"a", "z"},
		Uniques:    [][]string{{"b"}, {"a", "c"}},
		Checks:     []ir.Expr{check},
		PrimaryKey: []string{"a"},
	})

	assert.True(t, got[0].Constraints.NotNull)
	assert.True(t, got[1].Constraints.Unique)
	assert.False(t, cols[0].Constraints.NotNull, "input columns must not change")
	assert.Equal(t, []string{"z"}, c.NotNull)
	assert.Equal(t, [][]string{{"a", "c"}}, c.Uniques)
	assert.Equal(t, []ir.Expr{check}, c.Checks)
	assert.Equal(t, []string{"a"}, c.PrimaryKey)
}

// TestTranslateConstraints_None yields the explicit empty set.
func TestTranslateConstraints_None(t *testing.T) {
	cols := []ir.Column{{Name: "a"}}
	got, c := TranslateConstraints(cols, nil)
	assert.Equal(t, cols, got)
	require.NotNil(t, c)
	assert.Equal(t, ir.DefaultConstraints(), c)
}
