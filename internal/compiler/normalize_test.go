package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// TestNormalize_QualifiesAndTypes resolves bare columns and infers types.
func TestNormalize_QualifiesAndTypes(t *testing.T) {
	ast, _, _ := prepare(t, `
relations: {
	clicks: {kind: "event", columns: [{name: "x", type: "number"}, {name: "who", type: "string"}]}
	o: {kind: "output", sql: "select who, count(*) as n, x > 1 as big from clicks group by who"}
}
`)
	clicks, _ := ast.Relation("clicks")
	assert.Equal(t, []string{"x", "who", ColTimestep, ColRequestTimestep}, clicks.ColumnNames())

	o, _ := ast.Relation("o")
	assert.Equal(t, []ir.Column{
		{Name: "who", Type: ir.TypeString},
		{Name: "n", Type: ir.TypeNumber},
		{Name: "big", Type: ir.TypeBoolean},
	}, o.Columns)
	u := o.Selection.First()
	assert.Equal(t, ir.ColumnRef{Relation: "clicks", Column: "who", Type: ir.TypeString}, u.Columns[0].Expr)
	assert.Equal(t, []ir.Expr{ir.ColumnRef{Relation: "clicks", Column: "who", Type: ir.TypeString}}, u.GroupBy)
	assert.NotNil(t, o.Constraints)
}

// TestNormalize_StarAndAlias enumerates star columns through aliases and views.
func TestNormalize_StarAndAlias(t *testing.T) {
	ast, _, _ := prepare(t, `
relations: {
	t: {kind: "table", columns: [{name: "a", type: "number"}, {name: "b", type: "string"}]}
	v: {kind: "view", sql: "select q.* from t as q"}
	o: {kind: "output", sql: "select * from v where b = 'x'"}
}
`)
	o, _ := ast.Relation("o")
	assert.Equal(t, []string{"a", "b"}, o.ColumnNames())
	where := o.Selection.First().Where.(ir.Binary)
	assert.Equal(t, ir.ColumnRef{Relation: "v", Column: "b", Type: ir.TypeString}, where.Left)
}

// TestNormalize_Correlated resolves subquery refs through the outer scope.
func TestNormalize_Correlated(t *testing.T) {
	ast, _, _ := prepare(t, `
relations: {
	t: {kind: "table", columns: [{name: "a", type: "number"}]}
	u: {kind: "table", columns: [{name: "c", type: "number"}]}
	o: {kind: "output", sql: "select a from t where exists (select c from u where u.c = a)"}
}
`)
	o, _ := ast.Relation("o")
	sub := o.Selection.First().Where.(ir.Unary).Operand.(ir.SubqueryExpr)
	cond := sub.Selection.First().Where.(ir.Binary)
	assert.Equal(t, ir.ColumnRef{Relation: "t", Column: "a", Type: ir.TypeNumber}, cond.Right)
}

// TestNormalize_Errors reports unknown relations and columns.
func TestNormalize_Errors(t *testing.T) {
	for name, tt := range map[string]struct {
		src  string
		kind *errors.Kind
	}{
		"unknown column": {`relations: {
			t: {kind: "table", columns: [{name: "a", type: "number"}]}
			o: {kind: "output", sql: "select nope from t"}
		}`, report.ErrUnknownColumn},
		"unknown qualifier": {`relations: {
			t: {kind: "table", columns: [{name: "a", type: "number"}]}
			o: {kind: "output", sql: "select z.a from t"}
		}`, report.ErrUndefinedRelation},
		"undefined relation": {`relations: {
			o: {kind: "output", sql: "select a from missing"}
		}`, report.ErrUndefinedRelation},
	} {
		t.Run(name, func(t *testing.T) {
			ast := mustProgram(t, tt.src)
			tree := mustTree(t, ast)
			order, err := TopoSort(tree)
			require.NoError(t, err)
			_, err = Normalize(ast, order)
			require.Error(t, err)
			assert.True(t, report.Is(err, tt.kind), err.Error())
		})
	}
}
