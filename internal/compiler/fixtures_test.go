package compiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/ir"
)

// scenarioB has inputs i1 and i2 on the local engine, remote table r1 on
// engine 2, view v1 and event view e1 over all three, and output o1 over e1.
const scenarioB = `
relations: {
	i1: {kind: "event", columns: [{name: "a", type: "number"}]}
	i2: {kind: "event", columns: [{name: "a", type: "number"}]}
	r1: {kind: "table", remote: 2, columns: [{name: "a", type: "number"}]}
	v1: {kind: "view", sql: "select i1.a from i1 join i2 on i1.a = i2.a join r1 on r1.a = i1.a"}
	e1: {kind: "event view", sql: "select i1.a from i1 join i2 on i1.a = i2.a join r1 on r1.a = i1.a"}
	o1: {kind: "output", sql: "select * from e1"}
}
`

// sharedView has a view used by two outputs, so it is materialized.
const sharedView = `
relations: {
	clicks: {kind: "event", columns: [{name: "x", type: "number"}]}
	big: {
		kind: "view"
		sql:  "select x from clicks where x > 1"
		constraints: {notNull: ["x"]}
	}
	total: {kind: "output", sql: "select count(*) as n from big"}
	top:   {kind: "output", sql: "select max(x) as m from big"}
}
`

// remoteSharedView has a view over a local event and a table on engine
// 2, read by two outputs. It is materialized on engine 2.
const remoteSharedView = `
relations: {
	sales: {kind: "table", remote: 2, columns: [{name: "amount", type: "number"}]}
	req: {kind: "event", columns: [{name: "threshold", type: "number"}]}
	big: {kind: "view", sql: "select sales.amount as amount from sales join req on sales.amount > req.threshold"}
	hits: {kind: "output", sql: "select count(*) as n from big"}
	top: {kind: "output", sql: "select max(amount) as m from big"}
}
`

func mustProgram(t *testing.T, src string) *ir.Ast {
	t.Helper()
	ast, err := ParseProgram([]byte(src), "test.cue")
	require.NoError(t, err)
	return ast
}

func mustTree(t *testing.T, ast *ir.Ast) DependencyTree {
	t.Helper()
	tree, err := BuildDependencyTree(ast, nil)
	require.NoError(t, err)
	return Augment(tree, ast)
}

// linearTree is v1 -> v2 -> v3 -> v4 (v1 depends on v2, and so on).
func linearTree() DependencyTree {
	tree := DependencyTree{}
	tree.AddDependencies("v4", nil)
	tree.AddDependencies("v3", []string{"v4"})
	tree.AddDependencies("v2", []string{"v3"})
	tree.AddDependencies("v1", []string{"v2"})
	return tree
}
