package compiler

import (
	"github.com/roach88/diel/internal/ir"
)

// AsyncViewSuffix names the event view an async output reads from.
const AsyncViewSuffix = "AsyncView"

// AsyncViewName returns the event view backing output name.
func AsyncViewName(output string) string {
	return output + AsyncViewSuffix
}

// ApplyAsyncPolicy rewrites every output that the planner evaluates on
// a remote engine (placement maps relation to its computing engine). The
// output's selection moves into an event view <output>AsyncView, whose
// local copy carries the request_timestep of the input that produced it,
// and the output becomes
//
//	SELECT * FROM <output>AsyncView
//	WHERE request_timestep = (SELECT MAX(request_timestep) FROM <output>AsyncView)
//
// so it shows the answer to the most recent request only. ast must be
// normalized. Returns the rewritten ast and the names of rewritten
// outputs, in declaration order.
func ApplyAsyncPolicy(ast *ir.Ast, placement map[string]ir.DbID) (*ir.Ast, []string, error) {
	out := ast.Clone()
	var rewritten []string
	for _, r := range ast.Relations {
		owner := placement[r.Name]
		if r.Kind != ir.Output || owner == 0 || owner == ir.LocalDbID {
			continue
		}
		view := r.Clone()
		view.Name = AsyncViewName(r.Name)
		view.Kind = ir.EventView
		if _, ok := view.Column(ColRequestTimestep); !ok {
			view.Columns = append(view.Columns, ir.Column{Name: ColRequestTimestep, Type: ir.TypeNumber})
		}

		output := r.Clone()
		output.Selection = latestRequestSelection(view.Name)
		output.Constraints = nil
		output, err := NormalizeRelation(output, []*ir.Relation{view})
		if err != nil {
			return nil, nil, err
		}

		out.Replace(output)
		out.Relations = append(out.Relations, view)
		rewritten = append(rewritten, r.Name)
	}
	return out, rewritten, nil
}

func latestRequestSelection(view string) *ir.Selection {
	ts := ir.ColumnRef{Relation: view, Column: ColRequestTimestep, Type: ir.TypeNumber}
	maxSel := &ir.Selection{Units: []ir.CompositeUnit{{Unit: ir.SelectionUnit{
		Columns: []ir.ColumnSelection{{Expr: ir.FuncCall{Name: "max", Args: []ir.Expr{ts}}}},
		Base:    &ir.RelationRef{Name: view},
	}}}}
	return &ir.Selection{Units: []ir.CompositeUnit{{Unit: ir.SelectionUnit{
		Columns: []ir.ColumnSelection{{Expr: ir.Star{}}},
		Base:    &ir.RelationRef{Name: view},
		Where:   ir.Binary{Op: "=", Left: ts, Right: ir.SubqueryExpr{Selection: maxSel}},
	}}}}
}
