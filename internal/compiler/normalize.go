package compiler

import (
	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// Implicit columns every event table carries.
const (
	ColTimestep        = "timestep"
	ColRequestTimestep = "request_timestep"
)

// scopeEntry is one relation visible in a selection unit.
type scopeEntry struct {
	label   string
	columns []ir.Column
}

type scope struct {
	entries []scopeEntry
	outer   *scope
	aliases map[string]ir.DataType // projection aliases usable in order by / having
}

func (s *scope) lookupQualified(rel, col string) (ir.Column, bool, bool) {
	for sc := s; sc != nil; sc = sc.outer {
		for _, e := range sc.entries {
			if ir.SameName(e.label, rel) {
				for _, c := range e.columns {
					if ir.SameName(c.Name, col) {
						return c, true, true
					}
				}
				return ir.Column{}, true, false
			}
		}
	}
	return ir.Column{}, false, false
}

func (s *scope) lookup(col string) (string, ir.Column, bool) {
	for sc := s; sc != nil; sc = sc.outer {
		for _, e := range sc.entries {
			for _, c := range e.columns {
				if ir.SameName(c.Name, col) {
					return e.label, c, true
				}
			}
		}
	}
	return "", ir.Column{}, false
}

type normalizer struct {
	relations map[string]*ir.Relation
	owner     string
}

// Normalize returns a copy of ast in which:
//   - event tables carry the implicit timestep and request_timestep columns
//   - every column reference in a derived relation is qualified by the
//     relation (or alias) it resolves to and carries its data type
//   - every derived relation's Columns list the names and inferred types
//     its first selection unit produces
//
// Relations are processed in order (a topological order of the
// dependency tree) so a view referencing another view sees its final
// columns. Relations missing from order are processed afterwards in
// declaration order. ast is not modified.
func Normalize(ast *ir.Ast, order []string) (*ir.Ast, error) {
	out := ast.Clone()
	n := &normalizer{relations: make(map[string]*ir.Relation, len(ast.Relations))}

	for _, r := range ast.Relations {
		if r.Kind == ir.EventTable {
			r = withEventColumns(r)
			out.Replace(r)
		}
		n.relations[r.Name] = r
	}

	done := make(map[string]bool)
	visit := func(name string) error {
		if done[name] {
			return nil
		}
		done[name] = true
		r, ok := n.relations[name]
		if !ok || r.Selection == nil {
			return nil
		}
		nr, err := n.normalizeRelation(r)
		if err != nil {
			return err
		}
		n.relations[name] = nr
		out.Replace(nr)
		return nil
	}
	for _, name := range order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	for _, r := range ast.Relations {
		if err := visit(r.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func withEventColumns(r *ir.Relation) *ir.Relation {
	_, hasTs := r.Column(ColTimestep)
	_, hasReq := r.Column(ColRequestTimestep)
	if hasTs && hasReq {
		return r
	}
	cp := r.Clone()
	if !hasTs {
		cp.Columns = append(cp.Columns, ir.Column{Name: ColTimestep, Type: ir.TypeNumber, Constraints: ir.ColumnConstraints{NotNull: true}})
	}
	if !hasReq {
		cp.Columns = append(cp.Columns, ir.Column{Name: ColRequestTimestep, Type: ir.TypeNumber})
	}
	return cp
}

// NormalizeRelation normalizes a single derived relation against the
// given already-normalized relations. Used for relations added to a
// running program.
func NormalizeRelation(r *ir.Relation, known []*ir.Relation) (*ir.Relation, error) {
	n := &normalizer{relations: make(map[string]*ir.Relation, len(known))}
	for _, k := range known {
		n.relations[k.Name] = k
	}
	return n.normalizeRelation(r)
}

func (n *normalizer) normalizeRelation(r *ir.Relation) (*ir.Relation, error) {
	n.owner = r.Name
	sel, cols, err := n.selection(r.Selection, nil)
	if err != nil {
		return nil, err
	}
	cp := r.Clone()
	cp.Selection = sel
	cp.Columns = cols
	if cp.Constraints == nil {
		cp.Constraints = ir.DefaultConstraints()
	}
	return cp, nil
}

// selection normalizes every unit and returns the output columns of the
// first one.
func (n *normalizer) selection(sel *ir.Selection, outer *scope) (*ir.Selection, []ir.Column, error) {
	out := &ir.Selection{Units: make([]ir.CompositeUnit, len(sel.Units))}
	var cols []ir.Column
	for i, cu := range sel.Units {
		unit, ucols, err := n.unit(cu.Unit, outer)
		if err != nil {
			return nil, nil, err
		}
		out.Units[i] = ir.CompositeUnit{Op: cu.Op, Unit: unit}
		if i == 0 {
			cols = ucols
		}
	}
	return out, cols, nil
}

func (n *normalizer) refColumns(ref ir.RelationRef, outer *scope) (ir.RelationRef, []ir.Column, error) {
	switch {
	case ref.Name != "":
		rel, ok := n.relations[ref.Name]
		if !ok {
			return ref, nil, report.ErrUndefinedRelation.New(ref.Name, n.owner)
		}
		return ref, rel.Columns, nil
	case ref.Subquery != nil:
		sub, cols, err := n.selection(ref.Subquery, outer)
		if err != nil {
			return ref, nil, err
		}
		ref.Subquery = sub
		return ref, cols, nil
	}
	return ref, nil, report.ErrMalformedAst.New(n.owner, "relation reference has no name and no subquery")
}

func (n *normalizer) unit(u ir.SelectionUnit, outer *scope) (ir.SelectionUnit, []ir.Column, error) {
	sc := &scope{outer: outer, aliases: map[string]ir.DataType{}}

	if u.Base != nil {
		base, cols, err := n.refColumns(*u.Base, outer)
		if err != nil {
			return u, nil, err
		}
		u.Base = &base
		sc.entries = append(sc.entries, scopeEntry{label: base.Label(), columns: cols})
	}
	joins := make([]ir.Join, len(u.Joins))
	for i, j := range u.Joins {
		ref, cols, err := n.refColumns(j.Ref, outer)
		if err != nil {
			return u, nil, err
		}
		j.Ref = ref
		joins[i] = j
		sc.entries = append(sc.entries, scopeEntry{label: ref.Label(), columns: cols})
	}
	u.Joins = joins

	var firstErr error
	resolve := func(e ir.Expr) ir.Expr {
		if e == nil {
			return nil
		}
		out, err := n.expr(e, sc)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		return out
	}

	for i := range u.Joins {
		u.Joins[i].On = resolve(u.Joins[i].On)
	}

	var outCols []ir.Column
	cols := make([]ir.ColumnSelection, len(u.Columns))
	for i, c := range u.Columns {
		if star, ok := c.Expr.(ir.Star); ok {
			cols[i] = c
			for _, e := range sc.entries {
				if star.Relation == "" || ir.SameName(star.Relation, e.label) {
					for _, col := range e.columns {
						outCols = append(outCols, ir.Column{Name: col.Name, Type: col.Type})
					}
				}
			}
			continue
		}
		expr := resolve(c.Expr)
		cols[i] = ir.ColumnSelection{Expr: expr, Alias: c.Alias}
		name := cols[i].OutputName()
		typ := inferType(expr)
		outCols = append(outCols, ir.Column{Name: name, Type: typ})
		if c.Alias != "" {
			sc.aliases[c.Alias] = typ
		}
	}
	u.Columns = cols

	u.Where = resolve(u.Where)
	if u.GroupBy != nil {
		gb := make([]ir.Expr, len(u.GroupBy))
		for i, g := range u.GroupBy {
			gb[i] = resolve(g)
		}
		u.GroupBy = gb
	}
	u.Having = resolve(u.Having)
	if u.OrderBy != nil {
		ob := make([]ir.Order, len(u.OrderBy))
		for i, o := range u.OrderBy {
			ob[i] = ir.Order{Expr: resolve(o.Expr), Desc: o.Desc}
		}
		u.OrderBy = ob
	}
	if firstErr != nil {
		return u, nil, firstErr
	}
	return u, outCols, nil
}

// expr qualifies and types column references. Subqueries are
// normalized with sc as their outer scope so correlated references
// resolve.
func (n *normalizer) expr(e ir.Expr, sc *scope) (ir.Expr, error) {
	var firstErr error
	fail := func(err error) {
		if firstErr == nil {
			firstErr = err
		}
	}
	var rewrite func(ir.Expr) ir.Expr
	rewrite = func(x ir.Expr) ir.Expr {
		switch v := x.(type) {
		case ir.ColumnRef:
			if v.Relation != "" {
				col, relFound, colFound := sc.lookupQualified(v.Relation, v.Column)
				switch {
				case !relFound:
					fail(report.ErrUndefinedRelation.New(v.Relation, n.owner))
				case !colFound:
					fail(report.ErrUnknownColumn.New(v.Column, v.Relation))
				default:
					v.Type = col.Type
				}
				return v
			}
			if label, col, ok := sc.lookup(v.Column); ok {
				return ir.ColumnRef{Relation: label, Column: v.Column, Type: col.Type}
			}
			if t, ok := sc.aliases[v.Column]; ok {
				v.Type = t
				return v
			}
			fail(report.ErrUnknownColumn.New(v.Column, n.owner))
			return v
		case ir.SubqueryExpr:
			sub, _, err := n.selection(v.Selection, sc)
			if err != nil {
				fail(err)
				return v
			}
			return ir.SubqueryExpr{Selection: sub}
		}
		return rebuild(x, rewrite)
	}
	out := rewrite(e)
	return out, firstErr
}

// rebuild applies fn to the direct children of e. Column refs and
// subqueries are leaves for this purpose.
func rebuild(e ir.Expr, fn func(ir.Expr) ir.Expr) ir.Expr {
	switch v := e.(type) {
	case ir.FuncCall:
		args := make([]ir.Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = fn(a)
		}
		v.Args = args
		return v
	case ir.Binary:
		v.Left, v.Right = fn(v.Left), fn(v.Right)
		return v
	case ir.Unary:
		v.Operand = fn(v.Operand)
		return v
	case ir.Paren:
		v.Inner = fn(v.Inner)
		return v
	case ir.Between:
		v.Operand, v.Low, v.High = fn(v.Operand), fn(v.Low), fn(v.High)
		return v
	case ir.Tuple:
		items := make([]ir.Expr, len(v.Items))
		for i, it := range v.Items {
			items[i] = fn(it)
		}
		v.Items = items
		return v
	}
	return e
}

var (
	numericFuncs  = map[string]bool{"count": true, "sum": true, "avg": true, "total": true, "length": true, "round": true, "random": true}
	stringFuncs   = map[string]bool{"lower": true, "upper": true, "substr": true, "trim": true, "replace": true, "strftime": true, "printf": true, "concat": true}
	passThrough   = map[string]bool{"min": true, "max": true, "coalesce": true, "ifnull": true, "abs": true}
	booleanBinary = map[string]bool{"=": true, "<>": true, "!=": true, "<": true, ">": true, "<=": true, ">=": true,
		"and": true, "or": true, "in": true, "not in": true, "like": true, "not like": true, "<=>": true}
)

// inferType derives the data type of an expression from its normalized
// column references and operators.
func inferType(e ir.Expr) ir.DataType {
	switch v := e.(type) {
	case ir.ColumnRef:
		return v.Type
	case ir.Literal:
		return v.Type
	case ir.FuncCall:
		switch {
		case numericFuncs[v.Name]:
			return ir.TypeNumber
		case stringFuncs[v.Name]:
			return ir.TypeString
		case v.Name == "datetime" || v.Name == "date":
			return ir.TypeTimestamp
		case passThrough[v.Name] && len(v.Args) > 0:
			return inferType(v.Args[0])
		}
	case ir.Binary:
		if booleanBinary[v.Op] {
			return ir.TypeBoolean
		}
		return ir.TypeNumber
	case ir.Unary:
		if v.Op == ir.OpNegate {
			return ir.TypeNumber
		}
		return ir.TypeBoolean
	case ir.Paren:
		return inferType(v.Inner)
	case ir.Between:
		return ir.TypeBoolean
	case ir.SubqueryExpr:
		if u := v.Selection.First(); u != nil && len(u.Columns) > 0 {
			return inferType(u.Columns[0].Expr)
		}
	}
	return ir.TypeUnknown
}
