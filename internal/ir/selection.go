package ir

import "slices"

// SetOp combines composite selection units.
type SetOp string

const (
	// SetNA marks the first unit, which has no operator.
	SetNA        SetOp = ""
	SetUnion     SetOp = "union"
	SetUnionAll  SetOp = "union all"
	SetIntersect SetOp = "intersect"
	SetExcept    SetOp = "except"
)

// Selection is one or more selection units joined by set operators.
// Units[0].Op is always SetNA.
type Selection struct {
	Units []CompositeUnit
}

// CompositeUnit pairs a selection unit with the operator that joins it
// to the preceding unit.
type CompositeUnit struct {
	Op   SetOp
	Unit SelectionUnit
}

// First returns the first unit. Column shape and types of the selection
// are those of its first unit.
func (s *Selection) First() *SelectionUnit {
	if s == nil || len(s.Units) == 0 {
		return nil
	}
	return &s.Units[0].Unit
}

// SelectionUnit is one SELECT block.
type SelectionUnit struct {
	Distinct bool
	Columns  []ColumnSelection
	Base     *RelationRef
	Joins    []Join
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []Order
	Limit    Expr
}

// ColumnSelection is one projected expression.
type ColumnSelection struct {
	Expr  Expr
	Alias string
}

// OutputName is the column name the projection produces, or "" when the
// expression has no alias and is not a plain column reference.
func (c ColumnSelection) OutputName() string {
	if c.Alias != "" {
		return c.Alias
	}
	if ref, ok := c.Expr.(ColumnRef); ok {
		return ref.Column
	}
	return ""
}

// RelationRef names a relation in FROM or JOIN, either directly or as
// an aliased subquery. A ref with neither is malformed.
type RelationRef struct {
	Name     string
	Alias    string
	Subquery *Selection
}

// Label returns the name the ref is visible under in expressions.
func (r RelationRef) Label() string {
	if r.Alias != "" {
		return r.Alias
	}
	return r.Name
}

// JoinKind is the join flavour.
type JoinKind string

const (
	JoinInner   JoinKind = "join"
	JoinLeft    JoinKind = "left join"
	JoinCross   JoinKind = "cross join"
	JoinNatural JoinKind = "natural join"
)

// Join is one JOIN clause.
type Join struct {
	Kind JoinKind
	Ref  RelationRef
	On   Expr
}

// Order is one ORDER BY term.
type Order struct {
	Expr Expr
	Desc bool
}

// IsAggregate reports whether any unit groups or calls an aggregate
// function in its projections or having clause.
func (s *Selection) IsAggregate() bool {
	if s == nil {
		return false
	}
	for _, cu := range s.Units {
		u := cu.Unit
		if len(u.GroupBy) > 0 {
			return true
		}
		agg := false
		check := func(e Expr) bool {
			if f, ok := e.(FuncCall); ok && IsAggregateFunc(f.Name) {
				agg = true
				return false
			}
			return true
		}
		for _, c := range u.Columns {
			WalkExpr(c.Expr, check)
		}
		WalkExpr(u.Having, check)
		if agg {
			return true
		}
	}
	return false
}

// MapSelectionExprs returns a copy of s with fn applied (via MapExpr) to
// every expression, including those inside subquery refs. s is not modified.
func MapSelectionExprs(s *Selection, fn func(Expr) Expr) *Selection {
	if s == nil {
		return nil
	}
	out := &Selection{Units: make([]CompositeUnit, len(s.Units))}
	for i, cu := range s.Units {
		out.Units[i] = CompositeUnit{Op: cu.Op, Unit: mapUnit(cu.Unit, fn)}
	}
	return out
}

func mapUnit(u SelectionUnit, fn func(Expr) Expr) SelectionUnit {
	cols := make([]ColumnSelection, len(u.Columns))
	for i, c := range u.Columns {
		cols[i] = ColumnSelection{Expr: MapExpr(c.Expr, fn), Alias: c.Alias}
	}
	u.Columns = cols
	if u.Base != nil {
		base := mapRef(*u.Base, fn)
		u.Base = &base
	}
	joins := make([]Join, len(u.Joins))
	for i, j := range u.Joins {
		joins[i] = Join{Kind: j.Kind, Ref: mapRef(j.Ref, fn), On: MapExpr(j.On, fn)}
	}
	u.Joins = joins
	u.Where = MapExpr(u.Where, fn)
	if u.GroupBy != nil {
		gb := make([]Expr, len(u.GroupBy))
		for i, g := range u.GroupBy {
			gb[i] = MapExpr(g, fn)
		}
		u.GroupBy = gb
	}
	u.Having = MapExpr(u.Having, fn)
	if u.OrderBy != nil {
		ob := slices.Clone(u.OrderBy)
		for i := range ob {
			ob[i].Expr = MapExpr(ob[i].Expr, fn)
		}
		u.OrderBy = ob
	}
	u.Limit = MapExpr(u.Limit, fn)
	return u
}

func mapRef(r RelationRef, fn func(Expr) Expr) RelationRef {
	if r.Subquery != nil {
		r.Subquery = MapSelectionExprs(r.Subquery, fn)
	}
	return r
}

// RenameRelation returns a copy of s in which column references
// qualified by from are requalified by to. Refs that alias from keep
// their alias; only the qualifier text changes. s is not modified.
func RenameRelation(s *Selection, from, to string) *Selection {
	return MapSelectionExprs(s, func(e Expr) Expr {
		switch v := e.(type) {
		case ColumnRef:
			if v.Relation == from {
				v.Relation = to
			}
			return v
		case Star:
			if v.Relation == from {
				v.Relation = to
			}
			return v
		}
		return e
	})
}
