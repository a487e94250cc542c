package compiler

import (
	"fmt"
	"strings"

	errors "gopkg.in/src-d/go-errors.v1"
	"gopkg.in/src-d/go-vitess.v1/vt/sqlparser"

	"github.com/roach88/diel/internal/ir"
)

var (
	// ErrUnsupportedSyntax is returned for SQL the IR cannot represent.
	ErrUnsupportedSyntax = errors.NewKind("unsupported syntax: %#v")
	// ErrUnsupportedFeature is returned for SQL features DIEL selections do not allow.
	ErrUnsupportedFeature = errors.NewKind("unsupported feature: %v")
	// ErrNotSelection is returned when the SQL text is not a SELECT.
	ErrNotSelection = errors.NewKind("expected a select statement, got %T")
)

// ParseSelection parses a SELECT (optionally combined with UNION) into an
// IR selection. Column references are left as written; Normalize
// qualifies and types them.
func ParseSelection(sql string) (*ir.Selection, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse selection: %w", err)
	}
	sel, ok := stmt.(sqlparser.SelectStatement)
	if !ok {
		return nil, ErrNotSelection.New(stmt)
	}
	return convertSelectStatement(sel)
}

// ParseExpr parses a standalone SQL expression, as used in CHECK
// constraints and column defaults.
func ParseExpr(sql string) (ir.Expr, error) {
	stmt, err := sqlparser.Parse("select 1 from dual where " + sql)
	if err != nil {
		return nil, fmt.Errorf("parse expression %q: %w", sql, err)
	}
	s, ok := stmt.(*sqlparser.Select)
	if !ok || s.Where == nil {
		return nil, ErrNotSelection.New(stmt)
	}
	return convertExpr(s.Where.Expr)
}

func convertSelectStatement(s sqlparser.SelectStatement) (*ir.Selection, error) {
	switch v := s.(type) {
	case *sqlparser.Select:
		unit, err := convertSelect(v)
		if err != nil {
			return nil, err
		}
		return &ir.Selection{Units: []ir.CompositeUnit{{Op: ir.SetNA, Unit: unit}}}, nil
	case *sqlparser.ParenSelect:
		return convertSelectStatement(v.Select)
	case *sqlparser.Union:
		left, err := convertSelectStatement(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := convertSelectStatement(v.Right)
		if err != nil {
			return nil, err
		}
		op, err := convertSetOp(v.Type)
		if err != nil {
			return nil, err
		}
		units := append([]ir.CompositeUnit{}, left.Units...)
		for i, cu := range right.Units {
			if i == 0 {
				cu.Op = op
			}
			units = append(units, cu)
		}
		return &ir.Selection{Units: units}, nil
	default:
		return nil, ErrUnsupportedSyntax.New(s)
	}
}

func convertSetOp(t string) (ir.SetOp, error) {
	switch strings.ToLower(t) {
	case sqlparser.UnionStr:
		return ir.SetUnion, nil
	case sqlparser.UnionAllStr:
		return ir.SetUnionAll, nil
	case sqlparser.UnionDistinctStr:
		return ir.SetUnion, nil
	}
	return "", ErrUnsupportedFeature.New(t)
}

func convertSelect(s *sqlparser.Select) (ir.SelectionUnit, error) {
	var unit ir.SelectionUnit
	unit.Distinct = s.Distinct != ""

	for _, se := range s.SelectExprs {
		col, err := convertSelectExpr(se)
		if err != nil {
			return unit, err
		}
		unit.Columns = append(unit.Columns, col)
	}

	if err := convertFrom(s.From, &unit); err != nil {
		return unit, err
	}

	var err error
	if s.Where != nil {
		if unit.Where, err = convertExpr(s.Where.Expr); err != nil {
			return unit, err
		}
	}
	for _, g := range s.GroupBy {
		e, err := convertExpr(g)
		if err != nil {
			return unit, err
		}
		unit.GroupBy = append(unit.GroupBy, e)
	}
	if s.Having != nil {
		if unit.Having, err = convertExpr(s.Having.Expr); err != nil {
			return unit, err
		}
	}
	for _, o := range s.OrderBy {
		e, err := convertExpr(o.Expr)
		if err != nil {
			return unit, err
		}
		unit.OrderBy = append(unit.OrderBy, ir.Order{Expr: e, Desc: o.Direction == sqlparser.DescScr})
	}
	if s.Limit != nil {
		if s.Limit.Offset != nil {
			return unit, ErrUnsupportedFeature.New("offset")
		}
		if unit.Limit, err = convertExpr(s.Limit.Rowcount); err != nil {
			return unit, err
		}
	}
	return unit, nil
}

func convertSelectExpr(se sqlparser.SelectExpr) (ir.ColumnSelection, error) {
	switch e := se.(type) {
	case *sqlparser.StarExpr:
		return ir.ColumnSelection{Expr: ir.Star{Relation: e.TableName.Name.String()}}, nil
	case *sqlparser.AliasedExpr:
		expr, err := convertExpr(e.Expr)
		if err != nil {
			return ir.ColumnSelection{}, err
		}
		return ir.ColumnSelection{Expr: expr, Alias: e.As.String()}, nil
	default:
		return ir.ColumnSelection{}, ErrUnsupportedSyntax.New(se)
	}
}

// convertFrom flattens the FROM clause into a base ref plus join list.
// Comma-separated tables become cross joins.
func convertFrom(te sqlparser.TableExprs, unit *ir.SelectionUnit) error {
	if len(te) == 0 {
		return nil
	}
	for i, t := range te {
		if err := convertTableExpr(t, unit, i > 0); err != nil {
			return err
		}
	}
	return nil
}

func convertTableExpr(te sqlparser.TableExpr, unit *ir.SelectionUnit, cross bool) error {
	switch t := te.(type) {
	case *sqlparser.AliasedTableExpr:
		if isDual(t) {
			return nil
		}
		ref, err := convertAliasedTable(t)
		if err != nil {
			return err
		}
		if unit.Base == nil {
			unit.Base = &ref
			return nil
		}
		kind := ir.JoinInner
		if cross {
			kind = ir.JoinCross
		}
		unit.Joins = append(unit.Joins, ir.Join{Kind: kind, Ref: ref})
		return nil
	case *sqlparser.JoinTableExpr:
		if err := convertTableExpr(t.LeftExpr, unit, cross); err != nil {
			return err
		}
		right, ok := t.RightExpr.(*sqlparser.AliasedTableExpr)
		if !ok {
			return ErrUnsupportedFeature.New("nested join on the right-hand side")
		}
		ref, err := convertAliasedTable(right)
		if err != nil {
			return err
		}
		if len(t.Condition.Using) > 0 {
			return ErrUnsupportedFeature.New("using clause on join")
		}
		join := ir.Join{Ref: ref}
		switch t.Join {
		case sqlparser.JoinStr:
			join.Kind = ir.JoinInner
			if t.Condition.On == nil {
				join.Kind = ir.JoinCross
			}
		case sqlparser.LeftJoinStr:
			join.Kind = ir.JoinLeft
		case sqlparser.NaturalJoinStr:
			join.Kind = ir.JoinNatural
		default:
			return ErrUnsupportedFeature.New(t.Join)
		}
		if t.Condition.On != nil {
			if join.On, err = convertExpr(t.Condition.On); err != nil {
				return err
			}
		}
		unit.Joins = append(unit.Joins, join)
		return nil
	default:
		return ErrUnsupportedSyntax.New(te)
	}
}

// isDual reports the placeholder table the parser puts in a SELECT
// without FROM.
func isDual(t *sqlparser.AliasedTableExpr) bool {
	tn, ok := t.Expr.(sqlparser.TableName)
	return ok && t.As.IsEmpty() && tn.Qualifier.IsEmpty() && strings.EqualFold(tn.Name.String(), "dual")
}

func convertAliasedTable(t *sqlparser.AliasedTableExpr) (ir.RelationRef, error) {
	ref := ir.RelationRef{Alias: t.As.String()}
	switch e := t.Expr.(type) {
	case sqlparser.TableName:
		ref.Name = e.Name.String()
	case *sqlparser.Subquery:
		if t.As.IsEmpty() {
			return ref, ErrUnsupportedFeature.New("subquery without alias")
		}
		sel, err := convertSelectStatement(e.Select)
		if err != nil {
			return ref, err
		}
		ref.Subquery = sel
	default:
		return ref, ErrUnsupportedSyntax.New(t)
	}
	return ref, nil
}

func convertExpr(e sqlparser.Expr) (ir.Expr, error) {
	switch v := e.(type) {
	case *sqlparser.ColName:
		return ir.ColumnRef{Relation: v.Qualifier.Name.String(), Column: v.Name.String()}, nil
	case *sqlparser.SQLVal:
		return convertVal(v)
	case sqlparser.BoolVal:
		if v {
			return ir.Literal{Type: ir.TypeBoolean, Value: "true"}, nil
		}
		return ir.Literal{Type: ir.TypeBoolean, Value: "false"}, nil
	case *sqlparser.NullVal:
		return ir.Null{}, nil
	case *sqlparser.ComparisonExpr:
		return convertBinary(v.Operator, v.Left, v.Right)
	case *sqlparser.AndExpr:
		return convertBinary("and", v.Left, v.Right)
	case *sqlparser.OrExpr:
		return convertBinary("or", v.Left, v.Right)
	case *sqlparser.BinaryExpr:
		return convertBinary(v.Operator, v.Left, v.Right)
	case *sqlparser.NotExpr:
		inner, err := convertExpr(v.Expr)
		if err != nil {
			return nil, err
		}
		return ir.Unary{Op: ir.OpNot, Operand: inner}, nil
	case *sqlparser.UnaryExpr:
		inner, err := convertExpr(v.Expr)
		if err != nil {
			return nil, err
		}
		return ir.Unary{Op: v.Operator, Operand: inner}, nil
	case *sqlparser.IsExpr:
		inner, err := convertExpr(v.Expr)
		if err != nil {
			return nil, err
		}
		return ir.Unary{Op: strings.ToLower(v.Operator), Operand: inner}, nil
	case *sqlparser.ParenExpr:
		inner, err := convertExpr(v.Expr)
		if err != nil {
			return nil, err
		}
		return ir.Paren{Inner: inner}, nil
	case *sqlparser.FuncExpr:
		return convertFunc(v)
	case *sqlparser.Subquery:
		sel, err := convertSelectStatement(v.Select)
		if err != nil {
			return nil, err
		}
		return ir.SubqueryExpr{Selection: sel}, nil
	case *sqlparser.ExistsExpr:
		sel, err := convertSelectStatement(v.Subquery.Select)
		if err != nil {
			return nil, err
		}
		return ir.Unary{Op: ir.OpExists, Operand: ir.SubqueryExpr{Selection: sel}}, nil
	case sqlparser.ValTuple:
		items := make([]ir.Expr, len(v))
		for i, it := range v {
			x, err := convertExpr(it)
			if err != nil {
				return nil, err
			}
			items[i] = x
		}
		return ir.Tuple{Items: items}, nil
	case *sqlparser.RangeCond:
		return convertRange(v)
	default:
		return nil, ErrUnsupportedSyntax.New(e)
	}
}

func convertBinary(op string, l, r sqlparser.Expr) (ir.Expr, error) {
	left, err := convertExpr(l)
	if err != nil {
		return nil, err
	}
	right, err := convertExpr(r)
	if err != nil {
		return nil, err
	}
	return ir.Binary{Op: strings.ToLower(op), Left: left, Right: right}, nil
}

func convertFunc(f *sqlparser.FuncExpr) (ir.Expr, error) {
	call := ir.FuncCall{Name: f.Name.Lowered(), Distinct: f.Distinct}
	for _, se := range f.Exprs {
		switch a := se.(type) {
		case *sqlparser.StarExpr:
			call.Args = append(call.Args, ir.Star{Relation: a.TableName.Name.String()})
		case *sqlparser.AliasedExpr:
			x, err := convertExpr(a.Expr)
			if err != nil {
				return nil, err
			}
			call.Args = append(call.Args, x)
		default:
			return nil, ErrUnsupportedSyntax.New(se)
		}
	}
	return call, nil
}

func convertRange(v *sqlparser.RangeCond) (ir.Expr, error) {
	operand, err := convertExpr(v.Left)
	if err != nil {
		return nil, err
	}
	low, err := convertExpr(v.From)
	if err != nil {
		return nil, err
	}
	high, err := convertExpr(v.To)
	if err != nil {
		return nil, err
	}
	switch v.Operator {
	case sqlparser.BetweenStr:
		return ir.Between{Operand: operand, Low: low, High: high}, nil
	case sqlparser.NotBetweenStr:
		return ir.Between{Operand: operand, Low: low, High: high, Negated: true}, nil
	}
	return nil, ErrUnsupportedFeature.New(fmt.Sprintf("RangeCond with operator: %s", v.Operator))
}

func convertVal(v *sqlparser.SQLVal) (ir.Expr, error) {
	switch v.Type {
	case sqlparser.StrVal:
		return ir.Literal{Type: ir.TypeString, Value: string(v.Val)}, nil
	case sqlparser.IntVal, sqlparser.FloatVal:
		return ir.Literal{Type: ir.TypeNumber, Value: string(v.Val)}, nil
	}
	return nil, ErrUnsupportedSyntax.New(v)
}

// ParseCommand parses an INSERT, DELETE or UPDATE on a single relation.
func ParseCommand(sql string) (ir.Command, error) {
	stmt, err := sqlparser.Parse(sql)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	switch s := stmt.(type) {
	case *sqlparser.Insert:
		cmd := ir.InsertCommand{Relation: ir.Canonical(s.Table.Name.String())}
		for _, c := range s.Columns {
			cmd.Columns = append(cmd.Columns, ir.Canonical(c.String()))
		}
		switch rows := s.Rows.(type) {
		case sqlparser.Values:
			for _, tuple := range rows {
				row := make([]ir.Expr, 0, len(tuple))
				for _, e := range tuple {
					v, err := convertExpr(e)
					if err != nil {
						return nil, err
					}
					row = append(row, v)
				}
				cmd.Values = append(cmd.Values, row)
			}
		case sqlparser.SelectStatement:
			if cmd.Selection, err = convertSelectStatement(rows); err != nil {
				return nil, err
			}
		default:
			return nil, ErrUnsupportedSyntax.New(rows)
		}
		return cmd, nil

	case *sqlparser.Delete:
		name, err := singleTable(s.TableExprs)
		if err != nil {
			return nil, err
		}
		cmd := ir.DeleteCommand{Relation: name}
		if s.Where != nil {
			if cmd.Where, err = convertExpr(s.Where.Expr); err != nil {
				return nil, err
			}
		}
		return cmd, nil

	case *sqlparser.Update:
		name, err := singleTable(s.TableExprs)
		if err != nil {
			return nil, err
		}
		cmd := ir.UpdateCommand{Relation: name}
		for _, ue := range s.Exprs {
			v, err := convertExpr(ue.Expr)
			if err != nil {
				return nil, err
			}
			cmd.Set = append(cmd.Set, ir.Assignment{Column: ir.Canonical(ue.Name.Name.String()), Value: v})
		}
		if s.Where != nil {
			if cmd.Where, err = convertExpr(s.Where.Expr); err != nil {
				return nil, err
			}
		}
		return cmd, nil
	}
	return nil, ErrUnsupportedSyntax.New(stmt)
}

func singleTable(te sqlparser.TableExprs) (string, error) {
	if len(te) != 1 {
		return "", ErrUnsupportedFeature.New("multi-table write")
	}
	at, ok := te[0].(*sqlparser.AliasedTableExpr)
	if !ok {
		return "", ErrUnsupportedSyntax.New(te[0])
	}
	tn, ok := at.Expr.(sqlparser.TableName)
	if !ok {
		return "", ErrUnsupportedSyntax.New(at.Expr)
	}
	return ir.Canonical(tn.Name.String()), nil
}
