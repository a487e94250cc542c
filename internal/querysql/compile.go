package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// SQLCompiler renders IR selections, expressions and definitions for one
// dialect.
type SQLCompiler struct {
	Dialect Dialect
}

// NewSQLCompiler creates a compiler for d.
func NewSQLCompiler(d Dialect) *SQLCompiler {
	return &SQLCompiler{Dialect: d}
}

// Selection renders a composite selection. Units are joined by their set
// operators in order.
func (c *SQLCompiler) Selection(s *ir.Selection) (string, error) {
	if s == nil || len(s.Units) == 0 {
		return "", report.ErrArgNull.New("selection")
	}
	var b strings.Builder
	for i, cu := range s.Units {
		if i > 0 {
			op := cu.Op
			if op == ir.SetNA {
				op = ir.SetUnion
			}
			b.WriteString(" ")
			b.WriteString(strings.ToUpper(string(op)))
			b.WriteString(" ")
		}
		if err := c.unit(&b, cu.Unit); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func (c *SQLCompiler) unit(b *strings.Builder, u ir.SelectionUnit) error {
	b.WriteString("SELECT ")
	if u.Distinct {
		b.WriteString("DISTINCT ")
	}
	if len(u.Columns) == 0 {
		b.WriteString("*")
	}
	for i, col := range u.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		s, err := c.Expr(col.Expr)
		if err != nil {
			return err
		}
		b.WriteString(s)
		if col.Alias != "" {
			b.WriteString(" AS ")
			b.WriteString(col.Alias)
		}
	}

	if u.Base != nil {
		ref, err := c.ref(*u.Base)
		if err != nil {
			return err
		}
		b.WriteString(" FROM ")
		b.WriteString(ref)
	}
	for _, j := range u.Joins {
		ref, err := c.ref(j.Ref)
		if err != nil {
			return err
		}
		b.WriteString(" ")
		b.WriteString(strings.ToUpper(string(j.Kind)))
		b.WriteString(" ")
		b.WriteString(ref)
		if j.On != nil {
			on, err := c.Expr(j.On)
			if err != nil {
				return err
			}
			b.WriteString(" ON ")
			b.WriteString(on)
		}
	}

	if u.Where != nil {
		w, err := c.Expr(u.Where)
		if err != nil {
			return err
		}
		b.WriteString(" WHERE ")
		b.WriteString(w)
	}
	if len(u.GroupBy) > 0 {
		parts, err := c.exprList(u.GroupBy)
		if err != nil {
			return err
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(parts)
	}
	if u.Having != nil {
		h, err := c.Expr(u.Having)
		if err != nil {
			return err
		}
		b.WriteString(" HAVING ")
		b.WriteString(h)
	}
	if len(u.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range u.OrderBy {
			if i > 0 {
				b.WriteString(", ")
			}
			s, err := c.Expr(o.Expr)
			if err != nil {
				return err
			}
			b.WriteString(s)
			if o.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	if u.Limit != nil {
		l, err := c.Expr(u.Limit)
		if err != nil {
			return err
		}
		b.WriteString(" LIMIT ")
		b.WriteString(l)
	}
	return nil
}

func (c *SQLCompiler) ref(r ir.RelationRef) (string, error) {
	switch {
	case r.Name != "":
		if r.Alias != "" && r.Alias != r.Name {
			return r.Name + " AS " + r.Alias, nil
		}
		return r.Name, nil
	case r.Subquery != nil:
		s, err := c.Selection(r.Subquery)
		if err != nil {
			return "", err
		}
		return "(" + s + ") AS " + r.Alias, nil
	}
	return "", report.ErrMalformedAst.New(r.Alias, "relation reference has no name and no subquery")
}

func (c *SQLCompiler) exprList(es []ir.Expr) (string, error) {
	parts := make([]string, len(es))
	for i, e := range es {
		s, err := c.Expr(e)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return strings.Join(parts, ", "), nil
}

// Expr renders one expression. Parenthesization follows the IR: the
// parser keeps explicit parentheses as Paren nodes.
func (c *SQLCompiler) Expr(e ir.Expr) (string, error) {
	switch v := e.(type) {
	case ir.ColumnRef:
		if v.Relation != "" {
			return v.Relation + "." + v.Column, nil
		}
		return v.Column, nil
	case ir.Literal:
		return c.literal(v), nil
	case ir.Null:
		return "NULL", nil
	case ir.Star:
		if v.Relation != "" {
			return v.Relation + ".*", nil
		}
		return "*", nil
	case ir.FuncCall:
		args, err := c.exprList(v.Args)
		if err != nil {
			return "", err
		}
		if v.Distinct {
			args = "DISTINCT " + args
		}
		return v.Name + "(" + args + ")", nil
	case ir.Binary:
		l, err := c.Expr(v.Left)
		if err != nil {
			return "", err
		}
		r, err := c.Expr(v.Right)
		if err != nil {
			return "", err
		}
		return l + " " + strings.ToUpper(v.Op) + " " + r, nil
	case ir.Unary:
		operand, err := c.Expr(v.Operand)
		if err != nil {
			return "", err
		}
		switch {
		case v.Op == ir.OpNot:
			return "NOT " + operand, nil
		case v.Op == ir.OpExists:
			return "EXISTS " + operand, nil
		case strings.HasPrefix(v.Op, "is"):
			return operand + " " + strings.ToUpper(v.Op), nil
		}
		return v.Op + operand, nil
	case ir.Paren:
		inner, err := c.Expr(v.Inner)
		if err != nil {
			return "", err
		}
		return "(" + inner + ")", nil
	case ir.Between:
		operand, err := c.Expr(v.Operand)
		if err != nil {
			return "", err
		}
		low, err := c.Expr(v.Low)
		if err != nil {
			return "", err
		}
		high, err := c.Expr(v.High)
		if err != nil {
			return "", err
		}
		op := " BETWEEN "
		if v.Negated {
			op = " NOT BETWEEN "
		}
		return operand + op + low + " AND " + high, nil
	case ir.Tuple:
		items, err := c.exprList(v.Items)
		if err != nil {
			return "", err
		}
		return "(" + items + ")", nil
	case ir.SubqueryExpr:
		s, err := c.Selection(v.Selection)
		if err != nil {
			return "", err
		}
		return "(" + s + ")", nil
	case nil:
		return "", report.ErrArgNull.New("expression")
	default:
		return "", report.ErrUnionTypeNotHandled.New(e, "Expr")
	}
}

func (c *SQLCompiler) literal(l ir.Literal) string {
	switch l.Type {
	case ir.TypeNumber:
		return l.Value
	case ir.TypeBoolean:
		if strings.EqualFold(l.Value, "true") || l.Value == "1" {
			return "TRUE"
		}
		return "FALSE"
	}
	return QuoteString(l.Value)
}

// QuoteString renders s as a single-quoted SQL string literal.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// ExprString renders e for labels and logs, falling back to a Go
// rendering when the expression cannot be compiled.
func ExprString(e ir.Expr) string {
	s, err := NewSQLCompiler(SQLite).Expr(e)
	if err != nil {
		return fmt.Sprintf("%v", e)
	}
	return s
}
