package ir

// Expr is a scalar or boolean expression inside a selection.
//
// This is a sealed interface - only types in this package implement it.
// Backends switch over the concrete types exhaustively; an unhandled
// case is a compiler bug (ErrUnionTypeNotHandled).
//
// Expression types:
//   - ColumnRef: relation.column
//   - Literal, Null: constants
//   - Star: * or relation.*
//   - FuncCall: name(args), including aggregates
//   - Binary, Unary, Paren, Between, Tuple: operators
//   - SubqueryExpr: a relation-valued subexpression
type Expr interface {
	exprNode() // Marker method - seals interface to this package
}

// ColumnRef references a column, optionally qualified by relation name or alias.
type ColumnRef struct {
	Relation string
	Column   string
	Type     DataType // filled in by normalization
}

func (ColumnRef) exprNode() {}

// Literal is a typed constant. Value holds the SQL source text for
// numbers and the unquoted text for strings.
type Literal struct {
	Type  DataType
	Value string
}

func (Literal) exprNode() {}

// Null is the SQL NULL literal.
type Null struct{}

func (Null) exprNode() {}

// Star is * (Relation empty) or relation.*.
type Star struct {
	Relation string
}

func (Star) exprNode() {}

// FuncCall is a function application.
type FuncCall struct {
	Name     string // lowercased
	Args     []Expr
	Distinct bool
}

func (FuncCall) exprNode() {}

// Binary is a binary operator application. Op is the SQL operator text
// ("=", "<>", "and", "or", "+", "in", "like", ...), lowercased.
type Binary struct {
	Op    string
	Left  Expr
	Right Expr
}

func (Binary) exprNode() {}

// Unary operators.
const (
	OpNot       = "not"
	OpIsNull    = "is null"
	OpIsNotNull = "is not null"
	OpExists    = "exists"
	OpNegate    = "-"
)

// Unary is a prefix or postfix operator application.
type Unary struct {
	Op      string
	Operand Expr
}

func (Unary) exprNode() {}

// Paren is a parenthesized expression.
type Paren struct {
	Inner Expr
}

func (Paren) exprNode() {}

// Between is operand [NOT] BETWEEN low AND high.
type Between struct {
	Operand Expr
	Low     Expr
	High    Expr
	Negated bool
}

func (Between) exprNode() {}

// Tuple is a parenthesized expression list, as in x IN (1, 2).
type Tuple struct {
	Items []Expr
}

func (Tuple) exprNode() {}

// SubqueryExpr is a selection used as an expression.
type SubqueryExpr struct {
	Selection *Selection
}

func (SubqueryExpr) exprNode() {}

// aggregateFuncs are the functions that force an aggregate refresh path.
var aggregateFuncs = map[string]bool{
	"sum":   true,
	"min":   true,
	"max":   true,
	"avg":   true,
	"count": true,
}

// IsAggregateFunc reports whether name is one of sum, min, max, avg, count.
func IsAggregateFunc(name string) bool {
	return aggregateFuncs[name]
}

// WalkExpr calls fn for e and every expression nested in it, depth first.
// Selections inside subqueries are not entered; fn receives the
// SubqueryExpr and may recurse itself. Walking stops early when fn
// returns false.
func WalkExpr(e Expr, fn func(Expr) bool) bool {
	if e == nil {
		return true
	}
	if !fn(e) {
		return false
	}
	switch v := e.(type) {
	case ColumnRef, Literal, Null, Star, SubqueryExpr:
		return true
	case FuncCall:
		for _, a := range v.Args {
			if !WalkExpr(a, fn) {
				return false
			}
		}
	case Binary:
		return WalkExpr(v.Left, fn) && WalkExpr(v.Right, fn)
	case Unary:
		return WalkExpr(v.Operand, fn)
	case Paren:
		return WalkExpr(v.Inner, fn)
	case Between:
		return WalkExpr(v.Operand, fn) && WalkExpr(v.Low, fn) && WalkExpr(v.High, fn)
	case Tuple:
		for _, it := range v.Items {
			if !WalkExpr(it, fn) {
				return false
			}
		}
	}
	return true
}

// MapExpr rebuilds e bottom-up, replacing every node with fn's result.
// Subquery selections are rebuilt through MapSelectionExprs so the
// mapping reaches correlated references.
func MapExpr(e Expr, fn func(Expr) Expr) Expr {
	if e == nil {
		return nil
	}
	switch v := e.(type) {
	case FuncCall:
		args := make([]Expr, len(v.Args))
		for i, a := range v.Args {
			args[i] = MapExpr(a, fn)
		}
		v.Args = args
		return fn(v)
	case Binary:
		v.Left = MapExpr(v.Left, fn)
		v.Right = MapExpr(v.Right, fn)
		return fn(v)
	case Unary:
		v.Operand = MapExpr(v.Operand, fn)
		return fn(v)
	case Paren:
		v.Inner = MapExpr(v.Inner, fn)
		return fn(v)
	case Between:
		v.Operand = MapExpr(v.Operand, fn)
		v.Low = MapExpr(v.Low, fn)
		v.High = MapExpr(v.High, fn)
		return fn(v)
	case Tuple:
		items := make([]Expr, len(v.Items))
		for i, it := range v.Items {
			items[i] = MapExpr(it, fn)
		}
		v.Items = items
		return fn(v)
	case SubqueryExpr:
		v.Selection = MapSelectionExprs(v.Selection, fn)
		return fn(v)
	default:
		return fn(e)
	}
}
