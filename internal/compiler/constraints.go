package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
)

// ConstraintQuery is one validation query. A non-empty result means the
// constraint named by Label is violated.
type ConstraintQuery struct {
	Relation string `json:"relation"`
	Label    string `json:"label"`
	SQL      string `json:"sql"`
}

// ConstraintQueries generates one standalone query per constraint
// declared on rel, against rel's selection wrapped as a subquery:
//
//	NOT NULL(c): SELECT * FROM (<sel>) AS t WHERE c IS NULL
//	CHECK(e):    SELECT * FROM (<sel>) AS t WHERE NOT (e)
//	UNIQUE(cs):  SELECT cs, COUNT(*) FROM (<sel>) AS t GROUP BY cs HAVING COUNT(*) > 1
//
// Column-level NOT NULL and UNIQUE on the relation's columns are
// included. Relations without a selection or constraints yield nothing.
func ConstraintQueries(rel *ir.Relation, c *querysql.SQLCompiler) ([]ConstraintQuery, error) {
	if rel.Selection == nil {
		return nil, nil
	}
	sel, err := c.Selection(rel.Selection)
	if err != nil {
		return nil, fmt.Errorf("constraints of %s: %w", rel.Name, err)
	}
	from := "(" + sel + ") AS " + rel.Name + "_check"

	var notNull []string
	var uniques [][]string
	for _, col := range rel.Columns {
		if col.Constraints.NotNull {
			notNull = append(notNull, col.Name)
		}
		if col.Constraints.Unique {
			uniques = append(uniques, []string{col.Name})
		}
	}
	var checks []ir.Expr
	if rel.Constraints != nil {
		notNull = appendUnique(notNull, rel.Constraints.NotNull...)
		uniques = append(uniques, rel.Constraints.Uniques...)
		checks = rel.Constraints.Checks
	}

	var out []ConstraintQuery
	for _, col := range notNull {
		out = append(out, ConstraintQuery{
			Relation: rel.Name,
			Label:    col + " NOT NULL",
			SQL:      fmt.Sprintf("SELECT * FROM %s WHERE %s IS NULL", from, col),
		})
	}
	for _, chk := range checks {
		expr, err := c.Expr(chk)
		if err != nil {
			return nil, fmt.Errorf("check on %s: %w", rel.Name, err)
		}
		out = append(out, ConstraintQuery{
			Relation: rel.Name,
			Label:    "CHECK " + expr,
			SQL:      fmt.Sprintf("SELECT * FROM %s WHERE NOT (%s)", from, expr),
		})
	}
	for _, u := range uniques {
		cols := strings.Join(u, ", ")
		out = append(out, ConstraintQuery{
			Relation: rel.Name,
			Label:    "UNIQUE (" + cols + ")",
			SQL:      fmt.Sprintf("SELECT %s, COUNT(*) FROM %s GROUP BY %s HAVING COUNT(*) > 1", cols, from, cols),
		})
	}
	return out, nil
}

func appendUnique(dst []string, items ...string) []string {
	for _, it := range items {
		found := false
		for _, d := range dst {
			if d == it {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, it)
		}
	}
	return dst
}
