package querysql

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// Define renders the statements that create r on this dialect's engine.
// Base relations and derived tables become tables; views, event views
// and outputs become views (or a materialized view plus refresh triggers
// when the relation is marked Materialized).
func (c *SQLCompiler) Define(r *ir.Relation) ([]string, error) {
	switch r.Kind {
	case ir.OriginalTable, ir.EventTable, ir.DerivedTable:
		s, err := c.CreateTable(r)
		if err != nil {
			return nil, err
		}
		return []string{s}, nil
	case ir.View, ir.EventView, ir.Output:
		return c.CreateView(r)
	}
	return nil, report.ErrUnionTypeNotHandled.New(r.Kind, "Define")
}

// CreateTable renders CREATE TABLE with column-level and relation-level
// constraints. Relation-level NOT NULL entries are folded onto their
// columns.
func (c *SQLCompiler) CreateTable(r *ir.Relation) (string, error) {
	if len(r.Columns) == 0 {
		return "", report.ErrMalformedAst.New(r.Name, "table has no columns")
	}
	var notNull []string
	if r.Constraints != nil {
		notNull = r.Constraints.NotNull
	}

	parts := make([]string, 0, len(r.Columns))
	for _, col := range r.Columns {
		if col.Name == "" {
			return "", report.ErrMalformedAst.New(r.Name, "column without a name")
		}
		def := col.Name
		if t := c.Dialect.ColumnType(col.Type); t != "" {
			def += " " + t
		}
		if col.Constraints.PrimaryKey {
			def += " PRIMARY KEY"
		}
		if col.Constraints.NotNull || slices.Contains(notNull, col.Name) {
			def += " NOT NULL"
		}
		if col.Constraints.Unique {
			def += " UNIQUE"
		}
		if col.Default != nil {
			d, err := c.Expr(col.Default)
			if err != nil {
				return "", err
			}
			def += " DEFAULT " + d
		}
		parts = append(parts, def)
	}

	if r.Constraints != nil {
		if len(r.Constraints.PrimaryKey) > 0 {
			parts = append(parts, "PRIMARY KEY ("+strings.Join(r.Constraints.PrimaryKey, ", ")+")")
		}
		for _, u := range r.Constraints.Uniques {
			parts = append(parts, "UNIQUE ("+strings.Join(u, ", ")+")")
		}
		for _, chk := range r.Constraints.Checks {
			s, err := c.Expr(chk)
			if err != nil {
				return "", err
			}
			parts = append(parts, "CHECK ("+s+")")
		}
	}

	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", r.Name, strings.Join(parts, ",\n  ")), nil
}

// CreateView renders CREATE VIEW, or for relations kept natively
// materialized, CREATE MATERIALIZED VIEW followed by one refresh
// function and trigger per dependency.
func (c *SQLCompiler) CreateView(r *ir.Relation) ([]string, error) {
	sel, err := c.Selection(r.Selection)
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", r.Name, err)
	}
	if !r.Materialized {
		return []string{fmt.Sprintf("CREATE VIEW %s AS %s", r.Name, sel)}, nil
	}
	if !c.Dialect.SupportsMaterializedViews() {
		return nil, report.ErrNotImplemented.New("materialized views on " + c.Dialect.String())
	}

	out := []string{fmt.Sprintf("CREATE MATERIALIZED VIEW %s AS %s", r.Name, sel)}
	for _, t := range r.Triggers {
		out = append(out,
			fmt.Sprintf("CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$ BEGIN REFRESH MATERIALIZED VIEW %s; RETURN NULL; END $$ LANGUAGE plpgsql", t.Name, r.Name),
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH STATEMENT EXECUTE PROCEDURE %s()", t.Name, t.On, t.Name),
		)
	}
	return out, nil
}

// triggerEvents are the writes that fire a maintenance program. Shipments
// replace contents with a delete followed by inserts, so deletes must
// refresh too.
var triggerEvents = []string{"INSERT", "UPDATE", "DELETE"}

// ProgramTriggerName is the trigger name for program p and one write event.
func ProgramTriggerName(trigger, event string) string {
	return "program_" + trigger + "_" + strings.ToLower(event)
}

// CreateProgram renders the triggers that run p's commands after every
// write to its triggering table.
func (c *SQLCompiler) CreateProgram(p *ir.Program) ([]string, error) {
	if len(p.Commands) == 0 {
		return nil, nil
	}
	body := make([]string, len(p.Commands))
	for i, cmd := range p.Commands {
		s, err := c.Command(cmd)
		if err != nil {
			return nil, fmt.Errorf("program %s: %w", p.Trigger, err)
		}
		body[i] = s + ";"
	}

	if c.Dialect == Postgres {
		fn := "program_" + p.Trigger
		return []string{
			fmt.Sprintf("CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$ BEGIN %s RETURN NULL; END $$ LANGUAGE plpgsql", fn, strings.Join(body, " ")),
			fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE ON %s FOR EACH STATEMENT EXECUTE PROCEDURE %s()", fn, p.Trigger, fn),
		}, nil
	}

	forEach := ""
	if c.Dialect == MySQL {
		forEach = " FOR EACH ROW"
	}
	out := make([]string, 0, len(triggerEvents))
	for _, ev := range triggerEvents {
		out = append(out, fmt.Sprintf("CREATE TRIGGER %s AFTER %s ON %s%s\nBEGIN\n  %s\nEND",
			ProgramTriggerName(p.Trigger, ev), ev, p.Trigger, forEach, strings.Join(body, "\n  ")))
	}
	return out, nil
}

// Command renders one data-modifying command without a trailing semicolon.
func (c *SQLCompiler) Command(cmd ir.Command) (string, error) {
	switch v := cmd.(type) {
	case ir.DeleteCommand:
		if v.Where == nil {
			return "DELETE FROM " + v.Relation, nil
		}
		w, err := c.Expr(v.Where)
		if err != nil {
			return "", err
		}
		return "DELETE FROM " + v.Relation + " WHERE " + w, nil
	case ir.InsertCommand:
		head := "INSERT INTO " + v.Relation
		if len(v.Columns) > 0 {
			head += " (" + strings.Join(v.Columns, ", ") + ")"
		}
		if v.Selection != nil {
			sel, err := c.Selection(v.Selection)
			if err != nil {
				return "", err
			}
			return head + " " + sel, nil
		}
		rows := make([]string, len(v.Values))
		for i, row := range v.Values {
			vals, err := c.exprList(row)
			if err != nil {
				return "", err
			}
			rows[i] = "(" + vals + ")"
		}
		return head + " VALUES " + strings.Join(rows, ", "), nil
	case ir.UpdateCommand:
		sets := make([]string, len(v.Set))
		for i, a := range v.Set {
			val, err := c.Expr(a.Value)
			if err != nil {
				return "", err
			}
			sets[i] = a.Column + " = " + val
		}
		s := "UPDATE " + v.Relation + " SET " + strings.Join(sets, ", ")
		if v.Where != nil {
			w, err := c.Expr(v.Where)
			if err != nil {
				return "", err
			}
			s += " WHERE " + w
		}
		return s, nil
	case nil:
		return "", report.ErrArgNull.New("command")
	default:
		return "", report.ErrUnionTypeNotHandled.New(cmd, "Command")
	}
}

// Drop renders the statement removing r, for engines that replace
// definitions on redefine.
func (c *SQLCompiler) Drop(r *ir.Relation) string {
	switch {
	case r.Kind.IsBase() || r.Kind == ir.DerivedTable:
		return "DROP TABLE IF EXISTS " + r.Name
	case r.Materialized:
		return "DROP MATERIALIZED VIEW IF EXISTS " + r.Name
	}
	return "DROP VIEW IF EXISTS " + r.Name
}

// DropProgram renders the statements removing p's triggers.
func (c *SQLCompiler) DropProgram(p *ir.Program) []string {
	if c.Dialect == Postgres {
		fn := "program_" + p.Trigger
		return []string{
			"DROP TRIGGER IF EXISTS " + fn + " ON " + p.Trigger,
			"DROP FUNCTION IF EXISTS " + fn + "()",
		}
	}
	out := make([]string, 0, len(triggerEvents))
	for _, ev := range triggerEvents {
		out = append(out, "DROP TRIGGER IF EXISTS "+ProgramTriggerName(p.Trigger, ev))
	}
	return out
}
