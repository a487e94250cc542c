package compiler

import (
	"maps"
	"slices"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/report"
)

// MaterializeOptions configures the materialization pass.
type MaterializeOptions struct {
	// NativeMaterializedViews selects the engine-native strategy: flag the
	// view materialized and attach refresh trigger metadata instead of
	// rewriting it into a table plus programs.
	NativeMaterializedViews bool

	// IncrementalScope rewrites program inserts so references to the
	// triggering table read the engine's "new" row. Only sound when the
	// triggering table holds a single row at a time; off by default.
	IncrementalScope bool

	Reporter *report.Reporter
}

// NewRowRelation is the name engines give the row that fired a trigger.
const NewRowRelation = "new"

// Materialize rewrites every view or event view with fan-in of two or
// more, visiting them in order (a topological order of tree):
//
//   - no base dependencies: retyped to a derived table, populated once by
//     an initial insert command and never refreshed
//   - native strategy: marked Materialized with one refresh trigger per
//     base dependency, named refresh_mat_view_<view>_<table>
//   - otherwise: replaced by a derived table with the view's columns and
//     translated constraints, an initial insert, and for each base
//     dependency a delete-then-insert pair appended to that table's
//     program
//
// tree must be augmented. Views with fan-in below two are left as they
// are. A projection without a name on a rewritten view is a user error;
// in lenient mode that view is skipped and the rest are still processed.
// ast is not modified; the returned Ast shares untouched relations.
func Materialize(ast *ir.Ast, tree DependencyTree, order []string, opts MaterializeOptions) (*ir.Ast, error) {
	rep := opts.Reporter
	if rep == nil {
		rep = report.New(true, nil)
	}
	records := MaterializationRecords(tree)
	out := ast.Clone()

	for _, name := range order {
		originals, ok := records[name]
		if !ok {
			continue
		}
		view, ok := out.Relation(name)
		if !ok {
			if err := rep.Internal(report.ErrRelationNotFound.New(name)); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case len(originals) == 0:
			table, err := staticTable(view)
			if err != nil {
				if err := rep.User(err); err != nil {
					return nil, err
				}
				continue
			}
			out.Replace(table)
			out.Commands = append(out.Commands, initialInsert(table.Name, view.Selection))

		case opts.NativeMaterializedViews:
			mv := view.Clone()
			mv.Materialized = true
			mv.Triggers = nil
			for _, t := range originals {
				mv.Triggers = append(mv.Triggers, ir.TriggerMeta{
					Name: "refresh_mat_view_" + name + "_" + t,
					On:   t,
				})
			}
			out.Replace(mv)

		default:
			table, err := materializedTable(view)
			if err != nil {
				if err := rep.User(err); err != nil {
					return nil, err
				}
				continue
			}
			out.Replace(table)
			out.Commands = append(out.Commands, initialInsert(name, view.Selection))
			for _, t := range originals {
				cmds := refreshCommands(name, t, view.Selection, opts.IncrementalScope)
				addProgramCommands(out, t, cmds...)
			}
		}
	}
	return out, nil
}

func initialInsert(name string, sel *ir.Selection) ir.Command {
	return ir.InsertCommand{Relation: name, Selection: sel}
}

// refreshCommands builds the delete-then-insert pair run after writes to
// table. Aggregate selections always recompute in full: scoping a group
// by or aggregate to the new row would replace totals with the
// contribution of a single row.
func refreshCommands(view, table string, sel *ir.Selection, scope bool) []ir.Command {
	insertSel := sel
	if scope && !sel.IsAggregate() {
		insertSel = ScopeToNewRow(sel, table)
	}
	return []ir.Command{
		ir.DeleteCommand{Relation: view},
		ir.InsertCommand{Relation: view, Selection: insertSel},
	}
}

// ScopeToNewRow rewrites sel so column references to table read the
// triggering row instead. A unit whose base relation is table loses it;
// its first join, if any, is promoted to base. Unconditioned joins on
// table are dropped.
func ScopeToNewRow(sel *ir.Selection, table string) *ir.Selection {
	renamed := ir.RenameRelation(sel, table, NewRowRelation)
	for i := range renamed.Units {
		u := &renamed.Units[i].Unit
		joins := slices.DeleteFunc(slices.Clone(u.Joins), func(j ir.Join) bool {
			return j.On == nil && j.Ref.Name == table
		})
		if u.Base != nil && u.Base.Name == table && u.Base.Alias == "" {
			u.Base = nil
			if len(joins) > 0 {
				first := joins[0].Ref
				u.Base = &first
				joins = joins[1:]
			}
		}
		u.Joins = joins
	}
	return renamed
}

func addProgramCommands(ast *ir.Ast, trigger string, cmds ...ir.Command) {
	for i, p := range ast.Programs {
		if p.Trigger == trigger {
			ast.Programs[i] = p.WithCommands(cmds...)
			return
		}
	}
	ast.Programs = append(ast.Programs, &ir.Program{Trigger: trigger, Commands: cmds})
}

func staticTable(view *ir.Relation) (*ir.Relation, error) {
	cols, err := materializedColumns(view)
	if err != nil {
		return nil, err
	}
	table := view.Clone()
	table.Kind = ir.DerivedTable
	table.Columns = cols
	return table, nil
}

func materializedTable(view *ir.Relation) (*ir.Relation, error) {
	cols, err := materializedColumns(view)
	if err != nil {
		return nil, err
	}
	cols, constraints := TranslateConstraints(cols, view.Constraints)
	return &ir.Relation{
		Name:        view.Name,
		Kind:        ir.DerivedTable,
		Columns:     cols,
		Constraints: constraints,
		Selection:   view.Selection,
		RemoteID:    view.RemoteID,
	}, nil
}

// materializedColumns returns the view's normalized columns, rejecting
// any without a name. Only a projection that is neither a plain column
// nor aliased can be unnamed.
func materializedColumns(view *ir.Relation) ([]ir.Column, error) {
	for i, c := range view.Columns {
		if c.Name == "" {
			return nil, report.ErrMissingAlias.New(i+1, view.Name)
		}
	}
	cols := make([]ir.Column, len(view.Columns))
	for i, c := range view.Columns {
		cols[i] = ir.Column{Name: c.Name, Type: c.Type}
	}
	return cols, nil
}

// TranslateConstraints moves a view's declared constraints onto the
// table that materializes it. NOT NULL and single-column UNIQUE become
// column-level; multi-column UNIQUE, CHECK and PRIMARY KEY stay at
// relation level. A view with nothing declared yields the explicit empty
// set, never nil.
func TranslateConstraints(cols []ir.Column, declared *ir.Constraints) ([]ir.Column, *ir.Constraints) {
	out := ir.DefaultConstraints()
	if declared.IsEmpty() {
		return cols, out
	}
	cols = slices.Clone(cols)

	notNull := make(map[string]bool)
	for _, n := range declared.NotNull {
		notNull[n] = true
	}
	unique := make(map[string]bool)
	for _, u := range declared.Uniques {
		if len(u) == 1 {
			unique[u[0]] = true
			continue
		}
		out.Uniques = append(out.Uniques, slices.Clone(u))
	}
	for i := range cols {
		if notNull[cols[i].Name] {
			cols[i].Constraints.NotNull = true
			delete(notNull, cols[i].Name)
		}
		if unique[cols[i].Name] {
			cols[i].Constraints.Unique = true
		}
	}
	// NOT NULL on a name the view does not project stays relation level so
	// it is still reported rather than silently dropped.
	out.NotNull = slices.Sorted(maps.Keys(notNull))
	if out.NotNull == nil {
		out.NotNull = []string{}
	}
	out.Checks = append(out.Checks, declared.Checks...)
	out.PrimaryKey = append(out.PrimaryKey, declared.PrimaryKey...)
	return cols, out
}
