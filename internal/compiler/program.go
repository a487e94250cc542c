package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/diel/internal/ir"
)

// LoadProgram reads and compiles a DIEL program file.
func LoadProgram(path string) (*ir.Ast, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program: %w", err)
	}
	return ParseProgram(src, path)
}

// ParseProgram compiles DIEL source written in CUE. A program is a
// `relations` struct whose fields, in declaration order, are the
// relations:
//
//	relations: {
//		clicks: {
//			kind: "event"
//			columns: [{name: "x", type: "number", notNull: true}]
//		}
//		total: {
//			kind: "output"
//			sql:  "select count(*) as n from clicks"
//		}
//	}
//
// Base relations (table, event) declare columns and may name the
// engine that owns them with `remote`; derived relations (view, event
// view, output) declare `sql`. Optional `commands` is a list of SQL
// statements run once after setup.
func ParseProgram(src []byte, filename string) (*ir.Ast, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return CompileProgram(v)
}

// CompileProgram converts a CUE value holding a program into the IR.
// Uses the CUE Go API directly.
func CompileProgram(v cue.Value) (*ir.Ast, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	ast := &ir.Ast{}

	rels := v.LookupPath(cue.ParsePath("relations"))
	if !rels.Exists() {
		return nil, &CompileError{Field: "relations", Message: "relations is required", Pos: v.Pos()}
	}
	iter, err := rels.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		r, err := compileRelation(ir.Canonical(iter.Selector().Unquoted()), iter.Value())
		if err != nil {
			return nil, err
		}
		ast.Relations = append(ast.Relations, r)
	}

	if cmds := v.LookupPath(cue.ParsePath("commands")); cmds.Exists() {
		list, err := cmds.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for list.Next() {
			cmd, err := compileCommand(list.Value())
			if err != nil {
				return nil, err
			}
			ast.Commands = append(ast.Commands, cmd)
		}
	}
	return ast, nil
}

func compileRelation(name string, v cue.Value) (*ir.Relation, error) {
	r := &ir.Relation{Name: name}

	kindStr, err := requiredString(v, "kind", name)
	if err != nil {
		return nil, err
	}
	r.Kind, err = ir.ParseRelationKind(kindStr)
	if err != nil {
		return nil, &CompileError{Field: name + ".kind", Message: err.Error(), Pos: v.LookupPath(cue.ParsePath("kind")).Pos()}
	}

	if rv := v.LookupPath(cue.ParsePath("remote")); rv.Exists() {
		id, err := rv.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if id < int64(ir.LocalDbID) {
			return nil, &CompileError{Field: name + ".remote", Message: "engine ids start at 1", Pos: rv.Pos()}
		}
		r.RemoteID = ir.DbID(id)
	} else if r.Kind.IsBase() {
		r.RemoteID = ir.LocalDbID
	}

	if cols := v.LookupPath(cue.ParsePath("columns")); cols.Exists() {
		if r.Columns, err = compileColumns(name, cols); err != nil {
			return nil, err
		}
	}

	if sv := v.LookupPath(cue.ParsePath("sql")); sv.Exists() {
		s, err := sv.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		r.Selection, err = ParseSelection(s)
		if err != nil {
			return nil, &CompileError{Field: name + ".sql", Message: err.Error(), Pos: sv.Pos()}
		}
	}

	r.Constraints = ir.DefaultConstraints()
	if cv := v.LookupPath(cue.ParsePath("constraints")); cv.Exists() {
		if err := compileConstraints(name, cv, r.Constraints); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func compileColumns(rel string, v cue.Value) ([]ir.Column, error) {
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var cols []ir.Column
	for list.Next() {
		cv := list.Value()
		name, err := requiredString(cv, "name", rel+".columns")
		if err != nil {
			return nil, err
		}
		typ, err := requiredString(cv, "type", rel+"."+name)
		if err != nil {
			return nil, err
		}
		col := ir.Column{Name: ir.Canonical(name)}
		if col.Type, err = ir.ParseDataType(typ); err != nil {
			return nil, &CompileError{Field: rel + "." + name + ".type", Message: err.Error(), Pos: cv.Pos()}
		}
		col.Constraints.NotNull = optionalBool(cv, "notNull")
		col.Constraints.Unique = optionalBool(cv, "unique")
		col.Constraints.PrimaryKey = optionalBool(cv, "primaryKey")
		if dv := cv.LookupPath(cue.ParsePath("default")); dv.Exists() {
			if col.Default, err = defaultExpr(dv); err != nil {
				return nil, &CompileError{Field: rel + "." + name + ".default", Message: err.Error(), Pos: dv.Pos()}
			}
		}
		cols = append(cols, col)
	}
	return cols, nil
}

// defaultExpr accepts a CUE scalar or a string holding a SQL expression.
func defaultExpr(v cue.Value) (ir.Expr, error) {
	switch v.IncompleteKind() {
	case cue.IntKind, cue.FloatKind, cue.NumberKind:
		f, err := v.Float64()
		if err != nil {
			return nil, err
		}
		return ir.Literal{Type: ir.TypeNumber, Value: fmt.Sprint(f)}, nil
	case cue.BoolKind:
		b, _ := v.Bool()
		if b {
			return ir.Literal{Type: ir.TypeBoolean, Value: "1"}, nil
		}
		return ir.Literal{Type: ir.TypeBoolean, Value: "0"}, nil
	case cue.NullKind:
		return ir.Null{}, nil
	}
	s, err := v.String()
	if err != nil {
		return nil, err
	}
	return ParseExpr(s)
}

func compileConstraints(rel string, v cue.Value, c *ir.Constraints) error {
	var err error
	if c.NotNull, err = stringList(v, "notNull"); err != nil {
		return err
	}
	if c.PrimaryKey, err = stringList(v, "primaryKey"); err != nil {
		return err
	}
	if uv := v.LookupPath(cue.ParsePath("unique")); uv.Exists() {
		list, err := uv.List()
		if err != nil {
			return formatCUEError(err)
		}
		for list.Next() {
			var cols []string
			if err := list.Value().Decode(&cols); err != nil {
				return formatCUEError(err)
			}
			c.Uniques = append(c.Uniques, cols)
		}
	}
	checks, err := stringList(v, "check")
	if err != nil {
		return err
	}
	for _, s := range checks {
		e, err := ParseExpr(s)
		if err != nil {
			return &CompileError{Field: rel + ".constraints.check", Message: err.Error(), Pos: v.Pos()}
		}
		c.Checks = append(c.Checks, e)
	}
	return nil
}

func compileCommand(v cue.Value) (ir.Command, error) {
	s, err := v.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	cmd, err := ParseCommand(s)
	if err != nil {
		return nil, &CompileError{Field: "commands", Message: err.Error(), Pos: v.Pos()}
	}
	return cmd, nil
}

func requiredString(v cue.Value, field, owner string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{Field: owner + "." + field, Message: field + " is required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, field string) bool {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return false
	}
	b, err := fv.Bool()
	return err == nil && b
}

func stringList(v cue.Value, field string) ([]string, error) {
	out := []string{}
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return out, nil
	}
	if err := fv.Decode(&out); err != nil {
		return nil, formatCUEError(err)
	}
	return out, nil
}

// CompileError represents a program error with source location.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}
