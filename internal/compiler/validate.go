package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/diel/internal/ir"
)

// Validation error codes.
//
// E1xx are declaration errors, E2xx graph errors, E3xx materialization
// errors.
const (
	ErrDuplicateName       = "E101" // relation declared twice
	ErrMissingSelection    = "E102" // derived relation without sql
	ErrMissingColumns      = "E103" // base relation without columns
	ErrDuplicateColumn     = "E104" // column declared twice
	ErrUnknownConstraint   = "E105" // constraint names an undeclared column
	ErrReservedColumn      = "E106" // event table declares timestep or request_timestep
	ErrRemoteOnDerived     = "E107" // remote given for a derived relation
	ErrSelectionOnBase     = "E108" // base relation with sql
	ErrEmptyName           = "E109" // blank relation or column name
	ErrDependencyCycle     = "E201" // relations depend on each other
	ErrMissingAliasForView = "E301" // shared view projects an unnamed expression
)

// ValidationError represents a declaration error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks declarations before compilation. Returns all errors
// found (does not fail-fast). Graph errors such as cycles are reported
// here too so a single run shows everything wrong with a program.
func Validate(ast *ir.Ast) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]bool)

	for i, r := range ast.Relations {
		field := fmt.Sprintf("relations[%d]", i)
		if strings.TrimSpace(r.Name) == "" {
			errs = append(errs, ValidationError{Field: field, Message: "relation name is empty", Code: ErrEmptyName})
			continue
		}
		field = "relations." + r.Name
		if seen[r.Name] {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("duplicate relation %q", r.Name), Code: ErrDuplicateName})
		}
		seen[r.Name] = true

		if r.Kind.IsBase() {
			errs = append(errs, validateBase(field, r)...)
		} else {
			errs = append(errs, validateDerived(field, r)...)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	tree, err := BuildDependencyTree(ast, nil)
	if err != nil {
		return append(errs, ValidationError{Field: "relations", Message: err.Error(), Code: ErrDependencyCycle})
	}
	for _, c := range FindCycles(tree) {
		errs = append(errs, ValidationError{
			Field:   "relations." + c.Path[0],
			Message: "dependency cycle: " + c.String(),
			Code:    ErrDependencyCycle,
		})
	}
	return errs
}

func validateBase(field string, r *ir.Relation) []ValidationError {
	var errs []ValidationError
	if r.Selection != nil {
		errs = append(errs, ValidationError{Field: field + ".sql", Message: r.Kind.String() + " cannot have sql", Code: ErrSelectionOnBase})
	}
	if len(r.Columns) == 0 && !r.Existing {
		errs = append(errs, ValidationError{Field: field + ".columns", Message: "at least one column is required", Code: ErrMissingColumns})
	}

	cols := make(map[string]bool)
	for j, c := range r.Columns {
		cf := fmt.Sprintf("%s.columns[%d]", field, j)
		if strings.TrimSpace(c.Name) == "" {
			errs = append(errs, ValidationError{Field: cf, Message: "column name is empty", Code: ErrEmptyName})
			continue
		}
		if cols[c.Name] {
			errs = append(errs, ValidationError{Field: cf, Message: fmt.Sprintf("duplicate column %q", c.Name), Code: ErrDuplicateColumn})
		}
		cols[c.Name] = true
		if r.Kind == ir.EventTable && (c.Name == ColTimestep || c.Name == ColRequestTimestep) {
			errs = append(errs, ValidationError{Field: cf, Message: fmt.Sprintf("%q is added to event tables automatically", c.Name), Code: ErrReservedColumn})
		}
	}

	if r.Constraints == nil {
		return errs
	}
	check := func(kind string, names []string) {
		for _, n := range names {
			if !cols[n] {
				errs = append(errs, ValidationError{
					Field:   field + ".constraints." + kind,
					Message: fmt.Sprintf("column %q is not declared", n),
					Code:    ErrUnknownConstraint,
				})
			}
		}
	}
	check("notNull", r.Constraints.NotNull)
	check("primaryKey", r.Constraints.PrimaryKey)
	for _, u := range r.Constraints.Uniques {
		check("unique", u)
	}
	return errs
}

func validateDerived(field string, r *ir.Relation) []ValidationError {
	var errs []ValidationError
	if r.Selection == nil || len(r.Selection.Units) == 0 {
		errs = append(errs, ValidationError{Field: field + ".sql", Message: r.Kind.String() + " requires sql", Code: ErrMissingSelection})
	}
	if r.RemoteID != 0 && r.RemoteID != ir.LocalDbID {
		errs = append(errs, ValidationError{Field: field + ".remote", Message: "only tables can be placed on a remote", Code: ErrRemoteOnDerived})
	}
	return errs
}
