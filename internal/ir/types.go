package ir

import (
	"fmt"
	"slices"
)

// DbID identifies one database engine. LocalDbID is reserved for the
// engine owned by the runtime process; every other positive id is a remote.
type DbID int

// LocalDbID is the reserved id of the local engine.
const LocalDbID DbID = 1

// RelationKind classifies a declared relation.
type RelationKind int

const (
	// OriginalTable is a base table whose rows live on a fixed engine.
	OriginalTable RelationKind = iota + 1
	// EventTable is a base table populated only through runtime inputs.
	EventTable
	// View is a derived relation evaluated on demand.
	View
	// EventView is a derived relation that must always be shipped to the local engine.
	EventView
	// DerivedTable is a physical table whose contents are computed from a selection.
	DerivedTable
	// Output is a view that the runtime binds to callbacks.
	Output
)

var relationKindNames = map[RelationKind]string{
	OriginalTable: "table",
	EventTable:    "event table",
	View:          "view",
	EventView:     "event view",
	DerivedTable:  "derived table",
	Output:        "output",
}

func (k RelationKind) String() string {
	if s, ok := relationKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("RelationKind(%d)", int(k))
}

// IsBase reports whether the relation holds rows directly rather than
// being computed from a selection.
func (k RelationKind) IsBase() bool {
	return k == OriginalTable || k == EventTable
}

// IsDerived reports whether the relation carries a selection.
func (k RelationKind) IsDerived() bool {
	return k == View || k == EventView || k == Output || k == DerivedTable
}

// ParseRelationKind maps the declaration keyword to a kind.
func ParseRelationKind(s string) (RelationKind, error) {
	switch s {
	case "table", "original":
		return OriginalTable, nil
	case "event", "event table", "input":
		return EventTable, nil
	case "view":
		return View, nil
	case "event view", "eventView":
		return EventView, nil
	case "derived", "derived table":
		return DerivedTable, nil
	case "output":
		return Output, nil
	}
	return 0, fmt.Errorf("unknown relation kind %q", s)
}

// DataType is the declared type of a column.
type DataType int

const (
	// TypeUnknown marks a column whose type could not be inferred.
	TypeUnknown DataType = iota
	TypeString
	TypeNumber
	TypeBoolean
	TypeTimestamp
)

func (t DataType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBoolean:
		return "boolean"
	case TypeTimestamp:
		return "timestamp"
	}
	return "unknown"
}

// ParseDataType maps declared and SQL type names to a DataType.
func ParseDataType(s string) (DataType, error) {
	switch s {
	case "string", "text", "varchar", "char":
		return TypeString, nil
	case "number", "integer", "int", "real", "float", "double", "numeric", "bigint":
		return TypeNumber, nil
	case "boolean", "bool":
		return TypeBoolean, nil
	case "timestamp", "datetime", "date":
		return TypeTimestamp, nil
	}
	return TypeUnknown, fmt.Errorf("unknown data type %q", s)
}

// ColumnConstraints are the constraints expressible at column level.
type ColumnConstraints struct {
	NotNull    bool
	Unique     bool
	PrimaryKey bool
}

// Column is one typed column of a relation.
type Column struct {
	Name        string
	Type        DataType
	Constraints ColumnConstraints
	Default     Expr // nil when absent
}

// Constraints is the relation-level constraint set.
//
// A nil *Constraints on a Relation means "not yet computed". A relation
// that declared nothing carries DefaultConstraints().
type Constraints struct {
	NotNull    []string
	Uniques    [][]string
	Checks     []Expr
	PrimaryKey []string
}

// DefaultConstraints returns the explicit empty constraint set.
func DefaultConstraints() *Constraints {
	return &Constraints{
		NotNull:    []string{},
		Uniques:    [][]string{},
		Checks:     []Expr{},
		PrimaryKey: []string{},
	}
}

// IsEmpty reports whether no constraint is declared.
func (c *Constraints) IsEmpty() bool {
	return c == nil || (len(c.NotNull) == 0 && len(c.Uniques) == 0 &&
		len(c.Checks) == 0 && len(c.PrimaryKey) == 0)
}

// TriggerMeta describes an engine-native refresh trigger attached to a
// materialized relation (engines with materialized view support).
type TriggerMeta struct {
	Name string // refresh_mat_view_<view>_<table>
	On   string // table whose writes fire the refresh
}

// Relation is a declared or synthesized relation.
type Relation struct {
	Name        string
	Kind        RelationKind
	Columns     []Column
	Constraints *Constraints
	Selection   *Selection // nil for base relations
	RemoteID    DbID       // owning engine for base relations, 0 if unassigned

	// Existing marks a base relation discovered on its engine rather than
	// declared by the program; it is never created or dropped.
	Existing bool

	// Materialized is set when the relation is kept by an engine-native
	// materialized view.
	Materialized bool
	Triggers     []TriggerMeta
}

// Column returns the named column.
func (r *Relation) Column(name string) (Column, bool) {
	for _, c := range r.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the relation's column names in order.
func (r *Relation) ColumnNames() []string {
	names := make([]string, len(r.Columns))
	for i, c := range r.Columns {
		names[i] = c.Name
	}
	return names
}

// Clone returns a shallow copy whose slices may be replaced without
// affecting the original. Selections and expressions are shared.
func (r *Relation) Clone() *Relation {
	cp := *r
	cp.Columns = slices.Clone(r.Columns)
	cp.Triggers = slices.Clone(r.Triggers)
	return &cp
}

// Ast is a whole DIEL program: relations in declaration order, the
// maintenance programs keyed by triggering table, and one-shot commands
// run after definitions are in place.
type Ast struct {
	Relations []*Relation
	Programs  []*Program
	Commands  []Command
}

// Relation looks up a relation by name.
func (a *Ast) Relation(name string) (*Relation, bool) {
	for _, r := range a.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// RelationsOfKind returns relations of the given kinds, in declaration order.
func (a *Ast) RelationsOfKind(kinds ...RelationKind) []*Relation {
	var out []*Relation
	for _, r := range a.Relations {
		if slices.Contains(kinds, r.Kind) {
			out = append(out, r)
		}
	}
	return out
}

// Program returns the program fired by writes to trigger.
func (a *Ast) Program(trigger string) (*Program, bool) {
	for _, p := range a.Programs {
		if p.Trigger == trigger {
			return p, true
		}
	}
	return nil, false
}

// Clone copies the relation and program lists. Relations and programs
// themselves are shared; replace them instead of mutating.
func (a *Ast) Clone() *Ast {
	return &Ast{
		Relations: slices.Clone(a.Relations),
		Programs:  slices.Clone(a.Programs),
		Commands:  slices.Clone(a.Commands),
	}
}

// Replace swaps the relation with the same name for r.
func (a *Ast) Replace(r *Relation) {
	for i, old := range a.Relations {
		if old.Name == r.Name {
			a.Relations[i] = r
			return
		}
	}
	a.Relations = append(a.Relations, r)
}
