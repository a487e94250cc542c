package ir

// Program is a maintenance program fired after writes to Trigger.
// Commands run in order; for every materialized relation the delete
// precedes its insert.
type Program struct {
	Trigger  string
	Commands []Command
}

// WithCommands returns a copy of p with cmds appended.
func (p *Program) WithCommands(cmds ...Command) *Program {
	out := &Program{Trigger: p.Trigger, Commands: make([]Command, 0, len(p.Commands)+len(cmds))}
	out.Commands = append(out.Commands, p.Commands...)
	out.Commands = append(out.Commands, cmds...)
	return out
}

// Command is a data-modifying statement.
//
// This is a sealed interface - only types in this package implement it.
//
// Command types:
//   - DeleteCommand: DELETE FROM relation [WHERE ...]
//   - InsertCommand: INSERT INTO relation [(cols)] SELECT ... | VALUES ...
//   - UpdateCommand: UPDATE relation SET ... (aggregate refresh)
type Command interface {
	commandNode() // Marker method - seals interface to this package
	Target() string
}

// DeleteCommand removes rows; a nil Where removes all rows.
type DeleteCommand struct {
	Relation string
	Where    Expr
}

func (DeleteCommand) commandNode()     {}
func (c DeleteCommand) Target() string { return c.Relation }

// InsertCommand inserts either the rows of Selection or literal Values.
type InsertCommand struct {
	Relation  string
	Columns   []string
	Selection *Selection
	Values    [][]Expr
}

func (InsertCommand) commandNode()     {}
func (c InsertCommand) Target() string { return c.Relation }

// Assignment is one SET clause entry.
type Assignment struct {
	Column string
	Value  Expr
}

// UpdateCommand assigns columns in place.
type UpdateCommand struct {
	Relation string
	Set      []Assignment
	Where    Expr
}

func (UpdateCommand) commandNode()     {}
func (c UpdateCommand) Target() string { return c.Relation }
