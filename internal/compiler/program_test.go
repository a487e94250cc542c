package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/ir"
)

// TestParseProgram_Declarations keeps declaration order and details.
func TestParseProgram_Declarations(t *testing.T) {
	ast := mustProgram(t, `
relations: {
	people: {
		kind: "table"
		remote: 3
		columns: [
			{name: "id", type: "number", primaryKey: true},
			{name: "name", type: "string", notNull: true, unique: true, default: "'anon'"},
			{name: "active", type: "boolean", default: true},
		]
		constraints: {check: ["id > 0"]}
	}
	choice: {kind: "event", columns: [{name: "first_name", type: "string"}]}
	greeting: {kind: "output", sql: "select first_name from choice"}
}
commands: ["insert into people (id, name) values (1, 'root')"]
`)

	require.Len(t, ast.Relations, 3)
	assert.Equal(t, []string{"people", "choice", "greeting"}, []string{ast.Relations[0].Name, ast.Relations[1].Name, ast.Relations[2].Name})

	people := ast.Relations[0]
	assert.Equal(t, ir.OriginalTable, people.Kind)
	assert.Equal(t, ir.DbID(3), people.RemoteID)
	assert.True(t, people.Columns[0].Constraints.PrimaryKey)
	assert.Equal(t, ir.ColumnConstraints{NotNull: true, Unique: true}, people.Columns[1].Constraints)
	assert.Equal(t, ir.Literal{Type: ir.TypeString, Value: "anon"}, people.Columns[1].Default)
	assert.Equal(t, ir.Literal{Type: ir.TypeBoolean, Value: "1"}, people.Columns[2].Default)
	require.Len(t, people.Constraints.Checks, 1)

	assert.Equal(t, ir.LocalDbID, ast.Relations[1].RemoteID)
	assert.Equal(t, ir.DbID(0), ast.Relations[2].RemoteID)
	assert.NotNil(t, ast.Relations[2].Selection)

	require.Len(t, ast.Commands, 1)
	assert.Equal(t, "people", ast.Commands[0].Target())
}

// TestParseProgram_Errors reports positions for bad declarations.
func TestParseProgram_Errors(t *testing.T) {
	for name, src := range map[string]string{
		"no relations": `x: 1`,
		"bad kind":     `relations: {a: {kind: "index"}}`,
		"no kind":      `relations: {a: {sql: "select 1"}}`,
		"bad type":     `relations: {a: {kind: "table", columns: [{name: "c", type: "blob"}]}}`,
		"bad sql":      `relations: {a: {kind: "view", sql: "select from"}}`,
		"bad remote":   `relations: {a: {kind: "table", remote: 0, columns: [{name: "c", type: "number"}]}}`,
		"cue syntax":   `relations: {`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProgram([]byte(src), "bad.cue")
			require.Error(t, err)
		})
	}
}

// TestParseProgram_Position includes the file position in CUE errors.
func TestParseProgram_Position(t *testing.T) {
	_, err := ParseProgram([]byte("relations: {\n\ta: {kind: \"index\"}\n}\n"), "bad.cue")
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Contains(t, err.Error(), "bad.cue:2:")
}

// TestLoadProgram_File reads a program from disk.
func TestLoadProgram_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prog.cue")
	require.NoError(t, os.WriteFile(path, []byte(scenarioB), 0o644))
	ast, err := LoadProgram(path)
	require.NoError(t, err)
	assert.Len(t, ast.Relations, 6)

	_, err = LoadProgram(filepath.Join(t.TempDir(), "missing.cue"))
	assert.Error(t, err)
}
