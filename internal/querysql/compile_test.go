package querysql

import (
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/ir"
)

func col(rel, name string) ir.ColumnRef {
	return ir.ColumnRef{Relation: rel, Column: name, Type: ir.TypeNumber}
}

func num(v string) ir.Literal {
	return ir.Literal{Type: ir.TypeNumber, Value: v}
}

// bigClicks is SELECT clicks.x AS x FROM clicks WHERE clicks.x > 1.
func bigClicks() *ir.Selection {
	return &ir.Selection{Units: []ir.CompositeUnit{{Unit: ir.SelectionUnit{
		Columns: []ir.ColumnSelection{{Expr: col("clicks", "x"), Alias: "x"}},
		Base:    &ir.RelationRef{Name: "clicks"},
		Where:   ir.Binary{Op: ">", Left: col("clicks", "x"), Right: num("1")},
	}}}}
}

func clicksTable() *ir.Relation {
	return &ir.Relation{
		Name: "clicks",
		Kind: ir.EventTable,
		Columns: []ir.Column{
			{Name: "x", Type: ir.TypeNumber, Constraints: ir.ColumnConstraints{NotNull: true}},
			{Name: "label", Type: ir.TypeString, Default: ir.Literal{Type: ir.TypeString, Value: "a"}},
			{Name: "timestep", Type: ir.TypeNumber, Constraints: ir.ColumnConstraints{NotNull: true}},
		},
		Constraints: ir.DefaultConstraints(),
		RemoteID:    ir.LocalDbID,
	}
}

func script(stmts []string) string {
	return strings.Join(stmts, ";\n\n") + ";\n"
}

// TestSelection_Rendering covers clause ordering and operator rendering.
func TestSelection_Rendering(t *testing.T) {
	c := NewSQLCompiler(SQLite)
	tests := []struct {
		name string
		sel  *ir.Selection
		want string
	}{
		{
			name: "filter",
			sel:  bigClicks(),
			want: "SELECT clicks.x AS x FROM clicks WHERE clicks.x > 1",
		},
		{
			name: "aggregate",
			sel: &ir.Selection{Units: []ir.CompositeUnit{{Unit: ir.SelectionUnit{
				Columns: []ir.ColumnSelection{
					{Expr: col("t", "k")},
					{Expr: ir.FuncCall{Name: "count", Args: []ir.Expr{ir.Star{}}}, Alias: "n"},
				},
				Base:    &ir.RelationRef{Name: "t"},
				GroupBy: []ir.Expr{col("t", "k")},
				Having:  ir.Binary{Op: ">", Left: ir.FuncCall{Name: "count", Args: []ir.Expr{ir.Star{}}}, Right: num("2")},
				OrderBy: []ir.Order{{Expr: col("t", "k"), Desc: true}},
				Limit:   num("10"),
			}}}},
			want: "SELECT t.k, count(*) AS n FROM t GROUP BY t.k HAVING count(*) > 2 ORDER BY t.k DESC LIMIT 10",
		},
		{
			name: "join and union",
			sel: &ir.Selection{Units: []ir.CompositeUnit{
				{Unit: ir.SelectionUnit{
					Columns: []ir.ColumnSelection{{Expr: col("a", "x")}},
					Base:    &ir.RelationRef{Name: "a"},
					Joins: []ir.Join{{
						Kind: ir.JoinLeft,
						Ref:  ir.RelationRef{Name: "b", Alias: "bb"},
						On:   ir.Binary{Op: "=", Left: col("a", "x"), Right: col("bb", "x")},
					}},
				}},
				{Op: ir.SetUnionAll, Unit: ir.SelectionUnit{
					Distinct: true,
					Columns:  []ir.ColumnSelection{{Expr: col("c", "x")}},
					Base:     &ir.RelationRef{Name: "c"},
					Where:    ir.Unary{Op: ir.OpIsNotNull, Operand: col("c", "x")},
				}},
			}},
			want: "SELECT a.x FROM a LEFT JOIN b AS bb ON a.x = bb.x UNION ALL SELECT DISTINCT c.x FROM c WHERE c.x IS NOT NULL",
		},
		{
			name: "subquery and between",
			sel: &ir.Selection{Units: []ir.CompositeUnit{{Unit: ir.SelectionUnit{
				Columns: []ir.ColumnSelection{{Expr: ir.Star{}}},
				Base: &ir.RelationRef{Alias: "s", Subquery: &ir.Selection{Units: []ir.CompositeUnit{{Unit: ir.SelectionUnit{
					Columns: []ir.ColumnSelection{{Expr: col("t", "v")}},
					Base:    &ir.RelationRef{Name: "t"},
				}}}}},
				Where: ir.Between{Operand: col("s", "v"), Low: num("1"), High: num("5"), Negated: true},
			}}}},
			want: "SELECT * FROM (SELECT t.v FROM t) AS s WHERE s.v NOT BETWEEN 1 AND 5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Selection(tt.sel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestExpr_Literals checks literal quoting and boolean rendering.
func TestExpr_Literals(t *testing.T) {
	c := NewSQLCompiler(SQLite)
	for _, tt := range []struct {
		in   ir.Expr
		want string
	}{
		{ir.Literal{Type: ir.TypeString, Value: "it's"}, "'it''s'"},
		{ir.Literal{Type: ir.TypeBoolean, Value: "true"}, "TRUE"},
		{ir.Literal{Type: ir.TypeBoolean, Value: "0"}, "FALSE"},
		{ir.Null{}, "NULL"},
		{ir.Unary{Op: ir.OpNegate, Operand: num("3")}, "-3"},
		{ir.Unary{Op: ir.OpNot, Operand: ir.Paren{Inner: ir.Binary{Op: "and", Left: col("a", "x"), Right: col("a", "y")}}}, "NOT (a.x AND a.y)"},
	} {
		got, err := c.Expr(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

// TestExpr_Nil reports a null argument instead of panicking.
func TestExpr_Nil(t *testing.T) {
	_, err := NewSQLCompiler(SQLite).Expr(nil)
	require.Error(t, err)
}

// TestRelationRef_Malformed rejects a ref with neither name nor subquery.
func TestRelationRef_Malformed(t *testing.T) {
	sel := &ir.Selection{Units: []ir.CompositeUnit{{Unit: ir.SelectionUnit{
		Columns: []ir.ColumnSelection{{Expr: ir.Star{}}},
		Base:    &ir.RelationRef{Alias: "x"},
	}}}}
	_, err := NewSQLCompiler(SQLite).Selection(sel)
	require.Error(t, err)
}

// TestDefine_SQLiteGolden pins the SQLite DDL of a table, a view and a
// maintenance program.
func TestDefine_SQLiteGolden(t *testing.T) {
	c := NewSQLCompiler(SQLite)
	var stmts []string

	table, err := c.Define(clicksTable())
	require.NoError(t, err)
	stmts = append(stmts, table...)

	view, err := c.Define(&ir.Relation{Name: "v", Kind: ir.View, Selection: bigClicks()})
	require.NoError(t, err)
	stmts = append(stmts, view...)

	prog, err := c.CreateProgram(&ir.Program{Trigger: "clicks", Commands: []ir.Command{
		ir.DeleteCommand{Relation: "m"},
		ir.InsertCommand{Relation: "m", Selection: bigClicks()},
	}})
	require.NoError(t, err)
	stmts = append(stmts, prog...)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "sqlite_program", []byte(script(stmts)))
}

// TestDefine_PostgresMaterialized emits a materialized view with one
// refresh function and trigger per dependency.
func TestDefine_PostgresMaterialized(t *testing.T) {
	c := NewSQLCompiler(Postgres)
	stmts, err := c.Define(&ir.Relation{
		Name:         "m",
		Kind:         ir.View,
		Selection:    bigClicks(),
		Materialized: true,
		Triggers:     []ir.TriggerMeta{{Name: "refresh_mat_view_m_clicks", On: "clicks"}},
	})
	require.NoError(t, err)
	require.Len(t, stmts, 3)
	assert.Equal(t, "CREATE MATERIALIZED VIEW m AS SELECT clicks.x AS x FROM clicks WHERE clicks.x > 1", stmts[0])
	assert.Equal(t, "CREATE OR REPLACE FUNCTION refresh_mat_view_m_clicks() RETURNS trigger AS $$ BEGIN REFRESH MATERIALIZED VIEW m; RETURN NULL; END $$ LANGUAGE plpgsql", stmts[1])
	assert.Equal(t, "CREATE TRIGGER refresh_mat_view_m_clicks AFTER INSERT OR UPDATE OR DELETE ON clicks FOR EACH STATEMENT EXECUTE PROCEDURE refresh_mat_view_m_clicks()", stmts[2])

	assert.Equal(t, "DROP MATERIALIZED VIEW IF EXISTS m", c.Drop(&ir.Relation{Name: "m", Kind: ir.View, Materialized: true}))
}

// TestDefine_MaterializedUnsupported refuses native materialization on SQLite.
func TestDefine_MaterializedUnsupported(t *testing.T) {
	_, err := NewSQLCompiler(SQLite).Define(&ir.Relation{
		Name: "m", Kind: ir.View, Selection: bigClicks(), Materialized: true,
	})
	require.Error(t, err)
}

// TestCreateTable_RelationConstraints renders table-level constraints.
func TestCreateTable_RelationConstraints(t *testing.T) {
	r := &ir.Relation{
		Name: "m",
		Kind: ir.DerivedTable,
		Columns: []ir.Column{
			{Name: "a", Type: ir.TypeNumber},
			{Name: "b", Type: ir.TypeString},
		},
		Constraints: &ir.Constraints{
			NotNull:    []string{"b"},
			Uniques:    [][]string{{"a", "b"}},
			Checks:     []ir.Expr{ir.Binary{Op: ">", Left: ir.ColumnRef{Column: "a"}, Right: num("0")}},
			PrimaryKey: []string{"a"},
		},
	}
	got, err := NewSQLCompiler(MySQL).CreateTable(r)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE m (\n  a DOUBLE,\n  b TEXT NOT NULL,\n  PRIMARY KEY (a),\n  UNIQUE (a, b),\n  CHECK (a > 0)\n)", got)
}

// TestCreateProgram_Postgres uses one statement-level trigger.
func TestCreateProgram_Postgres(t *testing.T) {
	c := NewSQLCompiler(Postgres)
	p := &ir.Program{Trigger: "clicks", Commands: []ir.Command{ir.DeleteCommand{Relation: "m"}}}
	stmts, err := c.CreateProgram(p)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"CREATE OR REPLACE FUNCTION program_clicks() RETURNS trigger AS $$ BEGIN DELETE FROM m; RETURN NULL; END $$ LANGUAGE plpgsql",
		"CREATE TRIGGER program_clicks AFTER INSERT OR UPDATE OR DELETE ON clicks FOR EACH STATEMENT EXECUTE PROCEDURE program_clicks()",
	}, stmts)
	assert.Equal(t, []string{
		"DROP TRIGGER IF EXISTS program_clicks ON clicks",
		"DROP FUNCTION IF EXISTS program_clicks()",
	}, c.DropProgram(p))
}

// TestCreateProgram_Empty emits nothing for a program without commands.
func TestCreateProgram_Empty(t *testing.T) {
	stmts, err := NewSQLCompiler(SQLite).CreateProgram(&ir.Program{Trigger: "t"})
	require.NoError(t, err)
	assert.Empty(t, stmts)
}

// TestCommand_Variants renders each command type.
func TestCommand_Variants(t *testing.T) {
	c := NewSQLCompiler(SQLite)
	for _, tt := range []struct {
		cmd  ir.Command
		want string
	}{
		{ir.DeleteCommand{Relation: "t"}, "DELETE FROM t"},
		{ir.DeleteCommand{Relation: "t", Where: ir.Binary{Op: "=", Left: ir.ColumnRef{Column: "a"}, Right: num("1")}}, "DELETE FROM t WHERE a = 1"},
		{ir.InsertCommand{Relation: "t", Columns: []string{"a", "b"}, Values: [][]ir.Expr{{num("1"), ir.Null{}}, {num("2"), ir.Literal{Type: ir.TypeString, Value: "x"}}}}, "INSERT INTO t (a, b) VALUES (1, NULL), (2, 'x')"},
		{ir.UpdateCommand{Relation: "t", Set: []ir.Assignment{{Column: "a", Value: num("3")}}}, "UPDATE t SET a = 3"},
	} {
		got, err := c.Command(tt.cmd)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

// TestDrop_ByKind picks the drop statement from the relation kind.
func TestDrop_ByKind(t *testing.T) {
	c := NewSQLCompiler(SQLite)
	assert.Equal(t, "DROP TABLE IF EXISTS t", c.Drop(&ir.Relation{Name: "t", Kind: ir.EventTable}))
	assert.Equal(t, "DROP TABLE IF EXISTS d", c.Drop(&ir.Relation{Name: "d", Kind: ir.DerivedTable}))
	assert.Equal(t, "DROP VIEW IF EXISTS o", c.Drop(&ir.Relation{Name: "o", Kind: ir.Output}))
}
