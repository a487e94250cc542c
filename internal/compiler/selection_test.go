package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/ir"
	"github.com/roach88/diel/internal/querysql"
)

// TestParseSelection_RoundTrip parses SQL and renders it back.
func TestParseSelection_RoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"select a, b as c from t", "SELECT a, b AS c FROM t"},
		{"select distinct t.a from t where t.a >= 2 and t.b like 'x%'", "SELECT DISTINCT t.a FROM t WHERE t.a >= 2 AND t.b LIKE 'x%'"},
		{"select count(*) as n from t group by a having count(*) > 1 order by a desc limit 5", "SELECT count(*) AS n FROM t GROUP BY a HAVING count(*) > 1 ORDER BY a DESC LIMIT 5"},
		{"select a from t left join u on t.id = u.id", "SELECT a FROM t LEFT JOIN u ON t.id = u.id"},
		{"select a from t, u", "SELECT a FROM t CROSS JOIN u"},
		{"select a from t union all select a from u", "SELECT a FROM t UNION ALL SELECT a FROM u"},
		{"select a from t where a between 1 and 3", "SELECT a FROM t WHERE a BETWEEN 1 AND 3"},
		{"select a from t where a in (1, 2)", "SELECT a FROM t WHERE a IN (1, 2)"},
		{"select a from t where b is null", "SELECT a FROM t WHERE b IS NULL"},
		{"select s.a from (select a from t) as s", "SELECT s.a FROM (SELECT a FROM t) AS s"},
		{"select 1 as one", "SELECT 1 AS one"},
	}
	c := querysql.NewSQLCompiler(querysql.SQLite)
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sel, err := ParseSelection(tt.in)
			require.NoError(t, err)
			got, err := c.Selection(sel)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestParseSelection_Rejects refuses non-selects and unsupported clauses.
func TestParseSelection_Rejects(t *testing.T) {
	for _, in := range []string{
		"delete from t",
		"select a from t limit 1, 2",
		"select a from t join u using (id)",
		"select from",
	} {
		_, err := ParseSelection(in)
		assert.Error(t, err, in)
	}
}

// TestParseExpr_Standalone parses a bare expression.
func TestParseExpr_Standalone(t *testing.T) {
	e, err := ParseExpr("price > 0")
	require.NoError(t, err)
	assert.Equal(t, ir.Binary{Op: ">", Left: ir.ColumnRef{Column: "price"}, Right: ir.Literal{Type: ir.TypeNumber, Value: "0"}}, e)
}

// TestParseCommand_Kinds parses each data-modifying statement.
func TestParseCommand_Kinds(t *testing.T) {
	c := querysql.NewSQLCompiler(querysql.SQLite)
	for in, want := range map[string]string{
		"insert into t (a, b) values (1, 'x')":  "INSERT INTO t (a, b) VALUES (1, 'x')",
		"insert into t select a from u":          "INSERT INTO t SELECT a FROM u",
		"delete from t where a = 1":              "DELETE FROM t WHERE a = 1",
		"update t set a = 2 where b is not null": "UPDATE t SET a = 2 WHERE b IS NOT NULL",
	} {
		cmd, err := ParseCommand(in)
		require.NoError(t, err, in)
		got, err := c.Command(cmd)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseCommand("select 1")
	assert.Error(t, err)
}
