package remote

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/querysql"
)

func openWorker(t *testing.T) *Worker {
	t.Helper()
	w, err := OpenWorker("")
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

// TestWorker_ExecQuery runs a shipment body and reads it back.
func TestWorker_ExecQuery(t *testing.T) {
	w := openWorker(t)
	ctx := context.Background()

	require.NoError(t, w.Exec(ctx, "CREATE TABLE i1 (a NUMERIC, timestep NUMERIC NOT NULL, request_timestep NUMERIC)"))
	body := querysql.ShipStatements("i1", []string{"a", "timestep", "request_timestep"}, [][]any{{int64(4), int64(1), int64(1)}})
	require.NoError(t, w.Exec(ctx, body...))

	res, err := w.Query(ctx, "SELECT a, timestep FROM i1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "timestep"}, res.Columns)
	assert.Equal(t, [][]any{{int64(4), int64(1)}}, res.Rows)
}

// TestWorker_ExecAtomic rolls back every statement when one fails.
func TestWorker_ExecAtomic(t *testing.T) {
	w := openWorker(t)
	ctx := context.Background()

	err := w.Exec(ctx, "CREATE TABLE t (a NUMERIC)", "INSERT INTO nope VALUES (1)")
	require.Error(t, err)

	tables, err := Tables(ctx, w)
	require.NoError(t, err)
	assert.Empty(t, tables)
}

// TestTables_Worker introspects declared tables as existing relations.
func TestTables_Worker(t *testing.T) {
	w := openWorker(t)
	ctx := context.Background()
	require.NoError(t, w.Exec(ctx, "CREATE TABLE r1 (a INTEGER, b TEXT)", "CREATE VIEW v AS SELECT a FROM r1"))

	tables, err := Tables(ctx, w)
	require.NoError(t, err)
	require.Len(t, tables, 1)

	rel := tables[0].Relation(2)
	assert.Equal(t, "r1", rel.Name)
	assert.True(t, rel.Existing)
	assert.Equal(t, []string{"a", "b"}, rel.ColumnNames())
}

func TestSpec_Dialect(t *testing.T) {
	assert.Equal(t, querysql.SQLite, Spec{}.Dialect())
	assert.Equal(t, querysql.SQLite, Spec{Kind: KindSocket}.Dialect())
	assert.Equal(t, querysql.Postgres, Spec{Kind: KindPostgres}.Dialect())
	assert.Equal(t, querysql.MySQL, Spec{Kind: KindMySQL}.Dialect())
}
