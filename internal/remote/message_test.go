package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/querysql"
	"github.com/roach88/diel/internal/report"
)

// recorder is a Remote that remembers what it was asked to do.
type recorder struct {
	execs   [][]string
	posts   [][]string
	queries []string
	fail    error
}

func (r *recorder) Dialect() querysql.Dialect { return querysql.SQLite }

func (r *recorder) Exec(_ context.Context, stmts ...string) error {
	r.execs = append(r.execs, stmts)
	return r.fail
}

func (r *recorder) Query(_ context.Context, q string) (*querysql.Result, error) {
	r.queries = append(r.queries, q)
	if r.fail != nil {
		return nil, r.fail
	}
	return &querysql.Result{Columns: []string{"a"}, Rows: [][]any{{int64(1)}}}, nil
}

func (r *recorder) Close() error { return nil }

type postingRecorder struct{ recorder }

func (p *postingRecorder) Post(stmts ...string) error {
	p.posts = append(p.posts, stmts)
	return nil
}

type cleaningRecorder struct {
	recorder
	cleanups [][]string
}

func (c *cleaningRecorder) Cleanup(stmts ...string) error {
	c.cleanups = append(c.cleanups, stmts)
	return nil
}

// TestConn_SendKinds routes queries and statements to the right calls.
func TestConn_SendKinds(t *testing.T) {
	r := &recorder{}
	c := NewConn(2, r, nil)
	ctx := context.Background()

	_, err := c.Send(ctx, NewMessage(DefineRelations, "", 0, "CREATE TABLE t (a NUMERIC)", "CREATE VIEW v AS SELECT a FROM t"))
	require.NoError(t, err)
	res, err := c.Send(ctx, ShipRelationMessage("v", 3))
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"CREATE TABLE t (a NUMERIC)", "CREATE VIEW v AS SELECT a FROM t"}}, r.execs)
	assert.Equal(t, []string{"SELECT * FROM v"}, r.queries)
	assert.Equal(t, 1, res.Len())
}

// TestConn_PostWithoutAck skips the wait on remotes that can post.
func TestConn_PostWithoutAck(t *testing.T) {
	r := &postingRecorder{}
	c := NewConn(3, r, nil)
	msg := NewMessage(CleanUpQueries, "", 0, "DROP VIEW IF EXISTS v")
	msg.AwaitAck = false

	_, err := c.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"DROP VIEW IF EXISTS v"}}, r.posts)
	assert.Empty(t, r.execs)

	// a remote without Post still runs the statements
	plain := &recorder{}
	_, err = NewConn(4, plain, nil).Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Len(t, plain.execs, 1)
}

// TestConn_CleanupDeferred hands clean-up statements to Cleaners and
// runs them directly on other remotes.
func TestConn_CleanupDeferred(t *testing.T) {
	ctx := context.Background()
	cl := &cleaningRecorder{}
	_, err := NewConn(2, cl, nil).Send(ctx, NewMessage(CleanUpQueries, "", 0, "DROP VIEW IF EXISTS v"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"DROP VIEW IF EXISTS v"}}, cl.cleanups)
	assert.Empty(t, cl.execs)

	r := &recorder{}
	_, err = NewConn(3, r, nil).Send(ctx, NewMessage(CleanUpQueries, "", 0, "DROP VIEW IF EXISTS v"))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"DROP VIEW IF EXISTS v"}}, r.execs)
}

// TestConn_TransportError tags failures with the engine id.
func TestConn_TransportError(t *testing.T) {
	c := NewConn(2, &recorder{fail: errors.New("boom")}, nil)
	_, err := c.Send(context.Background(), NewMessage(UpdateRelation, "i1", 1, "DELETE FROM i1"))
	require.Error(t, err)
	assert.True(t, report.IsTransport(err))
	assert.Contains(t, err.Error(), "remote 2 failed update_relation")
}

// TestConn_QueryNeedsOneStatement rejects malformed query messages.
func TestConn_QueryNeedsOneStatement(t *testing.T) {
	c := NewConn(2, &recorder{}, nil)
	_, err := c.Send(context.Background(), NewMessage(RunQuery, "", 0))
	assert.True(t, report.IsInternal(err))
}

// TestNewMessage_UniqueIDs gives every message its own id.
func TestNewMessage_UniqueIDs(t *testing.T) {
	a := NewMessage(ExecStatements, "", 0, "SELECT 1")
	b := NewMessage(ExecStatements, "", 0, "SELECT 1")
	assert.NotEqual(t, a.ID, b.ID)
	assert.True(t, a.AwaitAck)
}
