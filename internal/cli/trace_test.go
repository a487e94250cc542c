package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/diel/internal/store"
)

// seedLedger writes inputs straight to a fresh database file.
func seedLedger(t *testing.T, inputs ...store.Input) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "diel.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	require.NoError(t, st.Exec(context.Background(), "CREATE TABLE clicks (x INTEGER, timestep INTEGER, request_timestep INTEGER)"))
	require.NoError(t, st.Exec(context.Background(), "CREATE TABLE req (y INTEGER, timestep INTEGER, request_timestep INTEGER)"))
	for _, in := range inputs {
		require.NoError(t, st.WriteInput(context.Background(), in))
	}
	return path
}

func runTraceCmd(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTraceCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTrace_MissingDatabase(t *testing.T) {
	out, err := runTraceCmd(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no database given")
}

func TestTrace_EmptyLedger(t *testing.T) {
	path := seedLedger(t)

	out, err := runTraceCmd(t, &RootOptions{Format: "text"}, "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No inputs recorded.")
}

func TestTrace_Ledger(t *testing.T) {
	path := seedLedger(t,
		store.Input{Timestep: 1, Relation: "clicks", Timestamp: 1000, Columns: []string{"x"}, Rows: [][]any{{1}}},
		store.Input{Timestep: 2, Relation: "req", Timestamp: 2000, Columns: []string{"y"}, Rows: [][]any{{5}}},
		store.Input{Timestep: 3, Relation: "clicks", Timestamp: 3000, Columns: []string{"x"}, Rows: [][]any{{2}}},
	)

	out, err := runTraceCmd(t, &RootOptions{Format: "text"}, "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "timestep")
	assert.Contains(t, out, "1970-01-01T00:00:01Z")
	assert.Contains(t, out, "3 input(s), last timestep 3")
	assert.Contains(t, out, "clicks: 2")
	assert.Contains(t, out, "req: 1")
}

func TestTrace_FiltersJSON(t *testing.T) {
	path := seedLedger(t,
		store.Input{Timestep: 1, Relation: "clicks", Timestamp: 1000, Columns: []string{"x"}, Rows: [][]any{{1}}},
		store.Input{Timestep: 2, Relation: "req", Timestamp: 2000, Columns: []string{"y"}, Rows: [][]any{{5}}},
		store.Input{Timestep: 3, Relation: "clicks", Timestamp: 3000, Columns: []string{"x"}, Rows: [][]any{{2}}},
	)

	out, err := runTraceCmd(t, &RootOptions{Format: "json"}, "--db", path, "--event", "clicks", "--since", "2")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Entries, 1)
	assert.Equal(t, int64(3), resp.Data.Entries[0].Timestep)
	assert.Equal(t, 1, resp.Data.Stats.Inputs)
	assert.Equal(t, int64(3), resp.Data.Stats.LastTimestep)
}

func TestTraceHelpText(t *testing.T) {
	cmd := NewTraceCommand(&RootOptions{})
	assert.Contains(t, cmd.Long, "ledger")
	assert.NotNil(t, cmd.Flags().Lookup("since"))
}
