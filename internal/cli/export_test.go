package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport_ToFile(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "snapshot.db")

	buf := &bytes.Buffer{}
	cmd := NewExportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--to", dest, filepath.Join(programsDir, "clicks.cue")})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "Exported local database to "+dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
}

func TestExport_ConfiguredURI(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "configured.db")
	abs, err := filepath.Abs(filepath.Join(programsDir, "clicks.cue"))
	require.NoError(t, err)
	cfg := writeConfig(t, "program: "+abs+"\nexport:\n  uri: file://"+dest+"\n")

	buf := &bytes.Buffer{}
	cmd := NewExportCommand(&RootOptions{Format: "json", Config: cfg})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)

	_, err = os.Stat(dest)
	require.NoError(t, err)
}

func TestExport_NoDestination(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewExportCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{filepath.Join(programsDir, "clicks.cue")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, buf.String(), "no destination")
}
