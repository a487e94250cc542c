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

var scenariosDir = filepath.Join("..", "..", "testdata", "scenarios")

const inlineScenario = `name: inline
description: "one input"
source: |
  relations: {
    clicks: {kind: "event", columns: [{name: "x", type: "number"}]}
    total: {kind: "output", sql: "select count(*) as n from clicks"}
  }
steps:
  - input: clicks
    row: {x: 1}
    expect:
      total: [{n: %d}]
`

func writeScenario(t *testing.T, dir, name string, count int) string {
	t.Helper()
	path := filepath.Join(dir, name+".yaml")
	body := bytes.Replace([]byte(inlineScenario), []byte("%d"), []byte{byte('0' + count)}, 1)
	body = bytes.Replace(body, []byte("name: inline"), []byte("name: "+name), 1)
	require.NoError(t, os.WriteFile(path, body, 0o644))
	return path
}

func runTestCmd(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestTestCommand_MissingArgs(t *testing.T) {
	_, err := runTestCmd(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommand_NonExistentScenariosDir(t *testing.T) {
	_, err := runTestCmd(t, &RootOptions{Format: "text"}, "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestTestCommand_EmptyScenariosDir(t *testing.T) {
	out, err := runTestCmd(t, &RootOptions{Format: "text"}, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommand_EmptyScenariosDirJSON(t *testing.T) {
	out, err := runTestCmd(t, &RootOptions{Format: "json"}, t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommand_RepoScenarios(t *testing.T) {
	out, err := runTestCmd(t, &RootOptions{Format: "text"}, scenariosDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ clicks_total")
	assert.Contains(t, out, "✓ remote_join")
	assert.Contains(t, out, "✓ async_sales")
	assert.Contains(t, out, "✓ remote_shared")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")
}

func TestTestCommand_Filter(t *testing.T) {
	out, err := runTestCmd(t, &RootOptions{Format: "json"}, "--filter", "remote_*", scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Data TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Scenarios, 2)
	assert.Equal(t, "remote_join", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "remote_shared", resp.Data.Scenarios[1].Name)
}

func TestTestCommand_Failure(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "good", 1)
	writeScenario(t, dir, "bad", 2)

	out, err := runTestCmd(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ bad")
	assert.Contains(t, out, "output total")
	assert.Contains(t, out, "Test Summary: 1 passed, 1 failed, 2 total")
}

func TestTestCommand_FailureJSON(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "bad", 2)

	out, err := runTestCmd(t, &RootOptions{Format: "json"}, dir)
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
}

func TestTestCommand_GoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "golden_case", 1)

	out, err := runTestCmd(t, &RootOptions{Format: "text"}, "--update", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "golden updated")

	golden, err := os.ReadFile(goldenFilePath(path))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name": "golden_case"`)

	// The golden directory holds no scenarios of its own.
	_, err = runTestCmd(t, &RootOptions{Format: "text"}, dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(goldenFilePath(path), []byte("{}\n"), 0o644))
	out, err = runTestCmd(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Contains(t, out, "does not match golden file")
}

func TestTestCommand_LoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nbogus: 1\n"), 0o644))

	out, err := runTestCmd(t, &RootOptions{Format: "text"}, dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestTestHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	assert.Contains(t, output, "golden")
	assert.Contains(t, output, "--update")
	assert.Contains(t, output, "--filter")
	assert.Contains(t, output, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFiles_WithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "remote-a.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "remote-b.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "local.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "remote-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	_, err = findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
}

func TestFindScenarioFiles_Subdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	goldenDir := filepath.Join(tmpDir, "golden")
	require.NoError(t, os.MkdirAll(subDir, 0o755))
	require.NoError(t, os.MkdirAll(goldenDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(goldenDir, "skip.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestGoldenFilePath(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"/path/to/scenario.yaml", "/path/to/golden/scenario.golden"},
		{"/path/to/scenario.yml", "/path/to/golden/scenario.golden"},
		{"scenarios/test.yaml", "scenarios/golden/test.golden"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, goldenFilePath(tc.input))
	}
}
