package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var scenariosDir = filepath.Join("..", "..", "testdata", "scenarios")

func executeTest(t *testing.T, rootOpts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// copyScenario copies a scenario from the shared testdata into dir.
func copyScenario(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(scenariosDir, name+".yaml"))
	require.NoError(t, err)
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestTest_AllScenariosPass(t *testing.T) {
	output, err := executeTest(t, &RootOptions{Format: "text", NoColor: true}, scenariosDir)
	require.NoError(t, err, output)

	assert.Contains(t, output, "✓ customers_by_name\n")
	assert.Contains(t, output, "✓ shop_products_over_price\n")
	assert.Contains(t, output, "Test Summary: 7 passed, 0 failed, 7 total")
	assert.Contains(t, output, "✓ All scenarios passed")
}

func TestTest_JSON(t *testing.T) {
	output, err := executeTest(t, &RootOptions{Format: "json"}, scenariosDir, "--filter", "customers_*")
	require.NoError(t, err, output)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Total)
	assert.Equal(t, 2, resp.Data.Passed)

	names := make([]string, len(resp.Data.Scenarios))
	for i, s := range resp.Data.Scenarios {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"customers_by_name", "customers_in_city_count"}, names)
	assert.Equal(t, `SELECT "c"."Id" FROM "Customers" AS "c" WHERE "c"."Name" = ? ORDER BY "c"."Id"`, resp.Data.Scenarios[0].SQL)
}

func TestTest_Filter(t *testing.T) {
	tests := []struct {
		filter string
		want   string
	}{
		{"dogs_*", "1 passed, 0 failed, 1 total"},
		{"nothing_*", "No scenarios found."},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			output, err := executeTest(t, &RootOptions{Format: "text", NoColor: true}, scenariosDir, "--filter", tt.filter)
			require.NoError(t, err)
			assert.Contains(t, output, tt.want)
		})
	}
}

func TestTest_InvalidFilter(t *testing.T) {
	_, err := executeTest(t, &RootOptions{Format: "text"}, scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_PathNotFound(t *testing.T) {
	_, err := executeTest(t, &RootOptions{Format: "text"}, filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to find scenarios")
}

func TestTest_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wrong.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`name: wrong
description: "Expects one name where there are four"
query:
  from: {c: Customer}
  select: c.Name
expect:
  result: [Ann]
`), 0o644))

	output, err := executeTest(t, &RootOptions{Format: "text", NoColor: true}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, output, "✗ wrong\n")
	assert.Contains(t, output, "  Assertion failed: expect.result\n")
	assert.Contains(t, output, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTest_FailingScenarioJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: broken\n"), 0o644))

	output, err := executeTest(t, &RootOptions{Format: "json"}, path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, "1 scenario(s) failed", resp.Error.Message)
}

func TestTest_GoldenUpdateAndCompare(t *testing.T) {
	dir := t.TempDir()
	path := copyScenario(t, dir, "customers_by_name")
	goldenPath := filepath.Join(dir, "golden", "customers_by_name.golden")

	_, err := executeTest(t, &RootOptions{Format: "text", NoColor: true}, path, "--update")
	require.NoError(t, err)

	golden, err := os.ReadFile(goldenPath)
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario": "customers_by_name"`)
	assert.Contains(t, string(golden), `"client": false`)

	// Matching golden file passes.
	output, err := executeTest(t, &RootOptions{Format: "text", NoColor: true}, path)
	require.NoError(t, err, output)

	// A stale golden file fails.
	stale := strings.Replace(string(golden), `"client": false`, `"client": true`, 1)
	require.NoError(t, os.WriteFile(goldenPath, []byte(stale), 0o644))

	output, err = executeTest(t, &RootOptions{Format: "text", NoColor: true}, path)
	require.Error(t, err)
	assert.Contains(t, output, "snapshot does not match golden file (run with --update to regenerate)")
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("a", "b", "golden", "c.golden"),
		goldenFilePath(filepath.Join("a", "b", "c.yaml")),
	)
}
