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

var (
	queriesDir = filepath.Join("..", "..", "testdata", "queries")
	shopModel  = filepath.Join("..", "..", "testdata", "models", "shop.cue")
)

func queryPath(name string) string { return filepath.Join(queriesDir, name) }

func executeCompile(t *testing.T, rootOpts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewCompileCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestCompile_Text(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "text", NoColor: true},
		queryPath("customers_by_name.yaml"), "--params", "{name: Ann}")
	require.NoError(t, err)

	assert.Contains(t, output, "✓ Compiled query")
	assert.Contains(t, output, "(sequence)")
	assert.Contains(t, output, "Query:\n  from c in ")
	assert.Contains(t, output, "Plan:\n")
	assert.Contains(t, output, `SQL:
  SELECT "c"."Id" FROM "Customers" AS "c" WHERE "c"."Name" = ? ORDER BY "c"."Id"
  args: ["Ann"]`)
	assert.NotContains(t, output, "Client evaluation")
}

func TestCompile_PlaceholderParams(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "text", NoColor: true}, queryPath("customers_by_name.yaml"))
	require.NoError(t, err)
	assert.Contains(t, output, `args: [""]`)
}

func TestCompile_NullableParameterPlaceholder(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "text", NoColor: true}, queryPath("city_filter.yaml"))
	require.NoError(t, err)

	assert.Contains(t, output, `"c"."City" = ?`)
	assert.NotContains(t, output, "IS NULL")
}

func TestCompile_JSON(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "json"},
		queryPath("customers_by_name.yaml"), "--params", "{name: Ann}")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)

	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, `SELECT "c"."Id" FROM "Customers" AS "c" WHERE "c"."Name" = ? ORDER BY "c"."Id"`, data["sql"])
	assert.Equal(t, []any{"Ann"}, data["args"])
	assert.Equal(t, false, data["client"])
	assert.Equal(t, "sequence", data["result"])
	assert.NotEmpty(t, data["compile_id"])
}

func TestCompile_ClientEvaluation(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "text", NoColor: true}, queryPath("reversed_names.yaml"))
	require.NoError(t, err)

	assert.Contains(t, output, "Client evaluation:")
	assert.Contains(t, output, "Reverse")
}

func TestCompile_Strict(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "text"}, queryPath("reversed_names.yaml"), "--strict")
	require.Error(t, err)

	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, output, "Error [E011]")
	assert.Contains(t, output, "CLIENT_EVAL_DISABLED")
}

func TestCompile_CUEModel(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "text", NoColor: true, Model: shopModel},
		queryPath("products_over_price.yaml"), "--params", "{min: 10}")
	require.NoError(t, err)

	assert.Contains(t, output, `FROM "Products" AS "p" WHERE "p"."Price" > ?`)
	assert.Contains(t, output, "args: [10]")
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name     string
		opts     *RootOptions
		args     []string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "query file not found",
			args:     []string{queryPath("missing.yaml")},
			wantCode: ErrCodeNotFound,
			wantMsg:  "query file not found",
		},
		{
			name:     "unknown entity",
			args:     []string{queryPath("unknown_entity.yaml")},
			wantCode: ErrCodeQuerySyntax,
			wantMsg:  `unknown entity "Invoice"`,
		},
		{
			name:     "unknown parameter",
			args:     []string{queryPath("customers_by_name.yaml"), "--params", "{name: Ann, nope: 1}"},
			wantCode: ErrCodeInvalidParams,
			wantMsg:  `unknown parameter "nope"`,
		},
		{
			name:     "malformed params",
			args:     []string{queryPath("customers_by_name.yaml"), "--params", "{name: [}"},
			wantCode: ErrCodeInvalidParams,
			wantMsg:  "parsing --params",
		},
		{
			name:     "model not found",
			opts:     &RootOptions{Format: "json", Model: "missing.cue"},
			args:     []string{queryPath("customers_by_name.yaml")},
			wantCode: ErrCodeNotFound,
			wantMsg:  "model file not found",
		},
		{
			name:     "invalid query model",
			args:     []string{queryPath("negative_take.yaml")},
			wantCode: ErrCodeCompileFailed,
			wantMsg:  "must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := tt.opts
			if opts == nil {
				opts = &RootOptions{Format: "json"}
			}
			output, err := executeCompile(t, opts, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(output), &resp))
			assert.Equal(t, "error", resp.Status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.wantMsg)
		})
	}
}

func TestCompile_SyntaxErrorLine(t *testing.T) {
	output, err := executeCompile(t, &RootOptions{Format: "json"}, queryPath("unknown_entity.yaml"))
	require.Error(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, map[string]any{"line": float64(1)}, resp.Error.Details)
}

func TestCompile_OutputToFile(t *testing.T) {
	outputFile := filepath.Join(t.TempDir(), "compiled.json")

	output, err := executeCompile(t, &RootOptions{Format: "text", NoColor: true},
		queryPath("customers_by_name.yaml"), "--params", "{name: Ann}", "--output", outputFile)
	require.NoError(t, err)
	assert.Contains(t, output, "Wrote compilation result to "+outputFile)

	data, err := os.ReadFile(outputFile)
	require.NoError(t, err)

	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Contains(t, result.SQL, `FROM "Customers" AS "c"`)
	assert.Equal(t, []any{"Ann"}, result.Args)
	assert.False(t, result.Client)
}
