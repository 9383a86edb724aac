package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/testutil"
)

func executeValidate(t *testing.T, rootOpts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_Valid(t *testing.T) {
	output, err := executeValidate(t, &RootOptions{Format: "text", NoColor: true},
		queryPath("customers_by_name.yaml"),
		queryPath("reversed_names.yaml"),
		queryPath("orders_with_customer.yaml"),
	)
	require.NoError(t, err)
	assert.Equal(t, "✓ All 3 queries valid\n", output)
}

func TestValidate_SingleQuery(t *testing.T) {
	output, err := executeValidate(t, &RootOptions{Format: "text", NoColor: true}, queryPath("city_filter.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "✓ All 1 query valid\n", output)
}

func TestValidate_CUEModel(t *testing.T) {
	output, err := executeValidate(t, &RootOptions{Format: "json", Model: shopModel}, queryPath("products_over_price.yaml"))
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"valid": true, "files": float64(1)}, resp.Data)
}

func TestValidate_Failures(t *testing.T) {
	output, err := executeValidate(t, &RootOptions{Format: "text", NoColor: true},
		queryPath("unknown_entity.yaml"),
		queryPath("negative_take.yaml"),
		queryPath("customers_by_name.yaml"),
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	assert.Contains(t, output, "✗ Validation failed")
	assert.Contains(t, output, queryPath("unknown_entity.yaml")+":1\n")
	assert.Contains(t, output, `E009: unknown entity "Invoice"`)
	assert.Contains(t, output, "E110: ")
	assert.Contains(t, output, "Take count must not be negative, got -1")
	assert.NotContains(t, output, "customers_by_name")
}

func TestValidate_FailuresJSON(t *testing.T) {
	output, err := executeValidate(t, &RootOptions{Format: "json"},
		queryPath("negative_take.yaml"),
		queryPath("unknown_entity.yaml"),
	)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Files)
	require.Len(t, resp.Data.Errors, 2)

	assert.Equal(t, "E110", resp.Data.Errors[0].Code)
	assert.Equal(t, queryPath("negative_take.yaml"), resp.Data.Errors[0].File)
	assert.NotEmpty(t, resp.Data.Errors[0].Field)

	assert.Equal(t, ErrCodeQuerySyntax, resp.Data.Errors[1].Code)
	assert.Equal(t, 1, resp.Data.Errors[1].Line)

	assert.Equal(t, "E110", resp.Error.Code)
}

func TestValidate_MissingFile(t *testing.T) {
	output, err := executeValidate(t, &RootOptions{Format: "text", NoColor: true}, queryPath("missing.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, output, "E005: query file not found")
}

func TestValidate_ModelErrors(t *testing.T) {
	broken := filepath.Join(t.TempDir(), "broken.cue")
	require.NoError(t, os.WriteFile(broken, []byte("entities: {"), 0o644))

	tests := []struct {
		name     string
		model    string
		wantCode string
	}{
		{"model not found", "missing.cue", ErrCodeNotFound},
		{"model does not parse", broken, ErrCodeModelInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := executeValidate(t, &RootOptions{Format: "json", Model: tt.model}, queryPath("customers_by_name.yaml"))
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(output), &resp))
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestValidateQueries(t *testing.T) {
	m, err := testutil.NewModel()
	require.NoError(t, err)

	issues := ValidateQueries(m, []string{queryPath("customers_by_name.yaml"), queryPath("negative_take.yaml")})
	require.Len(t, issues, 1)
	assert.Equal(t, "E110", issues[0].Code)
}
