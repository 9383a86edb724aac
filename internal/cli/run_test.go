package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/relq/internal/testutil"
)

var seedProducts = filepath.Join("..", "..", "testdata", "seed_products.yaml")

// runWithOpts runs a query with a fixed compile ID.
func runWithOpts(t *testing.T, opts *RunOptions, queryFile string) (string, error) {
	t.Helper()
	if opts.RootOptions == nil {
		opts.RootOptions = &RootOptions{Format: "json"}
	}
	if opts.MaxRoundTrips == 0 {
		opts.MaxRoundTrips = 100
	}
	opts.IDGenerator = testutil.NewFixedIDGenerator("")

	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(context.Background())

	err := runQuery(opts, queryFile, cmd)
	return buf.String(), err
}

func decodeRun(t *testing.T, output string) RunResult {
	t.Helper()
	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &resp), output)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestRun_InitAndQuery(t *testing.T) {
	db := filepath.Join(t.TempDir(), "demo.db")

	output, err := runWithOpts(t, &RunOptions{Database: db, Init: true, Params: "{name: Ann}"}, queryPath("customers_by_name.yaml"))
	require.NoError(t, err)

	got := decodeRun(t, output)
	assert.Equal(t, "test-compile", got.CompileID)
	assert.Equal(t, `SELECT "c"."Id" FROM "Customers" AS "c" WHERE "c"."Name" = ? ORDER BY "c"."Id"`, got.SQL)
	assert.False(t, got.Client)
	assert.Equal(t, []any{float64(1), float64(4)}, got.Result)
}

func TestRun_ReusesDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "demo.db")

	_, err := runWithOpts(t, &RunOptions{Database: db, Init: true, Params: "{name: Bob}"}, queryPath("customers_by_name.yaml"))
	require.NoError(t, err)

	output, err := runWithOpts(t, &RunOptions{Database: db, Params: "{name: Cid}"}, queryPath("customers_by_name.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []any{float64(3)}, decodeRun(t, output).Result)
}

func TestRun_NullableParameter(t *testing.T) {
	tests := []struct {
		params string
		want   []any
	}{
		{"{city: Rome}", []any{"Cid", "Ann"}},
		{"{city: null}", []any{"Bob"}},
	}
	for _, tt := range tests {
		t.Run(tt.params, func(t *testing.T) {
			db := filepath.Join(t.TempDir(), "demo.db")
			output, err := runWithOpts(t, &RunOptions{Database: db, Init: true, Params: tt.params}, queryPath("city_filter.yaml"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, decodeRun(t, output).Result)
		})
	}
}

func TestRun_ClientEvaluation(t *testing.T) {
	db := filepath.Join(t.TempDir(), "demo.db")

	output, err := runWithOpts(t, &RunOptions{
		RootOptions: &RootOptions{Format: "text", NoColor: true},
		Database:    db,
		Init:        true,
	}, queryPath("reversed_names.yaml"))
	require.NoError(t, err)

	assert.Contains(t, output, `FROM "Customers" AS "c"`)
	assert.NotContains(t, output, "WHERE")
	assert.Contains(t, output, "Client evaluation: yes\nResult: 2 row(s)\n  1\n  4\n")
}

func TestRun_ScalarResult(t *testing.T) {
	dir := t.TempDir()
	queryFile := filepath.Join(dir, "count.yaml")
	require.NoError(t, os.WriteFile(queryFile, []byte("from: {c: Customer}\nops: [count]\n"), 0o644))

	output, err := runWithOpts(t, &RunOptions{
		RootOptions: &RootOptions{Format: "text", NoColor: true},
		Database:    filepath.Join(dir, "demo.db"),
		Init:        true,
	}, queryFile)
	require.NoError(t, err)

	assert.Contains(t, output, "COUNT(*)")
	assert.Contains(t, output, "Result: 4\n")
}

func TestRun_CUEModelWithSeed(t *testing.T) {
	db := filepath.Join(t.TempDir(), "shop.db")

	output, err := runWithOpts(t, &RunOptions{
		RootOptions: &RootOptions{Format: "json", Model: shopModel},
		Database:    db,
		Init:        true,
		Seed:        seedProducts,
		Params:      "{min: 10}",
	}, queryPath("products_over_price.yaml"))
	require.NoError(t, err)

	got := decodeRun(t, output)
	assert.Contains(t, got.SQL, `FROM "Products" AS "p" WHERE "p"."Price" > ?`)
	assert.Equal(t, []any{"Desk", "Lamp"}, got.Result)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	emptyDB := filepath.Join(dir, "empty.db")
	require.NoError(t, os.WriteFile(emptyDB, nil, 0o644))
	badSeed := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(badSeed, []byte("- table: Products\n  rowz: []\n"), 0o644))

	tests := []struct {
		name     string
		opts     *RunOptions
		query    string
		wantExit int
		wantCode string
		wantMsg  string
	}{
		{
			name:     "database missing without init",
			opts:     &RunOptions{Database: filepath.Join(dir, "nope.db"), Params: "{name: Ann}"},
			query:    "customers_by_name.yaml",
			wantExit: ExitCommandError,
			wantCode: ErrCodeNotFound,
			wantMsg:  "use --init",
		},
		{
			name:     "missing parameter",
			opts:     &RunOptions{Database: emptyDB},
			query:    "customers_by_name.yaml",
			wantExit: ExitCommandError,
			wantCode: ErrCodeInvalidParams,
			wantMsg:  `missing parameter "name"`,
		},
		{
			name:     "mistyped parameter",
			opts:     &RunOptions{RootOptions: &RootOptions{Format: "json", Model: shopModel}, Database: emptyDB, Params: "{min: cheap}"},
			query:    "products_over_price.yaml",
			wantExit: ExitCommandError,
			wantCode: ErrCodeInvalidParams,
			wantMsg:  `parameter "min"`,
		},
		{
			name:     "bad seed file",
			opts:     &RunOptions{RootOptions: &RootOptions{Format: "json", Model: shopModel}, Database: filepath.Join(dir, "shop.db"), Init: true, Seed: badSeed, Params: "{min: 1}"},
			query:    "products_over_price.yaml",
			wantExit: ExitCommandError,
			wantCode: ErrCodeStoreFailed,
			wantMsg:  "parsing seed file",
		},
		{
			name:     "tables missing",
			opts:     &RunOptions{Database: emptyDB, Params: "{name: Ann}"},
			query:    "customers_by_name.yaml",
			wantExit: ExitFailure,
			wantCode: ErrCodeQueryFailed,
			wantMsg:  "Customers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := runWithOpts(t, tt.opts, queryPath(tt.query))
			require.Error(t, err)
			assert.Equal(t, tt.wantExit, GetExitCode(err))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal([]byte(output), &resp), output)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
			assert.Contains(t, resp.Error.Message, tt.wantMsg)
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	db := filepath.Join(t.TempDir(), "demo.db")
	opts := &RunOptions{
		RootOptions:   &RootOptions{Format: "json"},
		Database:      db,
		Init:          true,
		Params:        "{name: Ann}",
		MaxRoundTrips: 100,
		IDGenerator:   testutil.NewFixedIDGenerator(""),
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)

	err := runQuery(opts, queryPath("customers_by_name.yaml"), cmd)
	require.Error(t, err)
	assert.NotEqual(t, ExitSuccess, GetExitCode(err))
}

func TestRunCommand_RequiresDB(t *testing.T) {
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{queryPath("customers_by_name.yaml")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)
}
