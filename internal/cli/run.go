package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/relq/internal/compiler"
	"github.com/roach88/relq/internal/engine"
	"github.com/roach88/relq/internal/harness"
	"github.com/roach88/relq/internal/model"
	"github.com/roach88/relq/internal/querysql"
	"github.com/roach88/relq/internal/store"
	"github.com/roach88/relq/internal/testutil"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database      string
	Params        string
	Init          bool   // create the schema (and demo rows) before running
	Seed          string // YAML file of seed rows inserted after --init
	MaxRoundTrips int

	// IDGenerator allows overriding the compile ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator compiler.IDGenerator
}

// RunResult is the outcome of one query execution.
type RunResult struct {
	CompileID string `json:"compile_id"`
	SQL       string `json:"sql,omitempty"`
	Client    bool   `json:"client"`
	Result    any    `json:"result"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <query.yaml>",
		Short: "Execute a query against a SQLite database",
		Long: `Execute a YAML query against a SQLite database and print the result.

With --init the schema of the model is created first; for the built-in
demo model the demo rows are inserted as well. --seed inserts rows from a
YAML file of {table, rows} entries.

Example:
  relq run --db ./demo.db --init queries/customers_by_name.yaml --params '{name: Ann}'
  relq run --db ./shop.db --model shop.cue queries/products.yaml --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Params, "params", "", "parameter values as a YAML mapping")
	cmd.Flags().BoolVar(&opts.Init, "init", false, "create the schema before running")
	cmd.Flags().StringVar(&opts.Seed, "seed", "", "YAML file of rows to insert after --init")
	cmd.Flags().IntVar(&opts.MaxRoundTrips, "max-round-trips", engine.DefaultMaxRoundTrips, "store round trips allowed per query (0 disables)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runQuery(opts *RunOptions, queryFile string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	m, err := LoadModel(opts.Model)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	q, err := LoadQuery(queryFile, m)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	raw, err := ParseParams(opts.Params)
	if err != nil {
		return outputLoadError(formatter, err)
	}
	params, err := BindParams(q, raw)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	if !opts.Init {
		if _, err := os.Stat(opts.Database); os.IsNotExist(err) {
			return outputCompileError(formatter, ErrCodeNotFound, fmt.Sprintf("database not found: %s (use --init to create it)", opts.Database), nil)
		}
	}

	// Setup signal handling for graceful cancellation
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, cancelling query", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Debug("opening database", "path", opts.Database)
	st, err := store.Open(opts.Database)
	if err != nil {
		return outputCompileError(formatter, ErrCodeStoreFailed, fmt.Sprintf("opening database: %v", err), nil)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			logger.Error("error closing database", "error", closeErr)
		}
	}()

	if opts.Init {
		if err := initDatabase(ctx, st, m, opts, logger); err != nil {
			return outputCompileError(formatter, ErrCodeStoreFailed, err.Error(), nil)
		}
	}

	copts := []compiler.Option{compiler.WithLogger(logger)}
	if opts.IDGenerator != nil {
		copts = append(copts, compiler.WithCompileIDGenerator(opts.IDGenerator))
	}
	eng := engine.New(st, compiler.New(m, copts...),
		engine.WithLogger(logger),
		engine.WithMaxRoundTrips(opts.MaxRoundTrips),
	)

	cq, err := eng.Compile(q.Model)
	if err != nil {
		return outputCompileError(formatter, ErrCodeCompileFailed, err.Error(), translationDetails(err))
	}
	result := &RunResult{CompileID: cq.ID, Client: cq.Client != nil}
	if !cq.IsClientOnly() {
		command, err := querysql.NewRenderer().Render(cq.Select, params)
		if err != nil {
			return outputCompileError(formatter, ErrCodeCompileFailed, fmt.Sprintf("rendering SQL: %v", err), nil)
		}
		result.SQL = command.Text
		logger.Debug("store command", "compile_id", cq.ID, "sql", command.Text, "args", command.Args)
	}

	v, err := eng.Query(ctx, q.Model, params)
	if err != nil {
		_ = formatter.Error(ErrCodeQueryFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "query failed", err)
	}
	result.Result = harness.Normalize(v)

	return outputRunSuccess(formatter, result)
}

// initDatabase creates the model's tables and inserts seed rows: the demo
// rows for the built-in model, then the rows of --seed.
func initDatabase(ctx context.Context, st *store.Store, m *model.Model, opts *RunOptions, logger *slog.Logger) error {
	if err := st.CreateSchema(ctx, m); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	var seed []harness.SeedTable
	if opts.Model == "" {
		for _, t := range testutil.Seed() {
			seed = append(seed, harness.SeedTable{Table: t.Table, Rows: t.Rows})
		}
	}
	if opts.Seed != "" {
		extra, err := loadSeedFile(opts.Seed)
		if err != nil {
			return err
		}
		seed = append(seed, extra...)
	}

	for _, table := range seed {
		for i, row := range table.Rows {
			if err := st.Insert(ctx, table.Table, row); err != nil {
				return fmt.Errorf("seed %s[%d]: %w", table.Table, i, err)
			}
		}
		logger.Debug("seeded table", "table", table.Table, "rows", len(table.Rows))
	}
	return nil
}

// loadSeedFile reads a YAML list of {table, rows} entries, the format of
// a scenario's seed section.
func loadSeedFile(path string) ([]harness.SeedTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading seed file: %w", err)
	}
	var seed []harness.SeedTable
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parsing seed file: %w", err)
	}
	return seed, nil
}

// outputRunSuccess outputs a query result.
func outputRunSuccess(formatter *OutputFormatter, result *RunResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	if result.SQL != "" {
		fmt.Fprintf(w, "%s %s\n", formatter.Paint("SQL:", styleHeading...), formatter.Paint(result.SQL, styleSQL...))
	}
	if result.Client {
		fmt.Fprintln(w, formatter.Paint("Client evaluation: yes", styleClient...))
	}

	items, ok := result.Result.([]any)
	if !ok {
		fmt.Fprintf(w, "%s %s\n", formatter.Paint("Result:", styleHeading...), FormatValue(result.Result))
		return nil
	}
	fmt.Fprintf(w, "%s %d row(s)\n", formatter.Paint("Result:", styleHeading...), len(items))
	for _, item := range items {
		fmt.Fprintf(w, "  %s\n", FormatValue(item))
	}
	return nil
}
