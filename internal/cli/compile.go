package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/compiler"
	"github.com/roach88/relq/internal/expr"
	"github.com/roach88/relq/internal/querysql"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
	Params string // YAML mapping of parameter values
	Strict bool   // fail instead of scheduling client evaluation
}

// CompilationResult describes how a query was translated.
type CompilationResult struct {
	CompileID   string   `json:"compile_id"`
	Query       string   `json:"query"`
	Result      string   `json:"result"`
	Plan        string   `json:"plan"`
	SQL         string   `json:"sql,omitempty"`
	Args        []any    `json:"args,omitempty"`
	Client      bool     `json:"client"`
	ClientExprs []string `json:"client_exprs,omitempty"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <query.yaml>",
		Short: "Translate a query and print its SQL",
		Long: `Translate a YAML query against the entity model and print the query
tree, the compiled plan and the SQL sent to the store.

Parameters without a value in --params are rendered with zero values.
Expressions that have no SQL translation are listed as client evaluation.

Examples:
  relq compile queries/customers_by_name.yaml
  relq compile --model shop.cue queries/products.yaml --params '{min: 10}'
  relq compile queries/reverse.yaml --strict`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the compilation result as JSON to a file")
	cmd.Flags().StringVar(&opts.Params, "params", "", "parameter values as a YAML mapping")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "reject queries that need client evaluation")

	return cmd
}

func runCompile(opts *CompileOptions, queryFile string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

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
	params, err := placeholderParams(q, raw)
	if err != nil {
		return outputLoadError(formatter, err)
	}

	formatter.VerboseLog("Compiling %s", queryFile)

	copts := []compiler.Option{compiler.WithLogger(newLogger(opts.RootOptions, formatter.GetErrWriter()))}
	if opts.Strict {
		copts = append(copts, compiler.WithClientEvalDisabled())
	}
	cq, err := compiler.New(m, copts...).Compile(q.Model)
	if err != nil {
		return outputCompileError(formatter, ErrCodeCompileFailed, err.Error(), translationDetails(err))
	}

	result := &CompilationResult{
		CompileID:   cq.ID,
		Query:       expr.FormatModel(q.Model),
		Result:      cq.Result.String(),
		Plan:        cq.Describe(),
		Client:      cq.Client != nil,
		ClientExprs: cq.ClientExprs,
	}
	if !cq.IsClientOnly() {
		command, err := querysql.NewRenderer().Render(cq.Select, params)
		if err != nil {
			return outputCompileError(formatter, ErrCodeCompileFailed, fmt.Sprintf("rendering SQL: %v", err), nil)
		}
		result.SQL = command.Text
		result.Args = command.Args
	}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeResultToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// translationDetails exposes the code and source of a translation error.
func translationDetails(err error) any {
	var te *compiler.TranslationError
	if !errors.As(err, &te) {
		return nil
	}
	return map[string]string{"code": string(te.Code), "source": te.Source}
}

// outputCompileSuccess outputs the compilation result.
func outputCompileSuccess(formatter *OutputFormatter, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "%s Compiled query %s (%s)\n\n", formatter.Paint("✓", styleOK...), result.CompileID, result.Result)

	formatter.Heading("Query")
	fmt.Fprintf(w, "  %s\n\n", result.Query)

	formatter.Heading("Plan")
	for _, line := range strings.Split(strings.TrimRight(result.Plan, "\n"), "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
	fmt.Fprintln(w)

	formatter.Heading("SQL")
	if result.SQL == "" {
		fmt.Fprintf(w, "  %s\n", formatter.Paint("(none: the query runs on the client)", styleClient...))
	} else {
		fmt.Fprintf(w, "  %s\n", formatter.Paint(result.SQL, styleSQL...))
		if len(result.Args) > 0 {
			fmt.Fprintf(w, "  args: %s\n", FormatValue(result.Args))
		}
	}

	if result.Client {
		fmt.Fprintln(w)
		formatter.Heading("Client evaluation")
		for _, e := range result.ClientExprs {
			fmt.Fprintf(w, "  %s\n", formatter.Paint(e, styleClient...))
		}
	}

	if outputFile != "" {
		fmt.Fprintf(w, "\nWrote compilation result to %s\n", outputFile)
	}

	return nil
}

// outputLoadError outputs a model, query or parameter loading error.
func outputLoadError(formatter *OutputFormatter, err error) error {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		var details any
		if loadErr.Line > 0 {
			details = map[string]int{"line": loadErr.Line}
		}
		return outputCompileError(formatter, loadErr.Code, loadErr.Message, details)
	}
	return outputCompileError(formatter, ErrCodeGeneric, err.Error(), nil)
}

// outputCompileError outputs a single command error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Load and translation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// writeResultToFile writes the compilation result to a file as indented JSON.
func writeResultToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
