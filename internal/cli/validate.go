package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/relq/internal/compiler"
	"github.com/roach88/relq/internal/model"
)

// ValidationIssue is one problem found in a query file.
type ValidationIssue struct {
	File    string `json:"file"`
	Line    int    `json:"line,omitempty"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Files  int               `json:"files"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <query.yaml>...",
		Short: "Validate queries without translating them",
		Long: `Validate YAML queries against the entity model without translating them.

Reports decoding errors (unknown entities, members, parameters or operators)
with their line, and structural problems of the decoded query model such as
negative Take/Skip counts. Faster than compile for development feedback.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, files []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	m, err := LoadModel(opts.Model)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, ErrCodeGeneric, err.Error(), nil)
	}

	issues := validateFiles(m, files, formatter)
	if len(issues) > 0 {
		return outputValidationErrors(formatter, len(files), issues)
	}

	// Output success
	return outputValidateSuccess(formatter, len(files))
}

// validateFiles decodes and validates every query file. It returns all
// issues found (does not fail-fast).
func validateFiles(m *model.Model, files []string, formatter *OutputFormatter) []ValidationIssue {
	var issues []ValidationIssue
	for _, file := range files {
		formatter.VerboseLog("Validating query: %s", file)

		q, err := LoadQuery(file, m)
		if err != nil {
			issue := ValidationIssue{File: file, Code: ErrCodeGeneric, Message: err.Error()}
			var loadErr *LoadError
			if errors.As(err, &loadErr) {
				issue.Code, issue.Message, issue.Line = loadErr.Code, loadErr.Message, loadErr.Line
			}
			issues = append(issues, issue)
			continue
		}

		for _, ve := range compiler.ValidateModel(q.Model) {
			issues = append(issues, ValidationIssue{
				File:    file,
				Field:   ve.Field,
				Code:    ve.Code,
				Message: ve.Message,
			})
		}
	}
	return issues
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, files int) error {
	if formatter.Format == "json" {
		result := ValidationResult{Valid: true, Files: files}
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "%s All %d quer%s valid\n", formatter.Paint("✓", styleOK...), files, pluralY(files))
	return nil
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// outputValidateError outputs a single command error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Model errors are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, files int, issues []ValidationIssue) error {
	if formatter.Format == "json" {
		result := ValidationResult{
			Valid:  false,
			Files:  files,
			Errors: issues,
		}

		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    issues[0].Code,
				Message: issues[0].Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
	}

	// Text format
	fmt.Fprintln(formatter.Writer, formatter.Paint("✗ Validation failed", styleFail...))
	fmt.Fprintln(formatter.Writer)

	for _, issue := range issues {
		if issue.Line > 0 {
			fmt.Fprintf(formatter.Writer, "%s:%d\n", issue.File, issue.Line)
		} else {
			fmt.Fprintln(formatter.Writer, issue.File)
		}
		if issue.Field != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", issue.Code, issue.Field, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
		}
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}

// ValidateQueries validates query files against m.
// This is a helper function for external callers.
func ValidateQueries(m *model.Model, files []string) []ValidationIssue {
	silentFormatter := &OutputFormatter{Format: "text", Verbose: false, Writer: io.Discard}
	return validateFiles(m, files, silentFormatter)
}
