package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/relq/internal/eval"
)

// ExecutionError represents an error detected while executing a compiled
// query.
//
// Compile errors are returned as compiler.TranslationError and empty or
// ambiguous results as eval.ErrNoElements / eval.ErrMoreThanOneElement;
// ExecutionError covers the steps in between.
type ExecutionError struct {
	// Code identifies the error category.
	Code ExecutionErrorCode

	// Message is a human-readable description.
	Message string

	// QueryID identifies the compiled query.
	QueryID string

	// Err is the underlying error, if any.
	Err error
}

// ExecutionErrorCode categorizes execution errors.
type ExecutionErrorCode string

const (
	// ErrCodeRender indicates the select could not be rendered to SQL.
	ErrCodeRender ExecutionErrorCode = "RENDER_FAILED"

	// ErrCodeStore indicates the store rejected the command.
	ErrCodeStore ExecutionErrorCode = "STORE_FAILED"

	// ErrCodeShape indicates a row could not be shaped into a host value.
	ErrCodeShape ExecutionErrorCode = "SHAPE_FAILED"

	// ErrCodeMissingColumn indicates literal SQL did not return a column
	// the entity maps.
	ErrCodeMissingColumn ExecutionErrorCode = "MISSING_COLUMN"

	// ErrCodeClient indicates client evaluation failed.
	ErrCodeClient ExecutionErrorCode = "CLIENT_FAILED"

	// ErrCodeResultType indicates the result does not have the requested
	// type.
	ErrCodeResultType ExecutionErrorCode = "RESULT_TYPE"
)

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.QueryID != "" {
		msg += fmt.Sprintf(" (query=%s)", e.QueryID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error { return e.Err }

func newExecError(code ExecutionErrorCode, queryID string, err error, format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: code, QueryID: queryID, Err: err, Message: fmt.Sprintf(format, args...)}
}

func hasCode(err error, code ExecutionErrorCode) bool {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Code == code
	}
	return false
}

// IsStoreError returns true if the store rejected a command.
// Uses errors.As to handle wrapped errors.
func IsStoreError(err error) bool { return hasCode(err, ErrCodeStore) }

// IsMissingColumnError returns true if literal SQL lacked a mapped column.
func IsMissingColumnError(err error) bool { return hasCode(err, ErrCodeMissingColumn) }

// IsResultTypeError returns true if QueryAs was asked for the wrong type.
func IsResultTypeError(err error) bool { return hasCode(err, ErrCodeResultType) }

// IsNoElements returns true if First, Single or an aggregate ran over an
// empty sequence.
func IsNoElements(err error) bool { return errors.Is(err, eval.ErrNoElements) }

// IsMoreThanOneElement returns true if Single found several elements.
func IsMoreThanOneElement(err error) bool { return errors.Is(err, eval.ErrMoreThanOneElement) }
