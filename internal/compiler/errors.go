package compiler

import (
	"errors"
	"fmt"
)

// TranslationError is a hard compile failure. Expressions that merely
// cannot be expressed in SQL are not errors: they are evaluated on the
// client. TranslationError covers models that cannot run at all.
type TranslationError struct {
	// Code identifies the error category.
	Code TranslationErrorCode

	// Message is a human-readable description.
	Message string

	// Source names the query source the error was raised for, if any.
	Source string
}

// TranslationErrorCode categorizes translation errors.
type TranslationErrorCode string

const (
	// ErrCodeIncludeWithNonComposableSQL indicates eager loading was
	// requested over literal SQL that cannot be wrapped in a select.
	ErrCodeIncludeWithNonComposableSQL TranslationErrorCode = "INCLUDE_WITH_NON_COMPOSABLE_SQL"

	// ErrCodeUnknownEntityType indicates an entity source whose type the
	// model does not map.
	ErrCodeUnknownEntityType TranslationErrorCode = "UNKNOWN_ENTITY_TYPE"

	// ErrCodeUnsupportedInclude indicates an include of a collection
	// navigation.
	ErrCodeUnsupportedInclude TranslationErrorCode = "UNSUPPORTED_INCLUDE"

	// ErrCodeClientEvalDisabled indicates part of the query would need
	// client evaluation while it is disabled.
	ErrCodeClientEvalDisabled TranslationErrorCode = "CLIENT_EVAL_DISABLED"

	// ErrCodeInvalidQueryModel indicates a malformed query model.
	ErrCodeInvalidQueryModel TranslationErrorCode = "INVALID_QUERY_MODEL"
)

// Error implements the error interface.
func (e *TranslationError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (source=%s)", e.Code, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code TranslationErrorCode, source, format string, args ...any) *TranslationError {
	return &TranslationError{Code: code, Message: fmt.Sprintf(format, args...), Source: source}
}

func hasCode(err error, code TranslationErrorCode) bool {
	var te *TranslationError
	if errors.As(err, &te) {
		return te.Code == code
	}
	return false
}

// IsIncludeWithNonComposableSQL returns true if the error rejects an
// include over non-composable literal SQL.
func IsIncludeWithNonComposableSQL(err error) bool {
	return hasCode(err, ErrCodeIncludeWithNonComposableSQL)
}

// IsUnknownEntityType returns true if the error names an unmapped entity.
func IsUnknownEntityType(err error) bool {
	return hasCode(err, ErrCodeUnknownEntityType)
}

// IsUnsupportedInclude returns true if the error rejects an include.
func IsUnsupportedInclude(err error) bool {
	return hasCode(err, ErrCodeUnsupportedInclude)
}

// IsClientEvalDisabled returns true if the query needed client evaluation
// in strict mode.
func IsClientEvalDisabled(err error) bool {
	return hasCode(err, ErrCodeClientEvalDisabled)
}

// IsInvalidQueryModel returns true if the query model was malformed.
func IsInvalidQueryModel(err error) bool {
	return hasCode(err, ErrCodeInvalidQueryModel)
}
