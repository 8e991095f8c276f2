package errors

import (
	"errors"
	"fmt"
)

// Error codes for programmatic handling.
const (
	CodeValidation       = "VALIDATION"
	CodeNotFound         = "NOT_FOUND"
	CodeDuplicateTitle   = "DUPLICATE_TITLE"
	CodeExtractionParse  = "EXTRACTION_PARSE"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeConfigInvalid    = "CONFIG_INVALID"
	CodeAPIKeyMissing    = "API_KEY_MISSING"
	CodeProviderError    = "PROVIDER_ERROR"
	CodeInvalidFilter    = "INVALID_FILTER"
)

// Sentinels for errors.Is matching. Matching is by code, so any
// MnemeError carrying the same code satisfies errors.Is(err, ErrNotFound).
var (
	ErrValidation       = New(CodeValidation, "validation failed")
	ErrNotFound         = New(CodeNotFound, "not found")
	ErrDuplicateTitle   = New(CodeDuplicateTitle, "duplicate title")
	ErrExtractionParse  = New(CodeExtractionParse, "extraction output not parseable")
	ErrStoreUnavailable = New(CodeStoreUnavailable, "store unavailable")
)

// MnemeError is a structured error with a code and actionable suggestion.
type MnemeError struct {
	Code       string // machine-readable code (e.g. NOT_FOUND)
	Message    string // human-readable description
	Suggestion string // actionable fix
	Err        error  // wrapped underlying error
}

// Error implements the error interface.
func (e *MnemeError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap supports errors.Is / errors.As.
func (e *MnemeError) Unwrap() error {
	return e.Err
}

// New creates a MnemeError with the given code and message.
func New(code, message string) *MnemeError {
	return &MnemeError{Code: code, Message: message}
}

// Newf creates a MnemeError with a formatted message.
func Newf(code, format string, args ...any) *MnemeError {
	return &MnemeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a MnemeError wrapping an existing error.
func Wrap(code, message string, err error) *MnemeError {
	return &MnemeError{Code: code, Message: message, Err: err}
}

// WithSuggestion returns a copy with the suggestion set.
func (e *MnemeError) WithSuggestion(suggestion string) *MnemeError {
	cp := *e
	cp.Suggestion = suggestion
	return &cp
}

// Is checks whether target matches this error's code.
func (e *MnemeError) Is(target error) bool {
	var me *MnemeError
	if errors.As(target, &me) {
		return e.Code == me.Code
	}
	return false
}

// AsCode extracts the MnemeError code from an error, or "" if not a MnemeError.
func AsCode(err error) string {
	var me *MnemeError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// Suggestion extracts the suggestion from an error, or "" if not a MnemeError.
func Suggestion(err error) string {
	var me *MnemeError
	if errors.As(err, &me) {
		return me.Suggestion
	}
	return ""
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return AsCode(err) == CodeNotFound }

// IsValidation reports whether err carries CodeValidation.
func IsValidation(err error) bool { return AsCode(err) == CodeValidation }
