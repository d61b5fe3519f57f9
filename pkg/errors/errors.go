package errors

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory represents different categories of errors
type ErrorCategory string

const (
	CategoryValidation    ErrorCategory = "validation"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryComputation   ErrorCategory = "computation"
	CategoryStorage       ErrorCategory = "storage"
	CategoryFile          ErrorCategory = "file"
	CategoryParse         ErrorCategory = "parse"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// Validation errors
	CodeMissingField  ErrorCode = "missing_field"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidValue  ErrorCode = "invalid_value"
	CodeOutOfRange    ErrorCode = "out_of_range"
	CodeNotAllowed    ErrorCode = "not_allowed"

	// Lookup errors
	CodeUnknownLine      ErrorCode = "unknown_line"
	CodeUnknownRun       ErrorCode = "unknown_run"
	CodeUnknownRule      ErrorCode = "unknown_rule"
	CodeUnknownException ErrorCode = "unknown_exception"
	CodeUnknownRecord    ErrorCode = "unknown_record"

	// Conflict errors
	CodeAlreadyResolved ErrorCode = "already_resolved"
	CodeStaleVersion    ErrorCode = "stale_version"
	CodeDuplicate       ErrorCode = "duplicate"
	CodeInvalidState    ErrorCode = "invalid_state"

	// Computation errors
	CodeScoringFailed     ErrorCode = "scoring_failed"
	CodeCalculationFailed ErrorCode = "calculation_failed"

	// Storage errors
	CodeStoreUnavailable ErrorCode = "store_unavailable"
	CodeTransaction      ErrorCode = "transaction_failed"
	CodeQuery            ErrorCode = "query_failed"

	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeDirectoryError ErrorCode = "directory_error"

	// Parse errors
	CodeInvalidFormat ErrorCode = "invalid_format"
	CodeMissingColumn ErrorCode = "missing_column"
	CodeInvalidData   ErrorCode = "invalid_data"
	CodeEncodingError ErrorCode = "encoding_error"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

// Error implements the error interface
func (e *ReconcilerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

// Unwrap returns the underlying cause error
func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns an appropriate exit code for the error
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryValidation:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryNotFound:
		return 5
	case CategoryConflict:
		return 6
	case CategoryStorage, CategoryComputation, CategoryInternal:
		return 7
	default:
		return 1
	}
}

// HTTPStatus maps the error category onto a response status code
func (e *ReconcilerError) HTTPStatus() int {
	switch e.Category {
	case CategoryValidation, CategoryParse:
		return http.StatusBadRequest
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryConflict:
		return http.StatusConflict
	case CategoryComputation:
		return http.StatusUnprocessableEntity
	case CategoryStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// ValidationError creates an error for a malformed record or request field
func ValidationError(code ErrorCode, field string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingField:
		message = fmt.Sprintf("required field '%s' is missing or empty", field)
		suggestion = "provide a value for this required field"
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in field '%s': %v", field, value)
		suggestion = "amounts are plain decimals such as '1250.00' or '-200.00'"
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in field '%s': %v", field, value)
		suggestion = "use the ISO date format YYYY-MM-DD"
	case CodeOutOfRange:
		message = fmt.Sprintf("value out of range in field '%s': %v", field, value)
		suggestion = "ensure the value is within the acceptable range"
	case CodeNotAllowed:
		message = fmt.Sprintf("value not allowed in field '%s': %v", field, value)
		suggestion = "check the allowed values for this field"
	default:
		message = fmt.Sprintf("invalid value in field '%s': %v", field, value)
		suggestion = "check the field value and format"
	}

	return build(CategoryValidation, code, message, err).
		WithSuggestion(suggestion).
		WithContext("field", field).
		WithContext("value", value)
}

// NotFoundError creates a lookup failure for an unknown entity
func NotFoundError(code ErrorCode, entity, id string) *ReconcilerError {
	return New(CategoryNotFound, code, fmt.Sprintf("%s not found: %s", entity, id)).
		WithContext("entity", entity).
		WithContext("id", id)
}

// ConflictError creates an error for a state transition that lost a race or is no longer valid
func ConflictError(code ErrorCode, entity, id, detail string) *ReconcilerError {
	var suggestion string
	switch code {
	case CodeAlreadyResolved:
		suggestion = "reload the exception; it has already been resolved"
	case CodeStaleVersion:
		suggestion = "reload the record and retry with its current version"
	case CodeDuplicate:
		suggestion = "update the existing record instead of creating a new one"
	case CodeInvalidState:
		suggestion = "check the current status; this transition is not allowed from it"
	default:
		suggestion = "reload the record and retry"
	}

	return New(CategoryConflict, code, fmt.Sprintf("conflict on %s %s: %s", entity, id, detail)).
		WithSuggestion(suggestion).
		WithContext("entity", entity).
		WithContext("id", id)
}

// ComputationError creates an error for a scoring or calculation failure on a single record
func ComputationError(code ErrorCode, record string, err error) *ReconcilerError {
	var message string
	switch code {
	case CodeScoringFailed:
		message = fmt.Sprintf("scoring failed for %s", record)
	default:
		message = fmt.Sprintf("calculation failed for %s", record)
	}
	return build(CategoryComputation, code, message, err).WithContext("record", record)
}

// StorageError creates an error for a failed store operation
func StorageError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeStoreUnavailable:
		message = fmt.Sprintf("store unavailable during %s", operation)
		suggestion = "check the database path and file permissions"
	case CodeTransaction:
		message = fmt.Sprintf("transaction failed during %s", operation)
		suggestion = "the operation was rolled back; it is safe to re-issue"
	default:
		message = fmt.Sprintf("query failed during %s", operation)
		suggestion = "try again or inspect the database file"
	}

	return build(CategoryStorage, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "verify the file integrity and re-export it"
	default:
		message = fmt.Sprintf("directory error: %s", path)
		suggestion = "ensure the directory exists and is accessible"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// ParseError creates a parsing-related error
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column '%s' in file %s", column, file)
		suggestion = "verify the file has all canonical columns with correct headers"
	case CodeInvalidData:
		message = fmt.Sprintf("invalid data in file %s at line %d, column '%s': '%s'", file, line, column, value)
		suggestion = "correct the data format or remove the invalid entry"
	case CodeEncodingError:
		message = fmt.Sprintf("encoding error in file %s at line %d", file, line)
		suggestion = "ensure the file is saved in UTF-8 encoding"
	default:
		message = fmt.Sprintf("invalid format in file %s at line %d", file, line)
		suggestion = "check the file format and data integrity"
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting with a flag, config file or RECONCILER_ environment variable"
	default:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the configuration documentation for valid values"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeCancelled:
		message = fmt.Sprintf("%s cancelled", operation)
		suggestion = "no changes were written; re-issue the request"
	default:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	}

	return build(CategoryInternal, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total      int                   `json:"total"`
	ByCategory map[ErrorCategory]int `json:"by_category"`
	ByCode     map[ErrorCode]int     `json:"by_code"`
	Errors     []*ReconcilerError    `json:"errors"`
}

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}
	return summary
}

// Error returns a formatted error message for the summary
func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	var categories []string
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries a ReconcilerError of the given category
func IsCategory(err error, category ErrorCategory) bool {
	if rerr, ok := AsReconcilerError(err); ok {
		return rerr.Category == category
	}
	return false
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}
