package errors

import (
	"fmt"
	"path/filepath"
	"strings"
)

// RowContext locates a problem inside an input file
type RowContext struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   string `json:"column"`
	Value    string `json:"value"`
	Expected string `json:"expected,omitempty"`
}

// RowError is a validation failure on a single input row
type RowError struct {
	*ReconcilerError
	Row      *RowContext `json:"row"`
	Examples []string    `json:"examples,omitempty"`
}

// Error implements the error interface with the row location appended
func (e *RowError) Error() string {
	if e.Row == nil {
		return e.ReconcilerError.Error()
	}
	location := fmt.Sprintf("at %s", filepath.Base(e.Row.File))
	if e.Row.Line > 0 {
		location += fmt.Sprintf(":%d", e.Row.Line)
	}
	if e.Row.Column != "" {
		location += fmt.Sprintf(" column '%s'", e.Row.Column)
	}
	return e.Message + " " + location
}

// Unwrap exposes the underlying ReconcilerError to errors.As
func (e *RowError) Unwrap() error {
	return e.ReconcilerError
}

// Detailed returns a multi-line description suitable for terminal output
func (e *RowError) Detailed() string {
	lines := []string{fmt.Sprintf("ERROR: %s", e.Message)}
	if e.Row != nil {
		lines = append(lines, fmt.Sprintf("  -> File: %s", e.Row.File))
		if e.Row.Line > 0 {
			lines = append(lines, fmt.Sprintf("  -> Line: %d", e.Row.Line))
		}
		if e.Row.Column != "" {
			lines = append(lines, fmt.Sprintf("  -> Column: %s", e.Row.Column))
		}
		if e.Row.Value != "" {
			lines = append(lines, fmt.Sprintf("  -> Value: '%s'", e.Row.Value))
		}
		if e.Row.Expected != "" {
			lines = append(lines, fmt.Sprintf("  -> Expected: %s", e.Row.Expected))
		}
	}
	if e.Suggestion != "" {
		lines = append(lines, fmt.Sprintf("  -> Suggestion: %s", e.Suggestion))
	}
	if len(e.Examples) > 0 {
		lines = append(lines, fmt.Sprintf("  -> Examples: %s", strings.Join(e.Examples, ", ")))
	}
	return strings.Join(lines, "\n")
}

func newRowError(code ErrorCode, row *RowContext, message string) *RowError {
	base := New(CategoryValidation, code, message).
		WithContext("file", row.File).
		WithContext("line", row.Line).
		WithContext("column", row.Column).
		WithContext("value", row.Value)
	return &RowError{ReconcilerError: base, Row: row}
}

// InvalidAmountError reports a value that is not a decimal amount
func InvalidAmountError(file string, line int, column, value string) *RowError {
	err := newRowError(CodeInvalidAmount, &RowContext{
		File: file, Line: line, Column: column, Value: value, Expected: "decimal number",
	}, "invalid amount format")
	err.Examples = []string{"500.00", "1250.5", "-200.00"}
	err.WithSuggestion("remove currency symbols and thousands separators")
	return err
}

// InvalidDateError reports a value that is not an ISO date
func InvalidDateError(file string, line int, column, value string) *RowError {
	err := newRowError(CodeInvalidDate, &RowContext{
		File: file, Line: line, Column: column, Value: value, Expected: "date in YYYY-MM-DD format",
	}, "invalid date format")
	err.Examples = []string{"2025-01-15", "2025-12-31"}
	err.WithSuggestion("use the ISO date format YYYY-MM-DD")
	return err
}

// EmptyValueError reports a required column left blank
func EmptyValueError(file string, line int, column string) *RowError {
	err := newRowError(CodeMissingField, &RowContext{
		File: file, Line: line, Column: column, Expected: "non-empty value",
	}, "required field is empty")
	err.WithSuggestion("provide a value for this required field")
	return err
}

// InvalidValueError reports a value outside a closed vocabulary
func InvalidValueError(file string, line int, column, value string, allowed []string) *RowError {
	err := newRowError(CodeNotAllowed, &RowContext{
		File: file, Line: line, Column: column, Value: value,
		Expected: "one of " + strings.Join(allowed, ", "),
	}, fmt.Sprintf("unsupported %s", column))
	err.Examples = allowed
	return err
}

// InconsistentRowError reports a row whose fields contradict each other
func InconsistentRowError(file string, line int, column, value, detail string) *RowError {
	return newRowError(CodeInvalidValue, &RowContext{
		File: file, Line: line, Column: column, Value: value,
	}, detail)
}

// RowErrorCollector gathers row failures so a whole file can be rejected at once
type RowErrorCollector struct {
	errors    []*RowError
	maxErrors int
}

// NewRowErrorCollector creates a collector that stops accepting after maxErrors
func NewRowErrorCollector(maxErrors int) *RowErrorCollector {
	if maxErrors <= 0 {
		maxErrors = 100
	}
	return &RowErrorCollector{maxErrors: maxErrors}
}

// Add records err and reports whether collection should continue
func (c *RowErrorCollector) Add(err *RowError) bool {
	if err == nil {
		return true
	}
	c.errors = append(c.errors, err)
	return len(c.errors) < c.maxErrors
}

// HasErrors returns true if any errors have been collected
func (c *RowErrorCollector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all collected errors
func (c *RowErrorCollector) Errors() []*RowError {
	return c.errors
}

// Err folds the collected row errors into a single validation error, or nil
func (c *RowErrorCollector) Err(file string) error {
	if len(c.errors) == 0 {
		return nil
	}
	if len(c.errors) == 1 {
		return c.errors[0]
	}
	return New(CategoryValidation, CodeInvalidData,
		fmt.Sprintf("%d invalid rows in %s", len(c.errors), filepath.Base(file))).
		WithContext("file", file).
		WithContext("details", FormatRowErrors(c.errors)).
		WithSuggestion("fix the listed rows and ingest the file again")
}

// FormatRowErrors renders row errors grouped by file, detailing the first few per file
func FormatRowErrors(errs []*RowError) string {
	if len(errs) == 0 {
		return "no row errors"
	}
	if len(errs) == 1 {
		return errs[0].Detailed()
	}

	var files []string
	byFile := make(map[string][]*RowError)
	for _, err := range errs {
		file := "unknown"
		if err.Row != nil {
			file = filepath.Base(err.Row.File)
		}
		if _, ok := byFile[file]; !ok {
			files = append(files, file)
		}
		byFile[file] = append(byFile[file], err)
	}

	lines := []string{fmt.Sprintf("Found %d row errors:", len(errs))}
	for _, file := range files {
		fileErrs := byFile[file]
		lines = append(lines, "", fmt.Sprintf("File: %s (%d errors)", file, len(fileErrs)))
		for i, err := range fileErrs {
			if i == 3 {
				lines = append(lines, fmt.Sprintf("... and %d more errors in this file", len(fileErrs)-3))
				break
			}
			lines = append(lines, err.Detailed())
		}
	}
	return strings.Join(lines, "\n")
}
