// Package parsers reads the three canonical input files of a reconciliation:
// carrier statement lines, the bank cash feed and the AMS expected-commission
// extract.
//
// Every row is validated before anything is returned. A file with one or more
// invalid rows is rejected as a whole with a validation error naming the file,
// line and column of each problem, so a partially valid file never reaches the
// record store.
//
// Parser Types:
//   - StatementParser: statement_lines.csv into models.StatementLine
//   - BankFeedParser: bank_feed.csv into models.BankTransaction
//   - ExpectedParser: expected.csv into models.ExpectedCommission
//   - Loader: reads all three files concurrently
//
// Example usage:
//
//	loader := parsers.NewLoader(nil)
//	inputs, err := loader.Load(ctx, parsers.Paths{
//		Statements: "statement_lines.csv",
//		Bank:       "bank_feed.csv",
//		Expected:   "expected.csv",
//	})
//
// Amounts accept an optional leading currency symbol, thousands separators and
// accounting-style parentheses for negatives; dates must be ISO YYYY-MM-DD.
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"

	"github.com/shopspring/decimal"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	MaxFieldSize     int
	ValidateEncoding bool
	MaxErrors        int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		Comment:          0,
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		ValidateEncoding: true,
		MaxErrors:        50,
	}
}

// Validate checks if the parse configuration is valid
func (c *ParseConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '"' || c.Delimiter == '\n' || c.Delimiter == '\r' {
		return fmt.Errorf("invalid delimiter %q", c.Delimiter)
	}
	if c.Comment == c.Delimiter {
		return fmt.Errorf("comment character cannot equal the delimiter")
	}
	if c.MaxFieldSize < 0 {
		return fmt.Errorf("max field size cannot be negative: %d", c.MaxFieldSize)
	}
	return nil
}

// BaseParser provides common CSV parsing functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.GetGlobalLogger().WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"delimiter":         string(config.Delimiter),
		"validate_encoding": config.ValidateEncoding,
		"max_field_size":    config.MaxFieldSize,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	FilePath   string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, filePath string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		FilePath:  filePath,
		HeaderMap: make(map[string]int),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// GetColumnIndex returns the index of a column by name, or -1 if not found
func (pc *ParseContext) GetColumnIndex(name string) int {
	if index, exists := pc.HeaderMap[name]; exists {
		return index
	}
	if index, exists := pc.HeaderMap[strings.ToLower(name)]; exists {
		return index
	}
	return -1
}

// OpenFile opens a CSV file and returns a csv.Reader
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")

		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeDirectoryError, filePath, err)
	}

	if bp.config.ValidateEncoding {
		if err := bp.validateEncoding(file, filePath); err != nil {
			file.Close()
			return nil, nil, err
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			file.Close()
			return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}

	reader := csv.NewReader(file)
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	return file, reader, nil
}

// validateEncoding checks if the file contains valid UTF-8 text
func (bp *BaseParser) validateEncoding(file *os.File, filePath string) error {
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		if !utf8.Valid(scanner.Bytes()) {
			return errors.ParseError(
				errors.CodeEncodingError,
				filePath,
				lineNum,
				"encoding",
				"",
				fmt.Errorf("invalid UTF-8 encoding detected"),
			)
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}
	return nil
}

// ReadHeaders reads the header row, resolves aliases and checks the required columns are present
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext, schema *Schema) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.ParseError(errors.CodeInvalidFormat, parseCtx.FilePath, 1, "headers", "",
				fmt.Errorf("file is empty")).
				WithSuggestion("ensure the file contains a header row")
		}
		return errors.ParseError(errors.CodeInvalidFormat, parseCtx.FilePath, 1, "headers", "", err)
	}

	parseCtx.LineNumber++
	parseCtx.Headers = make([]string, len(headers))
	parseCtx.HeaderMap = make(map[string]int, len(headers))
	for i, header := range headers {
		clean := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
		parseCtx.Headers[i] = clean
		parseCtx.HeaderMap[clean] = i
	}
	for alias, canonical := range schema.Aliases {
		if _, ok := parseCtx.HeaderMap[canonical]; ok {
			continue
		}
		if index, ok := parseCtx.HeaderMap[alias]; ok {
			parseCtx.HeaderMap[canonical] = index
		}
	}

	var missing []string
	for _, header := range schema.Required {
		if parseCtx.GetColumnIndex(header) == -1 {
			missing = append(missing, header)
		}
	}
	if len(missing) > 0 {
		bp.logger.WithFields(logger.Fields{
			"file_path":         parseCtx.FilePath,
			"missing_headers":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required headers are missing")

		return errors.ParseError(
			errors.CodeMissingColumn,
			parseCtx.FilePath,
			parseCtx.LineNumber,
			strings.Join(missing, ", "),
			"",
			nil,
		)
	}

	return nil
}

// ReadRecord reads the next non-empty record
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeCancelled, "csv parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err != nil {
			if err == io.EOF {
				return nil, err
			}
			var csvErr *csv.ParseError
			if stderrors.As(err, &csvErr) {
				parseCtx.LineNumber = csvErr.Line
			} else {
				parseCtx.LineNumber++
			}
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.FilePath, parseCtx.LineNumber, "record", "", err)
		}

		line, _ := reader.FieldPos(0)
		parseCtx.LineNumber = line

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					column := fmt.Sprintf("field_%d", i)
					if i < len(parseCtx.Headers) {
						column = parseCtx.Headers[i]
					}
					return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.FilePath, parseCtx.LineNumber,
						column, field[:32]+"...", fmt.Errorf("field exceeds %d bytes", bp.config.MaxFieldSize))
				}
			}
		}

		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// Row gives typed, validated access to one CSV record
type Row struct {
	record   []string
	parseCtx *ParseContext
	errs     []*errors.RowError
}

func newRow(record []string, parseCtx *ParseContext) *Row {
	return &Row{record: record, parseCtx: parseCtx}
}

// Line returns the 1-based line number of the row
func (r *Row) Line() int {
	return r.parseCtx.LineNumber
}

// Value returns the trimmed value of column, or "" when the column is absent
func (r *Row) Value(column string) string {
	index := r.parseCtx.GetColumnIndex(column)
	if index == -1 || index >= len(r.record) {
		return ""
	}
	return strings.TrimSpace(r.record[index])
}

// Required returns the value of column, recording an error when it is empty
func (r *Row) Required(column string) string {
	value := r.Value(column)
	if value == "" {
		r.fail(errors.EmptyValueError(r.parseCtx.FilePath, r.Line(), column))
	}
	return value
}

// Amount parses column as a decimal; empty values are zero unless required
func (r *Row) Amount(column string, required bool) decimal.Decimal {
	raw := r.Value(column)
	if raw == "" {
		if required {
			r.fail(errors.EmptyValueError(r.parseCtx.FilePath, r.Line(), column))
		}
		return decimal.Zero
	}
	amount, err := ParseAmount(raw)
	if err != nil {
		r.fail(errors.InvalidAmountError(r.parseCtx.FilePath, r.Line(), column, raw))
		return decimal.Zero
	}
	return amount
}

// Date parses column as an ISO date; empty values are the zero time unless required
func (r *Row) Date(column string, required bool) time.Time {
	raw := r.Value(column)
	if raw == "" {
		if required {
			r.fail(errors.EmptyValueError(r.parseCtx.FilePath, r.Line(), column))
		}
		return time.Time{}
	}
	date, err := models.ParseDate(raw)
	if err != nil {
		r.fail(errors.InvalidDateError(r.parseCtx.FilePath, r.Line(), column, raw))
		return time.Time{}
	}
	return date
}

// Inconsistent records a cross-field validation failure
func (r *Row) Inconsistent(column, detail string) {
	r.fail(errors.InconsistentRowError(r.parseCtx.FilePath, r.Line(), column, r.Value(column), detail))
}

// Invalid records a value outside the allowed vocabulary
func (r *Row) Invalid(column string, allowed []string) {
	r.fail(errors.InvalidValueError(r.parseCtx.FilePath, r.Line(), column, r.Value(column), allowed))
}

// Errors returns every problem found on the row
func (r *Row) Errors() []*errors.RowError {
	return r.errs
}

func (r *Row) fail(err *errors.RowError) {
	r.errs = append(r.errs, err)
}

// ParseAmount parses a money value, tolerating "$", thousands separators and
// parentheses for negatives
func ParseAmount(raw string) (decimal.Decimal, error) {
	value := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	value = strings.ReplaceAll(value, ",", "")
	if strings.HasPrefix(value, "-$") {
		value = "-" + value[2:]
	}
	value = strings.TrimPrefix(value, "$")

	amount, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, err
	}
	if negative {
		amount = amount.Neg()
	}
	return amount, nil
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	FilePath      string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	ErrorCount    int
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount)
}

// parseFile drives the read-validate loop shared by every input parser.
// convert maps one row to a record; it reports problems through the row.
func parseFile[T any](
	ctx context.Context,
	bp *BaseParser,
	log logger.Logger,
	filePath string,
	schema *Schema,
	convert func(*Row) (T, string),
) ([]T, *ParseStats, error) {
	log.WithFields(logger.Fields{
		"file_path": filePath,
		"schema":    schema.Name,
	}).Info("Starting file parsing")

	file, reader, err := bp.OpenFile(filePath)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	parseCtx := NewParseContext(ctx, filePath)
	stats := &ParseStats{FilePath: filePath}

	if err := bp.ReadHeaders(reader, parseCtx, schema); err != nil {
		return nil, stats, err
	}

	collector := errors.NewRowErrorCollector(bp.config.MaxErrors)
	seenKeys := make(map[string]int)
	var records []T

	for {
		record, err := bp.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, err
		}
		stats.RecordsParsed++

		row := newRow(record, parseCtx)
		item, key := convert(row)

		if key != "" {
			if first, dup := seenKeys[key]; dup {
				row.Inconsistent(schema.Key, fmt.Sprintf("duplicate key %s (first seen on line %d)", key, first))
			} else {
				seenKeys[key] = row.Line()
			}
		}

		if rowErrs := row.Errors(); len(rowErrs) > 0 {
			stats.ErrorCount += len(rowErrs)
			keepGoing := true
			for _, rowErr := range rowErrs {
				keepGoing = collector.Add(rowErr) && keepGoing
			}
			log.WithFields(logger.Fields{
				"file_path":   filePath,
				"line_number": row.Line(),
				"errors":      len(rowErrs),
			}).Debug("Row failed validation")
			if !keepGoing {
				break
			}
			continue
		}

		records = append(records, item)
		stats.RecordsValid++
	}

	stats.TotalLines = parseCtx.LineNumber

	if err := collector.Err(filePath); err != nil {
		log.WithFields(logger.Fields{
			"file_path":   filePath,
			"error_count": stats.ErrorCount,
		}).Warn("File rejected")
		return nil, stats, err
	}

	log.WithFields(logger.Fields{
		"file_path":      filePath,
		"total_lines":    stats.TotalLines,
		"records_parsed": stats.RecordsParsed,
		"records_valid":  stats.RecordsValid,
	}).Info("File parsing completed")

	return records, stats, nil
}
