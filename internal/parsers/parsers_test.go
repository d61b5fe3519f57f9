package parsers

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

const testDataDir = "../../testdata"

// Helper function to get test file path
func getTestFilePath(filename string) string {
	return filepath.Join(testDataDir, filename)
}

// Helper function to create temporary CSV file
func createTempCSVFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}

const statementHeader = "carrier_name,statement_id,line_id,policy_number,insured_name,effective_date,txn_date,written_premium,gross_commission,txn_type\n"

func TestDefaultParseConfig(t *testing.T) {
	config := DefaultParseConfig()

	if config.Delimiter != ',' {
		t.Errorf("Expected delimiter to be ',', got %q", config.Delimiter)
	}
	if !config.SkipEmptyRows || !config.ValidateEncoding {
		t.Error("Expected empty rows skipped and encoding validated by default")
	}
	if err := config.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}

	config.Delimiter = '"'
	if err := config.Validate(); err == nil {
		t.Error("Expected quote delimiter to be rejected")
	}
}

func TestParseStatementLines_Fixture(t *testing.T) {
	parser, err := NewStatementParser(nil)
	if err != nil {
		t.Fatalf("NewStatementParser() error = %v", err)
	}

	lines, stats, err := parser.ParseStatementLines(context.Background(), getTestFilePath("statement_lines.csv"))
	if err != nil {
		t.Fatalf("ParseStatementLines() error = %v", err)
	}
	if len(lines) != 6 || stats.RecordsValid != 6 {
		t.Fatalf("expected 6 lines, got %d (%s)", len(lines), stats)
	}

	first := lines[0]
	if first.LineID != "L-0001" || first.InsuredName != "Doe, Jane" {
		t.Errorf("unexpected first line %+v", first)
	}
	if !first.GrossCommission.Equal(decimal.RequireFromString("500")) {
		t.Errorf("expected commission 500, got %s", first.GrossCommission)
	}
	if lines[3].TxnType != models.TxnClawback || !lines[3].GrossCommission.IsNegative() {
		t.Errorf("expected negative clawback on L-0004, got %+v", lines[3])
	}
}

func TestParseStatementLines_RejectsInvalidRows(t *testing.T) {
	tests := []struct {
		name     string
		row      string
		wantCode errors.ErrorCode
		column   string
	}{
		{
			name:     "bad amount",
			row:      "Acme,S1,L-1,POL-1,Doe,2025-01-01,2025-01-02,100,abc,standard\n",
			wantCode: errors.CodeInvalidAmount,
			column:   ColGrossCommission,
		},
		{
			name:     "bad date",
			row:      "Acme,S1,L-1,POL-1,Doe,2025-01-01,01/02/2025,100,10.00,standard\n",
			wantCode: errors.CodeInvalidDate,
			column:   ColTxnDate,
		},
		{
			name:     "unknown type",
			row:      "Acme,S1,L-1,POL-1,Doe,2025-01-01,2025-01-02,100,10.00,refund\n",
			wantCode: errors.CodeNotAllowed,
			column:   ColTxnType,
		},
		{
			name:     "positive clawback",
			row:      "Acme,S1,L-1,POL-1,Doe,2025-01-01,2025-01-02,100,10.00,clawback\n",
			wantCode: errors.CodeInvalidValue,
			column:   ColGrossCommission,
		},
		{
			name:     "missing policy",
			row:      "Acme,S1,L-1,,Doe,2025-01-01,2025-01-02,100,10.00,standard\n",
			wantCode: errors.CodeMissingField,
			column:   ColPolicyNumber,
		},
	}

	parser, err := NewStatementParser(nil)
	if err != nil {
		t.Fatalf("NewStatementParser() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTempCSVFile(t, "statement_lines.csv", statementHeader+tt.row)

			lines, _, err := parser.ParseStatementLines(context.Background(), path)
			if err == nil {
				t.Fatal("expected the file to be rejected")
			}
			if lines != nil {
				t.Errorf("rejected file must return no lines, got %d", len(lines))
			}

			rowErr, ok := err.(*errors.RowError)
			if !ok {
				t.Fatalf("expected *errors.RowError, got %T: %v", err, err)
			}
			if rowErr.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, rowErr.Code)
			}
			if rowErr.Row.Line != 2 || rowErr.Row.Column != tt.column {
				t.Errorf("expected line 2 column %s, got line %d column %s", tt.column, rowErr.Row.Line, rowErr.Row.Column)
			}
			if !errors.IsCategory(err, errors.CategoryValidation) {
				t.Errorf("expected validation category, got %v", err)
			}
		})
	}
}

func TestParseStatementLines_MultipleErrorsRejectWholeFile(t *testing.T) {
	content := statementHeader +
		"Acme,S1,L-1,POL-1,Doe,2025-01-01,2025-01-02,100,10.00,standard\n" +
		"Acme,S1,L-2,POL-2,Doe,2025-01-01,2025-01-02,100,oops,standard\n" +
		"Acme,S1,L-1,POL-3,Doe,2025-01-01,2025-01-02,100,10.00,standard\n"
	path := createTempCSVFile(t, "statement_lines.csv", content)

	parser, _ := NewStatementParser(nil)
	lines, stats, err := parser.ParseStatementLines(context.Background(), path)
	if err == nil || lines != nil {
		t.Fatalf("expected whole-file rejection, got %d lines and %v", len(lines), err)
	}
	if stats.ErrorCount != 2 {
		t.Errorf("expected 2 row errors, got %d", stats.ErrorCount)
	}
	if !strings.Contains(err.Error(), "2 invalid rows") {
		t.Errorf("expected summary message, got %q", err.Error())
	}
}

func TestParseStatementLines_HeaderAliasesAndMissingColumns(t *testing.T) {
	parser, _ := NewStatementParser(nil)

	aliased := "Carrier,Statement_ID,Line_ID,Policy,Insured,Effective_Date,Txn_Date,Premium,Commission,Txn_Type\n" +
		"Acme,S1,L-1,POL-1,\"Doe, Jane\",2025-01-01,2025-01-02,\"$1,000.00\",(25.00),cancellation\n"
	lines, _, err := parser.ParseStatementLines(context.Background(), createTempCSVFile(t, "aliased.csv", aliased))
	if err != nil {
		t.Fatalf("aliased headers should parse: %v", err)
	}
	if !lines[0].WrittenPremium.Equal(decimal.NewFromInt(1000)) || !lines[0].GrossCommission.Equal(decimal.NewFromInt(-25)) {
		t.Errorf("unexpected amounts %s / %s", lines[0].WrittenPremium, lines[0].GrossCommission)
	}

	missing := "carrier_name,line_id,policy_number\nAcme,L-1,POL-1\n"
	_, _, err = parser.ParseStatementLines(context.Background(), createTempCSVFile(t, "missing.csv", missing))
	if !errors.IsCategory(err, errors.CategoryParse) {
		t.Errorf("expected parse error for missing columns, got %v", err)
	}
}

func TestParseBankTransactions(t *testing.T) {
	parser, err := NewBankFeedParser(nil)
	if err != nil {
		t.Fatalf("NewBankFeedParser() error = %v", err)
	}

	txns, _, err := parser.ParseBankTransactions(context.Background(), getTestFilePath("bank_feed.csv"))
	if err != nil {
		t.Fatalf("ParseBankTransactions() error = %v", err)
	}
	if len(txns) != 6 {
		t.Fatalf("expected 6 transactions, got %d", len(txns))
	}
	if txns[3].BankTxnID != "BTX-0004" || !txns[3].Amount.Equal(decimal.NewFromInt(-200)) {
		t.Errorf("unexpected chargeback row %+v", txns[3])
	}

	dup := "bank_txn_id,posted_date,amount,counterparty,memo,reference\n" +
		"BTX-1,2025-01-01,10.00,Acme,memo,\n" +
		"BTX-1,2025-01-02,11.00,Acme,memo,\n"
	_, _, err = parser.ParseBankTransactions(context.Background(), createTempCSVFile(t, "bank.csv", dup))
	if err == nil || !strings.Contains(err.Error(), "duplicate key BTX-1") {
		t.Errorf("expected duplicate key error, got %v", err)
	}
}

func TestParseExpected(t *testing.T) {
	parser, err := NewExpectedParser(nil)
	if err != nil {
		t.Fatalf("NewExpectedParser() error = %v", err)
	}

	rows, _, err := parser.ParseExpected(context.Background(), getTestFilePath("expected.csv"))
	if err != nil {
		t.Fatalf("ParseExpected() error = %v", err)
	}
	if len(rows) != 6 || rows[0].ProducerID != "PROD-1" || rows[0].LOB != "auto" {
		t.Errorf("unexpected expected rows %+v", rows)
	}

	noProducer := "policy_number,producer_id,office,lob,expected_commission,effective_date\nPOL-1,,North,auto,10.00,2025-01-01\n"
	_, _, err = parser.ParseExpected(context.Background(), createTempCSVFile(t, "expected.csv", noProducer))
	if !errors.IsCategory(err, errors.CategoryValidation) {
		t.Errorf("expected validation error for missing producer, got %v", err)
	}
}

func TestOpenFile_Errors(t *testing.T) {
	parser := NewBaseParser(nil)

	if _, _, err := parser.OpenFile(filepath.Join(t.TempDir(), "absent.csv")); !errors.IsCategory(err, errors.CategoryFile) {
		t.Errorf("expected file error, got %v", err)
	}

	path := createTempCSVFile(t, "latin1.csv", "bank_txn_id\n\xff\xfe\n")
	if _, _, err := parser.OpenFile(path); !errors.IsCategory(err, errors.CategoryParse) {
		t.Errorf("expected encoding parse error, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"500.00", "500", false},
		{"$1,250.50", "1250.5", false},
		{"-$75.25", "-75.25", false},
		{"(200.00)", "-200", false},
		{"twelve", "0", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAmount(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader(nil)

	inputs, err := loader.Load(context.Background(), Paths{
		Statements: getTestFilePath("statement_lines.csv"),
		Bank:       getTestFilePath("bank_feed.csv"),
		Expected:   getTestFilePath("expected.csv"),
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(inputs.Lines) != 6 || len(inputs.BankTxns) != 6 || len(inputs.Expected) != 6 {
		t.Errorf("unexpected counts: %d lines, %d txns, %d expected", len(inputs.Lines), len(inputs.BankTxns), len(inputs.Expected))
	}

	_, err = loader.Load(context.Background(), Paths{
		Statements: getTestFilePath("statement_lines.csv"),
		Bank:       filepath.Join(t.TempDir(), "absent.csv"),
		Expected:   getTestFilePath("expected.csv"),
	})
	if !errors.IsCategory(err, errors.CategoryFile) {
		t.Errorf("expected file error from missing bank feed, got %v", err)
	}

	if _, err := loader.Load(context.Background(), Paths{}); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("expected configuration error for empty paths, got %v", err)
	}
}
