package reconciler

import (
	"regexp"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/parsers"

	"github.com/shopspring/decimal"
)

var whitespaceRun = regexp.MustCompile(`\s+`)

// DataPreprocessor handles data normalization before inputs are stored
type DataPreprocessor struct {
	config *PreprocessingConfig
}

// PreprocessingConfig contains configuration for data preprocessing
type PreprocessingConfig struct {
	// String normalization options
	TrimWhitespace     bool `json:"trim_whitespace"`
	CollapseWhitespace bool `json:"collapse_whitespace"`
	UpperPolicyNumbers bool `json:"upper_policy_numbers"`

	// Amount normalization; -1 leaves amounts untouched
	NormalizeDecimalPlaces int `json:"normalize_decimal_places"`

	// Date normalization
	NormalizeTimezone bool `json:"normalize_timezone"`
}

// DefaultPreprocessingConfig returns a default preprocessing configuration
func DefaultPreprocessingConfig() *PreprocessingConfig {
	return &PreprocessingConfig{
		TrimWhitespace:         true,
		CollapseWhitespace:     true,
		UpperPolicyNumbers:     true,
		NormalizeDecimalPlaces: -1,
		NormalizeTimezone:      true,
	}
}

// PreprocessingStats contains statistics about preprocessing operations
type PreprocessingStats struct {
	StatementLines   int           `json:"statement_lines"`
	BankTxns         int           `json:"bank_txns"`
	Expected         int           `json:"expected"`
	FieldsNormalized int           `json:"fields_normalized"`
	ProcessingTime   time.Duration `json:"processing_time"`
}

// NewDataPreprocessor creates a new data preprocessor
func NewDataPreprocessor(config *PreprocessingConfig) *DataPreprocessor {
	if config == nil {
		config = DefaultPreprocessingConfig()
	}
	return &DataPreprocessor{config: config}
}

// Preprocess normalizes parsed inputs in place and reports how many fields changed
func (dp *DataPreprocessor) Preprocess(inputs *parsers.Inputs) *PreprocessingStats {
	start := time.Now()
	stats := &PreprocessingStats{
		StatementLines: len(inputs.Lines),
		BankTxns:       len(inputs.BankTxns),
		Expected:       len(inputs.Expected),
	}

	for i := range inputs.Lines {
		stats.FieldsNormalized += dp.preprocessLine(&inputs.Lines[i])
	}
	for i := range inputs.BankTxns {
		stats.FieldsNormalized += dp.preprocessBankTxn(&inputs.BankTxns[i])
	}
	for i := range inputs.Expected {
		stats.FieldsNormalized += dp.preprocessExpected(&inputs.Expected[i])
	}

	stats.ProcessingTime = time.Since(start)
	return stats
}

func (dp *DataPreprocessor) preprocessLine(l *models.StatementLine) int {
	changed := 0
	changed += dp.setString(&l.CarrierName, dp.normalizeString(l.CarrierName))
	changed += dp.setString(&l.InsuredName, dp.normalizeString(l.InsuredName))
	changed += dp.setString(&l.PolicyNumber, dp.normalizePolicy(l.PolicyNumber))
	changed += dp.setAmount(&l.WrittenPremium)
	changed += dp.setAmount(&l.GrossCommission)
	l.EffectiveDate = dp.normalizeDate(l.EffectiveDate)
	l.TxnDate = dp.normalizeDate(l.TxnDate)
	return changed
}

func (dp *DataPreprocessor) preprocessBankTxn(t *models.BankTransaction) int {
	changed := 0
	changed += dp.setString(&t.Counterparty, dp.normalizeString(t.Counterparty))
	changed += dp.setString(&t.Memo, dp.normalizeString(t.Memo))
	changed += dp.setString(&t.Reference, dp.normalizeString(t.Reference))
	changed += dp.setAmount(&t.Amount)
	t.PostedDate = dp.normalizeDate(t.PostedDate)
	return changed
}

func (dp *DataPreprocessor) preprocessExpected(e *models.ExpectedCommission) int {
	changed := 0
	changed += dp.setString(&e.PolicyNumber, dp.normalizePolicy(e.PolicyNumber))
	changed += dp.setString(&e.Office, dp.normalizeString(e.Office))
	changed += dp.setString(&e.LOB, dp.normalizeString(e.LOB))
	changed += dp.setAmount(&e.ExpectedCommission)
	e.EffectiveDate = dp.normalizeDate(e.EffectiveDate)
	return changed
}

func (dp *DataPreprocessor) setString(field *string, value string) int {
	if *field == value {
		return 0
	}
	*field = value
	return 1
}

func (dp *DataPreprocessor) setAmount(field *decimal.Decimal) int {
	if dp.config.NormalizeDecimalPlaces < 0 {
		return 0
	}
	rounded := field.Round(int32(dp.config.NormalizeDecimalPlaces))
	if rounded.Equal(*field) {
		return 0
	}
	*field = rounded
	return 1
}

// normalizeString applies string normalization rules
func (dp *DataPreprocessor) normalizeString(s string) string {
	result := s
	if dp.config.TrimWhitespace {
		result = strings.TrimSpace(result)
	}
	if dp.config.CollapseWhitespace {
		result = whitespaceRun.ReplaceAllString(result, " ")
	}
	return result
}

func (dp *DataPreprocessor) normalizePolicy(policy string) string {
	result := dp.normalizeString(policy)
	if dp.config.UpperPolicyNumbers {
		result = strings.ToUpper(result)
	}
	return result
}

// normalizeDate applies date normalization rules
func (dp *DataPreprocessor) normalizeDate(t time.Time) time.Time {
	if dp.config.NormalizeTimezone && !t.IsZero() {
		return t.UTC()
	}
	return t
}
