package parsers

import (
	"context"
	"strings"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// StatementParser handles parsing of carrier statement CSV files
type StatementParser struct {
	*BaseParser
	schema *Schema
	logger logger.Logger
}

// NewStatementParser creates a new StatementParser with the given configuration
func NewStatementParser(config *ParseConfig) (*StatementParser, error) {
	base, err := newValidatedBase(config, "statement_parser_config")
	if err != nil {
		return nil, err
	}
	return &StatementParser{
		BaseParser: base,
		schema:     StatementSchema(),
		logger:     logger.GetGlobalLogger().WithComponent("statement_parser"),
	}, nil
}

// ParseStatementLines parses and validates every row of a statement file
func (sp *StatementParser) ParseStatementLines(ctx context.Context, filePath string) ([]models.StatementLine, *ParseStats, error) {
	return parseFile(ctx, sp.BaseParser, sp.logger, filePath, sp.schema, func(row *Row) (models.StatementLine, string) {
		line := models.StatementLine{
			LineID:          row.Required(ColLineID),
			StatementID:     row.Value(ColStatementID),
			CarrierName:     row.Required(ColCarrierName),
			PolicyNumber:    row.Required(ColPolicyNumber),
			InsuredName:     row.Value(ColInsuredName),
			EffectiveDate:   row.Date(ColEffectiveDate, false),
			TxnDate:         row.Date(ColTxnDate, false),
			WrittenPremium:  row.Amount(ColWrittenPremium, false),
			GrossCommission: row.Amount(ColGrossCommission, true),
		}

		rawType := row.Required(ColTxnType)
		if rawType != "" {
			txnType, err := models.ParseTxnType(rawType)
			if err != nil {
				allowed := make([]string, 0, len(models.TxnTypes))
				for _, t := range models.TxnTypes {
					allowed = append(allowed, string(t))
				}
				row.Invalid(ColTxnType, allowed)
			}
			line.TxnType = txnType
		}

		if len(row.Errors()) == 0 {
			if err := line.Validate(); err != nil {
				row.Inconsistent(inconsistentColumn(line), err.Error())
			}
		}
		return line, line.LineID
	})
}

// inconsistentColumn points a model validation failure at the column most likely at fault
func inconsistentColumn(line models.StatementLine) string {
	if line.TxnDate.IsZero() && line.EffectiveDate.IsZero() {
		return ColTxnDate
	}
	return ColGrossCommission
}

// BankFeedParser handles parsing of bank cash feed CSV files
type BankFeedParser struct {
	*BaseParser
	schema *Schema
	logger logger.Logger
}

// NewBankFeedParser creates a new BankFeedParser with the given configuration
func NewBankFeedParser(config *ParseConfig) (*BankFeedParser, error) {
	base, err := newValidatedBase(config, "bank_feed_parser_config")
	if err != nil {
		return nil, err
	}
	return &BankFeedParser{
		BaseParser: base,
		schema:     BankSchema(),
		logger:     logger.GetGlobalLogger().WithComponent("bank_feed_parser"),
	}, nil
}

// ParseBankTransactions parses and validates every row of a bank feed file
func (bp *BankFeedParser) ParseBankTransactions(ctx context.Context, filePath string) ([]models.BankTransaction, *ParseStats, error) {
	return parseFile(ctx, bp.BaseParser, bp.logger, filePath, bp.schema, func(row *Row) (models.BankTransaction, string) {
		txn := models.BankTransaction{
			BankTxnID:    row.Required(ColBankTxnID),
			PostedDate:   row.Date(ColPostedDate, true),
			Amount:       row.Amount(ColAmount, true),
			Counterparty: row.Value(ColCounterparty),
			Memo:         row.Value(ColMemo),
			Reference:    row.Value(ColReference),
		}
		return txn, txn.BankTxnID
	})
}

// ExpectedParser handles parsing of AMS expected-commission CSV files
type ExpectedParser struct {
	*BaseParser
	schema *Schema
	logger logger.Logger
}

// NewExpectedParser creates a new ExpectedParser with the given configuration
func NewExpectedParser(config *ParseConfig) (*ExpectedParser, error) {
	base, err := newValidatedBase(config, "expected_parser_config")
	if err != nil {
		return nil, err
	}
	return &ExpectedParser{
		BaseParser: base,
		schema:     ExpectedSchema(),
		logger:     logger.GetGlobalLogger().WithComponent("expected_parser"),
	}, nil
}

// ParseExpected parses and validates every row of an expected-commission file.
// A policy may appear more than once with different effective dates.
func (ep *ExpectedParser) ParseExpected(ctx context.Context, filePath string) ([]models.ExpectedCommission, *ParseStats, error) {
	return parseFile(ctx, ep.BaseParser, ep.logger, filePath, ep.schema, func(row *Row) (models.ExpectedCommission, string) {
		exp := models.ExpectedCommission{
			PolicyNumber:       row.Required(ColPolicyNumber),
			ProducerID:         row.Required(ColProducerID),
			Office:             row.Value(ColOffice),
			LOB:                row.Value(ColLOB),
			ExpectedCommission: row.Amount(ColExpectedCommission, true),
			EffectiveDate:      row.Date(ColEffectiveDate, false),
		}
		key := strings.Join([]string{models.NormalizePolicy(exp.PolicyNumber), models.FormatDate(exp.EffectiveDate)}, "@")
		return exp, key
	})
}

func newValidatedBase(config *ParseConfig, setting string) (*BaseParser, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, setting, config, err)
	}
	return NewBaseParser(config), nil
}
