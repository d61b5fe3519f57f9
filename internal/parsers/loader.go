package parsers

import (
	"context"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// Paths locates the three input files of an ingestion
type Paths struct {
	Statements string `json:"statements"`
	Bank       string `json:"bank"`
	Expected   string `json:"expected"`
}

// Validate checks that every path is set
func (p Paths) Validate() error {
	for setting, value := range map[string]string{
		"data.statements": p.Statements,
		"data.bank":       p.Bank,
		"data.expected":   p.Expected,
	} {
		if strings.TrimSpace(value) == "" {
			return errors.ConfigurationError(errors.CodeMissingConfig, setting, value, nil)
		}
	}
	return nil
}

// Inputs is the validated content of one ingestion
type Inputs struct {
	Lines    []models.StatementLine
	BankTxns []models.BankTransaction
	Expected []models.ExpectedCommission
	Stats    []*ParseStats
	Duration time.Duration
}

// Loader reads the three input files concurrently
type Loader struct {
	config *ParseConfig
	logger logger.Logger
}

// NewLoader creates a loader; a nil config uses DefaultParseConfig
func NewLoader(config *ParseConfig) *Loader {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &Loader{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("loader"),
	}
}

// Load parses all three files. The first failure cancels the others and is returned.
func (l *Loader) Load(ctx context.Context, paths Paths) (*Inputs, error) {
	if err := paths.Validate(); err != nil {
		return nil, err
	}

	statementParser, err := NewStatementParser(l.config)
	if err != nil {
		return nil, err
	}
	bankParser, err := NewBankFeedParser(l.config)
	if err != nil {
		return nil, err
	}
	expectedParser, err := NewExpectedParser(l.config)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	inputs := &Inputs{Stats: make([]*ParseStats, 3)}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lines, stats, err := statementParser.ParseStatementLines(gctx, paths.Statements)
		inputs.Lines, inputs.Stats[0] = lines, stats
		return err
	})
	g.Go(func() error {
		txns, stats, err := bankParser.ParseBankTransactions(gctx, paths.Bank)
		inputs.BankTxns, inputs.Stats[1] = txns, stats
		return err
	})
	g.Go(func() error {
		expected, stats, err := expectedParser.ParseExpected(gctx, paths.Expected)
		inputs.Expected, inputs.Stats[2] = expected, stats
		return err
	})

	if err := g.Wait(); err != nil {
		l.logger.WithError(err).Error("Input loading failed")
		return nil, err
	}
	inputs.Duration = time.Since(start)

	l.logger.WithFields(logger.Fields{
		"statement_lines": len(inputs.Lines),
		"bank_txns":       len(inputs.BankTxns),
		"expected_rows":   len(inputs.Expected),
		"duration_ms":     inputs.Duration.Milliseconds(),
	}).Info("Input files loaded")

	return inputs, nil
}
