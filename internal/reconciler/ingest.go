package reconciler

import (
	"context"
	"fmt"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/parsers"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// IngestResult reports what one ingestion wrote
type IngestResult struct {
	StatementLines store.InsertCounts    `json:"statement_lines"`
	BankTxns       store.InsertCounts    `json:"bank_txns"`
	Expected       store.InsertCounts    `json:"expected"`
	Preprocessing  *PreprocessingStats   `json:"preprocessing"`
	ParseStats     []*parsers.ParseStats `json:"parse_stats"`
	Duration       time.Duration         `json:"duration"`
}

// Inserted is the number of new rows across the three inputs
func (r *IngestResult) Inserted() int64 {
	return r.StatementLines.Inserted + r.BankTxns.Inserted + r.Expected.Inserted
}

// Ingest parses the three input files and stores them in one transaction.
// Any invalid row rejects the whole ingestion. Rows whose key is already
// stored are skipped when identical; a changed row is a conflict because
// ingested inputs are immutable.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	start := time.Now()
	log := s.logger.WithFields(logger.Fields{
		"statements": req.Statements,
		"bank":       req.Bank,
		"expected":   req.Expected,
	})
	log.Info("Starting ingestion")

	inputs, err := s.loader.Load(ctx, parsers.Paths{
		Statements: req.Statements,
		Bank:       req.Bank,
		Expected:   req.Expected,
	})
	if err != nil {
		log.WithError(err).Error("Failed to load input files")
		return nil, err
	}

	result := &IngestResult{
		Preprocessing: s.preprocessor.Preprocess(inputs),
		ParseStats:    inputs.Stats,
	}
	now := s.now()
	rec := s.recorder(req.Actor)

	err = s.store.Update(ctx, "ingest inputs", func(tx *store.Tx) error {
		if err := checkImmutable(tx, inputs); err != nil {
			return err
		}

		var err error
		if result.StatementLines, err = tx.InsertStatementLines(inputs.Lines, now); err != nil {
			return err
		}
		if result.BankTxns, err = tx.InsertBankTransactions(inputs.BankTxns, now); err != nil {
			return err
		}
		if result.Expected, err = tx.InsertExpected(inputs.Expected, now); err != nil {
			return err
		}

		event, err := rec.Detailed(models.EventIngest, models.EntityInputs, req.Statements, "ingest",
			fmt.Sprintf("statements=%s bank=%s expected=%s", req.Statements, req.Bank, req.Expected),
			nil, map[string]store.InsertCounts{
				"statement_lines": result.StatementLines,
				"bank_txns":       result.BankTxns,
				"expected":        result.Expected,
			})
		if err != nil {
			return err
		}
		return tx.AppendAudit(event)
	})
	if err != nil {
		log.WithError(err).Error("Ingestion rolled back")
		return nil, err
	}

	result.Duration = time.Since(start)
	log.WithFields(logger.Fields{
		"lines_inserted":    result.StatementLines.Inserted,
		"lines_skipped":     result.StatementLines.Skipped,
		"bank_inserted":     result.BankTxns.Inserted,
		"bank_skipped":      result.BankTxns.Skipped,
		"expected_inserted": result.Expected.Inserted,
		"expected_skipped":  result.Expected.Skipped,
		"duration":          result.Duration,
	}).Info("Ingestion completed")
	return result, nil
}

// checkImmutable rejects rows whose key is stored with different content
func checkImmutable(tx *store.Tx, inputs *parsers.Inputs) error {
	storedLines, err := tx.StatementLines()
	if err != nil {
		return err
	}
	lines := make(map[string]models.StatementLine, len(storedLines))
	for _, l := range storedLines {
		lines[l.LineID] = l
	}
	for _, l := range inputs.Lines {
		if stored, ok := lines[l.LineID]; ok && !sameLine(stored, l) {
			return immutableConflict("statement line", l.LineID)
		}
	}

	storedTxns, err := tx.BankTransactions()
	if err != nil {
		return err
	}
	txns := make(map[string]models.BankTransaction, len(storedTxns))
	for _, t := range storedTxns {
		txns[t.BankTxnID] = t
	}
	for _, t := range inputs.BankTxns {
		if stored, ok := txns[t.BankTxnID]; ok && !sameBankTxn(stored, t) {
			return immutableConflict("bank transaction", t.BankTxnID)
		}
	}

	storedExpected, err := tx.Expected()
	if err != nil {
		return err
	}
	expected := make(map[string]models.ExpectedCommission, len(storedExpected))
	for _, e := range storedExpected {
		expected[expectedKey(e)] = e
	}
	for _, e := range inputs.Expected {
		if stored, ok := expected[expectedKey(e)]; ok && !sameExpected(stored, e) {
			return immutableConflict("expected commission", expectedKey(e))
		}
	}
	return nil
}

func immutableConflict(entity, id string) error {
	return errors.ConflictError(errors.CodeDuplicate, entity, id, "already ingested with different content").
		WithSuggestion("Ingested rows are immutable; issue a corrected row under a new id")
}

func expectedKey(e models.ExpectedCommission) string {
	return e.PolicyNumber + "@" + models.FormatDate(e.EffectiveDate)
}

func sameLine(a, b models.StatementLine) bool {
	return a.StatementID == b.StatementID &&
		a.CarrierName == b.CarrierName &&
		a.PolicyNumber == b.PolicyNumber &&
		a.InsuredName == b.InsuredName &&
		a.TxnType == b.TxnType &&
		a.EffectiveDate.Equal(b.EffectiveDate) &&
		a.TxnDate.Equal(b.TxnDate) &&
		a.WrittenPremium.Equal(b.WrittenPremium) &&
		a.GrossCommission.Equal(b.GrossCommission)
}

func sameBankTxn(a, b models.BankTransaction) bool {
	return a.PostedDate.Equal(b.PostedDate) &&
		a.Amount.Equal(b.Amount) &&
		a.Counterparty == b.Counterparty &&
		a.Memo == b.Memo &&
		a.Reference == b.Reference
}

func sameExpected(a, b models.ExpectedCommission) bool {
	return a.ProducerID == b.ProducerID &&
		a.Office == b.Office &&
		a.LOB == b.LOB &&
		a.ExpectedCommission.Equal(b.ExpectedCommission)
}
