package store

import (
	stderrors "errors"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 200

// InsertCounts reports how many rows of a batch were new
type InsertCounts struct {
	Inserted int64 `json:"inserted"`
	Skipped  int64 `json:"skipped"`
}

// InputCounts is the number of stored rows of each input kind
type InputCounts struct {
	StatementLines int64 `json:"statement_lines"`
	BankTxns       int64 `json:"bank_transactions"`
	Expected       int64 `json:"expected_commissions"`
}

// insertIgnoring writes rows, leaving already-stored keys untouched
func insertIgnoring[T any](tx *Tx, operation string, rows []T) (InsertCounts, error) {
	if len(rows) == 0 {
		return InsertCounts{}, nil
	}
	result := tx.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, insertBatchSize)
	if result.Error != nil {
		return InsertCounts{}, queryError(operation, result.Error)
	}
	return InsertCounts{
		Inserted: result.RowsAffected,
		Skipped:  int64(len(rows)) - result.RowsAffected,
	}, nil
}

// InsertStatementLines stores lines; a line_id already present is skipped
func (tx *Tx) InsertStatementLines(lines []models.StatementLine, now time.Time) (InsertCounts, error) {
	rows := make([]statementLineRow, 0, len(lines))
	for _, l := range lines {
		rows = append(rows, newStatementLineRow(l, now))
	}
	return insertIgnoring(tx, "insert statement lines", rows)
}

// InsertBankTransactions stores bank rows; a bank_txn_id already present is skipped
func (tx *Tx) InsertBankTransactions(txns []models.BankTransaction, now time.Time) (InsertCounts, error) {
	rows := make([]bankTxnRow, 0, len(txns))
	for _, t := range txns {
		rows = append(rows, newBankTxnRow(t, now))
	}
	return insertIgnoring(tx, "insert bank transactions", rows)
}

// InsertExpected stores expected-commission rows keyed by policy and effective date
func (tx *Tx) InsertExpected(expected []models.ExpectedCommission, now time.Time) (InsertCounts, error) {
	rows := make([]expectedRow, 0, len(expected))
	for _, e := range expected {
		rows = append(rows, newExpectedRow(e, now))
	}
	return insertIgnoring(tx, "insert expected commissions", rows)
}

// StatementLines returns every stored line ordered by line_id
func (tx *Tx) StatementLines() ([]models.StatementLine, error) {
	var rows []statementLineRow
	if err := tx.db.Order("line_id").Find(&rows).Error; err != nil {
		return nil, queryError("list statement lines", err)
	}
	lines := make([]models.StatementLine, 0, len(rows))
	for _, r := range rows {
		lines = append(lines, r.model())
	}
	return lines, nil
}

// StatementLine returns one line
func (tx *Tx) StatementLine(lineID string) (*models.StatementLine, error) {
	var row statementLineRow
	err := tx.db.Where("line_id = ?", lineID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError(errors.CodeUnknownLine, "statement line", lineID)
	}
	if err != nil {
		return nil, queryError("get statement line", err)
	}
	line := row.model()
	return &line, nil
}

// BankTransactions returns every stored bank transaction ordered by id
func (tx *Tx) BankTransactions() ([]models.BankTransaction, error) {
	var rows []bankTxnRow
	if err := tx.db.Order("bank_txn_id").Find(&rows).Error; err != nil {
		return nil, queryError("list bank transactions", err)
	}
	txns := make([]models.BankTransaction, 0, len(rows))
	for _, r := range rows {
		txns = append(txns, r.model())
	}
	return txns, nil
}

// BankTransaction returns one bank transaction
func (tx *Tx) BankTransaction(bankTxnID string) (*models.BankTransaction, error) {
	var row bankTxnRow
	err := tx.db.Where("bank_txn_id = ?", bankTxnID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError(errors.CodeUnknownRecord, "bank transaction", bankTxnID)
	}
	if err != nil {
		return nil, queryError("get bank transaction", err)
	}
	txn := row.model()
	return &txn, nil
}

// Expected returns every expected-commission row ordered by policy and effective date
func (tx *Tx) Expected() ([]models.ExpectedCommission, error) {
	var rows []expectedRow
	if err := tx.db.Order("policy_number, effective_date").Find(&rows).Error; err != nil {
		return nil, queryError("list expected commissions", err)
	}
	expected := make([]models.ExpectedCommission, 0, len(rows))
	for _, r := range rows {
		expected = append(expected, r.model())
	}
	return expected, nil
}

// Snapshot reads the full input set a match run is computed from
func (tx *Tx) Snapshot() (*models.InputSnapshot, error) {
	lines, err := tx.StatementLines()
	if err != nil {
		return nil, err
	}
	txns, err := tx.BankTransactions()
	if err != nil {
		return nil, err
	}
	expected, err := tx.Expected()
	if err != nil {
		return nil, err
	}
	rules, err := tx.PolicyRules()
	if err != nil {
		return nil, err
	}
	return &models.InputSnapshot{
		Lines:       lines,
		BankTxns:    txns,
		Expected:    expected,
		PolicyRules: rules,
	}, nil
}

// InputCounts counts the stored rows of each input kind
func (tx *Tx) InputCounts() (InputCounts, error) {
	var counts InputCounts
	if err := tx.db.Model(&statementLineRow{}).Count(&counts.StatementLines).Error; err != nil {
		return counts, queryError("count statement lines", err)
	}
	if err := tx.db.Model(&bankTxnRow{}).Count(&counts.BankTxns).Error; err != nil {
		return counts, queryError("count bank transactions", err)
	}
	if err := tx.db.Model(&expectedRow{}).Count(&counts.Expected).Error; err != nil {
		return counts, queryError("count expected commissions", err)
	}
	return counts, nil
}
