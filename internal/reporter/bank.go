package reporter

import (
	"sort"
	"strings"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"
)

// BankActivity is one bank transaction annotated with the line it matched
type BankActivity struct {
	models.BankTransaction
	MatchedLineID string             `json:"matched_line_id,omitempty"`
	MatchedPolicy string             `json:"matched_policy,omitempty"`
	MatchStatus   models.MatchStatus `json:"match_status"`
	Confidence    *float64           `json:"confidence,omitempty"`
	Settled       bool               `json:"settled"`
}

// BankActivityReport lists the bank feed as seen by a run
type BankActivityReport struct {
	RunID          string         `json:"run_id,omitempty"`
	Counterparty   string         `json:"counterparty,omitempty"`
	Count          int            `json:"count"`
	Counterparties []string       `json:"counterparties"`
	Rows           []BankActivity `json:"rows"`
}

// BankTransactions annotates the bank feed with the outcome of view. A
// transaction that settles a line is annotated with that line; otherwise the
// first line, by line id, whose result names it as a candidate. Rows nobody
// matched report unmatched. counterparty keeps rows whose counterparty contains
// it, ignoring case. view may be nil when no run exists yet.
func BankTransactions(view *recon.View, txns []models.BankTransaction, counterparty string) *BankActivityReport {
	report := &BankActivityReport{Counterparty: strings.TrimSpace(counterparty), Rows: []BankActivity{}}
	matched := make(map[string]*recon.Line)
	if view != nil {
		report.RunID = view.RunID
		for i := range view.Lines {
			line := &view.Lines[i]
			if line.Cash != nil {
				matched[line.Cash.BankTxnID] = line
			}
		}
		for i := range view.Lines {
			line := &view.Lines[i]
			if line.Result == nil || line.Result.MatchedBankTxnID == "" {
				continue
			}
			if _, ok := matched[line.Result.MatchedBankTxnID]; !ok {
				matched[line.Result.MatchedBankTxnID] = line
			}
		}
	}

	filter := strings.ToLower(report.Counterparty)
	counterparties := make(map[string]bool)
	for i := range txns {
		txn := txns[i]
		counterparties[txn.Counterparty] = true
		if filter != "" && !strings.Contains(strings.ToLower(txn.Counterparty), filter) {
			continue
		}

		row := BankActivity{BankTransaction: txn, MatchStatus: models.StatusUnmatched}
		if line, ok := matched[txn.BankTxnID]; ok {
			confidence := line.Confidence()
			row.MatchedLineID = line.LineID()
			row.MatchedPolicy = line.Line.PolicyNumber
			row.MatchStatus = line.Status()
			row.Confidence = &confidence
			row.Settled = line.Cash != nil && line.Cash.BankTxnID == txn.BankTxnID
		}
		report.Rows = append(report.Rows, row)
	}

	sort.SliceStable(report.Rows, func(i, j int) bool {
		a, b := report.Rows[i], report.Rows[j]
		if !a.PostedDate.Equal(b.PostedDate) {
			return a.PostedDate.Before(b.PostedDate)
		}
		return a.BankTxnID < b.BankTxnID
	})
	report.Count = len(report.Rows)
	report.Counterparties = make([]string, 0, len(counterparties))
	for name := range counterparties {
		report.Counterparties = append(report.Counterparties, name)
	}
	sort.Strings(report.Counterparties)
	return report
}
