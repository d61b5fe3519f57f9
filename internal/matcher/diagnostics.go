package matcher

import (
	"fmt"
	"sort"
	"strings"

	"commission-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// ambiguityMargin is the confidence gap under which two candidates count as tied
const ambiguityMargin = 0.001

// Diagnostics reports input patterns that make a run harder to trust.
// They never change classification; they are surfaced to reviewers and logs.
type Diagnostics struct {
	DuplicateRemittances []DuplicateGroup `json:"duplicate_remittances,omitempty"`
	AmbiguousLines       []AmbiguousLine  `json:"ambiguous_lines,omitempty"`
}

// DuplicateGroup represents bank transactions that look like the same remittance posted twice
type DuplicateGroup struct {
	GroupID    string          `json:"group_id"`
	BankTxnIDs []string        `json:"bank_txn_ids"`
	Amount     decimal.Decimal `json:"amount"`
	PostedDate string          `json:"posted_date"`
	Reason     string          `json:"reason"`
}

// AmbiguousLine is a line whose two best candidates scored within ambiguityMargin
type AmbiguousLine struct {
	LineID     string   `json:"line_id"`
	Confidence float64  `json:"confidence"`
	BankTxnIDs []string `json:"bank_txn_ids"`
}

// HasFindings reports whether anything was detected
func (d Diagnostics) HasFindings() bool {
	return len(d.DuplicateRemittances) > 0 || len(d.AmbiguousLines) > 0
}

func (e *Engine) diagnose(txns []models.BankTransaction, scores map[string][]*Score) Diagnostics {
	return Diagnostics{
		DuplicateRemittances: DetectDuplicateRemittances(txns),
		AmbiguousLines:       e.detectAmbiguity(scores),
	}
}

// DetectDuplicateRemittances groups transactions with the same amount, posting
// date, counterparty and memo
func DetectDuplicateRemittances(txns []models.BankTransaction) []DuplicateGroup {
	buckets := make(map[string][]*models.BankTransaction)
	for i := range txns {
		txn := &txns[i]
		key := strings.Join([]string{
			txn.Amount.StringFixed(2),
			models.FormatDate(txn.PostedDate),
			strings.ToUpper(strings.TrimSpace(txn.Counterparty)),
			strings.ToUpper(strings.TrimSpace(txn.Memo)),
		}, "|")
		buckets[key] = append(buckets[key], txn)
	}

	var groups []DuplicateGroup
	for _, bucket := range buckets {
		if len(bucket) < 2 {
			continue
		}
		ids := make([]string, 0, len(bucket))
		for _, txn := range bucket {
			ids = append(ids, txn.BankTxnID)
		}
		sort.Strings(ids)

		groups = append(groups, DuplicateGroup{
			GroupID:    fmt.Sprintf("DUP_%s", ids[0]),
			BankTxnIDs: ids,
			Amount:     bucket[0].Amount,
			PostedDate: models.FormatDate(bucket[0].PostedDate),
			Reason: fmt.Sprintf("Found %d transactions with same amount (%s), date and memo",
				len(bucket), bucket[0].Amount.StringFixed(2)),
		})
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupID < groups[j].GroupID })
	return groups
}

func (e *Engine) detectAmbiguity(scores map[string][]*Score) []AmbiguousLine {
	var lines []AmbiguousLine
	for lineID, lineScores := range scores {
		if len(lineScores) < 2 {
			continue
		}
		first, second := lineScores[0], lineScores[1]
		if first.Confidence < e.cfg.ReviewThreshold || first.Confidence-second.Confidence > ambiguityMargin {
			continue
		}
		lines = append(lines, AmbiguousLine{
			LineID:     lineID,
			Confidence: first.Confidence,
			BankTxnIDs: []string{first.BankTxnID, second.BankTxnID},
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].LineID < lines[j].LineID })
	return lines
}
