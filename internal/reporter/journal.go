package reporter

import (
	"fmt"

	"commission-reconciliation-service/internal/recon"

	"github.com/shopspring/decimal"
)

// varianceTolerance is the smallest commission/cash difference booked to suspense
var varianceTolerance = decimal.NewFromFloat(0.01)

// EntryType classifies a journal entry
type EntryType string

const (
	EntryCashReceipt EntryType = "cash_receipt"
	EntryVariance    EntryType = "variance"
	EntryClawback    EntryType = "clawback"
	EntryAccrual     EntryType = "accrual"
)

// PostingStatus is the GL state of a journal entry
type PostingStatus string

const (
	PostingPosted        PostingStatus = "posted"
	PostingAccrued       PostingStatus = "accrued"
	PostingPendingReview PostingStatus = "pending_review"
)

// General ledger accounts
const (
	AccountCash       = "1010 Cash"
	AccountReceivable = "1200 Accounts Receivable"
	AccountSuspense   = "1310 Commission Suspense"
	AccountRevenue    = "4010 Commission Revenue"
)

// JournalEntry is one double-entry line derived from a statement line
type JournalEntry struct {
	EntryID       string          `json:"je_id"`
	LineID        string          `json:"line_id"`
	PolicyNumber  string          `json:"policy_number"`
	Carrier       string          `json:"carrier"`
	Type          EntryType       `json:"type"`
	DebitAccount  string          `json:"debit_account"`
	CreditAccount string          `json:"credit_account"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PostingStatus   `json:"status"`
	Description   string          `json:"description"`
}

// JournalTotals sums entry amounts by posting status
type JournalTotals struct {
	Entries       int             `json:"entries"`
	Posted        decimal.Decimal `json:"posted"`
	Accrued       decimal.Decimal `json:"accrued"`
	PendingReview decimal.Decimal `json:"pending_review"`
}

// Journal is the full set of entries for one run
type Journal struct {
	RunID      string            `json:"run_id"`
	Entries    []JournalEntry    `json:"entries"`
	TypeCounts map[EntryType]int `json:"type_counts"`
	Totals     JournalTotals     `json:"totals"`
}

// GenerateJournal derives the journal of a reconciled view. Entry ids are
// assigned in line order, so the same view always yields the same journal.
//
// Negative lines book a clawback reversal, posted once reconciled and pending
// review otherwise. Reconciled lines with cash book a cash receipt plus a
// suspense variance for any difference against the statement. Everything else
// with a non-zero commission is accrued.
func GenerateJournal(view *recon.View) *Journal {
	j := &Journal{
		RunID:      view.RunID,
		Entries:    make([]JournalEntry, 0, len(view.Lines)),
		TypeCounts: make(map[EntryType]int),
	}

	for i := range view.Lines {
		line := &view.Lines[i]
		commission := line.OnStatement()
		cash := line.CashReceived()

		switch {
		case line.IsClawback() || commission.IsNegative():
			status := PostingPendingReview
			if line.Settlement == recon.SettlementReconciled {
				status = PostingPosted
			}
			j.add(line, EntryClawback, AccountRevenue, AccountReceivable, commission.Abs(), status, "Clawback")

		case line.Settlement == recon.SettlementReconciled && cash.Abs().GreaterThan(varianceTolerance):
			j.add(line, EntryCashReceipt, AccountCash, AccountRevenue, cash.Abs(), PostingPosted, "Cash receipt")

			diff := commission.Abs().Sub(cash.Abs())
			if diff.Abs().GreaterThan(varianceTolerance) {
				debit, credit := AccountSuspense, AccountRevenue
				if diff.IsNegative() {
					debit, credit = AccountRevenue, AccountSuspense
				}
				j.add(line, EntryVariance, debit, credit, diff.Abs(), PostingPosted, "Variance adjustment")
			}

		case !commission.IsZero():
			j.add(line, EntryAccrual, AccountReceivable, AccountRevenue, commission.Abs(), PostingAccrued, "Accrual")
		}
	}
	return j
}

func (j *Journal) add(line *recon.Line, entryType EntryType, debit, credit string, amount decimal.Decimal, status PostingStatus, label string) {
	amount = amount.Round(2)
	j.Entries = append(j.Entries, JournalEntry{
		EntryID:       fmt.Sprintf("JE-%05d", len(j.Entries)+1),
		LineID:        line.LineID(),
		PolicyNumber:  line.Line.PolicyNumber,
		Carrier:       line.Line.CarrierName,
		Type:          entryType,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount,
		Status:        status,
		Description:   fmt.Sprintf("%s %s", label, line.Line.PolicyNumber),
	})
	j.TypeCounts[entryType]++
	j.Totals.Entries++

	switch status {
	case PostingPosted:
		j.Totals.Posted = j.Totals.Posted.Add(amount)
	case PostingAccrued:
		j.Totals.Accrued = j.Totals.Accrued.Add(amount)
	case PostingPendingReview:
		j.Totals.PendingReview = j.Totals.PendingReview.Add(amount)
	}
}
