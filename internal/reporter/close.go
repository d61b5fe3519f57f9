package reporter

import (
	"fmt"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"

	"github.com/shopspring/decimal"
)

// CheckStatus is the state of one close checklist step
type CheckStatus string

const (
	CheckComplete   CheckStatus = "complete"
	CheckInProgress CheckStatus = "in_progress"
	CheckPending    CheckStatus = "pending"
)

// cashCoverageTarget is the cash/statement coverage percentage that completes cash application
const cashCoverageTarget = 95.0

// CheckItem is one step of the month-end close
type CheckItem struct {
	ID      string      `json:"id"`
	Label   string      `json:"label"`
	Status  CheckStatus `json:"status"`
	Detail  string      `json:"detail"`
	Percent float64     `json:"pct"`
}

// CloseInput is what the close checklist is evaluated from.
// View is nil when no match run exists yet.
type CloseInput struct {
	View           *recon.View
	StatementLines int64
	BankTxns       int64
	Expected       int64
	JournalPosted  bool
}

// CloseStatus is the month-end close checklist of the latest run
type CloseStatus struct {
	RunID          string      `json:"run_id,omitempty"`
	Ready          bool        `json:"ready"`
	CompletedSteps int         `json:"completed_steps"`
	TotalSteps     int         `json:"total_steps"`
	OverallPercent float64     `json:"overall_pct"`
	Checklist      []CheckItem `json:"checklist"`
	Blockers       []string    `json:"blockers"`
	OpenExceptions int         `json:"open_exceptions"`
	CashCoverage   float64     `json:"cash_coverage_pct"`
	MatchPercent   float64     `json:"match_pct"`
}

// EvaluateClose builds the close checklist: statements ingested, matching run,
// cash applied, exceptions cleared, accruals computed and journal posted.
func EvaluateClose(in CloseInput) *CloseStatus {
	cs := &CloseStatus{}
	hasRun := in.View != nil

	var (
		reconciled, outstanding, exceptions int
		statementTotal, cashTotal           decimal.Decimal
	)
	if hasRun {
		cs.RunID = in.View.RunID
		for i := range in.View.Lines {
			line := &in.View.Lines[i]
			statementTotal = statementTotal.Add(line.OnStatement().Abs())
			cashTotal = cashTotal.Add(line.CashReceived().Abs())
			if line.Settlement == recon.SettlementReconciled {
				reconciled++
			}
			if line.Exception == nil {
				continue
			}
			exceptions++
			if line.Exception.Status != models.ExceptionResolved {
				outstanding++
			}
			if line.Exception.Status == models.ExceptionOpen {
				cs.OpenExceptions++
			}
		}
		cs.MatchPercent = percent(reconciled, len(in.View.Lines))
		if statementTotal.IsPositive() {
			coverage, _ := cashTotal.Div(statementTotal).Mul(decimal.NewFromInt(100)).Round(1).Float64()
			cs.CashCoverage = coverage
		}
	}

	statements := CheckItem{ID: "statements", Label: "Carrier statements ingested", Status: CheckPending, Detail: "No statement lines ingested"}
	if in.StatementLines > 0 {
		statements.Status = CheckComplete
		statements.Percent = 100
		statements.Detail = fmt.Sprintf("%d statement lines, %d bank transactions, %d expected rows",
			in.StatementLines, in.BankTxns, in.Expected)
	}

	matching := CheckItem{ID: "matching", Label: "Matching engine run", Status: CheckPending, Detail: "No match run yet"}
	if hasRun {
		matching.Status = CheckComplete
		matching.Percent = cs.MatchPercent
		matching.Detail = fmt.Sprintf("%d reconciled of %d", reconciled, len(in.View.Lines))
	}

	cash := CheckItem{ID: "cash", Label: "Cash application", Status: CheckPending, Detail: "Waiting for match run"}
	if hasRun {
		cash.Percent = min(cs.CashCoverage, 100)
		cash.Detail = fmt.Sprintf("%.1f%% cash coverage", cs.CashCoverage)
		switch {
		case cs.CashCoverage >= cashCoverageTarget:
			cash.Status = CheckComplete
		case cs.CashCoverage > 0:
			cash.Status = CheckInProgress
		}
	}

	cleared := CheckItem{ID: "exceptions", Label: "Exceptions cleared", Status: CheckPending, Detail: "Waiting for match run"}
	if hasRun {
		cleared.Detail = fmt.Sprintf("%d exceptions remaining", outstanding)
		cleared.Status = CheckInProgress
		cleared.Percent = 100
		if exceptions > 0 {
			cleared.Percent = roundTo(float64(exceptions-outstanding)/float64(exceptions)*100, 1)
		}
		if outstanding == 0 {
			cleared.Status = CheckComplete
		}
	}

	accruals := CheckItem{ID: "accruals", Label: "Accruals computed", Status: CheckPending, Detail: "Waiting for match run"}
	if hasRun {
		accruals.Status = CheckComplete
		accruals.Percent = 100
		accruals.Detail = "Accruals derived from the latest run"
	}

	journal := CheckItem{ID: "journal", Label: "Journal posted to GL", Status: CheckPending, Detail: "Awaiting GL posting"}
	if in.JournalPosted {
		journal.Status = CheckComplete
		journal.Percent = 100
		journal.Detail = "GL posting recorded"
	}

	cs.Checklist = []CheckItem{statements, matching, cash, cleared, accruals, journal}
	cs.TotalSteps = len(cs.Checklist)
	for _, item := range cs.Checklist {
		if item.Status == CheckComplete {
			cs.CompletedSteps++
		}
	}
	cs.OverallPercent = percent(cs.CompletedSteps, cs.TotalSteps)
	cs.Ready = cs.CompletedSteps == cs.TotalSteps

	if in.StatementLines == 0 {
		cs.Blockers = append(cs.Blockers, "No statement lines ingested")
	}
	if !hasRun {
		cs.Blockers = append(cs.Blockers, "No match run executed yet")
	}
	if outstanding > 0 {
		cs.Blockers = append(cs.Blockers, fmt.Sprintf("%d exceptions need resolution", outstanding))
	}
	if hasRun && cash.Status != CheckComplete {
		cs.Blockers = append(cs.Blockers, fmt.Sprintf("Cash coverage %.1f%% is below %.0f%%", cs.CashCoverage, cashCoverageTarget))
	}
	if !in.JournalPosted {
		cs.Blockers = append(cs.Blockers, "Journal entries not yet posted to GL")
	}
	return cs
}
