package reporter

import (
	"sort"
	"strings"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"

	"github.com/shopspring/decimal"
)

// UnknownLOB groups lines whose policy has no AMS row
const UnknownLOB = "Unknown"

// RevenueFigures compares statement commission against AMS expectations for a group of lines.
// Statement, Matched and Unmatched are absolute amounts; Clawbacks keeps its sign.
type RevenueFigures struct {
	Name         string          `json:"name,omitempty"`
	Lines        int             `json:"lines"`
	MatchedLines int             `json:"matched_lines"`
	Expected     decimal.Decimal `json:"expected"`
	Statement    decimal.Decimal `json:"statement"`
	Matched      decimal.Decimal `json:"matched"`
	Unmatched    decimal.Decimal `json:"unmatched"`
	Clawbacks    decimal.Decimal `json:"clawbacks"`
	Variance     decimal.Decimal `json:"variance"`
	VariancePct  float64         `json:"variance_pct"`
	MatchRate    float64         `json:"match_rate"`
}

func (f *RevenueFigures) add(line *recon.Line) {
	amount := line.OnStatement().Abs()
	f.Lines++
	f.Expected = f.Expected.Add(line.ExpectedAmount())
	f.Statement = f.Statement.Add(amount)
	if line.IsClawback() {
		f.Clawbacks = f.Clawbacks.Add(line.OnStatement())
	}
	if line.Settlement == recon.SettlementReconciled {
		f.MatchedLines++
		f.Matched = f.Matched.Add(amount)
	} else {
		f.Unmatched = f.Unmatched.Add(amount)
	}
}

func (f *RevenueFigures) finish() {
	f.Variance = f.Statement.Sub(f.Expected)
	if !f.Expected.IsZero() {
		f.VariancePct, _ = f.Variance.Div(f.Expected).Mul(decimal.NewFromInt(100)).Round(1).Float64()
	}
	f.MatchRate = percent(f.MatchedLines, f.Lines)
}

// RevenueSummary is the revenue-versus-expected analysis of a run
type RevenueSummary struct {
	RunID     string           `json:"run_id"`
	Totals    RevenueFigures   `json:"totals"`
	BankTotal decimal.Decimal  `json:"bank_total"`
	ByCarrier []RevenueFigures `json:"by_carrier"`
	ByLOB     []RevenueFigures `json:"by_lob"`
}

// Revenue totals expected, statement and matched commission for the view,
// grouped by carrier and by line of business. A line counts as matched once
// bank cash settles it. BankTotal sums every transaction in the feed.
func Revenue(view *recon.View, txns []models.BankTransaction) *RevenueSummary {
	summary := &RevenueSummary{RunID: view.RunID}
	byCarrier := make(map[string]*RevenueFigures)
	byLOB := make(map[string]*RevenueFigures)

	for i := range view.Lines {
		line := &view.Lines[i]
		lob := strings.TrimSpace(line.LOB)
		if lob == "" {
			lob = UnknownLOB
		}
		summary.Totals.add(line)
		revenueGroup(byCarrier, line.Line.CarrierName).add(line)
		revenueGroup(byLOB, lob).add(line)
	}
	for i := range txns {
		summary.BankTotal = summary.BankTotal.Add(txns[i].Amount)
	}

	summary.Totals.finish()
	summary.ByCarrier = sortedFigures(byCarrier)
	summary.ByLOB = sortedFigures(byLOB)
	return summary
}

func revenueGroup(groups map[string]*RevenueFigures, name string) *RevenueFigures {
	g, ok := groups[name]
	if !ok {
		g = &RevenueFigures{Name: name}
		groups[name] = g
	}
	return g
}

func sortedFigures(groups map[string]*RevenueFigures) []RevenueFigures {
	out := make([]RevenueFigures, 0, len(groups))
	for _, g := range groups {
		g.finish()
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
