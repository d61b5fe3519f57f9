// Package reporter renders reconciliation state for people and programs.
//
// It derives the GL journal of a run, ages pending lines, scores carriers,
// evaluates the month-end close checklist and writes the CSV and XLSX exports.
// Every derivation reads the reconciled line view, never the raw tables.
//
// Supported output formats:
//   - Table: aligned columns for terminal display
//   - JSON: indented documents for programmatic consumption
//
// Example usage:
//
//	generator, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatTable, MaxItems: 50})
//	err = generator.Render(reporter.GenerateJournal(view), os.Stdout)
package reporter

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"commission-reconciliation-service/internal/accrual"
	"commission-reconciliation-service/internal/audit"
	"commission-reconciliation-service/internal/compensation"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
)

// OutputFormat represents the supported output formats
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatTable, FormatJSON:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for rendering
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// MaxItems truncates table listings; 0 shows everything
	MaxItems int `json:"max_items"`

	// ShowFactors adds the score breakdown to result tables
	ShowFactors bool `json:"show_factors"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:      FormatTable,
		MaxItems:    0,
		ShowFactors: false,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	if !c.Format.IsValid() {
		return fmt.Errorf("invalid output format: %s", c.Format)
	}
	if c.MaxItems < 0 {
		return fmt.Errorf("max items cannot be negative, got %d", c.MaxItems)
	}
	return nil
}

// ReportGenerator renders values in the configured format
type ReportGenerator struct {
	config *ReportConfig
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "output", config.Format, err).
			WithSuggestion("Use --output table or --output json")
	}
	return &ReportGenerator{config: config}, nil
}

// Format returns the configured output format
func (rg *ReportGenerator) Format() OutputFormat {
	return rg.config.Format
}

// Render writes value to writer. Values without a table layout are written as JSON.
func (rg *ReportGenerator) Render(value interface{}, writer io.Writer) error {
	if value == nil {
		return errors.ValidationError(errors.CodeMissingField, "value", nil, nil)
	}
	if rg.config.Format == FormatJSON {
		return rg.renderJSON(value, writer)
	}
	if ok, err := rg.renderTable(value, writer); ok {
		return err
	}
	return rg.renderJSON(value, writer)
}

func (rg *ReportGenerator) renderJSON(value interface{}, writer io.Writer) error {
	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "render json", err)
	}
	return nil
}

// renderTable reports false when the value has no table layout
func (rg *ReportGenerator) renderTable(value interface{}, writer io.Writer) (bool, error) {
	tw := tabwriter.NewWriter(writer, 0, 0, 2, ' ', 0)

	switch v := value.(type) {
	case *models.MatchRun:
		rg.printRuns(tw, []models.MatchRun{*v})
	case []models.MatchRun:
		rg.printRuns(tw, v)
	case []models.MatchResult:
		rg.printResults(tw, v)
	case []models.Exception:
		rg.printExceptions(tw, v)
	case *models.Exception:
		rg.printExceptions(tw, []models.Exception{*v})
	case []models.PolicyRule:
		rg.printPolicyRules(tw, v)
	case *models.PolicyRule:
		rg.printPolicyRules(tw, []models.PolicyRule{*v})
	case []models.SplitRule:
		rg.printSplitRules(tw, v)
	case *models.SplitRule:
		rg.printSplitRules(tw, []models.SplitRule{*v})
	case []models.RuleVersion:
		rg.printRuleVersions(tw, v)
	case []models.Adjustment:
		rg.printAdjustments(tw, v)
	case *models.Adjustment:
		rg.printAdjustments(tw, []models.Adjustment{*v})
	case []models.AuditEvent:
		rg.printAudit(tw, v)
	case *accrual.Report:
		rg.printAccrual(tw, v)
	case *compensation.Result:
		rg.printNetting(tw, v)
	case *compensation.WhatIfResult:
		rg.printWhatIf(tw, v)
	case *Journal:
		rg.printJournal(tw, v)
	case *audit.Comparison:
		rg.printComparison(tw, v)
	case *AgingReport:
		rg.printAging(tw, v)
	case []CarrierScore:
		rg.printScorecard(tw, v)
	case *RevenueSummary:
		rg.printRevenue(tw, v)
	case *BankActivityReport:
		rg.printBankActivity(tw, v)
	case *CloseStatus:
		rg.printClose(tw, v)
	case *LineDetail:
		rg.printLineDetail(tw, v)
	case []compensation.ProducerPayout:
		rg.printNetting(tw, &compensation.Result{Producers: v})
	default:
		return false, nil
	}

	if err := tw.Flush(); err != nil {
		return true, errors.InternalError(errors.CodeUnexpectedError, "render table", err)
	}
	return true, nil
}

// limit returns how many of n rows to print and writes the truncation note when needed
func (rg *ReportGenerator) limit(n int) int {
	if rg.config.MaxItems > 0 && n > rg.config.MaxItems {
		return rg.config.MaxItems
	}
	return n
}

func (rg *ReportGenerator) more(w io.Writer, shown, total int) {
	if shown < total {
		fmt.Fprintf(w, "... and %d more\n", total-shown)
	}
}

func row(w io.Writer, cells ...interface{}) {
	parts := make([]string, len(cells))
	for i, c := range cells {
		parts[i] = fmt.Sprint(c)
	}
	fmt.Fprintln(w, strings.Join(parts, "\t"))
}

func (rg *ReportGenerator) printRuns(w io.Writer, runs []models.MatchRun) {
	row(w, "RUN", "SEQ", "CREATED", "ACTOR", "LINES", "AUTO", "REVIEW", "UNMATCHED", "RULES")
	n := rg.limit(len(runs))
	for _, r := range runs[:n] {
		row(w, r.RunID, r.Seq, r.CreatedAt.Format("2006-01-02 15:04:05"), r.Actor,
			r.TotalLines, r.AutoMatched, r.NeedsReview, r.Unmatched, r.RulesUsed)
	}
	rg.more(w, n, len(runs))
}

func (rg *ReportGenerator) printResults(w io.Writer, results []models.MatchResult) {
	header := []interface{}{"LINE", "POLICY", "APPLIED", "CARRIER", "STATUS", "CONFIDENCE", "BANK TXN", "REASON"}
	if rg.config.ShowFactors {
		header = append(header, "FACTORS")
	}
	row(w, header...)
	n := rg.limit(len(results))
	for _, r := range results[:n] {
		cells := []interface{}{r.LineID, r.PolicyNumber, r.AppliedPolicyNumber, r.CarrierName, r.Status,
			fmt.Sprintf("%.3f", r.Confidence), dash(r.MatchedBankTxnID), r.Reason}
		if rg.config.ShowFactors {
			cells = append(cells, models.FactorLabels(r.Factors))
		}
		row(w, cells...)
	}
	rg.more(w, n, len(results))
}

func (rg *ReportGenerator) printExceptions(w io.Writer, exceptions []models.Exception) {
	row(w, "LINE", "RUN", "STATUS", "CONFIDENCE", "SUGGESTED", "ACTION", "RESOLVED TXN", "CARRIED FROM", "REASON")
	n := rg.limit(len(exceptions))
	for _, e := range exceptions[:n] {
		row(w, e.LineID, e.RunID, e.Status, fmt.Sprintf("%.3f", e.Confidence), dash(e.SuggestedBankTxnID),
			dash(string(e.ResolutionAction)), dash(e.ResolvedBankTxnID), dash(e.CarriedFromRunID), e.Reason)
	}
	rg.more(w, n, len(exceptions))
}

func (rg *ReportGenerator) printPolicyRules(w io.Writer, rules []models.PolicyRule) {
	row(w, "SOURCE", "TARGET", "UPDATED", "NOTE")
	n := rg.limit(len(rules))
	for _, r := range rules[:n] {
		row(w, r.SourcePolicyNumber, r.TargetPolicyNumber, r.UpdatedAt.Format("2006-01-02 15:04:05"), r.Note)
	}
	rg.more(w, n, len(rules))
}

func (rg *ReportGenerator) printSplitRules(w io.Writer, rules []models.SplitRule) {
	row(w, "RULE", "PRODUCER", "CARRIER", "LOB", "SPLIT", "HOUSE", "FEE", "FROM", "TO", "VERSION")
	n := rg.limit(len(rules))
	for _, r := range rules[:n] {
		row(w, r.RuleID, r.ProducerID, dash(r.Carrier), dash(r.LOB), r.SplitPct.String(), r.HousePct.String(),
			fmt.Sprintf("%s %s", r.FeeType, r.FeeAmount.String()),
			dash(models.FormatDate(r.EffectiveFrom)), dash(models.FormatDate(r.EffectiveTo)), r.Version)
	}
	rg.more(w, n, len(rules))
}

func (rg *ReportGenerator) printRuleVersions(w io.Writer, versions []models.RuleVersion) {
	row(w, "RULE", "VERSION", "CHANGE", "ACTOR", "CHANGED", "AFTER")
	n := rg.limit(len(versions))
	for _, v := range versions[:n] {
		row(w, v.RuleID, v.Version, v.ChangeType, v.Actor, v.ChangedAt.Format("2006-01-02 15:04:05"), dash(v.After))
	}
	rg.more(w, n, len(versions))
}

func (rg *ReportGenerator) printAdjustments(w io.Writer, adjustments []models.Adjustment) {
	row(w, "ADJ", "PRODUCER", "TYPE", "AMOUNT", "PERIOD", "STATUS", "DESCRIPTION")
	n := rg.limit(len(adjustments))
	for _, a := range adjustments[:n] {
		row(w, a.AdjID, a.ProducerID, a.AdjType, money(a.Amount), dash(a.Period), a.Status, a.Description)
	}
	rg.more(w, n, len(adjustments))
}

func (rg *ReportGenerator) printAudit(w io.Writer, events []models.AuditEvent) {
	row(w, "ID", "TIME", "EVENT", "ENTITY", "ID", "ACTION", "ACTOR", "DETAIL")
	n := rg.limit(len(events))
	for _, e := range events[:n] {
		row(w, e.EventID, e.Timestamp.Format("2006-01-02 15:04:05"), e.EventType, e.EntityType, e.EntityID,
			e.Action, e.Actor, e.Detail)
	}
	rg.more(w, n, len(events))
}

func (rg *ReportGenerator) printAccrual(w io.Writer, report *accrual.Report) {
	fmt.Fprintf(w, "ACCRUALS (run %s)\n\n", report.RunID)
	row(w, "CARRIER", "LINES", "SETTLED", "EXPECTED", "ON STATEMENT", "CASH", "ACCRUED", "TRUE-UP")
	for _, c := range report.ByCarrier {
		row(w, c.Carrier, c.Lines, c.Settled, money(c.Expected), money(c.OnStatement), money(c.CashReceived),
			money(c.Accrued), money(c.TrueUpVariance))
	}
	t := report.Total
	row(w, "TOTAL", t.Lines, t.Settled, money(t.Expected), money(t.OnStatement), money(t.CashReceived),
		money(t.Accrued), money(t.TrueUpVariance))

	fmt.Fprintln(w)
	row(w, "LINE", "POLICY", "CARRIER", "PRODUCER", "EXPECTED", "ON STATEMENT", "CASH", "ACCRUED", "TRUE-UP", "STATUS")
	n := rg.limit(len(report.Entries))
	for _, e := range report.Entries[:n] {
		row(w, e.LineID, e.PolicyNumber, e.CarrierName, e.ProducerID, money(e.Expected), money(e.OnStatement),
			money(e.CashReceived), money(e.Accrued), money(e.TrueUpVariance), e.Status)
	}
	rg.more(w, n, len(report.Entries))
}

func (rg *ReportGenerator) printNetting(w io.Writer, result *compensation.Result) {
	fmt.Fprintf(w, "PRODUCER NETTING (run %s)\n\n", result.RunID)
	row(w, "PRODUCER", "OFFICE", "LINES", "GROSS", "SHARE", "HOUSE", "FEES", "CLAWBACK", "ADJUSTMENTS", "NET PAYOUT")
	for _, p := range result.Producers {
		row(w, p.ProducerID, dash(p.Office), p.Lines, money(p.GrossCommission), money(p.ProducerShare),
			money(p.HouseShare), money(p.Fees), money(p.ClawbackExposure), money(p.AdjustmentsTotal), money(p.NetPayout))
	}
	t := result.Totals
	row(w, "TOTAL", "", "", money(t.GrossCommission), money(t.ProducerShare), money(t.HouseShare), "",
		money(t.ClawbackExposure), money(t.AdjustmentsTotal), money(t.NetPayout))
}

func (rg *ReportGenerator) printWhatIf(w io.Writer, result *compensation.WhatIfResult) {
	verb := "adds"
	if result.Replaces {
		verb = "replaces"
	}
	fmt.Fprintf(w, "WHAT-IF: rule %s %s (split %s/%s)\n", result.Proposed.RuleID, verb,
		result.Proposed.SplitPct.String(), result.Proposed.HousePct.String())
	fmt.Fprintf(w, "Net payout: %s -> %s\n\n", money(result.Before.NetPayout), money(result.After.NetPayout))

	row(w, "PRODUCER", "BEFORE", "AFTER", "DELTA")
	for _, p := range result.Producers {
		row(w, p.ProducerID, money(p.Before), money(p.After), money(p.Delta))
	}
	fmt.Fprintln(w)
	row(w, "LINE", "PRODUCER", "RULE BEFORE", "RULE AFTER", "SHARE BEFORE", "SHARE AFTER", "DELTA")
	n := rg.limit(len(result.Lines))
	for _, l := range result.Lines[:n] {
		row(w, l.LineID, l.ProducerID, dash(l.BeforeRuleID), dash(l.AfterRuleID), money(l.BeforeShare),
			money(l.AfterShare), money(l.NetPayoutDelta))
	}
	rg.more(w, n, len(result.Lines))
}

func (rg *ReportGenerator) printJournal(w io.Writer, journal *Journal) {
	fmt.Fprintf(w, "JOURNAL (run %s): %d entries, posted %s, accrued %s, pending review %s\n\n",
		journal.RunID, journal.Totals.Entries, money(journal.Totals.Posted), money(journal.Totals.Accrued),
		money(journal.Totals.PendingReview))
	row(w, "JE", "LINE", "TYPE", "DEBIT", "CREDIT", "AMOUNT", "STATUS", "DESCRIPTION")
	n := rg.limit(len(journal.Entries))
	for _, e := range journal.Entries[:n] {
		row(w, e.EntryID, e.LineID, e.Type, e.DebitAccount, e.CreditAccount, money(e.Amount), e.Status, e.Description)
	}
	rg.more(w, n, len(journal.Entries))
}

func (rg *ReportGenerator) printComparison(w io.Writer, cmp *audit.Comparison) {
	fmt.Fprintf(w, "COMPARISON %s -> %s\n", cmp.Base.RunID, cmp.Target.RunID)
	fmt.Fprintf(w, "Changed: %d  Improved: %d  Regressed: %d  Unchanged: %d  Avg confidence delta: %+.3f\n\n",
		len(cmp.Changes), cmp.Improved, cmp.Regressed, cmp.Unchanged, cmp.AvgConfidenceDelta)
	for _, t := range cmp.Transitions {
		row(w, t.String(), t.Count)
	}
	if len(cmp.Transitions) > 0 {
		fmt.Fprintln(w)
	}
	row(w, "LINE", "FROM", "TO", "DELTA", "EXPLANATION")
	n := rg.limit(len(cmp.Changes))
	for _, c := range cmp.Changes[:n] {
		row(w, c.LineID, dash(string(c.OldStatus)), c.NewStatus, fmt.Sprintf("%+.3f", c.ConfidenceDelta), c.Explanation)
	}
	rg.more(w, n, len(cmp.Changes))
}

func (rg *ReportGenerator) printAging(w io.Writer, report *AgingReport) {
	fmt.Fprintf(w, "AGING as of %s: %d open, %s\n\n", report.AsOf, report.TotalOpen, money(report.TotalAmount))
	row(w, "BUCKET", "COUNT", "AMOUNT")
	for _, b := range report.Buckets {
		row(w, b.Key, b.Count, money(b.Amount))
	}
	fmt.Fprintln(w)
	row(w, "LINE", "POLICY", "CARRIER", "AGE", "BUCKET", "AMOUNT", "STATUS", "REASON")
	n := rg.limit(len(report.Items))
	for _, i := range report.Items[:n] {
		row(w, i.LineID, i.PolicyNumber, i.CarrierName, i.AgeDays, i.Bucket, money(i.Commission), i.Status, i.Reason)
	}
	rg.more(w, n, len(report.Items))
}

func (rg *ReportGenerator) printScorecard(w io.Writer, scores []CarrierScore) {
	row(w, "CARRIER", "STATEMENTS", "LINES", "COMMISSION", "CASH", "AUTO %", "MATCH %", "EXCEPTIONS", "OPEN", "AVG CONF", "CLAWBACKS")
	for _, s := range scores {
		row(w, s.Carrier, s.Statements, s.Lines, money(s.TotalCommission), money(s.CashReceived),
			fmt.Sprintf("%.1f", s.AutoMatchRate), fmt.Sprintf("%.1f", s.MatchRate), s.Exceptions, s.OpenExceptions,
			fmt.Sprintf("%.3f", s.AvgConfidence), s.Clawbacks)
	}
}

func (rg *ReportGenerator) printRevenue(w io.Writer, summary *RevenueSummary) {
	t := summary.Totals
	fmt.Fprintf(w, "REVENUE run %s: expected %s, statement %s, variance %s (%.1f%%), bank %s\n\n",
		summary.RunID, money(t.Expected), money(t.Statement), money(t.Variance), t.VariancePct, money(summary.BankTotal))
	groups := []struct {
		title   string
		figures []RevenueFigures
	}{
		{"CARRIER", summary.ByCarrier},
		{"LOB", summary.ByLOB},
	}
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(w)
		}
		row(w, g.title, "LINES", "EXPECTED", "STATEMENT", "MATCHED", "UNMATCHED", "CLAWBACKS", "VARIANCE", "VAR %", "MATCH %")
		for _, f := range g.figures {
			row(w, f.Name, f.Lines, money(f.Expected), money(f.Statement), money(f.Matched), money(f.Unmatched),
				money(f.Clawbacks), money(f.Variance), fmt.Sprintf("%.1f", f.VariancePct), fmt.Sprintf("%.1f", f.MatchRate))
		}
	}
}

func (rg *ReportGenerator) printBankActivity(w io.Writer, report *BankActivityReport) {
	row(w, "TXN", "POSTED", "AMOUNT", "COUNTERPARTY", "LINE", "POLICY", "STATUS", "CONFIDENCE", "MEMO")
	n := rg.limit(len(report.Rows))
	for _, r := range report.Rows[:n] {
		confidence := "-"
		if r.Confidence != nil {
			confidence = fmt.Sprintf("%.3f", *r.Confidence)
		}
		row(w, r.BankTxnID, models.FormatDate(r.PostedDate), money(r.Amount), r.Counterparty,
			dash(r.MatchedLineID), dash(r.MatchedPolicy), r.MatchStatus, confidence, r.Memo)
	}
	rg.more(w, n, len(report.Rows))
}

func (rg *ReportGenerator) printClose(w io.Writer, cs *CloseStatus) {
	ready := "NOT READY"
	if cs.Ready {
		ready = "READY"
	}
	fmt.Fprintf(w, "CLOSE STATUS: %s (%d/%d steps)\n\n", ready, cs.CompletedSteps, cs.TotalSteps)
	row(w, "STEP", "STATUS", "PCT", "DETAIL")
	for _, item := range cs.Checklist {
		row(w, item.Label, item.Status, fmt.Sprintf("%.0f", item.Percent), item.Detail)
	}
	if len(cs.Blockers) > 0 {
		fmt.Fprintln(w)
		for _, b := range cs.Blockers {
			fmt.Fprintf(w, "- %s\n", b)
		}
	}
}

func (rg *ReportGenerator) printLineDetail(w io.Writer, d *LineDetail) {
	l := d.Line
	fmt.Fprintf(w, "LINE %s (run %s)\n\n", l.LineID, d.RunID)
	row(w, "Statement", l.StatementID)
	row(w, "Carrier", l.CarrierName)
	row(w, "Policy", l.PolicyNumber)
	row(w, "Insured", l.InsuredName)
	row(w, "Type", l.TxnType)
	row(w, "Txn date", models.FormatDate(l.TxnDate))
	row(w, "Commission", money(l.GrossCommission))
	row(w, "Producer", dash(d.ProducerID))
	row(w, "Settlement", d.Settlement)
	if r := d.Result; r != nil {
		row(w, "Status", r.Status)
		row(w, "Confidence", fmt.Sprintf("%.3f", r.Confidence))
		row(w, "Bank txn", dash(r.MatchedBankTxnID))
		row(w, "Factors", dash(models.FactorLabels(r.Factors)))
		row(w, "Reason", r.Reason)
	}
	if d.Cash != nil {
		row(w, "Cash", fmt.Sprintf("%s %s", d.Cash.BankTxnID, money(d.Cash.Amount)))
	}
	row(w, "Accrued", money(d.Accrual.Accrued))
	row(w, "True-up", money(d.Accrual.TrueUpVariance))

	if len(d.History) > 0 {
		fmt.Fprintln(w)
		rg.printExceptions(w, d.History)
	}
	if len(d.Audit) > 0 {
		fmt.Fprintln(w)
		rg.printAudit(w, d.Audit)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
