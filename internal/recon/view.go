// Package recon builds the reconciled line view: the one join of statement
// lines, match results, exceptions, expected-commission rows and bank cash
// that every downstream calculator reads. Accruals, netting, the journal,
// exports and the read models never re-derive these joins themselves.
package recon

import (
	"sort"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// UnassignedProducer groups lines with no expected-commission row
const UnassignedProducer = "UNASSIGNED"

// Settlement is the reconciliation state of a line after review
type Settlement string

const (
	SettlementReconciled Settlement = "reconciled"
	SettlementPending    Settlement = "pending"
	SettlementWrittenOff Settlement = "written_off"
	SettlementDisputed   Settlement = "disputed"
)

// Input is everything the view is built from, read in one snapshot
type Input struct {
	Run        models.MatchRun
	Lines      []models.StatementLine
	BankTxns   []models.BankTransaction
	Expected   []models.ExpectedCommission
	Results    []models.MatchResult
	Exceptions []models.Exception
}

// Line is one statement line joined with its run outcome
type Line struct {
	Line      models.StatementLine
	Result    *models.MatchResult
	Exception *models.Exception
	Expected  *models.ExpectedCommission
	// Cash is the bank transaction that settles the line, when one does
	Cash       *models.BankTransaction
	ProducerID string
	Office     string
	LOB        string
	Settlement Settlement
	// CashHeldBy names the line already settled by the transaction this
	// line's resolution links, when that transaction counts for it instead
	CashHeldBy string
}

// LineID returns the statement line id
func (l *Line) LineID() string {
	return l.Line.LineID
}

// Status returns the match status of the line, or an empty status without a result
func (l *Line) Status() models.MatchStatus {
	if l.Result == nil {
		return ""
	}
	return l.Result.Status
}

// Confidence returns the match confidence, or zero without a result
func (l *Line) Confidence() float64 {
	if l.Result == nil {
		return 0
	}
	return l.Result.Confidence
}

// OnStatement is the carrier-reported gross commission
func (l *Line) OnStatement() decimal.Decimal {
	return l.Line.GrossCommission
}

// CashReceived is the amount of the settling bank transaction, zero when none
func (l *Line) CashReceived() decimal.Decimal {
	if l.Cash == nil {
		return decimal.Zero
	}
	return l.Cash.Amount
}

// ExpectedAmount is the AMS expected commission, zero when the policy is unknown to AMS
func (l *Line) ExpectedAmount() decimal.Decimal {
	if l.Expected == nil {
		return decimal.Zero
	}
	return l.Expected.ExpectedCommission
}

// IsClawback reports whether the line reverses a prior payout
func (l *Line) IsClawback() bool {
	return l.Line.IsClawback()
}

// ResolutionAction returns the action taken on the line's exception, if resolved
func (l *Line) ResolutionAction() models.ResolutionAction {
	if l.Exception == nil || l.Exception.Status != models.ExceptionResolved {
		return ""
	}
	return l.Exception.ResolutionAction
}

// View is the reconciled view of one run
type View struct {
	RunID string
	Run   models.MatchRun
	Lines []Line
	index map[string]int
}

// Build joins the input once. Lines keep line_id order.
func Build(in Input) *View {
	results := make(map[string]*models.MatchResult, len(in.Results))
	for i := range in.Results {
		results[in.Results[i].LineID] = &in.Results[i]
	}
	exceptions := make(map[string]*models.Exception, len(in.Exceptions))
	for i := range in.Exceptions {
		exceptions[in.Exceptions[i].LineID] = &in.Exceptions[i]
	}
	bank := make(map[string]*models.BankTransaction, len(in.BankTxns))
	for i := range in.BankTxns {
		bank[in.BankTxns[i].BankTxnID] = &in.BankTxns[i]
	}
	expected := make(map[string][]*models.ExpectedCommission)
	for i := range in.Expected {
		key := models.NormalizePolicy(in.Expected[i].PolicyNumber)
		expected[key] = append(expected[key], &in.Expected[i])
	}

	lines := make([]models.StatementLine, len(in.Lines))
	copy(lines, in.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].LineID < lines[j].LineID })

	view := &View{
		RunID: in.Run.RunID,
		Run:   in.Run,
		Lines: make([]Line, 0, len(lines)),
		index: make(map[string]int, len(lines)),
	}
	for _, sl := range lines {
		line := Line{
			Line:      sl,
			Result:    results[sl.LineID],
			Exception: exceptions[sl.LineID],
		}
		line.Expected = lookupExpected(expected, line)
		if line.Expected != nil {
			line.ProducerID = line.Expected.ProducerID
			line.Office = line.Expected.Office
			line.LOB = line.Expected.LOB
		} else {
			line.ProducerID = UnassignedProducer
		}
		view.index[sl.LineID] = len(view.Lines)
		view.Lines = append(view.Lines, line)
	}
	view.settle(bank)
	return view
}

// settle attaches cash so that each bank transaction settles at most one
// line. Auto matches hold their transaction first, then resolved links in
// line order. A link to a transaction already held leaves its line pending.
func (v *View) settle(bank map[string]*models.BankTransaction) {
	holder := make(map[string]string)
	for _, autoPass := range []bool{true, false} {
		for i := range v.Lines {
			line := &v.Lines[i]
			if (line.Status() == models.StatusAutoMatched) != autoPass {
				continue
			}
			line.Settlement = settlementOf(*line)
			id := cashTxnID(*line)
			if id == "" {
				continue
			}
			if owner, held := holder[id]; held {
				line.CashHeldBy = owner
				line.Settlement = SettlementPending
				continue
			}
			holder[id] = line.LineID()
			line.Cash = bank[id]
		}
	}
}

// Line returns the view of one line
func (v *View) Line(lineID string) (*Line, bool) {
	i, ok := v.index[lineID]
	if !ok {
		return nil, false
	}
	return &v.Lines[i], true
}

// Filter returns the lines accepted by keep
func (v *View) Filter(keep func(*Line) bool) []*Line {
	var out []*Line
	for i := range v.Lines {
		if keep(&v.Lines[i]) {
			out = append(out, &v.Lines[i])
		}
	}
	return out
}

// Carriers returns the distinct carrier names in sorted order
func (v *View) Carriers() []string {
	seen := make(map[string]bool)
	var carriers []string
	for _, l := range v.Lines {
		if !seen[l.Line.CarrierName] {
			seen[l.Line.CarrierName] = true
			carriers = append(carriers, l.Line.CarrierName)
		}
	}
	sort.Strings(carriers)
	return carriers
}

// lookupExpected finds the AMS row by overridden policy, then raw policy.
// Among several rows for a policy the one sharing the line's effective date wins,
// else the latest row effective on or before it, else the earliest row.
func lookupExpected(expected map[string][]*models.ExpectedCommission, line Line) *models.ExpectedCommission {
	var keys []string
	if line.Result != nil && line.Result.AppliedPolicyNumber != "" {
		keys = append(keys, models.NormalizePolicy(line.Result.AppliedPolicyNumber))
	}
	keys = append(keys, models.NormalizePolicy(line.Line.PolicyNumber))

	for _, key := range keys {
		rows := expected[key]
		if len(rows) == 0 {
			continue
		}
		return pickByDate(rows, line.Line.EffectiveDate)
	}
	return nil
}

func pickByDate(rows []*models.ExpectedCommission, effective time.Time) *models.ExpectedCommission {
	var onOrBefore, earliest *models.ExpectedCommission
	for _, row := range rows {
		if !effective.IsZero() && row.EffectiveDate.Equal(effective) {
			return row
		}
		if earliest == nil || row.EffectiveDate.Before(earliest.EffectiveDate) {
			earliest = row
		}
		if !effective.IsZero() && !row.EffectiveDate.After(effective) {
			if onOrBefore == nil || row.EffectiveDate.After(onOrBefore.EffectiveDate) {
				onOrBefore = row
			}
		}
	}
	if onOrBefore != nil {
		return onOrBefore
	}
	return earliest
}

// cashTxnID returns the bank transaction that counts as cash for the line:
// the auto-matched transaction, or the one linked by a resolution
func cashTxnID(line Line) string {
	if line.Result != nil && line.Result.Status == models.StatusAutoMatched {
		return line.Result.MatchedBankTxnID
	}
	if line.Exception == nil || line.Exception.Status != models.ExceptionResolved {
		return ""
	}
	if line.Exception.ResolutionAction.LinksCash() {
		return strings.TrimSpace(line.Exception.ResolvedBankTxnID)
	}
	return ""
}

func settlementOf(line Line) Settlement {
	if line.Result != nil && line.Result.Status == models.StatusAutoMatched {
		return SettlementReconciled
	}
	if line.Exception == nil || line.Exception.Status != models.ExceptionResolved {
		return SettlementPending
	}
	switch line.Exception.ResolutionAction {
	case models.ActionManualLink, models.ActionConfirmReversal, models.ActionOffsetOverpayment:
		return SettlementReconciled
	case models.ActionWriteOff:
		return SettlementWrittenOff
	case models.ActionDisputeClawback:
		return SettlementDisputed
	case models.ActionDefer:
		return SettlementPending
	default:
		return SettlementPending
	}
}
