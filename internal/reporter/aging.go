package reporter

import (
	"sort"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"

	"github.com/shopspring/decimal"
)

// Aging buckets, by days since the line's transaction date
const (
	Bucket0To7   = "0-7"
	Bucket8To30  = "8-30"
	Bucket31To60 = "31-60"
	BucketOver60 = "60+"
)

// AgingBuckets lists the buckets in ascending age
var AgingBuckets = []string{Bucket0To7, Bucket8To30, Bucket31To60, BucketOver60}

// BucketFor places an age in days into its bucket
func BucketFor(days int) string {
	switch {
	case days <= 7:
		return Bucket0To7
	case days <= 30:
		return Bucket8To30
	case days <= 60:
		return Bucket31To60
	default:
		return BucketOver60
	}
}

// AgingTotal is a count and amount of pending items
type AgingTotal struct {
	Key    string          `json:"key"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// AgingItem is one pending line
type AgingItem struct {
	LineID       string             `json:"line_id"`
	PolicyNumber string             `json:"policy_number"`
	CarrierName  string             `json:"carrier_name"`
	InsuredName  string             `json:"insured_name"`
	Commission   decimal.Decimal    `json:"commission"`
	TxnDate      string             `json:"txn_date"`
	AgeDays      int                `json:"age_days"`
	Bucket       string             `json:"bucket"`
	Reason       string             `json:"reason"`
	Status       models.MatchStatus `json:"status"`
	Confidence   float64            `json:"confidence"`
}

// AgingReport groups the pending lines of a run by age
type AgingReport struct {
	RunID       string          `json:"run_id"`
	AsOf        string          `json:"as_of"`
	TotalOpen   int             `json:"total_open"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Buckets     []AgingTotal    `json:"buckets"`
	ByCarrier   []AgingTotal    `json:"by_carrier"`
	ByReason    []AgingTotal    `json:"by_reason"`
	Items       []AgingItem     `json:"items"`
}

// Aging ages every pending line against asOf. Amounts are absolute commission.
func Aging(view *recon.View, asOf time.Time) *AgingReport {
	report := &AgingReport{RunID: view.RunID, AsOf: models.FormatDate(asOf)}
	buckets := make(map[string]*AgingTotal, len(AgingBuckets))
	for _, b := range AgingBuckets {
		buckets[b] = &AgingTotal{Key: b}
	}
	byCarrier := make(map[string]*AgingTotal)
	byReason := make(map[string]*AgingTotal)

	for _, line := range view.Filter(func(l *recon.Line) bool { return l.Settlement == recon.SettlementPending }) {
		date := line.Line.TxnDate
		if date.IsZero() {
			date = line.Line.EffectiveDate
		}
		age := 0
		if !date.IsZero() && date.Before(asOf) {
			age = models.DaysBetween(date, asOf)
		}
		amount := line.OnStatement().Abs()
		reason := primaryReason(line)

		item := AgingItem{
			LineID:       line.LineID(),
			PolicyNumber: line.Line.PolicyNumber,
			CarrierName:  line.Line.CarrierName,
			InsuredName:  line.Line.InsuredName,
			Commission:   amount,
			TxnDate:      models.FormatDate(date),
			AgeDays:      age,
			Bucket:       BucketFor(age),
			Reason:       reason,
			Status:       line.Status(),
			Confidence:   line.Confidence(),
		}
		report.Items = append(report.Items, item)
		report.TotalOpen++
		report.TotalAmount = report.TotalAmount.Add(amount)

		accumulate(buckets, item.Bucket, amount)
		accumulate(byCarrier, item.CarrierName, amount)
		accumulate(byReason, reason, amount)
	}

	sort.SliceStable(report.Items, func(i, j int) bool {
		if report.Items[i].AgeDays != report.Items[j].AgeDays {
			return report.Items[i].AgeDays > report.Items[j].AgeDays
		}
		return report.Items[i].LineID < report.Items[j].LineID
	})
	for _, b := range AgingBuckets {
		report.Buckets = append(report.Buckets, *buckets[b])
	}
	report.ByCarrier = sortedTotals(byCarrier, func(a, b AgingTotal) bool { return a.Key < b.Key })
	report.ByReason = sortedTotals(byReason, func(a, b AgingTotal) bool {
		if !a.Amount.Equal(b.Amount) {
			return a.Amount.GreaterThan(b.Amount)
		}
		return a.Key < b.Key
	})
	return report
}

func primaryReason(line *recon.Line) string {
	reason := ""
	if line.Result != nil {
		reason = line.Result.Reason
	}
	if reason == "" && line.Exception != nil {
		reason = line.Exception.Reason
	}
	if reason == "" {
		return "unknown"
	}
	first, _, _ := strings.Cut(reason, ",")
	return strings.TrimSpace(first)
}

func accumulate(totals map[string]*AgingTotal, key string, amount decimal.Decimal) {
	t, ok := totals[key]
	if !ok {
		t = &AgingTotal{Key: key}
		totals[key] = t
	}
	t.Count++
	t.Amount = t.Amount.Add(amount)
}

func sortedTotals(totals map[string]*AgingTotal, less func(a, b AgingTotal) bool) []AgingTotal {
	out := make([]AgingTotal, 0, len(totals))
	for _, t := range totals {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// CarrierScore summarizes one carrier's match quality
type CarrierScore struct {
	Carrier         string          `json:"carrier"`
	Statements      int             `json:"statements"`
	Lines           int             `json:"lines"`
	TotalPremium    decimal.Decimal `json:"total_premium"`
	TotalCommission decimal.Decimal `json:"total_commission"`
	CashReceived    decimal.Decimal `json:"cash_received"`
	AutoMatched     int             `json:"auto_matched"`
	NeedsReview     int             `json:"needs_review"`
	Unmatched       int             `json:"unmatched"`
	Reconciled      int             `json:"reconciled"`
	Exceptions      int             `json:"exceptions"`
	OpenExceptions  int             `json:"open_exceptions"`
	AutoMatchRate   float64         `json:"auto_match_rate"`
	MatchRate       float64         `json:"match_rate"`
	AvgConfidence   float64         `json:"avg_confidence"`
	Clawbacks       int             `json:"clawbacks"`
	ClawbackAmount  decimal.Decimal `json:"clawback_amount"`
}

// Scorecard scores every carrier of the view, largest commission first
func Scorecard(view *recon.View) []CarrierScore {
	scores := make(map[string]*CarrierScore)
	statements := make(map[string]map[string]bool)
	confidence := make(map[string]float64)

	for i := range view.Lines {
		line := &view.Lines[i]
		carrier := line.Line.CarrierName
		s, ok := scores[carrier]
		if !ok {
			s = &CarrierScore{Carrier: carrier}
			scores[carrier] = s
			statements[carrier] = make(map[string]bool)
		}
		if line.Line.StatementID != "" {
			statements[carrier][line.Line.StatementID] = true
		}

		s.Lines++
		s.TotalPremium = s.TotalPremium.Add(line.Line.WrittenPremium)
		s.TotalCommission = s.TotalCommission.Add(line.OnStatement())
		s.CashReceived = s.CashReceived.Add(line.CashReceived())
		confidence[carrier] += line.Confidence()

		switch line.Status() {
		case models.StatusAutoMatched:
			s.AutoMatched++
		case models.StatusNeedsReview:
			s.NeedsReview++
		case models.StatusUnmatched:
			s.Unmatched++
		}
		if line.Settlement == recon.SettlementReconciled {
			s.Reconciled++
		}
		if line.Exception != nil {
			s.Exceptions++
			if line.Exception.Status == models.ExceptionOpen {
				s.OpenExceptions++
			}
		}
		if line.IsClawback() {
			s.Clawbacks++
			s.ClawbackAmount = s.ClawbackAmount.Add(line.OnStatement())
		}
	}

	out := make([]CarrierScore, 0, len(scores))
	for carrier, s := range scores {
		s.Statements = len(statements[carrier])
		s.AutoMatchRate = percent(s.AutoMatched, s.Lines)
		s.MatchRate = percent(s.Reconciled, s.Lines)
		if s.Lines > 0 {
			s.AvgConfidence = roundTo(confidence[carrier]/float64(s.Lines), 3)
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].TotalCommission.Equal(out[j].TotalCommission) {
			return out[i].TotalCommission.GreaterThan(out[j].TotalCommission)
		}
		return out[i].Carrier < out[j].Carrier
	})
	return out
}

func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return roundTo(float64(part)/float64(total)*100, 1)
}

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
