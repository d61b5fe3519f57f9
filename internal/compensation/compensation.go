// Package compensation computes producer payouts from reconciled lines,
// versioned split rules and adjustments.
//
// For each producer:
//
//	net_payout = producer_share - clawback_exposure + adjustments_total
//
// producer_share sums the split share, less fees, of reconciled non-clawback
// lines. clawback_exposure sums the producer's split share of clawback lines
// that are neither disputed nor written off. The what-if path feeds a modified
// rule set through the same Calculate function.
package compensation

import (
	"sort"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// LineShare is the split of one statement line
type LineShare struct {
	LineID     string           `json:"line_id"`
	ProducerID string           `json:"producer_id"`
	Carrier    string           `json:"carrier"`
	LOB        string           `json:"lob,omitempty"`
	Gross      decimal.Decimal  `json:"gross_commission"`
	RuleID     string           `json:"rule_id,omitempty"`
	SplitPct   decimal.Decimal  `json:"split_pct"`
	Fee        decimal.Decimal  `json:"fee"`
	Share      decimal.Decimal  `json:"producer_share"`
	Exposure   decimal.Decimal  `json:"clawback_exposure"`
	Clawback   bool             `json:"clawback"`
	Counted    bool             `json:"counted"`
	Settlement recon.Settlement `json:"settlement"`
}

// ProducerPayout is the netting of one producer
type ProducerPayout struct {
	ProducerID       string              `json:"producer_id"`
	Office           string              `json:"office,omitempty"`
	Lines            int                 `json:"lines"`
	CountedLines     int                 `json:"counted_lines"`
	GrossCommission  decimal.Decimal     `json:"gross_commission"`
	ProducerShare    decimal.Decimal     `json:"producer_share"`
	HouseShare       decimal.Decimal     `json:"house_share"`
	Fees             decimal.Decimal     `json:"fees"`
	ClawbackExposure decimal.Decimal     `json:"clawback_exposure"`
	AdjustmentsTotal decimal.Decimal     `json:"adjustments_total"`
	NetPayout        decimal.Decimal     `json:"net_payout"`
	Adjustments      []models.Adjustment `json:"adjustments,omitempty"`
}

// Totals sums every producer
type Totals struct {
	GrossCommission  decimal.Decimal `json:"gross_commission"`
	ProducerShare    decimal.Decimal `json:"producer_share"`
	HouseShare       decimal.Decimal `json:"house_share"`
	ClawbackExposure decimal.Decimal `json:"clawback_exposure"`
	AdjustmentsTotal decimal.Decimal `json:"adjustments_total"`
	NetPayout        decimal.Decimal `json:"net_payout"`
}

// Result is the netting of one run
type Result struct {
	RunID     string           `json:"run_id"`
	Lines     []LineShare      `json:"lines"`
	Producers []ProducerPayout `json:"producers"`
	Totals    Totals           `json:"totals"`
}

// Producer returns the payout of one producer
func (r *Result) Producer(producerID string) (*ProducerPayout, bool) {
	for i := range r.Producers {
		if r.Producers[i].ProducerID == producerID {
			return &r.Producers[i], true
		}
	}
	return nil, false
}

// SelectRule picks the most specific rule covering the producer, carrier and
// lob that is active on date. Equal specificity prefers the latest
// effective_from, then the lowest rule_id. It returns nil when no rule applies.
func SelectRule(rules []models.SplitRule, producerID, carrier, lob string, date time.Time) *models.SplitRule {
	var best *models.SplitRule
	for i := range rules {
		rule := &rules[i]
		if !rule.Covers(producerID, carrier, lob) || !rule.ActiveOn(date) {
			continue
		}
		if best == nil || moreSpecific(rule, best) {
			best = rule
		}
	}
	return best
}

func moreSpecific(a, b *models.SplitRule) bool {
	if a.Specificity() != b.Specificity() {
		return a.Specificity() > b.Specificity()
	}
	if !a.EffectiveFrom.Equal(b.EffectiveFrom) {
		return a.EffectiveFrom.After(b.EffectiveFrom)
	}
	return a.RuleID < b.RuleID
}

// ShareOf splits one line under rule. A nil rule gives the producer 100% with no fee.
// It returns the producer share after fees and the fee charged.
func ShareOf(gross decimal.Decimal, rule *models.SplitRule) (share, fee decimal.Decimal) {
	splitPct := hundred
	if rule != nil {
		splitPct = rule.SplitPct
	}
	share = gross.Mul(splitPct).Div(hundred)
	if rule == nil || !share.IsPositive() {
		return share, decimal.Zero
	}

	switch rule.FeeType {
	case models.FeePercentage:
		fee = share.Mul(rule.FeeAmount).Div(hundred)
	case models.FeeFlat:
		fee = rule.FeeAmount
	default:
		fee = decimal.Zero
	}
	fee = decimal.Min(fee, share)
	return share.Sub(fee), fee
}

// Calculate nets every producer of the view
func Calculate(view *recon.View, rules []models.SplitRule, adjustments []models.Adjustment) *Result {
	result := &Result{RunID: view.RunID, Lines: make([]LineShare, 0, len(view.Lines))}
	payouts := make(map[string]*ProducerPayout)
	payout := func(producerID string) *ProducerPayout {
		p, ok := payouts[producerID]
		if !ok {
			p = &ProducerPayout{ProducerID: producerID}
			payouts[producerID] = p
		}
		return p
	}

	for i := range view.Lines {
		line := &view.Lines[i]
		share := lineShare(line, rules)
		result.Lines = append(result.Lines, share)

		p := payout(line.ProducerID)
		p.Lines++
		if p.Office == "" {
			p.Office = line.Office
		}
		if !share.Counted {
			continue
		}
		p.CountedLines++
		if share.Clawback {
			p.ClawbackExposure = p.ClawbackExposure.Add(share.Exposure)
			continue
		}
		p.GrossCommission = p.GrossCommission.Add(share.Gross)
		p.ProducerShare = p.ProducerShare.Add(share.Share)
		p.Fees = p.Fees.Add(share.Fee)
	}

	for _, adj := range adjustments {
		p := payout(adj.ProducerID)
		p.Adjustments = append(p.Adjustments, adj)
		p.AdjustmentsTotal = p.AdjustmentsTotal.Add(adj.Amount)
	}

	ids := make([]string, 0, len(payouts))
	for id := range payouts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		p := payouts[id]
		p.HouseShare = p.GrossCommission.Sub(p.ProducerShare)
		p.NetPayout = p.ProducerShare.Sub(p.ClawbackExposure).Add(p.AdjustmentsTotal)
		result.Producers = append(result.Producers, *p)

		result.Totals.GrossCommission = result.Totals.GrossCommission.Add(p.GrossCommission)
		result.Totals.ProducerShare = result.Totals.ProducerShare.Add(p.ProducerShare)
		result.Totals.HouseShare = result.Totals.HouseShare.Add(p.HouseShare)
		result.Totals.ClawbackExposure = result.Totals.ClawbackExposure.Add(p.ClawbackExposure)
		result.Totals.AdjustmentsTotal = result.Totals.AdjustmentsTotal.Add(p.AdjustmentsTotal)
		result.Totals.NetPayout = result.Totals.NetPayout.Add(p.NetPayout)
	}
	return result
}

func lineShare(line *recon.Line, rules []models.SplitRule) LineShare {
	carrier := line.Line.CarrierName
	date := line.Line.EffectiveDate
	if date.IsZero() {
		date = line.Line.TxnDate
	}
	rule := SelectRule(rules, line.ProducerID, carrier, line.LOB, date)

	share := LineShare{
		LineID:     line.LineID(),
		ProducerID: line.ProducerID,
		Carrier:    carrier,
		LOB:        line.LOB,
		Gross:      line.OnStatement(),
		SplitPct:   hundred,
		Clawback:   line.IsClawback(),
		Settlement: line.Settlement,
	}
	if rule != nil {
		share.RuleID = rule.RuleID
		share.SplitPct = rule.SplitPct
	}

	if share.Clawback {
		switch line.Settlement {
		case recon.SettlementDisputed, recon.SettlementWrittenOff:
			share.Counted = false
		case recon.SettlementReconciled, recon.SettlementPending:
			share.Counted = true
			share.Exposure = share.Gross.Abs().Mul(share.SplitPct).Div(hundred)
		}
		return share
	}

	share.Counted = line.Settlement == recon.SettlementReconciled
	if share.Counted {
		share.Share, share.Fee = ShareOf(share.Gross, rule)
	}
	return share
}
