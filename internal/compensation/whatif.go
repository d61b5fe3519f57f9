package compensation

import (
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"
	"commission-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

// ProposedRuleID identifies a proposed rule that replaces no existing rule
const ProposedRuleID = "proposed"

// LineDelta is the change of one line under a proposed rule
type LineDelta struct {
	LineID         string          `json:"line_id"`
	ProducerID     string          `json:"producer_id"`
	BeforeRuleID   string          `json:"before_rule_id,omitempty"`
	AfterRuleID    string          `json:"after_rule_id,omitempty"`
	BeforeShare    decimal.Decimal `json:"before_share"`
	AfterShare     decimal.Decimal `json:"after_share"`
	BeforeExposure decimal.Decimal `json:"before_exposure"`
	AfterExposure  decimal.Decimal `json:"after_exposure"`
	NetPayoutDelta decimal.Decimal `json:"net_payout_delta"`
}

// ProducerDelta is the change of one producer's net payout
type ProducerDelta struct {
	ProducerID string          `json:"producer_id"`
	Before     decimal.Decimal `json:"before_net_payout"`
	After      decimal.Decimal `json:"after_net_payout"`
	Delta      decimal.Decimal `json:"delta"`
}

// WhatIfResult compares the committed rule set against a proposed one
type WhatIfResult struct {
	RunID     string           `json:"run_id"`
	Proposed  models.SplitRule `json:"proposed_rule"`
	Replaces  bool             `json:"replaces_existing"`
	Lines     []LineDelta      `json:"lines"`
	Producers []ProducerDelta  `json:"producers"`
	Before    Totals           `json:"before"`
	After     Totals           `json:"after"`
}

// WhatIf applies proposed to an in-memory copy of rules and reruns Calculate.
// A proposed rule with an existing rule_id replaces that rule. Only lines and
// producers whose figures change are returned.
func WhatIf(view *recon.View, rules []models.SplitRule, adjustments []models.Adjustment, proposed models.SplitRule) (*WhatIfResult, error) {
	if err := proposed.Validate(); err != nil {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "split_rule", proposed.RuleID, err)
	}
	if proposed.RuleID == "" {
		proposed.RuleID = ProposedRuleID
	}

	candidate := make([]models.SplitRule, 0, len(rules)+1)
	replaces := false
	for _, rule := range rules {
		if rule.RuleID == proposed.RuleID {
			replaces = true
			continue
		}
		candidate = append(candidate, rule)
	}
	candidate = append(candidate, proposed)

	before := Calculate(view, rules, adjustments)
	after := Calculate(view, candidate, adjustments)

	result := &WhatIfResult{
		RunID:    view.RunID,
		Proposed: proposed,
		Replaces: replaces,
		Before:   before.Totals,
		After:    after.Totals,
	}

	for i := range before.Lines {
		b, a := before.Lines[i], after.Lines[i]
		delta := a.Share.Sub(a.Exposure).Sub(b.Share.Sub(b.Exposure))
		if delta.IsZero() && a.RuleID == b.RuleID {
			continue
		}
		result.Lines = append(result.Lines, LineDelta{
			LineID:         b.LineID,
			ProducerID:     b.ProducerID,
			BeforeRuleID:   b.RuleID,
			AfterRuleID:    a.RuleID,
			BeforeShare:    b.Share,
			AfterShare:     a.Share,
			BeforeExposure: b.Exposure,
			AfterExposure:  a.Exposure,
			NetPayoutDelta: delta,
		})
	}

	for _, b := range before.Producers {
		a, _ := after.Producer(b.ProducerID)
		if a.NetPayout.Equal(b.NetPayout) {
			continue
		}
		result.Producers = append(result.Producers, ProducerDelta{
			ProducerID: b.ProducerID,
			Before:     b.NetPayout,
			After:      a.NetPayout,
			Delta:      a.NetPayout.Sub(b.NetPayout),
		})
	}
	return result, nil
}
