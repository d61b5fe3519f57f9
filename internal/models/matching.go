package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchStatus classifies a statement line within a match run
type MatchStatus string

const (
	StatusAutoMatched MatchStatus = "auto_matched"
	StatusNeedsReview MatchStatus = "needs_review"
	StatusUnmatched   MatchStatus = "unmatched"
)

// IsValid checks if the status is one of the supported values
func (s MatchStatus) IsValid() bool {
	switch s {
	case StatusAutoMatched, StatusNeedsReview, StatusUnmatched:
		return true
	default:
		return false
	}
}

// OpensException reports whether a result with this status routes to the exception queue
func (s MatchStatus) OpensException() bool {
	switch s {
	case StatusNeedsReview, StatusUnmatched:
		return true
	case StatusAutoMatched:
		return false
	default:
		return false
	}
}

// Rank orders statuses from worst to best for run comparison
func (s MatchStatus) Rank() int {
	switch s {
	case StatusUnmatched:
		return 0
	case StatusNeedsReview:
		return 1
	case StatusAutoMatched:
		return 2
	default:
		return -1
	}
}

// FactorLabel names one contribution to a confidence score
type FactorLabel string

const (
	FactorPolicyInMemo       FactorLabel = "policy_in_memo"
	FactorExactAmount        FactorLabel = "exact_amount"
	FactorNearAmount         FactorLabel = "near_amount"
	FactorNearDate           FactorLabel = "near_date"
	FactorSoftDate           FactorLabel = "soft_date"
	FactorCarrierMatch       FactorLabel = "carrier_match"
	FactorNameHint           FactorLabel = "name_hint"
	FactorPolicyRuleOverride FactorLabel = "policy_rule_override"
)

// ScoreFactor is one labelled weight in a score breakdown
type ScoreFactor struct {
	Label  FactorLabel `json:"label"`
	Weight float64     `json:"weight"`
}

// FactorLabels joins the labels of factors in order
func FactorLabels(factors []ScoreFactor) string {
	labels := make([]string, 0, len(factors))
	for _, f := range factors {
		labels = append(labels, string(f.Label))
	}
	return strings.Join(labels, ",")
}

// MatchRun is an immutable snapshot of one matching invocation
type MatchRun struct {
	RunID       string    `json:"run_id"`
	Seq         int64     `json:"seq"`
	CreatedAt   time.Time `json:"created_at"`
	Actor       string    `json:"actor"`
	TotalLines  int       `json:"total_lines"`
	AutoMatched int       `json:"auto_matched"`
	NeedsReview int       `json:"needs_review"`
	Unmatched   int       `json:"unmatched"`
	RulesUsed   int       `json:"rules_used"`
	Config      string    `json:"config,omitempty"`
}

// Tally sets the aggregate counts of the run from its results
func (r *MatchRun) Tally(results []MatchResult) {
	r.TotalLines = len(results)
	r.AutoMatched, r.NeedsReview, r.Unmatched = 0, 0, 0
	for _, res := range results {
		switch res.Status {
		case StatusAutoMatched:
			r.AutoMatched++
		case StatusNeedsReview:
			r.NeedsReview++
		case StatusUnmatched:
			r.Unmatched++
		}
	}
}

// MatchResult is the outcome for one statement line in one run
type MatchResult struct {
	RunID               string          `json:"run_id"`
	LineID              string          `json:"line_id"`
	PolicyNumber        string          `json:"policy_number"`
	AppliedPolicyNumber string          `json:"applied_policy_number"`
	CarrierName         string          `json:"carrier_name"`
	MatchedBankTxnID    string          `json:"matched_bank_txn_id,omitempty"`
	Confidence          float64         `json:"confidence"`
	Status              MatchStatus     `json:"status"`
	Reason              string          `json:"reason"`
	Factors             []ScoreFactor   `json:"score_factors"`
	Deterministic       bool            `json:"deterministic"`
	AmountDiff          decimal.Decimal `json:"amount_diff"`
}

// HasFactor reports whether the score breakdown contains label
func (r *MatchResult) HasFactor(label FactorLabel) bool {
	for _, f := range r.Factors {
		if f.Label == label {
			return true
		}
	}
	return false
}

// ResultFilter narrows result listings
type ResultFilter struct {
	Status  MatchStatus
	Carrier string
	Reason  string
}
