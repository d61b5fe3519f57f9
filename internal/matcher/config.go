// Package matcher provides the statement-to-cash matching engine and its configuration.
//
// The engine scores every statement line against candidate bank transactions
// and classifies each line as auto_matched, needs_review or unmatched:
//
//  1. Candidate selection through a BankIndex (policy tokens, sorted amounts)
//  2. Deterministic pass: an exact policy-number hit with the amount and date
//     inside fixed tolerances gets a high base score and is assigned first
//  3. Probabilistic pass: remaining lines are scored as a clamped sum of
//     labelled factor weights (policy_in_memo, exact_amount, near_amount,
//     near_date, soft_date, carrier_match, name_hint, policy_rule_override)
//  4. Greedy exclusive assignment in descending confidence order
//
// Weights and thresholds travel in an explicit Config value; nothing is
// read from package-level state, so two runs with the same inputs and the
// same Config produce the same results.
//
// Example usage:
//
//	cfg := matcher.DefaultConfig()
//	cfg.Weights.NameHint = 0.25
//
//	engine, err := matcher.NewEngine(cfg)
//	outcome, err := engine.Run(ctx, snapshot, runID)
package matcher

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/shopspring/decimal"
)

// Weights holds the additive contribution of each scoring factor
type Weights struct {
	PolicyInMemo       float64 `json:"policy_in_memo" mapstructure:"policy_in_memo"`
	ExactAmount        float64 `json:"exact_amount" mapstructure:"exact_amount"`
	NearAmount         float64 `json:"near_amount" mapstructure:"near_amount"`
	NearDate           float64 `json:"near_date" mapstructure:"near_date"`
	SoftDate           float64 `json:"soft_date" mapstructure:"soft_date"`
	CarrierMatch       float64 `json:"carrier_match" mapstructure:"carrier_match"`
	NameHint           float64 `json:"name_hint" mapstructure:"name_hint"`
	PolicyRuleOverride float64 `json:"policy_rule_override" mapstructure:"policy_rule_override"`
}

// Config controls scoring, tolerances and classification thresholds.
// It is passed by value into the engine and never mutated there.
type Config struct {
	Weights Weights `json:"weights"`

	// ExactAmountTolerance is the largest |statement - bank| still scored as exact_amount
	ExactAmountTolerance decimal.Decimal `json:"exact_amount_tolerance"`

	// NearAmountTolerance is the largest difference scored as near_amount
	NearAmountTolerance decimal.Decimal `json:"near_amount_tolerance"`

	// NearDateDays and SoftDateDays bound the near_date and soft_date factors
	NearDateDays int `json:"near_date_days"`
	SoftDateDays int `json:"soft_date_days"`

	// Deterministic pass tolerances and the base score a hit receives
	DeterministicAmountTolerance decimal.Decimal `json:"deterministic_amount_tolerance"`
	DeterministicWindowDays      int             `json:"deterministic_window_days"`
	DeterministicBaseScore       float64         `json:"deterministic_base_score"`

	// NameSimilarityMin is the minimum insured-name similarity for name_hint
	NameSimilarityMin float64 `json:"name_similarity_min"`

	// AutoMatchThreshold and ReviewThreshold split confidence into statuses
	AutoMatchThreshold float64 `json:"auto_match_threshold"`
	ReviewThreshold    float64 `json:"review_threshold"`

	// PolicyPattern recognizes policy numbers inside bank memos and references
	PolicyPattern string `json:"policy_pattern"`
}

// DefaultPolicyPattern matches identifiers such as POL-0042 or AUT-123456
const DefaultPolicyPattern = `\b[A-Z]{2,5}-[0-9]{3,}\b`

// DefaultConfig returns the production weights and thresholds
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			PolicyInMemo:       0.55,
			ExactAmount:        0.30,
			NearAmount:         0.20,
			NearDate:           0.10,
			SoftDate:           0.05,
			CarrierMatch:       0.05,
			NameHint:           0.30,
			PolicyRuleOverride: 0.05,
		},
		ExactAmountTolerance:         decimal.RequireFromString("0.01"),
		NearAmountTolerance:          decimal.RequireFromString("25.00"),
		NearDateDays:                 3,
		SoftDateDays:                 30,
		DeterministicAmountTolerance: decimal.RequireFromString("0.01"),
		DeterministicWindowDays:      3,
		DeterministicBaseScore:       0.95,
		NameSimilarityMin:            0.80,
		AutoMatchThreshold:           0.90,
		ReviewThreshold:              0.60,
		PolicyPattern:                DefaultPolicyPattern,
	}
}

// Validate checks if the matching configuration is valid
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("invalid weights: %w", err)
	}

	if c.ExactAmountTolerance.IsNegative() || c.NearAmountTolerance.IsNegative() || c.DeterministicAmountTolerance.IsNegative() {
		return fmt.Errorf("amount tolerances cannot be negative")
	}
	if c.NearAmountTolerance.LessThan(c.ExactAmountTolerance) {
		return fmt.Errorf("near amount tolerance %s is below exact tolerance %s",
			c.NearAmountTolerance, c.ExactAmountTolerance)
	}

	if c.NearDateDays < 0 || c.SoftDateDays < 0 || c.DeterministicWindowDays < 0 {
		return fmt.Errorf("date windows cannot be negative")
	}
	if c.SoftDateDays < c.NearDateDays {
		return fmt.Errorf("soft date window %d is shorter than near date window %d", c.SoftDateDays, c.NearDateDays)
	}

	if c.DeterministicBaseScore < 0 || c.DeterministicBaseScore > 1 {
		return fmt.Errorf("deterministic base score must be between 0.0 and 1.0: %f", c.DeterministicBaseScore)
	}
	if c.NameSimilarityMin < 0 || c.NameSimilarityMin > 1 {
		return fmt.Errorf("name similarity minimum must be between 0.0 and 1.0: %f", c.NameSimilarityMin)
	}
	if c.ReviewThreshold < 0 || c.AutoMatchThreshold > 1 || c.ReviewThreshold > c.AutoMatchThreshold {
		return fmt.Errorf("thresholds must satisfy 0 <= review (%f) <= auto (%f) <= 1",
			c.ReviewThreshold, c.AutoMatchThreshold)
	}

	if _, err := regexp.Compile(c.PolicyPattern); err != nil {
		return fmt.Errorf("invalid policy pattern %q: %w", c.PolicyPattern, err)
	}

	return nil
}

// Validate checks that every weight lies in [0,1]
func (w Weights) Validate() error {
	named := map[string]float64{
		"policy_in_memo":       w.PolicyInMemo,
		"exact_amount":         w.ExactAmount,
		"near_amount":          w.NearAmount,
		"near_date":            w.NearDate,
		"soft_date":            w.SoftDate,
		"carrier_match":        w.CarrierMatch,
		"name_hint":            w.NameHint,
		"policy_rule_override": w.PolicyRuleOverride,
	}
	for name, v := range named {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s weight must be between 0.0 and 1.0: %f", name, v)
		}
	}
	return nil
}

type searchScope int

const (
	scopeIndexed searchScope = iota // policy tokens and amount range
	scopeDated                      // plus postings inside the soft date window
	scopeAll                        // every transaction
)

// searchScope widens candidate selection when factors that need neither a
// policy hit nor a close amount can reach the review threshold on their own
func (c Config) searchScope() searchScope {
	w := c.Weights
	switch {
	case w.CarrierMatch+w.NameHint >= c.ReviewThreshold:
		return scopeAll
	case w.NearDate+w.CarrierMatch+w.NameHint >= c.ReviewThreshold:
		return scopeDated
	default:
		return scopeIndexed
	}
}

// Snapshot renders the configuration as JSON for storing alongside a run
func (c Config) Snapshot() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return string(data)
}

// String returns a human-readable description of the configuration
func (c Config) String() string {
	return fmt.Sprintf("Config{Auto: %.2f, Review: %.2f, NearAmount: %s, NearDate: %dd, SoftDate: %dd}",
		c.AutoMatchThreshold, c.ReviewThreshold, c.NearAmountTolerance, c.NearDateDays, c.SoftDateDays)
}
