package audit

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"commission-reconciliation-service/internal/models"
)

// confidenceEpsilon is the smallest confidence change reported
const confidenceEpsilon = 0.001

// Direction says whether a line got better or worse between runs
type Direction string

const (
	DirectionImproved  Direction = "improved"
	DirectionRegressed Direction = "regressed"
	DirectionUnchanged Direction = "unchanged"
)

// Change describes how one line differs between two runs
type Change struct {
	LineID          string               `json:"line_id"`
	PolicyNumber    string               `json:"policy_number"`
	OldStatus       models.MatchStatus   `json:"old_status,omitempty"`
	NewStatus       models.MatchStatus   `json:"new_status"`
	OldConfidence   float64              `json:"old_confidence"`
	NewConfidence   float64              `json:"new_confidence"`
	ConfidenceDelta float64              `json:"confidence_delta"`
	OldBankTxnID    string               `json:"old_bank_txn_id,omitempty"`
	NewBankTxnID    string               `json:"new_bank_txn_id,omitempty"`
	OldReason       string               `json:"old_reason,omitempty"`
	NewReason       string               `json:"new_reason"`
	RulesAdded      []models.PolicyRule  `json:"rules_added,omitempty"`
	FactorsGained   []models.FactorLabel `json:"factors_gained,omitempty"`
	FactorsLost     []models.FactorLabel `json:"factors_lost,omitempty"`
	Direction       Direction            `json:"direction"`
	Explanation     string               `json:"explanation"`
}

// Transition counts lines moving from one status to another
type Transition struct {
	From  models.MatchStatus `json:"from"`
	To    models.MatchStatus `json:"to"`
	Count int                `json:"count"`
}

// String renders the transition as "from → to"
func (t Transition) String() string {
	from := string(t.From)
	if from == "" {
		from = "new"
	}
	return fmt.Sprintf("%s → %s", from, t.To)
}

// Comparison is the line-by-line difference between two runs
type Comparison struct {
	Base               models.MatchRun `json:"base"`
	Target             models.MatchRun `json:"target"`
	Changes            []Change        `json:"changes"`
	Transitions        []Transition    `json:"transitions"`
	Improved           int             `json:"improved"`
	Regressed          int             `json:"regressed"`
	Unchanged          int             `json:"unchanged"`
	AvgConfidenceDelta float64         `json:"avg_confidence_delta"`
}

// CompareInput holds both runs with their results and the current policy rules
type CompareInput struct {
	Base          models.MatchRun
	BaseResults   []models.MatchResult
	Target        models.MatchRun
	TargetResults []models.MatchResult
	Rules         []models.PolicyRule
}

// Compare lists every line whose status, confidence or matched transaction
// differs between Base and Target. Improved, Regressed and Unchanged count
// status moves across all lines present in both runs.
func Compare(in CompareInput) *Comparison {
	cmp := &Comparison{Base: in.Base, Target: in.Target}

	base := make(map[string]*models.MatchResult, len(in.BaseResults))
	for i := range in.BaseResults {
		base[in.BaseResults[i].LineID] = &in.BaseResults[i]
	}
	targets := make([]models.MatchResult, len(in.TargetResults))
	copy(targets, in.TargetResults)
	sort.Slice(targets, func(i, j int) bool { return targets[i].LineID < targets[j].LineID })

	added := rulesAddedBetween(in.Rules, in.Base, in.Target)
	transitions := make(map[[2]models.MatchStatus]int)
	var deltaSum float64
	var deltaCount int

	for i := range targets {
		newer := &targets[i]
		older, ok := base[newer.LineID]
		if !ok {
			cmp.Changes = append(cmp.Changes, Change{
				LineID:        newer.LineID,
				PolicyNumber:  newer.PolicyNumber,
				NewStatus:     newer.Status,
				NewConfidence: newer.Confidence,
				NewBankTxnID:  newer.MatchedBankTxnID,
				NewReason:     newer.Reason,
				Direction:     DirectionUnchanged,
				Explanation:   fmt.Sprintf("new line: %s", newer.Status),
			})
			transitions[[2]models.MatchStatus{"", newer.Status}]++
			continue
		}

		direction := directionOf(older.Status, newer.Status)
		switch direction {
		case DirectionImproved:
			cmp.Improved++
		case DirectionRegressed:
			cmp.Regressed++
		case DirectionUnchanged:
			cmp.Unchanged++
		}

		delta := roundConfidence(newer.Confidence - older.Confidence)
		if older.Status == newer.Status &&
			math.Abs(delta) < confidenceEpsilon &&
			older.MatchedBankTxnID == newer.MatchedBankTxnID {
			continue
		}

		change := Change{
			LineID:          newer.LineID,
			PolicyNumber:    newer.PolicyNumber,
			OldStatus:       older.Status,
			NewStatus:       newer.Status,
			OldConfidence:   older.Confidence,
			NewConfidence:   newer.Confidence,
			ConfidenceDelta: delta,
			OldBankTxnID:    older.MatchedBankTxnID,
			NewBankTxnID:    newer.MatchedBankTxnID,
			OldReason:       older.Reason,
			NewReason:       newer.Reason,
			RulesAdded:      added[models.NormalizePolicy(newer.PolicyNumber)],
			FactorsGained:   factorDiff(newer.Factors, older.Factors),
			FactorsLost:     factorDiff(older.Factors, newer.Factors),
			Direction:       direction,
		}
		change.Explanation = explain(change)
		cmp.Changes = append(cmp.Changes, change)

		transitions[[2]models.MatchStatus{older.Status, newer.Status}]++
		deltaSum += delta
		deltaCount++
	}

	for key, count := range transitions {
		cmp.Transitions = append(cmp.Transitions, Transition{From: key[0], To: key[1], Count: count})
	}
	sort.Slice(cmp.Transitions, func(i, j int) bool {
		a, b := cmp.Transitions[i], cmp.Transitions[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.String() < b.String()
	})

	if deltaCount > 0 {
		cmp.AvgConfidenceDelta = roundConfidence(deltaSum / float64(deltaCount))
	}
	return cmp
}

func directionOf(from, to models.MatchStatus) Direction {
	switch {
	case to.Rank() > from.Rank():
		return DirectionImproved
	case to.Rank() < from.Rank():
		return DirectionRegressed
	default:
		return DirectionUnchanged
	}
}

// rulesAddedBetween indexes by source policy the rules written after base and
// no later than target
func rulesAddedBetween(rules []models.PolicyRule, base, target models.MatchRun) map[string][]models.PolicyRule {
	added := make(map[string][]models.PolicyRule)
	for _, rule := range rules {
		if !rule.UpdatedAt.After(base.CreatedAt) || rule.UpdatedAt.After(target.CreatedAt) {
			continue
		}
		key := models.NormalizePolicy(rule.SourcePolicyNumber)
		added[key] = append(added[key], rule)
	}
	return added
}

// factorDiff returns the labels in a that are missing from b
func factorDiff(a, b []models.ScoreFactor) []models.FactorLabel {
	var diff []models.FactorLabel
	for _, f := range a {
		found := false
		for _, g := range b {
			if f.Label == g.Label {
				found = true
				break
			}
		}
		if !found {
			diff = append(diff, f.Label)
		}
	}
	return diff
}

func explain(c Change) string {
	var parts []string
	if c.OldStatus != c.NewStatus {
		status := fmt.Sprintf("%s → %s", c.OldStatus, c.NewStatus)
		if len(c.RulesAdded) > 0 {
			names := make([]string, 0, len(c.RulesAdded))
			for _, rule := range c.RulesAdded {
				names = append(names, fmt.Sprintf("%s→%s", rule.SourcePolicyNumber, rule.TargetPolicyNumber))
			}
			status += fmt.Sprintf(" because policy rule %s was added", strings.Join(names, ", "))
		}
		parts = append(parts, status)
	} else if len(c.RulesAdded) > 0 {
		parts = append(parts, fmt.Sprintf("policy rule %s→%s was added",
			c.RulesAdded[0].SourcePolicyNumber, c.RulesAdded[0].TargetPolicyNumber))
	}
	if math.Abs(c.ConfidenceDelta) >= confidenceEpsilon {
		parts = append(parts, fmt.Sprintf("confidence %.3f → %.3f", c.OldConfidence, c.NewConfidence))
	}
	if len(c.FactorsGained) > 0 {
		parts = append(parts, "gained "+joinLabels(c.FactorsGained))
	}
	if len(c.FactorsLost) > 0 {
		parts = append(parts, "lost "+joinLabels(c.FactorsLost))
	}
	if c.OldBankTxnID != c.NewBankTxnID {
		parts = append(parts, fmt.Sprintf("bank txn %s → %s", orNone(c.OldBankTxnID), orNone(c.NewBankTxnID)))
	}
	return strings.Join(parts, "; ")
}

func joinLabels(labels []models.FactorLabel) string {
	s := make([]string, len(labels))
	for i, l := range labels {
		s[i] = string(l)
	}
	return strings.Join(s, ",")
}

func orNone(id string) string {
	if id == "" {
		return "none"
	}
	return id
}

func roundConfidence(v float64) float64 {
	return math.Round(v*1000) / 1000
}
