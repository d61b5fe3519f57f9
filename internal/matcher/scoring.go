package matcher

import (
	"fmt"
	"math"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// policyRef is the policy identity a line is matched under
type policyRef struct {
	Raw        string
	Applied    string
	Overridden bool
}

// policies returns the distinct policy numbers a bank memo may carry for the line
func (p policyRef) policies() []string {
	if p.Overridden && p.Applied != p.Raw {
		return []string{p.Raw, p.Applied}
	}
	return []string{p.Raw}
}

func resolvePolicy(line *models.StatementLine, overrides map[string]string) policyRef {
	raw := models.NormalizePolicy(line.PolicyNumber)
	ref := policyRef{Raw: raw, Applied: raw}
	if target, ok := overrides[raw]; ok && target != "" {
		ref.Applied = models.NormalizePolicy(target)
		ref.Overridden = true
	}
	return ref
}

// Score is the scored pairing of one statement line with one bank transaction
type Score struct {
	LineID        string
	BankTxnID     string
	Confidence    float64
	Factors       []models.ScoreFactor
	Deterministic bool
	AmountDiff    decimal.Decimal
	PostedDate    string
}

// Reason renders the factor labels in evaluation order
func (s *Score) Reason() string {
	return models.FactorLabels(s.Factors)
}

// scorer evaluates factor weights for a fixed configuration and bank index
type scorer struct {
	cfg   Config
	index *BankIndex
}

// score computes the confidence for a line/transaction pair
func (s *scorer) score(line *models.StatementLine, ref policyRef, txn *models.BankTransaction) (*Score, error) {
	if txn.PostedDate.IsZero() {
		return nil, fmt.Errorf("bank transaction %s has no posted date", txn.BankTxnID)
	}
	dayGap, ok := minDayGap(line, txn)
	if !ok {
		return nil, fmt.Errorf("line %s has neither txn_date nor effective_date", line.LineID)
	}

	w := s.cfg.Weights
	var factors []models.ScoreFactor
	add := func(label models.FactorLabel, weight float64) {
		factors = append(factors, models.ScoreFactor{Label: label, Weight: weight})
	}

	rawHit := s.index.MentionsPolicy(txn.BankTxnID, ref.Raw)
	appliedHit := ref.Overridden && s.index.MentionsPolicy(txn.BankTxnID, ref.Applied)
	policyHit := rawHit || appliedHit

	if policyHit {
		add(models.FactorPolicyInMemo, w.PolicyInMemo)
	}
	if appliedHit {
		add(models.FactorPolicyRuleOverride, w.PolicyRuleOverride)
	}

	diff := line.GrossCommission.Sub(txn.Amount).Abs()
	switch {
	case diff.LessThanOrEqual(s.cfg.ExactAmountTolerance):
		add(models.FactorExactAmount, w.ExactAmount)
	case diff.LessThanOrEqual(s.cfg.NearAmountTolerance):
		add(models.FactorNearAmount, w.NearAmount)
	}

	switch {
	case dayGap <= s.cfg.NearDateDays:
		add(models.FactorNearDate, w.NearDate)
	case dayGap <= s.cfg.SoftDateDays:
		add(models.FactorSoftDate, w.SoftDate)
	}

	if txn.Counterparty != "" && strings.EqualFold(strings.TrimSpace(txn.Counterparty), strings.TrimSpace(line.CarrierName)) {
		add(models.FactorCarrierMatch, w.CarrierMatch)
	}

	if line.InsuredName != "" && NameSimilarity(line.InsuredName, txn.Memo) >= s.cfg.NameSimilarityMin {
		add(models.FactorNameHint, w.NameHint)
	}

	total := 0.0
	for _, f := range factors {
		total += f.Weight
	}

	deterministic := policyHit &&
		diff.LessThanOrEqual(s.cfg.DeterministicAmountTolerance) &&
		dayGap <= s.cfg.DeterministicWindowDays
	if deterministic && total < s.cfg.DeterministicBaseScore {
		total = s.cfg.DeterministicBaseScore
	}

	if math.IsNaN(total) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("non-finite score for line %s and %s", line.LineID, txn.BankTxnID)
	}

	return &Score{
		LineID:        line.LineID,
		BankTxnID:     txn.BankTxnID,
		Confidence:    roundConfidence(total),
		Factors:       factors,
		Deterministic: deterministic,
		AmountDiff:    line.GrossCommission.Sub(txn.Amount),
		PostedDate:    models.FormatDate(txn.PostedDate),
	}, nil
}

// minDayGap is the smallest day distance between the posting and either line date
func minDayGap(line *models.StatementLine, txn *models.BankTransaction) (int, bool) {
	gap, found := 0, false
	for _, d := range []time.Time{line.TxnDate, line.EffectiveDate} {
		if d.IsZero() {
			continue
		}
		days := models.DaysBetween(d, txn.PostedDate)
		if !found || days < gap {
			gap, found = days, true
		}
	}
	return gap, found
}

// roundConfidence clamps to [0,1] and rounds to three decimals
func roundConfidence(v float64) float64 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return math.Round(v*1000) / 1000
}
