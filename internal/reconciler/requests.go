package reconciler

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// IngestRequest names the three input files of one ingestion
type IngestRequest struct {
	Statements string `json:"statements" validate:"required"`
	Bank       string `json:"bank" validate:"required"`
	Expected   string `json:"expected" validate:"required"`
	Actor      string `json:"actor" validate:"max=64"`
}

// RunRequest starts a match run
type RunRequest struct {
	Actor string `json:"actor" validate:"max=64"`
}

// ResolveRequest applies a resolution action to the exception of a line in the latest run
type ResolveRequest struct {
	LineID             string `json:"line_id" validate:"required"`
	Action             string `json:"action" validate:"required,oneof=manual_link write_off defer confirm_reversal dispute_clawback offset_overpayment"`
	BankTxnID          string `json:"resolved_bank_txn_id"`
	TargetPolicyNumber string `json:"target_policy_number"`
	Note               string `json:"note" validate:"max=500"`
	Actor              string `json:"actor" validate:"max=64"`
}

// ReopenRequest moves a deferred exception back to open
type ReopenRequest struct {
	LineID string `json:"line_id" validate:"required"`
	Note   string `json:"note" validate:"max=500"`
	Actor  string `json:"actor" validate:"max=64"`
}

// BackgroundResolveRequest resolves the highest-confidence suggestions; zero Limit uses the default
type BackgroundResolveRequest struct {
	Limit int    `json:"limit" validate:"gte=0"`
	Actor string `json:"actor" validate:"max=64"`
}

// PolicyRuleRequest creates or replaces a policy number mapping
type PolicyRuleRequest struct {
	SourcePolicyNumber string `json:"source_policy_number" validate:"required"`
	TargetPolicyNumber string `json:"target_policy_number" validate:"required"`
	Note               string `json:"note" validate:"max=500"`
	Actor              string `json:"actor" validate:"max=64"`
}

// SplitRuleRequest carries a split rule to create or update. Amounts are
// decimal strings. HousePct defaults to 100 - SplitPct and FeeType to percentage.
type SplitRuleRequest struct {
	RuleID          string `json:"rule_id"`
	ProducerID      string `json:"producer_id" validate:"required"`
	Carrier         string `json:"carrier"`
	LOB             string `json:"lob"`
	SplitPct        string `json:"split_pct" validate:"required,numeric"`
	HousePct        string `json:"house_pct" validate:"omitempty,numeric"`
	FeeType         string `json:"fee_type" validate:"omitempty,oneof=percentage flat"`
	FeeAmount       string `json:"fee_amount" validate:"omitempty,numeric"`
	EffectiveFrom   string `json:"effective_from" validate:"omitempty,datetime=2006-01-02"`
	EffectiveTo     string `json:"effective_to" validate:"omitempty,datetime=2006-01-02"`
	Note            string `json:"note" validate:"max=500"`
	ExpectedVersion int    `json:"expected_version" validate:"gte=0"`
	Actor           string `json:"actor" validate:"max=64"`
}

// DeleteSplitRuleRequest soft-deletes a split rule at a known version
type DeleteSplitRuleRequest struct {
	RuleID          string `json:"rule_id" validate:"required"`
	ExpectedVersion int    `json:"expected_version" validate:"required,gt=0"`
	Actor           string `json:"actor" validate:"max=64"`
}

// WhatIfRequest evaluates a proposed split rule against a run without saving it
type WhatIfRequest struct {
	SplitRuleRequest
	RunID string `json:"run_id"`
}

// AdjustmentRequest carries an adjustment to create or update
type AdjustmentRequest struct {
	AdjID       string `json:"adj_id"`
	ProducerID  string `json:"producer_id" validate:"required"`
	AdjType     string `json:"adj_type" validate:"required,oneof=clawback_offset chargeback draw_advance draw_repayment bonus fee_deduction"`
	Amount      string `json:"amount" validate:"required,numeric"`
	Description string `json:"description" validate:"max=500"`
	Period      string `json:"period" validate:"omitempty,datetime=2006-01"`
	Status      string `json:"status" validate:"omitempty,oneof=pending applied"`
	Actor       string `json:"actor" validate:"max=64"`
}

// DeleteAdjustmentRequest removes an adjustment
type DeleteAdjustmentRequest struct {
	AdjID string `json:"adj_id" validate:"required"`
	Actor string `json:"actor" validate:"max=64"`
}

// CompareRequest names two runs; empty ids select the two most recent runs
type CompareRequest struct {
	BaseRunID   string `json:"base_run_id"`
	TargetRunID string `json:"target_run_id"`
}

// JournalRequest selects the run of a journal posting
type JournalRequest struct {
	RunID string `json:"run_id"`
	Actor string `json:"actor" validate:"max=64"`
}

// ExportRequest names an export of a run
type ExportRequest struct {
	Name  string `json:"name" validate:"required,oneof=accrual.csv journal.csv producer-payout.csv reconciliation.xlsx"`
	RunID string `json:"run_id"`
	Actor string `json:"actor" validate:"max=64"`
}

// validateRequest checks the struct tags of req and lists every failing field
func (s *Service) validateRequest(req interface{}) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !stderrors.As(err, &fieldErrors) {
		return errors.InternalError(errors.CodeUnexpectedError, "validate request", err)
	}

	problems := make(map[string]string, len(fieldErrors))
	fields := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		field := jsonName(fe.Field())
		problems[field] = describeTag(fe)
		fields = append(fields, field)
	}
	sort.Strings(fields)

	details := make([]string, 0, len(fields))
	for _, f := range fields {
		details = append(details, fmt.Sprintf("%s %s", f, problems[f]))
	}

	code := errors.CodeInvalidValue
	if len(fieldErrors) == 1 && fieldErrors[0].Tag() == "required" {
		code = errors.CodeMissingField
	}
	return errors.ValidationError(code, strings.Join(fields, ","), nil,
		fmt.Errorf("%s", strings.Join(details, "; "))).
		WithContext("fields", problems)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "numeric":
		return "must be a decimal number"
	case "datetime":
		return fmt.Sprintf("must match layout %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("failed %s", fe.Tag())
	}
}

// jsonName converts a Go field name such as SplitPct into split_pct
func jsonName(field string) string {
	var b strings.Builder
	runes := []rune(field)
	for i, r := range runes {
		upper := r >= 'A' && r <= 'Z'
		if upper && i > 0 {
			prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
			nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
			if prevLower || nextLower {
				b.WriteByte('_')
			}
		}
		if upper {
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// toSplitRule converts a validated request into a rule
func (r SplitRuleRequest) toSplitRule() (models.SplitRule, error) {
	rule := models.SplitRule{
		RuleID:     strings.TrimSpace(r.RuleID),
		ProducerID: strings.TrimSpace(r.ProducerID),
		Carrier:    strings.TrimSpace(r.Carrier),
		LOB:        strings.TrimSpace(r.LOB),
		FeeType:    models.FeePercentage,
		FeeAmount:  decimal.Zero,
		Note:       r.Note,
	}

	split, err := decimal.NewFromString(r.SplitPct)
	if err != nil {
		return rule, errors.ValidationError(errors.CodeInvalidAmount, "split_pct", r.SplitPct, err)
	}
	rule.SplitPct = split
	rule.HousePct = hundred.Sub(split)
	if r.HousePct != "" {
		house, err := decimal.NewFromString(r.HousePct)
		if err != nil {
			return rule, errors.ValidationError(errors.CodeInvalidAmount, "house_pct", r.HousePct, err)
		}
		rule.HousePct = house
	}
	if r.FeeType != "" {
		rule.FeeType = models.FeeType(r.FeeType)
	}
	if r.FeeAmount != "" {
		fee, err := decimal.NewFromString(r.FeeAmount)
		if err != nil {
			return rule, errors.ValidationError(errors.CodeInvalidAmount, "fee_amount", r.FeeAmount, err)
		}
		rule.FeeAmount = fee
	}
	if rule.EffectiveFrom, err = optionalDate("effective_from", r.EffectiveFrom); err != nil {
		return rule, err
	}
	if rule.EffectiveTo, err = optionalDate("effective_to", r.EffectiveTo); err != nil {
		return rule, err
	}

	if err := rule.Validate(); err != nil {
		return rule, errors.ValidationError(errors.CodeOutOfRange, "split_rule", rule.ProducerID, err)
	}
	return rule, nil
}

// toAdjustment converts a validated request into an adjustment
func (r AdjustmentRequest) toAdjustment() (models.Adjustment, error) {
	adj := models.Adjustment{
		AdjID:       strings.TrimSpace(r.AdjID),
		ProducerID:  strings.TrimSpace(r.ProducerID),
		AdjType:     models.AdjustmentType(r.AdjType),
		Description: r.Description,
		Period:      r.Period,
		Status:      models.AdjustmentPending,
	}
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return adj, errors.ValidationError(errors.CodeInvalidAmount, "amount", r.Amount, err)
	}
	adj.Amount = amount
	if r.Status != "" {
		adj.Status = models.AdjustmentStatus(r.Status)
	}
	if err := adj.Validate(); err != nil {
		return adj, errors.ValidationError(errors.CodeNotAllowed, "amount", r.Amount, err).
			WithSuggestion("clawback_offset, chargeback, draw_advance and fee_deduction amounts must be zero or negative")
	}
	return adj, nil
}

func optionalDate(field, value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseDate(value)
	if err != nil {
		return time.Time{}, errors.ValidationError(errors.CodeInvalidDate, field, value, err)
	}
	return t, nil
}
