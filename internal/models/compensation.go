package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FeeType says how a split rule's fee is charged against the producer share
type FeeType string

const (
	FeePercentage FeeType = "percentage"
	FeeFlat       FeeType = "flat"
)

// IsValid checks if the fee type is one of the supported values
func (f FeeType) IsValid() bool {
	switch f {
	case FeePercentage, FeeFlat:
		return true
	default:
		return false
	}
}

// SplitRule divides gross commission between a producer and the house
type SplitRule struct {
	RuleID        string          `json:"rule_id"`
	ProducerID    string          `json:"producer_id"`
	Carrier       string          `json:"carrier,omitempty"`
	LOB           string          `json:"lob,omitempty"`
	SplitPct      decimal.Decimal `json:"split_pct"`
	HousePct      decimal.Decimal `json:"house_pct"`
	FeeType       FeeType         `json:"fee_type"`
	FeeAmount     decimal.Decimal `json:"fee_amount"`
	EffectiveFrom time.Time       `json:"effective_from"`
	EffectiveTo   time.Time       `json:"effective_to,omitempty"`
	Note          string          `json:"note,omitempty"`
	Version       int             `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks the rule's internal consistency
func (r *SplitRule) Validate() error {
	if strings.TrimSpace(r.ProducerID) == "" {
		return fmt.Errorf("producer_id cannot be empty")
	}
	if r.SplitPct.IsNegative() || r.SplitPct.GreaterThan(hundred) {
		return fmt.Errorf("split_pct must be between 0 and 100: %s", r.SplitPct)
	}
	if r.HousePct.IsNegative() || r.HousePct.GreaterThan(hundred) {
		return fmt.Errorf("house_pct must be between 0 and 100: %s", r.HousePct)
	}
	if !r.SplitPct.Add(r.HousePct).Equal(hundred) {
		return fmt.Errorf("split_pct + house_pct must equal 100, got %s", r.SplitPct.Add(r.HousePct))
	}
	if !r.FeeType.IsValid() {
		return fmt.Errorf("invalid fee_type: %s", r.FeeType)
	}
	if r.FeeAmount.IsNegative() {
		return fmt.Errorf("fee_amount cannot be negative: %s", r.FeeAmount)
	}
	if r.FeeType == FeePercentage && r.FeeAmount.GreaterThan(hundred) {
		return fmt.Errorf("percentage fee cannot exceed 100: %s", r.FeeAmount)
	}
	if !r.EffectiveTo.IsZero() && r.EffectiveTo.Before(r.EffectiveFrom) {
		return fmt.Errorf("effective_to %s is before effective_from %s",
			FormatDate(r.EffectiveTo), FormatDate(r.EffectiveFrom))
	}
	return nil
}

// Specificity ranks rule scopes: carrier+lob 3, carrier 2, lob 1, producer default 0
func (r *SplitRule) Specificity() int {
	switch {
	case r.Carrier != "" && r.LOB != "":
		return 3
	case r.Carrier != "":
		return 2
	case r.LOB != "":
		return 1
	default:
		return 0
	}
}

// ActiveOn reports whether the rule's effective window covers date
func (r *SplitRule) ActiveOn(date time.Time) bool {
	if !r.EffectiveFrom.IsZero() && date.Before(r.EffectiveFrom) {
		return false
	}
	if !r.EffectiveTo.IsZero() && date.After(r.EffectiveTo) {
		return false
	}
	return true
}

// Covers reports whether the rule's scope includes the producer, carrier and lob
func (r *SplitRule) Covers(producerID, carrier, lob string) bool {
	if r.ProducerID != producerID {
		return false
	}
	if r.Carrier != "" && !strings.EqualFold(r.Carrier, carrier) {
		return false
	}
	if r.LOB != "" && !strings.EqualFold(r.LOB, lob) {
		return false
	}
	return true
}

// ChangeType classifies a rule mutation
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// RuleVersion is one append-only entry in a rule's change history
type RuleVersion struct {
	VersionID  uint       `json:"version_id"`
	RuleType   string     `json:"rule_type"`
	RuleID     string     `json:"rule_id"`
	Version    int        `json:"version"`
	ChangeType ChangeType `json:"change_type"`
	Actor      string     `json:"actor"`
	ChangedAt  time.Time  `json:"changed_at"`
	Before     string     `json:"before,omitempty"`
	After      string     `json:"after,omitempty"`
}

// AdjustmentType is the kind of payout adjustment
type AdjustmentType string

const (
	AdjClawbackOffset AdjustmentType = "clawback_offset"
	AdjChargeback     AdjustmentType = "chargeback"
	AdjDrawAdvance    AdjustmentType = "draw_advance"
	AdjDrawRepayment  AdjustmentType = "draw_repayment"
	AdjBonus          AdjustmentType = "bonus"
	AdjFeeDeduction   AdjustmentType = "fee_deduction"
)

// IsValid checks if the adjustment type is one of the supported values
func (t AdjustmentType) IsValid() bool {
	switch t {
	case AdjClawbackOffset, AdjChargeback, AdjDrawAdvance, AdjDrawRepayment, AdjBonus, AdjFeeDeduction:
		return true
	default:
		return false
	}
}

// DebitOnly reports whether amounts of this type must be zero or negative
func (t AdjustmentType) DebitOnly() bool {
	switch t {
	case AdjClawbackOffset, AdjChargeback, AdjDrawAdvance, AdjFeeDeduction:
		return true
	case AdjDrawRepayment, AdjBonus:
		return false
	default:
		return false
	}
}

// AdjustmentStatus is whether an adjustment has been applied to a payout
type AdjustmentStatus string

const (
	AdjustmentPending AdjustmentStatus = "pending"
	AdjustmentApplied AdjustmentStatus = "applied"
)

// IsValid checks if the status is one of the supported values
func (s AdjustmentStatus) IsValid() bool {
	return s == AdjustmentPending || s == AdjustmentApplied
}

// Adjustment is a signed amount netted against a producer's payout
type Adjustment struct {
	AdjID       string           `json:"adj_id"`
	ProducerID  string           `json:"producer_id"`
	AdjType     AdjustmentType   `json:"adj_type"`
	Amount      decimal.Decimal  `json:"amount"`
	Description string           `json:"description,omitempty"`
	Period      string           `json:"period,omitempty"`
	Status      AdjustmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Validate checks type, status and sign rules
func (a *Adjustment) Validate() error {
	if strings.TrimSpace(a.ProducerID) == "" {
		return fmt.Errorf("producer_id cannot be empty")
	}
	if !a.AdjType.IsValid() {
		return fmt.Errorf("invalid adj_type: %s", a.AdjType)
	}
	if !a.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", a.Status)
	}
	if a.AdjType.DebitOnly() && a.Amount.IsPositive() {
		return fmt.Errorf("%s adjustments must be negative, got %s", a.AdjType, a.Amount)
	}
	return nil
}
