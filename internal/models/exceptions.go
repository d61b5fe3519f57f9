package models

import (
	"fmt"
	"strings"
	"time"
)

// ExceptionStatus is the lifecycle state of an exception
type ExceptionStatus string

const (
	ExceptionOpen     ExceptionStatus = "open"
	ExceptionDeferred ExceptionStatus = "deferred"
	ExceptionResolved ExceptionStatus = "resolved"
)

// IsValid checks if the status is one of the supported values
func (s ExceptionStatus) IsValid() bool {
	switch s {
	case ExceptionOpen, ExceptionDeferred, ExceptionResolved:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible
func (s ExceptionStatus) IsTerminal() bool {
	switch s {
	case ExceptionResolved:
		return true
	case ExceptionOpen, ExceptionDeferred:
		return false
	default:
		return false
	}
}

// ResolutionAction is what a reviewer decided for an exception
type ResolutionAction string

const (
	ActionManualLink        ResolutionAction = "manual_link"
	ActionWriteOff          ResolutionAction = "write_off"
	ActionDefer             ResolutionAction = "defer"
	ActionConfirmReversal   ResolutionAction = "confirm_reversal"
	ActionDisputeClawback   ResolutionAction = "dispute_clawback"
	ActionOffsetOverpayment ResolutionAction = "offset_overpayment"
)

// ParseResolutionAction validates an action name
func ParseResolutionAction(value string) (ResolutionAction, error) {
	a := ResolutionAction(strings.ToLower(strings.TrimSpace(value)))
	if !a.IsValid() {
		return "", fmt.Errorf("unknown resolution action %q", value)
	}
	return a, nil
}

// IsValid checks if the action is one of the supported values
func (a ResolutionAction) IsValid() bool {
	switch a {
	case ActionManualLink, ActionWriteOff, ActionDefer,
		ActionConfirmReversal, ActionDisputeClawback, ActionOffsetOverpayment:
		return true
	default:
		return false
	}
}

// TargetStatus is the exception status after the action is applied
func (a ResolutionAction) TargetStatus() ExceptionStatus {
	switch a {
	case ActionDefer:
		return ExceptionDeferred
	case ActionManualLink, ActionWriteOff, ActionConfirmReversal, ActionDisputeClawback, ActionOffsetOverpayment:
		return ExceptionResolved
	default:
		return ExceptionOpen
	}
}

// LinksCash reports whether the action ties the line to a bank transaction
func (a ResolutionAction) LinksCash() bool {
	switch a {
	case ActionManualLink, ActionConfirmReversal, ActionOffsetOverpayment:
		return true
	case ActionWriteOff, ActionDefer, ActionDisputeClawback:
		return false
	default:
		return false
	}
}

// RequiresBankTxn reports whether the action cannot be applied without a bank transaction
func (a ResolutionAction) RequiresBankTxn() bool {
	return a == ActionManualLink
}

// Exception is a statement line queued for human review within a run
type Exception struct {
	RunID              string           `json:"run_id"`
	LineID             string           `json:"line_id"`
	Status             ExceptionStatus  `json:"status"`
	Confidence         float64          `json:"confidence"`
	Reason             string           `json:"reason"`
	SuggestedBankTxnID string           `json:"suggested_bank_txn_id,omitempty"`
	ResolutionAction   ResolutionAction `json:"resolution_action,omitempty"`
	ResolvedBankTxnID  string           `json:"resolved_bank_txn_id,omitempty"`
	ResolutionNote     string           `json:"resolution_note,omitempty"`
	ResolvedAt         *time.Time       `json:"resolved_at,omitempty"`
	CarriedFromRunID   string           `json:"carried_from_run_id,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// ExceptionFilter narrows exception listings
type ExceptionFilter struct {
	RunID  string
	Status ExceptionStatus
	LineID string
}

// PolicyRule maps a carrier-reported policy number to the canonical one
type PolicyRule struct {
	SourcePolicyNumber string    `json:"source_policy_number"`
	TargetPolicyNumber string    `json:"target_policy_number"`
	Note               string    `json:"note"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PolicyOverrides indexes rules by source policy number
func PolicyOverrides(rules []PolicyRule) map[string]string {
	overrides := make(map[string]string, len(rules))
	for _, r := range rules {
		overrides[NormalizePolicy(r.SourcePolicyNumber)] = r.TargetPolicyNumber
	}
	return overrides
}

// NormalizePolicy upper-cases and trims a policy number for comparisons
func NormalizePolicy(policy string) string {
	return strings.ToUpper(strings.TrimSpace(policy))
}
