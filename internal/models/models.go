// Package models defines the records exchanged between the matching engine,
// the record store and the downstream calculators.
//
// Input records (StatementLine, BankTransaction, ExpectedCommission) are
// immutable once ingested. Categorical fields are closed string enums with an
// IsValid method; consumers switch over every member.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO date format used by every input file
const DateLayout = "2006-01-02"

// ParseDate parses an ISO date into a UTC midnight time
func ParseDate(value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(value))
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// FormatDate renders t as an ISO date, or an empty string for the zero time
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// DaysBetween returns the absolute number of whole days between two dates
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	days := int(da.Sub(db).Hours() / 24)
	if days < 0 {
		return -days
	}
	return days
}

// TxnType is the carrier-reported transaction type of a statement line
type TxnType string

const (
	TxnStandard      TxnType = "standard"
	TxnCancellation  TxnType = "cancellation"
	TxnReinstatement TxnType = "reinstatement"
	TxnClawback      TxnType = "clawback"
	TxnEndorsement   TxnType = "endorsement"
)

// TxnTypes lists every supported transaction type
var TxnTypes = []TxnType{TxnStandard, TxnCancellation, TxnReinstatement, TxnClawback, TxnEndorsement}

// ParseTxnType normalizes and validates a transaction type
func ParseTxnType(value string) (TxnType, error) {
	t := TxnType(strings.ToLower(strings.TrimSpace(value)))
	if !t.IsValid() {
		return "", fmt.Errorf("unknown txn_type %q", value)
	}
	return t, nil
}

// IsValid checks if the transaction type is one of the supported values
func (t TxnType) IsValid() bool {
	switch t {
	case TxnStandard, TxnCancellation, TxnReinstatement, TxnClawback, TxnEndorsement:
		return true
	default:
		return false
	}
}

// IsReversal reports whether lines of this type may carry a negative commission
func (t TxnType) IsReversal() bool {
	switch t {
	case TxnCancellation, TxnClawback:
		return true
	case TxnStandard, TxnReinstatement, TxnEndorsement:
		return false
	default:
		return false
	}
}

// AllowedActions returns the resolution vocabulary for exceptions on lines of this type
func (t TxnType) AllowedActions() []ResolutionAction {
	switch t {
	case TxnClawback:
		return []ResolutionAction{ActionConfirmReversal, ActionDisputeClawback, ActionOffsetOverpayment, ActionWriteOff, ActionDefer}
	case TxnStandard, TxnCancellation, TxnReinstatement, TxnEndorsement:
		return []ResolutionAction{ActionManualLink, ActionWriteOff, ActionDefer}
	default:
		return nil
	}
}

// Allows reports whether action is in the vocabulary for this type
func (t TxnType) Allows(action ResolutionAction) bool {
	for _, a := range t.AllowedActions() {
		if a == action {
			return true
		}
	}
	return false
}

// StatementLine is one row of a carrier commission statement
type StatementLine struct {
	LineID          string          `json:"line_id"`
	StatementID     string          `json:"statement_id"`
	CarrierName     string          `json:"carrier_name"`
	PolicyNumber    string          `json:"policy_number"`
	InsuredName     string          `json:"insured_name"`
	TxnType         TxnType         `json:"txn_type"`
	EffectiveDate   time.Time       `json:"effective_date"`
	TxnDate         time.Time       `json:"txn_date"`
	WrittenPremium  decimal.Decimal `json:"written_premium"`
	GrossCommission decimal.Decimal `json:"gross_commission"`
}

// Validate performs basic validation on the StatementLine
func (l *StatementLine) Validate() error {
	if strings.TrimSpace(l.LineID) == "" {
		return fmt.Errorf("line_id cannot be empty")
	}
	if strings.TrimSpace(l.PolicyNumber) == "" {
		return fmt.Errorf("policy_number cannot be empty")
	}
	if strings.TrimSpace(l.CarrierName) == "" {
		return fmt.Errorf("carrier_name cannot be empty")
	}
	if !l.TxnType.IsValid() {
		return fmt.Errorf("invalid txn_type: %s", l.TxnType)
	}
	if l.TxnDate.IsZero() && l.EffectiveDate.IsZero() {
		return fmt.Errorf("line %s needs a txn_date or effective_date", l.LineID)
	}
	if l.TxnType == TxnClawback && !l.GrossCommission.IsNegative() {
		return fmt.Errorf("clawback line %s must carry a negative commission", l.LineID)
	}
	if l.GrossCommission.IsNegative() && !l.TxnType.IsReversal() {
		return fmt.Errorf("%s line %s cannot carry a negative commission", l.TxnType, l.LineID)
	}
	return nil
}

// IsClawback reports whether the line reverses a prior payout
func (l *StatementLine) IsClawback() bool {
	return l.TxnType == TxnClawback
}

// BankTransaction is one row of the bank cash feed
type BankTransaction struct {
	BankTxnID    string          `json:"bank_txn_id"`
	PostedDate   time.Time       `json:"posted_date"`
	Amount       decimal.Decimal `json:"amount"`
	Counterparty string          `json:"counterparty"`
	Memo         string          `json:"memo"`
	Reference    string          `json:"reference"`
}

// Validate performs basic validation on the BankTransaction
func (b *BankTransaction) Validate() error {
	if strings.TrimSpace(b.BankTxnID) == "" {
		return fmt.Errorf("bank_txn_id cannot be empty")
	}
	if b.PostedDate.IsZero() {
		return fmt.Errorf("posted_date cannot be zero for %s", b.BankTxnID)
	}
	return nil
}

// SearchText returns the memo and reference joined for policy-number lookups
func (b *BankTransaction) SearchText() string {
	return strings.TrimSpace(b.Memo + " " + b.Reference)
}

// ExpectedCommission is the AMS reference row for a policy
type ExpectedCommission struct {
	PolicyNumber       string          `json:"policy_number"`
	ProducerID         string          `json:"producer_id"`
	Office             string          `json:"office"`
	LOB                string          `json:"lob"`
	ExpectedCommission decimal.Decimal `json:"expected_commission"`
	EffectiveDate      time.Time       `json:"effective_date"`
}

// Validate performs basic validation on the ExpectedCommission
func (e *ExpectedCommission) Validate() error {
	if strings.TrimSpace(e.PolicyNumber) == "" {
		return fmt.Errorf("policy_number cannot be empty")
	}
	if strings.TrimSpace(e.ProducerID) == "" {
		return fmt.Errorf("producer_id cannot be empty for policy %s", e.PolicyNumber)
	}
	return nil
}

// InputSnapshot is the read-only input set a match run is computed from
type InputSnapshot struct {
	Lines       []StatementLine
	BankTxns    []BankTransaction
	Expected    []ExpectedCommission
	PolicyRules []PolicyRule
	// Reserved maps bank transactions already linked to a line by an earlier
	// review to that line. Only the owning line may be matched to them.
	Reserved map[string]string
}
