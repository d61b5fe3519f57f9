package parsers

import (
	"fmt"
	"strings"
)

// Canonical column names of the three input files
const (
	ColCarrierName     = "carrier_name"
	ColStatementID     = "statement_id"
	ColLineID          = "line_id"
	ColPolicyNumber    = "policy_number"
	ColInsuredName     = "insured_name"
	ColEffectiveDate   = "effective_date"
	ColTxnDate         = "txn_date"
	ColWrittenPremium  = "written_premium"
	ColGrossCommission = "gross_commission"
	ColTxnType         = "txn_type"

	ColBankTxnID    = "bank_txn_id"
	ColPostedDate   = "posted_date"
	ColAmount       = "amount"
	ColCounterparty = "counterparty"
	ColMemo         = "memo"
	ColReference    = "reference"

	ColProducerID         = "producer_id"
	ColOffice             = "office"
	ColLOB                = "lob"
	ColExpectedCommission = "expected_commission"
)

// Schema describes the header contract of one input file
type Schema struct {
	Name     string            `json:"name"`
	Key      string            `json:"key"`
	Required []string          `json:"required"`
	Aliases  map[string]string `json:"aliases,omitempty"`
}

// Validate checks if the schema is usable
func (s *Schema) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("schema name cannot be empty")
	}
	if len(s.Required) == 0 {
		return fmt.Errorf("schema %s requires at least one column", s.Name)
	}
	for alias, canonical := range s.Aliases {
		if alias == canonical {
			return fmt.Errorf("schema %s aliases %s to itself", s.Name, alias)
		}
	}
	return nil
}

// StatementSchema is the carrier statement extract
func StatementSchema() *Schema {
	return &Schema{
		Name: "statement_lines",
		Key:  ColLineID,
		Required: []string{
			ColCarrierName, ColStatementID, ColLineID, ColPolicyNumber, ColInsuredName,
			ColEffectiveDate, ColTxnDate, ColWrittenPremium, ColGrossCommission, ColTxnType,
		},
		Aliases: map[string]string{
			"carrier":          ColCarrierName,
			"policy":           ColPolicyNumber,
			"policy_no":        ColPolicyNumber,
			"insured":          ColInsuredName,
			"premium":          ColWrittenPremium,
			"commission":       ColGrossCommission,
			"transaction_type": ColTxnType,
		},
	}
}

// BankSchema is the bank cash feed
func BankSchema() *Schema {
	return &Schema{
		Name:     "bank_feed",
		Key:      ColBankTxnID,
		Required: []string{ColBankTxnID, ColPostedDate, ColAmount, ColCounterparty, ColMemo, ColReference},
		Aliases: map[string]string{
			"transaction_id": ColBankTxnID,
			"date":           ColPostedDate,
			"payer":          ColCounterparty,
			"description":    ColMemo,
		},
	}
}

// ExpectedSchema is the AMS expected-commission extract
func ExpectedSchema() *Schema {
	return &Schema{
		Name: "expected",
		Key:  ColPolicyNumber,
		Required: []string{
			ColPolicyNumber, ColProducerID, ColOffice, ColLOB, ColExpectedCommission, ColEffectiveDate,
		},
		Aliases: map[string]string{
			"policy":           ColPolicyNumber,
			"producer":         ColProducerID,
			"line_of_business": ColLOB,
			"expected":         ColExpectedCommission,
		},
	}
}
