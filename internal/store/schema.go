package store

import (
	"encoding/json"
	"time"

	"commission-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Money columns are stored as TEXT so decimals round-trip exactly.

type statementLineRow struct {
	LineID          string          `gorm:"primaryKey"`
	StatementID     string          `gorm:"index"`
	CarrierName     string          `gorm:"index"`
	PolicyNumber    string          `gorm:"index"`
	InsuredName     string
	EffectiveDate   time.Time
	TxnDate         time.Time
	WrittenPremium  decimal.Decimal `gorm:"type:text"`
	GrossCommission decimal.Decimal `gorm:"type:text"`
	TxnType         string
	IngestedAt      time.Time
}

func (statementLineRow) TableName() string { return "statement_lines" }

func newStatementLineRow(l models.StatementLine, now time.Time) statementLineRow {
	return statementLineRow{
		LineID:          l.LineID,
		StatementID:     l.StatementID,
		CarrierName:     l.CarrierName,
		PolicyNumber:    l.PolicyNumber,
		InsuredName:     l.InsuredName,
		EffectiveDate:   l.EffectiveDate,
		TxnDate:         l.TxnDate,
		WrittenPremium:  l.WrittenPremium,
		GrossCommission: l.GrossCommission,
		TxnType:         string(l.TxnType),
		IngestedAt:      now,
	}
}

func (r statementLineRow) model() models.StatementLine {
	return models.StatementLine{
		LineID:          r.LineID,
		StatementID:     r.StatementID,
		CarrierName:     r.CarrierName,
		PolicyNumber:    r.PolicyNumber,
		InsuredName:     r.InsuredName,
		EffectiveDate:   r.EffectiveDate.UTC(),
		TxnDate:         r.TxnDate.UTC(),
		WrittenPremium:  r.WrittenPremium,
		GrossCommission: r.GrossCommission,
		TxnType:         models.TxnType(r.TxnType),
	}
}

type bankTxnRow struct {
	BankTxnID    string          `gorm:"primaryKey"`
	PostedDate   time.Time       `gorm:"index"`
	Amount       decimal.Decimal `gorm:"type:text"`
	Counterparty string
	Memo         string
	Reference    string
	IngestedAt   time.Time
}

func (bankTxnRow) TableName() string { return "bank_transactions" }

func newBankTxnRow(t models.BankTransaction, now time.Time) bankTxnRow {
	return bankTxnRow{
		BankTxnID:    t.BankTxnID,
		PostedDate:   t.PostedDate,
		Amount:       t.Amount,
		Counterparty: t.Counterparty,
		Memo:         t.Memo,
		Reference:    t.Reference,
		IngestedAt:   now,
	}
}

func (r bankTxnRow) model() models.BankTransaction {
	return models.BankTransaction{
		BankTxnID:    r.BankTxnID,
		PostedDate:   r.PostedDate.UTC(),
		Amount:       r.Amount,
		Counterparty: r.Counterparty,
		Memo:         r.Memo,
		Reference:    r.Reference,
	}
}

type expectedRow struct {
	PolicyNumber       string `gorm:"primaryKey"`
	EffectiveDate      string `gorm:"primaryKey"`
	ProducerID         string `gorm:"index"`
	Office             string
	LOB                string
	ExpectedCommission decimal.Decimal `gorm:"type:text"`
	IngestedAt         time.Time
}

func (expectedRow) TableName() string { return "expected_commissions" }

func newExpectedRow(e models.ExpectedCommission, now time.Time) expectedRow {
	return expectedRow{
		PolicyNumber:       e.PolicyNumber,
		EffectiveDate:      models.FormatDate(e.EffectiveDate),
		ProducerID:         e.ProducerID,
		Office:             e.Office,
		LOB:                e.LOB,
		ExpectedCommission: e.ExpectedCommission,
		IngestedAt:         now,
	}
}

func (r expectedRow) model() models.ExpectedCommission {
	effective, _ := models.ParseDate(r.EffectiveDate)
	return models.ExpectedCommission{
		PolicyNumber:       r.PolicyNumber,
		ProducerID:         r.ProducerID,
		Office:             r.Office,
		LOB:                r.LOB,
		ExpectedCommission: r.ExpectedCommission,
		EffectiveDate:      effective,
	}
}

type runRow struct {
	RunID       string `gorm:"primaryKey"`
	Seq         int64  `gorm:"uniqueIndex"`
	CreatedAt   time.Time
	Actor       string
	TotalLines  int
	AutoMatched int
	NeedsReview int
	Unmatched   int
	RulesUsed   int
	Config      string
}

func (runRow) TableName() string { return "match_runs" }

func newRunRow(r *models.MatchRun) runRow {
	return runRow{
		RunID:       r.RunID,
		Seq:         r.Seq,
		CreatedAt:   r.CreatedAt,
		Actor:       r.Actor,
		TotalLines:  r.TotalLines,
		AutoMatched: r.AutoMatched,
		NeedsReview: r.NeedsReview,
		Unmatched:   r.Unmatched,
		RulesUsed:   r.RulesUsed,
		Config:      r.Config,
	}
}

func (r runRow) model() models.MatchRun {
	return models.MatchRun{
		RunID:       r.RunID,
		Seq:         r.Seq,
		CreatedAt:   r.CreatedAt.UTC(),
		Actor:       r.Actor,
		TotalLines:  r.TotalLines,
		AutoMatched: r.AutoMatched,
		NeedsReview: r.NeedsReview,
		Unmatched:   r.Unmatched,
		RulesUsed:   r.RulesUsed,
		Config:      r.Config,
	}
}

type resultRow struct {
	RunID               string `gorm:"primaryKey"`
	LineID              string `gorm:"primaryKey"`
	PolicyNumber        string
	AppliedPolicyNumber string
	CarrierName         string `gorm:"index"`
	MatchedBankTxnID    string
	Confidence          float64
	Status              string `gorm:"index"`
	Reason              string
	Factors             string
	Deterministic       bool
	AmountDiff          decimal.Decimal `gorm:"type:text"`
}

func (resultRow) TableName() string { return "match_results" }

func newResultRow(r models.MatchResult) (resultRow, error) {
	factors, err := json.Marshal(r.Factors)
	if err != nil {
		return resultRow{}, err
	}
	return resultRow{
		RunID:               r.RunID,
		LineID:              r.LineID,
		PolicyNumber:        r.PolicyNumber,
		AppliedPolicyNumber: r.AppliedPolicyNumber,
		CarrierName:         r.CarrierName,
		MatchedBankTxnID:    r.MatchedBankTxnID,
		Confidence:          r.Confidence,
		Status:              string(r.Status),
		Reason:              r.Reason,
		Factors:             string(factors),
		Deterministic:       r.Deterministic,
		AmountDiff:          r.AmountDiff,
	}, nil
}

func (r resultRow) model() (models.MatchResult, error) {
	var factors []models.ScoreFactor
	if r.Factors != "" {
		if err := json.Unmarshal([]byte(r.Factors), &factors); err != nil {
			return models.MatchResult{}, err
		}
	}
	return models.MatchResult{
		RunID:               r.RunID,
		LineID:              r.LineID,
		PolicyNumber:        r.PolicyNumber,
		AppliedPolicyNumber: r.AppliedPolicyNumber,
		CarrierName:         r.CarrierName,
		MatchedBankTxnID:    r.MatchedBankTxnID,
		Confidence:          r.Confidence,
		Status:              models.MatchStatus(r.Status),
		Reason:              r.Reason,
		Factors:             factors,
		Deterministic:       r.Deterministic,
		AmountDiff:          r.AmountDiff,
	}, nil
}

type exceptionRow struct {
	RunID              string `gorm:"primaryKey"`
	LineID             string `gorm:"primaryKey;index"`
	Status             string `gorm:"index"`
	Confidence         float64
	Reason             string
	SuggestedBankTxnID string
	ResolutionAction   string
	ResolvedBankTxnID  string
	ResolutionNote     string
	ResolvedAt         *time.Time
	CarriedFromRunID   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (exceptionRow) TableName() string { return "exceptions" }

func newExceptionRow(e models.Exception) exceptionRow {
	return exceptionRow{
		RunID:              e.RunID,
		LineID:             e.LineID,
		Status:             string(e.Status),
		Confidence:         e.Confidence,
		Reason:             e.Reason,
		SuggestedBankTxnID: e.SuggestedBankTxnID,
		ResolutionAction:   string(e.ResolutionAction),
		ResolvedBankTxnID:  e.ResolvedBankTxnID,
		ResolutionNote:     e.ResolutionNote,
		ResolvedAt:         e.ResolvedAt,
		CarriedFromRunID:   e.CarriedFromRunID,
		CreatedAt:          e.CreatedAt,
		UpdatedAt:          e.UpdatedAt,
	}
}

func (r exceptionRow) model() models.Exception {
	var resolvedAt *time.Time
	if r.ResolvedAt != nil {
		t := r.ResolvedAt.UTC()
		resolvedAt = &t
	}
	return models.Exception{
		RunID:              r.RunID,
		LineID:             r.LineID,
		Status:             models.ExceptionStatus(r.Status),
		Confidence:         r.Confidence,
		Reason:             r.Reason,
		SuggestedBankTxnID: r.SuggestedBankTxnID,
		ResolutionAction:   models.ResolutionAction(r.ResolutionAction),
		ResolvedBankTxnID:  r.ResolvedBankTxnID,
		ResolutionNote:     r.ResolutionNote,
		ResolvedAt:         resolvedAt,
		CarriedFromRunID:   r.CarriedFromRunID,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type policyRuleRow struct {
	SourcePolicyNumber string `gorm:"primaryKey"`
	TargetPolicyNumber string
	Note               string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (policyRuleRow) TableName() string { return "policy_rules" }

func (r policyRuleRow) model() models.PolicyRule {
	return models.PolicyRule{
		SourcePolicyNumber: r.SourcePolicyNumber,
		TargetPolicyNumber: r.TargetPolicyNumber,
		Note:               r.Note,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type splitRuleRow struct {
	RuleID        string `gorm:"primaryKey"`
	ProducerID    string `gorm:"index"`
	Carrier       string
	LOB           string
	SplitPct      decimal.Decimal `gorm:"type:text"`
	HousePct      decimal.Decimal `gorm:"type:text"`
	FeeType       string
	FeeAmount     decimal.Decimal `gorm:"type:text"`
	EffectiveFrom time.Time
	EffectiveTo   time.Time
	Note          string
	Version       int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

func (splitRuleRow) TableName() string { return "split_rules" }

func newSplitRuleRow(r models.SplitRule) splitRuleRow {
	return splitRuleRow{
		RuleID:        r.RuleID,
		ProducerID:    r.ProducerID,
		Carrier:       r.Carrier,
		LOB:           r.LOB,
		SplitPct:      r.SplitPct,
		HousePct:      r.HousePct,
		FeeType:       string(r.FeeType),
		FeeAmount:     r.FeeAmount,
		EffectiveFrom: r.EffectiveFrom,
		EffectiveTo:   r.EffectiveTo,
		Note:          r.Note,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

func (r splitRuleRow) model() models.SplitRule {
	return models.SplitRule{
		RuleID:        r.RuleID,
		ProducerID:    r.ProducerID,
		Carrier:       r.Carrier,
		LOB:           r.LOB,
		SplitPct:      r.SplitPct,
		HousePct:      r.HousePct,
		FeeType:       models.FeeType(r.FeeType),
		FeeAmount:     r.FeeAmount,
		EffectiveFrom: r.EffectiveFrom.UTC(),
		EffectiveTo:   r.EffectiveTo.UTC(),
		Note:          r.Note,
		Version:       r.Version,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
}

type ruleVersionRow struct {
	VersionID  uint   `gorm:"primaryKey;autoIncrement"`
	RuleType   string `gorm:"index:idx_rule_versions_rule"`
	RuleID     string `gorm:"index:idx_rule_versions_rule"`
	Version    int
	ChangeType string
	Actor      string
	ChangedAt  time.Time
	Before     string
	After      string
}

func (ruleVersionRow) TableName() string { return "rule_versions" }

func (r ruleVersionRow) model() models.RuleVersion {
	return models.RuleVersion{
		VersionID:  r.VersionID,
		RuleType:   r.RuleType,
		RuleID:     r.RuleID,
		Version:    r.Version,
		ChangeType: models.ChangeType(r.ChangeType),
		Actor:      r.Actor,
		ChangedAt:  r.ChangedAt.UTC(),
		Before:     r.Before,
		After:      r.After,
	}
}

type adjustmentRow struct {
	AdjID       string `gorm:"primaryKey"`
	ProducerID  string `gorm:"index"`
	AdjType     string
	Amount      decimal.Decimal `gorm:"type:text"`
	Description string
	Period      string
	Status      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (adjustmentRow) TableName() string { return "adjustments" }

func newAdjustmentRow(a models.Adjustment) adjustmentRow {
	return adjustmentRow{
		AdjID:       a.AdjID,
		ProducerID:  a.ProducerID,
		AdjType:     string(a.AdjType),
		Amount:      a.Amount,
		Description: a.Description,
		Period:      a.Period,
		Status:      string(a.Status),
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (r adjustmentRow) model() models.Adjustment {
	return models.Adjustment{
		AdjID:       r.AdjID,
		ProducerID:  r.ProducerID,
		AdjType:     models.AdjustmentType(r.AdjType),
		Amount:      r.Amount,
		Description: r.Description,
		Period:      r.Period,
		Status:      models.AdjustmentStatus(r.Status),
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type auditRow struct {
	EventID    uint   `gorm:"primaryKey;autoIncrement"`
	EventType  string `gorm:"index"`
	EntityType string `gorm:"index:idx_audit_entity"`
	EntityID   string `gorm:"index:idx_audit_entity"`
	Action     string
	OldValue   string
	NewValue   string
	Actor      string
	Detail     string
	Timestamp  time.Time
}

func (auditRow) TableName() string { return "audit_events" }

func (r auditRow) model() models.AuditEvent {
	return models.AuditEvent{
		EventID:    r.EventID,
		EventType:  r.EventType,
		EntityType: r.EntityType,
		EntityID:   r.EntityID,
		Action:     r.Action,
		OldValue:   r.OldValue,
		NewValue:   r.NewValue,
		Actor:      r.Actor,
		Detail:     r.Detail,
		Timestamp:  r.Timestamp.UTC(),
	}
}

func allTables() []interface{} {
	return []interface{}{
		&statementLineRow{},
		&bankTxnRow{},
		&expectedRow{},
		&runRow{},
		&resultRow{},
		&exceptionRow{},
		&policyRuleRow{},
		&splitRuleRow{},
		&ruleVersionRow{},
		&adjustmentRow{},
		&auditRow{},
	}
}
