package store

import (
	stderrors "errors"
	"fmt"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Rule types recorded in the version log
const (
	RuleTypeSplit  = "split_rule"
	RuleTypePolicy = "policy_rule"
)

// PolicyRules lists policy rules ordered by source policy number
func (tx *Tx) PolicyRules() ([]models.PolicyRule, error) {
	var rows []policyRuleRow
	if err := tx.db.Order("source_policy_number").Find(&rows).Error; err != nil {
		return nil, queryError("list policy rules", err)
	}
	rules := make([]models.PolicyRule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, r.model())
	}
	return rules, nil
}

// PolicyRule returns the rule for a source policy number, or nil when none exists
func (tx *Tx) PolicyRule(source string) (*models.PolicyRule, error) {
	var row policyRuleRow
	err := tx.db.Where("source_policy_number = ?", models.NormalizePolicy(source)).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, queryError("get policy rule", err)
	}
	rule := row.model()
	return &rule, nil
}

// UpsertPolicyRule creates or replaces the mapping for the rule's source policy.
// It returns the previous rule, or nil when the rule is new.
func (tx *Tx) UpsertPolicyRule(rule models.PolicyRule, now time.Time) (*models.PolicyRule, error) {
	previous, err := tx.PolicyRule(rule.SourcePolicyNumber)
	if err != nil {
		return nil, err
	}

	row := policyRuleRow{
		SourcePolicyNumber: models.NormalizePolicy(rule.SourcePolicyNumber),
		TargetPolicyNumber: models.NormalizePolicy(rule.TargetPolicyNumber),
		Note:               rule.Note,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err = tx.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_policy_number"}},
		DoUpdates: clause.AssignmentColumns([]string{"target_policy_number", "note", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return nil, queryError("upsert policy rule", err)
	}
	return previous, nil
}

// SplitRules lists split rules ordered by producer and rule id
func (tx *Tx) SplitRules(includeDeleted bool) ([]models.SplitRule, error) {
	query := tx.db
	if includeDeleted {
		query = query.Unscoped()
	}
	var rows []splitRuleRow
	if err := query.Order("producer_id, rule_id").Find(&rows).Error; err != nil {
		return nil, queryError("list split rules", err)
	}
	rules := make([]models.SplitRule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, r.model())
	}
	return rules, nil
}

// SplitRule returns one live split rule
func (tx *Tx) SplitRule(ruleID string) (*models.SplitRule, error) {
	var row splitRuleRow
	err := tx.db.Where("rule_id = ?", ruleID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError(errors.CodeUnknownRule, "split rule", ruleID)
	}
	if err != nil {
		return nil, queryError("get split rule", err)
	}
	rule := row.model()
	return &rule, nil
}

// InsertSplitRule stores a new rule at version 1
func (tx *Tx) InsertSplitRule(rule *models.SplitRule, now time.Time) error {
	rule.Version = 1
	rule.CreatedAt, rule.UpdatedAt = now, now
	row := newSplitRuleRow(*rule)
	if err := tx.db.Create(&row).Error; err != nil {
		return queryError("insert split rule", err)
	}
	return nil
}

// UpdateSplitRule replaces a rule provided it is still at expectedVersion.
// The rule's version is bumped on success.
func (tx *Tx) UpdateSplitRule(rule *models.SplitRule, expectedVersion int, now time.Time) error {
	result := tx.db.Model(&splitRuleRow{}).
		Where("rule_id = ? AND version = ?", rule.RuleID, expectedVersion).
		Updates(map[string]interface{}{
			"producer_id":    rule.ProducerID,
			"carrier":        rule.Carrier,
			"lob":            rule.LOB,
			"split_pct":      rule.SplitPct,
			"house_pct":      rule.HousePct,
			"fee_type":       string(rule.FeeType),
			"fee_amount":     rule.FeeAmount,
			"effective_from": rule.EffectiveFrom,
			"effective_to":   rule.EffectiveTo,
			"note":           rule.Note,
			"version":        expectedVersion + 1,
			"updated_at":     now,
		})
	if result.Error != nil {
		return queryError("update split rule", result.Error)
	}
	if result.RowsAffected == 0 {
		return tx.staleSplitRule(rule.RuleID, expectedVersion)
	}
	rule.Version = expectedVersion + 1
	rule.UpdatedAt = now
	return nil
}

// DeleteSplitRule soft-deletes a rule provided it is still at expectedVersion
func (tx *Tx) DeleteSplitRule(ruleID string, expectedVersion int, now time.Time) error {
	result := tx.db.Model(&splitRuleRow{}).
		Where("rule_id = ? AND version = ?", ruleID, expectedVersion).
		Updates(map[string]interface{}{
			"version":    expectedVersion + 1,
			"updated_at": now,
			"deleted_at": now,
		})
	if result.Error != nil {
		return queryError("delete split rule", result.Error)
	}
	if result.RowsAffected == 0 {
		return tx.staleSplitRule(ruleID, expectedVersion)
	}
	return nil
}

func (tx *Tx) staleSplitRule(ruleID string, expectedVersion int) error {
	current, err := tx.SplitRule(ruleID)
	if err != nil {
		return err
	}
	return errors.ConflictError(errors.CodeStaleVersion, "split rule", ruleID,
		fmt.Sprintf("expected version %d, current version is %d", expectedVersion, current.Version))
}

// AppendRuleVersion appends one entry to a rule's change history
func (tx *Tx) AppendRuleVersion(version models.RuleVersion) error {
	row := ruleVersionRow{
		RuleType:   version.RuleType,
		RuleID:     version.RuleID,
		Version:    version.Version,
		ChangeType: string(version.ChangeType),
		Actor:      version.Actor,
		ChangedAt:  version.ChangedAt,
		Before:     version.Before,
		After:      version.After,
	}
	if err := tx.db.Create(&row).Error; err != nil {
		return queryError("append rule version", err)
	}
	return nil
}

// RuleVersions returns a rule's change history, oldest first
func (tx *Tx) RuleVersions(ruleType, ruleID string) ([]models.RuleVersion, error) {
	var rows []ruleVersionRow
	err := tx.db.Where("rule_type = ? AND rule_id = ?", ruleType, ruleID).
		Order("version_id").
		Find(&rows).Error
	if err != nil {
		return nil, queryError("list rule versions", err)
	}
	versions := make([]models.RuleVersion, 0, len(rows))
	for _, r := range rows {
		versions = append(versions, r.model())
	}
	return versions, nil
}
