package reconciler

import (
	"context"
	"strings"
	"time"

	"commission-reconciliation-service/internal/audit"
	"commission-reconciliation-service/internal/compensation"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// PolicyRules lists every policy number mapping
func (s *Service) PolicyRules(ctx context.Context) ([]models.PolicyRule, error) {
	var rules []models.PolicyRule
	err := s.store.Read(ctx, "list policy rules", func(tx *store.Tx) error {
		var err error
		rules, err = tx.PolicyRules()
		return err
	})
	return rules, err
}

// SetPolicyRule creates or replaces the mapping for a source policy number
func (s *Service) SetPolicyRule(ctx context.Context, req PolicyRuleRequest) (*models.PolicyRule, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	source := models.NormalizePolicy(req.SourcePolicyNumber)
	target := models.NormalizePolicy(req.TargetPolicyNumber)
	if source == target {
		return nil, errors.ValidationError(errors.CodeInvalidValue, "target_policy_number", req.TargetPolicyNumber,
			nil).WithSuggestion("A policy rule must map to a different policy number")
	}

	rec := s.recorder(req.Actor)
	var rule *models.PolicyRule
	err := s.store.Update(ctx, "set policy rule", func(tx *store.Tx) error {
		var err error
		rule, err = upsertPolicyRule(tx, rec, s.now(), models.PolicyRule{
			SourcePolicyNumber: source,
			TargetPolicyNumber: target,
			Note:               req.Note,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{"source": source, "target": target}).Info("Policy rule saved")
	return rule, nil
}

// upsertPolicyRule writes a policy rule with its version entry and audit event
func upsertPolicyRule(tx *store.Tx, rec audit.Recorder, now time.Time, rule models.PolicyRule) (*models.PolicyRule, error) {
	rule.SourcePolicyNumber = models.NormalizePolicy(rule.SourcePolicyNumber)
	rule.TargetPolicyNumber = models.NormalizePolicy(rule.TargetPolicyNumber)

	previous, err := tx.UpsertPolicyRule(rule, now)
	if err != nil {
		return nil, err
	}

	change := models.ChangeCreated
	rule.CreatedAt = now
	rule.UpdatedAt = now
	var before interface{}
	if previous != nil {
		change = models.ChangeUpdated
		rule.CreatedAt = previous.CreatedAt
		before = previous
	}

	if err := appendVersion(tx, rec, now, store.RuleTypePolicy, rule.SourcePolicyNumber, change, before, rule); err != nil {
		return nil, err
	}
	if err := appendEvent(tx, rec, models.EventPolicyRule, models.EntityPolicyRule, rule.SourcePolicyNumber,
		string(change), before, rule); err != nil {
		return nil, err
	}
	return &rule, nil
}

// appendVersion appends the next entry of a rule's change history
func appendVersion(tx *store.Tx, rec audit.Recorder, now time.Time, ruleType, ruleID string,
	change models.ChangeType, before, after interface{}) error {

	history, err := tx.RuleVersions(ruleType, ruleID)
	if err != nil {
		return err
	}
	beforeJSON, err := audit.Encode(before)
	if err != nil {
		return err
	}
	afterJSON, err := audit.Encode(after)
	if err != nil {
		return err
	}
	return tx.AppendRuleVersion(models.RuleVersion{
		RuleType:   ruleType,
		RuleID:     ruleID,
		Version:    len(history) + 1,
		ChangeType: change,
		Actor:      rec.Actor,
		ChangedAt:  now,
		Before:     beforeJSON,
		After:      afterJSON,
	})
}

// SplitRules lists split rules; deleted rules are included on request
func (s *Service) SplitRules(ctx context.Context, includeDeleted bool) ([]models.SplitRule, error) {
	var rules []models.SplitRule
	err := s.store.Read(ctx, "list split rules", func(tx *store.Tx) error {
		var err error
		rules, err = tx.SplitRules(includeDeleted)
		return err
	})
	return rules, err
}

// CreateSplitRule stores a new split rule at version 1
func (s *Service) CreateSplitRule(ctx context.Context, req SplitRuleRequest) (*models.SplitRule, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	rule, err := req.toSplitRule()
	if err != nil {
		return nil, err
	}
	if rule.RuleID == "" {
		rule.RuleID = newID("SR")
	}

	rec := s.recorder(req.Actor)
	err = s.store.Update(ctx, "create split rule", func(tx *store.Tx) error {
		if existing, err := tx.SplitRule(rule.RuleID); err == nil {
			return errors.ConflictError(errors.CodeDuplicate, "split rule", existing.RuleID, "rule id already exists")
		} else if !errors.IsCategory(err, errors.CategoryNotFound) {
			return err
		}
		now := s.now()
		if err := tx.InsertSplitRule(&rule, now); err != nil {
			return err
		}
		if err := appendVersion(tx, rec, now, store.RuleTypeSplit, rule.RuleID, models.ChangeCreated, nil, rule); err != nil {
			return err
		}
		return appendEvent(tx, rec, models.EventSplitRule, models.EntitySplitRule, rule.RuleID,
			string(models.ChangeCreated), nil, rule)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{
		"rule_id":     rule.RuleID,
		"producer_id": rule.ProducerID,
	}).Info("Split rule created")
	return &rule, nil
}

// UpdateSplitRule replaces a split rule provided its version still equals ExpectedVersion
func (s *Service) UpdateSplitRule(ctx context.Context, req SplitRuleRequest) (*models.SplitRule, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.RuleID) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "rule_id", nil, nil)
	}
	if req.ExpectedVersion <= 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "expected_version", req.ExpectedVersion, nil).
			WithSuggestion("Pass the version the change was based on")
	}
	rule, err := req.toSplitRule()
	if err != nil {
		return nil, err
	}

	rec := s.recorder(req.Actor)
	err = s.store.Update(ctx, "update split rule", func(tx *store.Tx) error {
		before, err := tx.SplitRule(rule.RuleID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.UpdateSplitRule(&rule, req.ExpectedVersion, now); err != nil {
			return err
		}
		rule.CreatedAt = before.CreatedAt
		if err := appendVersion(tx, rec, now, store.RuleTypeSplit, rule.RuleID, models.ChangeUpdated, before, rule); err != nil {
			return err
		}
		return appendEvent(tx, rec, models.EventSplitRule, models.EntitySplitRule, rule.RuleID,
			string(models.ChangeUpdated), before, rule)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{
		"rule_id": rule.RuleID,
		"version": rule.Version,
	}).Info("Split rule updated")
	return &rule, nil
}

// DeleteSplitRule soft-deletes a split rule provided its version still equals ExpectedVersion
func (s *Service) DeleteSplitRule(ctx context.Context, req DeleteSplitRuleRequest) error {
	if err := s.validateRequest(req); err != nil {
		return err
	}

	rec := s.recorder(req.Actor)
	err := s.store.Update(ctx, "delete split rule", func(tx *store.Tx) error {
		before, err := tx.SplitRule(req.RuleID)
		if err != nil {
			return err
		}
		now := s.now()
		if err := tx.DeleteSplitRule(req.RuleID, req.ExpectedVersion, now); err != nil {
			return err
		}
		if err := appendVersion(tx, rec, now, store.RuleTypeSplit, req.RuleID, models.ChangeDeleted, before, nil); err != nil {
			return err
		}
		return appendEvent(tx, rec, models.EventSplitRule, models.EntitySplitRule, req.RuleID,
			string(models.ChangeDeleted), before, nil)
	})
	if err != nil {
		return err
	}
	s.logger.WithField("rule_id", req.RuleID).Info("Split rule deleted")
	return nil
}

// RuleVersions returns the change history of a rule; ruleType is split_rule or policy_rule
func (s *Service) RuleVersions(ctx context.Context, ruleType, ruleID string) ([]models.RuleVersion, error) {
	if ruleType != store.RuleTypeSplit && ruleType != store.RuleTypePolicy {
		return nil, errors.ValidationError(errors.CodeNotAllowed, "rule_type", ruleType, nil).
			WithSuggestion("Use split_rule or policy_rule")
	}
	if ruleType == store.RuleTypePolicy {
		ruleID = models.NormalizePolicy(ruleID)
	}
	var versions []models.RuleVersion
	err := s.store.Read(ctx, "list rule versions", func(tx *store.Tx) error {
		var err error
		versions, err = tx.RuleVersions(ruleType, ruleID)
		return err
	})
	return versions, err
}

// WhatIf recomputes netting for a run with a proposed split rule in place of
// or in addition to the stored rules. Nothing is written.
func (s *Service) WhatIf(ctx context.Context, req WhatIfRequest) (*compensation.WhatIfResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	proposed, err := req.toSplitRule()
	if err != nil {
		return nil, err
	}

	var result *compensation.WhatIfResult
	err = s.store.Read(ctx, "what-if split rule", func(tx *store.Tx) error {
		view, err := loadView(tx, req.RunID)
		if err != nil {
			return err
		}
		rules, err := tx.SplitRules(false)
		if err != nil {
			return err
		}
		adjustments, err := tx.Adjustments("")
		if err != nil {
			return err
		}
		result, err = compensation.WhatIf(view, rules, adjustments, proposed)
		return err
	})
	return result, err
}
