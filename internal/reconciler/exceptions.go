package reconciler

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"commission-reconciliation-service/internal/audit"
	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Resolution is the outcome of one exception transition
type Resolution struct {
	RunID       string               `json:"run_id"`
	Exception   models.Exception     `json:"exception"`
	Before      audit.ExceptionState `json:"before"`
	LearnedRule *models.PolicyRule   `json:"learned_rule,omitempty"`
}

// SkippedLine is an exception background resolve left open
type SkippedLine struct {
	LineID string `json:"line_id"`
	Reason string `json:"reason"`
}

// BackgroundResult reports one background resolve pass
type BackgroundResult struct {
	RunID       string        `json:"run_id"`
	Limit       int           `json:"limit"`
	Candidates  int           `json:"candidates"`
	Resolutions []Resolution  `json:"resolutions"`
	Skipped     []SkippedLine `json:"skipped,omitempty"`
}

// ListExceptions lists exceptions; an empty RunID lists the latest run
func (s *Service) ListExceptions(ctx context.Context, filter models.ExceptionFilter) ([]models.Exception, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, errors.ValidationError(errors.CodeNotAllowed, "status", filter.Status, nil).
			WithSuggestion("Use open, deferred or resolved")
	}
	var exceptions []models.Exception
	err := s.store.Read(ctx, "list exceptions", func(tx *store.Tx) error {
		run, err := runOrLatest(tx, filter.RunID)
		if err != nil {
			return err
		}
		filter.RunID = run.RunID
		exceptions, err = tx.Exceptions(filter)
		return err
	})
	return exceptions, err
}

// Resolve applies a resolution action to the exception of a line in the
// latest run. defer moves open to deferred; every other action moves open or
// deferred to resolved. A manual link whose canonical policy differs from the
// line's policy number also records a policy rule.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	action, err := models.ParseResolutionAction(req.Action)
	if err != nil {
		return nil, errors.ValidationError(errors.CodeNotAllowed, "action", req.Action, err)
	}

	rec := s.recorder(req.Actor)
	var resolution *Resolution
	err = s.store.Update(ctx, "resolve exception", func(tx *store.Tx) error {
		run, err := tx.LatestRun()
		if err != nil {
			return err
		}
		claims, err := cashClaims(tx, run.RunID)
		if err != nil {
			return err
		}
		resolution, err = s.resolveInTx(tx, rec, run.RunID, req, action, claims)
		return err
	})
	if err != nil {
		s.logger.WithFields(logger.Fields{
			"line_id": req.LineID,
			"action":  req.Action,
		}).WithError(err).Warn("Exception resolution rejected")
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"run_id":       resolution.RunID,
		"line_id":      req.LineID,
		"action":       action,
		"status":       resolution.Exception.Status,
		"bank_txn_id":  resolution.Exception.ResolvedBankTxnID,
		"learned_rule": resolution.LearnedRule != nil,
	}).Info("Exception updated")
	return resolution, nil
}

// Reopen moves a deferred exception in the latest run back to open
func (s *Service) Reopen(ctx context.Context, req ReopenRequest) (*Resolution, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	rec := s.recorder(req.Actor)
	var resolution *Resolution
	err := s.store.Update(ctx, "reopen exception", func(tx *store.Tx) error {
		run, err := tx.LatestRun()
		if err != nil {
			return err
		}
		now := s.now()
		before, err := tx.TransitionException(run.RunID, req.LineID,
			[]models.ExceptionStatus{models.ExceptionDeferred},
			store.ExceptionChange{Status: models.ExceptionOpen, Note: req.Note, UpdatedAt: now})
		if err != nil {
			return err
		}

		after := *before
		after.Status = models.ExceptionOpen
		after.ResolutionAction = ""
		after.ResolvedBankTxnID = ""
		after.ResolutionNote = req.Note
		after.ResolvedAt = nil
		after.UpdatedAt = now

		event, err := rec.Detailed(models.EventExceptionReopened, models.EntityException, req.LineID, "reopen",
			"run_id="+run.RunID, audit.StateOf(before), audit.StateOf(&after))
		if err != nil {
			return err
		}
		if err := tx.AppendAudit(event); err != nil {
			return err
		}
		resolution = &Resolution{RunID: run.RunID, Exception: after, Before: audit.StateOf(before)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("line_id", req.LineID).Info("Exception reopened")
	return resolution, nil
}

// BackgroundResolve links the highest-confidence open needs_review exceptions
// of the latest run to their suggested transactions in one transaction. Lines
// whose suggestion already settles another line are skipped.
func (s *Service) BackgroundResolve(ctx context.Context, req BackgroundResolveRequest) (*BackgroundResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.config.BackgroundResolveLimit
	}
	if limit > s.config.MaxBackgroundResolve {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "limit", limit, nil).
			WithSuggestion(fmt.Sprintf("Resolve at most %d exceptions per pass", s.config.MaxBackgroundResolve))
	}

	rec := s.recorder(req.Actor)
	result := &BackgroundResult{Limit: limit}
	err := s.store.Update(ctx, "background resolve", func(tx *store.Tx) error {
		result.Resolutions = nil
		result.Skipped = nil

		run, err := tx.LatestRun()
		if err != nil {
			return err
		}
		result.RunID = run.RunID

		candidates, err := backgroundCandidates(tx, run.RunID)
		if err != nil {
			return err
		}
		result.Candidates = len(candidates)

		claims, err := cashClaims(tx, run.RunID)
		if err != nil {
			return err
		}

		progress := logger.NewProgressTracker(logger.ProgressConfig{
			Operation: "background resolve",
			Total:     int64(min(limit, len(candidates))),
			Logger:    s.logger.WithField("run_id", run.RunID),
		})

		for _, exc := range candidates {
			if len(result.Resolutions) >= limit {
				break
			}
			if err := ctx.Err(); err != nil {
				progress.Complete(err)
				return errors.InternalError(errors.CodeCancelled, "background resolve", err)
			}
			if owner, taken := claims[exc.SuggestedBankTxnID]; taken && owner != exc.LineID {
				result.Skipped = append(result.Skipped, SkippedLine{
					LineID: exc.LineID,
					Reason: fmt.Sprintf("suggested transaction %s already settles line %s", exc.SuggestedBankTxnID, owner),
				})
				continue
			}

			resolution, err := s.resolveInTx(tx, rec, run.RunID, ResolveRequest{
				LineID:    exc.LineID,
				Action:    string(models.ActionManualLink),
				BankTxnID: exc.SuggestedBankTxnID,
				Note:      fmt.Sprintf("background resolve at confidence %.3f", exc.Confidence),
			}, models.ActionManualLink, claims)
			if err != nil {
				progress.Complete(err)
				return err
			}
			result.Resolutions = append(result.Resolutions, *resolution)
			progress.Increment()
		}
		progress.Complete(nil)

		return appendEvent(tx, rec, models.EventBackgroundResolve, models.EntityRun, run.RunID, "auto_resolve", nil,
			map[string]int{
				"limit":      limit,
				"candidates": result.Candidates,
				"resolved":   len(result.Resolutions),
				"skipped":    len(result.Skipped),
			})
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logger.Fields{
		"run_id":     result.RunID,
		"candidates": result.Candidates,
		"resolved":   len(result.Resolutions),
		"skipped":    len(result.Skipped),
	}).Info("Background resolve completed")
	return result, nil
}

// backgroundCandidates returns open needs_review exceptions with a suggestion
// on lines that accept a manual link, highest confidence first
func backgroundCandidates(tx *store.Tx, runID string) ([]models.Exception, error) {
	open, err := tx.Exceptions(models.ExceptionFilter{RunID: runID, Status: models.ExceptionOpen})
	if err != nil {
		return nil, err
	}
	reviews, err := tx.Results(runID, models.ResultFilter{Status: models.StatusNeedsReview})
	if err != nil {
		return nil, err
	}
	needsReview := make(map[string]bool, len(reviews))
	for _, r := range reviews {
		needsReview[r.LineID] = true
	}

	var candidates []models.Exception
	for _, exc := range open {
		if exc.SuggestedBankTxnID == "" || !needsReview[exc.LineID] {
			continue
		}
		line, err := tx.StatementLine(exc.LineID)
		if err != nil {
			return nil, err
		}
		if !line.TxnType.Allows(models.ActionManualLink) {
			continue
		}
		candidates = append(candidates, exc)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Confidence != candidates[j].Confidence {
			return candidates[i].Confidence > candidates[j].Confidence
		}
		return candidates[i].LineID < candidates[j].LineID
	})
	return candidates, nil
}

// cashClaims maps each bank transaction that settles a line in the run to that
// line: auto matches plus resolved exceptions whose action links cash
func cashClaims(tx *store.Tx, runID string) (map[string]string, error) {
	claims := make(map[string]string)

	matched, err := tx.Results(runID, models.ResultFilter{Status: models.StatusAutoMatched})
	if err != nil {
		return nil, err
	}
	for _, r := range matched {
		if r.MatchedBankTxnID != "" {
			claims[r.MatchedBankTxnID] = r.LineID
		}
	}

	resolved, err := tx.Exceptions(models.ExceptionFilter{RunID: runID, Status: models.ExceptionResolved})
	if err != nil {
		return nil, err
	}
	for _, e := range resolved {
		if e.ResolutionAction.LinksCash() && e.ResolvedBankTxnID != "" {
			claims[e.ResolvedBankTxnID] = e.LineID
		}
	}
	return claims, nil
}

// resolveInTx applies one action inside an open transaction and records claims for linked cash
func (s *Service) resolveInTx(tx *store.Tx, rec audit.Recorder, runID string, req ResolveRequest,
	action models.ResolutionAction, claims map[string]string) (*Resolution, error) {

	exc, err := tx.Exception(runID, req.LineID)
	if err != nil {
		return nil, err
	}
	line, err := tx.StatementLine(req.LineID)
	if err != nil {
		return nil, err
	}
	if !line.TxnType.Allows(action) {
		return nil, errors.ValidationError(errors.CodeNotAllowed, "action", action,
			fmt.Errorf("%s lines allow %v", line.TxnType, line.TxnType.AllowedActions()))
	}

	bankTxnID := strings.TrimSpace(req.BankTxnID)
	if !action.LinksCash() && bankTxnID != "" {
		return nil, errors.ValidationError(errors.CodeNotAllowed, "resolved_bank_txn_id", bankTxnID,
			fmt.Errorf("action %s does not link a bank transaction", action))
	}
	if action.LinksCash() && bankTxnID == "" {
		bankTxnID = exc.SuggestedBankTxnID
	}
	if action.RequiresBankTxn() && bankTxnID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "resolved_bank_txn_id", nil, nil).
			WithSuggestion("Name the bank transaction to link; this exception has no suggestion")
	}

	var txn *models.BankTransaction
	if bankTxnID != "" {
		if txn, err = tx.BankTransaction(bankTxnID); err != nil {
			return nil, err
		}
		if owner, taken := claims[bankTxnID]; taken && owner != line.LineID {
			return nil, errors.ConflictError(errors.CodeDuplicate, "bank transaction", bankTxnID,
				fmt.Sprintf("already settles line %s", owner))
		}
	}

	from := []models.ExceptionStatus{models.ExceptionOpen, models.ExceptionDeferred}
	if action == models.ActionDefer {
		from = []models.ExceptionStatus{models.ExceptionOpen}
	}
	now := s.now()
	target := action.TargetStatus()
	var resolvedAt *time.Time
	if target == models.ExceptionResolved {
		resolvedAt = &now
	}

	before, err := tx.TransitionException(runID, line.LineID, from, store.ExceptionChange{
		Status:            target,
		Action:            action,
		ResolvedBankTxnID: bankTxnID,
		Note:              req.Note,
		ResolvedAt:        resolvedAt,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, err
	}

	after := *before
	after.Status = target
	after.ResolutionAction = action
	after.ResolvedBankTxnID = bankTxnID
	after.ResolutionNote = req.Note
	after.ResolvedAt = resolvedAt
	after.UpdatedAt = now

	eventType := models.EventExceptionResolved
	if target == models.ExceptionDeferred {
		eventType = models.EventExceptionDeferred
	}
	event, err := rec.Detailed(eventType, models.EntityException, line.LineID, string(action),
		"run_id="+runID, audit.StateOf(before), audit.StateOf(&after))
	if err != nil {
		return nil, err
	}
	if err := tx.AppendAudit(event); err != nil {
		return nil, err
	}
	if bankTxnID != "" && action.LinksCash() && target == models.ExceptionResolved {
		claims[bankTxnID] = line.LineID
	}

	resolution := &Resolution{RunID: runID, Exception: after, Before: audit.StateOf(before)}
	if action == models.ActionManualLink {
		rule, err := s.learnPolicyRule(tx, rec, runID, line, txn, req.TargetPolicyNumber)
		if err != nil {
			return nil, err
		}
		resolution.LearnedRule = rule
	}
	return resolution, nil
}

// learnPolicyRule records the mapping implied by a manual link. The canonical
// policy is the requested target, else a policy token in the linked
// transaction, else the expected row the line was matched against.
func (s *Service) learnPolicyRule(tx *store.Tx, rec audit.Recorder, runID string,
	line *models.StatementLine, txn *models.BankTransaction, requested string) (*models.PolicyRule, error) {

	source := models.NormalizePolicy(line.PolicyNumber)
	canonical := models.NormalizePolicy(requested)
	if canonical == "" && txn != nil {
		canonical = policyInMemo(txn, source, s.engine.PolicyPattern())
	}
	if canonical == "" {
		expected, err := s.expectedPolicy(tx, runID, line.LineID)
		if err != nil {
			return nil, err
		}
		canonical = expected
	}
	if canonical == "" || canonical == source {
		return nil, nil
	}

	note := fmt.Sprintf("learned from manual link of line %s", line.LineID)
	if txn != nil {
		note = fmt.Sprintf("learned from manual link of line %s to %s", line.LineID, txn.BankTxnID)
	}
	return upsertPolicyRule(tx, rec, s.now(), models.PolicyRule{
		SourcePolicyNumber: source,
		TargetPolicyNumber: canonical,
		Note:               note,
	})
}

// policyInMemo returns source when the transaction names it, otherwise the first policy token found
func policyInMemo(txn *models.BankTransaction, source string, pattern *regexp.Regexp) string {
	tokens := matcher.ExtractPolicyNumbers(txn.SearchText(), pattern)
	for _, tok := range tokens {
		if tok == source {
			return source
		}
	}
	if len(tokens) > 0 {
		return tokens[0]
	}
	return ""
}

// expectedPolicy returns the policy of the expected row the line's result applied, if one exists
func (s *Service) expectedPolicy(tx *store.Tx, runID, lineID string) (string, error) {
	result, err := tx.Result(runID, lineID)
	if errors.IsCategory(err, errors.CategoryNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	applied := models.NormalizePolicy(result.AppliedPolicyNumber)
	if applied == "" {
		return "", nil
	}
	expected, err := tx.Expected()
	if err != nil {
		return "", err
	}
	for _, e := range expected {
		if models.NormalizePolicy(e.PolicyNumber) == applied {
			return applied, nil
		}
	}
	return "", nil
}
