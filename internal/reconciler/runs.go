package reconciler

import (
	"context"
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

// RunResult is a committed match run with what the engine noticed while computing it
type RunResult struct {
	Run            models.MatchRun     `json:"run"`
	Summary        matcher.Summary     `json:"summary"`
	Diagnostics    matcher.Diagnostics `json:"diagnostics"`
	CarriedForward int                 `json:"carried_forward"`
	Duration       time.Duration       `json:"duration"`
}

// CreateRun matches the stored inputs and records the run, its results and
// its exceptions atomically. Scoring happens before the write transaction
// opens. Exceptions for lines whose previous exception was resolved or
// deferred inherit that state.
func (s *Service) CreateRun(ctx context.Context, req RunRequest) (*RunResult, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	start := time.Now()

	var snapshot *models.InputSnapshot
	err := s.store.Read(ctx, "read input snapshot", func(tx *store.Tx) error {
		var err error
		snapshot, err = tx.Snapshot()
		if err != nil {
			return err
		}
		seq, err := tx.NextRunSeq()
		if err != nil {
			return err
		}
		previous, err := tx.LatestExceptions(seq)
		if err != nil {
			return err
		}
		snapshot.Reserved = reservedLinks(previous)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(snapshot.Lines) == 0 {
		return nil, errors.ValidationError(errors.CodeMissingField, "statement_lines", 0, nil).
			WithSuggestion("Ingest commission statements before creating a match run")
	}

	now := s.now()
	runID := store.NewRunID(now)
	log := s.logger.WithFields(logger.Fields{
		"run_id":    runID,
		"lines":     len(snapshot.Lines),
		"bank_txns": len(snapshot.BankTxns),
		"rules":     len(snapshot.PolicyRules),
	})
	log.Info("Starting match run")

	outcome, err := s.engine.Run(ctx, snapshot, runID, now)
	if err != nil {
		log.WithError(err).Error("Match run failed")
		return nil, err
	}

	rec := s.recorder(req.Actor)
	result := &RunResult{Summary: outcome.Summary, Diagnostics: outcome.Diagnostics}

	err = s.store.Update(ctx, "record match run", func(tx *store.Tx) error {
		seq, err := tx.NextRunSeq()
		if err != nil {
			return err
		}
		previous, err := tx.LatestExceptions(seq)
		if err != nil {
			return err
		}
		carried, dropped := carryForward(outcome.Exceptions, outcome.Results, previous)
		result.CarriedForward = carried
		for _, lineID := range dropped {
			log.WithField("line_id", lineID).Warn("Linked transaction matched to another line; exception left open")
		}

		run := models.MatchRun{
			RunID:     runID,
			Seq:       seq,
			CreatedAt: now,
			Actor:     rec.Actor,
			RulesUsed: outcome.Summary.RulesUsed,
			Config:    s.engine.Config().Snapshot(),
		}
		run.Tally(outcome.Results)

		if err := tx.InsertRun(&run, outcome.Results, outcome.Exceptions); err != nil {
			return err
		}
		result.Run = run

		return appendEvent(tx, rec, models.EventMatchRun, models.EntityRun, runID, "create", nil, map[string]interface{}{
			"seq":             run.Seq,
			"total_lines":     run.TotalLines,
			"auto_matched":    run.AutoMatched,
			"needs_review":    run.NeedsReview,
			"unmatched":       run.Unmatched,
			"rules_used":      run.RulesUsed,
			"carried_forward": result.CarriedForward,
		})
	})
	if err != nil {
		log.WithError(err).Error("Match run rolled back")
		return nil, err
	}

	result.Duration = time.Since(start)
	log.WithFields(logger.Fields{
		"seq":             result.Run.Seq,
		"auto_matched":    result.Run.AutoMatched,
		"needs_review":    result.Run.NeedsReview,
		"unmatched":       result.Run.Unmatched,
		"carried_forward": result.CarriedForward,
		"duration":        result.Duration,
	}).Info("Match run recorded")
	if outcome.Diagnostics.HasFindings() {
		log.WithFields(logger.Fields{
			"duplicate_remittances": len(outcome.Diagnostics.DuplicateRemittances),
			"ambiguous_lines":       len(outcome.Diagnostics.AmbiguousLines),
		}).Warn("Match run has diagnostics to review")
	}
	return result, nil
}

// reservedLinks maps each bank transaction linked by the latest resolved
// review of a line to that line
func reservedLinks(previous map[string]models.Exception) map[string]string {
	lineIDs := make([]string, 0, len(previous))
	for lineID := range previous {
		lineIDs = append(lineIDs, lineID)
	}
	sort.Strings(lineIDs)

	reserved := make(map[string]string)
	for _, lineID := range lineIDs {
		txnID := linkedTxn(previous[lineID])
		if txnID == "" {
			continue
		}
		if _, taken := reserved[txnID]; !taken {
			reserved[txnID] = lineID
		}
	}
	return reserved
}

// linkedTxn returns the bank transaction a resolved exception counts as cash
func linkedTxn(e models.Exception) string {
	if e.Status != models.ExceptionResolved || !e.ResolutionAction.LinksCash() {
		return ""
	}
	return strings.TrimSpace(e.ResolvedBankTxnID)
}

// carryForward copies the review state of each line's previous exception onto
// the new one when that state was resolved or deferred. A resolution whose
// linked transaction the new run auto-matched to another line is not carried; its
// exception stays open. It returns how many were carried and the lines left open.
func carryForward(exceptions []models.Exception, results []models.MatchResult, previous map[string]models.Exception) (int, []string) {
	matchedTo := make(map[string]string, len(results))
	for _, r := range results {
		if r.Status == models.StatusAutoMatched && r.MatchedBankTxnID != "" {
			matchedTo[r.MatchedBankTxnID] = r.LineID
		}
	}

	carried := 0
	var dropped []string
	for i := range exceptions {
		prior, ok := previous[exceptions[i].LineID]
		if !ok || prior.Status == models.ExceptionOpen {
			continue
		}
		if txnID := linkedTxn(prior); txnID != "" {
			if owner, matched := matchedTo[txnID]; matched && owner != prior.LineID {
				dropped = append(dropped, prior.LineID)
				continue
			}
		}
		e := &exceptions[i]
		e.Status = prior.Status
		e.ResolutionAction = prior.ResolutionAction
		e.ResolvedBankTxnID = prior.ResolvedBankTxnID
		e.ResolutionNote = prior.ResolutionNote
		e.ResolvedAt = prior.ResolvedAt
		e.CarriedFromRunID = prior.RunID
		carried++
	}
	return carried, dropped
}

// ListRuns lists runs newest first; limit 0 uses the configured default
func (s *Service) ListRuns(ctx context.Context, limit int) ([]models.MatchRun, error) {
	if limit <= 0 {
		limit = s.config.RunListLimit
	}
	var runs []models.MatchRun
	err := s.store.Read(ctx, "list runs", func(tx *store.Tx) error {
		var err error
		runs, err = tx.Runs(limit)
		return err
	})
	return runs, err
}

// Run returns one run; an empty runID selects the latest
func (s *Service) Run(ctx context.Context, runID string) (*models.MatchRun, error) {
	var run *models.MatchRun
	err := s.store.Read(ctx, "get run", func(tx *store.Tx) error {
		var err error
		run, err = runOrLatest(tx, runID)
		return err
	})
	return run, err
}

// Results lists the results of a run filtered by status, carrier or reason
func (s *Service) Results(ctx context.Context, runID string, filter models.ResultFilter) ([]models.MatchResult, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, errors.ValidationError(errors.CodeNotAllowed, "status", filter.Status, nil).
			WithSuggestion("Use auto_matched, needs_review or unmatched")
	}
	var results []models.MatchResult
	err := s.store.Read(ctx, "list results", func(tx *store.Tx) error {
		run, err := runOrLatest(tx, runID)
		if err != nil {
			return err
		}
		results, err = tx.Results(run.RunID, filter)
		return err
	})
	return results, err
}

// Compare explains line by line how two runs differ. Without run ids it
// compares the two most recent runs.
func (s *Service) Compare(ctx context.Context, req CompareRequest) (*audit.Comparison, error) {
	var comparison *audit.Comparison
	err := s.store.Read(ctx, "compare runs", func(tx *store.Tx) error {
		base, target, err := comparedRuns(tx, req)
		if err != nil {
			return err
		}
		baseResults, err := tx.Results(base.RunID, models.ResultFilter{})
		if err != nil {
			return err
		}
		targetResults, err := tx.Results(target.RunID, models.ResultFilter{})
		if err != nil {
			return err
		}
		rules, err := tx.PolicyRules()
		if err != nil {
			return err
		}
		comparison = audit.Compare(audit.CompareInput{
			Base:          *base,
			BaseResults:   baseResults,
			Target:        *target,
			TargetResults: targetResults,
			Rules:         rules,
		})
		return nil
	})
	return comparison, err
}

func comparedRuns(tx *store.Tx, req CompareRequest) (*models.MatchRun, *models.MatchRun, error) {
	if req.BaseRunID != "" && req.TargetRunID != "" {
		base, err := tx.Run(req.BaseRunID)
		if err != nil {
			return nil, nil, err
		}
		target, err := tx.Run(req.TargetRunID)
		if err != nil {
			return nil, nil, err
		}
		return base, target, nil
	}
	if req.BaseRunID != "" || req.TargetRunID != "" {
		return nil, nil, errors.ValidationError(errors.CodeMissingField, "base_run_id,target_run_id", nil, nil).
			WithSuggestion("Name both runs, or neither to compare the two most recent runs")
	}

	runs, err := tx.Runs(2)
	if err != nil {
		return nil, nil, err
	}
	if len(runs) < 2 {
		return nil, nil, errors.NotFoundError(errors.CodeUnknownRun, "match run", "previous").
			WithSuggestion("Create at least two match runs to compare")
	}
	return &runs[1], &runs[0], nil
}
