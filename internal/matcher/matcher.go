package matcher

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Reason fragments that are not factor labels
const (
	ReasonNoCandidates       = "no_candidates"
	ReasonCandidatesClaimed  = "candidates_claimed"
	ReasonNoSignal           = "no_signal"
	ReasonClawbackConfirm    = "clawback_requires_confirmation"
	ReasonScoringErrorPrefix = "scoring_error: "
)

// cancellation is checked every ctxCheckInterval lines
const ctxCheckInterval = 64

// Engine is the matching engine; it holds only its immutable configuration
type Engine struct {
	cfg     Config
	pattern *regexp.Regexp
	logger  logger.Logger
}

// Outcome is everything one run computes, ready to be committed atomically
type Outcome struct {
	Results     []models.MatchResult
	Exceptions  []models.Exception
	Summary     Summary
	Diagnostics Diagnostics
}

// Summary provides aggregate statistics about a run
type Summary struct {
	TotalLines    int
	AutoMatched   int
	NeedsReview   int
	Unmatched     int
	Deterministic int
	ScoringErrors int
	RulesUsed     int
	BankTxns      int
	ClaimedTxns   int
	ReservedTxns  int
}

// NewEngine validates cfg and returns an engine bound to it
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", cfg.String(), err)
	}
	return &Engine{
		cfg:     cfg,
		pattern: regexp.MustCompile(cfg.PolicyPattern),
		logger:  logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// Config returns a copy of the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// PolicyPattern returns the compiled policy-number pattern
func (e *Engine) PolicyPattern() *regexp.Regexp {
	return e.pattern
}

// Run matches every statement line in snapshot against its bank feed.
// It reads nothing but its arguments; a cancelled context returns an error and no outcome.
func (e *Engine) Run(ctx context.Context, snapshot *models.InputSnapshot, runID string, now time.Time) (*Outcome, error) {
	if snapshot == nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "match run", fmt.Errorf("nil input snapshot"))
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "match run", err)
	}

	log := e.logger.WithField("run_id", runID)
	index := NewBankIndex(snapshot.BankTxns, e.pattern)
	overrides := models.PolicyOverrides(snapshot.PolicyRules)
	s := &scorer{cfg: e.cfg, index: index}

	lines := make([]models.StatementLine, len(snapshot.Lines))
	copy(lines, snapshot.Lines)
	sort.Slice(lines, func(i, j int) bool { return lines[i].LineID < lines[j].LineID })

	progress := logger.NewProgressTracker(logger.ProgressConfig{
		Operation:   "scoring",
		Total:       int64(len(lines)),
		LogInterval: 5 * time.Second,
		Logger:      log,
	})

	refs := make(map[string]policyRef, len(lines))
	scores := make(map[string][]*Score, len(lines))
	failures := make(map[string]error)

	for i := range lines {
		if i%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				progress.Complete(err)
				return nil, errors.InternalError(errors.CodeCancelled, "match run", err)
			}
		}

		line := &lines[i]
		ref := resolvePolicy(line, overrides)
		refs[line.LineID] = ref

		lineScores, err := e.scoreLine(s, line, ref, index)
		if err != nil {
			failures[line.LineID] = err
			log.WithFields(logger.Fields{
				"line_id": line.LineID,
				"error":   err.Error(),
			}).Warn("Scoring failed; line left unmatched")
		} else {
			scores[line.LineID] = lineScores
		}
		progress.Increment()
	}
	progress.Complete(nil)

	assigned := make(map[string]*Score)
	claimed := newClaimSet(snapshot.Reserved)

	// Deterministic hits claim their transactions before any probabilistic pairing
	var deterministic []*Score
	for _, lineScores := range scores {
		for _, sc := range lineScores {
			if sc.Deterministic && sc.Confidence >= e.cfg.ReviewThreshold {
				deterministic = append(deterministic, sc)
			}
		}
	}
	assignGreedy(deterministic, assigned, claimed)

	var probabilistic []*Score
	for lineID, lineScores := range scores {
		if assigned[lineID] != nil {
			continue
		}
		for _, sc := range lineScores {
			if sc.Confidence >= e.cfg.ReviewThreshold && claimed.free(sc) {
				probabilistic = append(probabilistic, sc)
			}
		}
	}
	assignGreedy(probabilistic, assigned, claimed)

	outcome := &Outcome{
		Results:    make([]models.MatchResult, 0, len(lines)),
		Exceptions: make([]models.Exception, 0),
	}

	for i := range lines {
		line := &lines[i]
		ref := refs[line.LineID]
		result := e.classify(line, ref, assigned[line.LineID], scores[line.LineID], claimed, failures[line.LineID])
		result.RunID = runID
		outcome.Results = append(outcome.Results, result)

		if result.Deterministic && result.MatchedBankTxnID != "" {
			outcome.Summary.Deterministic++
		}
		if ref.Overridden {
			outcome.Summary.RulesUsed++
		}

		if result.Status.OpensException() {
			outcome.Exceptions = append(outcome.Exceptions, models.Exception{
				RunID:              runID,
				LineID:             line.LineID,
				Status:             models.ExceptionOpen,
				Confidence:         result.Confidence,
				Reason:             result.Reason,
				SuggestedBankTxnID: suggestion(result, scores[line.LineID], claimed),
				CreatedAt:          now,
				UpdatedAt:          now,
			})
		}
	}

	outcome.Summary.tally(outcome.Results)
	outcome.Summary.ScoringErrors = len(failures)
	outcome.Summary.BankTxns = len(index.All)
	outcome.Summary.ClaimedTxns = len(claimed.taken)
	outcome.Summary.ReservedTxns = len(claimed.reserved)
	outcome.Diagnostics = e.diagnose(snapshot.BankTxns, scores)

	log.WithFields(logger.Fields{
		"lines":          outcome.Summary.TotalLines,
		"auto_matched":   outcome.Summary.AutoMatched,
		"needs_review":   outcome.Summary.NeedsReview,
		"unmatched":      outcome.Summary.Unmatched,
		"deterministic":  outcome.Summary.Deterministic,
		"scoring_errors": outcome.Summary.ScoringErrors,
		"rules_used":     outcome.Summary.RulesUsed,
	}).Info("Match run computed")

	return outcome, nil
}

// scoreLine scores every candidate of one line, isolating panics to that line
func (e *Engine) scoreLine(s *scorer, line *models.StatementLine, ref policyRef, index *BankIndex) (result []*Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.ComputationError(errors.CodeScoringFailed, line.LineID, fmt.Errorf("panic: %v", r))
		}
	}()

	candidates := index.Candidates(line, ref.policies(), e.cfg)
	result = make([]*Score, 0, len(candidates))
	for _, txn := range candidates {
		sc, err := s.score(line, ref, txn)
		if err != nil {
			return nil, errors.ComputationError(errors.CodeScoringFailed, line.LineID, err)
		}
		result = append(result, sc)
	}
	sortScores(result)
	return result, nil
}

// classify turns the assignment state of one line into its result
func (e *Engine) classify(line *models.StatementLine, ref policyRef, match *Score, lineScores []*Score, claimed *claimSet, failure error) models.MatchResult {
	result := models.MatchResult{
		LineID:              line.LineID,
		PolicyNumber:        line.PolicyNumber,
		AppliedPolicyNumber: ref.Applied,
		CarrierName:         line.CarrierName,
		Status:              models.StatusUnmatched,
	}

	switch {
	case failure != nil:
		result.Reason = ReasonScoringErrorPrefix + failure.Error()

	case match != nil:
		result.MatchedBankTxnID = match.BankTxnID
		result.Confidence = match.Confidence
		result.Factors = match.Factors
		result.Deterministic = match.Deterministic
		result.AmountDiff = match.AmountDiff
		result.Reason = match.Reason()

		if match.Confidence >= e.cfg.AutoMatchThreshold {
			result.Status = models.StatusAutoMatched
		} else {
			result.Status = models.StatusNeedsReview
		}
		if line.IsClawback() {
			result.Status = models.StatusNeedsReview
			result.Reason = joinReason(result.Reason, ReasonClawbackConfirm)
		}

	default:
		best := bestUnclaimed(lineScores, claimed)
		switch {
		case best != nil:
			result.Confidence = best.Confidence
			result.Factors = best.Factors
			result.AmountDiff = best.AmountDiff
			result.Reason = best.Reason()
			if result.Reason == "" {
				result.Reason = ReasonNoSignal
			}
		case len(lineScores) > 0:
			result.Reason = ReasonCandidatesClaimed
		default:
			result.Reason = ReasonNoCandidates
		}
	}

	return result
}

// claimSet tracks which bank transactions are spoken for during one run
type claimSet struct {
	taken    map[string]bool
	reserved map[string]string
}

func newClaimSet(reserved map[string]string) *claimSet {
	c := &claimSet{taken: make(map[string]bool), reserved: make(map[string]string, len(reserved))}
	for txnID, lineID := range reserved {
		c.reserved[txnID] = lineID
	}
	return c
}

// free reports whether the transaction of sc may still be given to its line
func (c *claimSet) free(sc *Score) bool {
	if c.taken[sc.BankTxnID] {
		return false
	}
	owner, ok := c.reserved[sc.BankTxnID]
	return !ok || owner == sc.LineID
}

func (c *claimSet) claim(sc *Score) {
	c.taken[sc.BankTxnID] = true
}

// assignGreedy claims pairs in ranked order; a line and a transaction are each used at most once
func assignGreedy(pairs []*Score, assigned map[string]*Score, claimed *claimSet) {
	sortScores(pairs)
	for _, sc := range pairs {
		if assigned[sc.LineID] != nil || !claimed.free(sc) {
			continue
		}
		assigned[sc.LineID] = sc
		claimed.claim(sc)
	}
}

// sortScores orders by confidence desc, |amount diff| asc, posted date asc, line id, bank txn id
func sortScores(scores []*Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if c := a.AmountDiff.Abs().Cmp(b.AmountDiff.Abs()); c != 0 {
			return c < 0
		}
		if a.PostedDate != b.PostedDate {
			return a.PostedDate < b.PostedDate
		}
		if a.LineID != b.LineID {
			return a.LineID < b.LineID
		}
		return a.BankTxnID < b.BankTxnID
	})
}

func bestUnclaimed(lineScores []*Score, claimed *claimSet) *Score {
	for _, sc := range lineScores {
		if claimed.free(sc) {
			return sc
		}
	}
	return nil
}

// suggestion is the transaction a reviewer is pointed at for an exception
func suggestion(result models.MatchResult, lineScores []*Score, claimed *claimSet) string {
	if result.MatchedBankTxnID != "" {
		return result.MatchedBankTxnID
	}
	if best := bestUnclaimed(lineScores, claimed); best != nil && best.Confidence > 0 {
		return best.BankTxnID
	}
	return ""
}

func joinReason(reason, extra string) string {
	if reason == "" {
		return extra
	}
	return reason + "," + extra
}

func (s *Summary) tally(results []models.MatchResult) {
	s.TotalLines = len(results)
	for _, r := range results {
		switch r.Status {
		case models.StatusAutoMatched:
			s.AutoMatched++
		case models.StatusNeedsReview:
			s.NeedsReview++
		case models.StatusUnmatched:
			s.Unmatched++
		}
	}
}
