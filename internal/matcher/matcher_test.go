package matcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := models.ParseDate(s)
	if err != nil {
		t.Fatalf("bad date %q: %v", s, err)
	}
	return d
}

func testLine(t *testing.T, id, policy, insured, amount, date string) models.StatementLine {
	t.Helper()
	return models.StatementLine{
		LineID:          id,
		StatementID:     "STMT-01",
		CarrierName:     "Acme Mutual",
		PolicyNumber:    policy,
		InsuredName:     insured,
		TxnType:         models.TxnStandard,
		TxnDate:         day(t, date),
		GrossCommission: decimal.RequireFromString(amount),
	}
}

func testTxn(t *testing.T, id, amount, date, memo string) models.BankTransaction {
	t.Helper()
	return models.BankTransaction{
		BankTxnID:    id,
		PostedDate:   day(t, date),
		Amount:       decimal.RequireFromString(amount),
		Counterparty: "Acme Mutual",
		Memo:         memo,
	}
}

func runEngine(t *testing.T, snapshot *models.InputSnapshot) *Outcome {
	t.Helper()
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	outcome, err := engine.Run(context.Background(), snapshot, "run-test", testNow)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return outcome
}

func resultFor(t *testing.T, outcome *Outcome, lineID string) models.MatchResult {
	t.Helper()
	for _, r := range outcome.Results {
		if r.LineID == lineID {
			return r
		}
	}
	t.Fatalf("no result for line %s", lineID)
	return models.MatchResult{}
}

func exceptionFor(outcome *Outcome, lineID string) *models.Exception {
	for i := range outcome.Exceptions {
		if outcome.Exceptions[i].LineID == lineID {
			return &outcome.Exceptions[i]
		}
	}
	return nil
}

func TestEngine_Classification(t *testing.T) {
	snapshot := &models.InputSnapshot{
		Lines: []models.StatementLine{
			testLine(t, "L-0001", "POL-0001", "Doe, Jane", "500.00", "2025-01-10"),
			testLine(t, "L-0002", "POL-0002", "Smith, John", "1000.00", "2025-01-10"),
			testLine(t, "L-0003", "POL-0003", "Brown, Al", "50.00", "2025-01-10"),
		},
		BankTxns: []models.BankTransaction{
			testTxn(t, "BTX-1", "500.00", "2025-01-10", "Commission remittance POL-0001"),
			testTxn(t, "BTX-2", "999.50", "2025-01-11", "ACH JOHN SMITH"),
		},
	}

	outcome := runEngine(t, snapshot)

	t.Run("exact policy amount and date", func(t *testing.T) {
		r := resultFor(t, outcome, "L-0001")
		if r.Status != models.StatusAutoMatched {
			t.Fatalf("expected auto_matched, got %s (%s)", r.Status, r.Reason)
		}
		if r.MatchedBankTxnID != "BTX-1" {
			t.Errorf("expected BTX-1, got %s", r.MatchedBankTxnID)
		}
		if r.Confidence < 0.95 {
			t.Errorf("expected confidence >= 0.95, got %f", r.Confidence)
		}
		if !r.Deterministic || !r.HasFactor(models.FactorPolicyInMemo) {
			t.Errorf("expected deterministic policy hit, got %+v", r)
		}
		if exceptionFor(outcome, "L-0001") != nil {
			t.Error("auto-matched line must not open an exception")
		}
	})

	t.Run("name and near amount", func(t *testing.T) {
		r := resultFor(t, outcome, "L-0002")
		if r.Status != models.StatusNeedsReview {
			t.Fatalf("expected needs_review, got %s (%.3f %s)", r.Status, r.Confidence, r.Reason)
		}
		if r.Confidence < 0.60 || r.Confidence >= 0.90 {
			t.Errorf("confidence %f outside review band", r.Confidence)
		}
		if !strings.Contains(r.Reason, "name_hint") || !strings.Contains(r.Reason, "near_amount") {
			t.Errorf("reason should cite name_hint and near_amount, got %q", r.Reason)
		}
		exc := exceptionFor(outcome, "L-0002")
		if exc == nil {
			t.Fatal("expected an exception for L-0002")
		}
		if exc.Status != models.ExceptionOpen || exc.SuggestedBankTxnID != "BTX-2" {
			t.Errorf("unexpected exception %+v", exc)
		}
	})

	t.Run("no candidates", func(t *testing.T) {
		r := resultFor(t, outcome, "L-0003")
		if r.Status != models.StatusUnmatched || r.MatchedBankTxnID != "" {
			t.Fatalf("expected unmatched without txn, got %+v", r)
		}
		if r.Confidence != 0 || r.Reason != ReasonNoCandidates {
			t.Errorf("expected zero confidence and %q, got %f %q", ReasonNoCandidates, r.Confidence, r.Reason)
		}
		if exceptionFor(outcome, "L-0003") == nil {
			t.Error("unmatched line must open an exception")
		}
	})

	if outcome.Summary.TotalLines != 3 || outcome.Summary.AutoMatched != 1 ||
		outcome.Summary.NeedsReview != 1 || outcome.Summary.Unmatched != 1 {
		t.Errorf("unexpected summary %+v", outcome.Summary)
	}
}

func TestEngine_PolicyRuleRaisesConfidence(t *testing.T) {
	snapshot := &models.InputSnapshot{
		Lines: []models.StatementLine{
			testLine(t, "L-0042", "POL-0O42", "Jane Doe", "300.00", "2025-02-01"),
		},
		BankTxns: []models.BankTransaction{
			testTxn(t, "BTX-42", "300.00", "2025-02-01", "Commission POL-0042 Jane Doe"),
		},
	}

	before := resultFor(t, runEngine(t, snapshot), "L-0042")
	if before.Status != models.StatusNeedsReview {
		t.Fatalf("expected needs_review before rule, got %s (%.3f %s)", before.Status, before.Confidence, before.Reason)
	}

	snapshot.PolicyRules = []models.PolicyRule{{SourcePolicyNumber: "POL-0O42", TargetPolicyNumber: "POL-0042"}}
	outcome := runEngine(t, snapshot)
	after := resultFor(t, outcome, "L-0042")

	if after.Status != models.StatusAutoMatched {
		t.Fatalf("expected auto_matched after rule, got %s (%.3f %s)", after.Status, after.Confidence, after.Reason)
	}
	if after.Confidence < before.Confidence {
		t.Errorf("confidence decreased from %f to %f", before.Confidence, after.Confidence)
	}
	if !after.HasFactor(models.FactorPolicyRuleOverride) {
		t.Errorf("expected policy_rule_override factor, got %q", after.Reason)
	}
	if after.AppliedPolicyNumber != "POL-0042" {
		t.Errorf("expected applied policy POL-0042, got %s", after.AppliedPolicyNumber)
	}
	if outcome.Summary.RulesUsed != 1 {
		t.Errorf("expected 1 rule used, got %d", outcome.Summary.RulesUsed)
	}
}

func TestEngine_ExclusiveAssignment(t *testing.T) {
	snapshot := &models.InputSnapshot{
		Lines: []models.StatementLine{
			testLine(t, "L-B", "POL-0010", "", "200.00", "2025-01-05"),
			testLine(t, "L-A", "POL-0010", "", "200.00", "2025-01-05"),
		},
		BankTxns: []models.BankTransaction{
			testTxn(t, "BTX-10", "200.00", "2025-01-05", "POL-0010"),
		},
	}

	outcome := runEngine(t, snapshot)

	claims := 0
	for _, r := range outcome.Results {
		if r.MatchedBankTxnID == "BTX-10" {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("expected BTX-10 claimed once, got %d", claims)
	}
	if got := resultFor(t, outcome, "L-A"); got.MatchedBankTxnID != "BTX-10" {
		t.Errorf("tie should go to lowest line id, got %+v", got)
	}
	loser := resultFor(t, outcome, "L-B")
	if loser.Status != models.StatusUnmatched || loser.Reason != ReasonCandidatesClaimed {
		t.Errorf("expected unmatched with %q, got %s %q", ReasonCandidatesClaimed, loser.Status, loser.Reason)
	}
}

func TestEngine_ReservedTransactions(t *testing.T) {
	snapshot := &models.InputSnapshot{
		Lines: []models.StatementLine{
			testLine(t, "L-A", "POL-1000", "", "100.00", "2025-01-05"),
			testLine(t, "L-B", "POL-2000", "", "300.00", "2025-01-05"),
		},
		BankTxns: []models.BankTransaction{
			testTxn(t, "BTX-Y", "300.00", "2025-01-05", "Remit POL-2000"),
		},
		Reserved: map[string]string{"BTX-Y": "L-A"},
	}

	outcome := runEngine(t, snapshot)

	other := resultFor(t, outcome, "L-B")
	if other.MatchedBankTxnID != "" || other.Status != models.StatusUnmatched {
		t.Fatalf("reserved transaction went to another line: %+v", other)
	}
	if other.Reason != ReasonCandidatesClaimed {
		t.Errorf("expected reason %q, got %q", ReasonCandidatesClaimed, other.Reason)
	}
	if exc := exceptionFor(outcome, "L-B"); exc == nil || exc.SuggestedBankTxnID != "" {
		t.Errorf("reserved transaction must not be suggested, got %+v", exc)
	}
	if outcome.Summary.ReservedTxns != 1 {
		t.Errorf("expected 1 reserved transaction, got %d", outcome.Summary.ReservedTxns)
	}

	// the owning line may still be matched to its own reservation
	snapshot.Reserved = map[string]string{"BTX-Y": "L-B"}
	outcome = runEngine(t, snapshot)
	if got := resultFor(t, outcome, "L-B"); got.MatchedBankTxnID != "BTX-Y" {
		t.Errorf("owner should keep its reserved transaction, got %+v", got)
	}
}

func TestEngine_TieBreaksOnPostedDate(t *testing.T) {
	snapshot := &models.InputSnapshot{
		Lines: []models.StatementLine{
			testLine(t, "L-0030", "POL-0030", "", "100.00", "2025-03-01"),
		},
		BankTxns: []models.BankTransaction{
			testTxn(t, "BTX-LATE", "100.00", "2025-03-02", "POL-0030"),
			testTxn(t, "BTX-EARLY", "100.00", "2025-03-01", "POL-0030"),
		},
	}

	outcome := runEngine(t, snapshot)
	if got := resultFor(t, outcome, "L-0030").MatchedBankTxnID; got != "BTX-EARLY" {
		t.Errorf("expected earliest posting to win, got %s", got)
	}
	if len(outcome.Diagnostics.AmbiguousLines) != 1 || outcome.Diagnostics.AmbiguousLines[0].LineID != "L-0030" {
		t.Errorf("expected L-0030 flagged ambiguous, got %+v", outcome.Diagnostics.AmbiguousLines)
	}
}

func TestEngine_ClawbackCappedAtReview(t *testing.T) {
	line := testLine(t, "L-CB", "POL-0020", "", "-150.00", "2025-01-20")
	line.TxnType = models.TxnClawback

	snapshot := &models.InputSnapshot{
		Lines:    []models.StatementLine{line},
		BankTxns: []models.BankTransaction{testTxn(t, "BTX-CB", "-150.00", "2025-01-20", "Chargeback POL-0020")},
	}

	r := resultFor(t, runEngine(t, snapshot), "L-CB")
	if r.Status != models.StatusNeedsReview {
		t.Fatalf("clawback must not auto-match, got %s", r.Status)
	}
	if r.MatchedBankTxnID != "BTX-CB" {
		t.Errorf("review line should still claim its txn, got %q", r.MatchedBankTxnID)
	}
	if !strings.Contains(r.Reason, ReasonClawbackConfirm) {
		t.Errorf("expected %q in reason, got %q", ReasonClawbackConfirm, r.Reason)
	}
}

func TestEngine_ScoringFailureIsIsolated(t *testing.T) {
	broken := testLine(t, "L-BAD", "POL-0050", "", "75.00", "2025-01-10")
	broken.TxnDate = time.Time{}

	snapshot := &models.InputSnapshot{
		Lines: []models.StatementLine{
			broken,
			testLine(t, "L-OK", "POL-0051", "", "500.00", "2025-01-10"),
		},
		BankTxns: []models.BankTransaction{
			testTxn(t, "BTX-75", "75.00", "2025-01-10", "POL-0050"),
			testTxn(t, "BTX-500", "500.00", "2025-01-10", "POL-0051"),
		},
	}

	outcome := runEngine(t, snapshot)

	bad := resultFor(t, outcome, "L-BAD")
	if bad.Status != models.StatusUnmatched || !strings.HasPrefix(bad.Reason, ReasonScoringErrorPrefix) {
		t.Errorf("expected scoring error result, got %s %q", bad.Status, bad.Reason)
	}
	if ok := resultFor(t, outcome, "L-OK"); ok.Status != models.StatusAutoMatched {
		t.Errorf("healthy line should still match, got %s", ok.Status)
	}
	if outcome.Summary.ScoringErrors != 1 {
		t.Errorf("expected 1 scoring error, got %d", outcome.Summary.ScoringErrors)
	}
}

func TestEngine_Idempotent(t *testing.T) {
	snapshot := &models.InputSnapshot{
		Lines: []models.StatementLine{
			testLine(t, "L-0001", "POL-0001", "Doe, Jane", "500.00", "2025-01-10"),
			testLine(t, "L-0002", "POL-0002", "Smith, John", "1000.00", "2025-01-10"),
			testLine(t, "L-0003", "POL-0003", "", "510.00", "2025-01-12"),
		},
		BankTxns: []models.BankTransaction{
			testTxn(t, "BTX-1", "500.00", "2025-01-10", "Commission remittance POL-0001"),
			testTxn(t, "BTX-2", "999.50", "2025-01-11", "ACH JOHN SMITH"),
			testTxn(t, "BTX-3", "505.00", "2025-01-12", "remittance"),
		},
	}

	first := runEngine(t, snapshot)
	second := runEngine(t, snapshot)

	if len(first.Results) != len(second.Results) {
		t.Fatalf("result counts differ: %d vs %d", len(first.Results), len(second.Results))
	}
	for i := range first.Results {
		a, b := first.Results[i], second.Results[i]
		if a.LineID != b.LineID || a.Status != b.Status || a.MatchedBankTxnID != b.MatchedBankTxnID ||
			a.Confidence != b.Confidence || a.Reason != b.Reason {
			t.Errorf("run results differ for %s: %+v vs %+v", a.LineID, a, b)
		}
	}
}

func TestEngine_Cancelled(t *testing.T) {
	engine, err := NewEngine(DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := engine.Run(ctx, &models.InputSnapshot{}, "run-cancel", testNow)
	if err == nil || outcome != nil {
		t.Fatalf("expected cancellation error and no outcome, got %v %v", outcome, err)
	}
	if !errors.IsCategory(err, errors.CategoryInternal) {
		t.Errorf("expected internal category, got %v", err)
	}
}

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReviewThreshold = 0.95
	if _, err := NewEngine(cfg); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"weight above one", func(c *Config) { c.Weights.NameHint = 1.5 }, true},
		{"negative weight", func(c *Config) { c.Weights.SoftDate = -0.1 }, true},
		{"review above auto", func(c *Config) { c.ReviewThreshold = 0.95 }, true},
		{"near below exact", func(c *Config) { c.NearAmountTolerance = decimal.Zero }, true},
		{"soft shorter than near", func(c *Config) { c.SoftDateDays = 1 }, true},
		{"bad pattern", func(c *Config) { c.PolicyPattern = "([" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDetectDuplicateRemittances(t *testing.T) {
	txns := []models.BankTransaction{
		testTxn(t, "BTX-2", "120.00", "2025-01-10", "Remit POL-0100"),
		testTxn(t, "BTX-1", "120.00", "2025-01-10", "remit pol-0100"),
		testTxn(t, "BTX-3", "120.00", "2025-01-11", "Remit POL-0100"),
	}

	groups := DetectDuplicateRemittances(txns)
	if len(groups) != 1 {
		t.Fatalf("expected 1 duplicate group, got %d", len(groups))
	}
	if groups[0].GroupID != "DUP_BTX-1" || len(groups[0].BankTxnIDs) != 2 {
		t.Errorf("unexpected group %+v", groups[0])
	}
}
