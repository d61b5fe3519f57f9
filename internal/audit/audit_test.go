package audit

import (
	"strings"
	"testing"
	"time"

	"commission-reconciliation-service/internal/models"
)

func fixedRecorder() Recorder {
	return Recorder{Actor: "alice", Now: func() time.Time { return time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC) }}
}

func TestRecorder_Event(t *testing.T) {
	before := StateOf(&models.Exception{Status: models.ExceptionOpen})
	after := StateOf(&models.Exception{Status: models.ExceptionResolved, ResolutionAction: models.ActionManualLink, ResolvedBankTxnID: "BTX-1"})

	event, err := fixedRecorder().Event(models.EventExceptionResolved, models.EntityException, "L-1", "resolve", before, after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.OldValue != `{"status":"open"}` {
		t.Errorf("old value = %s", event.OldValue)
	}
	if !strings.Contains(event.NewValue, `"resolution_action":"manual_link"`) || !strings.Contains(event.NewValue, `"resolved_bank_txn_id":"BTX-1"`) {
		t.Errorf("new value = %s", event.NewValue)
	}
	if event.Actor != "alice" || !event.Timestamp.Equal(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected stamp %s at %s", event.Actor, event.Timestamp)
	}
}

func TestRecorder_Defaults(t *testing.T) {
	r := NewRecorder("")
	if r.Actor != DefaultActor {
		t.Errorf("actor = %s, want %s", r.Actor, DefaultActor)
	}
	if r.As("bob").Actor != "bob" || r.As("").Actor != DefaultActor {
		t.Error("As must override only with a non-empty actor")
	}

	event, err := Recorder{}.Detailed(models.EventExport, models.EntityExport, "accrual.csv", "export", "12 rows", nil, "accrual.csv")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Actor != DefaultActor || event.OldValue != "" || event.NewValue != "accrual.csv" || event.Detail != "12 rows" {
		t.Errorf("unexpected event %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp must be set")
	}
}

func TestEncode_Unsupported(t *testing.T) {
	if _, err := Encode(make(chan int)); err == nil {
		t.Error("expected an error encoding a channel")
	}
}

func TestCompare_PolicyRuleLiftsOneLine(t *testing.T) {
	baseAt := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	ruleAt := baseAt.Add(time.Hour)
	targetAt := baseAt.Add(2 * time.Hour)

	in := CompareInput{
		Base:   models.MatchRun{RunID: "run-a", CreatedAt: baseAt},
		Target: models.MatchRun{RunID: "run-b", CreatedAt: targetAt},
		BaseResults: []models.MatchResult{
			{LineID: "L-1", PolicyNumber: "POL-1", Status: models.StatusAutoMatched, Confidence: 1, MatchedBankTxnID: "B-1"},
			{LineID: "L-2", PolicyNumber: "POL-0O42", Status: models.StatusNeedsReview, Confidence: 0.65, MatchedBankTxnID: "B-2",
				Factors: []models.ScoreFactor{{Label: models.FactorExactAmount, Weight: 0.3}, {Label: models.FactorNameHint, Weight: 0.3}}},
		},
		TargetResults: []models.MatchResult{
			{LineID: "L-2", PolicyNumber: "POL-0O42", Status: models.StatusAutoMatched, Confidence: 0.95, MatchedBankTxnID: "B-2",
				Factors: []models.ScoreFactor{{Label: models.FactorPolicyInMemo, Weight: 0.55}, {Label: models.FactorExactAmount, Weight: 0.3}, {Label: models.FactorPolicyRuleOverride, Weight: 0.05}}},
			{LineID: "L-1", PolicyNumber: "POL-1", Status: models.StatusAutoMatched, Confidence: 1, MatchedBankTxnID: "B-1"},
		},
		Rules: []models.PolicyRule{
			{SourcePolicyNumber: "POL-0O42", TargetPolicyNumber: "POL-0042", UpdatedAt: ruleAt},
			{SourcePolicyNumber: "POL-OLD", TargetPolicyNumber: "POL-0001", UpdatedAt: baseAt.Add(-time.Hour)},
		},
	}

	cmp := Compare(in)

	if len(cmp.Changes) != 1 {
		t.Fatalf("expected exactly one change, got %+v", cmp.Changes)
	}
	change := cmp.Changes[0]
	if change.LineID != "L-2" || change.OldStatus != models.StatusNeedsReview || change.NewStatus != models.StatusAutoMatched {
		t.Errorf("unexpected change %+v", change)
	}
	if change.ConfidenceDelta != 0.3 {
		t.Errorf("confidence delta = %v, want 0.3", change.ConfidenceDelta)
	}
	if len(change.RulesAdded) != 1 || change.RulesAdded[0].TargetPolicyNumber != "POL-0042" {
		t.Errorf("unexpected rules added %+v", change.RulesAdded)
	}
	if len(change.FactorsGained) != 2 || len(change.FactorsLost) != 1 || change.FactorsLost[0] != models.FactorNameHint {
		t.Errorf("gained %v lost %v", change.FactorsGained, change.FactorsLost)
	}
	if !strings.Contains(change.Explanation, "needs_review → auto_matched because policy rule POL-0O42→POL-0042 was added") {
		t.Errorf("explanation = %q", change.Explanation)
	}
	if change.Direction != DirectionImproved {
		t.Errorf("direction = %s", change.Direction)
	}

	if cmp.Improved != 1 || cmp.Regressed != 0 || cmp.Unchanged != 1 {
		t.Errorf("improved/regressed/unchanged = %d/%d/%d", cmp.Improved, cmp.Regressed, cmp.Unchanged)
	}
	if len(cmp.Transitions) != 1 || cmp.Transitions[0].String() != "needs_review → auto_matched" || cmp.Transitions[0].Count != 1 {
		t.Errorf("unexpected transitions %+v", cmp.Transitions)
	}
	if cmp.AvgConfidenceDelta != 0.3 {
		t.Errorf("average delta = %v, want 0.3", cmp.AvgConfidenceDelta)
	}
}

func TestCompare_Regressions(t *testing.T) {
	tests := []struct {
		name          string
		base          models.MatchResult
		target        models.MatchResult
		wantDirection Direction
		wantInExplain string
	}{
		{
			name:          "lost its match",
			base:          models.MatchResult{LineID: "L-1", Status: models.StatusAutoMatched, Confidence: 0.92, MatchedBankTxnID: "B-1"},
			target:        models.MatchResult{LineID: "L-1", Status: models.StatusUnmatched, Confidence: 0.4},
			wantDirection: DirectionRegressed,
			wantInExplain: "bank txn B-1 → none",
		},
		{
			name:          "same status new transaction",
			base:          models.MatchResult{LineID: "L-1", Status: models.StatusNeedsReview, Confidence: 0.7, MatchedBankTxnID: "B-1"},
			target:        models.MatchResult{LineID: "L-1", Status: models.StatusNeedsReview, Confidence: 0.7, MatchedBankTxnID: "B-2"},
			wantDirection: DirectionUnchanged,
			wantInExplain: "bank txn B-1 → B-2",
		},
		{
			name:          "confidence moved",
			base:          models.MatchResult{LineID: "L-1", Status: models.StatusNeedsReview, Confidence: 0.7},
			target:        models.MatchResult{LineID: "L-1", Status: models.StatusNeedsReview, Confidence: 0.75},
			wantDirection: DirectionUnchanged,
			wantInExplain: "confidence 0.700 → 0.750",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := Compare(CompareInput{
				BaseResults:   []models.MatchResult{tt.base},
				TargetResults: []models.MatchResult{tt.target},
			})
			if len(cmp.Changes) != 1 {
				t.Fatalf("expected one change, got %d", len(cmp.Changes))
			}
			if cmp.Changes[0].Direction != tt.wantDirection {
				t.Errorf("direction = %s, want %s", cmp.Changes[0].Direction, tt.wantDirection)
			}
			if !strings.Contains(cmp.Changes[0].Explanation, tt.wantInExplain) {
				t.Errorf("explanation %q does not mention %q", cmp.Changes[0].Explanation, tt.wantInExplain)
			}
		})
	}
}

func TestCompare_NewLine(t *testing.T) {
	cmp := Compare(CompareInput{
		TargetResults: []models.MatchResult{{LineID: "L-9", Status: models.StatusUnmatched, Reason: "no_candidates"}},
	})
	if len(cmp.Changes) != 1 || cmp.Changes[0].OldStatus != "" || cmp.Changes[0].Explanation != "new line: unmatched" {
		t.Fatalf("unexpected changes %+v", cmp.Changes)
	}
	if cmp.Transitions[0].String() != "new → unmatched" {
		t.Errorf("transition = %s", cmp.Transitions[0])
	}
	if cmp.Improved+cmp.Regressed+cmp.Unchanged != 0 {
		t.Error("a new line has no prior status to compare")
	}
}
