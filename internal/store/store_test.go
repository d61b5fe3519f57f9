package store

import (
	"context"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 2, 1, 9, 30, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	config := DefaultConfig()
	config.Path = filepath.Join(t.TempDir(), "reconciler.db")
	s, err := Open(config)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func date(value string) time.Time {
	d, err := models.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleLines() []models.StatementLine {
	return []models.StatementLine{
		{
			LineID: "L-0001", StatementID: "S-1", CarrierName: "Acme Mutual", PolicyNumber: "POL-0001",
			InsuredName: "Doe, Jane", EffectiveDate: date("2025-01-01"), TxnDate: date("2025-01-10"),
			WrittenPremium: decimal.NewFromInt(5000), GrossCommission: decimal.RequireFromString("500.00"),
			TxnType: models.TxnStandard,
		},
		{
			LineID: "L-0002", StatementID: "S-1", CarrierName: "Acme Mutual", PolicyNumber: "POL-0004",
			InsuredName: "Brown, Al", EffectiveDate: date("2024-06-01"), TxnDate: date("2025-01-20"),
			WrittenPremium: decimal.NewFromInt(-2000), GrossCommission: decimal.RequireFromString("-200.00"),
			TxnType: models.TxnClawback,
		},
	}
}

func commitRun(t *testing.T, s *Store, results []models.MatchResult, exceptions []models.Exception) *models.MatchRun {
	t.Helper()
	var run *models.MatchRun
	err := s.Update(context.Background(), "test run", func(tx *Tx) error {
		seq, err := tx.NextRunSeq()
		if err != nil {
			return err
		}
		run = &models.MatchRun{RunID: NewRunID(testNow), Seq: seq, CreatedAt: testNow, Actor: "tester"}
		for i := range results {
			results[i].RunID = run.RunID
		}
		for i := range exceptions {
			exceptions[i].RunID = run.RunID
		}
		run.Tally(results)
		return tx.InsertRun(run, results, exceptions)
	})
	if err != nil {
		t.Fatalf("commit run: %v", err)
	}
	return run
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(c *Config) {}, false},
		{"empty path", func(c *Config) { c.Path = " " }, true},
		{"memory", func(c *Config) { c.Path = ":memory:" }, true},
		{"negative timeout", func(c *Config) { c.BusyTimeout = -time.Second }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(&config)
			if err := config.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(testNow)
	if !regexp.MustCompile(`^run-20250201-093000-[0-9a-f]{8}$`).MatchString(id) {
		t.Errorf("unexpected run id %q", id)
	}
	if NewRunID(testNow) == id {
		t.Error("run ids must be unique")
	}
}

func TestInputs_IngestIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var first, second InsertCounts
	err := s.Update(ctx, "ingest", func(tx *Tx) error {
		var err error
		first, err = tx.InsertStatementLines(sampleLines(), testNow)
		return err
	})
	if err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	err = s.Update(ctx, "ingest", func(tx *Tx) error {
		var err error
		second, err = tx.InsertStatementLines(sampleLines(), testNow)
		return err
	})
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	if first.Inserted != 2 || first.Skipped != 0 {
		t.Errorf("first ingest = %+v", first)
	}
	if second.Inserted != 0 || second.Skipped != 2 {
		t.Errorf("second ingest = %+v", second)
	}

	err = s.Read(ctx, "read", func(tx *Tx) error {
		line, err := tx.StatementLine("L-0002")
		if err != nil {
			return err
		}
		if !line.GrossCommission.Equal(decimal.NewFromInt(-200)) || line.TxnType != models.TxnClawback {
			t.Errorf("unexpected round trip %+v", line)
		}
		if !line.TxnDate.Equal(date("2025-01-20")) {
			t.Errorf("txn date = %s", line.TxnDate)
		}
		_, err = tx.StatementLine("L-9999")
		if !errors.IsCategory(err, errors.CategoryNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdate_RollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	boom := errors.ComputationError(errors.CodeCalculationFailed, "L-0001", nil)
	err := s.Update(ctx, "failing", func(tx *Tx) error {
		if _, err := tx.InsertStatementLines(sampleLines(), testNow); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("expected the callback error back, got %v", err)
	}

	cancelled, cancel := context.WithCancel(ctx)
	err = s.Update(cancelled, "cancelled", func(tx *Tx) error {
		if _, err := tx.InsertStatementLines(sampleLines(), testNow); err != nil {
			return err
		}
		cancel()
		return nil
	})
	if !errors.IsCategory(err, errors.CategoryInternal) {
		t.Fatalf("expected cancellation error, got %v", err)
	}

	err = s.Read(ctx, "count", func(tx *Tx) error {
		counts, err := tx.InputCounts()
		if err != nil {
			return err
		}
		if counts.StatementLines != 0 {
			t.Errorf("expected no lines after rollback, got %d", counts.StatementLines)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRuns_InsertAndQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	results := []models.MatchResult{
		{
			LineID: "L-0001", PolicyNumber: "POL-0001", AppliedPolicyNumber: "POL-0001", CarrierName: "Acme Mutual",
			MatchedBankTxnID: "BTX-0001", Confidence: 1, Status: models.StatusAutoMatched,
			Factors: []models.ScoreFactor{{Label: models.FactorPolicyInMemo, Weight: 0.55}, {Label: models.FactorExactAmount, Weight: 0.30}},
		},
		{
			LineID: "L-0002", PolicyNumber: "POL-0004", CarrierName: "Acme Mutual", MatchedBankTxnID: "BTX-0004",
			Confidence: 0.95, Status: models.StatusNeedsReview, Reason: "clawback_requires_confirmation",
		},
	}
	exceptions := []models.Exception{
		{LineID: "L-0002", Status: models.ExceptionOpen, Confidence: 0.95, SuggestedBankTxnID: "BTX-0004", CreatedAt: testNow, UpdatedAt: testNow},
	}
	first := commitRun(t, s, results, exceptions)
	second := commitRun(t, s, results, nil)

	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("expected sequences 1 and 2, got %d and %d", first.Seq, second.Seq)
	}

	err := s.Read(ctx, "query", func(tx *Tx) error {
		latest, err := tx.LatestRun()
		if err != nil {
			return err
		}
		if latest.RunID != second.RunID || latest.AutoMatched != 1 || latest.NeedsReview != 1 {
			t.Errorf("unexpected latest run %+v", latest)
		}

		review, err := tx.Results(first.RunID, models.ResultFilter{Status: models.StatusNeedsReview})
		if err != nil {
			return err
		}
		if len(review) != 1 || review[0].LineID != "L-0002" {
			t.Errorf("unexpected filtered results %+v", review)
		}

		byReason, err := tx.Results(first.RunID, models.ResultFilter{Reason: "clawback", Carrier: "acme mutual"})
		if err != nil {
			return err
		}
		if len(byReason) != 1 {
			t.Errorf("expected reason and carrier filter to match one result, got %d", len(byReason))
		}

		res, err := tx.Result(first.RunID, "L-0001")
		if err != nil {
			return err
		}
		if len(res.Factors) != 2 || !res.HasFactor(models.FactorExactAmount) {
			t.Errorf("score factors did not round trip: %+v", res.Factors)
		}

		_, err = tx.Run("run-missing")
		if !errors.IsCategory(err, errors.CategoryNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExceptions_Transitions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	run := commitRun(t, s,
		[]models.MatchResult{{LineID: "L-0002", Status: models.StatusNeedsReview, Confidence: 0.7}},
		[]models.Exception{{LineID: "L-0002", Status: models.ExceptionOpen, Confidence: 0.7, CreatedAt: testNow, UpdatedAt: testNow}},
	)

	transition := func(from []models.ExceptionStatus, to models.ExceptionStatus, action models.ResolutionAction) error {
		return s.Update(ctx, "transition", func(tx *Tx) error {
			var resolvedAt *time.Time
			if to == models.ExceptionResolved {
				resolvedAt = &testNow
			}
			_, err := tx.TransitionException(run.RunID, "L-0002", from, ExceptionChange{
				Status: to, Action: action, ResolvedAt: resolvedAt, UpdatedAt: testNow,
			})
			return err
		})
	}
	openOrDeferred := []models.ExceptionStatus{models.ExceptionOpen, models.ExceptionDeferred}

	tests := []struct {
		name     string
		from     []models.ExceptionStatus
		to       models.ExceptionStatus
		action   models.ResolutionAction
		wantCode errors.ErrorCode
	}{
		{"defer open", []models.ExceptionStatus{models.ExceptionOpen}, models.ExceptionDeferred, models.ActionDefer, ""},
		{"defer again", []models.ExceptionStatus{models.ExceptionOpen}, models.ExceptionDeferred, models.ActionDefer, errors.CodeInvalidState},
		{"reopen deferred", []models.ExceptionStatus{models.ExceptionDeferred}, models.ExceptionOpen, "", ""},
		{"resolve", openOrDeferred, models.ExceptionResolved, models.ActionConfirmReversal, ""},
		{"resolve twice", openOrDeferred, models.ExceptionResolved, models.ActionWriteOff, errors.CodeAlreadyResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := transition(tt.from, tt.to, tt.action)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			rerr, ok := errors.AsReconcilerError(err)
			if !ok || rerr.Category != errors.CategoryConflict || rerr.Code != tt.wantCode {
				t.Fatalf("expected conflict %s, got %v", tt.wantCode, err)
			}
		})
	}

	err := s.Read(ctx, "check", func(tx *Tx) error {
		exc, err := tx.Exception(run.RunID, "L-0002")
		if err != nil {
			return err
		}
		if exc.Status != models.ExceptionResolved || exc.ResolutionAction != models.ActionConfirmReversal || exc.ResolvedAt == nil {
			t.Errorf("second resolve must not mutate the exception: %+v", exc)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExceptions_LatestAndHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := commitRun(t, s,
		[]models.MatchResult{{LineID: "L-0001", Status: models.StatusUnmatched}},
		[]models.Exception{{LineID: "L-0001", Status: models.ExceptionDeferred, CreatedAt: testNow, UpdatedAt: testNow}},
	)
	second := commitRun(t, s,
		[]models.MatchResult{{LineID: "L-0001", Status: models.StatusUnmatched}},
		[]models.Exception{{LineID: "L-0001", Status: models.ExceptionOpen, CreatedAt: testNow, UpdatedAt: testNow}},
	)

	err := s.Read(ctx, "lineage", func(tx *Tx) error {
		latest, err := tx.LatestExceptions(second.Seq)
		if err != nil {
			return err
		}
		if latest["L-0001"].RunID != first.RunID || latest["L-0001"].Status != models.ExceptionDeferred {
			t.Errorf("unexpected latest exception %+v", latest["L-0001"])
		}

		history, err := tx.ExceptionHistory("L-0001")
		if err != nil {
			return err
		}
		if len(history) != 2 || history[0].RunID != first.RunID || history[1].RunID != second.RunID {
			t.Errorf("unexpected history %+v", history)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestPolicyRules_Upsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var previous *models.PolicyRule
	upsert := func(target string) {
		t.Helper()
		err := s.Update(ctx, "upsert", func(tx *Tx) error {
			var err error
			previous, err = tx.UpsertPolicyRule(models.PolicyRule{SourcePolicyNumber: "pol-0o42", TargetPolicyNumber: target}, testNow)
			return err
		})
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	upsert("POL-0042")
	if previous != nil {
		t.Errorf("first upsert must report no previous rule, got %+v", previous)
	}
	upsert("POL-0043")
	if previous == nil || previous.TargetPolicyNumber != "POL-0042" {
		t.Errorf("expected previous target POL-0042, got %+v", previous)
	}

	err := s.Read(ctx, "list", func(tx *Tx) error {
		rules, err := tx.PolicyRules()
		if err != nil {
			return err
		}
		if len(rules) != 1 || rules[0].SourcePolicyNumber != "POL-0O42" || rules[0].TargetPolicyNumber != "POL-0043" {
			t.Errorf("unexpected rules %+v", rules)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSplitRules_Versioning(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	rule := &models.SplitRule{
		RuleID: "SR-1", ProducerID: "PROD-1", SplitPct: decimal.NewFromInt(70), HousePct: decimal.NewFromInt(30),
		FeeType: models.FeeFlat, EffectiveFrom: date("2025-01-01"),
	}
	if err := s.Update(ctx, "create", func(tx *Tx) error { return tx.InsertSplitRule(rule, testNow) }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rule.Version != 1 {
		t.Fatalf("new rule version = %d", rule.Version)
	}

	rule.SplitPct, rule.HousePct = decimal.NewFromInt(60), decimal.NewFromInt(40)
	if err := s.Update(ctx, "update", func(tx *Tx) error { return tx.UpdateSplitRule(rule, 1, testNow) }); err != nil {
		t.Fatalf("update: %v", err)
	}

	err := s.Update(ctx, "stale update", func(tx *Tx) error { return tx.UpdateSplitRule(rule, 1, testNow) })
	if rerr, ok := errors.AsReconcilerError(err); !ok || rerr.Code != errors.CodeStaleVersion {
		t.Fatalf("expected stale version conflict, got %v", err)
	}

	if err := s.Update(ctx, "delete", func(tx *Tx) error { return tx.DeleteSplitRule("SR-1", 2, testNow) }); err != nil {
		t.Fatalf("delete: %v", err)
	}

	err = s.Update(ctx, "delete again", func(tx *Tx) error { return tx.DeleteSplitRule("SR-1", 3, testNow) })
	if !errors.IsCategory(err, errors.CategoryNotFound) {
		t.Errorf("deleting a deleted rule should be not found, got %v", err)
	}

	err = s.Read(ctx, "list", func(tx *Tx) error {
		live, err := tx.SplitRules(false)
		if err != nil {
			return err
		}
		all, err := tx.SplitRules(true)
		if err != nil {
			return err
		}
		if len(live) != 0 || len(all) != 1 {
			t.Errorf("expected soft delete, got %d live and %d total", len(live), len(all))
		}
		if all[0].Version != 3 || !all[0].SplitPct.Equal(decimal.NewFromInt(60)) {
			t.Errorf("unexpected stored rule %+v", all[0])
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestAdjustmentsAndAudit(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	adj := &models.Adjustment{
		AdjID: "ADJ-1", ProducerID: "PROD-1", AdjType: models.AdjClawbackOffset,
		Amount: decimal.NewFromInt(-100), Status: models.AdjustmentPending,
	}
	err := s.Update(ctx, "create adjustment", func(tx *Tx) error {
		if err := tx.InsertAdjustment(adj, testNow); err != nil {
			return err
		}
		return tx.AppendAudit(
			models.AuditEvent{EventType: models.EventAdjustment, EntityType: models.EntityAdjustment, EntityID: "ADJ-1", Action: "created", Actor: "tester", Timestamp: testNow},
			models.AuditEvent{EventType: models.EventIngest, EntityType: models.EntityInputs, EntityID: "batch", Action: "ingested", Actor: "tester", Timestamp: testNow},
		)
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	err = s.Update(ctx, "delete missing", func(tx *Tx) error { return tx.DeleteAdjustment("ADJ-404") })
	if !errors.IsCategory(err, errors.CategoryNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	err = s.Read(ctx, "read", func(tx *Tx) error {
		adjustments, err := tx.Adjustments("PROD-1")
		if err != nil {
			return err
		}
		if len(adjustments) != 1 || !adjustments[0].Amount.Equal(decimal.NewFromInt(-100)) {
			t.Errorf("unexpected adjustments %+v", adjustments)
		}

		events, err := tx.AuditEvents(models.AuditFilter{EntityType: models.EntityAdjustment, EntityID: "ADJ-1"})
		if err != nil {
			return err
		}
		if len(events) != 1 || events[0].Action != "created" {
			t.Errorf("unexpected audit events %+v", events)
		}

		total, err := tx.CountAudit(models.AuditFilter{})
		if err != nil {
			return err
		}
		if total != 2 {
			t.Errorf("expected 2 audit events, got %d", total)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
