package reconciler

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"commission-reconciliation-service/internal/matcher"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
)

var testNow = time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)

const (
	testStatements = `carrier_name,statement_id,line_id,policy_number,insured_name,effective_date,txn_date,written_premium,gross_commission,txn_type
Acme Mutual,STMT-01,L-0001,POL-0001,"Doe, Jane",2025-01-01,2025-01-10,5000.00,500.00,standard
Acme Mutual,STMT-01,L-0002,POL-0002,"Smith, John",2025-01-01,2025-01-10,10000.00,1000.00,standard
Acme Mutual,STMT-01,L-0003,POL-0003,"Brown, Al",2025-01-01,2025-01-10,500.00,50.00,standard
`
	testBank = `bank_txn_id,posted_date,amount,counterparty,memo,reference
BTX-1,2025-01-10,500.00,Acme Mutual,Commission remittance POL-0001,ACH-1
BTX-2,2025-01-11,999.50,Acme Mutual,ACH JOHN SMITH,ACH-2
`
	testExpected = `policy_number,producer_id,office,lob,expected_commission,effective_date
POL-0001,PROD-1,North,auto,500.00,2025-01-01
POL-0002,PROD-1,North,home,1000.00,2025-01-01
POL-0003,PROD-2,South,auto,50.00,2025-01-01
`
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func testInputs(t *testing.T, statements string) IngestRequest {
	t.Helper()
	dir := t.TempDir()
	return IngestRequest{
		Statements: writeFile(t, dir, "statement_lines.csv", statements),
		Bank:       writeFile(t, dir, "bank_feed.csv", testBank),
		Expected:   writeFile(t, dir, "expected.csv", testExpected),
		Actor:      "loader",
	}
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	config := store.DefaultConfig()
	config.Path = filepath.Join(t.TempDir(), "reconciler.db")
	st, err := store.Open(config)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { st.Close() })

	engine, err := matcher.NewEngine(matcher.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	service, err := NewService(st, engine, DefaultConfig())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	service.SetClock(func() time.Time { return testNow })
	return service
}

// reconciledService returns a service with the fixture ingested and one run recorded
func reconciledService(t *testing.T) (*Service, *RunResult) {
	t.Helper()
	service := newTestService(t)
	ctx := context.Background()
	if _, err := service.Ingest(ctx, testInputs(t, testStatements)); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	run, err := service.CreateRun(ctx, RunRequest{Actor: "ops"})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	return service, run
}

func assertCode(t *testing.T, err error, category errors.ErrorCategory, code errors.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s/%s error, got nil", category, code)
	}
	recErr, ok := errors.AsReconcilerError(err)
	if !ok {
		t.Fatalf("expected a ReconcilerError, got %T: %v", err, err)
	}
	if recErr.Category != category || recErr.Code != code {
		t.Fatalf("expected %s/%s, got %s/%s: %v", category, code, recErr.Category, recErr.Code, err)
	}
}

func TestNewService_Validation(t *testing.T) {
	engine, err := matcher.NewEngine(matcher.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	if _, err := NewService(nil, engine, nil); err == nil {
		t.Error("expected an error without a store")
	}

	config := DefaultConfig()
	config.MaxBackgroundResolve = 1
	if err := config.Validate(); err == nil {
		t.Error("expected max below default limit to be rejected")
	}
}

func TestIngest(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	req := testInputs(t, testStatements)

	first, err := service.Ingest(ctx, req)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if first.StatementLines.Inserted != 3 || first.BankTxns.Inserted != 2 || first.Expected.Inserted != 3 {
		t.Errorf("unexpected first ingestion counts %+v %+v %+v", first.StatementLines, first.BankTxns, first.Expected)
	}

	t.Run("identical rows are skipped", func(t *testing.T) {
		again, err := service.Ingest(ctx, req)
		if err != nil {
			t.Fatalf("Ingest() error = %v", err)
		}
		if again.Inserted() != 0 || again.StatementLines.Skipped != 3 {
			t.Errorf("expected every row skipped, got %+v", again.StatementLines)
		}
	})

	t.Run("changed row is a conflict", func(t *testing.T) {
		changed := strings.Replace(testStatements, "1000.00,standard", "1100.00,standard", 1)
		_, err := service.Ingest(ctx, testInputs(t, changed))
		assertCode(t, err, errors.CategoryConflict, errors.CodeDuplicate)
	})

	t.Run("missing path", func(t *testing.T) {
		_, err := service.Ingest(ctx, IngestRequest{Statements: req.Statements, Bank: req.Bank})
		assertCode(t, err, errors.CategoryValidation, errors.CodeMissingField)
	})

	events, err := service.AuditEvents(ctx, models.AuditFilter{EventType: models.EventIngest})
	if err != nil {
		t.Fatalf("AuditEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("expected 2 ingest events, got %d", len(events))
	}
}

func TestCreateRun(t *testing.T) {
	t.Run("rejects an empty store", func(t *testing.T) {
		_, err := newTestService(t).CreateRun(context.Background(), RunRequest{})
		assertCode(t, err, errors.CategoryValidation, errors.CodeMissingField)
	})

	service, run := reconciledService(t)
	ctx := context.Background()

	if run.Run.Seq != 1 || run.Run.TotalLines != 3 {
		t.Fatalf("unexpected run %+v", run.Run)
	}
	if run.Run.AutoMatched != 1 || run.Run.NeedsReview != 1 || run.Run.Unmatched != 1 {
		t.Errorf("unexpected tallies %+v", run.Run)
	}
	if run.Run.Actor != "ops" || run.Run.Config == "" {
		t.Errorf("run should record actor and config, got %+v", run.Run)
	}

	exceptions, err := service.ListExceptions(ctx, models.ExceptionFilter{})
	if err != nil {
		t.Fatalf("ListExceptions() error = %v", err)
	}
	if len(exceptions) != 2 {
		t.Fatalf("expected 2 exceptions, got %d", len(exceptions))
	}

	results, err := service.Results(ctx, "", models.ResultFilter{Status: models.StatusAutoMatched})
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	if len(results) != 1 || results[0].LineID != "L-0001" || results[0].MatchedBankTxnID != "BTX-1" {
		t.Errorf("unexpected auto-matched results %+v", results)
	}

	if _, err := service.Results(ctx, "", models.ResultFilter{Status: "bogus"}); err == nil {
		t.Error("expected an invalid status filter to be rejected")
	}
	_, err = service.Run(ctx, "run-missing")
	assertCode(t, err, errors.CategoryNotFound, errors.CodeUnknownRun)
}

func TestResolve(t *testing.T) {
	service, _ := reconciledService(t)
	ctx := context.Background()

	t.Run("manual link defaults to the suggestion", func(t *testing.T) {
		res, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0002", Action: "manual_link", Actor: "alice"})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if res.Exception.Status != models.ExceptionResolved || res.Exception.ResolvedBankTxnID != "BTX-2" {
			t.Errorf("unexpected exception %+v", res.Exception)
		}
		if res.Before.Status != models.ExceptionOpen {
			t.Errorf("expected before state open, got %s", res.Before.Status)
		}
		if res.LearnedRule != nil {
			t.Errorf("no rule should be learned when the policy already matches, got %+v", res.LearnedRule)
		}
	})

	t.Run("resolved exception cannot be resolved again", func(t *testing.T) {
		_, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0002", Action: "write_off"})
		assertCode(t, err, errors.CategoryConflict, errors.CodeAlreadyResolved)
	})

	t.Run("cash already settling another line", func(t *testing.T) {
		_, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "manual_link", BankTxnID: "BTX-1"})
		assertCode(t, err, errors.CategoryConflict, errors.CodeDuplicate)
	})

	t.Run("manual link without suggestion or txn", func(t *testing.T) {
		_, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "manual_link"})
		assertCode(t, err, errors.CategoryValidation, errors.CodeMissingField)
	})

	t.Run("action outside the line vocabulary", func(t *testing.T) {
		_, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "confirm_reversal"})
		assertCode(t, err, errors.CategoryValidation, errors.CodeNotAllowed)
	})

	t.Run("write off does not take a transaction", func(t *testing.T) {
		_, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "write_off", BankTxnID: "BTX-2"})
		assertCode(t, err, errors.CategoryValidation, errors.CodeNotAllowed)
	})

	t.Run("unknown line", func(t *testing.T) {
		_, err := service.Resolve(ctx, ResolveRequest{LineID: "L-9999", Action: "write_off"})
		if !errors.IsCategory(err, errors.CategoryNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})

	t.Run("defer then reopen then write off", func(t *testing.T) {
		deferred, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "defer", Note: "waiting on carrier"})
		if err != nil {
			t.Fatalf("defer error = %v", err)
		}
		if deferred.Exception.Status != models.ExceptionDeferred {
			t.Fatalf("expected deferred, got %s", deferred.Exception.Status)
		}

		_, err = service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "defer"})
		assertCode(t, err, errors.CategoryConflict, errors.CodeInvalidState)

		reopened, err := service.Reopen(ctx, ReopenRequest{LineID: "L-0003"})
		if err != nil {
			t.Fatalf("Reopen() error = %v", err)
		}
		if reopened.Exception.Status != models.ExceptionOpen {
			t.Fatalf("expected open, got %s", reopened.Exception.Status)
		}

		_, err = service.Reopen(ctx, ReopenRequest{LineID: "L-0003"})
		assertCode(t, err, errors.CategoryConflict, errors.CodeInvalidState)

		if _, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "write_off"}); err != nil {
			t.Fatalf("write off error = %v", err)
		}
	})

	events, err := service.AuditEvents(ctx, models.AuditFilter{EntityType: models.EntityException, EntityID: "L-0003"})
	if err != nil {
		t.Fatalf("AuditEvents() error = %v", err)
	}
	if len(events) != 3 {
		t.Errorf("expected defer, reopen and write off events, got %d", len(events))
	}
}

func TestResolve_Concurrent(t *testing.T) {
	service, _ := reconciledService(t)
	ctx := context.Background()

	const workers = 8
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "write_off"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.IsCategory(err, errors.CategoryConflict) && strings.Contains(err.Error(), "already been resolved"):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || conflicts != workers-1 {
		t.Errorf("expected 1 success and %d conflicts, got %d and %d", workers-1, succeeded, conflicts)
	}
}

func TestResolve_CarriedIntoNextRun(t *testing.T) {
	service, _ := reconciledService(t)
	ctx := context.Background()

	if _, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0002", Action: "manual_link"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := service.CreateRun(ctx, RunRequest{})
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if second.Run.Seq != 2 || second.CarriedForward != 1 {
		t.Fatalf("expected seq 2 with one carried exception, got %+v carried %d", second.Run, second.CarriedForward)
	}

	exceptions, err := service.ListExceptions(ctx, models.ExceptionFilter{LineID: "L-0002"})
	if err != nil {
		t.Fatalf("ListExceptions() error = %v", err)
	}
	if len(exceptions) != 1 {
		t.Fatalf("expected one exception in the latest run, got %d", len(exceptions))
	}
	e := exceptions[0]
	if e.Status != models.ExceptionResolved || e.ResolvedBankTxnID != "BTX-2" || e.CarriedFromRunID == "" {
		t.Errorf("resolution was not carried forward: %+v", e)
	}

	cmp, err := service.Compare(ctx, CompareRequest{})
	if err != nil {
		t.Fatalf("Compare() error = %v", err)
	}
	if len(cmp.Changes) != 0 {
		t.Errorf("identical inputs should not change any line, got %+v", cmp.Changes)
	}
	if _, err := service.Compare(ctx, CompareRequest{BaseRunID: second.Run.RunID}); err == nil {
		t.Error("expected a single run id to be rejected")
	}
}

func TestCreateRun_LinkedTransactionNotRematched(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()
	dir := t.TempDir()

	header := "carrier_name,statement_id,line_id,policy_number,insured_name,effective_date,txn_date,written_premium,gross_commission,txn_type\n"
	lineA := "Acme Mutual,STMT-02,L-A,POL-1000,\"Doe, Jane\",2025-01-01,2025-01-10,1000.00,100.00,standard\n"
	lineB := "Acme Mutual,STMT-02,L-B,POL-2000,\"Roe, Rick\",2025-01-01,2025-01-10,3000.00,300.00,standard\n"
	bank := "bank_txn_id,posted_date,amount,counterparty,memo,reference\n" +
		"BTX-Y,2025-01-12,300.00,Acme Mutual,Remit POL-2000,ACH-9\n"
	expected := "policy_number,producer_id,office,lob,expected_commission,effective_date\n" +
		"POL-1000,PROD-1,North,auto,100.00,2025-01-01\n" +
		"POL-2000,PROD-1,North,auto,300.00,2025-01-01\n"

	first := IngestRequest{
		Statements: writeFile(t, dir, "first.csv", header+lineA),
		Bank:       writeFile(t, dir, "bank.csv", bank),
		Expected:   writeFile(t, dir, "expected.csv", expected),
	}
	if _, err := service.Ingest(ctx, first); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if _, err := service.CreateRun(ctx, RunRequest{}); err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	if _, err := service.Resolve(ctx, ResolveRequest{LineID: "L-A", Action: "manual_link", BankTxnID: "BTX-Y"}); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	second := first
	second.Statements = writeFile(t, dir, "second.csv", header+lineA+lineB)
	if _, err := service.Ingest(ctx, second); err != nil {
		t.Fatalf("second Ingest() error = %v", err)
	}
	run, err := service.CreateRun(ctx, RunRequest{})
	if err != nil {
		t.Fatalf("second CreateRun() error = %v", err)
	}

	results, err := service.Results(ctx, run.Run.RunID, models.ResultFilter{})
	if err != nil {
		t.Fatalf("Results() error = %v", err)
	}
	for _, r := range results {
		if r.LineID == "L-B" && r.MatchedBankTxnID == "BTX-Y" && r.Status == models.StatusAutoMatched {
			t.Errorf("BTX-Y is linked to L-A and must not auto-match L-B: %+v", r)
		}
	}

	view, err := service.View(ctx, run.Run.RunID)
	if err != nil {
		t.Fatalf("View() error = %v", err)
	}
	total := decimal.Zero
	holders := 0
	for i := range view.Lines {
		line := &view.Lines[i]
		total = total.Add(line.CashReceived())
		if line.Cash != nil && line.Cash.BankTxnID == "BTX-Y" {
			holders++
		}
	}
	if !total.Equal(decimal.NewFromInt(300)) || holders != 1 {
		t.Errorf("cash = %s across %d lines, want BTX-Y's 300 on exactly one line", total, holders)
	}
}

func TestBackgroundResolve(t *testing.T) {
	service, _ := reconciledService(t)
	ctx := context.Background()

	_, err := service.BackgroundResolve(ctx, BackgroundResolveRequest{Limit: 10000})
	assertCode(t, err, errors.CategoryValidation, errors.CodeOutOfRange)

	result, err := service.BackgroundResolve(ctx, BackgroundResolveRequest{Actor: "bot"})
	if err != nil {
		t.Fatalf("BackgroundResolve() error = %v", err)
	}
	if result.Candidates != 1 || len(result.Resolutions) != 1 {
		t.Fatalf("expected the single needs_review line resolved, got %+v", result)
	}
	if got := result.Resolutions[0].Exception; got.LineID != "L-0002" || got.ResolvedBankTxnID != "BTX-2" {
		t.Errorf("unexpected resolution %+v", got)
	}

	again, err := service.BackgroundResolve(ctx, BackgroundResolveRequest{})
	if err != nil {
		t.Fatalf("BackgroundResolve() error = %v", err)
	}
	if again.Candidates != 0 {
		t.Errorf("resolved exceptions are no longer candidates, got %d", again.Candidates)
	}
}

func TestPolicyRules(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	if _, err := service.SetPolicyRule(ctx, PolicyRuleRequest{SourcePolicyNumber: "pol-1", TargetPolicyNumber: "POL-1"}); err == nil {
		t.Error("expected a self-mapping to be rejected")
	}

	for _, target := range []string{"POL-0042", "POL-0043"} {
		if _, err := service.SetPolicyRule(ctx, PolicyRuleRequest{SourcePolicyNumber: "POL-0O42", TargetPolicyNumber: target}); err != nil {
			t.Fatalf("SetPolicyRule(%s) error = %v", target, err)
		}
	}

	rules, err := service.PolicyRules(ctx)
	if err != nil {
		t.Fatalf("PolicyRules() error = %v", err)
	}
	if len(rules) != 1 || rules[0].TargetPolicyNumber != "POL-0043" {
		t.Errorf("expected one replaced rule, got %+v", rules)
	}

	versions, err := service.RuleVersions(ctx, store.RuleTypePolicy, "pol-0o42")
	if err != nil {
		t.Fatalf("RuleVersions() error = %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 1 || versions[1].ChangeType != models.ChangeUpdated {
		t.Errorf("unexpected versions %+v", versions)
	}

	if _, err := service.RuleVersions(ctx, "bogus", "x"); err == nil {
		t.Error("expected unknown rule type to be rejected")
	}
}

func TestSplitRules(t *testing.T) {
	service, _ := reconciledService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  SplitRuleRequest
		code errors.ErrorCode
	}{
		{"missing producer", SplitRuleRequest{SplitPct: "60"}, errors.CodeMissingField},
		{"not numeric", SplitRuleRequest{ProducerID: "PROD-1", SplitPct: "sixty"}, errors.CodeInvalidValue},
		{"does not sum to 100", SplitRuleRequest{ProducerID: "PROD-1", SplitPct: "60", HousePct: "30"}, errors.CodeOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateSplitRule(ctx, tt.req)
			assertCode(t, err, errors.CategoryValidation, tt.code)
		})
	}

	rule, err := service.CreateSplitRule(ctx, SplitRuleRequest{ProducerID: "PROD-1", SplitPct: "60", Actor: "finance"})
	if err != nil {
		t.Fatalf("CreateSplitRule() error = %v", err)
	}
	if rule.Version != 1 || !rule.HousePct.Equal(hundred.Sub(rule.SplitPct)) || !strings.HasPrefix(rule.RuleID, "SR-") {
		t.Fatalf("unexpected rule %+v", rule)
	}

	update := SplitRuleRequest{RuleID: rule.RuleID, ProducerID: "PROD-1", SplitPct: "70", ExpectedVersion: 1}
	updated, err := service.UpdateSplitRule(ctx, update)
	if err != nil {
		t.Fatalf("UpdateSplitRule() error = %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}

	t.Run("stale version", func(t *testing.T) {
		_, err := service.UpdateSplitRule(ctx, update)
		assertCode(t, err, errors.CategoryConflict, errors.CodeStaleVersion)
		err = service.DeleteSplitRule(ctx, DeleteSplitRuleRequest{RuleID: rule.RuleID, ExpectedVersion: 1})
		assertCode(t, err, errors.CategoryConflict, errors.CodeStaleVersion)
	})

	t.Run("what-if leaves stored rules alone", func(t *testing.T) {
		proposed := SplitRuleRequest{RuleID: rule.RuleID, ProducerID: "PROD-1", SplitPct: "50"}
		whatIf, err := service.WhatIf(ctx, WhatIfRequest{SplitRuleRequest: proposed})
		if err != nil {
			t.Fatalf("WhatIf() error = %v", err)
		}
		if !whatIf.Replaces {
			t.Error("a proposal naming a stored rule should replace it")
		}
		if whatIf.Before.NetPayout.Equal(whatIf.After.NetPayout) {
			t.Errorf("a lower split should change the payout, both are %s", whatIf.After.NetPayout)
		}
		rules, err := service.SplitRules(ctx, false)
		if err != nil {
			t.Fatalf("SplitRules() error = %v", err)
		}
		if len(rules) != 1 || rules[0].Version != 2 {
			t.Errorf("stored rules changed: %+v", rules)
		}
	})

	if err := service.DeleteSplitRule(ctx, DeleteSplitRuleRequest{RuleID: rule.RuleID, ExpectedVersion: 2}); err != nil {
		t.Fatalf("DeleteSplitRule() error = %v", err)
	}
	live, err := service.SplitRules(ctx, false)
	if err != nil {
		t.Fatalf("SplitRules() error = %v", err)
	}
	all, err := service.SplitRules(ctx, true)
	if err != nil {
		t.Fatalf("SplitRules(true) error = %v", err)
	}
	if len(live) != 0 || len(all) != 1 {
		t.Errorf("expected the rule soft-deleted, got %d live and %d total", len(live), len(all))
	}

	versions, err := service.RuleVersions(ctx, store.RuleTypeSplit, rule.RuleID)
	if err != nil {
		t.Fatalf("RuleVersions() error = %v", err)
	}
	if len(versions) != 3 || versions[2].ChangeType != models.ChangeDeleted {
		t.Errorf("expected created, updated and deleted versions, got %+v", versions)
	}
}

func TestAdjustments(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     AdjustmentRequest
		wantErr bool
	}{
		{"positive bonus", AdjustmentRequest{ProducerID: "PROD-1", AdjType: "bonus", Amount: "100.00"}, false},
		{"negative chargeback", AdjustmentRequest{ProducerID: "PROD-1", AdjType: "chargeback", Amount: "-40.00"}, false},
		{"positive chargeback", AdjustmentRequest{ProducerID: "PROD-1", AdjType: "chargeback", Amount: "40.00"}, true},
		{"positive draw advance", AdjustmentRequest{ProducerID: "PROD-2", AdjType: "draw_advance", Amount: "10"}, true},
		{"unknown type", AdjustmentRequest{ProducerID: "PROD-1", AdjType: "gift", Amount: "10"}, true},
		{"bad period", AdjustmentRequest{ProducerID: "PROD-1", AdjType: "bonus", Amount: "10", Period: "2025-13"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.CreateAdjustment(ctx, tt.req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateAdjustment() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	adjustments, err := service.Adjustments(ctx, "PROD-1")
	if err != nil {
		t.Fatalf("Adjustments() error = %v", err)
	}
	if len(adjustments) != 2 {
		t.Fatalf("expected 2 adjustments, got %d", len(adjustments))
	}

	target := adjustments[0]
	updated, err := service.UpdateAdjustment(ctx, AdjustmentRequest{
		AdjID: target.AdjID, ProducerID: "PROD-1", AdjType: string(target.AdjType),
		Amount: target.Amount.String(), Status: "applied",
	})
	if err != nil {
		t.Fatalf("UpdateAdjustment() error = %v", err)
	}
	if updated.Status != models.AdjustmentApplied {
		t.Errorf("expected applied, got %s", updated.Status)
	}

	if err := service.DeleteAdjustment(ctx, DeleteAdjustmentRequest{AdjID: target.AdjID}); err != nil {
		t.Fatalf("DeleteAdjustment() error = %v", err)
	}
	err = service.DeleteAdjustment(ctx, DeleteAdjustmentRequest{AdjID: target.AdjID})
	if !errors.IsCategory(err, errors.CategoryNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestPostJournal(t *testing.T) {
	service, run := reconciledService(t)
	ctx := context.Background()

	status, err := service.CloseStatus(ctx)
	if err != nil {
		t.Fatalf("CloseStatus() error = %v", err)
	}
	if status.Ready || status.RunID != run.Run.RunID {
		t.Errorf("open exceptions should block close, got %+v", status)
	}

	journal, err := service.PostJournal(ctx, JournalRequest{Actor: "controller"})
	if err != nil {
		t.Fatalf("PostJournal() error = %v", err)
	}
	if journal.RunID != run.Run.RunID || journal.Totals.Entries == 0 {
		t.Errorf("unexpected journal %+v", journal.Totals)
	}

	_, err = service.PostJournal(ctx, JournalRequest{RunID: run.Run.RunID})
	assertCode(t, err, errors.CategoryConflict, errors.CodeDuplicate)

	events, err := service.AuditEvents(ctx, models.AuditFilter{EventType: models.EventGLPosting})
	if err != nil {
		t.Fatalf("AuditEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].Actor != "controller" {
		t.Errorf("expected one posting by controller, got %+v", events)
	}
}

func TestExport(t *testing.T) {
	service, _ := reconciledService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		wantRows int
		prefix   string
	}{
		{reporter.ExportAccrual, 3, "line_id,"},
		{reporter.ExportPayout, 2, "producer_id,"},
		{reporter.ExportWorkbook, 0, "PK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rows, err := service.Export(ctx, ExportRequest{Name: tt.name}, &buf)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			if tt.wantRows > 0 && rows != tt.wantRows {
				t.Errorf("expected %d rows, got %d", tt.wantRows, rows)
			}
			if !strings.HasPrefix(buf.String(), tt.prefix) {
				t.Errorf("unexpected export start %q", buf.String()[:min(buf.Len(), 20)])
			}
		})
	}

	var buf bytes.Buffer
	if _, err := service.Export(ctx, ExportRequest{Name: "everything.csv"}, &buf); err == nil {
		t.Error("expected an unknown export to be rejected")
	}
	if buf.Len() != 0 {
		t.Error("a rejected export must not write")
	}

	events, err := service.AuditEvents(ctx, models.AuditFilter{EventType: models.EventExport})
	if err != nil {
		t.Fatalf("AuditEvents() error = %v", err)
	}
	if len(events) != len(tests) {
		t.Errorf("expected %d export events, got %d", len(tests), len(events))
	}
}

func TestReadModels(t *testing.T) {
	service, run := reconciledService(t)
	ctx := context.Background()

	accruals, err := service.Accruals(ctx, "")
	if err != nil {
		t.Fatalf("Accruals() error = %v", err)
	}
	if accruals.RunID != run.Run.RunID || len(accruals.Entries) != 3 {
		t.Errorf("unexpected accrual report %+v", accruals.Total)
	}

	producers, err := service.Producers(ctx, "")
	if err != nil {
		t.Fatalf("Producers() error = %v", err)
	}
	if len(producers) != 2 {
		t.Errorf("expected PROD-1 and PROD-2, got %+v", producers)
	}

	aging, err := service.Aging(ctx, "", time.Time{})
	if err != nil {
		t.Fatalf("Aging() error = %v", err)
	}
	if aging.AsOf != models.FormatDate(testNow) {
		t.Errorf("zero as-of should use the service clock, got %s", aging.AsOf)
	}

	scores, err := service.Scorecard(ctx, "")
	if err != nil {
		t.Fatalf("Scorecard() error = %v", err)
	}
	if len(scores) != 1 || scores[0].Carrier != "Acme Mutual" || scores[0].Lines != 3 {
		t.Errorf("unexpected scorecard %+v", scores)
	}

	revenue, err := service.RevenueSummary(ctx, "")
	if err != nil {
		t.Fatalf("RevenueSummary() error = %v", err)
	}
	if revenue.Totals.Lines != 3 || revenue.Totals.MatchedLines != 1 || !revenue.Totals.Variance.IsZero() {
		t.Errorf("unexpected revenue totals %+v", revenue.Totals)
	}
	if !revenue.BankTotal.Equal(decimal.RequireFromString("1499.50")) {
		t.Errorf("bank total = %s, want 1499.50", revenue.BankTotal)
	}
	if len(revenue.ByLOB) != 2 || revenue.ByLOB[0].Name != "auto" || revenue.ByLOB[0].Lines != 2 {
		t.Errorf("unexpected lob groups %+v", revenue.ByLOB)
	}

	bank, err := service.BankTransactions(ctx, "ACME")
	if err != nil {
		t.Fatalf("BankTransactions() error = %v", err)
	}
	if bank.RunID != run.Run.RunID || bank.Count != 2 {
		t.Fatalf("unexpected bank report run=%s count=%d", bank.RunID, bank.Count)
	}
	if first := bank.Rows[0]; first.BankTxnID != "BTX-1" || first.MatchedLineID != "L-0001" || !first.Settled {
		t.Errorf("unexpected BTX-1 row %+v", first)
	}

	t.Run("line detail", func(t *testing.T) {
		if _, err := service.Resolve(ctx, ResolveRequest{LineID: "L-0003", Action: "defer"}); err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		detail, err := service.LineDetail(ctx, "", "L-0003")
		if err != nil {
			t.Fatalf("LineDetail() error = %v", err)
		}
		if detail.Result == nil || detail.Result.Status != models.StatusUnmatched {
			t.Errorf("unexpected result %+v", detail.Result)
		}
		if len(detail.History) != 1 || len(detail.Audit) != 1 || detail.ProducerID != "PROD-2" {
			t.Errorf("unexpected detail history=%d audit=%d producer=%s", len(detail.History), len(detail.Audit), detail.ProducerID)
		}

		_, err = service.LineDetail(ctx, "", "L-9999")
		assertCode(t, err, errors.CategoryNotFound, errors.CodeUnknownLine)
	})
}

func TestCloseStatus_NoRun(t *testing.T) {
	status, err := newTestService(t).CloseStatus(context.Background())
	if err != nil {
		t.Fatalf("CloseStatus() error = %v", err)
	}
	if status.Ready || status.RunID != "" {
		t.Errorf("an empty store cannot be ready to close, got %+v", status)
	}
}
