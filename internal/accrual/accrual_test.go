package accrual

import (
	"testing"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"

	"github.com/shopspring/decimal"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func lineView(onStatement, cash, expected string, txnType models.TxnType) *recon.Line {
	line := &recon.Line{
		Line: models.StatementLine{
			LineID: "L-1", PolicyNumber: "POL-1", CarrierName: "Acme",
			GrossCommission: dec(onStatement), TxnType: txnType,
		},
		ProducerID: "PROD-1",
	}
	if cash != "" {
		line.Cash = &models.BankTransaction{BankTxnID: "B-1", Amount: dec(cash)}
	}
	if expected != "" {
		line.Expected = &models.ExpectedCommission{PolicyNumber: "POL-1", ExpectedCommission: dec(expected)}
	}
	return line
}

func TestComputeLine(t *testing.T) {
	tests := []struct {
		name        string
		onStatement string
		cash        string
		expected    string
		txnType     models.TxnType
		wantAccrued string
		wantTrueUp  string
		wantStatus  Status
	}{
		{"fully paid", "500.00", "500.00", "500.00", models.TxnStandard, "0", "0", StatusSettled},
		{"short paid", "1000.00", "999.50", "1000.00", models.TxnStandard, "0.50", "-0.50", StatusAccrued},
		{"overpaid", "300.00", "320.00", "300.00", models.TxnStandard, "0", "20", StatusSettled},
		{"no cash", "150.00", "", "160.00", models.TxnStandard, "150", "-160", StatusAccrued},
		{"no expected row", "150.00", "150.00", "", models.TxnStandard, "0", "150", StatusSettled},
		{"confirmed clawback", "-200.00", "-200.00", "0", models.TxnClawback, "0", "-200", StatusClawback},
		{"unpaid clawback", "-200.00", "", "0", models.TxnClawback, "0", "0", StatusClawback},
		{"zero line", "0", "", "", models.TxnEndorsement, "0", "0", StatusSettled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := ComputeLine(lineView(tt.onStatement, tt.cash, tt.expected, tt.txnType))
			if !entry.Accrued.Equal(dec(tt.wantAccrued)) {
				t.Errorf("accrued = %s, want %s", entry.Accrued, tt.wantAccrued)
			}
			if !entry.TrueUpVariance.Equal(dec(tt.wantTrueUp)) {
				t.Errorf("true_up = %s, want %s", entry.TrueUpVariance, tt.wantTrueUp)
			}
			if entry.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", entry.Status, tt.wantStatus)
			}
			if entry.Accrued.IsNegative() {
				t.Error("accrued can never be negative")
			}
		})
	}
}

func TestCompute_RollsUpByCarrier(t *testing.T) {
	view := recon.Build(recon.Input{
		Run: models.MatchRun{RunID: "run-1"},
		Lines: []models.StatementLine{
			{LineID: "L-1", PolicyNumber: "POL-1", CarrierName: "Beacon", GrossCommission: dec("100"), TxnType: models.TxnStandard},
			{LineID: "L-2", PolicyNumber: "POL-2", CarrierName: "Acme", GrossCommission: dec("500"), TxnType: models.TxnStandard},
			{LineID: "L-3", PolicyNumber: "POL-3", CarrierName: "Acme", GrossCommission: dec("250"), TxnType: models.TxnStandard},
		},
		BankTxns: []models.BankTransaction{{BankTxnID: "B-2", Amount: dec("500")}},
		Expected: []models.ExpectedCommission{
			{PolicyNumber: "POL-2", ProducerID: "PROD-1", ExpectedCommission: dec("480")},
			{PolicyNumber: "POL-3", ProducerID: "PROD-1", ExpectedCommission: dec("250")},
		},
		Results: []models.MatchResult{
			{LineID: "L-2", Status: models.StatusAutoMatched, MatchedBankTxnID: "B-2"},
		},
	})

	report := Compute(view)
	if len(report.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(report.Entries))
	}
	if again := Compute(view); !again.Total.Accrued.Equal(report.Total.Accrued) || again.Total.Lines != report.Total.Lines {
		t.Error("recomputing the same view must give the same totals")
	}

	if len(report.ByCarrier) != 2 || report.ByCarrier[0].Carrier != "Acme" {
		t.Fatalf("unexpected carrier roll-up %+v", report.ByCarrier)
	}
	acme := report.ByCarrier[0]
	if acme.Lines != 2 || acme.Settled != 1 || !acme.Accrued.Equal(dec("250")) || !acme.TrueUpVariance.Equal(dec("-230")) {
		t.Errorf("unexpected Acme totals %+v", acme.Totals)
	}
	if !report.Total.Accrued.Equal(dec("350")) || !report.Total.OnStatement.Equal(dec("850")) {
		t.Errorf("unexpected grand totals %+v", report.Total)
	}
}
