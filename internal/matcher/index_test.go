package matcher

import (
	"regexp"
	"testing"

	"commission-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

func createTestBankFeed(t *testing.T) []models.BankTransaction {
	return []models.BankTransaction{
		testTxn(t, "BTX-3", "100.50", "2025-01-15", "Remit POL-0001 and POL-0002"),
		testTxn(t, "BTX-1", "100.50", "2025-01-15", "ACH credit"),
		testTxn(t, "BTX-2", "250.00", "2025-01-16", "Commission POL-0002"),
		testTxn(t, "BTX-4", "75.25", "2025-01-17", "misc"),
	}
}

func TestNewBankIndex(t *testing.T) {
	index := NewBankIndex(createTestBankFeed(t), regexp.MustCompile(DefaultPolicyPattern))

	if len(index.All) != 4 {
		t.Fatalf("expected 4 transactions, got %d", len(index.All))
	}
	if index.All[0].BankTxnID != "BTX-1" {
		t.Errorf("expected transactions ordered by id, first is %s", index.All[0].BankTxnID)
	}
	if len(index.AmountRange) != 3 {
		t.Errorf("expected 3 distinct amounts, got %d", len(index.AmountRange))
	}
	if got := len(index.ByPolicy["POL-0002"]); got != 2 {
		t.Errorf("expected POL-0002 in 2 memos, got %d", got)
	}
	if !index.MentionsPolicy("BTX-3", "pol-0001") {
		t.Error("expected case-insensitive policy token lookup")
	}
	if index.MentionsPolicy("BTX-3", "POL-000") {
		t.Error("partial policy numbers must not match")
	}
}

func TestBankIndex_InAmountRange(t *testing.T) {
	index := NewBankIndex(createTestBankFeed(t), regexp.MustCompile(DefaultPolicyPattern))

	tests := []struct {
		name      string
		amount    string
		tolerance string
		want      int
	}{
		{"exact", "100.50", "0", 2},
		{"within tolerance", "80.00", "25.00", 3},
		{"nothing near", "1000.00", "25.00", 0},
		{"everything", "150.00", "200.00", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := index.InAmountRange(decimal.RequireFromString(tt.amount), decimal.RequireFromString(tt.tolerance))
			if len(got) != tt.want {
				t.Errorf("InAmountRange(%s, %s) returned %d, want %d", tt.amount, tt.tolerance, len(got), tt.want)
			}
		})
	}
}

func TestBankIndex_Candidates(t *testing.T) {
	index := NewBankIndex(createTestBankFeed(t), regexp.MustCompile(DefaultPolicyPattern))
	line := testLine(t, "L-1", "POL-0002", "", "500.00", "2025-01-15")

	got := index.Candidates(&line, []string{"POL-0002"}, DefaultConfig())
	if len(got) != 2 || got[0].BankTxnID != "BTX-2" || got[1].BankTxnID != "BTX-3" {
		t.Errorf("expected policy candidates BTX-2 and BTX-3, got %v", got)
	}

	dated := DefaultConfig()
	dated.Weights.NameHint = 0.50
	late := testLine(t, "L-2", "POL-9999", "", "5000.00", "2025-02-15")
	got = index.Candidates(&late, []string{"POL-9999"}, dated)
	if len(got) != 2 || got[0].BankTxnID != "BTX-2" || got[1].BankTxnID != "BTX-4" {
		t.Errorf("expected postings inside the soft window, got %v", got)
	}

	wide := DefaultConfig()
	wide.Weights.NameHint = 0.60
	if all := index.Candidates(&line, []string{"POL-0002"}, wide); len(all) != 4 {
		t.Errorf("expected every transaction when name alone can reach review, got %d", len(all))
	}
}

func TestExtractPolicyNumbers(t *testing.T) {
	pattern := regexp.MustCompile(DefaultPolicyPattern)

	tests := []struct {
		text string
		want []string
	}{
		{"remit pol-0042 and AUT-123456 ref", []string{"POL-0042", "AUT-123456"}},
		{"no policy here", nil},
		{"POL-12 too short", nil},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := ExtractPolicyNumbers(tt.text, pattern)
			if len(got) != len(tt.want) {
				t.Fatalf("ExtractPolicyNumbers(%q) = %v, want %v", tt.text, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("ExtractPolicyNumbers(%q)[%d] = %s, want %s", tt.text, i, got[i], tt.want[i])
				}
			}
		})
	}
}
