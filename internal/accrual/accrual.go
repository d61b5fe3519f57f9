// Package accrual derives the accounting status of every statement line from
// its expected, statement and cash amounts, and rolls the figures up by carrier.
// The calculation is pure: the same reconciled view always yields the same report.
package accrual

import (
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"

	"github.com/shopspring/decimal"
)

// Status is the accrual state of a line
type Status string

const (
	StatusSettled  Status = "settled"
	StatusAccrued  Status = "accrued"
	StatusClawback Status = "clawback"
)

// Entry is the accrual of one statement line
type Entry struct {
	LineID         string             `json:"line_id"`
	PolicyNumber   string             `json:"policy_number"`
	CarrierName    string             `json:"carrier_name"`
	ProducerID     string             `json:"producer_id"`
	Expected       decimal.Decimal    `json:"expected"`
	OnStatement    decimal.Decimal    `json:"on_statement"`
	CashReceived   decimal.Decimal    `json:"cash_received"`
	Accrued        decimal.Decimal    `json:"accrued"`
	TrueUpVariance decimal.Decimal    `json:"true_up_variance"`
	Status         Status             `json:"status"`
	MatchStatus    models.MatchStatus `json:"match_status"`
	Settlement     recon.Settlement   `json:"settlement"`
}

// Totals aggregates a set of entries
type Totals struct {
	Lines          int             `json:"lines"`
	Settled        int             `json:"settled"`
	Expected       decimal.Decimal `json:"expected"`
	OnStatement    decimal.Decimal `json:"on_statement"`
	CashReceived   decimal.Decimal `json:"cash_received"`
	Accrued        decimal.Decimal `json:"accrued"`
	TrueUpVariance decimal.Decimal `json:"true_up_variance"`
}

func (t *Totals) add(e Entry) {
	t.Lines++
	if e.Status == StatusSettled {
		t.Settled++
	}
	t.Expected = t.Expected.Add(e.Expected)
	t.OnStatement = t.OnStatement.Add(e.OnStatement)
	t.CashReceived = t.CashReceived.Add(e.CashReceived)
	t.Accrued = t.Accrued.Add(e.Accrued)
	t.TrueUpVariance = t.TrueUpVariance.Add(e.TrueUpVariance)
}

// CarrierTotals is the roll-up of one carrier
type CarrierTotals struct {
	Carrier string `json:"carrier"`
	Totals
}

// Report is the accrual output of one run
type Report struct {
	RunID     string          `json:"run_id"`
	Entries   []Entry         `json:"entries"`
	ByCarrier []CarrierTotals `json:"by_carrier"`
	Total     Totals          `json:"totals"`
}

// Compute derives one entry per line and the carrier roll-ups
func Compute(view *recon.View) *Report {
	report := &Report{
		RunID:   view.RunID,
		Entries: make([]Entry, 0, len(view.Lines)),
	}
	byCarrier := make(map[string]*CarrierTotals)

	for i := range view.Lines {
		entry := ComputeLine(&view.Lines[i])
		report.Entries = append(report.Entries, entry)
		report.Total.add(entry)

		ct, ok := byCarrier[entry.CarrierName]
		if !ok {
			ct = &CarrierTotals{Carrier: entry.CarrierName}
			byCarrier[entry.CarrierName] = ct
		}
		ct.add(entry)
	}

	for _, carrier := range view.Carriers() {
		report.ByCarrier = append(report.ByCarrier, *byCarrier[carrier])
	}
	return report
}

// ComputeLine derives the accrual of one line:
// accrued = max(on_statement - cash, 0) and true_up = cash - expected.
// Status precedence is clawback, then settled, then accrued.
func ComputeLine(line *recon.Line) Entry {
	onStatement := line.OnStatement()
	cash := line.CashReceived()
	expected := line.ExpectedAmount()

	accrued := decimal.Max(onStatement.Sub(cash), decimal.Zero)

	status := StatusAccrued
	switch {
	case onStatement.IsNegative():
		status = StatusClawback
	case cash.GreaterThanOrEqual(onStatement):
		status = StatusSettled
	}

	return Entry{
		LineID:         line.LineID(),
		PolicyNumber:   line.Line.PolicyNumber,
		CarrierName:    line.Line.CarrierName,
		ProducerID:     line.ProducerID,
		Expected:       expected,
		OnStatement:    onStatement,
		CashReceived:   cash,
		Accrued:        accrued,
		TrueUpVariance: cash.Sub(expected),
		Status:         status,
		MatchStatus:    line.Status(),
		Settlement:     line.Settlement,
	}
}
