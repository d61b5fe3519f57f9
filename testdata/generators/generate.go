package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Scenario is how a generated statement line relates to the bank feed
type Scenario string

const (
	ScenarioExact     Scenario = "exact"
	ScenarioVariance  Scenario = "variance"
	ScenarioNameOnly  Scenario = "name_only"
	ScenarioLate      Scenario = "late"
	ScenarioMissing   Scenario = "missing"
	ScenarioClawback  Scenario = "clawback"
	ScenarioShortfall Scenario = "shortfall"
)

// scenarioWeights is the default mix, in percent
var scenarioWeights = []struct {
	scenario Scenario
	weight   int
}{
	{ScenarioExact, 55},
	{ScenarioVariance, 12},
	{ScenarioNameOnly, 8},
	{ScenarioLate, 6},
	{ScenarioMissing, 9},
	{ScenarioClawback, 4},
	{ScenarioShortfall, 6},
}

var (
	carriers   = []string{"Acme Mutual", "Harbor Life", "Summit Casualty", "Pioneer Specialty"}
	offices    = []string{"North", "South", "East", "West"}
	lobs       = []string{"auto", "home", "life", "commercial"}
	firstNames = []string{"Jane", "John", "Maria", "Wei", "Amir", "Olga", "Kofi", "Lena", "Raj", "Tom"}
	lastNames  = []string{"Doe", "Smith", "Garcia", "Chen", "Haddad", "Ivanova", "Mensah", "Berg", "Patel", "Brown"}
)

// CommissionGenerator builds a consistent set of statement lines, bank
// transactions and expected commissions for one accounting period
type CommissionGenerator struct {
	Lines     int
	Producers int
	Period    time.Time
	OutputDir string
	rng       *rand.Rand
}

type generated struct {
	statements [][]string
	bank       [][]string
	expected   [][]string
	counts     map[Scenario]int
}

func main() {
	var (
		outputDir = flag.String("output-dir", "generated", "Output directory for the CSV files")
		seed      = flag.Int64("seed", time.Now().UnixNano(), "Random seed for reproducible generation")
		lines     = flag.Int("lines", 200, "Number of statement lines")
		producers = flag.Int("producers", 8, "Number of producers")
		period    = flag.String("period", "2025-01", "Accounting period (YYYY-MM)")
	)
	flag.Parse()

	start, err := time.Parse("2006-01", *period)
	if err != nil {
		log.Fatalf("Invalid period %q: %v", *period, err)
	}
	if *lines <= 0 || *producers <= 0 {
		log.Fatalf("lines and producers must be positive")
	}
	if err := os.MkdirAll(*outputDir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	g := &CommissionGenerator{
		Lines:     *lines,
		Producers: *producers,
		Period:    start,
		OutputDir: *outputDir,
		rng:       rand.New(rand.NewSource(*seed)),
	}
	out := g.Generate()

	files := []struct {
		name string
		rows [][]string
	}{
		{"statement_lines.csv", out.statements},
		{"bank_feed.csv", out.bank},
		{"expected.csv", out.expected},
	}
	for _, f := range files {
		if err := g.writeCSV(f.name, f.rows); err != nil {
			log.Fatalf("Failed to write %s: %v", f.name, err)
		}
	}

	fmt.Printf("Generated %d statement lines in %s\n", g.Lines, *outputDir)
	scenarios := make([]string, 0, len(out.counts))
	for s := range out.counts {
		scenarios = append(scenarios, string(s))
	}
	sort.Strings(scenarios)
	for _, s := range scenarios {
		fmt.Printf("  %-10s %d\n", s, out.counts[Scenario(s)])
	}
	fmt.Printf("Seed used: %d\n", *seed)
}

// Generate builds every row. Each line gets its own policy so the scenario of
// a line never leaks into another line's candidates.
func (g *CommissionGenerator) Generate() *generated {
	out := &generated{
		statements: [][]string{{"carrier_name", "statement_id", "line_id", "policy_number", "insured_name",
			"effective_date", "txn_date", "written_premium", "gross_commission", "txn_type"}},
		bank:     [][]string{{"bank_txn_id", "posted_date", "amount", "counterparty", "memo", "reference"}},
		expected: [][]string{{"policy_number", "producer_id", "office", "lob", "expected_commission", "effective_date"}},
		counts:   make(map[Scenario]int),
	}
	periodEnd := g.Period.AddDate(0, 1, -1)
	bankSeq := 0

	for i := 1; i <= g.Lines; i++ {
		scenario := g.pickScenario()
		out.counts[scenario]++

		carrier := carriers[g.rng.Intn(len(carriers))]
		policy := fmt.Sprintf("POL-%05d", i)
		first := firstNames[g.rng.Intn(len(firstNames))]
		last := lastNames[g.rng.Intn(len(lastNames))]
		effective := g.Period.AddDate(0, -g.rng.Intn(6), 0)
		txnDate := g.Period.AddDate(0, 0, g.rng.Intn(periodEnd.Day()))

		premium := decimal.NewFromInt(int64(500 + g.rng.Intn(20000)))
		rate := decimal.NewFromInt(int64(8 + g.rng.Intn(8))).Div(decimal.NewFromInt(100))
		commission := premium.Mul(rate).Round(2)
		txnType := "standard"
		if scenario == ScenarioClawback {
			txnType = "clawback"
			commission = commission.Neg()
			premium = premium.Neg()
		}

		out.statements = append(out.statements, []string{
			carrier,
			fmt.Sprintf("%s-%s", statementPrefix(carrier), g.Period.Format("2006-01")),
			fmt.Sprintf("L-%05d", i),
			policy,
			fmt.Sprintf("%s, %s", last, first),
			effective.Format("2006-01-02"),
			txnDate.Format("2006-01-02"),
			premium.StringFixed(2),
			commission.StringFixed(2),
			txnType,
		})

		expected := commission.Abs()
		if scenario == ScenarioShortfall {
			expected = expected.Add(decimal.NewFromInt(int64(10 + g.rng.Intn(90))))
		}
		out.expected = append(out.expected, []string{
			policy,
			fmt.Sprintf("PROD-%d", 1+g.rng.Intn(g.Producers)),
			offices[g.rng.Intn(len(offices))],
			lobs[g.rng.Intn(len(lobs))],
			expected.StringFixed(2),
			effective.Format("2006-01-02"),
		})

		if scenario == ScenarioMissing {
			continue
		}

		amount := commission
		posted := txnDate.AddDate(0, 0, g.rng.Intn(4))
		memo := "Commission remittance " + policy
		switch scenario {
		case ScenarioVariance:
			cents := decimal.NewFromInt(int64(1 + g.rng.Intn(150))).Div(decimal.NewFromInt(100))
			amount = amount.Sub(cents)
		case ScenarioNameOnly:
			memo = fmt.Sprintf("ACH %s %s", strings.ToUpper(first), strings.ToUpper(last))
		case ScenarioLate:
			posted = txnDate.AddDate(0, 0, 20+g.rng.Intn(15))
		case ScenarioClawback:
			memo = "Commission chargeback " + policy
		}

		bankSeq++
		out.bank = append(out.bank, []string{
			fmt.Sprintf("BTX-%05d", bankSeq),
			posted.Format("2006-01-02"),
			amount.StringFixed(2),
			carrier,
			memo,
			fmt.Sprintf("ACH-%06d", 100000+bankSeq),
		})
	}
	return out
}

func (g *CommissionGenerator) pickScenario() Scenario {
	n := g.rng.Intn(100)
	for _, sw := range scenarioWeights {
		if n < sw.weight {
			return sw.scenario
		}
		n -= sw.weight
	}
	return ScenarioExact
}

func statementPrefix(carrier string) string {
	word := strings.Fields(carrier)[0]
	if len(word) > 4 {
		word = word[:4]
	}
	return strings.ToUpper(word)
}

func (g *CommissionGenerator) writeCSV(filename string, data [][]string) error {
	path := filepath.Join(g.OutputDir, filename)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return err
	}
	fmt.Printf("  Created %s with %d records\n", filename, len(data)-1)
	return nil
}
