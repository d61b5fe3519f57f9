package reporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"commission-reconciliation-service/internal/accrual"
	"commission-reconciliation-service/internal/compensation"
	"commission-reconciliation-service/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Export names
const (
	ExportAccrual  = "accrual.csv"
	ExportJournal  = "journal.csv"
	ExportPayout   = "producer-payout.csv"
	ExportWorkbook = "reconciliation.xlsx"
)

// ExportNames lists every export
var ExportNames = []string{ExportAccrual, ExportJournal, ExportPayout, ExportWorkbook}

// IsExport reports whether name is a known export
func IsExport(name string) bool {
	for _, n := range ExportNames {
		if n == name {
			return true
		}
	}
	return false
}

// ContentType returns the MIME type of an export
func ContentType(name string) string {
	if name == ExportWorkbook {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv"
}

// ExportData is the derived state every export renders
type ExportData struct {
	Accrual *accrual.Report
	Journal *Journal
	Netting *compensation.Result
}

// table is one export rendered as rows. numeric marks the columns written as
// numbers in the workbook.
type table struct {
	sheet   string
	header  []string
	numeric map[int]bool
	rows    [][]string
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func accrualTable(report *accrual.Report) table {
	t := table{
		sheet: "Accrual",
		header: []string{"line_id", "policy_number", "carrier_name", "producer_id", "expected", "on_statement",
			"cash_received", "accrued", "true_up_variance", "status", "match_status", "settlement"},
		numeric: map[int]bool{4: true, 5: true, 6: true, 7: true, 8: true},
	}
	for _, e := range report.Entries {
		t.rows = append(t.rows, []string{
			e.LineID, e.PolicyNumber, e.CarrierName, e.ProducerID,
			money(e.Expected), money(e.OnStatement), money(e.CashReceived), money(e.Accrued), money(e.TrueUpVariance),
			string(e.Status), string(e.MatchStatus), string(e.Settlement),
		})
	}
	return t
}

func journalTable(journal *Journal) table {
	t := table{
		sheet: "Journal",
		header: []string{"je_id", "line_id", "policy_number", "carrier", "type", "debit_account", "credit_account",
			"amount", "status", "description"},
		numeric: map[int]bool{7: true},
	}
	for _, e := range journal.Entries {
		t.rows = append(t.rows, []string{
			e.EntryID, e.LineID, e.PolicyNumber, e.Carrier, string(e.Type), e.DebitAccount, e.CreditAccount,
			money(e.Amount), string(e.Status), e.Description,
		})
	}
	return t
}

func payoutTable(netting *compensation.Result) table {
	t := table{
		sheet: "Producer Payout",
		header: []string{"producer_id", "office", "lines", "gross_commission", "producer_share", "house_share", "fees",
			"clawback_exposure", "adjustments_total", "net_payout"},
		numeric: map[int]bool{2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true, 9: true},
	}
	for _, p := range netting.Producers {
		t.rows = append(t.rows, []string{
			p.ProducerID, p.Office, strconv.Itoa(p.Lines),
			money(p.GrossCommission), money(p.ProducerShare), money(p.HouseShare), money(p.Fees),
			money(p.ClawbackExposure), money(p.AdjustmentsTotal), money(p.NetPayout),
		})
	}
	return t
}

func (d ExportData) tables() ([]table, error) {
	if d.Accrual == nil || d.Journal == nil || d.Netting == nil {
		return nil, errors.ValidationError(errors.CodeMissingField, "export_data", nil, nil).
			WithSuggestion("Compute accruals, journal and netting before exporting")
	}
	return []table{accrualTable(d.Accrual), journalTable(d.Journal), payoutTable(d.Netting)}, nil
}

func (d ExportData) table(name string) (table, error) {
	tables, err := d.tables()
	if err != nil {
		return table{}, err
	}
	switch name {
	case ExportAccrual:
		return tables[0], nil
	case ExportJournal:
		return tables[1], nil
	case ExportPayout:
		return tables[2], nil
	default:
		return table{}, errors.NotFoundError(errors.CodeUnknownRecord, "export", name)
	}
}

// Export writes the named export to w and returns the number of data rows
func Export(name string, data ExportData, w io.Writer) (int, error) {
	if name == ExportWorkbook {
		return WriteWorkbook(data, w)
	}
	t, err := data.table(name)
	if err != nil {
		return 0, err
	}
	return len(t.rows), writeCSV(t, w)
}

func writeCSV(t table, w io.Writer) error {
	csvWriter := csv.NewWriter(w)
	if err := csvWriter.Write(t.header); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "write csv header", err)
	}
	if err := csvWriter.WriteAll(t.rows); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "write csv rows", err)
	}
	return nil
}

// WriteWorkbook writes the accrual, journal and payout sheets as one XLSX file
func WriteWorkbook(data ExportData, w io.Writer) (int, error) {
	tables, err := data.tables()
	if err != nil {
		return 0, err
	}

	f := excelize.NewFile()
	defer f.Close()

	rows := 0
	for i, t := range tables {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", t.sheet); err != nil {
				return 0, workbookError(err)
			}
		} else if _, err := f.NewSheet(t.sheet); err != nil {
			return 0, workbookError(err)
		}
		if err := writeSheet(f, t); err != nil {
			return 0, err
		}
		rows += len(t.rows)
	}

	if err := f.Write(w); err != nil {
		return 0, workbookError(err)
	}
	return rows, nil
}

func writeSheet(f *excelize.File, t table) error {
	header := make([]interface{}, len(t.header))
	for i, h := range t.header {
		header[i] = h
	}
	if err := f.SetSheetRow(t.sheet, "A1", &header); err != nil {
		return workbookError(err)
	}

	for r, row := range t.rows {
		values := make([]interface{}, len(row))
		for c, v := range row {
			values[c] = v
			if !t.numeric[c] {
				continue
			}
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				values[c] = n
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return workbookError(err)
		}
		if err := f.SetSheetRow(t.sheet, cell, &values); err != nil {
			return workbookError(err)
		}
	}
	return nil
}

func workbookError(err error) error {
	return errors.InternalError(errors.CodeUnexpectedError, fmt.Sprintf("write %s", ExportWorkbook), err)
}
