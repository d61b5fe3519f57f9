package reporter

import (
	"commission-reconciliation-service/internal/accrual"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"
)

// LineDetail is everything known about one statement line in one run
type LineDetail struct {
	RunID      string                     `json:"run_id"`
	Line       models.StatementLine       `json:"line"`
	Result     *models.MatchResult        `json:"result,omitempty"`
	Exception  *models.Exception          `json:"exception,omitempty"`
	Expected   *models.ExpectedCommission `json:"expected,omitempty"`
	Cash       *models.BankTransaction    `json:"cash,omitempty"`
	ProducerID string                     `json:"producer_id,omitempty"`
	Office     string                     `json:"office,omitempty"`
	Settlement recon.Settlement           `json:"settlement"`
	Accrual    accrual.Entry              `json:"accrual"`
	History    []models.Exception         `json:"exception_history"`
	Audit      []models.AuditEvent        `json:"audit_events"`
}

// NewLineDetail assembles the detail of line. history lists the line's
// exceptions across runs and events the audit trail that names the line.
func NewLineDetail(runID string, line *recon.Line, history []models.Exception, events []models.AuditEvent) *LineDetail {
	if history == nil {
		history = []models.Exception{}
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	return &LineDetail{
		RunID:      runID,
		Line:       line.Line,
		Result:     line.Result,
		Exception:  line.Exception,
		Expected:   line.Expected,
		Cash:       line.Cash,
		ProducerID: line.ProducerID,
		Office:     line.Office,
		Settlement: line.Settlement,
		Accrual:    accrual.ComputeLine(line),
		History:    history,
		Audit:      events,
	}
}
