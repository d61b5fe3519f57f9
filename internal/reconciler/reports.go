package reconciler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"commission-reconciliation-service/internal/accrual"
	"commission-reconciliation-service/internal/compensation"
	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/recon"
	"commission-reconciliation-service/internal/reporter"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// netting computes producer netting for view from the live split rules and every adjustment
func netting(tx *store.Tx, view *recon.View) (*compensation.Result, error) {
	rules, err := tx.SplitRules(false)
	if err != nil {
		return nil, err
	}
	adjustments, err := tx.Adjustments("")
	if err != nil {
		return nil, err
	}
	return compensation.Calculate(view, rules, adjustments), nil
}

// Netting returns producer payouts for a run; an empty runID selects the latest run
func (s *Service) Netting(ctx context.Context, runID string) (*compensation.Result, error) {
	var result *compensation.Result
	err := s.store.Read(ctx, "compute netting", func(tx *store.Tx) error {
		view, err := loadView(tx, runID)
		if err != nil {
			return err
		}
		result, err = netting(tx, view)
		return err
	})
	return result, err
}

// Producers returns the per-producer summary rows of a run's netting
func (s *Service) Producers(ctx context.Context, runID string) ([]compensation.ProducerPayout, error) {
	result, err := s.Netting(ctx, runID)
	if err != nil {
		return nil, err
	}
	return result.Producers, nil
}

// Accruals returns the accrual and true-up report of a run
func (s *Service) Accruals(ctx context.Context, runID string) (*accrual.Report, error) {
	view, err := s.View(ctx, runID)
	if err != nil {
		return nil, err
	}
	return accrual.Compute(view), nil
}

// Journal returns the GL journal of a run
func (s *Service) Journal(ctx context.Context, runID string) (*reporter.Journal, error) {
	view, err := s.View(ctx, runID)
	if err != nil {
		return nil, err
	}
	return reporter.GenerateJournal(view), nil
}

// PostJournal records the simulated GL posting of a run's journal. A run is
// posted at most once.
func (s *Service) PostJournal(ctx context.Context, req JournalRequest) (*reporter.Journal, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	rec := s.recorder(req.Actor)
	var journal *reporter.Journal
	err := s.store.Update(ctx, "post journal", func(tx *store.Tx) error {
		view, err := loadView(tx, req.RunID)
		if err != nil {
			return err
		}
		posted, err := tx.CountAudit(models.AuditFilter{
			EventType: models.EventGLPosting,
			EntityID:  view.RunID,
		})
		if err != nil {
			return err
		}
		if posted > 0 {
			return errors.ConflictError(errors.CodeDuplicate, "journal", view.RunID, "journal already posted").
				WithSuggestion("Create a new match run to post again")
		}

		journal = reporter.GenerateJournal(view)
		return appendEvent(tx, rec, models.EventGLPosting, models.EntityJournal, view.RunID, "post", nil,
			map[string]interface{}{
				"entries":        journal.Totals.Entries,
				"type_counts":    journal.TypeCounts,
				"posted":         journal.Totals.Posted.StringFixed(2),
				"accrued":        journal.Totals.Accrued.StringFixed(2),
				"pending_review": journal.Totals.PendingReview.StringFixed(2),
			})
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{
		"run_id":  journal.RunID,
		"entries": journal.Totals.Entries,
		"posted":  journal.Totals.Posted.String(),
	}).Info("Journal posted")
	return journal, nil
}

// AuditEvents lists audit events newest first
func (s *Service) AuditEvents(ctx context.Context, filter models.AuditFilter) ([]models.AuditEvent, error) {
	if filter.Limit < 0 {
		return nil, errors.ValidationError(errors.CodeOutOfRange, "limit", filter.Limit, nil)
	}
	var events []models.AuditEvent
	err := s.store.Read(ctx, "list audit events", func(tx *store.Tx) error {
		var err error
		events, err = tx.AuditEvents(filter)
		return err
	})
	return events, err
}

// Export renders the named export of a run into w and records an export
// event. It returns the number of data rows written. Nothing reaches w when
// the export or its audit event fails.
func (s *Service) Export(ctx context.Context, req ExportRequest, w io.Writer) (int, error) {
	if err := s.validateRequest(req); err != nil {
		return 0, err
	}

	rec := s.recorder(req.Actor)
	var buf bytes.Buffer
	rows := 0
	err := s.store.Update(ctx, "export "+req.Name, func(tx *store.Tx) error {
		view, err := loadView(tx, req.RunID)
		if err != nil {
			return err
		}
		payouts, err := netting(tx, view)
		if err != nil {
			return err
		}
		rows, err = reporter.Export(req.Name, reporter.ExportData{
			Accrual: accrual.Compute(view),
			Journal: reporter.GenerateJournal(view),
			Netting: payouts,
		}, &buf)
		if err != nil {
			return err
		}
		return appendEvent(tx, rec, models.EventExport, models.EntityExport, req.Name, "export", nil,
			map[string]interface{}{
				"run_id": view.RunID,
				"rows":   rows,
				"bytes":  buf.Len(),
			})
	})
	if err != nil {
		return 0, err
	}

	if _, err := io.Copy(w, &buf); err != nil {
		return 0, errors.FileError(errors.CodeFilePermission, req.Name, err)
	}
	s.logger.WithFields(logger.Fields{"export": req.Name, "rows": rows}).Info("Export written")
	return rows, nil
}

// Aging ages the pending lines of a run; a zero asOf uses the current date
func (s *Service) Aging(ctx context.Context, runID string, asOf time.Time) (*reporter.AgingReport, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	view, err := s.View(ctx, runID)
	if err != nil {
		return nil, err
	}
	return reporter.Aging(view, asOf), nil
}

// Scorecard scores every carrier of a run
func (s *Service) Scorecard(ctx context.Context, runID string) ([]reporter.CarrierScore, error) {
	view, err := s.View(ctx, runID)
	if err != nil {
		return nil, err
	}
	return reporter.Scorecard(view), nil
}

// RevenueSummary compares statement commission against AMS expectations for a run
func (s *Service) RevenueSummary(ctx context.Context, runID string) (*reporter.RevenueSummary, error) {
	var summary *reporter.RevenueSummary
	err := s.store.Read(ctx, "summarize revenue", func(tx *store.Tx) error {
		view, err := loadView(tx, runID)
		if err != nil {
			return err
		}
		txns, err := tx.BankTransactions()
		if err != nil {
			return err
		}
		summary = reporter.Revenue(view, txns)
		return nil
	})
	return summary, err
}

// BankTransactions lists the bank feed annotated with the latest run's
// matches. Before the first run every transaction reports unmatched.
func (s *Service) BankTransactions(ctx context.Context, counterparty string) (*reporter.BankActivityReport, error) {
	var report *reporter.BankActivityReport
	err := s.store.Read(ctx, "list bank transactions", func(tx *store.Tx) error {
		txns, err := tx.BankTransactions()
		if err != nil {
			return err
		}
		view, err := loadView(tx, "")
		if err != nil && !errors.IsCategory(err, errors.CategoryNotFound) {
			return err
		}
		report = reporter.BankTransactions(view, txns, counterparty)
		return nil
	})
	return report, err
}

// CloseStatus evaluates the month-end close checklist against the latest run
func (s *Service) CloseStatus(ctx context.Context) (*reporter.CloseStatus, error) {
	var status *reporter.CloseStatus
	err := s.store.Read(ctx, "evaluate close", func(tx *store.Tx) error {
		counts, err := tx.InputCounts()
		if err != nil {
			return err
		}
		in := reporter.CloseInput{
			StatementLines: counts.StatementLines,
			BankTxns:       counts.BankTxns,
			Expected:       counts.Expected,
		}

		view, err := loadView(tx, "")
		switch {
		case err == nil:
			in.View = view
			posted, err := tx.CountAudit(models.AuditFilter{
				EventType: models.EventGLPosting,
				EntityID:  view.RunID,
			})
			if err != nil {
				return err
			}
			in.JournalPosted = posted > 0
		case !errors.IsCategory(err, errors.CategoryNotFound):
			return err
		}

		status = reporter.EvaluateClose(in)
		return nil
	})
	return status, err
}

// LineDetail returns one line as seen by a run together with its exception
// history across runs and the audit events that touched it
func (s *Service) LineDetail(ctx context.Context, runID, lineID string) (*reporter.LineDetail, error) {
	lineID = strings.TrimSpace(lineID)
	if lineID == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "line_id", nil, nil)
	}

	var detail *reporter.LineDetail
	err := s.store.Read(ctx, "line detail", func(tx *store.Tx) error {
		view, err := loadView(tx, runID)
		if err != nil {
			return err
		}
		line, ok := view.Line(lineID)
		if !ok {
			return errors.NotFoundError(errors.CodeUnknownLine, "statement line", lineID).
				WithSuggestion(fmt.Sprintf("Line %s is not part of run %s", lineID, view.RunID))
		}
		history, err := tx.ExceptionHistory(lineID)
		if err != nil {
			return err
		}
		events, err := tx.AuditEvents(models.AuditFilter{
			EntityType: models.EntityException,
			EntityID:   lineID,
		})
		if err != nil {
			return err
		}
		detail = reporter.NewLineDetail(view.RunID, line, history, events)
		return nil
	})
	return detail, err
}
