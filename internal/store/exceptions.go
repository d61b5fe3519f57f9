package store

import (
	stderrors "errors"
	"fmt"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"gorm.io/gorm"
)

// ExceptionChange is the new state written by an exception transition
type ExceptionChange struct {
	Status            models.ExceptionStatus
	Action            models.ResolutionAction
	ResolvedBankTxnID string
	Note              string
	ResolvedAt        *time.Time
	UpdatedAt         time.Time
}

// Exceptions lists exceptions ordered by line_id; an empty RunID lists every run
func (tx *Tx) Exceptions(filter models.ExceptionFilter) ([]models.Exception, error) {
	query := tx.db.Model(&exceptionRow{})
	if filter.RunID != "" {
		query = query.Where("run_id = ?", filter.RunID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.LineID != "" {
		query = query.Where("line_id = ?", filter.LineID)
	}

	var rows []exceptionRow
	if err := query.Order("line_id, run_id").Find(&rows).Error; err != nil {
		return nil, queryError("list exceptions", err)
	}
	return exceptionModels(rows), nil
}

// Exception returns the exception of a line in a run
func (tx *Tx) Exception(runID, lineID string) (*models.Exception, error) {
	var row exceptionRow
	err := tx.db.Where("run_id = ? AND line_id = ?", runID, lineID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError(errors.CodeUnknownException, "exception", lineID).
			WithContext("run_id", runID)
	}
	if err != nil {
		return nil, queryError("get exception", err)
	}
	exc := row.model()
	return &exc, nil
}

// ExceptionHistory returns every exception recorded for a line, oldest run first
func (tx *Tx) ExceptionHistory(lineID string) ([]models.Exception, error) {
	var rows []exceptionRow
	err := tx.db.Table("exceptions").
		Select("exceptions.*").
		Joins("JOIN match_runs ON match_runs.run_id = exceptions.run_id").
		Where("exceptions.line_id = ?", lineID).
		Order("match_runs.seq").
		Find(&rows).Error
	if err != nil {
		return nil, queryError("exception history", err)
	}
	return exceptionModels(rows), nil
}

// LatestExceptions returns, per line, the exception from the most recent run
// with sequence below beforeSeq that recorded one
func (tx *Tx) LatestExceptions(beforeSeq int64) (map[string]models.Exception, error) {
	var rows []exceptionRow
	err := tx.db.Table("exceptions").
		Select("exceptions.*").
		Joins("JOIN match_runs ON match_runs.run_id = exceptions.run_id").
		Where("match_runs.seq < ?", beforeSeq).
		Order("match_runs.seq DESC").
		Find(&rows).Error
	if err != nil {
		return nil, queryError("latest exceptions", err)
	}

	latest := make(map[string]models.Exception)
	for _, r := range rows {
		if _, seen := latest[r.LineID]; !seen {
			latest[r.LineID] = r.model()
		}
	}
	return latest, nil
}

// TransitionException moves an exception to a new state provided its current
// status is one of from. It returns the state before the change. A missing
// exception is a NotFoundError; any other status is a ConflictError.
func (tx *Tx) TransitionException(runID, lineID string, from []models.ExceptionStatus, change ExceptionChange) (*models.Exception, error) {
	before, err := tx.Exception(runID, lineID)
	if err != nil {
		return nil, err
	}

	allowed := make([]string, 0, len(from))
	for _, s := range from {
		allowed = append(allowed, string(s))
	}

	result := tx.db.Model(&exceptionRow{}).
		Where("run_id = ? AND line_id = ? AND status IN ?", runID, lineID, allowed).
		Updates(map[string]interface{}{
			"status":               string(change.Status),
			"resolution_action":    string(change.Action),
			"resolved_bank_txn_id": change.ResolvedBankTxnID,
			"resolution_note":      change.Note,
			"resolved_at":          change.ResolvedAt,
			"updated_at":           change.UpdatedAt,
		})
	if result.Error != nil {
		return nil, queryError("transition exception", result.Error)
	}
	if result.RowsAffected == 0 {
		code := errors.CodeInvalidState
		if before.Status == models.ExceptionResolved {
			code = errors.CodeAlreadyResolved
		}
		return nil, errors.ConflictError(code, "exception", lineID,
			fmt.Sprintf("status is %s, expected one of %v", before.Status, allowed)).
			WithContext("run_id", runID)
	}
	return before, nil
}

func exceptionModels(rows []exceptionRow) []models.Exception {
	exceptions := make([]models.Exception, 0, len(rows))
	for _, r := range rows {
		exceptions = append(exceptions, r.model())
	}
	return exceptions
}
