package store

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewRunID returns a time-ordered run identifier such as run-20250131-142501-1a2b3c4d
func NewRunID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("run-%s-%s", now.UTC().Format("20060102-150405"), suffix)
}

// NextRunSeq returns the sequence number the next run will carry
func (tx *Tx) NextRunSeq() (int64, error) {
	var last struct{ Seq int64 }
	if err := tx.db.Model(&runRow{}).Select("COALESCE(MAX(seq), 0) AS seq").Scan(&last).Error; err != nil {
		return 0, queryError("next run sequence", err)
	}
	return last.Seq + 1, nil
}

// InsertRun writes a run with all of its results and exceptions
func (tx *Tx) InsertRun(run *models.MatchRun, results []models.MatchResult, exceptions []models.Exception) error {
	row := newRunRow(run)
	if err := tx.db.Create(&row).Error; err != nil {
		return queryError("insert match run", err)
	}

	if len(results) > 0 {
		resultRows := make([]resultRow, 0, len(results))
		for _, r := range results {
			rr, err := newResultRow(r)
			if err != nil {
				return errors.InternalError(errors.CodeUnexpectedError, "encode score factors", err)
			}
			resultRows = append(resultRows, rr)
		}
		if err := tx.db.CreateInBatches(resultRows, insertBatchSize).Error; err != nil {
			return queryError("insert match results", err)
		}
	}

	if len(exceptions) > 0 {
		exceptionRows := make([]exceptionRow, 0, len(exceptions))
		for _, e := range exceptions {
			exceptionRows = append(exceptionRows, newExceptionRow(e))
		}
		if err := tx.db.CreateInBatches(exceptionRows, insertBatchSize).Error; err != nil {
			return queryError("insert exceptions", err)
		}
	}
	return nil
}

// Runs lists runs newest first; limit <= 0 returns every run
func (tx *Tx) Runs(limit int) ([]models.MatchRun, error) {
	query := tx.db.Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var rows []runRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, queryError("list match runs", err)
	}
	runs := make([]models.MatchRun, 0, len(rows))
	for _, r := range rows {
		runs = append(runs, r.model())
	}
	return runs, nil
}

// Run returns one run
func (tx *Tx) Run(runID string) (*models.MatchRun, error) {
	var row runRow
	err := tx.db.Where("run_id = ?", runID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError(errors.CodeUnknownRun, "match run", runID)
	}
	if err != nil {
		return nil, queryError("get match run", err)
	}
	run := row.model()
	return &run, nil
}

// LatestRun returns the most recent run
func (tx *Tx) LatestRun() (*models.MatchRun, error) {
	runs, err := tx.Runs(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, errors.NotFoundError(errors.CodeUnknownRun, "match run", "latest").
			WithSuggestion("create a match run first")
	}
	return &runs[0], nil
}

// Results lists the results of a run ordered by line_id
func (tx *Tx) Results(runID string, filter models.ResultFilter) ([]models.MatchResult, error) {
	query := tx.db.Where("run_id = ?", runID)
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Carrier != "" {
		query = query.Where("LOWER(carrier_name) = ?", strings.ToLower(filter.Carrier))
	}
	if filter.Reason != "" {
		query = query.Where("reason LIKE ?", "%"+filter.Reason+"%")
	}

	var rows []resultRow
	if err := query.Order("line_id").Find(&rows).Error; err != nil {
		return nil, queryError("list match results", err)
	}
	results := make([]models.MatchResult, 0, len(rows))
	for _, r := range rows {
		res, err := r.model()
		if err != nil {
			return nil, errors.InternalError(errors.CodeUnexpectedError, "decode score factors", err)
		}
		results = append(results, res)
	}
	return results, nil
}

// Result returns the result of one line in a run
func (tx *Tx) Result(runID, lineID string) (*models.MatchResult, error) {
	var row resultRow
	err := tx.db.Where("run_id = ? AND line_id = ?", runID, lineID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError(errors.CodeUnknownLine, "match result", runID+"/"+lineID)
	}
	if err != nil {
		return nil, queryError("get match result", err)
	}
	res, err := row.model()
	if err != nil {
		return nil, errors.InternalError(errors.CodeUnexpectedError, "decode score factors", err)
	}
	return &res, nil
}
