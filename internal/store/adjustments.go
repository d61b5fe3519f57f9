package store

import (
	stderrors "errors"
	"time"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/pkg/errors"

	"gorm.io/gorm"
)

// Adjustments lists adjustments ordered by producer and id; an empty producer lists all
func (tx *Tx) Adjustments(producerID string) ([]models.Adjustment, error) {
	query := tx.db.Order("producer_id, adj_id")
	if producerID != "" {
		query = query.Where("producer_id = ?", producerID)
	}
	var rows []adjustmentRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, queryError("list adjustments", err)
	}
	adjustments := make([]models.Adjustment, 0, len(rows))
	for _, r := range rows {
		adjustments = append(adjustments, r.model())
	}
	return adjustments, nil
}

// Adjustment returns one adjustment
func (tx *Tx) Adjustment(adjID string) (*models.Adjustment, error) {
	var row adjustmentRow
	err := tx.db.Where("adj_id = ?", adjID).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.NotFoundError(errors.CodeUnknownRecord, "adjustment", adjID)
	}
	if err != nil {
		return nil, queryError("get adjustment", err)
	}
	adj := row.model()
	return &adj, nil
}

// InsertAdjustment stores a new adjustment
func (tx *Tx) InsertAdjustment(adj *models.Adjustment, now time.Time) error {
	adj.CreatedAt, adj.UpdatedAt = now, now
	row := newAdjustmentRow(*adj)
	if err := tx.db.Create(&row).Error; err != nil {
		return queryError("insert adjustment", err)
	}
	return nil
}

// UpdateAdjustment replaces the mutable fields of an existing adjustment
func (tx *Tx) UpdateAdjustment(adj *models.Adjustment, now time.Time) error {
	result := tx.db.Model(&adjustmentRow{}).
		Where("adj_id = ?", adj.AdjID).
		Updates(map[string]interface{}{
			"producer_id": adj.ProducerID,
			"adj_type":    string(adj.AdjType),
			"amount":      adj.Amount,
			"description": adj.Description,
			"period":      adj.Period,
			"status":      string(adj.Status),
			"updated_at":  now,
		})
	if result.Error != nil {
		return queryError("update adjustment", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError(errors.CodeUnknownRecord, "adjustment", adj.AdjID)
	}
	adj.UpdatedAt = now
	return nil
}

// DeleteAdjustment removes an adjustment
func (tx *Tx) DeleteAdjustment(adjID string) error {
	result := tx.db.Where("adj_id = ?", adjID).Delete(&adjustmentRow{})
	if result.Error != nil {
		return queryError("delete adjustment", result.Error)
	}
	if result.RowsAffected == 0 {
		return errors.NotFoundError(errors.CodeUnknownRecord, "adjustment", adjID)
	}
	return nil
}
