package store

import (
	"commission-reconciliation-service/internal/models"

	"gorm.io/gorm"
)

const defaultAuditLimit = 500

// AppendAudit appends events to the audit log. Events are never updated or deleted.
func (tx *Tx) AppendAudit(events ...models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]auditRow, 0, len(events))
	for _, e := range events {
		rows = append(rows, auditRow{
			EventType:  e.EventType,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Action:     e.Action,
			OldValue:   e.OldValue,
			NewValue:   e.NewValue,
			Actor:      e.Actor,
			Detail:     e.Detail,
			Timestamp:  e.Timestamp,
		})
	}
	if err := tx.db.CreateInBatches(rows, insertBatchSize).Error; err != nil {
		return queryError("append audit events", err)
	}
	return nil
}

// AuditEvents lists events newest first
func (tx *Tx) AuditEvents(filter models.AuditFilter) ([]models.AuditEvent, error) {
	query := tx.auditQuery(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}

	var rows []auditRow
	if err := query.Order("event_id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, queryError("list audit events", err)
	}
	events := make([]models.AuditEvent, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.model())
	}
	return events, nil
}

// CountAudit counts events matching the filter, ignoring its limit
func (tx *Tx) CountAudit(filter models.AuditFilter) (int64, error) {
	query := tx.auditQuery(filter)
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, queryError("count audit events", err)
	}
	return count, nil
}

func (tx *Tx) auditQuery(filter models.AuditFilter) *gorm.DB {
	query := tx.db.Model(&auditRow{})
	if filter.EntityType != "" {
		query = query.Where("entity_type = ?", filter.EntityType)
	}
	if filter.EntityID != "" {
		query = query.Where("entity_id = ?", filter.EntityID)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	return query
}
