package reconciler

import (
	"context"
	"strings"

	"commission-reconciliation-service/internal/models"
	"commission-reconciliation-service/internal/store"
	"commission-reconciliation-service/pkg/errors"
	"commission-reconciliation-service/pkg/logger"
)

// Adjustments lists adjustments; an empty producer lists every producer
func (s *Service) Adjustments(ctx context.Context, producerID string) ([]models.Adjustment, error) {
	var adjustments []models.Adjustment
	err := s.store.Read(ctx, "list adjustments", func(tx *store.Tx) error {
		var err error
		adjustments, err = tx.Adjustments(strings.TrimSpace(producerID))
		return err
	})
	return adjustments, err
}

// CreateAdjustment stores a new adjustment after checking its sign against its type
func (s *Service) CreateAdjustment(ctx context.Context, req AdjustmentRequest) (*models.Adjustment, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	adj, err := req.toAdjustment()
	if err != nil {
		return nil, err
	}
	if adj.AdjID == "" {
		adj.AdjID = newID("ADJ")
	}

	rec := s.recorder(req.Actor)
	err = s.store.Update(ctx, "create adjustment", func(tx *store.Tx) error {
		if _, err := tx.Adjustment(adj.AdjID); err == nil {
			return errors.ConflictError(errors.CodeDuplicate, "adjustment", adj.AdjID, "adjustment id already exists")
		} else if !errors.IsCategory(err, errors.CategoryNotFound) {
			return err
		}
		if err := tx.InsertAdjustment(&adj, s.now()); err != nil {
			return err
		}
		return appendEvent(tx, rec, models.EventAdjustment, models.EntityAdjustment, adj.AdjID,
			string(models.ChangeCreated), nil, adj)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logger.Fields{
		"adj_id":      adj.AdjID,
		"producer_id": adj.ProducerID,
		"adj_type":    adj.AdjType,
		"amount":      adj.Amount.String(),
	}).Info("Adjustment created")
	return &adj, nil
}

// UpdateAdjustment replaces an existing adjustment
func (s *Service) UpdateAdjustment(ctx context.Context, req AdjustmentRequest) (*models.Adjustment, error) {
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.AdjID) == "" {
		return nil, errors.ValidationError(errors.CodeMissingField, "adj_id", nil, nil)
	}
	adj, err := req.toAdjustment()
	if err != nil {
		return nil, err
	}

	rec := s.recorder(req.Actor)
	err = s.store.Update(ctx, "update adjustment", func(tx *store.Tx) error {
		before, err := tx.Adjustment(adj.AdjID)
		if err != nil {
			return err
		}
		if err := tx.UpdateAdjustment(&adj, s.now()); err != nil {
			return err
		}
		adj.CreatedAt = before.CreatedAt
		return appendEvent(tx, rec, models.EventAdjustment, models.EntityAdjustment, adj.AdjID,
			string(models.ChangeUpdated), before, adj)
	})
	if err != nil {
		return nil, err
	}
	s.logger.WithField("adj_id", adj.AdjID).Info("Adjustment updated")
	return &adj, nil
}

// DeleteAdjustment removes an adjustment
func (s *Service) DeleteAdjustment(ctx context.Context, req DeleteAdjustmentRequest) error {
	if err := s.validateRequest(req); err != nil {
		return err
	}

	rec := s.recorder(req.Actor)
	err := s.store.Update(ctx, "delete adjustment", func(tx *store.Tx) error {
		before, err := tx.Adjustment(req.AdjID)
		if err != nil {
			return err
		}
		if err := tx.DeleteAdjustment(req.AdjID); err != nil {
			return err
		}
		return appendEvent(tx, rec, models.EventAdjustment, models.EntityAdjustment, req.AdjID,
			string(models.ChangeDeleted), before, nil)
	})
	if err != nil {
		return err
	}
	s.logger.WithField("adj_id", req.AdjID).Info("Adjustment deleted")
	return nil
}
