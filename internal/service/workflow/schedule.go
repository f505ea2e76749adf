package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/service/sequencer"
)

// ScheduleRequest creates a single queued card.
type ScheduleRequest struct {
	OrganizationID string `json:"organization_id"`
	ItemID         string `json:"item_id"`
	Units          int    `json:"units"`
	Actor          string `json:"actor"`
}

// LotRequest creates a lot of sequential batches.
type LotRequest struct {
	OrganizationID string `json:"organization_id"`
	ItemID         string `json:"item_id"`
	TotalUnits     int    `json:"total_units"`
	Batches        int    `json:"batches"`
	Actor          string `json:"actor"`
}

// Schedule queues one record for an item, capturing the current demand.
func (s *Service) Schedule(ctx context.Context, req ScheduleRequest) (rec *models.ProductionRecord, err error) {
	defer s.observe("schedule", time.Now(), &err)

	if req.Units <= 0 {
		return nil, validationf("programmed units must be positive, got %d", req.Units)
	}
	catalog, err := s.loadCatalog(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	demand, err := s.store.GetDemand(ctx, req.OrganizationID, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("read demand of %s: %w", catalog.Item.Name, err)
	}

	created := sequencer.NewRecord(catalog.Item, req.OrganizationID, req.Units)
	created.ID = s.newID()
	created.Demand = demand.Demand
	if err := s.store.CreateRecord(ctx, &created); err != nil {
		return nil, fmt.Errorf("create record for %s: %w", catalog.Item.Name, err)
	}

	s.logger.Info("record scheduled",
		zap.String("record_id", created.ID),
		zap.String("item", created.ItemName),
		zap.Int("units", created.ProgrammedUnits),
		zap.String("actor", actorOr(req.Actor)),
	)
	return &created, nil
}

// ScheduleLot queues a lot of batches. Batches after the first start
// blocked when the item runs a timer. The lot's demand rides on batch 1.
func (s *Service) ScheduleLot(ctx context.Context, req LotRequest) (recs []models.ProductionRecord, err error) {
	defer s.observe("schedule_lot", time.Now(), &err)

	catalog, err := s.loadCatalog(ctx, req.ItemID)
	if err != nil {
		return nil, err
	}
	demand, err := s.store.GetDemand(ctx, req.OrganizationID, req.ItemID)
	if err != nil {
		return nil, fmt.Errorf("read demand of %s: %w", catalog.Item.Name, err)
	}

	lotID := s.newID()
	planned, err := sequencer.PlanLot(catalog.Item, sequencer.LotPlan{
		OrganizationID: req.OrganizationID,
		LotID:          lotID,
		TotalUnits:     req.TotalUnits,
		Batches:        req.Batches,
		Demand:         demand.Demand,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	for i := range planned {
		planned[i].ID = s.newID()
		if err := s.store.CreateRecord(ctx, &planned[i]); err != nil {
			s.rollbackLot(ctx, planned[:i])
			return nil, fmt.Errorf("create batch %d of %s: %w", planned[i].BatchSequence, catalog.Item.Name, err)
		}
	}

	s.logger.Info("lot scheduled",
		zap.String("lot_id", lotID),
		zap.String("item", catalog.Item.Name),
		zap.Int("batches", len(planned)),
		zap.Int("units", req.TotalUnits),
		zap.String("actor", actorOr(req.Actor)),
	)
	return planned, nil
}

func (s *Service) rollbackLot(ctx context.Context, created []models.ProductionRecord) {
	for _, rec := range created {
		if err := s.store.DeleteRecord(ctx, rec.ID); err != nil {
			s.logger.Error("failed to remove partial lot batch", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
}
