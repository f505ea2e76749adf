package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/resolver"
)

// SplitChoice is the operator's answer to a shortage.
type SplitChoice struct {
	Actor  string `json:"actor"`
	Accept bool   `json:"accept"`
	// UnitsNow defaults to the producible maximum when zero.
	UnitsNow int `json:"units_now"`
}

// ResolveInsufficientStock splits a queued card whose stock only covers
// part of it. The card is reduced to the units produced now and started;
// the remainder becomes a new queued incremental card. Declining leaves the
// card untouched.
func (s *Service) ResolveInsufficientStock(ctx context.Context, id string, choice SplitChoice) (out *Outcome, err error) {
	defer s.observe("split", time.Now(), &err)

	actor := actorOr(choice.Actor)
	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(rec, models.StatusQueued); err != nil {
		return nil, err
	}
	if err := s.sequencer.CheckStart(ctx, *rec); err != nil {
		return nil, err
	}

	catalog, err := s.loadCatalog(ctx, rec.ItemID)
	if err != nil {
		return nil, err
	}
	limit, err := resolver.FindLimiting(*rec, catalog)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if limit == nil {
		// Stock arrived in the meantime.
		return s.start(ctx, rec, catalog, actor)
	}
	shortage := shortageOf(*rec, *limit)
	if limit.ProducibleUnits == 0 {
		return nil, fmt.Errorf("%s: %w", shortage, ErrNothingProducible)
	}
	if !choice.Accept {
		return &Outcome{Record: rec, Shortage: shortage}, nil
	}

	unitsNow := choice.UnitsNow
	if unitsNow == 0 {
		unitsNow = limit.ProducibleUnits
	}
	if unitsNow > limit.ProducibleUnits {
		return nil, fmt.Errorf("%w: %d units requested, %d producible", ErrInvalidSplit, unitsNow, limit.ProducibleUnits)
	}

	original := rec.ProgrammedUnits
	guard := repository.GuardOf(*rec)
	reduced, pending, err := resolver.Split(*rec, unitsNow)
	if err != nil {
		return nil, err
	}

	pending.ID = s.newID()
	reduced.SplitRemainderID = pending.ID
	if err := s.store.CreateRecord(ctx, &pending); err != nil {
		return nil, fmt.Errorf("create pending record for %s: %w", rec.ItemName, err)
	}
	if err := s.update(ctx, &reduced, guard); err != nil {
		if derr := s.store.DeleteRecord(ctx, pending.ID); derr != nil {
			s.logger.Error("failed to remove pending record of a lost split", zap.String("record_id", pending.ID), zap.Error(derr))
		}
		return nil, err
	}

	audit := models.SplitAudit{
		ID:                 s.newID(),
		OrganizationID:     rec.OrganizationID,
		RecordID:           rec.ID,
		PendingRecordID:    pending.ID,
		ItemName:           rec.ItemName,
		UnitsBefore:        original,
		UnitsNow:           reduced.ProgrammedUnits,
		UnitsPending:       pending.ProgrammedUnits,
		LimitingIngredient: limit.IngredientName(),
		Actor:              actor,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.store.AppendSplit(ctx, audit); err != nil {
		s.logger.Error("failed to write split audit", zap.String("record_id", rec.ID), zap.Error(err))
	}
	s.metrics.Split()
	s.logger.Info("record split for insufficient stock",
		zap.String("record_id", rec.ID),
		zap.String("pending_record_id", pending.ID),
		zap.Int("units_now", reduced.ProgrammedUnits),
		zap.Int("units_pending", pending.ProgrammedUnits),
		zap.String("limiting_ingredient", limit.IngredientName()),
		zap.String("actor", actor),
	)

	out, err = s.start(ctx, &reduced, catalog, actor)
	if err != nil {
		return nil, fmt.Errorf("start reduced record after split: %w", err)
	}
	out.Pending = &pending
	return out, nil
}
