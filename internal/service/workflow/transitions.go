package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/consumption"
	"github.com/mamadbah2/producao/internal/service/resolver"
	"github.com/mamadbah2/producao/internal/service/timer"
)

// MixerInput carries the mixer measurements taken at the end of preparation.
type MixerInput struct {
	FlourConsumed     decimal.Decimal `json:"flour_consumed"`
	DoughGenerated    decimal.Decimal `json:"dough_generated"`
	AverageUnitWeight decimal.Decimal `json:"average_unit_weight"`
}

// PreparationInput closes the preparation stage.
type PreparationInput struct {
	Actor    string          `json:"actor"`
	Weight   decimal.Decimal `json:"weight"`
	Leftover decimal.Decimal `json:"leftover"`
	Mixer    *MixerInput     `json:"mixer,omitempty"`
}

// PortioningInput closes the portioning stage.
type PortioningInput struct {
	Actor         string          `json:"actor"`
	ActualUnits   *int            `json:"actual_units"`
	FinalWeight   decimal.Decimal `json:"final_weight"`
	FinalLeftover decimal.Decimal `json:"final_leftover"`
}

// AdvanceInput moves a card one stage forward. Only the input matching the
// current stage is read.
type AdvanceInput struct {
	Actor       string           `json:"actor"`
	Preparation PreparationInput `json:"preparation"`
	Portioning  PortioningInput  `json:"portioning"`
}

func (in PreparationInput) validate() error {
	if in.Weight.IsNegative() || in.Leftover.IsNegative() {
		return validationf("preparation weight and leftover must not be negative")
	}
	if m := in.Mixer; m != nil {
		if m.FlourConsumed.IsNegative() || m.DoughGenerated.IsNegative() || m.AverageUnitWeight.IsNegative() {
			return validationf("mixer measurements must not be negative")
		}
	}
	return nil
}

func (in PortioningInput) validate() error {
	if in.ActualUnits == nil {
		return validationf("actual units are required")
	}
	if *in.ActualUnits < 0 {
		return validationf("actual units must not be negative, got %d", *in.ActualUnits)
	}
	if in.FinalWeight.IsNegative() || in.FinalLeftover.IsNegative() {
		return validationf("final weight and leftover must not be negative")
	}
	return nil
}

// Advance moves a record to its next stage.
func (s *Service) Advance(ctx context.Context, id string, in AdvanceInput) (*Outcome, error) {
	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	switch rec.Status {
	case models.StatusQueued:
		return s.StartPreparation(ctx, id, in.Actor)
	case models.StatusPreparing:
		prep := in.Preparation
		if prep.Actor == "" {
			prep.Actor = in.Actor
		}
		return s.CompletePreparation(ctx, id, prep)
	case models.StatusPortioning:
		port := in.Portioning
		if port.Actor == "" {
			port.Actor = in.Actor
		}
		return s.CompletePortioning(ctx, id, port)
	default:
		return nil, fmt.Errorf("%s is %s: %w", rec.ItemName, rec.Status, ErrInvalidTransition)
	}
}

// StartPreparation moves a queued record into preparing. When stock only
// covers part of the card the record stays queued and the shortage is
// returned so the operator can choose a split.
func (s *Service) StartPreparation(ctx context.Context, id, actor string) (out *Outcome, err error) {
	defer s.observe("start_preparation", time.Now(), &err)

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
	if limit != nil {
		shortage := shortageOf(*rec, *limit)
		if limit.ProducibleUnits == 0 {
			return nil, fmt.Errorf("%s: %w", shortage, ErrNothingProducible)
		}
		s.logger.Info("insufficient stock, split offered",
			zap.String("record_id", rec.ID),
			zap.String("ingredient", shortage.IngredientName),
			zap.Int("producible", shortage.ProducibleUnits),
			zap.Int("programmed", shortage.ProgrammedUnits),
		)
		return &Outcome{Record: rec, Shortage: shortage}, nil
	}

	return s.start(ctx, rec, catalog, actorOr(actor))
}

// start performs queued -> preparing once stock was found sufficient.
func (s *Service) start(ctx context.Context, rec *models.ProductionRecord, catalog consumption.Catalog, actor string) (*Outcome, error) {
	demand, err := s.store.GetDemand(ctx, rec.OrganizationID, rec.ItemID)
	if err != nil {
		return nil, fmt.Errorf("read demand of %s: %w", rec.ItemName, err)
	}

	enter := func(r *models.ProductionRecord) {
		s.enterPreparation(r, demand.Demand)
	}

	if !catalog.Item.DebitAtPreparation {
		guard := repository.GuardOf(*rec)
		enter(rec)
		if err := s.update(ctx, rec, guard); err != nil {
			return nil, err
		}
		s.logStarted(rec, actor)
		return &Outcome{Record: rec}, nil
	}

	req, ok, err := catalog.PreparationQuantity(*rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !ok {
		// Nothing to debit without a principal ingredient.
		guard := repository.GuardOf(*rec)
		enter(rec)
		if err := s.update(ctx, rec, guard); err != nil {
			return nil, err
		}
		s.logStarted(rec, actor)
		return &Outcome{Record: rec}, nil
	}

	previousTimer := rec.TimerStatus
	token, err := s.claim(ctx, rec, claimStart, func(r *models.ProductionRecord) {
		// Claiming with the timer running lets the store refuse a second
		// running batch of the lot before any stock moves.
		timer.Begin(r)
	})
	if err != nil {
		return nil, err
	}

	mv, err := s.move(ctx, *rec, req.Ingredient.ID, req.StockQuantity, req.StockUnit, models.DirectionConsume, actor, "preparation start: "+rec.ItemName)
	if err != nil {
		s.release(ctx, rec, token, func(r *models.ProductionRecord) { r.TimerStatus = previousTimer })
		return nil, err
	}

	err = s.finalize(ctx, rec, token, func(r *models.ProductionRecord) {
		enter(r)
		r.PreparationDebit = &models.StockDebit{
			IngredientID: mv.IngredientID,
			Quantity:     mv.Quantity,
			Unit:         mv.Unit,
			MovementID:   mv.ID,
		}
	})
	if err != nil {
		return nil, err
	}
	s.logStarted(rec, actor)
	return &Outcome{Record: rec}, nil
}

// enterPreparation sets the preparing fields of r. The packaging owner takes
// the live demand unless a split apportioned its snapshot.
func (s *Service) enterPreparation(r *models.ProductionRecord, live models.DemandSnapshot) {
	now := s.timestamp()
	r.Status = models.StatusPreparing
	if r.StartedAt == nil {
		r.StartedAt = now
	}
	r.PreparationStartedAt = now
	timer.Begin(r)
	if r.OwnsLotPackaging() && !r.DemandFixed() && !live.IsZero() {
		r.Demand = live
	}
}

func (s *Service) logStarted(rec *models.ProductionRecord, actor string) {
	s.logger.Info("preparation started",
		zap.String("record_id", rec.ID),
		zap.String("item", rec.ItemName),
		zap.String("lot_id", rec.LotID),
		zap.Int("batch", rec.BatchSequence),
		zap.String("timer_status", string(rec.TimerStatus)),
		zap.String("actor", actor),
	)
}

// CompletePreparation moves preparing -> portioning.
func (s *Service) CompletePreparation(ctx context.Context, id string, in PreparationInput) (out *Outcome, err error) {
	defer s.observe("complete_preparation", time.Now(), &err)

	if err := in.validate(); err != nil {
		return nil, err
	}
	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(rec, models.StatusPreparing); err != nil {
		return nil, err
	}

	now := s.now()
	expiredUnswept := false
	if rec.TimerStatus == models.TimerRunning {
		if !timer.IsFinished(*rec, now) {
			return nil, fmt.Errorf("%s has %ds left: %w", rec.ItemName, timer.SecondsRemaining(*rec, now), ErrTimerRunning)
		}
		expiredUnswept = true
	}

	guard := repository.GuardOf(*rec)
	ts := s.timestamp()
	rec.Status = models.StatusPortioning
	rec.PreparationWeight = in.Weight
	rec.PreparationLeftover = in.Leftover
	rec.PreparationEndedAt = ts
	rec.PortioningStartedAt = ts
	if expiredUnswept {
		rec.TimerStatus = models.TimerFinished
	}
	if in.Mixer != nil {
		calibrate(&rec.Mixer, *in.Mixer)
	}
	if err := s.update(ctx, rec, guard); err != nil {
		return nil, err
	}

	out = &Outcome{Record: rec}
	if s.alarms != nil {
		s.alarms.Silence(rec.ID)
	}
	// Lots without a timer advance on preparation completion, and a timer
	// that expired unseen still owes the release.
	if !rec.TimerEnabled || expiredUnswept {
		if _, err := s.sequencer.Release(ctx, *rec); err != nil {
			s.logger.Error("failed to release next batch", zap.String("record_id", rec.ID), zap.Error(err))
			out.warn("next batch of lot %s could not be released: %v", rec.LotID, err)
		}
	}

	s.logger.Info("preparation completed",
		zap.String("record_id", rec.ID),
		zap.String("weight", in.Weight.String()),
		zap.String("leftover", in.Leftover.String()),
		zap.String("calibration", string(rec.Mixer.Calibration)),
		zap.String("actor", actorOr(in.Actor)),
	)
	return out, nil
}

// calibrate derives the mixer yield and calibration status.
func calibrate(m *models.MixerData, in MixerInput) {
	m.FlourConsumed = in.FlourConsumed
	m.DoughGenerated = in.DoughGenerated
	m.AverageUnitWeight = in.AverageUnitWeight
	if m.TargetUnitWeight.IsPositive() {
		m.EstimatedUnits = int(in.DoughGenerated.Div(m.TargetUnitWeight).Floor().IntPart())
	}
	if !in.AverageUnitWeight.IsPositive() || (m.MinUnitWeight.IsZero() && m.MaxUnitWeight.IsZero()) {
		m.Calibration = models.CalibrationUnknown
		return
	}
	if in.AverageUnitWeight.GreaterThanOrEqual(m.MinUnitWeight) && in.AverageUnitWeight.LessThanOrEqual(m.MaxUnitWeight) {
		m.Calibration = models.CalibrationWithinSpec
		return
	}
	m.Calibration = models.CalibrationOutOfSpec
}

// CompletePortioning moves portioning -> done. Every linked ingredient not
// debited at preparation start is consumed; a failed debit blocks the
// transition. Packaging, consumption history, the finished goods credit and
// the demand clearing only produce warnings when they fail.
func (s *Service) CompletePortioning(ctx context.Context, id string, in PortioningInput) (out *Outcome, err error) {
	defer s.observe("complete_portioning", time.Now(), &err)

	if err := in.validate(); err != nil {
		return nil, err
	}
	actor := actorOr(in.Actor)
	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := expectStatus(rec, models.StatusPortioning); err != nil {
		return nil, err
	}
	catalog, err := s.loadCatalog(ctx, rec.ItemID)
	if err != nil {
		return nil, err
	}
	reqs, err := catalog.Requirements(*rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	token, err := s.claim(ctx, rec, claimPortioning, nil)
	if err != nil {
		return nil, err
	}

	out = &Outcome{}
	applied := make([]models.StockMovement, 0, len(reqs))
	for _, req := range reqs {
		if req.Link.Principal && rec.PreparationDebit != nil {
			continue
		}
		if req.UnitTypeMismatch {
			s.logger.Warn("item unit kind disagrees with mixer batches on the card, mixer rule applied",
				zap.String("record_id", rec.ID),
				zap.String("item_id", rec.ItemID),
				zap.String("unit_kind", string(catalog.Item.UnitKind)),
				zap.Int("mixer_batches", rec.Mixer.Batches),
			)
		}
		mv, err := s.move(ctx, *rec, req.Ingredient.ID, req.StockQuantity, req.StockUnit, models.DirectionConsume, actor, "production done: "+rec.ItemName)
		if err != nil {
			s.compensate(ctx, *rec, applied, actor)
			s.release(ctx, rec, token, nil)
			return nil, err
		}
		applied = append(applied, mv)
	}

	packaging := rec.Packaging
	var packagingMove *models.StockMovement
	if rec.OwnsLotPackaging() && catalog.Item.Packaging.PerPortion {
		packaging, packagingMove = s.debitPackaging(ctx, *rec, catalog, actor, out)
	}

	err = s.finalize(ctx, rec, token, func(r *models.ProductionRecord) {
		ts := s.timestamp()
		units := *in.ActualUnits
		r.Status = models.StatusDone
		r.Outcome = models.OutcomeCompleted
		r.ActualUnits = &units
		r.FinalWeight = in.FinalWeight
		r.FinalLeftover = in.FinalLeftover
		r.PortioningEndedAt = ts
		r.FinishedAt = ts
		r.Packaging = packaging
	})
	if err != nil {
		// Stock already moved. The claim stays so recovery can reverse it
		// instead of a retry debiting twice.
		return nil, err
	}
	out.Record = rec

	s.recordConsumption(ctx, *rec, catalog, applied, packagingMove, out)
	if err := s.store.CreditFinishedGoods(ctx, rec.OrganizationID, rec.ItemID, rec.Units()); err != nil {
		s.logger.Warn("failed to credit finished goods", zap.String("record_id", rec.ID), zap.Error(err))
		out.warn("finished goods were not credited with %d units: %v", rec.Units(), err)
	}
	if err := s.store.ClearDemand(ctx, rec.OrganizationID, rec.ItemID); err != nil {
		s.logger.Warn("failed to clear demand", zap.String("record_id", rec.ID), zap.Error(err))
		out.warn("demand of %s was not cleared: %v", rec.ItemName, err)
	}

	s.logger.Info("production completed",
		zap.String("record_id", rec.ID),
		zap.String("item", rec.ItemName),
		zap.Int("actual_units", rec.Units()),
		zap.Int("debited_ingredients", len(applied)),
		zap.Int("warnings", len(out.Warnings)),
		zap.String("actor", actor),
	)
	return out, nil
}

// debitPackaging consumes packaging scaled by the lot's total demand.
func (s *Service) debitPackaging(ctx context.Context, rec models.ProductionRecord, catalog consumption.Catalog, actor string, out *Outcome) (models.PackagingData, *models.StockMovement) {
	cfg := catalog.Item.Packaging
	ing, ok := catalog.Ingredient(cfg.IngredientID)
	if !ok {
		out.warn("packaging ingredient %s of %s is not configured", cfg.IngredientID, rec.ItemName)
		return rec.Packaging, nil
	}
	data, quantity, err := consumption.Packaging(rec, catalog.Item, ing)
	if err != nil {
		s.logger.Warn("packaging requirement failed", zap.String("record_id", rec.ID), zap.Error(err))
		out.warn("packaging of %s was not debited: %v", rec.ItemName, err)
		return rec.Packaging, nil
	}
	if quantity.IsZero() {
		return data, nil
	}

	mv, err := s.move(ctx, rec, ing.ID, quantity, ing.Unit, models.DirectionConsume, actor, "packaging: "+rec.ItemName)
	if err != nil {
		s.logger.Warn("packaging debit failed",
			zap.String("record_id", rec.ID),
			zap.String("ingredient_id", ing.ID),
			zap.String("quantity", quantity.String()),
			zap.Error(err),
		)
		out.warn("packaging %s (%s %s) was not debited: %v", ing.Name, quantity, ing.Unit, err)
		return data, nil
	}
	return data, &mv
}

func (s *Service) recordConsumption(ctx context.Context, rec models.ProductionRecord, catalog consumption.Catalog, applied []models.StockMovement, packaging *models.StockMovement, out *Outcome) {
	entries := make([]models.ConsumptionEntry, 0, len(applied)+2)
	if d := rec.PreparationDebit; d != nil {
		ing, _ := catalog.Ingredient(d.IngredientID)
		entries = append(entries, s.consumptionEntry(rec, d.IngredientID, ing.Name, d.Quantity, d.Unit, d.MovementID, false))
	}
	for _, mv := range applied {
		entries = append(entries, s.consumptionEntry(rec, mv.IngredientID, mv.IngredientName, mv.Quantity, mv.Unit, mv.ID, false))
	}
	if packaging != nil {
		entries = append(entries, s.consumptionEntry(rec, packaging.IngredientID, packaging.IngredientName, packaging.Quantity, packaging.Unit, packaging.ID, true))
	}

	for _, entry := range entries {
		if err := s.store.AppendConsumption(ctx, entry); err != nil {
			s.logger.Warn("failed to append consumption history", zap.String("record_id", rec.ID), zap.String("ingredient_id", entry.IngredientID), zap.Error(err))
			out.warn("consumption history of %s was not written: %v", entry.IngredientID, err)
		}
	}
}

func (s *Service) consumptionEntry(rec models.ProductionRecord, ingredientID, name string, quantity decimal.Decimal, unit models.Unit, movementID string, packaging bool) models.ConsumptionEntry {
	return models.ConsumptionEntry{
		ID:             s.newID(),
		OrganizationID: rec.OrganizationID,
		RecordID:       rec.ID,
		ItemID:         rec.ItemID,
		IngredientID:   ingredientID,
		IngredientName: name,
		Quantity:       quantity,
		Unit:           unit,
		MovementID:     movementID,
		Packaging:      packaging,
		CreatedAt:      s.now().UTC(),
	}
}

// expectStatus reports a stale or out-of-order action on rec.
func expectStatus(rec *models.ProductionRecord, want models.Status) error {
	if rec.Status == want {
		return nil
	}
	if stageIndex(rec.Status) > stageIndex(want) {
		return fmt.Errorf("%s is already %s: %w", rec.ItemName, rec.Status, ErrAlreadyAdvanced)
	}
	return fmt.Errorf("%s is %s, expected %s: %w", rec.ItemName, rec.Status, want, ErrInvalidTransition)
}

func stageIndex(st models.Status) int {
	switch st {
	case models.StatusQueued:
		return 0
	case models.StatusPreparing:
		return 1
	case models.StatusPortioning:
		return 2
	case models.StatusDone:
		return 3
	default:
		return -1
	}
}
