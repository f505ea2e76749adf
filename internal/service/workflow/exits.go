package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
)

// CancelInput is a technical cancellation of a card in progress.
type CancelInput struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

// LossInput is a real production loss.
type LossInput struct {
	Actor    string          `json:"actor"`
	Type     models.LossType `json:"type"`
	Quantity int             `json:"quantity"`
	Weight   decimal.Decimal `json:"weight"`
	Reason   string          `json:"reason"`
}

var lossTypes = map[models.LossType]bool{
	models.LossBurnt:        true,
	models.LossContaminated: true,
	models.LossDropped:      true,
	models.LossEquipment:    true,
	models.LossOther:        true,
}

func (in LossInput) validate() error {
	if !lossTypes[in.Type] {
		return validationf("unknown loss type %q", in.Type)
	}
	if in.Quantity < 0 || in.Weight.IsNegative() {
		return validationf("loss quantity and weight must not be negative")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return validationf("a loss needs a reason")
	}
	return nil
}

func expectInProgress(rec *models.ProductionRecord) error {
	switch rec.Status {
	case models.StatusPreparing, models.StatusPortioning:
		return nil
	case models.StatusDone:
		return fmt.Errorf("%s is already done: %w", rec.ItemName, ErrAlreadyAdvanced)
	default:
		return fmt.Errorf("%s is %s: %w", rec.ItemName, rec.Status, ErrInvalidTransition)
	}
}

// CancelPreparation sends a card in preparing or portioning back to the
// queue. A preparation-start debit is credited back in full, stage data is
// cleared and the next batch of the lot is released.
func (s *Service) CancelPreparation(ctx context.Context, id string, in CancelInput) (out *Outcome, err error) {
	defer s.observe("cancel", time.Now(), &err)

	if strings.TrimSpace(in.Reason) == "" {
		return nil, validationf("a cancellation needs a reason")
	}
	actor := actorOr(in.Actor)
	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := expectInProgress(rec); err != nil {
		return nil, err
	}

	stage := rec.Status
	debit := rec.PreparationDebit
	reversed := decimal.Zero
	var reversedUnit models.Unit

	if debit == nil {
		guard := repository.GuardOf(*rec)
		resetToQueue(rec)
		if err := s.update(ctx, rec, guard); err != nil {
			return nil, err
		}
	} else {
		token, err := s.claim(ctx, rec, claimCancel, nil)
		if err != nil {
			return nil, err
		}
		if _, err := s.move(ctx, *rec, debit.IngredientID, debit.Quantity, debit.Unit, models.DirectionReverse, actor, "cancellation: "+in.Reason); err != nil {
			s.release(ctx, rec, token, nil)
			return nil, err
		}
		if err := s.finalize(ctx, rec, token, resetToQueue); err != nil {
			return nil, err
		}
		reversed, reversedUnit = debit.Quantity, debit.Unit
	}

	out = &Outcome{Record: rec}
	s.afterExit(ctx, *rec, out)

	audit := models.CancellationAudit{
		ID:             s.newID(),
		OrganizationID: rec.OrganizationID,
		RecordID:       rec.ID,
		ItemID:         rec.ItemID,
		ItemName:       rec.ItemName,
		Stage:          stage,
		Reason:         in.Reason,
		Actor:          actor,
		Reversed:       reversed,
		ReversedUnit:   reversedUnit,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.AppendCancellation(ctx, audit); err != nil {
		s.logger.Error("failed to write cancellation audit", zap.String("record_id", rec.ID), zap.Error(err))
		out.warn("cancellation audit was not written: %v", err)
	}
	if s.mirror != nil {
		if err := s.mirror.MirrorCancellation(ctx, audit); err != nil {
			s.logger.Warn("failed to mirror cancellation", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	s.logger.Info("preparation cancelled",
		zap.String("record_id", rec.ID),
		zap.String("stage", string(stage)),
		zap.String("reversed", reversed.String()),
		zap.String("reason", in.Reason),
		zap.String("actor", actor),
	)
	return out, nil
}

// resetToQueue clears every stage field of a cancelled card.
func resetToQueue(r *models.ProductionRecord) {
	r.Status = models.StatusQueued
	r.Outcome = models.OutcomeNone
	r.Cancelled++
	r.StartedAt = nil
	r.PreparationStartedAt = nil
	r.PreparationEndedAt = nil
	r.PortioningStartedAt = nil
	r.PortioningEndedAt = nil
	r.FinishedAt = nil
	r.ActualUnits = nil
	r.PreparationWeight = decimal.Zero
	r.PreparationLeftover = decimal.Zero
	r.FinalWeight = decimal.Zero
	r.FinalLeftover = decimal.Zero
	r.PreparationDebit = nil
	r.Mixer.FlourConsumed = decimal.Zero
	r.Mixer.DoughGenerated = decimal.Zero
	r.Mixer.EstimatedUnits = 0
	r.Mixer.AverageUnitWeight = decimal.Zero
	r.Mixer.Calibration = models.CalibrationUnknown
	queuedTimer(r)
}

// queuedTimer puts the timer of r back in its before-preparation state.
func queuedTimer(r *models.ProductionRecord) {
	if r.TimerEnabled && r.TimerMinutes > 0 {
		r.TimerStatus = models.TimerNotStarted
	} else {
		r.TimerStatus = models.TimerNotApplicable
	}
}

// RegisterLoss terminates a card in progress as a real loss. Stock debited
// so far is never reversed.
func (s *Service) RegisterLoss(ctx context.Context, id string, in LossInput) (out *Outcome, err error) {
	defer s.observe("loss", time.Now(), &err)

	if err := in.validate(); err != nil {
		return nil, err
	}
	actor := actorOr(in.Actor)
	rec, err := s.loadRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := expectInProgress(rec); err != nil {
		return nil, err
	}

	stage := rec.Status
	guard := repository.GuardOf(*rec)
	zero := 0
	ts := s.timestamp()
	rec.Status = models.StatusDone
	rec.Outcome = models.OutcomeLost
	rec.ActualUnits = &zero
	rec.FinalWeight = decimal.Zero
	rec.FinishedAt = ts
	if stage == models.StatusPortioning {
		rec.PortioningEndedAt = ts
	}
	if rec.TimerStatus == models.TimerRunning {
		rec.TimerStatus = models.TimerFinished
	}
	if err := s.update(ctx, rec, guard); err != nil {
		return nil, err
	}

	out = &Outcome{Record: rec}
	s.afterExit(ctx, *rec, out)

	loss := models.LossRecord{
		ID:               s.newID(),
		OrganizationID:   rec.OrganizationID,
		RecordID:         rec.ID,
		ItemID:           rec.ItemID,
		ItemName:         rec.ItemName,
		Type:             in.Type,
		Quantity:         in.Quantity,
		Weight:           in.Weight,
		Reason:           in.Reason,
		Stage:            stage,
		Actor:            actor,
		StockNotReversed: true,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.AppendLoss(ctx, loss); err != nil {
		s.logger.Error("failed to write loss record", zap.String("record_id", rec.ID), zap.Error(err))
		out.warn("loss record was not written: %v", err)
	}
	if s.mirror != nil {
		if err := s.mirror.MirrorLoss(ctx, loss); err != nil {
			s.logger.Warn("failed to mirror loss", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	s.logger.Info("production lost",
		zap.String("record_id", rec.ID),
		zap.String("stage", string(stage)),
		zap.String("type", string(in.Type)),
		zap.Int("quantity", in.Quantity),
		zap.String("actor", actor),
	)
	return out, nil
}

// afterExit releases the lot successor and silences the card's alarm.
func (s *Service) afterExit(ctx context.Context, rec models.ProductionRecord, out *Outcome) {
	if s.alarms != nil {
		s.alarms.Silence(rec.ID)
	}
	if _, err := s.sequencer.Release(ctx, rec); err != nil {
		s.logger.Error("failed to release next batch", zap.String("record_id", rec.ID), zap.Error(err))
		out.warn("next batch of lot %s could not be released: %v", rec.LotID, err)
	}
}
