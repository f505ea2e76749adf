package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
)

// Claim names, stored on the record while a transition moves stock.
const (
	claimStart      = "start_preparation"
	claimPortioning = "complete_portioning"
	claimCancel     = "cancel"
)

func claimToken(rec models.ProductionRecord) string {
	if rec.Pending == nil {
		return ""
	}
	return rec.Pending.Token
}

// claimedStock is the net stock moved under one claim for one ingredient,
// in the ingredient's stock unit. Positive means consumed.
type claimedStock struct {
	IngredientID string
	Unit         models.Unit
	Net          decimal.Decimal
	MovementID   string
}

func (s *Service) claimedStock(ctx context.Context, recordID, token string) ([]claimedStock, error) {
	movements, err := s.store.ListMovements(ctx, repository.MovementFilter{RecordID: recordID})
	if err != nil {
		return nil, fmt.Errorf("list movements of %s: %w", recordID, err)
	}

	out := make([]claimedStock, 0)
	index := make(map[string]int)
	for _, mv := range movements {
		if mv.Claim != token {
			continue
		}
		i, ok := index[mv.IngredientID]
		if !ok {
			i = len(out)
			index[mv.IngredientID] = i
			out = append(out, claimedStock{IngredientID: mv.IngredientID, Unit: mv.Unit, Net: decimal.Zero})
		}
		switch mv.Direction {
		case models.DirectionConsume:
			out[i].Net = out[i].Net.Add(mv.Quantity)
			if out[i].MovementID == "" {
				out[i].MovementID = mv.ID
			}
		case models.DirectionReverse:
			out[i].Net = out[i].Net.Sub(mv.Quantity)
		}
	}
	return out, nil
}

// recoverClaim settles a claim left on rec by a transition that stopped
// between its stock movements and its final status write. The movements
// tagged with the claim token tell how far it got: a preparation start or a
// cancellation whose movement went through is completed, anything else is
// rolled back and the record returns to the stage it was claimed in.
func (s *Service) recoverClaim(ctx context.Context, rec *models.ProductionRecord) error {
	claim := *rec.Pending
	moved, err := s.claimedStock(ctx, rec.ID, claim.Token)
	if err != nil {
		return err
	}

	mutate := func(*models.ProductionRecord) {}
	resolution := "rolled back"

	switch claim.Name {
	case claimStart:
		debit := firstConsumed(moved)
		if debit == nil {
			mutate = queuedTimer
			break
		}
		demand, err := s.store.GetDemand(ctx, rec.OrganizationID, rec.ItemID)
		if err != nil {
			return fmt.Errorf("read demand of %s: %w", rec.ItemName, err)
		}
		mutate = func(r *models.ProductionRecord) {
			s.enterPreparation(r, demand.Demand)
			r.PreparationDebit = &models.StockDebit{
				IngredientID: debit.IngredientID,
				Quantity:     debit.Net,
				Unit:         debit.Unit,
				MovementID:   debit.MovementID,
			}
		}
		resolution = "completed"

	case claimCancel:
		if !anyReversed(moved) {
			break
		}
		mutate = resetToQueue
		resolution = "completed"

	default:
		for _, c := range moved {
			if !c.Net.IsPositive() {
				continue
			}
			if _, err := s.move(ctx, *rec, c.IngredientID, c.Net, c.Unit, models.DirectionReverse, defaultActor, "recovery of "+claim.Name); err != nil {
				return err
			}
		}
	}

	if err := s.finalize(ctx, rec, claim.Token, mutate); err != nil {
		return err
	}
	if claim.Name == claimCancel && resolution == "completed" {
		if _, err := s.sequencer.Release(ctx, *rec); err != nil {
			s.logger.Error("failed to release next batch", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	s.logger.Warn("abandoned transition claim recovered",
		zap.String("record_id", rec.ID),
		zap.String("transition", claim.Name),
		zap.Time("claimed_at", claim.ClaimedAt),
		zap.String("resolution", resolution),
		zap.String("status", string(rec.Status)),
	)
	return nil
}

func firstConsumed(moved []claimedStock) *claimedStock {
	for i := range moved {
		if moved[i].Net.IsPositive() {
			return &moved[i]
		}
	}
	return nil
}

func anyReversed(moved []claimedStock) bool {
	for _, c := range moved {
		if c.Net.IsNegative() {
			return true
		}
	}
	return false
}
