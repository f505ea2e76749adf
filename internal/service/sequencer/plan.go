package sequencer

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
)

// ErrInvalidLot is returned for lot plans that cannot be split into batches.
var ErrInvalidLot = errors.New("invalid lot plan")

// LotPlan describes a manufacturing run to split into sequential batches.
type LotPlan struct {
	OrganizationID string
	LotID          string
	TotalUnits     int
	Batches        int
	Demand         models.DemandSnapshot
}

// SplitUnits spreads total over n batches as evenly as possible, putting
// the remainder on the first batches.
func SplitUnits(total, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = total / n
		if i < total%n {
			out[i]++
		}
	}
	return out
}

// PlanLot returns the records of a new lot, sequenced 1..N. Record ids are
// left for the caller to assign.
func PlanLot(item models.Item, plan LotPlan) ([]models.ProductionRecord, error) {
	if plan.Batches <= 0 {
		return nil, fmt.Errorf("%w: batches must be positive, got %d", ErrInvalidLot, plan.Batches)
	}
	if plan.TotalUnits < plan.Batches {
		return nil, fmt.Errorf("%w: %d units cannot fill %d batches", ErrInvalidLot, plan.TotalUnits, plan.Batches)
	}
	if plan.LotID == "" {
		return nil, fmt.Errorf("%w: lot id must not be empty", ErrInvalidLot)
	}

	units := SplitUnits(plan.TotalUnits, plan.Batches)
	out := make([]models.ProductionRecord, 0, plan.Batches)
	for i, u := range units {
		seq := i + 1
		rec := NewRecord(item, plan.OrganizationID, u)
		rec.LotID = plan.LotID
		rec.BatchSequence = seq
		rec.BatchesInLot = plan.Batches
		rec.BlockedByPreviousBatch = InitialBlock(seq)
		if seq == 1 {
			rec.Demand = plan.Demand
		}
		out = append(out, rec)
	}
	return out, nil
}

// NewRecord returns a queued record for units of item with the item
// configuration copied onto the card.
func NewRecord(item models.Item, organizationID string, units int) models.ProductionRecord {
	rec := models.ProductionRecord{
		OrganizationID:   organizationID,
		ItemID:           item.ID,
		ItemName:         item.Name,
		ProgrammedUnits:  units,
		ProgrammedWeight: item.UnitWeight.Mul(decimal.NewFromInt(int64(units))),
		Status:           models.StatusQueued,
		TimerEnabled:     item.Timer.Applies(),
		TimerMinutes:     item.Timer.Minutes,
		TimerStatus:      models.TimerNotApplicable,
		Packaging: models.PackagingData{
			PerPortion:   item.Packaging.PerPortion,
			IngredientID: item.Packaging.IngredientID,
			Unit:         item.Packaging.Unit,
		},
	}
	if rec.TimerEnabled {
		rec.TimerStatus = models.TimerNotStarted
	}
	if item.UnitKind == models.UnitKindMixerLot {
		rec.Mixer = models.MixerData{
			Batches:          1,
			MinUnitWeight:    item.Mixer.MinUnitWeight,
			MaxUnitWeight:    item.Mixer.MaxUnitWeight,
			TargetUnitWeight: item.Mixer.TargetUnitWeight,
		}
	}
	return rec
}
