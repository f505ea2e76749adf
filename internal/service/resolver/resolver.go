package resolver

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/service/consumption"
)

var (
	// ErrNothingProducible is returned when the limiting ingredient does not
	// cover a single unit.
	ErrNothingProducible = errors.New("cannot produce any unit")
	// ErrInvalidSplit is returned for split sizes outside 1..producible.
	ErrInvalidSplit = errors.New("invalid split")
)

// Limit describes the strictest stock constraint of a record.
type Limit struct {
	Requirement     consumption.Requirement
	ProducibleUnits int
}

// IngredientName is the name shown to operators and written to the audit.
func (l Limit) IngredientName() string {
	return l.Requirement.Ingredient.Name
}

// FindLimiting scans every linked ingredient, principal and extras alike,
// and returns the insufficient one allowing the fewest units. Ties keep the
// first encountered. It returns nil when stock covers everything.
func FindLimiting(rec models.ProductionRecord, catalog consumption.Catalog) (*Limit, error) {
	reqs, err := catalog.Requirements(rec)
	if err != nil {
		return nil, err
	}

	var limit *Limit
	for _, req := range reqs {
		if req.Sufficient {
			continue
		}
		producible := Producible(req, rec.ProgrammedUnits)
		if limit == nil || producible < limit.ProducibleUnits {
			limit = &Limit{Requirement: req, ProducibleUnits: producible}
		}
	}
	return limit, nil
}

// Producible is floor(available / (required / programmed)), evaluated as
// floor(available * programmed / required) to avoid a rounded divisor.
func Producible(req consumption.Requirement, programmedUnits int) int {
	if programmedUnits <= 0 || !req.StockQuantity.IsPositive() || !req.Available.IsPositive() {
		return 0
	}
	units := decimal.NewFromInt(int64(programmedUnits))
	return int(req.Available.Mul(units).Div(req.StockQuantity).Floor().IntPart())
}

// Split divides rec into the part produced now and a pending remainder.
// now keeps rec's id and version so it can replace rec through a guarded
// update. pending is a fresh queued incremental record without an id.
func Split(rec models.ProductionRecord, unitsNow int) (models.ProductionRecord, models.ProductionRecord, error) {
	original := rec.ProgrammedUnits
	if unitsNow <= 0 || unitsNow >= original {
		return models.ProductionRecord{}, models.ProductionRecord{}, fmt.Errorf("%w: %d of %d units", ErrInvalidSplit, unitsNow, original)
	}
	unitsPending := original - unitsNow

	now := rec.Clone()
	now.ProgrammedUnits = unitsNow
	now.ProgrammedWeight = scale(rec.ProgrammedWeight, unitsNow, original)
	now.Demand = scaleDemand(rec.Demand, unitsNow, original)
	now.Mixer.FlourConsumed = scale(rec.Mixer.FlourConsumed, unitsNow, original)
	now.Mixer.DoughGenerated = scale(rec.Mixer.DoughGenerated, unitsNow, original)
	now.Mixer.EstimatedUnits = scaleInt(rec.Mixer.EstimatedUnits, unitsNow, original)

	pending := models.ProductionRecord{
		OrganizationID:   rec.OrganizationID,
		ItemID:           rec.ItemID,
		ItemName:         rec.ItemName,
		ProgrammedUnits:  unitsPending,
		ProgrammedWeight: rec.ProgrammedWeight.Sub(now.ProgrammedWeight),
		Status:           models.StatusQueued,
		Incremental:      true,
		Demand:           subtractDemand(rec.Demand, now.Demand),
		TimerEnabled:     rec.TimerEnabled,
		TimerMinutes:     rec.TimerMinutes,
		TimerStatus:      models.TimerNotApplicable,
		Packaging:        models.PackagingData{PerPortion: rec.Packaging.PerPortion, IngredientID: rec.Packaging.IngredientID, Unit: rec.Packaging.Unit},
	}
	if pending.TimerEnabled {
		pending.TimerStatus = models.TimerNotStarted
	}

	if rec.Mixer.Batches > 0 {
		now.Mixer.Batches = atLeastOne(roundInt(rec.Mixer.Batches, unitsNow, original))
		pending.Mixer = models.MixerData{
			Batches:          atLeastOne(roundInt(rec.Mixer.Batches, unitsPending, original)),
			MinUnitWeight:    rec.Mixer.MinUnitWeight,
			MaxUnitWeight:    rec.Mixer.MaxUnitWeight,
			TargetUnitWeight: rec.Mixer.TargetUnitWeight,
		}
	}
	return now, pending, nil
}

func scale(v decimal.Decimal, part, whole int) decimal.Decimal {
	if whole == 0 {
		return v
	}
	return v.Mul(decimal.NewFromInt(int64(part))).DivRound(decimal.NewFromInt(int64(whole)), 3)
}

func scaleInt(v, part, whole int) int {
	if whole == 0 {
		return v
	}
	return v * part / whole
}

func roundInt(v, part, whole int) int {
	if whole == 0 {
		return v
	}
	return (2*v*part + whole) / (2 * whole)
}

func atLeastOne(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

// scaleDemand keeps the floor of each figure; the remainder goes to the
// pending record so both halves add up to the original.
func scaleDemand(d models.DemandSnapshot, part, whole int) models.DemandSnapshot {
	out := models.DemandSnapshot{
		Total:           scaleInt(d.Total, part, whole),
		Reserve:         scaleInt(d.Reserve, part, whole),
		RoundingSurplus: scaleInt(d.RoundingSurplus, part, whole),
	}
	for _, s := range d.Stores {
		out.Stores = append(out.Stores, models.StoreDemand{StoreID: s.StoreID, StoreName: s.StoreName, Quantity: scaleInt(s.Quantity, part, whole)})
	}
	return out
}

func subtractDemand(total, part models.DemandSnapshot) models.DemandSnapshot {
	out := models.DemandSnapshot{
		Total:           total.Total - part.Total,
		Reserve:         total.Reserve - part.Reserve,
		RoundingSurplus: total.RoundingSurplus - part.RoundingSurplus,
	}
	for i, s := range total.Stores {
		q := s.Quantity
		if i < len(part.Stores) {
			q -= part.Stores[i].Quantity
		}
		out.Stores = append(out.Stores, models.StoreDemand{StoreID: s.StoreID, StoreName: s.StoreName, Quantity: q})
	}
	return out
}
