package consumption

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
)

// ErrInvalidItem is returned when the catalog data cannot drive a calculation.
var ErrInvalidItem = errors.New("invalid item configuration")

// Catalog is the read-through reference table for one calculation: the item,
// its linked ingredients and the ingredients they point to. It is loaded per
// operation and passed in explicitly.
type Catalog struct {
	Item        models.Item
	Links       []models.LinkedIngredient
	Ingredients map[string]models.Ingredient
}

// Ingredient looks up an ingredient by id.
func (c Catalog) Ingredient(id string) (models.Ingredient, bool) {
	ing, ok := c.Ingredients[id]
	return ing, ok
}

// Principal returns the principal linked ingredient of the item, if any.
func (c Catalog) Principal() (models.LinkedIngredient, bool) {
	for _, link := range c.Links {
		if link.Principal {
			return link, true
		}
	}
	return models.LinkedIngredient{}, false
}

// Requirement is the computed need of one linked ingredient for a record.
type Requirement struct {
	Link       models.LinkedIngredient
	Ingredient models.Ingredient

	// Quantity and Unit are expressed in the linked ingredient's unit.
	Quantity decimal.Decimal
	Unit     models.Unit
	// StockQuantity is Quantity normalized to the ingredient's stock unit.
	StockQuantity decimal.Decimal
	StockUnit     models.Unit
	Available     decimal.Decimal
	Sufficient    bool

	// UnitTypeMismatch is set when the record carries mixer batches but the
	// item is not declared as a mixer lot. The mixer rule was applied anyway.
	UnitTypeMismatch bool
}

// PerUnit returns the stock-unit consumption of one programmed unit.
func (r Requirement) PerUnit(programmedUnits int) decimal.Decimal {
	if programmedUnits <= 0 {
		return decimal.Zero
	}
	return r.StockQuantity.Div(decimal.NewFromInt(int64(programmedUnits)))
}

// ComputeRequired returns how much of ing the record needs through link,
// following the item's scaling rule, and whether current stock covers it.
func ComputeRequired(rec models.ProductionRecord, link models.LinkedIngredient, item models.Item, ing models.Ingredient) (Requirement, error) {
	if !link.Quantity.IsPositive() {
		return Requirement{}, fmt.Errorf("%w: linked ingredient %s on %s has quantity %s", ErrInvalidItem, ing.Name, item.Name, link.Quantity)
	}
	scaling, err := item.Scaling()
	if err != nil {
		return Requirement{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
	}

	req := Requirement{
		Link:       link,
		Ingredient: ing,
		Unit:       link.Unit,
		StockUnit:  ing.Unit,
		Available:  ing.Stock,
	}
	if req.Unit == "" {
		req.Unit = ing.Unit
	}

	units := decimal.NewFromInt(int64(rec.ProgrammedUnits))
	switch s := scaling.(type) {
	case models.MixerLot:
		req.Quantity = mixerBatches(rec).Mul(link.Quantity)
	default:
		if rec.Mixer.Batches > 0 {
			req.Quantity = mixerBatches(rec).Mul(link.Quantity)
			req.UnitTypeMismatch = true
			break
		}
		if be, ok := s.(models.BatchEquivalence); ok && link.Mode != models.ScalePerUnit {
			per := link.Quantity
			if link.Principal && be.PrincipalPerBatch.IsPositive() {
				per = be.PrincipalPerBatch
			}
			req.Quantity = batchesFor(rec.ProgrammedUnits, be.UnitsPerBatch).Mul(per)
			break
		}
		req.Quantity = units.Mul(link.Quantity)
	}

	req.StockQuantity, err = Convert(req.Quantity, req.Unit, ing.Unit)
	if err != nil {
		return Requirement{}, fmt.Errorf("ingredient %s on %s: %w", ing.Name, item.Name, err)
	}
	req.Sufficient = req.StockQuantity.LessThanOrEqual(ing.Stock)
	return req, nil
}

// Requirements computes every linked ingredient of the catalog in encounter
// order. An ingredient missing from the reference table is an error.
func (c Catalog) Requirements(rec models.ProductionRecord) ([]Requirement, error) {
	out := make([]Requirement, 0, len(c.Links))
	for _, link := range c.Links {
		ing, ok := c.Ingredient(link.IngredientID)
		if !ok {
			return nil, fmt.Errorf("%w: ingredient %s linked to %s is not in the catalog", ErrInvalidItem, link.IngredientID, c.Item.Name)
		}
		req, err := ComputeRequired(rec, link, c.Item, ing)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

// PreparationQuantity is what the preparation-start debit consumes from the
// principal ingredient: the programmed weight (kg) of the record normalized to
// the stock unit, or the computed requirement when no weight was programmed.
func (c Catalog) PreparationQuantity(rec models.ProductionRecord) (Requirement, bool, error) {
	link, ok := c.Principal()
	if !ok {
		return Requirement{}, false, nil
	}
	ing, ok := c.Ingredient(link.IngredientID)
	if !ok {
		return Requirement{}, false, fmt.Errorf("%w: principal ingredient %s of %s is not in the catalog", ErrInvalidItem, link.IngredientID, c.Item.Name)
	}
	req, err := ComputeRequired(rec, link, c.Item, ing)
	if err != nil {
		return Requirement{}, false, err
	}
	if rec.ProgrammedWeight.IsPositive() {
		q, err := Convert(rec.ProgrammedWeight, models.UnitKilogram, ing.Unit)
		if err != nil {
			return Requirement{}, false, fmt.Errorf("programmed weight of %s: %w", c.Item.Name, err)
		}
		req.Quantity, req.Unit = rec.ProgrammedWeight, models.UnitKilogram
		req.StockQuantity = q
		req.Sufficient = q.LessThanOrEqual(ing.Stock)
	}
	return req, true, nil
}

// Packaging computes the packaging debit of a record. It scales by the total
// downstream demand captured on the record, not by the produced units, and is
// zero for items that do not consume packaging per portion.
func Packaging(rec models.ProductionRecord, item models.Item, ing models.Ingredient) (models.PackagingData, decimal.Decimal, error) {
	cfg := item.Packaging
	data := models.PackagingData{PerPortion: cfg.PerPortion, IngredientID: cfg.IngredientID, Unit: cfg.Unit}
	if !cfg.PerPortion || cfg.IngredientID == "" || rec.Demand.Total <= 0 {
		return data, decimal.Zero, nil
	}
	if data.Unit == "" {
		data.Unit = ing.Unit
	}
	data.Quantity = cfg.QuantityPerUnit.Mul(decimal.NewFromInt(int64(rec.Demand.Total)))
	stock, err := Convert(data.Quantity, data.Unit, ing.Unit)
	if err != nil {
		return data, decimal.Zero, fmt.Errorf("packaging %s on %s: %w", ing.Name, item.Name, err)
	}
	return data, stock, nil
}

func mixerBatches(rec models.ProductionRecord) decimal.Decimal {
	if rec.Mixer.Batches <= 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(rec.Mixer.Batches))
}

func batchesFor(programmed, perBatch int) decimal.Decimal {
	if programmed <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64((programmed + perBatch - 1) / perBatch))
}
