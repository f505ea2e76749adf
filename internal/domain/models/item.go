package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// UnitKind is the stored discriminator of an item's production unit type.
type UnitKind string

const (
	UnitKindPerUnit          UnitKind = "per_unit"
	UnitKindBatchEquivalence UnitKind = "batch_equivalence"
	UnitKindMixerLot         UnitKind = "mixer_lot"
	UnitKindCookingLossLot   UnitKind = "cooking_loss_lot"
)

// ErrUnknownUnitKind is returned when an item carries a unit kind outside the closed set.
var ErrUnknownUnitKind = errors.New("unknown item unit kind")

// Scaling is the closed set of consumption scaling rules an item can follow.
// Implementations are PerUnit, BatchEquivalence and MixerLot.
type Scaling interface {
	scaling()
}

// PerUnit scales every linked ingredient by the programmed units.
type PerUnit struct{}

// BatchEquivalence scales by ceil(programmed / UnitsPerBatch).
type BatchEquivalence struct {
	UnitsPerBatch int
	// PrincipalPerBatch replaces the principal ingredient quantity when set.
	PrincipalPerBatch decimal.Decimal
}

// MixerLot scales by the number of mixer batches on the card.
type MixerLot struct{}

func (PerUnit) scaling()          {}
func (BatchEquivalence) scaling() {}
func (MixerLot) scaling()         {}

// TimerConfig describes the preparation countdown of an item.
type TimerConfig struct {
	Enabled bool `bson:"enabled" json:"enabled"`
	Minutes int  `bson:"minutes" json:"minutes"`
}

// Applies reports whether a countdown must run for records of this item.
func (t TimerConfig) Applies() bool {
	return t.Enabled && t.Minutes > 0
}

// PackagingConfig describes per-portion packaging consumption.
type PackagingConfig struct {
	PerPortion      bool            `bson:"per_portion" json:"per_portion"`
	IngredientID    string          `bson:"ingredient_id,omitempty" json:"ingredient_id,omitempty"`
	QuantityPerUnit decimal.Decimal `bson:"quantity_per_unit" json:"quantity_per_unit"`
	Unit            Unit            `bson:"unit,omitempty" json:"unit,omitempty"`
}

// MixerSpec holds the target individual-unit weights of a mixer-lot item.
type MixerSpec struct {
	MinUnitWeight    decimal.Decimal `bson:"min_unit_weight" json:"min_unit_weight"`
	MaxUnitWeight    decimal.Decimal `bson:"max_unit_weight" json:"max_unit_weight"`
	TargetUnitWeight decimal.Decimal `bson:"target_unit_weight" json:"target_unit_weight"`
}

// Item is a produced good from the catalog. The core reads it, never writes it.
type Item struct {
	ID                 string          `bson:"_id" json:"id"`
	OrganizationID     string          `bson:"organization_id" json:"organization_id"`
	Name               string          `bson:"name" json:"name"`
	UnitKind           UnitKind        `bson:"unit_kind" json:"unit_kind"`
	UnitsPerBatch      int             `bson:"units_per_batch,omitempty" json:"units_per_batch,omitempty"`
	PrincipalPerBatch  decimal.Decimal `bson:"principal_per_batch" json:"principal_per_batch"`
	UnitWeight         decimal.Decimal `bson:"unit_weight" json:"unit_weight"`
	CookingLossPercent decimal.Decimal `bson:"cooking_loss_percent" json:"cooking_loss_percent"`
	Timer              TimerConfig     `bson:"timer" json:"timer"`
	DebitAtPreparation bool            `bson:"debit_at_preparation" json:"debit_at_preparation"`
	Packaging          PackagingConfig `bson:"packaging" json:"packaging"`
	Mixer              MixerSpec       `bson:"mixer" json:"mixer"`
}

// Scaling maps the stored unit kind onto its scaling rule.
func (i Item) Scaling() (Scaling, error) {
	switch i.UnitKind {
	case UnitKindPerUnit, UnitKindCookingLossLot, "":
		return PerUnit{}, nil
	case UnitKindBatchEquivalence:
		if i.UnitsPerBatch <= 0 {
			// An equivalence-less batch item falls back to per-unit scaling.
			return PerUnit{}, nil
		}
		return BatchEquivalence{UnitsPerBatch: i.UnitsPerBatch, PrincipalPerBatch: i.PrincipalPerBatch}, nil
	case UnitKindMixerLot:
		return MixerLot{}, nil
	default:
		return nil, fmt.Errorf("%w: %q on item %s", ErrUnknownUnitKind, i.UnitKind, i.Name)
	}
}

// RawUnitWeight returns the pre-cooking weight of one unit given the ready
// weight and the cooking loss percentage. It is meant for catalog
// configuration; the calculator consumes UnitWeight as stored.
func RawUnitWeight(ready, lossPercent decimal.Decimal) (decimal.Decimal, error) {
	hundred := decimal.NewFromInt(100)
	if lossPercent.IsNegative() || lossPercent.GreaterThanOrEqual(hundred) {
		return decimal.Zero, fmt.Errorf("cooking loss percent must be in [0, 100), got %s", lossPercent)
	}
	remaining := decimal.NewFromInt(1).Sub(lossPercent.Div(hundred))
	return ready.DivRound(remaining, 6), nil
}
