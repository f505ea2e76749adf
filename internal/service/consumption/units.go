package consumption

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
)

var (
	// ErrUnknownUnit is returned for units outside the supported set.
	ErrUnknownUnit = errors.New("unknown unit of measure")
	// ErrIncompatibleUnits is returned when converting between families,
	// e.g. grams to liters.
	ErrIncompatibleUnits = errors.New("incompatible units")
)

type family int

const (
	familyMass family = iota + 1
	familyVolume
	familyCount
)

type unitInfo struct {
	family family
	// exponent is the power of ten relative to the family base unit.
	exponent int32
}

var units = map[models.Unit]unitInfo{
	models.UnitKilogram:   {family: familyMass, exponent: 0},
	models.UnitGram:       {family: familyMass, exponent: -3},
	models.UnitLiter:      {family: familyVolume, exponent: 0},
	models.UnitMilliliter: {family: familyVolume, exponent: -3},
	models.UnitPiece:      {family: familyCount, exponent: 0},
}

// Convert expresses q, measured in from, in the unit to. An empty from is
// taken to already be in the target unit.
func Convert(q decimal.Decimal, from, to models.Unit) (decimal.Decimal, error) {
	if from == "" || from == to {
		return q, nil
	}
	src, ok := units[from]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownUnit, from)
	}
	dst, ok := units[to]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownUnit, to)
	}
	if src.family != dst.family {
		return decimal.Zero, fmt.Errorf("%w: %s to %s", ErrIncompatibleUnits, from, to)
	}
	return q.Shift(src.exponent - dst.exponent), nil
}
