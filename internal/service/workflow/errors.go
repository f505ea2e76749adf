package workflow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/service/resolver"
	"github.com/mamadbah2/producao/internal/service/sequencer"
)

var (
	// ErrValidation marks input rejected before reaching the state machine.
	ErrValidation = errors.New("invalid input")
	// ErrAlreadyAdvanced is returned to the operator who lost a race on a card.
	ErrAlreadyAdvanced = errors.New("record was already advanced by another operator")
	// ErrTransitionInProgress is returned while another transition holds the card.
	ErrTransitionInProgress = errors.New("another transition of this record is in progress")
	// ErrInvalidTransition is returned for transitions the current stage does not allow.
	ErrInvalidTransition = errors.New("transition not allowed from the current stage")
	// ErrTimerRunning is returned when leaving preparation before the timer ends.
	ErrTimerRunning = errors.New("preparation timer is still running")
	// ErrLedger wraps stock movement failures that blocked a transition.
	ErrLedger = errors.New("stock ledger failure")

	ErrBlockedByPreviousBatch = sequencer.ErrBlocked
	ErrLotBatchRunning        = sequencer.ErrLotBatchRunning
	ErrNothingProducible      = resolver.ErrNothingProducible
	ErrInvalidSplit           = resolver.ErrInvalidSplit
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Shortage describes the ingredient that prevents a record from starting
// with its full programmed quantity. It is offered to the operator as a
// split, not reported as an error.
type Shortage struct {
	RecordID        string          `json:"record_id"`
	ItemName        string          `json:"item_name"`
	IngredientID    string          `json:"ingredient_id"`
	IngredientName  string          `json:"ingredient_name"`
	Required        decimal.Decimal `json:"required"`
	Available       decimal.Decimal `json:"available"`
	Unit            models.Unit     `json:"unit"`
	ProgrammedUnits int             `json:"programmed_units"`
	ProducibleUnits int             `json:"producible_units"`
}

func (s Shortage) String() string {
	return fmt.Sprintf("%s needs %s %s of %s but only %s %s is available; %d of %d units can be produced",
		s.ItemName, s.Required, s.Unit, s.IngredientName, s.Available, s.Unit, s.ProducibleUnits, s.ProgrammedUnits)
}

func shortageOf(rec models.ProductionRecord, limit resolver.Limit) *Shortage {
	req := limit.Requirement
	return &Shortage{
		RecordID:        rec.ID,
		ItemName:        rec.ItemName,
		IngredientID:    req.Ingredient.ID,
		IngredientName:  req.Ingredient.Name,
		Required:        req.StockQuantity,
		Available:       req.Available,
		Unit:            req.StockUnit,
		ProgrammedUnits: rec.ProgrammedUnits,
		ProducibleUnits: limit.ProducibleUnits,
	}
}
