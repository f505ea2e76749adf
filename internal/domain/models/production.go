package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the stage of a production record in the manufacturing pipeline.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusPreparing  Status = "preparing"
	StatusPortioning Status = "portioning"
	StatusDone       Status = "done"
)

// TimerStatus tracks the countdown of a record while it is being prepared.
type TimerStatus string

const (
	TimerNotApplicable TimerStatus = "not_applicable"
	TimerNotStarted    TimerStatus = "not_started"
	TimerRunning       TimerStatus = "running"
	TimerFinished      TimerStatus = "finished"
)

// Calibration is the outcome of comparing the measured mixer unit weight
// against the item's allowed range.
type Calibration string

const (
	CalibrationUnknown    Calibration = ""
	CalibrationWithinSpec Calibration = "within_spec"
	CalibrationOutOfSpec  Calibration = "out_of_spec"
)

// Outcome marks how a record left the regular pipeline.
type Outcome string

const (
	OutcomeNone      Outcome = ""
	OutcomeCompleted Outcome = "completed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeLost      Outcome = "lost"
)

// StockDebit remembers a movement applied to a record so it can be reversed.
type StockDebit struct {
	IngredientID string          `bson:"ingredient_id" json:"ingredient_id"`
	Quantity     decimal.Decimal `bson:"quantity" json:"quantity"`
	Unit         Unit            `bson:"unit" json:"unit"`
	MovementID   string          `bson:"movement_id" json:"movement_id"`
}

// MixerData holds the mixer-lot specific measurements of a card.
type MixerData struct {
	Batches           int             `bson:"batches" json:"batches"`
	FlourConsumed     decimal.Decimal `bson:"flour_consumed" json:"flour_consumed"`
	DoughGenerated    decimal.Decimal `bson:"dough_generated" json:"dough_generated"`
	MinUnitWeight     decimal.Decimal `bson:"min_unit_weight" json:"min_unit_weight"`
	MaxUnitWeight     decimal.Decimal `bson:"max_unit_weight" json:"max_unit_weight"`
	TargetUnitWeight  decimal.Decimal `bson:"target_unit_weight" json:"target_unit_weight"`
	EstimatedUnits    int             `bson:"estimated_units" json:"estimated_units"`
	AverageUnitWeight decimal.Decimal `bson:"average_unit_weight" json:"average_unit_weight"`
	Calibration       Calibration     `bson:"calibration,omitempty" json:"calibration,omitempty"`
}

// PackagingData holds the packaging consumption computed for a card.
type PackagingData struct {
	PerPortion   bool            `bson:"per_portion" json:"per_portion"`
	IngredientID string          `bson:"ingredient_id,omitempty" json:"ingredient_id,omitempty"`
	Quantity     decimal.Decimal `bson:"quantity" json:"quantity"`
	Unit         Unit            `bson:"unit,omitempty" json:"unit,omitempty"`
}

// Transition is a claim placed on a record while stock effects of a stage
// change are applied. A claimed record refuses other transitions.
type Transition struct {
	Name      string    `bson:"name" json:"name"`
	Token     string    `bson:"token" json:"token"`
	ClaimedAt time.Time `bson:"claimed_at" json:"claimed_at"`
}

// ProductionRecord is one unit of scheduled, in-progress or completed work.
type ProductionRecord struct {
	ID             string `bson:"_id" json:"id"`
	OrganizationID string `bson:"organization_id" json:"organization_id"`
	ItemID         string `bson:"item_id" json:"item_id"`
	ItemName       string `bson:"item_name" json:"item_name"`
	LotID          string `bson:"lot_id,omitempty" json:"lot_id,omitempty"`
	BatchSequence  int    `bson:"batch_sequence,omitempty" json:"batch_sequence,omitempty"`
	BatchesInLot   int    `bson:"batches_in_lot,omitempty" json:"batches_in_lot,omitempty"`

	ProgrammedUnits     int             `bson:"programmed_units" json:"programmed_units"`
	ActualUnits         *int            `bson:"actual_units,omitempty" json:"actual_units,omitempty"`
	ProgrammedWeight    decimal.Decimal `bson:"programmed_weight" json:"programmed_weight"`
	PreparationWeight   decimal.Decimal `bson:"preparation_weight" json:"preparation_weight"`
	PreparationLeftover decimal.Decimal `bson:"preparation_leftover" json:"preparation_leftover"`
	FinalWeight         decimal.Decimal `bson:"final_weight" json:"final_weight"`
	FinalLeftover       decimal.Decimal `bson:"final_leftover" json:"final_leftover"`

	StartedAt            *time.Time `bson:"started_at,omitempty" json:"started_at,omitempty"`
	PreparationStartedAt *time.Time `bson:"preparation_started_at,omitempty" json:"preparation_started_at,omitempty"`
	PreparationEndedAt   *time.Time `bson:"preparation_ended_at,omitempty" json:"preparation_ended_at,omitempty"`
	PortioningStartedAt  *time.Time `bson:"portioning_started_at,omitempty" json:"portioning_started_at,omitempty"`
	PortioningEndedAt    *time.Time `bson:"portioning_ended_at,omitempty" json:"portioning_ended_at,omitempty"`
	FinishedAt           *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`

	Status      Status  `bson:"status" json:"status"`
	Outcome     Outcome `bson:"outcome,omitempty" json:"outcome,omitempty"`
	Incremental bool    `bson:"is_incremental" json:"is_incremental"`
	Cancelled   int     `bson:"cancelled_count,omitempty" json:"cancelled_count,omitempty"`

	// SplitRemainderID points at the queued card holding the units this card
	// gave up in an insufficient stock split.
	SplitRemainderID string `bson:"split_remainder_id,omitempty" json:"split_remainder_id,omitempty"`

	Demand DemandSnapshot `bson:"demand" json:"demand"`

	TimerEnabled           bool        `bson:"timer_enabled" json:"timer_enabled"`
	TimerMinutes           int         `bson:"timer_minutes" json:"timer_minutes"`
	TimerStatus            TimerStatus `bson:"timer_status" json:"timer_status"`
	BlockedByPreviousBatch bool        `bson:"blocked_by_previous_batch" json:"blocked_by_previous_batch"`

	Mixer     MixerData     `bson:"mixer" json:"mixer"`
	Packaging PackagingData `bson:"packaging" json:"packaging"`

	PreparationDebit *StockDebit `bson:"preparation_debit,omitempty" json:"preparation_debit,omitempty"`
	Pending          *Transition `bson:"pending,omitempty" json:"pending,omitempty"`

	Version   int64     `bson:"version" json:"version"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (r ProductionRecord) Clone() ProductionRecord {
	out := r
	if r.ActualUnits != nil {
		v := *r.ActualUnits
		out.ActualUnits = &v
	}
	out.StartedAt = cloneTime(r.StartedAt)
	out.PreparationStartedAt = cloneTime(r.PreparationStartedAt)
	out.PreparationEndedAt = cloneTime(r.PreparationEndedAt)
	out.PortioningStartedAt = cloneTime(r.PortioningStartedAt)
	out.PortioningEndedAt = cloneTime(r.PortioningEndedAt)
	out.FinishedAt = cloneTime(r.FinishedAt)
	if r.Demand.Stores != nil {
		out.Demand.Stores = append([]StoreDemand(nil), r.Demand.Stores...)
	}
	if r.PreparationDebit != nil {
		d := *r.PreparationDebit
		out.PreparationDebit = &d
	}
	if r.Pending != nil {
		p := *r.Pending
		out.Pending = &p
	}
	return out
}

// InLot reports whether the record belongs to a multi-batch lot.
func (r ProductionRecord) InLot() bool {
	return r.LotID != "" && r.BatchSequence > 0
}

// OwnsLotPackaging reports whether this card carries the packaging debit of
// its lot: the first batch, or a record outside any sequence.
func (r ProductionRecord) OwnsLotPackaging() bool {
	return r.BatchSequence <= 1
}

// DemandFixed reports whether the demand snapshot was apportioned by a split
// and must not be refreshed from the live demand.
func (r ProductionRecord) DemandFixed() bool {
	return r.Incremental || r.SplitRemainderID != ""
}

// Units returns the actual units when set, otherwise zero.
func (r ProductionRecord) Units() int {
	if r.ActualUnits == nil {
		return 0
	}
	return *r.ActualUnits
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
