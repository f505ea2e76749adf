package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the sign of a stock movement.
type Direction string

const (
	DirectionConsume Direction = "consume"
	DirectionReverse Direction = "reverse"
)

// StockMovement is the append-only audit entry of one ledger call.
type StockMovement struct {
	ID             string          `bson:"_id" json:"id"`
	OrganizationID string          `bson:"organization_id" json:"organization_id"`
	IngredientID   string          `bson:"ingredient_id" json:"ingredient_id"`
	IngredientName string          `bson:"ingredient_name" json:"ingredient_name"`
	RecordID       string          `bson:"record_id,omitempty" json:"record_id,omitempty"`
	Direction      Direction       `bson:"direction" json:"direction"`
	Quantity       decimal.Decimal `bson:"quantity" json:"quantity"`
	Unit           Unit            `bson:"unit" json:"unit"`
	Before         decimal.Decimal `bson:"before" json:"before"`
	After          decimal.Decimal `bson:"after" json:"after"`
	Actor          string          `bson:"actor" json:"actor"`
	Context        string          `bson:"context" json:"context"`
	Claim          string          `bson:"claim,omitempty" json:"claim,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
}

// ConsumptionEntry is the consumption history line written for every
// ingredient debited when a record is completed.
type ConsumptionEntry struct {
	ID             string          `bson:"_id" json:"id"`
	OrganizationID string          `bson:"organization_id" json:"organization_id"`
	RecordID       string          `bson:"record_id" json:"record_id"`
	ItemID         string          `bson:"item_id" json:"item_id"`
	IngredientID   string          `bson:"ingredient_id" json:"ingredient_id"`
	IngredientName string          `bson:"ingredient_name" json:"ingredient_name"`
	Quantity       decimal.Decimal `bson:"quantity" json:"quantity"`
	Unit           Unit            `bson:"unit" json:"unit"`
	MovementID     string          `bson:"movement_id" json:"movement_id"`
	Packaging      bool            `bson:"packaging" json:"packaging"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
}

// LossType classifies a real production loss.
type LossType string

const (
	LossBurnt        LossType = "burnt"
	LossContaminated LossType = "contaminated"
	LossDropped      LossType = "dropped"
	LossEquipment    LossType = "equipment"
	LossOther        LossType = "other"
)

// LossRecord is written exactly once when a record is terminated as a real
// loss. Stock is never reversed for a loss.
type LossRecord struct {
	ID               string          `bson:"_id" json:"id"`
	OrganizationID   string          `bson:"organization_id" json:"organization_id"`
	RecordID         string          `bson:"record_id" json:"record_id"`
	ItemID           string          `bson:"item_id" json:"item_id"`
	ItemName         string          `bson:"item_name" json:"item_name"`
	Type             LossType        `bson:"type" json:"type"`
	Quantity         int             `bson:"quantity" json:"quantity"`
	Weight           decimal.Decimal `bson:"weight" json:"weight"`
	Reason           string          `bson:"reason" json:"reason"`
	Stage            Status          `bson:"stage" json:"stage"`
	Actor            string          `bson:"actor" json:"actor"`
	StockNotReversed bool            `bson:"stock_not_reversed" json:"stock_not_reversed"`
	CreatedAt        time.Time       `bson:"created_at" json:"created_at"`
}

// CancellationAudit is written exactly once per technical cancellation.
type CancellationAudit struct {
	ID             string          `bson:"_id" json:"id"`
	OrganizationID string          `bson:"organization_id" json:"organization_id"`
	RecordID       string          `bson:"record_id" json:"record_id"`
	ItemID         string          `bson:"item_id" json:"item_id"`
	ItemName       string          `bson:"item_name" json:"item_name"`
	Stage          Status          `bson:"stage" json:"stage"`
	Reason         string          `bson:"reason" json:"reason"`
	Actor          string          `bson:"actor" json:"actor"`
	Reversed       decimal.Decimal `bson:"reversed" json:"reversed"`
	ReversedUnit   Unit            `bson:"reversed_unit,omitempty" json:"reversed_unit,omitempty"`
	CreatedAt      time.Time       `bson:"created_at" json:"created_at"`
}

// SplitAudit records an insufficient-stock split.
type SplitAudit struct {
	ID                 string    `bson:"_id" json:"id"`
	OrganizationID     string    `bson:"organization_id" json:"organization_id"`
	RecordID           string    `bson:"record_id" json:"record_id"`
	PendingRecordID    string    `bson:"pending_record_id" json:"pending_record_id"`
	ItemName           string    `bson:"item_name" json:"item_name"`
	UnitsBefore        int       `bson:"units_before" json:"units_before"`
	UnitsNow           int       `bson:"units_now" json:"units_now"`
	UnitsPending       int       `bson:"units_pending" json:"units_pending"`
	LimitingIngredient string    `bson:"limiting_ingredient" json:"limiting_ingredient"`
	Actor              string    `bson:"actor" json:"actor"`
	CreatedAt          time.Time `bson:"created_at" json:"created_at"`
}
