package models

import "github.com/shopspring/decimal"

// Unit is a unit of measure for ingredient quantities.
type Unit string

const (
	UnitKilogram   Unit = "kg"
	UnitGram       Unit = "g"
	UnitLiter      Unit = "l"
	UnitMilliliter Unit = "ml"
	UnitPiece      Unit = "un"
)

// ScalingMode tells how a linked ingredient quantity grows with production.
type ScalingMode string

const (
	ScalePerUnit  ScalingMode = "per_unit"
	ScalePerBatch ScalingMode = "per_batch"
	ScalePerMixer ScalingMode = "per_mixer_lot"
)

// Ingredient is an inventory item owned by the catalog. The core only reads
// its stock and requests signed adjustments through the ledger.
type Ingredient struct {
	ID             string          `bson:"_id" json:"id"`
	OrganizationID string          `bson:"organization_id" json:"organization_id"`
	Name           string          `bson:"name" json:"name"`
	Stock          decimal.Decimal `bson:"stock" json:"stock"`
	Unit           Unit            `bson:"unit" json:"unit"`
}

// LinkedIngredient associates a produced item with one ingredient it consumes.
type LinkedIngredient struct {
	ID           string          `bson:"_id" json:"id"`
	ItemID       string          `bson:"item_id" json:"item_id"`
	IngredientID string          `bson:"ingredient_id" json:"ingredient_id"`
	Quantity     decimal.Decimal `bson:"quantity" json:"quantity"`
	Mode         ScalingMode     `bson:"mode" json:"mode"`
	Unit         Unit            `bson:"unit" json:"unit"`
	Principal    bool            `bson:"principal" json:"principal"`
}
