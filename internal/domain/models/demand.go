package models

import "time"

// StoreDemand is the quantity one downstream store is waiting for.
type StoreDemand struct {
	StoreID   string `bson:"store_id" json:"store_id"`
	StoreName string `bson:"store_name" json:"store_name"`
	Quantity  int    `bson:"quantity" json:"quantity"`
}

// DemandSnapshot is the downstream demand captured when a record is created
// or enters preparation.
type DemandSnapshot struct {
	Total           int           `bson:"total" json:"total"`
	Reserve         int           `bson:"reserve" json:"reserve"`
	RoundingSurplus int           `bson:"rounding_surplus" json:"rounding_surplus"`
	Stores          []StoreDemand `bson:"stores,omitempty" json:"stores,omitempty"`
}

// IsZero reports whether no demand was captured.
func (d DemandSnapshot) IsZero() bool {
	return d.Total == 0 && d.Reserve == 0 && d.RoundingSurplus == 0 && len(d.Stores) == 0
}

// ItemDemand is the live aggregate of store counts for one produced item.
// It is fed by the counting screens and cleared when production completes.
type ItemDemand struct {
	OrganizationID string         `bson:"organization_id" json:"organization_id"`
	ItemID         string         `bson:"item_id" json:"item_id"`
	Demand         DemandSnapshot `bson:"demand" json:"demand"`
	UpdatedAt      time.Time      `bson:"updated_at" json:"updated_at"`
}

// BacklogEntry is demand waiting for a minimum batch before production can
// be scheduled.
type BacklogEntry struct {
	ID             string    `bson:"_id" json:"id"`
	OrganizationID string    `bson:"organization_id" json:"organization_id"`
	ItemID         string    `bson:"item_id" json:"item_id"`
	ItemName       string    `bson:"item_name" json:"item_name"`
	Accumulated    int       `bson:"accumulated" json:"accumulated"`
	MinimumBatch   int       `bson:"minimum_batch" json:"minimum_batch"`
	UpdatedAt      time.Time `bson:"updated_at" json:"updated_at"`
}

// Waiting reports whether the backlog has not reached its minimum batch yet.
func (b BacklogEntry) Waiting() bool {
	return b.Accumulated > 0 && b.Accumulated < b.MinimumBatch
}
