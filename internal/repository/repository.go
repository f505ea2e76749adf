package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
)

var (
	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded update finds the record in a
	// different status or version than expected.
	ErrConflict = errors.New("record changed concurrently")
	// ErrLotBusy is returned when a second batch of one lot would get a
	// running timer.
	ErrLotBusy = errors.New("another batch of this lot is already being prepared")
)

// Guard is the compare-and-swap precondition of a record update.
type Guard struct {
	Status  models.Status
	Version int64
}

// GuardOf returns the guard matching the record as it was read.
func GuardOf(rec models.ProductionRecord) Guard {
	return Guard{Status: rec.Status, Version: rec.Version}
}

// RecordFilter narrows production record queries. Zero fields are ignored.
type RecordFilter struct {
	OrganizationID string
	ItemID         string
	LotID          string
	Statuses       []models.Status
	TimerStatus    models.TimerStatus
	CreatedFrom    time.Time
	CreatedUntil   time.Time
}

// Matches reports whether rec satisfies the filter.
func (f RecordFilter) Matches(rec models.ProductionRecord) bool {
	if f.OrganizationID != "" && rec.OrganizationID != f.OrganizationID {
		return false
	}
	if f.ItemID != "" && rec.ItemID != f.ItemID {
		return false
	}
	if f.LotID != "" && rec.LotID != f.LotID {
		return false
	}
	if f.TimerStatus != "" && rec.TimerStatus != f.TimerStatus {
		return false
	}
	if !f.CreatedFrom.IsZero() && rec.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedUntil.IsZero() && !rec.CreatedAt.Before(f.CreatedUntil) {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if rec.Status == st {
			return true
		}
	}
	return false
}

// MovementFilter narrows stock movement queries.
type MovementFilter struct {
	OrganizationID string
	IngredientID   string
	RecordID       string
}

// ProductionStore persists production records.
type ProductionStore interface {
	CreateRecord(ctx context.Context, rec *models.ProductionRecord) error
	GetRecord(ctx context.Context, id string) (*models.ProductionRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]models.ProductionRecord, error)
	// UpdateRecord replaces the stored record only when it still matches the
	// guard. On success rec.Version is advanced and rec.UpdatedAt refreshed.
	UpdateRecord(ctx context.Context, rec *models.ProductionRecord, guard Guard) error
	DeleteRecord(ctx context.Context, id string) error
}

// CatalogStore reads the item catalog. Save methods exist for seeding and
// catalog synchronization.
type CatalogStore interface {
	GetItem(ctx context.Context, id string) (*models.Item, error)
	SaveItem(ctx context.Context, item models.Item) error
	ListLinkedIngredients(ctx context.Context, itemID string) ([]models.LinkedIngredient, error)
	SaveLinkedIngredient(ctx context.Context, link models.LinkedIngredient) error
	GetIngredient(ctx context.Context, id string) (*models.Ingredient, error)
	SaveIngredient(ctx context.Context, ing models.Ingredient) error
}

// StockStore applies atomic stock adjustments and keeps the movement trail.
type StockStore interface {
	// AdjustStock adds delta to the ingredient stock atomically and returns
	// the stock before and after the change.
	AdjustStock(ctx context.Context, ingredientID string, delta decimal.Decimal) (before, after decimal.Decimal, err error)
	AppendMovement(ctx context.Context, mv models.StockMovement) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]models.StockMovement, error)
}

// AuditStore keeps the append-only audit entries of the workflow.
type AuditStore interface {
	AppendLoss(ctx context.Context, loss models.LossRecord) error
	AppendCancellation(ctx context.Context, audit models.CancellationAudit) error
	AppendSplit(ctx context.Context, audit models.SplitAudit) error
	AppendConsumption(ctx context.Context, entry models.ConsumptionEntry) error
	ListLosses(ctx context.Context, organizationID string) ([]models.LossRecord, error)
	ListCancellations(ctx context.Context, organizationID string) ([]models.CancellationAudit, error)
	ListConsumption(ctx context.Context, recordID string) ([]models.ConsumptionEntry, error)
}

// DemandStore reads the upstream demand aggregates and the finished goods
// ledger fed by completed production.
type DemandStore interface {
	GetDemand(ctx context.Context, organizationID, itemID string) (models.ItemDemand, error)
	SaveDemand(ctx context.Context, demand models.ItemDemand) error
	ClearDemand(ctx context.Context, organizationID, itemID string) error
	CreditFinishedGoods(ctx context.Context, organizationID, itemID string, units int) error
	FinishedGoods(ctx context.Context, organizationID, itemID string) (int, error)
	ListBacklog(ctx context.Context, organizationID string) ([]models.BacklogEntry, error)
	SaveBacklog(ctx context.Context, entry models.BacklogEntry) error
}

// Store is the full record-storage boundary used by the services.
type Store interface {
	ProductionStore
	CatalogStore
	StockStore
	AuditStore
	DemandStore
	Close(ctx context.Context) error
}

// SortRecords orders records the way every store lists them: batches of one
// lot by sequence, everything else by creation time and id.
func SortRecords(recs []models.ProductionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].LotID == recs[j].LotID && recs[i].LotID != "" {
			return recs[i].BatchSequence < recs[j].BatchSequence
		}
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].ID < recs[j].ID
	})
}
