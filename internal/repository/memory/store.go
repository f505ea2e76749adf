package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
)

// Store is a process-local implementation of repository.Store. It enforces
// the same guards as the persistent backends.
type Store struct {
	mu sync.RWMutex

	records       map[string]models.ProductionRecord
	items         map[string]models.Item
	links         map[string]models.LinkedIngredient
	ingredients   map[string]models.Ingredient
	movements     []models.StockMovement
	losses        []models.LossRecord
	cancellations []models.CancellationAudit
	splits        []models.SplitAudit
	consumption   []models.ConsumptionEntry
	demand        map[string]models.ItemDemand
	finished      map[string]int
	backlog       map[string]models.BacklogEntry

	events feed.Publisher
	now    func() time.Time
}

var _ repository.Store = (*Store)(nil)

// NewStore creates an empty store publishing change notifications to events.
func NewStore(events feed.Publisher) *Store {
	return &Store{
		records:     make(map[string]models.ProductionRecord),
		items:       make(map[string]models.Item),
		links:       make(map[string]models.LinkedIngredient),
		ingredients: make(map[string]models.Ingredient),
		demand:      make(map[string]models.ItemDemand),
		finished:    make(map[string]int),
		backlog:     make(map[string]models.BacklogEntry),
		events:      events,
		now:         time.Now,
	}
}

// Splits returns the split audits written so far.
func (s *Store) Splits() []models.SplitAudit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SplitAudit(nil), s.splits...)
}

func (s *Store) publish(collection string, op feed.Op, id, org string) {
	if s.events == nil {
		return
	}
	s.events.Publish(feed.Event{Collection: collection, Op: op, ID: id, OrganizationID: org, At: s.now().UTC()})
}

func (s *Store) CreateRecord(_ context.Context, rec *models.ProductionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}

	s.mu.Lock()
	if _, exists := s.records[rec.ID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("record %s already exists: %w", rec.ID, repository.ErrConflict)
	}
	if err := s.checkLotTimerLocked(*rec); err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[rec.ID] = rec.Clone()
	s.mu.Unlock()

	s.publish(feed.CollectionRecords, feed.OpInsert, rec.ID, rec.OrganizationID)
	return nil
}

func (s *Store) GetRecord(_ context.Context, id string) (*models.ProductionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("production record %s: %w", id, repository.ErrNotFound)
	}
	out := rec.Clone()
	return &out, nil
}

func (s *Store) ListRecords(_ context.Context, filter repository.RecordFilter) ([]models.ProductionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ProductionRecord, 0)
	for _, rec := range s.records {
		if filter.Matches(rec) {
			out = append(out, rec.Clone())
		}
	}
	repository.SortRecords(out)
	return out, nil
}

func (s *Store) UpdateRecord(_ context.Context, rec *models.ProductionRecord, guard repository.Guard) error {
	s.mu.Lock()
	current, ok := s.records[rec.ID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("production record %s: %w", rec.ID, repository.ErrNotFound)
	}
	if current.Status != guard.Status || current.Version != guard.Version {
		s.mu.Unlock()
		return fmt.Errorf("production record %s is %s v%d, expected %s v%d: %w",
			rec.ID, current.Status, current.Version, guard.Status, guard.Version, repository.ErrConflict)
	}
	if err := s.checkLotTimerLocked(*rec); err != nil {
		s.mu.Unlock()
		return err
	}
	rec.Version = guard.Version + 1
	rec.UpdatedAt = s.now().UTC()
	s.records[rec.ID] = rec.Clone()
	s.mu.Unlock()

	s.publish(feed.CollectionRecords, feed.OpUpdate, rec.ID, rec.OrganizationID)
	return nil
}

// checkLotTimerLocked mirrors the unique (lot_id, timer_status=running)
// index of the persistent stores.
func (s *Store) checkLotTimerLocked(rec models.ProductionRecord) error {
	if rec.LotID == "" || rec.TimerStatus != models.TimerRunning {
		return nil
	}
	for id, other := range s.records {
		if id == rec.ID || other.LotID != rec.LotID {
			continue
		}
		if other.TimerStatus == models.TimerRunning {
			return fmt.Errorf("lot %s batch %d: %w", rec.LotID, other.BatchSequence, repository.ErrLotBusy)
		}
	}
	return nil
}

func (s *Store) DeleteRecord(_ context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.records[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("production record %s: %w", id, repository.ErrNotFound)
	}
	delete(s.records, id)
	s.mu.Unlock()

	s.publish(feed.CollectionRecords, feed.OpDelete, id, rec.OrganizationID)
	return nil
}

func (s *Store) GetItem(_ context.Context, id string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s: %w", id, repository.ErrNotFound)
	}
	return &item, nil
}

func (s *Store) SaveItem(_ context.Context, item models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = item
	return nil
}

func (s *Store) ListLinkedIngredients(_ context.Context, itemID string) ([]models.LinkedIngredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LinkedIngredient, 0)
	for _, link := range s.links {
		if link.ItemID == itemID {
			out = append(out, link)
		}
	}
	// Principal first, then by id, so scans see a stable encounter order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Principal != out[j].Principal {
			return out[i].Principal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) SaveLinkedIngredient(_ context.Context, link models.LinkedIngredient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ID] = link
	return nil
}

func (s *Store) GetIngredient(_ context.Context, id string) (*models.Ingredient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ing, ok := s.ingredients[id]
	if !ok {
		return nil, fmt.Errorf("ingredient %s: %w", id, repository.ErrNotFound)
	}
	return &ing, nil
}

func (s *Store) SaveIngredient(_ context.Context, ing models.Ingredient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingredients[ing.ID] = ing
	return nil
}

func (s *Store) AdjustStock(_ context.Context, ingredientID string, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ing, ok := s.ingredients[ingredientID]
	if !ok {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ingredient %s: %w", ingredientID, repository.ErrNotFound)
	}
	before := ing.Stock
	ing.Stock = ing.Stock.Add(delta)
	s.ingredients[ingredientID] = ing
	return before, ing.Stock, nil
}

func (s *Store) AppendMovement(_ context.Context, mv models.StockMovement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = append(s.movements, mv)
	return nil
}

func (s *Store) ListMovements(_ context.Context, filter repository.MovementFilter) ([]models.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.StockMovement, 0)
	for _, mv := range s.movements {
		if filter.OrganizationID != "" && mv.OrganizationID != filter.OrganizationID {
			continue
		}
		if filter.IngredientID != "" && mv.IngredientID != filter.IngredientID {
			continue
		}
		if filter.RecordID != "" && mv.RecordID != filter.RecordID {
			continue
		}
		out = append(out, mv)
	}
	return out, nil
}

func (s *Store) AppendLoss(_ context.Context, loss models.LossRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.losses = append(s.losses, loss)
	return nil
}

func (s *Store) AppendCancellation(_ context.Context, audit models.CancellationAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancellations = append(s.cancellations, audit)
	return nil
}

func (s *Store) AppendSplit(_ context.Context, audit models.SplitAudit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.splits = append(s.splits, audit)
	return nil
}

func (s *Store) AppendConsumption(_ context.Context, entry models.ConsumptionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumption = append(s.consumption, entry)
	return nil
}

func (s *Store) ListLosses(_ context.Context, organizationID string) ([]models.LossRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.LossRecord, 0)
	for _, loss := range s.losses {
		if organizationID == "" || loss.OrganizationID == organizationID {
			out = append(out, loss)
		}
	}
	return out, nil
}

func (s *Store) ListCancellations(_ context.Context, organizationID string) ([]models.CancellationAudit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.CancellationAudit, 0)
	for _, audit := range s.cancellations {
		if organizationID == "" || audit.OrganizationID == organizationID {
			out = append(out, audit)
		}
	}
	return out, nil
}

func (s *Store) ListConsumption(_ context.Context, recordID string) ([]models.ConsumptionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ConsumptionEntry, 0)
	for _, entry := range s.consumption {
		if entry.RecordID == recordID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func demandKey(organizationID, itemID string) string {
	return organizationID + "/" + itemID
}

func (s *Store) GetDemand(_ context.Context, organizationID, itemID string) (models.ItemDemand, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.demand[demandKey(organizationID, itemID)]
	if !ok {
		return models.ItemDemand{OrganizationID: organizationID, ItemID: itemID}, nil
	}
	return d, nil
}

func (s *Store) SaveDemand(_ context.Context, demand models.ItemDemand) error {
	s.mu.Lock()
	demand.UpdatedAt = s.now().UTC()
	s.demand[demandKey(demand.OrganizationID, demand.ItemID)] = demand
	s.mu.Unlock()

	s.publish(feed.CollectionDemand, feed.OpUpdate, demand.ItemID, demand.OrganizationID)
	return nil
}

func (s *Store) ClearDemand(_ context.Context, organizationID, itemID string) error {
	s.mu.Lock()
	delete(s.demand, demandKey(organizationID, itemID))
	s.mu.Unlock()

	s.publish(feed.CollectionDemand, feed.OpDelete, itemID, organizationID)
	return nil
}

func (s *Store) CreditFinishedGoods(_ context.Context, organizationID, itemID string, units int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[demandKey(organizationID, itemID)] += units
	return nil
}

func (s *Store) FinishedGoods(_ context.Context, organizationID, itemID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finished[demandKey(organizationID, itemID)], nil
}

func (s *Store) ListBacklog(_ context.Context, organizationID string) ([]models.BacklogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BacklogEntry, 0)
	for _, entry := range s.backlog {
		if organizationID == "" || entry.OrganizationID == organizationID {
			out = append(out, entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemName < out[j].ItemName })
	return out, nil
}

func (s *Store) SaveBacklog(_ context.Context, entry models.BacklogEntry) error {
	s.mu.Lock()
	entry.UpdatedAt = s.now().UTC()
	s.backlog[entry.ID] = entry
	s.mu.Unlock()

	s.publish(feed.CollectionBacklog, feed.OpUpdate, entry.ID, entry.OrganizationID)
	return nil
}

func (s *Store) Close(context.Context) error { return nil }
