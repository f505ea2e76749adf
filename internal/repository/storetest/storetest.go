// Package storetest holds the behaviour every repository.Store backend must
// share. Backend tests call Run with a constructor for a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
)

// Opener returns an empty store publishing to events.
type Opener func(t *testing.T, events feed.Publisher) repository.Store

// Recorder collects published events.
type Recorder struct {
	mu     sync.Mutex
	events []feed.Event
}

// Publish implements feed.Publisher.
func (r *Recorder) Publish(ev feed.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the collected events.
func (r *Recorder) Events() []feed.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]feed.Event(nil), r.events...)
}

const org = "padaria-1"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newRecord(id string) models.ProductionRecord {
	return models.ProductionRecord{
		ID:               id,
		OrganizationID:   org,
		ItemID:           "broa",
		ItemName:         "Broa",
		ProgrammedUnits:  100,
		ProgrammedWeight: dec("12.345"),
		Status:           models.StatusQueued,
		TimerStatus:      models.TimerNotApplicable,
		Demand:           models.DemandSnapshot{Total: 90, Stores: []models.StoreDemand{{StoreID: "s1", StoreName: "Centro", Quantity: 90}}},
		CreatedAt:        time.Date(2026, 6, 1, 5, 0, 0, 0, time.UTC),
	}
}

// Run exercises the full contract against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Run("record round trip", func(t *testing.T) { testRecordRoundTrip(t, open) })
	t.Run("guarded update", func(t *testing.T) { testGuardedUpdate(t, open) })
	t.Run("one running timer per lot", func(t *testing.T) { testLotTimer(t, open) })
	t.Run("list records", func(t *testing.T) { testListRecords(t, open) })
	t.Run("adjust stock", func(t *testing.T) { testAdjustStock(t, open) })
	t.Run("catalog", func(t *testing.T) { testCatalog(t, open) })
	t.Run("demand and finished goods", func(t *testing.T) { testDemand(t, open) })
	t.Run("audits", func(t *testing.T) { testAudits(t, open) })
	t.Run("change notifications", func(t *testing.T) { testEvents(t, open) })
}

func testRecordRoundTrip(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)

	started := time.Date(2026, 6, 1, 6, 30, 0, 0, time.UTC)
	units := 98
	rec := newRecord("r1")
	rec.ActualUnits = &units
	rec.PreparationStartedAt = &started
	rec.PreparationDebit = &models.StockDebit{IngredientID: "flour", Quantity: dec("10.5"), Unit: models.UnitKilogram, MovementID: "m1"}
	rec.Mixer = models.MixerData{Batches: 2, TargetUnitWeight: dec("0.05"), Calibration: models.CalibrationWithinSpec}

	if err := store.CreateRecord(ctx, &rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.CreateRecord(ctx, &rec); err == nil {
		t.Fatalf("expected duplicate id to be rejected")
	}

	got, err := store.GetRecord(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ProgrammedWeight.Equal(dec("12.345")) || got.Units() != 98 || got.Demand.Total != 90 || len(got.Demand.Stores) != 1 {
		t.Fatalf("record fields lost in round trip: %+v", got)
	}
	if got.PreparationDebit == nil || !got.PreparationDebit.Quantity.Equal(dec("10.5")) {
		t.Fatalf("preparation debit lost: %+v", got.PreparationDebit)
	}
	if got.PreparationStartedAt == nil || !got.PreparationStartedAt.Equal(started) {
		t.Fatalf("preparation start lost: %v", got.PreparationStartedAt)
	}
	if got.Mixer.Batches != 2 || !got.Mixer.TargetUnitWeight.Equal(dec("0.05")) || got.Mixer.Calibration != models.CalibrationWithinSpec {
		t.Fatalf("mixer data lost: %+v", got.Mixer)
	}
	if got.Pending != nil || got.PreparationEndedAt != nil {
		t.Fatalf("nil fields must stay nil")
	}

	if _, err := store.GetRecord(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.DeleteRecord(ctx, "r1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetRecord(ctx, "r1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected deleted record to be gone, got %v", err)
	}
}

func testGuardedUpdate(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)

	rec := newRecord("r1")
	if err := store.CreateRecord(ctx, &rec); err != nil {
		t.Fatalf("create: %v", err)
	}

	first, _ := store.GetRecord(ctx, "r1")
	second, _ := store.GetRecord(ctx, "r1")

	guard := repository.GuardOf(*first)
	first.Status = models.StatusPreparing
	if err := store.UpdateRecord(ctx, first, guard); err != nil {
		t.Fatalf("update: %v", err)
	}
	if first.Version != guard.Version+1 {
		t.Fatalf("expected version %d, got %d", guard.Version+1, first.Version)
	}

	staleGuard := repository.GuardOf(*second)
	second.Status = models.StatusPreparing
	second.ProgrammedUnits = 1
	if err := store.UpdateRecord(ctx, second, staleGuard); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected ErrConflict for the stale writer, got %v", err)
	}
	if second.Version != staleGuard.Version {
		t.Fatalf("a failed update must not advance the version")
	}

	stored, _ := store.GetRecord(ctx, "r1")
	if stored.ProgrammedUnits != 100 || stored.Status != models.StatusPreparing {
		t.Fatalf("stale write leaked into the store: %+v", stored)
	}

	ghost := newRecord("ghost")
	if err := store.UpdateRecord(ctx, &ghost, repository.GuardOf(ghost)); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testLotTimer(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)

	for i, id := range []string{"b1", "b2", "solo1", "solo2"} {
		rec := newRecord(id)
		if i < 2 {
			rec.LotID = "lot-1"
			rec.BatchSequence = i + 1
			rec.BatchesInLot = 2
		}
		rec.TimerEnabled = true
		rec.TimerMinutes = 20
		rec.TimerStatus = models.TimerNotStarted
		if err := store.CreateRecord(ctx, &rec); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	run := func(id string) error {
		rec, err := store.GetRecord(ctx, id)
		if err != nil {
			return err
		}
		guard := repository.GuardOf(*rec)
		rec.Status = models.StatusPreparing
		rec.TimerStatus = models.TimerRunning
		return store.UpdateRecord(ctx, rec, guard)
	}

	if err := run("b1"); err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if err := run("b2"); !errors.Is(err, repository.ErrLotBusy) {
		t.Fatalf("expected ErrLotBusy for the second batch, got %v", err)
	}
	if err := run("solo1"); err != nil {
		t.Fatalf("records outside a lot are not constrained: %v", err)
	}
	if err := run("solo2"); err != nil {
		t.Fatalf("records outside a lot are not constrained: %v", err)
	}

	b1, _ := store.GetRecord(ctx, "b1")
	guard := repository.GuardOf(*b1)
	b1.TimerStatus = models.TimerFinished
	if err := store.UpdateRecord(ctx, b1, guard); err != nil {
		t.Fatalf("finish b1: %v", err)
	}
	if err := run("b2"); err != nil {
		t.Fatalf("second batch after the first finished: %v", err)
	}
}

func testListRecords(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)

	base := time.Date(2026, 6, 1, 5, 0, 0, 0, time.UTC)
	seed := []struct {
		id     string
		lot    string
		seq    int
		status models.Status
		at     time.Duration
	}{
		{id: "c", lot: "lot-1", seq: 3, status: models.StatusQueued, at: 0},
		{id: "a", lot: "lot-1", seq: 1, status: models.StatusPreparing, at: 0},
		{id: "b", lot: "lot-1", seq: 2, status: models.StatusQueued, at: 0},
		{id: "x", status: models.StatusDone, at: time.Minute},
	}
	for _, s := range seed {
		rec := newRecord(s.id)
		rec.LotID = s.lot
		rec.BatchSequence = s.seq
		rec.Status = s.status
		rec.CreatedAt = base.Add(s.at)
		if err := store.CreateRecord(ctx, &rec); err != nil {
			t.Fatalf("create %s: %v", s.id, err)
		}
	}

	testCases := []struct {
		name   string
		filter repository.RecordFilter
		want   []string
	}{
		{name: "lot in sequence", filter: repository.RecordFilter{LotID: "lot-1"}, want: []string{"a", "b", "c"}},
		{name: "queued", filter: repository.RecordFilter{OrganizationID: org, Statuses: []models.Status{models.StatusQueued}}, want: []string{"b", "c"}},
		{name: "other organization", filter: repository.RecordFilter{OrganizationID: "elsewhere"}, want: nil},
		{name: "created after", filter: repository.RecordFilter{CreatedFrom: base.Add(time.Second)}, want: []string{"x"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recs, err := store.ListRecords(ctx, tc.filter)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(recs) != len(tc.want) {
				t.Fatalf("expected %v, got %d records", tc.want, len(recs))
			}
			for i, id := range tc.want {
				if recs[i].ID != id {
					t.Fatalf("position %d: expected %s, got %s", i, id, recs[i].ID)
				}
			}
		})
	}
}

func testAdjustStock(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)

	if err := store.SaveIngredient(ctx, models.Ingredient{ID: "flour", OrganizationID: org, Name: "Farinha", Stock: dec("50"), Unit: models.UnitKilogram}); err != nil {
		t.Fatalf("save ingredient: %v", err)
	}

	before, after, err := store.AdjustStock(ctx, "flour", dec("-10.25"))
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if !before.Equal(dec("50")) || !after.Equal(dec("39.75")) {
		t.Fatalf("expected 50 -> 39.75, got %s -> %s", before, after)
	}
	if _, after, _ = store.AdjustStock(ctx, "flour", dec("10.25")); !after.Equal(dec("50")) {
		t.Fatalf("expected stock restored to 50, got %s", after)
	}
	ing, _ := store.GetIngredient(ctx, "flour")
	if !ing.Stock.Equal(dec("50")) {
		t.Fatalf("stored stock is %s", ing.Stock)
	}
	if _, _, err := store.AdjustStock(ctx, "salt", dec("1")); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mv := models.StockMovement{ID: "m1", OrganizationID: org, IngredientID: "flour", RecordID: "r1", Direction: models.DirectionConsume, Quantity: dec("10.25"), Unit: models.UnitKilogram, Before: dec("50"), After: dec("39.75"), Claim: "tok-1", CreatedAt: time.Now().UTC()}
	if err := store.AppendMovement(ctx, mv); err != nil {
		t.Fatalf("append movement: %v", err)
	}
	movements, err := store.ListMovements(ctx, repository.MovementFilter{RecordID: "r1"})
	if err != nil || len(movements) != 1 || !movements[0].After.Equal(dec("39.75")) || movements[0].Claim != "tok-1" {
		t.Fatalf("unexpected movements %+v err=%v", movements, err)
	}
	if none, _ := store.ListMovements(ctx, repository.MovementFilter{IngredientID: "sugar"}); len(none) != 0 {
		t.Fatalf("movement filter ignored")
	}
}

func testCatalog(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)

	item := models.Item{
		ID:                 "broa",
		OrganizationID:     org,
		Name:               "Broa",
		UnitKind:           models.UnitKindBatchEquivalence,
		UnitsPerBatch:      52,
		PrincipalPerBatch:  dec("2.5"),
		UnitWeight:         dec("0.1"),
		Timer:              models.TimerConfig{Enabled: true, Minutes: 20},
		DebitAtPreparation: true,
		Packaging:          models.PackagingConfig{PerPortion: true, IngredientID: "box", QuantityPerUnit: dec("1"), Unit: models.UnitPiece},
	}
	if err := store.SaveItem(ctx, item); err != nil {
		t.Fatalf("save item: %v", err)
	}
	got, err := store.GetItem(ctx, "broa")
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.UnitsPerBatch != 52 || !got.PrincipalPerBatch.Equal(dec("2.5")) || !got.Timer.Applies() || got.Packaging.IngredientID != "box" {
		t.Fatalf("item fields lost: %+v", got)
	}
	if _, err := store.GetItem(ctx, "pizza"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	links := []models.LinkedIngredient{
		{ID: "l-c", ItemID: "broa", IngredientID: "salt", Quantity: dec("2"), Mode: models.ScalePerUnit, Unit: models.UnitGram},
		{ID: "l-b", ItemID: "broa", IngredientID: "flour", Quantity: dec("2.5"), Mode: models.ScalePerBatch, Unit: models.UnitKilogram, Principal: true},
		{ID: "l-a", ItemID: "broa", IngredientID: "sugar", Quantity: dec("20"), Mode: models.ScalePerUnit, Unit: models.UnitGram},
		{ID: "l-z", ItemID: "other", IngredientID: "sugar", Quantity: dec("1"), Mode: models.ScalePerUnit, Unit: models.UnitGram},
	}
	for _, link := range links {
		if err := store.SaveLinkedIngredient(ctx, link); err != nil {
			t.Fatalf("save link: %v", err)
		}
	}
	listed, err := store.ListLinkedIngredients(ctx, "broa")
	if err != nil {
		t.Fatalf("list links: %v", err)
	}
	wantOrder := []string{"l-b", "l-a", "l-c"}
	if len(listed) != len(wantOrder) {
		t.Fatalf("expected %d links, got %d", len(wantOrder), len(listed))
	}
	for i, id := range wantOrder {
		if listed[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, listed[i].ID)
		}
	}
}

func testDemand(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)

	empty, err := store.GetDemand(ctx, org, "broa")
	if err != nil || !empty.Demand.IsZero() {
		t.Fatalf("missing demand must read as zero, got %+v err=%v", empty, err)
	}

	demand := models.ItemDemand{OrganizationID: org, ItemID: "broa", Demand: models.DemandSnapshot{Total: 90, Reserve: 5, RoundingSurplus: 2}}
	if err := store.SaveDemand(ctx, demand); err != nil {
		t.Fatalf("save demand: %v", err)
	}
	got, _ := store.GetDemand(ctx, org, "broa")
	if got.Demand.Total != 90 || got.Demand.Reserve != 5 {
		t.Fatalf("unexpected demand %+v", got)
	}
	if err := store.ClearDemand(ctx, org, "broa"); err != nil {
		t.Fatalf("clear demand: %v", err)
	}
	if got, _ := store.GetDemand(ctx, org, "broa"); !got.Demand.IsZero() {
		t.Fatalf("expected demand cleared, got %+v", got.Demand)
	}

	for _, units := range []int{98, 40} {
		if err := store.CreditFinishedGoods(ctx, org, "broa", units); err != nil {
			t.Fatalf("credit: %v", err)
		}
	}
	if n, _ := store.FinishedGoods(ctx, org, "broa"); n != 138 {
		t.Fatalf("expected 138 finished units, got %d", n)
	}

	if err := store.SaveBacklog(ctx, models.BacklogEntry{ID: "bk1", OrganizationID: org, ItemID: "sonho", ItemName: "Sonho", Accumulated: 4, MinimumBatch: 12}); err != nil {
		t.Fatalf("save backlog: %v", err)
	}
	backlog, err := store.ListBacklog(ctx, org)
	if err != nil || len(backlog) != 1 || !backlog[0].Waiting() {
		t.Fatalf("unexpected backlog %+v err=%v", backlog, err)
	}
}

func testAudits(t *testing.T, open Opener) {
	ctx := context.Background()
	store := open(t, nil)
	now := time.Now().UTC()

	if err := store.AppendLoss(ctx, models.LossRecord{ID: "l1", OrganizationID: org, RecordID: "r1", Type: models.LossBurnt, Weight: dec("3.2"), StockNotReversed: true, CreatedAt: now}); err != nil {
		t.Fatalf("append loss: %v", err)
	}
	if err := store.AppendCancellation(ctx, models.CancellationAudit{ID: "c1", OrganizationID: org, RecordID: "r2", Reversed: dec("10"), CreatedAt: now}); err != nil {
		t.Fatalf("append cancellation: %v", err)
	}
	if err := store.AppendSplit(ctx, models.SplitAudit{ID: "s1", OrganizationID: org, RecordID: "r3", UnitsBefore: 100, UnitsNow: 60, UnitsPending: 40, CreatedAt: now}); err != nil {
		t.Fatalf("append split: %v", err)
	}
	if err := store.AppendConsumption(ctx, models.ConsumptionEntry{ID: "e1", OrganizationID: org, RecordID: "r1", IngredientID: "flour", Quantity: dec("10"), CreatedAt: now}); err != nil {
		t.Fatalf("append consumption: %v", err)
	}

	losses, _ := store.ListLosses(ctx, org)
	if len(losses) != 1 || !losses[0].StockNotReversed || !losses[0].Weight.Equal(dec("3.2")) {
		t.Fatalf("unexpected losses %+v", losses)
	}
	cancellations, _ := store.ListCancellations(ctx, org)
	if len(cancellations) != 1 || !cancellations[0].Reversed.Equal(dec("10")) {
		t.Fatalf("unexpected cancellations %+v", cancellations)
	}
	entries, _ := store.ListConsumption(ctx, "r1")
	if len(entries) != 1 || entries[0].IngredientID != "flour" {
		t.Fatalf("unexpected consumption %+v", entries)
	}
	if other, _ := store.ListLosses(ctx, "elsewhere"); len(other) != 0 {
		t.Fatalf("losses leaked across organizations")
	}
}

func testEvents(t *testing.T, open Opener) {
	ctx := context.Background()
	rec := &Recorder{}
	store := open(t, rec)

	r := newRecord("r1")
	if err := store.CreateRecord(ctx, &r); err != nil {
		t.Fatalf("create: %v", err)
	}
	guard := repository.GuardOf(r)
	r.Status = models.StatusPreparing
	if err := store.UpdateRecord(ctx, &r, guard); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.SaveDemand(ctx, models.ItemDemand{OrganizationID: org, ItemID: "broa", Demand: models.DemandSnapshot{Total: 3}}); err != nil {
		t.Fatalf("save demand: %v", err)
	}

	events := rec.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	want := []struct {
		collection string
		op         feed.Op
	}{
		{feed.CollectionRecords, feed.OpInsert},
		{feed.CollectionRecords, feed.OpUpdate},
		{feed.CollectionDemand, feed.OpUpdate},
	}
	for i, w := range want {
		if events[i].Collection != w.collection || events[i].Op != w.op || events[i].OrganizationID != org {
			t.Fatalf("event %d: got %+v, want %s/%s", i, events[i], w.collection, w.op)
		}
	}
}
