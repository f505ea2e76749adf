package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/repository/memory"
	"github.com/mamadbah2/producao/internal/service/ledger"
	"github.com/mamadbah2/producao/internal/service/sequencer"
)

const org = "padaria-1"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func intp(n int) *int {
	return &n
}

// flakyStock fails stock adjustments of one ingredient.
type flakyStock struct {
	*memory.Store
	failOn string
}

func (f flakyStock) AdjustStock(ctx context.Context, id string, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if id == f.failOn {
		return decimal.Zero, decimal.Zero, errors.New("stock service unavailable")
	}
	return f.Store.AdjustStock(ctx, id, delta)
}

// stalledWrites fails the status writes that drop a transition claim while
// stalled is set, as a store outage right after stock moved would.
type stalledWrites struct {
	*memory.Store
	stalled *bool
}

func (w stalledWrites) UpdateRecord(ctx context.Context, rec *models.ProductionRecord, guard repository.Guard) error {
	if *w.stalled && rec.Pending == nil {
		return errors.New("store unavailable")
	}
	return w.Store.UpdateRecord(ctx, rec, guard)
}

type recordingAlarms struct {
	notified []models.Alarm
	silenced []string
}

func (a *recordingAlarms) Notify(_ context.Context, alarm models.Alarm) error {
	a.notified = append(a.notified, alarm)
	return nil
}

func (a *recordingAlarms) Silence(id string) bool {
	a.silenced = append(a.silenced, id)
	return true
}

type fixture struct {
	svc    *Service
	store  *memory.Store
	alarms *recordingAlarms
	clock  time.Time
}

func (f *fixture) advanceClock(d time.Duration) {
	f.clock = f.clock.Add(d)
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	flourStock string
	failOn     string
	stalled    *bool
}

func withFlour(stock string) fixtureOption {
	return func(c *fixtureConfig) { c.flourStock = stock }
}

func failingOn(id string) fixtureOption {
	return func(c *fixtureConfig) { c.failOn = id }
}

func stallingStatusWrites(stalled *bool) fixtureOption {
	return func(c *fixtureConfig) { c.stalled = stalled }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	cfg := fixtureConfig{flourStock: "50"}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx := context.Background()
	store := memory.NewStore(nil)
	seed := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	seed(store.SaveIngredient(ctx, models.Ingredient{ID: "flour", OrganizationID: org, Name: "Farinha", Stock: dec(cfg.flourStock), Unit: models.UnitKilogram}))
	seed(store.SaveIngredient(ctx, models.Ingredient{ID: "sugar", OrganizationID: org, Name: "Acucar", Stock: dec("5"), Unit: models.UnitKilogram}))
	seed(store.SaveIngredient(ctx, models.Ingredient{ID: "butter", OrganizationID: org, Name: "Manteiga", Stock: dec("3000"), Unit: models.UnitGram}))
	seed(store.SaveIngredient(ctx, models.Ingredient{ID: "box", OrganizationID: org, Name: "Caixa", Stock: dec("1000"), Unit: models.UnitPiece}))

	seed(store.SaveItem(ctx, models.Item{
		ID:                 "broa",
		OrganizationID:     org,
		Name:               "Broa",
		UnitKind:           models.UnitKindPerUnit,
		UnitWeight:         dec("0.1"),
		DebitAtPreparation: true,
		Packaging: models.PackagingConfig{
			PerPortion:      true,
			IngredientID:    "box",
			QuantityPerUnit: dec("1"),
			Unit:            models.UnitPiece,
		},
	}))
	seed(store.SaveLinkedIngredient(ctx, models.LinkedIngredient{ID: "l-flour", ItemID: "broa", IngredientID: "flour", Quantity: dec("100"), Mode: models.ScalePerUnit, Unit: models.UnitGram, Principal: true}))
	seed(store.SaveLinkedIngredient(ctx, models.LinkedIngredient{ID: "l-sugar", ItemID: "broa", IngredientID: "sugar", Quantity: dec("20"), Mode: models.ScalePerUnit, Unit: models.UnitGram}))
	seed(store.SaveDemand(ctx, models.ItemDemand{OrganizationID: org, ItemID: "broa", Demand: models.DemandSnapshot{Total: 90}}))

	seed(store.SaveItem(ctx, models.Item{
		ID:             "sonho",
		OrganizationID: org,
		Name:           "Sonho",
		UnitKind:       models.UnitKindPerUnit,
		UnitWeight:     dec("0.06"),
		Timer:          models.TimerConfig{Enabled: true, Minutes: 20},
	}))
	seed(store.SaveLinkedIngredient(ctx, models.LinkedIngredient{ID: "l-sonho-flour", ItemID: "sonho", IngredientID: "flour", Quantity: dec("50"), Mode: models.ScalePerUnit, Unit: models.UnitGram, Principal: true}))

	seed(store.SaveItem(ctx, models.Item{
		ID:             "frances",
		OrganizationID: org,
		Name:           "Pao frances",
		UnitKind:       models.UnitKindMixerLot,
		UnitWeight:     dec("0.05"),
		Mixer: models.MixerSpec{
			MinUnitWeight:    dec("0.045"),
			MaxUnitWeight:    dec("0.055"),
			TargetUnitWeight: dec("0.05"),
		},
	}))
	seed(store.SaveLinkedIngredient(ctx, models.LinkedIngredient{ID: "l-frances-flour", ItemID: "frances", IngredientID: "flour", Quantity: dec("15"), Mode: models.ScalePerMixer, Unit: models.UnitKilogram, Principal: true}))

	var stock repository.StockStore = store
	if cfg.failOn != "" {
		stock = flakyStock{Store: store, failOn: cfg.failOn}
	}

	var records repository.Store = store
	if cfg.stalled != nil {
		records = stalledWrites{Store: store, stalled: cfg.stalled}
	}

	f := &fixture{store: store, alarms: &recordingAlarms{}, clock: time.Date(2026, 6, 1, 5, 0, 0, 0, time.UTC)}
	ledgerSvc := ledger.NewService(stock, store, nil, nil, nil)
	f.svc = NewService(records, ledgerSvc, sequencer.New(store, nil), Options{Alarms: f.alarms, RetryBase: time.Millisecond}, nil)
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) stock(t *testing.T, id string) decimal.Decimal {
	t.Helper()
	ing, err := f.store.GetIngredient(context.Background(), id)
	if err != nil {
		t.Fatalf("get ingredient %s: %v", id, err)
	}
	return ing.Stock
}

func (f *fixture) schedule(t *testing.T, itemID string, units int) *models.ProductionRecord {
	t.Helper()
	rec, err := f.svc.Schedule(context.Background(), ScheduleRequest{OrganizationID: org, ItemID: itemID, Units: units})
	if err != nil {
		t.Fatalf("schedule %s: %v", itemID, err)
	}
	return rec
}

func (f *fixture) started(t *testing.T, id string) *models.ProductionRecord {
	t.Helper()
	out, err := f.svc.StartPreparation(context.Background(), id, "ana")
	if err != nil {
		t.Fatalf("start %s: %v", id, err)
	}
	if out.Shortage != nil || out.Record.Status != models.StatusPreparing {
		t.Fatalf("expected record preparing, got %+v", out)
	}
	return out.Record
}

func TestFullLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.schedule(t, "broa", 100)

	if rec.Demand.Total != 90 || rec.Status != models.StatusQueued {
		t.Fatalf("unexpected scheduled record %+v", rec)
	}

	started := f.started(t, rec.ID)
	if started.PreparationDebit == nil || !started.PreparationDebit.Quantity.Equal(dec("10")) {
		t.Fatalf("expected 10 kg preparation debit, got %+v", started.PreparationDebit)
	}
	if started.PreparationStartedAt == nil || started.TimerStatus != models.TimerNotApplicable {
		t.Fatalf("unexpected preparation fields %+v", started)
	}
	if got := f.stock(t, "flour"); !got.Equal(dec("40")) {
		t.Fatalf("expected flour 40 after preparation debit, got %s", got)
	}

	f.advanceClock(30 * time.Minute)
	prep, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{Weight: dec("10.2"), Leftover: dec("0.3")})
	if err != nil {
		t.Fatalf("complete preparation: %v", err)
	}
	if prep.Record.Status != models.StatusPortioning || !prep.Record.PreparationWeight.Equal(dec("10.2")) {
		t.Fatalf("unexpected record after preparation %+v", prep.Record)
	}
	if len(f.alarms.silenced) != 1 {
		t.Fatalf("expected alarm silenced when leaving preparation")
	}

	done, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(98), FinalWeight: dec("9.8"), FinalLeftover: decimal.Zero})
	if err != nil {
		t.Fatalf("complete portioning: %v", err)
	}
	if len(done.Warnings) != 0 {
		t.Fatalf("unexpected warnings %v", done.Warnings)
	}
	if done.Record.Status != models.StatusDone || done.Record.Outcome != models.OutcomeCompleted || done.Record.Units() != 98 {
		t.Fatalf("unexpected final record %+v", done.Record)
	}

	if got := f.stock(t, "flour"); !got.Equal(dec("40")) {
		t.Fatalf("principal must not be debited twice, flour is %s", got)
	}
	if got := f.stock(t, "sugar"); !got.Equal(dec("3")) {
		t.Fatalf("expected sugar 3 kg, got %s", got)
	}
	if got := f.stock(t, "box"); !got.Equal(dec("910")) {
		t.Fatalf("expected packaging scaled by demand of 90, got %s boxes left", got)
	}

	entries, _ := f.store.ListConsumption(ctx, rec.ID)
	if len(entries) != 3 {
		t.Fatalf("expected 3 consumption entries, got %d", len(entries))
	}
	if n, _ := f.store.FinishedGoods(ctx, org, "broa"); n != 98 {
		t.Fatalf("expected 98 finished goods, got %d", n)
	}
	if d, _ := f.store.GetDemand(ctx, org, "broa"); !d.Demand.IsZero() {
		t.Fatalf("expected demand cleared, got %+v", d.Demand)
	}
}

func TestCancelRestoresStockAndLossDoesNot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cancelled := f.schedule(t, "broa", 100)
	f.started(t, cancelled.ID)
	if got := f.stock(t, "flour"); !got.Equal(dec("40")) {
		t.Fatalf("expected 10 kg debited, flour is %s", got)
	}

	out, err := f.svc.CancelPreparation(ctx, cancelled.ID, CancelInput{Actor: "ana", Reason: "forno desligou"})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.stock(t, "flour"); !got.Equal(dec("50")) {
		t.Fatalf("cancellation must restore flour to 50, got %s", got)
	}
	rec := out.Record
	if rec.Status != models.StatusQueued || rec.PreparationStartedAt != nil || rec.PreparationDebit != nil || rec.Cancelled != 1 {
		t.Fatalf("expected a clean queued record, got %+v", rec)
	}
	audits, _ := f.store.ListCancellations(ctx, org)
	if len(audits) != 1 || !audits[0].Reversed.Equal(dec("10")) || audits[0].Stage != models.StatusPreparing {
		t.Fatalf("unexpected cancellation audit %+v", audits)
	}

	lost := f.schedule(t, "broa", 100)
	f.started(t, lost.ID)
	if _, err := f.svc.CompletePreparation(ctx, lost.ID, PreparationInput{}); err != nil {
		t.Fatalf("complete preparation: %v", err)
	}
	out, err = f.svc.RegisterLoss(ctx, lost.ID, LossInput{Type: models.LossBurnt, Quantity: 100, Weight: dec("10"), Reason: "queimou"})
	if err != nil {
		t.Fatalf("loss: %v", err)
	}
	if got := f.stock(t, "flour"); !got.Equal(dec("40")) {
		t.Fatalf("loss must leave flour at its post-debit level 40, got %s", got)
	}
	if out.Record.Status != models.StatusDone || out.Record.Outcome != models.OutcomeLost || out.Record.Units() != 0 || !out.Record.FinalWeight.IsZero() {
		t.Fatalf("unexpected lost record %+v", out.Record)
	}
	losses, _ := f.store.ListLosses(ctx, org)
	if len(losses) != 1 || !losses[0].StockNotReversed || losses[0].Stage != models.StatusPortioning {
		t.Fatalf("unexpected loss records %+v", losses)
	}
	movements, _ := f.store.ListMovements(ctx, repository.MovementFilter{RecordID: lost.ID})
	for _, mv := range movements {
		if mv.Direction == models.DirectionReverse {
			t.Fatalf("loss must not reverse stock, found %+v", mv)
		}
	}
}

func TestInsufficientStockSplit(t *testing.T) {
	f := newFixture(t, withFlour("6"))
	ctx := context.Background()
	rec := f.schedule(t, "broa", 100)

	offered, err := f.svc.StartPreparation(ctx, rec.ID, "ana")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if offered.Shortage == nil || offered.Shortage.ProducibleUnits != 60 || offered.Shortage.IngredientName != "Farinha" {
		t.Fatalf("expected a 60 unit shortage offer on flour, got %+v", offered.Shortage)
	}
	if offered.Record.Status != models.StatusQueued {
		t.Fatalf("record must stay queued while the split is offered")
	}

	declined, err := f.svc.ResolveInsufficientStock(ctx, rec.ID, SplitChoice{Accept: false})
	if err != nil || declined.Pending != nil {
		t.Fatalf("declining must leave the card alone, got %+v err=%v", declined, err)
	}

	out, err := f.svc.ResolveInsufficientStock(ctx, rec.ID, SplitChoice{Actor: "ana", Accept: true})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if out.Record.ProgrammedUnits != 60 || out.Record.Status != models.StatusPreparing {
		t.Fatalf("expected 60 units preparing, got %d %s", out.Record.ProgrammedUnits, out.Record.Status)
	}
	if out.Pending == nil || out.Pending.ProgrammedUnits != 40 || !out.Pending.Incremental || out.Pending.Status != models.StatusQueued {
		t.Fatalf("expected a queued incremental remainder of 40, got %+v", out.Pending)
	}
	if got := f.stock(t, "flour"); !got.IsZero() {
		t.Fatalf("expected the 6 kg of flour consumed, got %s", got)
	}

	reduced, err := f.store.GetRecord(ctx, rec.ID)
	if err != nil {
		t.Fatalf("get reduced record: %v", err)
	}
	stored, err := f.store.GetRecord(ctx, out.Pending.ID)
	if err != nil || stored.ProgrammedUnits != 40 {
		t.Fatalf("pending record not stored: %v", err)
	}
	if reduced.Demand.Total != 54 || stored.Demand.Total != 36 {
		t.Fatalf("expected demand apportioned 54+36, got %d+%d", reduced.Demand.Total, stored.Demand.Total)
	}
	if reduced.SplitRemainderID != stored.ID {
		t.Fatalf("reduced card must point at its remainder, got %q", reduced.SplitRemainderID)
	}
	splits := f.store.Splits()
	if len(splits) != 1 || splits[0].UnitsBefore != 100 || splits[0].LimitingIngredient != "Farinha" {
		t.Fatalf("unexpected split audit %+v", splits)
	}
}

func TestSplitKeepsPackagingWithinDemand(t *testing.T) {
	f := newFixture(t, withFlour("6"))
	ctx := context.Background()
	rec := f.schedule(t, "broa", 100)

	out, err := f.svc.ResolveInsufficientStock(ctx, rec.ID, SplitChoice{Accept: true})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if _, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{}); err != nil {
		t.Fatalf("complete preparation: %v", err)
	}
	if _, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(60)}); err != nil {
		t.Fatalf("complete portioning: %v", err)
	}
	if got := f.stock(t, "box"); !got.Equal(dec("946")) {
		t.Fatalf("reduced card must package its 54 share of demand, %s boxes left", got)
	}

	// The live demand was cleared by the reduced card; the remainder keeps
	// its own share for when it starts.
	if err := f.store.SaveIngredient(ctx, models.Ingredient{ID: "flour", OrganizationID: org, Name: "Farinha", Stock: dec("10"), Unit: models.UnitKilogram}); err != nil {
		t.Fatalf("restock: %v", err)
	}
	if err := f.store.SaveDemand(ctx, models.ItemDemand{OrganizationID: org, ItemID: "broa", Demand: models.DemandSnapshot{Total: 90}}); err != nil {
		t.Fatalf("save demand: %v", err)
	}
	started := f.started(t, out.Pending.ID)
	if started.Demand.Total != 36 {
		t.Fatalf("remainder must keep its split share of demand, got %d", started.Demand.Total)
	}
}

func TestNothingProducibleIsRefused(t *testing.T) {
	f := newFixture(t, withFlour("0.05"))
	rec := f.schedule(t, "broa", 100)

	_, err := f.svc.StartPreparation(context.Background(), rec.ID, "ana")
	if !errors.Is(err, ErrNothingProducible) {
		t.Fatalf("expected ErrNothingProducible, got %v", err)
	}
	_, err = f.svc.ResolveInsufficientStock(context.Background(), rec.ID, SplitChoice{Accept: true})
	if !errors.Is(err, ErrNothingProducible) {
		t.Fatalf("expected no split offered, got %v", err)
	}
}

func TestSplitRejectsMoreThanProducible(t *testing.T) {
	f := newFixture(t, withFlour("6"))
	rec := f.schedule(t, "broa", 100)

	_, err := f.svc.ResolveInsufficientStock(context.Background(), rec.ID, SplitChoice{Accept: true, UnitsNow: 61})
	if !errors.Is(err, ErrInvalidSplit) {
		t.Fatalf("expected ErrInvalidSplit, got %v", err)
	}
}

func TestRacingOperatorsGetAlreadyAdvanced(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.schedule(t, "broa", 10)
	f.started(t, rec.ID)

	if _, err := f.svc.StartPreparation(ctx, rec.ID, "bruno"); !errors.Is(err, ErrAlreadyAdvanced) {
		t.Fatalf("expected ErrAlreadyAdvanced, got %v", err)
	}

	stale, _ := f.store.GetRecord(ctx, rec.ID)
	if _, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{}); err != nil {
		t.Fatalf("complete preparation: %v", err)
	}
	stale.Status = models.StatusPortioning
	if err := f.svc.update(ctx, stale, repository.Guard{Status: models.StatusPreparing, Version: stale.Version}); !errors.Is(err, ErrAlreadyAdvanced) {
		t.Fatalf("stale guarded write must fail with ErrAlreadyAdvanced, got %v", err)
	}
	if got := f.stock(t, "flour"); !got.Equal(dec("49")) {
		t.Fatalf("lost races must not move stock, flour is %s", got)
	}
}

func TestDoneBlockedByLedgerFailure(t *testing.T) {
	f := newFixture(t, failingOn("sugar"))
	ctx := context.Background()
	if err := f.store.SaveLinkedIngredient(ctx, models.LinkedIngredient{ID: "l-butter", ItemID: "broa", IngredientID: "butter", Quantity: dec("5"), Mode: models.ScalePerUnit, Unit: models.UnitGram}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rec := f.schedule(t, "broa", 100)
	f.started(t, rec.ID)
	if _, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{}); err != nil {
		t.Fatalf("complete preparation: %v", err)
	}

	_, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(100), FinalWeight: dec("10")})
	if !errors.Is(err, ErrLedger) {
		t.Fatalf("expected ErrLedger, got %v", err)
	}

	stored, _ := f.store.GetRecord(ctx, rec.ID)
	if stored.Status != models.StatusPortioning || stored.Pending != nil {
		t.Fatalf("record must stay portioning and unclaimed, got %s pending=%+v", stored.Status, stored.Pending)
	}
	if got := f.stock(t, "butter"); !got.Equal(dec("3000")) {
		t.Fatalf("butter debit must be rolled back, got %s g", got)
	}
	if n, _ := f.store.FinishedGoods(ctx, org, "broa"); n != 0 {
		t.Fatalf("finished goods must not be credited, got %d", n)
	}
}

func TestPackagingFailureIsOnlyAWarning(t *testing.T) {
	f := newFixture(t, failingOn("box"))
	ctx := context.Background()
	rec := f.schedule(t, "broa", 100)
	f.started(t, rec.ID)
	if _, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{}); err != nil {
		t.Fatalf("complete preparation: %v", err)
	}

	out, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(0)})
	if err != nil {
		t.Fatalf("packaging failure must not block: %v", err)
	}
	if out.Record.Status != models.StatusDone || len(out.Warnings) == 0 {
		t.Fatalf("expected done with a warning, got %s %v", out.Record.Status, out.Warnings)
	}
	if got := f.stock(t, "sugar"); !got.Equal(dec("3")) {
		t.Fatalf("primary debit must still happen, sugar is %s", got)
	}
}

func TestTimerGatesPreparation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.schedule(t, "sonho", 40)

	started := f.started(t, rec.ID)
	if started.TimerStatus != models.TimerRunning {
		t.Fatalf("expected running timer, got %s", started.TimerStatus)
	}

	f.advanceClock(5 * time.Minute)
	if _, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{}); !errors.Is(err, ErrTimerRunning) {
		t.Fatalf("expected ErrTimerRunning, got %v", err)
	}

	if ok, err := f.svc.SilenceAlarm(ctx, rec.ID); err != nil || !ok {
		t.Fatalf("silence: ok=%v err=%v", ok, err)
	}
	stored, _ := f.store.GetRecord(ctx, rec.ID)
	if stored.TimerStatus != models.TimerRunning {
		t.Fatalf("silencing must not touch the timer, got %s", stored.TimerStatus)
	}

	f.advanceClock(16 * time.Minute)
	out, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{})
	if err != nil {
		t.Fatalf("complete preparation after timer: %v", err)
	}
	if out.Record.TimerStatus != models.TimerFinished {
		t.Fatalf("expected finished timer, got %s", out.Record.TimerStatus)
	}
}

func TestLotSequencing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batches, err := f.svc.ScheduleLot(ctx, LotRequest{OrganizationID: org, ItemID: "sonho", TotalUnits: 90, Batches: 3})
	if err != nil {
		t.Fatalf("schedule lot: %v", err)
	}
	b1, b2, b3 := batches[0].ID, batches[1].ID, batches[2].ID

	if _, err := f.svc.StartPreparation(ctx, b2, "ana"); !errors.Is(err, ErrBlockedByPreviousBatch) {
		t.Fatalf("expected batch 2 blocked, got %v", err)
	}
	f.started(t, b1)

	if _, err := f.svc.CancelPreparation(ctx, b1, CancelInput{Reason: "massa errada"}); err != nil {
		t.Fatalf("cancel batch 1: %v", err)
	}
	next, _ := f.store.GetRecord(ctx, b2)
	last, _ := f.store.GetRecord(ctx, b3)
	if next.BlockedByPreviousBatch || !last.BlockedByPreviousBatch {
		t.Fatalf("cancel must release only batch 2, got b2=%v b3=%v", next.BlockedByPreviousBatch, last.BlockedByPreviousBatch)
	}

	f.started(t, b2)
	if _, err := f.svc.StartPreparation(ctx, b1, "bruno"); !errors.Is(err, ErrLotBatchRunning) {
		t.Fatalf("expected ErrLotBatchRunning while batch 2 runs, got %v", err)
	}
}

func TestMixerCalibration(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.schedule(t, "frances", 300)
	if rec.Mixer.Batches != 1 {
		t.Fatalf("expected one mixer batch per card, got %d", rec.Mixer.Batches)
	}
	f.started(t, rec.ID)

	testCases := []struct {
		avg  string
		want models.Calibration
	}{
		{avg: "0.05", want: models.CalibrationWithinSpec},
		{avg: "0.055", want: models.CalibrationWithinSpec},
		{avg: "0.06", want: models.CalibrationOutOfSpec},
	}
	for _, tc := range testCases {
		m := models.MixerData{MinUnitWeight: dec("0.045"), MaxUnitWeight: dec("0.055"), TargetUnitWeight: dec("0.05")}
		calibrate(&m, MixerInput{DoughGenerated: dec("15.2"), AverageUnitWeight: dec(tc.avg)})
		if m.Calibration != tc.want || m.EstimatedUnits != 304 {
			t.Fatalf("avg %s: expected %s/304, got %s/%d", tc.avg, tc.want, m.Calibration, m.EstimatedUnits)
		}
	}

	out, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{Mixer: &MixerInput{FlourConsumed: dec("15"), DoughGenerated: dec("15"), AverageUnitWeight: dec("0.06")}})
	if err != nil {
		t.Fatalf("complete preparation: %v", err)
	}
	if out.Record.Mixer.EstimatedUnits != 300 || out.Record.Mixer.Calibration != models.CalibrationOutOfSpec {
		t.Fatalf("unexpected mixer data %+v", out.Record.Mixer)
	}

	if _, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(296)}); err != nil {
		t.Fatalf("complete portioning: %v", err)
	}
	if got := f.stock(t, "flour"); !got.Equal(dec("35")) {
		t.Fatalf("mixer lot must consume 15 kg per batch, flour is %s", got)
	}
}

func TestValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.schedule(t, "broa", 10)

	testCases := []struct {
		name string
		call func() error
	}{
		{name: "zero units", call: func() error {
			_, err := f.svc.Schedule(ctx, ScheduleRequest{OrganizationID: org, ItemID: "broa"})
			return err
		}},
		{name: "unknown item", call: func() error {
			_, err := f.svc.Schedule(ctx, ScheduleRequest{OrganizationID: org, ItemID: "pizza", Units: 3})
			return err
		}},
		{name: "negative weight", call: func() error {
			_, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{Weight: dec("-1")})
			return err
		}},
		{name: "missing actual units", call: func() error {
			_, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{})
			return err
		}},
		{name: "cancel without reason", call: func() error {
			_, err := f.svc.CancelPreparation(ctx, rec.ID, CancelInput{Reason: " "})
			return err
		}},
		{name: "unknown loss type", call: func() error {
			_, err := f.svc.RegisterLoss(ctx, rec.ID, LossInput{Type: "stolen", Reason: "?"})
			return err
		}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.call(); !errors.Is(err, ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}

	if _, err := f.svc.CancelPreparation(ctx, rec.ID, CancelInput{Reason: "x"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelling a queued card must be refused, got %v", err)
	}
}

func TestAdvanceDispatchesByStage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.schedule(t, "broa", 10)

	wantStages := []models.Status{models.StatusPreparing, models.StatusPortioning, models.StatusDone}
	for i, want := range wantStages {
		out, err := f.svc.Advance(ctx, rec.ID, AdvanceInput{Actor: "ana", Portioning: PortioningInput{ActualUnits: intp(10)}})
		if err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if out.Record.Status != want {
			t.Fatalf("advance %d: expected %s, got %s", i, want, out.Record.Status)
		}
	}
	if _, err := f.svc.Advance(ctx, rec.ID, AdvanceInput{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("advancing a done card must fail, got %v", err)
	}
}

func TestAbandonedPortioningClaimIsRolledBack(t *testing.T) {
	stalled := false
	f := newFixture(t, stallingStatusWrites(&stalled))
	ctx := context.Background()
	rec := f.schedule(t, "broa", 100)
	f.started(t, rec.ID)
	if _, err := f.svc.CompletePreparation(ctx, rec.ID, PreparationInput{}); err != nil {
		t.Fatalf("complete preparation: %v", err)
	}

	stalled = true
	if _, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(100)}); err == nil {
		t.Fatalf("expected the final status write to fail")
	}
	stalled = false

	held, _ := f.store.GetRecord(ctx, rec.ID)
	if held.Pending == nil || held.Pending.Name != claimPortioning {
		t.Fatalf("expected the portioning claim to stay, got %+v", held.Pending)
	}
	if got := f.stock(t, "sugar"); !got.Equal(dec("3")) {
		t.Fatalf("expected sugar debited before the failure, got %s", got)
	}
	if _, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(100)}); !errors.Is(err, ErrTransitionInProgress) {
		t.Fatalf("a fresh claim must still be honoured, got %v", err)
	}

	f.advanceClock(2 * time.Minute)
	out, err := f.svc.CompletePortioning(ctx, rec.ID, PortioningInput{ActualUnits: intp(100)})
	if err != nil {
		t.Fatalf("retry after claim timeout: %v", err)
	}
	if out.Record.Status != models.StatusDone || out.Record.Pending != nil {
		t.Fatalf("expected done and unclaimed, got %s %+v", out.Record.Status, out.Record.Pending)
	}
	if got := f.stock(t, "sugar"); !got.Equal(dec("3")) {
		t.Fatalf("sugar must be debited once, got %s", got)
	}
	if got := f.stock(t, "box"); !got.Equal(dec("910")) {
		t.Fatalf("packaging must be debited once, %s boxes left", got)
	}
}

func TestAbandonedStartClaimIsCompleted(t *testing.T) {
	stalled := false
	f := newFixture(t, stallingStatusWrites(&stalled))
	ctx := context.Background()
	rec := f.schedule(t, "broa", 100)

	stalled = true
	if _, err := f.svc.StartPreparation(ctx, rec.ID, "ana"); err == nil {
		t.Fatalf("expected the final status write to fail")
	}
	stalled = false
	if got := f.stock(t, "flour"); !got.Equal(dec("40")) {
		t.Fatalf("expected the preparation debit to have happened, flour is %s", got)
	}

	f.advanceClock(2 * time.Minute)
	if _, err := f.svc.StartPreparation(ctx, rec.ID, "ana"); !errors.Is(err, ErrAlreadyAdvanced) {
		t.Fatalf("recovered start must leave the card preparing, got %v", err)
	}
	stored, _ := f.store.GetRecord(ctx, rec.ID)
	if stored.Status != models.StatusPreparing || stored.Pending != nil {
		t.Fatalf("expected preparing and unclaimed, got %s %+v", stored.Status, stored.Pending)
	}
	if stored.PreparationDebit == nil || !stored.PreparationDebit.Quantity.Equal(dec("10")) {
		t.Fatalf("expected the 10 kg debit on the card, got %+v", stored.PreparationDebit)
	}
	if got := f.stock(t, "flour"); !got.Equal(dec("40")) {
		t.Fatalf("recovery must not debit again, flour is %s", got)
	}

	if _, err := f.svc.CancelPreparation(ctx, rec.ID, CancelInput{Reason: "teste"}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.stock(t, "flour"); !got.Equal(dec("50")) {
		t.Fatalf("cancel must reverse the recovered debit, flour is %s", got)
	}
}

func TestLotWithoutTimerReleasesOnPreparationDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	batches, err := f.svc.ScheduleLot(ctx, LotRequest{OrganizationID: org, ItemID: "broa", TotalUnits: 90, Batches: 3})
	if err != nil {
		t.Fatalf("schedule lot: %v", err)
	}
	b1, b2, b3 := batches[0].ID, batches[1].ID, batches[2].ID
	if !batches[1].BlockedByPreviousBatch || !batches[2].BlockedByPreviousBatch {
		t.Fatalf("batches after the first must start blocked")
	}

	if _, err := f.svc.StartPreparation(ctx, b3, "ana"); !errors.Is(err, ErrBlockedByPreviousBatch) {
		t.Fatalf("expected batch 3 blocked, got %v", err)
	}
	f.started(t, b1)
	if _, err := f.svc.StartPreparation(ctx, b2, "ana"); !errors.Is(err, ErrBlockedByPreviousBatch) {
		t.Fatalf("batch 2 must wait for batch 1 to leave preparing, got %v", err)
	}

	if _, err := f.svc.CompletePreparation(ctx, b1, PreparationInput{}); err != nil {
		t.Fatalf("complete preparation: %v", err)
	}
	f.started(t, b2)
	last, _ := f.store.GetRecord(ctx, b3)
	if !last.BlockedByPreviousBatch {
		t.Fatalf("batch 3 must stay blocked until batch 2 leaves preparing")
	}
}
