package board

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/timer"
)

// DefaultDebounce is the reload window used when none is configured.
const DefaultDebounce = 300 * time.Millisecond

const reloadTimeout = 10 * time.Second

// Source is the read side of the store the board reloads from.
type Source interface {
	ListRecords(ctx context.Context, filter repository.RecordFilter) ([]models.ProductionRecord, error)
	ListBacklog(ctx context.Context, organizationID string) ([]models.BacklogEntry, error)
}

// Notifier receives the new queued record notifications.
type Notifier interface {
	Notify(ctx context.Context, alarm models.Alarm) error
}

// View is the board of one organization.
type View struct {
	OrganizationID string                   `json:"organization_id"`
	Columns        map[models.Status][]Card `json:"columns"`
	Waiting        []models.BacklogEntry    `json:"waiting"`
	Pending        int                      `json:"pending_actions"`
	LoadedAt       time.Time                `json:"loaded_at"`
}

type orgState struct {
	snapshot []models.ProductionRecord
	waiting  []models.BacklogEntry
	pending  []PendingAction
	seen     map[string]bool
	seeded   bool
	loadedAt time.Time
	reload   *time.Timer
}

// Board keeps a per-organization snapshot of the production records,
// reloaded after store change notifications settle.
type Board struct {
	source   Source
	notifier Notifier
	debounce time.Duration
	window   time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.Mutex
	orgs   map[string]*orgState
	closed bool
}

// New creates a board. Done records stay visible for window after creation.
func New(source Source, notifier Notifier, debounce, window time.Duration, logger *zap.Logger) *Board {
	if logger == nil {
		logger = zap.NewNop()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Board{
		source:   source,
		notifier: notifier,
		debounce: debounce,
		window:   window,
		logger:   logger,
		now:      time.Now,
		orgs:     make(map[string]*orgState),
	}
}

// Attach subscribes the board to change notifications and returns the
// unsubscribe function.
func (b *Board) Attach(broker *feed.Broker) func() {
	return broker.Subscribe(func(ev feed.Event) {
		if ev.OrganizationID == "" {
			return
		}
		b.schedule(ev.OrganizationID)
	})
}

// schedule (re)arms the debounced reload of one organization.
func (b *Board) schedule(org string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	st := b.stateLocked(org)
	if st.reload != nil {
		st.reload.Stop()
	}
	st.reload = time.AfterFunc(b.debounce, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
		defer cancel()
		if err := b.Reload(ctx, org); err != nil {
			b.logger.Error("board reload failed", zap.String("organization_id", org), zap.Error(err))
		}
	})
}

func (b *Board) stateLocked(org string) *orgState {
	st, ok := b.orgs[org]
	if !ok {
		st = &orgState{seen: make(map[string]bool)}
		b.orgs[org] = st
	}
	return st
}

// Reload replaces the snapshot of org with the store contents. Queued
// records seen for the first time raise one notification each; the first
// load only seeds the seen set.
func (b *Board) Reload(ctx context.Context, org string) error {
	since := b.now().Add(-b.window)
	recs, err := b.source.ListRecords(ctx, repository.RecordFilter{OrganizationID: org})
	if err != nil {
		return fmt.Errorf("list records of %s: %w", org, err)
	}
	backlog, err := b.source.ListBacklog(ctx, org)
	if err != nil {
		return fmt.Errorf("list backlog of %s: %w", org, err)
	}

	snapshot := make([]models.ProductionRecord, 0, len(recs))
	for _, rec := range recs {
		if rec.Status == models.StatusDone && rec.CreatedAt.Before(since) {
			continue
		}
		snapshot = append(snapshot, rec)
	}
	waiting := make([]models.BacklogEntry, 0, len(backlog))
	for _, entry := range backlog {
		if entry.Waiting() {
			waiting = append(waiting, entry)
		}
	}

	b.mu.Lock()
	st := b.stateLocked(org)
	var fresh []models.ProductionRecord
	for _, rec := range snapshot {
		if rec.Status != models.StatusQueued || st.seen[rec.ID] {
			continue
		}
		st.seen[rec.ID] = true
		if st.seeded {
			fresh = append(fresh, rec)
		}
	}
	st.seeded = true
	st.snapshot = snapshot
	st.waiting = waiting
	st.loadedAt = b.now().UTC()
	_, st.pending = Merge(snapshot, st.pending)
	b.mu.Unlock()

	b.logger.Debug("board reloaded",
		zap.String("organization_id", org),
		zap.Int("records", len(snapshot)),
		zap.Int("waiting", len(waiting)),
		zap.Int("new_queued", len(fresh)),
	)

	if b.notifier == nil {
		return nil
	}
	for _, rec := range fresh {
		alarm := models.Alarm{
			Kind:     models.AlarmNewQueued,
			RecordID: rec.ID,
			ItemName: rec.ItemName,
			LotID:    rec.LotID,
			Batch:    rec.BatchSequence,
			Message:  fmt.Sprintf("New in queue: %s, %d units", rec.ItemName, rec.ProgrammedUnits),
		}
		if err := b.notifier.Notify(ctx, alarm); err != nil {
			b.logger.Warn("failed to notify new queued record", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
	return nil
}

// Track records an optimistic action on rec until a reload shows a newer
// version of it.
func (b *Board) Track(rec models.ProductionRecord, target models.Status, actor string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.stateLocked(rec.OrganizationID)
	action := PendingAction{RecordID: rec.ID, BaseVersion: rec.Version, Status: target, Actor: actor, At: b.now().UTC()}
	for i, p := range st.pending {
		if p.RecordID == rec.ID {
			st.pending[i] = action
			return
		}
	}
	st.pending = append(st.pending, action)
}

// Forget drops the optimistic action of a record whose operation failed.
func (b *Board) Forget(org, recordID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.orgs[org]
	if !ok {
		return
	}
	kept := st.pending[:0]
	for _, p := range st.pending {
		if p.RecordID != recordID {
			kept = append(kept, p)
		}
	}
	st.pending = kept
}

// View returns the merged board of org, loading it on first use.
func (b *Board) View(ctx context.Context, org string) (View, error) {
	b.mu.Lock()
	st, ok := b.orgs[org]
	loaded := ok && st.seeded
	b.mu.Unlock()
	if !loaded {
		if err := b.Reload(ctx, org); err != nil {
			return View{}, err
		}
	}

	b.mu.Lock()
	st = b.orgs[org]
	cards, _ := Merge(st.snapshot, st.pending)
	view := View{
		OrganizationID: org,
		Columns:        make(map[models.Status][]Card, 4),
		Waiting:        append([]models.BacklogEntry(nil), st.waiting...),
		Pending:        len(st.pending),
		LoadedAt:       st.loadedAt,
	}
	b.mu.Unlock()

	now := b.now()
	for _, card := range cards {
		if card.TimerStatus == models.TimerRunning {
			card.SecondsRemaining = timer.SecondsRemaining(card.ProductionRecord, now)
		}
		view.Columns[card.Status] = append(view.Columns[card.Status], card)
	}
	return view, nil
}

// Close stops pending reloads.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, st := range b.orgs {
		if st.reload != nil {
			st.reload.Stop()
		}
	}
}
