package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/metrics"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/consumption"
	"github.com/mamadbah2/producao/internal/service/ledger"
	"github.com/mamadbah2/producao/internal/service/sequencer"
)

const defaultActor = "system"

// Alarms is the part of the alarm sink the workflow drives.
type Alarms interface {
	Notify(ctx context.Context, alarm models.Alarm) error
	Silence(recordID string) bool
}

// AuditMirror copies terminal audits to an external sink.
type AuditMirror interface {
	MirrorLoss(ctx context.Context, loss models.LossRecord) error
	MirrorCancellation(ctx context.Context, audit models.CancellationAudit) error
}

// Options carries the optional collaborators and tuning of the Service.
type Options struct {
	Alarms  Alarms
	Mirror  AuditMirror
	Metrics *metrics.Metrics
	// RetryAttempts and RetryBase bound the retries of idempotent status
	// writes that follow a stock movement.
	RetryAttempts uint64
	RetryBase     time.Duration
	// ClaimTimeout is how long a transition claim is honoured before the
	// next action on the record recovers it.
	ClaimTimeout time.Duration
}

// Outcome is the result of an operator action.
type Outcome struct {
	Record *models.ProductionRecord `json:"record"`
	// Pending is the remainder record created by a split.
	Pending *models.ProductionRecord `json:"pending,omitempty"`
	// Shortage is set when the record was left queued because stock only
	// covers part of it.
	Shortage *Shortage `json:"shortage,omitempty"`
	// Warnings lists non-blocking failures of the transition.
	Warnings []string `json:"warnings,omitempty"`
}

func (o *Outcome) warn(format string, args ...any) {
	o.Warnings = append(o.Warnings, fmt.Sprintf(format, args...))
}

// Service owns the production lifecycle: queued, preparing, portioning and
// done, plus the cancel and loss exits.
type Service struct {
	store     repository.Store
	ledger    *ledger.Service
	sequencer *sequencer.Sequencer
	alarms    Alarms
	mirror    AuditMirror
	metrics   *metrics.Metrics
	logger    *zap.Logger

	retryAttempts uint64
	retryBase     time.Duration
	claimTimeout  time.Duration

	now   func() time.Time
	newID func() string
}

// NewService wires the workflow over the store, ledger and sequencer.
func NewService(store repository.Store, ledgerSvc *ledger.Service, seq *sequencer.Sequencer, opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 5
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 50 * time.Millisecond
	}
	if opts.ClaimTimeout <= 0 {
		opts.ClaimTimeout = time.Minute
	}
	return &Service{
		store:         store,
		ledger:        ledgerSvc,
		sequencer:     seq,
		alarms:        opts.Alarms,
		mirror:        opts.Mirror,
		metrics:       opts.Metrics,
		logger:        logger,
		retryAttempts: opts.RetryAttempts,
		retryBase:     opts.RetryBase,
		claimTimeout:  opts.ClaimTimeout,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// Get returns one record.
func (s *Service) Get(ctx context.Context, id string) (*models.ProductionRecord, error) {
	return s.store.GetRecord(ctx, id)
}

// SilenceAlarm stops the alarm of a record without touching its timer.
func (s *Service) SilenceAlarm(ctx context.Context, id string) (bool, error) {
	if _, err := s.store.GetRecord(ctx, id); err != nil {
		return false, err
	}
	if s.alarms == nil {
		return false, nil
	}
	return s.alarms.Silence(id), nil
}

func (s *Service) observe(transition string, started time.Time, err *error) {
	s.metrics.ObserveTransition(transition, *err, time.Since(started))
}

func (s *Service) backoff() retry.Backoff {
	return retry.WithMaxRetries(s.retryAttempts, retry.NewExponential(s.retryBase))
}

func actorOr(actor string) string {
	if actor == "" {
		return defaultActor
	}
	return actor
}

func (s *Service) timestamp() *time.Time {
	now := s.now().UTC()
	return &now
}

// loadRecord reads a record and refuses cards held by another transition.
// A claim older than the claim timeout is recovered first.
func (s *Service) loadRecord(ctx context.Context, id string) (*models.ProductionRecord, error) {
	if id == "" {
		return nil, validationf("record id is required")
	}
	rec, err := s.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if p := rec.Pending; p != nil {
		if s.now().Sub(p.ClaimedAt) < s.claimTimeout {
			return nil, fmt.Errorf("%s: %s: %w", rec.ItemName, p.Name, ErrTransitionInProgress)
		}
		if err := s.recoverClaim(ctx, rec); err != nil {
			return nil, fmt.Errorf("%s: recover %s: %w", rec.ItemName, p.Name, err)
		}
	}
	return rec, nil
}

// loadCatalog builds the reference table of one item for a calculation.
func (s *Service) loadCatalog(ctx context.Context, itemID string) (consumption.Catalog, error) {
	item, err := s.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return consumption.Catalog{}, validationf("unknown item %s", itemID)
		}
		return consumption.Catalog{}, err
	}
	links, err := s.store.ListLinkedIngredients(ctx, itemID)
	if err != nil {
		return consumption.Catalog{}, fmt.Errorf("list linked ingredients of %s: %w", item.Name, err)
	}

	catalog := consumption.Catalog{Item: *item, Links: links, Ingredients: make(map[string]models.Ingredient, len(links)+1)}
	ids := make([]string, 0, len(links)+1)
	for _, link := range links {
		ids = append(ids, link.IngredientID)
	}
	if item.Packaging.PerPortion && item.Packaging.IngredientID != "" {
		ids = append(ids, item.Packaging.IngredientID)
	}
	for _, id := range ids {
		if _, ok := catalog.Ingredients[id]; ok {
			continue
		}
		ing, err := s.store.GetIngredient(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return consumption.Catalog{}, validationf("item %s references unknown ingredient %s", item.Name, id)
			}
			return consumption.Catalog{}, err
		}
		catalog.Ingredients[id] = *ing
	}
	return catalog, nil
}

// update applies a guarded single-write transition.
func (s *Service) update(ctx context.Context, rec *models.ProductionRecord, guard repository.Guard) error {
	if err := s.store.UpdateRecord(ctx, rec, guard); err != nil {
		return classify(rec, err)
	}
	return nil
}

func classify(rec *models.ProductionRecord, err error) error {
	switch {
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%s: %w", rec.ItemName, ErrAlreadyAdvanced)
	case errors.Is(err, repository.ErrLotBusy):
		return fmt.Errorf("%s: %w", rec.ItemName, ErrLotBatchRunning)
	default:
		return err
	}
}

// claim marks rec as held by a transition before stock moves. prepare may
// set fields that must be visible to store constraints from the start.
func (s *Service) claim(ctx context.Context, rec *models.ProductionRecord, name string, prepare func(*models.ProductionRecord)) (string, error) {
	guard := repository.GuardOf(*rec)
	token := s.newID()
	rec.Pending = &models.Transition{Name: name, Token: token, ClaimedAt: s.now().UTC()}
	if prepare != nil {
		prepare(rec)
	}
	if err := s.update(ctx, rec, guard); err != nil {
		rec.Pending = nil
		return "", err
	}
	return token, nil
}

// finalize writes the end state of a claimed transition. Stock already
// moved, so the write is retried rather than the movement: on conflict the
// record is re-read and, while the claim is still ours, mutate is applied
// again on the fresh copy.
func (s *Service) finalize(ctx context.Context, rec *models.ProductionRecord, token string, mutate func(*models.ProductionRecord)) error {
	current := rec.Clone()
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		next := current.Clone()
		guard := repository.GuardOf(next)
		mutate(&next)
		next.Pending = nil

		err := s.store.UpdateRecord(ctx, &next, guard)
		if err == nil {
			*rec = next
			return nil
		}
		if errors.Is(err, repository.ErrLotBusy) {
			return classify(rec, err)
		}

		fresh, gerr := s.store.GetRecord(ctx, rec.ID)
		if gerr != nil {
			return retry.RetryableError(err)
		}
		if fresh.Pending == nil || fresh.Pending.Token != token {
			return fmt.Errorf("%s: claim lost: %w", rec.ItemName, ErrAlreadyAdvanced)
		}
		current = *fresh
		return retry.RetryableError(err)
	})
	if err != nil {
		s.logger.Error("failed to finalize transition after stock movement",
			zap.String("record_id", rec.ID),
			zap.String("token", token),
			zap.Error(err),
		)
	}
	return err
}

// release drops a claim whose stock effects were rolled back.
func (s *Service) release(ctx context.Context, rec *models.ProductionRecord, token string, restore func(*models.ProductionRecord)) {
	err := s.finalize(ctx, rec, token, func(r *models.ProductionRecord) {
		if restore != nil {
			restore(r)
		}
	})
	if err != nil {
		s.logger.Error("failed to release transition claim, left for recovery", zap.String("record_id", rec.ID), zap.Error(err))
	}
}

// move applies one ledger movement on behalf of rec, tagged with the claim
// rec holds, if any.
func (s *Service) move(ctx context.Context, rec models.ProductionRecord, ingredientID string, quantity decimal.Decimal, unit models.Unit, direction models.Direction, actor, note string) (models.StockMovement, error) {
	mv, err := s.ledger.Apply(ctx, ledger.Movement{
		OrganizationID: rec.OrganizationID,
		IngredientID:   ingredientID,
		RecordID:       rec.ID,
		Quantity:       quantity,
		Unit:           unit,
		Direction:      direction,
		Actor:          actor,
		Context:        note,
		Claim:          claimToken(rec),
	})
	if err != nil {
		return models.StockMovement{}, fmt.Errorf("%w: %w", ErrLedger, err)
	}
	return mv, nil
}

// compensate reverses movements applied before a blocking failure.
func (s *Service) compensate(ctx context.Context, rec models.ProductionRecord, applied []models.StockMovement, actor string) {
	for i := len(applied) - 1; i >= 0; i-- {
		mv := applied[i]
		_, err := s.move(ctx, rec, mv.IngredientID, mv.Quantity, mv.Unit, models.DirectionReverse, actor, "rollback of "+mv.Context)
		if err != nil {
			s.logger.Error("failed to roll back stock movement",
				zap.String("record_id", rec.ID),
				zap.String("movement_id", mv.ID),
				zap.Error(err),
			)
		}
	}
}
