package sequencer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
)

var (
	// ErrBlocked is returned when a batch waits for its predecessor.
	ErrBlocked = errors.New("blocked by previous batch")
	// ErrLotBatchRunning is returned when another batch of the lot has a
	// running timer.
	ErrLotBatchRunning = errors.New("a batch of this lot is already being prepared")
)

// CanStart reports whether sequencing allows the record to start.
func CanStart(rec models.ProductionRecord) bool {
	return !rec.BlockedByPreviousBatch
}

// InitialBlock tells whether a freshly planned batch must start blocked.
// Every batch but the first waits for its predecessor, whether or not the
// item runs a timer.
func InitialBlock(sequence int) bool {
	return sequence > 1
}

// Sequencer keeps batches of one lot in order.
type Sequencer struct {
	store   repository.ProductionStore
	logger  *zap.Logger
	backoff func() retry.Backoff
}

// New builds a Sequencer over the production store.
func New(store repository.ProductionStore, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		store:  store,
		logger: logger,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(4, retry.NewExponential(10*time.Millisecond))
		},
	}
}

// CheckStart refuses to start rec while it is blocked or while a sibling of
// its lot already has a running timer. The store's unique running-timer
// constraint backs this check when two operators race.
func (s *Sequencer) CheckStart(ctx context.Context, rec models.ProductionRecord) error {
	if !CanStart(rec) {
		return fmt.Errorf("%s batch %d/%d: %w", rec.ItemName, rec.BatchSequence, rec.BatchesInLot, ErrBlocked)
	}
	if !rec.InLot() {
		return nil
	}

	siblings, err := s.store.ListRecords(ctx, repository.RecordFilter{LotID: rec.LotID, TimerStatus: models.TimerRunning})
	if err != nil {
		return fmt.Errorf("list running batches of lot %s: %w", rec.LotID, err)
	}
	for _, sib := range siblings {
		if sib.ID != rec.ID {
			return fmt.Errorf("%s batch %d is running: %w", sib.ItemName, sib.BatchSequence, ErrLotBatchRunning)
		}
	}
	return nil
}

// Successor returns the batch following rec in its lot, if any.
func (s *Sequencer) Successor(ctx context.Context, rec models.ProductionRecord) (*models.ProductionRecord, error) {
	if !rec.InLot() {
		return nil, nil
	}
	batches, err := s.store.ListRecords(ctx, repository.RecordFilter{LotID: rec.LotID})
	if err != nil {
		return nil, fmt.Errorf("list batches of lot %s: %w", rec.LotID, err)
	}
	for i := range batches {
		if batches[i].BatchSequence == rec.BatchSequence+1 {
			next := batches[i]
			return &next, nil
		}
	}
	return nil, nil
}

// Release clears the block on the batch following rec. It is called when
// rec's timer finishes, when a timer-less rec completes preparation, and
// when rec is cancelled or lost. Releasing an already free successor is a
// no-op.
func (s *Sequencer) Release(ctx context.Context, rec models.ProductionRecord) (*models.ProductionRecord, error) {
	if !rec.InLot() {
		return nil, nil
	}

	var released *models.ProductionRecord
	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		next, err := s.Successor(ctx, rec)
		if err != nil {
			return err
		}
		if next == nil || !next.BlockedByPreviousBatch {
			return nil
		}

		guard := repository.GuardOf(*next)
		next.BlockedByPreviousBatch = false
		if err := s.store.UpdateRecord(ctx, next, guard); err != nil {
			if errors.Is(err, repository.ErrConflict) {
				return retry.RetryableError(err)
			}
			return err
		}
		released = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("release successor of %s batch %d: %w", rec.LotID, rec.BatchSequence, err)
	}

	if released != nil {
		s.logger.Info("next batch released",
			zap.String("lot_id", rec.LotID),
			zap.Int("released_batch", released.BatchSequence),
			zap.String("record_id", released.ID),
		)
	}
	return released, nil
}
