package timer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/metrics"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/sequencer"
)

// Duration returns the configured countdown of the record.
func Duration(rec models.ProductionRecord) time.Duration {
	return time.Duration(rec.TimerMinutes) * time.Minute
}

// Remaining is max(0, duration - (now - start)). Records without a running
// or finished timer report zero.
func Remaining(rec models.ProductionRecord, now time.Time) time.Duration {
	if !rec.TimerEnabled || rec.PreparationStartedAt == nil {
		return 0
	}
	left := Duration(rec) - now.Sub(*rec.PreparationStartedAt)
	if left < 0 {
		return 0
	}
	return left
}

// SecondsRemaining rounds Remaining up to whole seconds.
func SecondsRemaining(rec models.ProductionRecord, now time.Time) int {
	left := Remaining(rec, now)
	return int((left + time.Second - 1) / time.Second)
}

// IsFinished reports whether the countdown reached zero, whether or not the
// finish has been persisted yet.
func IsFinished(rec models.ProductionRecord, now time.Time) bool {
	switch rec.TimerStatus {
	case models.TimerFinished:
		return true
	case models.TimerRunning:
		return Remaining(rec, now) == 0
	default:
		return false
	}
}

// Begin sets the timer status of a record entering preparation. The
// countdown itself is derived from PreparationStartedAt.
func Begin(rec *models.ProductionRecord) {
	if !rec.TimerEnabled || rec.TimerMinutes <= 0 {
		rec.TimerStatus = models.TimerNotApplicable
		return
	}
	rec.TimerStatus = models.TimerRunning
}

// Notifier is the alarm sink of finished timers.
type Notifier interface {
	Notify(ctx context.Context, alarm models.Alarm) error
}

// Detector persists timer completions once and fans the one-shot event out
// to the alarm sink and the lot sequencer.
type Detector struct {
	store     repository.ProductionStore
	sequencer *sequencer.Sequencer
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// NewDetector wires a Detector. notifier and m may be nil.
func NewDetector(store repository.ProductionStore, seq *sequencer.Sequencer, notifier Notifier, m *metrics.Metrics, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:     store,
		sequencer: seq,
		notifier:  notifier,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// Check marks the record's timer finished if its countdown expired. It
// returns true only for the call that persisted the transition; repeated or
// concurrent calls observe the stored status and return false.
func (d *Detector) Check(ctx context.Context, recordID string) (bool, error) {
	rec, err := d.store.GetRecord(ctx, recordID)
	if err != nil {
		return false, err
	}
	if rec.Status != models.StatusPreparing || rec.TimerStatus != models.TimerRunning {
		return false, nil
	}
	if Remaining(*rec, d.now()) > 0 {
		return false, nil
	}

	guard := repository.GuardOf(*rec)
	rec.TimerStatus = models.TimerFinished
	if err := d.store.UpdateRecord(ctx, rec, guard); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Another observer or an operator got there first.
			return false, nil
		}
		return false, fmt.Errorf("persist timer finish of %s: %w", recordID, err)
	}

	d.metrics.TimerFinished()
	d.logger.Info("preparation timer finished",
		zap.String("record_id", rec.ID),
		zap.String("item", rec.ItemName),
		zap.String("lot_id", rec.LotID),
		zap.Int("batch", rec.BatchSequence),
	)

	if d.notifier != nil {
		alarm := models.Alarm{
			Kind:     models.AlarmTimerFinished,
			RecordID: rec.ID,
			ItemName: rec.ItemName,
			LotID:    rec.LotID,
			Batch:    rec.BatchSequence,
			Message:  fmt.Sprintf("Timer finished: %s", label(*rec)),
		}
		if err := d.notifier.Notify(ctx, alarm); err != nil {
			d.logger.Warn("failed to deliver timer alarm", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}

	if d.sequencer != nil {
		if _, err := d.sequencer.Release(ctx, *rec); err != nil {
			d.logger.Error("failed to release next batch", zap.String("record_id", rec.ID), zap.Error(err))
		}
	}
	return true, nil
}

// Sweep checks every running timer and returns how many finished.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	running, err := d.store.ListRecords(ctx, repository.RecordFilter{
		Statuses:    []models.Status{models.StatusPreparing},
		TimerStatus: models.TimerRunning,
	})
	if err != nil {
		return 0, fmt.Errorf("list running timers: %w", err)
	}

	now := d.now()
	finished := 0
	for _, rec := range running {
		if Remaining(rec, now) > 0 {
			continue
		}
		ok, err := d.Check(ctx, rec.ID)
		if err != nil {
			d.logger.Error("timer check failed", zap.String("record_id", rec.ID), zap.Error(err))
			continue
		}
		if ok {
			finished++
		}
	}
	return finished, nil
}

func label(rec models.ProductionRecord) string {
	if rec.InLot() {
		return fmt.Sprintf("%s (batch %d/%d)", rec.ItemName, rec.BatchSequence, rec.BatchesInLot)
	}
	return rec.ItemName
}
