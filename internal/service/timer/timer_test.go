package timer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/repository/memory"
	"github.com/mamadbah2/producao/internal/service/sequencer"
)

type countingNotifier struct {
	mu     sync.Mutex
	alarms []models.Alarm
}

func (n *countingNotifier) Notify(_ context.Context, alarm models.Alarm) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alarms = append(n.alarms, alarm)
	return nil
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alarms)
}

func TestRemaining(t *testing.T) {
	start := time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)
	rec := models.ProductionRecord{TimerEnabled: true, TimerMinutes: 30, TimerStatus: models.TimerRunning, PreparationStartedAt: &start}

	testCases := []struct {
		name         string
		now          time.Time
		wantLeft     time.Duration
		wantSeconds  int
		wantFinished bool
	}{
		{name: "at start", now: start, wantLeft: 30 * time.Minute, wantSeconds: 1800},
		{name: "midway", now: start.Add(10*time.Minute + 500*time.Millisecond), wantLeft: 20*time.Minute - 500*time.Millisecond, wantSeconds: 1200},
		{name: "exactly expired", now: start.Add(30 * time.Minute), wantLeft: 0, wantFinished: true},
		{name: "long after", now: start.Add(3 * time.Hour), wantLeft: 0, wantFinished: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Remaining(rec, tc.now); got != tc.wantLeft {
				t.Fatalf("expected %s remaining, got %s", tc.wantLeft, got)
			}
			if got := SecondsRemaining(rec, tc.now); got != tc.wantSeconds {
				t.Fatalf("expected %d seconds, got %d", tc.wantSeconds, got)
			}
			if got := IsFinished(rec, tc.now); got != tc.wantFinished {
				t.Fatalf("expected finished=%v", tc.wantFinished)
			}
		})
	}

	if Remaining(models.ProductionRecord{TimerMinutes: 30}, start) != 0 {
		t.Fatalf("records without a timer have nothing remaining")
	}
}

func seedRunningLot(t *testing.T, store *memory.Store, start time.Time) {
	t.Helper()

	item := models.Item{ID: "sonho", Name: "Sonho", Timer: models.TimerConfig{Enabled: true, Minutes: 20}}
	recs, err := sequencer.PlanLot(item, sequencer.LotPlan{LotID: "lot-1", TotalUnits: 60, Batches: 3})
	if err != nil {
		t.Fatalf("plan lot: %v", err)
	}
	recs[0].Status = models.StatusPreparing
	recs[0].TimerStatus = models.TimerRunning
	recs[0].PreparationStartedAt = &start
	for i := range recs {
		recs[i].ID = []string{"b1", "b2", "b3"}[i]
		if err := store.CreateRecord(context.Background(), &recs[i]); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
}

func TestCheckNotifiesExactlyOnce(t *testing.T) {
	start := time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)
	store := memory.NewStore(nil)
	seedRunningLot(t, store, start)

	notifier := &countingNotifier{}
	det := NewDetector(store, sequencer.New(store, nil), notifier, nil, nil)
	det.now = func() time.Time { return start.Add(19 * time.Minute) }

	ctx := context.Background()
	if ok, err := det.Check(ctx, "b1"); ok || err != nil {
		t.Fatalf("timer must still be running, got ok=%v err=%v", ok, err)
	}

	det.now = func() time.Time { return start.Add(21 * time.Minute) }
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := det.Check(ctx, "b1"); err != nil {
				t.Errorf("check: %v", err)
			}
		}()
	}
	wg.Wait()
	for i := 0; i < 3; i++ {
		if ok, _ := det.Check(ctx, "b1"); ok {
			t.Fatalf("finished transition fired again")
		}
	}

	if notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", notifier.count())
	}

	rec, _ := store.GetRecord(ctx, "b1")
	if rec.TimerStatus != models.TimerFinished || rec.Status != models.StatusPreparing {
		t.Fatalf("expected finished timer while preparing, got %s/%s", rec.TimerStatus, rec.Status)
	}
	b2, _ := store.GetRecord(ctx, "b2")
	b3, _ := store.GetRecord(ctx, "b3")
	if b2.BlockedByPreviousBatch || !b3.BlockedByPreviousBatch {
		t.Fatalf("expected only batch 2 released, got b2=%v b3=%v", b2.BlockedByPreviousBatch, b3.BlockedByPreviousBatch)
	}
}

func TestSweepFinishesExpiredTimers(t *testing.T) {
	start := time.Date(2026, 5, 4, 6, 0, 0, 0, time.UTC)
	store := memory.NewStore(nil)
	seedRunningLot(t, store, start)

	notifier := &countingNotifier{}
	det := NewDetector(store, nil, notifier, nil, nil)
	det.now = func() time.Time { return start.Add(time.Hour) }

	n, err := det.Sweep(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected one finished timer, got %d err=%v", n, err)
	}
	n, _ = det.Sweep(context.Background())
	if n != 0 || notifier.count() != 1 {
		t.Fatalf("second sweep must not re-notify, got %d finished and %d alarms", n, notifier.count())
	}

	running, _ := store.ListRecords(context.Background(), repository.RecordFilter{TimerStatus: models.TimerRunning})
	if len(running) != 0 {
		t.Fatalf("expected no running timers left, got %d", len(running))
	}
}
