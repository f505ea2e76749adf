package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mamadbah2/producao/internal/config"
)

type countingJob struct {
	calls atomic.Int32
	err   error
}

func (j *countingJob) Sweep(context.Context) (int, error) {
	j.calls.Add(1)
	return 1, j.err
}

func (j *countingJob) Remind(context.Context) (int, error) {
	j.calls.Add(1)
	return 0, j.err
}

func TestNewSchedulerRejectsUnknownTimezone(t *testing.T) {
	_, err := NewScheduler(config.SchedulerConfig{TimerSweep: "@every 1s", Timezone: "Mars/Olympus"}, &countingJob{}, nil, nil)
	if err == nil {
		t.Fatalf("expected an error for an unknown timezone")
	}
}

func TestStartRejectsBadSchedule(t *testing.T) {
	s, err := NewScheduler(config.SchedulerConfig{TimerSweep: "every now and then", Timezone: "UTC"}, &countingJob{}, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Fatalf("expected an error for an invalid cron expression")
	}
}

func TestJobsRun(t *testing.T) {
	sweeper := &countingJob{}
	reminder := &countingJob{err: errors.New("whatsapp down")}
	s, err := NewScheduler(config.SchedulerConfig{TimerSweep: "@every 1s", AlarmReminder: "@every 1s", Timezone: "UTC"}, sweeper, reminder, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for sweeper.calls.Load() == 0 || reminder.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("jobs did not run: sweep=%d remind=%d", sweeper.calls.Load(), reminder.calls.Load())
		}
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
}
