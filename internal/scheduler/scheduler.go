package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/config"
)

const jobTimeout = time.Minute

// Sweeper persists the finish of expired preparation timers.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// Reminder re-sends alarms nobody silenced yet.
type Reminder interface {
	Remind(ctx context.Context) (int, error)
}

// Scheduler manages scheduled tasks.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  Sweeper
	reminder Reminder
	cfg      config.SchedulerConfig
	logger   *zap.Logger
}

// NewScheduler creates a scheduler running in the configured timezone.
// reminder may be nil when no alarm channel is configured.
func NewScheduler(cfg config.SchedulerConfig, sweeper Sweeper, reminder Reminder, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
	}

	return &Scheduler{
		cron:     cron.New(cron.WithLocation(loc)),
		sweeper:  sweeper,
		reminder: reminder,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.TimerSweep, s.sweepTimers); err != nil {
		return fmt.Errorf("schedule timer sweep %q: %w", s.cfg.TimerSweep, err)
	}
	if s.reminder != nil {
		if _, err := s.cron.AddFunc(s.cfg.AlarmReminder, s.remindAlarms); err != nil {
			return fmt.Errorf("schedule alarm reminder %q: %w", s.cfg.AlarmReminder, err)
		}
	}

	s.logger.Info("starting scheduler",
		zap.String("timer_sweep", s.cfg.TimerSweep),
		zap.String("alarm_reminder", s.cfg.AlarmReminder),
		zap.String("timezone", s.cfg.Timezone),
	)
	s.cron.Start()
	return nil
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) sweepTimers() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	finished, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("timer sweep failed", zap.Error(err))
		return
	}
	if finished > 0 {
		s.logger.Info("timer sweep finished timers", zap.Int("finished", finished))
	}
}

func (s *Scheduler) remindAlarms() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	sent, err := s.reminder.Remind(ctx)
	if err != nil {
		s.logger.Error("alarm reminder failed", zap.Error(err))
		return
	}
	if sent > 0 {
		s.logger.Info("alarm reminders sent", zap.Int("sent", sent))
	}
}
