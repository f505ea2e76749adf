package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/metrics"
	"github.com/mamadbah2/producao/pkg/clients/whatsapp"
)

// SilenceButtonPrefix prefixes the quick-reply id of alarm messages.
const SilenceButtonPrefix = "silence:"

// Service delivers kitchen alarms through WhatsApp. Timer alarms stay
// active, and are re-sent by Remind, until silenced.
type Service struct {
	client    whatsapp.Client
	recipient string
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	active map[string]activeAlarm
}

type activeAlarm struct {
	alarm   models.Alarm
	raised  time.Time
	reminds int
}

// NewService wires the alarm sink. A nil client or an empty recipient keeps
// alarms in memory and in the logs only.
func NewService(client whatsapp.Client, recipient string, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:    client,
		recipient: recipient,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		active:    make(map[string]activeAlarm),
	}
}

// Notify delivers a one-shot alarm. Timer alarms become active so the
// reminder job keeps ringing until an operator silences them.
func (s *Service) Notify(ctx context.Context, alarm models.Alarm) error {
	if alarm.Kind == models.AlarmTimerFinished {
		s.mu.Lock()
		s.active[alarm.RecordID] = activeAlarm{alarm: alarm, raised: s.now()}
		s.mu.Unlock()
	}
	return s.deliver(ctx, alarm)
}

// Silence stops the alarm of a record. It reports whether one was active.
func (s *Service) Silence(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[recordID]; !ok {
		return false
	}
	delete(s.active, recordID)
	s.logger.Info("alarm silenced", zap.String("record_id", recordID))
	return true
}

// Active returns the alarms still ringing, oldest first.
func (s *Service) Active() []models.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]activeAlarm, 0, len(s.active))
	for _, a := range s.active {
		entries = append(entries, a)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].raised.Before(entries[j].raised) })

	out := make([]models.Alarm, 0, len(entries))
	for _, a := range entries {
		out = append(out, a.alarm)
	}
	return out
}

// Remind re-sends every active alarm and returns how many were sent.
func (s *Service) Remind(ctx context.Context) (int, error) {
	s.mu.Lock()
	pending := make([]models.Alarm, 0, len(s.active))
	for id, a := range s.active {
		a.reminds++
		s.active[id] = a
		reminder := a.alarm
		reminder.Kind = models.AlarmReminder
		reminder.Message = fmt.Sprintf("%s (reminder %d)", a.alarm.Message, a.reminds)
		pending = append(pending, reminder)
	}
	s.mu.Unlock()

	sent := 0
	var firstErr error
	for _, alarm := range pending {
		if err := s.deliver(ctx, alarm); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

func (s *Service) deliver(ctx context.Context, alarm models.Alarm) error {
	fields := []zap.Field{
		zap.String("kind", string(alarm.Kind)),
		zap.String("record_id", alarm.RecordID),
		zap.String("item", alarm.ItemName),
	}
	if s.client == nil || s.recipient == "" {
		s.logger.Info("alarm raised", fields...)
		s.metrics.AlarmSent(string(alarm.Kind))
		return nil
	}

	var err error
	switch alarm.Kind {
	case models.AlarmTimerFinished, models.AlarmReminder:
		_, err = s.client.SendButtonMessage(ctx, whatsapp.SendButtonMessageRequest{
			To:      s.recipient,
			Body:    alarm.Message,
			Buttons: []whatsapp.Button{{ID: SilenceButtonPrefix + alarm.RecordID, Title: "Silence"}},
		})
	default:
		_, err = s.client.SendTextMessage(ctx, whatsapp.SendTextMessageRequest{To: s.recipient, Body: alarm.Message})
	}
	if err != nil {
		s.logger.Warn("failed to send alarm", append(fields, zap.Error(err))...)
		return fmt.Errorf("send %s alarm for %s: %w", alarm.Kind, alarm.RecordID, err)
	}

	s.metrics.AlarmSent(string(alarm.Kind))
	s.logger.Info("alarm sent", fields...)
	return nil
}
