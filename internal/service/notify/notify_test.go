package notify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/pkg/clients/whatsapp"
)

type fakeClient struct {
	texts   []whatsapp.SendTextMessageRequest
	buttons []whatsapp.SendButtonMessageRequest
	fail    bool
}

func (f *fakeClient) SendTextMessage(_ context.Context, req whatsapp.SendTextMessageRequest) (*whatsapp.SendTextMessageResponse, error) {
	if f.fail {
		return nil, errors.New("unavailable")
	}
	f.texts = append(f.texts, req)
	return &whatsapp.SendTextMessageResponse{}, nil
}

func (f *fakeClient) SendButtonMessage(_ context.Context, req whatsapp.SendButtonMessageRequest) (*whatsapp.SendTextMessageResponse, error) {
	if f.fail {
		return nil, errors.New("unavailable")
	}
	f.buttons = append(f.buttons, req)
	return &whatsapp.SendTextMessageResponse{}, nil
}

func TestTimerAlarmRingsUntilSilenced(t *testing.T) {
	client := &fakeClient{}
	svc := NewService(client, "5511999999999", nil, nil)
	ctx := context.Background()

	alarm := models.Alarm{Kind: models.AlarmTimerFinished, RecordID: "rec-1", ItemName: "Sonho", Message: "Timer finished: Sonho"}
	if err := svc.Notify(ctx, alarm); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.buttons) != 1 || client.buttons[0].Buttons[0].ID != "silence:rec-1" {
		t.Fatalf("expected silence button, got %+v", client.buttons)
	}

	sent, err := svc.Remind(ctx)
	if err != nil || sent != 1 {
		t.Fatalf("expected one reminder, got %d err=%v", sent, err)
	}
	if !strings.Contains(client.buttons[1].Body, "reminder 1") {
		t.Fatalf("unexpected reminder body %q", client.buttons[1].Body)
	}

	if !svc.Silence("rec-1") {
		t.Fatalf("expected active alarm to be silenced")
	}
	if svc.Silence("rec-1") {
		t.Fatalf("second silence must report nothing active")
	}
	sent, _ = svc.Remind(ctx)
	if sent != 0 || len(svc.Active()) != 0 {
		t.Fatalf("silenced alarm must not ring again")
	}
}

func TestNewQueuedAlarmIsOneShot(t *testing.T) {
	client := &fakeClient{}
	svc := NewService(client, "5511999999999", nil, nil)

	err := svc.Notify(context.Background(), models.Alarm{Kind: models.AlarmNewQueued, RecordID: "rec-2", Message: "New card: Broa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.texts) != 1 || len(svc.Active()) != 0 {
		t.Fatalf("expected a plain text alarm that does not stay active")
	}
}

func TestFailedDeliveryKeepsAlarmActive(t *testing.T) {
	client := &fakeClient{fail: true}
	svc := NewService(client, "5511999999999", nil, nil)

	err := svc.Notify(context.Background(), models.Alarm{Kind: models.AlarmTimerFinished, RecordID: "rec-3"})
	if err == nil {
		t.Fatalf("expected delivery error")
	}
	if len(svc.Active()) != 1 {
		t.Fatalf("alarm must stay active for the reminder job")
	}
}

func TestWithoutClientAlarmsAreLogged(t *testing.T) {
	svc := NewService(nil, "", nil, nil)
	if err := svc.Notify(context.Background(), models.Alarm{Kind: models.AlarmTimerFinished, RecordID: "rec-4"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
