package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/mamadbah2/producao/internal/config"
	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/service/commands"
	"github.com/mamadbah2/producao/internal/service/workflow"
	client "github.com/mamadbah2/producao/pkg/clients/whatsapp"
)

type fakeClient struct {
	sent []client.SendTextMessageRequest
}

func (f *fakeClient) SendTextMessage(_ context.Context, req client.SendTextMessageRequest) (*client.SendTextMessageResponse, error) {
	f.sent = append(f.sent, req)
	return &client.SendTextMessageResponse{}, nil
}

func (f *fakeClient) SendButtonMessage(context.Context, client.SendButtonMessageRequest) (*client.SendTextMessageResponse, error) {
	return &client.SendTextMessageResponse{}, nil
}

type fakeDispatcher struct {
	got   []models.Command
	reply string
	err   error
}

func (f *fakeDispatcher) HandleCommand(_ context.Context, cmd models.Command, _ string) (string, error) {
	f.got = append(f.got, cmd)
	return f.reply, f.err
}

func payload(messages ...models.InboundMessage) models.WebhookPayload {
	return models.WebhookPayload{Entry: []models.WebhookEntry{{Changes: []models.WebhookChange{{Value: models.WebhookValue{Messages: messages}}}}}}
}

func text(from, body string) models.InboundMessage {
	return models.InboundMessage{From: from, ID: "wamid." + body, Type: "text", Text: &models.TextContent{Body: body}}
}

func TestVerifyWebhookToken(t *testing.T) {
	svc := NewMetaWhatsAppService(config.WhatsAppConfig{VerifyToken: "secret"}, &fakeClient{}, &fakeDispatcher{}, nil)

	if got, err := svc.VerifyWebhookToken("subscribe", "secret", "42"); err != nil || got != "42" {
		t.Fatalf("expected challenge echoed, got %q err=%v", got, err)
	}
	for _, tc := range [][2]string{{"", "secret"}, {"unsubscribe", "secret"}, {"subscribe", "wrong"}} {
		if _, err := svc.VerifyWebhookToken(tc[0], tc[1], "42"); err == nil {
			t.Fatalf("mode=%q token=%q must be refused", tc[0], tc[1])
		}
	}
}

func TestHandleWebhookRepliesToSender(t *testing.T) {
	wa := &fakeClient{}
	dispatcher := &fakeDispatcher{reply: "Sonho is now portioning."}
	svc := NewMetaWhatsAppService(config.WhatsAppConfig{}, wa, dispatcher, nil)

	if err := svc.HandleWebhook(context.Background(), payload(text("5511", "/advance r1"))); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(dispatcher.got) != 1 || dispatcher.got[0].Type != models.CommandAdvance {
		t.Fatalf("command not dispatched: %+v", dispatcher.got)
	}
	if len(wa.sent) != 1 || wa.sent[0].To != "5511" || wa.sent[0].Body != "Sonho is now portioning." {
		t.Fatalf("unexpected reply %+v", wa.sent)
	}
}

func TestSilenceButtonBecomesCommand(t *testing.T) {
	dispatcher := &fakeDispatcher{reply: "Alarm silenced."}
	svc := NewMetaWhatsAppService(config.WhatsAppConfig{}, &fakeClient{}, dispatcher, nil)

	msg := models.InboundMessage{
		From:        "5511",
		Type:        "interactive",
		Interactive: &models.InteractiveContent{Type: "button_reply", ButtonReply: &models.ButtonReply{ID: "silence:rec-7", Title: "Silence"}},
	}
	if err := svc.HandleWebhook(context.Background(), payload(msg)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(dispatcher.got) != 1 {
		t.Fatalf("expected one command, got %d", len(dispatcher.got))
	}
	cmd := dispatcher.got[0]
	if cmd.Type != models.CommandSilence || len(cmd.Args) != 1 || cmd.Args[0] != "rec-7" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestRefusalsArePhrasedForOperators(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		body string
		want string
	}{
		{name: "unknown", err: commands.ErrUnsupportedCommand, body: "hello", want: "/status <card>"},
		{name: "usage", err: commands.ErrInvalidArguments, body: "/loss r1", want: "Usage: /loss"},
		{name: "race", err: fmt.Errorf("Sonho: %w", workflow.ErrAlreadyAdvanced), body: "/advance r1", want: "Someone else"},
		{name: "timer", err: fmt.Errorf("Sonho: %w", workflow.ErrTimerRunning), body: "/advance r1", want: "Not done: Sonho"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wa := &fakeClient{}
			svc := NewMetaWhatsAppService(config.WhatsAppConfig{}, wa, &fakeDispatcher{err: tc.err}, nil)
			if err := svc.HandleWebhook(context.Background(), payload(text("5511", tc.body))); err != nil {
				t.Fatalf("handle: %v", err)
			}
			if len(wa.sent) != 1 || !strings.Contains(wa.sent[0].Body, tc.want) {
				t.Fatalf("expected reply containing %q, got %+v", tc.want, wa.sent)
			}
		})
	}
}

func TestMessagesWithoutTextAreIgnored(t *testing.T) {
	wa := &fakeClient{}
	dispatcher := &fakeDispatcher{}
	svc := NewMetaWhatsAppService(config.WhatsAppConfig{}, wa, dispatcher, nil)

	if err := svc.HandleWebhook(context.Background(), payload(models.InboundMessage{From: "5511", Type: "image"})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(dispatcher.got) != 0 || len(wa.sent) != 0 {
		t.Fatalf("non-text message must be ignored")
	}
}
