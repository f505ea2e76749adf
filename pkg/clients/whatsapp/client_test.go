package whatsapp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mamadbah2/producao/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *APIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(config.WhatsAppConfig{
		BaseURL:       srv.URL,
		APIVersion:    "v21.0",
		AccessToken:   "token",
		PhoneNumberID: "12345",
	})
}

func TestSendButtonMessage(t *testing.T) {
	var got map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v21.0/12345/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			t.Errorf("missing bearer token")
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.1"}]}`))
	})

	resp, err := client.SendButtonMessage(context.Background(), SendButtonMessageRequest{
		To:      "5511999999999",
		Body:    "Timer finished: Sonho",
		Buttons: []Button{{ID: "silence:rec-1", Title: "Silenciar alarme agora mesmo"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].ID != "wamid.1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got["type"] != "interactive" {
		t.Fatalf("expected interactive payload, got %v", got["type"])
	}
	interactive := got["interactive"].(map[string]any)
	buttons := interactive["action"].(map[string]any)["buttons"].([]any)
	title := buttons[0].(map[string]any)["reply"].(map[string]any)["title"].(string)
	if len(title) != 20 {
		t.Fatalf("expected title truncated to 20 chars, got %q", title)
	}
}

func TestSendTextMessageSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid parameter","code":100}}`))
	})

	_, err := client.SendTextMessage(context.Background(), SendTextMessageRequest{To: "1", Body: "hi"})
	if err == nil || !strings.Contains(err.Error(), "code=100") {
		t.Fatalf("expected api error with code 100, got %v", err)
	}
}

func TestSendButtonMessageValidatesButtons(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	if _, err := client.SendButtonMessage(context.Background(), SendButtonMessageRequest{To: "1", Body: "x"}); err == nil {
		t.Fatalf("expected error without buttons")
	}
}
