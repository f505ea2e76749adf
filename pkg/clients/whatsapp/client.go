package whatsapp

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mamadbah2/producao/internal/config"
)

// Client exposes the WhatsApp Cloud API operations used by the kitchen
// alarm and operator channel.
type Client interface {
	SendTextMessage(ctx context.Context, req SendTextMessageRequest) (*SendTextMessageResponse, error)
	SendButtonMessage(ctx context.Context, req SendButtonMessageRequest) (*SendTextMessageResponse, error)
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient    *resty.Client
	phoneNumberID string
}

// NewClient builds a WhatsApp API client using the provided configuration values.
func NewClient(cfg config.WhatsAppConfig) *APIClient {
	base := strings.TrimSuffix(cfg.BaseURL, "/")

	restyClient := resty.New()
	restyClient.
		SetBaseURL(fmt.Sprintf("%s/%s", base, cfg.APIVersion)).
		SetHeader("Authorization", fmt.Sprintf("Bearer %s", cfg.AccessToken)).
		SetHeader("Content-Type", "application/json").
		SetTimeout(15 * time.Second)

	return &APIClient{
		httpClient:    restyClient,
		phoneNumberID: cfg.PhoneNumberID,
	}
}

// SendTextMessageRequest represents a simplified text message payload.
type SendTextMessageRequest struct {
	To         string
	Body       string
	PreviewURL bool
}

// Button is one quick-reply button. ID comes back in the webhook when pressed.
type Button struct {
	ID    string
	Title string
}

// SendButtonMessageRequest is an interactive message with up to three
// quick-reply buttons.
type SendButtonMessageRequest struct {
	To      string
	Body    string
	Buttons []Button
}

// MessageID is one accepted message reference.
type MessageID struct {
	ID string `json:"id"`
}

// SendTextMessageResponse mirrors the successful response from Meta.
type SendTextMessageResponse struct {
	Messages []MessageID `json:"messages"`
}

type apiErrorBody struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
	FBTraceID    string `json:"fbtrace_id"`
}

// apiError represents a WhatsApp Cloud API error payload.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

func (c *APIClient) SendTextMessage(ctx context.Context, req SendTextMessageRequest) (*SendTextMessageResponse, error) {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.To,
		"type":              "text",
		"text": map[string]any{
			"body":        req.Body,
			"preview_url": req.PreviewURL,
		},
	}
	return c.post(ctx, payload)
}

// SendButtonMessage sends an interactive reply-button message. The API
// accepts at most three buttons with titles up to 20 characters.
func (c *APIClient) SendButtonMessage(ctx context.Context, req SendButtonMessageRequest) (*SendTextMessageResponse, error) {
	if len(req.Buttons) == 0 || len(req.Buttons) > 3 {
		return nil, fmt.Errorf("button message needs 1 to 3 buttons, got %d", len(req.Buttons))
	}

	buttons := make([]map[string]any, 0, len(req.Buttons))
	for _, b := range req.Buttons {
		title := b.Title
		if len(title) > 20 {
			title = title[:20]
		}
		buttons = append(buttons, map[string]any{
			"type":  "reply",
			"reply": map[string]any{"id": b.ID, "title": title},
		})
	}

	payload := map[string]any{
		"messaging_product": "whatsapp",
		"to":                req.To,
		"type":              "interactive",
		"interactive": map[string]any{
			"type":   "button",
			"body":   map[string]any{"text": req.Body},
			"action": map[string]any{"buttons": buttons},
		},
	}
	return c.post(ctx, payload)
}

func (c *APIClient) post(ctx context.Context, payload map[string]any) (*SendTextMessageResponse, error) {
	result := new(SendTextMessageResponse)
	apiErr := new(apiError)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		SetResult(result).
		SetError(apiErr).
		Post(fmt.Sprintf("%s/messages", c.phoneNumberID))
	if err != nil {
		return nil, fmt.Errorf("send whatsapp message: %w", err)
	}

	if resp.StatusCode() >= http.StatusBadRequest {
		code := resp.StatusCode()
		if apiErr.Error.Code != 0 {
			code = apiErr.Error.Code
		}
		return nil, fmt.Errorf("whatsapp api error: code=%d, message=%s", code, apiErr.Error.Message)
	}

	return result, nil
}
