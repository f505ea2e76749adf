package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/config"
	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/commands"
	"github.com/mamadbah2/producao/internal/service/notify"
	"github.com/mamadbah2/producao/internal/service/workflow"
	client "github.com/mamadbah2/producao/pkg/clients/whatsapp"
)

// MessagingService describes the operations the HTTP layer can perform.
type MessagingService interface {
	VerifyWebhookToken(mode, verifyToken, challenge string) (string, error)
	HandleWebhook(ctx context.Context, payload models.WebhookPayload) error
	SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error
}

// MetaWhatsAppService is the operator chat channel backed by WhatsApp Cloud API.
type MetaWhatsAppService struct {
	cfg        config.WhatsAppConfig
	client     client.Client
	dispatcher commands.Dispatcher
	logger     *zap.Logger
}

// NewMetaWhatsAppService wires a new service instance.
func NewMetaWhatsAppService(cfg config.WhatsAppConfig, client client.Client, dispatcher commands.Dispatcher, logger *zap.Logger) *MetaWhatsAppService {
	svc := &MetaWhatsAppService{
		cfg:        cfg,
		client:     client,
		dispatcher: dispatcher,
		logger:     logger,
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

const helpMessage = "Commands:\n" +
	"/status <card>\n" +
	"/advance <card> [weight or units]\n" +
	"/cancel <card> <reason>\n" +
	"/loss <card> <burnt|contaminated|dropped|equipment|other> <quantity> <reason>\n" +
	"/silence <card>"

var usage = map[models.CommandType]string{
	models.CommandStatus:  "Usage: /status <card>",
	models.CommandAdvance: "Usage: /advance <card> [weight or units]",
	models.CommandCancel:  "Usage: /cancel <card> <reason>",
	models.CommandLoss:    "Usage: /loss <card> <type> <quantity> <reason>",
	models.CommandSilence: "Usage: /silence <card>",
}

// VerifyWebhookToken validates the callback verification token.
func (s *MetaWhatsAppService) VerifyWebhookToken(mode, verifyToken, challenge string) (string, error) {
	if mode == "" || verifyToken == "" {
		return "", errors.New("missing mode or verify token")
	}

	if !strings.EqualFold(mode, "subscribe") {
		return "", fmt.Errorf("unsupported hub.mode %s", mode)
	}

	if verifyToken != s.cfg.VerifyToken {
		return "", errors.New("invalid verify token")
	}

	return challenge, nil
}

// HandleWebhook processes inbound webhook payloads.
func (s *MetaWhatsAppService) HandleWebhook(ctx context.Context, payload models.WebhookPayload) error {
	var firstErr error

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if err := s.handleInboundMessage(ctx, msg); err != nil {
					s.logger.Error("failed to handle inbound message", zap.Error(err), zap.String("message_id", msg.ID))
					if firstErr == nil {
						firstErr = err
					}
				}
			}
		}
	}

	return firstErr
}

func (s *MetaWhatsAppService) handleInboundMessage(ctx context.Context, msg models.InboundMessage) error {
	text := extractMessageText(msg)
	if text == "" {
		s.logger.Debug("ignoring message without text", zap.String("type", msg.Type), zap.String("message_id", msg.ID))
		return nil
	}

	cmd := models.ParseCommand(text)
	s.logger.Info("parsed inbound command",
		zap.String("from", msg.From),
		zap.String("command", string(cmd.Type)),
		zap.Strings("args", cmd.Args))

	reply, err := s.dispatcher.HandleCommand(ctx, cmd, msg.From)
	if err != nil {
		reply = replyForError(cmd, err)
		s.logger.Info("command refused", zap.String("command", string(cmd.Type)), zap.Error(err))
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err = s.client.SendTextMessage(ctxWithTimeout, client.SendTextMessageRequest{
		To:   msg.From,
		Body: reply,
	})
	return err
}

// replyForError phrases a dispatcher failure for the operator.
func replyForError(cmd models.Command, err error) string {
	switch {
	case errors.Is(err, commands.ErrUnsupportedCommand):
		return helpMessage
	case errors.Is(err, commands.ErrInvalidArguments):
		if u, ok := usage[cmd.Type]; ok {
			return u
		}
		return helpMessage
	case errors.Is(err, repository.ErrNotFound):
		return "Card not found."
	case errors.Is(err, workflow.ErrAlreadyAdvanced):
		return "Someone else already moved this card. Check the board."
	case errors.Is(err, workflow.ErrValidation),
		errors.Is(err, workflow.ErrTimerRunning),
		errors.Is(err, workflow.ErrBlockedByPreviousBatch),
		errors.Is(err, workflow.ErrLotBatchRunning),
		errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, workflow.ErrTransitionInProgress),
		errors.Is(err, workflow.ErrNothingProducible),
		errors.Is(err, workflow.ErrLedger):
		return "Not done: " + err.Error()
	default:
		return "Something went wrong, please try again."
	}
}

// SendOutbound lets internal operators push quick notifications via HTTP.
func (s *MetaWhatsAppService) SendOutbound(ctx context.Context, req models.OutboundMessageRequest) error {
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := s.client.SendTextMessage(ctxWithTimeout, client.SendTextMessageRequest{
		To:         req.To,
		Body:       req.Message,
		PreviewURL: req.PreviewURL,
	})
	return err
}

// extractMessageText returns the command text of a message. The silence
// button of an alarm is read as a /silence command.
func extractMessageText(msg models.InboundMessage) string {
	if msg.Text != nil {
		return msg.Text.Body
	}

	if msg.Interactive != nil && msg.Interactive.ButtonReply != nil {
		id := msg.Interactive.ButtonReply.ID
		if recordID, ok := strings.CutPrefix(id, notify.SilenceButtonPrefix); ok {
			return "/" + string(models.CommandSilence) + " " + recordID
		}
		return id
	}

	return ""
}
