package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/service/timer"
	"github.com/mamadbah2/producao/internal/service/workflow"
)

// ErrInvalidArguments indicates the command payload could not be parsed.
var ErrInvalidArguments = errors.New("invalid command arguments")

// ErrUnsupportedCommand indicates we do not support the requested command.
var ErrUnsupportedCommand = errors.New("unsupported command")

// Workflow is the part of the production workflow reachable from chat.
type Workflow interface {
	Get(ctx context.Context, id string) (*models.ProductionRecord, error)
	Advance(ctx context.Context, id string, in workflow.AdvanceInput) (*workflow.Outcome, error)
	CancelPreparation(ctx context.Context, id string, in workflow.CancelInput) (*workflow.Outcome, error)
	RegisterLoss(ctx context.Context, id string, in workflow.LossInput) (*workflow.Outcome, error)
	SilenceAlarm(ctx context.Context, id string) (bool, error)
}

// Dispatcher executes parsed operator commands.
type Dispatcher interface {
	HandleCommand(ctx context.Context, cmd models.Command, sender string) (string, error)
}

// Service implements the Dispatcher interface over the workflow.
type Service struct {
	workflow Workflow
	logger   *zap.Logger
	now      func() time.Time
}

// NewService constructs a command dispatcher.
func NewService(wf Workflow, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		workflow: wf,
		logger:   logger,
		now:      time.Now,
	}
}

// HandleCommand runs the command on behalf of sender and returns the reply
// text. Workflow refusals are returned as errors for the caller to phrase.
func (s *Service) HandleCommand(ctx context.Context, cmd models.Command, sender string) (string, error) {
	s.logger.Debug("dispatching command", zap.String("command", string(cmd.Type)), zap.String("sender", sender), zap.Strings("args", cmd.Args))

	if cmd.Type == models.CommandUnknown {
		return "", ErrUnsupportedCommand
	}
	if len(cmd.Args) == 0 {
		return "", ErrInvalidArguments
	}
	id := cmd.Args[0]
	actor := "whatsapp:" + sender

	switch cmd.Type {
	case models.CommandStatus:
		rec, err := s.workflow.Get(ctx, id)
		if err != nil {
			return "", err
		}
		return s.describe(*rec), nil
	case models.CommandAdvance:
		in, err := s.buildAdvance(ctx, id, actor, cmd.Args[1:])
		if err != nil {
			return "", err
		}
		out, err := s.workflow.Advance(ctx, id, in)
		if err != nil {
			return "", err
		}
		return outcomeMessage(out), nil
	case models.CommandCancel:
		if len(cmd.Args) < 2 {
			return "", ErrInvalidArguments
		}
		out, err := s.workflow.CancelPreparation(ctx, id, workflow.CancelInput{Actor: actor, Reason: strings.Join(cmd.Args[1:], " ")})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s cancelled and back in the queue.", out.Record.ItemName) + warnings(out), nil
	case models.CommandLoss:
		in, err := buildLoss(cmd.Args[1:], actor)
		if err != nil {
			return "", err
		}
		out, err := s.workflow.RegisterLoss(ctx, id, in)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Loss registered for %s: %d units (%s). Stock was not reversed.", out.Record.ItemName, in.Quantity, in.Type) + warnings(out), nil
	case models.CommandSilence:
		silenced, err := s.workflow.SilenceAlarm(ctx, id)
		if err != nil {
			return "", err
		}
		if !silenced {
			return "No active alarm for this card.", nil
		}
		return "Alarm silenced.", nil
	default:
		return "", ErrUnsupportedCommand
	}
}

// buildAdvance reads the optional measurement that closes the current
// stage: the dough weight in preparation, the actual units in portioning.
func (s *Service) buildAdvance(ctx context.Context, id, actor string, args []string) (workflow.AdvanceInput, error) {
	in := workflow.AdvanceInput{Actor: actor}
	if len(args) == 0 {
		return in, nil
	}
	rec, err := s.workflow.Get(ctx, id)
	if err != nil {
		return in, err
	}
	switch rec.Status {
	case models.StatusPreparing:
		weight, err := decimal.NewFromString(args[0])
		if err != nil {
			return in, ErrInvalidArguments
		}
		in.Preparation.Weight = weight
	case models.StatusPortioning:
		units, err := strconv.Atoi(args[0])
		if err != nil {
			return in, ErrInvalidArguments
		}
		in.Portioning.ActualUnits = &units
	}
	return in, nil
}

func buildLoss(args []string, actor string) (workflow.LossInput, error) {
	if len(args) < 3 {
		return workflow.LossInput{}, ErrInvalidArguments
	}
	quantity, err := strconv.Atoi(args[1])
	if err != nil {
		return workflow.LossInput{}, ErrInvalidArguments
	}
	return workflow.LossInput{
		Actor:    actor,
		Type:     models.LossType(strings.ToLower(args[0])),
		Quantity: quantity,
		Reason:   strings.Join(args[2:], " "),
	}, nil
}

func (s *Service) describe(rec models.ProductionRecord) string {
	units := rec.ProgrammedUnits
	if rec.ActualUnits != nil {
		units = *rec.ActualUnits
	}
	msg := fmt.Sprintf("%s: %s, %d units", rec.ItemName, rec.Status, units)
	if rec.LotID != "" {
		msg += fmt.Sprintf(", batch %d/%d", rec.BatchSequence, rec.BatchesInLot)
	}
	if rec.BlockedByPreviousBatch {
		msg += ", waiting for the previous batch"
	}
	if rec.TimerStatus == models.TimerRunning {
		msg += fmt.Sprintf(", timer %ds left", timer.SecondsRemaining(rec, s.now()))
	}
	return msg + "."
}

func outcomeMessage(out *workflow.Outcome) string {
	if out.Shortage != nil {
		return "Not enough stock: " + out.Shortage.String() + ". Use the board to split the card."
	}
	return fmt.Sprintf("%s is now %s.", out.Record.ItemName, out.Record.Status) + warnings(out)
}

func warnings(out *workflow.Outcome) string {
	if len(out.Warnings) == 0 {
		return ""
	}
	return "\nWarnings: " + strings.Join(out.Warnings, "; ")
}
