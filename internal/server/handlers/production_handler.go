package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/board"
	"github.com/mamadbah2/producao/internal/service/workflow"
)

// ProductionService is the workflow surface exposed over HTTP.
type ProductionService interface {
	Get(ctx context.Context, id string) (*models.ProductionRecord, error)
	Schedule(ctx context.Context, req workflow.ScheduleRequest) (*models.ProductionRecord, error)
	ScheduleLot(ctx context.Context, req workflow.LotRequest) ([]models.ProductionRecord, error)
	Advance(ctx context.Context, id string, in workflow.AdvanceInput) (*workflow.Outcome, error)
	StartPreparation(ctx context.Context, id, actor string) (*workflow.Outcome, error)
	CompletePreparation(ctx context.Context, id string, in workflow.PreparationInput) (*workflow.Outcome, error)
	CompletePortioning(ctx context.Context, id string, in workflow.PortioningInput) (*workflow.Outcome, error)
	CancelPreparation(ctx context.Context, id string, in workflow.CancelInput) (*workflow.Outcome, error)
	RegisterLoss(ctx context.Context, id string, in workflow.LossInput) (*workflow.Outcome, error)
	ResolveInsufficientStock(ctx context.Context, id string, choice workflow.SplitChoice) (*workflow.Outcome, error)
	SilenceAlarm(ctx context.Context, id string) (bool, error)
}

// BoardView is the part of the production board the handler reads and
// feeds with optimistic actions.
type BoardView interface {
	View(ctx context.Context, org string) (board.View, error)
	Track(rec models.ProductionRecord, target models.Status, actor string)
	Forget(org, recordID string)
}

// ProductionHandler serves the operator API of the production board.
type ProductionHandler struct {
	svc    ProductionService
	board  BoardView
	logger *zap.Logger
}

// NewProductionHandler constructs the HTTP adapter of the workflow.
func NewProductionHandler(svc ProductionService, b BoardView, logger *zap.Logger) *ProductionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProductionHandler{svc: svc, board: b, logger: logger}
}

type actorRequest struct {
	Actor string `json:"actor"`
}

// Board returns the merged board of one organization.
func (h *ProductionHandler) Board(c *gin.Context) {
	org := c.Query("organization_id")
	if org == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "organization_id is required"})
		return
	}
	view, err := h.board.View(c.Request.Context(), org)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CreateRecord queues one production card.
func (h *ProductionHandler) CreateRecord(c *gin.Context) {
	var req workflow.ScheduleRequest
	if !h.bind(c, &req) {
		return
	}
	rec, err := h.svc.Schedule(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// CreateLot queues the batches of a lot.
func (h *ProductionHandler) CreateLot(c *gin.Context) {
	var req workflow.LotRequest
	if !h.bind(c, &req) {
		return
	}
	recs, err := h.svc.ScheduleLot(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"records": recs})
}

// GetRecord returns one card.
func (h *ProductionHandler) GetRecord(c *gin.Context) {
	rec, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Advance moves a card to its next stage.
func (h *ProductionHandler) Advance(c *gin.Context) {
	var in workflow.AdvanceInput
	if !h.bind(c, &in) {
		return
	}
	h.act(c, in.Actor, nextStatus, func(ctx context.Context, id string) (*workflow.Outcome, error) {
		return h.svc.Advance(ctx, id, in)
	})
}

// Start moves a queued card to preparing.
func (h *ProductionHandler) Start(c *gin.Context) {
	var in actorRequest
	if !h.bind(c, &in) {
		return
	}
	h.act(c, in.Actor, to(models.StatusPreparing), func(ctx context.Context, id string) (*workflow.Outcome, error) {
		return h.svc.StartPreparation(ctx, id, in.Actor)
	})
}

// CompletePreparation moves a card to portioning.
func (h *ProductionHandler) CompletePreparation(c *gin.Context) {
	var in workflow.PreparationInput
	if !h.bind(c, &in) {
		return
	}
	h.act(c, in.Actor, to(models.StatusPortioning), func(ctx context.Context, id string) (*workflow.Outcome, error) {
		return h.svc.CompletePreparation(ctx, id, in)
	})
}

// CompletePortioning closes a card.
func (h *ProductionHandler) CompletePortioning(c *gin.Context) {
	var in workflow.PortioningInput
	if !h.bind(c, &in) {
		return
	}
	h.act(c, in.Actor, to(models.StatusDone), func(ctx context.Context, id string) (*workflow.Outcome, error) {
		return h.svc.CompletePortioning(ctx, id, in)
	})
}

// Cancel sends a card in progress back to the queue.
func (h *ProductionHandler) Cancel(c *gin.Context) {
	var in workflow.CancelInput
	if !h.bind(c, &in) {
		return
	}
	h.act(c, in.Actor, to(models.StatusQueued), func(ctx context.Context, id string) (*workflow.Outcome, error) {
		return h.svc.CancelPreparation(ctx, id, in)
	})
}

// Loss closes a card in progress as lost.
func (h *ProductionHandler) Loss(c *gin.Context) {
	var in workflow.LossInput
	if !h.bind(c, &in) {
		return
	}
	h.act(c, in.Actor, to(models.StatusDone), func(ctx context.Context, id string) (*workflow.Outcome, error) {
		return h.svc.RegisterLoss(ctx, id, in)
	})
}

// Split answers a shortage offer.
func (h *ProductionHandler) Split(c *gin.Context) {
	var in workflow.SplitChoice
	if !h.bind(c, &in) {
		return
	}
	target := to(models.StatusPreparing)
	if !in.Accept {
		target = nil
	}
	h.act(c, in.Actor, target, func(ctx context.Context, id string) (*workflow.Outcome, error) {
		return h.svc.ResolveInsufficientStock(ctx, id, in)
	})
}

// SilenceAlarm stops the alarm of a card.
func (h *ProductionHandler) SilenceAlarm(c *gin.Context) {
	silenced, err := h.svc.SilenceAlarm(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"silenced": silenced})
}

func nextStatus(rec models.ProductionRecord) (models.Status, bool) {
	switch rec.Status {
	case models.StatusQueued:
		return models.StatusPreparing, true
	case models.StatusPreparing:
		return models.StatusPortioning, true
	case models.StatusPortioning:
		return models.StatusDone, true
	default:
		return "", false
	}
}

func to(status models.Status) func(models.ProductionRecord) (models.Status, bool) {
	return func(models.ProductionRecord) (models.Status, bool) { return status, true }
}

// act runs a transition, showing its target on the board while it is in
// flight. A shortage leaves the card where it was.
func (h *ProductionHandler) act(c *gin.Context, actor string, target func(models.ProductionRecord) (models.Status, bool), run func(context.Context, string) (*workflow.Outcome, error)) {
	ctx := c.Request.Context()
	id := c.Param("id")

	var tracked *models.ProductionRecord
	if target != nil && h.board != nil {
		if rec, err := h.svc.Get(ctx, id); err == nil {
			if status, ok := target(*rec); ok {
				h.board.Track(*rec, status, actor)
				tracked = rec
			}
		}
	}

	out, err := run(ctx, id)
	if tracked != nil && (err != nil || out.Shortage != nil) {
		h.board.Forget(tracked.OrganizationID, tracked.ID)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *ProductionHandler) bind(c *gin.Context, dst any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		h.logger.Warn("invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": "invalid request body"})
		return false
	}
	return true
}

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{target: workflow.ErrValidation, status: http.StatusBadRequest, code: "invalid_input"},
	{target: workflow.ErrInvalidSplit, status: http.StatusBadRequest, code: "invalid_split"},
	{target: repository.ErrNotFound, status: http.StatusNotFound, code: "not_found"},
	{target: workflow.ErrAlreadyAdvanced, status: http.StatusConflict, code: "already_advanced"},
	{target: workflow.ErrTransitionInProgress, status: http.StatusConflict, code: "transition_in_progress"},
	{target: workflow.ErrInvalidTransition, status: http.StatusConflict, code: "invalid_transition"},
	{target: workflow.ErrTimerRunning, status: http.StatusConflict, code: "timer_running"},
	{target: workflow.ErrBlockedByPreviousBatch, status: http.StatusConflict, code: "blocked_by_previous_batch"},
	{target: workflow.ErrLotBatchRunning, status: http.StatusConflict, code: "lot_batch_running"},
	{target: workflow.ErrNothingProducible, status: http.StatusUnprocessableEntity, code: "nothing_producible"},
	{target: workflow.ErrLedger, status: http.StatusBadGateway, code: "ledger_failure"},
}

func (h *ProductionHandler) fail(c *gin.Context, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, gin.H{"error": m.code, "message": err.Error()})
			return
		}
	}
	h.logger.Error("production request failed", zap.String("path", c.FullPath()), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "internal error"})
}
