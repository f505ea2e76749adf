package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/metrics"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/service/consumption"
)

var (
	// ErrNegativeQuantity is returned for movements with a negative quantity.
	ErrNegativeQuantity = errors.New("movement quantity must not be negative")
	// ErrUnknownIngredient is returned when the ingredient does not exist.
	ErrUnknownIngredient = errors.New("unknown ingredient")
)

// MovementError reports a stock adjustment that could not be applied.
type MovementError struct {
	IngredientID string
	Direction    models.Direction
	Quantity     decimal.Decimal
	Err          error
}

func (e *MovementError) Error() string {
	return fmt.Sprintf("%s %s of ingredient %s failed: %v", e.Direction, e.Quantity, e.IngredientID, e.Err)
}

func (e *MovementError) Unwrap() error {
	return e.Err
}

// Movement is one signed stock change requested by the workflow.
type Movement struct {
	OrganizationID string
	IngredientID   string
	RecordID       string
	Quantity       decimal.Decimal
	// Unit of Quantity. Empty means the ingredient's stock unit.
	Unit      models.Unit
	Direction models.Direction
	Actor     string
	Context   string
	// Claim is the token of the record transition the movement belongs to.
	Claim string
}

// Mirror receives a copy of every applied movement.
type Mirror interface {
	MirrorMovement(ctx context.Context, mv models.StockMovement) error
}

// Service adjusts ingredient stock and keeps the before/after audit trail.
type Service struct {
	stock   repository.StockStore
	catalog repository.CatalogStore
	mirror  Mirror
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewService wires the ledger adapter. mirror and m may be nil.
func NewService(stock repository.StockStore, catalog repository.CatalogStore, mirror Mirror, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		stock:   stock,
		catalog: catalog,
		mirror:  mirror,
		metrics: m,
		logger:  logger,
		now:     time.Now,
	}
}

// Apply performs the movement and returns its audit entry. A zero quantity
// leaves stock untouched but is still recorded.
func (s *Service) Apply(ctx context.Context, mv Movement) (models.StockMovement, error) {
	if mv.Quantity.IsNegative() {
		return models.StockMovement{}, fmt.Errorf("%w: %s", ErrNegativeQuantity, mv.Quantity)
	}
	var delta decimal.Decimal
	switch mv.Direction {
	case models.DirectionConsume:
		delta = mv.Quantity.Neg()
	case models.DirectionReverse:
		delta = mv.Quantity
	default:
		return models.StockMovement{}, fmt.Errorf("unknown movement direction %q", mv.Direction)
	}

	ing, err := s.catalog.GetIngredient(ctx, mv.IngredientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return models.StockMovement{}, fmt.Errorf("%w: %s", ErrUnknownIngredient, mv.IngredientID)
		}
		return models.StockMovement{}, &MovementError{IngredientID: mv.IngredientID, Direction: mv.Direction, Quantity: mv.Quantity, Err: err}
	}

	quantity, err := consumption.Convert(mv.Quantity, mv.Unit, ing.Unit)
	if err != nil {
		return models.StockMovement{}, fmt.Errorf("movement of %s: %w", ing.Name, err)
	}
	delta, err = consumption.Convert(delta, mv.Unit, ing.Unit)
	if err != nil {
		return models.StockMovement{}, fmt.Errorf("movement of %s: %w", ing.Name, err)
	}

	before, after := ing.Stock, ing.Stock
	if !delta.IsZero() {
		before, after, err = s.stock.AdjustStock(ctx, ing.ID, delta)
		if err != nil {
			return models.StockMovement{}, &MovementError{IngredientID: ing.ID, Direction: mv.Direction, Quantity: quantity, Err: err}
		}
	}

	entry := models.StockMovement{
		ID:             uuid.NewString(),
		OrganizationID: mv.OrganizationID,
		IngredientID:   ing.ID,
		IngredientName: ing.Name,
		RecordID:       mv.RecordID,
		Direction:      mv.Direction,
		Quantity:       quantity,
		Unit:           ing.Unit,
		Before:         before,
		After:          after,
		Actor:          mv.Actor,
		Context:        mv.Context,
		Claim:          mv.Claim,
		CreatedAt:      s.now().UTC(),
	}
	if entry.OrganizationID == "" {
		entry.OrganizationID = ing.OrganizationID
	}

	fields := []zap.Field{
		zap.String("movement_id", entry.ID),
		zap.String("ingredient_id", ing.ID),
		zap.String("record_id", mv.RecordID),
		zap.String("direction", string(mv.Direction)),
		zap.String("quantity", quantity.String()),
		zap.String("before", before.String()),
		zap.String("after", after.String()),
	}

	// The stock already moved; a lost audit line must not make callers
	// compensate a movement that happened.
	if err := s.stock.AppendMovement(ctx, entry); err != nil {
		s.logger.Error("failed to append stock movement audit", append(fields, zap.Error(err))...)
	}
	if s.mirror != nil {
		if err := s.mirror.MirrorMovement(ctx, entry); err != nil {
			s.logger.Warn("failed to mirror stock movement", append(fields, zap.Error(err))...)
		}
	}

	s.metrics.LedgerMovement(string(mv.Direction))
	s.logger.Info("stock movement applied", fields...)
	return entry, nil
}
