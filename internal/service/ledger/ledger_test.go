package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
	"github.com/mamadbah2/producao/internal/repository/memory"
)

type failingStock struct {
	*memory.Store
}

func (failingStock) AdjustStock(context.Context, string, decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	return decimal.Zero, decimal.Zero, errors.New("connection reset")
}

func newLedger(t *testing.T) (*Service, *memory.Store) {
	t.Helper()

	store := memory.NewStore(nil)
	if err := store.SaveIngredient(context.Background(), models.Ingredient{
		ID:    "flour",
		Name:  "Farinha",
		Stock: decimal.RequireFromString("50"),
		Unit:  models.UnitKilogram,
	}); err != nil {
		t.Fatalf("seed ingredient: %v", err)
	}
	return NewService(store, store, nil, nil, nil), store
}

func stockOf(t *testing.T, store *memory.Store) decimal.Decimal {
	t.Helper()
	ing, err := store.GetIngredient(context.Background(), "flour")
	if err != nil {
		t.Fatalf("get ingredient: %v", err)
	}
	return ing.Stock
}

func TestApplyRecordsBeforeAndAfter(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	mv, err := svc.Apply(ctx, Movement{
		IngredientID: "flour",
		RecordID:     "rec-1",
		Quantity:     decimal.RequireFromString("2500"),
		Unit:         models.UnitGram,
		Direction:    models.DirectionConsume,
		Actor:        "ana",
		Context:      "preparation start",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mv.Before.Equal(decimal.RequireFromString("50")) || !mv.After.Equal(decimal.RequireFromString("47.5")) {
		t.Fatalf("unexpected before/after %s/%s", mv.Before, mv.After)
	}
	if !mv.Quantity.Equal(decimal.RequireFromString("2.5")) || mv.Unit != models.UnitKilogram {
		t.Fatalf("expected quantity normalized to stock unit, got %s %s", mv.Quantity, mv.Unit)
	}

	if _, err := svc.Apply(ctx, Movement{IngredientID: "flour", Quantity: decimal.RequireFromString("2.5"), Direction: models.DirectionReverse}); err != nil {
		t.Fatalf("unexpected reverse error: %v", err)
	}
	if got := stockOf(t, store); !got.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("expected stock restored to 50, got %s", got)
	}

	movements, err := store.ListMovements(ctx, repository.MovementFilter{IngredientID: "flour"})
	if err != nil {
		t.Fatalf("list movements: %v", err)
	}
	if len(movements) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(movements))
	}
}

func TestApplyZeroIsLoggedNoop(t *testing.T) {
	svc, store := newLedger(t)

	mv, err := svc.Apply(context.Background(), Movement{IngredientID: "flour", Quantity: decimal.Zero, Direction: models.DirectionConsume})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mv.Before.Equal(mv.After) {
		t.Fatalf("expected unchanged stock, got %s -> %s", mv.Before, mv.After)
	}
	movements, _ := store.ListMovements(context.Background(), repository.MovementFilter{})
	if len(movements) != 1 {
		t.Fatalf("expected zero movement to be recorded, got %d entries", len(movements))
	}
}

func TestApplyRejectsInvalidMovements(t *testing.T) {
	svc, store := newLedger(t)
	ctx := context.Background()

	testCases := []struct {
		name    string
		mv      Movement
		wantErr error
	}{
		{
			name:    "negative quantity",
			mv:      Movement{IngredientID: "flour", Quantity: decimal.RequireFromString("-1"), Direction: models.DirectionConsume},
			wantErr: ErrNegativeQuantity,
		},
		{
			name:    "unknown ingredient",
			mv:      Movement{IngredientID: "salt", Quantity: decimal.RequireFromString("1"), Direction: models.DirectionConsume},
			wantErr: ErrUnknownIngredient,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Apply(ctx, tc.mv); !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}

	if got := stockOf(t, store); !got.Equal(decimal.RequireFromString("50")) {
		t.Fatalf("rejected movements must not touch stock, got %s", got)
	}
}

func TestApplySurfacesStoreFailure(t *testing.T) {
	_, store := newLedger(t)
	svc := NewService(failingStock{store}, store, nil, nil, nil)

	_, err := svc.Apply(context.Background(), Movement{IngredientID: "flour", Quantity: decimal.RequireFromString("1"), Direction: models.DirectionConsume})
	var mvErr *MovementError
	if !errors.As(err, &mvErr) {
		t.Fatalf("expected MovementError, got %v", err)
	}
	if mvErr.IngredientID != "flour" {
		t.Fatalf("unexpected error payload %+v", mvErr)
	}
}
