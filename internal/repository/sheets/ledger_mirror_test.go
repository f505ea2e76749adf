package sheets

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mamadbah2/producao/internal/domain/models"
)

type capturedRow struct {
	sheetRange string
	values     []interface{}
}

type fakeWriter struct {
	rows []capturedRow
}

func (f *fakeWriter) WriteRow(_ context.Context, sheetRange string, values []interface{}) error {
	f.rows = append(f.rows, capturedRow{sheetRange: sheetRange, values: values})
	return nil
}

func TestMirrorMovementWritesLedgerRow(t *testing.T) {
	writer := &fakeWriter{}
	mirror := NewAuditMirror(writer, time.UTC, nil)

	mv := models.StockMovement{
		ID:             "mv-1",
		IngredientID:   "flour",
		IngredientName: "Farinha",
		Direction:      models.DirectionConsume,
		Quantity:       decimal.RequireFromString("10"),
		Unit:           models.UnitKilogram,
		Before:         decimal.RequireFromString("50"),
		After:          decimal.RequireFromString("40"),
		Actor:          "ana",
		Context:        "preparation start",
		CreatedAt:      time.Date(2026, 3, 2, 6, 30, 0, 0, time.UTC),
	}
	if err := mirror.MirrorMovement(context.Background(), mv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(writer.rows) != 1 || writer.rows[0].sheetRange != LedgerRange {
		t.Fatalf("expected one ledger row, got %+v", writer.rows)
	}
	row := writer.rows[0].values
	if row[0] != "2026-03-02 06:30:00" || row[8] != "50" || row[9] != "40" {
		t.Fatalf("unexpected row %v", row)
	}
}

func TestMirrorLossMarksStockNotReversed(t *testing.T) {
	writer := &fakeWriter{}
	mirror := NewAuditMirror(writer, nil, nil)

	err := mirror.MirrorLoss(context.Background(), models.LossRecord{RecordID: "r1", Type: models.LossBurnt, Quantity: 30, StockNotReversed: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if writer.rows[0].sheetRange != LossRange || writer.rows[0].values[3] != "burnt" {
		t.Fatalf("unexpected row %+v", writer.rows[0])
	}
}
