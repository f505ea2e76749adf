package sheets

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/domain/models"
)

// Sheet ranges the mirror appends to.
const (
	LedgerRange        = "Ledger!A:L"
	LossRange          = "Perdas!A:J"
	CancellationRange  = "Cancelamentos!A:H"
	spreadsheetTimeFmt = "2006-01-02 15:04:05"
)

// AuditMirror copies ledger movements and terminal audits into a spreadsheet
// so the kitchen office can follow stock without database access.
type AuditMirror struct {
	writer RowWriter
	loc    *time.Location
	logger *zap.Logger
}

// NewAuditMirror wires a mirror over writer. Timestamps are rendered in loc.
func NewAuditMirror(writer RowWriter, loc *time.Location, logger *zap.Logger) *AuditMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &AuditMirror{writer: writer, loc: loc, logger: logger}
}

// MirrorMovement appends one ledger row.
func (m *AuditMirror) MirrorMovement(ctx context.Context, mv models.StockMovement) error {
	return m.writer.WriteRow(ctx, LedgerRange, []interface{}{
		mv.CreatedAt.In(m.loc).Format(spreadsheetTimeFmt),
		mv.ID,
		mv.OrganizationID,
		mv.IngredientID,
		mv.IngredientName,
		string(mv.Direction),
		mv.Quantity.String(),
		string(mv.Unit),
		mv.Before.String(),
		mv.After.String(),
		mv.Actor,
		mv.Context,
	})
}

// MirrorLoss appends one loss row.
func (m *AuditMirror) MirrorLoss(ctx context.Context, loss models.LossRecord) error {
	return m.writer.WriteRow(ctx, LossRange, []interface{}{
		loss.CreatedAt.In(m.loc).Format(spreadsheetTimeFmt),
		loss.RecordID,
		loss.ItemName,
		string(loss.Type),
		loss.Quantity,
		loss.Weight.String(),
		string(loss.Stage),
		loss.Reason,
		loss.Actor,
		reversalNote(loss.StockNotReversed),
	})
}

func reversalNote(notReversed bool) string {
	if notReversed {
		return "stock not reversed"
	}
	return ""
}

// MirrorCancellation appends one cancellation row.
func (m *AuditMirror) MirrorCancellation(ctx context.Context, audit models.CancellationAudit) error {
	return m.writer.WriteRow(ctx, CancellationRange, []interface{}{
		audit.CreatedAt.In(m.loc).Format(spreadsheetTimeFmt),
		audit.RecordID,
		audit.ItemName,
		string(audit.Stage),
		audit.Reason,
		audit.Reversed.String(),
		string(audit.ReversedUnit),
		audit.Actor,
	})
}
