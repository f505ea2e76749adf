package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
)

const (
	kindLoss         = "loss"
	kindCancellation = "cancellation"
	kindSplit        = "split"
	kindConsumption  = "consumption"
)

func (s *Store) appendAudit(ctx context.Context, kind, id, org, recordID string, createdAt time.Time, entry any) error {
	payload, err := encode(entry)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_entries (id, kind, organization_id, record_id, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, kind, org, recordID, createdAt.UnixNano(), payload); err != nil {
		return fmt.Errorf("append %s audit %s: %w", kind, id, err)
	}
	return nil
}

func listAudits[T any](ctx context.Context, s *Store, kind, column, value string) ([]T, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM audit_entries
		WHERE kind = ? AND `+column+` = ?
		ORDER BY created_at, rowid`, kind, value)
	if err != nil {
		return nil, fmt.Errorf("list %s audits: %w", kind, err)
	}
	return scanPayloads[T](rows)
}

func (s *Store) AppendLoss(ctx context.Context, loss models.LossRecord) error {
	return s.appendAudit(ctx, kindLoss, loss.ID, loss.OrganizationID, loss.RecordID, loss.CreatedAt, loss)
}

func (s *Store) AppendCancellation(ctx context.Context, audit models.CancellationAudit) error {
	return s.appendAudit(ctx, kindCancellation, audit.ID, audit.OrganizationID, audit.RecordID, audit.CreatedAt, audit)
}

func (s *Store) AppendSplit(ctx context.Context, audit models.SplitAudit) error {
	return s.appendAudit(ctx, kindSplit, audit.ID, audit.OrganizationID, audit.RecordID, audit.CreatedAt, audit)
}

func (s *Store) AppendConsumption(ctx context.Context, entry models.ConsumptionEntry) error {
	return s.appendAudit(ctx, kindConsumption, entry.ID, entry.OrganizationID, entry.RecordID, entry.CreatedAt, entry)
}

func (s *Store) ListLosses(ctx context.Context, organizationID string) ([]models.LossRecord, error) {
	return listAudits[models.LossRecord](ctx, s, kindLoss, "organization_id", organizationID)
}

func (s *Store) ListCancellations(ctx context.Context, organizationID string) ([]models.CancellationAudit, error) {
	return listAudits[models.CancellationAudit](ctx, s, kindCancellation, "organization_id", organizationID)
}

func (s *Store) ListConsumption(ctx context.Context, recordID string) ([]models.ConsumptionEntry, error) {
	return listAudits[models.ConsumptionEntry](ctx, s, kindConsumption, "record_id", recordID)
}

// GetDemand returns the current demand, zero when none was recorded.
func (s *Store) GetDemand(ctx context.Context, organizationID, itemID string) (models.ItemDemand, error) {
	var demand models.ItemDemand
	err := s.getPayload(ctx, "demand of "+itemID, &demand,
		`SELECT payload FROM item_demand WHERE organization_id = ? AND item_id = ?`, organizationID, itemID)
	if errors.Is(err, repository.ErrNotFound) {
		return models.ItemDemand{OrganizationID: organizationID, ItemID: itemID}, nil
	}
	if err != nil {
		return models.ItemDemand{}, err
	}
	return demand, nil
}

func (s *Store) SaveDemand(ctx context.Context, demand models.ItemDemand) error {
	demand.UpdatedAt = s.now().UTC()
	payload, err := encode(demand)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO item_demand (organization_id, item_id, payload) VALUES (?, ?, ?)
		ON CONFLICT (organization_id, item_id) DO UPDATE SET payload = excluded.payload`,
		demand.OrganizationID, demand.ItemID, payload); err != nil {
		return fmt.Errorf("save demand of %s: %w", demand.ItemID, err)
	}
	s.publish(feed.CollectionDemand, feed.OpUpdate, demand.ItemID, demand.OrganizationID)
	return nil
}

func (s *Store) ClearDemand(ctx context.Context, organizationID, itemID string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM item_demand WHERE organization_id = ? AND item_id = ?`, organizationID, itemID); err != nil {
		return fmt.Errorf("clear demand of %s: %w", itemID, err)
	}
	s.publish(feed.CollectionDemand, feed.OpDelete, itemID, organizationID)
	return nil
}

func (s *Store) CreditFinishedGoods(ctx context.Context, organizationID, itemID string, units int) error {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO finished_goods (organization_id, item_id, units) VALUES (?, ?, ?)
		ON CONFLICT (organization_id, item_id) DO UPDATE SET units = units + excluded.units`,
		organizationID, itemID, units); err != nil {
		return fmt.Errorf("credit finished goods of %s: %w", itemID, err)
	}
	return nil
}

func (s *Store) FinishedGoods(ctx context.Context, organizationID, itemID string) (int, error) {
	var units int
	err := s.db.QueryRowContext(ctx, `
		SELECT units FROM finished_goods WHERE organization_id = ? AND item_id = ?`, organizationID, itemID,
	).Scan(&units)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read finished goods of %s: %w", itemID, err)
	}
	return units, nil
}

func (s *Store) ListBacklog(ctx context.Context, organizationID string) ([]models.BacklogEntry, error) {
	query := `SELECT payload FROM backlog`
	var args []any
	if organizationID != "" {
		query += ` WHERE organization_id = ?`
		args = append(args, organizationID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY item_name, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list backlog: %w", err)
	}
	return scanPayloads[models.BacklogEntry](rows)
}

func (s *Store) SaveBacklog(ctx context.Context, entry models.BacklogEntry) error {
	entry.UpdatedAt = s.now().UTC()
	payload, err := encode(entry)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO backlog (id, organization_id, item_name, payload) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			organization_id = excluded.organization_id,
			item_name = excluded.item_name,
			payload = excluded.payload`,
		entry.ID, entry.OrganizationID, entry.ItemName, payload); err != nil {
		return fmt.Errorf("save backlog entry %s: %w", entry.ID, err)
	}
	s.publish(feed.CollectionBacklog, feed.OpUpdate, entry.ID, entry.OrganizationID)
	return nil
}
