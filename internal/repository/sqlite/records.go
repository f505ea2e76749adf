package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
)

func (s *Store) CreateRecord(ctx context.Context, rec *models.ProductionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}

	now := s.now().UTC()
	doc := rec.Clone()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	payload, err := encode(doc)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO production_records
			(id, organization_id, item_id, lot_id, batch_sequence, status, timer_status, version, created_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.OrganizationID, doc.ItemID, doc.LotID, doc.BatchSequence,
		doc.Status, doc.TimerStatus, doc.Version, doc.CreatedAt.UnixNano(), payload,
	)
	switch {
	case isPrimaryKeyViolation(err):
		return fmt.Errorf("record %s already exists: %w", rec.ID, repository.ErrConflict)
	case isUniqueViolation(err):
		return fmt.Errorf("lot %s batch %d: %w", rec.LotID, rec.BatchSequence, repository.ErrLotBusy)
	case err != nil:
		return fmt.Errorf("insert production record %s: %w", rec.ID, err)
	}
	rec.CreatedAt, rec.UpdatedAt = doc.CreatedAt, doc.UpdatedAt

	s.publish(feed.CollectionRecords, feed.OpInsert, rec.ID, rec.OrganizationID)
	return nil
}

func (s *Store) GetRecord(ctx context.Context, id string) (*models.ProductionRecord, error) {
	var rec models.ProductionRecord
	if err := s.getPayload(ctx, "production record "+id, &rec, `SELECT payload FROM production_records WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) ListRecords(ctx context.Context, filter repository.RecordFilter) ([]models.ProductionRecord, error) {
	where, args := recordWhere(filter)
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM production_records`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list production records: %w", err)
	}
	recs, err := scanPayloads[models.ProductionRecord](rows)
	if err != nil {
		return nil, err
	}
	repository.SortRecords(recs)
	return recs, nil
}

func recordWhere(f repository.RecordFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		conds = append(conds, cond)
		args = append(args, arg)
	}
	if f.OrganizationID != "" {
		add("organization_id = ?", f.OrganizationID)
	}
	if f.ItemID != "" {
		add("item_id = ?", f.ItemID)
	}
	if f.LotID != "" {
		add("lot_id = ?", f.LotID)
	}
	if f.TimerStatus != "" {
		add("timer_status = ?", f.TimerStatus)
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= ?", f.CreatedFrom.UnixNano())
	}
	if !f.CreatedUntil.IsZero() {
		add("created_at < ?", f.CreatedUntil.UnixNano())
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, st)
		}
		conds = append(conds, "status IN ("+strings.Join(marks, ", ")+")")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *Store) UpdateRecord(ctx context.Context, rec *models.ProductionRecord, guard repository.Guard) error {
	next := rec.Clone()
	next.Version = guard.Version + 1
	next.UpdatedAt = s.now().UTC()
	payload, err := encode(next)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE production_records
		SET status = ?, timer_status = ?, lot_id = ?, batch_sequence = ?, version = ?, payload = ?
		WHERE id = ? AND status = ? AND version = ?`,
		next.Status, next.TimerStatus, next.LotID, next.BatchSequence, next.Version, payload,
		rec.ID, guard.Status, guard.Version,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("lot %s batch %d: %w", rec.LotID, rec.BatchSequence, repository.ErrLotBusy)
	}
	if err != nil {
		return fmt.Errorf("update production record %s: %w", rec.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		current, getErr := s.GetRecord(ctx, rec.ID)
		if getErr != nil {
			return getErr
		}
		return fmt.Errorf("production record %s is %s v%d, expected %s v%d: %w",
			rec.ID, current.Status, current.Version, guard.Status, guard.Version, repository.ErrConflict)
	}

	rec.Version, rec.UpdatedAt = next.Version, next.UpdatedAt
	s.publish(feed.CollectionRecords, feed.OpUpdate, rec.ID, rec.OrganizationID)
	return nil
}

func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM production_records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete production record %s: %w", id, err)
	}
	s.publish(feed.CollectionRecords, feed.OpDelete, id, rec.OrganizationID)
	return nil
}
