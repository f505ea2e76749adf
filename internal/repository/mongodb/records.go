package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
)

func (r *MongoDBRepository) records() *mongo.Collection {
	return r.db.Collection(feed.CollectionRecords)
}

// CreateRecord inserts a new production record.
func (r *MongoDBRepository) CreateRecord(ctx context.Context, rec *models.ProductionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("record id must not be empty")
	}

	now := r.now().UTC()
	doc := rec.Clone()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if _, err := r.records().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return r.duplicate(ctx, doc, err)
		}
		return fmt.Errorf("failed to insert production record %s: %w", rec.ID, err)
	}
	rec.CreatedAt, rec.UpdatedAt = doc.CreatedAt, doc.UpdatedAt

	r.publish(feed.CollectionRecords, feed.OpInsert, rec.ID, rec.OrganizationID)
	return nil
}

// duplicate tells an id collision from the running-timer index.
func (r *MongoDBRepository) duplicate(ctx context.Context, rec models.ProductionRecord, cause error) error {
	n, err := r.records().CountDocuments(ctx, bson.M{"_id": rec.ID})
	if err == nil && n > 0 && rec.TimerStatus != models.TimerRunning {
		return fmt.Errorf("record %s already exists: %w", rec.ID, repository.ErrConflict)
	}
	return fmt.Errorf("lot %s batch %d: %w", rec.LotID, rec.BatchSequence, repository.ErrLotBusy)
}

// GetRecord loads one production record.
func (r *MongoDBRepository) GetRecord(ctx context.Context, id string) (*models.ProductionRecord, error) {
	var rec models.ProductionRecord
	if err := r.findOne(ctx, feed.CollectionRecords, "production record "+id, bson.M{"_id": id}, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRecords returns the records matching filter in board order.
func (r *MongoDBRepository) ListRecords(ctx context.Context, filter repository.RecordFilter) ([]models.ProductionRecord, error) {
	recs := make([]models.ProductionRecord, 0)
	if err := r.findAll(ctx, feed.CollectionRecords, recordQuery(filter), &recs); err != nil {
		return nil, err
	}
	repository.SortRecords(recs)
	return recs, nil
}

func recordQuery(f repository.RecordFilter) bson.M {
	q := bson.M{}
	if f.OrganizationID != "" {
		q["organization_id"] = f.OrganizationID
	}
	if f.ItemID != "" {
		q["item_id"] = f.ItemID
	}
	if f.LotID != "" {
		q["lot_id"] = f.LotID
	}
	if f.TimerStatus != "" {
		q["timer_status"] = f.TimerStatus
	}
	if len(f.Statuses) > 0 {
		q["status"] = bson.M{"$in": f.Statuses}
	}
	created := bson.M{}
	if !f.CreatedFrom.IsZero() {
		created["$gte"] = f.CreatedFrom
	}
	if !f.CreatedUntil.IsZero() {
		created["$lt"] = f.CreatedUntil
	}
	if len(created) > 0 {
		q["created_at"] = created
	}
	return q
}

// UpdateRecord replaces the record only while status and version still
// match guard.
func (r *MongoDBRepository) UpdateRecord(ctx context.Context, rec *models.ProductionRecord, guard repository.Guard) error {
	next := rec.Clone()
	next.Version = guard.Version + 1
	next.UpdatedAt = r.now().UTC()

	filter := bson.M{"_id": rec.ID, "status": guard.Status, "version": guard.Version}
	res, err := r.records().ReplaceOne(ctx, filter, next)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("lot %s batch %d: %w", rec.LotID, rec.BatchSequence, repository.ErrLotBusy)
		}
		return fmt.Errorf("failed to update production record %s: %w", rec.ID, err)
	}
	if res.MatchedCount == 0 {
		current, err := r.GetRecord(ctx, rec.ID)
		if err != nil {
			return err
		}
		return fmt.Errorf("production record %s is %s v%d, expected %s v%d: %w",
			rec.ID, current.Status, current.Version, guard.Status, guard.Version, repository.ErrConflict)
	}

	rec.Version, rec.UpdatedAt = next.Version, next.UpdatedAt
	r.publish(feed.CollectionRecords, feed.OpUpdate, rec.ID, rec.OrganizationID)
	return nil
}

// DeleteRecord removes a record. Only used to roll back partial writes.
func (r *MongoDBRepository) DeleteRecord(ctx context.Context, id string) error {
	var rec models.ProductionRecord
	err := r.records().FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("production record %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to delete production record %s: %w", id, err)
	}

	r.publish(feed.CollectionRecords, feed.OpDelete, id, rec.OrganizationID)
	return nil
}
