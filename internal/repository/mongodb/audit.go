package mongodb

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
)

// demandDoc keys the demand aggregate by organization and item.
type demandDoc struct {
	ID     string            `bson:"_id"`
	Demand models.ItemDemand `bson:",inline"`
}

type finishedDoc struct {
	ID             string `bson:"_id"`
	OrganizationID string `bson:"organization_id"`
	ItemID         string `bson:"item_id"`
	Units          int    `bson:"units"`
}

func demandKey(organizationID, itemID string) string {
	return organizationID + "/" + itemID
}

var byCreation = options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})

func (r *MongoDBRepository) AppendLoss(ctx context.Context, loss models.LossRecord) error {
	return r.insert(ctx, collLosses, loss)
}

func (r *MongoDBRepository) AppendCancellation(ctx context.Context, audit models.CancellationAudit) error {
	return r.insert(ctx, collCancellations, audit)
}

func (r *MongoDBRepository) AppendSplit(ctx context.Context, audit models.SplitAudit) error {
	return r.insert(ctx, collSplits, audit)
}

func (r *MongoDBRepository) AppendConsumption(ctx context.Context, entry models.ConsumptionEntry) error {
	return r.insert(ctx, collConsumption, entry)
}

func (r *MongoDBRepository) ListLosses(ctx context.Context, organizationID string) ([]models.LossRecord, error) {
	out := make([]models.LossRecord, 0)
	if err := r.findAll(ctx, collLosses, bson.M{"organization_id": organizationID}, &out, byCreation); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoDBRepository) ListCancellations(ctx context.Context, organizationID string) ([]models.CancellationAudit, error) {
	out := make([]models.CancellationAudit, 0)
	if err := r.findAll(ctx, collCancellations, bson.M{"organization_id": organizationID}, &out, byCreation); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoDBRepository) ListConsumption(ctx context.Context, recordID string) ([]models.ConsumptionEntry, error) {
	out := make([]models.ConsumptionEntry, 0)
	if err := r.findAll(ctx, collConsumption, bson.M{"record_id": recordID}, &out, byCreation); err != nil {
		return nil, err
	}
	return out, nil
}

// GetDemand returns the current demand, zero when none was recorded.
func (r *MongoDBRepository) GetDemand(ctx context.Context, organizationID, itemID string) (models.ItemDemand, error) {
	var doc demandDoc
	err := r.db.Collection(feed.CollectionDemand).FindOne(ctx, bson.M{"_id": demandKey(organizationID, itemID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.ItemDemand{OrganizationID: organizationID, ItemID: itemID}, nil
	}
	if err != nil {
		return models.ItemDemand{}, fmt.Errorf("failed to read demand of %s: %w", itemID, err)
	}
	return doc.Demand, nil
}

func (r *MongoDBRepository) SaveDemand(ctx context.Context, demand models.ItemDemand) error {
	demand.UpdatedAt = r.now().UTC()
	key := demandKey(demand.OrganizationID, demand.ItemID)
	if err := r.upsert(ctx, feed.CollectionDemand, bson.M{"_id": key}, demandDoc{ID: key, Demand: demand}); err != nil {
		return err
	}
	r.publish(feed.CollectionDemand, feed.OpUpdate, demand.ItemID, demand.OrganizationID)
	return nil
}

func (r *MongoDBRepository) ClearDemand(ctx context.Context, organizationID, itemID string) error {
	if _, err := r.db.Collection(feed.CollectionDemand).DeleteOne(ctx, bson.M{"_id": demandKey(organizationID, itemID)}); err != nil {
		return fmt.Errorf("failed to clear demand of %s: %w", itemID, err)
	}
	r.publish(feed.CollectionDemand, feed.OpDelete, itemID, organizationID)
	return nil
}

func (r *MongoDBRepository) CreditFinishedGoods(ctx context.Context, organizationID, itemID string, units int) error {
	key := demandKey(organizationID, itemID)
	_, err := r.db.Collection(collFinished).UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{
			"$inc":         bson.M{"units": units},
			"$setOnInsert": bson.M{"organization_id": organizationID, "item_id": itemID},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to credit finished goods of %s: %w", itemID, err)
	}
	return nil
}

func (r *MongoDBRepository) FinishedGoods(ctx context.Context, organizationID, itemID string) (int, error) {
	var doc finishedDoc
	err := r.db.Collection(collFinished).FindOne(ctx, bson.M{"_id": demandKey(organizationID, itemID)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read finished goods of %s: %w", itemID, err)
	}
	return doc.Units, nil
}

func (r *MongoDBRepository) ListBacklog(ctx context.Context, organizationID string) ([]models.BacklogEntry, error) {
	q := bson.M{}
	if organizationID != "" {
		q["organization_id"] = organizationID
	}
	out := make([]models.BacklogEntry, 0)
	opts := options.Find().SetSort(bson.D{{Key: "item_name", Value: 1}})
	if err := r.findAll(ctx, feed.CollectionBacklog, q, &out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *MongoDBRepository) SaveBacklog(ctx context.Context, entry models.BacklogEntry) error {
	entry.UpdatedAt = r.now().UTC()
	if err := r.upsert(ctx, feed.CollectionBacklog, bson.M{"_id": entry.ID}, entry); err != nil {
		return err
	}
	r.publish(feed.CollectionBacklog, feed.OpUpdate, entry.ID, entry.OrganizationID)
	return nil
}
