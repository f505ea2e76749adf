package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/feed"
)

type changeEvent struct {
	OperationType string `bson:"operationType"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	NS struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	FullDocument struct {
		OrganizationID string `bson:"organization_id"`
	} `bson:"fullDocument"`
}

func (ev changeEvent) op() (feed.Op, bool) {
	switch ev.OperationType {
	case "insert":
		return feed.OpInsert, true
	case "update", "replace":
		return feed.OpUpdate, true
	case "delete":
		return feed.OpDelete, true
	default:
		return "", false
	}
}

// Watch forwards change stream notifications of the board collections to
// publisher until ctx ends, so writes made by other instances reach the
// local board. It requires a replica set.
func (r *MongoDBRepository) Watch(ctx context.Context, publisher feed.Publisher) error {
	match := bson.D{{Key: "$match", Value: bson.D{
		{Key: "ns.coll", Value: bson.D{{Key: "$in", Value: bson.A{feed.CollectionRecords, feed.CollectionDemand, feed.CollectionBacklog}}}},
	}}}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	stream, err := r.db.Watch(ctx, mongo.Pipeline{match}, opts)
	if err != nil {
		return fmt.Errorf("failed to open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	r.logger.Info("watching mongodb change stream", zap.String("database", r.db.Name()))
	for stream.Next(ctx) {
		var ev changeEvent
		if err := stream.Decode(&ev); err != nil {
			r.logger.Warn("failed to decode change event", zap.Error(err))
			continue
		}
		op, ok := ev.op()
		if !ok {
			continue
		}
		publisher.Publish(feed.Event{
			Collection:     ev.NS.Coll,
			Op:             op,
			ID:             ev.DocumentKey.ID,
			OrganizationID: ev.FullDocument.OrganizationID,
		})
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("change stream stopped: %w", err)
	}
	return nil
}
