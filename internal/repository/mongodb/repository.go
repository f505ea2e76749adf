package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mamadbah2/producao/internal/config"
	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/feed"
	"github.com/mamadbah2/producao/internal/repository"
)

const (
	collItems         = "items"
	collLinks         = "linked_ingredients"
	collIngredients   = "ingredients"
	collMovements     = "stock_movements"
	collLosses        = "losses"
	collCancellations = "cancellations"
	collSplits        = "splits"
	collConsumption   = "consumption"
	collFinished      = "finished_goods"
)

// MongoDBRepository implements repository.Store on MongoDB.
type MongoDBRepository struct {
	client *mongo.Client
	db     *mongo.Database
	events feed.Publisher
	logger *zap.Logger
	now    func() time.Time
}

var _ repository.Store = (*MongoDBRepository)(nil)

// NewMongoDBRepository connects, verifies the connection and ensures the
// indexes the guards rely on.
func NewMongoDBRepository(ctx context.Context, cfg config.StoreConfig, events feed.Publisher, logger *zap.Logger) (*MongoDBRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	clientOptions := options.Client().ApplyURI(cfg.MongoURI).SetRegistry(newRegistry())
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	r := &MongoDBRepository{
		client: client,
		db:     client.Database(cfg.MongoDB),
		events: events,
		logger: logger,
		now:    time.Now,
	}
	if err := r.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return r, nil
}

func (r *MongoDBRepository) ensureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		feed.CollectionRecords: {
			{
				// One running preparation timer per lot.
				Keys: bson.D{{Key: "lot_id", Value: 1}},
				Options: options.Index().
					SetName("lot_running_timer").
					SetUnique(true).
					SetPartialFilterExpression(bson.D{
						{Key: "lot_id", Value: bson.D{{Key: "$exists", Value: true}}},
						{Key: "timer_status", Value: string(models.TimerRunning)},
					}),
			},
			{Keys: bson.D{{Key: "organization_id", Value: 1}, {Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "lot_id", Value: 1}, {Key: "batch_sequence", Value: 1}}},
		},
		collLinks:       {{Keys: bson.D{{Key: "item_id", Value: 1}}}},
		collMovements:   {{Keys: bson.D{{Key: "record_id", Value: 1}}}, {Keys: bson.D{{Key: "ingredient_id", Value: 1}}}},
		collConsumption: {{Keys: bson.D{{Key: "record_id", Value: 1}}}},
	}

	for coll, specs := range indexes {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

func (r *MongoDBRepository) publish(collection string, op feed.Op, id, org string) {
	if r.events == nil {
		return
	}
	r.events.Publish(feed.Event{Collection: collection, Op: op, ID: id, OrganizationID: org, At: r.now().UTC()})
}

// findAll runs a query and decodes every document into out.
func (r *MongoDBRepository) findAll(ctx context.Context, coll string, filter any, out any, opts ...*options.FindOptions) error {
	cursor, err := r.db.Collection(coll).Find(ctx, filter, opts...)
	if err != nil {
		return fmt.Errorf("failed to query %s: %w", coll, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", coll, err)
	}
	return nil
}

// findOne decodes one document, mapping a miss to repository.ErrNotFound.
func (r *MongoDBRepository) findOne(ctx context.Context, coll, what string, filter, out any) error {
	err := r.db.Collection(coll).FindOne(ctx, filter).Decode(out)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, repository.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", what, err)
	}
	return nil
}

func (r *MongoDBRepository) insert(ctx context.Context, coll string, doc any) error {
	if _, err := r.db.Collection(coll).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", coll, err)
	}
	return nil
}

func (r *MongoDBRepository) upsert(ctx context.Context, coll string, filter, doc any) error {
	_, err := r.db.Collection(coll).ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save into %s: %w", coll, err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
