package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mamadbah2/producao/internal/domain/models"
	"github.com/mamadbah2/producao/internal/repository"
)

func (r *MongoDBRepository) GetItem(ctx context.Context, id string) (*models.Item, error) {
	var item models.Item
	if err := r.findOne(ctx, collItems, "item "+id, bson.M{"_id": id}, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *MongoDBRepository) SaveItem(ctx context.Context, item models.Item) error {
	return r.upsert(ctx, collItems, bson.M{"_id": item.ID}, item)
}

// ListLinkedIngredients returns the principal link first, then by id.
func (r *MongoDBRepository) ListLinkedIngredients(ctx context.Context, itemID string) ([]models.LinkedIngredient, error) {
	links := make([]models.LinkedIngredient, 0)
	opts := options.Find().SetSort(bson.D{{Key: "principal", Value: -1}, {Key: "_id", Value: 1}})
	if err := r.findAll(ctx, collLinks, bson.M{"item_id": itemID}, &links, opts); err != nil {
		return nil, err
	}
	return links, nil
}

func (r *MongoDBRepository) SaveLinkedIngredient(ctx context.Context, link models.LinkedIngredient) error {
	return r.upsert(ctx, collLinks, bson.M{"_id": link.ID}, link)
}

func (r *MongoDBRepository) GetIngredient(ctx context.Context, id string) (*models.Ingredient, error) {
	var ing models.Ingredient
	if err := r.findOne(ctx, collIngredients, "ingredient "+id, bson.M{"_id": id}, &ing); err != nil {
		return nil, err
	}
	return &ing, nil
}

func (r *MongoDBRepository) SaveIngredient(ctx context.Context, ing models.Ingredient) error {
	return r.upsert(ctx, collIngredients, bson.M{"_id": ing.ID}, ing)
}

// AdjustStock applies delta with a single $inc and derives the after value
// from the document as it was before the increment.
func (r *MongoDBRepository) AdjustStock(ctx context.Context, ingredientID string, delta decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	var before models.Ingredient
	err := r.db.Collection(collIngredients).FindOneAndUpdate(ctx,
		bson.M{"_id": ingredientID},
		bson.M{"$inc": bson.M{"stock": delta}},
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return decimal.Zero, decimal.Zero, fmt.Errorf("ingredient %s: %w", ingredientID, repository.ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to adjust stock of %s: %w", ingredientID, err)
	}
	return before.Stock, before.Stock.Add(delta), nil
}

func (r *MongoDBRepository) AppendMovement(ctx context.Context, mv models.StockMovement) error {
	return r.insert(ctx, collMovements, mv)
}

func (r *MongoDBRepository) ListMovements(ctx context.Context, filter repository.MovementFilter) ([]models.StockMovement, error) {
	q := bson.M{}
	if filter.OrganizationID != "" {
		q["organization_id"] = filter.OrganizationID
	}
	if filter.IngredientID != "" {
		q["ingredient_id"] = filter.IngredientID
	}
	if filter.RecordID != "" {
		q["record_id"] = filter.RecordID
	}

	movements := make([]models.StockMovement, 0)
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if err := r.findAll(ctx, collMovements, q, &movements, opts); err != nil {
		return nil, err
	}
	return movements, nil
}
