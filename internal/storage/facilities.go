package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fok-catalog/go-backend/pkg/models"
)

type FacilityStore struct {
	coll *mongo.Collection
}

// Upsert writes the facility keyed by name. Used by seeding; runtime code
// only reads facilities.
func (s *FacilityStore) Upsert(ctx context.Context, f models.Facility) (string, error) {
	now := time.Now().UTC()
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "district", Value: f.District},
			{Key: "address", Value: f.Address},
			{Key: "sports", Value: f.Sports},
			{Key: "active", Value: f.Active},
			{Key: "sort_order", Value: f.SortOrder},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "_id", Value: primitive.NewObjectID().Hex()},
			{Key: "total_applications", Value: 0},
			{Key: "created_at", Value: now},
		}},
	}

	var updated models.Facility
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "name", Value: f.Name}},
		update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		return "", fmt.Errorf("upsert facility %q: %w", f.Name, classify(err))
	}
	return updated.ID, nil
}

func (s *FacilityStore) FindByID(ctx context.Context, id string) (models.Facility, error) {
	var f models.Facility
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&f)
	if err != nil {
		return models.Facility{}, fmt.Errorf("find facility %s: %w", id, classify(err))
	}
	return f, nil
}

// ListActive returns active facilities in catalog order.
func (s *FacilityStore) ListActive(ctx context.Context) ([]models.Facility, error) {
	cur, err := s.coll.Find(ctx,
		bson.D{{Key: "active", Value: true}},
		options.Find().SetSort(bson.D{{Key: "sort_order", Value: 1}, {Key: "name", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", classify(err))
	}
	defer cur.Close(ctx)

	var out []models.Facility
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode facilities: %w", classify(err))
	}
	return out, nil
}

func (s *FacilityStore) IncTotalApplications(ctx context.Context, id string) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "total_applications", Value: 1}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("inc facility applications: %w", classify(err))
	}
	return nil
}
