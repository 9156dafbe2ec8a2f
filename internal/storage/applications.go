package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fok-catalog/go-backend/pkg/models"
)

type ApplicationStore struct {
	coll *mongo.Collection
}

// Insert writes a new application. ErrDuplicate fires both for a second
// pending application of the same (user, facility, sport) and for a ref
// collision; callers disambiguate by looking up the pending document.
func (s *ApplicationStore) Insert(ctx context.Context, app models.Application) (models.Application, error) {
	if app.ID == "" {
		app.ID = primitive.NewObjectID().Hex()
	}
	if _, err := s.coll.InsertOne(ctx, app); err != nil {
		return models.Application{}, fmt.Errorf("insert application: %w", classify(err))
	}
	return app, nil
}

func (s *ApplicationStore) FindByID(ctx context.Context, id string) (models.Application, error) {
	var app models.Application
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&app)
	if err != nil {
		return models.Application{}, fmt.Errorf("find application %s: %w", id, classify(err))
	}
	return app, nil
}

func (s *ApplicationStore) FindByRef(ctx context.Context, ref string) (models.Application, error) {
	var app models.Application
	err := s.coll.FindOne(ctx, bson.D{{Key: "ref", Value: ref}}).Decode(&app)
	if err != nil {
		return models.Application{}, fmt.Errorf("find application ref %s: %w", ref, classify(err))
	}
	return app, nil
}

// FindPending returns the open application for the (user, facility, sport)
// triple, the one the partial unique index guards.
func (s *ApplicationStore) FindPending(ctx context.Context, userID, facilityID, sport string) (models.Application, error) {
	var app models.Application
	err := s.coll.FindOne(ctx, bson.D{
		{Key: "user_id", Value: userID},
		{Key: "facility_id", Value: facilityID},
		{Key: "sport", Value: sport},
		{Key: "status", Value: string(models.StatusPending)},
	}).Decode(&app)
	if err != nil {
		return models.Application{}, fmt.Errorf("find pending application: %w", classify(err))
	}
	return app, nil
}

// ListByUser returns the user's applications newest first, one page at a
// time.
func (s *ApplicationStore) ListByUser(ctx context.Context, userID string, page, limit int64) ([]models.Application, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
		if page > 0 {
			opts = opts.SetSkip(page * limit)
		}
	}
	cur, err := s.coll.Find(ctx, bson.D{{Key: "user_id", Value: userID}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list user applications: %w", classify(err))
	}
	defer cur.Close(ctx)

	var out []models.Application
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode user applications: %w", classify(err))
	}
	return out, nil
}

// ListByStatus returns applications oldest first, the order admins work
// the queue in.
func (s *ApplicationStore) ListByStatus(ctx context.Context, status models.ApplicationStatus, page, limit int64) ([]models.Application, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
		if page > 0 {
			opts = opts.SetSkip(page * limit)
		}
	}
	cur, err := s.coll.Find(ctx, bson.D{{Key: "status", Value: string(status)}}, opts)
	if err != nil {
		return nil, fmt.Errorf("list applications by status: %w", classify(err))
	}
	defer cur.Close(ctx)

	var out []models.Application
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode applications by status: %w", classify(err))
	}
	return out, nil
}

func (s *ApplicationStore) CountByStatus(ctx context.Context) (map[models.ApplicationStatus]int64, error) {
	cur, err := s.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "n", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	})
	if err != nil {
		return nil, fmt.Errorf("count applications: %w", classify(err))
	}
	defer cur.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		N      int64  `bson:"n"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode application counts: %w", classify(err))
	}
	out := make(map[models.ApplicationStatus]int64, len(rows))
	for _, row := range rows {
		out[models.ApplicationStatus(row.Status)] = row.N
	}
	return out, nil
}

// CASTransition applies one status change if and only if the stored version
// still equals expectedVersion. The status write, version bump, history
// entry and queued notifications land in a single document update, so a
// losing writer observes ErrVersionConflict and nothing else happens.
func (s *ApplicationStore) CASTransition(ctx context.Context, id string, expectedVersion int64, change models.StatusChange, outbox []models.Notification) (models.Application, error) {
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(change.Status)},
			{Key: "updated_at", Value: change.At},
		}},
		{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}},
		{Key: "$push", Value: bson.D{{Key: "status_history", Value: change}}},
	}
	if len(outbox) > 0 {
		update = append(update, bson.E{Key: "$push", Value: bson.D{
			{Key: "outbox", Value: bson.D{{Key: "$each", Value: outbox}}},
		}})
	}

	var app models.Application
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "version", Value: expectedVersion}},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&app)
	if err == nil {
		return app, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.Application{}, fmt.Errorf("transition application %s: %w", id, classify(err))
	}
	if _, ferr := s.FindByID(ctx, id); ferr != nil {
		return models.Application{}, ferr
	}
	return models.Application{}, fmt.Errorf("transition application %s at version %d: %w", id, expectedVersion, ErrVersionConflict)
}

// PullOutbox removes published notifications from the document.
func (s *ApplicationStore) PullOutbox(ctx context.Context, id string, notificationIDs []string) error {
	if len(notificationIDs) == 0 {
		return nil
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$pull", Value: bson.D{
			{Key: "outbox", Value: bson.D{{Key: "id", Value: bson.D{{Key: "$in", Value: notificationIDs}}}}},
		}}},
	)
	if err != nil {
		return fmt.Errorf("pull outbox %s: %w", id, classify(err))
	}
	return nil
}

// ListStaleOutbox finds applications still carrying queued notifications
// older than the cutoff. These are the ones whose publish step died between
// the document write and the broker confirm.
func (s *ApplicationStore) ListStaleOutbox(ctx context.Context, olderThan time.Time, limit int64) ([]models.Application, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts = opts.SetLimit(limit)
	}
	cur, err := s.coll.Find(ctx, bson.D{
		{Key: "outbox", Value: bson.D{{Key: "$elemMatch", Value: bson.D{
			{Key: "created_at", Value: bson.D{{Key: "$lt", Value: olderThan}}},
		}}}},
	}, opts)
	if err != nil {
		return nil, fmt.Errorf("list stale outbox: %w", classify(err))
	}
	defer cur.Close(ctx)

	var out []models.Application
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode stale outbox: %w", classify(err))
	}
	return out, nil
}
