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

type UserStore struct {
	coll *mongo.Collection
}

// GetOrCreate upserts the user keyed by Telegram ID and refreshes the
// profile fields plus last activity. created reports whether this call made
// the document; concurrent upserts for the same ID converge on one document
// through the unique index.
func (s *UserStore) GetOrCreate(ctx context.Context, ev models.Event) (models.User, bool, error) {
	now := ev.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	filter := bson.D{{Key: "telegram_id", Value: ev.TelegramID}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "username", Value: ev.Username},
			{Key: "first_name", Value: ev.FirstName},
			{Key: "last_name", Value: ev.LastName},
			{Key: "last_activity", Value: now},
			{Key: "updated_at", Value: now},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "_id", Value: primitive.NewObjectID().Hex()},
			{Key: "role", Value: string(models.RoleNone)},
			{Key: "registration_state", Value: string(models.RegistrationStarted)},
			{Key: "blocked", Value: false},
			{Key: "total_applications", Value: 0},
			{Key: "created_at", Value: now},
		}},
	}

	var before models.User
	err := s.coll.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			created, ferr := s.FindByTelegramID(ctx, ev.TelegramID)
			if ferr != nil {
				return models.User{}, false, fmt.Errorf("load created user: %w", ferr)
			}
			return created, true, nil
		}
		return models.User{}, false, fmt.Errorf("upsert user: %w", classify(err))
	}

	after := before
	after.Username = ev.Username
	after.FirstName = ev.FirstName
	after.LastName = ev.LastName
	after.LastActivity = now
	after.UpdatedAt = now
	return after, false, nil
}

func (s *UserStore) FindByTelegramID(ctx context.Context, telegramID int64) (models.User, error) {
	var u models.User
	err := s.coll.FindOne(ctx, bson.D{{Key: "telegram_id", Value: telegramID}}).Decode(&u)
	if err != nil {
		return models.User{}, fmt.Errorf("find user %d: %w", telegramID, classify(err))
	}
	return u, nil
}

// UserPatch sets only the non-nil fields.
type UserPatch struct {
	DisplayName       *string
	Phone             *string
	RegistrationState *models.RegistrationState
	Role              *models.Role
	Blocked           *bool
}

// Patch applies the non-nil fields and returns the updated document.
func (s *UserStore) Patch(ctx context.Context, telegramID int64, patch UserPatch) (models.User, error) {
	set := bson.D{{Key: "updated_at", Value: time.Now().UTC()}}
	if patch.DisplayName != nil {
		set = append(set, bson.E{Key: "display_name", Value: *patch.DisplayName})
	}
	if patch.Phone != nil {
		set = append(set, bson.E{Key: "phone", Value: *patch.Phone})
	}
	if patch.RegistrationState != nil {
		set = append(set, bson.E{Key: "registration_state", Value: string(*patch.RegistrationState)})
	}
	if patch.Role != nil {
		set = append(set, bson.E{Key: "role", Value: string(*patch.Role)})
	}
	if patch.Blocked != nil {
		set = append(set, bson.E{Key: "blocked", Value: *patch.Blocked})
	}

	var u models.User
	err := s.coll.FindOneAndUpdate(ctx,
		bson.D{{Key: "telegram_id", Value: telegramID}},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&u)
	if err != nil {
		return models.User{}, fmt.Errorf("patch user %d: %w", telegramID, classify(err))
	}
	return u, nil
}

func (s *UserStore) SetRole(ctx context.Context, telegramID int64, role models.Role) error {
	_, err := s.Patch(ctx, telegramID, UserPatch{Role: &role})
	return err
}

func (s *UserStore) SetBlocked(ctx context.Context, telegramID int64, blocked bool) error {
	_, err := s.Patch(ctx, telegramID, UserPatch{Blocked: &blocked})
	return err
}

func (s *UserStore) IncTotalApplications(ctx context.Context, telegramID int64) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.D{{Key: "telegram_id", Value: telegramID}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "total_applications", Value: 1}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		},
	)
	if err != nil {
		return fmt.Errorf("inc user applications: %w", classify(err))
	}
	return nil
}

func (s *UserStore) ListAdmins(ctx context.Context) ([]models.User, error) {
	cur, err := s.coll.Find(ctx,
		bson.D{{Key: "role", Value: bson.D{{Key: "$in", Value: bson.A{string(models.RoleAdmin), string(models.RoleSuperAdmin)}}}}},
		options.Find().SetSort(bson.D{{Key: "telegram_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", classify(err))
	}
	defer cur.Close(ctx)

	var out []models.User
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode admins: %w", classify(err))
	}
	return out, nil
}
