package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	collUsers        = "users"
	collFacilities   = "facilities"
	collApplications = "applications"
)

// Store bundles the typed collections over one database handle.
type Store struct {
	db  *mongo.Database
	log *slog.Logger
}

// Connect dials the database, verifies it with a ping and returns the store
// plus a disconnect func for shutdown.
func Connect(ctx context.Context, uri, database string, log *slog.Logger) (*Store, func(context.Context) error, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client.Database(database), log), client.Disconnect, nil
}

func New(db *mongo.Database, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{db: db, log: log}
}

// Ping verifies the database connection, for health probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

func (s *Store) Users() *UserStore {
	return &UserStore{coll: s.db.Collection(collUsers)}
}

func (s *Store) Facilities() *FacilityStore {
	return &FacilityStore{coll: s.db.Collection(collFacilities)}
}

func (s *Store) Applications() *ApplicationStore {
	return &ApplicationStore{coll: s.db.Collection(collApplications)}
}

// EnsureIndexes creates every index the engine relies on. It runs at
// startup on each replica; creation is idempotent.
//
// The partial unique index on (user_id, facility_id, sport) with
// status=="pending" is what makes application creation idempotent under
// concurrent submits.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(collUsers).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "telegram_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "role", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "last_activity", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure user indexes: %w", classify(err))
	}

	_, err = s.db.Collection(collFacilities).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "active", Value: 1}, {Key: "sort_order", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure facility indexes: %w", classify(err))
	}

	_, err = s.db.Collection(collApplications).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ref", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "facility_id", Value: 1}, {Key: "sport", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: string("pending")}}),
		},
		{
			Keys: bson.D{{Key: "outbox.created_at", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("ensure application indexes: %w", classify(err))
	}

	s.log.Info("storage indexes ensured", "database", s.db.Name())
	return nil
}

// Stats is a point-in-time operational summary used by the CLI.
type Stats struct {
	UsersTotal        int64            `json:"users_total"`
	UsersActive30d    int64            `json:"users_active_30d"`
	UsersBlocked      int64            `json:"users_blocked"`
	Admins            int64            `json:"admins"`
	FacilitiesActive  int64            `json:"facilities_active"`
	ApplicationsTotal int64            `json:"applications_total"`
	ByStatus          map[string]int64 `json:"by_status"`
}

func (s *Store) CollectStats(ctx context.Context, now time.Time) (Stats, error) {
	var out Stats
	users := s.db.Collection(collUsers)

	total, err := users.CountDocuments(ctx, bson.D{})
	if err != nil {
		return out, fmt.Errorf("count users: %w", classify(err))
	}
	active, err := users.CountDocuments(ctx, bson.D{{Key: "last_activity", Value: bson.D{{Key: "$gte", Value: now.AddDate(0, 0, -30)}}}})
	if err != nil {
		return out, fmt.Errorf("count active users: %w", classify(err))
	}
	blocked, err := users.CountDocuments(ctx, bson.D{{Key: "blocked", Value: true}})
	if err != nil {
		return out, fmt.Errorf("count blocked users: %w", classify(err))
	}
	admins, err := users.CountDocuments(ctx, bson.D{{Key: "role", Value: bson.D{{Key: "$in", Value: bson.A{"admin", "super_admin"}}}}})
	if err != nil {
		return out, fmt.Errorf("count admins: %w", classify(err))
	}
	facilities, err := s.db.Collection(collFacilities).CountDocuments(ctx, bson.D{{Key: "active", Value: true}})
	if err != nil {
		return out, fmt.Errorf("count facilities: %w", classify(err))
	}

	byStatus, err := s.Applications().CountByStatus(ctx)
	if err != nil {
		return out, err
	}
	out = Stats{
		UsersTotal:       total,
		UsersActive30d:   active,
		UsersBlocked:     blocked,
		Admins:           admins,
		FacilitiesActive: facilities,
		ByStatus:         make(map[string]int64, len(byStatus)),
	}
	for status, n := range byStatus {
		out.ByStatus[string(status)] = n
		out.ApplicationsTotal += n
	}
	return out, nil
}
