package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"fok-catalog/go-backend/internal/authz"
	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/internal/storage"
	"fok-catalog/go-backend/pkg/models"
)

var (
	ErrUnregistered      = errors.New("lifecycle: registration is not completed")
	ErrBlocked           = errors.New("lifecycle: user is blocked")
	ErrInvalidTransition = errors.New("lifecycle: status transition is not allowed")
	ErrConflict          = errors.New("lifecycle: a concurrent transition won the version race")
	ErrFacilityClosed    = errors.New("lifecycle: facility does not accept applications")
	ErrSportNotOffered   = errors.New("lifecycle: facility does not offer this sport")
)

// casAttempts bounds the read-validate-write loop. Contention is two admins
// pressing the same button within milliseconds; one retry nearly always
// resolves it and three keeps the worst case short.
const casAttempts = 3

const timestampLayout = "02.01.2006 15:04"

// UserStore is the slice of the user repository the service needs.
type UserStore interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (models.User, error)
	IncTotalApplications(ctx context.Context, telegramID int64) error
}

type FacilityStore interface {
	FindByID(ctx context.Context, id string) (models.Facility, error)
	IncTotalApplications(ctx context.Context, id string) error
}

type ApplicationStore interface {
	Insert(ctx context.Context, app models.Application) (models.Application, error)
	FindByID(ctx context.Context, id string) (models.Application, error)
	FindByRef(ctx context.Context, ref string) (models.Application, error)
	FindPending(ctx context.Context, userID, facilityID, sport string) (models.Application, error)
	CASTransition(ctx context.Context, id string, expectedVersion int64, change models.StatusChange, outbox []models.Notification) (models.Application, error)
	ListByUser(ctx context.Context, userID string, page, limit int64) ([]models.Application, error)
	ListByStatus(ctx context.Context, status models.ApplicationStatus, page, limit int64) ([]models.Application, error)
	CountByStatus(ctx context.Context) (map[models.ApplicationStatus]int64, error)
}

// RoleResolver answers the effective role of an actor.
type RoleResolver interface {
	RoleOf(ctx context.Context, telegramID int64) (models.Role, error)
}

// OutboxDrain publishes an application's queued notifications to the broker
// and removes the published entries. Flush failures are tolerated here; the
// sweeper re-drains stale outboxes.
type OutboxDrain interface {
	Flush(ctx context.Context, app models.Application) error
}

type Deps struct {
	Users      UserStore
	Facilities FacilityStore
	Apps       ApplicationStore
	Roles      RoleResolver
	Drain      OutboxDrain // optional; nil leaves draining to the sweeper
	PageSize   int
	Log        *slog.Logger
}

// Service owns every write to the application collection. Creation is
// idempotent per open (user, facility, sport) triple; transitions go through
// compare-and-swap on the document version. Notifications ride inside the
// same document write and are drained afterwards.
type Service struct {
	users      UserStore
	facilities FacilityStore
	apps       ApplicationStore
	roles      RoleResolver
	drain      OutboxDrain
	pageSize   int64
	log        *slog.Logger

	newID func() string
	now   func() time.Time
}

func NewService(d Deps) *Service {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.PageSize <= 0 {
		d.PageSize = 10
	}
	return &Service{
		users:      d.Users,
		facilities: d.Facilities,
		apps:       d.Apps,
		roles:      d.Roles,
		drain:      d.Drain,
		pageSize:   int64(d.PageSize),
		log:        d.Log,
		newID:      func() string { return primitive.NewObjectID().Hex() },
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type CreateParams struct {
	TelegramID int64
	FacilityID string
	Sport      string
}

// Create submits a new application. A registered, non-blocked user gets at
// most one pending application per (facility, sport); a duplicate submit
// returns the open one unchanged, which also absorbs replayed webhook
// deliveries. The admin notification is queued in the inserted document
// itself, so a crash after the insert can delay it but not lose it.
func (s *Service) Create(ctx context.Context, p CreateParams) (models.Application, error) {
	user, err := s.users.FindByTelegramID(ctx, p.TelegramID)
	if err != nil {
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}
	if !user.Registered() {
		return models.Application{}, fmt.Errorf("user %d: %w", p.TelegramID, ErrUnregistered)
	}
	if user.Blocked {
		return models.Application{}, fmt.Errorf("user %d: %w", p.TelegramID, ErrBlocked)
	}

	facility, err := s.facilities.FindByID(ctx, p.FacilityID)
	if err != nil {
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}
	if !facility.Active {
		return models.Application{}, fmt.Errorf("facility %s: %w", facility.ID, ErrFacilityClosed)
	}
	sport, ok := facility.CanonicalSport(p.Sport)
	if !ok {
		return models.Application{}, fmt.Errorf("facility %s, sport %q: %w", facility.ID, p.Sport, ErrSportNotOffered)
	}

	if existing, err := s.apps.FindPending(ctx, user.ID, facility.ID, sport); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}

	now := s.now()
	id := s.newID()
	app := models.Application{
		ID:               id,
		Ref:              RefFromID(id),
		UserID:           user.ID,
		UserTelegramID:   user.TelegramID,
		UserName:         user.DisplayName,
		UserPhone:        user.Phone,
		FacilityID:       facility.ID,
		FacilityName:     facility.Name,
		FacilityDistrict: facility.District,
		Sport:            sport,
		Status:           models.StatusPending,
		Version:          1,
		StatusHistory: []models.StatusChange{
			{Status: models.StatusPending, Actor: user.TelegramID, At: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	app.Outbox = []models.Notification{s.createdNotification(app, now)}

	created, err := s.apps.Insert(ctx, app)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			// Lost the insert race to a concurrent submit of the same
			// triple; the winner's document is the application.
			if existing, ferr := s.apps.FindPending(ctx, user.ID, facility.ID, sport); ferr == nil {
				return existing, nil
			}
			return models.Application{}, fmt.Errorf("create application: %w", err)
		}
		return models.Application{}, fmt.Errorf("create application: %w", err)
	}

	// Counter denormalizations are display-only; their failure must not
	// undo an accepted application.
	if err := s.users.IncTotalApplications(ctx, user.TelegramID); err != nil {
		s.log.Warn("user application counter not bumped", "telegram_id", user.TelegramID, "error", err.Error())
	}
	if err := s.facilities.IncTotalApplications(ctx, facility.ID); err != nil {
		s.log.Warn("facility application counter not bumped", "facility_id", facility.ID, "error", err.Error())
	}

	metrics.ApplicationsSubmittedTotal.WithLabelValues(sport).Inc()
	s.log.Info("application created",
		"ref", created.Ref, "facility_id", facility.ID, "sport", sport, "telegram_id", user.TelegramID)
	s.flush(ctx, created)
	return created, nil
}

type TransitionParams struct {
	ApplicationID string
	Target        models.ApplicationStatus
	ActorID       int64
	// ExpectedVersion > 0 pins the transition to the version the caller
	// displayed; a mismatch fails immediately with ErrConflict. Zero lets
	// the service retry the read-validate-write loop.
	ExpectedVersion int64
}

// Transition moves an application along the status graph. The role gate and
// the edge check run against the freshly read document on every attempt, so
// a loser of the version race re-evaluates against the winner's state
// instead of blindly re-applying its stale intent.
func (s *Service) Transition(ctx context.Context, p TransitionParams) (models.Application, error) {
	role, err := s.roles.RoleOf(ctx, p.ActorID)
	if err != nil {
		return models.Application{}, fmt.Errorf("transition application: %w", err)
	}

	attempts := casAttempts
	if p.ExpectedVersion > 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		app, err := s.apps.FindByID(ctx, p.ApplicationID)
		if err != nil {
			return models.Application{}, fmt.Errorf("transition application: %w", err)
		}
		if p.ExpectedVersion > 0 && app.Version != p.ExpectedVersion {
			metrics.TransitionConflictsTotal.Inc()
			return models.Application{}, fmt.Errorf(
				"application %s moved from version %d to %d: %w",
				app.ID, p.ExpectedVersion, app.Version, ErrConflict)
		}

		decision := authz.EvaluateTransitionPolicy(authz.TransitionPolicyInput{
			Role:    role,
			IsOwner: app.UserTelegramID == p.ActorID,
			From:    app.Status,
			To:      p.Target,
		})
		if !decision.Allowed {
			return models.Application{}, fmt.Errorf(
				"actor %d may not move %s from %s to %s (%s): %w",
				p.ActorID, app.Ref, app.Status, p.Target, decision.Reason, authz.ErrForbidden)
		}
		if !CanTransition(app.Status, p.Target) {
			return models.Application{}, fmt.Errorf(
				"application %s: %s -> %s: %w", app.Ref, app.Status, p.Target, ErrInvalidTransition)
		}

		change := models.StatusChange{Status: p.Target, Actor: p.ActorID, At: s.now()}
		updated, err := s.apps.CASTransition(ctx, app.ID, app.Version, change, s.transitionOutbox(app, change))
		if err == nil {
			metrics.TransitionsTotal.WithLabelValues(string(p.Target)).Inc()
			s.log.Info("application transitioned",
				"ref", updated.Ref, "from", string(app.Status), "to", string(p.Target),
				"version", updated.Version, "actor_id", p.ActorID)
			s.flush(ctx, updated)
			return updated, nil
		}
		if !errors.Is(err, storage.ErrVersionConflict) {
			return models.Application{}, fmt.Errorf("transition application: %w", err)
		}
		metrics.TransitionConflictsTotal.Inc()
	}

	return models.Application{}, fmt.Errorf(
		"transition application %s to %s gave up after %d attempts: %w",
		p.ApplicationID, p.Target, attempts, ErrConflict)
}

func (s *Service) Get(ctx context.Context, id string) (models.Application, error) {
	return s.apps.FindByID(ctx, id)
}

func (s *Service) GetByRef(ctx context.Context, ref string) (models.Application, error) {
	return s.apps.FindByRef(ctx, NormalizeRef(ref))
}

func (s *Service) ListByUser(ctx context.Context, userID string, page int64) ([]models.Application, error) {
	return s.apps.ListByUser(ctx, userID, page, s.pageSize)
}

func (s *Service) ListByStatus(ctx context.Context, status models.ApplicationStatus, page int64) ([]models.Application, error) {
	return s.apps.ListByStatus(ctx, status, page, s.pageSize)
}

func (s *Service) CountByStatus(ctx context.Context) (map[models.ApplicationStatus]int64, error) {
	return s.apps.CountByStatus(ctx)
}

// createdNotification is the admin-channel alert queued with a new
// application.
func (s *Service) createdNotification(app models.Application, now time.Time) models.Notification {
	return models.Notification{
		ID:             uuid.NewString(),
		Kind:           models.NotifyApplicationCreated,
		AdminBroadcast: true,
		Params: map[string]string{
			"ref":        app.Ref,
			"user_name":  app.UserName,
			"user_phone": app.UserPhone,
			"facility":   app.FacilityName,
			"district":   app.FacilityDistrict,
			"sport":      app.Sport,
		},
		CreatedAt: now,
	}
}

// transitionOutbox builds the notifications that ride in the CAS write: the
// owner always hears about the status change, and admins additionally hear
// when the owner withdrew the application themselves.
func (s *Service) transitionOutbox(app models.Application, change models.StatusChange) []models.Notification {
	out := []models.Notification{{
		ID:              uuid.NewString(),
		Kind:            models.NotifyApplicationStatus,
		RecipientChatID: app.UserTelegramID,
		Params: map[string]string{
			"ref":        app.Ref,
			"status":     string(change.Status),
			"facility":   app.FacilityName,
			"district":   app.FacilityDistrict,
			"sport":      app.Sport,
			"created_at": app.CreatedAt.Format(timestampLayout),
		},
		CreatedAt: change.At,
	}}
	if change.Status == models.StatusCancelled && change.Actor == app.UserTelegramID {
		out = append(out, models.Notification{
			ID:             uuid.NewString(),
			Kind:           models.NotifyApplicationCancelled,
			AdminBroadcast: true,
			Params: map[string]string{
				"ref":       app.Ref,
				"user_name": app.UserName,
				"facility":  app.FacilityName,
				"district":  app.FacilityDistrict,
			},
			CreatedAt: change.At,
		})
	}
	return out
}

func (s *Service) flush(ctx context.Context, app models.Application) {
	if s.drain == nil {
		return
	}
	if err := s.drain.Flush(ctx, app); err != nil {
		metrics.ErrorsTotal.WithLabelValues("lifecycle").Inc()
		s.log.Warn("outbox flush deferred to sweeper", "ref", app.Ref, "error", err.Error())
	}
}
