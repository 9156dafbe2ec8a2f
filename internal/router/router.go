package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"fok-catalog/go-backend/internal/authz"
	"fok-catalog/go-backend/internal/lifecycle"
	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/internal/platform/ratelimiter"
	"fok-catalog/go-backend/internal/storage"
	"fok-catalog/go-backend/pkg/models"
)

// UserSource upserts the sender on first contact and refreshes profile
// fields on every event.
type UserSource interface {
	GetOrCreate(ctx context.Context, ev models.Event) (models.User, bool, error)
}

// Limiter admits or throttles one inbound event. A nil *WindowLimiter
// satisfies it and admits everything.
type Limiter interface {
	Admit(ctx context.Context, telegramID int64) ratelimiter.Decision
}

// DialogEngine is the conversation side: multi-step registration and
// application submission.
type DialogEngine interface {
	BeginRegistration(ctx context.Context, user models.User, chatID int64) error
	BeginApplication(ctx context.Context, user models.User, chatID int64) error
	HandleActive(ctx context.Context, user models.User, ev models.Event) (bool, error)
	Abort(ctx context.Context, telegramID int64) error
}

// ApplicationService is the lifecycle side: reads and status transitions.
type ApplicationService interface {
	GetByRef(ctx context.Context, ref string) (models.Application, error)
	Transition(ctx context.Context, p lifecycle.TransitionParams) (models.Application, error)
	ListByUser(ctx context.Context, userID string, page int64) ([]models.Application, error)
	ListByStatus(ctx context.Context, status models.ApplicationStatus, page int64) ([]models.Application, error)
	CountByStatus(ctx context.Context) (map[models.ApplicationStatus]int64, error)
}

// RoleResolver answers the effective role, config super admins included.
type RoleResolver interface {
	RoleOf(ctx context.Context, telegramID int64) (models.Role, error)
}

// Moderation covers the admin-issued user management commands.
type Moderation interface {
	GrantAdmin(ctx context.Context, actorID, targetID int64) error
	RevokeAdmin(ctx context.Context, actorID, targetID int64) error
	Block(ctx context.Context, actorID, targetID int64) error
	Unblock(ctx context.Context, actorID, targetID int64) error
}

// Enqueuer hands outbound messages to the dispatcher. The router never
// talks to the messaging platform directly.
type Enqueuer interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

type Deps struct {
	Users   UserSource
	Limiter Limiter
	Engine  DialogEngine
	Apps    ApplicationService
	Roles   RoleResolver
	Mod     Moderation
	Notify  Enqueuer
	Log     *slog.Logger
}

// Router is the single entry point for inbound events. It throttles,
// upserts the sender, then routes: slash commands first, then the active
// dialog session, then a fallback hint. Commands preempt dialogs so a user
// stuck mid-flow can always type /start.
type Router struct {
	users   UserSource
	limiter Limiter
	engine  DialogEngine
	apps    ApplicationService
	roles   RoleResolver
	mod     Moderation
	notify  Enqueuer
	log     *slog.Logger

	now func() time.Time
}

func New(d Deps) *Router {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	return &Router{
		users:   d.Users,
		limiter: d.Limiter,
		engine:  d.Engine,
		apps:    d.Apps,
		roles:   d.Roles,
		mod:     d.Mod,
		notify:  d.Notify,
		log:     d.Log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleEvent processes one inbound event end to end. The returned error is
// for the transport's log; every user-visible outcome, including failures,
// is delivered as an enqueued message.
func (r *Router) HandleEvent(ctx context.Context, ev models.Event) error {
	start := r.now()
	defer func() {
		metrics.HandleSeconds.Observe(r.now().Sub(start).Seconds())
	}()
	metrics.UpdatesTotal.WithLabelValues(eventKind(ev)).Inc()

	decision := r.limiter.Admit(ctx, ev.TelegramID)
	if decision.Throttled {
		if decision.FirstThrottle {
			// One notice per window; the rest of the burst is dropped
			// silently so a flood cannot amplify outbound traffic.
			return r.enqueue(ctx, models.Notification{
				Kind:            models.NotifyCooldown,
				RecipientChatID: ev.ChatID,
			})
		}
		return nil
	}

	user, created, err := r.users.GetOrCreate(ctx, ev)
	if err != nil {
		r.log.Error("user upsert failed", "telegram_id", ev.TelegramID, "error", err.Error())
		if rerr := r.reply(ctx, ev.ChatID, textTryLater); rerr != nil {
			return rerr
		}
		return fmt.Errorf("handle event: %w", err)
	}
	if created {
		r.log.Info("new user", "telegram_id", user.TelegramID)
	}

	if cmd, args := ev.Command(); cmd != "" {
		return r.handleCommand(ctx, user, ev, cmd, args)
	}

	handled, err := r.engine.HandleActive(ctx, user, ev)
	if err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	if handled {
		return nil
	}
	return r.reply(ctx, ev.ChatID, textUnknownInput)
}

func eventKind(ev models.Event) string {
	switch {
	case ev.HasContact():
		return "contact"
	default:
		if cmd, _ := ev.Command(); cmd != "" {
			return "command"
		}
		return "text"
	}
}

// reply enqueues a plain text message to the chat.
func (r *Router) reply(ctx context.Context, chatID int64, text string) error {
	return r.enqueue(ctx, models.Notification{
		Kind:            models.NotifyPrompt,
		RecipientChatID: chatID,
		Params:          map[string]string{"text": text},
	})
}

func (r *Router) enqueue(ctx context.Context, n models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.now()
	}
	if err := r.notify.Enqueue(ctx, n); err != nil {
		metrics.ErrorsTotal.WithLabelValues("router").Inc()
		return fmt.Errorf("enqueue reply: %w", err)
	}
	return nil
}

// replyError translates a service failure into a user-facing message. The
// original error still reaches the transport log through the return value
// when it is not one of the expected outcomes.
func (r *Router) replyError(ctx context.Context, chatID int64, err error) error {
	text, expected := errorText(err)
	if rerr := r.reply(ctx, chatID, text); rerr != nil {
		return rerr
	}
	if expected {
		return nil
	}
	return err
}

func errorText(err error) (text string, expected bool) {
	switch {
	case errors.Is(err, lifecycle.ErrUnregistered):
		return textNeedRegistration, true
	case errors.Is(err, lifecycle.ErrBlocked):
		return textBlocked, true
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return textAlreadyProcessed, true
	case errors.Is(err, lifecycle.ErrConflict):
		return textConflict, true
	case errors.Is(err, lifecycle.ErrFacilityClosed):
		return textFacilityClosed, true
	case errors.Is(err, lifecycle.ErrSportNotOffered):
		return textSportNotOffered, true
	case errors.Is(err, authz.ErrForbidden):
		return textForbidden, true
	case errors.Is(err, authz.ErrTargetNotRegistered):
		return textTargetNotReady, true
	case errors.Is(err, storage.ErrNotFound):
		return textNotFound, true
	default:
		return textTryLater, false
	}
}
