package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fok-catalog/go-backend/internal/lifecycle"
	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/internal/storage"
	"fok-catalog/go-backend/pkg/models"
)

// scratch keys collected across dialog steps.
const (
	scratchName       = "name"
	scratchFacilities = "facilities"
	scratchFacilityID = "facility_id"
)

const minNameRunes = 2

// SessionStore is the shared-cache session port. Sessions must live in
// shared storage because consecutive messages of one dialog may land on
// different replicas.
type SessionStore interface {
	Load(ctx context.Context, telegramID int64) (models.ConversationSession, bool, error)
	Save(ctx context.Context, sess models.ConversationSession) error
	Delete(ctx context.Context, telegramID int64) error
}

// UserWriter applies registration results to the user document.
type UserWriter interface {
	Patch(ctx context.Context, telegramID int64, patch storage.UserPatch) (models.User, error)
}

type FacilityCatalog interface {
	ListActive(ctx context.Context) ([]models.Facility, error)
	FindByID(ctx context.Context, id string) (models.Facility, error)
}

type ApplicationCreator interface {
	Create(ctx context.Context, p lifecycle.CreateParams) (models.Application, error)
}

// Enqueuer hands a notification to the dispatcher.
type Enqueuer interface {
	Enqueue(ctx context.Context, n models.Notification) error
}

// Engine drives the multi-step dialogs: registration and application
// submission. Each inbound event either advances the session one step or
// re-prompts without advancing; durable facts are only ever written to the
// user document at flow completion.
type Engine struct {
	sessions SessionStore
	users    UserWriter
	catalog  FacilityCatalog
	creator  ApplicationCreator
	notify   Enqueuer
	log      *slog.Logger

	now func() time.Time
}

func NewEngine(sessions SessionStore, users UserWriter, catalog FacilityCatalog, creator ApplicationCreator, notify Enqueuer, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		sessions: sessions,
		users:    users,
		catalog:  catalog,
		creator:  creator,
		notify:   notify,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BeginRegistration opens (or restarts) the registration dialog. The user
// document is moved to awaiting_name so operators can see registrations in
// progress; the collected answers stay in session scratch until the flow
// completes.
func (e *Engine) BeginRegistration(ctx context.Context, user models.User, chatID int64) error {
	sess := models.ConversationSession{
		TelegramID: user.TelegramID,
		Flow:       models.FlowRegistration,
		Step:       models.StepAwaitingName,
	}
	if err := e.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}
	state := models.RegistrationAwaitingName
	if _, err := e.users.Patch(ctx, user.TelegramID, storage.UserPatch{RegistrationState: &state}); err != nil {
		return fmt.Errorf("begin registration: %w", err)
	}
	return e.prompt(ctx, chatID, promptAskName)
}

// BeginApplication opens the application submission dialog. The caller is
// responsible for the registered/non-blocked precondition; the lifecycle
// service re-checks it at creation anyway.
func (e *Engine) BeginApplication(ctx context.Context, user models.User, chatID int64) error {
	facilities, err := e.catalog.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("begin application: %w", err)
	}
	if len(facilities) == 0 {
		return e.prompt(ctx, chatID, promptCatalogEmpty)
	}

	ids := make([]string, len(facilities))
	for i, f := range facilities {
		ids[i] = f.ID
	}
	sess := models.ConversationSession{
		TelegramID: user.TelegramID,
		Flow:       models.FlowApplication,
		Step:       models.StepChoosingFacility,
	}
	sess.Put(scratchFacilities, strings.Join(ids, ","))
	if err := e.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("begin application: %w", err)
	}
	return e.prompt(ctx, chatID, promptChooseFacility(facilities))
}

// Abort drops the user's session, if any. Commands that restart a dialog
// call it so stale flows never swallow the next plain-text message.
func (e *Engine) Abort(ctx context.Context, telegramID int64) error {
	return e.sessions.Delete(ctx, telegramID)
}

// HandleActive feeds one inbound event to the user's session. It reports
// false when no live session exists, letting the router fall through to
// command handling.
func (e *Engine) HandleActive(ctx context.Context, user models.User, ev models.Event) (bool, error) {
	sess, ok, err := e.sessions.Load(ctx, user.TelegramID)
	if err != nil {
		return false, fmt.Errorf("handle dialog: %w", err)
	}
	if !ok {
		return false, nil
	}

	switch {
	case sess.Flow == models.FlowRegistration && sess.Step == models.StepAwaitingName:
		return true, e.handleName(ctx, user, ev, sess)
	case sess.Flow == models.FlowRegistration && sess.Step == models.StepAwaitingPhone:
		return true, e.handlePhone(ctx, user, ev, sess)
	case sess.Flow == models.FlowApplication && sess.Step == models.StepChoosingFacility:
		return true, e.handleFacilityChoice(ctx, user, ev, sess)
	case sess.Flow == models.FlowApplication && sess.Step == models.StepChoosingSport:
		return true, e.handleSportChoice(ctx, user, ev, sess)
	default:
		// Unknown flow/step combination, e.g. left over from an older
		// build. Drop it and let the next message start clean.
		e.log.Warn("dropping unroutable session", "telegram_id", user.TelegramID, "flow", sess.Flow, "step", sess.Step)
		return false, e.sessions.Delete(ctx, user.TelegramID)
	}
}

func (e *Engine) handleName(ctx context.Context, user models.User, ev models.Event, sess models.ConversationSession) error {
	name := strings.TrimSpace(ev.Text)
	if ev.HasContact() || name == "" || strings.HasPrefix(name, "/") || len([]rune(name)) < minNameRunes {
		return e.prompt(ctx, ev.ChatID, promptNameInvalid)
	}

	sess.Put(scratchName, name)
	sess.Step = models.StepAwaitingPhone
	if err := e.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("advance registration: %w", err)
	}
	state := models.RegistrationAwaitingPhone
	if _, err := e.users.Patch(ctx, user.TelegramID, storage.UserPatch{RegistrationState: &state}); err != nil {
		return fmt.Errorf("advance registration: %w", err)
	}
	return e.prompt(ctx, ev.ChatID, promptAskPhone(name))
}

func (e *Engine) handlePhone(ctx context.Context, user models.User, ev models.Event, sess models.ConversationSession) error {
	var phone string
	switch {
	case ev.HasContact():
		phone = NormalizeContactPhone(ev.ContactPhone)
	default:
		var ok bool
		phone, ok = NormalizePhone(ev.Text)
		if !ok {
			// Re-prompt without touching the session or the user record.
			return e.prompt(ctx, ev.ChatID, promptPhoneInvalid)
		}
	}
	if phone == "" {
		return e.prompt(ctx, ev.ChatID, promptPhoneInvalid)
	}

	name := sess.Get(scratchName)
	if name == "" {
		name = user.DisplayName
	}
	if name == "" {
		name = ev.SenderName()
	}

	// Completion is a single write: the collected name and phone land on
	// the user document together with the completed state.
	state := models.RegistrationCompleted
	if _, err := e.users.Patch(ctx, user.TelegramID, storage.UserPatch{
		DisplayName:       &name,
		Phone:             &phone,
		RegistrationState: &state,
	}); err != nil {
		return fmt.Errorf("complete registration: %w", err)
	}
	if err := e.sessions.Delete(ctx, user.TelegramID); err != nil {
		e.log.Warn("registration session not deleted", "telegram_id", user.TelegramID, "error", err.Error())
	}

	metrics.RegistrationsTotal.Inc()
	e.log.Info("registration completed", "telegram_id", user.TelegramID)
	return e.notify.Enqueue(ctx, models.Notification{
		ID:              uuid.NewString(),
		Kind:            models.NotifyRegistrationDone,
		RecipientChatID: ev.ChatID,
		Params:          map[string]string{"name": name},
		CreatedAt:       e.now(),
	})
}

func (e *Engine) handleFacilityChoice(ctx context.Context, user models.User, ev models.Event, sess models.ConversationSession) error {
	ids := strings.Split(sess.Get(scratchFacilities), ",")
	facility, ok, err := e.resolveFacility(ctx, ev.Text, ids)
	if err != nil {
		return fmt.Errorf("choose facility: %w", err)
	}
	if !ok {
		return e.prompt(ctx, ev.ChatID, promptFacilityInvalid)
	}

	sess.Put(scratchFacilityID, facility.ID)
	sess.Step = models.StepChoosingSport
	if err := e.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("choose facility: %w", err)
	}
	return e.prompt(ctx, ev.ChatID, promptChooseSport(facility))
}

func (e *Engine) handleSportChoice(ctx context.Context, user models.User, ev models.Event, sess models.ConversationSession) error {
	facility, err := e.catalog.FindByID(ctx, sess.Get(scratchFacilityID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The facility disappeared mid-dialog; restart rather than
			// resume against a gone document.
			_ = e.sessions.Delete(ctx, user.TelegramID)
			return e.prompt(ctx, ev.ChatID, promptCatalogEmpty)
		}
		return fmt.Errorf("choose sport: %w", err)
	}

	sport, ok := resolveSport(ev.Text, facility)
	if !ok {
		return e.prompt(ctx, ev.ChatID, promptSportInvalid)
	}

	app, err := e.creator.Create(ctx, lifecycle.CreateParams{
		TelegramID: user.TelegramID,
		FacilityID: facility.ID,
		Sport:      sport,
	})
	if err != nil {
		// Precondition failures end the dialog; the router translates
		// them for the user. Transient storage failures keep the session
		// so a retry message can finish the flow.
		if !errors.Is(err, storage.ErrUnavailable) {
			_ = e.sessions.Delete(ctx, user.TelegramID)
		}
		return err
	}
	if err := e.sessions.Delete(ctx, user.TelegramID); err != nil {
		e.log.Warn("application session not deleted", "telegram_id", user.TelegramID, "error", err.Error())
	}

	return e.notify.Enqueue(ctx, models.Notification{
		ID:              uuid.NewString(),
		Kind:            models.NotifyApplicationSubmitted,
		RecipientChatID: ev.ChatID,
		Params: map[string]string{
			"ref":      app.Ref,
			"facility": app.FacilityName,
			"sport":    app.Sport,
		},
		CreatedAt: e.now(),
	})
}

// resolveFacility matches the reply against the offered list: first as a
// 1-based number from the prompt, then as a name.
func (e *Engine) resolveFacility(ctx context.Context, input string, offeredIDs []string) (models.Facility, bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return models.Facility{}, false, nil
	}

	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(offeredIDs) {
			return models.Facility{}, false, nil
		}
		f, err := e.catalog.FindByID(ctx, offeredIDs[n-1])
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return models.Facility{}, false, nil
			}
			return models.Facility{}, false, err
		}
		if !f.Active {
			return models.Facility{}, false, nil
		}
		return f, true, nil
	}

	facilities, err := e.catalog.ListActive(ctx)
	if err != nil {
		return models.Facility{}, false, err
	}
	for _, f := range facilities {
		if strings.EqualFold(f.Name, input) {
			return f, true, nil
		}
	}
	return models.Facility{}, false, nil
}

func resolveSport(input string, f models.Facility) (string, bool) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", false
	}
	if n, err := strconv.Atoi(input); err == nil {
		if n < 1 || n > len(f.Sports) {
			return "", false
		}
		return f.Sports[n-1], true
	}
	return f.CanonicalSport(input)
}

func (e *Engine) prompt(ctx context.Context, chatID int64, text string) error {
	err := e.notify.Enqueue(ctx, models.Notification{
		ID:              uuid.NewString(),
		Kind:            models.NotifyPrompt,
		RecipientChatID: chatID,
		Params:          map[string]string{"text": text},
		CreatedAt:       e.now(),
	})
	if err != nil {
		return fmt.Errorf("enqueue prompt: %w", err)
	}
	return nil
}
