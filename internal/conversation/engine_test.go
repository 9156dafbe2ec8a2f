package conversation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fok-catalog/go-backend/internal/lifecycle"
	"fok-catalog/go-backend/internal/storage"
	"fok-catalog/go-backend/pkg/models"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[int64]models.ConversationSession
}

func (f *fakeSessions) Load(_ context.Context, telegramID int64) (models.ConversationSession, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[telegramID]
	return sess, ok, nil
}

func (f *fakeSessions) Save(_ context.Context, sess models.ConversationSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess.UpdatedAt = time.Now().UTC()
	f.sessions[sess.TelegramID] = sess
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, telegramID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, telegramID)
	return nil
}

func (f *fakeSessions) get(telegramID int64) (models.ConversationSession, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[telegramID]
	return sess, ok
}

type fakeUsers struct {
	mu      sync.Mutex
	users   map[int64]models.User
	patches []storage.UserPatch
}

func (f *fakeUsers) Patch(_ context.Context, telegramID int64, patch storage.UserPatch) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[telegramID]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	if patch.DisplayName != nil {
		u.DisplayName = *patch.DisplayName
	}
	if patch.Phone != nil {
		u.Phone = *patch.Phone
	}
	if patch.RegistrationState != nil {
		u.RegistrationState = *patch.RegistrationState
	}
	f.users[telegramID] = u
	f.patches = append(f.patches, patch)
	return u, nil
}

func (f *fakeUsers) get(telegramID int64) models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.users[telegramID]
}

func (f *fakeUsers) patchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.patches)
}

func (f *fakeUsers) lastPatch() storage.UserPatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patches[len(f.patches)-1]
}

type fakeCatalog struct {
	mu         sync.Mutex
	order      []string
	facilities map[string]models.Facility
}

func (f *fakeCatalog) ListActive(_ context.Context) ([]models.Facility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Facility
	for _, id := range f.order {
		if fac, ok := f.facilities[id]; ok && fac.Active {
			out = append(out, fac)
		}
	}
	return out, nil
}

func (f *fakeCatalog) FindByID(_ context.Context, id string) (models.Facility, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fac, ok := f.facilities[id]
	if !ok {
		return models.Facility{}, storage.ErrNotFound
	}
	return fac, nil
}

func (f *fakeCatalog) remove(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.facilities, id)
}

type fakeCreator struct {
	mu     sync.Mutex
	params []lifecycle.CreateParams
	err    error
}

func (f *fakeCreator) Create(_ context.Context, p lifecycle.CreateParams) (models.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Application{}, f.err
	}
	f.params = append(f.params, p)
	return models.Application{
		ID:           "app-0001",
		Ref:          "fok1TEST",
		FacilityID:   p.FacilityID,
		FacilityName: "North Arena",
		Sport:        p.Sport,
		Status:       models.StatusPending,
		Version:      1,
	}, nil
}

func (f *fakeCreator) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeCreator) created() []lifecycle.CreateParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lifecycle.CreateParams(nil), f.params...)
}

type fakeOutbound struct {
	mu   sync.Mutex
	sent []models.Notification
}

func (f *fakeOutbound) Enqueue(_ context.Context, n models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return nil
}

func (f *fakeOutbound) byKind(kind string) []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Notification
	for _, n := range f.sent {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// lastPrompt returns the text of the most recent prompt notification.
func (f *fakeOutbound) lastPrompt() string {
	prompts := f.byKind(models.NotifyPrompt)
	if len(prompts) == 0 {
		return ""
	}
	return prompts[len(prompts)-1].Params["text"]
}

const (
	newcomerID int64 = 400
	memberID   int64 = 100
)

type engineEnv struct {
	sessions *fakeSessions
	users    *fakeUsers
	catalog  *fakeCatalog
	creator  *fakeCreator
	outbound *fakeOutbound
	eng      *Engine
}

func newEngineEnv() *engineEnv {
	sessions := &fakeSessions{sessions: make(map[int64]models.ConversationSession)}
	users := &fakeUsers{
		users: map[int64]models.User{
			newcomerID: {
				ID: "u400", TelegramID: newcomerID, FirstName: "Анна",
				RegistrationState: models.RegistrationStarted,
			},
			memberID: {
				ID: "u100", TelegramID: memberID, DisplayName: "Anna", Phone: "+79991234567",
				RegistrationState: models.RegistrationCompleted,
			},
		},
	}
	catalog := &fakeCatalog{
		order: []string{"f1", "f2"},
		facilities: map[string]models.Facility{
			"f1": {
				ID: "f1", Name: "North Arena", District: "North",
				Sports: []string{"Swimming", "Boxing"}, Active: true,
			},
			"f2": {
				ID: "f2", Name: "Closed Hall", District: "South",
				Sports: []string{"Swimming"}, Active: false,
			},
		},
	}
	creator := &fakeCreator{}
	outbound := &fakeOutbound{}
	eng := NewEngine(sessions, users, catalog, creator, outbound, nil)
	return &engineEnv{sessions: sessions, users: users, catalog: catalog, creator: creator, outbound: outbound, eng: eng}
}

func textEvent(telegramID int64, text string) models.Event {
	return models.Event{ChatID: telegramID, TelegramID: telegramID, Text: text}
}

func contactEvent(telegramID int64, phone string) models.Event {
	return models.Event{ChatID: telegramID, TelegramID: telegramID, ContactPhone: phone}
}

func mustHandle(t *testing.T, env *engineEnv, ev models.Event) {
	t.Helper()
	handled, err := env.eng.HandleActive(context.Background(), env.users.get(ev.TelegramID), ev)
	if err != nil {
		t.Fatalf("handle %q failed: %v", ev.Text, err)
	}
	if !handled {
		t.Fatalf("event %q not claimed by an active session", ev.Text)
	}
}

func TestRegistrationFlowCompletes(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()

	if err := env.eng.BeginRegistration(ctx, env.users.get(newcomerID), newcomerID); err != nil {
		t.Fatalf("begin registration failed: %v", err)
	}
	sess, ok := env.sessions.get(newcomerID)
	if !ok || sess.Flow != models.FlowRegistration || sess.Step != models.StepAwaitingName {
		t.Fatalf("session after begin mismatch: ok=%v sess=%+v", ok, sess)
	}
	if got := env.users.get(newcomerID).RegistrationState; got != models.RegistrationAwaitingName {
		t.Fatalf("user state = %s, want awaiting_name", got)
	}
	if got := env.outbound.lastPrompt(); got != promptAskName {
		t.Fatalf("first prompt = %q, want ask-name", got)
	}

	mustHandle(t, env, textEvent(newcomerID, "  Анна Петрова  "))
	sess, _ = env.sessions.get(newcomerID)
	if sess.Step != models.StepAwaitingPhone || sess.Get(scratchName) != "Анна Петрова" {
		t.Fatalf("session after name mismatch: %+v", sess)
	}
	if got := env.users.get(newcomerID).RegistrationState; got != models.RegistrationAwaitingPhone {
		t.Fatalf("user state = %s, want awaiting_phone", got)
	}
	if !strings.Contains(env.outbound.lastPrompt(), "Анна Петрова") {
		t.Fatalf("phone prompt must address the user by name: %q", env.outbound.lastPrompt())
	}

	mustHandle(t, env, textEvent(newcomerID, "8 (950) 123-45-67"))
	user := env.users.get(newcomerID)
	if user.DisplayName != "Анна Петрова" || user.Phone != "+79501234567" {
		t.Fatalf("completed profile mismatch: name=%q phone=%q", user.DisplayName, user.Phone)
	}
	if user.RegistrationState != models.RegistrationCompleted {
		t.Fatalf("user state = %s, want completed", user.RegistrationState)
	}
	if _, ok := env.sessions.get(newcomerID); ok {
		t.Fatal("session must be deleted after completion")
	}

	// Name, phone and the completed state must land in one write.
	last := env.users.lastPatch()
	if last.DisplayName == nil || last.Phone == nil || last.RegistrationState == nil {
		t.Fatalf("completion must be a single patch of all fields: %+v", last)
	}
	done := env.outbound.byKind(models.NotifyRegistrationDone)
	if len(done) != 1 || done[0].Params["name"] != "Анна Петрова" {
		t.Fatalf("registration_done notification mismatch: %+v", done)
	}
}

func TestRegistrationRejectsBadNames(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginRegistration(ctx, env.users.get(newcomerID), newcomerID); err != nil {
		t.Fatalf("begin registration failed: %v", err)
	}
	patchesAfterBegin := env.users.patchCount()

	bad := []models.Event{
		textEvent(newcomerID, "/apply"),
		textEvent(newcomerID, "Я"),
		textEvent(newcomerID, "   "),
		contactEvent(newcomerID, "79501234567"),
	}
	for _, ev := range bad {
		mustHandle(t, env, ev)
		if got := env.outbound.lastPrompt(); got != promptNameInvalid {
			t.Fatalf("input %q: prompt = %q, want name-invalid", ev.Text, got)
		}
		sess, _ := env.sessions.get(newcomerID)
		if sess.Step != models.StepAwaitingName {
			t.Fatalf("input %q advanced the session to %s", ev.Text, sess.Step)
		}
	}
	if env.users.patchCount() != patchesAfterBegin {
		t.Fatal("rejected names must not write to the user document")
	}
}

func TestRegistrationInvalidPhoneMutatesNothing(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginRegistration(ctx, env.users.get(newcomerID), newcomerID); err != nil {
		t.Fatalf("begin registration failed: %v", err)
	}
	mustHandle(t, env, textEvent(newcomerID, "Анна Петрова"))
	patchesBefore := env.users.patchCount()

	for _, raw := range []string{"12345", "нет телефона", "+1 202 555 0000"} {
		mustHandle(t, env, textEvent(newcomerID, raw))
		if got := env.outbound.lastPrompt(); got != promptPhoneInvalid {
			t.Fatalf("input %q: prompt = %q, want phone-invalid", raw, got)
		}
	}
	if env.users.patchCount() != patchesBefore {
		t.Fatal("invalid phones must not write to the user document")
	}
	sess, ok := env.sessions.get(newcomerID)
	if !ok || sess.Step != models.StepAwaitingPhone || sess.Get(scratchName) != "Анна Петрова" {
		t.Fatalf("session must survive invalid phones intact: ok=%v sess=%+v", ok, sess)
	}

	// A valid phone still completes the flow after any number of rejects.
	mustHandle(t, env, textEvent(newcomerID, "+79501234567"))
	if got := env.users.get(newcomerID).RegistrationState; got != models.RegistrationCompleted {
		t.Fatalf("user state = %s, want completed", got)
	}
}

func TestRegistrationAcceptsSharedContact(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginRegistration(ctx, env.users.get(newcomerID), newcomerID); err != nil {
		t.Fatalf("begin registration failed: %v", err)
	}
	mustHandle(t, env, textEvent(newcomerID, "Анна Петрова"))

	// Contact payloads skip the format gate: a foreign number is kept as-is.
	mustHandle(t, env, contactEvent(newcomerID, "380501234567"))
	user := env.users.get(newcomerID)
	if user.Phone != "+380501234567" || user.RegistrationState != models.RegistrationCompleted {
		t.Fatalf("contact completion mismatch: phone=%q state=%s", user.Phone, user.RegistrationState)
	}
}

func TestApplicationFlowCompletes(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()

	if err := env.eng.BeginApplication(ctx, env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}
	sess, ok := env.sessions.get(memberID)
	if !ok || sess.Flow != models.FlowApplication || sess.Step != models.StepChoosingFacility {
		t.Fatalf("session after begin mismatch: ok=%v sess=%+v", ok, sess)
	}
	if sess.Get(scratchFacilities) != "f1" {
		t.Fatalf("offered facilities must exclude inactive ones, got %q", sess.Get(scratchFacilities))
	}
	if !strings.Contains(env.outbound.lastPrompt(), "North Arena") {
		t.Fatalf("facility prompt must list the catalog: %q", env.outbound.lastPrompt())
	}

	mustHandle(t, env, textEvent(memberID, "1"))
	sess, _ = env.sessions.get(memberID)
	if sess.Step != models.StepChoosingSport || sess.Get(scratchFacilityID) != "f1" {
		t.Fatalf("session after facility choice mismatch: %+v", sess)
	}
	if !strings.Contains(env.outbound.lastPrompt(), "Swimming") {
		t.Fatalf("sport prompt must list the facility sports: %q", env.outbound.lastPrompt())
	}

	// Sport by name, case-insensitive: the canonical spelling is submitted.
	mustHandle(t, env, textEvent(memberID, "swimming"))
	created := env.creator.created()
	if len(created) != 1 {
		t.Fatalf("created %d applications, want 1", len(created))
	}
	if created[0].TelegramID != memberID || created[0].FacilityID != "f1" || created[0].Sport != "Swimming" {
		t.Fatalf("create params mismatch: %+v", created[0])
	}
	if _, ok := env.sessions.get(memberID); ok {
		t.Fatal("session must be deleted after submission")
	}
	submitted := env.outbound.byKind(models.NotifyApplicationSubmitted)
	if len(submitted) != 1 || submitted[0].Params["ref"] != "fok1TEST" {
		t.Fatalf("submitted notification mismatch: %+v", submitted)
	}
}

func TestApplicationFacilityByName(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginApplication(ctx, env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}

	mustHandle(t, env, textEvent(memberID, "north arena"))
	sess, _ := env.sessions.get(memberID)
	if sess.Step != models.StepChoosingSport || sess.Get(scratchFacilityID) != "f1" {
		t.Fatalf("name match must advance the session: %+v", sess)
	}
}

func TestApplicationRepromptsOnBadChoices(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginApplication(ctx, env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}

	for _, raw := range []string{"0", "2", "Unknown Hall", ""} {
		mustHandle(t, env, textEvent(memberID, raw))
		if got := env.outbound.lastPrompt(); got != promptFacilityInvalid {
			t.Fatalf("input %q: prompt = %q, want facility-invalid", raw, got)
		}
		sess, _ := env.sessions.get(memberID)
		if sess.Step != models.StepChoosingFacility {
			t.Fatalf("input %q advanced the session to %s", raw, sess.Step)
		}
	}

	mustHandle(t, env, textEvent(memberID, "1"))
	for _, raw := range []string{"5", "Chess"} {
		mustHandle(t, env, textEvent(memberID, raw))
		if got := env.outbound.lastPrompt(); got != promptSportInvalid {
			t.Fatalf("input %q: prompt = %q, want sport-invalid", raw, got)
		}
	}

	mustHandle(t, env, textEvent(memberID, "2"))
	created := env.creator.created()
	if len(created) != 1 || created[0].Sport != "Boxing" {
		t.Fatalf("numbered sport choice mismatch: %+v", created)
	}
}

func TestApplicationEmptyCatalog(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	env.catalog.remove("f1")
	env.catalog.remove("f2")

	if err := env.eng.BeginApplication(context.Background(), env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}
	if got := env.outbound.lastPrompt(); got != promptCatalogEmpty {
		t.Fatalf("prompt = %q, want catalog-empty", got)
	}
	if _, ok := env.sessions.get(memberID); ok {
		t.Fatal("empty catalog must not open a session")
	}
}

func TestApplicationCreateFailureEndsDialog(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginApplication(ctx, env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}
	mustHandle(t, env, textEvent(memberID, "1"))

	env.creator.setErr(lifecycle.ErrBlocked)
	handled, err := env.eng.HandleActive(ctx, env.users.get(memberID), textEvent(memberID, "Swimming"))
	if !handled {
		t.Fatal("event must still be claimed by the session")
	}
	if !errors.Is(err, lifecycle.ErrBlocked) {
		t.Fatalf("create failure must bubble up, got %v", err)
	}
	if _, ok := env.sessions.get(memberID); ok {
		t.Fatal("precondition failures must end the dialog")
	}
}

func TestApplicationTransientFailureKeepsDialog(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginApplication(ctx, env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}
	mustHandle(t, env, textEvent(memberID, "1"))

	env.creator.setErr(storage.ErrUnavailable)
	if _, err := env.eng.HandleActive(ctx, env.users.get(memberID), textEvent(memberID, "Swimming")); err == nil {
		t.Fatal("backend outage must surface an error")
	}
	if _, ok := env.sessions.get(memberID); !ok {
		t.Fatal("transient failures must keep the session for a retry")
	}

	// The retry message finishes the flow once the backend recovers.
	env.creator.setErr(nil)
	mustHandle(t, env, textEvent(memberID, "Swimming"))
	if len(env.creator.created()) != 1 {
		t.Fatal("retry after recovery must submit exactly once")
	}
}

func TestFacilityGoneMidDialogRestarts(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginApplication(ctx, env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}
	mustHandle(t, env, textEvent(memberID, "1"))

	env.catalog.remove("f1")
	mustHandle(t, env, textEvent(memberID, "Swimming"))
	if _, ok := env.sessions.get(memberID); ok {
		t.Fatal("dialog over a deleted facility must be dropped")
	}
	if got := env.outbound.lastPrompt(); got != promptCatalogEmpty {
		t.Fatalf("prompt = %q, want catalog-empty", got)
	}
}

func TestHandleActiveWithoutSession(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	handled, err := env.eng.HandleActive(context.Background(), env.users.get(memberID), textEvent(memberID, "hello"))
	if err != nil {
		t.Fatalf("handle failed: %v", err)
	}
	if handled {
		t.Fatal("no session means the event must fall through to commands")
	}
}

func TestAbortDropsSession(t *testing.T) {
	t.Parallel()

	env := newEngineEnv()
	ctx := context.Background()
	if err := env.eng.BeginApplication(ctx, env.users.get(memberID), memberID); err != nil {
		t.Fatalf("begin application failed: %v", err)
	}
	if err := env.eng.Abort(ctx, memberID); err != nil {
		t.Fatalf("abort failed: %v", err)
	}
	handled, err := env.eng.HandleActive(ctx, env.users.get(memberID), textEvent(memberID, "1"))
	if err != nil || handled {
		t.Fatalf("aborted session must not claim events: handled=%v err=%v", handled, err)
	}
}
