package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"fok-catalog/go-backend/internal/authz"
	"fok-catalog/go-backend/internal/lifecycle"
	"fok-catalog/go-backend/internal/notify"
	"fok-catalog/go-backend/internal/platform/metrics"
	"fok-catalog/go-backend/pkg/models"
)

const (
	textUnknownInput = "🤔 Не понял вас. Отправьте /help, чтобы посмотреть список команд."
	textUnknownCmd   = "🤔 Такой команды нет. Отправьте /help, чтобы посмотреть список команд."
	textTryLater     = "😔 Сервис временно недоступен. Попробуйте позже."

	textNeedRegistration = "📱 Сначала нужно завершить регистрацию — отправьте /start."
	textBlocked          = "🚫 Ваш аккаунт заблокирован. Обратитесь к администратору."
	textAlreadyProcessed = "ℹ️ Заявка уже в другом статусе, этот переход невозможен."
	textConflict         = "⚠️ Заявка только что изменилась. Проверьте статус и повторите."
	textFacilityClosed   = "😔 Этот ФОК сейчас не принимает заявки."
	textSportNotOffered  = "😔 В этом ФОКе нет такого вида спорта."
	textForbidden        = "🚫 Недостаточно прав для этой команды."
	textTargetNotReady   = "ℹ️ Этот пользователь ещё не завершил регистрацию, роль назначить нельзя."
	textNotFound         = "🔍 Заявка с таким номером не найдена."

	textWelcomeBack = "🏢 <b>Каталог ФОКов</b>\n\n" +
		"С возвращением! 👋\n\n" +
		"📱 /apply — подать заявку\n" +
		"📋 /myapps — мои заявки\n" +
		"🆘 /help — помощь"

	textNoApplications   = "📋 У вас пока нет заявок. Подайте первую командой /apply."
	textNoPending        = "📋 Заявок в ожидании нет."
	textUsageCancel      = "Использование: /cancel <номер заявки>"
	textUsageTransition  = "Использование: /%s <номер заявки> [версия]"
	textUsageUserID      = "Использование: /%s <telegram id>"
	textModerationDone   = "✅ Готово."
	textCancelledByOwner = "✅ Заявка отменена."
	textTransitionDone   = "✅ Заявка %s → %s (версия %d)."
)

func helpText(admin bool) string {
	var b strings.Builder
	b.WriteString("🆘 <b>Помощь по использованию бота</b>\n\n")
	b.WriteString("📱 /apply — подать заявку в ФОК\n")
	b.WriteString("📋 /myapps [стр] — ваши заявки и их статусы\n")
	b.WriteString("❌ /cancel <номер> — отменить свою заявку\n")
	b.WriteString("🏠 /menu — главное меню\n\n")
	b.WriteString("📊 <b>Статусы заявок:</b>\n")
	b.WriteString("⏳ Ожидает обработки — заявка подана и ожидает рассмотрения\n")
	b.WriteString("✅ Принята — заявка одобрена\n")
	b.WriteString("📤 Передана в учреждение — заявка направлена в ФОК\n")
	b.WriteString("🎉 Выполнена — заявка обработана, можете посещать ФОК\n")
	b.WriteString("❌ Отменена — заявка отменена\n")
	if admin {
		b.WriteString("\n👮 <b>Команды администратора:</b>\n")
		b.WriteString("/pending [стр] — заявки в ожидании\n")
		b.WriteString("/accept /transfer /complete /cancelapp <номер> [версия]\n")
		b.WriteString("/block /unblock <telegram id>\n")
		b.WriteString("/stats — статистика по статусам\n")
	}
	b.WriteString("\n❓ Если у вас есть вопросы, обратитесь к администратору.")
	return b.String()
}

func (r *Router) handleCommand(ctx context.Context, user models.User, ev models.Event, cmd, args string) error {
	metrics.CommandsTotal.WithLabelValues(strings.TrimPrefix(cmd, "/")).Inc()

	switch cmd {
	case "/start":
		return r.cmdStart(ctx, user, ev)
	case "/help":
		return r.cmdHelp(ctx, user, ev)
	case "/menu":
		return r.reply(ctx, ev.ChatID, textWelcomeBack)
	case "/apply":
		return r.cmdApply(ctx, user, ev)
	case "/myapps":
		return r.cmdMyApps(ctx, user, ev, args)
	case "/cancel":
		return r.cmdCancel(ctx, user, ev, args)
	case "/pending":
		return r.cmdPending(ctx, user, ev, args)
	case "/accept":
		return r.cmdTransition(ctx, user, ev, args, "accept", models.StatusAccepted)
	case "/transfer":
		return r.cmdTransition(ctx, user, ev, args, "transfer", models.StatusTransferred)
	case "/complete":
		return r.cmdTransition(ctx, user, ev, args, "complete", models.StatusCompleted)
	case "/cancelapp":
		return r.cmdTransition(ctx, user, ev, args, "cancelapp", models.StatusCancelled)
	case "/block":
		return r.cmdModeration(ctx, user, ev, args, "block", r.mod.Block)
	case "/unblock":
		return r.cmdModeration(ctx, user, ev, args, "unblock", r.mod.Unblock)
	case "/grantadmin":
		return r.cmdModeration(ctx, user, ev, args, "grantadmin", r.mod.GrantAdmin)
	case "/revokeadmin":
		return r.cmdModeration(ctx, user, ev, args, "revokeadmin", r.mod.RevokeAdmin)
	case "/stats":
		return r.cmdStats(ctx, user, ev)
	default:
		return r.reply(ctx, ev.ChatID, textUnknownCmd)
	}
}

// cmdStart restarts any dialog: registration for newcomers, the menu for
// registered users.
func (r *Router) cmdStart(ctx context.Context, user models.User, ev models.Event) error {
	if err := r.engine.Abort(ctx, user.TelegramID); err != nil {
		r.log.Warn("session abort failed", "telegram_id", user.TelegramID, "error", err.Error())
	}
	if user.Registered() {
		return r.reply(ctx, ev.ChatID, textWelcomeBack)
	}
	if err := r.engine.BeginRegistration(ctx, user, ev.ChatID); err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	return nil
}

func (r *Router) cmdHelp(ctx context.Context, user models.User, ev models.Event) error {
	role, err := r.roles.RoleOf(ctx, user.TelegramID)
	if err != nil {
		r.log.Warn("role lookup failed", "telegram_id", user.TelegramID, "error", err.Error())
		role = models.RoleNone
	}
	return r.reply(ctx, ev.ChatID, helpText(role == models.RoleAdmin || role == models.RoleSuperAdmin))
}

func (r *Router) cmdApply(ctx context.Context, user models.User, ev models.Event) error {
	if !user.Registered() {
		return r.reply(ctx, ev.ChatID, textNeedRegistration)
	}
	if user.Blocked {
		return r.reply(ctx, ev.ChatID, textBlocked)
	}
	if err := r.engine.Abort(ctx, user.TelegramID); err != nil {
		r.log.Warn("session abort failed", "telegram_id", user.TelegramID, "error", err.Error())
	}
	if err := r.engine.BeginApplication(ctx, user, ev.ChatID); err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	return nil
}

func (r *Router) cmdMyApps(ctx context.Context, user models.User, ev models.Event, args string) error {
	apps, err := r.apps.ListByUser(ctx, user.ID, parsePage(args))
	if err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	if len(apps) == 0 {
		return r.reply(ctx, ev.ChatID, textNoApplications)
	}

	var b strings.Builder
	b.WriteString("📋 <b>Ваши заявки:</b>\n\n")
	for _, app := range apps {
		fmt.Fprintf(&b, "%s — %s — %s\n", app.Ref, app.FacilityName, notify.StatusDisplay(app.Status))
	}
	b.WriteString("\n❌ Отменить: /cancel <номер>")
	return r.reply(ctx, ev.ChatID, b.String())
}

func (r *Router) cmdCancel(ctx context.Context, user models.User, ev models.Event, args string) error {
	ref := strings.TrimSpace(args)
	if ref == "" {
		return r.reply(ctx, ev.ChatID, textUsageCancel)
	}
	app, err := r.apps.GetByRef(ctx, ref)
	if err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	if _, err := r.apps.Transition(ctx, lifecycle.TransitionParams{
		ApplicationID: app.ID,
		Target:        models.StatusCancelled,
		ActorID:       user.TelegramID,
	}); err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	return r.reply(ctx, ev.ChatID, textCancelledByOwner)
}

func (r *Router) cmdPending(ctx context.Context, user models.User, ev models.Event, args string) error {
	if err := r.requireAdmin(ctx, user); err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	apps, err := r.apps.ListByStatus(ctx, models.StatusPending, parsePage(args))
	if err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	if len(apps) == 0 {
		return r.reply(ctx, ev.ChatID, textNoPending)
	}

	var b strings.Builder
	b.WriteString("⏳ <b>Заявки в ожидании:</b>\n\n")
	for _, app := range apps {
		fmt.Fprintf(&b, "%s — %s — %s — %s (в. %d)\n",
			app.Ref, app.UserName, app.FacilityName, app.Sport, app.Version)
	}
	b.WriteString("\n✅ /accept, 📤 /transfer, 🎉 /complete, ❌ /cancelapp <номер> [версия]")
	return r.reply(ctx, ev.ChatID, b.String())
}

// cmdTransition handles the admin verbs. The optional version argument pins
// the transition to the document version the admin was looking at, turning a
// concurrent change into an explicit conflict rather than a silent override.
func (r *Router) cmdTransition(ctx context.Context, user models.User, ev models.Event, args, name string, target models.ApplicationStatus) error {
	if err := r.requireAdmin(ctx, user); err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}

	fields := strings.Fields(args)
	if len(fields) == 0 {
		return r.reply(ctx, ev.ChatID, fmt.Sprintf(textUsageTransition, name))
	}
	var expectedVersion int64
	if len(fields) > 1 {
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || v <= 0 {
			return r.reply(ctx, ev.ChatID, fmt.Sprintf(textUsageTransition, name))
		}
		expectedVersion = v
	}

	app, err := r.apps.GetByRef(ctx, fields[0])
	if err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	updated, err := r.apps.Transition(ctx, lifecycle.TransitionParams{
		ApplicationID:   app.ID,
		Target:          target,
		ActorID:         user.TelegramID,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	return r.reply(ctx, ev.ChatID,
		fmt.Sprintf(textTransitionDone, updated.Ref, notify.StatusDisplay(updated.Status), updated.Version))
}

func (r *Router) cmdModeration(ctx context.Context, user models.User, ev models.Event, args, name string, op func(ctx context.Context, actorID, targetID int64) error) error {
	targetID, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || targetID == 0 {
		return r.reply(ctx, ev.ChatID, fmt.Sprintf(textUsageUserID, name))
	}
	if err := op(ctx, user.TelegramID, targetID); err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	return r.reply(ctx, ev.ChatID, textModerationDone)
}

func (r *Router) cmdStats(ctx context.Context, user models.User, ev models.Event) error {
	if err := r.requireAdmin(ctx, user); err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}
	counts, err := r.apps.CountByStatus(ctx)
	if err != nil {
		return r.replyError(ctx, ev.ChatID, err)
	}

	var b strings.Builder
	b.WriteString("📊 <b>Статистика заявок:</b>\n\n")
	var total int64
	for _, status := range []models.ApplicationStatus{
		models.StatusPending, models.StatusAccepted, models.StatusTransferred,
		models.StatusCompleted, models.StatusCancelled,
	} {
		fmt.Fprintf(&b, "%s: %d\n", notify.StatusDisplay(status), counts[status])
		total += counts[status]
	}
	fmt.Fprintf(&b, "\nВсего: %d", total)
	return r.reply(ctx, ev.ChatID, b.String())
}

// requireAdmin is the UX gate for admin verbs; the services enforce the
// same rule again on their own write paths.
func (r *Router) requireAdmin(ctx context.Context, user models.User) error {
	role, err := r.roles.RoleOf(ctx, user.TelegramID)
	if err != nil {
		return err
	}
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		return fmt.Errorf("actor %d: %w", user.TelegramID, authz.ErrForbidden)
	}
	return nil
}

// parsePage maps the optional 1-based page argument to the 0-based page the
// stores take. Anything unparsable is page one.
func parsePage(args string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(args), 10, 64)
	if err != nil || n <= 1 {
		return 0
	}
	return n - 1
}
