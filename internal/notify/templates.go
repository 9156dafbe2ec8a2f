package notify

import (
	"fmt"
	"strings"

	"fok-catalog/go-backend/pkg/models"
)

// statusLines are the per-status headlines of the owner's status-change
// message.
var statusLines = map[models.ApplicationStatus]string{
	models.StatusAccepted:    "✅ Ваша заявка принята к рассмотрению!",
	models.StatusTransferred: "📤 Ваша заявка передана в учреждение для обработки.",
	models.StatusCompleted:   "🎉 Ваша заявка выполнена! Вы можете посещать ФОК.",
	models.StatusCancelled:   "❌ Заявка отменена.",
}

// StatusDisplay is the localized status name shown in lists and cards.
func StatusDisplay(status models.ApplicationStatus) string {
	switch status {
	case models.StatusPending:
		return "⏳ Ожидает обработки"
	case models.StatusAccepted:
		return "✅ Принята"
	case models.StatusTransferred:
		return "📤 Передана в учреждение"
	case models.StatusCompleted:
		return "🎉 Выполнена"
	case models.StatusCancelled:
		return "❌ Отменена"
	default:
		return string(status)
	}
}

// Render produces the message text for a notification kind from its params.
// Messages use Telegram HTML markup. An unknown kind is an error so the
// worker can shunt the payload aside instead of delivering something empty.
func Render(kind string, params map[string]string) (string, error) {
	get := func(key string) string { return params[key] }

	switch kind {
	case models.NotifyPrompt:
		text := get("text")
		if strings.TrimSpace(text) == "" {
			return "", fmt.Errorf("render %s: empty text", kind)
		}
		return text, nil

	case models.NotifyCooldown:
		return "⚠️ Слишком много запросов. Пожалуйста, подождите немного.", nil

	case models.NotifyRegistrationDone:
		return "✅ Отлично! Регистрация завершена.\n\n" +
			"Теперь вы можете пользоваться всеми функциями бота, включая подачу заявок в ФОКи.", nil

	case models.NotifyApplicationSubmitted:
		return fmt.Sprintf(
			"✅ Заявка <b>%s</b> успешно подана!\n\n"+
				"🏢 <b>ФОК:</b> %s\n"+
				"🏅 <b>Вид спорта:</b> %s\n\n"+
				"Вы получите уведомление о её обработке.",
			get("ref"), get("facility"), get("sport"),
		), nil

	case models.NotifyApplicationCreated:
		return fmt.Sprintf(
			"🆕 Новая заявка <b>%s</b>\n\n"+
				"👤 %s (%s)\n"+
				"🏢 %s\n"+
				"📍 %s\n"+
				"🏅 %s",
			get("ref"), get("user_name"), get("user_phone"),
			get("facility"), get("district"), get("sport"),
		), nil

	case models.NotifyApplicationCancelled:
		return fmt.Sprintf(
			"❌ Заявка отменена пользователем <b>%s</b>\n\n"+
				"👤 %s\n"+
				"🏢 %s\n"+
				"📍 %s",
			get("ref"), get("user_name"), get("facility"), get("district"),
		), nil

	case models.NotifyApplicationStatus:
		status, ok := models.ParseStatus(get("status"))
		if !ok {
			return "", fmt.Errorf("render %s: unknown status %q", kind, get("status"))
		}
		line := statusLines[status]
		if line == "" {
			line = "📊 Статус заявки изменен на: " + StatusDisplay(status)
		}
		return fmt.Sprintf(
			"📋 <b>Обновление заявки %s</b>\n\n"+
				"%s\n\n"+
				"🏢 <b>ФОК:</b> %s\n"+
				"📍 <b>Район:</b> %s\n"+
				"📅 <b>Дата подачи:</b> %s\n\n"+
				"Вы можете просмотреть подробности в разделе «Мои заявки».",
			get("ref"), line, get("facility"), get("district"), get("created_at"),
		), nil

	default:
		return "", fmt.Errorf("render: unknown notification kind %q", kind)
	}
}
