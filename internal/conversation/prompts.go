package conversation

import (
	"fmt"
	"strings"

	"fok-catalog/go-backend/pkg/models"
)

// Dialog texts. Lifecycle notifications are rendered by the delivery
// worker from template parameters; prompts are dialog state and belong to
// the engine that owns the dialog.

const (
	promptAskName = "👋 Добро пожаловать в каталог физкультурно-оздоровительных комплексов!\n\n" +
		"Я помогу найти подходящий ФОК и подать заявку на посещение.\n\n" +
		"Для начала скажите, как к вам обращаться?"
	promptNameInvalid  = "❌ Пожалуйста, введите корректное имя (минимум 2 символа)."
	promptPhoneInvalid = "❌ Не удалось распознать номер. Отправьте его в формате +7XXXXXXXXXX " +
		"или поделитесь контактом."
	promptFacilityInvalid = "❌ Не нашёл такой ФОК. Отправьте номер из списка."
	promptSportInvalid    = "❌ В этом ФОКе нет такого вида спорта. Отправьте номер из списка."
	promptCatalogEmpty    = "😔 Каталог пока пуст. Загляните позже."
)

func promptAskPhone(name string) string {
	return fmt.Sprintf("Приятно познакомиться, %s! 😊\n\n"+
		"Теперь отправьте ваш номер телефона или поделитесь контактом — "+
		"без него нельзя подавать заявки в ФОКи.", name)
}

func promptChooseFacility(facilities []models.Facility) string {
	var b strings.Builder
	b.WriteString("🏢 Выберите ФОК — отправьте его номер из списка:\n")
	for i, f := range facilities {
		fmt.Fprintf(&b, "\n%d. %s", i+1, f.Name)
		if f.District != "" {
			fmt.Fprintf(&b, " (%s)", f.District)
		}
	}
	return b.String()
}

func promptChooseSport(f models.Facility) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏅 %s. Какой вид спорта вас интересует? Отправьте номер:\n", f.Name)
	for i, sport := range f.Sports {
		fmt.Fprintf(&b, "\n%d. %s", i+1, sport)
	}
	return b.String()
}
