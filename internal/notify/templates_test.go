package notify

import (
	"strings"
	"testing"

	"fok-catalog/go-backend/pkg/models"
)

func TestRenderKnownKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		kind   string
		params map[string]string
		want   []string
	}{
		{
			name:   "prompt passes text through",
			kind:   models.NotifyPrompt,
			params: map[string]string{"text": "Введите имя"},
			want:   []string{"Введите имя"},
		},
		{
			name: "cooldown",
			kind: models.NotifyCooldown,
			want: []string{"Слишком много запросов"},
		},
		{
			name:   "registration done",
			kind:   models.NotifyRegistrationDone,
			params: map[string]string{"name": "Анна"},
			want:   []string{"Регистрация завершена"},
		},
		{
			name: "submitted confirmation",
			kind: models.NotifyApplicationSubmitted,
			params: map[string]string{
				"ref": "fok1abc", "facility": "North Arena", "sport": "Swimming",
			},
			want: []string{"fok1abc", "North Arena", "Swimming"},
		},
		{
			name: "created admin alert",
			kind: models.NotifyApplicationCreated,
			params: map[string]string{
				"ref": "fok1abc", "user_name": "Анна", "user_phone": "+79991234567",
				"facility": "North Arena", "district": "North", "sport": "Boxing",
			},
			want: []string{"Новая заявка", "fok1abc", "Анна", "+79991234567", "Boxing"},
		},
		{
			name: "cancelled admin alert",
			kind: models.NotifyApplicationCancelled,
			params: map[string]string{
				"ref": "fok1abc", "user_name": "Анна", "facility": "North Arena", "district": "North",
			},
			want: []string{"отменена пользователем", "fok1abc", "Анна"},
		},
		{
			name: "accepted status",
			kind: models.NotifyApplicationStatus,
			params: map[string]string{
				"ref": "fok1abc", "status": "accepted",
				"facility": "North Arena", "district": "North", "created_at": "01.02.2026 10:00",
			},
			want: []string{"принята к рассмотрению", "fok1abc", "01.02.2026 10:00"},
		},
		{
			name: "completed status",
			kind: models.NotifyApplicationStatus,
			params: map[string]string{
				"ref": "fok1abc", "status": "completed",
				"facility": "North Arena", "district": "North", "created_at": "01.02.2026 10:00",
			},
			want: []string{"выполнена"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Render(tt.kind, tt.params)
			if err != nil {
				t.Fatalf("render failed: %v", err)
			}
			for _, fragment := range tt.want {
				if !strings.Contains(got, fragment) {
					t.Fatalf("rendered text missing %q:\n%s", fragment, got)
				}
			}
		})
	}
}

func TestRenderRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := Render("no_such_kind", nil); err == nil {
		t.Fatal("unknown kind must fail")
	}
	if _, err := Render(models.NotifyPrompt, map[string]string{"text": "  "}); err == nil {
		t.Fatal("empty prompt text must fail")
	}
	if _, err := Render(models.NotifyApplicationStatus, map[string]string{"status": "exploded"}); err == nil {
		t.Fatal("unknown status must fail")
	}
}

func TestStatusDisplayCoversAllStatuses(t *testing.T) {
	t.Parallel()

	statuses := []models.ApplicationStatus{
		models.StatusPending, models.StatusAccepted, models.StatusTransferred,
		models.StatusCompleted, models.StatusCancelled,
	}
	seen := make(map[string]bool)
	for _, status := range statuses {
		display := StatusDisplay(status)
		if display == string(status) {
			t.Fatalf("status %s has no localized display", status)
		}
		if seen[display] {
			t.Fatalf("statuses must render distinct displays, %q repeated", display)
		}
		seen[display] = true
	}
}
