package authz

import (
	"context"
	"errors"
	"testing"

	"fok-catalog/go-backend/pkg/models"
)

var errDirectoryMiss = errors.New("user not found")

type fakeDirectory struct {
	users map[int64]*models.User
}

func newFakeDirectory(users ...models.User) *fakeDirectory {
	d := &fakeDirectory{users: make(map[int64]*models.User, len(users))}
	for i := range users {
		u := users[i]
		d.users[u.TelegramID] = &u
	}
	return d
}

func (d *fakeDirectory) FindByTelegramID(_ context.Context, telegramID int64) (models.User, error) {
	u, ok := d.users[telegramID]
	if !ok {
		return models.User{}, errDirectoryMiss
	}
	return *u, nil
}

func (d *fakeDirectory) SetRole(_ context.Context, telegramID int64, role models.Role) error {
	u, ok := d.users[telegramID]
	if !ok {
		return errDirectoryMiss
	}
	u.Role = role
	return nil
}

func (d *fakeDirectory) SetBlocked(_ context.Context, telegramID int64, blocked bool) error {
	u, ok := d.users[telegramID]
	if !ok {
		return errDirectoryMiss
	}
	u.Blocked = blocked
	return nil
}

func configuredSuper(id int64) bool { return id == 900 }

func TestGrantAdminRequiresSuperAdmin(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory(
		models.User{TelegramID: 900},
		models.User{TelegramID: 10, Role: models.RoleAdmin},
		models.User{TelegramID: 20, RegistrationState: models.RegistrationCompleted},
	)
	svc := NewService(dir, configuredSuper, nil)

	if err := svc.GrantAdmin(context.Background(), 900, 20); err != nil {
		t.Fatalf("super admin grant failed: %v", err)
	}
	if got := dir.users[20].Role; got != models.RoleAdmin {
		t.Fatalf("role mismatch: got=%s want=%s", got, models.RoleAdmin)
	}

	err := svc.GrantAdmin(context.Background(), 10, 20)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("plain admin must not grant roles, got %v", err)
	}
}

func TestGrantAdminRequiresRegisteredTarget(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory(
		models.User{TelegramID: 900},
		models.User{TelegramID: 20, RegistrationState: models.RegistrationAwaitingPhone},
	)
	svc := NewService(dir, configuredSuper, nil)

	err := svc.GrantAdmin(context.Background(), 900, 20)
	if !errors.Is(err, ErrTargetNotRegistered) {
		t.Fatalf("unregistered target must be refused, got %v", err)
	}
	if got := dir.users[20].Role; got != models.RoleNone {
		t.Fatalf("role must stay none, got=%s", got)
	}
}

func TestRevokeAdmin(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory(
		models.User{TelegramID: 900},
		models.User{TelegramID: 10, Role: models.RoleAdmin},
	)
	svc := NewService(dir, configuredSuper, nil)

	if err := svc.RevokeAdmin(context.Background(), 900, 10); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if got := dir.users[10].Role; got != models.RoleNone {
		t.Fatalf("role mismatch: got=%s want=%s", got, models.RoleNone)
	}

	err := svc.RevokeAdmin(context.Background(), 900, 900)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("configured super admin must not be revocable, got %v", err)
	}
}

func TestBlockRules(t *testing.T) {
	t.Parallel()

	dir := newFakeDirectory(
		models.User{TelegramID: 900},
		models.User{TelegramID: 10, Role: models.RoleAdmin},
		models.User{TelegramID: 20},
		models.User{TelegramID: 30},
	)
	svc := NewService(dir, configuredSuper, nil)

	if err := svc.Block(context.Background(), 10, 20); err != nil {
		t.Fatalf("admin block failed: %v", err)
	}
	if !dir.users[20].Blocked {
		t.Fatal("target must be blocked")
	}

	if err := svc.Unblock(context.Background(), 10, 20); err != nil {
		t.Fatalf("admin unblock failed: %v", err)
	}
	if dir.users[20].Blocked {
		t.Fatal("target must be unblocked")
	}

	if err := svc.Block(context.Background(), 30, 20); !errors.Is(err, ErrForbidden) {
		t.Fatalf("regular user must not block, got %v", err)
	}
	if err := svc.Block(context.Background(), 10, 900); !errors.Is(err, ErrForbidden) {
		t.Fatalf("super admin must not be blockable, got %v", err)
	}
}

func TestRoleOfUnknownUserFails(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeDirectory(), configuredSuper, nil)
	if _, err := svc.RoleOf(context.Background(), 5); !errors.Is(err, errDirectoryMiss) {
		t.Fatalf("expected directory miss, got %v", err)
	}
}
