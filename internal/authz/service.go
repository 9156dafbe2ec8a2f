package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"fok-catalog/go-backend/pkg/models"
)

var (
	ErrForbidden = errors.New("authz: forbidden")
	// ErrTargetNotRegistered guards the rule that only users who finished
	// registration may hold a role.
	ErrTargetNotRegistered = errors.New("authz: target has not completed registration")
)

// UserDirectory is the slice of the user store the service needs.
type UserDirectory interface {
	FindByTelegramID(ctx context.Context, telegramID int64) (models.User, error)
	SetRole(ctx context.Context, telegramID int64, role models.Role) error
	SetBlocked(ctx context.Context, telegramID int64, blocked bool) error
}

// Service performs role and block management. Role edits require a super
// admin; block edits require at least an admin.
type Service struct {
	users        UserDirectory
	isSuperAdmin func(int64) bool
	log          *slog.Logger
}

func NewService(users UserDirectory, isSuperAdmin func(int64) bool, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{users: users, isSuperAdmin: isSuperAdmin, log: log}
}

// RoleOf loads the user and resolves the effective role.
func (s *Service) RoleOf(ctx context.Context, telegramID int64) (models.Role, error) {
	u, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return models.RoleNone, fmt.Errorf("resolve role: %w", err)
	}
	return EffectiveRole(u, s.isSuperAdmin), nil
}

func (s *Service) GrantAdmin(ctx context.Context, actorID, targetID int64) error {
	if err := s.requireSuperAdmin(ctx, actorID); err != nil {
		return err
	}
	target, err := s.users.FindByTelegramID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}
	if !target.Registered() {
		return fmt.Errorf("grant admin to %d: %w", targetID, ErrTargetNotRegistered)
	}
	if err := s.users.SetRole(ctx, targetID, models.RoleAdmin); err != nil {
		return fmt.Errorf("grant admin: %w", err)
	}
	s.log.Info("admin granted", "actor_id", actorID, "target_id", targetID)
	return nil
}

func (s *Service) RevokeAdmin(ctx context.Context, actorID, targetID int64) error {
	if err := s.requireSuperAdmin(ctx, actorID); err != nil {
		return err
	}
	target, err := s.users.FindByTelegramID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("revoke admin: %w", err)
	}
	if EffectiveRole(target, s.isSuperAdmin) == models.RoleSuperAdmin {
		return fmt.Errorf("revoke admin: super admin role is configured, not stored: %w", ErrForbidden)
	}
	if err := s.users.SetRole(ctx, targetID, models.RoleNone); err != nil {
		return fmt.Errorf("revoke admin: %w", err)
	}
	s.log.Info("admin revoked", "actor_id", actorID, "target_id", targetID)
	return nil
}

func (s *Service) Block(ctx context.Context, actorID, targetID int64) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	target, err := s.users.FindByTelegramID(ctx, targetID)
	if err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	if EffectiveRole(target, s.isSuperAdmin) == models.RoleSuperAdmin {
		return fmt.Errorf("block user: target is super admin: %w", ErrForbidden)
	}
	if err := s.users.SetBlocked(ctx, targetID, true); err != nil {
		return fmt.Errorf("block user: %w", err)
	}
	s.log.Info("user blocked", "actor_id", actorID, "target_id", targetID)
	return nil
}

func (s *Service) Unblock(ctx context.Context, actorID, targetID int64) error {
	if err := s.requireAdmin(ctx, actorID); err != nil {
		return err
	}
	if err := s.users.SetBlocked(ctx, targetID, false); err != nil {
		return fmt.Errorf("unblock user: %w", err)
	}
	s.log.Info("user unblocked", "actor_id", actorID, "target_id", targetID)
	return nil
}

func (s *Service) requireSuperAdmin(ctx context.Context, actorID int64) error {
	role, err := s.RoleOf(ctx, actorID)
	if err != nil {
		return err
	}
	if role != models.RoleSuperAdmin {
		return fmt.Errorf("actor %d is not super admin: %w", actorID, ErrForbidden)
	}
	return nil
}

func (s *Service) requireAdmin(ctx context.Context, actorID int64) error {
	role, err := s.RoleOf(ctx, actorID)
	if err != nil {
		return err
	}
	if role != models.RoleAdmin && role != models.RoleSuperAdmin {
		return fmt.Errorf("actor %d is not admin: %w", actorID, ErrForbidden)
	}
	return nil
}
