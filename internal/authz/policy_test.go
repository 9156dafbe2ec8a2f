package authz

import (
	"testing"

	"fok-catalog/go-backend/pkg/models"
)

func TestEvaluateTransitionPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   TransitionPolicyInput
		allowed bool
		reason  TransitionPolicyReason
	}{
		{
			name: "admin may accept",
			input: TransitionPolicyInput{
				Role: models.RoleAdmin,
				From: models.StatusPending,
				To:   models.StatusAccepted,
			},
			allowed: true,
			reason:  TransitionReasonAdmin,
		},
		{
			name: "super admin may complete from transferred",
			input: TransitionPolicyInput{
				Role: models.RoleSuperAdmin,
				From: models.StatusTransferred,
				To:   models.StatusCompleted,
			},
			allowed: true,
			reason:  TransitionReasonAdmin,
		},
		{
			name: "owner may cancel own pending application",
			input: TransitionPolicyInput{
				Role:    models.RoleNone,
				IsOwner: true,
				From:    models.StatusPending,
				To:      models.StatusCancelled,
			},
			allowed: true,
			reason:  TransitionReasonOwnerCancel,
		},
		{
			name: "non-owner may not cancel pending application",
			input: TransitionPolicyInput{
				Role:    models.RoleNone,
				IsOwner: false,
				From:    models.StatusPending,
				To:      models.StatusCancelled,
			},
			allowed: false,
			reason:  TransitionReasonNotOwner,
		},
		{
			name: "owner may not cancel once accepted",
			input: TransitionPolicyInput{
				Role:    models.RoleNone,
				IsOwner: true,
				From:    models.StatusAccepted,
				To:      models.StatusCancelled,
			},
			allowed: false,
			reason:  TransitionReasonRoleDenied,
		},
		{
			name: "owner may not accept own application",
			input: TransitionPolicyInput{
				Role:    models.RoleNone,
				IsOwner: true,
				From:    models.StatusPending,
				To:      models.StatusAccepted,
			},
			allowed: false,
			reason:  TransitionReasonRoleDenied,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := EvaluateTransitionPolicy(tt.input)
			if got.Allowed != tt.allowed {
				t.Fatalf("allowed mismatch: got=%v want=%v", got.Allowed, tt.allowed)
			}
			if got.Reason != tt.reason {
				t.Fatalf("reason mismatch: got=%s want=%s", got.Reason, tt.reason)
			}
		})
	}
}

func TestEffectiveRoleConfigOverride(t *testing.T) {
	t.Parallel()

	isSuper := func(id int64) bool { return id == 999 }

	u := models.User{TelegramID: 999, Role: models.RoleNone}
	if got := EffectiveRole(u, isSuper); got != models.RoleSuperAdmin {
		t.Fatalf("configured super admin mismatch: got=%s want=%s", got, models.RoleSuperAdmin)
	}

	u = models.User{TelegramID: 1, Role: models.RoleAdmin}
	if got := EffectiveRole(u, isSuper); got != models.RoleAdmin {
		t.Fatalf("stored role mismatch: got=%s want=%s", got, models.RoleAdmin)
	}

	u = models.User{TelegramID: 1, Role: models.Role("garbage")}
	if got := EffectiveRole(u, nil); got != models.RoleNone {
		t.Fatalf("unknown role must normalize to none, got=%s", got)
	}
}
