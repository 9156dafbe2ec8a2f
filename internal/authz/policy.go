package authz

import (
	"fok-catalog/go-backend/pkg/models"
)

// TransitionPolicyReason describes why the policy returned a specific verdict.
type TransitionPolicyReason string

const (
	TransitionReasonAdmin       TransitionPolicyReason = "admin"
	TransitionReasonOwnerCancel TransitionPolicyReason = "owner_cancel"
	TransitionReasonNotOwner    TransitionPolicyReason = "not_owner"
	TransitionReasonRoleDenied  TransitionPolicyReason = "role_denied"
)

// TransitionPolicyInput contains all fields required to gate a transition.
// Graph validity is the lifecycle service's concern; this policy only
// answers who may drive an edge.
type TransitionPolicyInput struct {
	Role    models.Role
	IsOwner bool
	From    models.ApplicationStatus
	To      models.ApplicationStatus
}

// TransitionPolicyDecision is the result of transition policy evaluation.
type TransitionPolicyDecision struct {
	Allowed bool
	Reason  TransitionPolicyReason
}

// EvaluateTransitionPolicy applies the role gate:
// admins may drive any edge, owners may only cancel their own pending
// application, everyone else is denied.
func EvaluateTransitionPolicy(input TransitionPolicyInput) TransitionPolicyDecision {
	if input.Role == models.RoleAdmin || input.Role == models.RoleSuperAdmin {
		return TransitionPolicyDecision{Allowed: true, Reason: TransitionReasonAdmin}
	}
	if input.From == models.StatusPending && input.To == models.StatusCancelled {
		if input.IsOwner {
			return TransitionPolicyDecision{Allowed: true, Reason: TransitionReasonOwnerCancel}
		}
		return TransitionPolicyDecision{Allowed: false, Reason: TransitionReasonNotOwner}
	}
	return TransitionPolicyDecision{Allowed: false, Reason: TransitionReasonRoleDenied}
}

// EffectiveRole resolves the role the rest of the system should trust. The
// configured super-admin list wins over whatever the document says, so a
// wiped database never locks the operators out.
func EffectiveRole(u models.User, isSuperAdmin func(int64) bool) models.Role {
	if isSuperAdmin != nil && isSuperAdmin(u.TelegramID) {
		return models.RoleSuperAdmin
	}
	return models.NormalizeRole(string(u.Role))
}
