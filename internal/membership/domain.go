// Package membership is the permission facade: it maps coarse
// actions to minimum roles, consults the policy engine, and turns
// successful mutations into signed records.
package membership

import (
	"errors"

	"github.com/odyssey-erp/quorum/internal/record"
)

// Action is a coarse, caller-facing permission gate.
type Action string

// Actions.
const (
	ActionTaskRead     Action = "TASK_READ"
	ActionTaskWrite    Action = "TASK_WRITE"
	ActionInviteCreate Action = "INVITE_CREATE"
	ActionRoleSet      Action = "ROLE_SET"
)

// Policy operation names for membership mutations.
const (
	OpAddMember    = "membership.add"
	OpRemoveMember = "membership.remove"
	OpSetRole      = "membership.setRole"
)

var actionMinRole = map[Action]record.Role{
	ActionTaskRead:     record.RoleViewer,
	ActionTaskWrite:    record.RoleMember,
	ActionInviteCreate: record.RoleAdmin,
	ActionRoleSet:      record.RoleAdmin,
}

var actionOperation = map[Action]string{
	ActionTaskRead:     "task.read",
	ActionTaskWrite:    "task.write",
	ActionInviteCreate: "invite.create",
	ActionRoleSet:      "role.set",
}

// MinRole returns the minimum role the action requires.
func (a Action) MinRole() (record.Role, bool) {
	role, ok := actionMinRole[a]
	return role, ok
}

// Operation returns the policy operation name for the action.
func (a Action) Operation() string {
	return actionOperation[a]
}

// Sentinel errors.
var (
	// ErrAccessDenied means the static role check failed.
	ErrAccessDenied = errors.New("membership: access denied")
	// ErrNotFound means the target user is not a member.
	ErrNotFound = errors.New("membership: member not found")
	// ErrUnknownAction means the action is not a defined gate.
	ErrUnknownAction = errors.New("membership: unknown action")
	// ErrInvalidRole means the requested role is not one of the four.
	ErrInvalidRole = errors.New("membership: invalid role")
)
