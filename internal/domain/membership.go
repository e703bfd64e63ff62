package domain

import (
	"github.com/google/uuid"
)

// Role is a member's permission level within a workspace
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Membership grants a user a role in a workspace. Unique per (workspace, user).
type Membership struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
	UserID      uuid.UUID `json:"userId"`
	Role        Role      `json:"role"`
}

// MembershipFromRow converts a stored memberships row
func MembershipFromRow(r Row) *Membership {
	return &Membership{
		ID:          r.ID(),
		WorkspaceID: r.UUID("workspace_id"),
		UserID:      r.UUID("user_id"),
		Role:        Role(r.String("role")),
	}
}

// GroupMembership places a user in a group. Unique per (group, user).
type GroupMembership struct {
	ID          uuid.UUID `json:"id"`
	WorkspaceID uuid.UUID `json:"workspaceId"`
	GroupID     uuid.UUID `json:"groupId"`
	UserID      uuid.UUID `json:"userId"`
}

// Invite is a pending offer of membership. It is deleted once accepted or rejected.
type Invite struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspaceId"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	GroupID     *uuid.UUID `json:"groupId,omitempty"`
}

// InviteFromRow converts a stored invites row
func InviteFromRow(r Row) *Invite {
	inv := &Invite{
		ID:          r.ID(),
		WorkspaceID: r.UUID("workspace_id"),
		Email:       r.String("email"),
		Role:        Role(r.String("role")),
	}
	if groupID := r.UUID("group_id"); groupID != uuid.Nil {
		inv.GroupID = &groupID
	}
	return inv
}
