package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/saga"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Invitation step names
const (
	StepLoadInvite            = "load_invite"
	StepVerifyInvitee         = "verify_invitee"
	StepCreateMembership      = "create_membership"
	StepCreateGroupMembership = "create_group_membership"
	StepDeleteInvite          = "delete_invite"
)

// Saga state keys shared by the invitation steps
const (
	keyInviteID            = "invite_id"
	keyUserID              = "user_id"
	keyInvite              = "invite"
	keyMembership          = "membership"
	keyMembershipCreated   = "membership_created"
	keyInviteGroupMemberID = "group_membership_id"
	keyGroupMemberCreated  = "group_membership_created"
)

// acceptSteps declares the accept path. Deleting the invite comes last so a
// consumed invite always has its membership in place.
func acceptSteps(gw domain.ResourceGateway) []saga.Step {
	return []saga.Step{
		{Name: StepLoadInvite, Execute: loadInvite(gw)},
		{Name: StepVerifyInvitee, Execute: verifyInvitee(gw)},
		{
			Name:       StepCreateMembership,
			Execute:    createMembership(gw),
			Compensate: undoMembership(gw),
		},
		{
			Name:       StepCreateGroupMembership,
			Execute:    createInviteGroupMembership(gw),
			Compensate: undoInviteGroupMembership(gw),
		},
		{Name: StepDeleteInvite, Execute: deleteInvite(gw)},
	}
}

// rejectSteps declares the reject path
func rejectSteps(gw domain.ResourceGateway) []saga.Step {
	return []saga.Step{
		{Name: StepLoadInvite, Execute: loadInvite(gw)},
		{Name: StepVerifyInvitee, Execute: verifyInvitee(gw)},
		{Name: StepDeleteInvite, Execute: deleteInvite(gw)},
	}
}

func loadInvite(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		inviteID, err := saga.Value[uuid.UUID](state, keyInviteID)
		if err != nil {
			return err
		}

		row, err := gw.Get(ctx, domain.KindInvite, domain.Fields{"id": inviteID})
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInviteNotFound
		}
		if err != nil {
			return fmt.Errorf("load invite: %w", err)
		}

		invite := domain.InviteFromRow(row)
		if !invite.Role.Valid() || invite.Role == domain.RoleOwner {
			return fmt.Errorf("invite %s: %w", invite.ID, domain.ErrInvalidRole)
		}
		state[keyInvite] = invite
		return nil
	}
}

// verifyInvitee checks that the invite was addressed to the resolving user
func verifyInvitee(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		invite, err := saga.Value[*domain.Invite](state, keyInvite)
		if err != nil {
			return err
		}
		userID, err := saga.Value[uuid.UUID](state, keyUserID)
		if err != nil {
			return err
		}

		row, err := gw.Get(ctx, domain.KindUser, domain.Fields{"id": userID})
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrUserNotFound
		}
		if err != nil {
			return fmt.Errorf("load user: %w", err)
		}

		if !strings.EqualFold(strings.TrimSpace(row.String("email")), invite.Email) {
			return fmt.Errorf("%w: invite %s is addressed to another email", domain.ErrForbidden, invite.ID)
		}
		return nil
	}
}

// createMembership grants the invite's role. If the user is already a member
// (a concurrent or repeated accept) the existing row is used and nothing is
// recorded for compensation.
func createMembership(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		invite, err := saga.Value[*domain.Invite](state, keyInvite)
		if err != nil {
			return err
		}
		userID, err := saga.Value[uuid.UUID](state, keyUserID)
		if err != nil {
			return err
		}

		membership := &domain.Membership{
			WorkspaceID: invite.WorkspaceID,
			UserID:      userID,
			Role:        invite.Role,
		}

		id, err := gw.Insert(ctx, domain.KindMembership, domain.Fields{
			"workspace_id": invite.WorkspaceID,
			"user_id":      userID,
			"role":         string(invite.Role),
		})
		switch {
		case err == nil:
			membership.ID = id
			state[keyMembershipCreated] = true
		case errors.Is(err, domain.ErrConflict):
			row, getErr := gw.Get(ctx, domain.KindMembership, domain.Fields{
				"workspace_id": invite.WorkspaceID,
				"user_id":      userID,
			})
			if getErr != nil {
				return fmt.Errorf("load existing membership: %w", getErr)
			}
			membership = domain.MembershipFromRow(row)
			state[keyMembershipCreated] = false
		default:
			return fmt.Errorf("create membership: %w", err)
		}

		state[keyMembership] = membership
		return nil
	}
}

// undoMembership removes the membership this run created, unless the invite
// is already consumed. A concurrent accept of the same invite adopts the
// membership on conflict and may have consumed the invite relying on it.
func undoMembership(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		if created, _ := saga.Value[bool](state, keyMembershipCreated); !created {
			return nil
		}
		membership, err := saga.Value[*domain.Membership](state, keyMembership)
		if err != nil {
			return err
		}
		invite, err := saga.Value[*domain.Invite](state, keyInvite)
		if err != nil {
			return err
		}

		_, err = gw.Get(ctx, domain.KindInvite, domain.Fields{"id": invite.ID})
		if errors.Is(err, domain.ErrNotFound) {
			log.Info().
				Str("invite_id", invite.ID.String()).
				Str("membership_id", membership.ID.String()).
				Msg("Invite consumed by another accept, keeping membership")
			return nil
		}
		if err != nil {
			return fmt.Errorf("check invite: %w", err)
		}
		return deleteRow(ctx, gw, domain.KindMembership, membership.ID)
	}
}

func createInviteGroupMembership(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		invite, err := saga.Value[*domain.Invite](state, keyInvite)
		if err != nil {
			return err
		}
		if invite.GroupID == nil {
			return nil
		}
		userID, err := saga.Value[uuid.UUID](state, keyUserID)
		if err != nil {
			return err
		}

		id, err := gw.Insert(ctx, domain.KindGroupMembership, domain.Fields{
			"workspace_id": invite.WorkspaceID,
			"group_id":     *invite.GroupID,
			"user_id":      userID,
		})
		switch {
		case err == nil:
			state[keyInviteGroupMemberID] = id
			state[keyGroupMemberCreated] = true
		case errors.Is(err, domain.ErrConflict):
			state[keyGroupMemberCreated] = false
		default:
			return fmt.Errorf("create group membership: %w", err)
		}
		return nil
	}
}

func undoInviteGroupMembership(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		if created, _ := saga.Value[bool](state, keyGroupMemberCreated); !created {
			return nil
		}
		id, err := saga.Value[uuid.UUID](state, keyInviteGroupMemberID)
		if err != nil {
			return err
		}
		return deleteRow(ctx, gw, domain.KindGroupMembership, id)
	}
}

// deleteInvite consumes the invite. An invite that is already gone was
// consumed by a concurrent resolution, which is the outcome we want.
func deleteInvite(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		invite, err := saga.Value[*domain.Invite](state, keyInvite)
		if err != nil {
			return err
		}
		if err := gw.Delete(ctx, domain.KindInvite, invite.ID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("delete invite: %w", err)
		}
		return nil
	}
}
