package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strconv"
	"strings"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/idempotency"
	"github.com/dafibh/deskflow/deskflow-backend/internal/saga"
	"github.com/dafibh/deskflow/deskflow-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	acceptWorkflow      = "accept_invitation"
	rejectWorkflow      = "reject_invitation"
	opResolveInvitation = "resolve_invitation"
)

// InvitationService issues invites and resolves them into memberships
type InvitationService struct {
	gateway        domain.ResourceGateway
	engine         *saga.Engine
	guard          *idempotency.Guard
	eventPublisher websocket.EventPublisher
	accept         []saga.Step
	reject         []saga.Step
}

// NewInvitationService creates a new InvitationService
func NewInvitationService(gateway domain.ResourceGateway, engine *saga.Engine, guard *idempotency.Guard) (*InvitationService, error) {
	accept := acceptSteps(gateway)
	if err := saga.Validate(accept); err != nil {
		return nil, err
	}
	reject := rejectSteps(gateway)
	if err := saga.Validate(reject); err != nil {
		return nil, err
	}

	return &InvitationService{
		gateway: gateway,
		engine:  engine,
		guard:   guard,
		accept:  accept,
		reject:  reject,
	}, nil
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *InvitationService) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

func (s *InvitationService) publishEvent(workspaceID uuid.UUID, event websocket.Event) {
	if s.eventPublisher != nil {
		s.eventPublisher.Publish(workspaceID, event)
	}
}

// InviteResolution is the payload of an invite.resolved event
type InviteResolution struct {
	InviteID uuid.UUID `json:"inviteId"`
	UserID   uuid.UUID `json:"userId"`
	Accepted bool      `json:"accepted"`
}

// ResolveInvitation accepts or rejects an invite on behalf of userID, whose
// email must match the invite.
// Accepting returns the membership; rejecting returns nil. Accepting an
// invite the user already holds a membership for succeeds with that
// membership.
func (s *InvitationService) ResolveInvitation(ctx context.Context, inviteID, userID uuid.UUID, accept bool, requestKey string) (*domain.Membership, error) {
	if inviteID == uuid.Nil || userID == uuid.Nil {
		return nil, fmt.Errorf("%w: invite and user are required", domain.ErrInvalidInput)
	}

	key := idempotency.Key(userID.String(), opResolveInvitation, inviteID.String(), strconv.FormatBool(accept), requestKey)
	return idempotency.Do(ctx, s.guard, key, func(ctx context.Context) (*domain.Membership, error) {
		return s.resolve(ctx, inviteID, userID, accept)
	})
}

func (s *InvitationService) resolve(ctx context.Context, inviteID, userID uuid.UUID, accept bool) (*domain.Membership, error) {
	workflow, steps := rejectWorkflow, s.reject
	if accept {
		workflow, steps = acceptWorkflow, s.accept
	}

	initial := saga.State{
		keyInviteID: inviteID,
		keyUserID:   userID,
	}

	state, err := s.engine.Run(ctx, workflow, steps, initial)
	if err != nil {
		return nil, translateInviteFailure(ctx, err, state)
	}

	invite, err := saga.Value[*domain.Invite](state, keyInvite)
	if err != nil {
		return nil, err
	}

	s.publishEvent(invite.WorkspaceID, websocket.InviteResolved(InviteResolution{
		InviteID: inviteID,
		UserID:   userID,
		Accepted: accept,
	}))

	if !accept {
		log.Info().
			Str("invite_id", inviteID.String()).
			Str("user_id", userID.String()).
			Msg("Invite rejected")
		return nil, nil
	}

	membership, err := saga.Value[*domain.Membership](state, keyMembership)
	if err != nil {
		return nil, err
	}
	if created, _ := saga.Value[bool](state, keyMembershipCreated); created {
		s.publishEvent(invite.WorkspaceID, websocket.MembershipCreated(membership))
	}

	log.Info().
		Str("invite_id", inviteID.String()).
		Str("workspace_id", invite.WorkspaceID.String()).
		Str("user_id", userID.String()).
		Msg("Invite accepted")
	return membership, nil
}

// translateInviteFailure maps an engine error onto the domain taxonomy. The
// checks before the first write fail with their own error.
func translateInviteFailure(ctx context.Context, err error, state saga.State) error {
	var failure *saga.Failure
	if !errors.As(err, &failure) {
		return fmt.Errorf("resolve invitation: %w", err)
	}

	if failure.Step == StepLoadInvite || failure.Step == StepVerifyInvitee {
		return failure.Cause
	}

	ierr := &domain.InvitationError{
		Step:       failure.Step,
		Cause:      failure.Cause,
		RolledBack: failure.RolledBack,
	}
	if inviteID, err := saga.Value[uuid.UUID](state, keyInviteID); err == nil {
		ierr.InviteID = inviteID.String()
	}
	if invite, err := saga.Value[*domain.Invite](state, keyInvite); err == nil {
		ierr.WorkspaceID = invite.WorkspaceID.String()
	}
	if len(failure.Unresolved) > 0 {
		ierr.Unresolved = make(map[string]error, len(failure.Unresolved))
		for _, u := range failure.Unresolved {
			ierr.Unresolved[u.Step] = u.Err
		}
	}

	if cerr := callerCancelled(ctx, failure); cerr != nil && ierr.Clean() {
		return fmt.Errorf("resolve invitation stopped before step %q: %w", failure.Step, cerr)
	}
	if !ierr.Clean() {
		log.Error().
			Err(ierr).
			Str("invite_id", ierr.InviteID).
			Str("workspace_id", ierr.WorkspaceID).
			Msg("Invitation rollback incomplete, reconcile required")
	}
	return ierr
}

// CreateInvite issues an invite to email on behalf of actorID, who must be an
// owner or admin of the workspace. groupID is optional and must name a group
// of the same workspace.
func (s *InvitationService) CreateInvite(ctx context.Context, actorID, workspaceID uuid.UUID, email string, role domain.Role, groupID *uuid.UUID) (*domain.Invite, error) {
	email = strings.TrimSpace(email)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return nil, domain.ErrInvalidEmail
	}
	if !role.Valid() || role == domain.RoleOwner {
		return nil, domain.ErrInvalidRole
	}
	if workspaceID == uuid.Nil {
		return nil, fmt.Errorf("%w: workspace is required", domain.ErrInvalidInput)
	}

	if err := s.authorizeInviter(ctx, actorID, workspaceID); err != nil {
		return nil, err
	}

	fields := domain.Fields{
		"workspace_id": workspaceID,
		"email":        strings.ToLower(email),
		"role":         string(role),
		"group_id":     nil,
	}
	if groupID != nil {
		_, err := s.gateway.Get(ctx, domain.KindGroup, domain.Fields{"id": *groupID, "workspace_id": workspaceID})
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: group does not belong to workspace", domain.ErrInvalidInput)
		}
		if err != nil {
			return nil, fmt.Errorf("load group: %w", err)
		}
		fields["group_id"] = *groupID
	}

	id, err := s.gateway.Insert(ctx, domain.KindInvite, fields)
	if err != nil {
		log.Error().Err(err).Str("workspace_id", workspaceID.String()).Msg("Failed to create invite")
		return nil, fmt.Errorf("create invite: %w", err)
	}

	invite := &domain.Invite{
		ID:          id,
		WorkspaceID: workspaceID,
		Email:       strings.ToLower(email),
		Role:        role,
		GroupID:     groupID,
	}
	s.publishEvent(workspaceID, websocket.InviteCreated(invite))
	return invite, nil
}

func (s *InvitationService) authorizeInviter(ctx context.Context, actorID, workspaceID uuid.UUID) error {
	if _, err := s.gateway.Get(ctx, domain.KindWorkspace, domain.Fields{"id": workspaceID}); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrWorkspaceNotFound
		}
		return fmt.Errorf("load workspace: %w", err)
	}

	row, err := s.gateway.Get(ctx, domain.KindMembership, domain.Fields{"workspace_id": workspaceID, "user_id": actorID})
	if errors.Is(err, domain.ErrNotFound) {
		return domain.ErrForbidden
	}
	if err != nil {
		return fmt.Errorf("load membership: %w", err)
	}

	switch domain.MembershipFromRow(row).Role {
	case domain.RoleOwner, domain.RoleAdmin:
		return nil
	default:
		return domain.ErrForbidden
	}
}
