package handler

import (
	"context"
	"net/http"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/middleware"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// InvitationResolver is the part of the invitation service the handler needs
type InvitationResolver interface {
	CreateInvite(ctx context.Context, actorID, workspaceID uuid.UUID, email string, role domain.Role, groupID *uuid.UUID) (*domain.Invite, error)
	ResolveInvitation(ctx context.Context, inviteID, userID uuid.UUID, accept bool, requestKey string) (*domain.Membership, error)
}

// InviteHandler handles invite-related HTTP requests
type InviteHandler struct {
	invitations InvitationResolver
}

// NewInviteHandler creates a new InviteHandler
func NewInviteHandler(invitations InvitationResolver) *InviteHandler {
	return &InviteHandler{invitations: invitations}
}

// CreateInviteRequest represents the create invite request
type CreateInviteRequest struct {
	Email   string     `json:"email"`
	Role    string     `json:"role"`
	GroupID *uuid.UUID `json:"groupId"`
}

// CreateInvite handles POST /workspaces/:workspaceId/invites
func (h *InviteHandler) CreateInvite(c echo.Context) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return NewUnauthorizedError(c, "Authentication required")
	}

	workspaceID, err := uuid.Parse(c.Param("workspaceId"))
	if err != nil {
		return NewValidationError(c, "Invalid workspace ID", nil)
	}

	var req CreateInviteRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	var errs []ValidationError
	if req.Email == "" {
		errs = append(errs, ValidationError{Field: "email", Message: "Email is required"})
	}
	if req.Role == "" {
		errs = append(errs, ValidationError{Field: "role", Message: "Role is required"})
	}
	if len(errs) > 0 {
		return NewValidationError(c, "Validation failed", errs)
	}

	invite, err := h.invitations.CreateInvite(c.Request().Context(), userID, workspaceID, req.Email, domain.Role(req.Role), req.GroupID)
	if err != nil {
		return handleServiceError(c, err, "create invite")
	}

	return c.JSON(http.StatusCreated, invite)
}

// AcceptInvite handles POST /invites/:id/accept
func (h *InviteHandler) AcceptInvite(c echo.Context) error {
	return h.resolve(c, true)
}

// RejectInvite handles POST /invites/:id/reject
func (h *InviteHandler) RejectInvite(c echo.Context) error {
	return h.resolve(c, false)
}

func (h *InviteHandler) resolve(c echo.Context, accept bool) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return NewUnauthorizedError(c, "Authentication required")
	}

	inviteID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return NewValidationError(c, "Invalid invite ID", nil)
	}

	requestKey, ok := idempotencyKey(c)
	if !ok {
		return NewValidationError(c, "Validation failed", []ValidationError{
			{Field: HeaderIdempotencyKey, Message: "Idempotency key must be at most 255 characters"},
		})
	}

	membership, err := h.invitations.ResolveInvitation(c.Request().Context(), inviteID, userID, accept, requestKey)
	if err != nil {
		action := "reject invite"
		if accept {
			action = "accept invite"
		}
		return handleServiceError(c, err, action)
	}

	if !accept {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, membership)
}
