package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/middleware"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderIdempotencyKey lets clients retry a write safely
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLength = 255

// WorkspaceProvisioner is the part of the provisioning service the handler needs
type WorkspaceProvisioner interface {
	ProvisionWorkspace(ctx context.Context, name string, ownerID uuid.UUID, requestKey string) (*domain.ProvisionResult, error)
}

// WorkspaceHandler handles workspace-related HTTP requests
type WorkspaceHandler struct {
	provisioner WorkspaceProvisioner
}

// NewWorkspaceHandler creates a new WorkspaceHandler
func NewWorkspaceHandler(provisioner WorkspaceProvisioner) *WorkspaceHandler {
	return &WorkspaceHandler{provisioner: provisioner}
}

// CreateWorkspaceRequest represents the create workspace request
type CreateWorkspaceRequest struct {
	Name string `json:"name"`
}

// CreateWorkspace handles POST /workspaces
func (h *WorkspaceHandler) CreateWorkspace(c echo.Context) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return NewUnauthorizedError(c, "Authentication required")
	}

	var req CreateWorkspaceRequest
	if err := c.Bind(&req); err != nil {
		return NewValidationError(c, "Invalid request body", nil)
	}

	requestKey, ok := idempotencyKey(c)
	if !ok {
		return NewValidationError(c, "Validation failed", []ValidationError{
			{Field: HeaderIdempotencyKey, Message: "Idempotency key must be at most 255 characters"},
		})
	}

	result, err := h.provisioner.ProvisionWorkspace(c.Request().Context(), req.Name, userID, requestKey)
	if err != nil {
		return handleServiceError(c, err, "create workspace")
	}

	status := http.StatusCreated
	if result.AlreadyProvisioned {
		status = http.StatusOK
	}
	return c.JSON(status, result)
}

func idempotencyKey(c echo.Context) (string, bool) {
	key := strings.TrimSpace(c.Request().Header.Get(HeaderIdempotencyKey))
	return key, len(key) <= maxIdempotencyKeyLength
}
