package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// ProblemDetails represents an RFC 7807 Problem Details response
type ProblemDetails struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Errors   []ValidationError `json:"errors,omitempty"`

	// Set on provisioning and invitation failures
	Step        string   `json:"step,omitempty"`
	WorkspaceID string   `json:"workspaceId,omitempty"`
	InviteID    string   `json:"inviteId,omitempty"`
	Unresolved  []string `json:"unresolved,omitempty"`
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error types
const (
	ErrorTypeValidation          = "https://deskflow.app/errors/validation"
	ErrorTypeNotFound            = "https://deskflow.app/errors/not-found"
	ErrorTypeUnauthorized        = "https://deskflow.app/errors/unauthorized"
	ErrorTypeForbidden           = "https://deskflow.app/errors/forbidden"
	ErrorTypeConflict            = "https://deskflow.app/errors/conflict"
	ErrorTypeInternal            = "https://deskflow.app/errors/internal"
	ErrorTypeProvisioning        = "https://deskflow.app/errors/provisioning-failed"
	ErrorTypeProvisioningUnclean = "https://deskflow.app/errors/provisioning-failed-unclean"
	ErrorTypeInvitation          = "https://deskflow.app/errors/invitation-failed"
	ErrorTypeInvitationUnclean   = "https://deskflow.app/errors/invitation-failed-unclean"
	ErrorTypeUnavailable         = "https://deskflow.app/errors/unavailable"
)

// NewValidationError creates a validation error response
func NewValidationError(c echo.Context, detail string, errors []ValidationError) error {
	return c.JSON(http.StatusBadRequest, ProblemDetails{
		Type:     ErrorTypeValidation,
		Title:    "Validation Error",
		Status:   http.StatusBadRequest,
		Detail:   detail,
		Instance: c.Request().URL.Path,
		Errors:   errors,
	})
}

// NewNotFoundError creates a not found error response
func NewNotFoundError(c echo.Context, detail string) error {
	return c.JSON(http.StatusNotFound, ProblemDetails{
		Type:     ErrorTypeNotFound,
		Title:    "Not Found",
		Status:   http.StatusNotFound,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewUnauthorizedError creates an unauthorized error response
func NewUnauthorizedError(c echo.Context, detail string) error {
	return c.JSON(http.StatusUnauthorized, ProblemDetails{
		Type:     ErrorTypeUnauthorized,
		Title:    "Unauthorized",
		Status:   http.StatusUnauthorized,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewForbiddenError creates a forbidden error response
func NewForbiddenError(c echo.Context, detail string) error {
	return c.JSON(http.StatusForbidden, ProblemDetails{
		Type:     ErrorTypeForbidden,
		Title:    "Forbidden",
		Status:   http.StatusForbidden,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewConflictError creates a conflict error response
func NewConflictError(c echo.Context, detail string) error {
	return c.JSON(http.StatusConflict, ProblemDetails{
		Type:     ErrorTypeConflict,
		Title:    "Conflict",
		Status:   http.StatusConflict,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewInternalError creates an internal error response
func NewInternalError(c echo.Context, detail string) error {
	return c.JSON(http.StatusInternalServerError, ProblemDetails{
		Type:     ErrorTypeInternal,
		Title:    "Internal Server Error",
		Status:   http.StatusInternalServerError,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewUnavailableError creates a service unavailable error response
func NewUnavailableError(c echo.Context, detail string) error {
	return c.JSON(http.StatusServiceUnavailable, ProblemDetails{
		Type:     ErrorTypeUnavailable,
		Title:    "Service Unavailable",
		Status:   http.StatusServiceUnavailable,
		Detail:   detail,
		Instance: c.Request().URL.Path,
	})
}

// NewProvisioningError creates the response for a failed multi-step write. A
// clean rollback is retryable; an unclean one is not until an operator has
// reconciled the workspace.
func NewProvisioningError(c echo.Context, perr *domain.ProvisioningError) error {
	problem := ProblemDetails{
		Type:        ErrorTypeProvisioning,
		Title:       "Provisioning Failed",
		Status:      http.StatusBadGateway,
		Detail:      domain.ErrProvisioningFailed.Error(),
		Instance:    c.Request().URL.Path,
		Step:        perr.Step,
		WorkspaceID: perr.WorkspaceID,
	}
	if !perr.Clean() {
		problem.Type = ErrorTypeProvisioningUnclean
		problem.Title = "Provisioning Failed Unclean"
		problem.Status = http.StatusInternalServerError
		problem.Detail = domain.ErrProvisioningFailedUnclean.Error()
		problem.Unresolved = domain.UnresolvedSteps(perr.Unresolved)
	}
	return c.JSON(problem.Status, problem)
}

// NewInvitationError creates the response for a failed accept or reject
func NewInvitationError(c echo.Context, ierr *domain.InvitationError) error {
	problem := ProblemDetails{
		Type:        ErrorTypeInvitation,
		Title:       "Invitation Failed",
		Status:      http.StatusBadGateway,
		Detail:      domain.ErrInvitationFailed.Error(),
		Instance:    c.Request().URL.Path,
		Step:        ierr.Step,
		WorkspaceID: ierr.WorkspaceID,
		InviteID:    ierr.InviteID,
	}
	if !ierr.Clean() {
		problem.Type = ErrorTypeInvitationUnclean
		problem.Title = "Invitation Failed Unclean"
		problem.Status = http.StatusInternalServerError
		problem.Detail = domain.ErrInvitationFailedUnclean.Error()
		problem.Unresolved = domain.UnresolvedSteps(ierr.Unresolved)
	}
	return c.JSON(problem.Status, problem)
}

// handleServiceError maps service errors onto problem responses. action names
// the failed operation in logs and the internal error detail.
func handleServiceError(c echo.Context, err error, action string) error {
	var (
		perr *domain.ProvisioningError
		ierr *domain.InvitationError
	)
	switch {
	case errors.As(err, &perr):
		return NewProvisioningError(c, perr)
	case errors.As(err, &ierr):
		return NewInvitationError(c, ierr)
	case errors.Is(err, domain.ErrInvalidInput):
		return NewValidationError(c, err.Error(), nil)
	case errors.Is(err, domain.ErrWorkspaceNotFound), errors.Is(err, domain.ErrUserNotFound), errors.Is(err, domain.ErrNotFound):
		return NewNotFoundError(c, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		return NewForbiddenError(c, "You do not have permission to perform this action")
	case errors.Is(err, domain.ErrUnauthorized):
		return NewUnauthorizedError(c, "Authentication required")
	case errors.Is(err, domain.ErrConflict):
		return NewConflictError(c, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return NewUnavailableError(c, "Request was cancelled before it completed")
	}

	log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("Failed to " + action)
	return NewInternalError(c, "Failed to "+action)
}
