package handler

import (
	"net/http"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/middleware"
	"github.com/dafibh/deskflow/deskflow-backend/internal/service"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{
		authService: authService,
	}
}

// AuthResponse represents the signed-in user and the workspaces they belong to
type AuthResponse struct {
	User        *domain.User         `json:"user"`
	Memberships []*domain.Membership `json:"memberships"`
	IsNewUser   bool                 `json:"isNewUser"`
}

func authResponse(result *service.AuthResult) AuthResponse {
	return AuthResponse{
		User:        result.User,
		Memberships: result.Memberships,
		IsNewUser:   result.IsNewUser,
	}
}

// Callback handles the Auth0 callback after successful authentication.
// The frontend calls it once it holds a token; the first call creates the
// user and their default workspace.
// POST /api/v1/auth/callback
func (h *AuthHandler) Callback(c echo.Context) error {
	auth0ID := middleware.GetAuth0ID(c)
	if auth0ID == "" {
		log.Error().Msg("No Auth0 ID in context - middleware may not be configured")
		return NewUnauthorizedError(c, "Authentication required")
	}

	var email, name string
	if claims := middleware.GetCustomClaims(c); claims != nil {
		email = claims.Email
		name = claims.Name
	}

	// Email is required for user creation
	if email == "" {
		log.Warn().Str("auth0_id", auth0ID).Msg("No email in JWT claims")
		return NewValidationError(c, "Email is required for authentication", []ValidationError{
			{Field: "email", Message: "Email claim is missing from token"},
		})
	}

	result, err := h.authService.AuthenticateUser(c.Request().Context(), auth0ID, email, name)
	if err != nil {
		return handleServiceError(c, err, "authenticate user")
	}

	return c.JSON(http.StatusOK, authResponse(result))
}

// Me returns the current authenticated user's information
// GET /api/v1/auth/me
func (h *AuthHandler) Me(c echo.Context) error {
	auth0ID := middleware.GetAuth0ID(c)
	if auth0ID == "" {
		return NewUnauthorizedError(c, "Authentication required")
	}

	result, err := h.authService.GetSession(c.Request().Context(), auth0ID)
	if err != nil {
		return handleServiceError(c, err, "load session")
	}

	return c.JSON(http.StatusOK, authResponse(result))
}

// LogoutResponse represents the response from logout
type LogoutResponse struct {
	Message string `json:"message"`
}

// Logout handles user logout. Auth0 terminates the session; this only
// records the event.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c echo.Context) error {
	auth0ID := middleware.GetAuth0ID(c)
	if auth0ID == "" {
		return NewUnauthorizedError(c, "Authentication required")
	}

	log.Info().Str("auth0_id", auth0ID).Msg("User logged out")

	return c.JSON(http.StatusOK, LogoutResponse{
		Message: "Logged out successfully",
	})
}
