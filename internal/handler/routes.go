package handler

import (
	"github.com/dafibh/deskflow/deskflow-backend/internal/middleware"
	"github.com/labstack/echo/v4"
)

// RegisterRoutes sets up all API routes
func RegisterRoutes(e *echo.Echo, authMiddleware *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter, healthHandler *HealthHandler, authHandler *AuthHandler, workspaceHandler *WorkspaceHandler, inviteHandler *InviteHandler, wsHandler *WebSocketHandler) {
	e.GET("/health", healthHandler.Health)

	// The websocket authenticates with a query token, not a header
	e.GET("/ws", wsHandler.HandleWS)

	// API version 1
	api := e.Group("/api/v1")

	// The callback creates the user, so it only needs a valid token
	api.POST("/auth/callback", authHandler.Callback, authMiddleware.ValidateToken())

	protected := api.Group("")
	protected.Use(authMiddleware.Authenticate())
	protected.Use(middleware.RateLimitMiddleware(rateLimiter))

	// Auth routes (protected)
	protected.GET("/auth/me", authHandler.Me)
	protected.POST("/auth/logout", authHandler.Logout)

	// Workspace routes (protected)
	workspaces := protected.Group("/workspaces")
	workspaces.POST("", workspaceHandler.CreateWorkspace)
	workspaces.POST("/:workspaceId/invites", inviteHandler.CreateInvite)

	// Invite routes (protected)
	invites := protected.Group("/invites")
	invites.POST("/:id/accept", inviteHandler.AcceptInvite)
	invites.POST("/:id/reject", inviteHandler.RejectInvite)
}
