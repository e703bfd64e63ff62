package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/middleware"
	"github.com/dafibh/deskflow/deskflow-backend/internal/service"
	"github.com/dafibh/deskflow/deskflow-backend/internal/testutil"
	"github.com/dafibh/deskflow/deskflow-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticValidator maps known tokens to subjects
type staticValidator map[string]string

func (v staticValidator) ValidateToken(ctx context.Context, token string) (interface{}, error) {
	subject, ok := v[token]
	if !ok {
		return nil, websocket.ErrInvalidToken
	}
	return &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{Subject: subject},
		CustomClaims:     &middleware.CustomClaims{Email: strings.TrimPrefix(subject, "auth0|") + "@example.com"},
	}, nil
}

func newTestServer(t *testing.T) (*echo.Echo, *testutil.MockGateway) {
	t.Helper()
	gw := testutil.NewMockGateway()
	gw.Seed(domain.KindUser, domain.Fields{"auth0_id": "auth0|owner", "email": "owner@example.com"})

	provisioning, invitations := newTestServices(t, gw)
	users := service.NewUserService(gw)

	auth := middleware.NewAuthMiddlewareWithValidator(staticValidator{"good": "auth0|owner", "fresh": "auth0|fresh"}, users)
	limiter := middleware.NewRateLimiter()
	t.Cleanup(limiter.Stop)

	hub := websocket.NewHub()
	e := echo.New()
	RegisterRoutes(e, auth, limiter,
		NewHealthHandler(pingerFunc(func(ctx context.Context) error { return nil })),
		NewAuthHandler(service.NewAuthService(gw, provisioning)),
		NewWorkspaceHandler(provisioning),
		NewInviteHandler(invitations),
		NewWebSocketHandler(hub, &mockAuthorizer{}, testAllowedOrigins),
	)
	return e, gw
}

func TestRoutes_ProvisionThroughMiddleware(t *testing.T) {
	e, gw := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces", strings.NewReader(`{"name":"Acme"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer good")
	req.Header.Set(HeaderIdempotencyKey, "req-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	owner := gw.Rows(domain.KindUser, domain.Fields{"auth0_id": "auth0|owner"})
	require.Len(t, owner, 1)
	assert.Equal(t, 1, gw.Count(domain.KindWorkspace, domain.Fields{"owner_id": owner[0].ID()}))
}

func TestRoutes_RejectsBadToken(t *testing.T) {
	e, gw := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/workspaces", strings.NewReader(`{"name":"Acme"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(echo.HeaderAuthorization, "Bearer bad")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, 0, gw.Count(domain.KindWorkspace, nil))
}

func TestRoutes_Public(t *testing.T) {
	e, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/invites/"+uuid.NewString()+"/accept", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "invite routes require authentication")
}

func TestRoutes_SignInFlow(t *testing.T) {
	e, gw := newTestServer(t)

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer fresh")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec
	}

	// unknown until the callback has run
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/api/v1/auth/me").Code)

	rec := do(http.MethodPost, "/api/v1/auth/callback")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"isNewUser":true`)
	assert.Equal(t, 1, gw.Count(domain.KindUser, domain.Fields{"auth0_id": "auth0|fresh"}))

	rec = do(http.MethodGet, "/api/v1/auth/me")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"role":"owner"`)
}
