package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func TestGetAuth0ID(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name     string
		setup    func(c echo.Context)
		expected string
	}{
		{
			name: "returns auth0 id when present",
			setup: func(c echo.Context) {
				ctx := context.WithValue(c.Request().Context(), Auth0IDKey, "auth0|12345")
				c.SetRequest(c.Request().WithContext(ctx))
			},
			expected: "auth0|12345",
		},
		{
			name:     "returns empty string when not present",
			setup:    func(c echo.Context) {},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			tt.setup(c)

			result := GetAuth0ID(c)
			if result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestGetClaims(t *testing.T) {
	e := echo.New()

	t.Run("returns claims when present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		claims := &validator.ValidatedClaims{
			RegisteredClaims: validator.RegisteredClaims{
				Subject: "auth0|test",
			},
		}
		ctx := context.WithValue(c.Request().Context(), ClaimsKey, claims)
		c.SetRequest(c.Request().WithContext(ctx))

		result := GetClaims(c)
		if result == nil {
			t.Fatal("Expected claims, got nil")
		}
		if result.RegisteredClaims.Subject != "auth0|test" {
			t.Errorf("Expected subject 'auth0|test', got %q", result.RegisteredClaims.Subject)
		}
	})

	t.Run("returns nil when not present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		result := GetClaims(c)
		if result != nil {
			t.Error("Expected nil, got claims")
		}
	})
}

func TestGetCustomClaims(t *testing.T) {
	e := echo.New()

	t.Run("returns custom claims when present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		customClaims := &CustomClaims{
			Email: "test@example.com",
			Name:  "Test User",
		}
		claims := &validator.ValidatedClaims{
			RegisteredClaims: validator.RegisteredClaims{
				Subject: "auth0|test",
			},
			CustomClaims: customClaims,
		}
		ctx := context.WithValue(c.Request().Context(), ClaimsKey, claims)
		c.SetRequest(c.Request().WithContext(ctx))

		result := GetCustomClaims(c)
		if result == nil {
			t.Fatal("Expected custom claims, got nil")
		}
		if result.Email != "test@example.com" {
			t.Errorf("Expected email 'test@example.com', got %q", result.Email)
		}
		if result.Name != "Test User" {
			t.Errorf("Expected name 'Test User', got %q", result.Name)
		}
	})

	t.Run("returns nil when claims not present", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		result := GetCustomClaims(c)
		if result != nil {
			t.Error("Expected nil, got custom claims")
		}
	})
}

func TestCustomClaims_Validate(t *testing.T) {
	claims := &CustomClaims{
		Email: "test@example.com",
		Name:  "Test",
	}

	err := claims.Validate(context.Background())
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

type fakeValidator struct {
	claims interface{}
	err    error
	tokens []string
}

func (f *fakeValidator) ValidateToken(ctx context.Context, token string) (interface{}, error) {
	f.tokens = append(f.tokens, token)
	return f.claims, f.err
}

type fakeUserProvider struct {
	users map[string]*domain.User
	err   error
}

func (f *fakeUserProvider) GetUserByAuth0ID(ctx context.Context, auth0ID string) (*domain.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	user, ok := f.users[auth0ID]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func claimsFor(subject string) *validator.ValidatedClaims {
	return &validator.ValidatedClaims{
		RegisteredClaims: validator.RegisteredClaims{Subject: subject},
		CustomClaims:     &CustomClaims{Email: "user@example.com"},
	}
}

func runAuthenticate(m *AuthMiddleware, header string) (*httptest.ResponseRecorder, echo.Context, bool, error) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workspaces", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := m.Authenticate()(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})(c)
	return rec, c, called, err
}

func TestAuthenticate_RejectsMalformedHeaders(t *testing.T) {
	v := &fakeValidator{claims: claimsFor("auth0|user1")}
	m := NewAuthMiddlewareWithValidator(v, nil)

	for _, header := range []string{"", "invalid-token", "Basic token123", "Bearer "} {
		t.Run(header, func(t *testing.T) {
			rec, _, called, err := runAuthenticate(m, header)
			if err != nil {
				t.Fatalf("Expected problem response, got error %v", err)
			}
			if called {
				t.Error("Handler should not be called")
			}
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", rec.Code)
			}
		})
	}

	if len(v.tokens) != 0 {
		t.Errorf("Validator should not be reached, got %v", v.tokens)
	}
}

func TestAuthenticate_InvalidToken(t *testing.T) {
	m := NewAuthMiddlewareWithValidator(&fakeValidator{err: errors.New("expired")}, nil)

	rec, _, called, err := runAuthenticate(m, "Bearer abc")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if called || rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without calling handler, got %d (called=%v)", rec.Code, called)
	}
}

func TestAuthenticate_InjectsUser(t *testing.T) {
	userID := uuid.New()
	v := &fakeValidator{claims: claimsFor("auth0|user1")}
	users := &fakeUserProvider{users: map[string]*domain.User{
		"auth0|user1": {ID: userID, Auth0ID: "auth0|user1"},
	}}
	m := NewAuthMiddlewareWithValidator(v, users)

	rec, c, called, err := runAuthenticate(m, "bearer abc")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !called || rec.Code != http.StatusOK {
		t.Fatalf("Expected handler to run, got %d", rec.Code)
	}
	if got := GetUserID(c); got != userID {
		t.Errorf("Expected user %s, got %s", userID, got)
	}
	if got := GetAuth0ID(c); got != "auth0|user1" {
		t.Errorf("Expected auth0 id, got %q", got)
	}
	if len(v.tokens) != 1 || v.tokens[0] != "abc" {
		t.Errorf("Expected token abc to be validated, got %v", v.tokens)
	}
}

func TestAuthenticate_UnknownUser(t *testing.T) {
	m := NewAuthMiddlewareWithValidator(
		&fakeValidator{claims: claimsFor("auth0|stranger")},
		&fakeUserProvider{users: map[string]*domain.User{}},
	)

	rec, _, called, err := runAuthenticate(m, "Bearer abc")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if called || rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestAuthenticate_UserLookupFailure(t *testing.T) {
	m := NewAuthMiddlewareWithValidator(
		&fakeValidator{claims: claimsFor("auth0|user1")},
		&fakeUserProvider{err: errors.New("connection refused")},
	)

	_, _, called, err := runAuthenticate(m, "Bearer abc")
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("Expected HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", httpErr.Code)
	}
	if called {
		t.Error("Handler should not be called")
	}
}

func TestValidateToken_SkipsUserLookup(t *testing.T) {
	users := &fakeUserProvider{users: map[string]*domain.User{}}
	m := NewAuthMiddlewareWithValidator(&fakeValidator{claims: claimsFor("auth0|newcomer")}, users)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/callback", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := m.ValidateToken()(func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !called {
		t.Fatalf("Expected handler to run for an unregistered subject, got %d", rec.Code)
	}
	if got := GetAuth0ID(c); got != "auth0|newcomer" {
		t.Errorf("Expected auth0 id, got %q", got)
	}
	if got := GetUserID(c); got != uuid.Nil {
		t.Errorf("Expected no user id, got %s", got)
	}
}

func TestGetUserID(t *testing.T) {
	e := echo.New()
	id := uuid.New()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	if GetUserID(c) != uuid.Nil {
		t.Error("Expected nil user without authentication")
	}

	c.SetRequest(req.WithContext(context.WithValue(req.Context(), UserIDKey, id)))
	if GetUserID(c) != id {
		t.Errorf("Expected %s, got %s", id, GetUserID(c))
	}
}
