package websocket

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned when JWT validation fails
var ErrInvalidToken = errors.New("invalid token")

// ErrNotMember is returned when the token's user does not belong to the
// requested workspace
var ErrNotMember = errors.New("not a member of workspace")

// MembershipChecker reports whether the user behind an Auth0 subject is a
// member of a workspace
type MembershipChecker interface {
	IsMember(ctx context.Context, auth0ID string, workspaceID uuid.UUID) (bool, error)
}

// CustomClaims contains the custom claims from Auth0 JWT
type CustomClaims struct{}

// Validate implements validator.CustomClaims
func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

// Auth0JWTValidator authorizes websocket subscriptions. Browsers cannot set
// headers on the upgrade request, so the token arrives as a query parameter.
type Auth0JWTValidator struct {
	validator *validator.Validator
	members   MembershipChecker
}

// NewAuth0JWTValidator creates a new Auth0JWTValidator
func NewAuth0JWTValidator(domain, audience string, members MembershipChecker) (*Auth0JWTValidator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, err
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	jwtValidator, err := validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(func() validator.CustomClaims {
			return &CustomClaims{}
		}),
		validator.WithAllowedClockSkew(time.Minute),
	)
	if err != nil {
		return nil, err
	}

	return &Auth0JWTValidator{
		validator: jwtValidator,
		members:   members,
	}, nil
}

// Authorize validates token and checks that its subject may subscribe to workspaceID
func (v *Auth0JWTValidator) Authorize(ctx context.Context, token string, workspaceID uuid.UUID) error {
	claims, err := v.validator.ValidateToken(ctx, token)
	if err != nil {
		return ErrInvalidToken
	}

	validatedClaims, ok := claims.(*validator.ValidatedClaims)
	if !ok {
		return ErrInvalidToken
	}

	return authorizeSubject(ctx, v.members, validatedClaims.RegisteredClaims.Subject, workspaceID)
}

func authorizeSubject(ctx context.Context, members MembershipChecker, auth0ID string, workspaceID uuid.UUID) error {
	ok, err := members.IsMember(ctx, auth0ID, workspaceID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}
