package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultWorkspaceName names the workspace provisioned on first sign-in
	DefaultWorkspaceName = "Support"

	// signupRequestKey makes the first-sign-in provisioning safe to repeat
	signupRequestKey = "signup"
)

// AuthService handles authentication-related business logic
type AuthService struct {
	gateway     domain.ResourceGateway
	users       *UserService
	provisioner *ProvisioningService
}

// NewAuthService creates a new AuthService
func NewAuthService(gateway domain.ResourceGateway, provisioner *ProvisioningService) *AuthService {
	return &AuthService{
		gateway:     gateway,
		users:       NewUserService(gateway),
		provisioner: provisioner,
	}
}

// AuthResult represents the result of an authentication operation
type AuthResult struct {
	User        *domain.User
	Memberships []*domain.Membership
	IsNewUser   bool
}

// AuthenticateUser handles the sign-in callback. It creates the user on
// first sign-in and, while the user belongs to no workspace, provisions a
// default one they own.
func (s *AuthService) AuthenticateUser(ctx context.Context, auth0ID, email, name string) (*AuthResult, error) {
	auth0ID = strings.TrimSpace(auth0ID)
	email = strings.ToLower(strings.TrimSpace(email))
	if auth0ID == "" || email == "" {
		return nil, fmt.Errorf("%w: subject and email are required", domain.ErrInvalidInput)
	}

	user, created, err := s.getOrCreateUser(ctx, auth0ID, email, strings.TrimSpace(name))
	if err != nil {
		log.Error().Err(err).Str("auth0_id", auth0ID).Msg("Failed to create or get user")
		return nil, err
	}

	memberships, err := s.Memberships(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	if len(memberships) == 0 {
		result, err := s.provisioner.ProvisionWorkspace(ctx, DefaultWorkspaceName, user.ID, signupRequestKey)
		if err != nil {
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to create default workspace")
			return nil, err
		}
		if result.OwnerMembership != nil {
			memberships = append(memberships, result.OwnerMembership)
		}
		log.Info().
			Str("user_id", user.ID.String()).
			Str("workspace_id", result.Workspace.ID.String()).
			Msg("Created default workspace")
	}

	return &AuthResult{
		User:        user,
		Memberships: memberships,
		IsNewUser:   created,
	}, nil
}

func (s *AuthService) getOrCreateUser(ctx context.Context, auth0ID, email, name string) (*domain.User, bool, error) {
	user, err := s.users.GetUserByAuth0ID(ctx, auth0ID)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, domain.ErrUserNotFound) {
		return nil, false, err
	}

	id, err := s.gateway.Insert(ctx, domain.KindUser, domain.Fields{
		"auth0_id": auth0ID,
		"email":    email,
		"name":     name,
	})
	if errors.Is(err, domain.ErrConflict) {
		// concurrent first sign-in
		user, err := s.users.GetUserByAuth0ID(ctx, auth0ID)
		return user, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	log.Info().Str("user_id", id.String()).Msg("Created new user")
	return &domain.User{ID: id, Auth0ID: auth0ID, Email: email, Name: name}, true, nil
}

// GetSession returns the user behind auth0ID with their memberships
func (s *AuthService) GetSession(ctx context.Context, auth0ID string) (*AuthResult, error) {
	user, err := s.users.GetUserByAuth0ID(ctx, auth0ID)
	if err != nil {
		return nil, err
	}
	memberships, err := s.Memberships(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &AuthResult{User: user, Memberships: memberships}, nil
}

// Memberships lists the workspaces userID belongs to, oldest first
func (s *AuthService) Memberships(ctx context.Context, userID uuid.UUID) ([]*domain.Membership, error) {
	rows, err := s.gateway.Query(ctx, domain.KindMembership, domain.Fields{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("load memberships: %w", err)
	}
	memberships := make([]*domain.Membership, 0, len(rows))
	for _, row := range rows {
		memberships = append(memberships, domain.MembershipFromRow(row))
	}
	return memberships, nil
}
