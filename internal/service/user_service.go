package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/google/uuid"
)

// UserService resolves authenticated identities
type UserService struct {
	gateway domain.ResourceGateway
}

// NewUserService creates a new UserService
func NewUserService(gateway domain.ResourceGateway) *UserService {
	return &UserService{gateway: gateway}
}

// GetUserByAuth0ID retrieves a user by their Auth0 subject
func (s *UserService) GetUserByAuth0ID(ctx context.Context, auth0ID string) (*domain.User, error) {
	row, err := s.gateway.Get(ctx, domain.KindUser, domain.Fields{"auth0_id": auth0ID})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return domain.UserFromRow(row), nil
}

// IsMember reports whether the user behind auth0ID belongs to workspaceID
func (s *UserService) IsMember(ctx context.Context, auth0ID string, workspaceID uuid.UUID) (bool, error) {
	user, err := s.GetUserByAuth0ID(ctx, auth0ID)
	if errors.Is(err, domain.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	_, err = s.gateway.Get(ctx, domain.KindMembership, domain.Fields{"workspace_id": workspaceID, "user_id": user.ID})
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load membership: %w", err)
	}
	return true, nil
}
