package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// WorkspaceService handles workspace maintenance outside the provisioning saga
type WorkspaceService struct {
	gateway domain.ResourceGateway
}

// NewWorkspaceService creates a new WorkspaceService
func NewWorkspaceService(gateway domain.ResourceGateway) *WorkspaceService {
	return &WorkspaceService{gateway: gateway}
}

// PurgeResult counts the rows removed per kind
type PurgeResult map[domain.Kind]int

// Total returns the number of rows removed
func (r PurgeResult) Total() int {
	n := 0
	for _, c := range r {
		n += c
	}
	return n
}

// PurgeWorkspace deletes every row scoped to a workspace, dependents first,
// and then the workspace itself. It is the operator remedy for a rollback
// that could not complete and is safe to run repeatedly.
func (s *WorkspaceService) PurgeWorkspace(ctx context.Context, workspaceID uuid.UUID) (PurgeResult, error) {
	if workspaceID == uuid.Nil {
		return nil, fmt.Errorf("%w: workspace is required", domain.ErrInvalidInput)
	}

	result := make(PurgeResult)
	for _, kind := range domain.TenantKinds {
		rows, err := s.gateway.Query(ctx, kind, domain.Fields{"workspace_id": workspaceID})
		if err != nil {
			return result, fmt.Errorf("query %s: %w", kind, err)
		}
		for _, row := range rows {
			if err := deleteRow(ctx, s.gateway, kind, row.ID()); err != nil {
				return result, err
			}
			result[kind]++
		}
	}

	err := s.gateway.Delete(ctx, domain.KindWorkspace, workspaceID)
	switch {
	case err == nil:
		result[domain.KindWorkspace]++
	case !errors.Is(err, domain.ErrNotFound):
		return result, fmt.Errorf("delete workspace: %w", err)
	}

	log.Info().
		Str("workspace_id", workspaceID.String()).
		Int("rows", result.Total()).
		Msg("Workspace purged")
	return result, nil
}
