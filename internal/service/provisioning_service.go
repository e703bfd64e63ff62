package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/idempotency"
	"github.com/dafibh/deskflow/deskflow-backend/internal/saga"
	"github.com/dafibh/deskflow/deskflow-backend/internal/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	provisioningWorkflow = "provision_workspace"
	opProvisionWorkspace = "provision_workspace"

	// inFlightWindow is how long an incomplete workspace is assumed to belong
	// to a run that is still going. Older ones are residue of a failed
	// rollback.
	inFlightWindow = 10 * time.Minute
)

// ProvisioningService creates fully configured workspaces
type ProvisioningService struct {
	gateway        domain.ResourceGateway
	engine         *saga.Engine
	guard          *idempotency.Guard
	eventPublisher websocket.EventPublisher
	steps          []saga.Step
	now            func() time.Time
}

// NewProvisioningService creates a new ProvisioningService. It fails if the
// workflow definition or the default catalogs are inconsistent.
func NewProvisioningService(gateway domain.ResourceGateway, engine *saga.Engine, guard *idempotency.Guard) (*ProvisioningService, error) {
	if err := validateCatalogs(); err != nil {
		return nil, err
	}
	steps := provisioningSteps(gateway)
	if err := saga.Validate(steps); err != nil {
		return nil, err
	}

	return &ProvisioningService{
		gateway: gateway,
		engine:  engine,
		guard:   guard,
		steps:   steps,
		now:     time.Now,
	}, nil
}

// SetEventPublisher sets the event publisher for real-time updates
func (s *ProvisioningService) SetEventPublisher(publisher websocket.EventPublisher) {
	s.eventPublisher = publisher
}

func (s *ProvisioningService) publishEvent(workspaceID uuid.UUID, event websocket.Event) {
	if s.eventPublisher != nil {
		s.eventPublisher.Publish(workspaceID, event)
	}
}

// ProvisionWorkspace creates a workspace owned by ownerID together with its
// owner membership, ticket configuration, default catalogs and sample
// content. Either everything exists afterwards or nothing does.
//
// Repeated calls with the same owner, name and requestKey return the
// workspace created by the first call.
func (s *ProvisioningService) ProvisionWorkspace(ctx context.Context, name string, ownerID uuid.UUID, requestKey string) (*domain.ProvisionResult, error) {
	name = strings.TrimSpace(name)
	if err := validateProvisionInput(name, ownerID); err != nil {
		return nil, err
	}

	key := idempotency.Key(ownerID.String(), opProvisionWorkspace, name, requestKey)
	return idempotency.Do(ctx, s.guard, key, func(ctx context.Context) (*domain.ProvisionResult, error) {
		return s.provision(ctx, name, ownerID, requestKey)
	})
}

func validateProvisionInput(name string, ownerID uuid.UUID) error {
	if name == "" {
		return domain.ErrNameRequired
	}
	if utf8.RuneCountInString(name) > domain.MaxWorkspaceNameLength {
		return domain.ErrNameTooLong
	}
	if ownerID == uuid.Nil {
		return domain.ErrOwnerRequired
	}
	return nil
}

func (s *ProvisioningService) provision(ctx context.Context, name string, ownerID uuid.UUID, requestKey string) (*domain.ProvisionResult, error) {
	if requestKey != "" {
		existing, err := s.findByRequestKey(ctx, ownerID, requestKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return s.existingResult(ctx, existing, name)
		}
	}

	initial := saga.State{
		keyName:       name,
		keyOwnerID:    ownerID,
		keyRequestKey: requestKey,
	}

	state, err := s.engine.Run(ctx, provisioningWorkflow, s.steps, initial)
	if err != nil {
		return nil, s.translateFailure(ctx, err, state)
	}

	result, err := provisionResult(state)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("workspace_id", result.Workspace.ID.String()).
		Str("owner_id", ownerID.String()).
		Msg("Workspace provisioned")

	s.publishEvent(result.Workspace.ID, websocket.WorkspaceProvisioned(result))
	return result, nil
}

func (s *ProvisioningService) findByRequestKey(ctx context.Context, ownerID uuid.UUID, requestKey string) (*domain.Workspace, error) {
	row, err := s.gateway.Get(ctx, domain.KindWorkspace, domain.Fields{
		"owner_id":    ownerID,
		"request_key": requestKey,
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up workspace by request key: %w", err)
	}
	return domain.WorkspaceFromRow(row), nil
}

// existingResult reports the workspace an earlier run created for the same
// request key. It only succeeds when every provisioned row is in place.
func (s *ProvisioningService) existingResult(ctx context.Context, ws *domain.Workspace, name string) (*domain.ProvisionResult, error) {
	if ws.Name != name {
		return nil, fmt.Errorf("request key already used for workspace %q: %w", ws.Name, domain.ErrConflict)
	}

	result, err := s.loadResult(ctx, ws)
	if err != nil {
		return nil, err
	}
	if complete(result) {
		log.Info().
			Str("workspace_id", ws.ID.String()).
			Str("owner_id", ws.OwnerID.String()).
			Msg("Workspace already provisioned for request key")
		return result, nil
	}

	if s.now().Sub(ws.CreatedAt) < inFlightWindow {
		return nil, fmt.Errorf("workspace %s for this request is still being provisioned: %w", ws.ID, domain.ErrConflict)
	}

	perr := &domain.ProvisioningError{
		WorkspaceID: ws.ID.String(),
		Step:        StepCreateWorkspace,
		Cause:       domain.ErrWorkspaceIncomplete,
		Unresolved:  map[string]error{StepCreateWorkspace: domain.ErrWorkspaceIncomplete},
	}
	log.Error().
		Err(perr).
		Str("workspace_id", perr.WorkspaceID).
		Msg("Incomplete workspace found for request key, reconcile required")
	return nil, perr
}

// complete reports whether every step of the workflow left its rows behind
func complete(r *domain.ProvisionResult) bool {
	if r.OwnerMembership == nil {
		return false
	}
	for _, id := range []uuid.UUID{r.TicketConfigID, r.SampleTicketID, r.SampleVersionID, r.SampleMacroID} {
		if id == uuid.Nil {
			return false
		}
	}
	return len(r.Groups) == len(domain.DefaultGroups) &&
		len(r.TicketTypes) == len(domain.DefaultTicketTypes) &&
		len(r.TicketTopics) == len(domain.DefaultTicketTopics) &&
		len(r.Tags) == len(domain.DefaultTags) &&
		len(r.Resolutions) == len(domain.DefaultResolutions)
}

// translateFailure maps an engine error onto the domain taxonomy. A clean
// rollback caused by the caller going away is reported as the context error.
func (s *ProvisioningService) translateFailure(ctx context.Context, err error, state saga.State) error {
	var failure *saga.Failure
	if !errors.As(err, &failure) {
		return fmt.Errorf("provision workspace: %w", err)
	}

	// Another request with the same key created the workspace between the
	// pre-check and the insert. Nothing of ours was written.
	if failure.Step == StepCreateWorkspace && errors.Is(failure.Cause, domain.ErrConflict) {
		return fmt.Errorf("workspace for this request is already being created: %w", domain.ErrConflict)
	}

	workspaceID, _ := saga.Value[uuid.UUID](state, keyWorkspaceID)
	perr := provisioningError(failure, workspaceID)
	if cerr := callerCancelled(ctx, failure); cerr != nil && perr.Clean() {
		return fmt.Errorf("provision workspace stopped before step %q: %w", failure.Step, cerr)
	}
	if !perr.Clean() {
		log.Error().
			Err(perr).
			Str("workspace_id", perr.WorkspaceID).
			Msg("Workspace rollback incomplete, reconcile required")
	}
	return perr
}

// callerCancelled returns the caller's context error when it is what stopped
// the run
func callerCancelled(ctx context.Context, f *saga.Failure) error {
	if cerr := ctx.Err(); cerr != nil && errors.Is(f.Cause, cerr) {
		return cerr
	}
	return nil
}

// provisioningError converts a saga failure into the domain error
func provisioningError(f *saga.Failure, workspaceID uuid.UUID) *domain.ProvisioningError {
	perr := &domain.ProvisioningError{
		Step:       f.Step,
		Cause:      f.Cause,
		RolledBack: f.RolledBack,
	}
	if workspaceID != uuid.Nil {
		perr.WorkspaceID = workspaceID.String()
	}
	if len(f.Unresolved) > 0 {
		perr.Unresolved = make(map[string]error, len(f.Unresolved))
		for _, u := range f.Unresolved {
			perr.Unresolved[u.Step] = u.Err
		}
	}
	return perr
}

func provisionResult(state saga.State) (*domain.ProvisionResult, error) {
	workspaceID, ownerID, err := workspaceAndOwner(state)
	if err != nil {
		return nil, err
	}
	name, err := saga.Value[string](state, keyName)
	if err != nil {
		return nil, err
	}
	membershipID, err := saga.Value[uuid.UUID](state, keyMembershipID)
	if err != nil {
		return nil, err
	}

	result := &domain.ProvisionResult{
		Workspace: &domain.Workspace{ID: workspaceID, Name: name, OwnerID: ownerID},
		OwnerMembership: &domain.Membership{
			ID:          membershipID,
			WorkspaceID: workspaceID,
			UserID:      ownerID,
			Role:        domain.RoleOwner,
		},
	}

	ids := []struct {
		key string
		dst *uuid.UUID
	}{
		{keyTicketConfigID, &result.TicketConfigID},
		{keyTicketID, &result.SampleTicketID},
		{keyVersionID, &result.SampleVersionID},
		{keyMacroID, &result.SampleMacroID},
	}
	for _, id := range ids {
		if *id.dst, err = saga.Value[uuid.UUID](state, id.key); err != nil {
			return nil, err
		}
	}

	catalogs := []struct {
		key string
		dst *map[string]uuid.UUID
	}{
		{keyGroups, &result.Groups},
		{keyTicketTypes, &result.TicketTypes},
		{keyTicketTopics, &result.TicketTopics},
		{keyTags, &result.Tags},
		{keyResolutions, &result.Resolutions},
	}
	for _, c := range catalogs {
		if *c.dst, err = saga.Value[map[string]uuid.UUID](state, c.key); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// loadResult rebuilds the result of an earlier run from the store
func (s *ProvisioningService) loadResult(ctx context.Context, ws *domain.Workspace) (*domain.ProvisionResult, error) {
	scope := domain.Fields{"workspace_id": ws.ID}
	result := &domain.ProvisionResult{Workspace: ws, AlreadyProvisioned: true}

	row, err := s.gateway.Get(ctx, domain.KindMembership, domain.Fields{"workspace_id": ws.ID, "user_id": ws.OwnerID})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("load owner membership: %w", err)
	}
	if row != nil {
		result.OwnerMembership = domain.MembershipFromRow(row)
	}

	singles := []struct {
		kind domain.Kind
		dst  *uuid.UUID
	}{
		{domain.KindTicketConfig, &result.TicketConfigID},
		{domain.KindTicket, &result.SampleTicketID},
		{domain.KindTicketVersion, &result.SampleVersionID},
		{domain.KindMacro, &result.SampleMacroID},
	}
	for _, single := range singles {
		rows, err := s.gateway.Query(ctx, single.kind, scope)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", single.kind, err)
		}
		if len(rows) > 0 {
			*single.dst = rows[0].ID()
		}
	}

	catalogs := []struct {
		kind domain.Kind
		dst  *map[string]uuid.UUID
	}{
		{domain.KindGroup, &result.Groups},
		{domain.KindTicketTypeOption, &result.TicketTypes},
		{domain.KindTicketTopicOption, &result.TicketTopics},
		{domain.KindTag, &result.Tags},
		{domain.KindResolutionOption, &result.Resolutions},
	}
	for _, c := range catalogs {
		rows, err := s.gateway.Query(ctx, c.kind, scope)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", c.kind, err)
		}
		byName := make(map[string]uuid.UUID, len(rows))
		for _, r := range rows {
			byName[r.String("name")] = r.ID()
		}
		*c.dst = byName
	}

	return result, nil
}
