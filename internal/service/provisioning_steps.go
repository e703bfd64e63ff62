package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/saga"
	"github.com/google/uuid"
)

// Provisioning step names, in execution order
const (
	StepCreateWorkspace           = "create_workspace"
	StepCreateOwnerMembership     = "create_owner_membership"
	StepCreateTicketConfig        = "create_ticket_config"
	StepCreateGroups              = "create_groups"
	StageSeedCatalogs             = "seed_catalogs"
	StepCreateOwnerGroupMember    = "create_owner_group_membership"
	StepCreateTicketTypes         = "create_ticket_types"
	StepCreateTicketTopics        = "create_ticket_topics"
	StepCreateTags                = "create_tags"
	StepCreateResolutions         = "create_resolutions"
	StepCreateSampleTicket        = "create_sample_ticket"
	StepCreateSampleTicketVersion = "create_sample_ticket_version"
	StepCreateSampleMacro         = "create_sample_macro"
)

// Saga state keys shared by the provisioning steps
const (
	keyName              = "name"
	keyOwnerID           = "owner_id"
	keyRequestKey        = "request_key"
	keyWorkspaceID       = "workspace_id"
	keyMembershipID      = "owner_membership_id"
	keyTicketConfigID    = "ticket_config_id"
	keyGroups            = "groups"
	keyGroupMembershipID = "owner_group_membership_id"
	keyTicketTypes       = "ticket_types"
	keyTicketTopics      = "ticket_topics"
	keyTags              = "tags"
	keyResolutions       = "resolutions"
	keyTicketID          = "sample_ticket_id"
	keyVersionID         = "sample_version_id"
	keyMacroID           = "sample_macro_id"
)

// catalog is a default name list seeded into one kind
type catalog struct {
	kind  domain.Kind
	key   string
	names []string
}

var (
	groupCatalog      = catalog{kind: domain.KindGroup, key: keyGroups, names: domain.DefaultGroups}
	typeCatalog       = catalog{kind: domain.KindTicketTypeOption, key: keyTicketTypes, names: domain.DefaultTicketTypes}
	topicCatalog      = catalog{kind: domain.KindTicketTopicOption, key: keyTicketTopics, names: domain.DefaultTicketTopics}
	tagCatalog        = catalog{kind: domain.KindTag, key: keyTags, names: domain.DefaultTags}
	resolutionCatalog = catalog{kind: domain.KindResolutionOption, key: keyResolutions, names: domain.DefaultResolutions}
)

// validateCatalogs checks that every catalog entry a later step looks up by
// name is seeded, so a lookup can never fail after the batch was written.
func validateCatalogs() error {
	required := []struct {
		c    catalog
		name string
	}{
		{groupCatalog, domain.OwnerGroupName},
		{typeCatalog, domain.SampleTypeName},
		{topicCatalog, domain.SampleTopicName},
		{tagCatalog, domain.SampleTagName},
	}
	for _, r := range required {
		if !slices.Contains(r.c.names, r.name) {
			return fmt.Errorf("%w: catalog %s lacks %q", saga.ErrInvalidDefinition, r.c.kind, r.name)
		}
	}
	for _, c := range []catalog{groupCatalog, typeCatalog, topicCatalog, tagCatalog, resolutionCatalog} {
		seen := make(map[string]bool, len(c.names))
		for _, name := range c.names {
			if seen[name] {
				return fmt.Errorf("%w: catalog %s repeats %q", saga.ErrInvalidDefinition, c.kind, name)
			}
			seen[name] = true
		}
	}
	return nil
}

// provisioningSteps declares the workspace provisioning workflow. Every step
// reads only keys written by steps before it.
func provisioningSteps(gw domain.ResourceGateway) []saga.Step {
	return []saga.Step{
		{
			Name:       StepCreateWorkspace,
			Execute:    createWorkspace(gw),
			Compensate: deleteByKey(gw, domain.KindWorkspace, keyWorkspaceID),
		},
		{
			Name:       StepCreateOwnerMembership,
			Execute:    createOwnerMembership(gw),
			Compensate: deleteByKey(gw, domain.KindMembership, keyMembershipID),
		},
		{
			Name:       StepCreateTicketConfig,
			Execute:    createTicketConfig(gw),
			Compensate: deleteByKey(gw, domain.KindTicketConfig, keyTicketConfigID),
		},
		{
			Name:       StepCreateGroups,
			Execute:    seedCatalog(gw, groupCatalog),
			Compensate: deleteCatalog(gw, groupCatalog),
		},
		saga.Concurrent(StageSeedCatalogs,
			saga.Step{
				Name:       StepCreateOwnerGroupMember,
				Execute:    createOwnerGroupMembership(gw),
				Compensate: deleteByKey(gw, domain.KindGroupMembership, keyGroupMembershipID),
			},
			saga.Step{
				Name:       StepCreateTicketTypes,
				Execute:    seedCatalog(gw, typeCatalog),
				Compensate: deleteCatalog(gw, typeCatalog),
			},
			saga.Step{
				Name:       StepCreateTicketTopics,
				Execute:    seedCatalog(gw, topicCatalog),
				Compensate: deleteCatalog(gw, topicCatalog),
			},
			saga.Step{
				Name:       StepCreateTags,
				Execute:    seedCatalog(gw, tagCatalog),
				Compensate: deleteCatalog(gw, tagCatalog),
			},
			saga.Step{
				Name:       StepCreateResolutions,
				Execute:    seedCatalog(gw, resolutionCatalog),
				Compensate: deleteCatalog(gw, resolutionCatalog),
			},
		),
		{
			Name:       StepCreateSampleTicket,
			Execute:    createSampleTicket(gw),
			Compensate: deleteByKey(gw, domain.KindTicket, keyTicketID),
		},
		{
			Name:       StepCreateSampleTicketVersion,
			Execute:    createSampleTicketVersion(gw),
			Compensate: deleteByKey(gw, domain.KindTicketVersion, keyVersionID),
		},
		{
			Name:       StepCreateSampleMacro,
			Execute:    createSampleMacro(gw),
			Compensate: deleteByKey(gw, domain.KindMacro, keyMacroID),
		},
	}
}

func createWorkspace(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		name, err := saga.Value[string](state, keyName)
		if err != nil {
			return err
		}
		ownerID, err := saga.Value[uuid.UUID](state, keyOwnerID)
		if err != nil {
			return err
		}
		requestKey, _ := saga.Value[string](state, keyRequestKey)

		fields := domain.Fields{
			"name":        name,
			"owner_id":    ownerID,
			"request_key": nil,
		}
		if requestKey != "" {
			fields["request_key"] = requestKey
		}

		id, err := gw.Insert(ctx, domain.KindWorkspace, fields)
		if err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}
		state[keyWorkspaceID] = id
		return nil
	}
}

func createOwnerMembership(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		workspaceID, ownerID, err := workspaceAndOwner(state)
		if err != nil {
			return err
		}

		id, err := gw.Insert(ctx, domain.KindMembership, domain.Fields{
			"workspace_id": workspaceID,
			"user_id":      ownerID,
			"role":         string(domain.RoleOwner),
		})
		if err != nil {
			return fmt.Errorf("create owner membership: %w", err)
		}
		state[keyMembershipID] = id
		return nil
	}
}

func createTicketConfig(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		workspaceID, err := saga.Value[uuid.UUID](state, keyWorkspaceID)
		if err != nil {
			return err
		}

		fields := domain.DefaultTicketConfig().Fields()
		fields["workspace_id"] = workspaceID

		id, err := gw.Insert(ctx, domain.KindTicketConfig, fields)
		if err != nil {
			return fmt.Errorf("create ticket config: %w", err)
		}
		state[keyTicketConfigID] = id
		return nil
	}
}

// seedCatalog inserts a default catalog in one batch and records name -> id
func seedCatalog(gw domain.ResourceGateway, c catalog) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		workspaceID, err := saga.Value[uuid.UUID](state, keyWorkspaceID)
		if err != nil {
			return err
		}

		rows := make([]domain.Fields, len(c.names))
		for i, name := range c.names {
			rows[i] = domain.Fields{"workspace_id": workspaceID, "name": name}
		}

		ids, err := gw.InsertMany(ctx, c.kind, rows)
		if err != nil {
			return fmt.Errorf("seed %s: %w", c.kind, err)
		}
		if len(ids) != len(c.names) {
			// The batch is written but cannot be attributed, so undo it here;
			// the engine never compensates a failed step.
			undoErr := deleteAll(ctx, gw, c.kind, ids)
			return errors.Join(
				fmt.Errorf("seed %s: gateway returned %d ids for %d rows", c.kind, len(ids), len(c.names)),
				undoErr,
			)
		}

		byName := make(map[string]uuid.UUID, len(ids))
		for i, id := range ids {
			byName[c.names[i]] = id
		}
		state[c.key] = byName
		return nil
	}
}

func createOwnerGroupMembership(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		workspaceID, ownerID, err := workspaceAndOwner(state)
		if err != nil {
			return err
		}
		groupID, err := catalogID(state, groupCatalog, domain.OwnerGroupName)
		if err != nil {
			return err
		}

		id, err := gw.Insert(ctx, domain.KindGroupMembership, domain.Fields{
			"workspace_id": workspaceID,
			"group_id":     groupID,
			"user_id":      ownerID,
		})
		if err != nil {
			return fmt.Errorf("create owner group membership: %w", err)
		}
		state[keyGroupMembershipID] = id
		return nil
	}
}

// sampleRefs are the catalog ids the sample ticket and macro point at
type sampleRefs struct {
	workspaceID, ownerID            uuid.UUID
	groupID, typeID, topicID, tagID uuid.UUID
}

func loadSampleRefs(state saga.State) (sampleRefs, error) {
	var r sampleRefs
	var err error
	if r.workspaceID, r.ownerID, err = workspaceAndOwner(state); err != nil {
		return r, err
	}
	if r.groupID, err = catalogID(state, groupCatalog, domain.OwnerGroupName); err != nil {
		return r, err
	}
	if r.typeID, err = catalogID(state, typeCatalog, domain.SampleTypeName); err != nil {
		return r, err
	}
	if r.topicID, err = catalogID(state, topicCatalog, domain.SampleTopicName); err != nil {
		return r, err
	}
	if r.tagID, err = catalogID(state, tagCatalog, domain.SampleTagName); err != nil {
		return r, err
	}
	return r, nil
}

func (r sampleRefs) ticketFields() domain.Fields {
	return domain.Fields{
		"workspace_id": r.workspaceID,
		"subject":      domain.SampleTicketSubject,
		"description":  domain.SampleTicketDescription,
		"status":       domain.TicketStatusOpen,
		"priority":     domain.TicketPriorityUrgent,
		"group_id":     r.groupID,
		"type_id":      r.typeID,
		"topic_id":     r.topicID,
		"tag_id":       r.tagID,
		"creator_id":   r.ownerID,
		"requestor_id": r.ownerID,
		"assignee_id":  r.ownerID,
	}
}

func createSampleTicket(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		refs, err := loadSampleRefs(state)
		if err != nil {
			return err
		}

		id, err := gw.Insert(ctx, domain.KindTicket, refs.ticketFields())
		if err != nil {
			return fmt.Errorf("create sample ticket: %w", err)
		}
		state[keyTicketID] = id
		return nil
	}
}

func createSampleTicketVersion(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		refs, err := loadSampleRefs(state)
		if err != nil {
			return err
		}
		ticketID, err := saga.Value[uuid.UUID](state, keyTicketID)
		if err != nil {
			return err
		}

		fields := refs.ticketFields()
		fields["ticket_id"] = ticketID

		id, err := gw.Insert(ctx, domain.KindTicketVersion, fields)
		if err != nil {
			return fmt.Errorf("create sample ticket version: %w", err)
		}
		state[keyVersionID] = id
		return nil
	}
}

func createSampleMacro(gw domain.ResourceGateway) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		refs, err := loadSampleRefs(state)
		if err != nil {
			return err
		}

		id, err := gw.Insert(ctx, domain.KindMacro, domain.Fields{
			"workspace_id": refs.workspaceID,
			"name":         domain.SampleMacroName,
			"subject":      domain.SampleMacroSubject,
			"description":  domain.SampleMacroDescription,
			"status":       domain.TicketStatusOpen,
			"priority":     domain.TicketPriorityUrgent,
			"group_id":     refs.groupID,
			"type_id":      refs.typeID,
			"topic_id":     refs.topicID,
		})
		if err != nil {
			return fmt.Errorf("create sample macro: %w", err)
		}
		state[keyMacroID] = id
		return nil
	}
}

func workspaceAndOwner(state saga.State) (uuid.UUID, uuid.UUID, error) {
	workspaceID, err := saga.Value[uuid.UUID](state, keyWorkspaceID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	ownerID, err := saga.Value[uuid.UUID](state, keyOwnerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return workspaceID, ownerID, nil
}

func catalogID(state saga.State, c catalog, name string) (uuid.UUID, error) {
	ids, err := saga.Value[map[string]uuid.UUID](state, c.key)
	if err != nil {
		return uuid.Nil, err
	}
	id, ok := ids[name]
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s has no %q", saga.ErrMissingValue, c.kind, name)
	}
	return id, nil
}

// deleteByKey compensates a single-row insert whose id is stored under key
func deleteByKey(gw domain.ResourceGateway, kind domain.Kind, key string) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		id, err := saga.Value[uuid.UUID](state, key)
		if err != nil {
			return err
		}
		return deleteRow(ctx, gw, kind, id)
	}
}

// deleteCatalog compensates a seeded catalog by deleting every id it inserted
func deleteCatalog(gw domain.ResourceGateway, c catalog) func(context.Context, saga.State) error {
	return func(ctx context.Context, state saga.State) error {
		byName, err := saga.Value[map[string]uuid.UUID](state, c.key)
		if err != nil {
			return err
		}
		ids := make([]uuid.UUID, 0, len(byName))
		for _, name := range c.names {
			if id, ok := byName[name]; ok {
				ids = append(ids, id)
			}
		}
		return deleteAll(ctx, gw, c.kind, ids)
	}
}

func deleteAll(ctx context.Context, gw domain.ResourceGateway, kind domain.Kind, ids []uuid.UUID) error {
	var errs []error
	for _, id := range ids {
		if err := deleteRow(ctx, gw, kind, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// deleteRow deletes one row. A row that is already gone counts as deleted,
// which lets a retried compensation pick up where the last attempt stopped.
func deleteRow(ctx context.Context, gw domain.ResourceGateway, kind domain.Kind, id uuid.UUID) error {
	if err := gw.Delete(ctx, kind, id); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("delete %s %s: %w", kind, id, err)
	}
	return nil
}
