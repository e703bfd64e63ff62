package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/idempotency"
	"github.com/dafibh/deskflow/deskflow-backend/internal/saga"
	"github.com/dafibh/deskflow/deskflow-backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *saga.Engine {
	return saga.NewEngine(zerolog.Nop(), saga.Config{
		StepTimeout:       time.Second,
		CompensationTries: 2,
		RetryInterval:     time.Millisecond,
	})
}

func newTestGuard(t *testing.T) *idempotency.Guard {
	t.Helper()
	g := idempotency.NewGuard(zerolog.Nop(), idempotency.DefaultConfig(), nil)
	t.Cleanup(g.Stop)
	return g
}

func newTestProvisioningService(t *testing.T, gw domain.ResourceGateway) *ProvisioningService {
	t.Helper()
	svc, err := NewProvisioningService(gw, newTestEngine(), newTestGuard(t))
	require.NoError(t, err)
	return svc
}

func TestProvisionWorkspace_Acme(t *testing.T) {
	gw := testutil.NewMockGateway()
	svc := newTestProvisioningService(t, gw)
	user1 := uuid.New()

	result, err := svc.ProvisionWorkspace(context.Background(), "Acme", user1, "req-1")
	require.NoError(t, err)

	w := result.Workspace.ID
	require.NotEqual(t, uuid.Nil, w)
	assert.Equal(t, "Acme", result.Workspace.Name)
	assert.False(t, result.AlreadyProvisioned)

	ws := gw.Rows(domain.KindWorkspace, domain.Fields{"id": w})
	require.Len(t, ws, 1)
	assert.Equal(t, "Acme", ws[0].String("name"))
	assert.Equal(t, user1, ws[0].UUID("owner_id"))
	assert.Equal(t, "req-1", ws[0].String("request_key"))

	members := gw.Rows(domain.KindMembership, domain.Fields{"workspace_id": w, "user_id": user1})
	require.Len(t, members, 1)
	assert.Equal(t, "owner", members[0].String("role"))

	configs := gw.Rows(domain.KindTicketConfig, domain.Fields{"workspace_id": w})
	require.Len(t, configs, 1)
	for _, flag := range []string{"has_groups", "has_type", "has_topic", "has_resolution", "has_resolution_notes"} {
		assert.True(t, configs[0].Bool(flag), flag)
	}

	groups := gw.Rows(domain.KindGroup, domain.Fields{"workspace_id": w})
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = g.String("name")
	}
	assert.ElementsMatch(t, []string{"Sales", "Billing", "Finance", "Engineering", "Support", "Product Management", "Management"}, names)

	management := result.Groups["Management"]
	require.NotEqual(t, uuid.Nil, management)
	assert.Equal(t, 1, gw.Count(domain.KindGroupMembership, domain.Fields{"group_id": management, "user_id": user1}))

	task := result.TicketTypes["Task"]
	topic := result.TicketTopics["Technical Support"]
	tag := result.Tags["FY2025"]
	assert.Equal(t, 1, gw.Count(domain.KindTicketTypeOption, domain.Fields{"workspace_id": w, "name": "Task"}))
	assert.Equal(t, 1, gw.Count(domain.KindTicketTopicOption, domain.Fields{"workspace_id": w, "name": "Technical Support"}))
	assert.Equal(t, 5, gw.Count(domain.KindTag, domain.Fields{"workspace_id": w}))
	assert.Equal(t, 5, gw.Count(domain.KindResolutionOption, domain.Fields{"workspace_id": w}))

	tickets := gw.Rows(domain.KindTicket, domain.Fields{"workspace_id": w})
	require.Len(t, tickets, 1)
	ticket := tickets[0]
	assert.Equal(t, "open", ticket.String("status"))
	assert.Equal(t, "urgent", ticket.String("priority"))
	assert.Equal(t, management, ticket.UUID("group_id"))
	assert.Equal(t, task, ticket.UUID("type_id"))
	assert.Equal(t, topic, ticket.UUID("topic_id"))
	assert.Equal(t, tag, ticket.UUID("tag_id"))
	for _, col := range []string{"creator_id", "requestor_id", "assignee_id"} {
		assert.Equal(t, user1, ticket.UUID(col), col)
	}

	versions := gw.Rows(domain.KindTicketVersion, domain.Fields{"workspace_id": w})
	require.Len(t, versions, 1)
	assert.Equal(t, ticket.ID(), versions[0].UUID("ticket_id"))
	for _, col := range []string{"subject", "description", "status", "priority"} {
		assert.Equal(t, ticket.String(col), versions[0].String(col), col)
	}
	for _, col := range []string{"group_id", "type_id", "topic_id", "tag_id", "creator_id", "requestor_id", "assignee_id"} {
		assert.Equal(t, ticket.UUID(col), versions[0].UUID(col), col)
	}

	macros := gw.Rows(domain.KindMacro, domain.Fields{"workspace_id": w})
	require.Len(t, macros, 1)
	assert.Equal(t, management, macros[0].UUID("group_id"))
	assert.Equal(t, task, macros[0].UUID("type_id"))
	assert.Equal(t, topic, macros[0].UUID("topic_id"))
	assert.Nil(t, macros[0]["assignee_id"])
	assert.Nil(t, macros[0]["requestor_id"])

	assert.Equal(t, ticket.ID(), result.SampleTicketID)
	assert.Equal(t, versions[0].ID(), result.SampleVersionID)
	assert.Equal(t, macros[0].ID(), result.SampleMacroID)
	assert.Equal(t, configs[0].ID(), result.TicketConfigID)
	assert.Equal(t, members[0].ID(), result.OwnerMembership.ID)
}

func TestProvisionWorkspace_InvalidInput(t *testing.T) {
	tests := []struct {
		name    string
		wsName  string
		ownerID uuid.UUID
		wantErr error
	}{
		{"empty name", "", uuid.New(), domain.ErrNameRequired},
		{"whitespace name", "   \t", uuid.New(), domain.ErrNameRequired},
		{"name too long", strings.Repeat("a", domain.MaxWorkspaceNameLength+1), uuid.New(), domain.ErrNameTooLong},
		{"no owner", "Acme", uuid.Nil, domain.ErrOwnerRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := testutil.NewMockGateway()
			svc := newTestProvisioningService(t, gw)

			_, err := svc.ProvisionWorkspace(context.Background(), tt.wsName, tt.ownerID, "req-1")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Empty(t, gw.Calls(), "no gateway call may happen before validation passes")
		})
	}
}

func TestProvisionWorkspace_NameAtMaxLength(t *testing.T) {
	gw := testutil.NewMockGateway()
	svc := newTestProvisioningService(t, gw)

	_, err := svc.ProvisionWorkspace(context.Background(), strings.Repeat("a", domain.MaxWorkspaceNameLength), uuid.New(), "")
	assert.NoError(t, err)
}

func TestProvisionWorkspace_FailureAtEveryStepLeavesNothing(t *testing.T) {
	steps := []struct {
		step string
		op   testutil.Op
		kind domain.Kind
	}{
		{StepCreateWorkspace, testutil.OpInsert, domain.KindWorkspace},
		{StepCreateOwnerMembership, testutil.OpInsert, domain.KindMembership},
		{StepCreateTicketConfig, testutil.OpInsert, domain.KindTicketConfig},
		{StepCreateGroups, testutil.OpInsertMany, domain.KindGroup},
		{StepCreateOwnerGroupMember, testutil.OpInsert, domain.KindGroupMembership},
		{StepCreateTicketTypes, testutil.OpInsertMany, domain.KindTicketTypeOption},
		{StepCreateTicketTopics, testutil.OpInsertMany, domain.KindTicketTopicOption},
		{StepCreateTags, testutil.OpInsertMany, domain.KindTag},
		{StepCreateResolutions, testutil.OpInsertMany, domain.KindResolutionOption},
		{StepCreateSampleTicket, testutil.OpInsert, domain.KindTicket},
		{StepCreateSampleTicketVersion, testutil.OpInsert, domain.KindTicketVersion},
		{StepCreateSampleMacro, testutil.OpInsert, domain.KindMacro},
	}

	for _, tt := range steps {
		t.Run(tt.step, func(t *testing.T) {
			gw := testutil.NewMockGateway()
			gw.FailOn(tt.op, tt.kind, nil)
			svc := newTestProvisioningService(t, gw)

			result, err := svc.ProvisionWorkspace(context.Background(), "Acme", uuid.New(), "req-1")
			require.Error(t, err)
			assert.Nil(t, result)

			assert.ErrorIs(t, err, domain.ErrProvisioningFailed)
			assert.NotErrorIs(t, err, domain.ErrProvisioningFailedUnclean)
			assert.ErrorIs(t, err, testutil.ErrInjected)

			var perr *domain.ProvisioningError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.step, perr.Step)
			assert.True(t, perr.Clean())

			assert.Equal(t, 0, gw.Total(), "every row of the attempt must be rolled back")
		})
	}
}

func TestProvisionWorkspace_GroupsFailureRollsBackEarlierSteps(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpInsertMany, domain.KindGroup, errors.New("connection reset"))
	svc := newTestProvisioningService(t, gw)

	_, err := svc.ProvisionWorkspace(context.Background(), "Acme", uuid.New(), "req-1")

	var perr *domain.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, StepCreateGroups, perr.Step)
	assert.Equal(t, []string{StepCreateTicketConfig, StepCreateOwnerMembership, StepCreateWorkspace}, perr.RolledBack)
	assert.NotEmpty(t, perr.WorkspaceID)

	assert.Equal(t, 0, gw.Count(domain.KindWorkspace, nil))
	assert.Equal(t, 0, gw.Count(domain.KindMembership, nil))
	assert.Equal(t, 0, gw.Count(domain.KindTicketConfig, nil))

	// nothing after the failing step was attempted
	assert.Equal(t, 0, gw.CallCount(testutil.OpInsertMany, domain.KindTicketTypeOption))
	assert.Equal(t, 0, gw.CallCount(testutil.OpInsert, domain.KindTicket))
}

func TestProvisionWorkspace_UncleanRollbackIsDistinguishable(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpInsert, domain.KindTicket, nil)
	gw.FailOn(testutil.OpDelete, domain.KindTag, errors.New("store unavailable"))
	svc := newTestProvisioningService(t, gw)

	_, err := svc.ProvisionWorkspace(context.Background(), "Acme", uuid.New(), "req-1")

	assert.ErrorIs(t, err, domain.ErrProvisioningFailedUnclean)
	assert.NotErrorIs(t, err, domain.ErrProvisioningFailed)

	var perr *domain.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Clean())
	assert.Equal(t, StepCreateSampleTicket, perr.Step)
	require.Contains(t, perr.Unresolved, StepCreateTags)
	assert.Len(t, perr.Unresolved, 1)
	assert.Contains(t, perr.Error(), "manual cleanup")

	workspaceID := uuid.MustParse(perr.WorkspaceID)
	assert.Equal(t, len(domain.DefaultTags), gw.ResidualRows(workspaceID), "only the tags could not be removed")

	// the operator remedy clears what is left
	gw.ClearFailures()
	purged, err := NewWorkspaceService(gw).PurgeWorkspace(context.Background(), workspaceID)
	require.NoError(t, err)
	assert.Equal(t, len(domain.DefaultTags), purged[domain.KindTag])
	assert.Equal(t, 0, gw.Total())
}

func TestProvisionWorkspace_CompensationRetriesTransientErrors(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpInsert, domain.KindMacro, nil)

	var mu sync.Mutex
	failedOnce := false
	gw.BeforeFn = func(ctx context.Context, op testutil.Op, kind domain.Kind) error {
		if op != testutil.OpDelete || kind != domain.KindWorkspace {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		if !failedOnce {
			failedOnce = true
			return errors.New("timeout")
		}
		return nil
	}
	svc := newTestProvisioningService(t, gw)

	_, err := svc.ProvisionWorkspace(context.Background(), "Acme", uuid.New(), "")
	assert.ErrorIs(t, err, domain.ErrProvisioningFailed)
	assert.Equal(t, 0, gw.Total())
	assert.Equal(t, 2, gw.CallCount(testutil.OpDelete, domain.KindWorkspace))
}

func TestProvisionWorkspace_SameKeyTwiceCreatesOnce(t *testing.T) {
	gw := testutil.NewMockGateway()
	svc := newTestProvisioningService(t, gw)
	owner := uuid.New()

	first, err := svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	require.NoError(t, err)
	second, err := svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	require.NoError(t, err)

	assert.Equal(t, first.Workspace.ID, second.Workspace.ID)
	assert.Equal(t, 1, gw.Count(domain.KindWorkspace, nil))
	assert.Equal(t, 1, gw.CallCount(testutil.OpInsert, domain.KindWorkspace))
	assert.Equal(t, len(domain.DefaultGroups), gw.Count(domain.KindGroup, nil))
}

func TestProvisionWorkspace_SameKeyAfterRetentionUsesStoredWorkspace(t *testing.T) {
	gw := testutil.NewMockGateway()
	owner := uuid.New()

	first, err := newTestProvisioningService(t, gw).ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	require.NoError(t, err)

	// a fresh guard, as after a restart or on another instance
	second, err := newTestProvisioningService(t, gw).ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	require.NoError(t, err)

	assert.True(t, second.AlreadyProvisioned)
	assert.Equal(t, first.Workspace.ID, second.Workspace.ID)
	assert.Equal(t, first.OwnerMembership.ID, second.OwnerMembership.ID)
	assert.Equal(t, first.Groups, second.Groups)
	assert.Equal(t, first.TicketTypes, second.TicketTypes)
	assert.Equal(t, first.SampleTicketID, second.SampleTicketID)
	assert.Equal(t, first.SampleMacroID, second.SampleMacroID)
	assert.Equal(t, 1, gw.Count(domain.KindWorkspace, nil))
}

func TestProvisionWorkspace_ConcurrentDoubleSubmit(t *testing.T) {
	gw := testutil.NewMockGateway()
	svc := newTestProvisioningService(t, gw)
	owner := uuid.New()

	const callers = 5
	ids := make([]uuid.UUID, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
			errs[i] = err
			if err == nil {
				ids[i] = result.Workspace.ID
			}
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, gw.Count(domain.KindWorkspace, nil))
	assert.Equal(t, 1, gw.Count(domain.KindMembership, nil))
}

func TestProvisionWorkspace_DifferentKeysCreateSeparateWorkspaces(t *testing.T) {
	gw := testutil.NewMockGateway()
	svc := newTestProvisioningService(t, gw)
	owner := uuid.New()

	first, err := svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	require.NoError(t, err)
	second, err := svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-2")
	require.NoError(t, err)

	assert.NotEqual(t, first.Workspace.ID, second.Workspace.ID)
	assert.Equal(t, 2, gw.Count(domain.KindWorkspace, nil))
}

func TestProvisionWorkspace_ConcurrentInsertConflict(t *testing.T) {
	gw := testutil.NewMockGateway()
	owner := uuid.New()
	gw.Seed(domain.KindWorkspace, domain.Fields{"name": "Acme", "owner_id": owner, "request_key": "req-1"})
	// the pre-check misses, as if the other request inserted after it ran
	gw.FailOn(testutil.OpGet, domain.KindWorkspace, domain.ErrNotFound)
	svc := newTestProvisioningService(t, gw)

	_, err := svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.NotErrorIs(t, err, domain.ErrProvisioningFailed)
	assert.Equal(t, 1, gw.Total())
}

func TestProvisionWorkspace_SameKeyWhileFirstRunInFlight(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpInsert, domain.KindMacro, nil)
	owner := uuid.New()

	// a second instance, with its own guard, retries while the first run is
	// between its workspace insert and its last step
	other := newTestProvisioningService(t, gw)
	var (
		once     sync.Once
		otherRes *domain.ProvisionResult
		otherErr error
	)
	gw.BeforeFn = func(ctx context.Context, op testutil.Op, kind domain.Kind) error {
		if op == testutil.OpInsertMany && kind == domain.KindGroup {
			once.Do(func() {
				otherRes, otherErr = other.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
			})
		}
		return nil
	}

	_, err := newTestProvisioningService(t, gw).ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	assert.ErrorIs(t, err, domain.ErrProvisioningFailed)

	assert.Nil(t, otherRes)
	assert.ErrorIs(t, otherErr, domain.ErrConflict)
	assert.NotErrorIs(t, otherErr, domain.ErrProvisioningFailed)
	assert.Equal(t, 0, gw.Total())
}

func TestProvisionWorkspace_SameKeyAfterUncleanRollback(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpInsert, domain.KindMacro, nil)
	gw.FailOn(testutil.OpDelete, domain.KindWorkspace, errors.New("store unavailable"))
	owner := uuid.New()

	_, err := newTestProvisioningService(t, gw).ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	var first *domain.ProvisioningError
	require.ErrorAs(t, err, &first)
	require.False(t, first.Clean())
	require.Equal(t, 1, gw.Count(domain.KindWorkspace, nil))

	gw.ClearFailures()
	retry := newTestProvisioningService(t, gw)

	// too recent to tell apart from a run still in progress
	_, err = retry.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	assert.ErrorIs(t, err, domain.ErrConflict)

	retry = newTestProvisioningService(t, gw)
	retry.now = func() time.Time { return time.Now().Add(time.Hour) }
	result, err := retry.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	assert.Nil(t, result)

	var perr *domain.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, domain.ErrProvisioningFailedUnclean)
	assert.ErrorIs(t, err, domain.ErrWorkspaceIncomplete)
	assert.Equal(t, first.WorkspaceID, perr.WorkspaceID)
	assert.Contains(t, perr.Unresolved, StepCreateWorkspace)

	assert.Equal(t, 1, gw.Count(domain.KindWorkspace, nil))
	assert.Equal(t, 1, gw.CallCount(testutil.OpInsert, domain.KindWorkspace))
}

func TestProvisionWorkspace_SameKeyDifferentName(t *testing.T) {
	gw := testutil.NewMockGateway()
	owner := uuid.New()

	_, err := newTestProvisioningService(t, gw).ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	require.NoError(t, err)

	_, err = newTestProvisioningService(t, gw).ProvisionWorkspace(context.Background(), "Globex", owner, "req-1")
	assert.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, 1, gw.Count(domain.KindWorkspace, nil))
}

func TestProvisionWorkspace_CancelledBeforeStart(t *testing.T) {
	gw := testutil.NewMockGateway()
	svc := newTestProvisioningService(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.ProvisionWorkspace(ctx, "Acme", uuid.New(), "")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, gw.Total())
}

func TestProvisionWorkspace_CancelledMidRun(t *testing.T) {
	gw := testutil.NewMockGateway()
	svc := newTestProvisioningService(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.BeforeFn = func(_ context.Context, op testutil.Op, kind domain.Kind) error {
		if op == testutil.OpInsert && kind == domain.KindMembership {
			cancel()
		}
		return nil
	}

	_, err := svc.ProvisionWorkspace(ctx, "Acme", uuid.New(), "req-1")
	assert.ErrorIs(t, err, context.Canceled)

	var perr *domain.ProvisioningError
	assert.False(t, errors.As(err, &perr), "a clean rollback after cancellation is reported as the context error")
	assert.Equal(t, 0, gw.Total())
}

func TestProvisionWorkspace_CancelledMidRunUncleanRollback(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpDelete, domain.KindMembership, errors.New("store unavailable"))
	svc := newTestProvisioningService(t, gw)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gw.BeforeFn = func(_ context.Context, op testutil.Op, kind domain.Kind) error {
		if op == testutil.OpInsert && kind == domain.KindTicketConfig {
			cancel()
		}
		return nil
	}

	_, err := svc.ProvisionWorkspace(ctx, "Acme", uuid.New(), "req-1")

	var perr *domain.ProvisioningError
	require.ErrorAs(t, err, &perr)
	assert.False(t, perr.Clean())
	assert.Contains(t, perr.Unresolved, StepCreateOwnerMembership)
}

func TestProvisionWorkspace_FailuresAreReplayedToRetries(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpInsert, domain.KindMacro, nil)
	svc := newTestProvisioningService(t, gw)
	owner := uuid.New()

	_, err := svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	require.Error(t, err)

	gw.ClearFailures()
	_, err = svc.ProvisionWorkspace(context.Background(), "Acme", owner, "req-1")
	assert.ErrorIs(t, err, domain.ErrProvisioningFailed)
	assert.Equal(t, 1, gw.CallCount(testutil.OpInsert, domain.KindWorkspace))
}

func TestProvisionWorkspace_PublishesEvent(t *testing.T) {
	gw := testutil.NewMockGateway()
	publisher := testutil.NewMockEventPublisher()
	svc := newTestProvisioningService(t, gw)
	svc.SetEventPublisher(publisher)

	result, err := svc.ProvisionWorkspace(context.Background(), "Acme", uuid.New(), "req-1")
	require.NoError(t, err)

	require.Len(t, publisher.Events, 1)
	assert.Equal(t, "workspace.provisioned", publisher.Events[0].Event.Type)
	assert.Equal(t, result.Workspace.ID, publisher.Events[0].WorkspaceID)
}

func TestProvisionWorkspace_NoEventOnFailure(t *testing.T) {
	gw := testutil.NewMockGateway()
	gw.FailOn(testutil.OpInsert, domain.KindTicket, nil)
	publisher := testutil.NewMockEventPublisher()
	svc := newTestProvisioningService(t, gw)
	svc.SetEventPublisher(publisher)

	_, err := svc.ProvisionWorkspace(context.Background(), "Acme", uuid.New(), "req-1")
	require.Error(t, err)
	assert.Empty(t, publisher.Events)
}

func TestProvisioningSteps_Definition(t *testing.T) {
	steps := provisioningSteps(testutil.NewMockGateway())
	require.NoError(t, saga.Validate(steps))
	require.NoError(t, validateCatalogs())

	var names []string
	for _, s := range steps {
		if branches := s.Branches(); branches != nil {
			for _, b := range branches {
				names = append(names, b.Name)
			}
			continue
		}
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{
		StepCreateWorkspace,
		StepCreateOwnerMembership,
		StepCreateTicketConfig,
		StepCreateGroups,
		StepCreateOwnerGroupMember,
		StepCreateTicketTypes,
		StepCreateTicketTopics,
		StepCreateTags,
		StepCreateResolutions,
		StepCreateSampleTicket,
		StepCreateSampleTicketVersion,
		StepCreateSampleMacro,
	}, names)
}
