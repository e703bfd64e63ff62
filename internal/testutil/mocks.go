package testutil

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
	"github.com/dafibh/deskflow/deskflow-backend/internal/websocket"
	"github.com/google/uuid"
)

// ErrInjected is the default error returned by injected failures
var ErrInjected = errors.New("injected gateway failure")

// Op names a gateway operation
type Op string

const (
	OpInsert     Op = "insert"
	OpInsertMany Op = "insert_many"
	OpGet        Op = "get"
	OpQuery      Op = "query"
	OpDelete     Op = "delete"
)

// Call records one gateway invocation
type Call struct {
	Op   Op
	Kind domain.Kind
}

// uniqueKeys mirrors the uniqueness constraints of the Postgres schema
var uniqueKeys = map[domain.Kind][]string{
	domain.KindWorkspace:         {"owner_id", "request_key"},
	domain.KindMembership:        {"workspace_id", "user_id"},
	domain.KindTicketConfig:      {"workspace_id"},
	domain.KindGroup:             {"workspace_id", "name"},
	domain.KindGroupMembership:   {"group_id", "user_id"},
	domain.KindTicketTypeOption:  {"workspace_id", "name"},
	domain.KindTicketTopicOption: {"workspace_id", "name"},
	domain.KindTag:               {"workspace_id", "name"},
	domain.KindResolutionOption:  {"workspace_id", "name"},
	domain.KindUser:              {"auth0_id"},
}

// MockGateway is an in-memory implementation of domain.ResourceGateway with
// the same uniqueness constraints as the real store and hooks for failure
// injection. It is safe for concurrent use.
type MockGateway struct {
	mu     sync.Mutex
	tables map[domain.Kind]map[uuid.UUID]domain.Row
	order  map[domain.Kind][]uuid.UUID
	failOn map[Call]error
	calls  []Call

	// BeforeFn runs before every call without the lock held. A non-nil error
	// fails the call before it touches any data.
	BeforeFn func(ctx context.Context, op Op, kind domain.Kind) error
}

// NewMockGateway creates a new MockGateway
func NewMockGateway() *MockGateway {
	return &MockGateway{
		tables: make(map[domain.Kind]map[uuid.UUID]domain.Row),
		order:  make(map[domain.Kind][]uuid.UUID),
		failOn: make(map[Call]error),
	}
}

var _ domain.ResourceGateway = (*MockGateway)(nil)

// FailOn makes every op on kind fail with err (ErrInjected when nil)
func (m *MockGateway) FailOn(op Op, kind domain.Kind, err error) {
	if err == nil {
		err = ErrInjected
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[Call{Op: op, Kind: kind}] = err
}

// ClearFailures removes all injected failures
func (m *MockGateway) ClearFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = make(map[Call]error)
}

func (m *MockGateway) before(ctx context.Context, op Op, kind domain.Kind) error {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Op: op, Kind: kind})
	injected := m.failOn[Call{Op: op, Kind: kind}]
	hook := m.BeforeFn
	m.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, op, kind); err != nil {
			return err
		}
	}
	if injected != nil {
		return fmt.Errorf("%s %s: %w", op, kind, injected)
	}
	return ctx.Err()
}

// Insert stores one row
func (m *MockGateway) Insert(ctx context.Context, kind domain.Kind, fields domain.Fields) (uuid.UUID, error) {
	if err := m.before(ctx, OpInsert, kind); err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	row := normalize(fields)
	if m.violates(kind, row, nil) {
		return uuid.Nil, fmt.Errorf("insert %s: %w", kind, domain.ErrConflict)
	}
	return m.store(kind, row), nil
}

// InsertMany stores all rows or none
func (m *MockGateway) InsertMany(ctx context.Context, kind domain.Kind, rows []domain.Fields) ([]uuid.UUID, error) {
	if err := m.before(ctx, OpInsertMany, kind); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	pending := make([]domain.Row, 0, len(rows))
	for _, fields := range rows {
		row := normalize(fields)
		if m.violates(kind, row, pending) {
			return nil, fmt.Errorf("insert %s: %w", kind, domain.ErrConflict)
		}
		pending = append(pending, row)
	}

	ids := make([]uuid.UUID, len(pending))
	for i, row := range pending {
		ids[i] = m.store(kind, row)
	}
	return ids, nil
}

// Get returns the first row matching filter
func (m *MockGateway) Get(ctx context.Context, kind domain.Kind, filter domain.Fields) (domain.Row, error) {
	if err := m.before(ctx, OpGet, kind); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows := m.match(kind, filter)
	if len(rows) == 0 {
		return nil, fmt.Errorf("get %s: %w", kind, domain.ErrNotFound)
	}
	return rows[0], nil
}

// Query returns every row matching filter in insertion order
func (m *MockGateway) Query(ctx context.Context, kind domain.Kind, filter domain.Fields) ([]domain.Row, error) {
	if err := m.before(ctx, OpQuery, kind); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.match(kind, filter), nil
}

// Delete removes a row by id
func (m *MockGateway) Delete(ctx context.Context, kind domain.Kind, id uuid.UUID) error {
	if err := m.before(ctx, OpDelete, kind); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tables[kind][id]; !ok {
		return fmt.Errorf("delete %s: %w", kind, domain.ErrNotFound)
	}
	delete(m.tables[kind], id)
	m.order[kind] = slices.DeleteFunc(m.order[kind], func(v uuid.UUID) bool { return v == id })
	return nil
}

// Seed stores a row without hooks or constraint checks (helper for tests)
func (m *MockGateway) Seed(kind domain.Kind, fields domain.Fields) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store(kind, normalize(fields))
}

// Rows returns every row of kind matching filter (helper for tests)
func (m *MockGateway) Rows(kind domain.Kind, filter domain.Fields) []domain.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.match(kind, filter)
}

// Count returns the number of rows of kind matching filter
func (m *MockGateway) Count(kind domain.Kind, filter domain.Fields) int {
	return len(m.Rows(kind, filter))
}

// Total returns the number of stored rows across all kinds
func (m *MockGateway) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for _, rows := range m.tables {
		total += len(rows)
	}
	return total
}

// ResidualRows counts the rows left for a workspace: the workspace row
// itself plus every row scoped to it
func (m *MockGateway) ResidualRows(workspaceID uuid.UUID) int {
	if workspaceID == uuid.Nil {
		return 0
	}
	n := m.Count(domain.KindWorkspace, domain.Fields{"id": workspaceID})
	for _, kind := range domain.TenantKinds {
		n += m.Count(kind, domain.Fields{"workspace_id": workspaceID})
	}
	return n
}

// Calls returns a copy of the recorded calls
func (m *MockGateway) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.calls)
}

// CallCount returns how many times op was called on kind
func (m *MockGateway) CallCount(op Op, kind domain.Kind) int {
	n := 0
	for _, c := range m.Calls() {
		if c.Op == op && c.Kind == kind {
			n++
		}
	}
	return n
}

// store must be called with m.mu held
func (m *MockGateway) store(kind domain.Kind, row domain.Row) uuid.UUID {
	id, ok := row["id"].(uuid.UUID)
	if !ok || id == uuid.Nil {
		id = uuid.New()
		row["id"] = id
	}
	if kind == domain.KindWorkspace {
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = time.Now().UTC()
		}
	}
	if m.tables[kind] == nil {
		m.tables[kind] = make(map[uuid.UUID]domain.Row)
	}
	m.tables[kind][id] = row
	m.order[kind] = append(m.order[kind], id)
	return id
}

// match must be called with m.mu held
func (m *MockGateway) match(kind domain.Kind, filter domain.Fields) []domain.Row {
	want := normalize(filter)
	var out []domain.Row
	for _, id := range m.order[kind] {
		row := m.tables[kind][id]
		if matches(row, want) {
			out = append(out, clone(row))
		}
	}
	return out
}

// violates must be called with m.mu held. A constraint with a NULL column
// never conflicts, as in Postgres.
func (m *MockGateway) violates(kind domain.Kind, row domain.Row, pending []domain.Row) bool {
	cols, ok := uniqueKeys[kind]
	if !ok {
		return false
	}

	key := make(domain.Row, len(cols))
	for _, col := range cols {
		v := row[col]
		if v == nil {
			return false
		}
		key[col] = v
	}

	for _, existing := range m.tables[kind] {
		if matches(existing, key) {
			return true
		}
	}
	for _, p := range pending {
		if matches(p, key) {
			return true
		}
	}
	return false
}

func matches(row, filter domain.Row) bool {
	for col, want := range filter {
		if row[col] != want {
			return false
		}
	}
	return true
}

// normalize copies fields, dereferencing optional uuids so values compare with ==
func normalize(fields domain.Fields) domain.Row {
	row := make(domain.Row, len(fields))
	for k, v := range fields {
		switch tv := v.(type) {
		case *uuid.UUID:
			if tv == nil {
				row[k] = nil
			} else {
				row[k] = *tv
			}
		case *string:
			if tv == nil {
				row[k] = nil
			} else {
				row[k] = *tv
			}
		default:
			row[k] = v
		}
	}
	return row
}

func clone(row domain.Row) domain.Row {
	out := make(domain.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// PublishedEvent is an event captured by MockEventPublisher
type PublishedEvent struct {
	WorkspaceID uuid.UUID
	Event       websocket.Event
}

// MockEventPublisher is a mock implementation of websocket.EventPublisher
type MockEventPublisher struct {
	mu     sync.Mutex
	Events []PublishedEvent
}

// NewMockEventPublisher creates a new MockEventPublisher
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

// Publish records the event
func (m *MockEventPublisher) Publish(workspaceID uuid.UUID, event websocket.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, PublishedEvent{WorkspaceID: workspaceID, Event: event})
}

// Types returns the types of the recorded events in publish order
func (m *MockEventPublisher) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Events))
	for i, e := range m.Events {
		out[i] = e.Event.Type
	}
	return out
}
