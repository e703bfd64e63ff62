package domain

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Kind names a collection in the remote store. The value doubles as the table name.
type Kind string

const (
	KindWorkspace         Kind = "workspaces"
	KindMembership        Kind = "memberships"
	KindTicketConfig      Kind = "ticket_configs"
	KindGroup             Kind = "groups"
	KindGroupMembership   Kind = "group_memberships"
	KindTicketTypeOption  Kind = "ticket_type_options"
	KindTicketTopicOption Kind = "ticket_topic_options"
	KindTag               Kind = "tags"
	KindResolutionOption  Kind = "resolution_options"
	KindTicket            Kind = "tickets"
	KindTicketVersion     Kind = "ticket_versions"
	KindMacro             Kind = "macros"
	KindInvite            Kind = "invites"
	KindUser              Kind = "users"
)

// TenantKinds lists every workspace-scoped kind, dependents before the rows
// they reference. Deleting in this order never trips a foreign key.
var TenantKinds = []Kind{
	KindTicketVersion,
	KindMacro,
	KindTicket,
	KindInvite,
	KindGroupMembership,
	KindResolutionOption,
	KindTag,
	KindTicketTopicOption,
	KindTicketTypeOption,
	KindGroup,
	KindTicketConfig,
	KindMembership,
}

// Fields holds column values for an insert or the equality filter of a query.
type Fields map[string]any

// Row is a single stored record. Every row carries an "id" column.
type Row map[string]any

// ID returns the row's generated identifier.
func (r Row) ID() uuid.UUID {
	return r.UUID("id")
}

// UUID reads a uuid column, returning uuid.Nil when absent or NULL.
func (r Row) UUID(col string) uuid.UUID {
	switch v := r[col].(type) {
	case uuid.UUID:
		return v
	case [16]byte:
		return uuid.UUID(v)
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil
		}
		return id
	default:
		return uuid.Nil
	}
}

// String reads a text column.
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool reads a boolean column.
func (r Row) Bool(col string) bool {
	v, _ := r[col].(bool)
	return v
}

// ResourceGateway is the sole channel to the remote data store. Each call is
// atomic on its own; nothing spans calls.
//
// Implementations return ErrNotFound when Get or Delete match no row and
// ErrConflict when an insert violates a uniqueness constraint.
type ResourceGateway interface {
	Insert(ctx context.Context, kind Kind, fields Fields) (uuid.UUID, error)
	InsertMany(ctx context.Context, kind Kind, rows []Fields) ([]uuid.UUID, error)
	Get(ctx context.Context, kind Kind, filter Fields) (Row, error)
	Query(ctx context.Context, kind Kind, filter Fields) ([]Row, error)
	Delete(ctx context.Context, kind Kind, id uuid.UUID) error
}
