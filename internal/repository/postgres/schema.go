package postgres

import (
	"fmt"

	"github.com/dafibh/deskflow/deskflow-backend/internal/domain"
)

// ticketColumns are shared by tickets and their versions
var ticketColumns = []string{
	"workspace_id", "subject", "description", "status", "priority",
	"group_id", "type_id", "topic_id", "tag_id",
	"creator_id", "requestor_id", "assignee_id",
}

var catalogColumns = []string{"workspace_id", "name"}

// columns lists the writable and filterable columns of each kind besides id
// and created_at. Anything else is rejected before SQL is built.
var columns = map[domain.Kind][]string{
	domain.KindUser:       {"auth0_id", "email", "name"},
	domain.KindWorkspace:  {"name", "owner_id", "request_key"},
	domain.KindMembership: {"workspace_id", "user_id", "role"},
	domain.KindTicketConfig: {
		"workspace_id", "has_groups", "has_type", "has_topic",
		"has_resolution", "has_resolution_notes",
	},
	domain.KindGroup:             catalogColumns,
	domain.KindGroupMembership:   {"workspace_id", "group_id", "user_id"},
	domain.KindTicketTypeOption:  catalogColumns,
	domain.KindTicketTopicOption: catalogColumns,
	domain.KindTag:               catalogColumns,
	domain.KindResolutionOption:  catalogColumns,
	domain.KindTicket:            ticketColumns,
	domain.KindTicketVersion:     append([]string{"ticket_id"}, ticketColumns...),
	domain.KindMacro: {
		"workspace_id", "name", "subject", "description", "status", "priority",
		"group_id", "type_id", "topic_id",
	},
	domain.KindInvite: {"workspace_id", "email", "role", "group_id"},
}

func checkKind(kind domain.Kind) error {
	if _, ok := columns[kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return nil
}

// checkColumn accepts id and created_at for filtering only
func checkColumn(kind domain.Kind, col string, filter bool) error {
	if filter && (col == "id" || col == "created_at") {
		return nil
	}
	for _, c := range columns[kind] {
		if c == col {
			return nil
		}
	}
	return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, kind, col)
}
