package domain

import (
	"time"

	"github.com/google/uuid"
)

// Workspace is a tenant of the ticketing system
type Workspace struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	OwnerID    uuid.UUID `json:"ownerId"`
	RequestKey string    `json:"-"`
	CreatedAt  time.Time `json:"createdAt"`
}

// ProvisionResult describes a fully provisioned workspace
type ProvisionResult struct {
	Workspace          *Workspace           `json:"workspace"`
	OwnerMembership    *Membership          `json:"ownerMembership"`
	TicketConfigID     uuid.UUID            `json:"ticketConfigId"`
	Groups             map[string]uuid.UUID `json:"groups"`
	TicketTypes        map[string]uuid.UUID `json:"ticketTypes"`
	TicketTopics       map[string]uuid.UUID `json:"ticketTopics"`
	Tags               map[string]uuid.UUID `json:"tags"`
	Resolutions        map[string]uuid.UUID `json:"resolutions"`
	SampleTicketID     uuid.UUID            `json:"sampleTicketId"`
	SampleVersionID    uuid.UUID            `json:"sampleVersionId"`
	SampleMacroID      uuid.UUID            `json:"sampleMacroId"`
	AlreadyProvisioned bool                 `json:"alreadyProvisioned"`
}

// WorkspaceFromRow converts a stored workspaces row
func WorkspaceFromRow(r Row) *Workspace {
	ws := &Workspace{
		ID:         r.ID(),
		Name:       r.String("name"),
		OwnerID:    r.UUID("owner_id"),
		RequestKey: r.String("request_key"),
	}
	if t, ok := r["created_at"].(time.Time); ok {
		ws.CreatedAt = t
	}
	return ws
}
