package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType is the verb of an event
type EventType string

const (
	EventTypeCreated     EventType = "created"
	EventTypeProvisioned EventType = "provisioned"
	EventTypeResolved    EventType = "resolved"
)

// EntityType is the noun of an event
type EntityType string

const (
	EntityTypeWorkspace  EntityType = "workspace"
	EntityTypeMembership EntityType = "membership"
	EntityTypeInvite     EntityType = "invite"
)

// Event is the message sent to subscribers.
// Format: { type, entity, payload, timestamp }
type Event struct {
	Type      string     `json:"type"` // e.g. "workspace.provisioned"
	Entity    EntityType `json:"entity"`
	Payload   any        `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewEvent creates a new event with the given type, entity, and payload
func NewEvent(eventType EventType, entityType EntityType, payload any) Event {
	return Event{
		Type:      fmt.Sprintf("%s.%s", entityType, eventType),
		Entity:    entityType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON serializes the event to JSON bytes
func (e Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// WorkspaceProvisioned creates a workspace.provisioned event
func WorkspaceProvisioned(payload any) Event {
	return NewEvent(EventTypeProvisioned, EntityTypeWorkspace, payload)
}

// MembershipCreated creates a membership.created event
func MembershipCreated(payload any) Event {
	return NewEvent(EventTypeCreated, EntityTypeMembership, payload)
}

// InviteCreated creates an invite.created event
func InviteCreated(payload any) Event {
	return NewEvent(EventTypeCreated, EntityTypeInvite, payload)
}

// InviteResolved creates an invite.resolved event
func InviteResolved(payload any) Event {
	return NewEvent(EventTypeResolved, EntityTypeInvite, payload)
}
