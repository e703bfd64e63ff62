package websocket

import "github.com/google/uuid"

// EventPublisher delivers events to the subscribers of a workspace
type EventPublisher interface {
	Publish(workspaceID uuid.UUID, event Event)
}

var _ EventPublisher = (*Hub)(nil)

// Publish implements EventPublisher by broadcasting the event to the workspace
func (h *Hub) Publish(workspaceID uuid.UUID, event Event) {
	h.Broadcast(workspaceID, event)
}

// NoOpPublisher discards events. Used by the CLI, which has no subscribers.
type NoOpPublisher struct{}

// Publish does nothing
func (n *NoOpPublisher) Publish(workspaceID uuid.UUID, event Event) {}
