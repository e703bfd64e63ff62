package websocket

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	// ErrClientClosed is returned when attempting to send to a closed client
	ErrClientClosed = errors.New("client is closed")
	// ErrSlowSubscriber is returned when a client's send queue is full
	ErrSlowSubscriber = errors.New("client send queue is full")
)

// ClientInterface defines the interface that clients must implement
type ClientInterface interface {
	ID() string
	WorkspaceID() uuid.UUID
	Send(data []byte) error
	Close() error
}

// Hub fans events out to the clients subscribed to a workspace.
// It is safe for concurrent use.
type Hub struct {
	// subscribers maps workspace ID to client ID to client
	subscribers map[uuid.UUID]map[string]ClientInterface
	mu          sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[uuid.UUID]map[string]ClientInterface),
	}
}

// Register subscribes a client to its workspace
func (h *Hub) Register(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	workspaceID := client.WorkspaceID()
	if h.subscribers[workspaceID] == nil {
		h.subscribers[workspaceID] = make(map[string]ClientInterface)
	}
	h.subscribers[workspaceID][client.ID()] = client

	log.Debug().
		Str("workspace_id", workspaceID.String()).
		Str("client_id", client.ID()).
		Msg("WebSocket client registered")
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	defer h.mu.Unlock()

	workspaceID := client.WorkspaceID()
	clients, ok := h.subscribers[workspaceID]
	if !ok {
		return
	}
	if _, exists := clients[client.ID()]; !exists {
		return
	}

	delete(clients, client.ID())
	if len(clients) == 0 {
		delete(h.subscribers, workspaceID)
	}

	log.Debug().
		Str("workspace_id", workspaceID.String()).
		Str("client_id", client.ID()).
		Msg("WebSocket client unregistered")
}

// snapshot copies a workspace's clients so sends happen without the lock
func (h *Hub) snapshot(workspaceID uuid.UUID) []ClientInterface {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients := h.subscribers[workspaceID]
	out := make([]ClientInterface, 0, len(clients))
	for _, c := range clients {
		out = append(out, c)
	}
	return out
}

// Broadcast sends an event to all clients in a workspace
func (h *Hub) Broadcast(workspaceID uuid.UUID, event Event) {
	clients := h.snapshot(workspaceID)
	if len(clients) == 0 {
		return
	}

	data, err := event.ToJSON()
	if err != nil {
		log.Error().
			Err(err).
			Str("workspace_id", workspaceID.String()).
			Str("event_type", event.Type).
			Msg("Failed to serialize event")
		return
	}

	for _, client := range clients {
		go func(c ClientInterface) {
			err := c.Send(data)
			if errors.Is(err, ErrSlowSubscriber) {
				// a subscriber that cannot keep up would only see a gap later
				h.Unregister(c)
				_ = c.Close()
			}
			if err != nil {
				log.Warn().
					Err(err).
					Str("workspace_id", workspaceID.String()).
					Str("client_id", c.ID()).
					Msg("Failed to send to client")
			}
		}(client)
	}

	log.Debug().
		Str("workspace_id", workspaceID.String()).
		Str("event_type", event.Type).
		Int("client_count", len(clients)).
		Msg("Broadcast event")
}

// Shutdown closes every connected client
func (h *Hub) Shutdown() {
	h.mu.Lock()
	all := h.subscribers
	h.subscribers = make(map[uuid.UUID]map[string]ClientInterface)
	h.mu.Unlock()

	for _, clients := range all {
		for _, c := range clients {
			_ = c.Close()
		}
	}
}

// ClientCount returns the number of clients subscribed to a workspace
func (h *Hub) ClientCount(workspaceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[workspaceID])
}

// TotalClientCount returns the number of connected clients across all workspaces
func (h *Hub) TotalClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	total := 0
	for _, clients := range h.subscribers {
		total += len(clients)
	}
	return total
}
