package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Hub tracks connected clients and their chat-room subscriptions. Rooms are
// keyed by chat ID; a client may be in any number of rooms at once. All
// operations are thread-safe via sync.RWMutex.
type Hub struct {
	mu    sync.RWMutex
	rooms map[uuid.UUID]map[*Client]struct{} // chatID -> subscribed clients
	byID  map[string]*Client                 // connection ID -> client
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[uuid.UUID]map[*Client]struct{}),
		byID:  make(map[string]*Client),
	}
}

// Add registers a freshly authenticated client with the hub.
func (h *Hub) Add(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byID[client.ID] = client
}

// Remove drops a client from the hub and every room it joined, and closes
// its send channel.
func (h *Hub) Remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.byID[client.ID]; !ok {
		return
	}

	for chatID := range client.rooms {
		if members, ok := h.rooms[chatID]; ok {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, chatID)
			}
		}
	}

	delete(h.byID, client.ID)
	close(client.send)
}

// Join subscribes a client to a chat room. Authorization happens before this
// call; the hub only tracks subscriptions.
func (h *Hub) Join(client *Client, chatID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[chatID] == nil {
		h.rooms[chatID] = make(map[*Client]struct{})
	}
	h.rooms[chatID][client] = struct{}{}
	client.rooms[chatID] = struct{}{}
}

// Leave unsubscribes a client from a chat room.
func (h *Hub) Leave(client *Client, chatID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members, ok := h.rooms[chatID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, chatID)
		}
	}
	delete(client.rooms, chatID)
}

// InRoom reports whether the client is currently subscribed to the room.
func (h *Hub) InRoom(client *Client, chatID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[chatID][client]
	return ok
}

// Broadcast sends a pre-encoded frame to every client in the room. When
// except is non-nil that client is skipped.
func (h *Hub) Broadcast(chatID uuid.UUID, frame []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[chatID] {
		if client == except {
			continue
		}
		client.enqueue(frame)
	}
}

// BroadcastAll sends a frame to every connected client except the one given.
func (h *Hub) BroadcastAll(frame []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.byID {
		if client == except {
			continue
		}
		client.enqueue(frame)
	}
}

// SendTo delivers a frame to one specific connection. Returns false when no
// client with that connection ID is attached to this hub instance.
func (h *Hub) SendTo(connID string, frame []byte) bool {
	h.mu.RLock()
	client, ok := h.byID[connID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	client.enqueue(frame)
	return true
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byID)
}

// RoomCount returns the number of clients subscribed to a chat room.
func (h *Hub) RoomCount(chatID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[chatID])
}
