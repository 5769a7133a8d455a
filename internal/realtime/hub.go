// Package realtime carries the WebSocket transport: per-user channels for
// individual pushes and named rooms used as dispatch groups.
package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"
)

// Envelope is the tagged wire format for every outbound message. Type
// identifies the event kind so clients never sniff payload shapes.
type Envelope struct {
	Type      string         `json:"type"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// NewEnvelope builds an envelope stamped with the current time.
func NewEnvelope(eventType string, data map[string]any) Envelope {
	return Envelope{Type: eventType, Timestamp: time.Now().UnixMilli(), Data: data}
}

// DisconnectFunc is called when a client's connection drops, before the
// client is removed from the hub.
type DisconnectFunc func(userID, userType string)

// Hub tracks connected clients and room membership. Rooms are created on
// first join and deleted when emptied or closed; a booking's dispatch group
// is the room named by the booking ID.
type Hub struct {
	mu           sync.RWMutex
	clients      map[string]*Client            // by user ID
	rooms        map[string]map[string]*Client // room -> user ID -> client
	onDisconnect DisconnectFunc
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
	}
}

// OnDisconnect registers the disconnect callback. Must be called before
// clients attach.
func (h *Hub) OnDisconnect(fn DisconnectFunc) {
	h.onDisconnect = fn
}

// register adds a client, displacing any previous connection for the user.
// The displaced client is evicted from every room before its channel closes
// so no broadcast can reach it afterwards.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	if prev, ok := h.clients[c.UserID]; ok {
		h.evictLocked(prev)
		prev.close()
	}
	h.clients[c.UserID] = c
	h.mu.Unlock()

	log.Printf("realtime: client connected user=%s type=%s", c.UserID, c.UserType)
}

// unregister removes a client and its room memberships. A displaced client
// unregistering late must not touch its replacement's state or report the
// user as disconnected.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	active := h.clients[c.UserID] == c
	if active {
		delete(h.clients, c.UserID)
	}
	h.evictLocked(c)
	h.mu.Unlock()

	if active {
		if h.onDisconnect != nil {
			h.onDisconnect(c.UserID, c.UserType)
		}
		log.Printf("realtime: client disconnected user=%s", c.UserID)
	}
}

// evictLocked removes this exact client from every room it is in. Caller
// holds h.mu.
func (h *Hub) evictLocked(c *Client) {
	for room, members := range h.rooms {
		if members[c.UserID] == c {
			delete(members, c.UserID)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
}

// JoinRoom adds a connected user to a room. Unconnected users are skipped;
// membership is re-derived from presence on their next connection.
func (h *Hub) JoinRoom(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.clients[userID]
	if !ok {
		return
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
	}
	members[userID] = c
}

// LeaveRoom removes a user from a room.
func (h *Hub) LeaveRoom(room, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		return
	}
	delete(members, userID)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

// CloseRoom removes a room and all its memberships.
func (h *Hub) CloseRoom(room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rooms, room)
}

// RoomMembers lists the user IDs currently in a room.
func (h *Hub) RoomMembers(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members := make([]string, 0, len(h.rooms[room]))
	for id := range h.rooms[room] {
		members = append(members, id)
	}
	return members
}

// BroadcastToRoom sends an envelope to every member of a room.
func (h *Hub) BroadcastToRoom(room string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("realtime: marshal failed: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[room] {
		c.enqueue(data)
	}
}

// SendToUser sends an envelope to a single connected user. Returns false
// when the user has no active connection.
func (h *Hub) SendToUser(userID string, env Envelope) bool {
	data, err := json.Marshal(env)
	if err != nil {
		log.Printf("realtime: marshal failed: %v", err)
		return false
	}

	h.mu.RLock()
	c, ok := h.clients[userID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	c.enqueue(data)
	return true
}
