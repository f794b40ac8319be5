package gateway

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Hub tracks live clients and named rooms. A client may sit in any number of
// rooms; membership is dropped when the client unregisters.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]map[string]struct{}
	rooms   map[string]map[*Client]struct{}

	logger *zap.Logger
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]map[string]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		return
	}
	h.clients[c] = make(map[string]struct{})
}

// unregister removes the client from every room and returns the rooms it
// was in, sorted. Calling it twice is a no-op.
func (h *Hub) unregister(c *Client) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[c]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(joined))
	for room := range joined {
		rooms = append(rooms, room)
		h.removeLocked(c, room)
	}
	delete(h.clients, c)

	sort.Strings(rooms)
	return rooms
}

// join adds the client to room; false if it was already there.
func (h *Hub) join(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[c]
	if !ok {
		return false
	}
	if _, ok := joined[room]; ok {
		return false
	}
	joined[room] = struct{}{}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	return true
}

func (h *Hub) leave(c *Client, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	joined, ok := h.clients[c]
	if !ok {
		return false
	}
	if _, ok := joined[room]; !ok {
		return false
	}
	delete(joined, room)
	h.removeLocked(c, room)
	return true
}

func (h *Hub) removeLocked(c *Client, room string) {
	members := h.rooms[room]
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, room)
	}
}

func (h *Hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

// roomSize reports how many clients are in room.
func (h *Hub) roomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// workspaceRooms lists the workspace ids of the client's workspace rooms.
func (h *Hub) workspaceRooms(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ids []string
	for room := range h.clients[c] {
		if id, ok := strings.CutPrefix(room, roomWorkspacePrefix); ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (h *Hub) members(room string, except *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

func (h *Hub) all() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// EmitToRoom sends an event to every client in room and returns how many
// clients accepted it.
func (h *Hub) EmitToRoom(room, event string, data json.RawMessage) int {
	return h.emit(h.members(room, nil), event, data)
}

// EmitToRoomExcept is EmitToRoom without the originating client.
func (h *Hub) EmitToRoomExcept(room string, except *Client, event string, data json.RawMessage) int {
	return h.emit(h.members(room, except), event, data)
}

func (h *Hub) EmitToAll(event string, data json.RawMessage) int {
	return h.emit(h.all(), event, data)
}

func (h *Hub) emit(clients []*Client, event string, data json.RawMessage) int {
	if len(clients) == 0 {
		return 0
	}
	msg, err := encodeFrame(event, data, "")
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return 0
	}

	delivered := 0
	for _, c := range clients {
		if c.trySend(msg) {
			delivered++
		} else {
			h.logger.Warn("Client send buffer full, disconnecting",
				zap.String("socket_id", c.id),
				zap.String("user_id", c.UserID()),
			)
		}
	}
	return delivered
}

// sendTo delivers one frame to a single client.
func (h *Hub) sendTo(c *Client, event string, data json.RawMessage, ackID string) bool {
	msg, err := encodeFrame(event, data, ackID)
	if err != nil {
		h.logger.Error("Failed to encode event", zap.String("event", event), zap.Error(err))
		return false
	}
	return c.trySend(msg)
}

// closeAll asks every client to close; each then runs its own disconnect.
func (h *Hub) closeAll() {
	for _, c := range h.all() {
		c.closeSend()
	}
}
