package chat

import (
	"encoding/json"
	"sync"

	"taskroom/api/internal/logging"
)

// Hub tracks connections and project rooms. Room membership is
// connection-scoped: a connection belongs to at most one room, and
// rooms exist only while they have connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
	// memberOf maps a client ID to its current room key. The hub keeps
	// this itself rather than reading the client's stamped identity,
	// which moves on before the room bookkeeping runs.
	memberOf map[string]string
}

func NewHub() *Hub {
	return &Hub{
		clients:  make(map[string]*Client),
		rooms:    make(map[string]map[string]*Client),
		memberOf: make(map[string]string),
	}
}

func roomKey(projectID string) string {
	return "project-" + projectID
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
}

// Unregister removes the connection from its room and the client set,
// and closes its send channel so the write pump exits.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.ID]; !ok {
		return
	}
	delete(h.clients, c.ID)
	h.removeFromRoom(c.ID)
	close(c.Send)
}

// JoinRoom adds the connection to the project's room, moving it out of
// any room it was in before.
func (h *Hub) JoinRoom(c *Client, projectID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoom(c.ID)

	key := roomKey(projectID)
	room, ok := h.rooms[key]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[key] = room
	}
	room[c.ID] = c
	h.memberOf[c.ID] = key
}

// removeFromRoom drops the connection from its current room, if any,
// and reaps the room when it empties. Caller holds the lock.
func (h *Hub) removeFromRoom(clientID string) {
	key, ok := h.memberOf[clientID]
	if !ok {
		return
	}
	delete(h.memberOf, clientID)
	room, ok := h.rooms[key]
	if !ok {
		return
	}
	delete(room, clientID)
	if len(room) == 0 {
		delete(h.rooms, key)
	}
}

// Broadcast fans an event out to every connection in the project's
// room, skipping excludeID when set. Connections with a full send
// buffer miss the frame; the room stays consistent either way.
func (h *Hub) Broadcast(projectID string, event any, excludeID string) {
	data, err := json.Marshal(event)
	if err != nil {
		logging.L().Error().Err(err).Str("projectId", projectID).Msg("marshal broadcast event")
		return
	}

	// Sends stay under the read lock: Unregister closes Send under the
	// write lock, so nothing here can hit a closed channel. The
	// non-blocking send keeps the lock hold short.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[roomKey(projectID)] {
		if id == excludeID {
			continue
		}
		select {
		case c.Send <- data:
		default:
			logging.L().Warn().Str("clientId", c.ID).Str("projectId", projectID).Msg("send buffer full, dropping broadcast")
		}
	}
}

// RoomSize reports the number of connections in the project's room.
func (h *Hub) RoomSize(projectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomKey(projectID)])
}
