package ws

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-rooms/internal/metrics"
	"github.com/Vasu1712/scenyx-rooms/internal/protocol"
)

// Hub is the registry of live rooms. The hub lock only guards the table;
// per-room work happens under each room's own lock. When both are needed the
// hub lock is taken first.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room // roomID -> room

	now func() time.Time
	log zerolog.Logger
}

type HubOption func(*Hub)

// WithClock replaces time.Now for every timestamp the hub and its rooms produce.
func WithClock(now func() time.Time) HubOption {
	return func(h *Hub) { h.now = now }
}

// NewHub returns an empty registry.
func NewHub(logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		rooms: make(map[string]*Room),
		now:   time.Now,
		log:   logger.With().Str("component", "hub").Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Now reads the hub clock.
func (h *Hub) Now() time.Time { return h.now() }

// Get returns the live room, if any. An unknown room is not an error.
func (h *Hub) Get(roomID string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// GetOrCreate returns the live room or registers a new one built from seed.
// The seed is ignored when another caller created the room first.
func (h *Hub) GetOrCreate(roomID string, seed Seed) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[roomID]; ok {
		return r, false
	}
	seed.Snapshot.ID = roomID
	r := newRoom(seed, h.log)
	h.rooms[roomID] = r
	metrics.ActiveRooms.Set(float64(len(h.rooms)))

	h.log.Info().Str("room_id", roomID).Msg("room created")
	return r, true
}

// RemoveIfEmpty evicts r when it has no members and reports whether it did.
// Only the registered instance is evicted: a room that was already closed and
// recreated under the same id is left alone.
func (h *Hub) RemoveIfEmpty(r *Room) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.rooms[r.id] != r || !r.evictIfEmpty() {
		return false
	}
	delete(h.rooms, r.id)
	metrics.ActiveRooms.Set(float64(len(h.rooms)))

	h.log.Info().Str("room_id", r.id).Msg("room evicted")
	return true
}

// Broadcast hands ev to the room's members. A room that is not live gets nothing.
func (h *Hub) Broadcast(roomID string, ev protocol.Event) bool {
	r, ok := h.Get(roomID)
	if !ok {
		return false
	}
	r.Publish(ev)
	return true
}

// KickUser closes every connection userID holds in the room.
func (h *Hub) KickUser(roomID, userID string) int {
	r, ok := h.Get(roomID)
	if !ok {
		return 0
	}
	return r.KickUser(userID, protocol.CloseForbidden, "removed from room")
}

// CloseRoom evicts the room and closes all of its members with code.
func (h *Hub) CloseRoom(roomID string, code int, reason string) (*Room, bool) {
	h.mu.Lock()
	r, ok := h.rooms[roomID]
	if ok {
		delete(h.rooms, roomID)
		metrics.ActiveRooms.Set(float64(len(h.rooms)))
	}
	h.mu.Unlock()

	if !ok {
		return nil, false
	}
	n := r.closeAll(code, reason, true)
	h.log.Info().Str("room_id", roomID).Int("connections", n).Int("code", code).Msg("room closed")
	return r, true
}

// CloseAll closes every connection in every room without evicting them; the
// rooms empty out as sessions leave.
func (h *Hub) CloseAll(code int, reason string) int {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	n := 0
	for _, r := range rooms {
		n += r.closeAll(code, reason, false)
	}
	return n
}

// Stats returns the number of live rooms and connections.
func (h *Hub) Stats() (rooms, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rooms = len(h.rooms)
	for _, r := range h.rooms {
		connections += r.Len()
	}
	return rooms, connections
}

// RoomIDs returns the ids of the live rooms, sorted.
func (h *Hub) RoomIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms))
	for id := range h.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
