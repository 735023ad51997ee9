package rooms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/Vasu1712/scenyx-rooms/internal/middleware"
	"github.com/Vasu1712/scenyx-rooms/internal/models"
	"github.com/Vasu1712/scenyx-rooms/internal/protocol"
	"github.com/Vasu1712/scenyx-rooms/internal/storage"
	"github.com/Vasu1712/scenyx-rooms/internal/ws"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

// CheckpointDeleter drops the cached playback of a deleted room.
type CheckpointDeleter interface {
	DeleteCheckpoint(ctx context.Context, roomID string) error
}

// RoomHandler serves the HTTP operations on a room: the live view, chat
// history, playlist changes and the host-only kick and delete.
type RoomHandler struct {
	Store       storage.Repository
	Hub         *ws.Hub
	Checkpoints CheckpointDeleter // optional
	Log         zerolog.Logger
}

// GetRoom handles GET /api/v1/rooms/{roomId}.
// It returns the live snapshot of the room, or 404 when nobody is connected.
func (h *RoomHandler) GetRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if _, ok := h.authorize(w, r, roomID); !ok {
		return
	}

	room, ok := h.Hub.Get(roomID)
	if !ok {
		writeError(w, http.StatusNotFound, "room is not live")
		return
	}
	writeJSON(w, http.StatusOK, room.View(h.Hub.Now()))
}

// ListMessages handles GET /api/v1/rooms/{roomId}/messages?limit=&offset=.
// Messages come back oldest first, each with its sender's summary.
func (h *RoomHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if _, ok := h.authorize(w, r, roomID); !ok {
		return
	}

	limit, err := queryInt(r, "limit", defaultMessageLimit)
	if err != nil || limit < 1 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	msgs, err := h.Store.ListMessages(r.Context(), roomID, limit, offset)
	if err != nil {
		h.storageError(w, err, "list messages", roomID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"messages": msgs,
		"limit":    limit,
		"offset":   offset,
	})
}

// MutatePlaylist handles POST /api/v1/rooms/{roomId}/playlist.
// It expects {"action": "add"|"remove", "trackId": "..."}, persists the change
// and announces it to the room's live members.
func (h *RoomHandler) MutatePlaylist(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if _, ok := h.authorize(w, r, roomID); !ok {
		return
	}

	var req struct {
		Action  models.PlaylistAction `json:"action"`
		TrackID string                `json:"trackId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.Action.Valid() || req.TrackID == "" {
		writeError(w, http.StatusBadRequest, "action must be add or remove and trackId is required")
		return
	}

	track, err := h.Store.MutatePlaylist(r.Context(), roomID, req.Action, req.TrackID)
	if err != nil {
		h.storageError(w, err, "mutate playlist", roomID)
		return
	}

	ev := protocol.PlaylistUpdateEvent{Action: req.Action, Track: *track}
	delivered := h.Hub.Broadcast(roomID, ev)

	h.Log.Info().
		Str("room_id", roomID).
		Str("action", string(req.Action)).
		Str("track_id", track.ID).
		Bool("live", delivered).
		Msg("playlist updated")
	writeJSON(w, http.StatusOK, ev)
}

// Kick handles POST /api/v1/rooms/{roomId}/kick with {"userId": "..."}.
// Only the room host may kick; every connection of the user is closed.
func (h *RoomHandler) Kick(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]

	var req struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	if !h.requireHost(w, r, roomID) {
		return
	}

	n := h.Hub.KickUser(roomID, req.UserID)
	h.Log.Info().Str("room_id", roomID).Str("user_id", req.UserID).Int("connections", n).Msg("user kicked")
	writeJSON(w, http.StatusOK, map[string]int{"closedConnections": n})
}

// DeleteRoom handles DELETE /api/v1/rooms/{roomId}.
// Only the room host may delete; live members are disconnected with 4004.
func (h *RoomHandler) DeleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["roomId"]
	if !h.requireHost(w, r, roomID) {
		return
	}

	if err := h.Store.DeleteRoom(r.Context(), roomID); err != nil {
		h.storageError(w, err, "delete room", roomID)
		return
	}
	h.Hub.CloseRoom(roomID, protocol.CloseRoomNotFound, "room deleted")
	if h.Checkpoints != nil {
		if err := h.Checkpoints.DeleteCheckpoint(r.Context(), roomID); err != nil {
			h.Log.Warn().Err(err).Str("room_id", roomID).Msg("delete checkpoint")
		}
	}

	h.Log.Info().Str("room_id", roomID).Msg("room deleted")
	w.WriteHeader(http.StatusNoContent)
}

// authorize applies the room's access rules to the caller, the same ones a
// websocket join goes through. Private rooms take the key from the "key" query
// parameter or the X-Room-Key header.
func (h *RoomHandler) authorize(w http.ResponseWriter, r *http.Request, roomID string) (*models.RoomSnapshot, bool) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return nil, false
	}
	snap, err := h.Store.LoadRoomSnapshot(r.Context(), roomID)
	if err != nil {
		h.storageError(w, err, "load room", roomID)
		return nil, false
	}
	if err := ws.CheckAccess(snap, user.ID, roomKey(r)); err != nil {
		writeError(w, http.StatusForbidden, err.Error())
		return nil, false
	}
	return snap, true
}

// requireHost writes the error response and returns false unless the caller
// hosts the room.
func (h *RoomHandler) requireHost(w http.ResponseWriter, r *http.Request, roomID string) bool {
	snap, ok := h.authorize(w, r, roomID)
	if !ok {
		return false
	}
	user, _ := middleware.UserFromContext(r.Context())
	if snap.HostUserID == "" || snap.HostUserID != user.ID {
		writeError(w, http.StatusForbidden, "only the room host can do this")
		return false
	}
	return true
}

func (h *RoomHandler) storageError(w http.ResponseWriter, err error, op, roomID string) {
	switch {
	case errors.Is(err, storage.ErrRoomNotFound):
		writeError(w, http.StatusNotFound, "room not found")
	case errors.Is(err, storage.ErrTrackNotFound):
		writeError(w, http.StatusNotFound, "track not found")
	default:
		h.Log.Error().Err(err).Str("room_id", roomID).Msg(op)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func roomKey(r *http.Request) string {
	if key := r.URL.Query().Get("key"); key != "" {
		return key
	}
	return r.Header.Get("X-Room-Key")
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
