package rooms

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoomRoutes registers the room HTTP routes on an /api/v1 subrouter.
// Every route goes through requireAuth.
func RegisterRoomRoutes(r *mux.Router, handler *RoomHandler, requireAuth func(http.Handler) http.Handler) {
	rooms := r.PathPrefix("/rooms/{roomId}").Subrouter()
	rooms.Use(requireAuth)

	rooms.HandleFunc("", handler.GetRoom).Methods(http.MethodGet)
	rooms.HandleFunc("", handler.DeleteRoom).Methods(http.MethodDelete)
	rooms.HandleFunc("/messages", handler.ListMessages).Methods(http.MethodGet)
	rooms.HandleFunc("/playlist", handler.MutatePlaylist).Methods(http.MethodPost)
	rooms.HandleFunc("/kick", handler.Kick).Methods(http.MethodPost)
}
