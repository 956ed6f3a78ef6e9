package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Routes registers the management API on the given router. The relay's
// websocket endpoint is registered separately by the server entrypoint.
func (h *Handler) Routes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/verify", h.Authenticated(h.Verify)).Methods(http.MethodGet)

	api.HandleFunc("/users/profile/me", h.Authenticated(h.ProfileMe)).Methods(http.MethodGet)
	api.HandleFunc("/users/{userId}/public-key", h.PublicKey).Methods(http.MethodGet)

	api.HandleFunc("/rooms/create", h.Authenticated(h.CreateRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/join", h.Authenticated(h.JoinRoom)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/list/myrooms", h.Authenticated(h.MyRooms)).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}", h.Authenticated(h.GetRoom)).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/messages", h.Authenticated(h.RoomMessages)).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomId}/remove-member", h.Authenticated(h.RemoveMember)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}/end-session", h.Authenticated(h.EndSession)).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomId}", h.Authenticated(h.DeleteRoom)).Methods(http.MethodDelete)
}
