package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

func NewRouter(authHandlers *AuthHandlers, roomHandlers *RoomHandlers, wsHandlers *WebSocketHandlers, store Pinger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", health(store)).Methods(http.MethodGet)
	// The websocket checks its own token so browsers can pass it in the query.
	r.HandleFunc("/ws", wsHandlers.HandleWebSocket).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(authHandlers.RequireAuth)

	api.HandleFunc("/conversations", roomHandlers.ListConversations).Methods(http.MethodGet)
	api.HandleFunc("/conversations", roomHandlers.AccessConversation).Methods(http.MethodPost)
	api.HandleFunc("/groups", roomHandlers.ListGroups).Methods(http.MethodGet)
	api.HandleFunc("/groups", roomHandlers.CreateGroup).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupID}", roomHandlers.RenameGroup).Methods(http.MethodPut)
	api.HandleFunc("/groups/{groupID}/members", roomHandlers.AddGroupMember).Methods(http.MethodPost)
	api.HandleFunc("/groups/{groupID}/members/{userID}", roomHandlers.RemoveGroupMember).Methods(http.MethodDelete)
	api.HandleFunc("/rooms/{roomID}/messages", roomHandlers.GetMessages).Methods(http.MethodGet)
	api.HandleFunc("/rooms/{roomID}/messages", roomHandlers.PostMessage).Methods(http.MethodPost)
	api.HandleFunc("/rooms/{roomID}/read", roomHandlers.MarkRead).Methods(http.MethodPut)
	api.HandleFunc("/users/online", wsHandlers.OnlineUsers).Methods(http.MethodGet)

	return corsMiddleware(r)
}

func health(store Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
