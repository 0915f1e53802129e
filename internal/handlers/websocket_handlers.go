package handlers

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"

	"chatrelay/internal/auth"
	"chatrelay/internal/models"
	"chatrelay/internal/presence"
	ws "chatrelay/internal/websocket"
	"chatrelay/pkg/logger"
)

// OnlineDirectory is a shared view of who is online, kept outside this
// process.
type OnlineDirectory interface {
	Online(ctx context.Context) ([]string, error)
}

type WebSocketHandlers struct {
	authService *auth.Service
	hub         *ws.Hub
	gateway     *ws.Gateway
	presence    *presence.Registry
	directory   OnlineDirectory
	sendBuffer  int
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, hub *ws.Hub, gateway *ws.Gateway, registry *presence.Registry, sendBuffer int) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		hub:         hub,
		gateway:     gateway,
		presence:    registry,
		sendBuffer:  sendBuffer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

// HandleWebSocket upgrades /ws?token=. The connection stays anonymous until
// it sends connect.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.authService.FromRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, h.gateway, claims.UserID, claims.DisplayName, h.sendBuffer)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// UseDirectory makes /users/online answer from the shared directory.
func (h *WebSocketHandlers) UseDirectory(d OnlineDirectory) {
	h.directory = d
}

// OnlineUsers answers from the directory when one is configured and from the
// in-memory registry otherwise, or when the directory cannot be reached.
func (h *WebSocketHandlers) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	if h.directory != nil {
		ids, err := h.directory.Online(r.Context())
		if err == nil {
			if ids == nil {
				ids = []string{}
			}
			writeJSON(w, http.StatusOK, models.OnlineUsersPayload{UserIDs: ids})
			return
		}
		logger.Warn("Presence directory unavailable, answering from memory: %v", err)
	}
	writeJSON(w, http.StatusOK, models.OnlineUsersPayload{UserIDs: h.presence.ListOnline()})
}
