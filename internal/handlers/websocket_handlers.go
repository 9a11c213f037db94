package handlers

import (
	"net/http"

	"snapclone/internal/auth"
	"snapclone/internal/config"
	"snapclone/internal/realtime"
	"snapclone/pkg/logger"

	"github.com/gorilla/websocket"
)

type WebSocketHandlers struct {
	authService *auth.Service
	gateway     *realtime.Gateway
	cfg         *config.Config
	upgrader    websocket.Upgrader
}

func NewWebSocketHandlers(authService *auth.Service, gateway *realtime.Gateway, cfg *config.Config) *WebSocketHandlers {
	return &WebSocketHandlers{
		authService: authService,
		gateway:     gateway,
		cfg:         cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true }, // Configure for production
		},
	}
}

func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Identity verification happens before the upgrade; a failed handshake
	// never reaches the session directory.
	identity, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Upgrade error: %v", err)
		return
	}

	h.gateway.HandleConnection(conn, *identity)
}

func (h *WebSocketHandlers) authenticate(r *http.Request) (*realtime.Identity, error) {
	tokenStr := r.URL.Query().Get("token")

	if tokenStr == "" && h.cfg.Realtime.AllowAnonymous {
		// Demo mode: every connection is a fresh generated user.
		id := h.authService.MintAnonymous()
		return &realtime.Identity{UserID: id.UserID, Username: id.Username}, nil
	}

	id, err := h.authService.VerifyCredential(r.Context(), tokenStr)
	if err != nil {
		return nil, err
	}
	return &realtime.Identity{UserID: id.UserID, Username: id.Username}, nil
}
