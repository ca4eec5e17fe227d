package handler

import (
	"context"
	"net/http"

	"github.com/Rrens/intel-chat/internal/api/middleware"
	"github.com/Rrens/intel-chat/internal/api/response"
	"github.com/Rrens/intel-chat/internal/domain"
	"github.com/Rrens/intel-chat/internal/gateway"
	"github.com/Rrens/intel-chat/internal/transport"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionServer runs one chat connection to completion
type ConnectionServer interface {
	Serve(ctx context.Context, t gateway.Transport, identity domain.Identity, sessionID string) error
}

// WSHandler upgrades authenticated requests to chat connections
type WSHandler struct {
	server   ConnectionServer
	upgrader *websocket.Upgrader
	cfg      transport.Config
}

// NewWSHandler creates a new WebSocket handler
func NewWSHandler(server ConnectionServer, cfg transport.Config) *WSHandler {
	return &WSHandler{
		server:   server,
		upgrader: transport.Upgrader(cfg),
		cfg:      cfg,
	}
}

// Connect handles GET /ws?session_id=
func (h *WSHandler) Connect(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.GetIdentity(r.Context())
	if !ok {
		response.Unauthorized(w, "unauthorized")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already written the error response
		log.Warn().Err(err).Str("user_id", identity.UserID).Msg("websocket upgrade failed")
		return
	}

	conn := transport.NewConn(ws, h.cfg)
	defer conn.Close()

	if err := h.server.Serve(r.Context(), conn, identity, r.URL.Query().Get("session_id")); err != nil {
		log.Warn().Err(err).Str("user_id", identity.UserID).Msg("chat connection ended with error")
	}
}
