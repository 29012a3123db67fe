package services

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krshsl/intervue/backend/repository"
	ws "github.com/krshsl/intervue/backend/websocket"
)

const eventTimeout = 15 * time.Second

// WebSocketHandler attaches a voice transport connection to one interview session
type WebSocketHandler struct {
	repo      *repository.GORMRepository
	hub       *ws.Hub
	processor *RealtimeEventProcessor
	upgrader  websocket.Upgrader
}

func NewWebSocketHandler(repo *repository.GORMRepository, hub *ws.Hub, processor *RealtimeEventProcessor, allowedOrigins string) *WebSocketHandler {
	return &WebSocketHandler{
		repo:      repo,
		hub:       hub,
		processor: processor,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, allowedOrigins)
			},
		},
	}
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		slog.Error("WebSocket connection failed - user not found in context")
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "session_id is required")
		return
	}

	session, err := h.repo.GetInterviewSessionForUser(r.Context(), sessionID, principal.UserID)
	if err != nil {
		slog.Error("Failed to load session for websocket", "error", err, "session_id", sessionID)
		writeError(w, http.StatusInternalServerError, "internal", "failed to load session")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("WebSocket connection established", "user_id", principal.UserID, "session_id", sessionID)

	client := h.hub.RegisterClient(conn, principal.UserID, sessionID)
	client.MessageHandler = h.handleMessage

	go client.WritePump()
	client.ReadPump()
}

func (h *WebSocketHandler) handleMessage(c *ws.Client, msg ws.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if msg.SessionID != "" && msg.SessionID != c.SessionID {
		c.SendMessage(errorFrame(msg, ErrInvalidInput, "event session does not match connection"))
		return
	}

	c.SendMessage(h.processor.Process(ctx, c.SessionID, msg))
}

// CheckOrigin validates the origin of WebSocket connections against a comma separated allow list
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// Deny everything when no origins are configured
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || allowed == origin {
			slog.Debug("WebSocket connection accepted", "origin", origin)
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}
