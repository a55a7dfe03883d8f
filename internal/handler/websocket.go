package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"thesis_messaging/internal/config"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/metrics"
	"thesis_messaging/internal/realtime"
	"thesis_messaging/internal/service"
	"thesis_messaging/pkg/logger"
)

type WebSocketHandler struct {
	upgrader      websocket.Upgrader
	registry      *realtime.Registry
	typingService service.TypingService
	opts          realtime.ConnectionOptions
	log           logger.Logger
}

func NewWebSocketHandler(registry *realtime.Registry, typingService service.TypingService, cfg *config.Config, log logger.Logger) *WebSocketHandler {
	opts := realtime.ConnectionOptions{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		PingPeriod:     cfg.WebSocket.PingPeriod,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
	}
	return &WebSocketHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.Server.AllowedOrigins),
		},
		registry:      registry,
		typingService: typingService,
		opts:          opts,
		log:           log,
	}
}

// originChecker allows requests without an Origin header (non-browser
// clients) and browser requests from the configured origins.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Handle upgrades an authenticated request into a channel. The endpoint
// receives pushes only after it sends join with its own user id.
func (h *WebSocketHandler) Handle(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	conn := realtime.NewConnection(userID, ws, h.opts)
	conn.Start()
	metrics.WebSocketConnections.WithLabelValues("opened").Inc()
	log := h.log.With("user_id", userID, "endpoint_id", conn.ID())
	log.Debug("Channel opened")

	defer func() {
		h.registry.Leave(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		metrics.WebSocketConnections.WithLabelValues("closed").Inc()
		log.Debug("Channel closed")
	}()

	h.push(conn, domain.EventConnected, domain.ConnectedPayload{EndpointID: conn.ID()}, log)

	err = conn.ReadLoop(func(frame []byte) {
		h.handleFrame(c, conn, frame, log)
	})
	if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Warn("Channel read failed", "error", err)
	}
}

func (h *WebSocketHandler) handleFrame(c *gin.Context, conn *realtime.Connection, frame []byte, log logger.Logger) {
	var env domain.Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		h.pushError(conn, "malformed frame", log)
		return
	}

	switch env.Type {
	case domain.EventJoin:
		var payload domain.JoinPayload
		if err := env.Decode(&payload); err != nil {
			h.pushError(conn, "invalid join payload", log)
			return
		}
		if payload.UserID != conn.UserID {
			log.Warn("Join with foreign identity rejected", "asserted_user_id", payload.UserID)
			h.pushError(conn, "join identity does not match token", log)
			return
		}
		h.registry.Join(conn.UserID, conn)
		h.push(conn, domain.EventJoined, domain.JoinedPayload{UserID: conn.UserID, EndpointID: conn.ID()}, log)

	case domain.EventTyping:
		if !h.registry.IsJoined(conn.UserID, conn.ID()) {
			h.pushError(conn, "join before sending events", log)
			return
		}
		var payload domain.TypingPayload
		if err := env.Decode(&payload); err != nil {
			h.pushError(conn, "invalid typing payload", log)
			return
		}
		if err := h.typingService.Relay(c.Request.Context(), conn.UserID, payload); err != nil {
			h.pushError(conn, err.Error(), log)
		}

	default:
		h.pushError(conn, "unknown event type: "+env.Type, log)
	}
}

func (h *WebSocketHandler) push(conn *realtime.Connection, eventType string, payload any, log logger.Logger) {
	frame, err := domain.Encode(eventType, payload)
	if err != nil {
		log.Error("Failed to encode frame", "error", err, "type", eventType)
		return
	}
	if err := conn.Send(frame); err != nil {
		log.Debug("Failed to queue frame", "error", err, "type", eventType)
	}
}

func (h *WebSocketHandler) pushError(conn *realtime.Connection, message string, log logger.Logger) {
	h.push(conn, domain.EventError, domain.ErrorPayload{Message: message}, log)
}

