package realtime

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"marketplace/internal/pkg/jwt"
	"marketplace/internal/pkg/response"
)

// SnapshotFunc returns the payload sent right after a client connects and
// whenever it asks for a refresh.
type SnapshotFunc func(ctx context.Context, userID int64) (any, error)

// Presence is told when a user's connection opens and closes.
type Presence interface {
	Watch(ctx context.Context, userID int64) error
	Unwatch(userID int64)
}

type Handler struct {
	hub      *Hub
	jwt      *jwt.Service
	snapshot SnapshotFunc
	presence Presence
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, jwtService *jwt.Service, snapshot SnapshotFunc, allowedOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.TrimSpace(o)] = true
	}
	return &Handler{
		hub:      hub,
		jwt:      jwtService,
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || len(allowed) == 0 || allowed[origin]
			},
		},
	}
}

// WithPresence registers p for connect and disconnect notices.
func (h *Handler) WithPresence(p Presence) *Handler {
	h.presence = p
	return h
}

// Serve handles GET /ws. Browsers cannot set headers on a WebSocket
// handshake, so the token may also come as ?token=.
func (h *Handler) Serve(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	}
	if token == "" {
		response.Error(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Token is required")
		return
	}
	claims, err := h.jwt.ValidateToken(token)
	if err != nil {
		response.Error(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.hub.log.WithError(err).Warn("realtime: upgrade failed")
		return
	}

	userID := claims.UserID
	if h.presence != nil {
		if err := h.presence.Watch(c.Request.Context(), userID); err != nil {
			h.hub.log.WithError(err).WithField("user_id", userID).Warn("realtime: presence not recorded")
		} else {
			defer h.presence.Unwatch(userID)
		}
	}
	cn := h.hub.attach(conn, userID)
	h.pushSnapshot(c.Request.Context(), userID)
	h.hub.readPump(cn, func(cn *connection, msg clientMessage) {
		switch msg.Type {
		case "ping":
			h.hub.enqueue(cn, Event{Type: EventPong})
		case "refresh":
			h.pushSnapshot(context.Background(), userID)
		default:
			h.hub.enqueue(cn, Event{Type: EventError, Payload: map[string]string{"code": "UNKNOWN_TYPE"}})
		}
	})
}

func (h *Handler) pushSnapshot(ctx context.Context, userID int64) {
	if h.snapshot == nil {
		return
	}
	payload, err := h.snapshot(ctx, userID)
	if err != nil {
		h.hub.log.WithError(err).WithField("user_id", userID).Warn("realtime: snapshot failed")
		return
	}
	h.hub.SendToUser(userID, Event{Type: EventUnread, Payload: payload})
}
