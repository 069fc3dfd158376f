package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callsession-backend/pkg/constants"
	apperrors "callsession-backend/pkg/errors"
	"callsession-backend/pkg/logger"
	"callsession-backend/pkg/response"
)

// EventSource streams the raw call events of one room
type EventSource interface {
	Subscribe(ctx context.Context, roomID uuid.UUID) (<-chan []byte, error)
}

// MemberChecker gates a room's event stream
type MemberChecker interface {
	RequireMember(ctx context.Context, roomID, userID uuid.UUID) error
}

// ConnectionGauge tracks open sockets
type ConnectionGauge interface {
	IncWebSocketConnections()
	DecWebSocketConnections()
}

// CallEventsHub relays call lifecycle events to the room members watching
// them. Each room with at least one socket holds exactly one subscription.
type CallEventsHub struct {
	source  EventSource
	members MemberChecker
	gauge   ConnectionGauge

	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[uuid.UUID]*roomFeed

	maxConnections int
	semaphore      chan struct{}
}

type roomFeed struct {
	clients map[*eventClient]struct{}
	cancel  context.CancelFunc
}

type eventClient struct {
	hub    *CallEventsHub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID
	roomID uuid.UUID
}

// NewCallEventsHub creates a hub. Only browsers presenting one of
// allowedOrigins may upgrade.
func NewCallEventsHub(source EventSource, members MemberChecker, gauge ConnectionGauge, allowedOrigins []string) *CallEventsHub {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		origins[o] = struct{}{}
	}

	return &CallEventsHub{
		source:  source,
		members: members,
		gauge:   gauge,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return false
				}
				_, ok := origins[origin]
				return ok
			},
		},
		rooms:          make(map[uuid.UUID]*roomFeed),
		maxConnections: constants.MaxEventConnections,
		semaphore:      make(chan struct{}, constants.MaxEventConnections),
	}
}

// ServeWS upgrades a room member to a read-only event stream
// GET /v1/rooms/:room_id/calls/events
func (h *CallEventsHub) ServeWS(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("room_id"))
	if err != nil {
		response.ValidationError(c, "Invalid room ID")
		return
	}

	userIDVal, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return
	}

	if err := h.members.RequireMember(c.Request.Context(), roomID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("Call event socket rejected: max connections reached",
			zap.Int("max_connections", h.maxConnections))
		response.Error(c, http.StatusServiceUnavailable, "SERVER_AT_CAPACITY", "Server at capacity, please try again later")
		return
	}

	client := &eventClient{
		hub:    h,
		send:   make(chan []byte, constants.WebSocketSendBuffer),
		userID: userID,
		roomID: roomID,
	}
	if err := h.attach(client); err != nil {
		<-h.semaphore
		logger.Warn("Call event subscription failed",
			zap.String("room_id", roomID.String()),
			zap.Error(err))
		response.FromError(c, apperrors.DependencyError("event stream", err))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.detach(client)
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed",
			zap.String("room_id", roomID.String()),
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	client.conn = conn

	if h.gauge != nil {
		h.gauge.IncWebSocketConnections()
	}

	go client.writePump()
	go client.readPump()
}

// attach registers a client, opening the room subscription on first use
func (h *CallEventsHub) attach(client *eventClient) error {
	h.mu.Lock()
	if feed, ok := h.rooms[client.roomID]; ok {
		feed.clients[client] = struct{}{}
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	events, err := h.source.Subscribe(ctx, client.roomID)
	if err != nil {
		cancel()
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if feed, ok := h.rooms[client.roomID]; ok {
		// Another socket opened the feed while we were subscribing
		cancel()
		feed.clients[client] = struct{}{}
		return nil
	}

	feed := &roomFeed{
		clients: map[*eventClient]struct{}{client: {}},
		cancel:  cancel,
	}
	h.rooms[client.roomID] = feed
	go h.relay(client.roomID, feed, events)
	return nil
}

// detach removes a client and closes the room subscription when it was the last one
func (h *CallEventsHub) detach(client *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	feed, ok := h.rooms[client.roomID]
	if !ok {
		return
	}
	if _, exists := feed.clients[client]; !exists {
		return
	}

	delete(feed.clients, client)
	close(client.send)

	if len(feed.clients) == 0 {
		feed.cancel()
		delete(h.rooms, client.roomID)
	}
}

// relay fans a room's events out until the subscription ends
func (h *CallEventsHub) relay(roomID uuid.UUID, feed *roomFeed, events <-chan []byte) {
	for payload := range events {
		h.mu.Lock()
		for client := range feed.clients {
			select {
			case client.send <- payload:
			default:
				logger.Debug("Dropping slow call event client",
					zap.String("room_id", roomID.String()),
					zap.String("user_id", client.userID.String()))
				delete(feed.clients, client)
				close(client.send)
			}
		}
		h.mu.Unlock()
	}

	// The source closed without a cancel: the link to Redis is gone
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == feed {
		for client := range feed.clients {
			delete(feed.clients, client)
			close(client.send)
		}
		delete(h.rooms, roomID)
	}
}

// Watchers returns the number of sockets attached to a room
func (h *CallEventsHub) Watchers(roomID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if feed, ok := h.rooms[roomID]; ok {
		return len(feed.clients)
	}
	return 0
}

// readPump only services control frames; the stream is one-way
func (c *eventClient) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
		if c.hub.gauge != nil {
			c.hub.gauge.DecWebSocketConnections()
		}
		<-c.hub.semaphore
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("Call event socket closed",
					zap.String("room_id", c.roomID.String()),
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			return
		}
	}
}

func (c *eventClient) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
