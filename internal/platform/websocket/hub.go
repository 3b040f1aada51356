// Package websocket pushes workflow notifications to connected staff.
// Each connection is subscribed server-side to the topics its identity may
// read: its own user topic and, for pharmacy staff, its hospital's pharmacy
// topic. Clients cannot choose topics.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/auth"
)

// Message is the frame sent to clients.
type Message struct {
	Event     string                 `json:"event"`
	Topic     string                 `json:"topic"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// UserTopic is the private topic of one staff member.
func UserTopic(userID uuid.UUID) string { return "user:" + userID.String() }

// PharmacyTopic is the shared topic of a hospital's pharmacy staff.
func PharmacyTopic(hospitalID uuid.UUID) string { return "pharmacy:" + hospitalID.String() }

// TopicsFor returns the topics an identity is subscribed to.
func TopicsFor(id auth.Identity) []string {
	topics := []string{UserTopic(id.UserID)}
	if id.Role == model.RoleMedicalShop && id.HospitalID != nil {
		topics = append(topics, PharmacyTopic(*id.HospitalID))
	}
	return topics
}

// Conn abstracts a WebSocket connection for testability.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID
	Topics []string
	Send   chan []byte
	conn   Conn
}

// NewClient builds a client for id with a buffered send queue.
func NewClient(id auth.Identity) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: id.UserID,
		Topics: TopicsFor(id),
		Send:   make(chan []byte, 64),
	}
}

// Hub tracks clients and their topic subscriptions. Safe for concurrent use.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> set of clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger,
	}
}

// Register adds a client and subscribes it to its topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, topic := range client.Topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

// Unregister removes a client and closes its Send channel. Repeated calls
// are no-ops.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
	delete(h.all, client)
	close(client.Send)
}

// Broadcast sends msg to every client subscribed to topic and returns how
// many clients it was queued for. Clients with a full queue are skipped.
func (h *Hub) Broadcast(topic string, msg Message) int {
	msg.Topic = topic
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Str("event", msg.Event).Msg("marshal websocket message")
		return 0
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
			sent++
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("websocket client queue full, dropping message")
		}
	}
	return sent
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Handler upgrades authenticated requests to WebSocket connections.
type Handler struct {
	hub          *Hub
	allowOrigins map[string]bool
}

// NewHandler binds a handler to hub. Browser origins outside allowOrigins
// are refused; requests without an Origin header are accepted.
func NewHandler(hub *Hub, allowOrigins []string) *Handler {
	allowed := make(map[string]bool, len(allowOrigins))
	for _, o := range allowOrigins {
		allowed[o] = true
	}
	return &Handler{hub: hub, allowOrigins: allowed}
}

// RegisterRoutes mounts /ws on e. mw must authenticate the caller; the
// token may arrive as a query parameter since browsers cannot set headers
// on the upgrade request.
func (wsh *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.GET("/ws", wsh.HandleConnect, mw...)
}

func (wsh *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || wsh.allowOrigins["*"] || wsh.allowOrigins[origin]
}

func (wsh *Handler) HandleConnect(c echo.Context) error {
	id, ok := auth.IdentityFromContext(c.Request().Context())
	if !ok {
		return apperr.Unauthenticated("authentication required")
	}

	up := upgrader
	up.CheckOrigin = wsh.checkOrigin
	ws, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		return nil
	}

	client := NewClient(id)
	client.conn = ws
	wsh.hub.Register(client)

	go wsh.writePump(client)
	go wsh.readPump(client)
	return nil
}

// readPump drains inbound frames so control messages are processed, and
// unregisters the client when the connection closes.
func (wsh *Handler) readPump(client *Client) {
	defer func() {
		wsh.hub.Unregister(client)
		client.conn.Close()
	}()
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (wsh *Handler) writePump(client *Client) {
	defer client.conn.Close()
	for message := range client.Send {
		if err := client.conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
