// Package websocket pushes live events to connected dashboards. Clients
// subscribe to topics and receive every event broadcast to them.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/safety/internal/platform/auth"
	"github.com/ehr/safety/internal/platform/db"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// Event is the envelope written to clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

type Client struct {
	ID     string
	Topics []string
	Send   chan []byte
	// Allow filters the topics the client may join. Nil allows any topic.
	Allow func(topic string) bool
}

func (c *Client) permitted(topics []string) (ok, denied []string) {
	for _, t := range topics {
		if c.Allow == nil || c.Allow(t) {
			ok = append(ok, t)
		} else {
			denied = append(denied, t)
		}
	}
	return ok, denied
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> clients
	all     map[*Client]struct{}
	logger  zerolog.Logger
	dropped int

	Now func() time.Time
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  logger.With().Str("component", "websocket-hub").Logger(),
		Now:     time.Now,
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	client.Topics, _ = client.permitted(client.Topics)
	h.subscribeLocked(client, client.Topics)
}

// Unregister removes the client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.unsubscribeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics the client is allowed to join and drops the rest.
func (h *Hub) Subscribe(client *Client, topics []string) {
	topics, denied := client.permitted(topics)
	if len(denied) > 0 {
		h.logger.Warn().Str("client_id", client.ID).Strs("topics", denied).Msg("subscription denied")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	var added []string
	for _, t := range topics {
		if _, dup := h.clients[t][client]; !dup {
			added = append(added, t)
		}
	}
	h.subscribeLocked(client, added)
	client.Topics = append(client.Topics, added...)
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, topics)

	remove := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		remove[t] = struct{}{}
	}
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, rm := remove[t]; !rm {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, t := range topics {
		if h.clients[t] == nil {
			h.clients[t] = make(map[*Client]struct{})
		}
		h.clients[t][client] = struct{}{}
	}
}

func (h *Hub) unsubscribeLocked(client *Client, topics []string) {
	for _, t := range topics {
		if subs, ok := h.clients[t]; ok {
			delete(subs, client)
			if len(subs) == 0 {
				delete(h.clients, t)
			}
		}
	}
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Publish marshals data into an Event and broadcasts it on topic. Clients
// whose buffer is full miss the event.
func (h *Hub) Publish(_ context.Context, topic, eventType string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(Event{Type: eventType, Topic: topic, Timestamp: h.Now().UTC(), Data: raw})
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- msg:
		default:
			h.dropped++
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("client buffer full, event dropped")
		}
	}
	return nil
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

// Dropped returns how many deliveries were skipped because of full buffers.
func (h *Hub) Dropped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// -- HTTP handler --

var upgrader = gorillawebsocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Authorizer reports whether a connection of tenantID with roles may
// subscribe to topic.
type Authorizer func(tenantID string, roles []string, topic string) bool

type Handler struct {
	hub *Hub
	// Topics returns the topics a new connection starts with.
	Topics func(tenantID string) []string
	// Authorize guards every subscription. Nil allows only the initial topics.
	Authorize Authorizer
}

func NewHandler(hub *Hub, topics func(tenantID string) []string, authorize Authorizer) *Handler {
	return &Handler{hub: hub, Topics: topics, Authorize: authorize}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.HandleConnect)
}

// HandleConnect upgrades the request and subscribes the client to the
// request tenant's topics. Later subscriptions go through Authorize.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	tenantID, roles := db.TenantFromContext(ctx), auth.RolesFromContext(ctx)
	var topics []string
	if h.Topics != nil {
		topics = h.Topics(tenantID)
	}
	client := &Client{ID: uuid.NewString(), Topics: topics, Send: make(chan []byte, sendBuffer)}
	if h.Authorize != nil {
		client.Allow = func(topic string) bool { return h.Authorize(tenantID, roles, topic) }
	} else {
		initial := append([]string(nil), topics...)
		client.Allow = func(topic string) bool {
			for _, t := range initial {
				if t == topic {
					return true
				}
			}
			return false
		}
	}
	h.hub.Register(client)
	h.hub.logger.Debug().Str("client_id", client.ID).Strs("topics", topics).Msg("client connected")

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
