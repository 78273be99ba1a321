package rpc

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/klingon-exchange/klingon-dlc/pkg/logging"
)

// WebSocket configuration
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventType represents the type of WebSocket event.
type EventType string

const (
	// Contract events
	EventContractBuilt      EventType = "contract_built"
	EventAdaptorSigCreated  EventType = "adaptor_sig_created"
	EventAdaptorSigVerified EventType = "adaptor_sig_verified"
	EventCetSigned          EventType = "cet_signed"
	EventTxBroadcast        EventType = "tx_broadcast"
	EventContractState      EventType = "contract_state"
)

// WSEvent is a WebSocket event message.
type WSEvent struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// WSSubscription changes the events a client receives. Events filter by
// type and Contracts by funding txid; an empty set matches everything.
type WSSubscription struct {
	Action    string   `json:"action"` // "subscribe" or "unsubscribe"
	Events    []string `json:"events"`
	Contracts []string `json:"contracts,omitempty"`
}

// contractScoped is implemented by event payloads that belong to a single
// contract. Other payloads reach every client whose type filter matches.
type contractScoped interface {
	contractID() string
}

func (e *ContractBuiltEvent) contractID() string { return e.FundTxid }
func (e *ContractStateEvent) contractID() string { return e.ID }
func (e *CetEvent) contractID() string { return e.FundTxid }

// WSClient represents a connected WebSocket client.
type WSClient struct {
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[EventType]bool
	contracts     map[string]bool
	mu            sync.RWMutex
	hub           *WSHub
}

func newWSClient(conn *websocket.Conn, hub *WSHub) *WSClient {
	return &WSClient{
		conn:          conn,
		send:          make(chan []byte, 256),
		subscriptions: make(map[EventType]bool),
		contracts:     make(map[string]bool),
		hub:           hub,
	}
}

// wants reports whether the event passes the client's filters.
func (c *WSClient) wants(event *WSEvent) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.subscriptions) > 0 && !c.subscriptions[event.Type] {
		return false
	}
	if len(c.contracts) == 0 {
		return true
	}
	scoped, ok := event.Data.(contractScoped)
	return !ok || c.contracts[scoped.contractID()]
}

// WSHub fans contract events out to connected clients.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan *WSEvent
	register   chan *WSClient
	unregister chan *WSClient
	done       chan struct{}
	stopOnce   sync.Once
	log        *logging.Logger
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan *WSEvent, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		done:       make(chan struct{}),
		log:        logging.GetDefault().Component("ws"),
	}
}

// Run starts the hub event loop. It returns after Stop.
func (h *WSHub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("WebSocket client connected", "clients", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("WebSocket client disconnected", "clients", n)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *WSHub) deliver(event *WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Failed to marshal event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(event) {
			continue
		}

		select {
		case client.send <- data:
		default:
			// Slow client, drop it.
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// Stop ends the event loop and disconnects all clients.
func (h *WSHub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast sends an event to all subscribed clients and returns its id.
func (h *WSHub) Broadcast(eventType EventType, data interface{}) string {
	event := &WSEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}

	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("Broadcast channel full, dropping event", "type", eventType, "id", event.ID)
	}
	return event.ID
}

// ClientCount returns the number of connected clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWS handles WebSocket connections. Repeated contract query
// parameters preset the client's contract filter.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("WebSocket upgrade failed", "error", err)
		return
	}

	client := newWSClient(conn, s.wsHub)
	client.handleSubscription(&WSSubscription{
		Action:    "subscribe",
		Contracts: r.URL.Query()["contract"],
	})

	select {
	case s.wsHub.register <- client:
	case <-s.wsHub.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads subscription messages from the WebSocket connection.
func (c *WSClient) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("WebSocket read error", "error", err)
			}
			break
		}

		var sub WSSubscription
		if err := json.Unmarshal(message, &sub); err == nil {
			c.handleSubscription(&sub)
		}
	}
}

// writePump writes events to the WebSocket connection, one per message.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSubscription processes subscription requests.
func (c *WSClient) handleSubscription(sub *WSSubscription) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch sub.Action {
	case "subscribe":
		for _, e := range sub.Events {
			c.subscriptions[EventType(e)] = true
		}
		for _, id := range sub.Contracts {
			c.contracts[id] = true
		}
	case "unsubscribe":
		for _, e := range sub.Events {
			delete(c.subscriptions, EventType(e))
		}
		for _, id := range sub.Contracts {
			delete(c.contracts, id)
		}
	}
}
