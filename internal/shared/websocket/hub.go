package websocket

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cristianortiz/bidengine/internal/shared/logger"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var log = logger.GetLogger()

// Constants for WebSocket configuration (adjust as needed)
const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Inbound messages waiting for a module handler.
	inboundBuffer = 1024
)

// Conn is the part of a WebSocket connection the pumps use.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// Hub keeps client's registry grouped by topic and fans messages out to them.
// Enqueueing never blocks: a client whose queue is full is disconnected and is
// expected to reconnect and resynchronize.
type Hub struct {
	mu sync.Mutex
	// topic -> clients; the boolean value is ignored
	clients    map[string]map[*Client]bool
	sendBuffer int

	InboundMessages chan *ClientMessage // this channel will be listened to by module-specific handlers (e.g, auction handler)
}

// Client represents a ws individual connection
type Client struct {
	Hub *Hub
	// The websocket connection.
	Conn Conn
	// Buffered channel of outbound messages. Closed by the hub only.
	Send chan []byte
	// The topic (auction id) this client is subscribed to.
	Topic string
	// Authenticated user behind the connection.
	UserID int64
	// Unique identifier for the client
	ID string

	registered bool
	closed     bool
}

// ClientMessage is used for wraping the client and data message received.
// is used to send inbound messages from the client to the hub handlers
type ClientMessage struct {
	Client *Client
	Data   []byte
}

// NewHub creates a hub whose clients buffer up to sendBuffer outbound messages.
func NewHub(sendBuffer int) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	return &Hub{
		clients:         make(map[string]map[*Client]bool),
		sendBuffer:      sendBuffer,
		InboundMessages: make(chan *ClientMessage, inboundBuffer),
	}
}

// NewClient creates an unregistered client for conn.
func (h *Hub) NewClient(conn Conn, topic string, userID int64) *Client {
	return &Client{
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, h.sendBuffer),
		Topic:  topic,
		UserID: userID,
		ID:     uuid.NewString(),
	}
}

// Run blocks until ctx is done and then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	log.Info("Websocket Hub started")
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, clients := range h.clients {
		for client := range clients {
			h.closeLocked(client)
		}
		delete(h.clients, topic)
	}
	log.Info("WebSocket Hub shutting down due to context cancellation")
}

// RegisterClient register a new client in the hub
func (h *Hub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed || client.registered {
		return
	}
	if _, ok := h.clients[client.Topic]; !ok {
		h.clients[client.Topic] = make(map[*Client]bool)
	}
	h.clients[client.Topic][client] = true
	client.registered = true

	log.Info("Client registered",
		zap.String("clientID", client.ID),
		zap.String("topic", client.Topic),
		zap.Int64("userID", client.UserID),
		zap.Int("topic_clients", len(h.clients[client.Topic])),
	)
}

// UnregisterClient delete a client from the hub. Safe to call more than once.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if client.closed {
		return
	}
	h.removeLocked(client)
	log.Info("Client unregistered",
		zap.String("clientID", client.ID),
		zap.String("topic", client.Topic),
	)
}

// Broadcast enqueues data for every client of topic and returns how many
// clients received it.
func (h *Hub) Broadcast(topic string, data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for client := range h.clients[topic] {
		if h.enqueueLocked(client, data) {
			delivered++
		}
	}
	log.Debug("Broadcasting message to topic", zap.String("topic", topic), zap.Int("clients", delivered))
	return delivered
}

// SendToUser enqueues data for the clients of topic authenticated as userID.
func (h *Hub) SendToUser(topic string, userID int64, data []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	delivered := 0
	for client := range h.clients[topic] {
		if client.UserID == userID && h.enqueueLocked(client, data) {
			delivered++
		}
	}
	return delivered
}

// Send enqueues data for one client.
func (h *Hub) Send(client *Client, data []byte) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enqueueLocked(client, data)
}

// ClientCount returns the number of clients subscribed to topic.
func (h *Hub) ClientCount(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[topic])
}

func (h *Hub) enqueueLocked(client *Client, data []byte) bool {
	if client.closed {
		return false
	}
	select {
	case client.Send <- data:
		return true
	default:
		log.Warn("Client send queue full, disconnecting",
			zap.String("clientID", client.ID),
			zap.String("topic", client.Topic),
			zap.Int("buffer", cap(client.Send)),
		)
		h.removeLocked(client)
		return false
	}
}

func (h *Hub) removeLocked(client *Client) {
	if clients, ok := h.clients[client.Topic]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, client.Topic)
		}
	}
	h.closeLocked(client)
}

func (h *Hub) closeLocked(client *Client) {
	if !client.closed {
		client.closed = true
		close(client.Send)
	}
}

// ReadPump reads client frames and hands them to the module handlers through
// InboundMessages. It runs in the connection goroutine and returns when the
// peer goes away or ctx is done.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.Hub.UnregisterClient(c)
		c.Conn.Close()
		log.Debug("ReadPump stopped for client",
			zap.String("clientID", c.ID),
			zap.String("topic", c.Topic),
		)
	}()
	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { return c.Conn.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		if ctx.Err() != nil {
			return
		}

		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error("WebSocket read error",
					zap.String("clientID", c.ID),
					zap.String("topic", c.Topic),
					zap.Error(err),
				)
			} else {
				log.Info("WebSocket connection closed by peer",
					zap.String("clientID", c.ID),
					zap.String("topic", c.Topic),
					zap.Error(err),
				)
			}
			return
		}

		select {
		case c.Hub.InboundMessages <- &ClientMessage{Client: c, Data: message}:
		default:
			log.Error("Hub InboundMessages channel is full, dropping message",
				zap.String("clientID", c.ID),
				zap.String("topic", c.Topic),
				zap.ByteString("message", message),
			)
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection, one JSON
// message per frame. It is the only writer of the connection.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Hub.UnregisterClient(c)
		c.Conn.Close()
		log.Debug("WritePump stopped for client",
			zap.String("clientID", c.ID),
			zap.String("topic", c.Topic),
		)
	}()

	for {
		select {
		case <-ctx.Done():
			err := c.Conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			if err != nil {
				log.Debug("Failed to send close control message", zap.String("clientID", c.ID), zap.Error(err))
			}
			return

		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The Hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "resync required"))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Info("Failed to write message to client",
					zap.String("clientID", c.ID),
					zap.String("topic", c.Topic),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Info("Failed to write ping message to client",
					zap.String("clientID", c.ID),
					zap.Error(err),
				)
				return
			}
		}
	}
}
