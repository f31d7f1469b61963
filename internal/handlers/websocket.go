package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"wager-core/internal/ledger"
)

const (
	writeWait      = 10 * time.Second
	clientSendSize = 16
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type   string `json:"type"`
	UserID int64  `json:"user_id,omitempty"`
	Data   any    `json:"data"`
}

type Client struct {
	UserID int64
	conn   *websocket.Conn
	send   chan *Message
}

// Hub routes balance events to the websocket clients of the affected user.
// A user may hold several connections.
type Hub struct {
	clients    map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Hub{
		clients:    make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 100),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run serves the hub until ctx is done, then closes every client.
func (hub *Hub) Run(ctx context.Context) {
	defer close(hub.done)
	for {
		select {
		case <-ctx.Done():
			for _, conns := range hub.clients {
				for client := range conns {
					close(client.send)
				}
			}
			hub.clients = map[int64]map[*Client]bool{}
			return

		case client := <-hub.register:
			if hub.clients[client.UserID] == nil {
				hub.clients[client.UserID] = make(map[*Client]bool)
			}
			hub.clients[client.UserID][client] = true
			hub.logger.Debug("websocket client registered", "user_id", client.UserID)

		case client := <-hub.unregister:
			if conns, ok := hub.clients[client.UserID]; ok && conns[client] {
				delete(conns, client)
				close(client.send)
				if len(conns) == 0 {
					delete(hub.clients, client.UserID)
				}
				hub.logger.Debug("websocket client unregistered", "user_id", client.UserID)
			}

		case message := <-hub.broadcast:
			hub.broadcastMessage(message)
		}
	}
}

// send hands msg to the hub unless it has stopped.
func (hub *Hub) send(msg *Message) {
	select {
	case hub.broadcast <- msg:
	case <-hub.done:
	}
}

func (hub *Hub) Register(client *Client) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *Hub) Unregister(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

func (hub *Hub) broadcastMessage(message *Message) {
	for client := range hub.clients[message.UserID] {
		select {
		case client.send <- message:
		default:
			// slow consumer, drop it rather than block the hub
			delete(hub.clients[message.UserID], client)
			close(client.send)
		}
	}
}

// PublishBalance queues a balance update for the event's user. It never
// blocks; events are dropped when the queue is full.
func (hub *Hub) PublishBalance(event ledger.BalanceEvent) {
	msg := &Message{
		Type:   "BALANCE_UPDATE",
		UserID: event.UserID,
		Data: gin.H{
			"asset":         event.Asset,
			"balance":       event.Balance,
			"operation_ids": event.OperationIDs,
			"timestamp":     event.OccurredAt.Unix(),
		},
	}
	select {
	case hub.broadcast <- msg:
	default:
		hub.logger.Warn("websocket broadcast queue full, dropping event", "user_id", event.UserID)
	}
}

type WebSocketHandler struct {
	hub    *Hub
	ledger *ledger.Engine
	logger *slog.Logger
}

func NewWebSocketHandler(hub *Hub, book *ledger.Engine, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WebSocketHandler{
		hub:    hub,
		ledger: book,
		logger: logger,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetInt64("user_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade to websocket", "error", err)
		return
	}

	client := &Client{
		UserID: userID,
		conn:   conn,
		send:   make(chan *Message, clientSendSize),
	}
	if !h.hub.Register(client) {
		conn.Close()
		return
	}
	go client.writePump()

	h.sendBalances(c.Request.Context(), client)

	defer func() {
		h.hub.Unregister(client)
	}()

	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", "user_id", userID, "error", err)
			}
			return
		}

		if msg.Type == "PING" {
			h.hub.send(&Message{
				Type:   "PONG",
				UserID: userID,
				Data: gin.H{
					"timestamp": time.Now().Unix(),
				},
			})
		}
	}
}

func (h *WebSocketHandler) sendBalances(ctx context.Context, client *Client) {
	wallets, err := h.ledger.Wallets(ctx, client.UserID)
	if err != nil {
		h.logger.Warn("failed to load wallets for websocket", "user_id", client.UserID, "error", err)
		return
	}
	for _, wallet := range wallets {
		h.hub.send(&Message{
			Type:   "BALANCE_UPDATE",
			UserID: client.UserID,
			Data: gin.H{
				"asset":      wallet.Asset,
				"balance":    wallet.Balance,
				"is_primary": wallet.IsPrimary,
			},
		})
	}
}

// writePump is the only writer on the connection.
func (c *Client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
}
