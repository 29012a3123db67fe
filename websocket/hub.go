package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krshsl/intervue/backend/metrics"
)

// Inbound event types reported by the real-time transport
const (
	TypeConnected = "connected"
	TypeFallback  = "fallback"
	TypeTurn      = "turn"
	TypeEnd       = "end"
	TypeError     = "error"
)

// Outbound frame types
const (
	TypeAck      = "ack"
	TypeFeedback = "feedback"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	maxMessage = 1 << 20
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
}

type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	UserID    string
	SessionID string
	// MessageHandler runs on the read loop, so events of one connection are handled in order
	MessageHandler func(*Client, Message)
	closeOnce      sync.Once
}

// Message is one transport event or reply frame
type Message struct {
	Type            string         `json:"type"`
	RequestID       string         `json:"request_id,omitempty"`
	SessionID       string         `json:"session_id,omitempty"`
	OpenAISessionID *string        `json:"openai_session_id,omitempty"`
	Role            string         `json:"role,omitempty"`
	Content         string         `json:"content,omitempty"`
	Confidence      *float64       `json:"confidence,omitempty"`
	Timestamp       *time.Time     `json:"timestamp,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Reason          string         `json:"reason,omitempty"`
	SequenceNumber  int            `json:"sequence_number,omitempty"`
	Status          string         `json:"status,omitempty"`
	Tier            string         `json:"tier,omitempty"`
	Error           string         `json:"error,omitempty"`
	Data            any            `json:"data,omitempty"`
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves registrations until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				client.closeSend()
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.WebsocketClients.Inc()
			slog.Info("Client registered", "user_id", client.UserID, "session_id", client.SessionID)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.closeSend()
				metrics.WebsocketClients.Dec()
			}
			h.mu.Unlock()
			slog.Info("Client unregistered", "user_id", client.UserID, "session_id", client.SessionID)
		}
	}
}

func (h *Hub) RegisterClient(conn *websocket.Conn, userID, sessionID string) *Client {
	client := &Client{
		Hub:       h,
		Conn:      conn,
		Send:      make(chan []byte, 256),
		UserID:    userID,
		SessionID: sessionID,
	}

	select {
	case h.register <- client:
	case <-h.done:
		client.closeSend()
	}
	return client
}

// SendToSession delivers msg to every client attached to sessionID
func (h *Hub) SendToSession(sessionID string, msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal message", "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.SessionID == sessionID {
			client.trySend(b)
		}
	}
}

// ClientCount reports connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *Client) ReadPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessage)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("WebSocket error", "error", err)
			}
			break
		}
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			slog.Warn("Failed to unmarshal message", "error", err, "session_id", c.SessionID)
			c.SendMessage(Message{Type: TypeError, Error: "invalid message"})
			continue
		}

		slog.Debug("Message received", "type", msg.Type, "session_id", c.SessionID, "content_length", len(msg.Content))

		if c.MessageHandler != nil {
			c.MessageHandler(c, msg)
		} else {
			slog.Warn("No message handler", "type", msg.Type, "session_id", c.SessionID)
		}
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON frame per message
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage queues msg for this client
func (c *Client) SendMessage(msg Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal message", "error", err)
		return
	}
	c.trySend(b)
}

// trySend drops the frame when the buffer is full or the client is gone
func (c *Client) trySend(b []byte) {
	defer func() {
		if r := recover(); r != nil {
			// Send channel already closed
		}
	}()
	select {
	case c.Send <- b:
	default:
		slog.Warn("Client send buffer full, dropping frame", "session_id", c.SessionID)
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.Send) })
}
