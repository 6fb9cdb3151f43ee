package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumendark/lumendark/pkg/core"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// Hub routes message status updates to the websocket connection of the
// address that owns them. Nothing book-wide is ever streamed.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	updates    chan core.Message
	mu         sync.RWMutex
	log        *zap.SugaredLogger
}

func NewHub(log *zap.SugaredLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		updates:    make(chan core.Message, 256),
		log:        log,
	}
}

// Notify is the MessageStore subscriber hook. Must not block: updates are
// dropped if the hub is saturated, and the client still has polling.
func (h *Hub) Notify(m core.Message) {
	select {
	case h.updates <- m:
	default:
	}
}

// Run dispatches registrations and updates until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Infow("ws client connected", "address", client.address)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Infow("ws client disconnected", "address", client.address)

		case m := <-h.updates:
			update := StatusUpdate{Type: "message_status", Message: messageStatus(m)}
			h.mu.RLock()
			for client := range h.clients {
				if client.address != m.User {
					continue
				}
				select {
				case client.send <- update:
				default:
					// Slow consumer; it can poll.
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Serve upgrades an authenticated request and pumps updates to it.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, address string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("ws upgrade failed", "err", err)
		return
	}
	client := &Client{hub: h, conn: conn, address: address, send: make(chan StatusUpdate, 64)}
	h.register <- client
	go client.writePump()
	go client.readPump()
}

// Client is one websocket connection bound to a verified address.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	address string
	send    chan StatusUpdate
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for update := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(update); err != nil {
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump discards inbound frames; the stream is one-way. Its exit (peer
// close or error) unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
