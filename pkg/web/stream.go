package web

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/PancyStudios/PancyModLogs/pkg/logger"
	"github.com/PancyStudios/PancyModLogs/pkg/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

// StreamEvent is one message of the /api/stream feed
type StreamEvent struct {
	Event     string                 `json:"event"`
	MessageID string                 `json:"messageId"`
	Record    *models.ModLogDocument `json:"record,omitempty"`
	At        time.Time              `json:"at"`
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans index changes out to websocket clients. It implements
// ingest.Observer. A client that can't keep up is disconnected.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			// the feed is behind the API token, not cookies
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*streamClient]struct{}),
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve upgrades the request and registers the connection
func (h *Hub) Serve(c *gin.Context) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "stream cerrado"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(fmt.Sprintf("Error al abrir websocket desde %s: %v", c.ClientIP(), err), "Stream")
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	logger.Debug(fmt.Sprintf("Cliente de stream conectado desde %s", c.ClientIP()), "Stream")
	go h.writePump(client)
	go h.readPump(client)
}

// remove unregisters a client and closes its send channel once
func (h *Hub) remove(client *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
}

// readPump discards client input and keeps the read deadline moving
func (h *Hub) readPump(client *streamClient) {
	defer func() {
		h.remove(client)
		client.conn.Close()
	}()

	client.conn.SetReadLimit(512)
	client.conn.SetReadDeadline(time.Now().Add(pongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(client *streamClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(client)
				return
			}
		}
	}
}

func (h *Hub) broadcast(ev StreamEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error(fmt.Sprintf("Error serializando evento %s: %v", ev.Event, err), "Stream")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			delete(h.clients, client)
			close(client.send)
			logger.Warn("Cliente de stream demasiado lento, desconectado.", "Stream")
		}
	}
}

// RecordSaved sends the stored record to every client
func (h *Hub) RecordSaved(rec models.LogRecord) {
	doc := rec.ToDocument()
	h.broadcast(StreamEvent{Event: "saved", MessageID: doc.MessageID, Record: &doc, At: time.Now()})
}

// RecordDeleted sends the removed record's key to every client
func (h *Hub) RecordDeleted(messageID uint64) {
	h.broadcast(StreamEvent{Event: "deleted", MessageID: strconv.FormatUint(messageID, 10), At: time.Now()})
}

// Close disconnects every client and refuses new ones
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
}
