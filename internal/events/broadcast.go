package events

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Hub fans events out to WebSocket clients. Each connection has a bounded
// send buffer; a client that cannot keep up is disconnected rather than
// allowed to back up the stream.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

type hubClient struct {
	conn   *websocket.Conn
	filter *Filter
	send   chan []byte
}

// NewHub creates a WebSocket broadcast hub
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the client. Filter
// dimensions come from query parameters (type, severity, symbol).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &hubClient{
		conn:   conn,
		filter: filterFromQuery(r),
		send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Broadcast sends the event to every connected client whose filter matches
func (h *Hub) Broadcast(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Str("event", event.ID).Msg("event marshal failed")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.filter.Matches(event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// Slow consumer: drop the connection, not the stream
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ClientCount reports connected client count
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

func (h *Hub) writeLoop(client *hubClient) {
	defer client.conn.Close()
	for payload := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.remove(client)
			return
		}
	}
}

// readLoop discards inbound frames and detects disconnects
func (h *Hub) readLoop(client *hubClient) {
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			h.remove(client)
			return
		}
	}
}

func (h *Hub) remove(client *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	client.conn.Close()
}

func filterFromQuery(r *http.Request) *Filter {
	q := r.URL.Query()
	filter := &Filter{}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, Type(t))
	}
	for _, s := range q["severity"] {
		filter.Severities = append(filter.Severities, Severity(s))
	}
	for _, sym := range q["symbol"] {
		filter.AssetSymbols = append(filter.AssetSymbols, sym)
	}
	if len(filter.Types) == 0 && len(filter.Severities) == 0 && len(filter.AssetSymbols) == 0 {
		return nil
	}
	return filter
}
