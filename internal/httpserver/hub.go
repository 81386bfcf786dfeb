package httpserver

import (
	"net/http"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"voiceloop/internal/conversation"
)

// Event is one message on the websocket feed.
type Event struct {
	Type    string                 `json:"type"`
	State   conversation.State     `json:"state,omitempty"`
	TurnID  string                 `json:"turnId,omitempty"`
	Text    string                 `json:"text,omitempty"`
	Level   float64                `json:"level,omitempty"`
	Code    conversation.AlertCode `json:"code,omitempty"`
	Message string                 `json:"message,omitempty"`
}

// Hub fans orchestrator events out to connected websocket clients. It
// satisfies conversation.EventSink; a slow client loses events rather than
// back-pressuring the orchestrator.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// StateChanged implements conversation.EventSink.
func (h *Hub) StateChanged(state conversation.State, turnID string) {
	h.broadcast(Event{Type: "state", State: state, TurnID: turnID})
}

func (h *Hub) Transcript(turnID, text string) {
	h.broadcast(Event{Type: "transcript", TurnID: turnID, Text: text})
}

func (h *Hub) Level(level float64) {
	h.broadcast(Event{Type: "level", Level: level})
}

func (h *Hub) Alert(code conversation.AlertCode, message string) {
	h.broadcast(Event{Type: "alert", Code: code, Message: message})
}

func (h *Hub) AlertCleared() {
	h.broadcast(Event{Type: "alert_cleared"})
}

func (h *Hub) broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			// Client is not keeping up; level and state events are
			// superseded by later ones anyway.
		}
	}
}

// Serve upgrades the request and streams events until the client goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{conn: conn, send: make(chan Event, 64)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Debug("event client connected", "clients", n)

	go h.writePump(c)
	h.readPump(c)
	return nil
}

func (h *Hub) writePump(c *client) {
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// readPump discards client messages; its job is to notice the disconnect.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
	h.drop(c)
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.drop(c)
	}
}
