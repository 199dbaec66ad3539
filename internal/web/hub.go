package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sweeney/sensor-sampler/internal/bank"
	"github.com/sweeney/sensor-sampler/internal/status"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
	sendBuf    = 32
)

// envelope is the wire format of every websocket message.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// readingJSON is the data of a "reading" message.
type readingJSON struct {
	Code    string       `json:"code"`
	Name    string       `json:"name"`
	Value   status.Float `json:"value"`
	Raw     status.Float `json:"raw"`
	Seconds uint64       `json:"seconds"`
}

// Hub tracks websocket clients and fans committed values out to them. Each
// client has its own buffered queue; a client that cannot keep up is
// disconnected rather than slowing the others.
type Hub struct {
	tracker *status.Tracker

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewHub creates a Hub that greets new clients with the tracker's state.
func NewHub(tracker *status.Tracker) *Hub {
	return &Hub{
		tracker: tracker,
		clients: make(map[*client]struct{}),
	}
}

// BroadcastCommit sends a committed value to every client. It never blocks.
func (h *Hub) BroadcastCommit(c bank.Commit) {
	ts := c.Timestamp.UTC()
	msg, err := json.Marshal(envelope{
		Type: "reading",
		Ts:   &ts,
		Data: readingJSON{
			Code:    string(c.Code),
			Name:    c.Name,
			Value:   status.Float(c.Value),
			Raw:     status.Float(c.Raw),
			Seconds: c.Seconds,
		},
	})
	if err != nil {
		log.Printf("ws: encode reading: %v", err)
		return
	}
	h.broadcast(msg)
}

func (h *Hub) broadcast(msg []byte) {
	var slow []*client

	h.mu.Lock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.Unlock()

	for _, c := range slow {
		h.remove(c, "slow client")
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("ws: client connected: %s (clients=%d)", c.remoteAddr, n)
}

func (h *Hub) remove(c *client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		// Closing send makes writePump send a close frame and exit.
		close(c.send)
		log.Printf("ws: client disconnected: %s reason=%s (clients=%d)", c.remoteAddr, reason, n)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request, sends a "state_init" message with the
// current status and registers the client.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuf), remoteAddr: r.RemoteAddr}

	snap := h.tracker.Snapshot()
	now := snap.Now.UTC()
	var init struct {
		Status json.RawMessage `json:"status"`
	}
	json.Unmarshal(status.FormatJSON(snap), &init)
	msg, _ := json.Marshal(envelope{Type: "state_init", Ts: &now, Data: init.Status})
	c.send <- msg

	h.add(c)

	// The pumps outlive the request; the connection is closed by the pumps.
	go c.writePump()
	go c.readPump()
}

type client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	remoteAddr string
}

// writePump writes queued messages and keepalive pings. It exits on write
// error or when send is closed.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					log.Printf("ws: write error: %s: %v", c.remoteAddr, err)
				}
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards incoming messages to process control frames and detect
// disconnects, then unregisters the client.
func (c *client) readPump() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			reason := "read error"
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				reason = "closed"
			}
			c.hub.remove(c, reason)
			return
		}
	}
}
