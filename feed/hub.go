// Package feed publishes the tracker's query results over HTTP: JSON, a websocket stream and GTFS-realtime.
package feed

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/benjaminclauss/truckping/tracker"
)

const (
	writeWait = time.Second
	// sendQueue is how many results a client may fall behind before it is dropped.
	sendQueue = 4
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Vendor is the JSON form of a tracker.Row.
type Vendor struct {
	ID         string  `json:"id"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DistanceKm float64 `json:"distanceKm"`
	AgeSeconds float64 `json:"ageSeconds"`
	TCPPort    int     `json:"tcpPort"`
	Addr       string  `json:"addr"`
	Nearby     bool    `json:"nearby"`
	LastSeen   int64   `json:"lastSeen"`
}

func vendors(rows []tracker.Row) []Vendor {
	out := make([]Vendor, 0, len(rows))
	for _, r := range rows {
		out = append(out, Vendor{
			ID:         r.ID,
			Lat:        r.Lat,
			Lon:        r.Lon,
			DistanceKm: r.DistanceKm,
			AgeSeconds: r.Age.Seconds(),
			TCPPort:    r.TCPPort,
			Addr:       r.Addr,
			Nearby:     r.Nearby,
			LastSeen:   r.LastSeen.Unix(),
		})
	}
	return out
}

// Hub keeps the most recent query result and pushes every new one to its websocket clients.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	rows    []tracker.Row
	at      time.Time
}

// client is one websocket connection. Only its writePump writes to conn.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Publish stores rows as the latest result and queues them for every client. It never waits on the network:
// clients whose queue is full are dropped.
func (h *Hub) Publish(rows []tracker.Row) {
	data, err := json.Marshal(vendors(rows))
	if err != nil {
		slog.Error("error encoding vendors", "err", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.rows = slices.Clone(rows)
	h.at = time.Now()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Debug("dropping slow websocket client", "remote_addr", remoteAddr(c))
			h.removeLocked(c)
		}
	}
}

// Rows returns the latest result and when it was published.
func (h *Hub) Rows() ([]tracker.Row, time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.rows), h.at
}

// Clients returns the number of connected websocket clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeWS upgrades the request to a websocket, sends the latest result and registers the client for updates.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade error", "err", err, "remote_addr", r.RemoteAddr)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendQueue)}

	h.mu.Lock()
	data, err := json.Marshal(vendors(h.rows))
	if err != nil {
		h.mu.Unlock()
		slog.Error("error encoding vendors", "err", err)
		_ = conn.Close()
		return
	}
	c.send <- data
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

// removeLocked unregisters c and closes its queue, which stops its writePump.
func (h *Hub) removeLocked(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// writePump writes queued results to the connection until the queue is closed or a write fails.
func (h *Hub) writePump(c *client) {
	defer func() { _ = c.conn.Close() }()
	for data := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			h.remove(c)
			return
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("dropping websocket client", "err", err, "remote_addr", c.conn.RemoteAddr())
			h.remove(c)
			return
		}
	}
}

// readPump discards client messages and unregisters the client once it goes away.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func remoteAddr(c *client) net.Addr {
	if c.conn == nil {
		return nil
	}
	return c.conn.RemoteAddr()
}
