package dashboard

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// A backtest is finite and front-loaded: most progress events are
// published before any browser gets around to connecting, and the feed
// has a definite end. The hub is built around those two facts — it keeps
// a bounded backlog that is replayed to every late subscriber, and Close
// (called when the run completes) flushes each client's queue and ends
// the connection with a normal-closure frame instead of leaving sockets
// dangling.
const (
	// backlogLimit bounds the replay buffer. Old frames are discarded
	// first; a client that connects later than that reconstructs the rest
	// from the snapshot frame it receives on connect.
	backlogLimit = 256

	// sendBuffer must exceed backlogLimit so a full replay can be queued
	// for a new client without blocking under the hub lock.
	sendBuffer = 512

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Hub fans progress events out to connected clients and owns the replay
// backlog.
type Hub struct {
	logger *slog.Logger

	mu      sync.Mutex
	clients map[*Client]struct{}
	backlog []json.RawMessage
	closed  bool
}

// Client is one WebSocket subscriber with its own outbound queue.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "ws-hub"),
		clients: make(map[*Client]struct{}),
	}
}

// Broadcast marshals evt once, appends it to the replay backlog, and
// queues it on every connected client. A client too slow to drain its
// queue is dropped rather than allowed to stall the simulation loop.
func (h *Hub) Broadcast(evt ProgressEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal progress event", "type", evt.Type, "error", err)
		return
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.backlog = append(h.backlog, data)
	if len(h.backlog) > backlogLimit {
		h.backlog = h.backlog[len(h.backlog)-backlogLimit:]
	}
	var slow []*Client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()

	if len(slow) > 0 {
		h.logger.Warn("dropped slow dashboard clients", "count", len(slow))
	}
}

// Subscribe registers conn, queues the backlog so a late joiner sees the
// run so far, and starts the connection's pumps. Subscribing after Close
// yields a client that is immediately sent a closure frame.
func (h *Hub) Subscribe(conn *websocket.Conn) *Client {
	c := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		close(c.send)
	} else {
		// sendBuffer > backlogLimit, so these enqueues cannot block.
		for _, data := range h.backlog {
			c.send <- data
		}
		h.clients[c] = struct{}{}
	}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
	return c
}

// Send queues evt for a single client, used for the connect-time snapshot
// frame. Dropped silently if the client's queue is full or already closed.
func (h *Hub) Send(c *Client, evt ProgressEvent) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Error("failed to marshal client frame", "type", evt.Type, "error", err)
		return
	}
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		select {
		case c.send <- data:
		default:
		}
	}
	h.mu.Unlock()
}

// Close ends the feed: every client's queued frames are flushed by its
// write pump, followed by a normal-closure frame. Called once when the
// backtest completes; further calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// drop unregisters a client whose connection died.
func (h *Hub) drop(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// clientCount reports connected clients; used by tests.
func (h *Hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// writePump drains the client's queue onto the socket, pinging on an
// interval so intermediaries keep the connection alive. A closed queue
// (run complete, slow client, or dead connection) sends a normal-closure
// frame and returns.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run complete"))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

// readPump exists only to notice the peer going away; the feed is
// one-way and inbound frames are discarded.
func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
