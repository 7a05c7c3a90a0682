package progress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360studio/phraseforge/metrics"
	"github.com/c360studio/phraseforge/storage"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	maxClientMessage = 4096
	sendBuffer       = 32
)

// Authorizer resolves a bearer token to a user id. The hub reuses the
// API's verifier so websocket joins carry the same identity as REST calls.
type Authorizer interface {
	VerifyToken(token string) (userID string, err error)
}

// clientMessage is what connections send: join or leave a job room.
type clientMessage struct {
	Type  string `json:"type"` // "join_job" | "leave_job"
	JobID string `json:"job_id"`
	Token string `json:"token,omitempty"`
}

// serverMessage is what the hub pushes to connections.
type serverMessage struct {
	Type    string `json:"type"` // "job_progress" | "error"
	Event   *Event `json:"event,omitempty"`
	Message string `json:"message,omitempty"`
	JobID   string `json:"job_id,omitempty"`
}

// Hub bridges the progress bus to websocket connections. Each job has a
// room; a connection only receives events for rooms it joined, and
// joining requires owning the job.
type Hub struct {
	bus      Bus
	jobs     *storage.JobStore
	auth     Authorizer
	metrics  *metrics.Metrics
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*room
}

// room holds the local members of one job room plus the bus
// subscription feeding them.
type room struct {
	members     map[*client]struct{}
	unsubscribe func()
}

// NewHub creates a hub. The job store backs both join authorization and
// the snapshot replayed to new subscribers.
func NewHub(bus Bus, jobs *storage.JobStore, auth Authorizer, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		bus:    bus,
		jobs:   jobs,
		auth:   auth,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		rooms: make(map[string]*room),
	}
}

// SetMetrics wires Prometheus collectors. Nil disables instrumentation.
func (h *Hub) SetMetrics(m *metrics.Metrics) {
	h.metrics = m
}

// ServeHTTP upgrades the connection and runs its pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}

	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan *serverMessage, sendBuffer),
		rooms: make(map[string]struct{}),
	}
	go c.writePump()
	c.readPump(r.Context())
}

// join adds a client to a job room after verifying the token owns the
// job, then replays the job's current state so the subscriber starts
// from a consistent snapshot.
func (h *Hub) join(ctx context.Context, c *client, msg *clientMessage) {
	userID, err := h.auth.VerifyToken(msg.Token)
	if err != nil {
		c.reply(&serverMessage{Type: "error", JobID: msg.JobID, Message: "unauthorized"})
		return
	}

	job, err := h.jobs.Get(ctx, msg.JobID)
	if err != nil {
		c.reply(&serverMessage{Type: "error", JobID: msg.JobID, Message: "job not found"})
		return
	}
	if job.Owner != userID {
		c.reply(&serverMessage{Type: "error", JobID: msg.JobID, Message: "forbidden"})
		return
	}

	h.mu.Lock()
	rm, ok := h.rooms[msg.JobID]
	if !ok {
		rm = &room{members: make(map[*client]struct{})}
		unsubscribe, err := h.bus.Subscribe(msg.JobID, func(event *Event) {
			h.broadcast(msg.JobID, event)
		})
		if err != nil {
			h.mu.Unlock()
			c.reply(&serverMessage{Type: "error", JobID: msg.JobID, Message: "subscribe failed"})
			return
		}
		rm.unsubscribe = unsubscribe
		h.rooms[msg.JobID] = rm
	}
	rm.members[c] = struct{}{}
	h.mu.Unlock()

	c.rooms[msg.JobID] = struct{}{}
	c.reply(&serverMessage{Type: "job_progress", JobID: msg.JobID, Event: EventFromJob(job)})
}

// leave removes a client from a room, dropping the bus subscription
// when the last local member leaves.
func (h *Hub) leave(c *client, jobID string) {
	delete(c.rooms, jobID)

	h.mu.Lock()
	defer h.mu.Unlock()
	rm, ok := h.rooms[jobID]
	if !ok {
		return
	}
	delete(rm.members, c)
	if len(rm.members) == 0 {
		if rm.unsubscribe != nil {
			rm.unsubscribe()
		}
		delete(h.rooms, jobID)
	}
}

// broadcast pushes one event to every local member of the job's room.
func (h *Hub) broadcast(jobID string, event *Event) {
	msg := &serverMessage{Type: "job_progress", JobID: jobID, Event: event}

	h.mu.Lock()
	rm, ok := h.rooms[jobID]
	if !ok {
		h.mu.Unlock()
		return
	}
	members := make([]*client, 0, len(rm.members))
	for member := range rm.members {
		members = append(members, member)
	}
	h.mu.Unlock()

	for _, member := range members {
		member.reply(msg)
	}
}

// drop disconnects a client from all its rooms.
func (h *Hub) drop(c *client) {
	for jobID := range c.rooms {
		h.leave(c, jobID)
	}
}

// client is one websocket connection. The send channel serializes
// writes; the read pump is the connection's owning goroutine. The
// channel is guarded by mu: broadcast snapshots room members outside
// the hub lock, so a send can race the read pump's disconnect close.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	rooms map[string]struct{}

	mu     sync.Mutex
	send   chan *serverMessage
	closed bool
}

func (c *client) reply(msg *serverMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		// Slow consumer: drop the connection rather than the whole hub.
		c.closed = true
		close(c.send)
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.drop(c)
		c.close()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.reply(&serverMessage{Type: "error", Message: "malformed message"})
			continue
		}

		switch msg.Type {
		case "join_job":
			c.hub.join(ctx, c, &msg)
		case "leave_job":
			c.hub.leave(c, msg.JobID)
		default:
			c.reply(&serverMessage{Type: "error", Message: "unknown message type"})
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
