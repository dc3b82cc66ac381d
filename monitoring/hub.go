package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType names a stage of a training run.
type EventType string

const (
	EventStarted         EventType = "started"
	EventCentersSelected EventType = "centers_selected"
	EventSolved          EventType = "solved"
	EventEvaluated       EventType = "evaluated"
	EventSaved           EventType = "saved"
	EventFailed          EventType = "failed"
)

// Event is one message on the training stream.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	JobID     string          `json:"job_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event carrying data as its JSON payload.
func NewEvent(eventType EventType, jobID string, data interface{}) (Event, error) {
	ev := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now().UTC(),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal %s event: %w", eventType, err)
		}
		ev.Data = raw
	}
	return ev, nil
}

// Publisher receives training events.
type Publisher interface {
	Publish(Event)
}

// ClientMessage is what a websocket client may send. Subscribing to a job id
// restricts the stream to that job; with no subscriptions every event is sent.
type ClientMessage struct {
	Type  string `json:"type"` // subscribe, unsubscribe, ping
	Topic string `json:"topic"`
}

type client struct {
	conn     *websocket.Conn
	send     chan []byte
	clientID string

	mu            sync.RWMutex
	subscriptions map[string]bool
}

func (c *client) wants(jobID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subscriptions) == 0 || c.subscriptions[jobID]
}

type outbound struct {
	jobID   string
	payload []byte
}

// Hub fans training events out to websocket clients.
type Hub struct {
	logger     *zap.Logger
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	upgrader   websocket.Upgrader
	done       chan struct{}

	count   atomic.Int64
	sent    atomic.Int64
	dropped atomic.Int64
	metrics *Metrics
}

// NewHub creates a hub. An empty or "*" origin list accepts every origin.
func NewHub(logger *zap.Logger, allowedOrigins []string, metrics *Metrics) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger,
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		upgrader: websocket.Upgrader{
			CheckOrigin:     originChecker(allowedOrigins),
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		done:    make(chan struct{}),
		metrics: metrics,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Run serves registrations and broadcasts until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		h.logger.Info("websocket hub stopped")
	}()

	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			h.setCount()
			h.logger.Debug("websocket client connected",
				zap.String("client_id", c.clientID), zap.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				h.setCount()
			}
			h.logger.Debug("websocket client disconnected",
				zap.String("client_id", c.clientID), zap.Int("total", len(h.clients)))

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.wants(msg.jobID) {
					continue
				}
				select {
				case c.send <- msg.payload:
					h.sent.Add(1)
				default:
					close(c.send)
					delete(h.clients, c)
					h.setCount()
				}
			}

		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.setCount()
			return
		}
	}
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))
	h.metrics.SetWebsocketClients(len(h.clients))
}

// Publish queues an event for every interested client. It never blocks;
// events are dropped when the queue is full.
func (h *Hub) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("failed to marshal event", zap.String("type", string(ev.Type)), zap.Error(err))
		return
	}
	select {
	case h.broadcast <- outbound{jobID: ev.JobID, payload: payload}:
	default:
		h.dropped.Add(1)
		h.logger.Warn("websocket broadcast queue is full, dropping event",
			zap.String("type", string(ev.Type)), zap.String("job_id", ev.JobID))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// HubStats reports delivery counters.
type HubStats struct {
	ConnectedClients int   `json:"connected_clients"`
	MessagesSent     int64 `json:"messages_sent"`
	MessagesDropped  int64 `json:"messages_dropped"`
}

func (h *Hub) Stats() HubStats {
	return HubStats{
		ConnectedClients: h.ClientCount(),
		MessagesSent:     h.sent.Load(),
		MessagesDropped:  h.dropped.Load(),
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{
		conn:          conn,
		send:          make(chan []byte, 256),
		clientID:      uuid.NewString(),
		subscriptions: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump(h.logger)
	go c.readPump(h)
}

func (c *client) writePump(logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logger.Debug("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("failed to parse client message", zap.Error(err))
			continue
		}
		c.handleClientMessage(msg)
	}
}

func (c *client) handleClientMessage(msg ClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Type {
	case "subscribe":
		c.subscriptions[msg.Topic] = true
	case "unsubscribe":
		delete(c.subscriptions, msg.Topic)
	}
}
