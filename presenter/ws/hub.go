package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/storymesh/core"
	"github.com/hupe1980/storymesh/logging"
)

// Envelope types.
const (
	TypeWelcome   = "welcome"
	TypeUtterance = "utterance"
	TypeStatus    = "status"
	TypeSubscribe = "subscribe"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("ws: hub closed")

// Envelope is the JSON frame sent to clients.
type Envelope struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	Utterance *core.Utterance `json:"utterance,omitempty"`
	Agent     string          `json:"agent,omitempty"`
	Status    core.Status     `json:"status,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Options configures a Hub.
type Options struct {
	// SendBuffer is the per-client queue length.
	SendBuffer int
	WriteWait  time.Duration
	// PongWait is how long a client may stay silent before it is dropped.
	PongWait time.Duration
	// PingPeriod must be shorter than PongWait.
	PingPeriod   time.Duration
	MaxReadBytes int64
	CheckOrigin  func(r *http.Request) bool
	Logger       logging.Logger
}

// Hub fans envelopes out to connected clients. It is safe for concurrent
// use.
type Hub struct {
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

var (
	_ core.Presenter      = (*Hub)(nil)
	_ core.StatusReporter = (*Hub)(nil)
	_ http.Handler        = (*Hub)(nil)
)

// NewHub creates a Hub.
func NewHub(optFns ...func(o *Options)) *Hub {
	opts := Options{
		SendBuffer:   256,
		WriteWait:    10 * time.Second,
		PongWait:     60 * time.Second,
		PingPeriod:   54 * time.Second,
		MaxReadBytes: 4096,
		CheckOrigin:  func(*http.Request) bool { return true },
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, ErrClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		session: r.URL.Query().Get("session"),
		send:    make(chan []byte, h.opts.SendBuffer),
		done:    make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.Close()
		return
	}
	h.opts.Logger.Debug("websocket client connected", "session_id", c.subscription())

	go c.writePump()
	c.enqueue(h.encode(Envelope{Type: TypeWelcome, SessionID: c.subscription()}))
	c.readPump()
}

// Present implements core.Presenter.
func (h *Hub) Present(_ context.Context, u core.Utterance) error {
	return h.Broadcast(Envelope{Type: TypeUtterance, SessionID: u.SessionID, Utterance: &u})
}

// Status implements core.StatusReporter.
func (h *Hub) Status(_ context.Context, sessionID, agent string, st core.Status) error {
	return h.Broadcast(Envelope{Type: TypeStatus, SessionID: sessionID, Agent: agent, Status: st})
}

// Broadcast sends env to every client subscribed to its session.
func (h *Hub) Broadcast(env Envelope) error {
	data := h.encode(env)
	if data == nil {
		return errors.New("ws: encode envelope")
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(env.SessionID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(data) {
			h.opts.Logger.Warn("websocket client too slow, disconnecting")
			c.close()
		}
	}
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their pumps to exit. Later
// connections are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

func (h *Hub) encode(env Envelope) []byte {
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.opts.Logger.Error("encoding envelope failed", "error", err)
		return nil
	}
	return data
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	mu      sync.RWMutex
	session string
}

func (c *client) subscription() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *client) wants(sessionID string) bool {
	sub := c.subscription()
	return sub == "" || sub == sessionID
}

// enqueue never blocks; it reports false when the buffer is full.
func (c *client) enqueue(data []byte) bool {
	if data == nil {
		return true
	}
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		c.hub.unregister(c)
	})
}

type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

func (c *client) readPump() {
	defer c.hub.wg.Done()
	defer c.close()
	defer logging.Recover(c.hub.opts.Logger, "component", "ws", "pump", "read")

	c.conn.SetReadLimit(c.hub.opts.MaxReadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.opts.Logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.hub.opts.PongWait))

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == TypeSubscribe {
			c.mu.Lock()
			c.session = msg.SessionID
			c.mu.Unlock()
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.opts.PingPeriod)
	defer c.hub.wg.Done()
	defer ticker.Stop()
	defer c.close()
	defer logging.Recover(c.hub.opts.Logger, "component", "ws", "pump", "write")

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
