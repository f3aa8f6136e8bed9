// Package ws streams committed pool events to WebSocket clients. Events
// arrive as protobuf frames on the Redis signal bus and are relayed as
// binary messages; clients may narrow the stream to chosen event kinds and
// catch up on history with ?since_seq=N.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// catchUpPage is the number of stream entries read per round trip.
	catchUpPage = 256
)

// allKinds subscribes a client to every event kind.
const allKinds = "*"

// frame is one outgoing message. Status messages are JSON text, events are
// protobuf binary.
type frame struct {
	binary bool
	data   []byte
}

// client represents a single WebSocket connection.
type client struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan frame
	kinds map[string]bool
	mu    sync.RWMutex
}

// subscribeMsg is sent by clients to change their event filter:
//
//	{"action":"subscribe","kinds":["ticket_purchased"]}
type subscribeMsg struct {
	Action string   `json:"action"`
	Kinds  []string `json:"kinds"`
}

// Config carries metadata for the status message sent on connect.
type Config struct {
	Pool      string
	StartedAt time.Time
	// AllowedOrigins restricts the upgrade. Empty allows every origin.
	AllowedOrigins []string
}

// Hub bridges the signal bus to connected clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	upgrader   websocket.Upgrader
	mu         sync.RWMutex
	logger     *slog.Logger
	pool       string
	startedAt  time.Time
}

// broadcastMsg carries an event frame with its kind so the hub can route
// it only to interested clients.
type broadcastMsg struct {
	kind string
	data []byte
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[o] = true
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || origins["*"] || origins[origin]
			},
		},
		logger:    logger.With(slog.String("component", "ws_hub")),
		pool:      cfg.Pool,
		startedAt: startedAt,
	}
}

// Run subscribes to the event channel and serves the hub until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, events.ChannelEvents)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed", slog.String("channel", events.ChannelEvents))
	go h.relay(ctx, msgs)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// relay decodes the kind of each bus frame and hands it to the hub loop.
func (h *Hub) relay(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: event subscription closed")
				return
			}
			fields, err := events.DecodeProto(data)
			if err != nil {
				h.logger.Warn("ws: undecodable event frame", slog.String("error", err.Error()))
				continue
			}
			kind, _ := fields["kind"].(string)
			select {
			case h.broadcast <- broadcastMsg{kind: kind, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) fanOut(msg broadcastMsg) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(msg.kind) {
			continue
		}
		select {
		case c.send <- frame{binary: true, data: msg.data}:
		default:
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the connection and registers the client. New clients
// receive every kind until they subscribe. With ?since_seq=N the client
// first receives the journaled frames with seq above N; frames committed
// during catch-up may arrive twice and seq orders them.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var since uint64
	catchUp := r.URL.Query().Has("since_seq")
	if catchUp {
		n, err := strconv.ParseUint(r.URL.Query().Get("since_seq"), 10, 64)
		if err != nil {
			http.Error(w, "since_seq must be a sequence number", http.StatusBadRequest)
			return
		}
		since = n
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:   h,
		conn:  conn,
		send:  make(chan frame, sendBufferSize),
		kinds: map[string]bool{allKinds: true},
	}

	// Until writePump starts this goroutine is the only writer, so status
	// and catch-up frames go straight to the connection while live frames
	// queue in c.send.
	if err := c.write(frame{data: h.statusMessage()}); err != nil {
		conn.Close()
		return
	}
	h.register <- c
	if catchUp {
		n, err := h.catchUp(r.Context(), c, since)
		if err != nil {
			h.logger.Warn("ws: catch-up failed", slog.Int("sent", n), slog.String("error", err.Error()))
		} else {
			h.logger.Debug("ws: catch-up complete", slog.Uint64("since_seq", since), slog.Int("sent", n))
		}
	}

	go c.writePump()
	go c.readPump()
}

// catchUp writes the stream's frames with seq above since to c. It returns
// the number of frames written.
func (h *Hub) catchUp(ctx context.Context, c *client, since uint64) (int, error) {
	sent := 0
	last := "0"
	for {
		msgs, err := h.bus.StreamRead(ctx, events.StreamEvents, last, catchUpPage)
		if err != nil {
			return sent, err
		}
		for _, m := range msgs {
			last = m.ID
			fields, err := events.DecodeProto(m.Payload)
			if err != nil {
				continue
			}
			if seq, _ := fields["seq"].(float64); uint64(seq) <= since {
				continue
			}
			if err := c.write(frame{binary: true, data: m.Payload}); err != nil {
				return sent, err
			}
			sent++
		}
		if len(msgs) < catchUpPage {
			return sent, nil
		}
	}
}

// readPump reads subscription changes until the connection closes.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription applies a subscribe or unsubscribe request. The first
// explicit subscribe replaces the default of all kinds.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		if c.kinds[allKinds] && len(c.kinds) == 1 {
			delete(c.kinds, allKinds)
		}
		for _, k := range msg.Kinds {
			c.kinds[k] = true
		}
	case "unsubscribe":
		for _, k := range msg.Kinds {
			delete(c.kinds, k)
		}
	}
}

// wants reports whether the client subscribed to kind.
func (c *client) wants(kind string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kinds[allKinds] || c.kinds[kind]
}

// statusMessage lets clients mark the connection healthy before any event
// flows.
func (h *Hub) statusMessage() []byte {
	uptime := max(int64(time.Since(h.startedAt).Seconds()), 0)
	msg, _ := json.Marshal(map[string]any{
		"type": "hub_status",
		"payload": map[string]any{
			"pool":           h.pool,
			"uptime_seconds": uptime,
			"encoding":       "protobuf/google.protobuf.Struct",
		},
	})
	return msg
}

// write sends one frame with the write deadline applied.
func (c *client) write(f frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	kind := websocket.TextMessage
	if f.binary {
		kind = websocket.BinaryMessage
	}
	return c.conn.WriteMessage(kind, f.data)
}

// writePump writes queued frames and keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(f); err != nil {
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
