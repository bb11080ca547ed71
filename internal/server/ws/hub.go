package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/parimarket/internal/domain"
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

	// maxReplay caps how many stream entries one replay request returns.
	maxReplay = 200
)

// upgrader configures the WebSocket upgrade parameters. Origin checks are
// left to the CORS allow-list in front of the server.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is every frame the hub writes.
type envelope struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id,omitempty"`
	Event    json.RawMessage `json:"event,omitempty"`
	Markets  []string        `json:"markets,omitempty"`
	Error    string          `json:"error,omitempty"`

	ServerTime    *time.Time `json:"server_time,omitempty"`
	UptimeSeconds *int64     `json:"uptime_seconds,omitempty"`
}

// request is a control message sent by a client:
//
//	{"action":"subscribe","markets":["btc-100k","eth-*"]}
//	{"action":"unsubscribe","markets":["btc-100k"]}
//	{"action":"replay","since":"1700000000000-0","limit":50}
type request struct {
	Action  string   `json:"action"`
	Markets []string `json:"markets"`
	Since   string   `json:"since"`
	Limit   int      `json:"limit"`
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn

	mu      sync.Mutex
	send    chan []byte
	closed  bool
	markets map[string]bool // empty means every market
}

// Hub manages connected WebSocket clients and fans out market events from
// the event bus to those whose market filter matches.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.EventBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a new WebSocket hub that bridges the event bus to connected
// WebSocket clients.
func NewHub(bus domain.EventBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled, closing every
// client.
func (h *Hub) Run(ctx context.Context) error {
	events, err := h.bus.Subscribe(ctx, domain.ChannelMarkets)
	if err != nil {
		close(h.done)
		return err
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", domain.ChannelMarkets))
	go h.forward(ctx, events)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case data := <-h.broadcast:
			h.fanOut(data)
		}
	}
}

// forward copies bus payloads into the broadcast loop.
func (h *Hub) forward(ctx context.Context, events <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-events:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", domain.ChannelMarkets),
				)
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) fanOut(data []byte) {
	market := eventMarket(data)
	frame, err := json.Marshal(envelope{Type: "event", Event: data})
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(market) {
			continue
		}
		if !c.trySend(frame) {
			h.logger.Warn("ws: dropping message for slow client", slog.String("market", market))
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBufferSize),
		markets: make(map[string]bool),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendHello()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// eventMarket extracts the market name from an encoded domain.MarketEvent.
func eventMarket(data []byte) string {
	var ev struct {
		Market string `json:"market"`
	}
	if err := json.Unmarshal(data, &ev); err != nil {
		return ""
	}
	return ev.Market
}

// readPump reads control messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
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

		var req request
		if err := json.Unmarshal(message, &req); err != nil {
			c.reply(envelope{Type: "error", Error: "malformed request"})
			continue
		}
		c.handle(req)
	}
}

func (c *client) handle(req request) {
	switch strings.ToLower(req.Action) {
	case "subscribe":
		c.mu.Lock()
		for _, m := range req.Markets {
			if m = strings.TrimSpace(m); m != "" {
				c.markets[m] = true
			}
		}
		c.mu.Unlock()
		c.reply(envelope{Type: "subscribed", Markets: c.filter()})
	case "unsubscribe":
		c.mu.Lock()
		for _, m := range req.Markets {
			delete(c.markets, strings.TrimSpace(m))
		}
		c.mu.Unlock()
		c.reply(envelope{Type: "subscribed", Markets: c.filter()})
	case "replay":
		c.replay(req.Since, req.Limit)
	default:
		c.reply(envelope{Type: "error", Error: "unknown action " + req.Action})
	}
}

// replay sends stream entries after since that pass the client's filter,
// followed by a replay_done marker.
func (c *client) replay(since string, limit int) {
	if limit <= 0 || limit > maxReplay {
		limit = maxReplay
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := c.hub.bus.StreamRead(ctx, domain.StreamMarkets, since, limit)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		c.reply(envelope{Type: "error", Error: "replay unavailable"})
		return
	}
	for _, m := range msgs {
		if !c.wants(eventMarket(m.Payload)) {
			continue
		}
		c.reply(envelope{Type: "event", StreamID: m.ID, Event: m.Payload})
	}
	c.reply(envelope{Type: "replay_done"})
}

// sendHello pushes a small envelope so clients can mark the connection
// healthy before any market event arrives.
func (c *client) sendHello() {
	now := time.Now().UTC()
	uptime := int64(now.Sub(c.hub.startedAt).Seconds())
	c.reply(envelope{Type: "hello", ServerTime: &now, UptimeSeconds: &uptime})
}

func (c *client) reply(env envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. It reports false when the buffer is
// full or the client is already closed.
func (c *client) trySend(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// wants reports whether an event for market passes the client's filter.
// A trailing "*" in a filter entry matches a prefix.
func (c *client) wants(market string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.markets) == 0 || c.markets[market] {
		return true
	}
	for f := range c.markets {
		if prefix, ok := strings.CutSuffix(f, "*"); ok && strings.HasPrefix(market, prefix) {
			return true
		}
	}
	return false
}

func (c *client) filter() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.markets))
	for m := range c.markets {
		out = append(out, m)
	}
	return out
}

// writePump pumps messages from the hub to the WebSocket connection as text
// frames and sends periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
