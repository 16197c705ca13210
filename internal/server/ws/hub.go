// Package ws relays market events to WebSocket clients.
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

	"github.com/alanyoungcy/parimutuel/internal/domain"
	"github.com/alanyoungcy/parimutuel/internal/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
	// replayLimit caps the events sent for one replay request.
	replayLimit = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// clientMsg is what a client may send:
//
//	{"action":"subscribe","channels":["market:3"]}
//	{"action":"unsubscribe","channels":["market:*"]}
//	{"action":"replay","last_id":"0"}
type clientMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	LastID   string   `json:"last_id"`
}

// envelope wraps every frame sent to clients.
type envelope struct {
	Type     string        `json:"type"`
	StreamID string        `json:"stream_id,omitempty"`
	Event    *domain.Event `json:"event,omitempty"`
	Started  time.Time     `json:"started_at,omitzero"`
}

// Hub fans market events out to connected clients. Events arrive either
// through the signal bus subscription or directly through Publish when the
// hub is wired as an event sink.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// NewHub creates a Hub. bus may be nil, in which case only events passed to
// Publish reach clients and replay is unavailable.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		startedAt:  time.Now().UTC(),
	}
}

var _ domain.EventSink = (*Hub)(nil)

// Publish implements domain.EventSink. It never blocks; when the hub is
// behind, the event is dropped for WebSocket clients only.
func (h *Hub) Publish(ctx context.Context, e domain.Event) {
	data, err := json.Marshal(envelope{Type: "event", Event: &e})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- broadcastMsg{channel: events.Channel(e.MarketID), data: data}:
	default:
		h.logger.WarnContext(ctx, "ws: broadcast queue full, dropping event",
			slog.Uint64("market_id", uint64(e.MarketID)),
		)
	}
}

// Run serves registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.subscribe(ctx, events.ChannelPattern)
	}

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
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", h.clientCount()))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", h.clientCount()))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if c.isSubscribed(msg.channel) {
					select {
					case c.send <- msg.data:
					default:
						h.logger.Warn("ws: dropping message for slow client")
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe forwards bus messages. The bus reports only the pattern, so the
// market channel is recovered from the event itself.
func (h *Hub) subscribe(ctx context.Context, pattern string) {
	msgCh, err := h.bus.Subscribe(ctx, pattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe",
			slog.String("channel", pattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("channel", pattern))

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: subscription closed", slog.String("channel", pattern))
				return
			}
			msg, ok := wrapBusEvent(payload, "")
			if !ok {
				continue
			}
			select {
			case h.broadcast <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func wrapBusEvent(payload []byte, streamID string) (broadcastMsg, bool) {
	var e domain.Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return broadcastMsg{}, false
	}
	data, err := json.Marshal(envelope{Type: "event", StreamID: streamID, Event: &e})
	if err != nil {
		return broadcastMsg{}, false
	}
	return broadcastMsg{channel: events.Channel(e.MarketID), data: data}, true
}

// HandleWS upgrades the connection and subscribes the client to every
// market.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: map[string]bool{events.ChannelPattern: true},
	}

	h.register <- c
	if hello, err := json.Marshal(envelope{Type: "hello", Started: h.startedAt}); err == nil {
		c.send <- hello
	}

	go c.writePump()
	go c.readPump(r.Context())
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump handles subscription and replay requests from the client.
func (c *client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	ctx = context.WithoutCancel(ctx)

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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg clientMsg
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		switch msg.Action {
		case "subscribe", "unsubscribe":
			c.handleSubscription(msg)
		case "replay":
			c.replay(ctx, msg.LastID)
		}
	}
}

func (c *client) handleSubscription(msg clientMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range msg.Channels {
		ch = strings.TrimSpace(ch)
		if msg.Action == "subscribe" {
			c.subs[ch] = true
		} else {
			delete(c.subs, ch)
		}
	}
}

// replay sends stream entries after lastID that match the client's
// subscriptions.
func (c *client) replay(ctx context.Context, lastID string) {
	if c.hub.bus == nil {
		return
	}
	if lastID == "" {
		lastID = "0"
	}
	msgs, err := c.hub.bus.StreamRead(ctx, events.StreamName, lastID, replayLimit)
	if err != nil {
		c.hub.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range msgs {
		out, ok := wrapBusEvent(m.Payload, m.ID)
		if !ok || !c.isSubscribed(out.channel) {
			continue
		}
		select {
		case c.send <- out.data:
		default:
			return
		}
	}
}

// isSubscribed reports whether channel matches a subscription. A trailing
// "*" matches any suffix.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

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
