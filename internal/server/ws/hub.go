package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/limitorder/internal/domain"
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

	// replayBatch and replayPages bound how much history a reconnecting
	// client is sent.
	replayBatch = 100
	replayPages = 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// frame is every message the hub sends. StreamID is only set on replayed
// events; a client reconnects with the last one it saw as ?last_id=.
type frame struct {
	Type     string          `json:"type"`
	StreamID string          `json:"stream_id,omitempty"`
	Payload  json.RawMessage `json:"payload"`
}

// subscribeMsg is the JSON message a client sends to change which wallets
// it follows.
type subscribeMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Wallets []string `json:"wallets"`
}

// client represents a single WebSocket connection. A client following no
// wallets receives every event.
type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	wallets map[common.Address]bool
	mu      sync.RWMutex

	// While replaying, frames are held in order instead of sent.
	qmu       sync.Mutex
	replaying bool
	held      [][]byte
}

// event is an order event decoded once for routing.
type event struct {
	wallet common.Address
	data   []byte
}

// Config captures runtime metadata sent to WebSocket clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans order events from the signal bus out to connected WebSocket
// clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan event
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
}

// NewHub creates a Hub reading domain.ChannelOrders and replaying from
// domain.StreamOrders.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop and blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	go h.subscribe(ctx)

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

		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.follows(evt.wallet) {
					continue
				}
				if !c.deliver(evt.data) {
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// subscribe forwards live order events from the bus to the broadcast loop.
func (h *Hub) subscribe(ctx context.Context) {
	msgCh, err := h.bus.Subscribe(ctx, domain.ChannelOrders)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to order events", slog.String("error", err.Error()))
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: order event subscription closed")
				return
			}
			evt, ok := h.decode(payload, "")
			if !ok {
				continue
			}
			select {
			case h.broadcast <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (h *Hub) decode(payload []byte, streamID string) (event, bool) {
	var oe domain.OrderEvent
	if err := json.Unmarshal(payload, &oe); err != nil {
		h.logger.Warn("ws: undecodable order event", slog.String("error", err.Error()))
		return event{}, false
	}
	data, err := json.Marshal(frame{Type: "order_event", StreamID: streamID, Payload: payload})
	if err != nil {
		return event{}, false
	}
	return event{wallet: oe.Order.Sender, data: data}, true
}

// HandleWS upgrades an HTTP request to a WebSocket connection. Query
// parameters: wallet (repeatable) narrows the events sent; last_id replays
// stream entries after that ID before live events begin.
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
		wallets: make(map[common.Address]bool),
	}
	c.setWallets(r.URL.Query()["wallet"], true)
	lastID := r.URL.Query().Get("last_id")
	c.replaying = lastID != ""
	c.sendStatus()

	// Registering before the replay means an event published meanwhile may
	// arrive twice but never goes missing.
	h.register <- c
	if lastID != "" {
		if err := h.replay(r.Context(), c, lastID); err != nil {
			h.logger.Warn("ws: replay failed", slog.String("error", err.Error()))
		}
		if err := c.release(); err != nil {
			h.logger.Warn("ws: sending held events failed", slog.String("error", err.Error()))
		}
	}

	go c.writePump()
	go c.readPump()
}

// replay writes stream entries after lastID straight to the connection.
// It runs before the write pump starts, so it is the only writer.
func (h *Hub) replay(ctx context.Context, c *client, lastID string) error {
	for page := 0; page < replayPages; page++ {
		msgs, err := h.bus.StreamRead(ctx, domain.StreamOrders, lastID, replayBatch)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			lastID = m.ID
			evt, ok := h.decode(m.Payload, m.ID)
			if !ok || !c.follows(evt.wallet) {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, evt.data); err != nil {
				return err
			}
		}
		if len(msgs) < replayBatch {
			return nil
		}
	}
	return nil
}

// deliver queues data for the client, or holds it while a replay runs so
// it follows the replayed events. It reports false when the send buffer is
// full and data was dropped.
func (c *client) deliver(data []byte) bool {
	c.qmu.Lock()
	defer c.qmu.Unlock()
	if c.replaying {
		c.held = append(c.held, data)
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// release writes the frames held during the replay straight to the
// connection and then routes new ones through the send buffer. Like replay
// it runs before the write pump starts.
func (c *client) release() error {
	for {
		c.qmu.Lock()
		held := c.held
		c.held = nil
		if len(held) == 0 {
			c.replaying = false
			c.qmu.Unlock()
			return nil
		}
		c.qmu.Unlock()

		for _, data := range held {
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.qmu.Lock()
				c.held, c.replaying = nil, false
				c.qmu.Unlock()
				return err
			}
		}
	}
}

// readPump reads subscription changes from the client until it goes away.
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.setWallets(sub.Wallets, true)
		case "unsubscribe":
			c.setWallets(sub.Wallets, false)
		}
	}
}

func (c *client) setWallets(wallets []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, w := range wallets {
		if !common.IsHexAddress(w) {
			continue
		}
		if on {
			c.wallets[common.HexToAddress(w)] = true
		} else {
			delete(c.wallets, common.HexToAddress(w))
		}
	}
}

func (c *client) follows(wallet common.Address) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.wallets) == 0 || c.wallets[wallet]
}

// sendStatus queues a small envelope so clients can mark the connection
// healthy before any order event arrives.
func (c *client) sendStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	payload, err := json.Marshal(map[string]any{
		"mode":           c.hub.mode,
		"uptime_seconds": max(uptime, 0),
	})
	if err != nil {
		return
	}
	msg, err := json.Marshal(frame{Type: "status", Payload: payload})
	if err != nil {
		return
	}
	c.deliver(msg)
}

// writePump sends queued events as text frames and pings on a timer.
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
