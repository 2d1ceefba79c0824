package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
	dedupTTL          = 10 * time.Minute
)

// StatusUpdate is one order status change pushed by the service.
type StatusUpdate struct {
	OrderID string
	Wallet  common.Address
	State   domain.OrderState
	Reason  string
	At      time.Time
}

// StatusHandler receives status updates in arrival order.
type StatusHandler func(StatusUpdate)

type streamCommand struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
	Address string `json:"address"`
}

type statusMessage struct {
	EventType string `json:"event_type"`
	OrderID   string `json:"order_id"`
	Address   string `json:"address"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	TS        int64  `json:"ts"`
}

// Stream consumes the order status WebSocket. It re-subscribes watched
// wallets after a reconnect and drops repeated updates.
type Stream struct {
	wsURL  string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *websocket.Conn
	closed  bool
	wallets []common.Address

	handlerMu sync.RWMutex
	handlers  []StatusHandler

	dedup *Dedup
	done  chan struct{}
}

// NewStream creates a status stream client for wsURL.
func NewStream(wsURL string, logger *slog.Logger) *Stream {
	return &Stream{
		wsURL:  wsURL,
		logger: logger.With(slog.String("component", "exchange_stream")),
		dedup:  NewDedup(dedupTTL),
		done:   make(chan struct{}),
	}
}

// Connect dials the service and starts the read and ping loops.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("exchange/stream: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("exchange/stream: connect: %w", err)
	}
	s.conn = conn

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop(conn)
	go s.pingLoop(conn)

	for _, w := range s.wallets {
		if err := s.send(streamCommand{Type: "subscribe", Channel: "orders", Address: w.Hex()}); err != nil {
			return fmt.Errorf("exchange/stream: restore subscription: %w", err)
		}
	}
	return nil
}

// Watch subscribes to status updates for wallet.
func (s *Stream) Watch(wallet common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range s.wallets {
		if w == wallet {
			return nil
		}
	}
	s.wallets = append(s.wallets, wallet)
	if s.conn == nil {
		return nil
	}
	if err := s.send(streamCommand{Type: "subscribe", Channel: "orders", Address: wallet.Hex()}); err != nil {
		return fmt.Errorf("exchange/stream: subscribe %s: %w", wallet.Hex(), err)
	}
	return nil
}

// OnStatus registers a handler for status updates.
func (s *Stream) OnStatus(h StatusHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Run connects and blocks until ctx is done, then closes the stream.
func (s *Stream) Run(ctx context.Context) error {
	if err := s.Connect(ctx); err != nil {
		return err
	}
	cleanup := time.NewTicker(dedupTTL)
	defer cleanup.Stop()
	for {
		select {
		case <-ctx.Done():
			return s.Close()
		case <-cleanup.C:
			s.dedup.Cleanup()
		}
	}
}

// Close shuts the connection down and stops reconnecting.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// send writes a command. Caller must hold s.mu.
func (s *Stream) send(cmd streamCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("exchange/stream: read failed, reconnecting", slog.String("error", err.Error()))
			s.reconnect()
			return
		}
		s.handleMessage(raw)
	}
}

func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			current := s.conn
			s.mu.RUnlock()
			if current != conn {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Stream) handleMessage(raw []byte) {
	update, ok := parseStatus(raw)
	if !ok {
		return
	}
	if s.dedup.IsDuplicate(update.OrderID + ":" + string(update.State)) {
		return
	}

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()
	for _, h := range handlers {
		h(update)
	}
}

// parseStatus decodes one stream frame; non-status frames report false.
func parseStatus(raw []byte) (StatusUpdate, bool) {
	var msg statusMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return StatusUpdate{}, false
	}
	if msg.EventType != "order_status" || msg.OrderID == "" {
		return StatusUpdate{}, false
	}
	state, ok := ParseStatus(msg.Status)
	if !ok {
		return StatusUpdate{}, false
	}
	at := time.Now().UTC()
	if msg.TS > 0 {
		at = time.Unix(msg.TS, 0).UTC()
	}
	return StatusUpdate{
		OrderID: msg.OrderID,
		Wallet:  common.HexToAddress(msg.Address),
		State:   state,
		Reason:  msg.Reason,
		At:      at,
	}, true
}

// reconnect re-dials with exponential backoff until it succeeds or the
// stream is closed.
func (s *Stream) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("exchange/stream: reconnected")
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
