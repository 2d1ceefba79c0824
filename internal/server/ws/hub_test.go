package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/limitorder/internal/domain"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type fakeBus struct {
	live   chan []byte
	stream []domain.StreamMessage
	// gate, when set, holds StreamRead until closed.
	gate chan struct{}
}

func (b *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.live, nil }

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(ctx context.Context, _ string, lastID string, _ int) ([]domain.StreamMessage, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	var out []domain.StreamMessage
	for _, m := range b.stream {
		if m.ID > lastID {
			out = append(out, m)
		}
	}
	return out, nil
}

func orderEvent(t *testing.T, id string, sender common.Address) []byte {
	t.Helper()
	b, err := json.Marshal(domain.OrderEvent{
		Type:  domain.OrderEventAccepted,
		Order: domain.Order{ID: id, Sender: sender, State: domain.OrderStateOpen},
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type received struct {
	Type     string            `json:"type"`
	StreamID string            `json:"stream_id"`
	Payload  domain.OrderEvent `json:"payload"`
}

func readFrame(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if kind != websocket.TextMessage {
		t.Fatalf("frame type = %d, want text", kind)
	}
	var r received
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return r
}

func TestHubReplaysThenStreamsLiveEvents(t *testing.T) {
	bus := &fakeBus{
		live: make(chan []byte, 4),
		stream: []domain.StreamMessage{
			{ID: "1-0", Payload: orderEvent(t, "old-alice", alice)},
			{ID: "2-0", Payload: orderEvent(t, "old-bob", bob)},
		},
	}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?wallet=" + alice.Hex() + "&last_id=0-0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readFrame(t, conn)
	if first.Type != "order_event" || first.StreamID != "1-0" || first.Payload.Order.ID != "old-alice" {
		t.Fatalf("first frame = %+v, want replayed old-alice", first)
	}
	if status := readFrame(t, conn); status.Type != "status" {
		t.Fatalf("second frame = %+v, want status", status)
	}

	bus.live <- orderEvent(t, "new-bob", bob)
	bus.live <- orderEvent(t, "new-alice", alice)

	live := readFrame(t, conn)
	if live.Payload.Order.ID != "new-alice" || live.StreamID != "" {
		t.Errorf("live frame = %+v, want new-alice without stream id", live)
	}
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHubHoldsLiveEventsDuringReplay(t *testing.T) {
	const liveEvents = sendBufferSize + 44
	bus := &fakeBus{
		live:   make(chan []byte, liveEvents),
		stream: []domain.StreamMessage{{ID: "1-0", Payload: orderEvent(t, "old-alice", alice)}},
		gate:   make(chan struct{}),
	}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?last_id=0-0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var c *client
	waitFor(t, "client registration", func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for registered := range hub.clients {
			c = registered
		}
		return c != nil
	})

	for i := 0; i < liveEvents; i++ {
		bus.live <- orderEvent(t, fmt.Sprintf("live-%d", i), alice)
	}
	waitFor(t, "live events to be held", func() bool {
		c.qmu.Lock()
		defer c.qmu.Unlock()
		return len(c.held) == liveEvents+1
	})
	close(bus.gate)

	if first := readFrame(t, conn); first.StreamID != "1-0" || first.Payload.Order.ID != "old-alice" {
		t.Fatalf("first frame = %+v, want replayed old-alice", first)
	}
	if status := readFrame(t, conn); status.Type != "status" {
		t.Fatalf("second frame = %+v, want status", status)
	}
	for i := 0; i < liveEvents; i++ {
		got := readFrame(t, conn)
		if want := fmt.Sprintf("live-%d", i); got.Payload.Order.ID != want {
			t.Fatalf("live frame %d = %s, want %s", i, got.Payload.Order.ID, want)
		}
	}

	bus.live <- orderEvent(t, "after", alice)
	if got := readFrame(t, conn); got.Payload.Order.ID != "after" {
		t.Errorf("frame after replay = %s, want after", got.Payload.Order.ID)
	}
}
