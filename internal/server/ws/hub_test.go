package ws

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prodepool/internal/domain"
	"github.com/alanyoungcy/prodepool/internal/events"
)

type chanBus struct {
	ch     chan []byte
	stream []domain.StreamMessage
}

func (b *chanBus) Publish(context.Context, string, []byte) error { return nil }

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) { return b.ch, nil }

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	start := 0
	for i, m := range b.stream {
		if m.ID == lastID {
			start = i + 1
		}
	}
	end := min(start+count, len(b.stream))
	return b.stream[start:end], nil
}

func frameOf(t *testing.T, kind domain.EventKind, seq uint64) []byte {
	t.Helper()
	ev := domain.NewEvent(kind, common.HexToAddress("0x01"), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	ev.Seq = seq
	b, err := events.EncodeProto(ev)
	require.NoError(t, err)
	return b
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, mt)
	fields, err := events.DecodeProto(data)
	require.NoError(t, err)
	return fields
}

func readEventKind(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	return readEvent(t, conn)["kind"].(string)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	require.NoError(t, err)
	return conn
}

func TestHub_RelaysEventsByKind(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 8)}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Pool: "worldcup"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()

	mt, status, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Contains(t, string(status), `"pool":"worldcup"`)

	bus.ch <- frameOf(t, domain.EventTicketPurchased, 1)
	assert.Equal(t, "ticket_purchased", readEventKind(t, conn))

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "subscribe", Kinds: []string{"prize_claimed"}}))
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			if c.wants("ticket_purchased") {
				return false
			}
		}
		return len(hub.clients) == 1
	}, 2*time.Second, 10*time.Millisecond)

	bus.ch <- frameOf(t, domain.EventTicketPurchased, 2)
	bus.ch <- frameOf(t, domain.EventPrizeClaimed, 3)
	assert.Equal(t, "prize_claimed", readEventKind(t, conn))
	assert.Equal(t, 1, hub.Clients())
}

func TestHub_CatchUpFromStream(t *testing.T) {
	bus := &chanBus{ch: make(chan []byte, 8)}
	for seq := uint64(1); seq <= 300; seq++ {
		bus.stream = append(bus.stream, domain.StreamMessage{
			ID:      strconv.FormatUint(seq, 10) + "-0",
			Payload: frameOf(t, domain.EventTicketPurchased, seq),
		})
	}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Pool: "worldcup"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()

	conn := dial(t, srv, "?since_seq=297")
	defer conn.Close()
	mt, _, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	for _, want := range []float64{298, 299, 300} {
		assert.Equal(t, want, readEvent(t, conn)["seq"])
	}

	// Live frames follow the backlog.
	bus.ch <- frameOf(t, domain.EventPrizeClaimed, 301)
	assert.Equal(t, "prize_claimed", readEventKind(t, conn))

	resp, err := http.Get(srv.URL + "?since_seq=latest")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClient_Subscriptions(t *testing.T) {
	c := &client{kinds: map[string]bool{allKinds: true}}
	assert.True(t, c.wants("anything"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Kinds: []string{"a", "b"}})
	assert.False(t, c.wants("anything"))
	assert.True(t, c.wants("a"))

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Kinds: []string{"a"}})
	assert.False(t, c.wants("a"))
	assert.True(t, c.wants("b"))
}

func httpHandler(h *Hub) http.Handler { return http.HandlerFunc(h.HandleWS) }
