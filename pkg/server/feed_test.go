package server

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contoso/sofia/pkg/pizza"
)

func dialFeed(t *testing.T, tsURL string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(tsURL, "http") + "/ws/orders"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg EventMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestOrderFeedStreamsOrderEvents(t *testing.T) {
	srv, ts := newTestServer(t, testServerConfig())
	conn := dialFeed(t, ts.URL)

	require.Eventually(t, func() bool {
		return srv.feed.registry.Count() == 1
	}, time.Second, 10*time.Millisecond, "feed client should register")

	order, err := srv.store.PlaceOrder(context.Background(), pizza.OrderRequest{
		Customer: "Grace",
		Items:    []pizza.OrderLine{{Item: "margherita", Quantity: 1}},
	})
	require.NoError(t, err)

	msg := readEvent(t, conn)
	assert.Equal(t, "event", msg.Type)
	assert.Equal(t, "order.placed", msg.Event)
	assert.Equal(t, int64(1), msg.Seq)
	assert.NotZero(t, msg.Timestamp)

	data, ok := msg.Data.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, order.ID, data["order_id"])
	assert.Equal(t, pizza.StatusReceived, data["status"])
}

func TestOrderFeedHeartbeat(t *testing.T) {
	_, ts := newTestServer(t, testServerConfig(), WithHeartbeatInterval(50*time.Millisecond))
	conn := dialFeed(t, ts.URL)

	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "expected a heartbeat before the deadline")

		msg := readEvent(t, conn)
		if msg.Event != "heartbeat" {
			continue
		}

		data, ok := msg.Data.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "alive", data["status"])
		return
	}
}

func TestEventBroadcasterDropsSlowClients(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	registry := NewClientRegistry()
	broadcaster := NewEventBroadcaster(registry, logger)

	fast := &feedClient{id: "fast", send: make(chan []byte, 4), closed: make(chan struct{})}
	slow := &feedClient{id: "slow", send: make(chan []byte, 1), closed: make(chan struct{})}
	registry.Add(fast)
	registry.Add(slow)

	broadcaster.Broadcast("order.placed", map[string]string{"order_id": "ord_1"})
	broadcaster.Broadcast("order.status", map[string]string{"order_id": "ord_1"})

	assert.Equal(t, 1, registry.Count(), "slow client should be dropped")

	select {
	case <-slow.closed:
	default:
		t.Fatal("slow client should have been closed")
	}

	var seqs []int64
	for i := 0; i < 2; i++ {
		select {
		case frame := <-fast.send:
			var msg EventMessage
			require.NoError(t, json.Unmarshal(frame, &msg))
			seqs = append(seqs, msg.Seq)
		default:
			t.Fatalf("expected frame %d queued for the fast client", i+1)
		}
	}
	assert.Equal(t, []int64{1, 2}, seqs)
}

func TestClientRegistry(t *testing.T) {
	registry := NewClientRegistry()
	assert.Equal(t, 0, registry.Count())

	client := &feedClient{id: "c1", send: make(chan []byte, 1), closed: make(chan struct{})}
	registry.Add(client)
	assert.Equal(t, 1, registry.Count())

	registry.Remove("c1")
	assert.Equal(t, 0, registry.Count())

	registry.Remove("c1")
	assert.Equal(t, 0, registry.Count())
}
