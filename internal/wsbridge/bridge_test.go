package wsbridge_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nugget/minionfabric/internal/coremodel"
	"github.com/nugget/minionfabric/internal/eventbus"
	"github.com/nugget/minionfabric/internal/wsbridge"
)

func newTestServer(t *testing.T) (*wsbridge.Bridge, *eventbus.Bus, string) {
	t.Helper()
	bus := eventbus.New(nil)
	t.Cleanup(func() { bus.Close() })
	br := wsbridge.New(bus, nil)
	require.NoError(t, br.Start(context.Background()))
	t.Cleanup(br.Stop)

	srv := httptest.NewServer(br)
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return br, bus, wsURL
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f map[string]any
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestClientReceivesConnectedFrameOnDial(t *testing.T) {
	_, _, url := newTestServer(t)
	conn := dial(t, url)
	f := readFrame(t, conn)
	assert.Equal(t, "connected", f["type"])
}

func TestChannelMessageOnlyDeliveredToSubscribedClient(t *testing.T) {
	_, bus, url := newTestServer(t)
	conn := dial(t, url)
	readFrame(t, conn) // connected

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe_channel", "channel_id": "c1"}))
	f := readFrame(t, conn)
	assert.Equal(t, "subscribed", f["type"])

	_, err := bus.EmitChannelMessage("c1", "u1", "hello", "", "test", nil)
	require.NoError(t, err)

	f = readFrame(t, conn)
	assert.Equal(t, "channel_message", f["type"])
	assert.Equal(t, "c1", f["channel_id"])
}

func TestChannelMessageNotDeliveredWithoutSubscription(t *testing.T) {
	_, bus, url := newTestServer(t)
	conn := dial(t, url)
	readFrame(t, conn) // connected

	_, err := bus.EmitChannelMessage("other-channel", "u1", "hello", "", "test", nil)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var f map[string]any
	err = conn.ReadJSON(&f)
	assert.Error(t, err, "no frame should have been delivered for an unsubscribed channel")
}

func TestMinionSpawnedBroadcastsToAllClients(t *testing.T) {
	_, bus, url := newTestServer(t)
	conn := dial(t, url)
	readFrame(t, conn) // connected

	_, err := bus.Emit(coremodel.EventMinionSpawned, map[string]any{"minion_id": "m1"}, nil, "test")
	require.NoError(t, err)

	f := readFrame(t, conn)
	assert.Equal(t, "minion_spawned", f["type"])
}

func TestTaskEventsUseUnifiedFrameType(t *testing.T) {
	_, bus, url := newTestServer(t)
	conn := dial(t, url)
	readFrame(t, conn) // connected

	_, err := bus.Emit(coremodel.EventTaskCompleted, map[string]any{"task_id": "t1"}, nil, "test")
	require.NoError(t, err)

	f := readFrame(t, conn)
	assert.Equal(t, "task_event", f["type"])
	assert.Equal(t, "task.completed", f["event_type"])
	assert.Equal(t, "t1", f["task_id"])
}

func TestPingReceivesPong(t *testing.T) {
	_, _, url := newTestServer(t)
	conn := dial(t, url)
	readFrame(t, conn) // connected

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	f := readFrame(t, conn)
	assert.Equal(t, "pong", f["type"])
}

func TestGetSubscriptionsReturnsCurrentSets(t *testing.T) {
	_, _, url := newTestServer(t)
	conn := dial(t, url)
	readFrame(t, conn) // connected

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "subscribe_channel", "channel_id": "c1"}))
	readFrame(t, conn) // subscribed

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "get_subscriptions"}))
	f := readFrame(t, conn)
	assert.Equal(t, "subscriptions", f["type"])
	channels, ok := f["channels"].([]any)
	require.True(t, ok)
	assert.Contains(t, channels, "c1")
}

func TestUnknownCommandReturnsError(t *testing.T) {
	_, _, url := newTestServer(t)
	conn := dial(t, url)
	readFrame(t, conn) // connected

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "bogus"}))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f["type"])
}
