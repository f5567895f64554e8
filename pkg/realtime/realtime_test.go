package realtime

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/pkg/logger"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestEmitReachesRoomMembersOnly(t *testing.T) {
	hub := NewHub(8, logger.Discard())
	srv := httptest.NewServer(NewHandler(hub, nil, logger.Discard()))
	defer srv.Close()

	member := dial(t, srv)
	outsider := dial(t, srv)
	require.NoError(t, member.WriteJSON(ClientFrame{Type: "join", RoomID: "room-1"}))
	require.NoError(t, outsider.WriteJSON(ClientFrame{Type: "join", RoomID: "room-2"}))
	require.Eventually(t, func() bool {
		return hub.RoomSize("room-1") == 1 && hub.RoomSize("room-2") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Emit("room-1", EventMessageBroadcast, map[string]any{"text": "hi"}))

	_ = member.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := member.ReadMessage()
	require.NoError(t, err)
	var f struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &f))
	assert.Equal(t, EventMessageBroadcast, f.Event)
	assert.Equal(t, "hi", f.Data["text"])

	_ = outsider.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _, err = outsider.ReadMessage()
	assert.Error(t, err)
}

func TestLeaveAndDisconnectEmptyRooms(t *testing.T) {
	hub := NewHub(8, logger.Discard())
	srv := httptest.NewServer(NewHandler(hub, nil, logger.Discard()))
	defer srv.Close()

	c := dial(t, srv)
	require.NoError(t, c.WriteJSON(ClientFrame{Type: "join", RoomID: "r"}))
	require.Eventually(t, func() bool { return hub.RoomSize("r") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.WriteJSON(ClientFrame{Type: "leave", RoomID: "r"}))
	require.Eventually(t, func() bool { return hub.RoomSize("r") == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.WriteJSON(ClientFrame{Type: "join", RoomID: "r"}))
	require.Eventually(t, func() bool { return hub.RoomSize("r") == 1 }, 2*time.Second, 10*time.Millisecond)
	_ = c.Close()
	require.Eventually(t, func() bool { return hub.RoomSize("r") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFullQueueDropsFrames(t *testing.T) {
	hub := NewHub(1, logger.Discard())
	s := hub.register("s1")
	hub.Join(s, "r")

	require.NoError(t, hub.Emit("r", EventChannelCleared, nil))
	require.NoError(t, hub.Emit("r", EventChannelCleared, nil))
	assert.Len(t, s.send, 1)

	hub.unregister(s)
	assert.NoError(t, hub.Emit("r", EventChannelCleared, nil))
}

func TestOriginCheck(t *testing.T) {
	up := makeUpgrader([]string{"https://ui.example"})
	req := httptest.NewRequest("GET", "/socket", nil)
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://ui.example")
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, up.CheckOrigin(req))
}
