// Package api tests for the websocket hub and router.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/timeaudit/internal/models"
	syncpkg "github.com/kimhsiao/timeaudit/internal/sync"
)

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_NotifyBroadcastsEvent(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn := dialHub(t, hub)

	hub.Notify(syncpkg.Event{
		Type:      syncpkg.EventActivityConfirmed,
		Activity:  &models.PendingActivity{LocalID: "local-1", Text: "Shipped"},
		Timestamp: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC),
	})

	msg := readEnvelope(t, conn)
	assert.Equal(t, "activity.confirmed", msg["type"])
	data := msg["data"].(map[string]interface{})
	activity := data["activity"].(map[string]interface{})
	assert.Equal(t, "local-1", activity["localId"])
	assert.EqualValues(t, time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC).Unix(), msg["timestamp"])
}

func TestHub_SubscriptionFilters(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn := dialHub(t, hub)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"action": "subscribe",
		"events": []string{"sync.completed"},
	}))
	ack := readEnvelope(t, conn)
	assert.Equal(t, "subscribe_ack", ack["action"])

	hub.Notify(syncpkg.Event{Type: syncpkg.EventActivityQueued})
	hub.Notify(syncpkg.Event{Type: syncpkg.EventSyncCompleted, Result: &syncpkg.SyncResult{Attempted: 2, Confirmed: 2}})

	msg := readEnvelope(t, conn)
	assert.Equal(t, "sync.completed", msg["type"])
}

func TestHub_Ping(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	conn := dialHub(t, hub)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "ping"}))
	msg := readEnvelope(t, conn)
	assert.Equal(t, "pong", msg["action"])
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub()
	conn := dialHub(t, hub)

	hub.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Broadcasting after close must not block.
	hub.Broadcast("sync.started", nil)
}

func TestIsLoopbackOrigin(t *testing.T) {
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:8787", true},
		{"http://127.0.0.1:3000", true},
		{"http://[::1]:3000", true},
		{"https://example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, isLoopbackOrigin(req), tt.origin)
	}
}
