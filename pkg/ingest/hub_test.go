package ingest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialHub(t *testing.T, hub *Hub, deviceID int64) (*websocket.Conn, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		hub.Add(deviceID, conn)
		close(registered)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-registered

	return client, func() {
		_ = client.Close()
		srv.Close()
	}
}

func TestHubBroadcastRoundTrip(t *testing.T) {
	hub := NewHub()
	client, cleanup := dialHub(t, hub, 1)
	defer cleanup()

	if hub.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", hub.Count())
	}

	hub.Broadcast(1, []byte(`{"hello":"world"}`))

	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("reading broadcast: %v", err)
	}
	if string(msg) != `{"hello":"world"}` {
		t.Errorf("message = %s", msg)
	}
}

func TestHubBroadcastIgnoresOtherDevices(t *testing.T) {
	hub := NewHub()
	client, cleanup := dialHub(t, hub, 1)
	defer cleanup()

	hub.Broadcast(2, []byte(`{"other":"device"}`))

	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := client.ReadMessage(); err == nil {
		t.Error("received a broadcast targeted at another device")
	}
}

func TestHubRemove(t *testing.T) {
	hub := NewHub()
	_, cleanup := dialHub(t, hub, 1)
	defer cleanup()

	hub.mu.Lock()
	var conn *websocket.Conn
	for c := range hub.clients[1] {
		conn = c
	}
	hub.mu.Unlock()

	hub.Remove(1, conn)
	if hub.Count() != 0 {
		t.Errorf("Count() after remove = %d, want 0", hub.Count())
	}

	// Removing twice is a no-op.
	hub.Remove(1, conn)
	if hub.Count() != 0 {
		t.Errorf("Count() after double remove = %d, want 0", hub.Count())
	}
}
