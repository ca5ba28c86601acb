package dispatch

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func wsPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		conns <- c
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	return <-conns, client
}

func TestWSNotifyDelivers(t *testing.T) {
	server, client := wsPair(t)
	reg := NewWSRegistry()
	reg.Add("d1", server)

	if err := reg.Notify("d1", map[string]any{"type": "ride_request", "ride_id": "r1"}); err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := client.ReadJSON(&got); err != nil {
		t.Fatal(err)
	}
	if got["ride_id"] != "r1" {
		t.Fatalf("received %v", got)
	}

	if err := reg.Notify("nobody", nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
}

func TestWSNotifyEvictsDeadSession(t *testing.T) {
	server, _ := wsPair(t)
	reg := NewWSRegistry()
	reg.Add("d1", server)
	server.Close()

	if err := reg.Notify("d1", map[string]any{"type": "ride_request"}); err == nil {
		t.Fatal("expected write error on closed connection")
	}
	// The dead session is gone; the driver is bus-only until reconnect.
	if err := reg.Notify("d1", map[string]any{"type": "ride_request"}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession after eviction, got %v", err)
	}
}
