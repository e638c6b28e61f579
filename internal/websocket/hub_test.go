package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestHubBroadcastToChannel(t *testing.T) {
	hub := NewHub()
	admin := &Client{send: make(chan []byte, 1)}
	other := &Client{send: make(chan []byte, 1)}
	hub.Register(AdminChannel, admin)
	hub.Register("user-1", other)

	if err := hub.Broadcast(AdminChannel, map[string]string{"kind": "obligation_blocked"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case msg := <-admin.send:
		if string(msg) != `{"kind":"obligation_blocked"}` {
			t.Fatalf("unexpected payload: %s", msg)
		}
	default:
		t.Fatalf("expected admin client to receive message")
	}
	if len(other.send) != 0 {
		t.Fatalf("other channel must not receive message")
	}
}

func TestHubDropsWhenClientIsSlow(t *testing.T) {
	hub := NewHub()
	client := &Client{send: make(chan []byte)}
	hub.Register(AdminChannel, client)
	done := make(chan struct{})
	go func() {
		_ = hub.Broadcast(AdminChannel, "x")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("broadcast blocked on slow client")
	}
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()
	client := &Client{send: make(chan []byte, 1)}
	hub.Register("user-1", client)
	hub.Unregister("user-1", client)
	hub.Unregister("missing", client)
	if hub.Subscribers("user-1") != 0 {
		t.Fatalf("expected no subscribers")
	}
}

func TestServeWSStreamsEvents(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWS(w, r, hub, AdminChannel)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers(AdminChannel) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := hub.Broadcast(AdminChannel, map[string]int{"n": 1}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != `{"n":1}` {
		t.Fatalf("unexpected message: %s", msg)
	}
}
