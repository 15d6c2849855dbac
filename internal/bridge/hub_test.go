package bridge

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastWithoutClients(t *testing.T) {
	h := NewHub()
	if _, err := h.Broadcast(Message{Type: TypeCancel}); !errors.Is(err, ErrNoClients) {
		t.Fatalf("Broadcast() error = %v, want ErrNoClients", err)
	}
}

func TestBroadcastDeliversInOrder(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	a := dial(t, srv)
	b := dial(t, srv)
	waitClients(t, h, 2)

	if n, err := h.Broadcast(Message{Type: TypeCancel}); err != nil || n != 2 {
		t.Fatalf("Broadcast(cancel) = %d, %v", n, err)
	}
	if n, err := h.Broadcast(Message{Type: TypeSpeak, Text: "HELLO WORLD", Rate: 1, Volume: 1}); err != nil || n != 2 {
		t.Fatalf("Broadcast(speak) = %d, %v", n, err)
	}

	for _, conn := range []*websocket.Conn{a, b} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var first, second Message
		if err := conn.ReadJSON(&first); err != nil {
			t.Fatalf("read: %v", err)
		}
		if err := conn.ReadJSON(&second); err != nil {
			t.Fatalf("read: %v", err)
		}
		if first.Type != TypeCancel || second.Type != TypeSpeak || second.Text != "HELLO WORLD" || second.Volume != 1 {
			t.Fatalf("unexpected messages %+v %+v", first, second)
		}
	}
}

func TestClientUnregistersOnClose(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv)
	waitClients(t, h, 1)
	conn.Close()
	waitClients(t, h, 0)
}
