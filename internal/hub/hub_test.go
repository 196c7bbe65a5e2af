package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestBroadcastFansOutToConnectedClients(t *testing.T) {
	h := New(zap.NewNop())
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnect))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer conn1.Close()
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer conn2.Close()

	// Give the register messages time to be processed by Run's loop.
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(Event{Type: "run.started", JobID: "j1", Payload: map[string]any{"runId": 1}})

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ReadMessage: %v", err)
		}
		if !strings.Contains(string(msg), "run.started") {
			t.Fatalf("message = %s, want it to contain run.started", msg)
		}
	}
}

func TestUnregisterOnDisconnectStopsDelivery(t *testing.T) {
	h := New(zap.NewNop())
	go h.Run()

	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnect))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	time.Sleep(50 * time.Millisecond)

	// Broadcasting after the only client disconnected should not panic or
	// block; there is nothing left to assert on the receiving end.
	h.Broadcast(Event{Type: "run.finished", JobID: "j1", Payload: nil})
	time.Sleep(50 * time.Millisecond)
}

// HandleConnect assigns each client a fresh uuid before handing it to Run,
// so read the register channel directly instead of starting Run (which
// would race the test goroutine over h.clients).
func TestConnectedClientsGetDistinctIDs(t *testing.T) {
	h := New(zap.NewNop())

	srv := httptest.NewServer(http.HandlerFunc(h.HandleConnect))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn1, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial 1: %v", err)
	}
	defer conn1.Close()

	var c1 *client
	select {
	case c1 = <-h.register:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first client registration")
	}

	conn2, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial 2: %v", err)
	}
	defer conn2.Close()

	var c2 *client
	select {
	case c2 = <-h.register:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second client registration")
	}

	if c1.id == "" || c2.id == "" {
		t.Fatalf("client ids = %q, %q, want both non-empty", c1.id, c2.id)
	}
	if c1.id == c2.id {
		t.Fatalf("client ids = %q, %q, want distinct", c1.id, c2.id)
	}
}
