package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	return hub, server, cancel
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d subscribers, have %d", n, hub.ClientCount())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsToSubscribers(t *testing.T) {
	hub, server, cancel := startHub(t)
	defer server.Close()
	defer cancel()

	first := dial(t, server)
	defer first.Close()
	second := dial(t, server)
	defer second.Close()
	waitForClients(t, hub, 2)

	hub.Publish(Event{
		Type:         TypePhotoVerification,
		RequestID:    "req-1",
		UserID:       "user-1",
		Verified:     true,
		TokensEarned: 25,
		ActionType:   "solar_panel",
	})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		if err := conn.ReadJSON(&got); err != nil {
			t.Fatalf("read failed: %v", err)
		}
		if got.RequestID != "req-1" || got.TokensEarned != 25 || !got.Verified || got.ActionType != "solar_panel" {
			t.Fatalf("unexpected event %+v", got)
		}
		if got.CreatedAt.IsZero() {
			t.Fatal("expected created_at to be set")
		}
	}
}

func TestHubForgetsClosedSubscribers(t *testing.T) {
	hub, server, cancel := startHub(t)
	defer server.Close()
	defer cancel()

	conn := dial(t, server)
	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub(zap.NewNop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < broadcastSize*2; i++ {
			hub.Publish(Event{Type: TypeSatelliteComparison, RequestID: "r"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked with a full queue")
	}
}

func TestHubStopsOnCancel(t *testing.T) {
	hub, server, cancel := startHub(t)
	defer server.Close()

	conn := dial(t, server)
	defer conn.Close()
	waitForClients(t, hub, 1)

	cancel()
	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("expected subscribers to be dropped, have %d", hub.ClientCount())
	}
}

func TestHubDisconnectsStalledSubscriber(t *testing.T) {
	hub, server, cancel := startHub(t)
	defer server.Close()
	defer cancel()

	healthy := dial(t, server)
	defer healthy.Close()
	waitForClients(t, hub, 1)

	// never drained, so its buffer fills
	stalled := &subscriber{send: make(chan []byte, sendBuffer)}
	hub.register <- stalled
	waitForClients(t, hub, 2)

	for i := 0; i <= sendBuffer; i++ {
		hub.Publish(Event{Type: TypePhotoVerification, RequestID: "req"})
		healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
		var got Event
		if err := healthy.ReadJSON(&got); err != nil {
			t.Fatalf("healthy subscriber missed event %d: %v", i, err)
		}
	}

	waitForClients(t, hub, 1)
	if _, ok := <-drain(stalled.send); ok {
		t.Fatal("expected stalled subscriber's queue to be closed")
	}
}

// drain empties ch and returns it so the caller can observe closure.
func drain(ch chan []byte) chan []byte {
	for len(ch) > 0 {
		<-ch
	}
	return ch
}
