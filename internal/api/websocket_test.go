package api

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/funnyzak/reqplay/pkg/capture"
)

func dialFeed(t *testing.T, serverURL string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForSubscribers(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d subscribers", want)
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return event
}

func TestWebsocketFeedBroadcastsEvents(t *testing.T) {
	svc, router, store := newTestService(t, nil, &stubExchanger{})

	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialFeed(t, server.URL)
	waitForSubscribers(t, svc.hub, 1)

	svc.hub.Broadcast(Event{Type: EventCaptured, Data: &capture.Record{ID: "req_1"}})
	event := readEvent(t, conn)
	if event.Type != EventCaptured {
		t.Fatalf("expected %q event, got %q", EventCaptured, event.Type)
	}
	data, ok := event.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data payload %T", event.Data)
	}
	if data["id"] != "req_1" {
		t.Fatalf("record id lost: %+v", data)
	}

	// Session updates arrive on the same feed.
	ids := seedRecords(store, 1)
	resp := doJSON(router, "POST", "/api/replay", map[string]interface{}{"request_id": ids[0]})
	if resp.Code != 200 {
		t.Fatalf("replay: status %d", resp.Code)
	}
	event = readEvent(t, conn)
	if event.Type != EventSessionUpdate {
		t.Fatalf("expected %q event, got %q", EventSessionUpdate, event.Type)
	}
}

func TestWebsocketFeedDropsClosedClients(t *testing.T) {
	svc, router, _ := newTestService(t, nil, &stubExchanger{})

	server := httptest.NewServer(router)
	defer server.Close()

	conn := dialFeed(t, server.URL)
	waitForSubscribers(t, svc.hub, 1)
	conn.Close()

	// The read loop observes the close and unregisters the client.
	waitForSubscribers(t, svc.hub, 0)

	svc.hub.Broadcast(Event{Type: EventMonitorChanged, Data: map[string]bool{"enabled": true}})
}
