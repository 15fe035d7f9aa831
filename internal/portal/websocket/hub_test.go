package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/railops/railportal/internal/portal/events"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return env
}

func TestConnectGreeting(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)

	env := readEnvelope(t, conn)
	if env.Type != MsgConnected {
		t.Errorf("greeting type = %q, want connected", env.Type)
	}
	if env.ID == "" || env.Timestamp.IsZero() {
		t.Errorf("greeting missing id/timestamp: %+v", env)
	}

	waitFor(t, time.Second, func() bool { return hub.Connected() == 1 })
}

func TestBroadcastReachesAllClients(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	c1 := dial(t, srv)
	c2 := dial(t, srv)
	readEnvelope(t, c1) // greetings
	readEnvelope(t, c2)
	waitFor(t, time.Second, func() bool { return hub.Connected() == 2 })

	hub.Broadcast(MsgNewAlert, 5, map[string]any{"title": "overcrowding"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		env := readEnvelope(t, conn)
		if env.Type != MsgNewAlert {
			t.Errorf("type = %q, want new_alert", env.Type)
		}
		if env.StationID != 5 {
			t.Errorf("stationId = %d, want 5", env.StationID)
		}
	}
}

func TestSubscriptionConfirmedSameConnOnly(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	subscriber := dial(t, srv)
	other := dial(t, srv)
	readEnvelope(t, subscriber)
	readEnvelope(t, other)
	waitFor(t, time.Second, func() bool { return hub.Connected() == 2 })

	if err := subscriber.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"subscribe_station","stationId":3}`)); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, subscriber)
	if env.Type != MsgSubscriptionConfirmed || env.StationID != 3 {
		t.Errorf("ack = %+v, want subscription_confirmed for station 3", env)
	}

	// the other client gets nothing
	other.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Error("subscription ack leaked to another client")
	}
}

func TestSubscriptionDoesNotFilterBroadcasts(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readEnvelope(t, conn)
	waitFor(t, time.Second, func() bool { return hub.Connected() == 1 })

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribe_station","stationId":3}`))
	readEnvelope(t, conn) // ack

	// broadcast for a different station still arrives
	hub.Broadcast(MsgCrowdUpdate, 9, nil)

	env := readEnvelope(t, conn)
	if env.Type != MsgCrowdUpdate || env.StationID != 9 {
		t.Errorf("env = %+v, want crowd_update for station 9", env)
	}
}

func TestMalformedInboundIgnored(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readEnvelope(t, conn)
	waitFor(t, time.Second, func() bool { return hub.Connected() == 1 })

	conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))

	// connection stays up and still receives broadcasts
	hub.Broadcast(MsgNewAlert, 0, nil)
	env := readEnvelope(t, conn)
	if env.Type != MsgNewAlert {
		t.Errorf("type = %q, want new_alert", env.Type)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	readEnvelope(t, conn)
	waitFor(t, time.Second, func() bool { return hub.Connected() == 1 })

	conn.Close()
	waitFor(t, time.Second, func() bool { return hub.Connected() == 0 })

	// broadcasting with no clients is a no-op
	hub.Broadcast(MsgNewAlert, 0, nil)
}

func TestRunRelaysBusEvents(t *testing.T) {
	bus := events.NewBus(16)
	hub := NewHub(zap.NewNop(), bus)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	conn := dial(t, srv)
	readEnvelope(t, conn)
	waitFor(t, time.Second, func() bool { return hub.Connected() == 1 })
	waitFor(t, time.Second, func() bool { return bus.SubscriberCount() == 1 })

	bus.Publish(events.Event{
		Type:      events.AlertCreated,
		StationID: 4,
		Detail:    map[string]any{"title": "signal failure"},
	})

	env := readEnvelope(t, conn)
	if env.Type != MsgNewAlert {
		t.Errorf("type = %q, want new_alert", env.Type)
	}
	if env.StationID != 4 {
		t.Errorf("stationId = %d, want 4", env.StationID)
	}
}

func TestBroadcastHookCounts(t *testing.T) {
	hub := NewHub(zap.NewNop(), nil)

	var types []string
	hub.SetBroadcastHook(func(msgType string) { types = append(types, msgType) })

	hub.Broadcast(MsgNewAlert, 0, nil)
	hub.Broadcast(MsgCrowdUpdate, 0, nil)

	if len(types) != 2 || types[0] != MsgNewAlert || types[1] != MsgCrowdUpdate {
		t.Errorf("hook calls = %v", types)
	}
}
