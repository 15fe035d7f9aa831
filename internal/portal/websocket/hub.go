// Package websocket manages dashboard WebSocket connections and fans domain
// events out to every connected client.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/railops/railportal/internal/portal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// CheckOrigin allows all origins. Session auth runs before upgrade in the
	// HTTP middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the wire format for outbound dashboard messages.
type Envelope struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	StationID int64     `json:"stationId,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Outbound message types.
const (
	MsgConnected             = "connected"
	MsgSubscriptionConfirmed = "subscription_confirmed"
	MsgNewAlert              = "new_alert"
	MsgAlertUpdated          = "alert_updated"
	MsgCrowdUpdate           = "crowd_update"
	MsgMedicalEmergency      = "medical_emergency"
	MsgSafetyIncident        = "safety_incident"
)

// clientConn is one connected dashboard client.
type clientConn struct {
	conn      *websocket.Conn
	connected time.Time
	mu        sync.Mutex
}

func (c *clientConn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub manages all connected dashboard clients. Every broadcast goes to every
// client; filtering is the client's job.
type Hub struct {
	clients map[*clientConn]struct{}
	mu      sync.RWMutex
	logger  *zap.Logger
	bus     *events.Bus

	onBroadcast func(msgType string) // metrics hook
}

// NewHub creates a dashboard hub. bus may be nil when events are fed in by
// hand (tests).
func NewHub(logger *zap.Logger, bus *events.Bus) *Hub {
	return &Hub{
		clients: make(map[*clientConn]struct{}),
		logger:  logger.Named("websocket"),
		bus:     bus,
	}
}

// SetBroadcastHook installs a callback invoked once per broadcast, after the
// fan-out.
func (h *Hub) SetBroadcastHook(fn func(msgType string)) {
	h.onBroadcast = fn
}

// Run subscribes to the event bus and relays domain events to all clients
// until ctx is cancelled. Call in a goroutine.
func (h *Hub) Run(ctx context.Context) {
	if h.bus == nil {
		return
	}

	id := "hub-" + uuid.NewString()
	ch := h.bus.Subscribe(id)
	defer h.bus.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			msgType, known := messageType(evt.Type)
			if !known {
				continue
			}
			h.Broadcast(msgType, evt.StationID, evt.Detail)
		}
	}
}

// Broadcast sends one message to every connected client. A failed write skips
// that client; its read loop notices the dead connection and unregisters it.
func (h *Hub) Broadcast(msgType string, stationID int64, data any) {
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		StationID: stationID,
		Data:      data,
	}

	h.mu.RLock()
	conns := make([]*clientConn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.writeJSON(env); err != nil {
			h.logger.Debug("broadcast write failed", zap.Error(err))
		}
	}

	if h.onBroadcast != nil {
		h.onBroadcast(msgType)
	}
}

// Connected returns the number of connected clients.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP lets the hub be mounted directly on a mux.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.HandleWS(w, r)
}

// HandleWS is the HTTP handler for dashboard WebSocket connections.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", zap.Error(err))
		return
	}

	cc := &clientConn{conn: conn, connected: time.Now().UTC()}

	h.mu.Lock()
	h.clients[cc] = struct{}{}
	h.mu.Unlock()

	h.logger.Info("client connected", zap.String("remote_addr", r.RemoteAddr))

	// Greeting goes to this client only.
	if err := cc.writeJSON(Envelope{
		ID:        uuid.NewString(),
		Type:      MsgConnected,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		h.logger.Warn("greeting write failed", zap.Error(err))
	}

	defer func() {
		conn.Close()
		h.mu.Lock()
		delete(h.clients, cc)
		h.mu.Unlock()
		h.logger.Info("client disconnected", zap.String("remote_addr", r.RemoteAddr))
	}()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	})
	_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			cc.mu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			cc.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleInbound(cc, msg)
	}
}

// inboundMessage is what dashboard clients may send us.
type inboundMessage struct {
	Type      string `json:"type"`
	StationID int64  `json:"stationId"`
}

// handleInbound processes one client message. Subscriptions are acknowledged
// to the sending client only; broadcasts still reach every client regardless
// of what anyone subscribed to.
func (h *Hub) handleInbound(cc *clientConn, raw []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Warn("invalid client message", zap.Error(err))
		return
	}

	switch msg.Type {
	case "subscribe_station":
		if err := cc.writeJSON(Envelope{
			ID:        uuid.NewString(),
			Type:      MsgSubscriptionConfirmed,
			Timestamp: time.Now().UTC(),
			StationID: msg.StationID,
		}); err != nil {
			h.logger.Debug("subscription ack failed", zap.Error(err))
		}
	default:
		h.logger.Warn("unknown client message type", zap.String("type", msg.Type))
	}
}

func messageType(t events.EventType) (string, bool) {
	switch t {
	case events.AlertCreated:
		return MsgNewAlert, true
	case events.AlertUpdated:
		return MsgAlertUpdated, true
	case events.CrowdUpdated:
		return MsgCrowdUpdate, true
	case events.MedicalReported:
		return MsgMedicalEmergency, true
	case events.SafetyReported:
		return MsgSafetyIncident, true
	default:
		return "", false
	}
}
