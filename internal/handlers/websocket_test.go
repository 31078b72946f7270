package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"headset_monitor/internal/models"
	"headset_monitor/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type envelope struct {
	Type     string          `json:"type"`
	DeviceID string          `json:"device_id"`
	Data     json.RawMessage `json:"data"`
	Hostname string          `json:"hostname"`
}

func dialStream(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", h.wsConnect)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"

	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, got %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWebSocket_InitThenBroadcast(t *testing.T) {
	mon := &mockMonitoring{state: models.SystemState{
		Hostname:   "desk-pc",
		Registered: []models.Device{{ID: "hs_1", Color: "blue", Number: 1}},
	}}
	hub := NewHub(nil)
	h := NewHandler(&service.Service{Monitoring: mon}, hub, nil)
	conn := dialStream(t, h)

	// Read init message
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read init: %v", err)
	}
	if env.Type != wsInitType || env.Hostname != "desk-pc" {
		t.Fatalf("bad init envelope: %+v", env)
	}
	var st models.SystemState
	if err := json.Unmarshal(env.Data, &st); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	if len(st.Registered) != 1 || st.Registered[0].ID != "hs_1" {
		t.Fatalf("unexpected state: %+v", st)
	}

	waitForClients(t, hub, 1)

	// Events arrive in publish order
	hub.Notify(models.Event{Type: models.EventTurnedOn, DeviceID: "hs_1", Hostname: "desk-pc"})
	hub.Notify(models.Event{Type: models.EventChargingStarted, DeviceID: "hs_1", Hostname: "desk-pc"})

	for _, want := range []models.EventType{models.EventTurnedOn, models.EventChargingStarted} {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		env = envelope{}
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read event: %v", err)
		}
		if env.Type != string(want) || env.DeviceID != "hs_1" {
			t.Fatalf("expected %s, got %+v", want, env)
		}
	}
}

func TestWebSocket_DetachOnClose(t *testing.T) {
	hub := NewHub(nil)
	h := NewHandler(&service.Service{Monitoring: &mockMonitoring{}}, hub, nil)
	conn := dialStream(t, h)

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read init: %v", err)
	}
	waitForClients(t, hub, 1)

	_ = conn.Close()
	waitForClients(t, hub, 0)

	// broadcasting with no clients is a no-op
	hub.Notify(models.Event{Type: models.EventRemoved})
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub(nil)
	c, err := hub.attach(models.Event{Type: wsInitType})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	defer hub.detach(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < clientSendBuffer*2; i++ {
			hub.Notify(models.Event{Type: models.EventStateUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Notify blocked on a full client buffer")
	}
	if len(c.send) != clientSendBuffer {
		t.Fatalf("expected full buffer of %d, got %d", clientSendBuffer, len(c.send))
	}
}
