package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SimplyPrint/pcsc-agent/internal/config"
	"github.com/SimplyPrint/pcsc-agent/internal/monitor"
	"github.com/SimplyPrint/pcsc-agent/internal/native"
	"github.com/SimplyPrint/pcsc-agent/internal/native/nativetest"
)

func TestNewWSHub(t *testing.T) {
	hub := NewWSHub()

	if hub == nil {
		t.Fatal("NewWSHub() returned nil")
	}
	if hub.clients == nil {
		t.Error("clients map should be initialized")
	}
	if hub.broadcast == nil {
		t.Error("broadcast channel should be initialized")
	}
	if hub.register == nil || hub.unregister == nil {
		t.Error("register channels should be initialized")
	}
}

func TestWSHub_RegisterAndUnregister(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := &WSClient{send: make(chan []byte, sendBuffer), hub: hub}

	hub.register <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client, got %d", hub.ClientCount())
	}

	hub.unregister <- client
	time.Sleep(10 * time.Millisecond)
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel should be closed after unregister")
	}

	// Sending to a dropped client is a no-op rather than a panic.
	client.sendResponse("", "pong", nil)
}

func TestWSHub_Broadcast(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	clients := make([]*WSClient, 3)
	for i := range clients {
		clients[i] = &WSClient{send: make(chan []byte, sendBuffer), hub: hub}
		hub.register <- clients[i]
	}

	testMsg := []byte(`{"type":"test"}`)
	hub.Broadcast(testMsg)

	for i, client := range clients {
		select {
		case msg := <-client.send:
			if string(msg) != string(testMsg) {
				t.Errorf("client %d received wrong message", i)
			}
		case <-time.After(time.Second):
			t.Errorf("client %d did not receive message", i)
		}
	}
}

func TestWSHub_DropsSlowClient(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	slow := &WSClient{send: make(chan []byte), hub: hub}
	hub.register <- slow
	hub.Broadcast([]byte(`{"type":"test"}`))

	deadline := time.Now().Add(time.Second)
	for hub.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() != 0 {
		t.Error("slow client was not dropped")
	}
}

func TestWSHub_StopClosesClients(t *testing.T) {
	hub := NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	client := &WSClient{send: make(chan []byte, sendBuffer), hub: hub}
	hub.register <- client
	cancel()

	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	if _, ok := <-client.send; ok {
		t.Error("client channel still open after hub stopped")
	}
}

func TestWSClient_handleMessage(t *testing.T) {
	tests := []struct {
		msgType  string
		wantType string
	}{
		{"ping", "pong"},
		{"version", "version"},
		{"list_readers", "error"}, // no monitor attached
		{"unknown_type", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.msgType, func(t *testing.T) {
			client := &WSClient{send: make(chan []byte, sendBuffer)}
			client.handleMessage(WSMessage{Type: tt.msgType, ID: "test-id"})

			select {
			case resp := <-client.send:
				var decoded WSMessage
				if err := json.Unmarshal(resp, &decoded); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				if decoded.Type != tt.wantType {
					t.Errorf("expected type %q, got %q", tt.wantType, decoded.Type)
				}
				if decoded.ID != "test-id" {
					t.Errorf("expected ID 'test-id', got %q", decoded.ID)
				}
			case <-time.After(time.Second):
				t.Error("timeout waiting for response")
			}
		})
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return msg
}

func TestWebSocket_StreamsMonitorEvents(t *testing.T) {
	release := make(chan struct{})
	f := nativetest.New("Reader A")
	step := 0
	f.StatusChange = func(states []native.ReaderState) native.Code {
		for i := range states {
			states[i].EventState = states[i].CurrentState &^ native.StateChanged
		}
		step++
		if step > 1 {
			time.Sleep(time.Millisecond)
			return native.ETimeout
		}
		<-release
		for i := range states {
			if states[i].ReaderName() == "Reader A" {
				states[i].EventState = native.StateChanged | native.StatePresent | 1<<16
				states[i].AtrLen = uint32(copy(states[i].Atr[:], []byte{0x3B, 0x00}))
			}
		}
		return native.Success
	}

	cfg := config.Default()
	mon := monitor.New(f, monitor.Config{Scope: cfg.Scope, PollTimeout: 10 * time.Millisecond})
	s := NewServer(f, cfg, mon)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	monDone := make(chan error, 1)
	go func() { monDone <- mon.Run(ctx) }()
	go s.hub.Run(ctx)
	id, events := mon.Subscribe(0)
	go s.forwardEvents(ctx, id, events)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		close(release)
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	snapshot := readMessage(t, conn)
	close(release)
	if snapshot.Type != "readers" {
		t.Fatalf("expected readers snapshot first, got %q", snapshot.Type)
	}

	msg := readMessage(t, conn)
	if msg.Type != "event" {
		t.Fatalf("expected event message, got %q", msg.Type)
	}
	var ev monitor.Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev.Type != monitor.EventCardInserted || ev.Reader != "Reader A" || ev.ATR != "3b00" {
		t.Errorf("unexpected event %+v", ev)
	}

	if err := conn.WriteJSON(WSMessage{Type: "list_readers", ID: "r1"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	reply := readMessage(t, conn)
	if reply.Type != "readers" || reply.ID != "r1" {
		t.Errorf("unexpected reply %+v", reply)
	}
	var readers []monitor.ReaderStatus
	if err := json.Unmarshal(reply.Payload, &readers); err != nil || len(readers) != 1 || !readers[0].CardPresent {
		t.Errorf("unexpected readers %s (%v)", reply.Payload, err)
	}

	cancel()
	select {
	case err := <-monDone:
		if err != nil {
			t.Errorf("monitor Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("monitor did not stop")
	}
}

func TestWebSocket_RefusesForeignOrigin(t *testing.T) {
	cfg := config.Default()
	cfg.AllowedOrigins = []string{"https://simplyprint.io"}
	s := NewServer(nativetest.New(), cfg, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.hub.Run(ctx)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/ws"

	header := http.Header{"Origin": []string{"https://evil.example"}}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		conn.Close()
		t.Fatal("expected foreign origin to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected status 403, got %v", resp)
	}

	header.Set("Origin", "https://simplyprint.io")
	conn, _, err = websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	conn.Close()
}
