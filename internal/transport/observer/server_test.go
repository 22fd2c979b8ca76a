package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"savannah.ai/internal/observerproto"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(func() observerproto.HelloMsg {
		return observerproto.HelloMsg{
			Type:            "hello",
			ProtocolVersion: observerproto.Version,
			RunID:           "run-1",
			GridSize:        30,
			Seed:            42,
		}
	}, log.New(io.Discard, "", 0))
	ts := httptest.NewServer(s.WSHandler())
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func subscribe(t *testing.T, conn *websocket.Conn) observerproto.HelloMsg {
	t.Helper()
	sub := observerproto.SubscribeMsg{Type: "subscribe", ProtocolVersion: observerproto.Version}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var hello observerproto.HelloMsg
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&hello); err != nil {
		t.Fatalf("read hello: %v", err)
	}
	return hello
}

func TestSubscribeReceivesHelloAndTicks(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)

	hello := subscribe(t, conn)
	if hello.Type != "hello" || hello.RunID != "run-1" {
		t.Fatalf("hello = %+v", hello)
	}

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for s.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	s.Broadcast(observerproto.TickMsg{Type: "tick", ProtocolVersion: observerproto.Version, Tick: 3})

	var tick observerproto.TickMsg
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&tick); err != nil {
		t.Fatalf("read tick: %v", err)
	}
	if tick.Tick != 3 {
		t.Fatalf("tick = %+v", tick)
	}
}

func TestControlCommandsReachEngine(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)
	subscribe(t, conn)

	if err := conn.WriteJSON(observerproto.ControlMsg{Type: "control", Command: observerproto.CmdPause}); err != nil {
		t.Fatalf("write control: %v", err)
	}

	select {
	case ctl := <-s.Controls():
		if ctl.Command != observerproto.CmdPause {
			t.Fatalf("command = %q", ctl.Command)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("control not delivered")
	}
}

func TestBadSubscribeRejected(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected close after bad subscribe")
	}
}

func TestBroadcastDropsOldestWhenSlow(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dial(t, ts)
	subscribe(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for s.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Flood far past the per-subscriber buffer without reading.
	for i := 0; i < 100; i++ {
		s.Broadcast(observerproto.TickMsg{Type: "tick", ProtocolVersion: observerproto.Version, Tick: i})
	}

	// The client still gets frames, and the final frame it can reach
	// is the newest one.
	last := -1
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var tick observerproto.TickMsg
		if json.Unmarshal(b, &tick) == nil && tick.Type == "tick" {
			last = tick.Tick
			if last == 99 {
				break
			}
		}
	}
	if last != 99 {
		t.Fatalf("last delivered tick = %d, want 99", last)
	}
}

func TestDisconnectReleasesWriter(t *testing.T) {
	s, ts := newTestServer(t)

	before := runtime.NumGoroutine()
	conn := dial(t, ts)
	subscribe(t, conn)

	deadline := time.Now().Add(2 * time.Second)
	for s.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	for s.SubscriberCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := s.SubscriberCount(); n != 0 {
		t.Fatalf("subscribers after disconnect = %d, want 0", n)
	}

	// The per-subscriber writer goroutine must wind down with the
	// connection, not park on its send channel forever.
	deadline = time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := runtime.NumGoroutine(); n > before {
		t.Fatalf("goroutines after disconnect = %d, want <= %d", n, before)
	}

	// A later broadcast with no subscribers must be a no-op.
	s.Broadcast(observerproto.TickMsg{Type: "tick", ProtocolVersion: observerproto.Version, Tick: 1})
}
