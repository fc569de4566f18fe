package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoServer is a minimal invocation-aware websocket peer: it replies to
// every invocation with an ack envelope and can push named events.
type echoServer struct {
	upgrader websocket.Upgrader
	pushOn   string // when this method is invoked, also push pushEvent
	pushEnv  Envelope
}

func (s *echoServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}

		reply := Envelope{Type: env.Type + "Result", EventID: env.EventID}
		if env.Type == "Boom" {
			reply.Error = "server exploded"
		} else {
			reply.Data = env.Data
		}
		if err := conn.WriteJSON(reply); err != nil {
			return
		}

		if s.pushOn != "" && env.Type == s.pushOn {
			if err := conn.WriteJSON(s.pushEnv); err != nil {
				return
			}
		}
	}
}

func startTestServer(t *testing.T, srv *echoServer) (string, func()) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handler))
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	return url, ts.Close
}

func openChannel(t *testing.T, url string) Channel {
	t.Helper()
	factory := &WebSocketFactory{URL: url}
	ch, err := factory.Open(context.Background(), "token")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return ch
}

func TestWebSocketChannel(t *testing.T) {
	t.Run("connect and state", func(t *testing.T) {
		url, closeSrv := startTestServer(t, &echoServer{})
		defer closeSrv()

		ch := openChannel(t, url)
		defer ch.Stop()

		if ch.State() != Connected {
			t.Errorf("Expected Connected, got %q", ch.State())
		}
	})

	t.Run("invoke round-trip", func(t *testing.T) {
		url, closeSrv := startTestServer(t, &echoServer{})
		defer closeSrv()

		ch := openChannel(t, url)
		defer ch.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		data, err := ch.Invoke(ctx, InvokeJoinRoom, 42)
		if err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}

		var args []int
		if err := json.Unmarshal(data, &args); err != nil {
			t.Fatalf("Failed to decode echo: %v", err)
		}
		if len(args) != 1 || args[0] != 42 {
			t.Errorf("Expected args echoed back, got %v", args)
		}
	})

	t.Run("invoke surfaces server error", func(t *testing.T) {
		url, closeSrv := startTestServer(t, &echoServer{})
		defer closeSrv()

		ch := openChannel(t, url)
		defer ch.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		if _, err := ch.Invoke(ctx, "Boom"); err == nil {
			t.Error("Expected error from failing invocation")
		}
	})

	t.Run("named event dispatch", func(t *testing.T) {
		payload, _ := json.Marshal(map[string]any{"id": "1", "content": "hi"})
		url, closeSrv := startTestServer(t, &echoServer{
			pushOn:  InvokeJoinRoom,
			pushEnv: Envelope{Type: EventReceiveMessage, Data: payload},
		})
		defer closeSrv()

		ch := openChannel(t, url)
		defer ch.Stop()

		received := make(chan json.RawMessage, 1)
		ch.On(EventReceiveMessage, func(data json.RawMessage) {
			received <- data
		})

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := ch.Invoke(ctx, InvokeJoinRoom, 1); err != nil {
			t.Fatalf("Invoke failed: %v", err)
		}

		select {
		case data := <-received:
			var msg map[string]any
			json.Unmarshal(data, &msg)
			if msg["content"] != "hi" {
				t.Errorf("Unexpected event payload %v", msg)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for pushed event")
		}
	})

	t.Run("off removes handler", func(t *testing.T) {
		url, closeSrv := startTestServer(t, &echoServer{})
		defer closeSrv()

		ch := openChannel(t, url)
		defer ch.Stop()

		ch.On(EventTyping, func(json.RawMessage) { t.Error("Handler should be removed") })
		ch.Off(EventTyping)
		// Nothing to assert beyond the handler not firing; the push path is
		// covered above.
	})

	t.Run("stop is idempotent and fails further invokes", func(t *testing.T) {
		url, closeSrv := startTestServer(t, &echoServer{})
		defer closeSrv()

		ch := openChannel(t, url)
		if err := ch.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
		if err := ch.Stop(); err != nil {
			t.Fatalf("Second Stop failed: %v", err)
		}
		if ch.State() != Disconnected {
			t.Errorf("Expected Disconnected, got %q", ch.State())
		}
		if _, err := ch.Invoke(context.Background(), InvokeUserIsActive, 1); err == nil {
			t.Error("Expected invoke on stopped channel to fail")
		}
	})

	t.Run("reconnect hands the socket to a fresh writer", func(t *testing.T) {
		// The first connection answers one invocation and then drops without
		// a close frame. The channel must reconnect and route traffic over
		// the replacement; the writer for the dead socket has to be gone by
		// then or it would steal outbound envelopes.
		var mu sync.Mutex
		conns := 0
		srv := &echoServer{}
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			conns++
			first := conns == 1
			mu.Unlock()
			if !first {
				srv.handler(w, r)
				return
			}
			conn, err := srv.upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			var env Envelope
			if conn.ReadJSON(&env) == nil {
				conn.WriteJSON(Envelope{Type: env.Type + "Result", EventID: env.EventID, Data: env.Data})
			}
			conn.Close()
		}))
		defer ts.Close()
		url := "ws" + strings.TrimPrefix(ts.URL, "http")

		ch := openChannel(t, url)
		defer ch.Stop()

		reconnected := make(chan struct{}, 1)
		ch.On(EventReconnected, func(json.RawMessage) { reconnected <- struct{}{} })

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err := ch.Invoke(ctx, InvokeJoinRoom, 42)
		cancel()
		if err != nil {
			t.Fatalf("Invoke before drop failed: %v", err)
		}

		select {
		case <-reconnected:
		case <-time.After(10 * time.Second):
			t.Fatal("Timed out waiting for reconnect")
		}
		if ch.State() != Connected {
			t.Errorf("Expected Connected after reconnect, got %q", ch.State())
		}

		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := ch.Invoke(ctx, InvokeUserIsActive, 42); err != nil {
			t.Fatalf("Invoke after reconnect failed: %v", err)
		}
	})

	t.Run("dial failure maps to ErrConnect", func(t *testing.T) {
		factory := &WebSocketFactory{URL: "ws://127.0.0.1:1/nope"}
		ch, err := factory.Open(context.Background(), "")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := ch.Start(ctx); err == nil {
			t.Error("Expected Start to fail against a dead endpoint")
		}
	})
}
