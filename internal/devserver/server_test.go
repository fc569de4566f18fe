package devserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hoverchat/widget-engine/internal/backend"
	"github.com/hoverchat/widget-engine/internal/channel"
)

func startTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer()
	ts := httptest.NewServer(s.setupRoutes())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestCreateConversationAndHistoryRoundTrip(t *testing.T) {
	_, ts := startTestServer(t)
	client := backend.NewClient(ts.URL + "/api/v1")

	id, err := client.Create(context.Background(), "user-1", "bot-1", "s3cret", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id <= 0 {
		t.Fatalf("conversation id = %d, want positive", id)
	}

	raw, err := client.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raw) != 0 {
		t.Fatalf("fresh conversation history = %d messages, want 0", len(raw))
	}
}

func TestHistoryUnknownConversation(t *testing.T) {
	_, ts := startTestServer(t)
	client := backend.NewClient(ts.URL + "/api/v1")

	_, err := client.Fetch(context.Background(), 12345)
	if err == nil {
		t.Fatal("expected error for unknown conversation")
	}
}

func TestWebSocketJoinSendAndEcho(t *testing.T) {
	_, ts := startTestServer(t)
	client := backend.NewClient(ts.URL + "/api/v1")

	id, err := client.Create(context.Background(), "user-1", "bot-1", "s3cret", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	factory := &channel.WebSocketFactory{URL: wsURL}
	ch, err := factory.Open(context.Background(), "dev-token")
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("start channel: %v", err)
	}
	defer ch.Stop()

	echoed := make(chan map[string]any, 1)
	ch.On(channel.EventReceiveMessage, func(data json.RawMessage) {
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err == nil {
			echoed <- msg
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := ch.Invoke(ctx, channel.InvokeJoinRoom, id); err != nil {
		t.Fatalf("join room: %v", err)
	}

	ack, err := ch.Invoke(ctx, channel.InvokeSendMessage, map[string]any{
		"conversationId": id, "tempId": "tmp-1", "text": "hola",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	var acked map[string]any
	if err := json.Unmarshal(ack, &acked); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if acked["tempId"] != "tmp-1" {
		t.Fatalf("ack tempId = %v, want tmp-1", acked["tempId"])
	}
	if acked["status"] != "sent" {
		t.Fatalf("ack status = %v, want sent", acked["status"])
	}

	select {
	case msg := <-echoed:
		if got := msg["text"]; got != botReply+"hola" {
			t.Fatalf("echo text = %v, want %q", got, botReply+"hola")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for echo reply")
	}

	raw, err := client.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raw) != 2 {
		t.Fatalf("history = %d messages, want user message and echo", len(raw))
	}
}

func TestSaveWelcomeStoresBotID(t *testing.T) {
	_, ts := startTestServer(t)
	client := backend.NewClient(ts.URL + "/api/v1")

	id, err := client.Create(context.Background(), "user-1", "bot-1", "s3cret", false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	factory := &channel.WebSocketFactory{URL: wsURL}
	ch, err := factory.Open(context.Background(), "dev-token")
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("start channel: %v", err)
	}
	defer ch.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ch.Invoke(ctx, channel.InvokeSaveWelcomeMessage, map[string]any{
		"conversationId": id, "text": "hi there", "botId": "bot-1",
	}); err != nil {
		t.Fatalf("save welcome: %v", err)
	}

	raw, err := client.Fetch(context.Background(), id)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(raw) != 1 {
		t.Fatalf("history = %d messages, want the welcome", len(raw))
	}
	if got := raw[0]["botId"]; got != "bot-1" {
		t.Fatalf("stored botId = %v, want bot-1", got)
	}
	if got := raw[0]["sender"]; got != "bot" {
		t.Fatalf("stored sender = %v, want bot", got)
	}
}

func TestJoinUnknownConversationRejected(t *testing.T) {
	_, ts := startTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	factory := &channel.WebSocketFactory{URL: wsURL}
	ch, err := factory.Open(context.Background(), "")
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	if err := ch.Start(context.Background()); err != nil {
		t.Fatalf("start channel: %v", err)
	}
	defer ch.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ch.Invoke(ctx, channel.InvokeJoinRoom, 404); err == nil {
		t.Fatal("expected join of unknown conversation to fail")
	}
}
