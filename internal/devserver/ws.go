package devserver

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hoverchat/widget-engine/internal/channel"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	botReply    = "Echo: "
)

// wsClient is one connected widget session.
type wsClient struct {
	conn   *websocket.Conn
	server *Server
	send   chan channel.Envelope
	done   chan struct{}

	mu     sync.Mutex
	roomID int
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("devserver: websocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		conn:   conn,
		server: s,
		send:   make(chan channel.Envelope, 256),
		done:   make(chan struct{}),
	}
	log.Printf("devserver: websocket client connected")

	go client.writePump()
	go client.readPump()
}

func (c *wsClient) readPump() {
	defer func() {
		c.conn.Close()
		close(c.done)
		log.Printf("devserver: websocket client disconnected")
	}()

	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPingHandler(func(appData string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteWait))
	})

	for {
		var env channel.Envelope
		if err := c.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("devserver: websocket read: %v", err)
			}
			return
		}
		c.handleInvoke(env)
	}
}

func (c *wsClient) writePump() {
	for {
		select {
		case <-c.done:
			return
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(env); err != nil {
				log.Printf("devserver: websocket write: %v", err)
				return
			}
		}
	}
}

// handleInvoke services one client invocation and replies on the same event
// id. Replies match requests purely by event id; the type is informational.
func (c *wsClient) handleInvoke(env channel.Envelope) {
	var args []json.RawMessage
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &args); err != nil {
			c.reply(env, nil, "malformed arguments")
			return
		}
	}

	switch env.Type {
	case channel.InvokeJoinRoom:
		c.handleJoinRoom(env, args)
	case channel.InvokeUserIsActive:
		c.reply(env, json.RawMessage(`true`), "")
	case channel.InvokeSendMessage:
		c.handleSendMessage(env, args)
	case channel.InvokeSaveWelcomeMessage:
		c.handleSaveWelcome(env, args)
	default:
		c.reply(env, nil, "unknown method "+env.Type)
	}
}

func (c *wsClient) reply(req channel.Envelope, data json.RawMessage, errMsg string) {
	env := channel.Envelope{
		Type:    req.Type + "Result",
		EventID: req.EventID,
		Data:    data,
		Error:   errMsg,
	}
	select {
	case c.send <- env:
	case <-c.done:
	}
}

// push delivers a server-initiated event.
func (c *wsClient) push(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("devserver: encode %s push: %v", event, err)
		return
	}
	select {
	case c.send <- channel.Envelope{Type: event, Data: data}:
	case <-c.done:
	}
}

func (c *wsClient) handleJoinRoom(env channel.Envelope, args []json.RawMessage) {
	var id int
	if len(args) < 1 || json.Unmarshal(args[0], &id) != nil {
		c.reply(env, nil, "JoinRoom requires a conversation id")
		return
	}
	if !c.server.conversationExists(id) {
		c.reply(env, nil, "unknown conversation")
		return
	}

	c.mu.Lock()
	c.roomID = id
	c.mu.Unlock()

	log.Printf("devserver: client joined conversation %d", id)
	c.reply(env, json.RawMessage(`true`), "")
}

type sendMessageArgs struct {
	ConversationID int    `json:"conversationId"`
	TempID         string `json:"tempId"`
	Text           string `json:"text"`
}

// handleSendMessage acks the user's message, then has the echo bot answer it
// after a short typing pause.
func (c *wsClient) handleSendMessage(env channel.Envelope, args []json.RawMessage) {
	var p sendMessageArgs
	if len(args) < 1 || json.Unmarshal(args[0], &p) != nil {
		c.reply(env, nil, "SendMessage requires a message payload")
		return
	}
	if !c.server.conversationExists(p.ConversationID) {
		c.reply(env, nil, "unknown conversation")
		return
	}

	ack := map[string]any{
		"id":        uuid.NewString(),
		"tempId":    p.TempID,
		"text":      p.Text,
		"sender":    "user",
		"status":    "sent",
		"timestamp": time.Now().UnixMilli(),
	}
	c.server.appendMessage(p.ConversationID, ack)

	data, _ := json.Marshal(ack)
	c.reply(env, data, "")

	go c.echoReply(p.ConversationID, p.Text)
}

// echoReply simulates the bot side of the conversation.
func (c *wsClient) echoReply(conversationID int, text string) {
	c.push(channel.EventTyping, nil)
	time.Sleep(400 * time.Millisecond)
	c.push(channel.EventStopTyping, nil)

	msg := map[string]any{
		"id":        uuid.NewString(),
		"text":      botReply + text,
		"sender":    "bot",
		"status":    "sent",
		"timestamp": time.Now().UnixMilli(),
	}
	c.server.appendMessage(conversationID, msg)
	c.push(channel.EventReceiveMessage, msg)
}

type saveWelcomeArgs struct {
	ConversationID int    `json:"conversationId"`
	Text           string `json:"text"`
	BotID          string `json:"botId"`
}

func (c *wsClient) handleSaveWelcome(env channel.Envelope, args []json.RawMessage) {
	var p saveWelcomeArgs
	if len(args) < 1 || json.Unmarshal(args[0], &p) != nil {
		c.reply(env, nil, "SaveWelcomeMessage requires a payload")
		return
	}
	if !c.server.conversationExists(p.ConversationID) {
		c.reply(env, nil, "unknown conversation")
		return
	}

	c.server.appendMessage(p.ConversationID, map[string]any{
		"id":        uuid.NewString(),
		"text":      p.Text,
		"sender":    "bot",
		"botId":     p.BotID,
		"status":    "sent",
		"timestamp": time.Now().UnixMilli(),
	})
	c.reply(env, json.RawMessage(`true`), "")
}
