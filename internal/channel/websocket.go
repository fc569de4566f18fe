package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	reconnectDelay = 2 * time.Second
	sendBuffer     = 256
)

// Envelope is the JSON frame exchanged over the socket. Server events carry
// Type and Data; invocation replies echo the EventID of their request.
type Envelope struct {
	Type    string          `json:"type"`
	EventID string          `json:"eventId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WebSocketFactory opens websocket channels against one endpoint.
type WebSocketFactory struct {
	URL string
}

// Open creates a channel carrying the auth token. The connection is not
// dialed until Start.
func (f *WebSocketFactory) Open(_ context.Context, authToken string) (Channel, error) {
	if f.URL == "" {
		return nil, fmt.Errorf("%w: empty endpoint", ErrConnect)
	}
	return &wsChannel{
		url:       f.URL,
		authToken: authToken,
		state:     Disconnected,
		handlers:  make(map[string]Handler),
		pending:   make(map[string]chan Envelope),
		send:      make(chan Envelope, sendBuffer),
		done:      make(chan struct{}),
	}, nil
}

type wsChannel struct {
	url       string
	authToken string

	mu       sync.Mutex
	conn     *websocket.Conn
	connDone chan struct{} // closed when conn is replaced or dropped
	state    State
	handlers map[string]Handler
	pending  map[string]chan Envelope
	stopped  bool

	send chan Envelope
	done chan struct{}
}

func (c *wsChannel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = Connecting
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(Disconnected)
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connDone = make(chan struct{})
	connDone := c.connDone
	c.state = Connected
	c.mu.Unlock()

	go c.writePump(conn, connDone)
	go c.readPump(conn)
	return nil
}

func (c *wsChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.authToken != "" {
		header.Set("Authorization", "Bearer "+c.authToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, header)
	return conn, err
}

func (c *wsChannel) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.state = Disconnected
	conn := c.conn
	c.conn = nil
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
	return nil
}

func (c *wsChannel) Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.state != Connected {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: channel is %s", ErrConnect, c.state)
	}

	data, err := json.Marshal(args)
	if err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to encode invoke args: %w", err)
	}

	eventID := uuid.New().String()
	reply := make(chan Envelope, 1)
	c.pending[eventID] = reply
	c.mu.Unlock()

	env := Envelope{Type: method, EventID: eventID, Data: data}
	select {
	case c.send <- env:
	case <-c.done:
		c.dropPending(eventID)
		return nil, ErrClosed
	case <-ctx.Done():
		c.dropPending(eventID)
		return nil, ctx.Err()
	}

	select {
	case resp, ok := <-reply:
		if !ok {
			return nil, ErrClosed
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("invoke %s failed: %s", method, resp.Error)
		}
		return resp.Data, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		c.dropPending(eventID)
		return nil, ctx.Err()
	}
}

func (c *wsChannel) dropPending(eventID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, eventID)
}

func (c *wsChannel) On(event string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = handler
}

func (c *wsChannel) Off(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

func (c *wsChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *wsChannel) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// readPump dispatches incoming frames: invocation replies resolve their
// pending call, everything else goes to the named event handler.
func (c *wsChannel) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("channel: read error: %v", err)
			}
			c.handleDisconnect(conn)
			return
		}
		c.dispatch(env)
	}
}

func (c *wsChannel) dispatch(env Envelope) {
	c.mu.Lock()
	if env.EventID != "" {
		if reply, ok := c.pending[env.EventID]; ok {
			delete(c.pending, env.EventID)
			c.mu.Unlock()
			reply <- env
			return
		}
	}
	handler := c.handlers[env.Type]
	c.mu.Unlock()

	if handler != nil {
		handler(env.Data)
	}
}

// writePump serializes all outbound traffic on one connection and keeps it
// alive with pings. Each pump is bound to the conn it was started for and
// exits when connDone closes, so a single writer owns each socket even
// across reconnects.
func (c *wsChannel) writePump(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case env := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				log.Printf("channel: write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-connDone:
			return
		case <-c.done:
			return
		}
	}
}

// handleDisconnect runs the automatic reconnect loop. It acts only for the
// connection that failed; a late error from an already replaced conn is a
// no-op. The coordinator only observes the reconnecting/reconnected/close
// notifications.
func (c *wsChannel) handleDisconnect(conn *websocket.Conn) {
	c.mu.Lock()
	if c.stopped || c.conn != conn {
		c.mu.Unlock()
		return
	}
	conn.Close()
	c.conn = nil
	close(c.connDone)
	c.connDone = nil
	c.state = Reconnecting
	c.mu.Unlock()

	c.emit(EventReconnecting, nil)

	for {
		select {
		case <-c.done:
			return
		case <-time.After(reconnectDelay):
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			continue
		}

		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			conn.Close()
			return
		}
		c.conn = conn
		c.connDone = make(chan struct{})
		connDone := c.connDone
		c.state = Connected
		c.mu.Unlock()

		go c.writePump(conn, connDone)
		go c.readPump(conn)
		c.emit(EventReconnected, nil)
		return
	}
}

func (c *wsChannel) emit(event string, data json.RawMessage) {
	c.mu.Lock()
	handler := c.handlers[event]
	c.mu.Unlock()
	if handler != nil {
		handler(data)
	}
}
