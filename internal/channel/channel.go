package channel

import (
	"context"
	"encoding/json"
	"errors"
)

// State is the connection state of a channel.
type State string

const (
	Disconnected State = "Disconnected"
	Connecting   State = "Connecting"
	Connected    State = "Connected"
	Reconnecting State = "Reconnecting"
)

// ErrConnect indicates the channel could not be established or has lost its
// connection beyond the automatic-reconnect layer. Session state survives it.
var ErrConnect = errors.New("channel connect failed")

// ErrClosed rejects operations on a stopped channel.
var ErrClosed = errors.New("channel closed")

// Named events delivered by the server.
const (
	EventReceiveMessage       = "ReceiveMessage"
	EventTyping               = "Typing"
	EventStopTyping           = "StopTyping"
	EventMobileSessionChanged = "MobileSessionChanged"
	EventReconnecting         = "reconnecting"
	EventReconnected          = "reconnected"
	EventClose                = "close"
)

// Named invocations issued by the client.
const (
	InvokeJoinRoom           = "JoinRoom"
	InvokeUserIsActive       = "UserIsActive"
	InvokeSendMessage        = "SendMessage"
	InvokeSaveWelcomeMessage = "SaveWelcomeMessage"
)

// Handler receives a named event's payload.
type Handler func(data json.RawMessage)

// Channel is an abstract bidirectional connection with named events and
// invocations. The engine never sees the transport underneath.
type Channel interface {
	// Start opens the connection and begins dispatching events.
	Start(ctx context.Context) error
	// Stop tears the connection down. Safe to call more than once.
	Stop() error
	// Invoke calls a named server method and waits for its reply.
	Invoke(ctx context.Context, method string, args ...any) (json.RawMessage, error)
	// On registers the handler for a named event, replacing any previous one.
	On(event string, handler Handler)
	// Off removes the handler for a named event.
	Off(event string)
	// State returns the current connection state.
	State() State
}

// Factory opens channels for authenticated sessions.
type Factory interface {
	Open(ctx context.Context, authToken string) (Channel, error)
}
