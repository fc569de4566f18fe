package events

import (
	"time"
)

// EventType identifies the type of event on the session stream.
type EventType string

// Events the coordinator publishes for the UI.
const (
	// Session lifecycle
	SessionStateChanged EventType = "session.state.changed"
	SessionWarning      EventType = "session.warning"
	SessionClosed       EventType = "session.closed"

	// Messages
	MessageAppended EventType = "message.appended"
	MessageUpdated  EventType = "message.updated"
	HistoryLoaded   EventType = "history.loaded"

	// Typing indicators
	TypingStarted EventType = "typing.started"
	TypingStopped EventType = "typing.stopped"

	// Device arbitration
	LockChanged EventType = "lock.changed"

	// Transport
	ConnectionStatus EventType = "connection.status"
	ConnectionError  EventType = "connection.error"
)

// Event is one entry on the session stream.
type Event[T any] struct {
	ID             string    `json:"id"`
	Type           EventType `json:"type"`
	Payload        T         `json:"payload"`
	Timestamp      time.Time `json:"timestamp"`
	ConversationID int       `json:"conversationId,omitempty"`
}

// Filter decides whether a subscriber receives an event.
type Filter func(Event[any]) bool

// FilterByType keeps only the given event types.
func FilterByType(eventTypes ...EventType) Filter {
	typeMap := make(map[EventType]bool)
	for _, t := range eventTypes {
		typeMap[t] = true
	}
	return func(event Event[any]) bool {
		return typeMap[event.Type]
	}
}

// FilterByConversation keeps only events for one conversation.
func FilterByConversation(conversationID int) Filter {
	return func(event Event[any]) bool {
		return event.ConversationID == conversationID
	}
}
