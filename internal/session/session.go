package session

import (
	"errors"

	"github.com/hoverchat/widget-engine/internal/message"
)

// Lifecycle is the session's top-level state.
type Lifecycle string

const (
	StateIdle       Lifecycle = "idle"
	StateConnecting Lifecycle = "connecting"
	StateActive     Lifecycle = "active"
	StateWarning    Lifecycle = "warning"
	StateClosing    Lifecycle = "closing"
	StateClosed     Lifecycle = "closed"
)

// ErrNotActive rejects operations issued outside an open session.
var ErrNotActive = errors.New("session is not active")

// validTransitions is the explicit transition table. Every state may
// additionally jump straight to closed (explicit close or unrecoverable
// error).
var validTransitions = map[Lifecycle][]Lifecycle{
	StateIdle:       {StateConnecting},
	StateConnecting: {StateActive, StateClosing},
	StateActive:     {StateWarning, StateConnecting, StateClosing},
	StateWarning:    {StateActive, StateConnecting, StateClosing},
	StateClosing:    {},
	StateClosed:     {StateConnecting},
}

func canTransition(from, to Lifecycle) bool {
	if to == StateClosed {
		return true
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Snapshot is the observable session state handed to the UI.
type Snapshot struct {
	Lifecycle      Lifecycle         `json:"lifecycle"`
	ConversationID int               `json:"conversationId"`
	Messages       []message.Message `json:"messages"`
	LockState      string            `json:"lockState"`
	Connection     string            `json:"connection"`
}
