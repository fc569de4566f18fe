package session

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hoverchat/widget-engine/internal/channel"
	"github.com/hoverchat/widget-engine/internal/events"
	"github.com/hoverchat/widget-engine/internal/message"
)

// mobileSessionPayload mirrors the server's device-claim broadcast.
type mobileSessionPayload struct {
	ConversationID int    `json:"conversationId"`
	Fingerprint    string `json:"fingerprint"`
	Active         bool   `json:"active"`
}

// registerHandlers wires the channel's server-push events. Handlers are
// registered before Start so nothing pushed during the join window is lost.
func (c *Coordinator) registerHandlers(ch channel.Channel) {
	ch.On(channel.EventReceiveMessage, c.handleReceiveMessage)
	ch.On(channel.EventTyping, func(json.RawMessage) {
		c.publishConv(events.TypingStarted, nil)
	})
	ch.On(channel.EventStopTyping, func(json.RawMessage) {
		c.publishConv(events.TypingStopped, nil)
	})
	ch.On(channel.EventMobileSessionChanged, c.handleMobileSessionChanged)
	ch.On(channel.EventReconnecting, c.handleReconnecting)
	ch.On(channel.EventReconnected, c.handleReconnected)
	ch.On(channel.EventClose, func(json.RawMessage) {
		// Server closed the conversation. The transcript stays cached so a
		// reopened widget can still show it.
		c.hardReset(false)
	})
}

// handleReceiveMessage folds a server-pushed message into the transcript.
// Inbound traffic is not user activity; the inactivity chain keeps running.
func (c *Coordinator) handleReceiveMessage(data json.RawMessage) {
	var shape map[string]any
	if err := json.Unmarshal(data, &shape); err != nil {
		log.Printf("session: bad inbound message: %v", err)
		return
	}
	msg := message.Normalize(shape)

	c.mu.Lock()
	if c.lifecycle != StateActive && c.lifecycle != StateWarning {
		c.mu.Unlock()
		return
	}
	before := len(c.messages)
	c.messages = message.Merge(c.messages, msg)
	appended := len(c.messages) > before
	conv := c.conversationID
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
	c.persistLocked(ctx)
	cancel()
	c.mu.Unlock()

	if appended {
		c.publish(events.MessageAppended, conv, msg)
	} else {
		c.publish(events.MessageUpdated, conv, msg)
	}
}

// handleMobileSessionChanged feeds device-claim broadcasts to the
// arbitrator. Pause/resume of the inactivity chain rides on the resulting
// lock transition, not on the raw broadcast.
func (c *Coordinator) handleMobileSessionChanged(data json.RawMessage) {
	var p mobileSessionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		log.Printf("session: bad mobile session payload: %v", err)
		return
	}
	if p.Active {
		c.arb.HandleLockAsserted(p.ConversationID, p.Fingerprint)
	} else {
		c.arb.HandleLockReleased(p.ConversationID)
	}
}

func (c *Coordinator) handleReconnecting(json.RawMessage) {
	c.mu.Lock()
	if c.lifecycle == StateActive || c.lifecycle == StateWarning {
		c.setLifecycleLocked(StateConnecting)
	}
	c.connection = channel.Connecting
	conv := c.conversationID
	c.mu.Unlock()

	c.publish(events.ConnectionStatus, conv, string(channel.Connecting))
}

// handleReconnected rejoins the conversation room; server-side membership
// does not survive a dropped socket.
func (c *Coordinator) handleReconnected(json.RawMessage) {
	c.mu.Lock()
	ch := c.ch
	conv := c.conversationID
	epoch := c.epoch
	c.mu.Unlock()
	if ch == nil || conv == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
	defer cancel()
	if _, err := ch.Invoke(ctx, channel.InvokeJoinRoom, conv); err != nil {
		log.Printf("session: rejoin after reconnect failed: %v", err)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.connection = channel.Connected
	if c.lifecycle == StateConnecting {
		c.setLifecycleLocked(StateActive)
	}
	c.mu.Unlock()

	c.publish(events.ConnectionStatus, conv, string(channel.Connected))

	// Replay anything missed while offline.
	go c.loadHistory(epoch, conv)
}

// publishConv publishes with the currently bound conversation id.
func (c *Coordinator) publishConv(t events.EventType, payload any) {
	c.mu.Lock()
	conv := c.conversationID
	c.mu.Unlock()
	c.publish(t, conv, payload)
}
