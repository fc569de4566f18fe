package session

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/hoverchat/widget-engine/internal/channel"
	"github.com/hoverchat/widget-engine/internal/events"
	"github.com/hoverchat/widget-engine/internal/message"
)

// outboundPayload is the wire shape for sendMessage invokes.
type outboundPayload struct {
	ConversationID int    `json:"conversationId"`
	TempID         string `json:"tempId"`
	Text           string `json:"text"`
}

// welcomePayload is the wire shape for saveWelcomeMessage invokes. The bot id
// tells the server which bot the greeting is attributed to.
type welcomePayload struct {
	ConversationID int    `json:"conversationId"`
	Text           string `json:"text"`
	BotID          string `json:"botId"`
}

// Send appends the text optimistically and delivers it in the background.
// The returned message carries the temp id the eventual server ack will be
// matched against. Sending is refused while another device holds the
// conversation or the session is not interactive.
func (c *Coordinator) Send(ctx context.Context, text string) (message.Message, error) {
	c.mu.Lock()
	if c.lifecycle != StateActive && c.lifecycle != StateWarning {
		c.mu.Unlock()
		return message.Message{}, ErrNotActive
	}
	if err := c.arb.CheckOutbound(); err != nil {
		c.mu.Unlock()
		return message.Message{}, err
	}

	msg := message.Message{
		TempID:    uuid.NewString(),
		Text:      text,
		From:      message.SenderUser,
		Status:    message.StatusSending,
		Timestamp: time.Now().UTC(),
	}
	c.messages = message.Merge(c.messages, msg)
	conv := c.conversationID
	epoch := c.epoch
	ch := c.ch
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.publish(events.MessageAppended, conv, msg)
	c.inact.Activity()
	c.clearWarning()

	go c.deliver(epoch, ch, conv, msg)
	return msg, nil
}

// deliver pushes one outbound message with bounded retries. Exhaustion marks
// the optimistic copy failed; it stays in the transcript so the user can see
// what did not go through.
func (c *Coordinator) deliver(epoch int, ch channel.Channel, conv int, msg message.Message) {
	payload := outboundPayload{ConversationID: conv, TempID: msg.TempID, Text: msg.Text}
	attempts := c.opts.Timers.SendRetries
	if attempts <= 0 {
		attempts = 3
	}
	backoff := c.opts.Timers.SendRetryBackoff()

	var lastErr error
	for i := 0; i < attempts; i++ {
		if c.currentEpoch() != epoch {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
		raw, err := ch.Invoke(ctx, channel.InvokeSendMessage, payload)
		cancel()
		if err == nil {
			c.applyAck(epoch, msg.TempID, raw)
			return
		}
		lastErr = err
		time.Sleep(backoff)
	}

	log.Printf("session: send exhausted retries: %v", lastErr)
	c.markStatus(epoch, msg.TempID, message.StatusError)
}

// applyAck folds the server's acknowledgement back into the transcript. A
// bare confirmation with no message body marks the local echo sent; the full
// record then arrives as a ReceiveMessage event and merges by temp id.
func (c *Coordinator) applyAck(epoch int, tempID string, raw json.RawMessage) {
	var shape map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &shape); err != nil {
			log.Printf("session: bad send ack: %v", err)
		}
	}
	if len(shape) == 0 {
		c.markStatus(epoch, tempID, message.StatusSent)
		return
	}
	acked := message.Normalize(shape)
	if acked.TempID == "" {
		acked.TempID = tempID
	}
	acked.Status = message.StatusSent

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.messages = message.Merge(c.messages, acked)
	conv := c.conversationID
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
	c.persistLocked(ctx)
	cancel()
	c.mu.Unlock()

	c.publish(events.MessageUpdated, conv, acked)
}

func (c *Coordinator) markStatus(epoch int, tempID string, status message.Status) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	var updated message.Message
	for i := range c.messages {
		if c.messages[i].MergeKey() == tempID {
			c.messages[i].Status = status
			updated = c.messages[i]
			break
		}
	}
	conv := c.conversationID
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
	c.persistLocked(ctx)
	cancel()
	c.mu.Unlock()

	if updated.MergeKey() != "" {
		c.publish(events.MessageUpdated, conv, updated)
	}
}

// scheduleWelcome arms the one-shot greeting for an empty conversation. The
// shown flag is set before the timer is armed so a racing second schedule
// can never produce two greetings.
func (c *Coordinator) scheduleWelcome(epoch, conv int) {
	c.mu.Lock()
	if c.epoch != epoch || c.welcomeShown || len(c.messages) > 0 {
		c.mu.Unlock()
		return
	}
	c.welcomeShown = true
	delay := c.welcomeDelay()
	c.welcomeTimer = time.AfterFunc(delay, func() {
		c.fireWelcome(epoch, conv)
	})
	c.mu.Unlock()
}

func (c *Coordinator) welcomeDelay() time.Duration {
	min := c.opts.Timers.WelcomeDelayMin()
	max := c.opts.Timers.WelcomeDelayMax()
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

func (c *Coordinator) fireWelcome(epoch, conv int) {
	welcome := message.Message{
		ID:        uuid.NewString(),
		Text:      c.opts.WelcomeText,
		From:      message.SenderBot,
		Status:    message.StatusSent,
		Timestamp: time.Now().UTC(),
	}

	c.mu.Lock()
	if c.epoch != epoch || len(c.messages) > 0 {
		// A real message beat the greeting; drop it.
		c.mu.Unlock()
		return
	}
	c.messages = message.Merge(c.messages, welcome)
	ch := c.ch
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
	c.persistLocked(ctx)
	cancel()
	c.mu.Unlock()

	c.publish(events.MessageAppended, conv, welcome)

	if ch != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
		defer cancel()
		if _, err := ch.Invoke(ctx, channel.InvokeSaveWelcomeMessage, welcomePayload{
			ConversationID: conv,
			Text:           welcome.Text,
			BotID:          c.opts.BotID,
		}); err != nil {
			// Local copy already rendered; persistence is best effort.
			log.Printf("session: save welcome failed: %v", err)
		}
	}
}

// heartbeatLoop tells the server the user is still here. Repeated failures
// surface as a connection error without ending the session; the reconnect
// loop owns recovery.
func (c *Coordinator) heartbeatLoop(epoch int, stop <-chan struct{}) {
	interval := c.opts.Timers.HeartbeatInterval()
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		if c.currentEpoch() != epoch {
			return
		}
		if err := c.beat(epoch); err != nil {
			c.mu.Lock()
			conv := c.conversationID
			c.mu.Unlock()
			c.publish(events.ConnectionError, conv, err.Error())
		}
	}
}

func (c *Coordinator) beat(epoch int) error {
	retries := c.opts.Timers.HeartbeatRetries
	if retries <= 0 {
		retries = 10
	}
	backoff := c.opts.Timers.HeartbeatBackoff()

	var lastErr error
	for i := 0; i < retries; i++ {
		c.mu.Lock()
		ch := c.ch
		conv := c.conversationID
		stale := c.epoch != epoch
		interactive := c.lifecycle == StateActive || c.lifecycle == StateWarning
		c.mu.Unlock()
		if stale || ch == nil {
			return nil
		}
		// Beats only make sense while the user could plausibly be present.
		// During reconnects and teardown the server hears nothing.
		if !interactive {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
		_, err := ch.Invoke(ctx, channel.InvokeUserIsActive, conv)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
	}
	return lastErr
}
