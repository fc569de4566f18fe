package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hoverchat/widget-engine/internal/arbiter"
	"github.com/hoverchat/widget-engine/internal/backend"
	"github.com/hoverchat/widget-engine/internal/cache"
	"github.com/hoverchat/widget-engine/internal/channel"
	"github.com/hoverchat/widget-engine/internal/config"
	"github.com/hoverchat/widget-engine/internal/events"
	"github.com/hoverchat/widget-engine/internal/inactivity"
	"github.com/hoverchat/widget-engine/internal/message"
	"github.com/hoverchat/widget-engine/internal/resolver"
)

const defaultWelcomeText = "Hi there! How can I help you today?"

// Options wires the coordinator to its collaborators.
type Options struct {
	BotID            string
	UserID           string
	WidgetInstanceID string
	Secret           string
	AuthToken        string
	WelcomeText      string

	Role        arbiter.DeviceRole
	Fingerprint string

	Timers config.TimersConfig

	Cache         *cache.Layered
	History       backend.HistoryService
	Conversations backend.ConversationService
	Channels      channel.Factory
	Broker        *events.Broker[any]
}

// Coordinator is the session's state machine. It owns the channel lifecycle,
// drives the resolver, arbitrator, inactivity controller and cache, and
// publishes every observable change onto the event broker.
//
// All session state is mutated under one mutex; timer and channel callbacks
// are discrete continuations guarded by a session epoch so a stale callback
// can never touch a newer session.
type Coordinator struct {
	opts     Options
	resolver *resolver.Resolver
	arb      *arbiter.Arbitrator
	inact    *inactivity.Controller

	mu             sync.Mutex
	lifecycle      Lifecycle
	conversationID int
	cacheKey       string
	messages       []message.Message
	ch             channel.Channel
	connection     channel.State

	epoch             int
	explicitlyClosed  bool
	welcomeShown      bool
	cleanupInProgress bool
	welcomeTimer      *time.Timer
	heartbeatStop     chan struct{}
}

// New creates an idle coordinator. Open starts the session.
func New(opts Options) *Coordinator {
	if opts.WelcomeText == "" {
		opts.WelcomeText = defaultWelcomeText
	}
	if opts.Role == "" {
		opts.Role = arbiter.RoleDesktop
	}
	if opts.Broker == nil {
		opts.Broker = events.NewBroker[any]()
	}

	c := &Coordinator{
		opts:       opts,
		lifecycle:  StateIdle,
		cacheKey:   cache.Key(opts.BotID, opts.UserID, opts.WidgetInstanceID),
		connection: channel.Disconnected,
		resolver:   resolver.New(opts.Cache, opts.Conversations),
		arb:        arbiter.New(opts.Role, opts.Fingerprint),
	}

	c.inact = inactivity.New(
		opts.Timers.SilenceTimeout(),
		opts.Timers.CloseTimeout(),
		c.onInactivityWarning,
		c.onInactivityReset,
	)

	c.arb.OnStateChange(c.onLockChanged)
	c.arb.OnConversationEnded(func() {
		// A desktop claim pre-empted this mobile surface; its conversation is
		// over.
		c.hardReset(true)
	})

	return c
}

// Events returns the broker carrying the session's observable state.
func (c *Coordinator) Events() *events.Broker[any] {
	return c.opts.Broker
}

// Open resolves the conversation identifier, establishes the channel, and
// loads history. explicitID is a host-supplied deep-link id; zero means none.
// A resolution failure is a construction-time failure: no channel is opened
// and the session lands in closed.
func (c *Coordinator) Open(ctx context.Context, explicitID int) error {
	c.mu.Lock()
	switch c.lifecycle {
	case StateConnecting, StateActive, StateWarning:
		c.mu.Unlock()
		return nil
	}
	epoch := c.epoch
	in := resolver.Input{
		ExplicitID:       explicitID,
		RememberedID:     c.conversationID,
		CacheKey:         c.cacheKey,
		ExplicitlyClosed: c.explicitlyClosed,
		UserID:           c.opts.UserID,
		BotID:            c.opts.BotID,
		Secret:           c.opts.Secret,
	}
	c.setLifecycleLocked(StateConnecting)
	c.mu.Unlock()

	res, err := c.resolver.Resolve(ctx, in)
	if err != nil {
		c.forceClosed()
		return err
	}

	ch, err := c.opts.Channels.Open(ctx, c.opts.AuthToken)
	if err != nil {
		c.forceClosed()
		return fmt.Errorf("%w: %v", channel.ErrConnect, err)
	}
	c.registerHandlers(ch)

	if err := ch.Start(ctx); err != nil {
		c.forceClosed()
		return err
	}
	if _, err := ch.Invoke(ctx, channel.InvokeJoinRoom, res.ID); err != nil {
		ch.Stop()
		c.forceClosed()
		return fmt.Errorf("%w: join failed: %v", channel.ErrConnect, err)
	}

	c.mu.Lock()
	if c.epoch != epoch {
		// Torn down while connecting.
		c.mu.Unlock()
		ch.Stop()
		return ErrNotActive
	}
	c.conversationID = res.ID
	c.ch = ch
	c.connection = channel.Connected
	c.explicitlyClosed = false
	c.welcomeShown = false
	c.arb.Bind(res.ID)

	// Cache is a latency bridge: show it immediately, let server history
	// correct it when the fetch lands.
	if !c.applyCachedLocked(ctx, res.ID) {
		c.messages = nil
	}

	c.setLifecycleLocked(StateActive)
	stop := make(chan struct{})
	c.heartbeatStop = stop
	c.mu.Unlock()

	c.inact.Activity()
	go c.heartbeatLoop(epoch, stop)
	go c.loadHistory(epoch, res.ID)

	c.publish(events.ConnectionStatus, res.ID, string(channel.Connected))
	return nil
}

// applyCachedLocked pulls the cached record for this embed, if it matches the
// resolved conversation. Caller holds c.mu.
func (c *Coordinator) applyCachedLocked(ctx context.Context, conversationID int) bool {
	if c.opts.Cache == nil {
		return false
	}
	rec := c.opts.Cache.Get(ctx, c.cacheKey)
	if rec == nil || rec.ConversationID != conversationID || len(rec.Messages) == 0 {
		return false
	}
	c.messages = message.Dedupe(rec.Messages)
	return true
}

// loadHistory fetches the authoritative server history and merges it under
// the epoch guard. A fatal fetch error surfaces to the UI and resets the
// whole session; stale local state must not survive a conversation the
// server says is gone.
func (c *Coordinator) loadHistory(epoch, conversationID int) {
	ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
	defer cancel()

	raw, err := c.opts.History.Fetch(ctx, conversationID)
	if c.currentEpoch() != epoch {
		return
	}
	if err != nil {
		var herr *backend.HistoryError
		if errors.As(err, &herr) && herr.Fatal() {
			c.publish(events.ConnectionError, conversationID, herr.Error())
			c.hardReset(true)
			return
		}
		log.Printf("session: history fetch failed: %v", err)
		return
	}

	normalized := make([]message.Message, 0, len(raw))
	for _, r := range raw {
		normalized = append(normalized, message.Normalize(r))
	}
	server := message.GroupAttachments(message.Dedupe(normalized), c.opts.Timers.GroupWindow())

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	// Server history becomes the base; anything local that the server does
	// not know yet (optimistic sends) re-merges behind it by key.
	c.messages = message.Merge(server, c.messages...)
	empty := len(c.messages) == 0
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.publish(events.HistoryLoaded, conversationID, c.Snapshot())
	if empty {
		c.scheduleWelcome(epoch, conversationID)
	}
}

// Snapshot returns a copy of the observable session state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]message.Message, len(c.messages))
	copy(msgs, c.messages)

	return Snapshot{
		Lifecycle:      c.lifecycle,
		ConversationID: c.conversationID,
		Messages:       msgs,
		LockState:      string(c.arb.State()),
		Connection:     string(c.connection),
	}
}

// Lifecycle returns the current top-level state.
func (c *Coordinator) Lifecycle() Lifecycle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle
}

// UserActivity records a recognized activity signal from the UI (pointer,
// key, touch). It keeps the inactivity chain from firing and dismisses a
// pending warning.
func (c *Coordinator) UserActivity() {
	c.inact.Activity()
	c.clearWarning()
}

func (c *Coordinator) clearWarning() {
	c.mu.Lock()
	if c.lifecycle == StateWarning {
		c.setLifecycleLocked(StateActive)
	}
	c.mu.Unlock()
}

// Close ends the session by user choice. The conversation must not be
// resurrected from cache on the next open.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.lifecycle == StateClosed || c.lifecycle == StateIdle {
		c.mu.Unlock()
		return
	}
	c.explicitlyClosed = true
	c.setLifecycleLocked(StateClosing)
	c.mu.Unlock()

	// The close timer may be racing us; both paths funnel into the same
	// at-most-once reset.
	if !c.inact.ForceReset() {
		c.hardReset(true)
	}
}

// forceClosed abandons a session that never became active.
func (c *Coordinator) forceClosed() {
	c.mu.Lock()
	c.setLifecycleLocked(StateClosed)
	c.mu.Unlock()
}

// hardReset is the single teardown path: cancel timers, stop the channel,
// optionally clear the cache, and reset the session record to defaults. The
// epoch bump invalidates every in-flight continuation. Reentrant calls
// no-op.
func (c *Coordinator) hardReset(clearCache bool) {
	c.mu.Lock()
	if c.cleanupInProgress || c.lifecycle == StateClosed || c.lifecycle == StateIdle {
		c.mu.Unlock()
		return
	}
	c.cleanupInProgress = true
	c.epoch++
	ch := c.ch
	c.ch = nil
	key := c.cacheKey
	if c.welcomeTimer != nil {
		c.welcomeTimer.Stop()
		c.welcomeTimer = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.messages = nil
	c.conversationID = 0
	c.welcomeShown = false
	c.connection = channel.Disconnected
	c.setLifecycleLocked(StateClosed)
	c.mu.Unlock()

	c.inact.Stop()

	if clearCache && c.opts.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout())
		c.opts.Cache.Clear(ctx, key)
		cancel()
	}
	if ch != nil {
		ch.Stop()
	}

	c.publish(events.SessionClosed, 0, nil)

	c.mu.Lock()
	c.cleanupInProgress = false
	c.mu.Unlock()
}

// onInactivityWarning is the silence-timer continuation.
func (c *Coordinator) onInactivityWarning() {
	c.mu.Lock()
	if c.lifecycle != StateActive {
		c.mu.Unlock()
		return
	}
	c.setLifecycleLocked(StateWarning)
	conv := c.conversationID
	c.mu.Unlock()

	c.publish(events.SessionWarning, conv, nil)
}

// onInactivityReset is the close-timer continuation.
func (c *Coordinator) onInactivityReset() {
	c.hardReset(true)
}

// onLockChanged reacts to arbitration transitions. Lock state outranks
// inactivity: the timers hold while another device owns the conversation.
func (c *Coordinator) onLockChanged(state arbiter.LockState) {
	if state == arbiter.LockedByOther {
		c.inact.Pause()
	} else {
		c.inact.Resume()
	}
	c.mu.Lock()
	conv := c.conversationID
	c.mu.Unlock()
	c.publish(events.LockChanged, conv, string(state))
}

func (c *Coordinator) currentEpoch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// persistLocked writes the full conversation snapshot. Caller holds c.mu.
// Every write is a complete record; there are no partial updates to race.
func (c *Coordinator) persistLocked(ctx context.Context) {
	if c.opts.Cache == nil || c.conversationID == 0 {
		return
	}
	msgs := make([]message.Message, len(c.messages))
	copy(msgs, c.messages)
	c.opts.Cache.Put(ctx, c.cacheKey, cache.Record{
		ConversationID: c.conversationID,
		Messages:       msgs,
	})
}

func (c *Coordinator) setLifecycleLocked(next Lifecycle) {
	if c.lifecycle == next {
		return
	}
	if !canTransition(c.lifecycle, next) {
		log.Printf("session: rejected transition %s -> %s", c.lifecycle, next)
		return
	}
	c.lifecycle = next
	c.publish(events.SessionStateChanged, c.conversationID, string(next))
}

func (c *Coordinator) publish(t events.EventType, conversationID int, payload any) {
	c.opts.Broker.Publish(t, conversationID, payload)
}

func (c *Coordinator) requestTimeout() time.Duration {
	if d := time.Duration(c.opts.Timers.RequestTimeoutSeconds) * time.Second; d > 0 {
		return d
	}
	return 15 * time.Second
}
