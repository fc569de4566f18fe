package arbiter

import (
	"errors"
	"sync"
)

// DeviceRole is the surface class a session runs on.
type DeviceRole string

const (
	RoleDesktop DeviceRole = "desktop"
	RoleMobile  DeviceRole = "mobile"
)

// LockState is the arbitration state of a conversation as seen by this
// surface.
type LockState string

const (
	Unlocked      LockState = "unlocked"
	LockedByOther LockState = "lockedByOther"
	LockedBySelf  LockState = "lockedBySelf"
)

// ErrLockedByOther rejects outbound actions while another device owns the
// conversation.
var ErrLockedByOther = errors.New("conversation locked by another device")

// Arbitrator enforces the single-active-device rule. State is derived purely
// from channel events; silence is never evidence of release, so there is no
// timeout path in here.
type Arbitrator struct {
	mu sync.Mutex

	role           DeviceRole
	fingerprint    string
	conversationID int

	state         LockState
	wasPreempted  bool
	onStateChange func(LockState)
	onEnded       func()
}

// New creates an arbitrator for one session surface. fingerprint identifies
// this device in lock events.
func New(role DeviceRole, fingerprint string) *Arbitrator {
	return &Arbitrator{
		role:        role,
		fingerprint: fingerprint,
		state:       Unlocked,
	}
}

// Bind attaches the arbitrator to a conversation. Events for other
// conversations are ignored. Lock state from a previous conversation is
// discarded without notification; the state belongs to the old session.
func (a *Arbitrator) Bind(conversationID int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conversationID = conversationID
	a.state = Unlocked
	a.wasPreempted = false
}

// OnStateChange registers a callback fired on every lock-state transition.
func (a *Arbitrator) OnStateChange(fn func(LockState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onStateChange = fn
}

// OnConversationEnded registers the callback fired when a desktop claim
// pre-empts this mobile surface and it must treat its conversation as ended.
func (a *Arbitrator) OnConversationEnded(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onEnded = fn
}

// State returns the current lock state.
func (a *Arbitrator) State() LockState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// AssertOwnership marks this surface as the active party. Desktop surfaces
// never self-lock; only mobile sessions assert ownership.
func (a *Arbitrator) AssertOwnership() {
	a.mu.Lock()
	if a.role != RoleMobile {
		a.mu.Unlock()
		return
	}
	notify := a.transition(LockedBySelf)
	a.mu.Unlock()

	notify()
}

// HandleLockAsserted processes a lock-asserted channel event. A claim by a
// different device fingerprint on the bound conversation forces this surface
// into the non-interactive blocked state.
func (a *Arbitrator) HandleLockAsserted(conversationID int, fingerprint string) {
	a.mu.Lock()
	if conversationID != a.conversationID || fingerprint == a.fingerprint {
		a.mu.Unlock()
		return
	}
	a.wasPreempted = true
	notify := a.transition(LockedByOther)
	a.mu.Unlock()

	notify()
}

// HandleLockReleased processes a lock-released channel event. The surface
// returns to unlocked; a mobile surface that had been pre-empted treats its
// own conversation as ended instead, because a desktop claim outranks it.
func (a *Arbitrator) HandleLockReleased(conversationID int) {
	a.mu.Lock()

	if conversationID != a.conversationID {
		a.mu.Unlock()
		return
	}

	preempted := a.wasPreempted && a.role == RoleMobile
	a.wasPreempted = false
	notify := a.transition(Unlocked)
	ended := a.onEnded
	a.mu.Unlock()

	notify()
	if preempted && ended != nil {
		ended()
	}
}

// CheckOutbound gates user actions (send, typing, upload). It fails with
// ErrLockedByOther while another device owns the conversation so the action
// never reaches the channel.
func (a *Arbitrator) CheckOutbound() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == LockedByOther {
		return ErrLockedByOther
	}
	return nil
}

// transition updates state and returns the notification to run once the
// mutex is released. Callbacks never fire under the lock so they are free to
// call back into the arbitrator.
func (a *Arbitrator) transition(next LockState) func() {
	if a.state == next {
		return func() {}
	}
	a.state = next
	if a.onStateChange == nil {
		return func() {}
	}
	fn := a.onStateChange
	return func() { fn(next) }
}
